package mount

import (
	"context"
	"errors"
	"fmt"

	"github.com/unklstewy/mountcore/internal/logging"
)

// homeParkName is the park position that overrides the default home.
const homeParkName = "home"

// Park slews to the named park position, or to the configured limit park
// position when name is empty, and turns tracking off.
func (c *Controller) Park(ctx context.Context, name string) error {
	return c.Slew(ctx, ParkTarget(name))
}

// Home slews to the home position and turns tracking off.
func (c *Controller) Home(ctx context.Context) error {
	return c.Slew(ctx, HomeTarget())
}

// Unpark allows motion again after a park.
func (c *Controller) Unpark(ctx context.Context) {
	c.mu.Lock()
	was := c.st.atPark
	c.st.atPark = false
	c.st.parkName = ""
	c.mu.Unlock()
	if was {
		c.log.Info(ctx, "unparked")
	}
}

// AtPark reports whether the mount is parked.
func (c *Controller) AtPark() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st.atPark
}

// SavePark stores the current position under name.
func (c *Controller) SavePark(ctx context.Context, name string) (ParkPosition, error) {
	if name == "" {
		return ParkPosition{}, errors.New("park position needs a name")
	}
	if _, err := c.read(ctx); err != nil {
		return ParkPosition{}, c.hardwareError(ctx, err)
	}

	c.mu.Lock()
	p := ParkPosition{Name: name, Axes: c.conv.MountToApp(c.st.mount)}
	c.mu.Unlock()

	if err := c.parks.SavePark(ctx, p); err != nil {
		return ParkPosition{}, fmt.Errorf("failed to save park position: %w", err)
	}
	c.log.Info(ctx, "park position saved",
		logging.String("park", name),
		logging.Float("x", p.Axes[0]),
		logging.Float("y", p.Axes[1]))
	return p, nil
}

// ListParks returns the stored park positions.
func (c *Controller) ListParks(ctx context.Context) ([]ParkPosition, error) {
	return c.parks.ListParks(ctx)
}
