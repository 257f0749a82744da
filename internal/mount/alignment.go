package mount

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/unklstewy/mountcore/pkg/coordinates"
)

// AlignmentModel is a pointing correction model. Unsynced values are app
// axes computed from the sky; synced values are the corrected axes the
// mount is commanded to.
type AlignmentModel interface {
	IsAlignmentOn() bool
	SyncedValue(unsynced coordinates.Axes) coordinates.Axes
	UnsyncedValue(synced coordinates.Axes) coordinates.Axes
	SyncToRaDec(unsynced, synced coordinates.Axes, t time.Time) bool

	// MaxDelta is the largest correction the model has learned per axis
	MaxDelta() coordinates.Axes
}

// ParkStore persists named park positions.
type ParkStore interface {
	GetPark(ctx context.Context, name string) (*ParkPosition, error)
	ListParks(ctx context.Context) ([]ParkPosition, error)
	SavePark(ctx context.Context, p ParkPosition) error
}

// ParkPosition is a named position in app axes.
type ParkPosition struct {
	Name string           `json:"name"`
	Axes coordinates.Axes `json:"axes"`
}

// OffsetModel is a single point alignment model: every sync replaces one
// constant offset between sky and mount axes.
type OffsetModel struct {
	mu       sync.Mutex
	on       bool
	offset   coordinates.Axes
	maxDelta coordinates.Axes
	syncs    int
}

// NewOffsetModel creates an enabled model with no offset.
func NewOffsetModel() *OffsetModel {
	return &OffsetModel{on: true}
}

// SetEnabled switches the model on or off.
func (m *OffsetModel) SetEnabled(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.on = on
}

func (m *OffsetModel) IsAlignmentOn() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.on
}

func (m *OffsetModel) SyncedValue(unsynced coordinates.Axes) coordinates.Axes {
	m.mu.Lock()
	defer m.mu.Unlock()
	return coordinates.Axes{unsynced[0] + m.offset[0], unsynced[1] + m.offset[1]}
}

func (m *OffsetModel) UnsyncedValue(synced coordinates.Axes) coordinates.Axes {
	m.mu.Lock()
	defer m.mu.Unlock()
	return coordinates.Axes{synced[0] - m.offset[0], synced[1] - m.offset[1]}
}

// SyncToRaDec records that the mount at synced is pointing at unsynced.
func (m *OffsetModel) SyncToRaDec(unsynced, synced coordinates.Axes, t time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.offset {
		m.offset[i] = coordinates.Range180(synced[i] - unsynced[i])
		m.maxDelta[i] = math.Max(m.maxDelta[i], math.Abs(m.offset[i]))
	}
	m.syncs++
	return true
}

func (m *OffsetModel) MaxDelta() coordinates.Axes {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxDelta
}

// Syncs returns the number of syncs recorded.
func (m *OffsetModel) Syncs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.syncs
}

// memoryParkStore serves the park positions listed in the configuration.
type memoryParkStore struct {
	mu    sync.Mutex
	parks []ParkPosition
}

// NewMemoryParkStore creates a store holding parks.
func NewMemoryParkStore(parks []ParkPosition) ParkStore {
	return &memoryParkStore{parks: append([]ParkPosition(nil), parks...)}
}

func (s *memoryParkStore) GetPark(ctx context.Context, name string) (*ParkPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.parks {
		if p.Name == name {
			p := p
			return &p, nil
		}
	}
	return nil, ErrParkNotFound
}

func (s *memoryParkStore) ListParks(ctx context.Context) ([]ParkPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ParkPosition(nil), s.parks...), nil
}

func (s *memoryParkStore) SavePark(ctx context.Context, p ParkPosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.parks {
		if s.parks[i].Name == p.Name {
			s.parks[i] = p
			return nil
		}
	}
	s.parks = append(s.parks, p)
	return nil
}
