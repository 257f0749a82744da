package tracking

import (
	"time"

	"github.com/unklstewy/mountcore/pkg/coordinates"
)

// Predictor is a linear RA/Dec extrapolation model. It holds a position, a
// rate for each coordinate and the time the position was valid.
//
// A zero reference time means the predictor is inactive.
//
// Predictor is not safe for concurrent use, the mount controller guards it
// with its state lock.
type Predictor struct {
	// Ra in hours
	Ra float64

	// Dec in degrees
	Dec float64

	// RateRa in seconds of RA per SI second
	RateRa float64

	// RateDec in arc seconds per SI second
	RateDec float64

	// Reference is when Ra and Dec were valid
	Reference time.Time
}

// Set starts the predictor from a position at reference time ref.
func (p *Predictor) Set(ra, dec, rateRa, rateDec float64, ref time.Time) {
	p.Ra = coordinates.Range24(ra)
	p.Dec = dec
	p.RateRa = rateRa
	p.RateDec = rateDec
	p.Reference = ref
}

// SetRates changes the rates without moving the reference point. The position
// is first advanced to now so the change takes effect from now on.
func (p *Predictor) SetRates(rateRa, rateDec float64, now time.Time) {
	if p.Active() {
		p.Ra, p.Dec = p.At(now)
		p.Reference = now
	}
	p.RateRa = rateRa
	p.RateDec = rateDec
}

// Reset deactivates the predictor.
func (p *Predictor) Reset() {
	*p = Predictor{}
}

// Active reports whether the predictor holds a position.
func (p *Predictor) Active() bool {
	return !p.Reference.IsZero()
}

// At returns the predicted RA (hours) and Dec (degrees) at t.
//
// With both rates zero the target is fixed in the sky. A reference time in
// the past is then moved up to now so later offsets are measured from the
// present, and the stored position is returned unchanged.
func (p *Predictor) At(t time.Time) (ra, dec float64) {
	if !p.Active() {
		return p.Ra, p.Dec
	}

	if p.RateRa == 0 && p.RateDec == 0 {
		if p.Reference.Before(t) {
			p.Reference = t
		}
		return p.Ra, p.Dec
	}

	dt := t.Sub(p.Reference).Seconds()
	ra = coordinates.Range24(p.Ra + p.RateRa*dt/coordinates.ArcSecondsPerDegree)
	dec = p.Dec + p.RateDec*dt/coordinates.ArcSecondsPerDegree
	return ra, dec
}

// Offset moves the predicted position by dRa hours and dDec degrees.
func (p *Predictor) Offset(dRa, dDec float64) {
	p.Ra = coordinates.Range24(p.Ra + dRa)
	p.Dec += dDec
}
