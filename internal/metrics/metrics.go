// Package metrics exposes Prometheus collectors for mount activity.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Slew results used as the "result" label.
const (
	ResultComplete  = "complete"
	ResultCancelled = "cancelled"
	ResultTimeout   = "timeout"
	ResultError     = "error"
)

// MountCollector bundles the mount metrics. A nil *MountCollector is valid
// and records nothing.
type MountCollector struct {
	gatherer prometheus.Gatherer

	Slews               *prometheus.CounterVec
	SlewDurations       *prometheus.HistogramVec
	PrecisionIterations *prometheus.HistogramVec
	Pulses              *prometheus.CounterVec
	TrackingUpdates     *prometheus.CounterVec
	LimitTrips          *prometheus.CounterVec

	Tracking  prometheus.Gauge
	PecFactor prometheus.Gauge
}

// NewMountCollector registers the mount metrics against reg, defaulting to
// the global registry when nil.
func NewMountCollector(reg prometheus.Registerer) (*MountCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	slews, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mount_slews_total",
		Help: "Slews finished, labeled by slew type and result.",
	}, []string{"type", "result"}), "mount_slews_total")
	if err != nil {
		return nil, err
	}

	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mount_slew_duration_seconds",
		Help:    "Slew duration from start to completion in seconds.",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 240},
	}, []string{"type"}), "mount_slew_duration_seconds")
	if err != nil {
		return nil, err
	}

	iterations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mount_precision_iterations",
		Help:    "Precision phase iterations used per slew.",
		Buckets: []float64{0, 1, 2, 3, 4, 5},
	}, []string{"type"}), "mount_precision_iterations")
	if err != nil {
		return nil, err
	}

	pulses, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mount_pulse_guides_total",
		Help: "Pulse guide commands, labeled by direction.",
	}, []string{"direction"}), "mount_pulse_guides_total")
	if err != nil {
		return nil, err
	}

	updates, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mount_tracking_updates_total",
		Help: "Tracking rate recomputations, labeled by mode. Skipped ticks use mode=skipped.",
	}, []string{"mode"}), "mount_tracking_updates_total")
	if err != nil {
		return nil, err
	}

	trips, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mount_limit_trips_total",
		Help: "Axis limit events that triggered an action.",
	}, []string{"event"}), "mount_limit_trips_total")
	if err != nil {
		return nil, err
	}

	tracking, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mount_tracking",
		Help: "1 while tracking is on.",
	}), "mount_tracking")
	if err != nil {
		return nil, err
	}

	pecFactor, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mount_pec_factor",
		Help: "Factor of the active PEC bin, 1 when PEC is off.",
	}), "mount_pec_factor")
	if err != nil {
		return nil, err
	}
	pecFactor.Set(1)

	return &MountCollector{
		gatherer:            gatherer,
		Slews:               slews,
		SlewDurations:       durations,
		PrecisionIterations: iterations,
		Pulses:              pulses,
		TrackingUpdates:     updates,
		LimitTrips:          trips,
		Tracking:            tracking,
		PecFactor:           pecFactor,
	}, nil
}

// Handler exposes a /metrics handler for the collector's registry.
func (c *MountCollector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveSlew records a finished slew.
func (c *MountCollector) ObserveSlew(slewType, result string, d time.Duration, iterations int) {
	if c == nil {
		return
	}
	c.Slews.WithLabelValues(slewType, result).Inc()
	if result == ResultComplete {
		c.SlewDurations.WithLabelValues(slewType).Observe(d.Seconds())
		c.PrecisionIterations.WithLabelValues(slewType).Observe(float64(iterations))
	}
}

// ObservePulse records a pulse guide command.
func (c *MountCollector) ObservePulse(direction string) {
	if c == nil {
		return
	}
	c.Pulses.WithLabelValues(direction).Inc()
}

// ObserveTrackingUpdate records one tracking rate recomputation.
func (c *MountCollector) ObserveTrackingUpdate(mode string) {
	if c == nil {
		return
	}
	c.TrackingUpdates.WithLabelValues(mode).Inc()
}

// ObserveLimit records a limit event that caused an action.
func (c *MountCollector) ObserveLimit(event string) {
	if c == nil {
		return
	}
	c.LimitTrips.WithLabelValues(event).Inc()
}

// SetTracking updates the tracking gauge.
func (c *MountCollector) SetTracking(on bool) {
	if c == nil {
		return
	}
	if on {
		c.Tracking.Set(1)
	} else {
		c.Tracking.Set(0)
	}
}

// SetPecFactor updates the PEC factor gauge.
func (c *MountCollector) SetPecFactor(f float64) {
	if c == nil {
		return
	}
	c.PecFactor.Set(f)
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
