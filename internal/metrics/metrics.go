// Package metrics exposes the control loop's Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "adaptive"

// Sample results
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Adjustment outcomes
const (
	OutcomeRegistered   = "registered"
	OutcomeDeduplicated = "deduplicated"
	OutcomeUnmapped     = "unmapped"
)

// Metrics holds every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Samples           *prometheus.CounterVec
	Events            *prometheus.CounterVec
	Adjustments       *prometheus.CounterVec
	Transitions       *prometheus.CounterVec
	ActiveAdjustments *prometheus.GaugeVec
	FetchDuration     *prometheus.HistogramVec

	reg prometheus.Registerer
}

// New creates the collectors and registers them on reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Samples: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "samples_total",
				Help:      "Snapshot samples by symbol and result",
			},
			[]string{"symbol", "result"},
		),
		Events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_total",
				Help:      "Detected market events by type and severity",
			},
			[]string{"type", "severity"},
		),
		Adjustments: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "adjustments_total",
				Help:      "Synthesized adjustments by event type and outcome",
			},
			[]string{"type", "outcome"},
		),
		Transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transitions_total",
				Help:      "Adjustment lifecycle transitions by target state",
			},
			[]string{"to"},
		),
		ActiveAdjustments: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_adjustments",
				Help:      "Currently active adjustments by symbol",
			},
			[]string{"symbol"},
		),
		FetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fetch_duration_seconds",
				Help:      "Snapshot fetch duration by symbol",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"symbol"},
		),
		reg: reg,
	}

	reg.MustRegister(
		m.Samples,
		m.Events,
		m.Adjustments,
		m.Transitions,
		m.ActiveAdjustments,
		m.FetchDuration,
	)
	return m
}

// RegisterFeedDrops exposes the feed's drop counter as feed_dropped_total
func (m *Metrics) RegisterFeedDrops(dropped func() float64) {
	if m == nil {
		return
	}
	m.reg.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_dropped_total",
			Help:      "Feed messages dropped because a subscriber buffer was full",
		},
		dropped,
	))
}

// ObserveSample records one sample attempt
func (m *Metrics) ObserveSample(symbol string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	m.Samples.WithLabelValues(symbol, result).Inc()
	m.FetchDuration.WithLabelValues(symbol).Observe(d.Seconds())
}

// ObserveEvent counts a detected event
func (m *Metrics) ObserveEvent(eventType, severity string) {
	if m == nil {
		return
	}
	m.Events.WithLabelValues(eventType, severity).Inc()
}

// ObserveAdjustment counts a synthesis outcome
func (m *Metrics) ObserveAdjustment(eventType, outcome string) {
	if m == nil {
		return
	}
	m.Adjustments.WithLabelValues(eventType, outcome).Inc()
}

// ObserveTransition counts a lifecycle transition
func (m *Metrics) ObserveTransition(to string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(to).Inc()
}

// SetActive sets the active adjustment gauge of a symbol
func (m *Metrics) SetActive(symbol string, n int) {
	if m == nil {
		return
	}
	m.ActiveAdjustments.WithLabelValues(symbol).Set(float64(n))
}
