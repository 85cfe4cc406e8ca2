// Package metrics exposes Prometheus collectors for dialogue turns.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "bmo"

	TurnOK                    = "ok"
	TurnMalformed             = "malformed_input"
	TurnCompletionUnavailable = "completion_unavailable"
	TurnInternal              = "internal"
)

// Metrics groups the collectors recorded by the turn orchestrator. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	turns         *prometheus.CounterVec
	degraded      *prometheus.CounterVec
	storeErrors   *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	activeTurns   prometheus.Gauge
	busDropped    *prometheus.CounterVec
}

var (
	defaultOnce sync.Once
	shared      *Metrics
)

// Default returns the instance registered with the global registry.
func Default() *Metrics {
	defaultOnce.Do(func() {
		shared = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return shared
}

// MustNewMetrics registers the collectors with reg and panics on any
// registration error other than an identical collector already present.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Dialogue turns processed, by outcome.",
		}, []string{"status"}),
		degraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degraded_total",
			Help:      "Turns that completed with a degraded dependency.",
		}, []string{"dependency"}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Session store operations that failed.",
		}, []string{"op"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_stage_duration_seconds",
			Help:      "Time spent in each turn stage.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		activeTurns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "turns_active",
			Help:      "Turns currently in flight.",
		}),
		busDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_dropped_total",
			Help:      "Messages dropped because the bus buffer stayed full.",
		}, []string{"direction"}),
	}

	m.turns = register(reg, m.turns)
	m.degraded = register(reg, m.degraded)
	m.storeErrors = register(reg, m.storeErrors)
	m.stageDuration = register(reg, m.stageDuration)
	m.activeTurns = register(reg, m.activeTurns)
	m.busDropped = register(reg, m.busDropped)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (m *Metrics) IncTurn(status string) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(status).Inc()
}

func (m *Metrics) IncDegraded(dependency string) {
	if m == nil {
		return
	}
	m.degraded.WithLabelValues(dependency).Inc()
}

func (m *Metrics) IncStoreError(op string) {
	if m == nil {
		return
	}
	m.storeErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// TurnStarted bumps the in-flight gauge and returns the matching decrement.
func (m *Metrics) TurnStarted() func() {
	if m == nil {
		return func() {}
	}
	m.activeTurns.Inc()
	return m.activeTurns.Dec
}

// IncBusDropped has the shape of bus.DropFunc.
func (m *Metrics) IncBusDropped(direction string) {
	if m == nil {
		return
	}
	m.busDropped.WithLabelValues(direction).Inc()
}
