// Package metrics collects process metrics behind dot-importable helpers.
// Values are exported through a private Prometheus registry.
package metrics

import (
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "thatbrowser"

// MetricsManager is the global metrics manager
type MetricsManager struct {
	registry *prometheus.Registry

	durations *prometheus.HistogramVec
	counters  *prometheus.CounterVec
	gauges    *prometheus.GaugeVec
	outcomes  *prometheus.CounterVec
	failures  *prometheus.CounterVec

	mu         sync.Mutex
	active     map[string]activeTiming
	keyCounter uint64
}

type activeTiming struct {
	topic, function string
	start           time.Time
}

var (
	instance *MetricsManager
	once     sync.Once
)

// GetInstance returns the singleton metrics manager
func GetInstance() *MetricsManager {
	once.Do(func() {
		instance = newManager()
	})
	return instance
}

func newManager() *MetricsManager {
	reg := prometheus.NewRegistry()
	m := &MetricsManager{
		registry: reg,
		durations: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Operation duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"topic", "function"},
		),
		counters: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_total",
				Help:      "Counted events",
			},
			[]string{"topic", "function"},
		),
		gauges: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "gauge",
				Help:      "Point-in-time values",
			},
			[]string{"topic", "function"},
		),
		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outcomes_total",
				Help:      "Operation outcomes (success, failure, or a named outcome)",
			},
			[]string{"topic", "operation", "outcome"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "failures_total",
				Help:      "Operation failures by reason",
			},
			[]string{"topic", "operation", "reason"},
		),
		active: make(map[string]activeTiming),
	}
	reg.MustRegister(m.durations, m.counters, m.gauges, m.outcomes, m.failures)
	reg.MustRegister(collectors.NewGoCollector())
	return m
}

// Registry exposes the underlying registry (tests, custom exporters).
func (m *MetricsManager) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	m := GetInstance()
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartTiming begins timing an operation
func (m *MetricsManager) StartTiming(topic, function string) string {
	counter := atomic.AddUint64(&m.keyCounter, 1)
	key := fmt.Sprintf("%s/%s#%d", topic, function, counter)

	m.mu.Lock()
	m.active[key] = activeTiming{topic: topic, function: function, start: time.Now()}
	m.mu.Unlock()
	return key
}

// EndTiming completes timing an operation. Unknown keys are ignored.
func (m *MetricsManager) EndTiming(key string) {
	m.mu.Lock()
	t, ok := m.active[key]
	delete(m.active, key)
	m.mu.Unlock()
	if !ok {
		return
	}
	m.RecordDuration(t.topic, t.function, time.Since(t.start))
}

// RecordDuration records a completed duration
func (m *MetricsManager) RecordDuration(topic, function string, d time.Duration) {
	m.durations.WithLabelValues(topic, function).Observe(d.Seconds())
}

// AddCounter adds delta to a counter. Negative deltas are ignored.
func (m *MetricsManager) AddCounter(topic, function string, delta int64) {
	if delta < 0 {
		return
	}
	m.counters.WithLabelValues(topic, function).Add(float64(delta))
}

// SetGauge sets a gauge value
func (m *MetricsManager) SetGauge(topic, function string, value int64) {
	m.gauges.WithLabelValues(topic, function).Set(float64(value))
}

// RecordSuccess records a successful operation
func (m *MetricsManager) RecordSuccess(topic, operation string) {
	m.outcomes.WithLabelValues(topic, operation, "success").Inc()
}

// RecordFailure records a failed operation
func (m *MetricsManager) RecordFailure(topic, operation, reason string) {
	m.outcomes.WithLabelValues(topic, operation, "failure").Inc()
	if reason == "" {
		reason = "unspecified"
	}
	m.failures.WithLabelValues(topic, operation, reason).Inc()
}

// RecordOutcome records a named outcome
func (m *MetricsManager) RecordOutcome(topic, operation, outcome string) {
	m.outcomes.WithLabelValues(topic, operation, outcome).Inc()
}
