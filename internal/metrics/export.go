package metrics

import "time"

// Package-level helpers, meant to be dot-imported. topic is the subsystem
// ("llm", "automation", ...), function the operation within it.

// MetricTimer starts timing and returns the func that records it:
//
//	defer MetricTimer("browser", "new_page")()
func MetricTimer(topic, function string) func() {
	m := GetInstance()
	key := m.StartTiming(topic, function)
	return func() { m.EndTiming(key) }
}

// MetricDuration records an already measured duration.
func MetricDuration(topic, function string, d time.Duration) {
	GetInstance().RecordDuration(topic, function, d)
}

// MetricInc bumps a counter.
func MetricInc(topic, function string) {
	GetInstance().AddCounter(topic, function, 1)
}

// MetricAdd adds delta to a counter.
func MetricAdd(topic, function string, delta int64) {
	GetInstance().AddCounter(topic, function, delta)
}

// MetricSet sets a gauge.
func MetricSet(topic, function string, value int64) {
	GetInstance().SetGauge(topic, function, value)
}

func MetricSuccess(topic, operation string) {
	GetInstance().RecordSuccess(topic, operation)
}

// MetricFailWithReason counts a failure under reason, e.g. "timeout".
func MetricFailWithReason(topic, operation, reason string) {
	GetInstance().RecordFailure(topic, operation, reason)
}

// MetricOutcome counts a named outcome such as "aborted" or "partial".
func MetricOutcome(topic, operation, outcome string) {
	GetInstance().RecordOutcome(topic, operation, outcome)
}
