package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAndOutcomes(t *testing.T) {
	m := newManager()

	m.AddCounter("llm", "chat", 1)
	m.AddCounter("llm", "chat", 2)
	m.AddCounter("llm", "chat", -5)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.counters.WithLabelValues("llm", "chat")))

	m.RecordSuccess("automation", "click")
	m.RecordFailure("automation", "click", "not_found")
	m.RecordFailure("automation", "click", "")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.outcomes.WithLabelValues("automation", "click", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.outcomes.WithLabelValues("automation", "click", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("automation", "click", "unspecified")))

	m.SetGauge("llm", "inflight", 4)
	assert.Equal(t, 4.0, testutil.ToFloat64(m.gauges.WithLabelValues("llm", "inflight")))
}

func TestTimingKeys(t *testing.T) {
	m := newManager()

	a := m.StartTiming("stt", "transcribe")
	b := m.StartTiming("stt", "transcribe")
	assert.NotEqual(t, a, b)

	m.EndTiming(a)
	m.EndTiming(a) // second end is a no-op
	m.EndTiming("missing")
	m.mu.Lock()
	assert.Len(t, m.active, 1)
	m.mu.Unlock()

	m.RecordDuration("stt", "transcribe", 20*time.Millisecond)
	assert.Equal(t, 1, testutil.CollectAndCount(m.durations))
}

func TestHandlerServesRegistry(t *testing.T) {
	MetricInc("test", "handler")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "thatbrowser_events_total")
}

func TestMetricTimer(t *testing.T) {
	stop := MetricTimer("browser", "new_page")
	m := GetInstance()
	m.mu.Lock()
	n := len(m.active)
	m.mu.Unlock()
	assert.GreaterOrEqual(t, n, 1)

	stop()
	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Len(t, m.active, n-1)
}
