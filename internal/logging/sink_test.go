package logging

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sinkRecord struct {
	level, category, msg string
	data                 map[string]any
}

func TestSinkReceivesCategoryAndData(t *testing.T) {
	var mu sync.Mutex
	var got []sinkRecord
	SetSink(func(level, category, msg string, data map[string]any) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, sinkRecord{level, category, msg, data})
	})
	defer SetSink(nil)

	L_warn("llm: request timed out", "seconds", 3)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "warn", got[0].level)
	assert.Equal(t, "llm", got[0].category)
	assert.Equal(t, "request timed out", got[0].msg)
	assert.Equal(t, 3, got[0].data["seconds"])
}

func TestSinkPanicDoesNotPropagate(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	SetSink(func(level, category, msg string, data map[string]any) {
		mu.Lock()
		calls++
		mu.Unlock()
		panic("sink exploded")
	})
	defer SetSink(nil)

	assert.NotPanics(t, func() {
		L_info("agent: first")
		L_info("agent: second")
	})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 2
	}, time.Second, 5*time.Millisecond)
}

func TestLoggingWithoutSink(t *testing.T) {
	SetSink(nil)
	assert.NotPanics(t, func() {
		L_info("config: loaded", "path", "/tmp/x")
	})
}

func TestSplitCategory(t *testing.T) {
	tests := []struct {
		in       string
		cat, msg string
	}{
		{"llm: request dispatched", "llm", "request dispatched"},
		{"no category here", "", "no category here"},
		{"two words: not a category", "", "two words: not a category"},
		{": leading", "", ": leading"},
	}
	for _, tt := range tests {
		cat, msg := splitCategory(tt.in)
		assert.Equal(t, tt.cat, cat, tt.in)
		assert.Equal(t, tt.msg, msg, tt.in)
	}
}
