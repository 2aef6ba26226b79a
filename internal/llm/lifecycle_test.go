package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAbortAllWithNothingInFlight(t *testing.T) {
	m := NewRequestManager()
	assert.Equal(t, 0, m.AbortAll())
	assert.Equal(t, 0, m.Count())
}

func TestAbortAllCancelsEveryHandle(t *testing.T) {
	m := NewRequestManager()
	var handles []*Handle
	for i := 0; i < 3; i++ {
		handles = append(handles, m.Begin(context.Background(), time.Minute))
	}
	require.Equal(t, 3, m.Count())

	assert.Equal(t, 3, m.AbortAll())
	assert.Equal(t, 0, m.Count())

	for _, h := range handles {
		assert.Error(t, h.Context().Err())
		err := h.abortError()
		require.Error(t, err)
		assert.True(t, IsAbort(err))
		assert.False(t, err.(*AbortError).TimedOut)

		// settling after abort must not re-enter or double count
		h.Finish()
		h.Cancel()
	}
	assert.Equal(t, 0, m.Count())
	assert.Equal(t, 0, m.AbortAll())
}

func TestFinishRemovesHandle(t *testing.T) {
	m := NewRequestManager()
	h := m.Begin(context.Background(), time.Minute)
	other := m.Begin(context.Background(), 0)
	require.Equal(t, 2, m.Count())

	h.Finish()
	h.Finish()
	assert.Equal(t, 1, m.Count())

	other.Cancel()
	assert.Equal(t, 0, m.Count())
	assert.True(t, IsAbort(other.abortError()))
}

func TestTimeoutCancelsAndDeregisters(t *testing.T) {
	m := NewRequestManager()
	h := m.Begin(context.Background(), 20*time.Millisecond)

	select {
	case <-h.Context().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("handle did not time out")
	}

	assert.Equal(t, 0, m.Count())
	err := h.abortError()
	require.Error(t, err)
	ae, ok := err.(*AbortError)
	require.True(t, ok)
	assert.True(t, ae.TimedOut)

	// the expired handle is gone, so abort finds nothing
	assert.Equal(t, 0, m.AbortAll())
}

func TestFinishStopsTimer(t *testing.T) {
	m := NewRequestManager()
	h := m.Begin(context.Background(), 30*time.Millisecond)
	h.Finish()

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 0, m.Count())
	// Finish cancels with a nil cause, which is not a timeout
	ae, ok := h.abortError().(*AbortError)
	require.True(t, ok)
	assert.False(t, ae.TimedOut)
}

func TestParentCancellationIsAbort(t *testing.T) {
	m := NewRequestManager()
	parent, cancel := context.WithCancel(context.Background())
	h := m.Begin(parent, 0)
	cancel()

	<-h.Context().Done()
	assert.True(t, IsAbort(h.abortError()))
	h.Finish()
	assert.Equal(t, 0, m.Count())
}
