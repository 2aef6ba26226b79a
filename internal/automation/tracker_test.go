package automation

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func threeCommands() []Command {
	return []Command{
		{Type: CmdClick, X: 1, Y: 1},
		{Type: CmdType, Text: "x"},
		{Type: CmdWait, Ms: 1},
	}
}

func TestTrackerTransitions(t *testing.T) {
	var mu sync.Mutex
	var seen []Status
	tr := NewTracker(func(s Step) {
		mu.Lock()
		seen = append(seen, s.Status)
		mu.Unlock()
	})
	tr.Start(threeCommands())

	for _, s := range tr.Steps() {
		assert.Equal(t, StatusPending, s.Status)
	}

	require.NoError(t, tr.Begin(0))
	assert.ErrorIs(t, tr.Begin(1), ErrIllegalTransition, "only one step runs at a time")
	require.NoError(t, tr.Complete(0, Result{Strategy: StrategyProtocol}))
	assert.ErrorIs(t, tr.Begin(0), ErrIllegalTransition, "done never returns to running")

	require.NoError(t, tr.Begin(1))
	require.NoError(t, tr.Fail(1, "element not found"))
	assert.ErrorIs(t, tr.Complete(1, Result{}), ErrIllegalTransition)
	assert.ErrorIs(t, tr.Fail(1, "again"), ErrIllegalTransition)

	assert.ErrorIs(t, tr.Complete(2, Result{}), ErrIllegalTransition, "pending cannot complete")
	assert.ErrorIs(t, tr.Begin(7), ErrIllegalTransition)

	steps := tr.Steps()
	assert.Equal(t, StatusDone, steps[0].Status)
	assert.Equal(t, StrategyProtocol, steps[0].Strategy)
	assert.Equal(t, StatusError, steps[1].Status)
	assert.Equal(t, "element not found", steps[1].Error)
	assert.False(t, steps[1].EndedAt.IsZero())
	assert.Equal(t, StatusPending, steps[2].Status)

	assert.Equal(t, Summary{Total: 3, Done: 1, Failed: 1, Pending: 1}, tr.Summary())

	mu.Lock()
	assert.Equal(t, []Status{
		StatusPending, StatusPending, StatusPending,
		StatusRunning, StatusDone, StatusRunning, StatusError,
	}, seen)
	mu.Unlock()

	tr.Reset()
	assert.Empty(t, tr.Steps())
}

func TestTrackerObserverPanicIgnored(t *testing.T) {
	tr := NewTracker(func(Step) { panic("observer") })
	tr.Start(threeCommands())
	require.NoError(t, tr.Begin(0))
	assert.Equal(t, StatusRunning, tr.Steps()[0].Status)
}

func TestTrackerStepsIsSnapshot(t *testing.T) {
	tr := NewTracker(nil)
	tr.Start(threeCommands())
	steps := tr.Steps()
	steps[0].Status = StatusDone
	assert.Equal(t, StatusPending, tr.Steps()[0].Status)
	assert.False(t, errors.Is(tr.Begin(0), ErrIllegalTransition))
}
