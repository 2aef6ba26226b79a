package automation

import (
	"errors"
	"fmt"
	"sync"
	"time"

	. "github.com/asukul/thatbrowser/internal/logging"
)

// Status is a step's position in pending → running → done|error.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

// Terminal reports whether s is done or error.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusError
}

// Step tracks one command through a run.
type Step struct {
	Index       int           `json:"index"`
	Command     Command       `json:"command"`
	Description string        `json:"description"`
	Status      Status        `json:"status"`
	Strategy    Strategy      `json:"strategy,omitempty"`
	Message     string        `json:"message,omitempty"`
	Error       string        `json:"error,omitempty"`
	StartedAt   time.Time     `json:"startedAt,omitzero"`
	EndedAt     time.Time     `json:"endedAt,omitzero"`
	Duration    time.Duration `json:"-"`
	DurationMs  int64         `json:"durationMs,omitempty"`
}

// ErrIllegalTransition is returned for a transition the state machine does
// not allow.
var ErrIllegalTransition = errors.New("automation: illegal step transition")

// Tracker holds the steps of the current run. At most one step is running.
type Tracker struct {
	mu       sync.Mutex
	steps    []Step
	running  int
	observer func(Step)
}

// NewTracker creates an empty tracker. observer, if set, receives a copy of
// every step after it changes.
func NewTracker(observer func(Step)) *Tracker {
	return &Tracker{running: -1, observer: observer}
}

// Start replaces the step list with one pending step per command.
func (t *Tracker) Start(cmds []Command) {
	t.mu.Lock()
	t.steps = make([]Step, len(cmds))
	for i, c := range cmds {
		t.steps[i] = Step{Index: i, Command: c, Description: c.Describe(), Status: StatusPending}
	}
	t.running = -1
	snapshot := append([]Step(nil), t.steps...)
	t.mu.Unlock()

	for _, s := range snapshot {
		t.notify(s)
	}
}

// Begin moves step i from pending to running.
func (t *Tracker) Begin(i int) error {
	return t.transition(i, func(s *Step) error {
		if s.Status != StatusPending {
			return fmt.Errorf("%w: step %d is %s", ErrIllegalTransition, i, s.Status)
		}
		if t.running >= 0 {
			return fmt.Errorf("%w: step %d is still running", ErrIllegalTransition, t.running)
		}
		s.Status = StatusRunning
		s.StartedAt = time.Now()
		t.running = i
		return nil
	})
}

// Complete moves step i from running to done.
func (t *Tracker) Complete(i int, res Result) error {
	return t.finish(i, func(s *Step) {
		s.Status = StatusDone
		s.Strategy = res.Strategy
		s.Message = res.Message
	})
}

// Fail moves step i to error. A pending step may fail directly, which is
// how steps skipped by a stopped run are closed out.
func (t *Tracker) Fail(i int, msg string) error {
	return t.transition(i, func(s *Step) error {
		switch s.Status {
		case StatusRunning:
			t.running = -1
		case StatusPending:
			s.StartedAt = time.Now()
		default:
			return fmt.Errorf("%w: step %d is already %s", ErrIllegalTransition, i, s.Status)
		}
		s.Status = StatusError
		s.Error = msg
		s.EndedAt = time.Now()
		s.Duration = s.EndedAt.Sub(s.StartedAt)
		s.DurationMs = s.Duration.Milliseconds()
		return nil
	})
}

func (t *Tracker) finish(i int, apply func(*Step)) error {
	return t.transition(i, func(s *Step) error {
		if s.Status != StatusRunning {
			return fmt.Errorf("%w: step %d is %s, not running", ErrIllegalTransition, i, s.Status)
		}
		apply(s)
		s.EndedAt = time.Now()
		s.Duration = s.EndedAt.Sub(s.StartedAt)
		s.DurationMs = s.Duration.Milliseconds()
		t.running = -1
		return nil
	})
}

func (t *Tracker) transition(i int, fn func(*Step) error) error {
	t.mu.Lock()
	if i < 0 || i >= len(t.steps) {
		t.mu.Unlock()
		return fmt.Errorf("%w: no step %d", ErrIllegalTransition, i)
	}
	if err := fn(&t.steps[i]); err != nil {
		t.mu.Unlock()
		return err
	}
	s := t.steps[i]
	t.mu.Unlock()

	t.notify(s)
	return nil
}

func (t *Tracker) notify(s Step) {
	if t.observer == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			L_warn("automation: step observer panicked", "panic", r)
		}
	}()
	t.observer(s)
}

// Steps returns a copy of the step list.
func (t *Tracker) Steps() []Step {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Step(nil), t.steps...)
}

// Reset clears the tracker.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.steps = nil
	t.running = -1
	t.mu.Unlock()
}

// Summary counts steps by status.
type Summary struct {
	Total   int
	Done    int
	Failed  int
	Pending int
}

// Summary returns step counts for the current run.
func (t *Tracker) Summary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	sum := Summary{Total: len(t.steps)}
	for _, s := range t.steps {
		switch s.Status {
		case StatusDone:
			sum.Done++
		case StatusError:
			sum.Failed++
		default:
			sum.Pending++
		}
	}
	return sum
}
