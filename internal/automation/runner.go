package automation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	. "github.com/asukul/thatbrowser/internal/logging"
	. "github.com/asukul/thatbrowser/internal/metrics"
)

// ErrPageBusy is returned when a run is requested for a page that already
// has one in progress.
var ErrPageBusy = errors.New("automation: a run is already in progress on this page")

// RunnerOptions tunes pacing between commands. Zero fields take the
// defaults.
type RunnerOptions struct {
	Settle         time.Duration // between commands
	Linger         time.Duration // after the last command, before cleanup
	CommandTimeout time.Duration // per command
	// OnStep receives a copy of every step change.
	OnStep func(Step)
}

func (o RunnerOptions) withDefaults() RunnerOptions {
	if o.Settle == 0 {
		o.Settle = 500 * time.Millisecond
	}
	if o.Linger == 0 {
		o.Linger = 1500 * time.Millisecond
	}
	if o.CommandTimeout == 0 {
		o.CommandTimeout = 30 * time.Second
	}
	return o
}

// Report is the outcome of one run.
type Report struct {
	Steps   []Step
	Stopped bool
	Elapsed time.Duration
}

// Failed returns the steps that ended in error.
func (r *Report) Failed() []Step {
	var out []Step
	for _, s := range r.Steps {
		if s.Status == StatusError {
			out = append(out, s)
		}
	}
	return out
}

// Runner executes command lists one command at a time, at most one run
// per page.
type Runner struct {
	exec *Executor
	opts RunnerOptions

	mu   sync.Mutex
	busy map[string]bool
}

// NewRunner creates a runner around exec.
func NewRunner(exec *Executor, opts RunnerOptions) *Runner {
	return &Runner{
		exec: exec,
		opts: opts.withDefaults(),
		busy: make(map[string]bool),
	}
}

func (r *Runner) acquire(pageID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.busy[pageID] {
		return false
	}
	r.busy[pageID] = true
	return true
}

func (r *Runner) release(pageID string) {
	r.mu.Lock()
	delete(r.busy, pageID)
	r.mu.Unlock()
}

// Busy reports whether page has a run in progress.
func (r *Runner) Busy(pageID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.busy[pageID]
}

// Run executes cmds in order against page. A failing command marks its
// step as error and the run continues. Cancelling ctx stops the run before
// the next command; the remaining steps are closed out as errors.
func (r *Runner) Run(ctx context.Context, page Page, cmds []Command) (*Report, error) {
	id := page.ID()
	if !r.acquire(id) {
		MetricInc("automation", "busy_rejections")
		return nil, ErrPageBusy
	}
	defer r.release(id)

	start := time.Now()
	tracker := NewTracker(r.opts.OnStep)
	tracker.Start(cmds)
	L_info("automation: run started", "page", id, "commands", len(cmds))

	stopped := false
	for i, cmd := range cmds {
		if ctx.Err() != nil {
			stopped = true
			_ = tracker.Fail(i, "stopped")
			continue
		}
		r.step(ctx, page, tracker, i, cmd)

		if i < len(cmds)-1 {
			_ = sleep(ctx, r.opts.Settle)
		}
	}

	if ctx.Err() != nil {
		stopped = true
	}
	if len(cmds) > 0 && !stopped {
		_ = sleep(ctx, r.opts.Linger)
	}
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	r.exec.ClearHighlight(cleanupCtx, page)
	cancel()

	rep := &Report{Steps: tracker.Steps(), Stopped: stopped, Elapsed: time.Since(start)}
	sum := tracker.Summary()
	L_info("automation: run finished", "page", id, "done", sum.Done, "failed", sum.Failed, "stopped", stopped,
		"elapsed", rep.Elapsed.Round(time.Millisecond).String())
	switch {
	case stopped:
		MetricOutcome("automation", "run", "stopped")
	case sum.Failed > 0:
		MetricOutcome("automation", "run", "partial")
	default:
		MetricOutcome("automation", "run", "done")
	}
	return rep, nil
}

func (r *Runner) step(ctx context.Context, page Page, tracker *Tracker, i int, cmd Command) {
	if err := tracker.Begin(i); err != nil {
		L_error("automation: cannot begin step", "index", i, "error", err)
		return
	}

	var res Result
	func() {
		defer func() {
			if p := recover(); p != nil {
				res = Result{Error: fmt.Sprintf("internal error: %v", p)}
			}
		}()
		cctx, cancel := context.WithTimeout(ctx, r.opts.CommandTimeout)
		defer cancel()
		res = r.exec.Execute(cctx, page, cmd)
		if errors.Is(cctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			res = Result{Error: fmt.Sprintf("command timed out after %s", r.opts.CommandTimeout)}
		}
	}()

	if res.OK() {
		_ = tracker.Complete(i, res)
		return
	}
	L_warn("automation: step failed", "index", i, "command", cmd.Describe(), "error", res.Error)
	_ = tracker.Fail(i, res.Error)
}
