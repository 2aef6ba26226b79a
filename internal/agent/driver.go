// Package agent runs the plan, parse, execute, report loop: it asks a
// model what to do on a page, parses the commands out of the answer and
// executes them.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/asukul/thatbrowser/internal/automation"
	"github.com/asukul/thatbrowser/internal/history"
	"github.com/asukul/thatbrowser/internal/llm"
	. "github.com/asukul/thatbrowser/internal/logging"
	"github.com/asukul/thatbrowser/internal/media"
	. "github.com/asukul/thatbrowser/internal/metrics"
)

// Page is an automation page that can also describe itself.
type Page interface {
	automation.Page
	Info(ctx context.Context) (url, title string, err error)
	Snapshot(ctx context.Context, maxLen int) (string, error)
}

// Options configures a Driver.
type Options struct {
	Provider    string // empty for the default provider
	Screenshot  bool   // attach a screenshot to the request
	ImageLimits media.Limits
	SnapshotLen int
	// OnDelta receives streamed response text as it arrives.
	OnDelta func(string)
}

// Driver runs instructions against pages.
type Driver struct {
	client *llm.Client
	runner *automation.Runner
	store  *history.Store // optional
	opts   Options
}

// NewDriver creates a driver. store may be nil to skip history.
func NewDriver(client *llm.Client, runner *automation.Runner, store *history.Store, opts Options) *Driver {
	if opts.SnapshotLen <= 0 {
		opts.SnapshotLen = 20000
	}
	return &Driver{client: client, runner: runner, store: store, opts: opts}
}

// Run asks the model how to carry out instruction on page, then executes
// the commands in its answer. The returned run is always non-nil except
// when the page is busy.
//
// An aborted chat call yields OutcomeStopped with no commands executed and
// a nil error. Any other chat failure yields OutcomeFailed and the error.
func (d *Driver) Run(ctx context.Context, page Page, instruction string) (*history.Run, error) {
	if d.runner.Busy(page.ID()) {
		return nil, automation.ErrPageBusy
	}

	run := &history.Run{
		ID:          uuid.NewString(),
		Instruction: instruction,
		Provider:    d.opts.Provider,
		StartedAt:   time.Now(),
	}
	if cfg, err := d.client.Registry().Resolve(d.opts.Provider); err == nil {
		run.Provider, run.Model = cfg.Name, cfg.Model
	}
	L_info("agent: run started", "id", run.ID, "provider", run.Provider, "page", page.ID())

	err := d.run(ctx, page, run)
	run.Duration = time.Since(run.StartedAt)
	d.save(ctx, run)
	MetricOutcome("agent", "run", string(run.Outcome))
	L_info("agent: run finished", "id", run.ID, "outcome", run.Outcome, "steps", len(run.Steps),
		"elapsed", run.Duration.Round(time.Millisecond).String())
	return run, err
}

func (d *Driver) run(ctx context.Context, page Page, run *history.Run) error {
	msgs, err := d.buildMessages(ctx, page, run)
	if err != nil {
		run.Outcome = history.OutcomeFailed
		run.Error = err.Error()
		return err
	}

	result, err := d.stream(ctx, msgs, run)
	if err != nil {
		if llm.IsAbort(err) {
			run.Outcome = history.OutcomeStopped
			return nil
		}
		run.Outcome = history.OutcomeFailed
		run.Error = err.Error()
		return err
	}
	run.Response = result.Content
	if result.Model != "" {
		run.Model = result.Model
	}
	run.Cleaned = automation.Clean(result.Content)

	cmds := automation.Parse(result.Content)
	L_debug("agent: parsed commands", "id", run.ID, "count", len(cmds))
	if len(cmds) == 0 {
		run.Outcome = history.OutcomeDone
		return nil
	}

	rep, err := d.runner.Run(ctx, page, cmds)
	if err != nil {
		run.Outcome = history.OutcomeFailed
		run.Error = err.Error()
		return err
	}
	run.Steps = rep.Steps
	switch {
	case rep.Stopped:
		run.Outcome = history.OutcomeStopped
	case len(rep.Failed()) > 0:
		run.Outcome = history.OutcomeFailed
	default:
		run.Outcome = history.OutcomeDone
	}
	return nil
}

func (d *Driver) buildMessages(ctx context.Context, page Page, run *history.Run) ([]llm.ChatMessage, error) {
	if url, _, err := page.Info(ctx); err == nil {
		run.URL = url
	}
	snapshot, err := page.Snapshot(ctx, d.opts.SnapshotLen)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		L_warn("agent: page snapshot failed, continuing without it", "error", err)
		snapshot = ""
	}

	user := llm.ChatMessage{Role: llm.RoleUser, Content: userMessage(snapshot, run.URL, run.Instruction)}
	if d.opts.Screenshot {
		user.Image = d.screenshot(ctx, page)
	}
	return []llm.ChatMessage{
		{Role: llm.RoleSystem, Content: systemPrompt},
		user,
	}, nil
}

// screenshot captures and shrinks the viewport. Failures only cost the
// image.
func (d *Driver) screenshot(ctx context.Context, page Page) *llm.Image {
	data, err := page.CaptureImage(ctx)
	if err != nil {
		L_warn("agent: screenshot failed", "error", err)
		return nil
	}
	img, err := media.Optimize(data, d.opts.ImageLimits)
	if err != nil {
		L_warn("agent: screenshot could not be prepared", "error", err)
		return nil
	}
	L_debug("agent: screenshot attached", "width", img.Width, "height", img.Height, "bytes", len(img.Data))
	return &llm.Image{MimeType: img.MimeType, Data: img.Base64()}
}

func (d *Driver) stream(ctx context.Context, msgs []llm.ChatMessage, run *history.Run) (*llm.ChatResult, error) {
	events, err := d.client.ChatStream(ctx, msgs, d.opts.Provider)
	if err != nil {
		return nil, err
	}
	var (
		result *llm.ChatResult
		final  error
	)
	for ev := range events {
		switch {
		case ev.Err != nil:
			final = ev.Err
		case ev.Done:
			result = ev.Result
		case ev.Text != "" && d.opts.OnDelta != nil:
			d.opts.OnDelta(ev.Text)
		}
	}
	if final != nil {
		return nil, final
	}
	if result == nil {
		return nil, errors.New("agent: stream ended without a result")
	}
	return result, nil
}

func (d *Driver) save(ctx context.Context, run *history.Run) {
	if d.store == nil {
		return
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := d.store.SaveRun(sctx, run); err != nil {
		L_warn("agent: failed to save run", "id", run.ID, "error", fmt.Errorf("history: %w", err))
	}
}
