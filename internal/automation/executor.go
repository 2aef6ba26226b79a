package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"github.com/tidwall/gjson"

	. "github.com/asukul/thatbrowser/internal/logging"
	. "github.com/asukul/thatbrowser/internal/metrics"
)

// Strategy records which tier performed a command.
type Strategy string

const (
	StrategyProtocol Strategy = "protocol"
	StrategyScript   Strategy = "script"
	StrategyDirect   Strategy = "direct"
)

// Element is one match returned by find.
type Element struct {
	Tag     string   `json:"tag"`
	Text    string   `json:"text"`
	ID      string   `json:"id"`
	Classes []string `json:"classes"`
	Href    string   `json:"href"`
	X       int      `json:"x"`
	Y       int      `json:"y"`
	Width   int      `json:"width"`
	Height  int      `json:"height"`
	Visible bool     `json:"visible"`
}

// Result is the outcome of one command. Exactly one of the payload fields
// or Error is meaningful.
type Result struct {
	Strategy Strategy  `json:"strategy,omitempty"`
	Message  string    `json:"message,omitempty"`
	Total    int       `json:"total,omitempty"`
	Elements []Element `json:"elements,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// OK reports whether the command succeeded.
func (r Result) OK() bool {
	return r.Error == ""
}

// ElementError is a selector that matched nothing or matched an element
// that cannot be interacted with.
type ElementError struct {
	Message string
}

func (e *ElementError) Error() string {
	return e.Message
}

// ExecutorOptions tunes input pacing. Zero fields take the defaults.
type ExecutorOptions struct {
	MouseStep   time.Duration // between move, press and release
	ClickSettle time.Duration // after scrolling an element into view
	KeyStroke   time.Duration // between typed characters
	MaxWait     time.Duration
	FindLimit   int
	// SelectAllMeta selects with Meta+A instead of Ctrl+A.
	SelectAllMeta bool
}

func (o ExecutorOptions) withDefaults() ExecutorOptions {
	if o.MouseStep == 0 {
		o.MouseStep = 50 * time.Millisecond
	}
	if o.ClickSettle == 0 {
		o.ClickSettle = 100 * time.Millisecond
	}
	if o.KeyStroke == 0 {
		o.KeyStroke = 30 * time.Millisecond
	}
	if o.MaxWait == 0 {
		o.MaxWait = 10 * time.Second
	}
	if o.FindLimit == 0 {
		o.FindLimit = 20
	}
	return o
}

// Executor performs commands against pages: debug-protocol input first,
// DOM scripts when the protocol call fails.
type Executor struct {
	opts ExecutorOptions

	mu       sync.Mutex
	attached map[string]bool
}

// NewExecutor creates an executor.
func NewExecutor(opts ExecutorOptions) *Executor {
	if opts == (ExecutorOptions{}) {
		opts.SelectAllMeta = runtime.GOOS == "darwin"
	}
	return &Executor{
		opts:     opts.withDefaults(),
		attached: make(map[string]bool),
	}
}

// Execute runs one command. It never panics or returns an error; failures
// are reported in Result.Error.
func (e *Executor) Execute(ctx context.Context, page Page, cmd Command) (res Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			L_error("automation: command panicked", "type", cmd.Type, "panic", r)
			res = Result{Error: fmt.Sprintf("internal error: %v", r)}
		}
		e.report(cmd, res, time.Since(start))
	}()

	switch cmd.Type {
	case CmdClick:
		return e.Click(ctx, page, cmd.X, cmd.Y)
	case CmdClickElement:
		return e.ClickElement(ctx, page, cmd.Selector)
	case CmdType:
		return e.Type(ctx, page, cmd.Text)
	case CmdFill:
		return e.Fill(ctx, page, cmd.Selector, cmd.Value)
	case CmdPress:
		return e.PressKey(ctx, page, cmd.Key, cmd.Modifiers)
	case CmdScroll:
		return e.Scroll(ctx, page, cmd.DeltaX, cmd.DeltaY)
	case CmdNavigate:
		return e.Navigate(ctx, page, cmd.URL)
	case CmdWait:
		return e.Wait(ctx, e.waitFor(cmd.Ms))
	case CmdFind:
		return e.Find(ctx, page, cmd.Selector)
	default:
		return Result{Error: fmt.Sprintf("unsupported command %q", cmd.Type)}
	}
}

func (e *Executor) report(cmd Command, res Result, elapsed time.Duration) {
	op := string(cmd.Type)
	MetricDuration("automation", op, elapsed)
	if res.OK() {
		L_debug("automation: command executed", "type", op, "strategy", res.Strategy, "elapsed", elapsed.Round(time.Millisecond).String())
		MetricSuccess("automation", op)
		return
	}
	L_debug("automation: command failed", "type", op, "error", res.Error, "elapsed", elapsed.Round(time.Millisecond).String())
	MetricFailWithReason("automation", op, failureReason(res.Error))
}

func failureReason(msg string) string {
	switch {
	case strings.Contains(msg, "not found"):
		return "not_found"
	case strings.Contains(msg, "not visible"):
		return "not_visible"
	case strings.Contains(msg, "deadline exceeded"), strings.Contains(msg, "timed out"):
		return "timeout"
	case strings.Contains(msg, "canceled"):
		return "cancelled"
	default:
		return "error"
	}
}

// withFallback runs the protocol tier and, if it fails, the script tier.
// When both fail the script error is returned.
func (e *Executor) withFallback(ctx context.Context, page Page, op string, protocol, script func() error) Result {
	perr := e.attach(ctx, page)
	if perr == nil {
		perr = protocol()
	}
	if perr == nil {
		return Result{Strategy: StrategyProtocol}
	}
	if ctx.Err() != nil {
		return Result{Error: ctx.Err().Error()}
	}
	L_debug("automation: protocol input failed, using script", "op", op, "error", perr)
	MetricInc("automation", "fallbacks")
	if err := script(); err != nil {
		return Result{Error: err.Error()}
	}
	return Result{Strategy: StrategyScript}
}

// attach enables the protocol once per page. "already attached" counts as
// success.
func (e *Executor) attach(ctx context.Context, page Page) error {
	id := page.ID()
	e.mu.Lock()
	done := e.attached[id]
	e.mu.Unlock()
	if done {
		return nil
	}
	if err := page.Attach(ctx); err != nil && !strings.Contains(strings.ToLower(err.Error()), "already attached") {
		return fmt.Errorf("attach: %w", err)
	}
	e.mu.Lock()
	e.attached[id] = true
	e.mu.Unlock()
	return nil
}

// Forget drops the cached attachment for a closed or replaced page.
func (e *Executor) Forget(pageID string) {
	e.mu.Lock()
	delete(e.attached, pageID)
	e.mu.Unlock()
}

type protoRequest interface {
	ProtoReq() string
}

func send(ctx context.Context, page Page, req protoRequest) error {
	_, err := page.Send(ctx, req.ProtoReq(), req)
	return err
}

// eval runs a page script and decodes its result into out. A script that
// returns {error} yields an ElementError.
func eval(ctx context.Context, page Page, script string, out any, args ...any) error {
	raw, err := page.Evaluate(ctx, script, args...)
	if err != nil {
		return err
	}
	if msg := gjson.GetBytes(raw, "error"); msg.Exists() && msg.String() != "" {
		return &ElementError{Message: msg.String()}
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode script result: %w", err)
		}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (e *Executor) mouseClick(ctx context.Context, page Page, x, y float64) error {
	steps := []proto.InputDispatchMouseEvent{
		{Type: proto.InputDispatchMouseEventTypeMouseMoved, X: x, Y: y, Button: proto.InputMouseButtonNone},
		{Type: proto.InputDispatchMouseEventTypeMousePressed, X: x, Y: y, Button: proto.InputMouseButtonLeft, ClickCount: 1},
		{Type: proto.InputDispatchMouseEventTypeMouseReleased, X: x, Y: y, Button: proto.InputMouseButtonLeft, ClickCount: 1},
	}
	for i, ev := range steps {
		if i > 0 {
			if err := sleep(ctx, e.opts.MouseStep); err != nil {
				return err
			}
		}
		if err := send(ctx, page, ev); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) highlight(ctx context.Context, page Page, x, y float64) {
	if err := eval(ctx, page, scriptHighlight, nil, highlightID, x, y); err != nil {
		L_debug("automation: highlight failed", "error", err)
	}
}

// ClearHighlight removes the interaction dot, if any.
func (e *Executor) ClearHighlight(ctx context.Context, page Page) {
	if err := eval(ctx, page, scriptClearHighlight, nil, highlightID); err != nil {
		L_debug("automation: clear highlight failed", "error", err)
	}
}

// Click clicks at viewport coordinates.
func (e *Executor) Click(ctx context.Context, page Page, x, y int) Result {
	fx, fy := float64(x), float64(y)
	e.highlight(ctx, page, fx, fy)
	res := e.withFallback(ctx, page, "click",
		func() error { return e.mouseClick(ctx, page, fx, fy) },
		func() error { return eval(ctx, page, scriptClickPoint, nil, x, y) },
	)
	if res.OK() {
		res.Message = fmt.Sprintf("clicked at (%d, %d)", x, y)
	}
	return res
}

type point struct {
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
	Tag string  `json:"tag"`
}

// ClickElement scrolls the first element matching selector into view and
// clicks its centre.
func (e *Executor) ClickElement(ctx context.Context, page Page, selector string) Result {
	var pt point
	if err := eval(ctx, page, scriptResolveElement, &pt, selector); err != nil {
		return Result{Error: err.Error()}
	}
	if err := sleep(ctx, e.opts.ClickSettle); err != nil {
		return Result{Error: err.Error()}
	}
	e.highlight(ctx, page, pt.X, pt.Y)

	var navigated string
	res := e.withFallback(ctx, page, "click_element",
		func() error { return e.mouseClick(ctx, page, pt.X, pt.Y) },
		func() error {
			var out struct {
				Navigated string `json:"navigated"`
			}
			err := eval(ctx, page, scriptClickElement, &out, selector)
			navigated = out.Navigated
			return err
		},
	)
	if res.OK() {
		res.Message = fmt.Sprintf("clicked <%s> %s", pt.Tag, selector)
		if navigated != "" {
			res.Message += " and followed " + navigated
		}
	}
	return res
}

// Type inserts text into the focused element one character at a time.
// If the protocol tier stops partway, the script tier inserts only the
// characters not yet delivered.
func (e *Executor) Type(ctx context.Context, page Page, text string) Result {
	runes := []rune(text)
	typed := 0
	res := e.withFallback(ctx, page, "type",
		func() error {
			for i, r := range runes {
				if i > 0 {
					if err := sleep(ctx, e.opts.KeyStroke); err != nil {
						return err
					}
				}
				if err := send(ctx, page, proto.InputInsertText{Text: string(r)}); err != nil {
					return err
				}
				typed++
			}
			return nil
		},
		func() error {
			if typed == len(runes) {
				return nil
			}
			return eval(ctx, page, scriptInsertText, nil, string(runes[typed:]))
		},
	)
	if res.OK() {
		res.Message = fmt.Sprintf("typed %d characters", len(runes))
	}
	return res
}

// Fill replaces the content of the element matching selector with value.
func (e *Executor) Fill(ctx context.Context, page Page, selector, value string) Result {
	if err := eval(ctx, page, scriptFocusSelect, nil, selector); err != nil {
		return Result{Error: err.Error()}
	}
	selectMod := ModCtrl
	if e.opts.SelectAllMeta {
		selectMod = ModMeta
	}
	res := e.withFallback(ctx, page, "fill",
		func() error {
			if err := e.keyPress(ctx, page, "a", selectMod); err != nil {
				return err
			}
			if err := e.keyPress(ctx, page, "Backspace", 0); err != nil {
				return err
			}
			if value == "" {
				return nil
			}
			return send(ctx, page, proto.InputInsertText{Text: value})
		},
		func() error { return eval(ctx, page, scriptFill, nil, selector, value) },
	)
	if res.OK() {
		res.Message = fmt.Sprintf("filled %s", selector)
	}
	return res
}

func (e *Executor) keyPress(ctx context.Context, page Page, key string, mods Modifier) error {
	ki, err := resolveKey(key, mods)
	if err != nil {
		return err
	}
	base := proto.InputDispatchKeyEvent{
		Modifiers:             int(mods),
		Key:                   ki.key,
		Code:                  ki.code,
		WindowsVirtualKeyCode: ki.keyCode,
	}
	down := base
	down.Type = proto.InputDispatchKeyEventTypeRawKeyDown
	if err := send(ctx, page, down); err != nil {
		return err
	}
	if ki.text != "" {
		char := base
		char.Type = proto.InputDispatchKeyEventTypeChar
		char.Text = ki.text
		char.UnmodifiedText = ki.text
		if err := send(ctx, page, char); err != nil {
			return err
		}
	}
	up := base
	up.Type = proto.InputDispatchKeyEventTypeKeyUp
	return send(ctx, page, up)
}

// PressKey presses a named key or single character with modifiers.
func (e *Executor) PressKey(ctx context.Context, page Page, key string, mods Modifier) Result {
	ki, err := resolveKey(key, mods)
	if err != nil {
		return Result{Error: err.Error()}
	}
	res := e.withFallback(ctx, page, "press",
		func() error { return e.keyPress(ctx, page, key, mods) },
		func() error { return eval(ctx, page, scriptKey, nil, ki.key, ki.code, ki.keyCode, ki.text, int(mods)) },
	)
	if res.OK() {
		res.Message = "pressed " + key
		if mods != 0 {
			res.Message = fmt.Sprintf("pressed %s+%s", mods, key)
		}
	}
	return res
}

// Scroll scrolls by the given deltas with a wheel event at the viewport
// centre.
func (e *Executor) Scroll(ctx context.Context, page Page, dx, dy int) Result {
	res := e.withFallback(ctx, page, "scroll",
		func() error {
			vp := struct {
				Width  float64 `json:"width"`
				Height float64 `json:"height"`
			}{Width: 800, Height: 600}
			if err := eval(ctx, page, scriptViewport, &vp); err != nil {
				L_trace("automation: viewport unknown, using default", "error", err)
			}
			return send(ctx, page, proto.InputDispatchMouseEvent{
				Type:   proto.InputDispatchMouseEventTypeMouseWheel,
				X:      vp.Width / 2,
				Y:      vp.Height / 2,
				DeltaX: float64(dx),
				DeltaY: float64(dy),
			})
		},
		func() error { return eval(ctx, page, scriptScrollBy, nil, dx, dy) },
	)
	if res.OK() {
		res.Message = fmt.Sprintf("scrolled by (%d, %d)", dx, dy)
	}
	return res
}

// Navigate loads url in the page.
func (e *Executor) Navigate(ctx context.Context, page Page, url string) Result {
	if err := page.Navigate(ctx, url); err != nil {
		return Result{Error: err.Error()}
	}
	return Result{Strategy: StrategyDirect, Message: "navigated to " + url}
}

// Wait pauses for d, capped at the configured maximum.
func (e *Executor) Wait(ctx context.Context, d time.Duration) Result {
	if d < 0 {
		d = 0
	}
	if d > e.opts.MaxWait {
		L_debug("automation: wait capped", "requested", d, "max", e.opts.MaxWait)
		d = e.opts.MaxWait
	}
	if err := sleep(ctx, d); err != nil {
		return Result{Error: err.Error()}
	}
	return Result{Strategy: StrategyDirect, Message: fmt.Sprintf("waited %dms", d.Milliseconds())}
}

// waitFor converts a WAIT argument to a duration, clamping in milliseconds
// so huge values cannot overflow.
func (e *Executor) waitFor(ms int) time.Duration {
	if ms <= 0 {
		return 0
	}
	if int64(ms) > e.opts.MaxWait.Milliseconds() {
		L_debug("automation: wait capped", "requestedMs", ms, "max", e.opts.MaxWait)
		return e.opts.MaxWait
	}
	return time.Duration(ms) * time.Millisecond
}

// Find lists elements matching selector without touching them.
func (e *Executor) Find(ctx context.Context, page Page, selector string) Result {
	var out struct {
		Total    int       `json:"total"`
		Elements []Element `json:"elements"`
	}
	if err := eval(ctx, page, scriptFind, &out, selector, e.opts.FindLimit); err != nil {
		return Result{Error: err.Error()}
	}
	return Result{
		Strategy: StrategyScript,
		Message:  fmt.Sprintf("found %d element(s) matching %s", out.Total, selector),
		Total:    out.Total,
		Elements: out.Elements,
	}
}
