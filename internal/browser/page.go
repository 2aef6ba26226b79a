package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	. "github.com/asukul/thatbrowser/internal/logging"
)

const idleWindow = 500 * time.Millisecond

// RodPage adapts a rod page to the automation page capability set.
type RodPage struct {
	page       *rod.Page
	policy     URLPolicy
	navTimeout time.Duration
}

func newRodPage(page *rod.Page, policy URLPolicy, navTimeout time.Duration) *RodPage {
	return &RodPage{page: page, policy: policy, navTimeout: navTimeout}
}

// ID returns the page's target id.
func (p *RodPage) ID() string {
	return string(p.page.TargetID)
}

// Navigate checks url against the policy, loads it and waits briefly for
// the page to settle.
func (p *RodPage) Navigate(ctx context.Context, url string) error {
	if err := p.policy.Check(url); err != nil {
		return err
	}
	start := time.Now()
	pg := p.page.Context(ctx).Timeout(p.navTimeout)
	if err := pg.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := pg.WaitLoad(); err != nil {
		L_warn("browser: load wait failed", "url", url, "error", err)
	}
	if err := p.page.Context(ctx).Timeout(3 * time.Second).WaitStable(idleWindow); err != nil {
		L_trace("browser: page not idle (normal for SPAs)", "url", url)
	}
	L_debug("browser: navigated", "url", url, "took", time.Since(start).Round(time.Millisecond))
	return nil
}

// Evaluate calls a JavaScript function expression with args and returns
// its JSON-encoded result.
func (p *RodPage) Evaluate(ctx context.Context, script string, args ...any) (json.RawMessage, error) {
	res, err := p.page.Context(ctx).Evaluate(rod.Eval(script, args...).ByPromise())
	if err != nil {
		return nil, err
	}
	return json.Marshal(res.Value)
}

// CaptureImage returns a PNG of the viewport.
func (p *RodPage) CaptureImage(ctx context.Context) ([]byte, error) {
	return p.page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
}

// Attach enables the Runtime domain on the page session.
func (p *RodPage) Attach(ctx context.Context) error {
	return proto.RuntimeEnable{}.Call(p.page.Context(ctx))
}

// Send makes a raw CDP call on the page session.
func (p *RodPage) Send(ctx context.Context, method string, params any) (json.RawMessage, error) {
	res, err := p.page.Call(ctx, string(p.page.SessionID), method, params)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(res), nil
}

// Info returns the page's current URL and title.
func (p *RodPage) Info(ctx context.Context) (url, title string, err error) {
	info, err := p.page.Context(ctx).Info()
	if err != nil {
		return "", "", err
	}
	return info.URL, info.Title, nil
}

// Snapshot returns the page content as markdown for model context.
func (p *RodPage) Snapshot(ctx context.Context, maxLen int) (string, error) {
	url, title, err := p.Info(ctx)
	if err != nil {
		return "", fmt.Errorf("page info: %w", err)
	}
	html, err := p.page.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("page html: %w", err)
	}
	return Snapshot(html, url, title, maxLen)
}

// Close closes the tab.
func (p *RodPage) Close() error {
	return p.page.Close()
}
