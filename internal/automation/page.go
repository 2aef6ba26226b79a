package automation

import (
	"context"
	"encoding/json"
)

// Page is the live-page capability set the executor drives. Scripts passed
// to Evaluate are JavaScript function expressions called with args; the
// result is their JSON-encoded return value.
type Page interface {
	ID() string
	Navigate(ctx context.Context, url string) error
	Evaluate(ctx context.Context, script string, args ...any) (json.RawMessage, error)
	CaptureImage(ctx context.Context) ([]byte, error)
	// Attach enables the debug-protocol domains needed for input dispatch.
	Attach(ctx context.Context) error
	// Send makes a raw debug-protocol call on the page session.
	Send(ctx context.Context, method string, params any) (json.RawMessage, error)
}
