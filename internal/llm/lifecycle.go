package llm

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/asukul/thatbrowser/internal/logging"
	. "github.com/asukul/thatbrowser/internal/metrics"
)

const (
	// DefaultChatTimeout bounds chat and streaming calls.
	DefaultChatTimeout = 5 * time.Minute
	// DefaultDiagnosticTimeout bounds model listing and speech-to-text calls.
	DefaultDiagnosticTimeout = 20 * time.Second
)

// RequestManager tracks every in-flight network call so they can be
// cancelled together. The live set holds exactly the requests that have
// started and not yet settled.
type RequestManager struct {
	mu     sync.Mutex
	live   map[uint64]*Handle
	nextID atomic.Uint64
}

// NewRequestManager returns an empty manager.
func NewRequestManager() *RequestManager {
	return &RequestManager{live: make(map[uint64]*Handle)}
}

// DefaultRequests is the process-wide request set shared by chat and
// speech-to-text calls.
var DefaultRequests = NewRequestManager()

// AbortAll cancels every in-flight request on DefaultRequests.
func AbortAll() int {
	return DefaultRequests.AbortAll()
}

// InFlight returns the number of requests in flight on DefaultRequests.
func InFlight() int {
	return DefaultRequests.Count()
}

// Handle is the cancellation token for one network call.
type Handle struct {
	mgr     *RequestManager
	id      uint64
	ctx     context.Context
	cancel  context.CancelCauseFunc
	timer   *time.Timer
	start   time.Time
	settled bool // guarded by mgr.mu
}

// Begin registers a new request. A timeout of zero means no timeout. The
// handle's context is derived from parent, so cancelling parent cancels
// the request too.
func (m *RequestManager) Begin(parent context.Context, timeout time.Duration) *Handle {
	ctx, cancel := context.WithCancelCause(parent)
	h := &Handle{
		mgr:    m,
		id:     m.nextID.Add(1),
		ctx:    ctx,
		cancel: cancel,
		start:  time.Now(),
	}

	m.mu.Lock()
	m.live[h.id] = h
	n := len(m.live)
	if timeout > 0 {
		h.timer = time.AfterFunc(timeout, h.expire)
	}
	m.mu.Unlock()

	MetricSet("llm", "inflight", int64(n))
	return h
}

// Context is the context the network call must use.
func (h *Handle) Context() context.Context {
	return h.ctx
}

// Finish marks the request as settled. Safe to call more than once and
// after Cancel.
func (h *Handle) Finish() {
	if h.mgr.settle(h) {
		h.cancel(nil)
	}
}

// Cancel aborts this request.
func (h *Handle) Cancel() {
	if h.mgr.settle(h) {
		h.cancel(&AbortError{})
	}
}

func (h *Handle) expire() {
	if !h.mgr.settle(h) {
		return
	}
	elapsed := time.Since(h.start).Seconds()
	L_warn("llm: request timed out", "seconds", int(elapsed+0.5))
	MetricInc("llm", "timeouts")
	h.cancel(&AbortError{TimedOut: true, Elapsed: elapsed})
}

// Aborted returns the AbortError for a cancelled or timed-out handle, or
// nil while the request is still live.
func (h *Handle) Aborted() error {
	return h.abortError()
}

// abortError explains why the handle's context ended, or returns nil if it
// has not. Cancellation of the parent context counts as an abort.
func (h *Handle) abortError() error {
	if h.ctx.Err() == nil {
		return nil
	}
	cause := context.Cause(h.ctx)
	var ae *AbortError
	if errors.As(cause, &ae) {
		return ae
	}
	if errors.Is(cause, context.DeadlineExceeded) {
		return &AbortError{TimedOut: true, Elapsed: time.Since(h.start).Seconds()}
	}
	return &AbortError{}
}

// settle removes h from the live set. It returns true only for the call
// that actually removed it.
func (m *RequestManager) settle(h *Handle) bool {
	m.mu.Lock()
	if h.settled {
		m.mu.Unlock()
		return false
	}
	h.settled = true
	delete(m.live, h.id)
	n := len(m.live)
	if h.timer != nil {
		h.timer.Stop()
	}
	m.mu.Unlock()

	MetricSet("llm", "inflight", int64(n))
	return true
}

// Count returns the number of requests in flight.
func (m *RequestManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

// AbortAll cancels every live request, clears the set and returns how many
// were cancelled. With nothing in flight it does nothing and returns 0.
func (m *RequestManager) AbortAll() int {
	m.mu.Lock()
	handles := make([]*Handle, 0, len(m.live))
	for id, h := range m.live {
		h.settled = true
		if h.timer != nil {
			h.timer.Stop()
		}
		handles = append(handles, h)
		delete(m.live, id)
	}
	m.mu.Unlock()

	if len(handles) == 0 {
		return 0
	}
	for _, h := range handles {
		h.cancel(&AbortError{})
	}
	MetricSet("llm", "inflight", 0)
	MetricAdd("llm", "aborted", int64(len(handles)))
	L_warn("llm: aborted in-flight requests", "count", len(handles))
	return len(handles)
}
