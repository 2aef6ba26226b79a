package llm

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	. "github.com/asukul/thatbrowser/internal/logging"
	. "github.com/asukul/thatbrowser/internal/metrics"
)

// listingBodyLimit truncates error bodies from model listing calls.
const listingBodyLimit = 200

// Client is the provider-agnostic chat client.
type Client struct {
	registry   *Registry
	httpClient *http.Client
	requests   *RequestManager
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the HTTP client used for every call. Its Timeout
// should be zero; timeouts come from the request lifecycle.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithRequestManager sets the live request set, DefaultRequests otherwise.
func WithRequestManager(m *RequestManager) ClientOption {
	return func(c *Client) { c.requests = m }
}

// NewClient creates a client that resolves providers through registry.
func NewClient(registry *Registry, opts ...ClientOption) *Client {
	c := &Client{
		registry:   registry,
		httpClient: &http.Client{},
		requests:   DefaultRequests,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Registry returns the provider registry.
func (c *Client) Registry() *Registry {
	return c.registry
}

// Abort cancels every in-flight call and returns how many were cancelled.
func (c *Client) Abort() int {
	return c.requests.AbortAll()
}

// InFlight returns the number of calls in flight.
func (c *Client) InFlight() int {
	return c.requests.Count()
}

func chatTimeout(cfg ProviderConfig) time.Duration {
	if cfg.TimeoutSeconds > 0 {
		return time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return DefaultChatTimeout
}

func (c *Client) resolve(provider string) (ProviderConfig, Backend, error) {
	cfg, err := c.registry.Resolve(provider)
	if err != nil {
		L_debug("llm: provider rejected", "provider", provider, "error", err)
		return cfg, nil, err
	}
	backend, _ := BackendFor(cfg.Kind)
	return cfg, backend, nil
}

// Chat sends msgs and waits for the full response. It makes exactly one
// HTTP request.
func (c *Client) Chat(ctx context.Context, msgs []ChatMessage, provider string) (*ChatResult, error) {
	cfg, backend, err := c.resolve(provider)
	if err != nil {
		return nil, err
	}

	h := c.requests.Begin(ctx, chatTimeout(cfg))
	defer h.Finish()

	start := time.Now()
	logDispatch(cfg, msgs, false)

	req, err := backend.NewChatRequest(h.Context(), cfg, msgs, false)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.transportError(h, cfg, "chat", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.transportError(h, cfg, "chat", err)
	}
	if ae := h.abortError(); ae != nil {
		return nil, abortOutcome(cfg, "chat", ae)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, backendFailure(cfg, "chat", resp.StatusCode, body, 0)
	}

	result, err := backend.ParseChat(body)
	if err != nil {
		MetricFailWithReason("llm", "chat", "decode")
		return nil, fmt.Errorf("%s: %w", cfg.Name, err)
	}
	finishResult(result, cfg)
	logCompletion(cfg, start, result)
	return result, nil
}

// ChatStream sends msgs and streams the response. The channel yields zero
// or more text events followed by exactly one Done or Err event, then is
// closed. Configuration errors are returned directly and no request is
// made. Callers must drain the channel.
func (c *Client) ChatStream(ctx context.Context, msgs []ChatMessage, provider string) (<-chan StreamEvent, error) {
	cfg, backend, err := c.resolve(provider)
	if err != nil {
		return nil, err
	}

	h := c.requests.Begin(ctx, chatTimeout(cfg))
	req, err := backend.NewChatRequest(h.Context(), cfg, msgs, true)
	if err != nil {
		h.Finish()
		return nil, err
	}

	logDispatch(cfg, msgs, true)
	ch := make(chan StreamEvent, 16)
	go c.runStream(h, cfg, backend, req, ch)
	return ch, nil
}

func (c *Client) runStream(h *Handle, cfg ProviderConfig, backend Backend, req *http.Request, ch chan<- StreamEvent) {
	defer close(ch)
	defer h.Finish()

	start := time.Now()
	fail := func(err error) {
		ch <- StreamEvent{Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		fail(c.transportError(h, cfg, "stream", err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		if ae := h.abortError(); ae != nil {
			fail(abortOutcome(cfg, "stream", ae))
			return
		}
		fail(backendFailure(cfg, "stream", resp.StatusCode, body, 0))
		return
	}

	dec := NewDecoder(backend.Dialect())
	var content strings.Builder
	dec.Pump(resp.Body, func(ev Event) {
		aborted := h.abortError()
		switch {
		case ev.Text != "":
			if aborted != nil {
				return
			}
			content.WriteString(ev.Text)
			ch <- StreamEvent{Text: ev.Text}

		case ev.Err != nil:
			if aborted != nil {
				fail(abortOutcome(cfg, "stream", aborted))
				return
			}
			L_warn("llm: stream failed", "provider", cfg.Name, "error", ev.Err)
			MetricFailWithReason("llm", "stream", "stream_error")
			fail(fmt.Errorf("%s: %w", cfg.Name, ev.Err))

		case ev.Done:
			if aborted != nil {
				fail(abortOutcome(cfg, "stream", aborted))
				return
			}
			meta := dec.Meta()
			result := &ChatResult{Content: content.String(), Model: meta.Model, Usage: meta.Usage}
			finishResult(result, cfg)
			logCompletion(cfg, start, result)
			ch <- StreamEvent{Done: true, Result: result}
		}
	})
}

// ListModels returns the provider's model ids, sorted. The model field of
// the provider config is not required.
func (c *Client) ListModels(ctx context.Context, provider string) ([]string, error) {
	cfg, err := c.registry.resolveForListing(provider)
	if err != nil {
		return nil, err
	}
	backend, _ := BackendFor(cfg.Kind)

	h := c.requests.Begin(ctx, DefaultDiagnosticTimeout)
	defer h.Finish()

	start := time.Now()
	L_debug("llm: listing models", "provider", cfg.Name)

	req, err := backend.NewModelsRequest(h.Context(), cfg)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.transportError(h, cfg, "models", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.transportError(h, cfg, "models", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, backendFailure(cfg, "models", resp.StatusCode, body, listingBodyLimit)
	}

	models, err := backend.ParseModels(body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cfg.Name, err)
	}
	L_debug("llm: models listed", "provider", cfg.Name, "count", len(models), "elapsed", time.Since(start).Round(time.Millisecond))
	MetricSuccess("llm", "models")
	return models, nil
}

// transportError classifies a failed round trip: cancellation wins, then
// a local kind that could not be dialed gets a ConnectionError with
// remediation text. Other failures
// keep the original error in the chain.
func (c *Client) transportError(h *Handle, cfg ProviderConfig, op string, err error) error {
	if ae := h.abortError(); ae != nil {
		return abortOutcome(cfg, op, ae)
	}
	MetricFailWithReason("llm", op, "connection")
	if cfg.Kind.Local() && IsDialError(err) {
		ce := &ConnectionError{
			Provider: cfg.Name,
			Kind:     cfg.Kind,
			BaseURL:  cfg.BaseURL,
			Hint:     localHint(cfg.Kind, cfg.BaseURL),
			Err:      err,
		}
		L_warn("llm: local provider unreachable", "provider", cfg.Name, "baseURL", cfg.BaseURL, "error", err)
		return ce
	}
	L_error("llm: request failed", "provider", cfg.Name, "error", err)
	return fmt.Errorf("%s request failed: %w", cfg.Name, err)
}

func abortOutcome(cfg ProviderConfig, op string, err error) error {
	L_warn("llm: request aborted", "provider", cfg.Name, "op", op, "error", err)
	MetricOutcome("llm", op, "aborted")
	return err
}

func backendFailure(cfg ProviderConfig, op string, status int, body []byte, truncate int) error {
	be := newBackendError(cfg.Name, status, body, truncate)
	L_error("llm: backend error", "provider", cfg.Name, "status", status, "type", be.Type)
	MetricFailWithReason("llm", op, string(be.Type))
	return be
}

func finishResult(result *ChatResult, cfg ProviderConfig) {
	result.Provider = cfg.Name
	if result.Model == "" {
		result.Model = cfg.Model
	}
	result.Usage.fill()
}

func logDispatch(cfg ProviderConfig, msgs []ChatMessage, stream bool) {
	L_info("llm: request dispatched", "provider", cfg.Name, "model", cfg.Model, "messages", len(msgs), "stream", stream)
	MetricInc("llm", "requests")
}

func logCompletion(cfg ProviderConfig, start time.Time, result *ChatResult) {
	elapsed := time.Since(start)
	args := []interface{}{
		"provider", cfg.Name,
		"elapsed", elapsed.Round(time.Millisecond).String(),
		"model", result.Model,
		"chars", len(result.Content),
	}
	if result.Usage != nil {
		args = append(args, "inputTokens", result.Usage.InputTokens, "outputTokens", result.Usage.OutputTokens)
		MetricAdd("llm", "tokens_in", int64(result.Usage.InputTokens))
		MetricAdd("llm", "tokens_out", int64(result.Usage.OutputTokens))
	}
	L_info("llm: request completed", args...)
	MetricDuration("llm", cfg.Name, elapsed)
	MetricSuccess("llm", "chat")
}
