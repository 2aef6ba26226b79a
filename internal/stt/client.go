package stt

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/tidwall/gjson"

	"github.com/asukul/thatbrowser/internal/llm"
	. "github.com/asukul/thatbrowser/internal/logging"
	. "github.com/asukul/thatbrowser/internal/metrics"
)

const errorBodyLimit = 200

// Transcription is the result of a Transcribe call.
type Transcription struct {
	Text string `json:"text"`
}

// Client talks to whisper endpoints. Calls are registered with the shared
// request manager so AbortAll cancels them alongside chat.
type Client struct {
	httpClient *http.Client
	requests   *llm.RequestManager
	timeout    time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRequestManager sets the live request set.
func WithRequestManager(m *llm.RequestManager) Option {
	return func(c *Client) { c.requests = m }
}

// WithTimeout overrides the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// NewClient returns a client using llm.DefaultRequests.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{},
		requests:   llm.DefaultRequests,
		timeout:    llm.DefaultDiagnosticTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListModels returns the speech models the endpoint offers, sorted.
func (c *Client) ListModels(ctx context.Context, cfg Settings) ([]string, error) {
	cfg, err := Resolve(cfg, false)
	if err != nil {
		return nil, err
	}

	h := c.requests.Begin(ctx, c.timeout)
	defer h.Finish()

	req, err := http.NewRequestWithContext(h.Context(), http.MethodGet, cfg.BaseURL+"/models", nil)
	if err != nil {
		return nil, err
	}
	authorize(req, cfg)

	body, err := c.do(h, cfg, "models", req)
	if err != nil {
		return nil, err
	}

	var models []string
	gjson.GetBytes(body, "data.#.id").ForEach(func(_, id gjson.Result) bool {
		name := id.String()
		lower := strings.ToLower(name)
		if strings.Contains(lower, "whisper") || strings.Contains(lower, "transcribe") {
			models = append(models, name)
		}
		return true
	})
	sort.Strings(models)
	L_debug("stt: models listed", "provider", cfg.Provider, "count", len(models))
	MetricSuccess("stt", "models")
	return models, nil
}

// Transcribe uploads audio and returns the recognised text. An empty
// mimeType is sniffed from the bytes.
func (c *Client) Transcribe(ctx context.Context, audio []byte, mimeType string, cfg Settings) (*Transcription, error) {
	cfg, err := Resolve(cfg, true)
	if err != nil {
		return nil, err
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("stt: no audio")
	}

	filename := "audio" + extensionFor(audio, mimeType)
	payload, contentType, err := buildForm(audio, filename, cfg)
	if err != nil {
		return nil, err
	}

	h := c.requests.Begin(ctx, c.timeout)
	defer h.Finish()

	start := time.Now()
	L_debug("stt: transcribing", "provider", cfg.Provider, "model", cfg.Model, "bytes", len(audio), "file", filename)

	req, err := http.NewRequestWithContext(h.Context(), http.MethodPost, cfg.BaseURL+"/audio/transcriptions", payload)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	authorize(req, cfg)

	body, err := c.do(h, cfg, "transcribe", req)
	if err != nil {
		return nil, err
	}

	text := gjson.GetBytes(body, "text")
	if !text.Exists() {
		MetricFailWithReason("stt", "transcribe", "decode")
		return nil, fmt.Errorf("stt: response has no text field")
	}
	elapsed := time.Since(start)
	L_info("stt: transcription complete", "provider", cfg.Provider, "chars", len(text.String()), "elapsed", elapsed.Round(time.Millisecond).String())
	MetricDuration("stt", "transcribe", elapsed)
	MetricSuccess("stt", "transcribe")
	return &Transcription{Text: strings.TrimSpace(text.String())}, nil
}

func (c *Client) do(h *llm.Handle, cfg Settings, op string, req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.transportError(h, cfg, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.transportError(h, cfg, op, err)
	}
	if ae := h.Aborted(); ae != nil {
		L_warn("stt: request aborted", "provider", cfg.Provider, "op", op)
		MetricOutcome("stt", op, "aborted")
		return nil, ae
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		be := llm.NewBackendError(cfg.Provider, resp.StatusCode, body, errorBodyLimit)
		L_error("stt: request failed", "provider", cfg.Provider, "status", resp.StatusCode, "type", be.Type)
		MetricFailWithReason("stt", op, string(be.Type))
		return nil, be
	}
	return body, nil
}

func (c *Client) transportError(h *llm.Handle, cfg Settings, op string, err error) error {
	if ae := h.Aborted(); ae != nil {
		L_warn("stt: request aborted", "provider", cfg.Provider, "op", op, "error", ae)
		MetricOutcome("stt", op, "aborted")
		return ae
	}
	MetricFailWithReason("stt", op, "connection")
	if cfg.Local() && llm.IsDialError(err) {
		L_warn("stt: local server unreachable", "baseURL", cfg.BaseURL, "error", err)
		return &llm.ConnectionError{
			Provider: cfg.Provider,
			BaseURL:  cfg.BaseURL,
			Hint: fmt.Sprintf("Speech server is not reachable at %s. Start a whisper server with an OpenAI-compatible API (for example faster-whisper-server) or change the STT base URL.",
				cfg.BaseURL),
			Err: err,
		}
	}
	L_error("stt: request failed", "provider", cfg.Provider, "error", err)
	return fmt.Errorf("%s request failed: %w", cfg.Provider, err)
}

func authorize(req *http.Request, cfg Settings) {
	if cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}
}

func buildForm(audio []byte, filename string, cfg Settings) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", fmt.Errorf("stt: create form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return nil, "", fmt.Errorf("stt: write audio: %w", err)
	}
	if err := w.WriteField("model", cfg.Model); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("response_format", "json"); err != nil {
		return nil, "", err
	}
	if cfg.Language != "" {
		if err := w.WriteField("language", cfg.Language); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// extensionFor picks the upload filename extension. Whisper servers use it
// to choose a decoder.
func extensionFor(audio []byte, mimeType string) string {
	if mimeType != "" {
		base := strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0])
		if m := mimetype.Lookup(base); m != nil && m.Extension() != "" {
			return m.Extension()
		}
	}
	if ext := mimetype.Detect(audio).Extension(); ext != "" {
		return ext
	}
	return ".webm"
}
