// Package llm provides a provider-agnostic chat client over several AI
// backends, with streaming, cancellation and model listing.
package llm

import (
	"context"
	"io"
	"net/http"
)

// Kind identifies a backend implementation.
type Kind string

const (
	KindOpenAI     Kind = "openai"
	KindAnthropic  Kind = "anthropic"
	KindGemini     Kind = "gemini"
	KindOllama     Kind = "ollama"
	KindLMStudio   Kind = "lmstudio"
	KindOpenRouter Kind = "openrouter"
)

// Local reports whether the kind runs on the user's machine. Local kinds
// need no API key and get remediation text on connection failures.
func (k Kind) Local() bool {
	return k == KindOllama || k == KindLMStudio
}

// Role is the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Image is an inline image attached to a message.
type Image struct {
	MimeType string `json:"mimeType"` // "image/png", "image/jpeg", ...
	Data     string `json:"data"`     // base64, no data: prefix
}

// ChatMessage is one turn of a conversation. Role ordering is up to the
// caller and is passed through unvalidated.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	Image   *Image `json:"image,omitempty"`
}

// Usage is token accounting reported by a backend.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
	TotalTokens  int `json:"totalTokens"`
}

func (u *Usage) fill() {
	if u != nil && u.TotalTokens == 0 {
		u.TotalTokens = u.InputTokens + u.OutputTokens
	}
}

// ChatResult is the outcome of a chat call.
type ChatResult struct {
	Content  string `json:"content"`
	Model    string `json:"model"`
	Provider string `json:"provider"`
	Usage    *Usage `json:"usage,omitempty"`
}

// StreamEvent is one item of a streamed response. Exactly one of Text,
// Done or Err is meaningful; Done and Err are terminal.
type StreamEvent struct {
	Text   string
	Done   bool
	Result *ChatResult // set when Done
	Err    error
}

// ProviderConfig is the configuration for a single provider instance.
type ProviderConfig struct {
	Name           string `json:"name,omitempty"`
	Kind           Kind   `json:"kind,omitempty"`
	APIKey         string `json:"apiKey,omitempty"`
	BaseURL        string `json:"baseURL,omitempty"`
	Model          string `json:"model,omitempty"`
	MaxTokens      int    `json:"maxTokens,omitempty"`
	TimeoutSeconds int    `json:"timeoutSeconds,omitempty"`
}

// Backend shapes requests for one provider kind and reads its responses.
// The Client owns transport, lifecycle, logging and error enrichment.
type Backend interface {
	// NewChatRequest builds the HTTP request for a chat call.
	NewChatRequest(ctx context.Context, cfg ProviderConfig, msgs []ChatMessage, stream bool) (*http.Request, error)
	// ParseChat reads a non-streaming response body.
	ParseChat(body []byte) (*ChatResult, error)
	// Dialect is the streaming framing used by this backend.
	Dialect() Dialect
	// NewModelsRequest builds the model listing request.
	NewModelsRequest(ctx context.Context, cfg ProviderConfig) (*http.Request, error)
	// ParseModels reads a model listing body.
	ParseModels(body []byte) ([]string, error)
}

// Settings is the persistent key/value store provider configs are read from.
type Settings interface {
	Get(key string, out any) (bool, error)
	Set(key string, value any) error
}

func newJSONRequest(ctx context.Context, method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}
