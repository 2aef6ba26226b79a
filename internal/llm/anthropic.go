package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	anthropicVersion          = "2023-06-01"
	anthropicDefaultMaxTokens = 4096
)

// anthropicBackend speaks the Messages API. Request and response bodies
// use the SDK's types; transport stays with the Client so streaming and
// cancellation behave the same as every other backend.
type anthropicBackend struct{}

func (anthropicBackend) Dialect() Dialect {
	return AnthropicDialect
}

func anthropicURL(base, path string) string {
	base = strings.TrimRight(base, "/")
	if !strings.HasSuffix(base, "/v1") {
		base += "/v1"
	}
	return base + "/" + path
}

func (anthropicBackend) authorize(req *http.Request, cfg ProviderConfig) {
	req.Header.Set("x-api-key", cfg.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)
}

func (b anthropicBackend) NewChatRequest(ctx context.Context, cfg ProviderConfig, msgs []ChatMessage, stream bool) (*http.Request, error) {
	system, turns := convertAnthropicMessages(msgs)

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(cfg.Model),
		MaxTokens: int64(maxTokens),
		Messages:  turns,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	if stream {
		// the SDK carries streaming as a method, not a field
		if data, err = sjson.SetBytes(data, "stream", true); err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
	}

	req, err := newJSONRequest(ctx, http.MethodPost, anthropicURL(cfg.BaseURL, "messages"), bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	b.authorize(req, cfg)
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	return req, nil
}

// convertAnthropicMessages splits system text out of the turn list. Images
// become base64 image blocks ahead of the text in the same turn.
func convertAnthropicMessages(msgs []ChatMessage) (string, []anthropic.MessageParam) {
	var system []string
	turns := make([]anthropic.MessageParam, 0, len(msgs))

	for _, m := range msgs {
		if m.Role == RoleSystem {
			if m.Content != "" {
				system = append(system, m.Content)
			}
			continue
		}

		var blocks []anthropic.ContentBlockParamUnion
		if m.Image != nil {
			blocks = append(blocks, anthropic.NewImageBlockBase64(m.Image.MimeType, m.Image.Data))
		}
		if m.Content != "" || m.Image == nil {
			blocks = append(blocks, anthropic.NewTextBlock(m.Content))
		}

		if m.Role == RoleAssistant {
			turns = append(turns, anthropic.NewAssistantMessage(blocks...))
		} else {
			turns = append(turns, anthropic.NewUserMessage(blocks...))
		}
	}
	return strings.Join(system, "\n\n"), turns
}

func (anthropicBackend) ParseChat(body []byte) (*ChatResult, error) {
	var msg anthropic.Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	result := &ChatResult{
		Content: sb.String(),
		Model:   string(msg.Model),
	}
	if msg.Usage.InputTokens > 0 || msg.Usage.OutputTokens > 0 {
		result.Usage = &Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		}
	}
	return result, nil
}

func (b anthropicBackend) NewModelsRequest(ctx context.Context, cfg ProviderConfig) (*http.Request, error) {
	req, err := newJSONRequest(ctx, http.MethodGet, anthropicURL(cfg.BaseURL, "models?limit=1000"), nil)
	if err != nil {
		return nil, err
	}
	b.authorize(req, cfg)
	return req, nil
}

func (anthropicBackend) ParseModels(body []byte) ([]string, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("failed to decode model list: invalid JSON")
	}
	var ids []string
	for _, id := range gjson.GetBytes(body, "data.#.id").Array() {
		if s := id.String(); s != "" {
			ids = append(ids, s)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
