package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// openAIBackend speaks the chat completions API. OpenAI, OpenRouter and
// LM Studio all share it.
type openAIBackend struct {
	kind Kind
}

func (b openAIBackend) Dialect() Dialect {
	return OpenAIDialect
}

func (b openAIBackend) authorize(req *http.Request, cfg ProviderConfig) {
	if cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}
	if b.kind == KindOpenRouter {
		// OpenRouter attribution
		req.Header.Set("HTTP-Referer", "https://github.com/asukul/thatbrowser")
		req.Header.Set("X-Title", "thatbrowser")
	}
}

func (b openAIBackend) NewChatRequest(ctx context.Context, cfg ProviderConfig, msgs []ChatMessage, stream bool) (*http.Request, error) {
	body := openai.ChatCompletionRequest{
		Model:    cfg.Model,
		Messages: convertOpenAIMessages(msgs),
		Stream:   stream,
	}
	if cfg.MaxTokens > 0 {
		body.MaxTokens = cfg.MaxTokens
	}
	if stream && b.kind != KindLMStudio {
		body.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := newJSONRequest(ctx, http.MethodPost, joinURL(cfg.BaseURL, "chat/completions"), bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	b.authorize(req, cfg)
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	return req, nil
}

// convertOpenAIMessages maps messages onto the flat role/content list. A
// message with an image becomes multipart: its text plus a data URL.
func convertOpenAIMessages(msgs []ChatMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.Image == nil {
			out = append(out, openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
			continue
		}

		var parts []openai.ChatMessagePart
		if m.Content != "" {
			parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: m.Content})
		}
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    fmt.Sprintf("data:%s;base64,%s", m.Image.MimeType, m.Image.Data),
				Detail: openai.ImageURLDetailAuto,
			},
		})
		out = append(out, openai.ChatCompletionMessage{Role: string(m.Role), MultiContent: parts})
	}
	return out
}

func (b openAIBackend) ParseChat(body []byte) (*ChatResult, error) {
	var resp openai.ChatCompletionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("response contained no choices")
	}

	result := &ChatResult{
		Content: resp.Choices[0].Message.Content,
		Model:   resp.Model,
	}
	if u := resp.Usage; u.PromptTokens > 0 || u.CompletionTokens > 0 || u.TotalTokens > 0 {
		result.Usage = &Usage{
			InputTokens:  u.PromptTokens,
			OutputTokens: u.CompletionTokens,
			TotalTokens:  u.TotalTokens,
		}
	}
	return result, nil
}

func (b openAIBackend) NewModelsRequest(ctx context.Context, cfg ProviderConfig) (*http.Request, error) {
	req, err := newJSONRequest(ctx, http.MethodGet, joinURL(cfg.BaseURL, "models"), nil)
	if err != nil {
		return nil, err
	}
	b.authorize(req, cfg)
	return req, nil
}

func (b openAIBackend) ParseModels(body []byte) ([]string, error) {
	var list openai.ModelsList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("failed to decode model list: %w", err)
	}
	ids := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		if m.ID != "" {
			ids = append(ids, m.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
