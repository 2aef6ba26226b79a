package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
)

// ollamaChatRequest is the request body for Ollama chat API
type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Options  *ollamaOptions      `json:"options,omitempty"`
}

type ollamaOptions struct {
	NumPredict int `json:"num_predict,omitempty"`
}

// ollamaChatMessage carries images as bare base64 strings beside the text
type ollamaChatMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaChatResponse struct {
	Model           string            `json:"model"`
	Message         ollamaChatMessage `json:"message"`
	Done            bool              `json:"done"`
	PromptEvalCount int               `json:"prompt_eval_count"`
	EvalCount       int               `json:"eval_count"`
}

type ollamaTagsResponse struct {
	Models []struct {
		Name  string `json:"name"`
		Model string `json:"model"`
	} `json:"models"`
}

type ollamaBackend struct{}

func (ollamaBackend) Dialect() Dialect {
	return OllamaDialect
}

func (ollamaBackend) NewChatRequest(ctx context.Context, cfg ProviderConfig, msgs []ChatMessage, stream bool) (*http.Request, error) {
	body := ollamaChatRequest{
		Model:    cfg.Model,
		Messages: make([]ollamaChatMessage, 0, len(msgs)),
		Stream:   stream,
	}
	for _, m := range msgs {
		om := ollamaChatMessage{Role: string(m.Role), Content: m.Content}
		if m.Image != nil {
			om.Images = []string{m.Image.Data}
		}
		body.Messages = append(body.Messages, om)
	}
	if cfg.MaxTokens > 0 {
		body.Options = &ollamaOptions{NumPredict: cfg.MaxTokens}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	return newJSONRequest(ctx, http.MethodPost, joinURL(cfg.BaseURL, "api/chat"), bytes.NewReader(data))
}

func (ollamaBackend) ParseChat(body []byte) (*ChatResult, error) {
	var resp ollamaChatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	result := &ChatResult{
		Content: resp.Message.Content,
		Model:   resp.Model,
	}
	if resp.PromptEvalCount > 0 || resp.EvalCount > 0 {
		result.Usage = &Usage{InputTokens: resp.PromptEvalCount, OutputTokens: resp.EvalCount}
	}
	return result, nil
}

func (ollamaBackend) NewModelsRequest(ctx context.Context, cfg ProviderConfig) (*http.Request, error) {
	return newJSONRequest(ctx, http.MethodGet, joinURL(cfg.BaseURL, "api/tags"), nil)
}

func (ollamaBackend) ParseModels(body []byte) ([]string, error) {
	var tags ollamaTagsResponse
	if err := json.Unmarshal(body, &tags); err != nil {
		return nil, fmt.Errorf("failed to decode model list: %w", err)
	}
	ids := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		name := m.Name
		if name == "" {
			name = m.Model
		}
		if name != "" {
			ids = append(ids, name)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
