package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
)

type geminiBlob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiPart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *geminiBlob `json:"inlineData,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int `json:"maxOutputTokens,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

// geminiBackend speaks generateContent on the Generative Language API.
type geminiBackend struct{}

func (geminiBackend) Dialect() Dialect {
	return GeminiDialect
}

func geminiModelPath(model string) string {
	return "models/" + url.PathEscape(strings.TrimPrefix(model, "models/"))
}

func (geminiBackend) NewChatRequest(ctx context.Context, cfg ProviderConfig, msgs []ChatMessage, stream bool) (*http.Request, error) {
	body := convertGeminiMessages(msgs)
	if cfg.MaxTokens > 0 {
		body.GenerationConfig = &geminiGenerationConfig{MaxOutputTokens: cfg.MaxTokens}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	endpoint := joinURL(cfg.BaseURL, geminiModelPath(cfg.Model)+":generateContent")
	if stream {
		endpoint = joinURL(cfg.BaseURL, geminiModelPath(cfg.Model)+":streamGenerateContent?alt=sse")
	}
	req, err := newJSONRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-goog-api-key", cfg.APIKey)
	return req, nil
}

// convertGeminiMessages builds the contents array. "assistant" turns are
// renamed "model" and system text moves to systemInstruction.
func convertGeminiMessages(msgs []ChatMessage) geminiRequest {
	var req geminiRequest
	var system []geminiPart

	for _, m := range msgs {
		if m.Role == RoleSystem {
			if m.Content != "" {
				system = append(system, geminiPart{Text: m.Content})
			}
			continue
		}

		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		var parts []geminiPart
		if m.Content != "" || m.Image == nil {
			parts = append(parts, geminiPart{Text: m.Content})
		}
		if m.Image != nil {
			parts = append(parts, geminiPart{InlineData: &geminiBlob{MimeType: m.Image.MimeType, Data: m.Image.Data}})
		}
		req.Contents = append(req.Contents, geminiContent{Role: role, Parts: parts})
	}
	if len(system) > 0 {
		req.SystemInstruction = &geminiContent{Parts: system}
	}
	return req
}

func (geminiBackend) ParseChat(body []byte) (*ChatResult, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.New("failed to decode response: invalid JSON")
	}
	root := gjson.ParseBytes(body)
	if !root.Get("candidates.0").Exists() {
		if reason := root.Get("promptFeedback.blockReason").String(); reason != "" {
			return nil, fmt.Errorf("prompt blocked: %s", reason)
		}
		return nil, errors.New("response contained no candidates")
	}

	result := &ChatResult{
		Content: extractText(root.Get("candidates.0.content.parts.#.text")),
		Model:   root.Get("modelVersion").String(),
	}
	if u := root.Get("usageMetadata"); u.IsObject() {
		result.Usage = &Usage{
			InputTokens:  int(u.Get("promptTokenCount").Int()),
			OutputTokens: int(u.Get("candidatesTokenCount").Int()),
			TotalTokens:  int(u.Get("totalTokenCount").Int()),
		}
	}
	return result, nil
}

func (geminiBackend) NewModelsRequest(ctx context.Context, cfg ProviderConfig) (*http.Request, error) {
	req, err := newJSONRequest(ctx, http.MethodGet, joinURL(cfg.BaseURL, "models?pageSize=1000"), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-goog-api-key", cfg.APIKey)
	return req, nil
}

// ParseModels keeps models that can generate content and strips the
// "models/" prefix.
func (geminiBackend) ParseModels(body []byte) ([]string, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.New("failed to decode model list: invalid JSON")
	}
	var ids []string
	for _, m := range gjson.GetBytes(body, "models").Array() {
		supported := false
		for _, method := range m.Get("supportedGenerationMethods").Array() {
			if method.String() == "generateContent" {
				supported = true
				break
			}
		}
		if !supported {
			continue
		}
		if name := strings.TrimPrefix(m.Get("name").String(), "models/"); name != "" {
			ids = append(ids, name)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
