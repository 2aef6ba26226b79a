package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// memSettings is an in-memory Settings store.
type memSettings struct {
	mu     sync.Mutex
	values map[string]json.RawMessage
}

func newMemSettings(t *testing.T, values map[string]any) *memSettings {
	t.Helper()
	s := &memSettings{values: map[string]json.RawMessage{}}
	for k, v := range values {
		require.NoError(t, s.Set(k, v))
	}
	return s
}

func (s *memSettings) Get(key string, out any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.values[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, out)
}

func (s *memSettings) Set(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = data
	return nil
}

// testClient builds a client with a single provider pointing at baseURL.
func testClient(t *testing.T, name string, cfg ProviderConfig) *Client {
	t.Helper()
	settings := newMemSettings(t, map[string]any{
		SettingsProviders:       map[string]ProviderConfig{name: cfg},
		SettingsDefaultProvider: name,
	})
	return NewClient(NewRegistry(settings), WithRequestManager(NewRequestManager()))
}

func readBody(t *testing.T, r *http.Request) gjson.Result {
	t.Helper()
	data, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	require.True(t, gjson.ValidBytes(data), string(data))
	return gjson.ParseBytes(data)
}

func TestChatOpenAIEndToEnd(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		body := readBody(t, r)
		assert.Equal(t, "gpt-test", body.Get("model").String())
		assert.Equal(t, "user", body.Get("messages.0.role").String())
		assert.Equal(t, "hi", body.Get("messages.0.content").String())
		assert.False(t, body.Get("stream").Bool())

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"hello"}}],"model":"m","usage":{"prompt_tokens":3,"completion_tokens":1,"total_tokens":4}}`)
	}))
	defer srv.Close()

	c := testClient(t, "work", ProviderConfig{Kind: KindOpenAI, APIKey: "sk-test", BaseURL: srv.URL + "/v1", Model: "gpt-test"})
	result, err := c.Chat(context.Background(), []ChatMessage{{Role: RoleUser, Content: "hi"}}, "work")
	require.NoError(t, err)

	assert.Equal(t, &ChatResult{
		Content:  "hello",
		Model:    "m",
		Provider: "work",
		Usage:    &Usage{InputTokens: 3, OutputTokens: 1, TotalTokens: 4},
	}, result)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	assert.Equal(t, 0, c.InFlight())
}

func TestChatValidatesBeforeNetwork(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")

	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	tests := []struct {
		name  string
		cfg   ProviderConfig
		field string
	}{
		{"missing key", ProviderConfig{Kind: KindOpenAI, BaseURL: srv.URL, Model: "m"}, "apiKey"},
		{"missing model", ProviderConfig{Kind: KindAnthropic, APIKey: "k", BaseURL: srv.URL}, "model"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testClient(t, "p", tt.cfg)
			_, err := c.Chat(context.Background(), []ChatMessage{{Role: RoleUser, Content: "hi"}}, "p")
			var ce *ConfigurationError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.field, ce.Field)

			_, err = c.ChatStream(context.Background(), []ChatMessage{{Role: RoleUser, Content: "hi"}}, "p")
			assert.True(t, IsConfigurationError(err))
		})
	}
	assert.Equal(t, int32(0), atomic.LoadInt32(&hits))
}

func TestValidate(t *testing.T) {
	assert.Error(t, Validate(ProviderConfig{Kind: KindOpenAI, APIKey: "k", Model: "m"}))
	assert.Error(t, Validate(ProviderConfig{Kind: KindGemini, APIKey: "k", BaseURL: "http://x"}))
	assert.Error(t, Validate(ProviderConfig{Kind: KindGemini, BaseURL: "http://x", Model: "m"}))
	assert.NoError(t, Validate(ProviderConfig{Kind: KindOllama, BaseURL: "http://x", Model: "m"}))
	assert.NoError(t, Validate(ProviderConfig{Kind: KindLMStudio, BaseURL: "http://x", Model: "m"}))
}

func TestResolveDefaultsAndKinds(t *testing.T) {
	settings := newMemSettings(t, map[string]any{
		SettingsProviders: map[string]ProviderConfig{
			"ollama": {Model: "llama3"},
			"mine":   {Kind: KindOpenRouter, APIKey: "k", Model: "x/y"},
		},
		SettingsDefaultProvider: "mine",
	})
	reg := NewRegistry(settings)

	cfg, err := reg.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "mine", cfg.Name)
	assert.Equal(t, "https://openrouter.ai/api/v1", cfg.BaseURL)

	cfg, err = reg.Resolve("ollama")
	require.NoError(t, err)
	assert.Equal(t, KindOllama, cfg.Kind)
	assert.Equal(t, "http://localhost:11434", cfg.BaseURL)

	_, err = reg.Resolve("nope")
	assert.True(t, IsConfigurationError(err))

	names, err := reg.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"mine", "ollama"}, names)
}

func TestRegistrySave(t *testing.T) {
	settings := newMemSettings(t, map[string]any{
		SettingsProviders: map[string]ProviderConfig{"ollama": {Model: "llama3"}},
	})
	reg := NewRegistry(settings)

	require.NoError(t, reg.Save("work", ProviderConfig{Name: "ignored", Kind: KindAnthropic, APIKey: "k", Model: "claude"}))
	cfg, err := reg.Resolve("work")
	require.NoError(t, err)
	assert.Equal(t, "work", cfg.Name)
	assert.Equal(t, "https://api.anthropic.com", cfg.BaseURL)

	names, err := reg.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"ollama", "work"}, names)

	err = reg.Save("odd", ProviderConfig{Kind: "azure", Model: "m"})
	require.True(t, IsConfigurationError(err))
	assert.Contains(t, err.Error(), "anthropic, gemini, lmstudio, ollama, openai, openrouter")

	assert.Error(t, NewRegistry(nil).Save("openai", ProviderConfig{}))
}

func TestChatStreamOpenAI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := readBody(t, r)
		assert.True(t, body.Get("stream").Bool())

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"A\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"B\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := testClient(t, "oa", ProviderConfig{Kind: KindOpenAI, APIKey: "k", BaseURL: srv.URL, Model: "gpt"})
	ch, err := c.ChatStream(context.Background(), []ChatMessage{{Role: RoleUser, Content: "hi"}}, "oa")
	require.NoError(t, err)

	var events []StreamEvent
	for ev := range ch {
		events = append(events, ev)
	}
	require.Len(t, events, 3)
	assert.Equal(t, "A", events[0].Text)
	assert.Equal(t, "B", events[1].Text)
	assert.True(t, events[2].Done)
	assert.NoError(t, events[2].Err)
	require.NotNil(t, events[2].Result)
	assert.Equal(t, "AB", events[2].Result.Content)
	assert.Equal(t, "gpt", events[2].Result.Model)
	assert.Equal(t, "oa", events[2].Result.Provider)
	assert.Equal(t, 0, c.InFlight())
}

func TestChatStreamAbort(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"first\"}}]}\n\n")
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	c := testClient(t, "oa", ProviderConfig{Kind: KindOpenAI, APIKey: "k", BaseURL: srv.URL, Model: "gpt"})
	ch, err := c.ChatStream(context.Background(), []ChatMessage{{Role: RoleUser, Content: "hi"}}, "oa")
	require.NoError(t, err)

	first := <-ch
	require.Equal(t, "first", first.Text)
	assert.Equal(t, 1, c.InFlight())

	assert.Equal(t, 1, c.Abort())
	assert.Equal(t, 0, c.InFlight())

	var rest []StreamEvent
	for ev := range ch {
		rest = append(rest, ev)
	}
	require.Len(t, rest, 1)
	assert.False(t, rest[0].Done)
	assert.True(t, IsAbort(rest[0].Err))

	assert.Equal(t, 0, c.Abort())
}

// stallingServer accepts a request and holds it open until the client goes
// away or the test ends.
func stallingServer(t *testing.T, started chan<- struct{}) *httptest.Server {
	t.Helper()
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		if started != nil {
			close(started)
		}
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})
	return srv
}

func TestChatAbortNonStreaming(t *testing.T) {
	started := make(chan struct{})
	srv := stallingServer(t, started)

	c := testClient(t, "oa", ProviderConfig{Kind: KindOpenAI, APIKey: "k", BaseURL: srv.URL, Model: "gpt"})

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Chat(context.Background(), []ChatMessage{{Role: RoleUser, Content: "hi"}}, "oa")
		errCh <- err
	}()

	<-started
	assert.Equal(t, 1, c.Abort())

	select {
	case err := <-errCh:
		var ae *AbortError
		require.ErrorAs(t, err, &ae)
		assert.False(t, ae.TimedOut)
	case <-time.After(5 * time.Second):
		t.Fatal("chat did not return after abort")
	}
}

func TestChatTimeout(t *testing.T) {
	srv := stallingServer(t, nil)

	c := testClient(t, "slow", ProviderConfig{Kind: KindOllama, BaseURL: srv.URL, Model: "m", TimeoutSeconds: 1})
	_, err := c.Chat(context.Background(), []ChatMessage{{Role: RoleUser, Content: "hi"}}, "slow")

	var ae *AbortError
	require.ErrorAs(t, err, &ae)
	assert.True(t, ae.TimedOut)
	assert.Equal(t, 0, c.InFlight())
}

func closedPortURL(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return "http://" + addr
}

func TestLocalConnectionRefused(t *testing.T) {
	base := closedPortURL(t)

	tests := []struct {
		kind Kind
		app  string
		hint string
	}{
		{KindOllama, "Ollama", "ollama serve"},
		{KindLMStudio, "LM Studio", "start the local server"},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			c := testClient(t, "local", ProviderConfig{Kind: tt.kind, BaseURL: base, Model: "m"})
			_, err := c.Chat(context.Background(), []ChatMessage{{Role: RoleUser, Content: "hi"}}, "local")

			var ce *ConnectionError
			require.ErrorAs(t, err, &ce)
			assert.Contains(t, err.Error(), tt.app)
			assert.Contains(t, err.Error(), tt.hint)
			assert.Contains(t, err.Error(), base)
			assert.NotContains(t, err.Error(), "connection refused")
			assert.NotNil(t, errors.Unwrap(err))
		})
	}
}

func TestCloudConnectionFailurePassesThrough(t *testing.T) {
	c := testClient(t, "oa", ProviderConfig{Kind: KindOpenAI, APIKey: "k", BaseURL: closedPortURL(t), Model: "m"})
	_, err := c.Chat(context.Background(), []ChatMessage{{Role: RoleUser, Content: "hi"}}, "oa")
	require.Error(t, err)

	var ce *ConnectionError
	assert.False(t, errors.As(err, &ce))
	var opErr *net.OpError
	assert.True(t, errors.As(err, &opErr))
}

func TestLocalTruncatedBodyIsNotConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"message":`)
	}))
	defer srv.Close()

	c := testClient(t, "local", ProviderConfig{Kind: KindOllama, BaseURL: srv.URL, Model: "m"})
	_, err := c.Chat(context.Background(), []ChatMessage{{Role: RoleUser, Content: "hi"}}, "local")
	require.Error(t, err)

	var ce *ConnectionError
	assert.False(t, errors.As(err, &ce))
	assert.NotContains(t, err.Error(), "ollama serve")
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestBackendErrorCarriesStatusAndBody(t *testing.T) {
	long := strings.Repeat("x", 500)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprintf(w, `{"error":{"message":"rate limit reached %s"}}`, long)
	}))
	defer srv.Close()

	c := testClient(t, "oa", ProviderConfig{Kind: KindOpenAI, APIKey: "k", BaseURL: srv.URL, Model: "m"})

	_, err := c.Chat(context.Background(), []ChatMessage{{Role: RoleUser, Content: "hi"}}, "oa")
	var be *BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, 429, be.Status)
	assert.Equal(t, ErrorTypeRateLimit, be.Type)
	assert.Contains(t, be.Body, long)

	_, err = c.ListModels(context.Background(), "oa")
	require.ErrorAs(t, err, &be)
	assert.LessOrEqual(t, len(be.Body), listingBodyLimit+3)
}

func TestAnthropicShapingAndStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "ak", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))

		body := readBody(t, r)
		assert.Equal(t, "be brief", body.Get("system.0.text").String())
		assert.Equal(t, int64(anthropicDefaultMaxTokens), body.Get("max_tokens").Int())
		assert.Equal(t, "user", body.Get("messages.0.role").String())
		assert.Equal(t, "image", body.Get("messages.0.content.0.type").String())
		assert.Equal(t, "base64", body.Get("messages.0.content.0.source.type").String())
		assert.Equal(t, "image/png", body.Get("messages.0.content.0.source.media_type").String())
		assert.Equal(t, "what is this", body.Get("messages.0.content.1.text").String())
		assert.Equal(t, "assistant", body.Get("messages.1.role").String())

		if !body.Get("stream").Bool() {
			fmt.Fprint(w, `{"id":"msg_1","type":"message","role":"assistant","model":"claude-x","content":[{"type":"text","text":"a cat"}],"stop_reason":"end_turn","usage":{"input_tokens":5,"output_tokens":2}}`)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: message_start\ndata: {\"type\":\"message_start\",\"message\":{\"model\":\"claude-x\",\"usage\":{\"input_tokens\":5,\"output_tokens\":1}}}\n\n")
		fmt.Fprint(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"a \"}}\n\n")
		fmt.Fprint(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"cat\"}}\n\n")
		fmt.Fprint(w, "event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n")
	}))
	defer srv.Close()

	msgs := []ChatMessage{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "what is this", Image: &Image{MimeType: "image/png", Data: "iVBORw0KGgo="}},
		{Role: RoleAssistant, Content: "ok"},
	}
	c := testClient(t, "claude", ProviderConfig{Kind: KindAnthropic, APIKey: "ak", BaseURL: srv.URL, Model: "claude-x"})

	result, err := c.Chat(context.Background(), msgs, "claude")
	require.NoError(t, err)
	assert.Equal(t, "a cat", result.Content)
	assert.Equal(t, &Usage{InputTokens: 5, OutputTokens: 2, TotalTokens: 7}, result.Usage)

	ch, err := c.ChatStream(context.Background(), msgs, "claude")
	require.NoError(t, err)
	var text string
	var done *ChatResult
	for ev := range ch {
		require.NoError(t, ev.Err)
		text += ev.Text
		if ev.Done {
			done = ev.Result
		}
	}
	assert.Equal(t, "a cat", text)
	require.NotNil(t, done)
	assert.Equal(t, "claude-x", done.Model)
}

func TestGeminiShaping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "gk", r.Header.Get("x-goog-api-key"))
		assert.Equal(t, "/models/gemini-x:generateContent", r.URL.Path)

		body := readBody(t, r)
		assert.Equal(t, "be brief", body.Get("systemInstruction.parts.0.text").String())
		assert.Equal(t, "user", body.Get("contents.0.role").String())
		assert.Equal(t, "look", body.Get("contents.0.parts.0.text").String())
		assert.Equal(t, "image/jpeg", body.Get("contents.0.parts.1.inlineData.mimeType").String())
		assert.Equal(t, "model", body.Get("contents.1.role").String())

		fmt.Fprint(w, `{"candidates":[{"content":{"parts":[{"text":"he"},{"text":"llo"}],"role":"model"}}],"usageMetadata":{"promptTokenCount":4,"candidatesTokenCount":2,"totalTokenCount":6},"modelVersion":"gemini-x-001"}`)
	}))
	defer srv.Close()

	c := testClient(t, "g", ProviderConfig{Kind: KindGemini, APIKey: "gk", BaseURL: srv.URL, Model: "gemini-x"})
	result, err := c.Chat(context.Background(), []ChatMessage{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "look", Image: &Image{MimeType: "image/jpeg", Data: "/9j/"}},
		{Role: RoleAssistant, Content: "sure"},
	}, "g")
	require.NoError(t, err)
	assert.Equal(t, "hello", result.Content)
	assert.Equal(t, "gemini-x-001", result.Model)
	assert.Equal(t, 6, result.Usage.TotalTokens)
}

func TestOllamaShapingAndStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		body := readBody(t, r)
		assert.Equal(t, "abc=", body.Get("messages.0.images.0").String())
		assert.Equal(t, "describe", body.Get("messages.0.content").String())

		fmt.Fprintln(w, `{"model":"llava","message":{"role":"assistant","content":"a "},"done":false}`)
		fmt.Fprintln(w, `{"model":"llava","message":{"role":"assistant","content":"dog"},"done":false}`)
		fmt.Fprintln(w, `{"model":"llava","message":{"role":"assistant","content":""},"done":true,"prompt_eval_count":9,"eval_count":2}`)
	}))
	defer srv.Close()

	c := testClient(t, "ol", ProviderConfig{Kind: KindOllama, BaseURL: srv.URL, Model: "llava"})
	ch, err := c.ChatStream(context.Background(), []ChatMessage{
		{Role: RoleUser, Content: "describe", Image: &Image{MimeType: "image/png", Data: "abc="}},
	}, "ol")
	require.NoError(t, err)

	var chunks []string
	var done *ChatResult
	for ev := range ch {
		require.NoError(t, ev.Err)
		if ev.Text != "" {
			chunks = append(chunks, ev.Text)
		}
		if ev.Done {
			done = ev.Result
		}
	}
	assert.Equal(t, []string{"a ", "dog"}, chunks)
	require.NotNil(t, done)
	assert.Equal(t, "a dog", done.Content)
	assert.Equal(t, 9, done.Usage.InputTokens)
}

func TestListModelsPerBackend(t *testing.T) {
	tests := []struct {
		kind Kind
		path string
		body string
		want []string
	}{
		{KindOpenAI, "/models", `{"object":"list","data":[{"id":"gpt-b"},{"id":"gpt-a"}]}`, []string{"gpt-a", "gpt-b"}},
		{KindAnthropic, "/v1/models", `{"data":[{"id":"claude-b"},{"id":"claude-a"}],"has_more":false}`, []string{"claude-a", "claude-b"}},
		{KindOllama, "/api/tags", `{"models":[{"name":"qwen:7b"},{"name":"llama3:latest"}]}`, []string{"llama3:latest", "qwen:7b"}},
		{KindGemini, "/models", `{"models":[
			{"name":"models/gemini-b","supportedGenerationMethods":["generateContent","countTokens"]},
			{"name":"models/embedding-001","supportedGenerationMethods":["embedContent"]},
			{"name":"models/gemini-a","supportedGenerationMethods":["generateContent"]}]}`, []string{"gemini-a", "gemini-b"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, tt.path, r.URL.Path)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			// no model configured: listing does not need one
			c := testClient(t, "p", ProviderConfig{Kind: tt.kind, APIKey: "k", BaseURL: srv.URL})
			models, err := c.ListModels(context.Background(), "p")
			require.NoError(t, err)
			assert.Equal(t, tt.want, models)
		})
	}
}

func TestOpenRouterAttributionHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("HTTP-Referer"))
		assert.Equal(t, "thatbrowser", r.Header.Get("X-Title"))
		fmt.Fprint(w, `{"data":[]}`)
	}))
	defer srv.Close()

	c := testClient(t, "or", ProviderConfig{Kind: KindOpenRouter, APIKey: "k", BaseURL: srv.URL})
	models, err := c.ListModels(context.Background(), "or")
	require.NoError(t, err)
	assert.Empty(t, models)
}
