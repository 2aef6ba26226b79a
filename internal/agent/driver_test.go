package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asukul/thatbrowser/internal/automation"
	"github.com/asukul/thatbrowser/internal/config"
	"github.com/asukul/thatbrowser/internal/history"
	"github.com/asukul/thatbrowser/internal/llm"
)

type fakePage struct {
	mu        sync.Mutex
	navigated []string
	snapshot  string
}

func (p *fakePage) ID() string { return "page-1" }

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigated = append(p.navigated, url)
	return nil
}

func (p *fakePage) Evaluate(ctx context.Context, script string, args ...any) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func (p *fakePage) CaptureImage(ctx context.Context) ([]byte, error) {
	return nil, fmt.Errorf("no screen")
}

func (p *fakePage) Attach(ctx context.Context) error { return nil }

func (p *fakePage) Send(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func (p *fakePage) Info(ctx context.Context) (string, string, error) {
	return "https://shop.test/", "Shop", nil
}

func (p *fakePage) Snapshot(ctx context.Context, maxLen int) (string, error) {
	return p.snapshot, nil
}

func (p *fakePage) urls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.navigated...)
}

type fixture struct {
	client *llm.Client
	store  *history.Store
	driver *Driver
	deltas []string
}

func newFixture(t *testing.T, handler http.HandlerFunc) *fixture {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	settings, err := config.Open(filepath.Join(dir, "settings.json"))
	require.NoError(t, err)
	require.NoError(t, settings.Set(llm.SettingsProviders, map[string]llm.ProviderConfig{
		"test": {Kind: llm.KindOpenAI, APIKey: "k", BaseURL: srv.URL, Model: "gpt-test"},
	}))

	store, err := history.Open(filepath.Join(dir, "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f := &fixture{store: store}
	f.client = llm.NewClient(llm.NewRegistry(settings), llm.WithRequestManager(llm.NewRequestManager()))
	runner := automation.NewRunner(
		automation.NewExecutor(automation.ExecutorOptions{MaxWait: 20 * time.Millisecond}),
		automation.RunnerOptions{Settle: time.Microsecond, Linger: time.Microsecond},
	)
	f.driver = NewDriver(f.client, runner, store, Options{
		Provider: "test",
		OnDelta:  func(s string) { f.deltas = append(f.deltas, s) },
	})
	return f
}

func sseChunk(w http.ResponseWriter, text string) {
	data, _ := json.Marshal(map[string]any{
		"choices": []any{map[string]any{"delta": map[string]any{"content": text}}},
	})
	fmt.Fprintf(w, "data: %s\n\n", data)
	if fl, ok := w.(http.Flusher); ok {
		fl.Flush()
	}
}

func TestRunExecutesParsedCommands(t *testing.T) {
	var (
		mu     sync.Mutex
		prompt string
	)
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []struct {
				Content any `json:"content"`
			} `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if len(body.Messages) == 2 {
			mu.Lock()
			prompt = fmt.Sprint(body.Messages[1].Content)
			mu.Unlock()
		}
		w.Header().Set("Content-Type", "text/event-stream")
		sseChunk(w, "Opening the cart.\n")
		sseChunk(w, "NAVIGATE(\"https://shop.test/cart\")\nWAIT(1)\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})
	page := &fakePage{snapshot: "# Shop\nSocks"}

	run, err := f.driver.Run(context.Background(), page, "open my cart")
	require.NoError(t, err)
	assert.Equal(t, history.OutcomeDone, run.Outcome)
	assert.Equal(t, "Opening the cart.", run.Cleaned)
	assert.Equal(t, "https://shop.test/", run.URL)
	assert.Equal(t, "test", run.Provider)
	assert.Equal(t, []string{"https://shop.test/cart"}, page.urls())
	require.Len(t, run.Steps, 2)
	assert.Equal(t, automation.StatusDone, run.Steps[1].Status)
	assert.Equal(t, run.Response, strings.Join(f.deltas, ""))
	mu.Lock()
	assert.Contains(t, prompt, "Socks")
	assert.Contains(t, prompt, "Instruction: open my cart")
	mu.Unlock()

	saved, err := f.store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, history.OutcomeDone, saved.Outcome)
	assert.Len(t, saved.Steps, 2)
}

func TestRunProseOnlyIsDone(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		sseChunk(w, "Nothing to do here.")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})
	run, err := f.driver.Run(context.Background(), &fakePage{}, "hello")
	require.NoError(t, err)
	assert.Equal(t, history.OutcomeDone, run.Outcome)
	assert.Empty(t, run.Steps)
}

func TestRunAbortedChatIsStopped(t *testing.T) {
	var f *fixture
	f = newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		sseChunk(w, "Thinking")
		<-r.Context().Done()
	})
	f.driver.opts.OnDelta = func(string) { f.client.Abort() }
	page := &fakePage{}

	run, err := f.driver.Run(context.Background(), page, "buy socks")
	require.NoError(t, err)
	assert.Equal(t, history.OutcomeStopped, run.Outcome)
	assert.Empty(t, run.Steps)
	assert.Empty(t, page.urls())
}

func TestRunBackendErrorFails(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"Incorrect API key provided"}}`, http.StatusUnauthorized)
	})
	run, err := f.driver.Run(context.Background(), &fakePage{}, "x")
	require.Error(t, err)
	assert.Equal(t, history.OutcomeFailed, run.Outcome)
	assert.NotEmpty(t, run.Error)

	runs, err := f.store.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, history.OutcomeFailed, runs[0].Outcome)
}

func TestUserMessage(t *testing.T) {
	assert.Equal(t, "Instruction: go", userMessage("", "https://a.test", "go"))

	msg := userMessage("body", "https://a.test", "go")
	assert.True(t, strings.HasPrefix(msg, "Current page:\n\n"))
	assert.Contains(t, msg, "https://a.test")
	assert.Contains(t, msg, "\nbody\n<<<END_PAGE_CONTENT_")
	assert.True(t, strings.HasSuffix(msg, ">>>\n\nInstruction: go"))
}
