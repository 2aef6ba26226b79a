package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/asukul/thatbrowser/internal/agent"
	"github.com/asukul/thatbrowser/internal/automation"
	"github.com/asukul/thatbrowser/internal/browser"
	"github.com/asukul/thatbrowser/internal/history"
	"github.com/asukul/thatbrowser/internal/llm"
	. "github.com/asukul/thatbrowser/internal/logging"
	"github.com/asukul/thatbrowser/internal/media"
	"github.com/asukul/thatbrowser/internal/report"
	"github.com/asukul/thatbrowser/internal/stt"
)

// ChatCmd sends one message.
type ChatCmd struct {
	Provider string   `help:"Provider name (default: defaultProvider)."`
	Stream   bool     `help:"Stream the response."`
	Image    string   `help:"Attach an image file." type:"existingfile"`
	System   string   `help:"System prompt."`
	Message  []string `arg:"" help:"Message text."`
}

func (c *ChatCmd) Run(app *App) error {
	var msgs []llm.ChatMessage
	if c.System != "" {
		msgs = append(msgs, llm.ChatMessage{Role: llm.RoleSystem, Content: c.System})
	}
	user := llm.ChatMessage{Role: llm.RoleUser, Content: strings.Join(c.Message, " ")}
	if c.Image != "" {
		data, err := os.ReadFile(c.Image)
		if err != nil {
			return err
		}
		img, err := media.Optimize(data, media.DefaultLimits)
		if err != nil {
			return fmt.Errorf("image: %w", err)
		}
		user.Image = &llm.Image{MimeType: img.MimeType, Data: img.Base64()}
	}
	msgs = append(msgs, user)

	client := app.Client()
	if !c.Stream {
		res, err := client.Chat(app.Ctx, msgs, c.Provider)
		if err != nil {
			return err
		}
		fmt.Println(res.Content)
		logUsage(res)
		return nil
	}

	events, err := client.ChatStream(app.Ctx, msgs, c.Provider)
	if err != nil {
		return err
	}
	var final error
	for ev := range events {
		switch {
		case ev.Err != nil:
			final = ev.Err
		case ev.Done:
			fmt.Println()
			logUsage(ev.Result)
		default:
			fmt.Print(ev.Text)
		}
	}
	return final
}

func logUsage(res *llm.ChatResult) {
	if res == nil || res.Usage == nil {
		return
	}
	L_debug("chat: usage", "model", res.Model, "input", res.Usage.InputTokens, "output", res.Usage.OutputTokens)
}

// ModelsCmd lists chat models.
type ModelsCmd struct {
	Provider string `help:"Provider name (default: defaultProvider)."`
}

func (c *ModelsCmd) Run(app *App) error {
	models, err := app.Client().ListModels(app.Ctx, c.Provider)
	if err != nil {
		return err
	}
	for _, m := range models {
		fmt.Println(m)
	}
	return nil
}

// ProviderCmd manages the providers section of the settings file.
type ProviderCmd struct {
	List ProviderListCmd `cmd:"" default:"1" help:"List configured providers."`
	Set  ProviderSetCmd  `cmd:"" help:"Add or update a provider."`
}

// ProviderListCmd prints provider names; the default is starred.
type ProviderListCmd struct{}

func (c *ProviderListCmd) Run(app *App) error {
	names, err := app.Client().Registry().Names()
	if err != nil {
		return err
	}
	var def string
	if _, err := app.Settings.Get(llm.SettingsDefaultProvider, &def); err != nil {
		return err
	}
	for _, name := range names {
		mark := " "
		if name == def {
			mark = "*"
		}
		fmt.Printf("%s %s\n", mark, name)
	}
	return nil
}

// ProviderSetCmd stores one provider entry.
type ProviderSetCmd struct {
	Name      string `arg:"" help:"Provider name. Used as the kind when --kind is empty."`
	Kind      string `help:"Backend kind: openai, openrouter, anthropic, gemini, ollama or lmstudio."`
	APIKey    string `name:"api-key" help:"API key. Falls back to the kind's environment variable."`
	BaseURL   string `name:"base-url" help:"Endpoint base URL."`
	Model     string `help:"Model to chat with."`
	MaxTokens int    `help:"Response token limit."`
	Timeout   int    `help:"Chat timeout in seconds."`
	Default   bool   `help:"Make this the default provider."`
}

func (c *ProviderSetCmd) Run(app *App) error {
	cfg := llm.ProviderConfig{
		Kind:           llm.Kind(strings.ToLower(c.Kind)),
		APIKey:         c.APIKey,
		BaseURL:        c.BaseURL,
		Model:          c.Model,
		MaxTokens:      c.MaxTokens,
		TimeoutSeconds: c.Timeout,
	}
	if err := app.Client().Registry().Save(c.Name, cfg); err != nil {
		return err
	}
	if c.Default {
		if err := app.Settings.Set(llm.SettingsDefaultProvider, c.Name); err != nil {
			return err
		}
	}
	fmt.Printf("saved provider %s\n", c.Name)
	return nil
}

func sttConfig(app *App, requireModel bool) (stt.Settings, error) {
	var cfg stt.Settings
	if _, err := app.Settings.Get(stt.SettingsKey, &cfg); err != nil {
		return cfg, err
	}
	return stt.Resolve(cfg, requireModel)
}

// STTModelsCmd lists speech-to-text models.
type STTModelsCmd struct{}

func (c *STTModelsCmd) Run(app *App) error {
	cfg, err := sttConfig(app, false)
	if err != nil {
		return err
	}
	models, err := stt.NewClient().ListModels(app.Ctx, cfg)
	if err != nil {
		return err
	}
	for _, m := range models {
		fmt.Println(m)
	}
	return nil
}

// TranscribeCmd transcribes an audio file.
type TranscribeCmd struct {
	File string `arg:"" type:"existingfile" help:"Audio file."`
	MIME string `name:"mime" help:"Audio MIME type (sniffed when empty)."`
}

func (c *TranscribeCmd) Run(app *App) error {
	cfg, err := sttConfig(app, true)
	if err != nil {
		return err
	}
	audio, err := os.ReadFile(c.File)
	if err != nil {
		return err
	}
	res, err := stt.NewClient().Transcribe(app.Ctx, audio, c.MIME, cfg)
	if err != nil {
		return err
	}
	fmt.Println(res.Text)
	return nil
}

func readInput(path string) (string, error) {
	if path == "" || path == "-" {
		data, err := io.ReadAll(os.Stdin)
		return string(data), err
	}
	data, err := os.ReadFile(path)
	return string(data), err
}

// ParseCmd prints the commands found in model output, then the prose.
type ParseCmd struct {
	File string `arg:"" optional:"" help:"File with model output (stdin when omitted)."`
}

func (c *ParseCmd) Run(app *App) error {
	text, err := readInput(c.File)
	if err != nil {
		return err
	}
	cmds := automation.Parse(text)
	if cmds == nil {
		cmds = []automation.Command{}
	}
	out, err := json.MarshalIndent(cmds, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	if cleaned := automation.Clean(text); cleaned != "" {
		fmt.Println()
		fmt.Println(cleaned)
	}
	return nil
}

func openPage(app *App, url string) (*browser.Manager, *browser.RodPage, error) {
	cfg := browser.DefaultBrowserConfig()
	if _, err := app.Settings.Get(browser.SettingsKey, &cfg); err != nil {
		return nil, nil, err
	}
	mgr, err := browser.NewManager(cfg)
	if err != nil {
		return nil, nil, err
	}
	page, err := mgr.NewPage(app.Ctx, url)
	if err != nil {
		mgr.Close()
		return nil, nil, err
	}
	return mgr, page, nil
}

func printStep(s automation.Step) {
	if s.Status.Terminal() {
		fmt.Println(report.Step(s))
	}
}

func newRunner() *automation.Runner {
	return automation.NewRunner(automation.NewExecutor(automation.ExecutorOptions{}), automation.RunnerOptions{OnStep: printStep})
}

// ExecCmd runs a command script against a page.
type ExecCmd struct {
	URL  string `required:"" help:"Page to open."`
	File string `arg:"" optional:"" help:"Command script (stdin when omitted)."`
}

func (c *ExecCmd) Run(app *App) error {
	text, err := readInput(c.File)
	if err != nil {
		return err
	}
	cmds := automation.Parse(text)
	if len(cmds) == 0 {
		return errors.New("no commands found")
	}

	mgr, page, err := openPage(app, c.URL)
	if err != nil {
		return err
	}
	defer mgr.Close()
	defer page.Close()

	rep, err := newRunner().Run(app.Ctx, page, cmds)
	if err != nil {
		return err
	}
	outcome := history.OutcomeDone
	switch {
	case rep.Stopped:
		outcome = history.OutcomeStopped
	case len(rep.Failed()) > 0:
		outcome = history.OutcomeFailed
	}
	fmt.Printf("\n%s in %s\n", report.Outcome(outcome), rep.Elapsed.Round(time.Millisecond))
	if outcome == history.OutcomeFailed {
		return fmt.Errorf("%d of %d commands failed", len(rep.Failed()), len(rep.Steps))
	}
	return nil
}

// RunCmd runs the full agent loop.
type RunCmd struct {
	URL         string   `required:"" help:"Page to open."`
	Provider    string   `help:"Provider name (default: defaultProvider)."`
	Screenshot  bool     `help:"Attach a screenshot of the page."`
	NoHistory   bool     `help:"Do not record the run."`
	Interactive bool     `short:"i" help:"Keep the page open and read more instructions from stdin. Provider edits to the settings file apply to the next instruction."`
	Instruction []string `arg:"" optional:"" help:"What to do."`
}

func (c *RunCmd) Run(app *App) error {
	first := strings.TrimSpace(strings.Join(c.Instruction, " "))
	if first == "" && !c.Interactive {
		return errors.New("an instruction is required unless --interactive is set")
	}

	var store *history.Store
	if !c.NoHistory {
		s, err := history.Open("")
		if err != nil {
			return err
		}
		defer s.Close()
		store = s
	}

	mgr, page, err := openPage(app, c.URL)
	if err != nil {
		return err
	}
	defer mgr.Close()
	defer page.Close()

	driver := agent.NewDriver(app.Client(), newRunner(), store, agent.Options{
		Provider:   c.Provider,
		Screenshot: c.Screenshot,
		OnDelta:    func(s string) { fmt.Print(s) },
	})

	if !c.Interactive {
		return runInstruction(app, driver, page, first)
	}

	if err := app.Settings.Watch(app.Ctx, func() {
		L_info("config: settings reloaded", "path", app.Settings.Path())
	}); err != nil {
		L_warn("config: cannot watch settings, edits need a restart", "error", err)
	}
	if first != "" {
		if err := runInstruction(app, driver, page, first); err != nil && !llm.IsAbort(err) {
			fmt.Fprintln(os.Stderr, report.Error(err))
		}
	}

	scanner := bufio.NewScanner(os.Stdin)
	for {
		if app.Ctx.Err() != nil {
			return app.Ctx.Err()
		}
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}
		if err := runInstruction(app, driver, page, line); err != nil {
			if llm.IsAbort(err) {
				return err
			}
			fmt.Fprintln(os.Stderr, report.Error(err))
		}
	}
}

func runInstruction(app *App, driver *agent.Driver, page agent.Page, instruction string) error {
	run, err := driver.Run(app.Ctx, page, instruction)
	fmt.Println()
	if run != nil {
		fmt.Printf("%s in %s\n", report.Outcome(run.Outcome), run.Duration.Round(time.Millisecond))
	}
	return err
}

// HistoryCmd lists runs or shows one.
type HistoryCmd struct {
	Limit int    `default:"20" help:"Number of runs to list."`
	ID    string `arg:"" optional:"" help:"Run id or id prefix to show."`
}

func (c *HistoryCmd) Run(app *App) error {
	store, err := history.Open("")
	if err != nil {
		return err
	}
	defer store.Close()

	if c.ID == "" {
		runs, err := store.ListRuns(app.Ctx, c.Limit)
		if err != nil {
			return err
		}
		for _, r := range runs {
			fmt.Println(report.RunLine(r))
		}
		return nil
	}

	id := c.ID
	if len(id) < 36 {
		// expand a prefix from the listing
		runs, err := store.ListRuns(app.Ctx, 1000)
		if err != nil {
			return err
		}
		var matches []string
		for _, r := range runs {
			if strings.HasPrefix(r.ID, id) {
				matches = append(matches, r.ID)
			}
		}
		sort.Strings(matches)
		switch len(matches) {
		case 0:
			return history.ErrNotFound
		case 1:
			id = matches[0]
		default:
			return fmt.Errorf("id prefix %q is ambiguous: %s", c.ID, strings.Join(matches, ", "))
		}
	}
	run, err := store.GetRun(app.Ctx, id)
	if err != nil {
		return err
	}
	fmt.Println(report.Run(run))
	return nil
}
