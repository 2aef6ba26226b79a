package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/asukul/thatbrowser/internal/config"
	"github.com/asukul/thatbrowser/internal/llm"
	. "github.com/asukul/thatbrowser/internal/logging"
	"github.com/asukul/thatbrowser/internal/metrics"
	"github.com/asukul/thatbrowser/internal/paths"
	"github.com/asukul/thatbrowser/internal/report"
)

const version = "0.1.0"

// Globals are flags shared by every command.
type Globals struct {
	Config      string `help:"Settings file (.json, .yaml or .toml). Defaults to ~/.thatbrowser/settings.json." type:"path"`
	Debug       bool   `help:"Enable debug logging."`
	Trace       bool   `help:"Enable trace logging."`
	MetricsAddr string `help:"Serve Prometheus metrics on this address, e.g. :9090." name:"metrics-addr"`
}

// CLI is the command tree.
type CLI struct {
	Globals

	Chat       ChatCmd          `cmd:"" help:"Chat with a provider."`
	Models     ModelsCmd        `cmd:"" help:"List a provider's chat models."`
	Provider   ProviderCmd      `cmd:"" help:"Show or edit configured providers."`
	STTModels  STTModelsCmd     `cmd:"" name:"stt-models" help:"List speech-to-text models."`
	Transcribe TranscribeCmd    `cmd:"" help:"Transcribe an audio file."`
	Parse      ParseCmd         `cmd:"" help:"Parse commands out of model output."`
	Exec       ExecCmd          `cmd:"" help:"Run a command script against a page."`
	Run        RunCmd           `cmd:"" help:"Ask a model to carry out an instruction on a page."`
	History    HistoryCmd       `cmd:"" help:"Show past runs."`
	Version    kong.VersionFlag `help:"Print the version."`
}

// App carries what commands share: the cancellation context and the
// settings store.
type App struct {
	Ctx      context.Context
	Settings *config.Store
}

// Client builds a chat client over the settings store.
func (a *App) Client() *llm.Client {
	return llm.NewClient(llm.NewRegistry(a.Settings))
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("thatbrowser"),
		kong.Description("AI-driven browser automation from the terminal."),
		kong.UsageOnError(),
		kong.Vars{"version": version},
	)

	level := LevelInfo
	switch {
	case cli.Trace:
		level = LevelTrace
	case cli.Debug:
		level = LevelDebug
	}
	Init(&Config{Level: level, TimeFormat: "15:04:05", ShowCaller: level >= LevelDebug})

	settingsPath := cli.Config
	if settingsPath == "" {
		p, err := paths.SettingsPath()
		if err != nil {
			L_fatal("cannot locate settings: %v", err)
		}
		settingsPath = p
	}
	settings, err := config.Open(settingsPath)
	if err != nil {
		L_fatal("failed to load settings: %v", err)
	}

	if cli.MetricsAddr != "" {
		go func() {
			L_info("metrics: serving", "addr", cli.MetricsAddr)
			if err := http.ListenAndServe(cli.MetricsAddr, metrics.Handler()); err != nil && !errors.Is(err, http.ErrServerClosed) {
				L_error("metrics: server stopped", "error", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleInterrupts(cancel)

	err = kctx.Run(&App{Ctx: ctx, Settings: settings})
	if err != nil {
		fmt.Fprintln(os.Stderr, report.Error(err))
		if llm.IsAbort(err) {
			os.Exit(130)
		}
		os.Exit(1)
	}
}

// handleInterrupts aborts in-flight requests and stops any run on the
// first interrupt, and exits on the second.
func handleInterrupts(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	<-sigs
	SetShuttingDown()
	n := llm.AbortAll()
	L_warn("interrupted, stopping", "aborted", n)
	cancel()

	<-sigs
	L_warn("interrupted again, exiting")
	os.Exit(130)
}
