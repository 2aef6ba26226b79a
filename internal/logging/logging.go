// Package logging is the process-wide logger. It is meant to be
// dot-imported so call sites read L_info(...), L_warn(...) and so on.
//
// Every L_* function accepts three call styles:
//
//	L_info("browser: ready")
//	L_info("loaded %d steps", n)
//	L_info("agent: run finished", "id", id, "outcome", outcome)
//
// The "subsystem:" prefix of a message becomes its category in the sink.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

// Levels, least to most verbose.
const (
	LevelFatal = iota
	LevelError
	LevelWarn
	LevelInfo
	LevelDebug
	LevelTrace
)

// Config is applied by the first call to Init.
type Config struct {
	Level      int
	TimeFormat string
	ShowCaller bool
	Output     io.Writer // default os.Stderr
	JSON       bool
}

var (
	logger *log.Logger
	once   sync.Once

	// log.Logger has no trace level, so trace is gated here.
	verbosity atomic.Int32

	shuttingDown atomic.Bool
)

func init() {
	verbosity.Store(LevelInfo)
}

// Init builds the global logger. Only the first call has any effect;
// logging before Init uses the defaults.
func Init(cfg *Config) {
	once.Do(func() {
		c := Config{Level: LevelInfo, TimeFormat: "15:04:05", ShowCaller: true}
		if cfg != nil {
			c = *cfg
		}
		if c.Output == nil {
			c.Output = os.Stderr
		}
		opts := log.Options{
			ReportTimestamp: true,
			TimeFormat:      c.TimeFormat,
			ReportCaller:    c.ShowCaller,
			CallerOffset:    2, // emit, L_*
		}
		if c.JSON {
			opts.Formatter = log.JSONFormatter
		}
		logger = log.NewWithOptions(c.Output, opts)
		setLevel(c.Level)
	})
}

func get() *log.Logger {
	Init(nil)
	return logger
}

var charmLevels = map[int]log.Level{
	LevelFatal: log.ErrorLevel,
	LevelError: log.ErrorLevel,
	LevelWarn:  log.WarnLevel,
	LevelInfo:  log.InfoLevel,
	LevelDebug: log.DebugLevel,
	LevelTrace: log.DebugLevel,
}

func setLevel(level int) {
	lv, ok := charmLevels[level]
	if !ok {
		return
	}
	verbosity.Store(int32(level))
	logger.SetLevel(lv)
}

// SetLevel changes the level at runtime.
func SetLevel(level int) {
	get()
	setLevel(level)
}

// isFormat reports whether msg contains a printf verb, which decides
// between the printf and key/value call styles.
func isFormat(msg string) bool {
	for i := strings.IndexByte(msg, '%'); i >= 0 && i+1 < len(msg); {
		if next := msg[i+1]; next != '%' && strings.IndexByte("vsdtfgeopqxXbcUT+#", next) >= 0 {
			return true
		}
		j := strings.IndexByte(msg[i+2:], '%')
		if j < 0 {
			break
		}
		i += 2 + j
	}
	return false
}

func emit(level log.Level, msg string, args []any) {
	l := get()

	var kv []any
	switch {
	case len(args) == 0:
	case isFormat(msg):
		msg = fmt.Sprintf(msg, args...)
	default:
		kv = args
	}

	if level == log.FatalLevel {
		forward(level, msg, kv)
		flushSink(200 * time.Millisecond)
		l.Fatal(msg, kv...)
		return
	}

	switch level {
	case log.DebugLevel:
		l.Debug(msg, kv...)
	case log.InfoLevel:
		l.Info(msg, kv...)
	case log.WarnLevel:
		l.Warn(msg, kv...)
	default:
		l.Error(msg, kv...)
	}
	if level >= l.GetLevel() {
		forward(level, msg, kv)
	}
}

// L_trace is dropped unless the level is LevelTrace.
func L_trace(msg string, args ...any) {
	if verbosity.Load() < LevelTrace {
		return
	}
	emit(log.DebugLevel, msg, args)
}

func L_debug(msg string, args ...any) { emit(log.DebugLevel, msg, args) }

func L_info(msg string, args ...any) { emit(log.InfoLevel, msg, args) }

func L_warn(msg string, args ...any) { emit(log.WarnLevel, msg, args) }

func L_error(msg string, args ...any) { emit(log.ErrorLevel, msg, args) }

// L_fatal logs, flushes the sink and exits.
func L_fatal(msg string, args ...any) { emit(log.FatalLevel, msg, args) }

// L_elapsed logs at info level with an "elapsed" field since start.
func L_elapsed(start time.Time, msg string, args ...any) {
	emit(log.InfoLevel, msg, append(args, "elapsed", time.Since(start).Round(time.Millisecond).String()))
}

// SetShuttingDown marks the process as shutting down.
func SetShuttingDown() {
	if shuttingDown.CompareAndSwap(false, true) {
		L_debug("logging: shutting down")
	}
}

// IsShuttingDown reports whether SetShuttingDown was called.
func IsShuttingDown() bool {
	return shuttingDown.Load()
}
