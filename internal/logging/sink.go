package logging

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Sink receives a copy of every emitted log line. level is one of
// "debug", "info", "warn", "error". category is the subsystem prefix of the
// message ("llm", "automation", ...) or empty.
type Sink func(level, category, msg string, data map[string]any)

type sinkEvent struct {
	level    string
	category string
	msg      string
	data     map[string]any
}

const sinkQueueSize = 256

var (
	sinkMu    sync.RWMutex
	sinkFn    Sink
	sinkQueue chan sinkEvent
	sinkDone  chan struct{}
)

// SetSink installs fn as the logging sink, replacing any previous one.
// Passing nil removes it. Delivery happens on a separate goroutine; when the
// sink falls behind, events are dropped rather than blocking the caller.
func SetSink(fn Sink) {
	sinkMu.Lock()
	defer sinkMu.Unlock()

	if sinkQueue != nil {
		close(sinkQueue)
		<-sinkDone
		sinkQueue = nil
		sinkDone = nil
	}
	sinkFn = fn
	if fn == nil {
		return
	}

	q := make(chan sinkEvent, sinkQueueSize)
	done := make(chan struct{})
	sinkQueue = q
	sinkDone = done
	go drainSink(fn, q, done)
}

func drainSink(fn Sink, q <-chan sinkEvent, done chan<- struct{}) {
	defer close(done)
	for ev := range q {
		deliver(fn, ev)
	}
}

func deliver(fn Sink, ev sinkEvent) {
	defer func() {
		_ = recover()
	}()
	fn(ev.level, ev.category, ev.msg, ev.data)
}

// flushSink waits briefly for queued events to drain. Used before exit.
func flushSink(max time.Duration) {
	sinkMu.RLock()
	q := sinkQueue
	sinkMu.RUnlock()
	if q == nil {
		return
	}
	deadline := time.Now().Add(max)
	for len(q) > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
}

func forward(level log.Level, msg string, keyvals []interface{}) {
	sinkMu.RLock()
	defer sinkMu.RUnlock()
	if sinkQueue == nil {
		return
	}

	category, text := splitCategory(msg)
	ev := sinkEvent{
		level:    levelName(level),
		category: category,
		msg:      text,
		data:     keyvalsToMap(keyvals),
	}
	select {
	case sinkQueue <- ev:
	default:
	}
}

func levelName(level log.Level) string {
	switch level {
	case log.DebugLevel:
		return "debug"
	case log.WarnLevel:
		return "warn"
	case log.ErrorLevel, log.FatalLevel:
		return "error"
	default:
		return "info"
	}
}

// splitCategory turns "llm: request dispatched" into ("llm", "request dispatched").
func splitCategory(msg string) (string, string) {
	idx := strings.Index(msg, ": ")
	if idx <= 0 || idx > 24 {
		return "", msg
	}
	cat := msg[:idx]
	if strings.ContainsAny(cat, " \t") {
		return "", msg
	}
	return cat, msg[idx+2:]
}

func keyvalsToMap(keyvals []interface{}) map[string]any {
	if len(keyvals) == 0 {
		return nil
	}
	data := make(map[string]any, len(keyvals)/2)
	for i := 0; i < len(keyvals); i += 2 {
		key := fmt.Sprint(keyvals[i])
		if i+1 < len(keyvals) {
			data[key] = keyvals[i+1]
		} else {
			data[key] = nil
		}
	}
	return data
}
