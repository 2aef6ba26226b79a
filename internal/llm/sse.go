package llm

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/tidwall/gjson"
)

// Dialect describes how one backend frames a streamed response. Field
// paths use gjson syntax.
type Dialect struct {
	Name string

	// DataPrefix means payload lines start with "data:"; other lines
	// (event:, id:, comments) are ignored.
	DataPrefix bool
	// Sentinel is a payload that ends the stream, e.g. "[DONE]".
	Sentinel string

	// TypePath locates the envelope type in typed dialects.
	TypePath string
	// TextType restricts text extraction to envelopes of this type.
	TextType string
	// StopType is the envelope type that ends the stream.
	StopType string
	// TextPath locates the text chunk. Array results are concatenated.
	TextPath string
	// DoneField is a boolean field that ends the stream when true.
	DoneField string

	// ErrorType and ErrorPath detect in-band errors. With an empty
	// ErrorType any payload carrying ErrorPath is an error.
	ErrorType string
	ErrorPath string

	// Meta picks model and usage details out of a payload.
	Meta func(payload gjson.Result, meta *StreamMeta)
}

// StreamMeta is what a stream reports about itself besides text.
type StreamMeta struct {
	Model string
	Usage *Usage
}

func (m *StreamMeta) usage() *Usage {
	if m.Usage == nil {
		m.Usage = &Usage{}
	}
	return m.Usage
}

// Event is one decoded stream item.
type Event struct {
	Text string
	Done bool
	Err  error
}

// OpenAIDialect covers OpenAI, OpenRouter and LM Studio chat completions.
var OpenAIDialect = Dialect{
	Name:       "openai",
	DataPrefix: true,
	Sentinel:   "[DONE]",
	TextPath:   "choices.0.delta.content",
	ErrorPath:  "error.message",
	Meta: func(p gjson.Result, m *StreamMeta) {
		if v := p.Get("model").String(); v != "" {
			m.Model = v
		}
		if u := p.Get("usage"); u.IsObject() {
			mu := m.usage()
			mu.InputTokens = int(u.Get("prompt_tokens").Int())
			mu.OutputTokens = int(u.Get("completion_tokens").Int())
			mu.TotalTokens = int(u.Get("total_tokens").Int())
		}
	},
}

// AnthropicDialect covers the Messages API event stream.
var AnthropicDialect = Dialect{
	Name:       "anthropic",
	DataPrefix: true,
	TypePath:   "type",
	TextType:   "content_block_delta",
	TextPath:   "delta.text",
	StopType:   "message_stop",
	ErrorType:  "error",
	ErrorPath:  "error.message",
	Meta: func(p gjson.Result, m *StreamMeta) {
		switch p.Get("type").String() {
		case "message_start":
			m.Model = p.Get("message.model").String()
			if u := p.Get("message.usage"); u.IsObject() {
				mu := m.usage()
				mu.InputTokens = int(u.Get("input_tokens").Int())
				mu.OutputTokens = int(u.Get("output_tokens").Int())
			}
		case "message_delta":
			if u := p.Get("usage.output_tokens"); u.Exists() {
				m.usage().OutputTokens = int(u.Int())
			}
		}
	},
}

// OllamaDialect covers Ollama's newline-delimited JSON chat stream.
var OllamaDialect = Dialect{
	Name:      "ollama",
	TextPath:  "message.content",
	DoneField: "done",
	ErrorPath: "error",
	Meta: func(p gjson.Result, m *StreamMeta) {
		if v := p.Get("model").String(); v != "" {
			m.Model = v
		}
		if p.Get("done").Bool() {
			mu := m.usage()
			mu.InputTokens = int(p.Get("prompt_eval_count").Int())
			mu.OutputTokens = int(p.Get("eval_count").Int())
		}
	},
}

// GeminiDialect covers streamGenerateContent with alt=sse. It has no
// sentinel; the stream ends at EOF.
var GeminiDialect = Dialect{
	Name:       "gemini",
	DataPrefix: true,
	TextPath:   "candidates.0.content.parts.#.text",
	ErrorPath:  "error.message",
	Meta: func(p gjson.Result, m *StreamMeta) {
		if v := p.Get("modelVersion").String(); v != "" {
			m.Model = v
		}
		if u := p.Get("usageMetadata"); u.IsObject() {
			mu := m.usage()
			mu.InputTokens = int(u.Get("promptTokenCount").Int())
			mu.OutputTokens = int(u.Get("candidatesTokenCount").Int())
			mu.TotalTokens = int(u.Get("totalTokenCount").Int())
		}
	},
}

// Decoder turns a byte stream into Events. Bytes may arrive split at any
// offset; only complete lines are parsed. After a Done or Err event the
// decoder emits nothing more.
type Decoder struct {
	dialect  Dialect
	buf      []byte
	finished bool
	meta     StreamMeta
}

// NewDecoder returns a decoder for the dialect.
func NewDecoder(d Dialect) *Decoder {
	return &Decoder{dialect: d}
}

// Meta returns model and usage seen so far.
func (d *Decoder) Meta() StreamMeta {
	return d.meta
}

// Finished reports whether a terminal event has been emitted.
func (d *Decoder) Finished() bool {
	return d.finished
}

// Feed consumes a chunk of bytes and returns the events completed by it.
func (d *Decoder) Feed(chunk []byte) []Event {
	if d.finished {
		return nil
	}
	d.buf = append(d.buf, chunk...)

	var events []Event
	for !d.finished {
		idx := bytes.IndexByte(d.buf, '\n')
		if idx < 0 {
			break
		}
		line := string(bytes.TrimRight(d.buf[:idx], "\r"))
		d.buf = d.buf[idx+1:]
		events = d.line(line, events)
	}
	if d.finished {
		d.buf = nil
	}
	return events
}

// Close flushes a final unterminated line and ends the stream. A stream
// that ends without an explicit terminator is complete.
func (d *Decoder) Close() []Event {
	if d.finished {
		return nil
	}
	var events []Event
	if len(d.buf) > 0 {
		line := string(bytes.TrimRight(d.buf, "\r"))
		d.buf = nil
		events = d.line(line, events)
	}
	if !d.finished {
		d.finished = true
		events = append(events, Event{Done: true})
	}
	return events
}

// Fail ends the stream with err.
func (d *Decoder) Fail(err error) []Event {
	if d.finished {
		return nil
	}
	d.finished = true
	d.buf = nil
	return []Event{{Err: err}}
}

// Pump reads r to the end, passing each event to emit. It returns after the
// terminal event has been emitted.
func (d *Decoder) Pump(r io.Reader, emit func(Event)) {
	chunk := make([]byte, 4096)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			for _, ev := range d.Feed(chunk[:n]) {
				emit(ev)
			}
			if d.finished {
				return
			}
		}
		if errors.Is(err, io.EOF) {
			for _, ev := range d.Close() {
				emit(ev)
			}
			return
		}
		if err != nil {
			for _, ev := range d.Fail(err) {
				emit(ev)
			}
			return
		}
	}
}

func (d *Decoder) line(line string, events []Event) []Event {
	payload := strings.TrimSpace(line)
	if payload == "" {
		return events
	}

	dl := &d.dialect
	if dl.DataPrefix {
		if !strings.HasPrefix(payload, "data:") {
			return events
		}
		payload = strings.TrimSpace(strings.TrimPrefix(payload, "data:"))
	}

	if dl.Sentinel != "" && payload == dl.Sentinel {
		d.finished = true
		return append(events, Event{Done: true})
	}
	if !gjson.Valid(payload) {
		return events
	}

	p := gjson.Parse(payload)
	if !p.IsObject() {
		return events
	}

	if dl.ErrorPath != "" {
		typeMatches := dl.ErrorType == "" || p.Get(dl.TypePath).String() == dl.ErrorType
		if e := p.Get(dl.ErrorPath); typeMatches && e.Exists() && e.String() != "" {
			d.finished = true
			return append(events, Event{Err: fmt.Errorf("%s stream error: %s", dl.Name, e.String())})
		}
	}

	if dl.Meta != nil {
		dl.Meta(p, &d.meta)
	}

	if dl.TextType == "" || p.Get(dl.TypePath).String() == dl.TextType {
		if text := extractText(p.Get(dl.TextPath)); text != "" {
			events = append(events, Event{Text: text})
		}
	}

	if (dl.StopType != "" && p.Get(dl.TypePath).String() == dl.StopType) ||
		(dl.DoneField != "" && p.Get(dl.DoneField).Bool()) {
		d.finished = true
		events = append(events, Event{Done: true})
	}
	return events
}

func extractText(r gjson.Result) string {
	if !r.Exists() {
		return ""
	}
	if r.IsArray() {
		var sb strings.Builder
		for _, part := range r.Array() {
			sb.WriteString(part.String())
		}
		return sb.String()
	}
	if r.Type != gjson.String {
		return ""
	}
	return r.String()
}
