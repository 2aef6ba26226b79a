package llm

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"unicode/utf8"
)

// ErrorType categorizes backend errors for user messaging.
type ErrorType string

const (
	ErrorTypeUnknown         ErrorType = "unknown"
	ErrorTypeContextOverflow ErrorType = "context_overflow"
	ErrorTypeRateLimit       ErrorType = "rate_limit"
	ErrorTypeOverloaded      ErrorType = "overloaded"
	ErrorTypeAuth            ErrorType = "auth"
	ErrorTypeBilling         ErrorType = "billing"
	ErrorTypeTimeout         ErrorType = "timeout"
	ErrorTypeFormat          ErrorType = "format"
	ErrorTypeNotFound        ErrorType = "not_found"
)

// ConfigurationError is returned before any network I/O when a provider
// config is incomplete.
type ConfigurationError struct {
	Provider string
	Field    string
	Reason   string
}

func (e *ConfigurationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("provider %q is misconfigured: %s %s", e.Provider, e.Field, e.Reason)
	}
	return fmt.Sprintf("provider %q is misconfigured: %s", e.Provider, e.Reason)
}

// BackendError is a non-2xx response from a provider.
type BackendError struct {
	Provider string
	Status   int
	Body     string
	Type     ErrorType
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.Status, e.Body)
}

// UserMessage renders the error with remediation text for the user.
func (e *BackendError) UserMessage() string {
	return FormatErrorForUser(e.Error(), e.Type)
}

// NewBackendError builds a BackendError, truncating the body to truncate
// bytes when truncate is positive.
func NewBackendError(provider string, status int, body []byte, truncate int) *BackendError {
	return newBackendError(provider, status, body, truncate)
}

func newBackendError(provider string, status int, body []byte, truncate int) *BackendError {
	text := strings.TrimSpace(string(body))
	if truncate > 0 && len(text) > truncate {
		text = cutUTF8(text, truncate) + "..."
	}
	errType := ClassifyError(fmt.Sprintf("%d %s", status, string(body)))
	return &BackendError{Provider: provider, Status: status, Body: text, Type: errType}
}

// ConnectionError is a transport failure against a local provider,
// rewritten with instructions for starting it.
type ConnectionError struct {
	Provider string
	Kind     Kind
	BaseURL  string
	Hint     string
	Err      error
}

func (e *ConnectionError) Error() string {
	return e.Hint
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

func localHint(kind Kind, baseURL string) string {
	switch kind {
	case KindOllama:
		return fmt.Sprintf("Ollama is not running at %s. Start it with `ollama serve` (install from https://ollama.com), then pull a model with `ollama pull <model>`.", baseURL)
	case KindLMStudio:
		return fmt.Sprintf("LM Studio is not reachable at %s. Open LM Studio, load a model and start the local server from the Developer tab (or run `lms server start`).", baseURL)
	default:
		return fmt.Sprintf("local server at %s is not reachable", baseURL)
	}
}

// AbortError marks a request that was cancelled, either by AbortAll or by
// its timeout. It is a distinct outcome, not a failure.
type AbortError struct {
	TimedOut bool
	Elapsed  float64 // seconds, set on timeout
}

func (e *AbortError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("request timed out after %.0fs", e.Elapsed)
	}
	return "request aborted"
}

// IsAbort reports whether err is an AbortError.
func IsAbort(err error) bool {
	var ae *AbortError
	return errors.As(err, &ae)
}

// IsConfigurationError reports whether err is a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// message fragments per error type, checked in order of specificity
var classifiers = []struct {
	typ      ErrorType
	patterns []string
}{
	{ErrorTypeContextOverflow, []string{
		"context size has been exceeded", // LM Studio
		"context_length_exceeded",        // OpenAI / OpenRouter
		"context length exceeded",
		"maximum context length",
		"prompt is too long",
		"request_too_large",
		"exceeds model context window",
		"input token count",
	}},
	{ErrorTypeRateLimit, []string{
		"429",
		"rate_limit",
		"rate limit",
		"too many requests",
		"quota exceeded",
		"resource_exhausted",
		"resource has been exhausted",
		"requests per minute",
	}},
	{ErrorTypeOverloaded, []string{
		"overloaded",
		"server is busy",
		"temporarily unavailable",
		"503",
		"529",
	}},
	{ErrorTypeBilling, []string{
		"402",
		"payment required",
		"insufficient credits",
		"credit balance",
		"insufficient_quota",
		"billing",
	}},
	{ErrorTypeAuth, []string{
		"401",
		"403",
		"invalid api key",
		"invalid_api_key",
		"incorrect api key",
		"api key not valid",
		"unauthorized",
		"permission_denied",
		"authentication",
	}},
	{ErrorTypeTimeout, []string{
		"408",
		"504",
		"timeout",
		"timed out",
		"deadline exceeded",
	}},
	{ErrorTypeNotFound, []string{
		"404",
		"model not found",
		"not_found_error",
		"does not exist",
	}},
	{ErrorTypeFormat, []string{
		"invalid_request_error",
		"invalid_argument",
		"roles must alternate",
		"malformed",
	}},
}

// ClassifyError determines the error type from an error message.
func ClassifyError(msg string) ErrorType {
	if msg == "" {
		return ErrorTypeUnknown
	}
	lower := strings.ToLower(msg)
	for _, c := range classifiers {
		for _, p := range c.patterns {
			if strings.Contains(lower, p) {
				return c.typ
			}
		}
	}
	return ErrorTypeUnknown
}

// FormatErrorForUser returns a user-facing message for an error type.
func FormatErrorForUser(msg string, errType ErrorType) string {
	switch errType {
	case ErrorTypeContextOverflow:
		return "The page context is too large for this model. Try a model with a larger context window."
	case ErrorTypeRateLimit:
		return "Rate limited by the provider. Wait a moment and try again."
	case ErrorTypeOverloaded:
		return "The AI service is temporarily overloaded. Please try again in a moment."
	case ErrorTypeAuth:
		return "Authentication failed. Check the provider's API key."
	case ErrorTypeBilling:
		return "Billing issue with the AI provider. Check your account credits/plan."
	case ErrorTypeTimeout:
		return "Request timed out. Please try again."
	case ErrorTypeNotFound:
		return "The provider does not know this model or endpoint. Check the model name and base URL."
	case ErrorTypeFormat:
		return fmt.Sprintf("The provider rejected the request: %s", msg)
	default:
		return fmt.Sprintf("LLM error: %s", msg)
	}
}

// cutUTF8 shortens s to at most n bytes without splitting a rune.
func cutUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// IsDialError reports whether err failed while connecting, before any
// response arrived.
func IsDialError(err error) bool {
	var oe *net.OpError
	return errors.As(err, &oe) && oe.Op == "dial"
}
