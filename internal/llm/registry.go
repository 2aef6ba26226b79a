package llm

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"dario.cat/mergo"

	. "github.com/asukul/thatbrowser/internal/logging"
)

// Settings keys read by the registry.
const (
	SettingsProviders       = "providers"
	SettingsDefaultProvider = "defaultProvider"
)

// backends is the dispatch table, one entry per kind.
var backends = map[Kind]Backend{
	KindOpenAI:     openAIBackend{kind: KindOpenAI},
	KindOpenRouter: openAIBackend{kind: KindOpenRouter},
	KindLMStudio:   openAIBackend{kind: KindLMStudio},
	KindAnthropic:  anthropicBackend{},
	KindGemini:     geminiBackend{},
	KindOllama:     ollamaBackend{},
}

// kindDefaults are merged under a provider's own settings.
var kindDefaults = map[Kind]ProviderConfig{
	KindOpenAI:     {BaseURL: "https://api.openai.com/v1"},
	KindOpenRouter: {BaseURL: "https://openrouter.ai/api/v1"},
	KindLMStudio:   {BaseURL: "http://localhost:1234/v1"},
	KindAnthropic:  {BaseURL: "https://api.anthropic.com"},
	KindGemini:     {BaseURL: "https://generativelanguage.googleapis.com/v1beta"},
	KindOllama:     {BaseURL: "http://localhost:11434"},
}

// apiKeyEnv is consulted when a cloud provider has no key in settings.
var apiKeyEnv = map[Kind]string{
	KindOpenAI:     "OPENAI_API_KEY",
	KindOpenRouter: "OPENROUTER_API_KEY",
	KindAnthropic:  "ANTHROPIC_API_KEY",
	KindGemini:     "GEMINI_API_KEY",
}

// BackendFor returns the backend implementation for a kind.
func BackendFor(kind Kind) (Backend, bool) {
	b, ok := backends[kind]
	return b, ok
}

// Kinds lists the supported provider kinds.
func Kinds() []Kind {
	kinds := make([]Kind, 0, len(backends))
	for k := range backends {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Registry resolves provider names against the settings store.
type Registry struct {
	settings Settings
}

// NewRegistry creates a registry over settings. settings may be nil, in
// which case only bare kind names resolve.
func NewRegistry(settings Settings) *Registry {
	return &Registry{settings: settings}
}

func (r *Registry) providers() (map[string]ProviderConfig, error) {
	providers := map[string]ProviderConfig{}
	if r.settings == nil {
		return providers, nil
	}
	if _, err := r.settings.Get(SettingsProviders, &providers); err != nil {
		return nil, fmt.Errorf("failed to read providers: %w", err)
	}
	return providers, nil
}

// Names returns the configured provider names, sorted.
func (r *Registry) Names() ([]string, error) {
	providers, err := r.providers()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Save stores cfg under name. An empty kind means name is the kind, so
// either must be one of Kinds.
func (r *Registry) Save(name string, cfg ProviderConfig) error {
	if r.settings == nil {
		return fmt.Errorf("no settings store")
	}
	kind := cfg.Kind
	if kind == "" {
		kind = Kind(name)
	}
	if _, ok := backends[kind]; !ok {
		want := make([]string, 0, len(backends))
		for _, k := range Kinds() {
			want = append(want, string(k))
		}
		return &ConfigurationError{Provider: name, Field: "kind", Reason: fmt.Sprintf("%q is not one of %s", kind, strings.Join(want, ", "))}
	}
	providers, err := r.providers()
	if err != nil {
		return err
	}
	cfg.Name = ""
	providers[name] = cfg
	if err := r.settings.Set(SettingsProviders, providers); err != nil {
		return err
	}
	L_info("llm: provider saved", "provider", name, "kind", kind)
	return nil
}

// Resolve returns the complete config for name, or for the default
// provider when name is empty. The config is validated for chat use.
func (r *Registry) Resolve(name string) (ProviderConfig, error) {
	cfg, err := r.lookup(name)
	if err != nil {
		return cfg, err
	}
	return cfg, Validate(cfg)
}

// resolveForListing is Resolve without the model requirement.
func (r *Registry) resolveForListing(name string) (ProviderConfig, error) {
	cfg, err := r.lookup(name)
	if err != nil {
		return cfg, err
	}
	if cfg.Model == "" {
		cfg.Model = "-"
	}
	err = Validate(cfg)
	cfg.Model = ""
	return cfg, err
}

func (r *Registry) lookup(name string) (ProviderConfig, error) {
	providers, err := r.providers()
	if err != nil {
		return ProviderConfig{}, err
	}

	if name == "" && r.settings != nil {
		if _, err := r.settings.Get(SettingsDefaultProvider, &name); err != nil {
			return ProviderConfig{}, fmt.Errorf("failed to read default provider: %w", err)
		}
	}
	if name == "" && len(providers) == 1 {
		for only := range providers {
			name = only
		}
	}
	if name == "" {
		return ProviderConfig{}, &ConfigurationError{Reason: "no provider selected and no defaultProvider set"}
	}

	cfg, ok := providers[name]
	if !ok {
		if _, known := backends[Kind(name)]; !known {
			return ProviderConfig{}, &ConfigurationError{Provider: name, Reason: "is not configured"}
		}
	}
	cfg.Name = name
	if cfg.Kind == "" {
		cfg.Kind = Kind(name)
	}
	if _, known := backends[cfg.Kind]; !known {
		return cfg, &ConfigurationError{Provider: name, Field: "kind", Reason: fmt.Sprintf("%q is not supported", cfg.Kind)}
	}

	if err := mergo.Merge(&cfg, kindDefaults[cfg.Kind]); err != nil {
		return cfg, fmt.Errorf("failed to apply defaults for %s: %w", name, err)
	}
	if cfg.APIKey == "" {
		if env := apiKeyEnv[cfg.Kind]; env != "" {
			cfg.APIKey = os.Getenv(env)
		}
	}

	L_trace("llm: provider resolved", "name", name, "kind", cfg.Kind, "baseURL", cfg.BaseURL, "model", cfg.Model)
	return cfg, nil
}

// Validate checks a config is usable for chat: base URL and model are
// required, and cloud kinds need an API key.
func Validate(cfg ProviderConfig) error {
	name := cfg.Name
	if name == "" {
		name = string(cfg.Kind)
	}
	if cfg.BaseURL == "" {
		return &ConfigurationError{Provider: name, Field: "baseURL", Reason: "is empty"}
	}
	if cfg.Model == "" {
		return &ConfigurationError{Provider: name, Field: "model", Reason: "is empty"}
	}
	if cfg.APIKey == "" && !cfg.Kind.Local() {
		return &ConfigurationError{Provider: name, Field: "apiKey", Reason: "is required for cloud providers"}
	}
	return nil
}
