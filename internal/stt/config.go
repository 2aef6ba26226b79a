// Package stt lists speech-to-text models and transcribes audio through
// OpenAI-compatible whisper endpoints.
package stt

import (
	"fmt"
	"os"
	"strings"

	"dario.cat/mergo"
)

// Provider kinds.
const (
	ProviderOpenAI = "openai"
	ProviderGroq   = "groq"
	ProviderLocal  = "local"
)

// SettingsKey is the settings key holding the STT config.
const SettingsKey = "stt"

// Settings selects and configures the transcription backend.
type Settings struct {
	Provider string `json:"provider"` // openai, groq or local
	APIKey   string `json:"apiKey,omitempty"`
	BaseURL  string `json:"baseURL,omitempty"`
	Model    string `json:"model,omitempty"`
	Language string `json:"language,omitempty"` // ISO-639-1, empty for auto
}

var providerDefaults = map[string]Settings{
	ProviderOpenAI: {BaseURL: "https://api.openai.com/v1", Model: "whisper-1"},
	ProviderGroq:   {BaseURL: "https://api.groq.com/openai/v1", Model: "whisper-large-v3-turbo"},
	ProviderLocal:  {BaseURL: "http://localhost:8000/v1"},
}

var apiKeyEnv = map[string]string{
	ProviderOpenAI: "OPENAI_API_KEY",
	ProviderGroq:   "GROQ_API_KEY",
}

// Resolve fills defaults and validates cfg. requireModel is false for
// model listing.
func Resolve(cfg Settings, requireModel bool) (Settings, error) {
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	defaults, ok := providerDefaults[cfg.Provider]
	if !ok {
		return cfg, fmt.Errorf("stt: unknown provider %q (want openai, groq or local)", cfg.Provider)
	}
	if err := mergo.Merge(&cfg, defaults); err != nil {
		return cfg, fmt.Errorf("stt: apply defaults: %w", err)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if cfg.APIKey == "" {
		if env := apiKeyEnv[cfg.Provider]; env != "" {
			cfg.APIKey = os.Getenv(env)
		}
	}
	if cfg.Provider != ProviderLocal && cfg.APIKey == "" {
		return cfg, fmt.Errorf("stt: %s API key not configured", cfg.Provider)
	}
	if requireModel && cfg.Model == "" {
		return cfg, fmt.Errorf("stt: model is required for the %s provider", cfg.Provider)
	}
	return cfg, nil
}

// Local reports whether cfg points at a self-hosted server.
func (c Settings) Local() bool {
	return c.Provider == ProviderLocal
}
