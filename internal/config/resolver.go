package config

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Environment variables consulted, in order, when the settings carry no API key.
const (
	EnvOpenAIKey    = "OPENAI_API_KEY"
	EnvOpenAIModel  = "OPEN_AI_MODEL"
	EnvAnthropicKey = "ANTHROPIC_API_KEY"
	EnvGoogleKey    = "GOOGLE_API_KEY"
)

// Credential sources reported in LLMConfig.Source.
const (
	SourceSettings = "settings"
	SourceEnv      = "env"
	SourceNone     = "none"
)

// LLMConfig is the provider selection for a single chat call.
type LLMConfig struct {
	Provider string
	APIKey   string
	Model    string
	Source   string
}

// HasKey reports whether a credential was found.
func (c LLMConfig) HasKey() bool {
	return c.APIKey != ""
}

// Resolver produces an LLMConfig from the settings file and the environment.
// Nothing is cached; every call re-reads the file so edits apply to the next message.
type Resolver struct {
	loader *Loader
	getenv func(string) string
	logger zerolog.Logger
}

// NewResolver creates a resolver reading the settings file at configPath.
func NewResolver(configPath string) *Resolver {
	return &Resolver{
		loader: NewLoader(configPath),
		getenv: os.Getenv,
		logger: log.With().Str("component", "config_resolver").Logger(),
	}
}

// Resolve applies the precedence: settings apiKey when set, otherwise the first
// non-empty of OPENAI_API_KEY, ANTHROPIC_API_KEY, GOOGLE_API_KEY, which also fixes
// the provider.
func (r *Resolver) Resolve() LLMConfig {
	settings := DefaultConfig().LLM
	if cfg, err := r.loader.Load(); err != nil {
		r.logger.Warn().Err(err).Str("path", r.loader.GetConfigPath()).Msg("Settings unreadable, using defaults")
	} else {
		settings = cfg.LLM
	}

	if settings.Provider == "" {
		settings.Provider = ProviderOpenAI
	}

	if settings.APIKey != "" {
		if settings.Model == "" {
			settings.Model = DefaultModels[settings.Provider]
		}
		return LLMConfig{
			Provider: settings.Provider,
			APIKey:   settings.APIKey,
			Model:    settings.Model,
			Source:   SourceSettings,
		}
	}

	envs := []struct {
		key      string
		provider string
	}{
		{EnvOpenAIKey, ProviderOpenAI},
		{EnvAnthropicKey, ProviderAnthropic},
		{EnvGoogleKey, ProviderGemini},
	}

	for _, e := range envs {
		key := r.getenv(e.key)
		if key == "" {
			continue
		}

		model := r.modelFor(e.provider, settings)
		if e.provider == ProviderOpenAI {
			if m := r.getenv(EnvOpenAIModel); m != "" {
				model = m
			}
		}

		return LLMConfig{
			Provider: e.provider,
			APIKey:   key,
			Model:    model,
			Source:   SourceEnv,
		}
	}

	return LLMConfig{
		Provider: settings.Provider,
		Model:    settings.Model,
		Source:   SourceNone,
	}
}

// modelFor keeps the configured model when it was chosen for this provider,
// and otherwise falls back to the provider's default.
func (r *Resolver) modelFor(provider string, settings LLMSettings) string {
	if settings.Model == "" {
		return DefaultModels[provider]
	}
	if settings.Provider == provider {
		return settings.Model
	}
	for p, m := range DefaultModels {
		if p != provider && m == settings.Model {
			return DefaultModels[provider]
		}
	}
	return settings.Model
}
