package config

import (
	"fmt"
	"slices"
	"strings"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateProvider accepts the supported provider names and the "google" alias.
func (v *Validator) ValidateProvider(provider string) error {
	p := strings.ToLower(strings.TrimSpace(provider))
	if p == "google" || slices.Contains(SupportedProviders, p) {
		return nil
	}
	return fmt.Errorf("unknown provider: %s (must be one of: %s)", provider, strings.Join(SupportedProviders, ", "))
}

// ValidateAPIKey checks the key prefix for vendors that use a fixed one.
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch strings.ToLower(provider) {
	case ProviderAnthropic:
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case ProviderOpenAI:
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	case ProviderGemini, "google":
		if !strings.HasPrefix(key, "AIza") {
			return fmt.Errorf("invalid Google API key format (should start with AIza)")
		}
	}

	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	if slices.Contains(validLevels, level) {
		return nil
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateBackend validates the application database backend.
func (v *Validator) ValidateBackend(backend string) error {
	switch backend {
	case "", "sqlite", "postgres":
		return nil
	}
	return fmt.Errorf("invalid database backend: %s (must be sqlite or postgres)", backend)
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errs []error

	if cfg.LLM.Provider != "" {
		if err := v.ValidateProvider(cfg.LLM.Provider); err != nil {
			errs = append(errs, fmt.Errorf("llm: %w", err))
		} else if cfg.LLM.APIKey != "" {
			if err := v.ValidateAPIKey(cfg.LLM.APIKey, cfg.LLM.Provider); err != nil {
				errs = append(errs, fmt.Errorf("llm: %w", err))
			}
		}
	}

	if err := v.ValidateBackend(cfg.Database.Backend); err != nil {
		errs = append(errs, err)
	}
	if cfg.Database.Backend == "postgres" && cfg.Database.PostgresURI == "" {
		errs = append(errs, fmt.Errorf("database.postgresUri is required for the postgres backend"))
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, err)
	}

	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		errs = append(errs, fmt.Errorf("gateway.port out of range: %d", cfg.Gateway.Port))
	}

	return errs
}
