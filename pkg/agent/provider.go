package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/harun/icetop/internal/config"
	"github.com/harun/icetop/pkg/session"
	"github.com/harun/icetop/pkg/toolexecutor"
)

var (
	// ErrUnsupportedProvider is returned for provider names no adapter handles.
	ErrUnsupportedProvider = errors.New("unsupported provider")

	// ErrNoAPIKey is returned when a provider is requested without a key.
	ErrNoAPIKey = errors.New("no API key configured")
)

// LLMProvider is one vendor's tool-calling protocol. Call converts the tools
// and history to the vendor shape, sends one request, and returns the reply
// text and any tool calls in the order the vendor listed them.
type LLMProvider interface {
	// Call makes an LLM API call
	Call(ctx context.Context, request LLMRequest) (*LLMResponse, error)

	// Provider returns the provider name
	Provider() string
}

// LLMRequest contains the request parameters for LLM call
type LLMRequest struct {
	Model        string
	SystemPrompt string
	Messages     []session.Message
	Tools        []toolexecutor.ToolDefinition
	MaxTokens    int
}

// LLMResponse contains the response from LLM
type LLMResponse struct {
	Content   string
	ToolCalls []session.ToolCall
	Usage     *TokenUsage
}

// TokenUsage tracks token consumption
type TokenUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// ProviderCreator creates LLM providers from a resolved configuration.
type ProviderCreator interface {
	NewProvider(cfg config.LLMConfig) (LLMProvider, error)
}

// ProviderFactory creates the vendor adapters.
type ProviderFactory struct{}

// NewProvider creates a new LLM provider for cfg.Provider
func (f *ProviderFactory) NewProvider(cfg config.LLMConfig) (LLMProvider, error) {
	name := NormalizeProvider(cfg.Provider)
	switch name {
	case config.ProviderOpenAI, config.ProviderAnthropic, config.ProviderGemini:
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, cfg.Provider)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s: %w", name, ErrNoAPIKey)
	}

	switch name {
	case config.ProviderAnthropic:
		return NewAnthropicProvider(cfg.APIKey), nil
	case config.ProviderGemini:
		return NewGeminiProvider(cfg.APIKey), nil
	default:
		return NewOpenAIProvider(cfg.APIKey), nil
	}
}

// NormalizeProvider lowercases a provider name and maps "google" to gemini.
func NormalizeProvider(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "google" {
		return config.ProviderGemini
	}
	return name
}

// countToolCalls counts the tool calls already present in msgs.
func countToolCalls(msgs []session.Message) int {
	n := 0
	for _, m := range msgs {
		n += len(m.ToolCalls)
	}
	return n
}
