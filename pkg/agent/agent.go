package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/icetop/internal/config"
	"github.com/harun/icetop/internal/observability"
	"github.com/harun/icetop/internal/tracing"
	"github.com/harun/icetop/pkg/session"
	"github.com/harun/icetop/pkg/toolexecutor"
)

// NoAPIKeyMessage is returned when no provider credential can be found.
const NoAPIKeyMessage = "⚠️ No AI API key configured. Go to Settings and add your OpenAI, Anthropic, or Google API key."

// UnknownProviderMessage is returned for a provider name no adapter handles.
func UnknownProviderMessage(provider string) string {
	return fmt.Sprintf("⚠️ Unknown provider: %s. Supported: openai, anthropic, gemini.", provider)
}

// ErrorMessage is the reply recorded when a chat fails.
func ErrorMessage(err error) string {
	return fmt.Sprintf("⚠️ AI error: %v", err)
}

// ConfigResolver supplies the provider selection for each chat.
type ConfigResolver interface {
	Resolve() config.LLMConfig
}

// Config holds agent configuration
type Config struct {
	Executor        *toolexecutor.ToolExecutor
	Resolver        ConfigResolver
	ProviderFactory ProviderCreator
	Logger          zerolog.Logger
	MaxIterations   int
	MaxTokens       int
}

// Agent answers one user message at a time against a session.
type Agent struct {
	resolver  ConfigResolver
	providers ProviderCreator
	runner    *Runner
	logger    zerolog.Logger
}

// NewAgent creates a new agent
func NewAgent(cfg Config) (*Agent, error) {
	observability.EnsureRegistered()

	if cfg.Executor == nil {
		return nil, fmt.Errorf("tool executor is required")
	}
	if cfg.Resolver == nil {
		return nil, fmt.Errorf("config resolver is required")
	}

	providers := cfg.ProviderFactory
	if providers == nil {
		providers = &ProviderFactory{}
	}

	return &Agent{
		resolver:  cfg.Resolver,
		providers: providers,
		runner:    NewRunner(cfg.Executor, cfg.Logger, cfg.MaxIterations, cfg.MaxTokens),
		logger:    cfg.Logger,
	}, nil
}

// Chat appends text to the session, runs the tool loop and returns the
// reply. It never fails: configuration problems come back as warnings and
// provider errors or panics as an error reply that is also kept in history.
func (a *Agent) Chat(ctx context.Context, sess *session.Session, text string, progress toolexecutor.ProgressFunc) (reply string) {
	if ctx == nil {
		ctx = context.Background()
	}
	if tracing.GetTraceID(ctx) == "" {
		ctx = tracing.NewChatRunContext(ctx, sess.ID)
	}
	ctx = tracing.WithSessionID(ctx, sess.ID)
	ctx, span := tracing.StartSpan(ctx, "icetop.agent", "agent.chat",
		attribute.String("session_id", sess.ID),
		attribute.String("catalog", sess.CatalogName),
	)
	logger := tracing.LoggerFromContext(ctx, a.logger)

	start := time.Now()
	providerName := "none"
	outcome := observability.OutcomeAnswered
	var chatErr error

	defer func() {
		if r := recover(); r != nil {
			chatErr = fmt.Errorf("panic: %v", r)
			outcome = observability.OutcomeError
			reply = a.fail(sess, chatErr)
			logger.Error().Interface("panic", r).Msg("Chat panicked")
		}
		tracing.EndSpan(span, chatErr)
		observability.RecordChat(providerName, outcome, time.Since(start))
	}()

	sess.Append(session.UserMessage(text))

	cfg := a.resolver.Resolve()
	if !cfg.HasKey() {
		logger.Warn().Msg("No API key configured")
		outcome = observability.OutcomeWarning
		return NoAPIKeyMessage
	}

	provider, err := a.providers.NewProvider(cfg)
	if errors.Is(err, ErrUnsupportedProvider) {
		logger.Warn().Str("provider", cfg.Provider).Msg("Unknown provider")
		outcome = observability.OutcomeWarning
		return UnknownProviderMessage(cfg.Provider)
	}
	if err != nil {
		chatErr = err
		outcome = observability.OutcomeError
		return a.fail(sess, err)
	}

	providerName = provider.Provider()
	ctx = tracing.WithProvider(ctx, providerName)
	logger = tracing.LoggerFromContext(ctx, a.logger)
	span.SetAttributes(attribute.String("provider", providerName), attribute.String("model", cfg.Model))

	logger.Info().
		Str("model", cfg.Model).
		Str("source", cfg.Source).
		Msg("Chat started")

	result, err := a.runner.Run(ctx, RunParams{
		Provider: provider,
		Model:    cfg.Model,
		Session:  sess,
		Progress: progress,
	})
	if err != nil {
		chatErr = err
		outcome = observability.OutcomeError
		logger.Error().Err(err).Int("iterations", result.Iterations).Msg("Chat failed")
		return a.fail(sess, err)
	}

	if result.Capped {
		outcome = observability.OutcomeIterationCap
	}
	logger.Info().
		Int("iterations", result.Iterations).
		Int("toolCalls", result.ToolCalls).
		Int64("inputTokens", result.Usage.InputTokens).
		Int64("outputTokens", result.Usage.OutputTokens).
		Dur("duration", time.Since(start)).
		Msg("Chat completed")
	return result.Text
}

// fail drops any unanswered invocation and records the error reply.
func (a *Agent) fail(sess *session.Session, err error) string {
	if n := sess.Repair(); n > 0 {
		a.logger.Debug().Str("session_id", sess.ID).Int("removed", n).Msg("Dropped unanswered tool calls")
	}
	msg := ErrorMessage(err)
	sess.Append(session.AssistantMessage(msg))
	return msg
}
