package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/icetop/internal/observability"
	"github.com/harun/icetop/internal/tracing"
	"github.com/harun/icetop/pkg/session"
	"github.com/harun/icetop/pkg/toolexecutor"
)

const (
	// DefaultMaxIterations bounds the model calls of one chat, for every vendor.
	DefaultMaxIterations = 10

	// IterationLimitMessage is returned when the model keeps asking for tools
	// past the iteration cap.
	IterationLimitMessage = "I was unable to complete the request after multiple tool calls."

	thinkingMessage  = "Thinking..."
	analyzingMessage = "Analyzing results..."
)

// Runner drives the tool-calling loop for one provider.
type Runner struct {
	executor      *toolexecutor.ToolExecutor
	logger        zerolog.Logger
	maxIterations int
	maxTokens     int
}

// RunParams are the inputs of one loop run.
type RunParams struct {
	Provider LLMProvider
	Model    string
	Session  *session.Session
	Progress toolexecutor.ProgressFunc
}

// RunResult is the outcome of one loop run.
type RunResult struct {
	Text       string
	Iterations int
	ToolCalls  int
	Capped     bool
	Usage      TokenUsage
}

// NewRunner creates a runner. maxIterations <= 0 selects DefaultMaxIterations.
func NewRunner(executor *toolexecutor.ToolExecutor, logger zerolog.Logger, maxIterations, maxTokens int) *Runner {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	return &Runner{
		executor:      executor,
		logger:        logger,
		maxIterations: maxIterations,
		maxTokens:     maxTokens,
	}
}

// Run calls the model until it answers without tool calls. Every assistant
// invocation is appended together with one tool message per call, so the
// session never holds an unanswered invocation between iterations.
func (r *Runner) Run(ctx context.Context, params RunParams) (RunResult, error) {
	sess := params.Session
	provider := params.Provider
	logger := tracing.LoggerFromContext(ctx, r.logger)
	tools := r.executor.Definitions()

	result := RunResult{}
	params.Progress.Emit(toolexecutor.Thinking(thinkingMessage))

	for result.Iterations < r.maxIterations {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Iterations++

		history := sess.Messages()
		systemPrompt, conversation := splitSystem(history)

		response, err := r.callProvider(ctx, provider, LLMRequest{
			Model:        params.Model,
			SystemPrompt: systemPrompt,
			Messages:     conversation,
			Tools:        tools,
			MaxTokens:    r.maxTokens,
		}, result.Iterations)
		if err != nil {
			return result, err
		}
		if response.Usage != nil {
			result.Usage.InputTokens += response.Usage.InputTokens
			result.Usage.OutputTokens += response.Usage.OutputTokens
		}

		if len(response.ToolCalls) == 0 {
			sess.Append(session.AssistantMessage(response.Content))
			result.Text = response.Content
			return result, nil
		}

		logger.Debug().
			Int("iteration", result.Iterations).
			Int("toolCalls", len(response.ToolCalls)).
			Msg("Model requested tools")

		block := make([]session.Message, 0, len(response.ToolCalls)+1)
		block = append(block, session.AssistantMessage(response.Content, response.ToolCalls...))
		for _, call := range response.ToolCalls {
			output := r.executor.Execute(ctx, sess.Catalog, call.Name, call.Arguments, params.Progress)
			block = append(block, session.ToolResultMessage(call, output))
		}
		sess.Append(block...)
		result.ToolCalls += len(response.ToolCalls)

		params.Progress.Emit(toolexecutor.Thinking(analyzingMessage))
	}

	logger.Warn().Int("maxIterations", r.maxIterations).Msg("Iteration cap reached")
	sess.Append(session.AssistantMessage(IterationLimitMessage))
	result.Text = IterationLimitMessage
	result.Capped = true
	return result, nil
}

// callProvider makes a single model call under its own span and metrics.
func (r *Runner) callProvider(ctx context.Context, provider LLMProvider, request LLMRequest, iteration int) (*LLMResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "icetop.agent", "agent.provider_call",
		attribute.String("provider", provider.Provider()),
		attribute.String("model", request.Model),
		attribute.Int("iteration", iteration),
		attribute.Int("messages", len(request.Messages)),
	)
	start := time.Now()

	response, err := provider.Call(ctx, request)
	if err == nil && response == nil {
		err = fmt.Errorf("%s returned no response", provider.Provider())
	}
	tracing.EndSpan(span, err)

	var in, out int64
	if err == nil && response.Usage != nil {
		in, out = response.Usage.InputTokens, response.Usage.OutputTokens
	}
	observability.RecordProviderCall(provider.Provider(), time.Since(start), err == nil, in, out)

	if err != nil {
		return nil, err
	}
	return response, nil
}

// splitSystem separates the system prompt from the rest of the history.
// Adapters send the prompt out-of-band or as their own first message.
func splitSystem(history []session.Message) (string, []session.Message) {
	systemPrompt := ""
	conversation := make([]session.Message, 0, len(history))
	for _, msg := range history {
		if msg.Role == session.RoleSystem {
			if systemPrompt == "" {
				systemPrompt = msg.Content
			}
			continue
		}
		conversation = append(conversation, msg)
	}
	return systemPrompt, conversation
}
