package agent

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/harun/icetop/internal/config"
	"github.com/harun/icetop/pkg/catalog"
	"github.com/harun/icetop/pkg/catalog/catalogtest"
	"github.com/harun/icetop/pkg/session"
	"github.com/harun/icetop/pkg/toolexecutor"
)

// mockProvider is a scripted LLMProvider.
type mockProvider struct {
	mock.Mock
	name string
}

func (m *mockProvider) Call(ctx context.Context, request LLMRequest) (*LLMResponse, error) {
	args := m.Called(ctx, request)
	if fn, ok := args.Get(0).(func(context.Context, LLMRequest) *LLMResponse); ok {
		return fn(ctx, request), args.Error(1)
	}
	resp, _ := args.Get(0).(*LLMResponse)
	return resp, args.Error(1)
}

func (m *mockProvider) Provider() string {
	return m.name
}

// requests returns the requests the provider received, in order.
func (m *mockProvider) requests() []LLMRequest {
	out := []LLMRequest{}
	for _, c := range m.Calls {
		out = append(out, c.Arguments.Get(1).(LLMRequest))
	}
	return out
}

type staticResolver struct {
	cfg config.LLMConfig
}

func (r staticResolver) Resolve() config.LLMConfig {
	return r.cfg
}

type staticFactory struct {
	provider LLMProvider
	created  int
}

func (f *staticFactory) NewProvider(cfg config.LLMConfig) (LLMProvider, error) {
	f.created++
	return f.provider, nil
}

type eventLog struct {
	events []toolexecutor.ProgressEvent
}

func (l *eventLog) record(ev toolexecutor.ProgressEvent) {
	l.events = append(l.events, ev)
}

func (l *eventLog) types() []string {
	out := []string{}
	for _, ev := range l.events {
		out = append(out, ev.Type)
	}
	return out
}

func toolCall(id, name string, args map[string]interface{}) session.ToolCall {
	return session.ToolCall{ID: id, Name: name, Arguments: args}
}

func salesCatalog() *catalogtest.Memory {
	cat := catalogtest.New()
	cat.AddTable("sales.orders", &catalog.TableMetadata{
		Fields: []catalog.Field{{ID: 1, Name: "id", Type: "long", Required: true}},
	}, &catalog.ResultSet{Columns: []string{"id"}, Rows: []map[string]interface{}{{"id": 1}}})
	cat.AddTable("sales.customers", nil, nil)
	return cat
}

func newTestSession(cat catalog.Catalog) *session.Session {
	return session.New("s1", "prod", cat, session.SystemPrompt)
}

func setupTestAgent(t *testing.T, provider LLMProvider, cfg config.LLMConfig) (*Agent, *staticFactory) {
	t.Helper()
	factory := &staticFactory{provider: provider}
	a, err := NewAgent(Config{
		Executor:        toolexecutor.New(),
		Resolver:        staticResolver{cfg: cfg},
		ProviderFactory: factory,
		Logger:          zerolog.Nop(),
	})
	require.NoError(t, err)
	return a, factory
}

var openAIConfig = config.LLMConfig{Provider: "openai", APIKey: "sk-test", Model: "gpt-4", Source: config.SourceSettings}

func TestNewAgent(t *testing.T) {
	_, err := NewAgent(Config{Resolver: staticResolver{}})
	assert.Error(t, err)

	_, err = NewAgent(Config{Executor: toolexecutor.New()})
	assert.Error(t, err)
}

func TestAgent_Chat_SalesScenario(t *testing.T) {
	provider := &mockProvider{name: "openai"}
	provider.On("Call", mock.Anything, mock.Anything).Return(&LLMResponse{
		ToolCalls: []session.ToolCall{toolCall("call_1", "list_tables", map[string]interface{}{"namespace": "sales"})},
		Usage:     &TokenUsage{InputTokens: 100, OutputTokens: 10},
	}, nil).Once()
	provider.On("Call", mock.Anything, mock.Anything).Return(&LLMResponse{
		Content: "The sales namespace has orders and customers.",
	}, nil).Once()

	a, _ := setupTestAgent(t, provider, openAIConfig)
	cat := salesCatalog()
	sess := newTestSession(cat)
	events := &eventLog{}

	reply := a.Chat(context.Background(), sess, "What tables are in sales?", events.record)

	assert.Equal(t, "The sales namespace has orders and customers.", reply)
	provider.AssertNumberOfCalls(t, "Call", 2)

	t.Run("should emit progress in order", func(t *testing.T) {
		assert.Equal(t, []string{"thinking", "tool_start", "tool_done", "thinking"}, events.types())
		assert.Equal(t, "Thinking...", events.events[0].Message)
		assert.Equal(t, "list_tables", events.events[1].Tool)
		assert.Equal(t, map[string]interface{}{"namespace": "sales"}, events.events[1].Args)
		assert.Equal(t, "Analyzing results...", events.events[3].Message)
	})

	t.Run("should record the exchange in order", func(t *testing.T) {
		msgs := sess.Messages()
		roles := []string{}
		for _, m := range msgs {
			roles = append(roles, m.Role)
		}
		assert.Equal(t, []string{"system", "user", "assistant", "tool", "assistant"}, roles)
		assert.Equal(t, "call_1", msgs[3].ToolCallID)
		assert.JSONEq(t, `{"namespace":"sales","tables":["orders","customers"]}`, msgs[3].Content)
		assert.NoError(t, sess.Validate())
	})

	t.Run("should send the tool result back on the next call", func(t *testing.T) {
		reqs := provider.requests()
		require.Len(t, reqs, 2)
		assert.Equal(t, session.SystemPrompt, reqs[0].SystemPrompt)
		assert.Equal(t, "gpt-4", reqs[0].Model)
		assert.Len(t, reqs[0].Tools, 7)
		assert.Len(t, reqs[0].Messages, 1)
		require.Len(t, reqs[1].Messages, 3)
		assert.Equal(t, session.RoleTool, reqs[1].Messages[2].Role)
	})

	assert.Equal(t, []string{"list_tables sales"}, cat.Calls())
}

func TestAgent_Chat_NoAPIKey(t *testing.T) {
	provider := &mockProvider{name: "openai"}
	a, factory := setupTestAgent(t, provider, config.LLMConfig{Provider: "openai", Source: config.SourceNone})
	sess := newTestSession(salesCatalog())
	events := &eventLog{}

	reply := a.Chat(context.Background(), sess, "hello", events.record)

	assert.Equal(t, "⚠️ No AI API key configured. Go to Settings and add your OpenAI, Anthropic, or Google API key.", reply)
	assert.Empty(t, events.events)
	assert.Equal(t, 0, factory.created)
	provider.AssertNotCalled(t, "Call", mock.Anything, mock.Anything)

	last, ok := sess.Last()
	require.True(t, ok)
	assert.Equal(t, session.RoleUser, last.Role)
}

func TestAgent_Chat_UnknownProvider(t *testing.T) {
	a, err := NewAgent(Config{
		Executor: toolexecutor.New(),
		Resolver: staticResolver{cfg: config.LLMConfig{Provider: "cohere", APIKey: "key"}},
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)
	events := &eventLog{}

	reply := a.Chat(context.Background(), newTestSession(salesCatalog()), "hello", events.record)

	assert.Equal(t, "⚠️ Unknown provider: cohere. Supported: openai, anthropic, gemini.", reply)
	assert.Empty(t, events.events)
}

func TestAgent_Chat_IterationCap(t *testing.T) {
	provider := &mockProvider{name: "anthropic"}
	n := 0
	provider.On("Call", mock.Anything, mock.Anything).Return(func(ctx context.Context, req LLMRequest) *LLMResponse {
		n++
		return &LLMResponse{ToolCalls: []session.ToolCall{
			toolCall(fmt.Sprintf("toolu_%d", n), "list_namespaces", nil),
		}}
	}, nil)

	a, _ := setupTestAgent(t, provider, config.LLMConfig{Provider: "anthropic", APIKey: "sk-ant-test"})
	sess := newTestSession(salesCatalog())
	events := &eventLog{}

	reply := a.Chat(context.Background(), sess, "loop forever", events.record)

	assert.Equal(t, "I was unable to complete the request after multiple tool calls.", reply)
	provider.AssertNumberOfCalls(t, "Call", DefaultMaxIterations)
	assert.NoError(t, sess.Validate())

	tools := 0
	for _, m := range sess.Messages() {
		if m.Role == session.RoleTool {
			tools++
		}
	}
	assert.Equal(t, DefaultMaxIterations, tools)
	assert.Len(t, events.events, 1+3*DefaultMaxIterations)
}

func TestAgent_Chat_ProviderError(t *testing.T) {
	provider := &mockProvider{name: "openai"}
	provider.On("Call", mock.Anything, mock.Anything).Return(&LLMResponse{
		ToolCalls: []session.ToolCall{toolCall("call_1", "describe_table", map[string]interface{}{"table": "sales.orders"})},
	}, nil).Once()
	provider.On("Call", mock.Anything, mock.Anything).Return(nil, errors.New("rate limited")).Once()

	a, _ := setupTestAgent(t, provider, openAIConfig)
	sess := newTestSession(salesCatalog())

	reply := a.Chat(context.Background(), sess, "describe orders", nil)

	assert.Equal(t, "⚠️ AI error: rate limited", reply)
	last, _ := sess.Last()
	assert.Equal(t, session.RoleAssistant, last.Role)
	assert.Equal(t, reply, last.Content)
	assert.NoError(t, sess.Validate())
}

func TestAgent_Chat_ProviderPanic(t *testing.T) {
	provider := &mockProvider{name: "gemini"}
	provider.On("Call", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		panic("nil map")
	})

	a, _ := setupTestAgent(t, provider, config.LLMConfig{Provider: "gemini", APIKey: "AIza-test"})
	sess := newTestSession(salesCatalog())

	reply := a.Chat(context.Background(), sess, "hello", nil)

	assert.Contains(t, reply, "⚠️ AI error: ")
	assert.Contains(t, reply, "nil map")
	assert.NoError(t, sess.Validate())
}

func TestAgent_Chat_ToolErrorsFeedBack(t *testing.T) {
	provider := &mockProvider{name: "openai"}
	provider.On("Call", mock.Anything, mock.Anything).Return(&LLMResponse{
		ToolCalls: []session.ToolCall{
			toolCall("call_1", "drop_table", map[string]interface{}{"table": "sales.orders"}),
			toolCall("call_2", "describe_table", map[string]interface{}{"table": "sales.missing"}),
			toolCall("call_3", "describe_table", map[string]interface{}{"table": "sales.orders"}),
		},
	}, nil).Once()
	provider.On("Call", mock.Anything, mock.Anything).Return(&LLMResponse{Content: "Only orders exists."}, nil).Once()

	a, _ := setupTestAgent(t, provider, openAIConfig)
	sess := newTestSession(salesCatalog())
	events := &eventLog{}

	reply := a.Chat(context.Background(), sess, "describe things", events.record)
	assert.Equal(t, "Only orders exists.", reply)

	msgs := sess.Messages()
	require.Len(t, msgs, 7)
	assert.Equal(t, []string{"call_1", "call_2", "call_3"}, []string{msgs[3].ToolCallID, msgs[4].ToolCallID, msgs[5].ToolCallID})

	msg, isErr := toolexecutor.ErrorMessage(msgs[3].Content)
	assert.True(t, isErr)
	assert.Equal(t, "Unknown tool: drop_table", msg)
	_, isErr = toolexecutor.ErrorMessage(msgs[4].Content)
	assert.True(t, isErr)
	_, isErr = toolexecutor.ErrorMessage(msgs[5].Content)
	assert.False(t, isErr)

	assert.Equal(t, []string{"thinking", "tool_start", "tool_done", "tool_start", "tool_done", "tool_start", "tool_done", "thinking"}, events.types())
}

func TestAgent_Chat_KeepsHistoryAcrossTurns(t *testing.T) {
	provider := &mockProvider{name: "openai"}
	provider.On("Call", mock.Anything, mock.Anything).Return(&LLMResponse{Content: "first"}, nil).Once()
	provider.On("Call", mock.Anything, mock.Anything).Return(&LLMResponse{Content: "second"}, nil).Once()

	a, _ := setupTestAgent(t, provider, openAIConfig)
	sess := newTestSession(salesCatalog())

	assert.Equal(t, "first", a.Chat(context.Background(), sess, "one", nil))
	assert.Equal(t, "second", a.Chat(context.Background(), sess, "two", nil))

	reqs := provider.requests()
	require.Len(t, reqs, 2)
	require.Len(t, reqs[1].Messages, 3)
	assert.Equal(t, "one", reqs[1].Messages[0].Content)
	assert.Equal(t, "first", reqs[1].Messages[1].Content)
	assert.Equal(t, "two", reqs[1].Messages[2].Content)
}

func TestRunner_ContextCancelled(t *testing.T) {
	provider := &mockProvider{name: "openai"}
	runner := NewRunner(toolexecutor.New(), zerolog.Nop(), 0, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := runner.Run(ctx, RunParams{Provider: provider, Session: newTestSession(salesCatalog())})
	assert.ErrorIs(t, err, context.Canceled)
	provider.AssertNotCalled(t, "Call", mock.Anything, mock.Anything)
}
