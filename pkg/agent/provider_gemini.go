package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"google.golang.org/genai"

	"github.com/harun/icetop/internal/config"
	"github.com/harun/icetop/pkg/session"
	"github.com/harun/icetop/pkg/toolexecutor"
)

// GeminiClient is the part of the genai SDK the provider uses.
type GeminiClient interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// RealGeminiClient wraps the official SDK client to satisfy GeminiClient.
type RealGeminiClient struct {
	client *genai.Client
}

// NewRealGeminiClient creates a new RealGeminiClient from an SDK client.
func NewRealGeminiClient(client *genai.Client) *RealGeminiClient {
	return &RealGeminiClient{client: client}
}

// GenerateContent calls the SDK's GenerateContent method.
func (c *RealGeminiClient) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return c.client.Models.GenerateContent(ctx, model, contents, config)
}

// GeminiProvider implements LLMProvider for Google Gemini
type GeminiProvider struct {
	apiKey string

	mu     sync.Mutex
	client GeminiClient
}

// NewGeminiProvider creates a new Gemini provider. The SDK client is built
// on the first Call.
func NewGeminiProvider(apiKey string) *GeminiProvider {
	return &GeminiProvider{apiKey: apiKey}
}

// NewGeminiProviderWithClient creates a provider around an existing client.
func NewGeminiProviderWithClient(client GeminiClient) *GeminiProvider {
	return &GeminiProvider{client: client}
}

// Provider returns the provider name
func (p *GeminiProvider) Provider() string {
	return config.ProviderGemini
}

func (p *GeminiProvider) getClient(ctx context.Context) (GeminiClient, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil {
		return p.client, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  p.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	p.client = NewRealGeminiClient(client)
	return p.client, nil
}

// Call makes an API call to Google Gemini
func (p *GeminiProvider) Call(ctx context.Context, request LLMRequest) (*LLMResponse, error) {
	client, err := p.getClient(ctx)
	if err != nil {
		return nil, err
	}

	genConfig := &genai.GenerateContentConfig{
		Tools: []*genai.Tool{{FunctionDeclarations: geminiFunctions(request.Tools)}},
	}
	if request.SystemPrompt != "" {
		genConfig.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{genai.NewPartFromText(request.SystemPrompt)},
		}
	}
	if request.MaxTokens > 0 {
		genConfig.MaxOutputTokens = int32(request.MaxTokens)
	}

	response, err := client.GenerateContent(ctx, request.Model, geminiContents(request.Messages), genConfig)
	if err != nil {
		return nil, err
	}
	if response == nil || len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
		return nil, fmt.Errorf("no candidates returned")
	}

	// Gemini ids are optional; number the calls after those already in history.
	next := countToolCalls(request.Messages)
	content := ""
	toolCalls := []session.ToolCall{}
	for _, part := range response.Candidates[0].Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		if fc := part.FunctionCall; fc != nil && fc.Name != "" {
			id := fc.ID
			if id == "" {
				id = fmt.Sprintf("call_%d", next)
			}
			next++
			args := fc.Args
			if args == nil {
				args = map[string]interface{}{}
			}
			toolCalls = append(toolCalls, session.ToolCall{ID: id, Name: fc.Name, Arguments: args})
			continue
		}
		content += part.Text
	}

	result := &LLMResponse{Content: content, ToolCalls: toolCalls}
	if um := response.UsageMetadata; um != nil {
		result.Usage = &TokenUsage{
			InputTokens:  int64(um.PromptTokenCount),
			OutputTokens: int64(um.CandidatesTokenCount),
		}
	}
	return result, nil
}

// geminiFunctions declares every parameter as a string. The executor
// coerces numbers and lists back from their string form.
func geminiFunctions(defs []toolexecutor.ToolDefinition) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(defs))
	for _, def := range defs {
		properties := make(map[string]*genai.Schema, len(def.Parameters))
		for _, param := range def.Parameters {
			description := param.Description
			if param.Type == "array" {
				description += " (comma-separated list)"
			}
			properties[param.Name] = &genai.Schema{
				Type:        genai.TypeString,
				Description: description,
			}
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        def.Name,
			Description: def.Description,
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: properties,
				Required:   def.RequiredParams(),
			},
		})
	}
	return decls
}

// geminiContents converts the history. Tool results become function
// responses in a user turn and same-role turns are merged.
func geminiContents(history []session.Message) []*genai.Content {
	contents := []*genai.Content{}
	appendTurn := func(role string, parts ...*genai.Part) {
		if n := len(contents); n > 0 && contents[n-1].Role == role {
			contents[n-1].Parts = append(contents[n-1].Parts, parts...)
			return
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}

	for _, msg := range history {
		switch msg.Role {
		case session.RoleUser:
			appendTurn(genai.RoleUser, genai.NewPartFromText(msg.Content))
		case session.RoleTool:
			appendTurn(genai.RoleUser, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					Name:     msg.ToolName,
					Response: map[string]any{"result": decodeResult(msg.Content)},
				},
			})
		case session.RoleAssistant:
			parts := []*genai.Part{}
			if msg.Content != "" {
				parts = append(parts, genai.NewPartFromText(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				parts = append(parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{Name: tc.Name, Args: toolInput(tc.Arguments)},
				})
			}
			if len(parts) > 0 {
				appendTurn(genai.RoleModel, parts...)
			}
		}
	}
	return contents
}

// decodeResult returns the executor output as structured JSON, or the raw
// text if it does not parse.
func decodeResult(result string) any {
	var v any
	if err := json.Unmarshal([]byte(result), &v); err != nil {
		return result
	}
	return v
}
