package toolexecutor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/icetop/internal/observability"
	"github.com/harun/icetop/internal/tracing"
	"github.com/harun/icetop/pkg/catalog"
)

// ToolExecutor dispatches tool calls to their handlers. Execute never fails:
// every outcome is a JSON document, and failures are {"error": "..."}.
type ToolExecutor struct {
	mu      sync.RWMutex
	tools   map[string]*ToolDefinition
	schemas map[string]*gojsonschema.Schema
	order   []string
}

// New creates an executor with the catalog tools registered.
func New() *ToolExecutor {
	observability.EnsureRegistered()

	te := NewEmpty()
	for _, def := range CatalogTools() {
		if err := te.RegisterTool(def); err != nil {
			panic(fmt.Sprintf("toolexecutor: %v", err))
		}
	}
	return te
}

// NewEmpty creates an executor with no tools.
func NewEmpty() *ToolExecutor {
	return &ToolExecutor{
		tools:   make(map[string]*ToolDefinition),
		schemas: make(map[string]*gojsonschema.Schema),
	}
}

func (te *ToolExecutor) RegisterTool(def ToolDefinition) error {
	if err := te.validateToolDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	schema, err := te.generateJSONSchema(def)
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}

	te.mu.Lock()
	defer te.mu.Unlock()

	if _, exists := te.tools[def.Name]; !exists {
		te.order = append(te.order, def.Name)
	}
	te.tools[def.Name] = &def
	te.schemas[def.Name] = schema

	log.Debug().Str("tool", def.Name).Msg("Tool registered")

	return nil
}

func (te *ToolExecutor) GetTool(name string) *ToolDefinition {
	te.mu.RLock()
	defer te.mu.RUnlock()

	return te.tools[name]
}

// Definitions returns the registered tools in registration order.
func (te *ToolExecutor) Definitions() []ToolDefinition {
	te.mu.RLock()
	defer te.mu.RUnlock()

	defs := make([]ToolDefinition, 0, len(te.order))
	for _, name := range te.order {
		defs = append(defs, *te.tools[name])
	}
	return defs
}

func (te *ToolExecutor) ListTools() []string {
	te.mu.RLock()
	defer te.mu.RUnlock()

	return append([]string(nil), te.order...)
}

// Execute runs one tool call against cat and returns its JSON result.
// tool_start is emitted first and tool_done last, whatever the outcome.
func (te *ToolExecutor) Execute(ctx context.Context, cat catalog.Catalog, toolName string, params map[string]interface{}, progress ProgressFunc) (result string) {
	startTime := time.Now()

	progress.Emit(ProgressEvent{Type: EventToolStart, Tool: toolName, Args: params})
	defer progress.Emit(ProgressEvent{Type: EventToolDone, Tool: toolName})

	ctx, span := tracing.StartSpan(ctx, "icetop.toolexecutor", "tool.execute",
		attribute.String("tool", toolName),
	)
	logger := tracing.LoggerFromContext(ctx, log.Logger).With().Str("tool", toolName).Logger()

	var execErr error
	defer func() {
		if r := recover(); r != nil {
			execErr = fmt.Errorf("tool %s panicked: %v", toolName, r)
			result = errorJSON(execErr.Error())
		}

		duration := time.Since(startTime)
		tracing.EndSpan(span, execErr)
		observability.RecordToolExecution(toolName, duration, execErr == nil)

		if execErr != nil {
			logger.Warn().Err(execErr).Dur("duration", duration).Msg("Tool execution failed")
		} else {
			logger.Debug().Dur("duration", duration).Int("bytes", len(result)).Msg("Tool execution completed")
		}
	}()

	te.mu.RLock()
	tool := te.tools[toolName]
	schema := te.schemas[toolName]
	te.mu.RUnlock()

	if tool == nil {
		execErr = fmt.Errorf("Unknown tool: %s", toolName)
		return errorJSON(execErr.Error())
	}

	args, err := coerceParams(*tool, params)
	if err != nil {
		execErr = err
		return errorJSON(err.Error())
	}
	if err := te.validateParameters(schema, args); err != nil {
		execErr = err
		return errorJSON(err.Error())
	}
	if cat == nil {
		execErr = fmt.Errorf("no catalog is open")
		return errorJSON(execErr.Error())
	}

	payload, err := tool.Handler(ctx, cat, args)
	if err != nil {
		execErr = err
		return errorJSON(err.Error())
	}

	data, err := json.Marshal(sanitize(payload))
	if err != nil {
		execErr = fmt.Errorf("encode result: %w", err)
		return errorJSON(execErr.Error())
	}
	return string(data)
}

// ErrorMessage returns the message of an {"error": ...} result, if result is one.
func ErrorMessage(result string) (string, bool) {
	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(result), &payload); err != nil || len(payload) != 1 {
		return "", false
	}
	msg, ok := payload["error"].(string)
	return msg, ok
}

func errorJSON(message string) string {
	data, _ := json.Marshal(map[string]string{"error": message})
	return string(data)
}

func (te *ToolExecutor) validateToolDefinition(def ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}
	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if param.Type == "" {
			return fmt.Errorf("parameter type cannot be empty for %s", param.Name)
		}
		if param.Description == "" {
			return fmt.Errorf("parameter description cannot be empty for %s", param.Name)
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %s for %s", param.Type, param.Name)
		}
	}

	return nil
}

// generateJSONSchema builds the validation schema. It is stricter than the
// schema declared to models: extra keys are rejected and required strings
// must be non-empty.
func (te *ToolExecutor) generateJSONSchema(def ToolDefinition) (*gojsonschema.Schema, error) {
	schemaMap := def.JSONSchema()
	schemaMap["additionalProperties"] = false

	properties := schemaMap["properties"].(map[string]interface{})
	for _, param := range def.Parameters {
		prop := properties[param.Name].(map[string]interface{})
		if param.Required && param.Type == "string" {
			prop["minLength"] = 1
		}
		if param.Type == "integer" && param.Maximum > 0 {
			prop["maximum"] = param.Maximum
		}
	}

	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap))
}

func (te *ToolExecutor) validateParameters(schema *gojsonschema.Schema, params map[string]interface{}) error {
	if schema == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return err
	}

	if !result.Valid() {
		errs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}
		return fmt.Errorf("invalid arguments: %s", strings.Join(errs, "; "))
	}

	return nil
}
