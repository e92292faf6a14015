// Package toolexecutor registers and executes the read-only catalog tools
// offered to the model.
//
// Invariants:
// - Tool names are unique.
// - Arguments are coerced to the declared types, then schema-validated.
// - Execute always returns JSON; failures are {"error": "<message>"}.
// - tool_start and tool_done progress events bracket every execution.
//
// Usage:
//
//	exec := toolexecutor.New()
//	out := exec.Execute(ctx, cat, "list_tables", map[string]interface{}{"namespace": "sales"}, progress)
package toolexecutor
