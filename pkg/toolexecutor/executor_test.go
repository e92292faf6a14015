package toolexecutor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/icetop/pkg/catalog"
	"github.com/harun/icetop/pkg/catalog/catalogtest"
)

func int64p(v int64) *int64 { return &v }

func setupTestCatalog() *catalogtest.Memory {
	cat := catalogtest.New()
	cat.AddTable("sales.orders", &catalog.TableMetadata{
		SchemaID: 1,
		Fields: []catalog.Field{
			{ID: 1, Name: "id", Type: "long", Required: true},
			{ID: 2, Name: "amount", Type: "decimal(10, 2)", Doc: "order total"},
			{ID: 3, Name: "ts", Type: "timestamptz"},
		},
		PartitionFields: []catalog.PartitionField{{SourceID: 3, FieldID: 1000, Name: "ts_day", Transform: "day"}},
		Properties:      map[string]string{"format-version": "2"},
		Snapshots: []catalog.Snapshot{
			{SnapshotID: 11, TimestampMs: 1700000000000, Summary: map[string]string{"operation": "append"}},
			{SnapshotID: 12, TimestampMs: 1700000500000, Summary: map[string]string{
				"operation":        "overwrite",
				"total-records":    "42",
				"total-data-files": "3",
				"total-files-size": "4096",
			}},
		},
		CurrentSnapshotID: int64p(12),
	}, &catalog.ResultSet{
		Columns: []string{"id"},
		Rows:    makeRows(300),
	})
	cat.AddTable("sales.customers", nil, nil)
	return cat
}

func makeRows(n int) []map[string]interface{} {
	rows := make([]map[string]interface{}, n)
	for i := range rows {
		rows[i] = map[string]interface{}{"id": i}
	}
	return rows
}

func decode(t *testing.T, out string) map[string]interface{} {
	t.Helper()
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &payload), out)
	return payload
}

type eventRecorder struct {
	events []ProgressEvent
}

func (r *eventRecorder) record(ev ProgressEvent) {
	r.events = append(r.events, ev)
}

func (r *eventRecorder) types() []string {
	types := make([]string, len(r.events))
	for i, ev := range r.events {
		types[i] = ev.Type
	}
	return types
}

func TestToolExecutor_Definitions(t *testing.T) {
	te := New()

	assert.Equal(t, []string{
		ToolListNamespaces, ToolListTables, ToolDescribeTable, ToolReadTable,
		ToolQuerySQL, ToolGetSnapshots, ToolGetTableStats,
	}, te.ListTools())

	read := te.GetTool(ToolReadTable)
	require.NotNil(t, read)
	assert.Equal(t, []string{"table"}, read.RequiredParams())

	schema := read.JSONSchema()
	props := schema["properties"].(map[string]interface{})
	assert.Equal(t, map[string]interface{}{"type": "string"}, props["columns"].(map[string]interface{})["items"])
	assert.Equal(t, []string{"table"}, schema["required"])

	_, hasRequired := te.GetTool(ToolListNamespaces).JSONSchema()["required"]
	assert.False(t, hasRequired)
}

func TestToolExecutor_RegisterTool_InvalidDefinition(t *testing.T) {
	te := NewEmpty()
	noop := func(ctx context.Context, cat catalog.Catalog, params map[string]interface{}) (interface{}, error) {
		return nil, nil
	}

	tests := []struct {
		name string
		def  ToolDefinition
	}{
		{name: "empty name", def: ToolDefinition{Description: "Test", Handler: noop}},
		{name: "empty description", def: ToolDefinition{Name: "test", Handler: noop}},
		{name: "nil handler", def: ToolDefinition{Name: "test", Description: "Test"}},
		{name: "bad parameter type", def: ToolDefinition{
			Name: "test", Description: "Test", Handler: noop,
			Parameters: []ToolParameter{{Name: "x", Type: "date", Description: "x"}},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, te.RegisterTool(tt.def))
		})
	}
	assert.Empty(t, te.ListTools())
}

func TestToolExecutor_Execute_Events(t *testing.T) {
	te := New()
	cat := setupTestCatalog()

	t.Run("should bracket a successful call", func(t *testing.T) {
		rec := &eventRecorder{}
		args := map[string]interface{}{"namespace": "sales"}
		te.Execute(context.Background(), cat, ToolListTables, args, rec.record)

		require.Len(t, rec.events, 2)
		assert.Equal(t, ProgressEvent{Type: EventToolStart, Tool: ToolListTables, Args: args}, rec.events[0])
		assert.Equal(t, ProgressEvent{Type: EventToolDone, Tool: ToolListTables}, rec.events[1])
	})

	t.Run("should bracket an unknown tool", func(t *testing.T) {
		rec := &eventRecorder{}
		te.Execute(context.Background(), cat, "drop_table", nil, rec.record)
		assert.Equal(t, []string{EventToolStart, EventToolDone}, rec.types())
	})

	t.Run("should bracket a panicking handler", func(t *testing.T) {
		exec := NewEmpty()
		require.NoError(t, exec.RegisterTool(ToolDefinition{
			Name:        "boom",
			Description: "panics",
			Handler: func(ctx context.Context, cat catalog.Catalog, params map[string]interface{}) (interface{}, error) {
				panic("kaboom")
			},
		}))

		rec := &eventRecorder{}
		out := exec.Execute(context.Background(), cat, "boom", nil, rec.record)

		assert.Equal(t, []string{EventToolStart, EventToolDone}, rec.types())
		msg, ok := ErrorMessage(out)
		require.True(t, ok, out)
		assert.Contains(t, msg, "kaboom")
	})

	t.Run("should accept a nil progress func", func(t *testing.T) {
		assert.NotPanics(t, func() {
			te.Execute(context.Background(), cat, ToolListTables, map[string]interface{}{"namespace": "sales"}, nil)
		})
	})
}

func TestToolExecutor_Execute_Errors(t *testing.T) {
	te := New()

	tests := []struct {
		name    string
		tool    string
		args    map[string]interface{}
		cat     catalog.Catalog
		wantMsg string
	}{
		{
			name:    "unknown tool",
			tool:    "drop_table",
			cat:     setupTestCatalog(),
			wantMsg: "Unknown tool: drop_table",
		},
		{
			name:    "missing required argument",
			tool:    ToolDescribeTable,
			args:    map[string]interface{}{},
			cat:     setupTestCatalog(),
			wantMsg: "table",
		},
		{
			name:    "empty required argument",
			tool:    ToolGetSnapshots,
			args:    map[string]interface{}{"table": "  "},
			cat:     setupTestCatalog(),
			wantMsg: "table",
		},
		{
			name:    "uncoercible argument",
			tool:    ToolReadTable,
			args:    map[string]interface{}{"table": "sales.orders", "limit": "lots"},
			cat:     setupTestCatalog(),
			wantMsg: "limit",
		},
		{
			name:    "missing table",
			tool:    ToolDescribeTable,
			args:    map[string]interface{}{"table": "sales.refunds"},
			cat:     setupTestCatalog(),
			wantMsg: "not found",
		},
		{
			name: "catalog failure",
			tool: ToolGetTableStats,
			args: map[string]interface{}{"table": "sales.orders"},
			cat: func() catalog.Catalog {
				c := setupTestCatalog()
				c.Err = errors.New("connection refused")
				return c
			}(),
			wantMsg: "connection refused",
		},
		{
			name:    "no catalog",
			tool:    ToolListTables,
			args:    map[string]interface{}{"namespace": "sales"},
			wantMsg: "no catalog",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := te.Execute(context.Background(), tt.cat, tt.tool, tt.args, nil)

			payload := decode(t, out)
			assert.Len(t, payload, 1)
			msg, ok := payload["error"].(string)
			require.True(t, ok, out)
			assert.Contains(t, msg, tt.wantMsg)
		})
	}
}

func TestToolExecutor_ListNamespaces(t *testing.T) {
	te := New()

	t.Run("should walk depth-first and skip failing expansions", func(t *testing.T) {
		cat := catalogtest.New().AddNamespace("a.b.c").AddNamespace("z")
		cat.NamespaceErrors["a.b.c"] = errors.New("forbidden")

		out := te.Execute(context.Background(), cat, ToolListNamespaces, nil, nil)
		assert.JSONEq(t, `{"namespaces":["a","a.b","z"]}`, out)
	})

	t.Run("should list below a parent", func(t *testing.T) {
		cat := catalogtest.New().AddNamespace("a.b.c").AddNamespace("a.d")

		out := te.Execute(context.Background(), cat, ToolListNamespaces, map[string]interface{}{"parent": "a"}, nil)
		assert.JSONEq(t, `{"namespaces":["a.b","a.b.c","a.d"]}`, out)
	})

	t.Run("should qualify leaf-only children", func(t *testing.T) {
		cat := catalogtest.New()
		cat.Namespaces[""] = []catalog.Identifier{{"a"}}
		cat.Namespaces["a"] = []catalog.Identifier{{"b"}}

		out := te.Execute(context.Background(), cat, ToolListNamespaces, nil, nil)
		assert.JSONEq(t, `{"namespaces":["a","a.b"]}`, out)
	})

	t.Run("should return an empty list when the root listing fails", func(t *testing.T) {
		cat := catalogtest.New()
		cat.NamespaceErrors[""] = errors.New("unauthorized")

		out := te.Execute(context.Background(), cat, ToolListNamespaces, nil, nil)
		assert.JSONEq(t, `{"namespaces":[]}`, out)
	})
}

func TestToolExecutor_ListTables(t *testing.T) {
	te := New()
	cat := setupTestCatalog()

	out := te.Execute(context.Background(), cat, ToolListTables, map[string]interface{}{"namespace": "sales"}, nil)
	assert.Equal(t, `{"namespace":"sales","tables":["orders","customers"]}`, out)
	assert.Contains(t, cat.Calls(), "list_tables sales")
}

func TestToolExecutor_DescribeTable(t *testing.T) {
	te := New()

	out := te.Execute(context.Background(), setupTestCatalog(), ToolDescribeTable, map[string]interface{}{"table": "sales.orders"}, nil)
	assert.JSONEq(t, `{
		"columns": [
			{"name":"id","type":"long","required":true},
			{"name":"amount","type":"decimal(10, 2)","required":false,"doc":"order total"},
			{"name":"ts","type":"timestamptz","required":false}
		],
		"partitionSpec": ["1000: ts_day: day(3)"],
		"properties": {"format-version":"2"}
	}`, out)
}

func TestToolExecutor_ReadTable(t *testing.T) {
	te := New()

	tests := []struct {
		name      string
		limit     interface{}
		wantLimit int
	}{
		{name: "default limit", limit: nil, wantLimit: 50},
		{name: "explicit limit", limit: 10, wantLimit: 10},
		{name: "limit above cap", limit: 500, wantLimit: 200},
		{name: "stringified limit", limit: "500", wantLimit: 200},
		{name: "float limit", limit: 25.0, wantLimit: 25},
		{name: "zero limit", limit: 0, wantLimit: 50},
		{name: "empty string limit", limit: "", wantLimit: 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cat := setupTestCatalog()
			args := map[string]interface{}{"table": "sales.orders"}
			if tt.limit != nil {
				args["limit"] = tt.limit
			}

			payload := decode(t, te.Execute(context.Background(), cat, ToolReadTable, args, nil))

			require.Len(t, cat.Reads(), 1)
			assert.Equal(t, tt.wantLimit, cat.Reads()[0].Limit)
			assert.Len(t, payload["rows"], tt.wantLimit)
			assert.EqualValues(t, tt.wantLimit, payload["rowCount"])
		})
	}

	t.Run("should pass columns and filter in any encoding", func(t *testing.T) {
		for _, columns := range []interface{}{
			[]interface{}{"id", "amount"},
			`["id", "amount"]`,
			"id, amount",
		} {
			cat := setupTestCatalog()
			te.Execute(context.Background(), cat, ToolReadTable, map[string]interface{}{
				"table":       "sales.orders",
				"columns":     columns,
				"filter_expr": "amount > 10",
			}, nil)

			require.Len(t, cat.Reads(), 1)
			assert.Equal(t, catalog.ReadOptions{
				Columns: []string{"id", "amount"},
				Filter:  "amount > 10",
				Limit:   50,
			}, cat.Reads()[0], fmt.Sprint(columns))
		}
	})
}

func TestToolExecutor_QuerySQL(t *testing.T) {
	te := New()
	cat := setupTestCatalog()
	cat.QueryFunc = func(sql string) (*catalog.ResultSet, error) {
		return &catalog.ResultSet{Columns: []string{"id"}, Rows: makeRows(250)}, nil
	}

	payload := decode(t, te.Execute(context.Background(), cat, ToolQuerySQL, map[string]interface{}{"sql": "SELECT id FROM sales.orders"}, nil))

	assert.Len(t, payload["rows"], 200)
	assert.EqualValues(t, 250, payload["rowCount"])
	assert.Contains(t, cat.Calls(), "query SELECT id FROM sales.orders")
}

func TestToolExecutor_GetSnapshots(t *testing.T) {
	te := New()
	cat := setupTestCatalog()
	cat.Metadata["sales.customers"].Snapshots = []catalog.Snapshot{{SnapshotID: 7, TimestampMs: 5}}

	out := te.Execute(context.Background(), cat, ToolGetSnapshots, map[string]interface{}{"table": "sales.orders"}, nil)
	assert.JSONEq(t, `{"snapshots":[
		{"snapshotId":"11","timestamp":"1700000000000","operation":"append"},
		{"snapshotId":"12","timestamp":"1700000500000","operation":"overwrite"}
	]}`, out)

	out = te.Execute(context.Background(), cat, ToolGetSnapshots, map[string]interface{}{"table": "sales.customers"}, nil)
	assert.JSONEq(t, `{"snapshots":[{"snapshotId":"7","timestamp":"5","operation":"unknown"}]}`, out)
}

func TestToolExecutor_GetTableStats(t *testing.T) {
	te := New()
	cat := setupTestCatalog()

	out := te.Execute(context.Background(), cat, ToolGetTableStats, map[string]interface{}{"table": "sales.orders"}, nil)
	assert.JSONEq(t, `{
		"table":"sales.orders","currentSnapshotId":"12","schemaId":1,"columnCount":3,
		"totalRecords":"42","totalDataFiles":"3","totalFileSize":"4096"
	}`, out)

	out = te.Execute(context.Background(), cat, ToolGetTableStats, map[string]interface{}{"table": "sales.customers"}, nil)
	assert.JSONEq(t, `{
		"table":"sales.customers","currentSnapshotId":null,"schemaId":0,"columnCount":0,
		"totalRecords":"unknown","totalDataFiles":"unknown","totalFileSize":"unknown"
	}`, out)
}

func TestToolExecutor_IdentifierShapes(t *testing.T) {
	te := New()

	for _, table := range []interface{}{
		"sales.orders",
		"('sales', 'orders')",
		[]interface{}{"sales", "orders"},
	} {
		cat := setupTestCatalog()
		out := te.Execute(context.Background(), cat, ToolDescribeTable, map[string]interface{}{"table": table}, nil)

		_, failed := ErrorMessage(out)
		assert.False(t, failed, out)
		assert.Contains(t, cat.Calls(), "load_table sales.orders")
	}
}

func TestToolExecutor_CanonicalNamesInResults(t *testing.T) {
	te := New()
	cat := setupTestCatalog()

	t.Run("should report the namespace dot-joined", func(t *testing.T) {
		out := te.Execute(context.Background(), cat, ToolListTables, map[string]interface{}{"namespace": "('sales',)"}, nil)

		assert.JSONEq(t, `{"namespace":"sales","tables":["orders","customers"]}`, out)
	})

	t.Run("should report the table dot-joined", func(t *testing.T) {
		out := te.Execute(context.Background(), cat, ToolGetTableStats, map[string]interface{}{"table": "('sales', 'orders')"}, nil)

		assert.Equal(t, "sales.orders", decode(t, out)["table"])
	})
}

func TestErrorMessage(t *testing.T) {
	msg, ok := ErrorMessage(`{"error":"boom"}`)
	assert.True(t, ok)
	assert.Equal(t, "boom", msg)

	_, ok = ErrorMessage(`{"error":"boom","extra":1}`)
	assert.False(t, ok)

	_, ok = ErrorMessage(`{"namespaces":[]}`)
	assert.False(t, ok)
}
