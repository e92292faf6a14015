package toolexecutor

import (
	"context"

	"github.com/harun/icetop/pkg/catalog"
)

// Tool names.
const (
	ToolListNamespaces = "list_namespaces"
	ToolListTables     = "list_tables"
	ToolDescribeTable  = "describe_table"
	ToolReadTable      = "read_table"
	ToolQuerySQL       = "query_sql"
	ToolGetSnapshots   = "get_snapshots"
	ToolGetTableStats  = "get_table_stats"
)

// Row limits for read_table and query_sql.
const (
	DefaultReadLimit = 50
	MaxResultRows    = 200
)

// ToolParameter defines a parameter for a tool
type ToolParameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Items       string      `json:"items,omitempty"` // element type of array parameters
	Default     interface{} `json:"default,omitempty"`
	Maximum     int         `json:"maximum,omitempty"` // integer values above it are clamped
}

// ToolHandler runs one tool against a catalog. params are already coerced
// to the declared parameter types and schema-validated.
type ToolHandler func(ctx context.Context, cat catalog.Catalog, params map[string]interface{}) (interface{}, error)

// ToolDefinition defines a tool's metadata and handler
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters"`
	Handler     ToolHandler     `json:"-"`
}

// Param returns the named parameter.
func (d ToolDefinition) Param(name string) (ToolParameter, bool) {
	for _, p := range d.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return ToolParameter{}, false
}

// RequiredParams lists the names of required parameters in declaration order.
func (d ToolDefinition) RequiredParams() []string {
	var out []string
	for _, p := range d.Parameters {
		if p.Required {
			out = append(out, p.Name)
		}
	}
	return out
}

const tableNameHint = "Table name, e.g. 'my_namespace.my_table'"

// CatalogTools returns the read-only catalog tools offered to every model.
func CatalogTools() []ToolDefinition {
	return []ToolDefinition{
		{
			Name: ToolListNamespaces,
			Description: "List all namespaces (schemas/databases) in the Iceberg catalog, recursively including sub-namespaces. " +
				"Returns a flat list with fully-qualified namespace paths.",
			Parameters: []ToolParameter{
				{Name: "parent", Type: "string", Description: "Optional parent namespace to list children of. Omit to list all namespaces recursively."},
			},
			Handler: listNamespaces,
		},
		{
			Name:        ToolListTables,
			Description: "List all tables in a specific namespace.",
			Parameters: []ToolParameter{
				{Name: "namespace", Type: "string", Description: "The namespace to list tables from, e.g. 'default' or 'my_schema'", Required: true},
			},
			Handler: listTables,
		},
		{
			Name:        ToolDescribeTable,
			Description: "Get the schema (column names, types, docs), partition spec, and properties of an Iceberg table.",
			Parameters: []ToolParameter{
				{Name: "table", Type: "string", Description: "Fully qualified table name, e.g. 'my_namespace.my_table'", Required: true},
			},
			Handler: describeTable,
		},
		{
			Name:        ToolReadTable,
			Description: "Read data rows from an Iceberg table. Returns up to 200 rows. Use columns and filter_expr to narrow results.",
			Parameters: []ToolParameter{
				{Name: "table", Type: "string", Description: tableNameHint, Required: true},
				{Name: "columns", Type: "array", Items: "string", Description: "Optional list of column names to select"},
				{Name: "filter_expr", Type: "string", Description: `Optional filter expression, e.g. "age > 30"`},
				{Name: "limit", Type: "integer", Description: "Max rows to return (default 50, max 200)", Default: DefaultReadLimit, Maximum: MaxResultRows},
			},
			Handler: readTable,
		},
		{
			Name:        ToolQuerySQL,
			Description: "Execute a SQL query using Apache DataFusion against the Iceberg catalog. Returns results as rows.",
			Parameters: []ToolParameter{
				{Name: "sql", Type: "string", Description: "The SQL query to execute", Required: true},
			},
			Handler: querySQL,
		},
		{
			Name:        ToolGetSnapshots,
			Description: "Get the snapshot history of an Iceberg table, showing operations and timestamps.",
			Parameters: []ToolParameter{
				{Name: "table", Type: "string", Description: tableNameHint, Required: true},
			},
			Handler: getSnapshots,
		},
		{
			Name:        ToolGetTableStats,
			Description: "Get statistics for an Iceberg table: row count, file count, total size, current snapshot.",
			Parameters: []ToolParameter{
				{Name: "table", Type: "string", Description: tableNameHint, Required: true},
			},
			Handler: getTableStats,
		},
	}
}
