// Package catalog defines the read-only view of an Apache Iceberg catalog that
// the agent tools work against, plus the registry that caches one handle per
// configured catalog.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a namespace or table does not exist.
	ErrNotFound = errors.New("not found")

	// ErrRowsUnavailable is returned by catalogs that expose metadata only.
	ErrRowsUnavailable = errors.New("row access is not configured for this catalog")
)

// MetadataSource lists namespaces and tables and loads table metadata.
type MetadataSource interface {
	// ListNamespaces returns the direct children of parent, or the top level
	// namespaces when parent is empty.
	ListNamespaces(ctx context.Context, parent Identifier) ([]Identifier, error)
	ListTables(ctx context.Context, namespace Identifier) ([]Identifier, error)
	LoadTable(ctx context.Context, table Identifier) (*TableMetadata, error)
}

// RowSource reads table rows and runs SQL.
type RowSource interface {
	ReadTable(ctx context.Context, table Identifier, opts ReadOptions) (*ResultSet, error)
	Query(ctx context.Context, sql string) (*ResultSet, error)
}

// Catalog is everything the agent tools need from one catalog.
// Implementations must tolerate concurrent reads.
type Catalog interface {
	MetadataSource
	RowSource
}

// ReadOptions narrows a ReadTable call.
type ReadOptions struct {
	Columns []string
	Filter  string
	Limit   int
}

// ResultSet is a materialized query result. Rows are keyed by column name.
// Total counts every row produced and may exceed len(Rows) when the source
// stopped materializing early; zero means len(Rows).
type ResultSet struct {
	Columns []string
	Rows    []map[string]any
	Total   int
}

// RowCount returns the number of rows the query produced.
func (r *ResultSet) RowCount() int {
	if r.Total > len(r.Rows) {
		return r.Total
	}
	return len(r.Rows)
}

// TableMetadata is the subset of Iceberg table metadata the tools report.
type TableMetadata struct {
	Identifier        Identifier
	Location          string
	SchemaID          int
	Fields            []Field
	PartitionFields   []PartitionField
	Properties        map[string]string
	Snapshots         []Snapshot
	CurrentSnapshotID *int64
}

// Field is a top-level schema column.
type Field struct {
	ID       int
	Name     string
	Type     string
	Required bool
	Doc      string
}

// PartitionField is one entry of the default partition spec.
type PartitionField struct {
	SourceID  int
	FieldID   int
	Name      string
	Transform string
}

// String renders the field as "<field-id>: <name>: <transform>(<source-id>)".
func (p PartitionField) String() string {
	return fmt.Sprintf("%d: %s: %s(%d)", p.FieldID, p.Name, p.Transform, p.SourceID)
}

// Snapshot is one table snapshot.
type Snapshot struct {
	SnapshotID       int64
	ParentSnapshotID *int64
	TimestampMs      int64
	Summary          map[string]string
}

// Operation returns the summary operation, or "unknown" when the summary is missing.
func (s Snapshot) Operation() string {
	if op := s.Summary["operation"]; op != "" {
		return op
	}
	return "unknown"
}

// CurrentSnapshot returns the snapshot named by CurrentSnapshotID, if any.
func (t *TableMetadata) CurrentSnapshot() *Snapshot {
	if t.CurrentSnapshotID == nil {
		return nil
	}
	for i := range t.Snapshots {
		if t.Snapshots[i].SnapshotID == *t.CurrentSnapshotID {
			return &t.Snapshots[i]
		}
	}
	return nil
}

// NotFoundError wraps ErrNotFound with the missing object.
func NotFoundError(kind string, id Identifier) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}

// StripCatalogPrefix removes a leading catalog-name level, so "prod.sales.orders"
// and "sales.orders" address the same table in catalog "prod".
func StripCatalogPrefix(id Identifier, catalogName string) Identifier {
	if len(id) > 1 && catalogName != "" && strings.EqualFold(id[0], catalogName) {
		return id[1:]
	}
	return id
}
