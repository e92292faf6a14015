// Package catalogtest provides an in-memory catalog.Catalog for tests.
package catalogtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/harun/icetop/pkg/catalog"
)

// Memory is a catalog held in maps. Keys are dot-joined identifiers, with ""
// standing for the catalog root in Namespaces and NamespaceErrors.
type Memory struct {
	mu sync.Mutex

	Namespaces      map[string][]catalog.Identifier
	NamespaceErrors map[string]error
	Tables          map[string][]catalog.Identifier
	Metadata        map[string]*catalog.TableMetadata
	Rows            map[string]*catalog.ResultSet
	QueryFunc       func(sql string) (*catalog.ResultSet, error)

	// Err, when set, fails every call.
	Err error

	reads []catalog.ReadOptions
	calls []string
}

var _ catalog.Catalog = (*Memory)(nil)

// New returns an empty Memory catalog.
func New() *Memory {
	return &Memory{
		Namespaces:      map[string][]catalog.Identifier{},
		NamespaceErrors: map[string]error{},
		Tables:          map[string][]catalog.Identifier{},
		Metadata:        map[string]*catalog.TableMetadata{},
		Rows:            map[string]*catalog.ResultSet{},
	}
}

// AddNamespace registers ns (and its parents) as namespaces.
func (m *Memory) AddNamespace(ns string) *Memory {
	id := catalog.MustParseIdentifier(ns)
	for i := 1; i <= len(id); i++ {
		parent := catalog.Identifier(id[:i-1]).String()
		child := append(catalog.Identifier{}, id[:i]...)
		if !containsID(m.Namespaces[parent], child) {
			m.Namespaces[parent] = append(m.Namespaces[parent], child)
		}
	}
	return m
}

// AddTable registers a table with metadata and optional rows.
func (m *Memory) AddTable(table string, meta *catalog.TableMetadata, rows *catalog.ResultSet) *Memory {
	id := catalog.MustParseIdentifier(table)
	ns := id.Namespace()
	if len(ns) > 0 {
		m.AddNamespace(ns.String())
	}
	m.Tables[ns.String()] = append(m.Tables[ns.String()], id)
	if meta == nil {
		meta = &catalog.TableMetadata{}
	}
	meta.Identifier = id
	m.Metadata[id.String()] = meta
	if rows != nil {
		m.Rows[id.String()] = rows
	}
	return m
}

// Calls returns the operations invoked so far, e.g. "list_tables sales".
func (m *Memory) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// Reads returns the options of every ReadTable call.
func (m *Memory) Reads() []catalog.ReadOptions {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]catalog.ReadOptions(nil), m.reads...)
}

func (m *Memory) record(op string, arg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, fmt.Sprintf("%s %s", op, arg))
}

func (m *Memory) ListNamespaces(_ context.Context, parent catalog.Identifier) ([]catalog.Identifier, error) {
	m.record("list_namespaces", parent.String())
	if m.Err != nil {
		return nil, m.Err
	}
	if err := m.NamespaceErrors[parent.String()]; err != nil {
		return nil, err
	}
	return m.Namespaces[parent.String()], nil
}

func (m *Memory) ListTables(_ context.Context, namespace catalog.Identifier) ([]catalog.Identifier, error) {
	m.record("list_tables", namespace.String())
	if m.Err != nil {
		return nil, m.Err
	}
	tables, ok := m.Tables[namespace.String()]
	if !ok {
		return nil, catalog.NotFoundError("namespace", namespace)
	}
	return tables, nil
}

func (m *Memory) LoadTable(_ context.Context, table catalog.Identifier) (*catalog.TableMetadata, error) {
	m.record("load_table", table.String())
	if m.Err != nil {
		return nil, m.Err
	}
	meta, ok := m.Metadata[table.String()]
	if !ok {
		return nil, catalog.NotFoundError("table", table)
	}
	return meta, nil
}

func (m *Memory) ReadTable(_ context.Context, table catalog.Identifier, opts catalog.ReadOptions) (*catalog.ResultSet, error) {
	m.record("read_table", table.String())
	m.mu.Lock()
	m.reads = append(m.reads, opts)
	m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	rs, ok := m.Rows[table.String()]
	if !ok {
		return nil, catalog.NotFoundError("table", table)
	}
	rows := rs.Rows
	if opts.Limit > 0 && len(rows) > opts.Limit {
		rows = rows[:opts.Limit]
	}
	return &catalog.ResultSet{Columns: rs.Columns, Rows: rows}, nil
}

func (m *Memory) Query(_ context.Context, sql string) (*catalog.ResultSet, error) {
	m.record("query", sql)
	if m.Err != nil {
		return nil, m.Err
	}
	if m.QueryFunc == nil {
		return nil, fmt.Errorf("query not supported")
	}
	return m.QueryFunc(sql)
}

func containsID(ids []catalog.Identifier, id catalog.Identifier) bool {
	for _, existing := range ids {
		if existing.Equal(id) {
			return true
		}
	}
	return false
}
