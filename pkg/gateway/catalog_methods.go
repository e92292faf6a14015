package gateway

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/harun/icetop/pkg/catalog"
	"github.com/harun/icetop/pkg/toolexecutor"
)

// CatalogSource hands out open catalog handles by name.
type CatalogSource interface {
	Get(ctx context.Context, name string) (catalog.Catalog, error)
}

type columnInfo struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
	Doc      string `json:"doc"`
}

type snapshotEntry struct {
	SnapshotID string            `json:"snapshotId"`
	Timestamp  string            `json:"timestamp"`
	Operation  string            `json:"operation"`
	Summary    map[string]string `json:"summary"`
}

type tableDescription struct {
	Columns       []columnInfo      `json:"columns"`
	PartitionSpec []string          `json:"partitionSpec"`
	Properties    map[string]string `json:"properties"`
	Snapshots     []snapshotEntry   `json:"snapshots"`
}

type sqlColumn struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type sqlResult struct {
	Columns         []sqlColumn              `json:"columns"`
	Rows            []map[string]interface{} `json:"rows"`
	RowCount        int                      `json:"rowCount"`
	ExecutionTimeMs int64                    `json:"executionTimeMs"`
}

func (s *Server) registerCatalogMethods() {
	s.router.RegisterMethod("list_namespaces", s.handleListNamespaces)
	s.router.RegisterMethod("list_tables", s.handleListTables)
	s.router.RegisterMethod("list_children", s.handleListChildren)
	s.router.RegisterMethod("describe_table", s.handleDescribeTable)
	s.router.RegisterMethod("get_snapshots", s.handleGetSnapshots)
	s.router.RegisterMethod("execute_sql", s.handleExecuteSQL)
	s.router.RegisterMethod("get_query_history", s.handleGetQueryHistory)
}

// openCatalog resolves the "catalog" param to an open handle.
func (s *Server) openCatalog(ctx context.Context, params map[string]interface{}) (string, catalog.Catalog, error) {
	name := strings.TrimSpace(cast.ToString(params["catalog"]))
	if name == "" {
		return "", nil, invalidParams("catalog is required")
	}
	if s.handles == nil {
		return "", nil, errors.New("catalog browsing is not available")
	}
	cat, err := s.handles.Get(ctx, name)
	if err != nil {
		return "", nil, err
	}
	return name, cat, nil
}

func identifierParam(params map[string]interface{}, key string) (catalog.Identifier, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return nil, invalidParams("%s is required", key)
	}
	id, err := catalog.ParseIdentifier(raw)
	if err != nil {
		return nil, invalidParams("invalid %s: %v", key, err)
	}
	return id, nil
}

func leafNames(ids []catalog.Identifier) []string {
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		names = append(names, id.Name())
	}
	return names
}

func (s *Server) handleListNamespaces(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	_, cat, err := s.openCatalog(ctx, params)
	if err != nil {
		return nil, err
	}
	namespaces, err := cat.ListNamespaces(ctx, nil)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(namespaces))
	for _, ns := range namespaces {
		names = append(names, ns.String())
	}
	return names, nil
}

func (s *Server) handleListTables(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	_, cat, err := s.openCatalog(ctx, params)
	if err != nil {
		return nil, err
	}
	ns, err := identifierParam(params, "namespace")
	if err != nil {
		return nil, err
	}
	tables, err := cat.ListTables(ctx, ns)
	if err != nil {
		return nil, err
	}
	return leafNames(tables), nil
}

// handleListChildren returns the sub-namespaces and tables directly under a
// namespace. Catalogs without nested namespaces report an empty list.
func (s *Server) handleListChildren(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	_, cat, err := s.openCatalog(ctx, params)
	if err != nil {
		return nil, err
	}
	ns, err := identifierParam(params, "namespace")
	if err != nil {
		return nil, err
	}

	children := map[string][]string{"namespaces": {}, "tables": {}}
	if subs, err := cat.ListNamespaces(ctx, ns); err == nil {
		children["namespaces"] = leafNames(subs)
	} else {
		s.logger.Debug().Err(err).Str("namespace", ns.String()).Msg("Listing sub-namespaces failed")
	}
	if tables, err := cat.ListTables(ctx, ns); err == nil {
		children["tables"] = leafNames(tables)
	} else {
		s.logger.Debug().Err(err).Str("namespace", ns.String()).Msg("Listing tables failed")
	}
	return children, nil
}

func (s *Server) describe(ctx context.Context, params map[string]interface{}) (*tableDescription, error) {
	name, cat, err := s.openCatalog(ctx, params)
	if err != nil {
		return nil, err
	}
	id, err := identifierParam(params, "table")
	if err != nil {
		return nil, err
	}
	meta, err := cat.LoadTable(ctx, catalog.StripCatalogPrefix(id, name))
	if err != nil {
		return nil, err
	}

	desc := &tableDescription{
		Columns:       make([]columnInfo, 0, len(meta.Fields)),
		PartitionSpec: make([]string, 0, len(meta.PartitionFields)),
		Properties:    meta.Properties,
		Snapshots:     make([]snapshotEntry, 0, len(meta.Snapshots)),
	}
	if desc.Properties == nil {
		desc.Properties = map[string]string{}
	}
	for _, f := range meta.Fields {
		desc.Columns = append(desc.Columns, columnInfo{Name: f.Name, Type: f.Type, Required: f.Required, Doc: f.Doc})
	}
	for _, p := range meta.PartitionFields {
		desc.PartitionSpec = append(desc.PartitionSpec, p.String())
	}
	for _, snap := range meta.Snapshots {
		summary := make(map[string]string, len(snap.Summary))
		for k, v := range snap.Summary {
			if k != "operation" {
				summary[k] = v
			}
		}
		desc.Snapshots = append(desc.Snapshots, snapshotEntry{
			SnapshotID: strconv.FormatInt(snap.SnapshotID, 10),
			Timestamp:  strconv.FormatInt(snap.TimestampMs, 10),
			Operation:  snap.Operation(),
			Summary:    summary,
		})
	}
	return desc, nil
}

func (s *Server) handleDescribeTable(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	return s.describe(ctx, params)
}

func (s *Server) handleGetSnapshots(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	desc, err := s.describe(ctx, params)
	if err != nil {
		return nil, err
	}
	return desc.Snapshots, nil
}

// handleExecuteSQL runs a query and records it in the query history,
// failures included.
func (s *Server) handleExecuteSQL(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	name, cat, err := s.openCatalog(ctx, params)
	if err != nil {
		return nil, err
	}
	query := cast.ToString(params["query"])
	if strings.TrimSpace(query) == "" {
		return nil, invalidParams("query is required")
	}

	start := time.Now()
	rs, err := cat.Query(ctx, query)
	elapsed := time.Since(start).Milliseconds()

	rec := QueryRecord{Query: query, Catalog: name, ExecutionTimeMs: elapsed}
	if err != nil {
		msg := err.Error()
		rec.Error = &msg
		s.history.add(rec)
		return nil, fmt.Errorf("query failed: %w", err)
	}

	result := sqlResult{
		Columns:         make([]sqlColumn, 0, len(rs.Columns)),
		Rows:            toolexecutor.SanitizeRows(rs.Rows),
		RowCount:        len(rs.Rows),
		ExecutionTimeMs: elapsed,
	}
	for _, col := range rs.Columns {
		result.Columns = append(result.Columns, sqlColumn{Name: col, Type: columnType(rs.Rows, col)})
	}

	rec.RowCount = result.RowCount
	s.history.add(rec)
	s.logger.Debug().Str("catalog", name).Int("rows", result.RowCount).Int64("elapsed_ms", elapsed).Msg("SQL executed")
	return result, nil
}

func (s *Server) handleGetQueryHistory(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	return s.history.list(), nil
}

// columnType names the Go type of the first non-null value in a column.
func columnType(rows []map[string]interface{}, col string) string {
	for _, row := range rows {
		v := row[col]
		if v == nil {
			continue
		}
		switch v.(type) {
		case string, []byte:
			return "string"
		case bool:
			return "bool"
		case float32, float64:
			return "double"
		case time.Time:
			return "timestamp"
		}
		switch reflect.TypeOf(v).Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return "int64"
		}
		return reflect.TypeOf(v).String()
	}
	return "null"
}
