package toolexecutor

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/harun/icetop/pkg/catalog"
)

// maxNamespaceDepth bounds the list_namespaces walk on catalogs that report
// a namespace as its own child.
const maxNamespaceDepth = 16

type tableArgs struct {
	Table string `json:"table"`
}

type listNamespacesArgs struct {
	Parent string `json:"parent"`
}

type listTablesArgs struct {
	Namespace string `json:"namespace"`
}

type readTableArgs struct {
	Table      string   `json:"table"`
	Columns    []string `json:"columns"`
	FilterExpr string   `json:"filter_expr"`
	Limit      int      `json:"limit"`
}

type querySQLArgs struct {
	SQL string `json:"sql"`
}

type columnInfo struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
	Doc      string `json:"doc,omitempty"`
}

type snapshotInfo struct {
	SnapshotID string `json:"snapshotId"`
	Timestamp  string `json:"timestamp"`
	Operation  string `json:"operation"`
}

type tableStats struct {
	Table             string  `json:"table"`
	CurrentSnapshotID *string `json:"currentSnapshotId"`
	SchemaID          int     `json:"schemaId"`
	ColumnCount       int     `json:"columnCount"`
	TotalRecords      string  `json:"totalRecords"`
	TotalDataFiles    string  `json:"totalDataFiles"`
	TotalFileSize     string  `json:"totalFileSize"`
}

type rowsResult struct {
	Columns  []string                 `json:"columns"`
	Rows     []map[string]interface{} `json:"rows"`
	RowCount int                      `json:"rowCount"`
}

func listNamespaces(ctx context.Context, cat catalog.Catalog, params map[string]interface{}) (interface{}, error) {
	var args listNamespacesArgs
	if err := decodeParams(params, &args); err != nil {
		return nil, err
	}

	var parent catalog.Identifier
	if args.Parent != "" {
		id, err := catalog.ParseIdentifier(args.Parent)
		if err != nil {
			return nil, err
		}
		parent = id
	}

	namespaces, err := walkNamespaces(ctx, cat, parent, 0)
	if err != nil {
		log.Debug().Err(err).Str("parent", parent.String()).Msg("Namespace listing failed")
		namespaces = []string{}
	}
	return map[string]interface{}{"namespaces": namespaces}, nil
}

// walkNamespaces lists parent's descendants depth-first. A child whose own
// listing fails is left out together with its subtree.
func walkNamespaces(ctx context.Context, cat catalog.Catalog, parent catalog.Identifier, depth int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	children, err := cat.ListNamespaces(ctx, parent)
	if err != nil {
		return nil, err
	}

	out := []string{}
	if depth >= maxNamespaceDepth {
		return out, nil
	}
	for _, child := range children {
		if len(parent) > 0 && !child.HasPrefix(parent) {
			child = parent.Join(child...)
		}
		if child.Equal(parent) {
			continue
		}
		sub, err := walkNamespaces(ctx, cat, child, depth+1)
		if err != nil {
			log.Debug().Err(err).Str("namespace", child.String()).Msg("Skipping namespace")
			continue
		}
		out = append(out, child.String())
		out = append(out, sub...)
	}
	return out, nil
}

func listTables(ctx context.Context, cat catalog.Catalog, params map[string]interface{}) (interface{}, error) {
	var args listTablesArgs
	if err := decodeParams(params, &args); err != nil {
		return nil, err
	}
	ns, err := catalog.ParseIdentifier(args.Namespace)
	if err != nil {
		return nil, err
	}

	tables, err := cat.ListTables(ctx, ns)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(tables))
	for _, t := range tables {
		names = append(names, t.Name())
	}
	return struct {
		Namespace string   `json:"namespace"`
		Tables    []string `json:"tables"`
	}{ns.String(), names}, nil
}

func describeTable(ctx context.Context, cat catalog.Catalog, params map[string]interface{}) (interface{}, error) {
	meta, _, err := loadTable(ctx, cat, params)
	if err != nil {
		return nil, err
	}

	columns := make([]columnInfo, 0, len(meta.Fields))
	for _, f := range meta.Fields {
		columns = append(columns, columnInfo{Name: f.Name, Type: f.Type, Required: f.Required, Doc: f.Doc})
	}
	partitionSpec := make([]string, 0, len(meta.PartitionFields))
	for _, p := range meta.PartitionFields {
		partitionSpec = append(partitionSpec, p.String())
	}
	properties := meta.Properties
	if properties == nil {
		properties = map[string]string{}
	}

	return struct {
		Columns       []columnInfo      `json:"columns"`
		PartitionSpec []string          `json:"partitionSpec"`
		Properties    map[string]string `json:"properties"`
	}{columns, partitionSpec, properties}, nil
}

func readTable(ctx context.Context, cat catalog.Catalog, params map[string]interface{}) (interface{}, error) {
	var args readTableArgs
	if err := decodeParams(params, &args); err != nil {
		return nil, err
	}
	id, err := catalog.ParseIdentifier(args.Table)
	if err != nil {
		return nil, err
	}

	rs, err := cat.ReadTable(ctx, id, catalog.ReadOptions{
		Columns: args.Columns,
		Filter:  args.FilterExpr,
		Limit:   effectiveLimit(args.Limit),
	})
	if err != nil {
		return nil, err
	}
	return rowsResult{
		Columns:  nonNil(rs.Columns),
		Rows:     sanitizeRows(rs.Rows),
		RowCount: len(rs.Rows),
	}, nil
}

// effectiveLimit applies the read_table default and cap.
func effectiveLimit(limit int) int {
	if limit <= 0 {
		return DefaultReadLimit
	}
	if limit > MaxResultRows {
		return MaxResultRows
	}
	return limit
}

func querySQL(ctx context.Context, cat catalog.Catalog, params map[string]interface{}) (interface{}, error) {
	var args querySQLArgs
	if err := decodeParams(params, &args); err != nil {
		return nil, err
	}

	rs, err := cat.Query(ctx, args.SQL)
	if err != nil {
		return nil, err
	}
	rows := rs.Rows
	if len(rows) > MaxResultRows {
		rows = rows[:MaxResultRows]
	}
	return rowsResult{
		Columns:  nonNil(rs.Columns),
		Rows:     sanitizeRows(rows),
		RowCount: rs.RowCount(),
	}, nil
}

func getSnapshots(ctx context.Context, cat catalog.Catalog, params map[string]interface{}) (interface{}, error) {
	meta, _, err := loadTable(ctx, cat, params)
	if err != nil {
		return nil, err
	}

	snapshots := make([]snapshotInfo, 0, len(meta.Snapshots))
	for _, s := range meta.Snapshots {
		snapshots = append(snapshots, snapshotInfo{
			SnapshotID: strconv.FormatInt(s.SnapshotID, 10),
			Timestamp:  strconv.FormatInt(s.TimestampMs, 10),
			Operation:  s.Operation(),
		})
	}
	return map[string]interface{}{"snapshots": snapshots}, nil
}

func getTableStats(ctx context.Context, cat catalog.Catalog, params map[string]interface{}) (interface{}, error) {
	meta, name, err := loadTable(ctx, cat, params)
	if err != nil {
		return nil, err
	}

	stats := tableStats{
		Table:          name,
		SchemaID:       meta.SchemaID,
		ColumnCount:    len(meta.Fields),
		TotalRecords:   "unknown",
		TotalDataFiles: "unknown",
		TotalFileSize:  "unknown",
	}
	if current := meta.CurrentSnapshot(); current != nil {
		id := strconv.FormatInt(current.SnapshotID, 10)
		stats.CurrentSnapshotID = &id
		stats.TotalRecords = summaryValue(current.Summary, "total-records")
		stats.TotalDataFiles = summaryValue(current.Summary, "total-data-files")
		stats.TotalFileSize = summaryValue(current.Summary, "total-files-size")
	}
	return stats, nil
}

// loadTable loads the table named by the "table" param and returns it with
// its dot-joined name.
func loadTable(ctx context.Context, cat catalog.Catalog, params map[string]interface{}) (*catalog.TableMetadata, string, error) {
	var args tableArgs
	if err := decodeParams(params, &args); err != nil {
		return nil, "", err
	}
	id, err := catalog.ParseIdentifier(args.Table)
	if err != nil {
		return nil, "", err
	}
	meta, err := cat.LoadTable(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if meta == nil {
		return nil, "", fmt.Errorf("table %s: no metadata", id)
	}
	return meta, id.String(), nil
}

func summaryValue(summary map[string]string, key string) string {
	if v, ok := summary[key]; ok && v != "" {
		return v
	}
	return "unknown"
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
