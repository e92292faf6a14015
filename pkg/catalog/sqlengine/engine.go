// Package sqlengine serves table rows and SQL queries from a SQLite database
// that mirrors catalog tables. Table "ns.table" is stored as "ns__table".
package sqlengine

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sort"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/harun/icetop/pkg/catalog"
)

// DefaultMaxRows bounds how many rows one query materializes; the remainder is only counted.
const DefaultMaxRows = 10000

var tableRefPattern = regexp.MustCompile(`(?i)(?:FROM|JOIN)\s+([\w]+(?:\.[\w]+)*)`)

// Engine implements catalog.RowSource.
type Engine struct {
	db          *sql.DB
	catalogName string
	maxRows     int
	logger      zerolog.Logger
}

var _ catalog.RowSource = (*Engine)(nil)

// Open opens the SQLite file at path read-only.
func Open(ctx context.Context, path, catalogName string) (*Engine, error) {
	path = strings.TrimPrefix(path, "sqlite:///")
	path = strings.TrimPrefix(path, "file:")

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return New(db, catalogName), nil
}

// New wraps an existing database handle.
func New(db *sql.DB, catalogName string) *Engine {
	return &Engine{
		db:          db,
		catalogName: catalogName,
		maxRows:     DefaultMaxRows,
		logger:      log.With().Str("component", "sqlengine").Str("catalog", catalogName).Logger(),
	}
}

// Close closes the database.
func (e *Engine) Close() error {
	return e.db.Close()
}

// TableAlias maps a table identifier to its SQLite table name.
func (e *Engine) TableAlias(id catalog.Identifier) string {
	return strings.Join(catalog.StripCatalogPrefix(id, e.catalogName), "__")
}

// ReadTable implements catalog.RowSource. Filter is a SQL boolean expression.
func (e *Engine) ReadTable(ctx context.Context, table catalog.Identifier, opts catalog.ReadOptions) (*catalog.ResultSet, error) {
	cols := "*"
	if len(opts.Columns) > 0 {
		quoted := make([]string, len(opts.Columns))
		for i, c := range opts.Columns {
			quoted[i] = quoteIdent(c)
		}
		cols = strings.Join(quoted, ", ")
	}

	q := fmt.Sprintf("SELECT %s FROM %s", cols, quoteIdent(e.TableAlias(table)))
	if f := strings.TrimSpace(opts.Filter); f != "" {
		q += " WHERE " + f
	}
	if opts.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}

	rs, err := e.run(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", table, err)
	}
	return rs, nil
}

// Query implements catalog.RowSource. Catalog prefixes are stripped and dotted
// table references rewritten to their aliases before execution.
func (e *Engine) Query(ctx context.Context, query string) (*catalog.ResultSet, error) {
	rewritten := e.Rewrite(query)
	if rewritten != query {
		e.logger.Debug().Str("query", query).Str("rewritten", rewritten).Msg("Rewrote table references")
	}
	return e.run(ctx, rewritten)
}

// Rewrite applies the catalog prefix and alias rewriting used by Query.
func (e *Engine) Rewrite(query string) string {
	if e.catalogName != "" {
		prefix := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(e.catalogName) + `\.([\w][\w.]*)`)
		query = prefix.ReplaceAllString(query, "$1")
	}

	seen := map[string]bool{}
	var refs []string
	for _, m := range tableRefPattern.FindAllStringSubmatch(query, -1) {
		ref := m[1]
		if strings.Contains(ref, ".") && !seen[ref] {
			seen[ref] = true
			refs = append(refs, ref)
		}
	}

	// longest first so "a.b.c" is not clobbered by "a.b"
	sort.Slice(refs, func(i, j int) bool { return len(refs[i]) > len(refs[j]) })
	for _, ref := range refs {
		re := regexp.MustCompile(`\b` + regexp.QuoteMeta(ref) + `\b`)
		query = re.ReplaceAllString(query, strings.ReplaceAll(ref, ".", "__"))
	}
	return query
}

func (e *Engine) run(ctx context.Context, q string) (*catalog.ResultSet, error) {
	rows, err := e.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	rs := &catalog.ResultSet{Columns: cols, Rows: []map[string]any{}}
	for rows.Next() {
		rs.Total++
		if len(rs.Rows) >= e.maxRows {
			continue
		}

		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = values[i]
		}
		rs.Rows = append(rs.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return rs, nil
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
