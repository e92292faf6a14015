package sqlengine

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/icetop/pkg/catalog"
)

func setupEngine(t *testing.T) *Engine {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	stmts := []string{
		`CREATE TABLE sales__orders (id INTEGER, customer TEXT, amount REAL)`,
		`INSERT INTO sales__orders VALUES (1, 'ada', 10.5), (2, 'bob', 20), (3, 'ada', 7.25)`,
		`CREATE TABLE sales__customers (name TEXT, city TEXT)`,
		`INSERT INTO sales__customers VALUES ('ada', 'london'), ('bob', 'paris')`,
	}
	for _, s := range stmts {
		_, err := db.Exec(s)
		require.NoError(t, err)
	}

	e := New(db, "prod")
	return e
}

func TestEngineTableAlias(t *testing.T) {
	e := New(nil, "prod")
	assert.Equal(t, "sales__orders", e.TableAlias(catalog.Identifier{"sales", "orders"}))
	assert.Equal(t, "sales__orders", e.TableAlias(catalog.Identifier{"prod", "sales", "orders"}))
	assert.Equal(t, "a__b__c", e.TableAlias(catalog.Identifier{"a", "b", "c"}))
}

func TestEngineRewrite(t *testing.T) {
	e := New(nil, "prod")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "strips catalog prefix",
			in:   "SELECT * FROM prod.sales.orders",
			want: "SELECT * FROM sales__orders",
		},
		{
			name: "rewrites joins and qualified columns",
			in:   "SELECT sales.orders.id FROM sales.orders JOIN sales.customers ON sales.orders.customer = sales.customers.name",
			want: "SELECT sales__orders.id FROM sales__orders JOIN sales__customers ON sales__orders.customer = sales__customers.name",
		},
		{
			name: "leaves unqualified tables alone",
			in:   "select count(*) from orders",
			want: "select count(*) from orders",
		},
		{
			name: "no table reference",
			in:   "SELECT 1 + 1",
			want: "SELECT 1 + 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.Rewrite(tt.in))
		})
	}
}

func TestEngineReadTable(t *testing.T) {
	e := setupEngine(t)
	ctx := context.Background()

	t.Run("should project, filter and limit", func(t *testing.T) {
		rs, err := e.ReadTable(ctx, catalog.Identifier{"sales", "orders"}, catalog.ReadOptions{
			Columns: []string{"id", "amount"},
			Filter:  "customer = 'ada'",
			Limit:   1,
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"id", "amount"}, rs.Columns)
		require.Len(t, rs.Rows, 1)
		assert.Equal(t, int64(1), rs.Rows[0]["id"])
		assert.Equal(t, 10.5, rs.Rows[0]["amount"])
	})

	t.Run("should fail for an unknown table", func(t *testing.T) {
		_, err := e.ReadTable(ctx, catalog.Identifier{"sales", "nope"}, catalog.ReadOptions{})
		assert.Error(t, err)
	})
}

func TestEngineQuery(t *testing.T) {
	e := setupEngine(t)
	ctx := context.Background()

	t.Run("should run joins over dotted names", func(t *testing.T) {
		rs, err := e.Query(ctx, `SELECT c.city, SUM(o.amount) AS total
			FROM prod.sales.orders o JOIN sales.customers c ON o.customer = c.name
			GROUP BY c.city ORDER BY c.city`)
		require.NoError(t, err)
		assert.Equal(t, []string{"city", "total"}, rs.Columns)
		require.Len(t, rs.Rows, 2)
		assert.Equal(t, "london", rs.Rows[0]["city"])
		assert.InDelta(t, 17.75, rs.Rows[0]["total"], 0.0001)
		assert.Equal(t, 2, rs.RowCount())
	})

	t.Run("should count rows beyond the materialization cap", func(t *testing.T) {
		e.maxRows = 2
		defer func() { e.maxRows = DefaultMaxRows }()

		rs, err := e.Query(ctx, "SELECT * FROM sales.orders")
		require.NoError(t, err)
		assert.Len(t, rs.Rows, 2)
		assert.Equal(t, 3, rs.RowCount())
	})
}

func TestOpenReadOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mirror.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE ns__t (x INTEGER)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	e, err := Open(context.Background(), path, "prod")
	require.NoError(t, err)
	defer e.Close()

	_, err = e.Query(context.Background(), "INSERT INTO ns__t VALUES (1)")
	assert.Error(t, err)

	rs, err := e.Query(context.Background(), "SELECT * FROM ns.t")
	require.NoError(t, err)
	assert.Equal(t, 0, rs.RowCount())
}
