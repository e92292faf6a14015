package factory

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/icetop/pkg/catalog"
)

func TestOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/config":
			_, _ = w.Write([]byte(`{}`))
		case "/v1/namespaces":
			_, _ = w.Write([]byte(`{"namespaces": [["sales"]]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	t.Run("should open a metadata-only rest catalog", func(t *testing.T) {
		c, err := Open(context.Background(), "prod", catalog.Properties{"uri": srv.URL})
		require.NoError(t, err)

		ns, err := c.ListNamespaces(context.Background(), nil)
		require.NoError(t, err)
		assert.Equal(t, []catalog.Identifier{{"sales"}}, ns)

		_, err = c.Query(context.Background(), "SELECT 1")
		assert.True(t, errors.Is(err, catalog.ErrRowsUnavailable))
	})

	t.Run("should attach the sqlite mirror", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "mirror.db")
		db, err := sql.Open("sqlite3", path)
		require.NoError(t, err)
		_, err = db.Exec(`CREATE TABLE sales__orders (id INTEGER); INSERT INTO sales__orders VALUES (1), (2)`)
		require.NoError(t, err)
		require.NoError(t, db.Close())

		c, err := Open(context.Background(), "prod", catalog.Properties{"type": "rest", "uri": srv.URL, "sql-uri": path})
		require.NoError(t, err)

		rs, err := c.ReadTable(context.Background(), catalog.Identifier{"prod", "sales", "orders"}, catalog.ReadOptions{Limit: 5})
		require.NoError(t, err)
		assert.Equal(t, 2, rs.RowCount())
	})

	t.Run("should reject other catalog types", func(t *testing.T) {
		_, err := Open(context.Background(), "glue", catalog.Properties{"type": "glue"})
		assert.Error(t, err)
	})
}

func TestNewReloadingOpener(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".pyiceberg.yaml")
	open := NewReloadingOpener(path)

	_, err := open(context.Background(), "prod")
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("catalog:\n  prod:\n    uri: http://localhost:8181\n"), 0o644))
	c, err := open(context.Background(), "prod")
	require.NoError(t, err)
	assert.NotNil(t, c)
}
