package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Composite serves metadata from one source and rows from another.
// Rows may be nil, in which case row operations fail with ErrRowsUnavailable.
type Composite struct {
	Name string
	Meta MetadataSource
	Rows RowSource
}

var _ Catalog = (*Composite)(nil)

func (c *Composite) ListNamespaces(ctx context.Context, parent Identifier) ([]Identifier, error) {
	return c.Meta.ListNamespaces(ctx, parent)
}

func (c *Composite) ListTables(ctx context.Context, namespace Identifier) ([]Identifier, error) {
	return c.Meta.ListTables(ctx, namespace)
}

func (c *Composite) LoadTable(ctx context.Context, table Identifier) (*TableMetadata, error) {
	return c.Meta.LoadTable(ctx, table)
}

func (c *Composite) ReadTable(ctx context.Context, table Identifier, opts ReadOptions) (*ResultSet, error) {
	if c.Rows == nil {
		return nil, c.rowsUnavailable()
	}
	return c.Rows.ReadTable(ctx, table, opts)
}

func (c *Composite) Query(ctx context.Context, sql string) (*ResultSet, error) {
	if c.Rows == nil {
		return nil, c.rowsUnavailable()
	}
	return c.Rows.Query(ctx, sql)
}

func (c *Composite) rowsUnavailable() error {
	return fmt.Errorf("catalog %q: %w (set sql-uri in the catalog config)", c.Name, ErrRowsUnavailable)
}

// Close closes both sources when they hold resources.
func (c *Composite) Close() error {
	var errs []error
	if closer, ok := c.Meta.(io.Closer); ok {
		errs = append(errs, closer.Close())
	}
	if closer, ok := c.Rows.(io.Closer); ok {
		errs = append(errs, closer.Close())
	}
	return errors.Join(errs...)
}
