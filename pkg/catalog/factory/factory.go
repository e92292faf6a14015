// Package factory opens catalog handles from pyiceberg catalog properties.
package factory

import (
	"context"
	"fmt"
	"strings"

	"github.com/harun/icetop/pkg/catalog"
	"github.com/harun/icetop/pkg/catalog/rest"
	"github.com/harun/icetop/pkg/catalog/sqlengine"
)

// NewOpener returns a catalog.Opener reading entries from cfg.
func NewOpener(cfg *catalog.PyIcebergConfig) catalog.Opener {
	return func(ctx context.Context, name string) (catalog.Catalog, error) {
		props, err := cfg.Catalog(name)
		if err != nil {
			return nil, err
		}
		return Open(ctx, name, props)
	}
}

// NewReloadingOpener re-reads the pyiceberg file on every open, so a cleared
// registry picks up edits.
func NewReloadingOpener(path string) catalog.Opener {
	return func(ctx context.Context, name string) (catalog.Catalog, error) {
		cfg, err := catalog.LoadPyIcebergConfig(path)
		if err != nil {
			return nil, err
		}
		return NewOpener(cfg)(ctx, name)
	}
}

// Open builds the handle for one catalog entry. Metadata comes from the REST
// catalog at "uri"; rows come from the SQLite mirror at "sql-uri" when set.
func Open(ctx context.Context, name string, props catalog.Properties) (catalog.Catalog, error) {
	typ := strings.ToLower(props.Get("type"))
	uri := props.Get("uri")
	if typ == "" && (strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://")) {
		typ = "rest"
	}
	if typ != "rest" {
		return nil, fmt.Errorf("catalog %q: type %q is not supported (only rest)", name, typ)
	}

	meta, err := rest.NewClient(rest.Config{
		URI:        uri,
		Warehouse:  props.Get("warehouse"),
		Prefix:     props.Get("prefix"),
		Token:      props.Get("token"),
		Credential: props.Get("credential"),
		Scope:      props.Get("scope"),
	})
	if err != nil {
		return nil, fmt.Errorf("catalog %q: %w", name, err)
	}

	composite := &catalog.Composite{Name: name, Meta: meta}
	if sqlURI := props.Get("sql-uri", "sql.uri"); sqlURI != "" {
		engine, err := sqlengine.Open(ctx, sqlURI, name)
		if err != nil {
			return nil, fmt.Errorf("catalog %q: %w", name, err)
		}
		composite.Rows = engine
	}

	return catalog.Instrument(name, composite), nil
}
