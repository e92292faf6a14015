package catalog

import (
	"context"
	"io"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/icetop/internal/observability"
	"github.com/harun/icetop/internal/tracing"
)

const tracerName = "icetop/catalog"

// Instrument wraps c so every call records a span and a latency metric.
func Instrument(name string, c Catalog) Catalog {
	return &instrumented{name: name, inner: c}
}

type instrumented struct {
	name  string
	inner Catalog
}

func (i *instrumented) observe(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	attrs = append(attrs, attribute.String("catalog.name", i.name))
	ctx, span := tracing.StartSpan(ctx, tracerName, "catalog."+op, attrs...)
	start := time.Now()
	return ctx, func(err error) {
		observability.RecordCatalogOperation(op, time.Since(start), err == nil)
		tracing.EndSpan(span, err)
	}
}

func (i *instrumented) ListNamespaces(ctx context.Context, parent Identifier) (out []Identifier, err error) {
	ctx, done := i.observe(ctx, "list_namespaces", attribute.String("catalog.parent", parent.String()))
	defer func() { done(err) }()
	return i.inner.ListNamespaces(ctx, parent)
}

func (i *instrumented) ListTables(ctx context.Context, namespace Identifier) (out []Identifier, err error) {
	ctx, done := i.observe(ctx, "list_tables", attribute.String("catalog.namespace", namespace.String()))
	defer func() { done(err) }()
	return i.inner.ListTables(ctx, namespace)
}

func (i *instrumented) LoadTable(ctx context.Context, table Identifier) (out *TableMetadata, err error) {
	ctx, done := i.observe(ctx, "load_table", attribute.String("catalog.table", table.String()))
	defer func() { done(err) }()
	return i.inner.LoadTable(ctx, table)
}

func (i *instrumented) ReadTable(ctx context.Context, table Identifier, opts ReadOptions) (out *ResultSet, err error) {
	ctx, done := i.observe(ctx, "read_table",
		attribute.String("catalog.table", table.String()),
		attribute.Int("catalog.limit", opts.Limit),
	)
	defer func() { done(err) }()
	return i.inner.ReadTable(ctx, table, opts)
}

func (i *instrumented) Query(ctx context.Context, sql string) (out *ResultSet, err error) {
	ctx, done := i.observe(ctx, "query")
	defer func() { done(err) }()
	return i.inner.Query(ctx, sql)
}

func (i *instrumented) Close() error {
	if closer, ok := i.inner.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
