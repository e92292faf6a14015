package catalog

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// Opener builds a handle for the named catalog.
type Opener func(ctx context.Context, name string) (Catalog, error)

// Registry caches one handle per catalog name. Handles are shared read-only
// between sessions. Opening happens outside mu, so a slow catalog only delays
// callers asking for that same name.
type Registry struct {
	mu      sync.Mutex
	open    Opener
	handles map[string]*handleEntry
}

// handleEntry is a cached or in-flight open. ready is closed once c or err is set.
type handleEntry struct {
	ready chan struct{}
	c     Catalog
	err   error
}

// NewRegistry creates a registry that opens handles with open.
func NewRegistry(open Opener) *Registry {
	return &Registry{
		open:    open,
		handles: make(map[string]*handleEntry),
	}
}

// Get returns the cached handle for name, opening it on first use. Concurrent
// callers for the same name share one open.
func (r *Registry) Get(ctx context.Context, name string) (Catalog, error) {
	r.mu.Lock()
	if e, ok := r.handles[name]; ok {
		r.mu.Unlock()
		select {
		case <-e.ready:
			return e.c, e.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	e := &handleEntry{ready: make(chan struct{})}
	r.handles[name] = e
	r.mu.Unlock()

	c, err := r.open(ctx, name)
	if err != nil {
		err = fmt.Errorf("open catalog %q: %w", name, err)
	}

	r.mu.Lock()
	e.c, e.err = c, err
	if err != nil && r.handles[name] == e {
		delete(r.handles, name)
	}
	close(e.ready)
	r.mu.Unlock()

	if err != nil {
		return nil, err
	}
	log.Debug().Str("catalog", name).Msg("Catalog handle opened")
	return c, nil
}

// Names returns the catalogs with an open handle.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.handles))
	for name, e := range r.handles {
		if e.c != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Clear drops every cached handle, closing those that hold resources. It is
// meant for shutdown: sessions still holding a handle lose it.
func (r *Registry) Clear() {
	r.mu.Lock()
	handles := r.handles
	r.handles = make(map[string]*handleEntry)
	r.mu.Unlock()

	for name, e := range handles {
		<-e.ready
		if closer, ok := e.c.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				log.Warn().Err(err).Str("catalog", name).Msg("Failed to close catalog handle")
			}
		}
	}
}
