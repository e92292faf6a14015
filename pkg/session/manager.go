package session

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/icetop/internal/observability"
	"github.com/harun/icetop/internal/tracing"
	"github.com/harun/icetop/pkg/catalog"
)

// DefaultSessionID is used when a caller sends no session id.
const DefaultSessionID = "default"

// Reset scopes reported to metrics.
const (
	scopeSingle = "single"
	scopeAll    = "all"
	scopeReload = "reload"
)

// CatalogSource hands out shared catalog handles by name.
type CatalogSource interface {
	Get(ctx context.Context, name string) (catalog.Catalog, error)
}

// Manager maps session ids to sessions. Sessions live in memory only.
type Manager struct {
	mu           sync.Mutex
	sessions     map[string]*Session
	catalogs     CatalogSource
	systemPrompt string
}

// Option configures a Manager.
type Option func(*Manager)

// WithSystemPrompt replaces the prompt seeded into new sessions.
func WithSystemPrompt(prompt string) Option {
	return func(m *Manager) {
		m.systemPrompt = prompt
	}
}

// NewManager creates a manager that opens catalog handles through catalogs.
func NewManager(catalogs CatalogSource, opts ...Option) *Manager {
	observability.EnsureRegistered()

	m := &Manager{
		sessions:     make(map[string]*Session),
		catalogs:     catalogs,
		systemPrompt: SystemPrompt,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NormalizeID maps an empty id to DefaultSessionID.
func NormalizeID(id string) string {
	if id == "" {
		return DefaultSessionID
	}
	return id
}

// GetOrCreate returns the session for id, creating it on first use.
// A session asked for under a different catalog than it was created with is
// replaced, since its tool history refers to the other catalog.
func (m *Manager) GetOrCreate(ctx context.Context, id, catalogName string) (*Session, error) {
	id = NormalizeID(id)
	if catalogName == "" {
		return nil, fmt.Errorf("session %s: catalog name is required", id)
	}

	ctx = tracing.WithSessionID(ctx, id)
	ctx, span := tracing.StartSpan(ctx, "icetop.session", "session.get_or_create",
		attribute.String("session_id", id),
		attribute.String("catalog", catalogName),
	)
	var err error
	defer func() { tracing.EndSpan(span, err) }()
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	if s, ok := m.lookup(id, catalogName); ok {
		return s, nil
	}

	// Opening may be slow; other session ids stay usable meanwhile.
	cat, err := m.catalogs.Get(ctx, catalogName)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[id]; ok {
		if s.CatalogName == catalogName {
			return s, nil
		}
		logger.Info().
			Str("from", s.CatalogName).
			Str("to", catalogName).
			Msg("Catalog changed, starting a new session")
	}

	s := New(id, catalogName, cat, m.systemPrompt)
	m.sessions[id] = s
	observability.SetActiveSessions(len(m.sessions))

	logger.Info().Str("catalog", catalogName).Msg("Session created")
	return s, nil
}

func (m *Manager) lookup(id, catalogName string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.CatalogName != catalogName {
		return nil, false
	}
	return s, true
}

// Get returns an existing session.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[NormalizeID(id)]
	return s, ok
}

// Reset removes one session. Other sessions are untouched.
func (m *Manager) Reset(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	id = NormalizeID(id)
	if _, ok := m.sessions[id]; !ok {
		return false
	}
	delete(m.sessions, id)

	observability.SetActiveSessions(len(m.sessions))
	observability.RecordSessionReset(scopeSingle)
	log.Info().Str("session_id", id).Msg("Session reset")
	return true
}

// ResetAll removes every session and returns how many there were.
func (m *Manager) ResetAll() int {
	n := m.clear()
	observability.RecordSessionReset(scopeAll)
	log.Info().Int("sessions", n).Msg("All sessions reset")
	return n
}

// ReloadAll clears every session so new credentials apply to the next
// message. Catalog handles stay cached and open.
func (m *Manager) ReloadAll() int {
	n := m.clear()
	observability.RecordSessionReset(scopeReload)
	log.Info().Int("sessions", n).Msg("Sessions reloaded")
	return n
}

func (m *Manager) clear() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.sessions)
	m.sessions = make(map[string]*Session)
	observability.SetActiveSessions(0)
	return n
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// IDs returns the live session ids, sorted.
func (m *Manager) IDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
