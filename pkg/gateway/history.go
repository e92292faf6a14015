package gateway

import (
	"sync"
	"time"
)

const maxHistoryEntries = 100

// QueryRecord is one execute_sql call as reported by get_query_history.
type QueryRecord struct {
	Query           string  `json:"query"`
	Catalog         string  `json:"catalog"`
	Timestamp       string  `json:"timestamp"`
	RowCount        int     `json:"rowCount"`
	ExecutionTimeMs int64   `json:"executionTimeMs"`
	Error           *string `json:"error"`
}

// queryHistory keeps the most recent queries, newest first.
type queryHistory struct {
	mu      sync.Mutex
	entries []QueryRecord
	now     func() time.Time
}

func newQueryHistory() *queryHistory {
	return &queryHistory{now: time.Now}
}

func (h *queryHistory) add(rec QueryRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if rec.Timestamp == "" {
		rec.Timestamp = h.now().UTC().Format("2006-01-02T15:04:05Z")
	}
	h.entries = append([]QueryRecord{rec}, h.entries...)
	if len(h.entries) > maxHistoryEntries {
		h.entries = h.entries[:maxHistoryEntries]
	}
}

func (h *queryHistory) list() []QueryRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]QueryRecord, len(h.entries))
	copy(out, h.entries)
	return out
}
