package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/harun/icetop/pkg/catalog"
)

// SystemPrompt seeds every new session.
const SystemPrompt = `You are IceTop AI, a helpful data assistant for Apache Iceberg catalogs.

You have access to tools that let you explore and query Iceberg tables. When the user asks
about their data, USE THE TOOLS to get real information before responding. Do not guess or
make up table names, schemas, or data.

Guidelines:
- When listing tables, use list_namespaces first, then list_tables for each relevant namespace.
- Use describe_table to see column names and types before writing SQL.
- Use read_table for simple data retrieval. Use query_sql for complex analytics.
- For read_table, always set a reasonable limit (50 unless the user asks for more).
- Present data in clean, readable markdown tables.
- When showing query results, include the SQL you ran.
- Be concise in your explanations.
`

// Session is one conversation bound to one catalog handle.
// The message list only grows, except for Repair dropping an unanswered tail.
type Session struct {
	ID          string
	CatalogName string
	Catalog     catalog.Catalog
	CreatedAt   time.Time

	mu       sync.Mutex
	messages []Message
}

// New creates a session seeded with systemPrompt.
func New(id, catalogName string, cat catalog.Catalog, systemPrompt string) *Session {
	return &Session{
		ID:          id,
		CatalogName: catalogName,
		Catalog:     cat,
		CreatedAt:   time.Now(),
		messages:    []Message{SystemMessage(systemPrompt)},
	}
}

// Append adds messages in order.
func (s *Session) Append(msgs ...Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msgs...)
}

// Messages returns a copy of the history.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

// Len returns the number of messages.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// Last returns the most recent message.
func (s *Session) Last() (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) == 0 {
		return Message{}, false
	}
	return s.messages[len(s.messages)-1], true
}

// Validate checks that tool messages pair with the calls that precede them.
func (s *Session) Validate() error {
	return ValidateHistory(s.Messages())
}

// Repair drops a trailing assistant tool call block whose calls were not all
// answered, and returns how many messages were removed.
func (s *Session) Repair() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := danglingBlock(s.messages)
	if idx < 0 {
		return 0
	}
	removed := len(s.messages) - idx
	s.messages = s.messages[:idx]
	return removed
}

// ValidateHistory checks the pairing invariant on msgs.
func ValidateHistory(msgs []Message) error {
	var pending map[string]bool
	var inBlock bool

	for i, m := range msgs {
		switch {
		case m.Role == RoleTool:
			if !inBlock {
				return fmt.Errorf("message %d: tool result %q does not follow a tool call", i, m.ToolCallID)
			}
			if !pending[m.ToolCallID] {
				return fmt.Errorf("message %d: tool result %q answers no pending call", i, m.ToolCallID)
			}
			delete(pending, m.ToolCallID)

		default:
			if inBlock && len(pending) > 0 {
				return fmt.Errorf("message %d: %d tool call(s) left unanswered", i, len(pending))
			}
			inBlock = false
			pending = nil

			if m.HasToolCalls() {
				inBlock = true
				pending = make(map[string]bool, len(m.ToolCalls))
				for _, c := range m.ToolCalls {
					if c.ID == "" {
						return fmt.Errorf("message %d: tool call %q has no id", i, c.Name)
					}
					if pending[c.ID] {
						return fmt.Errorf("message %d: duplicate tool call id %q", i, c.ID)
					}
					pending[c.ID] = true
				}
			}
		}
	}

	if inBlock && len(pending) > 0 {
		return fmt.Errorf("%d tool call(s) left unanswered", len(pending))
	}
	return nil
}

// danglingBlock returns the index of the last assistant tool call message when
// it is followed only by tool results that leave some call unanswered, else -1.
func danglingBlock(msgs []Message) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.Role == RoleTool {
			continue
		}
		if !m.HasToolCalls() {
			return -1
		}

		answered := make(map[string]bool, len(msgs)-i-1)
		for _, r := range msgs[i+1:] {
			answered[r.ToolCallID] = true
		}
		for _, c := range m.ToolCalls {
			if !answered[c.ID] {
				return i
			}
		}
		return -1
	}
	return -1
}
