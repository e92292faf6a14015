package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/harun/icetop/pkg/commandqueue"
	"github.com/harun/icetop/pkg/session"
	"github.com/harun/icetop/pkg/toolexecutor"
)

// SendRequest is one user message for a session.
type SendRequest struct {
	SessionID string `json:"sessionId"`
	Catalog   string `json:"catalog"`
	Message   string `json:"message"`
}

// Chatter answers a message against a session.
type Chatter interface {
	Chat(ctx context.Context, sess *session.Session, text string, progress toolexecutor.ProgressFunc) string
}

// Service ties sessions to the agent. Messages for the same session run one
// at a time in arrival order; different sessions run concurrently.
type Service struct {
	sessions *session.Manager
	agent    Chatter
	queue    *commandqueue.CommandQueue
}

// NewService creates a chat service.
func NewService(sessions *session.Manager, agent Chatter, queue *commandqueue.CommandQueue) *Service {
	if queue == nil {
		queue = commandqueue.New()
	}
	return &Service{
		sessions: sessions,
		agent:    agent,
		queue:    queue,
	}
}

// Send delivers req.Message to its session and returns the reply. Errors are
// only returned when the session cannot be opened or the call never ran.
func (s *Service) Send(ctx context.Context, req SendRequest, progress toolexecutor.ProgressFunc) (string, error) {
	if strings.TrimSpace(req.Message) == "" {
		return "", fmt.Errorf("message is required")
	}
	id := session.NormalizeID(req.SessionID)

	result, err := s.queue.Enqueue(ctx, laneFor(id), func(taskCtx context.Context) (interface{}, error) {
		sess, err := s.sessions.GetOrCreate(taskCtx, id, req.Catalog)
		if err != nil {
			return nil, fmt.Errorf("failed to open session %s: %w", id, err)
		}
		return s.agent.Chat(taskCtx, sess, req.Message, progress), nil
	})
	if err != nil {
		log.Warn().Str("session_id", id).Err(err).Msg("Chat not delivered")
		return "", err
	}
	return result.(string), nil
}

// Reset clears one session; an empty id clears every session.
func (s *Service) Reset(id string) int {
	if id == "" {
		return s.sessions.ResetAll()
	}
	if s.sessions.Reset(id) {
		return 1
	}
	return 0
}

// ResetAll clears every session.
func (s *Service) ResetAll() int {
	return s.sessions.ResetAll()
}

// ReloadAll clears every session. Catalog handles stay open.
func (s *Service) ReloadAll() int {
	return s.sessions.ReloadAll()
}

// Sessions returns the live session ids.
func (s *Service) Sessions() []string {
	return s.sessions.IDs()
}

// Close stops the queue, cancelling chats still running.
func (s *Service) Close() error {
	return s.queue.Close()
}

func laneFor(sessionID string) string {
	return "session:" + sessionID
}
