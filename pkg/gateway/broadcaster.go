package gateway

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// eventSender delivers server events to WebSocket clients.
type eventSender struct {
	clients *clientRegistry
	logger  zerolog.Logger
	seq     uint64
}

func newEventSender(clients *clientRegistry, logger zerolog.Logger) *eventSender {
	return &eventSender{clients: clients, logger: logger}
}

// broadcast sends an event to every authenticated client.
func (b *eventSender) broadcast(event string, data interface{}) {
	msg := b.stamp(EventMessage{Event: event, Data: data})
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error().Err(err).Str("event", event).Msg("Failed to marshal event")
		return
	}

	sent, failed := 0, 0
	for _, client := range b.clients.all() {
		if !client.Authenticated {
			continue
		}
		if err := client.WriteMessage(websocket.TextMessage, payload); err != nil {
			b.logger.Warn().Err(err).Str("clientId", client.ID).Str("event", event).Msg("Failed to broadcast to client")
			failed++
			continue
		}
		sent++
	}

	b.logger.Debug().
		Str("event", event).
		Int64("seq", msg.Seq).
		Int("success", sent).
		Int("failed", failed).
		Msg("Event broadcast complete")
}

// sendTo sends an event to one client. Unknown clients are ignored.
func (b *eventSender) sendTo(clientID string, msg EventMessage) {
	client, ok := b.clients.get(clientID)
	if !ok {
		return
	}
	msg = b.stamp(msg)
	if err := client.WriteJSON(msg); err != nil {
		b.logger.Warn().Err(err).Str("clientId", clientID).Str("event", msg.Event).Msg("Failed to send event")
	}
}

func (b *eventSender) stamp(msg EventMessage) EventMessage {
	msg.Type = "event"
	msg.Seq = int64(atomic.AddUint64(&b.seq, 1))
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
	return msg
}
