package toolexecutor

// Progress event types.
const (
	EventThinking  = "thinking"
	EventToolStart = "tool_start"
	EventToolDone  = "tool_done"
)

// ProgressEvent reports what a chat is doing while it runs.
type ProgressEvent struct {
	Type    string                 `json:"type"`
	Message string                 `json:"message,omitempty"`
	Tool    string                 `json:"tool,omitempty"`
	Args    map[string]interface{} `json:"args,omitempty"`
}

// ProgressFunc receives events synchronously, in order, on the goroutine
// running the chat.
type ProgressFunc func(ProgressEvent)

// Emit calls fn when it is set.
func (fn ProgressFunc) Emit(ev ProgressEvent) {
	if fn != nil {
		fn(ev)
	}
}

// Thinking builds a thinking event.
func Thinking(message string) ProgressEvent {
	return ProgressEvent{Type: EventThinking, Message: message}
}
