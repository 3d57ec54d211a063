package bus

import (
	"time"

	"github.com/google/uuid"
)

// UserEndpoint is the reserved virtual address for the external caller.
// Messages addressed to it form the externally observable output stream;
// messages from it represent human/external input.
const UserEndpoint = "user"

// Message is an immutable envelope routed between agents and the user endpoint.
// Once recorded it is never mutated.
type Message struct {
	ID        string         `json:"id"`
	From      string         `json:"from"`
	To        string         `json:"to"`
	TaskID    string         `json:"task_id,omitempty"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

// NewMessage builds a message envelope with a fresh id and timestamp.
func NewMessage(from, to, taskID string, payload map[string]any) Message {
	return Message{
		ID:        uuid.NewString(),
		From:      from,
		To:        to,
		TaskID:    taskID,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
}

// Text extracts a human-readable body from the payload.
// Prefers "text", then "content", then empty string.
func (m Message) Text() string {
	if m.Payload == nil {
		return ""
	}
	if s, ok := m.Payload["text"].(string); ok {
		return s
	}
	if s, ok := m.Payload["content"].(string); ok {
		return s
	}
	return ""
}

// Predicate filters messages for blocking waits.
// Predicates must be idempotent-safe: delivery is at-least-once, so a
// predicate that must not re-match a replayed message should filter by id.
type Predicate func(Message) bool

// To returns a predicate matching messages addressed to the given endpoint.
func To(endpoint string) Predicate {
	return func(m Message) bool { return m.To == endpoint }
}

// ForTask returns a predicate matching messages addressed to the given
// endpoint and carrying the given task id.
func ForTask(endpoint, taskID string) Predicate {
	return func(m Message) bool { return m.To == endpoint && m.TaskID == taskID }
}

// Between returns a predicate matching a (from, to) pair.
func Between(from, to string) Predicate {
	return func(m Message) bool { return m.From == from && m.To == to }
}
