package conversation

import (
	"encoding/json"
	"fmt"

	"agenthive/internal/bus"
)

// userHeader is the fixed header for messages originating from the external
// caller.
const userHeader = "[Message from user]"

// FormatIncoming renders an inbound message as a history entry body.
// The rendering is deterministic: a header identifying the sender, the
// extracted textual content, and (for non-user senders only) a trailing
// instruction naming the exact reply address.
//
// Content extraction prefers the payload's "text" field, then "content",
// then a compact JSON serialization of the whole payload.
func FormatIncoming(msg bus.Message, senderRole string) string {
	header := userHeader
	if msg.From != bus.UserEndpoint {
		header = fmt.Sprintf("[Message from %s (%s)]", senderRole, msg.From)
	}

	body := extractContent(msg.Payload)

	out := header
	if body != "" {
		out += "\n" + body
	}
	if msg.From != bus.UserEndpoint {
		out += fmt.Sprintf("\n\nTo reply, send a message to %q.", msg.From)
	}
	return out
}

// EntryForIncoming wraps FormatIncoming in a user-role history entry.
func EntryForIncoming(msg bus.Message, senderRole string) Entry {
	return Entry{Role: RoleUser, Content: FormatIncoming(msg, senderRole)}
}

func extractContent(payload map[string]any) string {
	if len(payload) == 0 {
		return ""
	}
	if s, ok := payload["text"].(string); ok {
		return s
	}
	if s, ok := payload["content"].(string); ok {
		return s
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf("%v", payload)
	}
	return string(data)
}
