// Package conversation manages per-agent ordered message histories and their
// best-effort auto-compression. Each agent's history is the exact object its
// next reasoning step reads; compression operates in place on that object.
package conversation

import (
	"sync"

	"agenthive/internal/logging"
)

// Entry is a role/content pair suitable for presentation to the reasoning
// engine.
type Entry struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

// Entry roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// History is an agent's ordered entry sequence. Appends go to the tail;
// compression may only replace a prefix with a summary entry, so surviving
// entries never reorder.
type History struct {
	mu      sync.Mutex
	entries []Entry
}

// Append adds an entry to the tail.
func (h *History) Append(e Entry) {
	h.mu.Lock()
	h.entries = append(h.entries, e)
	h.mu.Unlock()
}

// Entries returns a copy of the history in order.
func (h *History) Entries() []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Entry, len(h.entries))
	copy(out, h.entries)
	return out
}

// Len returns the number of entries.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// ReplacePrefix swaps the first n entries for a single summary entry. It is
// the only mutation compressors may perform; n is clamped so the most recent
// entry always survives.
func (h *History) ReplacePrefix(n int, summary Entry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n <= 0 || len(h.entries) == 0 {
		return
	}
	if n >= len(h.entries) {
		n = len(h.entries) - 1
	}
	if n <= 0 {
		return
	}
	rest := h.entries[n:]
	h.entries = append([]Entry{summary}, rest...)
}

// Compressor summarizes a live history in place. Implementations are
// best-effort: a returned error (or panic) is logged and swallowed by the
// manager, never surfaced to the agent's turn.
type Compressor interface {
	Compress(h *History) error
}

// Manager owns every agent's conversation history.
type Manager struct {
	mu         sync.RWMutex
	histories  map[string]*History
	compressor Compressor
}

// NewManager creates a manager. The compressor may be nil, in which case
// auto-compression is a no-op.
func NewManager(c Compressor) *Manager {
	return &Manager{
		histories:  make(map[string]*History),
		compressor: c,
	}
}

// Append adds an entry to the agent's history, creating it on first use.
func (m *Manager) Append(agentID string, e Entry) {
	m.history(agentID, true).Append(e)
	logging.ConversationDebug("Append: agent=%s role=%s len=%d", agentID, e.Role, len(e.Content))
}

// History returns the agent's live history, or nil if none exists.
func (m *Manager) History(agentID string) *History {
	return m.history(agentID, false)
}

func (m *Manager) history(agentID string, create bool) *History {
	m.mu.RLock()
	h, ok := m.histories[agentID]
	m.mu.RUnlock()
	if ok || !create {
		return h
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.histories[agentID]; ok {
		return h
	}
	h = &History{}
	m.histories[agentID] = h
	return h
}

// ProcessAutoCompression hands the agent's live history to the configured
// compressor. With no compressor or no history this is a silent no-op.
// Compressor errors and panics are logged and swallowed: compression is a
// memory-bounding aid and must never abort the agent's turn.
func (m *Manager) ProcessAutoCompression(agentID string) {
	m.mu.RLock()
	c := m.compressor
	h := m.histories[agentID]
	m.mu.RUnlock()

	if c == nil {
		logging.ConversationDebug("ProcessAutoCompression: no compressor configured, skipping for %s", agentID)
		return
	}
	if h == nil {
		logging.ConversationDebug("ProcessAutoCompression: no history for %s, skipping", agentID)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			logging.Get(logging.CategoryConversation).Error(
				"ProcessAutoCompression: compressor panicked for %s: %v", agentID, r)
		}
	}()
	if err := c.Compress(h); err != nil {
		logging.Get(logging.CategoryConversation).Error(
			"ProcessAutoCompression: compression failed for %s: %v", agentID, err)
	}
}

// Drop destroys the agent's history. Called when the agent terminates.
func (m *Manager) Drop(agentID string) {
	m.mu.Lock()
	delete(m.histories, agentID)
	m.mu.Unlock()
	logging.ConversationDebug("Drop: removed history for %s", agentID)
}
