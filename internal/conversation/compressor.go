package conversation

import (
	"fmt"
	"strings"

	"agenthive/internal/logging"
)

// WindowCompressor bounds history growth by replacing everything but the last
// KeepRecent entries with a single summary entry once the history exceeds
// Threshold entries. Leading system entries (the seeded prompt) are preserved
// verbatim so the agent never loses its role instructions.
type WindowCompressor struct {
	// Threshold is the entry count that triggers compression.
	Threshold int

	// KeepRecent is the number of trailing entries kept verbatim.
	KeepRecent int

	// Summarize turns the compressed prefix into summary text. When nil, a
	// plain truncation notice is used.
	Summarize func(entries []Entry) (string, error)
}

// DefaultWindowCompressor returns a compressor with conservative bounds.
func DefaultWindowCompressor() *WindowCompressor {
	return &WindowCompressor{Threshold: 40, KeepRecent: 10}
}

// Compress summarizes the history prefix in place. Surviving entries keep
// their order; the most recent turn is never compressed.
func (c *WindowCompressor) Compress(h *History) error {
	entries := h.Entries()
	if len(entries) <= c.Threshold {
		return nil
	}

	keep := c.KeepRecent
	if keep < 1 {
		keep = 1
	}
	prefixLen := len(entries) - keep
	if prefixLen <= 1 {
		return nil
	}
	prefix := entries[:prefixLen]

	summary, err := c.summarize(prefix)
	if err != nil {
		return fmt.Errorf("summarizing %d entries: %w", prefixLen, err)
	}

	h.ReplacePrefix(prefixLen, Entry{Role: RoleSystem, Content: summary})
	logging.Conversation("Compress: %d entries -> 1 summary + %d recent", prefixLen, keep)
	return nil
}

func (c *WindowCompressor) summarize(prefix []Entry) (string, error) {
	if c.Summarize != nil {
		return c.Summarize(prefix)
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("[Conversation summary: %d earlier entries compressed]\n", len(prefix)))
	// Keep seeded system instructions verbatim inside the summary.
	for _, e := range prefix {
		if e.Role != RoleSystem {
			break
		}
		b.WriteString(e.Content)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
