// Package llm is the boundary to the reasoning engine. The runtime talks to
// a Provider and never to a vendor SDK directly; tests use the deterministic
// mock.
package llm

import (
	"context"
	"errors"
)

var (
	ErrEmptyResponse = errors.New("llm returned an empty response")
	ErrNotConfigured = errors.New("llm provider not configured")
)

// Provider produces completions. Implementations must be safe for
// concurrent use; agent turns run in parallel goroutines.
type Provider interface {
	// Complete returns a completion for a bare prompt.
	Complete(ctx context.Context, prompt string) (string, error)

	// CompleteWithSystem returns a completion with a separate system prompt.
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}
