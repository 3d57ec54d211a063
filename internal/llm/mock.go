package llm

import (
	"context"
	"sync"
)

// MockProvider replays scripted responses in order, recording every prompt
// it sees. When the script runs out it returns the final response forever,
// or ErrEmptyResponse if no script was given.
type MockProvider struct {
	mu        sync.Mutex
	responses []string
	next      int

	// Respond, when set, overrides the script entirely.
	Respond func(systemPrompt, userPrompt string) (string, error)

	SystemPrompts []string
	UserPrompts   []string
}

// NewMockProvider creates a mock that replays responses in order.
func NewMockProvider(responses ...string) *MockProvider {
	return &MockProvider{responses: responses}
}

// Complete implements Provider.
func (m *MockProvider) Complete(ctx context.Context, prompt string) (string, error) {
	return m.CompleteWithSystem(ctx, "", prompt)
}

// CompleteWithSystem implements Provider.
func (m *MockProvider) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.SystemPrompts = append(m.SystemPrompts, systemPrompt)
	m.UserPrompts = append(m.UserPrompts, userPrompt)

	if m.Respond != nil {
		return m.Respond(systemPrompt, userPrompt)
	}
	if len(m.responses) == 0 {
		return "", ErrEmptyResponse
	}
	resp := m.responses[m.next]
	if m.next < len(m.responses)-1 {
		m.next++
	}
	return resp, nil
}

// Calls reports how many completions were requested.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.UserPrompts)
}
