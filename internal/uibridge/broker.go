// Package uibridge connects agents to a human-facing web client. One client
// session is active at a time; agents enqueue typed commands onto it and
// block for the resolved result. Commands and results correlate by id, so
// the client may answer out of order.
package uibridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"agenthive/internal/logging"
)

var (
	ErrNoActiveSession = errors.New("no active ui session")
	ErrUITimeout       = errors.New("ui command timed out")
	ErrUnknownCommand  = errors.New("unknown ui command")
)

// CommandFrame is the JSON shape pushed to the web client.
type CommandFrame struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

// FrameError carries client-side failure detail inside a ResultFrame.
type FrameError struct {
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// ResultFrame is the JSON shape the web client sends back.
type ResultFrame struct {
	ID     string      `json:"id"`
	OK     bool        `json:"ok"`
	Result any         `json:"result,omitempty"`
	Error  *FrameError `json:"error,omitempty"`
}

// ClientError is a failure the web client reported for a command, carrying
// the structured detail payload it attached.
type ClientError struct {
	Message string
	Details map[string]any
}

func (e *ClientError) Error() string { return e.Message }

// FrontendSession is the transport-facing half of a connected client. The
// websocket implementation lives in session.go; tests substitute fakes.
type FrontendSession interface {
	ID() string
	Deliver(frame CommandFrame) error
	Close()
}

type commandResult struct {
	value any
	err   error
}

type pendingCommand struct {
	frame     CommandFrame
	sessionID string
	ch        chan commandResult
	resolved  bool

	// abandoned marks a command whose waiter already gave up; the next
	// resolution or expiry removes it instead of queueing a result.
	abandoned bool
}

// Broker owns the single active front-end session and the in-flight command
// table. All methods are safe for concurrent use.
type Broker struct {
	mu      sync.Mutex
	active  FrontendSession
	pending map[string]*pendingCommand
}

// NewBroker creates a broker with no active session.
func NewBroker() *Broker {
	return &Broker{pending: make(map[string]*pendingCommand)}
}

// Attach makes s the active session. A previously active session is closed
// and its in-flight commands resolve with ErrNoActiveSession; waiters never
// receive a result from a client that is no longer connected.
func (b *Broker) Attach(s FrontendSession) {
	b.mu.Lock()
	prev := b.active
	b.active = s
	if prev != nil {
		b.expireLocked(prev.ID())
	}
	b.mu.Unlock()

	if prev != nil {
		prev.Close()
		logging.UI("Broker: session %s replaced by %s", prev.ID(), s.ID())
		return
	}
	logging.UI("Broker: session %s attached", s.ID())
}

// Detach removes s if it is still the active session and expires its
// in-flight commands. A stale detach (s already replaced) is a no-op.
func (b *Broker) Detach(s FrontendSession) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.active == nil || b.active.ID() != s.ID() {
		return
	}
	b.active = nil
	b.expireLocked(s.ID())
	logging.UI("Broker: session %s detached", s.ID())
}

// HasActiveSession reports whether a client is currently connected.
func (b *Broker) HasActiveSession() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active != nil
}

// EnqueueToActive registers a command, pushes it to the active session, and
// returns the command id for a later WaitForResult.
func (b *Broker) EnqueueToActive(cmdType string, payload map[string]any) (string, error) {
	b.mu.Lock()
	if b.active == nil {
		b.mu.Unlock()
		return "", ErrNoActiveSession
	}
	session := b.active
	cmd := &pendingCommand{
		frame:     CommandFrame{ID: uuid.NewString(), Type: cmdType, Payload: payload},
		sessionID: session.ID(),
		ch:        make(chan commandResult, 1),
	}
	b.pending[cmd.frame.ID] = cmd
	b.mu.Unlock()

	if err := session.Deliver(cmd.frame); err != nil {
		b.mu.Lock()
		delete(b.pending, cmd.frame.ID)
		b.mu.Unlock()
		return "", fmt.Errorf("delivering ui command: %w", err)
	}

	logging.UIDebug("Broker: enqueued %s command %s on session %s", cmdType, cmd.frame.ID, session.ID())
	return cmd.frame.ID, nil
}

// WaitForResult blocks until the command resolves, the timeout elapses, or
// ctx is cancelled. A command the waiter gave up on is marked abandoned; the
// next resolution for it is absorbed and the entry pruned.
func (b *Broker) WaitForResult(ctx context.Context, commandID string, timeoutMs int) (any, error) {
	b.mu.Lock()
	cmd, ok := b.pending[commandID]
	b.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, commandID)
	}

	timer := time.NewTimer(time.Duration(timeoutMs) * time.Millisecond)
	defer timer.Stop()

	select {
	case res := <-cmd.ch:
		b.mu.Lock()
		delete(b.pending, commandID)
		b.mu.Unlock()
		return res.value, res.err
	case <-timer.C:
		b.abandon(commandID)
		return nil, fmt.Errorf("%w: command %s after %dms", ErrUITimeout, commandID, timeoutMs)
	case <-ctx.Done():
		b.abandon(commandID)
		return nil, ctx.Err()
	}
}

// abandon detaches the waiter from a command. An already-resolved command is
// pruned immediately (its queued result goes unobserved); an unresolved one
// is pruned by whichever Resolve or expiry touches it next.
func (b *Broker) abandon(commandID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cmd, ok := b.pending[commandID]
	if !ok {
		return
	}
	if cmd.resolved {
		delete(b.pending, commandID)
		return
	}
	cmd.abandoned = true
}

// Resolve records the outcome of a command. Resolution is idempotent: the
// first call wins, later calls for the same id are ignored.
func (b *Broker) Resolve(commandID string, result any, resErr error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cmd, ok := b.pending[commandID]
	if !ok || cmd.resolved {
		logging.UIDebug("Broker: dropping duplicate or stale resolution for %s", commandID)
		return
	}
	if cmd.abandoned {
		delete(b.pending, commandID)
		logging.UIDebug("Broker: absorbed late resolution for abandoned command %s", commandID)
		return
	}
	cmd.resolved = true
	cmd.ch <- commandResult{value: result, err: resErr}
}

// resolveFrame maps a client result frame onto Resolve.
func (b *Broker) resolveFrame(frame ResultFrame) {
	if frame.OK {
		b.Resolve(frame.ID, frame.Result, nil)
		return
	}
	ce := &ClientError{Message: "ui command failed"}
	if frame.Error != nil {
		if frame.Error.Message != "" {
			ce.Message = frame.Error.Message
		}
		ce.Details = frame.Error.Details
	}
	b.Resolve(frame.ID, nil, ce)
}

// expireLocked fails every unresolved command owned by sessionID. Caller
// holds b.mu.
func (b *Broker) expireLocked(sessionID string) {
	for id, cmd := range b.pending {
		if cmd.sessionID != sessionID || cmd.resolved {
			continue
		}
		if cmd.abandoned {
			delete(b.pending, id)
			continue
		}
		cmd.resolved = true
		cmd.ch <- commandResult{err: ErrNoActiveSession}
		logging.UIDebug("Broker: expired in-flight command %s (session %s gone)", id, sessionID)
	}
}

// PendingCount reports in-flight commands, for diagnostics.
func (b *Broker) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, cmd := range b.pending {
		if !cmd.resolved {
			n++
		}
	}
	return n
}
