// Package bus implements message routing between agents and the external
// user endpoint: per-recipient FIFO mailboxes over a global append-only log,
// plus predicate-filtered blocking waits with timeout.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"agenthive/internal/logging"
)

// Bus errors.
var (
	// ErrEmptySender is returned when a message has no sender address.
	ErrEmptySender = errors.New("message sender cannot be empty")

	// ErrEmptyRecipient is returned when a message has no recipient address.
	ErrEmptyRecipient = errors.New("message recipient cannot be empty")

	// ErrUnknownTask is returned when a message references a task id that
	// no submitted requirement created.
	ErrUnknownTask = errors.New("message references unknown task")
)

// WaitResult is the outcome of a predicate wait. A timeout is a normal,
// expected outcome: Matched is false and no error is reported.
type WaitResult struct {
	Matched bool
	Message Message
}

// TaskChecker reports whether a task id is known. The runtime installs one so
// the bus can reject messages that reference a task with no creator.
type TaskChecker func(taskID string) bool

type waiter struct {
	pred Predicate
	ch   chan Message // buffered; send never blocks the router
}

// Bus routes messages. All methods are safe for concurrent use.
// Send never blocks the sender; delivery within a single (from,to) pair is
// FIFO because both the mailbox and the global log are append-only.
type Bus struct {
	mu        sync.Mutex
	log       []Message
	mailboxes map[string][]Message
	waiters   []*waiter
	taskCheck TaskChecker
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		mailboxes: make(map[string][]Message),
	}
}

// SetTaskChecker installs the task-id validation hook.
// Messages without a task id are never checked.
func (b *Bus) SetTaskChecker(check TaskChecker) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.taskCheck = check
}

// Send validates and routes a message. It appends to the recipient's mailbox
// and the global log, then wakes every pending waiter whose predicate
// matches. The sender is never blocked.
func (b *Bus) Send(msg Message) (Message, error) {
	if msg.From == "" {
		return Message{}, ErrEmptySender
	}
	if msg.To == "" {
		return Message{}, ErrEmptyRecipient
	}

	b.mu.Lock()

	if msg.TaskID != "" && b.taskCheck != nil && !b.taskCheck(msg.TaskID) {
		b.mu.Unlock()
		return Message{}, fmt.Errorf("%w: %s", ErrUnknownTask, msg.TaskID)
	}

	if msg.ID == "" {
		msg = NewMessage(msg.From, msg.To, msg.TaskID, msg.Payload)
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	b.log = append(b.log, msg)
	b.mailboxes[msg.To] = append(b.mailboxes[msg.To], msg)

	// Wake matching waiters. Satisfied waiters are removed; each receives
	// the message exactly once, but the same message may satisfy several.
	var remaining []*waiter
	woken := 0
	for _, w := range b.waiters {
		if w.pred(msg) {
			w.ch <- msg
			woken++
		} else {
			remaining = append(remaining, w)
		}
	}
	b.waiters = remaining
	b.mu.Unlock()

	logging.BusDebug("Send: %s -> %s (task=%s, id=%s, woke %d waiters)",
		msg.From, msg.To, msg.TaskID, msg.ID, woken)
	return msg, nil
}

// WaitFor blocks until a message satisfying pred is available, up to timeout.
// Already-delivered messages are considered first, in log order; predicates
// that must only see fresh messages should filter by message id.
//
// A timeout resolves to WaitResult{Matched: false} with a nil error. Only
// context cancellation is reported as an error.
func (b *Bus) WaitFor(ctx context.Context, pred Predicate, timeout time.Duration) (WaitResult, error) {
	b.mu.Lock()
	for _, msg := range b.log {
		if pred(msg) {
			b.mu.Unlock()
			logging.BusDebug("WaitFor: matched already-delivered message %s", msg.ID)
			return WaitResult{Matched: true, Message: msg}, nil
		}
	}

	w := &waiter{pred: pred, ch: make(chan Message, 1)}
	b.waiters = append(b.waiters, w)
	b.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-w.ch:
		return WaitResult{Matched: true, Message: msg}, nil
	case <-timer.C:
		b.removeWaiter(w)
		// A send may have raced the timer; prefer the delivery.
		select {
		case msg := <-w.ch:
			return WaitResult{Matched: true, Message: msg}, nil
		default:
		}
		logging.BusDebug("WaitFor: timed out after %v", timeout)
		return WaitResult{}, nil
	case <-ctx.Done():
		b.removeWaiter(w)
		return WaitResult{}, ctx.Err()
	}
}

func (b *Bus) removeWaiter(w *waiter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, cur := range b.waiters {
		if cur == w {
			b.waiters = append(b.waiters[:i], b.waiters[i+1:]...)
			return
		}
	}
}

// Mailbox returns a copy of the recipient's mailbox in delivery order.
func (b *Bus) Mailbox(endpoint string) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	box := b.mailboxes[endpoint]
	out := make([]Message, len(box))
	copy(out, box)
	return out
}

// Log returns a copy of the global append-only log.
func (b *Bus) Log() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Message, len(b.log))
	copy(out, b.log)
	return out
}

// PendingWaiters returns the number of parked waiters. Intended for tests
// and diagnostics.
func (b *Bus) PendingWaiters() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.waiters)
}
