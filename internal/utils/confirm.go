package utils

import (
	"context"
	"sync"
	"time"
)

type ConfirmResult int

const (
	ConfirmTimeout ConfirmResult = iota
	ConfirmApproved
	ConfirmRejected
)

type pendingConfirm struct {
	actorID string
	done    chan ConfirmResult
}

// Confirmations tracks single-shot yes/no acknowledgments keyed by message
// id. Each pending entry has exactly one waiting consumer; it resolves at
// most once and is dropped on deadline.
type Confirmations struct {
	mu      sync.Mutex
	pending map[string]*pendingConfirm
}

func NewConfirmations() *Confirmations {
	return &Confirmations{pending: make(map[string]*pendingConfirm)}
}

// Await blocks until the confirmation for messageID is resolved by actorID,
// the timeout elapses, or the context is cancelled. Timeout and cancellation
// both read as ConfirmTimeout: the operation is treated as cancelled.
func (c *Confirmations) Await(ctx context.Context, messageID, actorID string, timeout time.Duration) ConfirmResult {
	entry := &pendingConfirm{actorID: actorID, done: make(chan ConfirmResult, 1)}
	c.mu.Lock()
	c.pending[messageID] = entry
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, messageID)
		c.mu.Unlock()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case result := <-entry.done:
		return result
	case <-timer.C:
		return ConfirmTimeout
	case <-ctx.Done():
		return ConfirmTimeout
	}
}

// Resolve delivers a reaction outcome to the waiter, if any. Reactions from
// anyone but the registered actor are ignored.
func (c *Confirmations) Resolve(messageID, actorID string, approved bool) bool {
	c.mu.Lock()
	entry := c.pending[messageID]
	if entry == nil || entry.actorID != actorID {
		c.mu.Unlock()
		return false
	}
	delete(c.pending, messageID)
	c.mu.Unlock()

	result := ConfirmRejected
	if approved {
		result = ConfirmApproved
	}
	entry.done <- result
	return true
}
