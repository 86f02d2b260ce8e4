package message

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ReplyCatcher is a one-shot filter that matches the reply of one specific
// message instance. It is installed on the original sender before the message
// leaves, so the reply is intercepted before any other dispatch.
type ReplyCatcher struct {
	msg     *Message
	once    sync.Once
	caught  chan struct{}
	onReply func(*Message)
}

// NewReplyCatcher creates a catcher for the reply of msg.
func NewReplyCatcher(msg *Message) *ReplyCatcher {
	return &ReplyCatcher{msg: msg, caught: make(chan struct{})}
}

// OnReply sets a hook run once when the reply is caught, before waiters wake.
func (c *ReplyCatcher) OnReply(fn func(*Message)) *ReplyCatcher {
	c.onReply = fn
	return c
}

// ConsumeMessage implements Filter. Matching is by identity, not content.
func (c *ReplyCatcher) ConsumeMessage(_ context.Context, msg *Message) (bool, error) {
	if msg != c.msg || !msg.IsReply() {
		return false, nil
	}
	c.once.Do(func() {
		if c.onReply != nil {
			c.onReply(msg)
		}
		close(c.caught)
	})
	return true, nil
}

// Permanent implements Filter.
func (c *ReplyCatcher) Permanent() bool {
	return false
}

// Caught reports whether the reply arrived.
func (c *ReplyCatcher) Caught() bool {
	select {
	case <-c.caught:
		return true
	default:
		return false
	}
}

// Wait blocks until the reply is caught, the timeout elapses or ctx ends.
// A zero timeout waits forever.
func (c *ReplyCatcher) Wait(ctx context.Context, timeout time.Duration) error {
	return waitClosed(ctx, c.caught, timeout)
}

// MultiReplyCatcher matches the replies of a set of messages and signals once
// when all of them have arrived. It stays installed while replies are pending.
type MultiReplyCatcher struct {
	mu      sync.Mutex
	pending map[*Message]struct{}
	done    chan struct{}
	closed  bool
}

// NewMultiReplyCatcher creates a catcher for the replies of msgs. An empty set
// is complete immediately.
func NewMultiReplyCatcher(msgs ...*Message) *MultiReplyCatcher {
	c := &MultiReplyCatcher{
		pending: make(map[*Message]struct{}, len(msgs)),
		done:    make(chan struct{}),
	}
	for _, m := range msgs {
		c.pending[m] = struct{}{}
	}
	c.signalIfEmpty()
	return c
}

// ConsumeMessage implements Filter.
func (c *MultiReplyCatcher) ConsumeMessage(_ context.Context, msg *Message) (bool, error) {
	if !msg.IsReply() {
		return false, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[msg]; !ok {
		return false, nil
	}
	delete(c.pending, msg)
	c.signalIfEmpty()
	return true, nil
}

// Forget drops msg from the pending set, for messages whose send failed and
// that will never be answered.
func (c *MultiReplyCatcher) Forget(msg *Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, msg)
	c.signalIfEmpty()
}

// must hold c.mu
func (c *MultiReplyCatcher) signalIfEmpty() {
	if len(c.pending) == 0 && !c.closed {
		close(c.done)
		c.closed = true
	}
}

// Permanent implements Filter. The catcher becomes removable once the last
// pending reply has matched.
func (c *MultiReplyCatcher) Permanent() bool {
	return c.Pending() > 0
}

// Pending returns how many replies are still missing.
func (c *MultiReplyCatcher) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Wait blocks until every reply arrived, the timeout elapses or ctx ends.
// A zero timeout waits forever.
func (c *MultiReplyCatcher) Wait(ctx context.Context, timeout time.Duration) error {
	if err := waitClosed(ctx, c.done, timeout); err != nil {
		return fmt.Errorf("%w: %d replies missing", err, c.Pending())
	}
	return nil
}

func waitClosed(ctx context.Context, ch <-chan struct{}, timeout time.Duration) error {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-ch:
		return nil
	case <-expired:
		return ErrReplyTimeout
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrReplyTimeout, ctx.Err())
	}
}
