package message

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360/controlbus/config"
	"github.com/c360/controlbus/errors"
)

// Mode selects the reply protocol of a message.
type Mode int

const (
	// NoReply messages are fire-and-forget
	NoReply Mode = iota
	// ExpectsReply messages are turned into their own reply in place and the
	// sender waits on the message itself
	ExpectsReply
	// ExpectsIndirectReply messages come back to the sender later as a new
	// inbound delivery of the same instance
	ExpectsIndirectReply
)

// String returns the configuration spelling of the mode
func (m Mode) String() string {
	switch m {
	case ExpectsReply:
		return "ExpectsReply"
	case ExpectsIndirectReply:
		return "ExpectsIndirectReply"
	default:
		return "NoReply"
	}
}

// ParseMode parses the Mode configuration key. An empty string is NoReply.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "NoReply":
		return NoReply, nil
	case "ExpectsReply":
		return ExpectsReply, nil
	case "ExpectsIndirectReply":
		return ExpectsIndirectReply, nil
	default:
		return NoReply, fmt.Errorf("%w: unknown mode %q", errors.ErrInvalidConfig, s)
	}
}

// Message is a request addressed to a named destination and function. The same
// instance travels to the destination and becomes the reply; it is never copied.
//
// Destination and function are fixed at construction. The delivery machinery
// flips the reply flags, stamps the sender and may rewrite payload entries with
// results. A Message is safe for concurrent use.
type Message struct {
	id          string
	name        string
	destination string
	function    string

	mu                   sync.Mutex
	sender               string
	maxWait              time.Duration
	expectsReply         bool
	expectsIndirectReply bool
	isReply              bool
	payload              []any
	outcome              error
	done                 chan struct{}
	doneClosed           bool
}

// Option is a functional option for configuring Message construction.
type Option func(*Message)

// WithMode sets the reply protocol.
func WithMode(mode Mode) Option {
	return func(m *Message) {
		m.setMode(mode)
	}
}

// WithMaxWait sets the reply timeout used by senders that honour it. Zero waits forever.
func WithMaxWait(d time.Duration) Option {
	return func(m *Message) {
		m.maxWait = d
	}
}

// WithPayload appends parameter objects in order.
func WithPayload(values ...any) Option {
	return func(m *Message) {
		m.payload = append(m.payload, values...)
	}
}

// WithName sets the message's own name, as used in configuration trees.
func WithName(name string) Option {
	return func(m *Message) {
		m.name = name
	}
}

// New creates a message for destination and function.
//
//	msg := message.New("Receiver", "F",
//	    message.WithMode(message.ExpectsReply),
//	    message.WithPayload(uint32(2), float32(3.14)))
func New(destination, function string, opts ...Option) *Message {
	m := &Message{
		id:          uuid.New().String(),
		destination: destination,
		function:    function,
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// PayloadBuilder turns a child configuration section into a payload object.
type PayloadBuilder func(node *config.Node) (any, error)

// FromConfig initialises a message from a configuration section.
// Destination and Function are required; MaxWait and Mode are optional. Child
// sections become payload objects through build, in declaration order.
func FromConfig(node *config.Node, build PayloadBuilder) (*Message, error) {
	destination := node.String("Destination", "")
	if destination == "" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: Destination", errors.ErrMissingConfig), "Message", "FromConfig", node.Name())
	}
	function := node.String("Function", "")
	if function == "" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: Function", errors.ErrMissingConfig), "Message", "FromConfig", node.Name())
	}
	maxWait, err := node.Duration("MaxWait", 0)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Message", "FromConfig", node.Name())
	}
	mode, err := ParseMode(node.String("Mode", ""))
	if err != nil {
		return nil, errors.WrapInvalid(err, "Message", "FromConfig", node.Name())
	}

	m := New(destination, function, WithName(node.Name()), WithMode(mode), WithMaxWait(maxWait))
	for _, child := range node.Children() {
		if build == nil {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: no builder for payload %q", errors.ErrInvalidConfig, child.Name()),
				"Message", "FromConfig", node.Name())
		}
		obj, err := build(child)
		if err != nil {
			return nil, errors.Wrap(err, "Message", "FromConfig", "payload "+child.Name())
		}
		m.payload = append(m.payload, obj)
	}
	return m, nil
}

// ID returns the unique message identifier.
func (m *Message) ID() string {
	return m.id
}

// Name returns the configuration name, if any.
func (m *Message) Name() string {
	return m.name
}

// Destination returns the registry name the message is addressed to.
func (m *Message) Destination() string {
	return m.destination
}

// Function returns the function name the destination should run.
func (m *Message) Function() string {
	return m.function
}

// Sender returns the name stamped by the last send; empty means anonymous.
func (m *Message) Sender() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sender
}

// SetSender stamps the sender name.
func (m *Message) SetSender(sender string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sender = sender
}

// MaxWait returns the configured reply timeout. Zero means forever.
func (m *Message) MaxWait() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxWait
}

// SetMaxWait sets the reply timeout.
func (m *Message) SetMaxWait(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxWait = d
}

// Mode returns the current reply protocol.
func (m *Message) Mode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.expectsIndirectReply:
		return ExpectsIndirectReply
	case m.expectsReply:
		return ExpectsReply
	default:
		return NoReply
	}
}

func (m *Message) setMode(mode Mode) {
	m.expectsReply = mode != NoReply
	m.expectsIndirectReply = mode == ExpectsIndirectReply
}

// ExpectsReply reports whether any reply is expected.
func (m *Message) ExpectsReply() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expectsReply
}

// ExpectsIndirectReply reports whether the reply is delivered back to the sender.
func (m *Message) ExpectsIndirectReply() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expectsIndirectReply
}

// IsReply reports whether the message has been turned into its reply.
func (m *Message) IsReply() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isReply
}

// SetExpectsReply selects a direct reply, or no reply when flag is false.
func (m *Message) SetExpectsReply(flag bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expectsReply = flag
	m.expectsIndirectReply = false
}

// SetExpectsIndirectReply selects an indirect reply. Setting it implies a reply is expected.
func (m *Message) SetExpectsIndirectReply(flag bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expectsIndirectReply = flag
	if flag {
		m.expectsReply = true
	}
}

// SetAsReply marks the message as a reply, waking anyone waiting on it.
// Clearing the flag rearms the message for another send and forgets the
// previous outcome.
func (m *Message) SetAsReply(flag bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if flag {
		m.isReply = true
		m.closeDone()
		return
	}
	m.isReply = false
	m.outcome = nil
	if m.doneClosed {
		m.done = make(chan struct{})
		m.doneClosed = false
	}
}

// rearm forgets the outcome of an earlier failed delivery so a resent request
// waits for its new reply. Replies are left alone.
func (m *Message) rearm() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.isReply {
		return
	}
	m.outcome = nil
	if m.doneClosed {
		m.done = make(chan struct{})
		m.doneClosed = false
	}
}

// markReply records the outcome of the remote call and turns the message into its reply.
func (m *Message) markReply(outcome error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if outcome != nil {
		m.outcome = outcome
	}
	m.isReply = true
	m.closeDone()
}

// Fail records a delivery failure and releases waiters without producing a reply.
func (m *Message) Fail(err error) {
	if err == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outcome == nil {
		m.outcome = err
	}
	m.closeDone()
}

func (m *Message) closeDone() {
	if !m.doneClosed {
		close(m.done)
		m.doneClosed = true
	}
}

// Err returns the outcome recorded by the destination, nil on success.
func (m *Message) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outcome
}

// Done returns a channel closed when the message becomes a reply or fails.
func (m *Message) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

// WaitForReply blocks until the message becomes a reply or fails, the timeout
// elapses or ctx ends. A zero timeout waits forever.
func (m *Message) WaitForReply(ctx context.Context, timeout time.Duration) error {
	m.mu.Lock()
	if !m.expectsReply {
		m.mu.Unlock()
		return ErrNoReplyExpected
	}
	done := m.done
	m.mu.Unlock()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-done:
		return m.Err()
	case <-expired:
		return ErrReplyTimeout
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrReplyTimeout, ctx.Err())
	}
}

// Payload returns a copy of the payload objects in order.
func (m *Message) Payload() []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]any, len(m.payload))
	copy(out, m.payload)
	return out
}

// Len returns the number of payload objects.
func (m *Message) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.payload)
}

// At returns the payload object at index i.
func (m *Message) At(i int) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i < 0 || i >= len(m.payload) {
		return nil, false
	}
	return m.payload[i], true
}

// Append adds payload objects; replies use it to return results.
func (m *Message) Append(values ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payload = append(m.payload, values...)
}

// SetPayload replaces the payload objects.
func (m *Message) SetPayload(values ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payload = append([]any(nil), values...)
}

func (m *Message) setAt(i int, v any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i >= 0 && i < len(m.payload) {
		m.payload[i] = v
	}
}

// String returns a short description for logs and errors.
func (m *Message) String() string {
	return fmt.Sprintf("%s:%s (%s)", m.destination, m.function, m.id)
}

// LogValue implements slog.LogValuer.
func (m *Message) LogValue() slog.Value {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slog.GroupValue(
		slog.String("id", m.id),
		slog.String("destination", m.destination),
		slog.String("function", m.function),
		slog.String("sender", m.sender),
		slog.Bool("reply", m.isReply),
	)
}
