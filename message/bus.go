package message

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/c360/controlbus/errors"
	"github.com/c360/controlbus/metric"
)

// Resolver finds objects by registry name.
type Resolver interface {
	Find(name string) (any, bool)
}

// Receiver is implemented by objects that accept messages.
type Receiver interface {
	ReceiveMessage(ctx context.Context, msg *Message) error
}

// Bus routes messages to receivers found through a Resolver. It holds no
// per-message state and is safe for concurrent use.
type Bus struct {
	resolver Resolver
	logger   *slog.Logger
	metrics  *metric.Metrics
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithLogger sets the bus logger.
func WithLogger(logger *slog.Logger) BusOption {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithMetrics records send metrics into the registry's core metrics.
func WithMetrics(registry *metric.MetricsRegistry) BusOption {
	return func(b *Bus) {
		b.metrics = registry.CoreMetrics()
	}
}

// NewBus creates a bus resolving destinations through resolver.
func NewBus(resolver Resolver, opts ...BusOption) *Bus {
	b := &Bus{
		resolver: resolver,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Logger returns the bus logger, shared by the endpoints built on it.
func (b *Bus) Logger() *slog.Logger {
	return b.logger
}

// Metrics returns the core metrics, possibly nil.
func (b *Bus) Metrics() *metric.Metrics {
	return b.metrics
}

// SendMessage delivers msg. A request goes to its destination and is stamped
// with sender; a request expecting a reply needs a sender. A reply goes back to
// the name stamped as its sender and is only accepted when an indirect reply
// was requested, since direct replies are complete without delivery. Nothing
// on msg changes unless the destination resolves to a Receiver.
func (b *Bus) SendMessage(ctx context.Context, msg *Message, sender string) error {
	if msg == nil {
		return ErrNilMessage
	}

	reply := msg.IsReply()
	destination := msg.Destination()
	if reply {
		if !msg.ExpectsIndirectReply() {
			return errors.WrapTransient(ErrReplyToReply, "Bus", "SendMessage", "reply routing")
		}
		destination = msg.Sender()
	} else if sender == "" && msg.ExpectsReply() {
		return errors.WrapInvalid(ErrNoSender, "Bus", "SendMessage", "sender check")
	}

	receiver, err := b.resolve(destination)
	if err == nil {
		if !reply {
			msg.rearm()
			if sender != "" {
				msg.SetSender(sender)
			}
		}
		err = receiver.ReceiveMessage(ctx, msg)
	}

	b.metrics.RecordMessageSent(destination, outcomeLabel(err))
	if err != nil {
		b.logger.Debug("Message delivery failed", "message", msg, "destination", destination, "error", err)
	}
	return err
}

func (b *Bus) resolve(destination string) (Receiver, error) {
	if b.resolver == nil {
		return nil, errors.WrapInvalid(ErrDestinationNotFound, "Bus", "SendMessage", "destination lookup")
	}
	obj, ok := b.resolver.Find(destination)
	if !ok {
		return nil, errors.WrapInvalid(ErrDestinationNotFound, "Bus", "SendMessage", "destination lookup "+destination)
	}
	receiver, ok := obj.(Receiver)
	if !ok {
		return nil, errors.WrapInvalid(ErrNotReceiver, "Bus", "SendMessage", "destination lookup "+destination)
	}
	return receiver, nil
}

// SendMessageAndWaitReply sends msg expecting a direct reply and waits for it.
// When the destination handles messages synchronously the reply is complete on
// return from delivery and no waiting happens. A zero timeout waits forever.
func (b *Bus) SendMessageAndWaitReply(ctx context.Context, msg *Message, sender string, timeout time.Duration) error {
	if msg == nil {
		return ErrNilMessage
	}
	if msg.IsReply() {
		return errors.WrapTransient(ErrReplyToReply, "Bus", "SendMessageAndWaitReply", "reply check")
	}

	msg.SetExpectsReply(true)
	if err := b.SendMessage(ctx, msg, sender); err != nil {
		return err
	}

	start := time.Now()
	err := msg.WaitForReply(ctx, timeout)
	b.metrics.RecordReplyWait("direct", outcomeLabel(err), time.Since(start))
	return err
}

// SendMessageAndExpectReplyLater sends msg expecting an indirect reply and
// returns without waiting. The sender must already have a filter in place to
// catch the reply.
func (b *Bus) SendMessageAndExpectReplyLater(ctx context.Context, msg *Message, sender string) error {
	if msg == nil {
		return ErrNilMessage
	}
	if msg.IsReply() {
		return errors.WrapTransient(ErrReplyToReply, "Bus", "SendMessageAndExpectReplyLater", "reply check")
	}
	msg.SetExpectsIndirectReply(true)
	return b.SendMessage(ctx, msg, sender)
}

// Reply finishes the reply protocol after a destination handled msg with the
// given outcome. The outcome is recorded on the message so waiters observe it;
// indirect replies are routed back to the sender. Messages that expect no
// reply, or already are one, are left alone. The returned error is outcome,
// joined with any failure to deliver an indirect reply.
func (b *Bus) Reply(ctx context.Context, msg *Message, outcome error) error {
	if !msg.ExpectsReply() || msg.IsReply() {
		return outcome
	}
	msg.markReply(outcome)
	if !msg.ExpectsIndirectReply() {
		return outcome
	}
	if err := b.SendMessage(ctx, msg, ""); err != nil {
		return stderrors.Join(outcome, errors.WrapTransient(
			stderrors.Join(errors.ErrCommunication, err), "Bus", "Reply", "indirect reply delivery"))
	}
	return outcome
}

func outcomeLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return errors.KindOf(err).String()
}
