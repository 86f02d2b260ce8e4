package classes

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/c360/controlbus/config"
	"github.com/c360/controlbus/errors"
	"github.com/c360/controlbus/health"
	"github.com/c360/controlbus/message"
)

// ErrRejected is the outcome of functions a MessageLogger is told to refuse.
var ErrRejected = fmt.Errorf("function rejected: %w", errors.ErrUnsupportedFeature)

// MessageLogger logs every message it receives and acknowledges it. Functions
// listed in reject are answered with ErrRejected, which lets configurations
// exercise error transitions. It runs on a queued endpoint when built queued.
type MessageLogger struct {
	message.Receiver

	name   string
	bus    *message.Bus
	queued *message.QueuedEndpoint
	logger *slog.Logger
	level  slog.Level
	reject []string

	received atomic.Int64
}

// MessageLoggerOption configures a MessageLogger
type MessageLoggerOption func(*MessageLogger)

// WithLogLevel sets the level messages are logged at
func WithLogLevel(level slog.Level) MessageLoggerOption {
	return func(l *MessageLogger) {
		l.level = level
	}
}

// WithRejected lists functions answered with ErrRejected
func WithRejected(functions ...string) MessageLoggerOption {
	return func(l *MessageLogger) {
		l.reject = append(l.reject, functions...)
	}
}

// NewMessageLogger creates an immediate logger named name
func NewMessageLogger(name string, bus *message.Bus, opts ...MessageLoggerOption) *MessageLogger {
	l := newMessageLogger(name, bus, opts)
	l.Receiver = message.NewEndpoint(name, bus, message.WithFallback(l.handle))
	return l
}

// NewQueuedMessageLogger creates a logger whose messages are handled by a
// consumer goroutine started by Initialise
func NewQueuedMessageLogger(name string, bus *message.Bus, queuedOpts []message.QueuedOption, opts ...MessageLoggerOption) *MessageLogger {
	l := newMessageLogger(name, bus, opts)
	queuedOpts = append(slices.Clone(queuedOpts), message.WithEndpointOptions(message.WithFallback(l.handle)))
	l.queued = message.NewQueuedEndpoint(name, bus, queuedOpts...)
	l.Receiver = l.queued
	return l
}

func newMessageLogger(name string, bus *message.Bus, opts []MessageLoggerOption) *MessageLogger {
	l := &MessageLogger{
		name:   name,
		bus:    bus,
		logger: bus.Logger().With("endpoint", name),
		level:  slog.LevelInfo,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// MessageLoggerFromConfig reads Level, Queued and Reject.
func MessageLoggerFromConfig(node *config.Node, bus *message.Bus, queuedOpts ...message.QueuedOption) (*MessageLogger, error) {
	var opts []MessageLoggerOption

	if level := node.String("Level", ""); level != "" {
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: Level %q", errors.ErrInvalidConfig, level), "MessageLogger", "FromConfig", node.Name())
		}
		opts = append(opts, WithLogLevel(lvl))
	}
	if node.Has("Reject") {
		var reject []string
		if err := node.Read("Reject", &reject); err != nil {
			return nil, errors.WrapInvalid(err, "MessageLogger", "FromConfig", node.Name())
		}
		opts = append(opts, WithRejected(reject...))
	}

	queued := false
	if node.Has("Queued") {
		if err := node.Read("Queued", &queued); err != nil {
			return nil, errors.WrapInvalid(err, "MessageLogger", "FromConfig", node.Name())
		}
	}
	if queued {
		return NewQueuedMessageLogger(node.Name(), bus, queuedOpts, opts...), nil
	}
	return NewMessageLogger(node.Name(), bus, opts...), nil
}

// Name returns the registry name
func (l *MessageLogger) Name() string {
	return l.name
}

// Received returns how many messages were handled
func (l *MessageLogger) Received() int64 {
	return l.received.Load()
}

func (l *MessageLogger) handle(ctx context.Context, msg *message.Message) error {
	l.received.Add(1)
	l.logger.Log(ctx, l.level, "Message received",
		"message", msg, "sender", msg.Sender(), "payload", msg.Payload())

	var outcome error
	if slices.Contains(l.reject, msg.Function()) {
		outcome = errors.WrapInvalid(ErrRejected, l.name, "handle", msg.Function())
	}
	return l.bus.Reply(ctx, msg, outcome)
}

// Initialise starts the consumer of a queued logger
func (l *MessageLogger) Initialise(ctx context.Context) error {
	if l.queued == nil {
		return nil
	}
	return l.queued.Start(ctx)
}

// Stop stops the consumer of a queued logger
func (l *MessageLogger) Stop(timeout time.Duration) error {
	if l.queued == nil {
		return nil
	}
	return l.queued.Stop(timeout)
}

// Health implements health.Reporter
func (l *MessageLogger) Health() health.Status {
	if l.queued != nil {
		return l.queued.Health()
	}
	return health.NewHealthy(l.name, fmt.Sprintf("%d messages", l.Received()))
}
