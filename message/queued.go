package message

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/controlbus/errors"
	"github.com/c360/controlbus/health"
)

// DefaultPollInterval bounds how long the consumer sleeps without a wakeup.
const DefaultPollInterval = 100 * time.Millisecond

// QueuedEndpoint decorates an Endpoint with an unbounded FIFO queue drained by
// one consumer goroutine, and a second filter chain consulted after dequeue.
//
// Inbound messages are first offered to the immediate chain on the sender's
// goroutine; only unmatched messages are queued. The consumer then tries the
// queued chain, the registered methods and the fallback handler, in order.
type QueuedEndpoint struct {
	*Endpoint

	queued       *FilterChain
	pollInterval time.Duration

	queueMu sync.Mutex
	queue   []*Message
	stopped bool
	notify  chan struct{}

	lifecycleMu sync.Mutex
	running     bool
	cancel      context.CancelFunc
	done        chan struct{}
	startedAt   time.Time

	processed    atomic.Int64
	failed       atomic.Int64
	lastActivity atomic.Int64
}

// QueuedOption configures a QueuedEndpoint.
type QueuedOption func(*QueuedEndpoint)

// WithPollInterval sets the consumer's idle wakeup interval.
func WithPollInterval(d time.Duration) QueuedOption {
	return func(q *QueuedEndpoint) {
		if d > 0 {
			q.pollInterval = d
		}
	}
}

// WithEndpointOptions passes options to the embedded Endpoint.
func WithEndpointOptions(opts ...EndpointOption) QueuedOption {
	return func(q *QueuedEndpoint) {
		for _, opt := range opts {
			opt(q.Endpoint)
		}
	}
}

// NewQueuedEndpoint creates a queued endpoint named name on bus. It accepts
// messages immediately; they are processed once Start is called.
func NewQueuedEndpoint(name string, bus *Bus, opts ...QueuedOption) *QueuedEndpoint {
	q := &QueuedEndpoint{
		Endpoint:     NewEndpoint(name, bus),
		queued:       NewFilterChain(),
		pollInterval: DefaultPollInterval,
		notify:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// QueuedFilters returns the chain consulted after dequeue.
func (q *QueuedEndpoint) QueuedFilters() *FilterChain {
	return q.queued
}

// InstallMessageFilter inserts filter into the queued chain when afterQueue is
// set, otherwise into the immediate chain.
func (q *QueuedEndpoint) InstallMessageFilter(ctx context.Context, filter Filter, name string, position int, afterQueue bool) error {
	if afterQueue {
		return q.queued.Install(ctx, filter, name, position)
	}
	return q.Filters().Install(ctx, filter, name, position)
}

// RemoveMessageFilter removes filter from whichever chain holds it.
func (q *QueuedEndpoint) RemoveMessageFilter(ctx context.Context, filter Filter) error {
	err := q.Filters().Remove(ctx, filter)
	if stderrors.Is(err, ErrFilterNotFound) {
		return q.queued.Remove(ctx, filter)
	}
	return err
}

// ReceiveMessage implements Receiver. Immediate filters run on the caller's
// goroutine; anything they do not match is queued for the consumer.
func (q *QueuedEndpoint) ReceiveMessage(ctx context.Context, msg *Message) error {
	if matched, err := q.dispatchChain(ctx, msg); matched {
		return err
	}
	return q.enqueue(msg)
}

func (q *QueuedEndpoint) enqueue(msg *Message) error {
	q.queueMu.Lock()
	if q.stopped {
		q.queueMu.Unlock()
		return errors.WrapTransient(ErrEndpointStopped, q.Name(), "ReceiveMessage", "enqueue")
	}
	q.queue = append(q.queue, msg)
	depth := len(q.queue)
	q.queueMu.Unlock()

	q.Bus().Metrics().RecordQueueDepth(q.Name(), depth)

	// wakeup is level triggered: a pending token covers any number of enqueues
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

func (q *QueuedEndpoint) dequeue() *Message {
	q.queueMu.Lock()
	defer q.queueMu.Unlock()
	if len(q.queue) == 0 {
		return nil
	}
	msg := q.queue[0]
	q.queue[0] = nil
	q.queue = q.queue[1:]
	q.Bus().Metrics().RecordQueueDepth(q.Name(), len(q.queue))
	return msg
}

// QueueDepth returns the number of messages waiting for the consumer.
func (q *QueuedEndpoint) QueueDepth() int {
	q.queueMu.Lock()
	defer q.queueMu.Unlock()
	return len(q.queue)
}

// Start launches the consumer goroutine. It stops when Stop is called or ctx
// ends; either way the endpoint then rejects deliveries until the next Start.
func (q *QueuedEndpoint) Start(ctx context.Context) error {
	q.lifecycleMu.Lock()
	defer q.lifecycleMu.Unlock()

	if q.consumerAlive() {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, q.Name(), "Start", "consumer start")
	}

	if q.cancel != nil {
		q.cancel()
	}
	runCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.done = make(chan struct{})
	q.running = true
	q.setStopped(false)
	q.startedAt = time.Now()

	go q.consume(runCtx, q.done)

	q.Logger().Debug("Queued endpoint started", "poll_interval", q.pollInterval)
	return nil
}

// Stop stops the consumer and waits up to timeout for it to exit. Messages
// still queued are failed with ErrEndpointStopped and later deliveries are
// rejected until the next Start. Stop is idempotent.
func (q *QueuedEndpoint) Stop(timeout time.Duration) error {
	q.lifecycleMu.Lock()
	defer q.lifecycleMu.Unlock()

	q.setStopped(true)
	if q.running {
		q.cancel()

		timer := time.NewTimer(timeout)
		defer timer.Stop()

		select {
		case <-q.done:
		case <-timer.C:
			return errors.WrapTransient(
				fmt.Errorf("%w: consumer did not exit", errors.ErrTimeout), q.Name(), "Stop", "consumer shutdown")
		}
		q.running = false
	}

	for msg := q.dequeue(); msg != nil; msg = q.dequeue() {
		msg.Fail(ErrEndpointStopped)
	}
	q.Logger().Debug("Queued endpoint stopped", "processed", q.processed.Load(), "failed", q.failed.Load())
	return nil
}

func (q *QueuedEndpoint) setStopped(stopped bool) {
	q.queueMu.Lock()
	q.stopped = stopped
	q.queueMu.Unlock()
}

// Running reports whether the consumer goroutine is active.
func (q *QueuedEndpoint) Running() bool {
	q.lifecycleMu.Lock()
	defer q.lifecycleMu.Unlock()
	return q.consumerAlive()
}

// consumerAlive requires lifecycleMu. A consumer whose context ended has
// closed done without going through Stop.
func (q *QueuedEndpoint) consumerAlive() bool {
	if !q.running {
		return false
	}
	select {
	case <-q.done:
		return false
	default:
		return true
	}
}

func (q *QueuedEndpoint) consume(ctx context.Context, done chan struct{}) {
	defer func() {
		q.setStopped(true)
		for msg := q.dequeue(); msg != nil; msg = q.dequeue() {
			msg.Fail(ErrEndpointStopped)
		}
		close(done)
	}()

	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for {
		for msg := q.dequeue(); msg != nil; msg = q.dequeue() {
			q.process(ctx, msg)
			if ctx.Err() != nil {
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-q.notify:
		case <-ticker.C:
		}
	}
}

func (q *QueuedEndpoint) process(ctx context.Context, msg *Message) {
	err := q.queued.Dispatch(ctx, msg)
	if stderrors.Is(err, ErrNoFilterMatched) {
		err = q.sortDirect(ctx, msg)
	} else {
		q.record("queued_filter", err)
	}

	q.processed.Add(1)
	q.lastActivity.Store(time.Now().UnixNano())
	if err == nil {
		return
	}

	q.failed.Add(1)
	q.Logger().Warn("Queued message failed", "message", msg, "error", err)

	// nobody else will answer a failed request, so release its sender
	switch {
	case msg.IsReply() || !msg.ExpectsReply():
	case msg.ExpectsIndirectReply():
		if replyErr := q.Bus().Reply(ctx, msg, err); replyErr != err {
			q.Logger().Warn("Failed to deliver error reply", "message", msg, "error", replyErr)
		}
	default:
		msg.Fail(err)
	}
}

// Health implements health.Reporter.
func (q *QueuedEndpoint) Health() health.Status {
	q.lifecycleMu.Lock()
	running := q.consumerAlive()
	startedAt := q.startedAt
	q.lifecycleMu.Unlock()

	var status health.Status
	if running {
		status = health.NewHealthy(q.Name(), "consumer running")
	} else {
		status = health.NewUnhealthy(q.Name(), "consumer not running")
	}

	metrics := &health.Metrics{
		ErrorCount:        q.failed.Load(),
		MessagesProcessed: q.processed.Load(),
		QueueDepth:        q.QueueDepth(),
	}
	if running {
		metrics.Uptime = time.Since(startedAt)
	}
	if last := q.lastActivity.Load(); last > 0 {
		metrics.LastActivity = time.Unix(0, last)
	}
	return status.WithMetrics(metrics)
}
