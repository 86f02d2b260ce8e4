package message

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/c360/controlbus/errors"
)

// HandleReplyMethod is the method name used to dispatch replies to a method table.
const HandleReplyMethod = "HandleReply"

// Endpoint gives an object a name on the bus and the default dispatch
// pipeline: registered method, then the filter chain, then the fallback
// handler. Objects embed or hold an Endpoint and are registered under the
// same name so replies can find them.
type Endpoint struct {
	name     string
	bus      *Bus
	filters  *FilterChain
	methods  *MethodTable
	fallback HandlerFunc
	logger   *slog.Logger
}

// EndpointOption configures an Endpoint.
type EndpointOption func(*Endpoint)

// WithMethods attaches a registered-method table.
func WithMethods(methods *MethodTable) EndpointOption {
	return func(e *Endpoint) {
		e.methods = methods
	}
}

// WithFallback sets the handler for messages nothing else handled.
// The default rejects them with ErrUnhandled.
func WithFallback(handler HandlerFunc) EndpointOption {
	return func(e *Endpoint) {
		e.fallback = handler
	}
}

// WithChainOptions configures the endpoint's filter chain.
func WithChainOptions(opts ...ChainOption) EndpointOption {
	return func(e *Endpoint) {
		e.filters = NewFilterChain(opts...)
	}
}

// NewEndpoint creates an endpoint named name on bus.
func NewEndpoint(name string, bus *Bus, opts ...EndpointOption) *Endpoint {
	e := &Endpoint{
		name:    name,
		bus:     bus,
		filters: NewFilterChain(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = bus.Logger().With("endpoint", name)
	return e
}

// Name returns the registry name of the endpoint.
func (e *Endpoint) Name() string {
	return e.name
}

// Bus returns the bus the endpoint sends through.
func (e *Endpoint) Bus() *Bus {
	return e.bus
}

// Methods returns the registered-method table, possibly nil.
func (e *Endpoint) Methods() *MethodTable {
	return e.methods
}

// Filters returns the endpoint's filter chain.
func (e *Endpoint) Filters() *FilterChain {
	return e.filters
}

// Logger returns the endpoint logger.
func (e *Endpoint) Logger() *slog.Logger {
	return e.logger
}

// InstallMessageFilter inserts filter into the endpoint's chain.
func (e *Endpoint) InstallMessageFilter(ctx context.Context, filter Filter, name string, position int) error {
	return e.filters.Install(ctx, filter, name, position)
}

// RemoveMessageFilter removes filter from the endpoint's chain.
func (e *Endpoint) RemoveMessageFilter(ctx context.Context, filter Filter) error {
	return e.filters.Remove(ctx, filter)
}

// ReceiveMessage implements Receiver by sorting the message on the caller's goroutine.
func (e *Endpoint) ReceiveMessage(ctx context.Context, msg *Message) error {
	return e.SortMessage(ctx, msg)
}

// SortMessage dispatches msg. Requests try the registered method first; replies
// try the filter chain first so reply catchers see them before HandleReply.
// A method that exists but fails surfaces its error without falling back.
func (e *Endpoint) SortMessage(ctx context.Context, msg *Message) error {
	if msg.IsReply() {
		if matched, err := e.dispatchChain(ctx, msg); matched {
			return err
		}
		return e.sortDirect(ctx, msg)
	}

	if handled, err := e.callMethod(ctx, msg); handled {
		return err
	}
	if matched, err := e.dispatchChain(ctx, msg); matched {
		return err
	}
	return e.handleMessage(ctx, msg)
}

// sortDirect runs the registered method or the fallback, skipping the chain.
func (e *Endpoint) sortDirect(ctx context.Context, msg *Message) error {
	if handled, err := e.callMethod(ctx, msg); handled {
		return err
	}
	return e.handleMessage(ctx, msg)
}

func (e *Endpoint) dispatchChain(ctx context.Context, msg *Message) (bool, error) {
	err := e.filters.Dispatch(ctx, msg)
	if stderrors.Is(err, ErrNoFilterMatched) {
		return false, nil
	}
	e.record("filter", err)
	return true, err
}

func (e *Endpoint) callMethod(ctx context.Context, msg *Message) (bool, error) {
	if e.methods == nil {
		return false, nil
	}

	reply := msg.IsReply()
	name := msg.Function()
	if reply {
		name = HandleReplyMethod
	}
	method, ok := e.methods.Lookup(name)
	if !ok {
		return false, nil
	}

	err := method.Call(ctx, msg)
	if !reply {
		err = e.bus.Reply(ctx, msg, err)
	}
	e.record("method", err)
	return true, err
}

func (e *Endpoint) handleMessage(ctx context.Context, msg *Message) error {
	var err error
	if e.fallback == nil {
		err = errors.WrapInvalid(ErrUnhandled, e.name, "HandleMessage", msg.Function())
	} else {
		err = e.fallback(ctx, msg)
	}
	e.record("fallback", err)
	return err
}

func (e *Endpoint) record(path string, err error) {
	metrics := e.bus.Metrics()
	metrics.RecordDispatch(e.name, path)
	if err != nil {
		metrics.RecordDispatchFailure(e.name, errors.KindOf(err).String())
	}
}

// SendMessage sends msg with this endpoint as sender.
func (e *Endpoint) SendMessage(ctx context.Context, msg *Message) error {
	return e.bus.SendMessage(ctx, msg, e.name)
}

// SendMessageAndWaitReply sends msg expecting a direct reply and waits up to timeout.
func (e *Endpoint) SendMessageAndWaitReply(ctx context.Context, msg *Message, timeout time.Duration) error {
	return e.bus.SendMessageAndWaitReply(ctx, msg, e.name, timeout)
}

// SendMessageAndExpectReplyLater sends msg expecting an indirect reply.
func (e *Endpoint) SendMessageAndExpectReplyLater(ctx context.Context, msg *Message) error {
	return e.bus.SendMessageAndExpectReplyLater(ctx, msg, e.name)
}

// SendMessageAndWaitIndirectReply sends msg expecting an indirect reply and
// waits for it with a ReplyCatcher installed on this endpoint. The catcher is
// removed whatever the outcome.
func (e *Endpoint) SendMessageAndWaitIndirectReply(ctx context.Context, msg *Message, timeout time.Duration) error {
	if msg == nil {
		return ErrNilMessage
	}
	if msg.IsReply() {
		return errors.WrapTransient(ErrReplyToReply, e.name, "SendMessageAndWaitIndirectReply", "reply check")
	}

	catcher := NewReplyCatcher(msg)
	if err := e.filters.Install(ctx, catcher, "reply:"+msg.ID(), Front); err != nil {
		return err
	}
	defer func() {
		err := e.filters.Remove(context.WithoutCancel(ctx), catcher)
		if err != nil && !stderrors.Is(err, ErrFilterNotFound) {
			e.logger.Warn("Failed to remove reply catcher", "message", msg, "error", err)
		}
	}()

	if err := e.bus.SendMessageAndExpectReplyLater(ctx, msg, e.name); err != nil {
		return err
	}

	start := time.Now()
	err := catcher.Wait(ctx, timeout)
	if err == nil {
		err = msg.Err()
	}
	e.bus.Metrics().RecordReplyWait("indirect", outcomeLabel(err), time.Since(start))
	return err
}
