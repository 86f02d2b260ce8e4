package statemachine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
	"weak"

	"github.com/c360/controlbus/config"
	"github.com/c360/controlbus/errors"
	"github.com/c360/controlbus/message"
)

// DefaultErrorState is the fallback state of events that do not name one.
const DefaultErrorState = "ERROR"

// Event is a permanent filter that triggers a transition when a message
// whose function equals the event name reaches its machine. An armed guard
// lets exactly one trigger through per transition; later triggers are
// consumed and ignored until the machine re-arms the event.
type Event struct {
	name           string
	nextState      string
	nextStateError string
	timeout        time.Duration
	messages       []*message.Message

	armed   atomic.Bool
	machine atomic.Pointer[weak.Pointer[StateMachine]]
}

// EventOption configures an Event.
type EventOption func(*Event)

// WithNextStateError sets the state entered when the transition messages fail.
func WithNextStateError(state string) EventOption {
	return func(e *Event) {
		if state != "" {
			e.nextStateError = state
		}
	}
}

// WithTimeout bounds the wait for transition replies. Zero waits forever.
func WithTimeout(d time.Duration) EventOption {
	return func(e *Event) {
		e.timeout = d
	}
}

// WithMessages appends messages sent, in order, when the event fires.
func WithMessages(msgs ...*message.Message) EventOption {
	return func(e *Event) {
		e.messages = append(e.messages, msgs...)
	}
}

// NewEvent creates an event named name moving to nextState.
func NewEvent(name, nextState string, opts ...EventOption) *Event {
	e := &Event{
		name:           name,
		nextState:      nextState,
		nextStateError: DefaultErrorState,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EventFromConfig builds an event from a configuration section. NextState is
// required; NextStateError and Timeout are optional. Child sections of class
// Message become the transition messages.
func EventFromConfig(node *config.Node, build message.PayloadBuilder) (*Event, error) {
	nextState := node.String("NextState", "")
	if nextState == "" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: NextState", errors.ErrMissingConfig), "Event", "FromConfig", node.Name())
	}
	timeout, err := node.Duration("Timeout", 0)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Event", "FromConfig", node.Name())
	}

	e := NewEvent(node.Name(), nextState,
		WithNextStateError(node.String("NextStateError", "")),
		WithTimeout(timeout))
	for _, child := range node.Children() {
		if class := child.Class(); class != MessageClass {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: section %q of class %q in event", errors.ErrInvalidConfig, child.Name(), class),
				"Event", "FromConfig", node.Name())
		}
		msg, err := message.FromConfig(child, build)
		if err != nil {
			return nil, errors.Wrap(err, "Event", "FromConfig", node.Name())
		}
		e.messages = append(e.messages, msg)
	}
	return e, nil
}

// Name returns the event name, matched against message functions.
func (e *Event) Name() string { return e.name }

// NextState returns the state entered after a successful transition.
func (e *Event) NextState() string { return e.nextState }

// NextStateError returns the state entered when the transition messages fail.
func (e *Event) NextStateError() string { return e.nextStateError }

// Timeout returns the transition reply timeout; zero means forever.
func (e *Event) Timeout() time.Duration { return e.timeout }

// Messages returns the transition messages in send order.
func (e *Event) Messages() []*message.Message {
	return append([]*message.Message(nil), e.messages...)
}

// Armed reports whether the next matching message will trigger a transition.
func (e *Event) Armed() bool { return e.armed.Load() }

func (e *Event) arm() { e.armed.Store(true) }

func (e *Event) setMachine(sm *StateMachine) {
	if sm == nil {
		e.machine.Store(nil)
		return
	}
	p := weak.Make(sm)
	e.machine.Store(&p)
}

func (e *Event) stateMachine() *StateMachine {
	p := e.machine.Load()
	if p == nil {
		return nil
	}
	return p.Value()
}

// ConsumeMessage implements message.Filter. A trigger message that expects a
// reply is answered once the transition completes, carrying its outcome.
func (e *Event) ConsumeMessage(ctx context.Context, msg *message.Message) (bool, error) {
	if msg.IsReply() || msg.Function() != e.name {
		return false, nil
	}

	sm := e.stateMachine()
	if sm == nil {
		return true, errors.WrapFatal(ErrMachineGone, "Event", "ConsumeMessage", e.name)
	}
	if !e.armed.CompareAndSwap(true, false) {
		sm.Logger().Debug("Event already triggered, ignoring", "event", e.name, "message", msg)
		if msg.ExpectsReply() {
			return true, sm.Bus().Reply(ctx, msg,
				errors.WrapTransient(ErrEventDisarmed, "Event", "ConsumeMessage", e.name))
		}
		return true, nil
	}

	err := sm.EventTriggered(ctx, e)
	return true, sm.Bus().Reply(ctx, msg, err)
}

// Permanent implements message.Filter. Events stay installed until their
// state is left.
func (e *Event) Permanent() bool {
	return true
}
