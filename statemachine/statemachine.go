package statemachine

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/c360/controlbus/config"
	"github.com/c360/controlbus/errors"
	"github.com/c360/controlbus/health"
	"github.com/c360/controlbus/message"
)

// Status is the phase of the current state.
type Status int

const (
	// Entering while the entry messages of a new state are sent
	Entering Status = iota
	// Executing while the current state's events are live
	Executing
	// Exiting while a transition's messages are sent
	Exiting
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case Executing:
		return "Executing"
	case Exiting:
		return "Exiting"
	default:
		return "Entering"
	}
}

// StateMachine is a queued endpoint whose live filters are the events of its
// current state. Transitions run on the consumer goroutine, so at most one is
// in flight; their replies are caught on the immediate chain.
type StateMachine struct {
	*message.QueuedEndpoint

	mu          sync.RWMutex
	states      []*State
	current     *State
	status      Status
	initialised bool
}

// New creates a state machine named name on bus. States are added with
// AddState before Initialise.
func New(name string, bus *message.Bus, opts ...message.QueuedOption) *StateMachine {
	return &StateMachine{
		QueuedEndpoint: message.NewQueuedEndpoint(name, bus, opts...),
		status:         Entering,
	}
}

// FromConfig builds a state machine from a configuration section whose
// children are its states, the first one being the initial state.
func FromConfig(name string, bus *message.Bus, node *config.Node, build message.PayloadBuilder, opts ...message.QueuedOption) (*StateMachine, error) {
	sm := New(name, bus, opts...)
	for _, child := range node.Children() {
		state, err := StateFromConfig(child, build)
		if err != nil {
			return nil, errors.Wrap(err, "StateMachine", "FromConfig", name)
		}
		if err := sm.AddState(state); err != nil {
			return nil, err
		}
	}
	return sm, nil
}

// AddState appends a state. State names are unique.
func (sm *StateMachine) AddState(state *State) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.initialised {
		return errors.WrapInvalid(ErrAlreadyInitialised, sm.Name(), "AddState", state.Name())
	}
	if sm.state(state.Name()) != nil {
		return errors.WrapInvalid(
			fmt.Errorf("%w: state %s", ErrDuplicateName, state.Name()), sm.Name(), "AddState", "duplicate check")
	}
	sm.states = append(sm.states, state)
	return nil
}

// must hold sm.mu
func (sm *StateMachine) state(name string) *State {
	for _, s := range sm.states {
		if s.name == name {
			return s
		}
	}
	return nil
}

// Initialise validates the states, installs the first state's events and
// starts the consumer. Nothing runs when validation fails.
func (sm *StateMachine) Initialise(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.initialised {
		return errors.WrapInvalid(ErrAlreadyInitialised, sm.Name(), "Initialise", "state check")
	}
	if err := sm.validate(); err != nil {
		return errors.WrapInvalid(err, sm.Name(), "Initialise", "validation")
	}

	for _, s := range sm.states {
		for _, e := range s.events {
			e.setMachine(sm)
		}
	}

	first := sm.states[0]
	if err := sm.installEvents(ctx, first); err != nil {
		return errors.WrapFatal(err, sm.Name(), "Initialise", "install events")
	}
	if err := sm.Start(ctx); err != nil {
		return err
	}

	sm.current = first
	sm.initialised = true
	sm.status = Executing
	sm.Bus().Metrics().RecordStateMachineStatus(sm.Name(), int(Executing))
	sm.Logger().Info("State machine initialised", "state", first.name, "states", len(sm.states))
	return nil
}

// must hold sm.mu
func (sm *StateMachine) validate() error {
	if len(sm.states) == 0 {
		return ErrNoStates
	}
	for _, s := range sm.states {
		if len(s.events) == 0 {
			return fmt.Errorf("%w: %s", ErrNoEvents, s.name)
		}
		for _, e := range s.events {
			if sm.state(e.nextState) == nil {
				return fmt.Errorf("%w: next state %q of event %s.%s", ErrUnknownState, e.nextState, s.name, e.name)
			}
			if sm.state(e.nextStateError) == nil {
				return fmt.Errorf("%w: next error state %q of event %s.%s", ErrUnknownState, e.nextStateError, s.name, e.name)
			}
		}
	}
	return nil
}

// EventTriggered runs the transition of event, which belongs to the current
// state. The event's messages are sent in order and their replies awaited;
// on failure the machine moves to the event's error state instead. The entry
// messages of the target state are sent before its events go live.
func (sm *StateMachine) EventTriggered(ctx context.Context, event *Event) error {
	sm.mu.RLock()
	from := sm.current
	sm.mu.RUnlock()
	if from == nil {
		return errors.WrapFatal(errors.ErrNotStarted, sm.Name(), "EventTriggered", event.name)
	}

	sm.setStatus(Exiting)
	sm.Logger().Info("Changing state", "from", from.name, "to", event.nextState, "event", event.name)

	targetName := event.nextState
	sendErr := sm.sendAndWait(ctx, event.messages, event.timeout)
	if sendErr != nil {
		targetName = event.nextStateError
		sm.Logger().Warn("Transition messages failed, moving to error state",
			"from", from.name, "to", targetName, "event", event.name, "error", sendErr)
	}

	sm.mu.RLock()
	target := sm.state(targetName)
	sm.mu.RUnlock()
	if target == nil {
		err := errors.WrapFatal(fmt.Errorf("%w: %s", ErrUnknownState, targetName), sm.Name(), "EventTriggered", "state lookup")
		sm.Bus().Metrics().RecordTransition(sm.Name(), from.name, targetName, errors.KindFatal.String())
		return sm.stay(event, err)
	}

	changing := target != from
	if changing {
		if err := sm.removeEvents(ctx, from); err != nil {
			sm.Bus().Metrics().RecordTransition(sm.Name(), from.name, target.name, errors.KindFatal.String())
			return sm.stay(event, errors.WrapFatal(err, sm.Name(), "EventTriggered", "remove events"))
		}
	}

	sm.mu.Lock()
	sm.current = target
	sm.mu.Unlock()
	sm.setStatus(Entering)

	enterErr := sm.sendAndWait(ctx, target.enter, target.enterTimeout())
	if enterErr != nil {
		sm.Logger().Warn("Entry messages failed", "state", target.name, "error", enterErr)
	}

	if changing {
		if err := sm.installEvents(ctx, target); err != nil {
			return errors.WrapFatal(err, sm.Name(), "EventTriggered", "install events")
		}
	} else {
		for _, e := range target.events {
			e.arm()
		}
	}

	outcome := stderrors.Join(sendErr, enterErr)
	sm.Bus().Metrics().RecordTransition(sm.Name(), from.name, target.name, outcomeLabel(outcome))
	if enterErr != nil {
		return enterErr
	}
	sm.setStatus(Executing)
	return sendErr
}

// stay aborts a transition before the current state changed. The event is
// armed again so later triggers are not swallowed.
func (sm *StateMachine) stay(event *Event, err error) error {
	sm.Logger().Error("Transition aborted, staying in state",
		"state", sm.CurrentState(), "event", event.name, "error", err)
	event.arm()
	sm.setStatus(Executing)
	return err
}

// sendAndWait sends msgs in order with the machine as sender and waits up to
// timeout for the replies of those expecting one. Replies are turned into
// indirect replies so they come back through the immediate chain while the
// consumer goroutine is blocked here. The first failed send stops the group.
func (sm *StateMachine) sendAndWait(ctx context.Context, msgs []*message.Message, timeout time.Duration) error {
	if len(msgs) == 0 {
		return nil
	}

	var expecting []*message.Message
	for _, msg := range msgs {
		msg.SetAsReply(false)
		if msg.ExpectsReply() {
			msg.SetExpectsIndirectReply(true)
			expecting = append(expecting, msg)
		}
	}

	var catcher *message.MultiReplyCatcher
	if len(expecting) > 0 {
		catcher = message.NewMultiReplyCatcher(expecting...)
		if err := sm.Filters().Install(ctx, catcher, "transition-replies", message.Front); err != nil {
			return err
		}
		defer func() {
			err := sm.Filters().Remove(context.WithoutCancel(ctx), catcher)
			if err != nil && !stderrors.Is(err, message.ErrFilterNotFound) {
				sm.Logger().Warn("Failed to remove reply catcher", "error", err)
			}
		}()
	}

	for _, msg := range msgs {
		sm.Logger().Debug("Sending transition message", "message", msg)
		if err := sm.SendMessage(ctx, msg); err != nil {
			return err
		}
	}

	if catcher == nil {
		return nil
	}
	if err := catcher.Wait(ctx, timeout); err != nil {
		return err
	}

	var errs []error
	for _, msg := range expecting {
		if err := msg.Err(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", msg, err))
		}
	}
	return stderrors.Join(errs...)
}

func (sm *StateMachine) installEvents(ctx context.Context, state *State) error {
	for _, e := range state.events {
		e.arm()
		if err := sm.InstallMessageFilter(ctx, e, state.name+"."+e.name, message.Back, true); err != nil {
			return err
		}
	}
	return nil
}

func (sm *StateMachine) removeEvents(ctx context.Context, state *State) error {
	var errs []error
	for _, e := range state.events {
		err := sm.QueuedFilters().Remove(ctx, e)
		if err != nil && !stderrors.Is(err, message.ErrFilterNotFound) {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

func (sm *StateMachine) setStatus(status Status) {
	sm.mu.Lock()
	sm.status = status
	sm.mu.Unlock()
	sm.Bus().Metrics().RecordStateMachineStatus(sm.Name(), int(status))
}

// CurrentState returns the name of the current state, empty before Initialise.
func (sm *StateMachine) CurrentState() string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	if sm.current == nil {
		return ""
	}
	return sm.current.name
}

// Status returns the phase of the current state.
func (sm *StateMachine) Status() Status {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.status
}

// States returns the state names in declaration order.
func (sm *StateMachine) States() []string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	names := make([]string, len(sm.states))
	for i, s := range sm.states {
		names[i] = s.name
	}
	return names
}

// Find resolves a dotted path below the machine: "A" is a state, "A.E1" an
// event of A, "A.E1.M1" or "A.ENTER.M1" one of their messages.
func (sm *StateMachine) Find(path string) (any, bool) {
	parts := strings.Split(path, ".")

	sm.mu.RLock()
	state := sm.state(parts[0])
	sm.mu.RUnlock()
	if state == nil {
		return nil, false
	}
	if len(parts) == 1 {
		return state, true
	}

	var msgs []*message.Message
	if parts[1] == EnterGroup {
		msgs = state.enter
	} else {
		event := state.Event(parts[1])
		if event == nil {
			return nil, false
		}
		if len(parts) == 2 {
			return event, true
		}
		msgs = event.messages
	}
	if len(parts) != 3 {
		return nil, false
	}
	for _, msg := range msgs {
		if msg.Name() == parts[2] {
			return msg, true
		}
	}
	return nil, false
}

// Snapshot describes a state machine for export.
type Snapshot struct {
	Name         string          `json:"name" yaml:"name"`
	CurrentState string          `json:"current_state" yaml:"current_state"`
	Status       string          `json:"status" yaml:"status"`
	QueueDepth   int             `json:"queue_depth" yaml:"queue_depth"`
	States       []StateSnapshot `json:"states" yaml:"states"`
}

// StateSnapshot lists the events of one state.
type StateSnapshot struct {
	Name   string   `json:"name" yaml:"name"`
	Events []string `json:"events" yaml:"events"`
}

// Snapshot returns the current state and the state layout.
func (sm *StateMachine) Snapshot() Snapshot {
	snap := Snapshot{
		Name:         sm.Name(),
		CurrentState: sm.CurrentState(),
		Status:       sm.Status().String(),
		QueueDepth:   sm.QueueDepth(),
	}

	sm.mu.RLock()
	defer sm.mu.RUnlock()
	for _, s := range sm.states {
		ss := StateSnapshot{Name: s.name}
		for _, e := range s.events {
			ss.Events = append(ss.Events, e.name)
		}
		snap.States = append(snap.States, ss)
	}
	return snap
}

// Health implements health.Reporter.
func (sm *StateMachine) Health() health.Status {
	status := sm.QueuedEndpoint.Health()
	if status.IsHealthy() {
		status.Message = fmt.Sprintf("state %s (%s)", sm.CurrentState(), sm.Status())
	}
	return status
}

// Purge stops the consumer, removes the live events and both filter chains,
// and detaches the events from the machine.
func (sm *StateMachine) Purge(ctx context.Context, timeout time.Duration) error {
	stopErr := sm.Stop(timeout)
	if stopErr != nil {
		sm.Logger().Error("Could not stop state machine, retrying", "error", stopErr)
		stopErr = sm.Stop(timeout)
	}

	sm.mu.Lock()
	current := sm.current
	states := sm.states
	sm.mu.Unlock()

	var errs []error
	if stopErr != nil {
		errs = append(errs, stopErr)
	}
	if current != nil {
		if err := sm.removeEvents(ctx, current); err != nil {
			errs = append(errs, err)
		}
	}
	for _, s := range states {
		for _, e := range s.events {
			e.setMachine(nil)
		}
	}
	if err := sm.Filters().Purge(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := sm.QueuedFilters().Purge(ctx); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Wrap(stderrors.Join(errs...), sm.Name(), "Purge", "teardown")
	}
	return nil
}

func outcomeLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return errors.KindOf(err).String()
}
