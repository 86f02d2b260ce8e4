package statemachine

import (
	"fmt"
	"slices"
	"time"

	"github.com/c360/controlbus/config"
	"github.com/c360/controlbus/errors"
	"github.com/c360/controlbus/message"
)

// Configuration class names recognised inside a state machine section.
const (
	EventClass   = "StateMachineEvent"
	MessageClass = "Message"

	// EnterGroup names the group of messages sent when a state is entered.
	EnterGroup = "ENTER"
)

// State is a named group of events, plus the messages sent on entry.
type State struct {
	name   string
	events []*Event
	enter  []*message.Message
}

// NewState creates an empty state.
func NewState(name string) *State {
	return &State{name: name}
}

// StateFromConfig builds a state from a configuration section. Children of
// class StateMachineEvent become events; a child named ENTER holds the entry
// messages.
func StateFromConfig(node *config.Node, build message.PayloadBuilder) (*State, error) {
	s := NewState(node.Name())
	for _, child := range node.Children() {
		if child.Name() == EnterGroup {
			for _, m := range child.Children() {
				msg, err := message.FromConfig(m, build)
				if err != nil {
					return nil, errors.Wrap(err, "State", "FromConfig", s.name+"."+EnterGroup)
				}
				s.AddEnterMessage(msg)
			}
			continue
		}

		if class := child.Class(); class != EventClass {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: section %q of class %q in state", errors.ErrInvalidConfig, child.Name(), class),
				"State", "FromConfig", s.name)
		}
		event, err := EventFromConfig(child, build)
		if err != nil {
			return nil, errors.Wrap(err, "State", "FromConfig", s.name)
		}
		if err := s.AddEvent(event); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Name returns the state name.
func (s *State) Name() string { return s.name }

// Events returns the events in declaration order.
func (s *State) Events() []*Event {
	return slices.Clone(s.events)
}

// EnterMessages returns the messages sent when the state is entered.
func (s *State) EnterMessages() []*message.Message {
	return slices.Clone(s.enter)
}

// AddEvent appends an event. Event names are unique within a state.
func (s *State) AddEvent(e *Event) error {
	if s.Event(e.Name()) != nil {
		return errors.WrapInvalid(
			fmt.Errorf("%w: event %s", ErrDuplicateName, e.Name()), "State", "AddEvent", s.name)
	}
	s.events = append(s.events, e)
	return nil
}

// AddEnterMessage appends an entry message.
func (s *State) AddEnterMessage(msg *message.Message) {
	s.enter = append(s.enter, msg)
}

// Event returns the event named name, or nil.
func (s *State) Event(name string) *Event {
	for _, e := range s.events {
		if e.name == name {
			return e
		}
	}
	return nil
}

// enterTimeout is the longest MaxWait among the entry messages; any message
// waiting forever makes the whole group wait forever.
func (s *State) enterTimeout() time.Duration {
	var longest time.Duration
	for _, msg := range s.enter {
		wait := msg.MaxWait()
		if wait == 0 {
			return 0
		}
		longest = max(longest, wait)
	}
	return longest
}
