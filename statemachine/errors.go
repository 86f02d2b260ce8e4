package statemachine

import (
	"fmt"

	"github.com/c360/controlbus/errors"
)

// Sentinel errors for state machine configuration and transitions.
var (
	// ErrNoStates indicates a machine was initialised without states
	ErrNoStates = fmt.Errorf("state machine has no states: %w", errors.ErrParameters)

	// ErrNoEvents indicates a state declares no events
	ErrNoEvents = fmt.Errorf("state has no events: %w", errors.ErrParameters)

	// ErrUnknownState indicates a next state name that does not resolve
	ErrUnknownState = fmt.Errorf("state not defined: %w", errors.ErrParameters)

	// ErrDuplicateName indicates two states, or two events of a state, share a name
	ErrDuplicateName = fmt.Errorf("name already defined: %w", errors.ErrParameters)

	// ErrAlreadyInitialised indicates Initialise was called twice
	ErrAlreadyInitialised = fmt.Errorf("state machine already initialised: %w", errors.ErrParameters)

	// ErrEventDisarmed indicates a trigger arrived while its event was not armed
	ErrEventDisarmed = fmt.Errorf("event not armed: %w", errors.ErrUnsupportedFeature)

	// ErrMachineGone indicates an event outlived its state machine
	ErrMachineGone = fmt.Errorf("state machine released: %w", errors.ErrFatal)
)
