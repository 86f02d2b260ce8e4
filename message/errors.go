package message

import (
	"fmt"

	"github.com/c360/controlbus/errors"
)

// Sentinel errors for messaging operations. Each wraps one taxonomy sentinel
// from the errors package, so errors.KindOf classifies them.
var (
	// ErrNilMessage indicates a nil message was passed to a send operation
	ErrNilMessage = fmt.Errorf("invalid message: %w", errors.ErrParameters)

	// ErrNoSender indicates a message expecting a reply was sent anonymously
	ErrNoSender = fmt.Errorf("message expects a reply but has no sender: %w", errors.ErrParameters)

	// ErrReplyToReply indicates a reply was sent as if it were a request
	ErrReplyToReply = fmt.Errorf("message is already a reply: %w", errors.ErrCommunication)

	// ErrNoReplyExpected indicates a wait on a message that does not expect a reply
	ErrNoReplyExpected = fmt.Errorf("message does not expect a reply: %w", errors.ErrCommunication)

	// ErrDestinationNotFound indicates the destination name is not in the registry
	ErrDestinationNotFound = fmt.Errorf("destination not found: %w", errors.ErrUnsupportedFeature)

	// ErrNotReceiver indicates the destination object does not accept messages
	ErrNotReceiver = fmt.Errorf("destination does not accept messages: %w", errors.ErrUnsupportedFeature)

	// ErrNoFilterMatched indicates no filter in a chain consumed the message
	ErrNoFilterMatched = fmt.Errorf("no filter matched: %w", errors.ErrUnsupportedFeature)

	// ErrFilterNotFound indicates a filter removal targeted an absent filter
	ErrFilterNotFound = fmt.Errorf("filter not installed: %w", errors.ErrUnsupportedFeature)

	// ErrUnhandled is the default fallback outcome of an endpoint
	ErrUnhandled = fmt.Errorf("message not handled: %w", errors.ErrUnsupportedFeature)

	// ErrMethodNotFound indicates the function is not in the method table
	ErrMethodNotFound = fmt.Errorf("method not registered: %w", errors.ErrUnsupportedFeature)

	// ErrPrototypeMismatch indicates the payload does not fit the method signature
	ErrPrototypeMismatch = fmt.Errorf("payload does not match method prototype: %w", errors.ErrParameters)

	// ErrReplyTimeout indicates a reply did not arrive in time
	ErrReplyTimeout = fmt.Errorf("reply not received: %w", errors.ErrTimeout)

	// ErrLockTimeout indicates the filter chain lock could not be acquired in time
	ErrLockTimeout = fmt.Errorf("filter chain lock not acquired: %w", errors.ErrTimeout)

	// ErrDestinationGone indicates a filter outlived the object it dispatches to
	ErrDestinationGone = fmt.Errorf("destination object released: %w", errors.ErrFatal)

	// ErrEndpointStopped indicates a queued endpoint no longer accepts messages
	ErrEndpointStopped = fmt.Errorf("endpoint stopped: %w", errors.ErrCommunication)
)
