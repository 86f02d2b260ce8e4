// Package errors provides standardized error handling patterns for controlbus components.
//
// # Overview
//
// Every fallible messaging operation returns an error that maps onto one Kind of the
// messaging taxonomy:
//
//   - KindParameters: invalid or missing message fields, anonymous sender expecting a reply,
//     broken configuration
//   - KindUnsupportedFeature: unknown destination, no method or filter matched
//   - KindTimeout: chain lock acquisition or reply wait expired
//   - KindCommunication: a reply was required but could not be delivered, or a reply
//     was sent as if it were a request
//   - KindFatal: internal invariant violation, such as a filter whose destination is gone
//
// The sentinels ErrParameters, ErrUnsupportedFeature, ErrTimeout, ErrCommunication and
// ErrFatal stay reachable through errors.Is after wrapping, so callers branch with:
//
//	if err := bus.SendMessage(ctx, msg, "Sender"); err != nil {
//	    switch errors.KindOf(err) {
//	    case errors.KindUnsupportedFeature:
//	        // destination does not exist or does not accept messages
//	    case errors.KindTimeout:
//	        // the reply may still arrive later and be dropped
//	    }
//	}
//
// # Error Classification
//
// On top of the taxonomy every error carries a handling class:
//
//   - Transient: timeouts, communication failures, context cancellation
//   - Invalid: parameters and unsupported features (do not retry)
//   - Fatal: invariant violations (stop processing)
//
// # Error Wrapping Pattern
//
// All error wrapping follows the standardized format:
//
//	"component.method: action failed: %w"
//
// Three wrapper functions set the class explicitly:
//
//	errors.WrapTransient(err, "Component", "Method", "action")
//	errors.WrapInvalid(err, "Component", "Method", "action")
//	errors.WrapFatal(err, "Component", "Method", "action")
//
// The generic Wrap() function keeps the class of the wrapped error.
//
// # Thread Safety
//
// All classification and wrapping operations are thread-safe. Error variables
// are immutable and safe for concurrent access.
package errors
