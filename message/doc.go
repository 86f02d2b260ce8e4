// Package message implements object-to-object messaging for a control
// application: messages addressed by registry name, filter chains that
// intercept them, endpoints that dispatch them to registered methods, and
// the reply protocol that turns a request into its own reply.
//
// # Messages and replies
//
// A Message names a destination object and a function. The sender chooses one
// of three modes:
//
//   - NoReply: fire and forget.
//   - ExpectsReply: the destination handles the message and the same instance
//     becomes the reply. Synchronous destinations complete it before
//     SendMessage returns; queued ones complete it later and the sender waits.
//   - ExpectsIndirectReply: the destination sends the reply back through the
//     bus to the sender, whose filters (usually a ReplyCatcher) pick it up.
//
// A reply is never answered again, which bounds the indirect reply recursion.
//
// # Dispatch
//
// Endpoint.ReceiveMessage tries, in order, a registered method named after the
// message function, the endpoint's FilterChain, and the fallback handler.
// Replies go to the filter chain first and then to the HandleReply method.
//
// QueuedEndpoint offers each message to its immediate chain on the sender's
// goroutine, then queues it for a single consumer that consults a second chain
// before falling back to methods.
//
// Basic usage:
//
//	methods := message.NewMethodTable()
//	_ = methods.Register("Negate", message.Ref1(func(v *int32) error {
//	    *v = -*v
//	    return nil
//	}))
//	target := message.NewEndpoint("Target", bus, message.WithMethods(methods))
//
//	msg := message.New("Target", "Negate", message.WithPayload(int32(2)))
//	err := bus.SendMessageAndWaitReply(ctx, msg, "Caller", time.Second)
//
// # Errors
//
// Every error returned here wraps one of the taxonomy sentinels in the errors
// package; use errors.KindOf to classify it.
package message
