package message

import (
	"context"
	"weak"

	"github.com/c360/controlbus/errors"
)

// RegisteredMethodsFilter dispatches messages to a destination's method table
// by function name and completes the reply protocol. It holds the table
// weakly so an installed filter never keeps a released destination alive.
type RegisteredMethodsFilter struct {
	bus         *Bus
	destination string
	methods     weak.Pointer[MethodTable]
}

// NewRegisteredMethodsFilter creates a filter bound to the methods of destination.
func NewRegisteredMethodsFilter(bus *Bus, destination string, methods *MethodTable) *RegisteredMethodsFilter {
	return &RegisteredMethodsFilter{
		bus:         bus,
		destination: destination,
		methods:     weak.Make(methods),
	}
}

// ConsumeMessage implements Filter. It matches when a method named after the
// message function exists; a payload that does not fit the method is a
// matched failure, not a miss. Replies are dispatched to HandleReply and never
// answered again.
func (f *RegisteredMethodsFilter) ConsumeMessage(ctx context.Context, msg *Message) (bool, error) {
	table := f.methods.Value()
	if table == nil {
		return true, errors.WrapFatal(ErrDestinationGone, "RegisteredMethodsFilter", "ConsumeMessage", f.destination)
	}

	reply := msg.IsReply()
	name := msg.Function()
	if reply {
		name = HandleReplyMethod
	}
	method, ok := table.Lookup(name)
	if !ok {
		return false, nil
	}

	err := method.Call(ctx, msg)
	if reply {
		return true, err
	}
	return true, f.bus.Reply(ctx, msg, err)
}

// Permanent implements Filter.
func (f *RegisteredMethodsFilter) Permanent() bool {
	return true
}
