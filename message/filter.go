package message

import "context"

// Filter is consulted during dispatch. ConsumeMessage reports whether the
// filter matched the message; err is the outcome of handling a matched message
// and is ignored when matched is false.
//
// Permanent is asked after a match. A filter that is not permanent is removed
// from its chain once it has matched.
type Filter interface {
	ConsumeMessage(ctx context.Context, msg *Message) (matched bool, err error)
	Permanent() bool
}

// HandlerFunc handles a message that a filter matched.
type HandlerFunc func(ctx context.Context, msg *Message) error

// FunctionFilter matches messages by function name and runs a handler.
type FunctionFilter struct {
	function  string
	handler   HandlerFunc
	permanent bool
}

// NewFunctionFilter creates a filter for messages whose function equals function.
func NewFunctionFilter(function string, handler HandlerFunc, permanent bool) *FunctionFilter {
	return &FunctionFilter{function: function, handler: handler, permanent: permanent}
}

// ConsumeMessage implements Filter.
func (f *FunctionFilter) ConsumeMessage(ctx context.Context, msg *Message) (bool, error) {
	if msg.Function() != f.function {
		return false, nil
	}
	if f.handler == nil {
		return true, nil
	}
	return true, f.handler(ctx, msg)
}

// Permanent implements Filter.
func (f *FunctionFilter) Permanent() bool {
	return f.permanent
}
