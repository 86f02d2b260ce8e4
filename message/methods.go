package message

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/c360/controlbus/errors"
)

// Method is a type-erased callable registered under a name. Implementations
// check the payload against their prototype and return ErrPrototypeMismatch
// when it does not fit.
type Method interface {
	Call(ctx context.Context, msg *Message) error
}

type methodFunc func(ctx context.Context, msg *Message) error

func (f methodFunc) Call(ctx context.Context, msg *Message) error {
	return f(ctx, msg)
}

// FuncMessage wraps a method that receives the whole message.
func FuncMessage(fn func(ctx context.Context, msg *Message) error) Method {
	return methodFunc(fn)
}

// Func0 wraps a method without arguments. The payload is ignored.
func Func0(fn func() error) Method {
	return methodFunc(func(_ context.Context, _ *Message) error {
		return fn()
	})
}

// Func1 wraps a one-argument method called with the first payload object.
func Func1[A any](fn func(A) error) Method {
	return methodFunc(func(_ context.Context, msg *Message) error {
		if err := checkArity(msg, 1); err != nil {
			return err
		}
		a, err := argument[A](msg, 0)
		if err != nil {
			return err
		}
		return fn(a)
	})
}

// Func2 wraps a two-argument method.
func Func2[A, B any](fn func(A, B) error) Method {
	return methodFunc(func(_ context.Context, msg *Message) error {
		if err := checkArity(msg, 2); err != nil {
			return err
		}
		a, err := argument[A](msg, 0)
		if err != nil {
			return err
		}
		b, err := argument[B](msg, 1)
		if err != nil {
			return err
		}
		return fn(a, b)
	})
}

// Func3 wraps a three-argument method.
func Func3[A, B, C any](fn func(A, B, C) error) Method {
	return methodFunc(func(_ context.Context, msg *Message) error {
		if err := checkArity(msg, 3); err != nil {
			return err
		}
		a, err := argument[A](msg, 0)
		if err != nil {
			return err
		}
		b, err := argument[B](msg, 1)
		if err != nil {
			return err
		}
		c, err := argument[C](msg, 2)
		if err != nil {
			return err
		}
		return fn(a, b, c)
	})
}

// Ref1 wraps a method taking its argument by reference. The value it leaves
// behind is written back into the payload, so replies carry results.
func Ref1[A any](fn func(*A) error) Method {
	return methodFunc(func(_ context.Context, msg *Message) error {
		if err := checkArity(msg, 1); err != nil {
			return err
		}
		a, err := argument[A](msg, 0)
		if err != nil {
			return err
		}
		err = fn(&a)
		msg.setAt(0, a)
		return err
	})
}

// Ref2 wraps a two-argument by-reference method.
func Ref2[A, B any](fn func(*A, *B) error) Method {
	return methodFunc(func(_ context.Context, msg *Message) error {
		if err := checkArity(msg, 2); err != nil {
			return err
		}
		a, err := argument[A](msg, 0)
		if err != nil {
			return err
		}
		b, err := argument[B](msg, 1)
		if err != nil {
			return err
		}
		err = fn(&a, &b)
		msg.setAt(0, a)
		msg.setAt(1, b)
		return err
	})
}

// Ref3 wraps a three-argument by-reference method.
func Ref3[A, B, C any](fn func(*A, *B, *C) error) Method {
	return methodFunc(func(_ context.Context, msg *Message) error {
		if err := checkArity(msg, 3); err != nil {
			return err
		}
		a, err := argument[A](msg, 0)
		if err != nil {
			return err
		}
		b, err := argument[B](msg, 1)
		if err != nil {
			return err
		}
		c, err := argument[C](msg, 2)
		if err != nil {
			return err
		}
		err = fn(&a, &b, &c)
		msg.setAt(0, a)
		msg.setAt(1, b)
		msg.setAt(2, c)
		return err
	})
}

func checkArity(msg *Message, n int) error {
	if got := msg.Len(); got != n {
		return fmt.Errorf("%w: %s wants %d arguments, payload has %d", ErrPrototypeMismatch, msg.Function(), n, got)
	}
	return nil
}

func argument[T any](msg *Message, i int) (T, error) {
	var zero T
	v, _ := msg.At(i)
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s argument %d is %T, want %T", ErrPrototypeMismatch, msg.Function(), i, v, zero)
	}
	return t, nil
}

// MethodTable maps function names to registered methods. It stands in for
// compile-time registration: each type fills its table once at construction.
type MethodTable struct {
	mu      sync.RWMutex
	methods map[string]Method
}

// NewMethodTable creates an empty table.
func NewMethodTable() *MethodTable {
	return &MethodTable{methods: make(map[string]Method)}
}

// Register adds a method under name.
func (t *MethodTable) Register(name string, m Method) error {
	if name == "" || m == nil {
		return errors.WrapInvalid(
			fmt.Errorf("%w: empty name or nil method", errors.ErrParameters), "MethodTable", "Register", "method validation")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.methods[name]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("%w: method %s already registered", errors.ErrParameters, name), "MethodTable", "Register", "duplicate check")
	}
	t.methods[name] = m
	return nil
}

// Lookup returns the method registered under name.
func (t *MethodTable) Lookup(name string) (Method, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.methods[name]
	return m, ok
}

// Call runs the method registered under name with msg.
// It returns ErrMethodNotFound when no such method exists.
func (t *MethodTable) Call(ctx context.Context, name string, msg *Message) error {
	m, ok := t.Lookup(name)
	if !ok {
		return ErrMethodNotFound
	}
	return m.Call(ctx, msg)
}

// Names returns the registered names sorted.
func (t *MethodTable) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Sorted(maps.Keys(t.methods))
}
