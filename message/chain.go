package message

import (
	"context"
	stderrors "errors"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/c360/controlbus/errors"
)

// Positions for FilterChain.Install. Non-negative values are indices.
const (
	Front = 0
	Back  = -1
)

type chainEntry struct {
	name   string
	filter Filter
}

// FilterChain is an ordered, lock-protected collection of filters.
//
// Mutations are serialized by a weighted semaphore of size one so lock
// acquisition can be bounded. Each mutation publishes a new immutable slice,
// so Dispatch iterates a snapshot and never holds the lock while a filter runs.
type FilterChain struct {
	sem         *semaphore.Weighted
	lockTimeout time.Duration
	entries     atomic.Pointer[[]chainEntry]
}

// ChainOption configures a FilterChain.
type ChainOption func(*FilterChain)

// WithLockTimeout bounds lock acquisition. Zero waits for the caller's context only.
func WithLockTimeout(d time.Duration) ChainOption {
	return func(c *FilterChain) {
		c.lockTimeout = d
	}
}

// NewFilterChain creates an empty chain.
func NewFilterChain(opts ...ChainOption) *FilterChain {
	c := &FilterChain{sem: semaphore.NewWeighted(1)}
	empty := []chainEntry{}
	c.entries.Store(&empty)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *FilterChain) lock(ctx context.Context) (func(), error) {
	if c.lockTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.lockTimeout)
		defer cancel()
	}
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLockTimeout, err)
	}
	return func() { c.sem.Release(1) }, nil
}

func (c *FilterChain) snapshot() []chainEntry {
	return *c.entries.Load()
}

func (c *FilterChain) indexOf(entries []chainEntry, f Filter) int {
	return slices.IndexFunc(entries, func(e chainEntry) bool { return e.filter == f })
}

// Install inserts filter at position (Front, Back or an index; indices past
// the end append). The same filter instance cannot be installed twice.
func (c *FilterChain) Install(ctx context.Context, filter Filter, name string, position int) error {
	if filter == nil {
		return errors.WrapInvalid(errors.ErrParameters, "FilterChain", "Install", "nil filter")
	}
	if position < Back {
		return errors.WrapInvalid(
			fmt.Errorf("%w: position %d", errors.ErrParameters, position), "FilterChain", "Install", "position check")
	}

	unlock, err := c.lock(ctx)
	if err != nil {
		return errors.WrapTransient(err, "FilterChain", "Install", "lock acquisition")
	}
	defer unlock()

	current := c.snapshot()
	if c.indexOf(current, filter) >= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: filter %q already installed", errors.ErrParameters, name), "FilterChain", "Install", "duplicate check")
	}

	next := make([]chainEntry, 0, len(current)+1)
	if position == Back || position >= len(current) {
		next = append(append(next, current...), chainEntry{name: name, filter: filter})
	} else {
		next = append(next, current[:position]...)
		next = append(next, chainEntry{name: name, filter: filter})
		next = append(next, current[position:]...)
	}
	c.entries.Store(&next)
	return nil
}

// Remove removes filter by identity. An absent filter yields ErrFilterNotFound.
func (c *FilterChain) Remove(ctx context.Context, filter Filter) error {
	return c.remove(ctx, "Remove", func(e chainEntry) bool { return e.filter == filter })
}

// RemoveByName removes the first filter installed under name.
func (c *FilterChain) RemoveByName(ctx context.Context, name string) error {
	return c.remove(ctx, "RemoveByName", func(e chainEntry) bool { return e.name == name })
}

func (c *FilterChain) remove(ctx context.Context, method string, match func(chainEntry) bool) error {
	unlock, err := c.lock(ctx)
	if err != nil {
		return errors.WrapTransient(err, "FilterChain", method, "lock acquisition")
	}
	defer unlock()

	current := c.snapshot()
	idx := slices.IndexFunc(current, match)
	if idx < 0 {
		return ErrFilterNotFound
	}
	next := slices.Delete(slices.Clone(current), idx, idx+1)
	c.entries.Store(&next)
	return nil
}

// Dispatch offers msg to each filter in order until one matches. A matched
// filter that is not permanent is removed. When nothing matches the result
// is ErrNoFilterMatched.
func (c *FilterChain) Dispatch(ctx context.Context, msg *Message) error {
	unlock, err := c.lock(ctx)
	if err != nil {
		return errors.WrapTransient(err, "FilterChain", "Dispatch", "lock acquisition")
	}
	entries := c.snapshot()
	unlock()

	for _, e := range entries {
		// an earlier filter or another goroutine may have removed it
		if c.indexOf(c.snapshot(), e.filter) < 0 {
			continue
		}

		matched, consumeErr := e.filter.ConsumeMessage(ctx, msg)
		if !matched {
			continue
		}

		if !e.filter.Permanent() {
			if err := c.Remove(ctx, e.filter); err != nil && !stderrors.Is(err, ErrFilterNotFound) {
				return stderrors.Join(consumeErr, err)
			}
		}
		return consumeErr
	}
	return ErrNoFilterMatched
}

// Has reports whether filter is installed.
func (c *FilterChain) Has(filter Filter) bool {
	return c.indexOf(c.snapshot(), filter) >= 0
}

// Size returns the number of installed filters.
func (c *FilterChain) Size() int {
	return len(c.snapshot())
}

// Names returns the installation names in dispatch order.
func (c *FilterChain) Names() []string {
	entries := c.snapshot()
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.name
	}
	return names
}

// Purge removes every filter.
func (c *FilterChain) Purge(ctx context.Context) error {
	unlock, err := c.lock(ctx)
	if err != nil {
		return errors.WrapTransient(err, "FilterChain", "Purge", "lock acquisition")
	}
	defer unlock()
	empty := []chainEntry{}
	c.entries.Store(&empty)
	return nil
}
