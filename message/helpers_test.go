package message

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
)

// mapResolver is a minimal registry for tests.
type mapResolver struct {
	mu      sync.RWMutex
	objects map[string]any
}

func newMapResolver() *mapResolver {
	return &mapResolver{objects: make(map[string]any)}
}

func (r *mapResolver) Find(name string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	obj, ok := r.objects[name]
	return obj, ok
}

func (r *mapResolver) add(name string, obj any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.objects[name] = obj
}

func newTestBus(t *testing.T) (*Bus, *mapResolver) {
	t.Helper()
	resolver := newMapResolver()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewBus(resolver, WithLogger(logger)), resolver
}

// recordingFilter records the messages it sees and matches on function name.
type recordingFilter struct {
	function  string
	permanent bool
	err       error

	mu   sync.Mutex
	seen []*Message
}

func (f *recordingFilter) ConsumeMessage(_ context.Context, msg *Message) (bool, error) {
	if msg.Function() != f.function {
		return false, nil
	}
	f.mu.Lock()
	f.seen = append(f.seen, msg)
	f.mu.Unlock()
	return true, f.err
}

func (f *recordingFilter) Permanent() bool {
	return f.permanent
}

func (f *recordingFilter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}
