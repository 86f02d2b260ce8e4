package message

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/controlbus/errors"
)

// orderRecorder records the functions it handles, in order.
type orderRecorder struct {
	mu  sync.Mutex
	got []string
}

func (r *orderRecorder) handle(_ context.Context, msg *Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, msg.Function())
	return nil
}

func (r *orderRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.got...)
}

func newQueued(t *testing.T, name string, opts ...EndpointOption) (*QueuedEndpoint, *Bus, *mapResolver) {
	t.Helper()
	bus, resolver := newTestBus(t)
	q := NewQueuedEndpoint(name, bus, WithPollInterval(5*time.Millisecond), WithEndpointOptions(opts...))
	resolver.add(name, q)
	t.Cleanup(func() { _ = q.Stop(time.Second) })
	return q, bus, resolver
}

func TestQueuedEndpoint_FIFO(t *testing.T) {
	rec := &orderRecorder{}
	q, bus, _ := newQueued(t, "Q", WithFallback(rec.handle))
	ctx := context.Background()

	for _, fn := range []string{"m1", "m2", "m3"} {
		require.NoError(t, bus.SendMessage(ctx, New("Q", fn), ""))
	}
	assert.Equal(t, 3, q.QueueDepth(), "nothing runs before Start")

	require.NoError(t, q.Start(ctx))
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"m1", "m2", "m3"}, rec.snapshot())
	assert.Zero(t, q.QueueDepth())
}

func TestQueuedEndpoint_FIFOPerProducer(t *testing.T) {
	const producers, perProducer = 4, 50

	rec := &orderRecorder{}
	q, bus, _ := newQueued(t, "Q", WithFallback(rec.handle))
	ctx := context.Background()
	require.NoError(t, q.Start(ctx))

	var wg sync.WaitGroup
	for p := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perProducer {
				_ = bus.SendMessage(ctx, New("Q", fmt.Sprintf("%d:%03d", p, i)), "")
			}
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		return len(rec.snapshot()) == producers*perProducer
	}, 2*time.Second, 5*time.Millisecond)

	last := make(map[string]string)
	for _, fn := range rec.snapshot() {
		producer := fn[:1]
		assert.Greater(t, fn, last[producer], "producer %s out of order", producer)
		last[producer] = fn
	}
}

func TestQueuedEndpoint_ImmediateFilterBypassesQueue(t *testing.T) {
	rec := &orderRecorder{}
	q, bus, _ := newQueued(t, "Q", WithFallback(rec.handle))
	ctx := context.Background()

	immediate := &recordingFilter{function: "Now"}
	require.NoError(t, q.InstallMessageFilter(ctx, immediate, "now", Back, false))

	require.NoError(t, bus.SendMessage(ctx, New("Q", "Now"), ""))
	assert.Equal(t, 1, immediate.count(), "handled on the sender's goroutine")
	assert.Zero(t, q.QueueDepth())
	assert.Zero(t, q.Filters().Size(), "transient filter removed")
}

func TestQueuedEndpoint_QueuedChainBeforeMethods(t *testing.T) {
	ctx := context.Background()
	methods := NewMethodTable()
	methodCalls := 0
	require.NoError(t, methods.Register("F", Func0(func() error {
		methodCalls++
		return nil
	})))
	q, bus, _ := newQueued(t, "Q", WithMethods(methods))

	late := &recordingFilter{function: "F"}
	require.NoError(t, q.InstallMessageFilter(ctx, late, "late", Back, true))
	assert.Equal(t, 1, q.QueuedFilters().Size())
	assert.Zero(t, q.Filters().Size())
	require.NoError(t, q.Start(ctx))

	require.NoError(t, bus.SendMessage(ctx, New("Q", "F"), ""))
	second := New("Q", "F")
	require.NoError(t, bus.SendMessageAndWaitReply(ctx, second, "Caller", time.Second))

	assert.True(t, second.IsReply())
	assert.Equal(t, 1, late.count(), "first dequeued message goes to the queued chain")
	assert.Equal(t, 1, methodCalls, "second one reaches the method once the filter is gone")
	assert.Zero(t, q.QueuedFilters().Size())
}

func TestQueuedEndpoint_RemoveMessageFilterSearchesBothChains(t *testing.T) {
	ctx := context.Background()
	q, _, _ := newQueued(t, "Q")
	immediate := &recordingFilter{function: "A"}
	queued := &recordingFilter{function: "B"}
	require.NoError(t, q.InstallMessageFilter(ctx, immediate, "a", Back, false))
	require.NoError(t, q.InstallMessageFilter(ctx, queued, "b", Back, true))

	require.NoError(t, q.RemoveMessageFilter(ctx, queued))
	require.NoError(t, q.RemoveMessageFilter(ctx, immediate))
	assert.ErrorIs(t, q.RemoveMessageFilter(ctx, immediate), ErrFilterNotFound)
}

func TestQueuedEndpoint_FailureWakesDirectWaiter(t *testing.T) {
	ctx := context.Background()
	q, bus, _ := newQueued(t, "Q")
	require.NoError(t, q.Start(ctx))

	msg := New("Q", "Unknown")
	err := bus.SendMessageAndWaitReply(ctx, msg, "Caller", time.Second)
	assert.ErrorIs(t, err, ErrUnhandled)
	assert.False(t, msg.IsReply())
	assert.Equal(t, int64(1), q.Health().Metrics.ErrorCount)
}

func TestQueuedEndpoint_FailureRoutesIndirectReply(t *testing.T) {
	ctx := context.Background()
	q, bus, resolver := newQueued(t, "Q")
	require.NoError(t, q.Start(ctx))
	caller := NewEndpoint("Caller", bus)
	resolver.add("Caller", caller)

	msg := New("Q", "Unknown")
	err := caller.SendMessageAndWaitIndirectReply(ctx, msg, time.Second)
	assert.ErrorIs(t, err, ErrUnhandled, "the failure comes back with the reply")
	assert.True(t, msg.IsReply())
}

func TestQueuedEndpoint_Lifecycle(t *testing.T) {
	ctx := context.Background()
	q, bus, _ := newQueued(t, "Q")

	assert.False(t, q.Running())
	assert.True(t, q.Health().IsUnhealthy())

	require.NoError(t, q.Start(ctx))
	assert.True(t, q.Running())
	assert.True(t, q.Health().IsHealthy())
	assert.ErrorIs(t, q.Start(ctx), errors.ErrAlreadyStarted)

	require.NoError(t, q.Stop(time.Second))
	require.NoError(t, q.Stop(time.Second), "idempotent")
	assert.False(t, q.Running())

	err := bus.SendMessage(ctx, New("Q", "F"), "")
	assert.ErrorIs(t, err, ErrEndpointStopped)
	assert.Equal(t, errors.KindCommunication, errors.KindOf(err))
}

func TestQueuedEndpoint_StopFailsQueuedMessages(t *testing.T) {
	ctx := context.Background()
	q, bus, _ := newQueued(t, "Q")

	msg := New("Q", "F", WithMode(ExpectsReply))
	require.NoError(t, bus.SendMessage(ctx, msg, "Caller"))
	require.Equal(t, 1, q.QueueDepth())

	require.NoError(t, q.Stop(time.Second))
	assert.ErrorIs(t, msg.WaitForReply(ctx, time.Second), ErrEndpointStopped)
	assert.Zero(t, q.QueueDepth())
}

func TestQueuedEndpoint_StopOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	rec := &orderRecorder{}
	q, bus, _ := newQueued(t, "Q", WithFallback(rec.handle))
	require.NoError(t, q.Start(ctx))
	require.True(t, q.Running())

	cancel()
	require.Eventually(t, func() bool { return !q.Running() }, time.Second, 5*time.Millisecond)
	assert.False(t, q.Health().IsHealthy())

	late := New("Q", "late", WithMode(ExpectsReply))
	err := bus.SendMessageAndWaitReply(context.Background(), late, "Caller", 0)
	assert.ErrorIs(t, err, ErrEndpointStopped)
	assert.Empty(t, rec.snapshot(), "consumer exits with its context")
	assert.Zero(t, q.QueueDepth())

	// a new Start revives the endpoint
	require.NoError(t, q.Start(context.Background()))
	t.Cleanup(func() { _ = q.Stop(time.Second) })
	require.NoError(t, bus.SendMessage(context.Background(), New("Q", "again"), ""))
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"again"}, rec.snapshot())
}

func TestQueuedEndpoint_ResendAfterFailureWaitsForNewReply(t *testing.T) {
	ctx := context.Background()
	failure := errors.WrapInvalid(errors.ErrParameters, "Q", "HandleMessage", "first attempt")

	var bus *Bus
	var attempts atomic.Int32
	release := make(chan struct{})
	handler := func(ctx context.Context, msg *Message) error {
		if attempts.Add(1) == 1 {
			return failure
		}
		<-release
		return bus.Reply(ctx, msg, nil)
	}
	q, b, _ := newQueued(t, "Q", WithFallback(handler))
	bus = b
	require.NoError(t, q.Start(ctx))

	msg := New("Q", "F", WithMode(ExpectsReply))
	err := bus.SendMessageAndWaitReply(ctx, msg, "Caller", time.Second)
	require.ErrorIs(t, err, errors.ErrParameters)
	assert.False(t, msg.IsReply())

	result := make(chan error, 1)
	go func() {
		result <- bus.SendMessageAndWaitReply(ctx, msg, "Caller", time.Second)
	}()

	select {
	case err := <-result:
		t.Fatalf("second send returned before the consumer answered: %v", err)
	case <-time.After(30 * time.Millisecond):
	}
	close(release)

	select {
	case err := <-result:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("second send never completed")
	}
	assert.True(t, msg.IsReply())
	assert.NoError(t, msg.Err())
	assert.Equal(t, int32(2), attempts.Load())
}
