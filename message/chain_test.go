package message

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/controlbus/errors"
)

func TestFilterChain_InstallPositions(t *testing.T) {
	ctx := context.Background()
	chain := NewFilterChain()

	require.NoError(t, chain.Install(ctx, &recordingFilter{function: "a"}, "a", Back))
	require.NoError(t, chain.Install(ctx, &recordingFilter{function: "b"}, "b", Back))
	require.NoError(t, chain.Install(ctx, &recordingFilter{function: "c"}, "c", Front))
	require.NoError(t, chain.Install(ctx, &recordingFilter{function: "d"}, "d", 2))
	require.NoError(t, chain.Install(ctx, &recordingFilter{function: "e"}, "e", 99))

	assert.Equal(t, []string{"c", "a", "d", "b", "e"}, chain.Names())
	assert.Equal(t, 5, chain.Size())
}

func TestFilterChain_InstallInvalid(t *testing.T) {
	ctx := context.Background()
	chain := NewFilterChain()
	f := &recordingFilter{function: "a"}

	assert.ErrorIs(t, chain.Install(ctx, nil, "nil", Back), errors.ErrParameters)
	assert.ErrorIs(t, chain.Install(ctx, f, "bad", -2), errors.ErrParameters)

	require.NoError(t, chain.Install(ctx, f, "a", Back))
	err := chain.Install(ctx, f, "again", Front)
	assert.ErrorIs(t, err, errors.ErrParameters)
	assert.Equal(t, 1, chain.Size())
}

func TestFilterChain_Remove(t *testing.T) {
	ctx := context.Background()
	chain := NewFilterChain()
	a := &recordingFilter{function: "a"}
	b := &recordingFilter{function: "b"}
	require.NoError(t, chain.Install(ctx, a, "a", Back))
	require.NoError(t, chain.Install(ctx, b, "b", Back))

	require.NoError(t, chain.Remove(ctx, a))
	assert.False(t, chain.Has(a))
	assert.True(t, chain.Has(b))

	err := chain.Remove(ctx, a)
	assert.ErrorIs(t, err, ErrFilterNotFound)
	assert.Equal(t, errors.KindUnsupportedFeature, errors.KindOf(err))

	require.NoError(t, chain.RemoveByName(ctx, "b"))
	assert.ErrorIs(t, chain.RemoveByName(ctx, "b"), ErrFilterNotFound)
	assert.Zero(t, chain.Size())
}

func TestFilterChain_DispatchRemovesMatchedTransientFilter(t *testing.T) {
	ctx := context.Background()
	chain := NewFilterChain()

	filters := []*recordingFilter{
		{function: "x"},
		{function: "y"},
		{function: "z"},
		{function: "w"},
	}
	for _, f := range filters {
		require.NoError(t, chain.Install(ctx, f, f.function, Back))
	}

	require.NoError(t, chain.Dispatch(ctx, New("R", "y")))

	assert.Equal(t, 1, filters[1].count())
	assert.Equal(t, []string{"x", "z", "w"}, chain.Names(), "others untouched, order preserved")
}

func TestFilterChain_DispatchKeepsPermanentFilter(t *testing.T) {
	ctx := context.Background()
	chain := NewFilterChain()
	f := &recordingFilter{function: "F", permanent: true}
	require.NoError(t, chain.Install(ctx, f, "f", Back))

	for range 3 {
		require.NoError(t, chain.Dispatch(ctx, New("R", "F")))
	}
	assert.Equal(t, 3, f.count())
	assert.True(t, chain.Has(f))
}

func TestFilterChain_DispatchFirstMatchWins(t *testing.T) {
	ctx := context.Background()
	chain := NewFilterChain()
	first := &recordingFilter{function: "F", permanent: true, err: ErrUnhandled}
	second := &recordingFilter{function: "F", permanent: true}
	require.NoError(t, chain.Install(ctx, first, "first", Back))
	require.NoError(t, chain.Install(ctx, second, "second", Back))

	err := chain.Dispatch(ctx, New("R", "F"))
	assert.ErrorIs(t, err, ErrUnhandled, "a matched failure is the dispatch result")
	assert.Equal(t, 1, first.count())
	assert.Zero(t, second.count())
}

func TestFilterChain_DispatchNoMatch(t *testing.T) {
	chain := NewFilterChain()
	require.NoError(t, chain.Install(context.Background(), &recordingFilter{function: "a"}, "a", Back))

	err := chain.Dispatch(context.Background(), New("R", "F"))
	assert.ErrorIs(t, err, ErrNoFilterMatched)
	assert.Equal(t, errors.KindUnsupportedFeature, errors.KindOf(err))
}

// removingFilter removes another filter from its chain when it sees a message.
type removingFilter struct {
	chain  *FilterChain
	target Filter
}

func (f *removingFilter) ConsumeMessage(ctx context.Context, _ *Message) (bool, error) {
	return false, f.chain.Remove(ctx, f.target)
}

func (f *removingFilter) Permanent() bool { return true }

func TestFilterChain_DispatchSkipsFilterRemovedDuringDispatch(t *testing.T) {
	ctx := context.Background()
	chain := NewFilterChain()
	victim := &recordingFilter{function: "F"}
	require.NoError(t, chain.Install(ctx, &removingFilter{chain: chain, target: victim}, "remover", Back))
	require.NoError(t, chain.Install(ctx, victim, "victim", Back))

	err := chain.Dispatch(ctx, New("R", "F"))
	assert.ErrorIs(t, err, ErrNoFilterMatched)
	assert.Zero(t, victim.count())
}

func TestFilterChain_LockTimeout(t *testing.T) {
	ctx := context.Background()
	chain := NewFilterChain(WithLockTimeout(20 * time.Millisecond))

	unlock, err := chain.lock(ctx)
	require.NoError(t, err)
	defer unlock()

	start := time.Now()
	err = chain.Install(ctx, &recordingFilter{function: "a"}, "a", Back)
	assert.ErrorIs(t, err, ErrLockTimeout)
	assert.Equal(t, errors.KindTimeout, errors.KindOf(err))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestFilterChain_Purge(t *testing.T) {
	ctx := context.Background()
	chain := NewFilterChain()
	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, chain.Install(ctx, &recordingFilter{function: name}, name, Back))
	}
	require.NoError(t, chain.Purge(ctx))
	assert.Zero(t, chain.Size())
	assert.Empty(t, chain.Names())
}

// Filters run without the chain lock, so concurrent dispatches may all reach a
// transient filter before the first match removes it.
func TestFilterChain_ConcurrentTransientFilterRemovedOnce(t *testing.T) {
	ctx := context.Background()
	chain := NewFilterChain()
	f := &recordingFilter{function: "F"}
	require.NoError(t, chain.Install(ctx, f, "once", Back))

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = chain.Dispatch(ctx, New("R", "F"))
		}()
	}
	wg.Wait()

	assert.False(t, chain.Has(f))
	assert.Zero(t, chain.Size())
	assert.GreaterOrEqual(t, f.count(), 1)
	assert.LessOrEqual(t, f.count(), 8)
}
