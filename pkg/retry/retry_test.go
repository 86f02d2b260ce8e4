package retry

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/controlbus/errors"
)

var errFlaky = errors.WrapTransient(stderrors.New("connection refused"), "test", "dial", "connect")

func fast(attempts int) Policy {
	return Policy{Attempts: attempts, Initial: time.Millisecond, Max: 5 * time.Millisecond, Multiplier: 2}
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fast(5), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errFlaky
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDo_GivesUp(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fast(3), func(context.Context) error {
		attempts++
		return errFlaky
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 3, attempts)
}

func TestDo_StopsOnInvalidError(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fast(5), func(context.Context) error {
		attempts++
		return errors.WrapInvalid(errors.ErrInvalidConfig, "test", "dial", "url")
	})
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
	assert.Equal(t, 1, attempts)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := Do(ctx, Policy{Attempts: 10, Initial: time.Hour, Max: time.Hour}, func(context.Context) error {
		attempts++
		cancel()
		return errFlaky
	})
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 1, attempts)
}

func TestDo_CancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := Do(ctx, Policy{Attempts: 10, Initial: time.Hour, Max: time.Hour}, func(context.Context) error {
		return errFlaky
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, errFlaky)
}

func TestDo_InvalidPolicy(t *testing.T) {
	called := false
	fn := func(context.Context) error {
		called = true
		return nil
	}
	assert.ErrorIs(t, Do(context.Background(), Policy{Initial: -1}, fn), errors.ErrInvalidConfig)
	assert.ErrorIs(t, Do(context.Background(), Policy{Initial: time.Second, Max: time.Millisecond}, fn), errors.ErrInvalidConfig)
	assert.False(t, called)
}

func TestDoWithResult(t *testing.T) {
	attempts := 0
	v, err := DoWithResult(context.Background(), fast(3), func(context.Context) (int, error) {
		attempts++
		if attempts == 1 {
			return 0, errFlaky
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestPresets(t *testing.T) {
	assert.Equal(t, 1, Once().Attempts)
	p := Startup()
	assert.Equal(t, 10, p.Attempts)
	assert.LessOrEqual(t, p.Initial, p.Max)
}
