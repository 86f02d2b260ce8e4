// Package retry repeats operations that fail with transient errors, backing
// off exponentially between attempts.
package retry

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/c360/controlbus/errors"
)

// Policy describes how often and how patiently an operation is retried.
type Policy struct {
	Attempts   int           // total attempts; values below 1 mean a single attempt
	Initial    time.Duration // delay before the second attempt
	Max        time.Duration // upper bound of any delay
	Multiplier float64       // delay growth per attempt, 1 keeps it constant
	Jitter     bool          // add up to 25% random delay
}

// Once runs the operation a single time.
func Once() Policy {
	return Policy{Attempts: 1}
}

// Startup suits dependencies that may come up shortly after the process,
// such as a NATS server started by the same compose file.
func Startup() Policy {
	return Policy{
		Attempts:   10,
		Initial:    50 * time.Millisecond,
		Max:        time.Second,
		Multiplier: 1.5,
		Jitter:     true,
	}
}

func (p Policy) normalised() (Policy, error) {
	if p.Initial < 0 || p.Max < 0 || p.Multiplier < 0 {
		return p, errors.WrapInvalid(
			fmt.Errorf("%w: negative retry policy field", errors.ErrInvalidConfig), "retry", "Do", "policy check")
	}
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	if p.Initial == 0 {
		p.Initial = 100 * time.Millisecond
	}
	if p.Max == 0 {
		p.Max = 5 * time.Second
	}
	if p.Max < p.Initial {
		return p, errors.WrapInvalid(
			fmt.Errorf("%w: Max below Initial", errors.ErrInvalidConfig), "retry", "Do", "policy check")
	}
	p.Multiplier = min(max(p.Multiplier, 1), 1000)
	return p, nil
}

// Do runs fn until it succeeds, fails with an error that is not transient,
// the attempts run out or ctx ends. The last failure is returned wrapped.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	p, err := p.normalised()
	if err != nil {
		return err
	}

	delay := p.Initial
	for attempt := 1; ; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !errors.IsTransient(err) || ctx.Err() != nil {
			return err
		}
		if attempt == p.Attempts {
			return fmt.Errorf("retry failed after %d attempts: %w", attempt, err)
		}

		sleep := delay
		if p.Jitter && delay >= 4 {
			sleep += rand.N(delay / 4)
		}
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled before attempt %d: %w", attempt+1, stderrors.Join(err, ctx.Err()))
		case <-timer.C:
		}

		delay = min(time.Duration(float64(delay)*p.Multiplier), p.Max)
	}
}

// DoWithResult is Do for operations producing a value.
func DoWithResult[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := Do(ctx, p, func(ctx context.Context) error {
		var err error
		result, err = fn(ctx)
		return err
	})
	return result, err
}
