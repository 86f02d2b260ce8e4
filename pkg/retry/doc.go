// Package retry repeats operations that fail with transient errors.
//
// Whether an error is worth retrying is decided by errors.IsTransient:
// invalid input and fatal failures are returned at once, whatever the
// policy says.
//
//	err := retry.Do(ctx, retry.Startup(), func(ctx context.Context) error {
//	    return client.Dial(ctx)
//	})
//
// Once runs the operation a single time and is the zero-cost default for
// callers that make retries optional.
package retry
