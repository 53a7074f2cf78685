package fn

import (
	"context"
	"time"
)

// RetryOpts configures retry behaviour. RetryIf, when set, restricts which
// errors are retried; anything else fails fast after the first attempt.
type RetryOpts struct {
	MaxAttempts int
	Wait        time.Duration
	RetryIf     func(error) bool
}

// Retry runs f up to MaxAttempts times, sleeping Wait between attempts.
// The context is checked before every sleep.
func Retry[T any](ctx context.Context, opts RetryOpts, f func(context.Context) Result[T]) Result[T] {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}

	var result Result[T]
	for attempt := 0; attempt < opts.MaxAttempts; attempt++ {
		result = f(ctx)
		if result.IsOk() {
			return result
		}
		_, err := result.Unwrap()
		if opts.RetryIf != nil && !opts.RetryIf(err) {
			return result
		}
		if attempt == opts.MaxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return Err[T](ctx.Err())
		case <-time.After(opts.Wait):
		}
	}
	return result
}

// RetryStage wraps a Stage with Retry.
func RetryStage[In, Out any](opts RetryOpts, stage Stage[In, Out]) Stage[In, Out] {
	return func(ctx context.Context, in In) Result[Out] {
		return Retry(ctx, opts, func(ctx context.Context) Result[Out] {
			return stage(ctx, in)
		})
	}
}
