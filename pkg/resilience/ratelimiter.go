// Package resilience provides the rate limiter and circuit breaker the
// pipelines put in front of slow model backends.
package resilience

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/quillbase/quillbase/pkg/fn"
)

// Limiter is a token bucket limiter over golang.org/x/time/rate. A nil
// *Limiter never limits, so callers can make throttling optional.
type Limiter struct {
	rl *rate.Limiter
}

// NewLimiter allows rps events per second with the given burst capacity.
func NewLimiter(rps float64, burst int) *Limiter {
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{rl: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Allow reports whether an event may proceed now.
func (l *Limiter) Allow() bool {
	if l == nil {
		return true
	}
	return l.rl.Allow()
}

// Wait blocks until an event may proceed or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	return l.rl.Wait(ctx)
}

// LimitStage wraps a stage so each invocation waits for a token first.
func LimitStage[In, Out any](l *Limiter, stage fn.Stage[In, Out]) fn.Stage[In, Out] {
	return func(ctx context.Context, in In) fn.Result[Out] {
		if err := l.Wait(ctx); err != nil {
			return fn.Err[Out](err)
		}
		return stage(ctx, in)
	}
}
