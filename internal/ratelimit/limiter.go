// Package ratelimit bounds the pipeline's outbound call rates with token
// buckets. Separate limiters front the mail provider and the classifier so a
// slow classifier never starves mailbox operations.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/mikey/llm-mail-triage/internal/core"
)

// Limiter is a token bucket with a bounded acquisition wait. Acquire blocks
// until a token is available or maxWait elapses; timing out yields a
// *core.RateLimitError rather than silently proceeding.
type Limiter struct {
	bucket  *rate.Limiter
	maxWait time.Duration
}

// New creates a limiter allowing ratePerSec sustained calls with the given
// burst. maxWait bounds how long Acquire may block.
func New(ratePerSec float64, burst int, maxWait time.Duration) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		bucket:  rate.NewLimiter(rate.Limit(ratePerSec), burst),
		maxWait: maxWait,
	}
}

// Acquire takes one token, waiting up to the limiter's bound.
func (l *Limiter) Acquire(ctx context.Context) error {
	waitCtx := ctx
	if l.maxWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.maxWait)
		defer cancel()
	}

	if err := l.bucket.Wait(waitCtx); err != nil {
		// The parent context ending is the caller's shutdown, not a limit.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &core.RateLimitError{RetryAfter: l.maxWait, Err: err}
	}
	return nil
}
