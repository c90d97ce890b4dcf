// Package ratelimit implements the rate limiter family described by the
// core spec's C8: fixed-window, sliding-window, token-bucket, and
// leaky-bucket admission control, plus a DurationRateLimiter decorator
// for concurrent-in-flight accounting and a Category decorator restoring
// per-key limiting (catrate.Limiter's signature feature).
package ratelimit

import (
	"context"
	"time"
)

// Limiter is the common shape every algorithm in this package implements:
// Acquire blocks until admitted, TryAcquire never blocks, Update performs
// one periodic replenishment step, and GetNextUpdate reports how long
// until the next Update call would do useful work - the contract a
// background fork uses to drive Update in a loop (spec §4.7: "A
// background fork per limiter sleeps getNextUpdate then calls update,
// indefinitely").
type Limiter interface {
	Acquire(ctx context.Context) error
	TryAcquire() bool
	Update()
	GetNextUpdate() time.Duration
}

var (
	_ Limiter = (*FixedWindow)(nil)
	_ Limiter = (*SlidingWindow)(nil)
	_ Limiter = (*DurationRateLimiter)(nil)
)

// tokenBucketLimiter adapts TokenBucket's TryAcquire(n) signature to the
// single-token Limiter shape; LeakyBucket implements Limiter directly.
type tokenBucketLimiter struct{ *TokenBucket }

func (t tokenBucketLimiter) TryAcquire() bool { return t.TokenBucket.TryAcquire(1) }

// AsLimiter adapts a TokenBucket to the Limiter interface (its native
// TryAcquire takes a token count, since AdaptiveRetry needs to debit more
// than one at a time).
func (tb *TokenBucket) AsLimiter() Limiter { return tokenBucketLimiter{tb} }

var _ Limiter = tokenBucketLimiter{}
var _ Limiter = (*LeakyBucket)(nil)

// RunUpdater drives lim.Update() in a loop, sleeping lim.GetNextUpdate()
// between calls, until ctx is cancelled. This is the body a rate
// limiter's background fork (for example a concur.Fork) runs; it is a
// plain function
// rather than a method so it composes with any Limiter implementation,
// including a DurationRateLimiter or Category wrapper.
func RunUpdater(ctx context.Context, lim Limiter) error {
	return RunUpdaterWithLogger(ctx, lim, nil)
}

// RunUpdaterWithLogger is RunUpdater, additionally reporting the
// cancellation cause (never a failure mid-loop - Update itself cannot
// error) through log, so a rate limiter's background fork has something
// to report at shutdown beyond a bare context error.
func RunUpdaterWithLogger(ctx context.Context, lim Limiter, log Logger) error {
	for {
		wait := lim.GetNextUpdate()
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			logEvent(log, "ratelimit_updater_stopped", "cause", ctx.Err())
			return ctx.Err()
		case <-timer.C:
		}
		lim.Update()
	}
}
