package concur

import (
	"context"

	"github.com/joeycumines/go-concur/ratelimit"
)

// ResultPolicy classifies a value-typed outcome as success/failure,
// independent of ErrorMode: IsSuccess looks at a successful attempt's
// plain success value V (some successes are still "not good enough",
// e.g. an HTTP 200 with a retryable body), IsWorthRetrying looks at a
// failure's error value E. V is deliberately a separate type parameter
// from the ErrorMode's container type C: ErrorMode.GetT(c) returns the
// plain value boxed as any (see ThrowingResult[T].Val, Result[E,T].Val),
// and IsSuccess needs that unboxed value, not the container it came from.
type ResultPolicy[E, V any] struct {
	IsSuccess       func(V) bool
	IsWorthRetrying func(E) bool
}

// RetryConfig wires a Schedule, a ResultPolicy, and an optional lifecycle
// callback into the schedule engine. E is the error type, V the plain
// success value type, C the ErrorMode's container type (e.g.
// ThrowingResult[V] or Result[E,V]).
type RetryConfig[E, V, C any] struct {
	Schedule Schedule
	Policy   ResultPolicy[E, V]
	// OnRetry is called after a retryable failure, before sleeping,
	// purely for observability (logging, metrics).
	OnRetry func(attempt int, err E)
}

// Retry runs op repeatedly under em and cfg's schedule until either it
// succeeds per Policy.IsSuccess, or the failure is not worth retrying per
// Policy.IsWorthRetrying, or the schedule is exhausted.
func Retry[E, V, C any](ctx context.Context, em ErrorMode[E, C], cfg RetryConfig[E, V, C], op func(context.Context) C) C {
	afterAttempt := func(attempt int, outcome C) bool {
		if em.IsError(outcome) {
			err := em.GetError(outcome)
			worth := cfg.Policy.IsWorthRetrying == nil || cfg.Policy.IsWorthRetrying(err)
			if worth && cfg.OnRetry != nil {
				cfg.OnRetry(attempt, err)
			}
			return worth
		}
		if cfg.Policy.IsSuccess != nil {
			v, _ := em.GetT(outcome).(V)
			if cfg.Policy.IsSuccess(v) {
				return false
			}
			return true
		}
		return false
	}

	return Run(ctx, em, Config[E, C]{Schedule: cfg.Schedule, AfterAttempt: afterAttempt}, op)
}

// RetryEither is Retry specialized to Result[E, T], the common case where
// callers don't want to build an ErrorMode by hand.
func RetryEither[E, T any](ctx context.Context, cfg RetryConfig[E, T, Result[E, T]], op func(context.Context) Result[E, T]) Result[E, T] {
	return Retry(ctx, ResultErrorMode[E, T](), cfg, op)
}

// RetryWithErrorMode is Retry with an explicit, possibly custom,
// ErrorMode - the general form the spec's external interface names
// directly.
func RetryWithErrorMode[E, V, C any](ctx context.Context, em ErrorMode[E, C], cfg RetryConfig[E, V, C], op func(context.Context) C) C {
	return Retry(ctx, em, cfg, op)
}

// AdaptiveConfig adds token-bucket budgeting to a RetryConfig: retries
// (and, optionally, non-success-but-not-worth-a-full-retry outcomes)
// are gated on token availability, and successes replenish the bucket.
type AdaptiveConfig[E, V, C any] struct {
	Schedule      Schedule
	Policy        ResultPolicy[E, V]
	Bucket        *ratelimit.TokenBucket
	FailureCost   int
	SuccessReward int
	// PenaltyOnNonSuccess, when true, makes a "not a success, but not an
	// error either" outcome pay FailureCost like a retryable error would
	// (spec §4.6, "Value, not success, penalty-paying"); when false, such
	// outcomes retry for free (spec's "no penalty" branch).
	PenaltyOnNonSuccess bool
	OnRetry             func(attempt int, err E)
}

// DefaultAdaptiveBucket returns a new TokenBucket using the spec's
// documented defaults (capacity 500, cost 5, reward 1).
func DefaultAdaptiveBucket() *ratelimit.TokenBucket {
	return ratelimit.NewTokenBucket(500, 0)
}

// AdaptiveRetry drives op under the schedule engine with AdaptiveConfig's
// four-way token-bucket decision table (spec §4.6):
//
//   - error, worth retrying: continue iff the bucket has FailureCost tokens.
//   - value, success: release SuccessReward tokens, stop.
//   - value, not success, PenaltyOnNonSuccess: continue iff FailureCost tokens available.
//   - value, not success, !PenaltyOnNonSuccess: continue unconditionally.
func AdaptiveRetry[E, V, C any](ctx context.Context, em ErrorMode[E, C], cfg AdaptiveConfig[E, V, C], op func(context.Context) C) C {
	bucket := cfg.Bucket
	if bucket == nil {
		bucket = DefaultAdaptiveBucket()
	}
	failureCost := cfg.FailureCost
	if failureCost <= 0 {
		failureCost = 5
	}
	successReward := cfg.SuccessReward
	if successReward <= 0 {
		successReward = 1
	}

	afterAttempt := func(attempt int, outcome C) bool {
		if em.IsError(outcome) {
			err := em.GetError(outcome)
			worth := cfg.Policy.IsWorthRetrying == nil || cfg.Policy.IsWorthRetrying(err)
			if !worth || !bucket.TryAcquire(failureCost) {
				return false
			}
			if cfg.OnRetry != nil {
				cfg.OnRetry(attempt, err)
			}
			return true
		}

		v, _ := em.GetT(outcome).(V)
		if cfg.Policy.IsSuccess == nil || cfg.Policy.IsSuccess(v) {
			bucket.Release(successReward)
			return false
		}
		if cfg.PenaltyOnNonSuccess {
			return bucket.TryAcquire(failureCost)
		}
		return true
	}

	return Run(ctx, em, Config[E, C]{Schedule: cfg.Schedule, AfterAttempt: afterAttempt}, op)
}
