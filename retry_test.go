package concur

import (
	"context"
	"testing"
	"time"

	"github.com/joeycumines/go-concur/ratelimit"
)

func TestRetryImmediateThenDelayScenario(t *testing.T) {
	// spec §8 scenario 3: Immediate(3).fallbackTo(Delay(2, 100ms)) on an
	// always-throwing op; exactly 6 attempts; elapsed >= 200ms.
	calls := 0
	start := time.Now()
	em := ThrowingErrorMode[int]()
	out := Retry(context.Background(), em, RetryConfig[error, int, ThrowingResult[int]]{
		Schedule: FallbackTo(Immediate(3), Delay(2, 100*time.Millisecond)),
	}, func(context.Context) ThrowingResult[int] {
		calls++
		return ThrowingResult[int]{Err: errAlways}
	})
	elapsed := time.Since(start)
	if calls != 6 {
		t.Fatalf("want 6 attempts, got %d", calls)
	}
	if elapsed < 200*time.Millisecond {
		t.Fatalf("want elapsed >= 200ms, got %v", elapsed)
	}
	if out.Err == nil {
		t.Fatal("want final outcome to carry the error")
	}
}

func TestRetryForeverEventuallySucceeds(t *testing.T) {
	// spec §8 scenario 4: op throws for 1000 calls then returns 42 under
	// Immediate(100).fallbackTo(Delay.forever(2ms)); eventually returns
	// 42, count == 1001.
	calls := 0
	em := ThrowingErrorMode[int]()
	out := Retry(context.Background(), em, RetryConfig[error, int, ThrowingResult[int]]{
		Schedule: FallbackTo(Immediate(100), Forever(Delay(1, 2*time.Millisecond))),
	}, func(context.Context) ThrowingResult[int] {
		calls++
		if calls <= 1000 {
			return ThrowingResult[int]{Err: errAlways}
		}
		return ThrowingResult[int]{Val: 42}
	})
	if calls != 1001 {
		t.Fatalf("want 1001 calls, got %d", calls)
	}
	if out.Err != nil || out.Val != 42 {
		t.Fatalf("want success(42), got %+v", out)
	}
}

func TestRetryStopsWhenNotWorthRetrying(t *testing.T) {
	calls := 0
	em := ThrowingErrorMode[int]()
	permanentErr := errFixture("permanent")
	out := Retry(context.Background(), em, RetryConfig[error, int, ThrowingResult[int]]{
		Schedule: Immediate(100),
		Policy: ResultPolicy[error, int]{
			IsWorthRetrying: func(err error) bool { return err != permanentErr },
		},
	}, func(context.Context) ThrowingResult[int] {
		calls++
		return ThrowingResult[int]{Err: permanentErr}
	})
	if calls != 1 {
		t.Fatalf("want exactly 1 attempt for a non-retryable error, got %d", calls)
	}
	if out.Err != permanentErr {
		t.Fatalf("want permanentErr surfaced, got %v", out.Err)
	}
}

func TestAdaptiveRetryBudgetBound(t *testing.T) {
	// spec §8: the number of retried failures cannot exceed
	// floor(capacity/failureCost) + successes*successReward/failureCost.
	bucket := ratelimit.NewTokenBucket(20, 0)
	const failureCost = 5
	const successReward = 1

	calls := 0
	retriedFailures := 0
	em := ThrowingErrorMode[int]()
	AdaptiveRetry(context.Background(), em, AdaptiveConfig[error, int, ThrowingResult[int]]{
		Schedule:      Immediate(1000),
		Bucket:        bucket,
		FailureCost:   failureCost,
		SuccessReward: successReward,
		OnRetry: func(int, error) {
			retriedFailures++
		},
	}, func(context.Context) ThrowingResult[int] {
		calls++
		return ThrowingResult[int]{Err: errAlways}
	})

	maxRetries := 20 / failureCost // no successes in this run
	if retriedFailures > maxRetries {
		t.Fatalf("retried %d failures, want <= %d (capacity/failureCost bound)", retriedFailures, maxRetries)
	}
}

func TestAdaptiveRetrySuccessReleasesTokens(t *testing.T) {
	bucket := ratelimit.NewTokenBucket(10, 0)
	// drain the bucket down to 0.
	if !bucket.TryAcquire(10) {
		t.Fatal("expected to drain the fresh bucket")
	}

	em := ThrowingErrorMode[int]()
	calls := 0
	out := AdaptiveRetry(context.Background(), em, AdaptiveConfig[error, int, ThrowingResult[int]]{
		Schedule:      Immediate(5),
		Bucket:        bucket,
		FailureCost:   1,
		SuccessReward: 3,
	}, func(context.Context) ThrowingResult[int] {
		calls++
		return ThrowingResult[int]{Val: calls}
	})
	if out.Err != nil {
		t.Fatalf("want success, got error %v", out.Err)
	}
	if calls != 1 {
		t.Fatalf("a successful first attempt should not retry, got %d calls", calls)
	}
	if !bucket.TryAcquire(3) {
		t.Fatal("successReward should have released 3 tokens into the drained bucket")
	}
}
