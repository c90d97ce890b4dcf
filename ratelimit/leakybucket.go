package ratelimit

import (
	"context"
	"sync/atomic"
	"time"
)

// LeakyBucket tracks operations-in-flight rather than admission rate: Max
// concurrent operations are allowed, each acquired slot "leaking" back at
// most one per RefillInterval via Update (symmetric to TokenBucket, with
// Acquire/Release renamed to match the in-flight semantics spec §4.7
// describes).
type LeakyBucket struct {
	inFlight atomic.Int64
	max      int64
	refill   time.Duration
}

// NewLeakyBucket constructs a LeakyBucket allowing up to max concurrent
// operations, leaking one slot per refillInterval. Panics if max <= 0.
func NewLeakyBucket(max int, refillInterval time.Duration) *LeakyBucket {
	if max <= 0 {
		panic("ratelimit: leakybucket: max must be positive")
	}
	return &LeakyBucket{max: int64(max), refill: refillInterval}
}

// TryAcquire attempts to occupy one slot, never blocking.
func (lb *LeakyBucket) TryAcquire() bool {
	for {
		cur := lb.inFlight.Load()
		if cur >= lb.max {
			return false
		}
		if lb.inFlight.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// Release frees one occupied slot immediately (used when an operation
// completes without waiting for the periodic leak).
func (lb *LeakyBucket) Release() {
	for {
		cur := lb.inFlight.Load()
		if cur <= 0 {
			return
		}
		if lb.inFlight.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

// Acquire blocks until a slot is available, or ctx is cancelled.
func (lb *LeakyBucket) Acquire(ctx context.Context) error {
	for {
		if lb.TryAcquire() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lb.GetNextUpdate()):
		}
	}
}

// Update leaks one occupied slot, if any and if RefillInterval > 0.
func (lb *LeakyBucket) Update() {
	if lb.refill <= 0 {
		return
	}
	lb.Release()
}

// GetNextUpdate returns the configured refill interval, or a long
// sentinel duration if leaking is manual only.
func (lb *LeakyBucket) GetNextUpdate() time.Duration {
	if lb.refill <= 0 {
		return 24 * time.Hour
	}
	return lb.refill
}
