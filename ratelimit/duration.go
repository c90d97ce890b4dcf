package ratelimit

import (
	"context"
	"sync/atomic"
	"time"
)

// DurationRateLimiter wraps a base Limiter (governing admission rate) and
// additionally enforces a cap on concurrent in-flight operations via
// StartOperation/EndOperation - the spec §4.7 variant needed when what
// must be bounded is duration/concurrency, not just admission frequency.
type DurationRateLimiter struct {
	base        Limiter
	maxInFlight int64
	inFlight    atomic.Int64
}

// NewDurationRateLimiter wraps base, additionally capping concurrent
// in-flight operations at maxInFlight. maxInFlight <= 0 disables the
// in-flight cap (admission is governed by base alone).
func NewDurationRateLimiter(base Limiter, maxInFlight int) *DurationRateLimiter {
	return &DurationRateLimiter{base: base, maxInFlight: int64(maxInFlight)}
}

// TryAcquire admits a new operation if both the base limiter and the
// in-flight cap allow it. The caller must call EndOperation when the
// operation completes (whether or not StartOperation/EndOperation are
// used explicitly - Acquire/TryAcquire already reserve an in-flight
// slot).
func (d *DurationRateLimiter) TryAcquire() bool {
	if !d.base.TryAcquire() {
		return false
	}
	if !d.reserveInFlight() {
		return false
	}
	return true
}

func (d *DurationRateLimiter) reserveInFlight() bool {
	if d.maxInFlight <= 0 {
		return true
	}
	for {
		cur := d.inFlight.Load()
		if cur >= d.maxInFlight {
			return false
		}
		if d.inFlight.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// Acquire blocks until both the base limiter and the in-flight cap allow
// a new operation, or ctx is cancelled. Each retry of the in-flight wait
// re-admits through the base limiter, so a pending in-flight slot never
// lets an operation bypass the base rate.
func (d *DurationRateLimiter) Acquire(ctx context.Context) error {
	for {
		if err := d.base.Acquire(ctx); err != nil {
			return err
		}
		if d.reserveInFlight() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

// StartOperation reserves an in-flight slot directly, bypassing the base
// limiter's admission check and the in-flight cap - for operations that
// did not go through Acquire/TryAcquire (which already reserve a slot of
// their own). Each call must be matched by one EndOperation.
func (d *DurationRateLimiter) StartOperation() {
	if d.maxInFlight <= 0 {
		return
	}
	d.inFlight.Add(1)
}

// EndOperation releases an in-flight slot. Must be called exactly once
// per admitted operation, typically via defer immediately after
// Acquire/TryAcquire succeeds.
func (d *DurationRateLimiter) EndOperation() {
	if d.maxInFlight <= 0 {
		return
	}
	for {
		cur := d.inFlight.Load()
		if cur <= 0 {
			return
		}
		if d.inFlight.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

// Update delegates to the base limiter's periodic replenishment.
func (d *DurationRateLimiter) Update() { d.base.Update() }

// GetNextUpdate delegates to the base limiter.
func (d *DurationRateLimiter) GetNextUpdate() time.Duration { return d.base.GetNextUpdate() }
