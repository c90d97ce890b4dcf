package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/exp/slices"
)

// ValidateRates checks a map of window duration to max-events-in-that-window
// for the two monotonicity requirements catrate.NewLimiter enforces on its
// own rates map: every duration and count must be positive, the count for a
// shorter window must be strictly less than the count for any longer window,
// and the effective rate (count/duration) must be strictly decreasing as the
// window grows - a rate map that violates either is nonsensical (the longer
// window would never bind). ok is false (and retention the zero value) for
// an empty or invalid map; retention is otherwise the longest configured
// duration, the window MultiWindow must retain admission history for.
func ValidateRates(rates map[time.Duration]int) (retention time.Duration, ok bool) {
	if len(rates) == 0 {
		return 0, false
	}

	durations := make([]time.Duration, 0, len(rates))
	for d := range rates {
		durations = append(durations, d)
	}
	slices.Sort(durations)

	for i, d := range durations {
		count := rates[d]
		if count <= 0 || d <= 0 {
			return 0, false
		}
		if (i < len(durations)-1 && count >= rates[durations[i+1]]) ||
			(i > 0 && float64(count)/float64(d) >= float64(rates[durations[i-1]])/float64(durations[i-1])) {
			return 0, false
		}
	}

	return durations[len(durations)-1], true
}

type multiWindowTier struct {
	window time.Duration
	max    int
	log    *ring[int64]
}

// MultiWindow enforces several simultaneous sliding-window rate limits at
// once (e.g. 10/second AND 100/minute), admitting an event only when every
// configured tier has room, and committing to none of them if any one tier
// is full - the multi-rate behavior of catrate.Limiter.Allow, generalized
// here from "per category" down to a single limiter (Category, elsewhere in
// this package, restores the per-key behavior over any base Limiter,
// including a MultiWindow).
type MultiWindow struct {
	tiers     []multiWindowTier
	retention time.Duration

	mu sync.Mutex
}

// NewMultiWindow constructs a MultiWindow from a map of window duration to
// max events permitted in that window. Panics if rates is empty or fails
// ValidateRates (mirroring catrate.NewLimiter's panic-on-invalid-rates
// convention).
func NewMultiWindow(rates map[time.Duration]int) *MultiWindow {
	retention, ok := ValidateRates(rates)
	if !ok {
		panic(fmt.Errorf("ratelimit: multiwindow: invalid rates: %v", rates))
	}

	durations := make([]time.Duration, 0, len(rates))
	for d := range rates {
		durations = append(durations, d)
	}
	slices.Sort(durations)

	tiers := make([]multiWindowTier, len(durations))
	for i, d := range durations {
		tiers[i] = multiWindowTier{window: d, max: rates[d], log: newRing[int64](8)}
	}

	return &MultiWindow{tiers: tiers, retention: retention}
}

// evictStaleLocked drops every tier's entries that have aged out of that
// tier's own window, relative to now. Must be called with mu held.
func (m *MultiWindow) evictStaleLocked(now int64) {
	for i := range m.tiers {
		t := &m.tiers[i]
		boundary := now - int64(t.window)
		evictBefore := t.log.Search(boundary + 1)
		t.log.RemoveBefore(evictBefore)
	}
}

// TryAcquire attempts to admit one event now, never blocking. Admission is
// all-or-nothing: if any tier is at capacity, no tier's log is mutated.
func (m *MultiWindow) TryAcquire() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := timeNow().UnixNano()
	m.evictStaleLocked(now)

	for i := range m.tiers {
		if m.tiers[i].log.Len() >= m.tiers[i].max {
			return false
		}
	}
	for i := range m.tiers {
		m.tiers[i].log.Push(now)
	}
	return true
}

// Acquire blocks until an event can be admitted under every tier, or ctx is
// cancelled.
func (m *MultiWindow) Acquire(ctx context.Context) error {
	for {
		if m.TryAcquire() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.GetNextUpdate()):
		}
	}
}

// Update is a no-op: like SlidingWindow, MultiWindow's admission logs are
// self-pruning on every TryAcquire rather than swept on a timer.
func (m *MultiWindow) Update() {}

// GetNextUpdate returns the shortest time until any tier's oldest tracked
// event ages out, a lower bound on when TryAcquire might next succeed.
func (m *MultiWindow) GetNextUpdate() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := timeNow()
	var next time.Duration = -1
	for i := range m.tiers {
		t := &m.tiers[i]
		if t.log.Len() == 0 {
			continue
		}
		oldest := time.Unix(0, t.log.Get(0))
		remaining := oldest.Add(t.window).Sub(now)
		if remaining < 0 {
			remaining = 0
		}
		if next < 0 || remaining < next {
			next = remaining
		}
	}
	if next < 0 {
		return 0
	}
	return next
}

var _ Limiter = (*MultiWindow)(nil)
