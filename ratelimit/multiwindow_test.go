package ratelimit

import (
	"testing"
	"time"
)

func TestValidateRatesRejectsEmptyAndNonPositive(t *testing.T) {
	if _, ok := ValidateRates(nil); ok {
		t.Fatal("want an empty rates map rejected")
	}
	if _, ok := ValidateRates(map[time.Duration]int{0: 1}); ok {
		t.Fatal("want a zero duration rejected")
	}
	if _, ok := ValidateRates(map[time.Duration]int{time.Second: 0}); ok {
		t.Fatal("want a zero count rejected")
	}
}

func TestValidateRatesRejectsNonMonotonic(t *testing.T) {
	// shorter window (1s) must admit fewer than the longer window (1m);
	// 10/s and 5/min is nonsensical (the minute window binds tighter).
	if _, ok := ValidateRates(map[time.Duration]int{
		time.Second: 10,
		time.Minute: 5,
	}); ok {
		t.Fatal("want a non-monotonic rate map rejected")
	}
}

func TestValidateRatesAcceptsMonotonicRates(t *testing.T) {
	retention, ok := ValidateRates(map[time.Duration]int{
		time.Second: 10,
		time.Minute: 100,
	})
	if !ok {
		t.Fatal("want a valid monotonic rate map accepted")
	}
	if retention != time.Minute {
		t.Fatalf("want retention == longest window (1m), got %v", retention)
	}
}

func TestNewMultiWindowPanicsOnInvalidRates(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("want NewMultiWindow to panic on invalid rates")
		}
	}()
	NewMultiWindow(map[time.Duration]int{time.Second: 10, time.Minute: 5})
}

func TestMultiWindowAdmitsOnlyWhenEveryTierHasRoom(t *testing.T) {
	fc := withFakeClock(t, time.Unix(0, 0))
	mw := NewMultiWindow(map[time.Duration]int{
		time.Second: 2,
		time.Minute: 3,
	})

	if !mw.TryAcquire() {
		t.Fatal("want 1st admitted")
	}
	if !mw.TryAcquire() {
		t.Fatal("want 2nd admitted (within both tiers)")
	}
	if mw.TryAcquire() {
		t.Fatal("want 3rd refused: the 1s tier is already at its cap of 2")
	}

	// advance past the 1s tier's window so it has room again, but the 1m
	// tier still only has 2 admissions logged (well under its cap of 3).
	fc.Advance(1100 * time.Millisecond)
	if !mw.TryAcquire() {
		t.Fatal("want admitted once the 1s tier's oldest entries age out")
	}

	// the 1m tier should now have logged 3 events total (2 before the
	// advance + 1 after); a 4th attempt, even with the 1s tier wide open
	// again, must be refused by the minute tier.
	if mw.TryAcquire() {
		t.Fatal("want refused: the 1m tier is now at its cap of 3")
	}
}

func TestMultiWindowCommitIsAllOrNothing(t *testing.T) {
	withFakeClock(t, time.Unix(0, 0))
	mw := NewMultiWindow(map[time.Duration]int{
		time.Millisecond: 1,
		time.Hour:        100,
	})

	if !mw.TryAcquire() {
		t.Fatal("want 1st admitted")
	}
	// the millisecond tier is now full; a refusal here must not have
	// pushed anything into the hour tier either.
	if mw.TryAcquire() {
		t.Fatal("want 2nd refused: the millisecond tier is full")
	}

	if mw.tiers[1].log.Len() != 1 {
		t.Fatalf("want the hour tier to still hold exactly 1 entry (the committed 1st acquire), got %d", mw.tiers[1].log.Len())
	}
}
