package binqueue

import (
	"testing"
	"time"
)

func TestZLRObserveTracksFloor(t *testing.T) {
	t.Parallel()

	z := newZLRController(zlrConfig{InitialWindow: time.Second})
	now := time.Unix(0, 0)
	z.Observe(now, 100)
	z.Observe(now.Add(10*time.Millisecond), 20)
	z.Observe(now.Add(20*time.Millisecond), 80)

	if got := z.Floor(80); got != 20 {
		t.Fatalf("Floor() = %d, want 20 (minimum observed)", got)
	}
}

func TestZLRObservePrunesOutsideWindow(t *testing.T) {
	t.Parallel()

	z := newZLRController(zlrConfig{InitialWindow: 50 * time.Millisecond})
	now := time.Unix(0, 0)
	z.Observe(now, 10) // will fall outside the window later
	z.Observe(now.Add(100*time.Millisecond), 90)

	if got := z.Floor(90); got != 90 {
		t.Fatalf("Floor() = %d, want 90 (the stale 10-sample should have been pruned)", got)
	}
}

func TestZLRZombieBudgetZeroWhenFloorZero(t *testing.T) {
	t.Parallel()

	z := newZLRController(zlrConfig{})
	if got := z.ZombieBudget(0, true); got != 0 {
		t.Fatalf("ZombieBudget() = %d, want 0 when floor is zero", got)
	}
}

func TestZLRZombieBudgetZeroWhenNotNonDecreasing(t *testing.T) {
	t.Parallel()

	z := newZLRController(zlrConfig{FloorFraction: 0.5})
	z.Observe(time.Unix(0, 0), 100)
	if got := z.ZombieBudget(100, false); got != 0 {
		t.Fatalf("ZombieBudget() = %d, want 0 when dynamics are not non-decreasing", got)
	}
}

func TestZLRRecordZombieEmittedWidensWindowUnderRateLimit(t *testing.T) {
	t.Parallel()

	z := newZLRController(zlrConfig{
		InitialWindow:      time.Second,
		IncrementStep:      100 * time.Millisecond,
		IncrementRateLimit: 50 * time.Millisecond,
		MaxWindow:          10 * time.Second,
	})
	now := time.Unix(0, 0)
	z.RecordZombieEmitted(now)
	if got, want := z.Window(), 1100*time.Millisecond; got != want {
		t.Fatalf("Window() after first emit = %v, want %v", got, want)
	}

	// Within the rate limit: no further widening.
	z.RecordZombieEmitted(now.Add(10 * time.Millisecond))
	if got, want := z.Window(), 1100*time.Millisecond; got != want {
		t.Fatalf("Window() after rate-limited emit = %v, want %v (unchanged)", got, want)
	}

	// Past the rate limit: widens again.
	z.RecordZombieEmitted(now.Add(60 * time.Millisecond))
	if got, want := z.Window(), 1200*time.Millisecond; got != want {
		t.Fatalf("Window() after second emit = %v, want %v", got, want)
	}
}

func TestZLRMaybeNarrowRequiresQuietPeriod(t *testing.T) {
	t.Parallel()

	z := newZLRController(zlrConfig{
		InitialWindow:      time.Second,
		DecrementStep:      100 * time.Millisecond,
		DecrementRateLimit: 0,
		QuietPeriod:        2 * time.Second,
	})
	now := time.Unix(0, 0)
	z.RecordZombieEmitted(now)
	widened := z.Window()

	// Too soon after the last zombie: must not narrow yet.
	z.MaybeNarrow(now.Add(time.Second))
	if got := z.Window(); got != widened {
		t.Fatalf("Window() narrowed before QuietPeriod elapsed: got %v, want unchanged %v", got, widened)
	}

	z.MaybeNarrow(now.Add(3 * time.Second))
	if got := z.Window(); got >= widened {
		t.Fatalf("Window() = %v, want narrower than %v after QuietPeriod elapsed", got, widened)
	}
}
