package binqueue

import "time"

// zlrConfig parameterizes a zlrController. A queue manager constructs two
// independent controllers per bin queue — one for latency-sensitive
// accounting, one for non-LS — since ZLR is "separately tuned for LS vs
// non-LS queues" (spec.md §4.4).
type zlrConfig struct {
	FloorFraction      float64       // fraction of the floor converted to zombies per adjustment
	MinWindow          time.Duration // lower bound on the trailing window
	MaxWindow          time.Duration // upper bound on the trailing window
	InitialWindow      time.Duration
	IncrementStep      time.Duration
	DecrementStep      time.Duration
	IncrementRateLimit time.Duration // spec.md default 50ms
	DecrementRateLimit time.Duration // spec.md default 300ms
	QuietPeriod        time.Duration // spec.md default 2s: no decrement until this long since last zombie
}

func (c zlrConfig) withDefaults() zlrConfig {
	if c.FloorFraction <= 0 {
		c.FloorFraction = 0.5
	}
	if c.MinWindow <= 0 {
		c.MinWindow = 100 * time.Millisecond
	}
	if c.MaxWindow <= 0 {
		c.MaxWindow = 10 * time.Second
	}
	if c.InitialWindow <= 0 {
		c.InitialWindow = 1 * time.Second
	}
	if c.IncrementStep <= 0 {
		c.IncrementStep = 100 * time.Millisecond
	}
	if c.DecrementStep <= 0 {
		c.DecrementStep = 100 * time.Millisecond
	}
	if c.IncrementRateLimit <= 0 {
		c.IncrementRateLimit = 50 * time.Millisecond
	}
	if c.DecrementRateLimit <= 0 {
		c.DecrementRateLimit = 300 * time.Millisecond
	}
	if c.QuietPeriod <= 0 {
		c.QuietPeriod = 2 * time.Second
	}
	return c
}

// zlrController implements Zombie Latency Reduction (spec.md §4.4): it
// tracks the minimum observed depth over a trailing window (the "floor")
// and decides, on each tick, how many floor bytes should be converted
// into virtual zombie bytes to keep measured queueing delay low without
// losing backpressure gradient information.
type zlrController struct {
	cfg zlrConfig

	window time.Duration

	trailing    []depthSample
	lastIncrAt  time.Time
	lastDecrAt  time.Time
	lastZombieAt time.Time
}

type depthSample struct {
	at    time.Time
	depth uint32
}

func newZLRController(cfg zlrConfig) *zlrController {
	cfg = cfg.withDefaults()
	return &zlrController{cfg: cfg, window: cfg.InitialWindow}
}

// Observe records a new depth sample and prunes trailing samples outside
// the current window.
func (z *zlrController) Observe(now time.Time, depth uint32) {
	z.trailing = append(z.trailing, depthSample{at: now, depth: depth})
	cutoff := now.Add(-z.window)
	i := 0
	for i < len(z.trailing) && z.trailing[i].at.Before(cutoff) {
		i++
	}
	z.trailing = z.trailing[i:]
}

// Floor returns the minimum depth observed within the trailing window,
// given current as the latest sample (used when Observe has not yet been
// called for `current`).
func (z *zlrController) Floor(current uint32) uint32 {
	min := current
	for _, s := range z.trailing {
		if s.depth < min {
			min = s.depth
		}
	}
	return min
}

// ZombieBudget computes how many bytes of the current floor should be
// converted to zombies on this tick, given the current depth and whether
// the queue's recent dynamics are non-decreasing (spec.md §4.4: "When the
// floor is positive and queue dynamics indicate a non-decreasing trend").
// It does not itself perform the conversion; the caller dequeues/recycles
// real packets and enqueues zombie bytes for the returned amount, then
// calls RecordZombieEmitted.
func (z *zlrController) ZombieBudget(current uint32, nonDecreasing bool) uint32 {
	floor := z.Floor(current)
	if floor == 0 || !nonDecreasing {
		return 0
	}
	return uint32(float64(floor) * z.cfg.FloorFraction)
}

// RecordZombieEmitted widens the trailing window (spec.md §4.4: "too much
// zombification => widen the window so fewer zombies are added"), subject
// to the increment rate limit.
func (z *zlrController) RecordZombieEmitted(now time.Time) {
	z.lastZombieAt = now
	if !z.lastIncrAt.IsZero() && now.Sub(z.lastIncrAt) < z.cfg.IncrementRateLimit {
		return
	}
	z.lastIncrAt = now
	z.window += z.cfg.IncrementStep
	if z.window > z.cfg.MaxWindow {
		z.window = z.cfg.MaxWindow
	}
}

// MaybeNarrow shrinks the trailing window after sufficient quiet time
// (spec.md §4.4: "decremented after sufficient quiet time"), subject to
// the decrement rate limit and the no-zombie-in-QuietPeriod gate.
func (z *zlrController) MaybeNarrow(now time.Time) {
	if !z.lastZombieAt.IsZero() && now.Sub(z.lastZombieAt) < z.cfg.QuietPeriod {
		return
	}
	if !z.lastDecrAt.IsZero() && now.Sub(z.lastDecrAt) < z.cfg.DecrementRateLimit {
		return
	}
	z.lastDecrAt = now
	z.window -= z.cfg.DecrementStep
	if z.window < z.cfg.MinWindow {
		z.window = z.cfg.MinWindow
	}
}

// Window returns the controller's current trailing-window length.
func (z *zlrController) Window() time.Duration { return z.window }
