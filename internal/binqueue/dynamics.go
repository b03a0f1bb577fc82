package binqueue

import "time"

// changeRateResetPeriod is the trailing window over which net queue-depth
// change is measured to gate Zombie Latency Reduction (spec.md §4.4: "queue
// dynamics indicate a non-decreasing trend"), grounded on
// original_source/iron/bpf/src/queue_depth_dynamics.cc's kChangeRateResetPeriod
// (0.3s). The original exposes this as a compile-time constant rather than a
// runtime-configurable parameter, so it is not threaded through zlrConfig.
const changeRateResetPeriod = 300 * time.Millisecond

// changeSample is one net byte-delta observation at a point in time.
type changeSample struct {
	at    time.Time
	delta int64
}

// changeRateTracker tracks the net rate of queue-depth change over a
// trailing window, grounded on
// original_source/iron/bpf/src/queue_depth_dynamics.h's QueueDepthDynamics:
// a positive net change means the queue is growing or holding steady, a
// negative net change means it is draining. ZLR must not convert floor
// bytes to zombies while the queue is actively draining, or it would
// zombify bytes that were about to be sent anyway.
type changeRateTracker struct {
	window   time.Duration
	trailing []changeSample
	firstAt  time.Time
}

func newChangeRateTracker() *changeRateTracker {
	return &changeRateTracker{window: changeRateResetPeriod}
}

// Record logs a signed byte delta (positive for bytes added, negative for
// bytes removed or expired) observed at now, and prunes samples that have
// fallen outside the trailing window.
func (c *changeRateTracker) Record(now time.Time, delta int64) {
	if c.firstAt.IsZero() {
		c.firstAt = now
	}
	c.trailing = append(c.trailing, changeSample{at: now, delta: delta})
	cutoff := now.Add(-c.window)
	i := 0
	for i < len(c.trailing) && c.trailing[i].at.Before(cutoff) {
		i++
	}
	c.trailing = c.trailing[i:]
}

// NonDecreasing reports whether the net queue-depth change over the
// trailing window is zero or positive. Before a full window of data has
// accumulated, it reports true, matching the original's
// initializing_net_ behavior of returning the maximum representable
// change rate (queue_depth_dynamics.h's GetChangeRateBytesPerSec doc
// comment) — a caller always reads that as "increasing".
func (c *changeRateTracker) NonDecreasing(now time.Time) bool {
	if c.firstAt.IsZero() || now.Sub(c.firstAt) < c.window {
		return true
	}
	var net int64
	for _, s := range c.trailing {
		net += s.delta
	}
	return net >= 0
}
