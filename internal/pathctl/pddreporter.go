package pathctl

import (
	"math"
	"time"
)

// PDDReporter tracks a running mean and variance of observed low-latency
// packet delivery delay (PDD) and decides when a controller should invoke
// its configured report callback (spec.md §4.7 "PDD reporter").
type PDDReporter struct {
	thresholdFraction float64
	minPeriod         time.Duration
	maxPeriod         time.Duration

	count      uint64
	mean       float64
	m2         float64 // sum of squared deviations, for Welford's variance
	lastReport float64
	lastAt     time.Time
	haveReport bool
}

// NewPDDReporter constructs a reporter with the given thresholds.
func NewPDDReporter(thresholdFraction float64, minPeriod, maxPeriod time.Duration) *PDDReporter {
	return &PDDReporter{
		thresholdFraction: thresholdFraction,
		minPeriod:         minPeriod,
		maxPeriod:         maxPeriod,
	}
}

// Observe folds one PDD sample into the running mean/variance via
// Welford's online algorithm.
func (r *PDDReporter) Observe(pdd time.Duration) {
	r.count++
	x := float64(pdd)
	delta := x - r.mean
	r.mean += delta / float64(r.count)
	delta2 := x - r.mean
	r.m2 += delta * delta2
}

// Mean returns the current running mean PDD.
func (r *PDDReporter) Mean() time.Duration { return time.Duration(r.mean) }

// Variance returns the current running sample variance of PDD, in
// (nanoseconds)^2.
func (r *PDDReporter) Variance() float64 {
	if r.count < 2 {
		return 0
	}
	return r.m2 / float64(r.count-1)
}

// ShouldReport reports whether a report should fire now: the mean has
// moved by more than thresholdFraction of the last reported value, or
// maxPeriod has elapsed since the last report — but never more often than
// minPeriod (spec.md §4.7).
func (r *PDDReporter) ShouldReport(now time.Time) bool {
	if r.count == 0 {
		return false
	}
	if !r.lastAt.IsZero() && now.Sub(r.lastAt) < r.minPeriod {
		return false
	}
	if !r.haveReport {
		return true
	}
	if !r.lastAt.IsZero() && now.Sub(r.lastAt) >= r.maxPeriod {
		return true
	}
	diff := math.Abs(r.mean - r.lastReport)
	return diff > r.thresholdFraction*math.Abs(r.lastReport)
}

// MarkReported records that a report fired now with the current mean.
func (r *PDDReporter) MarkReported(now time.Time) {
	r.lastReport = r.mean
	r.lastAt = now
	r.haveReport = true
}
