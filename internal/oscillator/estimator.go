// Package oscillator tracks the oscillation period of a queue's sampled
// depth over time, via a periodic FFT, for use as the EWMA smoothing
// time-constant in internal/binqueue (spec.md §4.5).
package oscillator

import (
	"math"
	"time"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Defaults mirror spec.md §6's configuration keys.
const (
	DefaultSampleSize             = 2048
	DefaultSampleInterval         = 2500 * time.Microsecond
	DefaultComputeInterval        = 1 * time.Second
	DefaultMaxConsideredPeriod    = 1 * time.Second
	DefaultMinTimeBetweenResets   = 6 * time.Second
	DefaultResetTriggerFraction   = 0.25
	DefaultResetTriggerTime       = 500 * time.Millisecond
	DefaultWeightTau              = 5 * time.Millisecond
	energyThreshold       float64 = 10000
	energyFraction        float64 = 0.5
)

// Config parameterizes an Estimator. Zero-valued fields are replaced with
// their spec.md-default at NewEstimator time.
type Config struct {
	SampleSize            int
	SampleInterval        time.Duration
	ComputeInterval       time.Duration
	MaxConsideredPeriod    time.Duration
	MinTimeBetweenResets   time.Duration
	ResetTriggerFraction   float64
	ResetTriggerTime       time.Duration
	UseSoftReset           bool
	// UseInterpolation enables second-order Lagrange sub-bin frequency
	// interpolation (spec.md §4.5 step 4, "optionally"; supplemented from
	// original_source/iron/bpf/src/queue_depth_osc.h, see SPEC_FULL.md §3).
	UseInterpolation bool
}

func (c Config) withDefaults() Config {
	if c.SampleSize <= 0 {
		c.SampleSize = DefaultSampleSize
	}
	if c.SampleInterval <= 0 {
		c.SampleInterval = DefaultSampleInterval
	}
	if c.ComputeInterval <= 0 {
		c.ComputeInterval = DefaultComputeInterval
	}
	if c.MaxConsideredPeriod <= 0 {
		c.MaxConsideredPeriod = DefaultMaxConsideredPeriod
	}
	if c.MinTimeBetweenResets <= 0 {
		c.MinTimeBetweenResets = DefaultMinTimeBetweenResets
	}
	if c.ResetTriggerFraction <= 0 {
		c.ResetTriggerFraction = DefaultResetTriggerFraction
	}
	if c.ResetTriggerTime <= 0 {
		c.ResetTriggerTime = DefaultResetTriggerTime
	}
	return c
}

// resetTriggerSampleCount derives the consecutive-sample count from
// ResetTriggerTime/SampleInterval (spec.md §4.5: "computed from
// reset_trigger_time at T_sample").
func (c Config) resetTriggerSampleCount() int {
	n := int(c.ResetTriggerTime / c.SampleInterval)
	if n < 1 {
		n = 1
	}
	return n
}

// Estimator tracks one queue's depth-oscillation period (spec.md §4.5).
// It is not safe for concurrent use; the owning per-bin queue state
// serializes access under its own lock.
type Estimator struct {
	cfg Config
	fft *fourier.FFT

	samples  []float64
	writeIdx int
	filled   int

	lastSampleTime  time.Time
	lastComputeTime time.Time
	lastResetTime   time.Time

	offThresholdRun int

	period      time.Duration
	periodUsable bool
}

// NewEstimator constructs an Estimator. cfg's zero fields take spec.md's
// documented defaults.
func NewEstimator(cfg Config) *Estimator {
	cfg = cfg.withDefaults()
	return &Estimator{
		cfg:     cfg,
		fft:     fourier.NewFFT(cfg.SampleSize),
		samples: make([]float64, cfg.SampleSize),
	}
}

// Period returns the most recently reported oscillation period and
// whether it is currently usable (spec.md §4.5, §8 invariant 8: "after a
// hard reset ... reports 'no usable period' until it has collected a full
// sample buffer").
func (e *Estimator) Period() (time.Duration, bool) {
	return e.period, e.periodUsable
}

// CheckPoint is the per-sample entry point (spec.md §4.5: "collects one
// queue-depth sample every T_sample"). raw is the exact current queue
// depth; smoothed is the most recently EWMA-smoothed depth, used for
// reset-trigger comparison. Callers should invoke this at least as often
// as SampleInterval; calls arriving sooner than SampleInterval since the
// last recorded sample are no-ops aside from reset-trigger bookkeeping.
func (e *Estimator) CheckPoint(now time.Time, raw, smoothed uint32) {
	e.trackResetTrigger(now, raw, smoothed)

	if !e.lastSampleTime.IsZero() && now.Sub(e.lastSampleTime) < e.cfg.SampleInterval {
		return
	}
	e.lastSampleTime = now

	e.samples[e.writeIdx] = float64(raw)
	e.writeIdx = (e.writeIdx + 1) % len(e.samples)
	if e.filled < len(e.samples) {
		e.filled++
	}

	if e.lastComputeTime.IsZero() || now.Sub(e.lastComputeTime) >= e.cfg.ComputeInterval {
		e.lastComputeTime = now
		e.compute()
	}
}

// trackResetTrigger implements spec.md §4.5's reset-trigger bookkeeping:
// count consecutive samples where the raw depth differs from the smoothed
// depth by at least ResetTriggerFraction of the smoothed value, and reset
// once resetTriggerSampleCount consecutive such samples have been seen.
func (e *Estimator) trackResetTrigger(now time.Time, raw, smoothed uint32) {
	offThreshold := false
	if smoothed > 0 {
		diff := math.Abs(float64(raw) - float64(smoothed))
		if diff >= e.cfg.ResetTriggerFraction*float64(smoothed) {
			offThreshold = true
		}
	}

	if offThreshold {
		e.offThresholdRun++
	} else {
		e.offThresholdRun = 0
	}

	if e.offThresholdRun >= e.cfg.resetTriggerSampleCount() {
		e.offThresholdRun = 0
		e.Reset(now, !e.cfg.UseSoftReset)
	}
}

// Reset restarts period computation, tossing all collected samples
// (spec.md §4.5 "Reset policy"). hard additionally invalidates any
// previously-reported period until the next successful FFT; a soft reset
// (hard == false) keeps the last reported period usable in the meantime.
// No-op if MinTimeBetweenResets has not elapsed since the last reset.
func (e *Estimator) Reset(now time.Time, hard bool) {
	if !e.lastResetTime.IsZero() && now.Sub(e.lastResetTime) < e.cfg.MinTimeBetweenResets {
		return
	}
	e.lastResetTime = now
	e.filled = 0
	e.writeIdx = 0
	e.lastComputeTime = time.Time{}
	if hard {
		e.periodUsable = false
	}
}

// compute runs the FFT over the most recent full sample window and
// selects the reported period per spec.md §4.5 steps 1-4.
func (e *Estimator) compute() {
	if e.filled < len(e.samples) {
		return // not enough data yet (spec.md §4.5 step 4a)
	}

	ordered := e.orderedSamples()
	coeffs := e.fft.Coefficients(nil, ordered)

	type bin struct {
		k   int
		mag float64
	}
	bins := make([]bin, 0, len(coeffs))
	for k := 1; k < len(coeffs); k++ { // skip DC (k=0): no finite period
		bins = append(bins, bin{k: k, mag: cabs(coeffs[k])})
	}
	if len(bins) == 0 {
		return
	}

	periodOf := func(k int) time.Duration {
		freq := float64(k) / (float64(len(ordered)) * e.cfg.SampleInterval.Seconds())
		if freq <= 0 {
			return 0
		}
		return time.Duration(float64(time.Second) / freq)
	}

	maxBin := bins[0]
	for _, b := range bins[1:] {
		if b.mag > maxBin.mag {
			maxBin = b
		}
	}
	overallMaxMag := maxBin.mag

	chosen := maxBin
	chosenPeriod := periodOf(maxBin.k)

	// Step 3: the global max period exceeds the considered threshold —
	// fall back to the best period under threshold, if it clears the
	// energy bar.
	if chosenPeriod > e.cfg.MaxConsideredPeriod {
		var best *bin
		for i := range bins {
			p := periodOf(bins[i].k)
			if p <= e.cfg.MaxConsideredPeriod && (best == nil || bins[i].mag > best.mag) {
				best = &bins[i]
			}
		}
		if best == nil || (best.mag < energyThreshold && best.mag < energyFraction*overallMaxMag) {
			return // retain last reported period
		}
		chosen = *best
		chosenPeriod = periodOf(chosen.k)
	}

	if e.cfg.UseInterpolation {
		chosenPeriod = e.interpolate(coeffs, chosen.k, chosenPeriod)
	}

	e.period = chosenPeriod
	e.periodUsable = true
}

// orderedSamples returns the circular buffer contents in chronological
// order (oldest first), as required for a meaningful FFT.
func (e *Estimator) orderedSamples() []float64 {
	out := make([]float64, len(e.samples))
	copy(out, e.samples[e.writeIdx:])
	copy(out[len(e.samples)-e.writeIdx:], e.samples[:e.writeIdx])
	return out
}

// interpolate applies second-order Lagrange interpolation around bin k
// using the magnitudes of k-1, k, k+1 to refine the reported period to
// sub-bin resolution (SPEC_FULL.md §3, grounded on
// original_source/iron/bpf/src/queue_depth_osc.h).
func (e *Estimator) interpolate(coeffs []complex128, k int, fallback time.Duration) time.Duration {
	if k <= 0 || k >= len(coeffs)-1 {
		return fallback
	}
	y0, y1, y2 := cabs(coeffs[k-1]), cabs(coeffs[k]), cabs(coeffs[k+1])
	denom := y0 - 2*y1 + y2
	if denom == 0 {
		return fallback
	}
	delta := 0.5 * (y0 - y2) / denom
	kRefined := float64(k) + delta

	n := float64(len(coeffs)-1) * 2
	freq := kRefined / (n * e.cfg.SampleInterval.Seconds())
	if freq <= 0 {
		return fallback
	}
	return time.Duration(float64(time.Second) / freq)
}

func cabs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}
