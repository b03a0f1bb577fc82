// Package binqueue implements the per-bin, per-latency-class packet queue
// manager: FIFO admission within each class, EWMA-smoothed weight tracking
// with an oscillation-tuned time constant, Zombie Latency Reduction, and
// expiration sweeping (spec.md §4.4).
package binqueue

import (
	"container/list"
	"math"
	"time"

	"github.com/raytheonbbn/iron-bpf/internal/ironpkt"
	"github.com/raytheonbbn/iron-bpf/internal/oscillator"
)

// Config parameterizes a BinQueue.
type Config struct {
	// WeightTau is the EWMA time constant used when the oscillator has no
	// usable period yet (spec.md §4.4/§4.5); defaults to
	// oscillator.DefaultWeightTau.
	WeightTau time.Duration

	// LinearInterpolation selects the linear-interpolation EWMA variant
	// (spec.md §4.4 "optional linear-interpolation EWMA") instead of the
	// standard exponential update. Both share the same tau.
	LinearInterpolation bool

	// DropExpiredLowLatency drops expired LOW_LATENCY packets outright
	// instead of demoting them to HIGH_LATENCY_EXP zombies (spec.md §4.4
	// expiration sweep; default false, i.e. demote-to-zombie).
	DropExpiredLowLatency bool

	Oscillator oscillator.Config
	ZLRLocal   zlrConfig // for the local-send (non-LS) weight accounting
	ZLRLS      zlrConfig // for the latency-sensitive weight accounting

	// Pool is the packet pool used to recycle real packets converted to
	// zombies and to allocate the packetless zombies that replace them
	// (spec.md §4.4 ZLR). A nil Pool disables ZLR's zombie conversion
	// (Tick still runs the floor/window bookkeeping), since a BinQueue
	// constructed without one (e.g. in isolated unit tests) has nowhere
	// to source zombie packets from.
	Pool *ironpkt.Pool
}

func (c Config) withDefaults() Config {
	if c.WeightTau <= 0 {
		c.WeightTau = oscillator.DefaultWeightTau
	}
	return c
}

// classQueue is the FIFO for a single latency class within a bin.
type classQueue struct {
	packets   *list.List // of *ironpkt.Packet
	bytes     uint32
	lsBytes   uint32 // bytes counted in the LS (latency-sensitive) gradient
}

func newClassQueue() *classQueue {
	return &classQueue{packets: list.New()}
}

// BinQueue holds the full multi-class queue state for one destination bin
// (spec.md §4.4). It is not safe for concurrent use by multiple goroutines;
// the owning forwarder tick serializes access.
type BinQueue struct {
	cfg Config

	classes [ironpkt.NumLatencyClasses]*classQueue

	weightBytes   float64 // EWMA-smoothed total weight, all classes
	weightLS      float64 // EWMA-smoothed latency-sensitive weight
	lastWeightAt  time.Time

	osc *oscillator.Estimator

	zlrLocal *zlrController
	zlrLS    *zlrController

	crLocal *changeRateTracker
	crLS    *changeRateTracker

	prevRaw     uint32
	prevRawLS   uint32
	havePrevRaw bool

	zombieLocalBytes uint32 // not read or written by any method
	zombieLSBytes    uint32
}

// NewBinQueue constructs an empty BinQueue.
func NewBinQueue(cfg Config) *BinQueue {
	cfg = cfg.withDefaults()
	bq := &BinQueue{
		cfg:      cfg,
		osc:      oscillator.NewEstimator(cfg.Oscillator),
		zlrLocal: newZLRController(cfg.ZLRLocal),
		zlrLS:    newZLRController(cfg.ZLRLS),
		crLocal:  newChangeRateTracker(),
		crLS:     newChangeRateTracker(),
	}
	for i := range bq.classes {
		bq.classes[i] = newClassQueue()
	}
	return bq
}

// Enqueue admits pkt into its own LatencyClassOf() FIFO (spec.md §4.4).
func (bq *BinQueue) Enqueue(pkt *ironpkt.Packet) {
	class := pkt.LatencyClassOf()
	cq := bq.classes[class]
	cq.packets.PushBack(pkt)
	n := uint32(pkt.VirtualLength())
	cq.bytes += n
	if class.IsLatencySensitive() {
		cq.lsBytes += n
	}
}

// Peek returns the head packet in dequeue-priority order without removing
// it, or nil if every class queue is empty.
func (bq *BinQueue) Peek() *ironpkt.Packet {
	for _, class := range ironpkt.DequeueOrder {
		if e := bq.classes[class].packets.Front(); e != nil {
			return e.Value.(*ironpkt.Packet)
		}
	}
	return nil
}

// Dequeue removes and returns the head packet in dequeue-priority order, or
// nil if every class queue is empty (spec.md §4.4: "CRITICAL first, then
// CONTROL, LOW_LATENCY, the LS zombie classes, NORMAL, then the non-LS
// zombie classes").
func (bq *BinQueue) Dequeue() *ironpkt.Packet {
	for _, class := range ironpkt.DequeueOrder {
		cq := bq.classes[class]
		if e := cq.packets.Front(); e != nil {
			pkt := cq.packets.Remove(e).(*ironpkt.Packet)
			n := uint32(pkt.VirtualLength())
			cq.bytes -= n
			if class.IsLatencySensitive() {
				cq.lsBytes -= n
			}
			return pkt
		}
	}
	return nil
}

// TotalBytes returns the cached total byte count across every class,
// including any folded-in zombie weight (spec.md §4.4 "cached total_bytes").
func (bq *BinQueue) TotalBytes() uint32 {
	var total uint32
	for _, cq := range bq.classes {
		total += cq.bytes
	}
	return total
}

// LSBytes returns the cached latency-sensitive byte count across classes
// (spec.md §4.4 "cached ls_bytes").
func (bq *BinQueue) LSBytes() uint32 {
	var total uint32
	for _, cq := range bq.classes {
		total += cq.lsBytes
	}
	return total
}

// WeightBytes returns the current EWMA-smoothed overall weight.
func (bq *BinQueue) WeightBytes() uint32 {
	return uint32(math.Round(bq.weightBytes))
}

// WeightLSBytes returns the current EWMA-smoothed latency-sensitive weight.
func (bq *BinQueue) WeightLSBytes() uint32 {
	return uint32(math.Round(bq.weightLS))
}

// Tick advances the queue's time-dependent state: it feeds the oscillation
// estimator, recomputes the EWMA weight with the oscillator-derived tau,
// sweeps expired packets, and runs Zombie Latency Reduction — converting a
// fraction of the observed queue-depth floor into virtual zombie bytes
// whenever queue dynamics are non-decreasing. It should be called at a
// roughly-uniform cadence by the owning forwarder loop.
func (bq *BinQueue) Tick(now time.Time) {
	raw := bq.TotalBytes()
	rawLS := bq.LSBytes()

	bq.osc.CheckPoint(now, raw, uint32(math.Round(bq.weightBytes)))
	bq.updateWeight(now, raw, rawLS)

	bq.sweepExpired(now)

	// Re-read totals: sweepExpired may have dropped or demoted packets.
	raw = bq.TotalBytes()
	rawLS = bq.LSBytes()

	bq.recordChangeRate(now, raw, rawLS)

	bq.zlrLocal.Observe(now, raw)
	bq.zlrLS.Observe(now, rawLS)

	bq.runZLR(now, raw, rawLS)

	bq.zlrLocal.MaybeNarrow(now)
	bq.zlrLS.MaybeNarrow(now)
}

// recordChangeRate feeds the net per-tick change in queue depth into the
// change-rate trackers that gate ZLR (spec.md §4.4).
func (bq *BinQueue) recordChangeRate(now time.Time, raw, rawLS uint32) {
	if bq.havePrevRaw {
		bq.crLocal.Record(now, int64(raw)-int64(bq.prevRaw))
		bq.crLS.Record(now, int64(rawLS)-int64(bq.prevRawLS))
	}
	bq.prevRaw = raw
	bq.prevRawLS = rawLS
	bq.havePrevRaw = true
}

// runZLR converts floor bytes to zombies for the non-LS and LS controllers
// independently (spec.md §4.4 "ZLR is separately tuned for LS vs non-LS
// queues"). The non-LS floor is converted out of LatencyNormal (the only
// real, non-zombie, non-latency-sensitive class) into the HighZLR zombie
// class; the LS floor is converted out of LatencyLow (the only real,
// non-zombie latency-sensitive class — CRITICAL/CONTROL traffic is never
// zombified) into the HighZLRLowSens zombie class.
func (bq *BinQueue) runZLR(now time.Time, raw, rawLS uint32) {
	if bq.cfg.Pool == nil {
		return
	}

	nonDecreasing := bq.crLocal.NonDecreasing(now)
	budget := bq.zlrLocal.ZombieBudget(raw, nonDecreasing)
	if converted := bq.convertToZombies(ironpkt.LatencyNormal, ironpkt.LatencyHighZLR, budget); converted > 0 {
		bq.zlrLocal.RecordZombieEmitted(now)
	}

	nonDecreasingLS := bq.crLS.NonDecreasing(now)
	budgetLS := bq.zlrLS.ZombieBudget(rawLS, nonDecreasingLS)
	if converted := bq.convertToZombies(ironpkt.LatencyLow, ironpkt.LatencyHighZLRLowSens, budgetLS); converted > 0 {
		bq.zlrLS.RecordZombieEmitted(now)
	}
}

// convertToZombies dequeues whole packets from class, in FIFO order, until
// at least budget bytes have been converted or the class drains, recycles
// each dequeued packet via the pool, and enqueues one packetless zombie of
// zombieClass per converted packet carrying the same virtual length
// (spec.md §4.4, §4.1 "packetless zombie"). It returns the total bytes
// converted. No original packet is ever dropped by this path: every
// dequeued packet's bytes reappear as zombie bytes in the same tick.
func (bq *BinQueue) convertToZombies(class, zombieClass ironpkt.LatencyClass, budget uint32) uint32 {
	if budget == 0 {
		return 0
	}

	cq := bq.classes[class]
	var converted uint32
	for converted < budget {
		e := cq.packets.Front()
		if e == nil {
			break
		}
		pkt := cq.packets.Remove(e).(*ironpkt.Packet)
		n := uint32(pkt.VirtualLength())
		cq.bytes -= n
		if class.IsLatencySensitive() {
			cq.lsBytes -= n
		}

		zombie := bq.cfg.Pool.Get()
		zombie.SetVirtualLength(int(n))
		_ = zombie.MakeZombie(zombieClass) // packetless: never fails (see Packet.MakeZombie)
		bq.Enqueue(zombie)

		bq.cfg.Pool.Recycle(pkt)
		converted += n
	}
	return converted
}

// tau resolves the EWMA time constant: the oscillator's estimated period
// when usable, else cfg.WeightTau (spec.md §4.4/§4.5).
func (bq *BinQueue) tau() time.Duration {
	if period, ok := bq.osc.Period(); ok && period > 0 {
		return period
	}
	return bq.cfg.WeightTau
}

// updateWeight applies the EWMA update w_{i+1} = beta*w_i + (1-beta)*current
// with beta = exp(-dt/tau) (spec.md §4.4), or its linear-interpolation
// variant when configured.
func (bq *BinQueue) updateWeight(now time.Time, raw, rawLS uint32) {
	if bq.lastWeightAt.IsZero() {
		bq.lastWeightAt = now
		bq.weightBytes = float64(raw)
		bq.weightLS = float64(rawLS)
		return
	}
	dt := now.Sub(bq.lastWeightAt)
	bq.lastWeightAt = now
	tau := bq.tau()

	if bq.cfg.LinearInterpolation {
		// w_{i+1} = beta*w_i + (1-betaLI)*current + (betaLI-beta)*previous,
		// betaLI = (1-beta)/(dt/tau); previous is the last tick's sample.
		x := dt.Seconds() / tau.Seconds()
		beta := math.Exp(-x)
		betaLI := 1.0
		if x > 0 {
			betaLI = (1 - beta) / x
		}
		bq.weightBytes = beta*bq.weightBytes + (1-betaLI)*float64(raw) + (betaLI-beta)*float64(bq.prevRaw)
		bq.weightLS = beta*bq.weightLS + (1-betaLI)*float64(rawLS) + (betaLI-beta)*float64(bq.prevRawLS)
		return
	}

	beta := math.Exp(-dt.Seconds() / tau.Seconds())
	bq.weightBytes = beta*bq.weightBytes + (1-beta)*float64(raw)
	bq.weightLS = beta*bq.weightLS + (1-beta)*float64(rawLS)
}

// sweepExpired walks every class queue removing packets whose HasExpired is
// true, demoting LOW_LATENCY packets to HIGH_LATENCY_EXP zombies (or
// dropping them, if cfg.DropExpiredLowLatency) and dropping already-expired
// zombie-class packets outright (spec.md §4.4 "expiration sweep"). A
// demoted packet has its TTG invalidated, so it stays enqueued as a zombie
// instead of expiring again.
func (bq *BinQueue) sweepExpired(now time.Time) {
	for classIdx, cq := range bq.classes {
		class := ironpkt.LatencyClass(classIdx)
		var next *list.Element
		for e := cq.packets.Front(); e != nil; e = next {
			next = e.Next()
			pkt := e.Value.(*ironpkt.Packet)
			if !pkt.HasExpired(now) {
				continue
			}
			cq.packets.Remove(e)
			n := uint32(pkt.VirtualLength())
			cq.bytes -= n
			if class.IsLatencySensitive() {
				cq.lsBytes -= n
			}

			if class.IsZombie() || bq.cfg.DropExpiredLowLatency {
				continue // dropped; caller is responsible for recycling via the pool
			}
			if err := pkt.MakeZombie(ironpkt.LatencyHighExp); err != nil {
				continue
			}
			pkt.InvalidateTTG()
			bq.Enqueue(pkt)
		}
	}
}
