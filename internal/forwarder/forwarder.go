package forwarder

import (
	"time"

	"github.com/raytheonbbn/iron-bpf/internal/binqueue"
	"github.com/raytheonbbn/iron-bpf/internal/ironpkt"
	"github.com/raytheonbbn/iron-bpf/internal/qlam"
)

// Config parameterizes a Forwarder.
type Config struct {
	// Alpha weights the latency penalty term in Score (spec.md §4.6).
	Alpha float64
	// MTU is the path MTU assumed when scoring every neighbor;
	// controllers do not report an MTU of their own.
	MTU int
	// DedupTTL bounds how long a (source bin, packet id) pair is
	// remembered for duplicate-transmission suppression.
	DedupTTL time.Duration
	// AchievableTTGBudget is subtracted from a packet's deadline when
	// computing its TTG-feasibility ordering key (ironpkt.Packet.OrderTime).
	AchievableTTGBudget time.Duration
	// FallbackTickInterval is the periodic fallback tick cadence absent
	// any enqueue/writable event (spec.md §4.6 default 1ms).
	FallbackTickInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.MTU <= 0 {
		c.MTU = 1500
	}
	if c.DedupTTL <= 0 {
		c.DedupTTL = time.Second
	}
	if c.FallbackTickInterval <= 0 {
		c.FallbackTickInterval = time.Millisecond
	}
	return c
}

// Forwarder runs the UberFwdAlg per-tick gradient computation and joint
// (path, destination, packet) selection over a set of neighbors and bin
// queues (spec.md §4.6).
type Forwarder struct {
	cfg Config

	binMap    *ironpkt.BinMap
	queues    *binqueue.Manager
	selfBin   ironpkt.BinId
	neighbors []*Neighbor
	dedup     *dedupCache
}

// NewForwarder constructs a Forwarder over the given bin map, bin queue
// manager, and this node's own bin id (stamped into forwarded packets'
// history vectors).
func NewForwarder(cfg Config, binMap *ironpkt.BinMap, queues *binqueue.Manager, selfBin ironpkt.BinId) *Forwarder {
	cfg = cfg.withDefaults()
	return &Forwarder{
		cfg:     cfg,
		binMap:  binMap,
		queues:  queues,
		selfBin: selfBin,
		dedup:   newDedupCache(cfg.DedupTTL),
	}
}

// AddNeighbor registers a neighbor path controller with the forwarder.
func (f *Forwarder) AddNeighbor(n *Neighbor) { f.neighbors = append(f.neighbors, n) }

// candidate is one scored (neighbor, destination) pairing under
// consideration during a selection pass.
type candidate struct {
	neighbor *Neighbor
	key      qlam.Key
	bin      ironpkt.BinId // the neighbor's own bin id, for history checks
	score    float64
	gradient uint32
}

// Tick runs one forwarding cycle: the latency-sensitive-restricted pass
// followed by the all-classes pass (spec.md §4.6 "Hierarchical
// preference"), returning the number of unicast packets sent.
func (f *Forwarder) Tick(now time.Time) int {
	used := make(map[*Neighbor]bool, len(f.neighbors))
	sent := f.selectAndSendUnicast(now, true, used)
	sent += f.selectAndSendUnicast(now, false, used)
	return sent
}

// selectAndSendUnicast performs one unicast selection pass: it repeatedly
// picks the single (path, destination) pair with the globally highest
// score among all ready, not-yet-used neighbors (spec.md §4.6: "Select
// the (path, destination, packet) triple maximizing a score"), sends it,
// marks that neighbor used for the pass, and repeats until no positive-
// gradient candidate remains. lsOnly restricts candidate destinations and
// weights to the latency-sensitive sub-counters; used excludes neighbors
// already given a send this tick by an earlier (higher-priority) pass
// (spec.md §4.6: "Non-LS traffic may use paths not selected for LS only
// if doing so does not reduce LS throughput" — modeled here as: a
// neighbor used by the LS pass is not reconsidered by the all-classes
// pass).
func (f *Forwarder) selectAndSendUnicast(now time.Time, lsOnly bool, used map[*Neighbor]bool) int {
	sent := 0
	numBins := f.binMap.NumUnicastBins()

	for {
		best, ok := f.bestCandidateOverall(now, numBins, lsOnly, used)
		if !ok {
			break
		}

		pkt := f.peekHead(best.key, lsOnly)
		if pkt == nil {
			used[best.neighbor] = true
			continue
		}
		if !f.admits(now, pkt, best) {
			used[best.neighbor] = true
			continue
		}

		sentPkt := f.queues.Dequeue(best.key)
		if sentPkt == nil {
			used[best.neighbor] = true
			continue
		}
		f.stampAndSend(best.neighbor, sentPkt)
		used[best.neighbor] = true
		sent++
	}
	return sent
}

// bestCandidateOverall scans every ready, not-yet-used neighbor and every
// destination bin, returning the single highest-scoring candidate.
func (f *Forwarder) bestCandidateOverall(now time.Time, numBins int, lsOnly bool, used map[*Neighbor]bool) (candidate, bool) {
	var best candidate
	found := false

	for _, n := range f.neighbors {
		if used[n] || !n.Controller.Ready() {
			continue
		}
		for i := 0; i < numBins; i++ {
			idx := ironpkt.BinIndex(i)
			key := qlam.UnicastKey(idx)
			bq := f.queues.Queue(key)

			pkt := bq.Peek()
			if pkt == nil {
				continue
			}
			if lsOnly && !pkt.LatencyClassOf().IsLatencySensitive() {
				continue
			}

			var localWeight, neighborWeight uint32
			if lsOnly {
				localWeight = bq.WeightLSBytes()
				neighborWeight = n.WeightFor(key).LS
			} else {
				localWeight = bq.WeightBytes()
				neighborWeight = n.WeightFor(key).Total
			}

			grad := Gradient(localWeight, neighborWeight)
			if grad == 0 {
				continue
			}

			neighborBin, _ := f.binMap.UnicastID(n.BinIndex)
			score := Score(grad, n.Controller.CapacityBps(), f.cfg.MTU, f.cfg.Alpha, float64(n.Latency().Microseconds()))

			if !found || score > best.score {
				best = candidate{neighbor: n, key: key, bin: neighborBin, score: score, gradient: grad}
				found = true
			}
		}
	}
	return best, found
}

func (f *Forwarder) peekHead(key qlam.Key, lsOnly bool) *ironpkt.Packet {
	pkt := f.queues.Queue(key).Peek()
	if pkt == nil {
		return nil
	}
	if lsOnly && !pkt.LatencyClassOf().IsLatencySensitive() {
		return nil
	}
	return pkt
}

// admits applies the per-packet eligibility rules from spec.md §4.6:
// history-loop detection, TTG feasibility, and duplicate-transmission
// suppression.
func (f *Forwarder) admits(now time.Time, pkt *ironpkt.Packet, c candidate) bool {
	if pkt.HasVisited(c.bin) {
		return false
	}

	if _, valid := pkt.TTG(); valid {
		orderTime := pkt.OrderTime(f.cfg.AchievableTTGBudget)
		if !orderTime.IsZero() && now.Add(c.neighbor.Latency()).After(orderTime) && !pkt.LatencyClassOf().IsZombie() {
			return false
		}
	}

	srcBin, id := pkt.Source()
	if f.dedup.MarkAndCheck(now, srcBin, id) {
		return false
	}

	return true
}

// stampAndSend advances the packet's history vector with this node's own
// bin id and hands it to the neighbor's controller.
func (f *Forwarder) stampAndSend(n *Neighbor, pkt *ironpkt.Packet) {
	pkt.AdvanceHistory(f.selfBin)
	_, _ = n.Controller.Send(pkt)
}
