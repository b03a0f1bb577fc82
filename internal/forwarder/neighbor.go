// Package forwarder implements the UberFwdAlg backpressure forwarding
// algorithm (spec.md §4.6): per-tick gradient computation, joint
// (path, destination, packet) selection, multicast splitting, and the
// hierarchical latency-sensitive-first pass.
package forwarder

import (
	"sync/atomic"
	"time"

	"github.com/raytheonbbn/iron-bpf/internal/ironpkt"
	"github.com/raytheonbbn/iron-bpf/internal/pathctl"
	"github.com/raytheonbbn/iron-bpf/internal/qlam"
)

// Neighbor holds one path controller's forwarding-relevant state: the
// controller itself, its bound bin, and the neighbor-advertised queue
// depths most recently received via QLAM.
//
// Neighbor queue-depth state is single-writer (the QLAM receive path, via
// AdoptQueueDepths) / many-reader (the forwarder tick). Rather than block
// the forwarder behind QLAM ingestion, the depths pointer is swapped
// atomically (spec.md §5: "write increments a generation counter before
// and after, readers retry if the counter changed" — here a single atomic
// pointer swap gives the same effect: a reader always observes a
// complete, self-consistent QueueDepths snapshot, never a partially
// written one).
type Neighbor struct {
	ID         string
	Controller pathctl.Controller
	BinIndex   ironpkt.BinIndex

	depths atomic.Pointer[qlam.QueueDepths]

	latencyNanos atomic.Int64 // estimated latency to this neighbor, L_N
}

// NewNeighbor constructs a Neighbor around an already-initialized
// controller.
func NewNeighbor(id string, ctrl pathctl.Controller, binIdx ironpkt.BinIndex) *Neighbor {
	n := &Neighbor{ID: id, Controller: ctrl, BinIndex: binIdx}
	n.depths.Store(qlam.NewQueueDepths())
	return n
}

// AdoptQueueDepths replaces the neighbor's advertised depths with a freshly
// decoded QLAM message's contents. Called only from the QLAM receive path.
func (n *Neighbor) AdoptQueueDepths(depths *qlam.QueueDepths) {
	n.depths.Store(depths)
}

// WeightFor returns the neighbor's most recently advertised (total, LS)
// weight for key.
func (n *Neighbor) WeightFor(key qlam.Key) qlam.Depth {
	return n.depths.Load().Get(key)
}

// SetLatency records the current latency estimate to this neighbor (L_N).
func (n *Neighbor) SetLatency(d time.Duration) { n.latencyNanos.Store(int64(d)) }

// Latency returns the current latency estimate to this neighbor (L_N).
func (n *Neighbor) Latency() time.Duration { return time.Duration(n.latencyNanos.Load()) }
