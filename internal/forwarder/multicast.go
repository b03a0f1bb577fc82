package forwarder

import (
	"github.com/raytheonbbn/iron-bpf/internal/ironpkt"
	"github.com/raytheonbbn/iron-bpf/internal/pathctl"
	"github.com/raytheonbbn/iron-bpf/internal/qlam"
)

// ProcessMulticastHead runs one multicast-group head-of-queue selection
// and send, as described by spec.md §4.6 scenario S4: it dequeues the
// packet at the head of groupKey's queue and splits its destination set
// across ready neighbors offering positive gradient. When every
// destination is assigned, each assignment but the last is sent as a
// clone drawn from pool and the last reuses the original buffer. When
// some destinations remain unassigned, every assignment is sent as a
// clone and the original, with its destination vector reduced to the
// residual, is re-enqueued on groupKey's queue.
func (f *Forwarder) ProcessMulticastHead(groupKey qlam.Key, pool *ironpkt.Pool) error {
	pkt := f.queues.Dequeue(groupKey)
	if pkt == nil {
		return nil
	}

	dstSet := pkt.DstVector()
	assignments, residual := f.splitMulticast(groupKey, dstSet)

	for i, a := range assignments {
		last := i == len(assignments)-1
		if last && residual.IsEmpty() {
			pkt.SetDstVector(a.dstVec)
			if err := pathctl.PrependCAT(pkt); err != nil {
				return err
			}
			_, err := a.neighbor.Controller.Send(pkt)
			return err
		}
		if err := sendMulticastClone(pool, a.neighbor, pkt, a.dstVec); err != nil {
			return err
		}
	}

	if !residual.IsEmpty() {
		// No ready neighbor currently offers positive gradient for these
		// destinations; keep the original (now scoped to the residual set)
		// queued for reconsideration on a future tick rather than drop it.
		pkt.SetDstVector(residual)
		f.queues.Enqueue(groupKey, pkt)
		return nil
	}

	pool.Recycle(pkt)
	return nil
}

// assignment is one neighbor's share of a multicast packet's residual
// destination set.
type assignment struct {
	neighbor *Neighbor
	dstVec   ironpkt.DstVec
}

// splitMulticast implements spec.md §4.6's multicast selection: for the
// packet at the head of the group queue identified by groupKey with
// destination set D, compute each neighbor's subset D_N of D for which it
// offers positive gradient, assign the largest non-overlapping subsets
// greedily by descending |D_N|, and return the resulting per-neighbor
// assignments plus whichever destinations remain unassigned (the residual
// D the original packet should still carry, if nonempty).
//
// This does not dequeue or send; callers combine it with the owning
// Forwarder's queue/pool/controller plumbing (see ProcessMulticastHead).
func (f *Forwarder) splitMulticast(groupKey qlam.Key, dstSet ironpkt.DstVec) ([]assignment, ironpkt.DstVec) {
	residual := dstSet
	var assignments []assignment

	type offer struct {
		neighbor *Neighbor
		subset   ironpkt.DstVec
		count    int
	}

	for residual.Count() > 0 {
		var bestOffer offer
		haveOffer := false

		for _, n := range f.neighbors {
			if !n.Controller.Ready() {
				continue
			}
			subset := f.positiveGradientSubset(n, residual)
			if subset.IsEmpty() {
				continue
			}
			count := subset.Count()
			if !haveOffer || count > bestOffer.count {
				bestOffer = offer{neighbor: n, subset: subset, count: count}
				haveOffer = true
			}
		}

		if !haveOffer {
			break
		}

		assignments = append(assignments, assignment{neighbor: bestOffer.neighbor, dstVec: bestOffer.subset})
		residual = residual.Subtract(bestOffer.subset)
	}

	return assignments, residual
}

// positiveGradientSubset returns the subset of dstSet's unicast bin
// indices for which neighbor n offers a positive gradient (spec.md §4.6
// "the subset D_N ⊆ D of destinations for which N offers positive
// gradient"). Gradient is evaluated per destination, from that
// destination's unicast bin queue weight and n's advertised weight for
// the same unicast key.
func (f *Forwarder) positiveGradientSubset(n *Neighbor, dstSet ironpkt.DstVec) ironpkt.DstVec {
	var subset ironpkt.DstVec
	dstSet.ForEach(func(idx ironpkt.BinIndex) {
		key := qlam.UnicastKey(idx)
		bq := f.queues.Queue(key)
		local := bq.WeightBytes()
		neighborWeight := n.WeightFor(key).Total
		if Gradient(local, neighborWeight) > 0 {
			subset.Set(idx)
		}
	})
	return subset
}

// sendMulticastClone clones pkt for a single neighbor assignment, stamping
// the clone's destination vector and CAT toggles before handing it to the
// neighbor's controller (spec.md §4.6: "Each clone carries its own
// metadata-header-prepended CAT dst-vec record").
func sendMulticastClone(pool *ironpkt.Pool, n *Neighbor, original *ironpkt.Packet, dstVec ironpkt.DstVec) error {
	clone := pool.Clone(original)
	clone.SetDstVector(dstVec)
	if err := pathctl.PrependCAT(clone); err != nil {
		pool.Recycle(clone)
		return err
	}
	_, err := n.Controller.Send(clone)
	return err
}
