package ironpkt

import (
	"fmt"
	"log/slog"
	"sync"
)

// Pool is the sole allocator of Packet values for the lifetime of a BPF
// process (spec.md §4.2, §9 "Raw new/delete overload"). It owns a fixed
// array of pre-allocated packets sized at startup and a LIFO free list;
// unlike a sync.Pool, Pool never allocates beyond its configured capacity,
// matching the original's fixed shared-memory packet pool semantics.
type Pool struct {
	mu       sync.Mutex
	slots    []*Packet
	free     []int // LIFO stack of free slot indices
	log      *slog.Logger
	capacity int // per-packet buffer capacity
}

// Option configures a Pool at construction time, following the teacher's
// functional-options convention (see internal/bfd session options).
type Option func(*Pool)

// WithLogger attaches a structured logger used for pool-exhaustion
// diagnostics.
func WithLogger(log *slog.Logger) Option {
	return func(p *Pool) {
		if log != nil {
			p.log = log
		}
	}
}

// WithPacketCapacity overrides the per-packet buffer capacity (default
// MinCapacity).
func WithPacketCapacity(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.capacity = n
		}
	}
}

// NewPool pre-allocates numPackets Packet buffers up front. The number of
// packets is fixed at construction time and never grows (spec.md §4.2,
// §9: "packets are never allocated individually at runtime").
func NewPool(numPackets int, opts ...Option) *Pool {
	p := &Pool{
		log:      slog.Default(),
		capacity: MinCapacity,
	}
	for _, opt := range opts {
		opt(p)
	}

	p.slots = make([]*Packet, numPackets)
	p.free = make([]int, numPackets)
	for i := 0; i < numPackets; i++ {
		pkt := newPacket(p.capacity)
		pkt.slotIndex = i
		p.slots[i] = pkt
		p.free[numPackets-1-i] = i // reverse so index 0 is handed out first
	}
	return p
}

// Size returns the fixed number of packet slots owned by the pool.
func (p *Pool) Size() int { return len(p.slots) }

// Available returns the number of currently-free slots.
func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// Get hands out a fresh packet with refcount 1 and reset fields. Pool
// exhaustion is an unrecoverable configuration error in IRON — every
// packet the BPF core ever touches is accounted for by a fixed-size
// pool sized generously at startup, so running out means a leak or an
// undersized deployment, neither of which the data plane can safely run
// through — so Get aborts the process exactly as spec.md §4.2 and §7
// require ("the packet pool's exhaustion path is the sole designed
// abort").
func (p *Pool) Get() *Packet {
	p.mu.Lock()
	if len(p.free) == 0 {
		p.mu.Unlock()
		p.log.Error("packet pool exhausted", slog.Int("pool_size", len(p.slots)))
		panic(fmt.Sprintf("ironpkt: packet pool exhausted (size=%d)", len(p.slots)))
	}
	idx := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	p.mu.Unlock()

	pkt := p.slots[idx]
	pkt.mu.Lock()
	pkt.resetFields()
	pkt.mu.Unlock()
	return pkt
}

// GetFromIndex returns the packet occupying a known slot index, used when
// a packet id is recovered from shared memory or an inter-process
// reference rather than freshly allocated. The caller is responsible for
// having already validated ownership (e.g. via a reference count
// protocol); GetFromIndex does not itself take a reference.
func (p *Pool) GetFromIndex(idx int) (*Packet, error) {
	if idx < 0 || idx >= len(p.slots) {
		return nil, fmt.Errorf("ironpkt: slot index %d out of range [0,%d)", idx, len(p.slots))
	}
	return p.slots[idx], nil
}

// Clone returns a new packet from the pool with buf, start, length and all
// metadata fields copied from src. The two packets share no state after
// Clone returns.
func (p *Pool) Clone(src *Packet) *Packet {
	dst := p.Get()
	src.mu.Lock()
	defer src.mu.Unlock()

	copy(dst.buf, src.buf)
	dst.start = src.start
	dst.length = src.length
	dst.metaLen = src.metaLen
	dst.packetType = src.packetType
	dst.latencyClass = src.latencyClass
	dst.latencySet = src.latencySet
	dst.virtualLength = src.virtualLength
	dst.recvTime = src.recvTime
	dst.originTS = src.originTS
	dst.ttg = src.ttg
	dst.ttgValid = src.ttgValid
	dst.srcBinID = src.srcBinID
	dst.packetID = src.packetID
	dst.sendPacketID = src.sendPacketID
	dst.sendHistory = src.sendHistory
	dst.sendDstVec = src.sendDstVec
	dst.trackTTG = src.trackTTG
	dst.history = src.history
	dst.dstVec = src.dstVec
	return dst
}

// CloneHeaderOnly returns a new packet from the pool carrying only src's
// metadata (latency class, TTG, source, history, dst vector) and the
// packet's header bytes, with a zero payload length beyond the header.
// Multicast splitting does not use it; it copies whole packets with Clone.
func (p *Pool) CloneHeaderOnly(src *Packet, headerLen int) *Packet {
	dst := p.Get()
	src.mu.Lock()
	defer src.mu.Unlock()

	n := headerLen
	if n > src.length {
		n = src.length
	}
	copy(dst.buf[dst.start:], src.buf[src.start:src.start+n])
	dst.length = n
	dst.metaLen = 0
	dst.packetType = src.packetType
	dst.latencyClass = src.latencyClass
	dst.latencySet = src.latencySet
	dst.virtualLength = src.virtualLength
	dst.recvTime = src.recvTime
	dst.originTS = src.originTS
	dst.ttg = src.ttg
	dst.ttgValid = src.ttgValid
	dst.srcBinID = src.srcBinID
	dst.packetID = src.packetID
	dst.sendPacketID = src.sendPacketID
	dst.sendHistory = src.sendHistory
	dst.sendDstVec = src.sendDstVec
	dst.trackTTG = src.trackTTG
	dst.history = src.history
	dst.dstVec = src.dstVec
	return dst
}

// ShallowCopy increments src's reference count and returns src itself
// rather than allocating a new slot, for call sites that only need another
// handle on the same bytes (e.g. fanning one unicast packet out to several
// bin queues that will all read it before the last reader calls Recycle).
func (p *Pool) ShallowCopy(src *Packet) *Packet {
	src.mu.Lock()
	src.refCount++
	src.mu.Unlock()
	return src
}

// Recycle decrements the packet's reference count and, once it reaches
// zero, returns the slot to the free list for reuse.
func (p *Pool) Recycle(pkt *Packet) {
	pkt.mu.Lock()
	pkt.refCount--
	done := pkt.refCount <= 0
	pkt.mu.Unlock()
	if !done {
		return
	}

	p.mu.Lock()
	p.free = append(p.free, pkt.slotIndex)
	p.mu.Unlock()
}

// PktMemIndex returns the stable slot index backing pkt, suitable for
// passing across a shared-memory or socket boundary in place of the
// packet itself (spec.md §4.2).
func (p *Pool) PktMemIndex(pkt *Packet) int { return pkt.slotIndex }
