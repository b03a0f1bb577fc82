package binqueue

import (
	"sync"
	"time"

	"github.com/raytheonbbn/iron-bpf/internal/ironpkt"
	"github.com/raytheonbbn/iron-bpf/internal/qlam"
)

// Manager owns one BinQueue per configured bin (unicast and multicast
// group alike) and publishes their smoothed weights as a
// qlam.QueueDepths snapshot for QLAM encoding (spec.md §4.3, §4.4).
type Manager struct {
	mu   sync.Mutex
	cfg  Config
	bins map[qlam.Key]*BinQueue
}

// NewManager constructs an empty Manager; bin queues are created lazily by
// Queue on first reference, since the bin set is fixed once binMap is
// frozen but a Manager has no direct dependency on ironpkt.BinMap.
func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg, bins: make(map[qlam.Key]*BinQueue)}
}

// Queue returns the BinQueue for key, creating it on first reference.
func (m *Manager) Queue(key qlam.Key) *BinQueue {
	m.mu.Lock()
	defer m.mu.Unlock()
	bq, ok := m.bins[key]
	if !ok {
		bq = NewBinQueue(m.cfg)
		m.bins[key] = bq
	}
	return bq
}

// Enqueue admits pkt into the bin queue identified by key.
func (m *Manager) Enqueue(key qlam.Key, pkt *ironpkt.Packet) {
	m.Queue(key).Enqueue(pkt)
}

// Dequeue removes and returns the head packet from the bin queue identified
// by key, or nil if that queue (or the bin itself) has nothing enqueued.
func (m *Manager) Dequeue(key qlam.Key) *ironpkt.Packet {
	m.mu.Lock()
	bq, ok := m.bins[key]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return bq.Dequeue()
}

// Tick advances every known bin queue's time-dependent state (spec.md
// §4.4/§4.5). Intended to be called once per forwarder tick.
func (m *Manager) Tick(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, bq := range m.bins {
		bq.Tick(now)
	}
}

// Snapshot returns a qlam.QueueDepths populated from every known bin
// queue's current smoothed weight, ready for qlam.Encode (spec.md §4.3).
func (m *Manager) Snapshot() *qlam.QueueDepths {
	m.mu.Lock()
	defer m.mu.Unlock()
	depths := qlam.NewQueueDepths()
	for key, bq := range m.bins {
		depths.Set(key, qlam.Depth{
			Total: bq.WeightBytes(),
			LS:    bq.WeightLSBytes(),
		})
	}
	return depths
}
