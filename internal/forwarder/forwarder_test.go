package forwarder_test

import (
	"testing"
	"time"

	"github.com/raytheonbbn/iron-bpf/internal/binqueue"
	"github.com/raytheonbbn/iron-bpf/internal/forwarder"
	"github.com/raytheonbbn/iron-bpf/internal/ironpkt"
	"github.com/raytheonbbn/iron-bpf/internal/qlam"
)

func TestGradient(t *testing.T) {
	if g := forwarder.Gradient(100, 40); g != 60 {
		t.Fatalf("Gradient(100,40) = %d, want 60", g)
	}
	if g := forwarder.Gradient(40, 100); g != 0 {
		t.Fatalf("Gradient(40,100) = %d, want 0 (clamped)", g)
	}
	if g := forwarder.Gradient(50, 50); g != 0 {
		t.Fatalf("Gradient(50,50) = %d, want 0", g)
	}
}

func TestScore(t *testing.T) {
	s := forwarder.Score(1000, 8_000_000, 1500, 0.001, 2000)
	want := float64(1000)*(8_000_000.0/1500.0) - 0.001*2000
	if s != want {
		t.Fatalf("Score = %v, want %v", s, want)
	}
	if s2 := forwarder.Score(0, 8_000_000, 1500, 1, 1); s2 != -1 {
		t.Fatalf("Score with zero gradient = %v, want -1", s2)
	}
}

// newTestPacket allocates a packet from pool, stamped as a plain NORMAL
// unicast packet of the given virtual length, recv time, and source id.
func newTestPacket(pool *ironpkt.Pool, class ironpkt.LatencyClass, length int, now time.Time, srcBin ironpkt.BinId, srcID uint32) *ironpkt.Packet {
	pkt := pool.Get()
	pkt.SetLatencyClass(class)
	pkt.SetVirtualLength(length)
	pkt.SetRecvTime(now)
	pkt.SetSource(srcBin, srcID)
	return pkt
}

func TestForwarderSkipsZeroGradientCandidate(t *testing.T) {
	now := time.Now()

	binMap := ironpkt.NewBinMap()
	neighborIdx, _ := binMap.AddUnicastBin(1)
	destIdx, _ := binMap.AddUnicastBin(2)
	binMap.Freeze()

	queues := binqueue.NewManager(binqueue.Config{})
	destKey := qlam.UnicastKey(destIdx)

	pool := ironpkt.NewPool(4)
	pkt := newTestPacket(pool, ironpkt.LatencyNormal, 1000, now, 9, 1)
	queues.Enqueue(destKey, pkt)
	queues.Tick(now) // seed weightBytes = raw = 1000

	ctrl := newFakeController(1_000_000)
	ctrl.SetRemoteBin(1, neighborIdx)
	n := forwarder.NewNeighbor("n1", ctrl, neighborIdx)
	depths := qlam.NewQueueDepths()
	depths.Set(destKey, qlam.Depth{Total: 1000}) // matches local weight -> zero gradient
	n.AdoptQueueDepths(depths)

	fwd := forwarder.NewForwarder(forwarder.Config{}, binMap, queues, 255)
	fwd.AddNeighbor(n)

	if sent := fwd.Tick(now); sent != 0 {
		t.Fatalf("Tick sent = %d, want 0 (zero gradient)", sent)
	}
	if len(ctrl.sent) != 0 {
		t.Fatalf("controller received %d packets, want 0", len(ctrl.sent))
	}
}

func TestForwarderPrefersHigherCapacityNeighbor(t *testing.T) {
	now := time.Now()

	binMap := ironpkt.NewBinMap()
	n1Idx, _ := binMap.AddUnicastBin(1)
	n2Idx, _ := binMap.AddUnicastBin(2)
	destIdx, _ := binMap.AddUnicastBin(3)
	binMap.Freeze()

	queues := binqueue.NewManager(binqueue.Config{})
	destKey := qlam.UnicastKey(destIdx)

	pool := ironpkt.NewPool(4)
	pkt := newTestPacket(pool, ironpkt.LatencyNormal, 1000, now, 9, 1)
	queues.Enqueue(destKey, pkt)
	queues.Tick(now)

	ctrl1 := newFakeController(1_000_000)
	ctrl1.SetRemoteBin(1, n1Idx)
	neighbor1 := forwarder.NewNeighbor("n1", ctrl1, n1Idx)

	ctrl2 := newFakeController(10_000_000)
	ctrl2.SetRemoteBin(2, n2Idx)
	neighbor2 := forwarder.NewNeighbor("n2", ctrl2, n2Idx)

	fwd := forwarder.NewForwarder(forwarder.Config{}, binMap, queues, 255)
	fwd.AddNeighbor(neighbor1)
	fwd.AddNeighbor(neighbor2)

	if sent := fwd.Tick(now); sent != 1 {
		t.Fatalf("Tick sent = %d, want 1", sent)
	}
	if len(ctrl1.sent) != 0 {
		t.Fatalf("lower-capacity neighbor received %d packets, want 0", len(ctrl1.sent))
	}
	if len(ctrl2.sent) != 1 {
		t.Fatalf("higher-capacity neighbor received %d packets, want 1", len(ctrl2.sent))
	}
}

func TestForwarderSkipsHistoryLoop(t *testing.T) {
	now := time.Now()

	binMap := ironpkt.NewBinMap()
	neighborIdx, _ := binMap.AddUnicastBin(1)
	destIdx, _ := binMap.AddUnicastBin(2)
	binMap.Freeze()

	queues := binqueue.NewManager(binqueue.Config{})
	destKey := qlam.UnicastKey(destIdx)

	pool := ironpkt.NewPool(4)
	pkt := newTestPacket(pool, ironpkt.LatencyNormal, 1000, now, 9, 1)
	pkt.AdvanceHistory(1) // already visited neighbor's own bin id
	queues.Enqueue(destKey, pkt)
	queues.Tick(now)

	ctrl := newFakeController(1_000_000)
	ctrl.SetRemoteBin(1, neighborIdx)
	n := forwarder.NewNeighbor("n1", ctrl, neighborIdx)

	fwd := forwarder.NewForwarder(forwarder.Config{}, binMap, queues, 255)
	fwd.AddNeighbor(n)

	if sent := fwd.Tick(now); sent != 0 {
		t.Fatalf("Tick sent = %d, want 0 (history loop)", sent)
	}
}

func TestForwarderSuppressesDuplicateTransmission(t *testing.T) {
	now := time.Now()

	binMap := ironpkt.NewBinMap()
	n1Idx, _ := binMap.AddUnicastBin(1)
	n2Idx, _ := binMap.AddUnicastBin(2)
	destIdx, _ := binMap.AddUnicastBin(3)
	binMap.Freeze()

	queues := binqueue.NewManager(binqueue.Config{})
	destKey := qlam.UnicastKey(destIdx)

	pool := ironpkt.NewPool(4)
	pktA := newTestPacket(pool, ironpkt.LatencyNormal, 1000, now, 9, 42)
	pktB := newTestPacket(pool, ironpkt.LatencyNormal, 1000, now, 9, 42) // same (src,id)
	queues.Enqueue(destKey, pktA)
	queues.Enqueue(destKey, pktB)
	queues.Tick(now)

	ctrl1 := newFakeController(1_000_000)
	ctrl1.SetRemoteBin(1, n1Idx)
	neighbor1 := forwarder.NewNeighbor("n1", ctrl1, n1Idx)

	ctrl2 := newFakeController(1_000_000)
	ctrl2.SetRemoteBin(2, n2Idx)
	neighbor2 := forwarder.NewNeighbor("n2", ctrl2, n2Idx)

	fwd := forwarder.NewForwarder(forwarder.Config{DedupTTL: time.Minute}, binMap, queues, 255)
	fwd.AddNeighbor(neighbor1)
	fwd.AddNeighbor(neighbor2)

	sent := fwd.Tick(now)
	if sent != 1 {
		t.Fatalf("Tick sent = %d, want 1 (second copy suppressed by dedup)", sent)
	}
}

func TestForwarderTTGInfeasibleSkipsNonZombie(t *testing.T) {
	now := time.Now()

	binMap := ironpkt.NewBinMap()
	neighborIdx, _ := binMap.AddUnicastBin(1)
	destIdx, _ := binMap.AddUnicastBin(2)
	binMap.Freeze()

	queues := binqueue.NewManager(binqueue.Config{})
	destKey := qlam.UnicastKey(destIdx)

	pool := ironpkt.NewPool(4)
	pkt := newTestPacket(pool, ironpkt.LatencyNormal, 1000, now, 9, 1)
	pkt.SetTTG(time.Millisecond) // already-tight deadline
	queues.Enqueue(destKey, pkt)
	queues.Tick(now)

	ctrl := newFakeController(1_000_000)
	ctrl.SetRemoteBin(1, neighborIdx)
	n := forwarder.NewNeighbor("n1", ctrl, neighborIdx)
	n.SetLatency(time.Second) // vastly exceeds the remaining TTG budget

	fwd := forwarder.NewForwarder(forwarder.Config{AchievableTTGBudget: 0}, binMap, queues, 255)
	fwd.AddNeighbor(n)

	if sent := fwd.Tick(now); sent != 0 {
		t.Fatalf("Tick sent = %d, want 0 (TTG infeasible)", sent)
	}
}

func TestForwarderTTGInfeasibleStillSendsZombie(t *testing.T) {
	now := time.Now()

	binMap := ironpkt.NewBinMap()
	neighborIdx, _ := binMap.AddUnicastBin(1)
	destIdx, _ := binMap.AddUnicastBin(2)
	binMap.Freeze()

	queues := binqueue.NewManager(binqueue.Config{})
	destKey := qlam.UnicastKey(destIdx)

	pool := ironpkt.NewPool(4)
	pkt := newTestPacket(pool, ironpkt.LatencyHighZLR, 1000, now, 9, 1)
	pkt.SetTTG(time.Millisecond)
	queues.Enqueue(destKey, pkt)
	queues.Tick(now)

	ctrl := newFakeController(1_000_000)
	ctrl.SetRemoteBin(1, neighborIdx)
	n := forwarder.NewNeighbor("n1", ctrl, neighborIdx)
	n.SetLatency(time.Second)

	fwd := forwarder.NewForwarder(forwarder.Config{AchievableTTGBudget: 0}, binMap, queues, 255)
	fwd.AddNeighbor(n)

	if sent := fwd.Tick(now); sent != 1 {
		t.Fatalf("Tick sent = %d, want 1 (zombies bypass TTG infeasibility)", sent)
	}
}
