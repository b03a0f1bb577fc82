package forwarder_test

import (
	"time"

	"github.com/raytheonbbn/iron-bpf/internal/ironpkt"
	"github.com/raytheonbbn/iron-bpf/internal/pathctl"
)

// fakeController is a minimal pathctl.Controller double for forwarder
// tests: it records every packet handed to it and never rejects.
type fakeController struct {
	ready      bool
	capacity   uint64
	bound      ironpkt.BinIndex
	haveBound  bool
	sent       []*ironpkt.Packet
	rejectNext bool
}

func newFakeController(capacityBps uint64) *fakeController {
	return &fakeController{ready: true, capacity: capacityBps}
}

func (f *fakeController) Initialize(id string) error { return nil }

func (f *fakeController) Send(pkt *ironpkt.Packet) (pathctl.SendResult, error) {
	if !f.Ready() {
		return pathctl.Rejected, pathctl.ErrNotReady
	}
	if f.rejectNext {
		f.rejectNext = false
		return pathctl.Rejected, nil
	}
	f.sent = append(f.sent, pkt)
	return pathctl.Accepted, nil
}

func (f *fakeController) QueuedBytes() uint64 { return 0 }

func (f *fakeController) SelectableFDs() []pathctl.FDEvent { return nil }

func (f *fakeController) Service(fd int) error { return nil }

func (f *fakeController) PerQLAMOverhead() int { return 42 }

func (f *fakeController) ConfigurePDDReporting(thresholdFraction float64, minPeriod, maxPeriod time.Duration, report func(time.Duration)) {
}

func (f *fakeController) SetRemoteBin(bin ironpkt.BinId, idx ironpkt.BinIndex) {
	f.bound = idx
	f.haveBound = true
}

func (f *fakeController) Ready() bool { return f.ready && f.haveBound }

func (f *fakeController) CapacityBps() uint64 { return f.capacity }

func (f *fakeController) RemoteBin() (ironpkt.BinIndex, bool) { return f.bound, f.haveBound }
