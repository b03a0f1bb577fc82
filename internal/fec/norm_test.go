package fec

import (
	"sync"
	"testing"
	"time"

	"github.com/raytheonbbn/iron-bpf/internal/ironpkt"
)

type fakeNormWriter struct {
	mu      sync.Mutex
	written [][]byte
}

func (w *fakeNormWriter) WriteTo(b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.written = append(w.written, append([]byte(nil), b...))
	return nil
}

func (w *fakeNormWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.written)
}

func TestNormFlowControllerSendsWindowSizeOnFirstPkt(t *testing.T) {
	w := &fakeNormWriter{}
	c := NewNormFlowController(ironpkt.FiveTuple{}, 100, w, 0x0a000001)
	base := time.Unix(0, 0)

	if err := c.HandleRcvdPkt(1, base); err != nil {
		t.Fatalf("HandleRcvdPkt: %v", err)
	}
	if w.count() != 1 {
		t.Fatalf("writes after first rcvd pkt = %d, want 1 (window size)", w.count())
	}

	// A second received packet should not trigger another window size send.
	if err := c.HandleRcvdPkt(2, base); err != nil {
		t.Fatalf("HandleRcvdPkt: %v", err)
	}
	if w.count() != 1 {
		t.Fatalf("writes after second rcvd pkt = %d, want still 1", w.count())
	}
}

func TestNormFlowControllerSendsWindowUpdateOnSentPkt(t *testing.T) {
	w := &fakeNormWriter{}
	c := NewNormFlowController(ironpkt.FiveTuple{}, 100, w, 0)
	base := time.Unix(0, 0)
	_ = c.HandleRcvdPkt(1, base)

	if err := c.HandleSentPkt(5, base); err != nil {
		t.Fatalf("HandleSentPkt: %v", err)
	}
	if w.count() != 2 {
		t.Fatalf("writes after sent pkt = %d, want 2 (window size + window update)", w.count())
	}
}

func TestNormFlowControllerSvcEventsBacksOff(t *testing.T) {
	w := &fakeNormWriter{}
	c := NewNormFlowController(ironpkt.FiveTuple{}, 100, w, 0)
	base := time.Unix(0, 0)
	_ = c.HandleRcvdPkt(1, base)
	_ = c.HandleSentPkt(1, base) // resets backoff, schedules next update at +100ms

	// Before 100ms: no periodic update yet.
	if err := c.SvcEvents(base.Add(50 * time.Millisecond)); err != nil {
		t.Fatalf("SvcEvents: %v", err)
	}
	afterEarly := w.count()
	if afterEarly != 2 {
		t.Fatalf("writes before fallback due = %d, want 2", afterEarly)
	}

	// At +100ms the fallback fires, then backs off to +200ms (shift 1).
	if err := c.SvcEvents(base.Add(100 * time.Millisecond)); err != nil {
		t.Fatalf("SvcEvents: %v", err)
	}
	if w.count() != afterEarly+1 {
		t.Fatalf("writes after first fallback = %d, want %d", w.count(), afterEarly+1)
	}

	// Immediately again: backoff not yet elapsed, no new send.
	if err := c.SvcEvents(base.Add(150 * time.Millisecond)); err != nil {
		t.Fatalf("SvcEvents: %v", err)
	}
	if w.count() != afterEarly+1 {
		t.Fatalf("writes during backoff window = %d, want unchanged", w.count())
	}

	// At +300ms (>= 100ms+200ms) the doubled backoff fires.
	if err := c.SvcEvents(base.Add(300 * time.Millisecond)); err != nil {
		t.Fatalf("SvcEvents: %v", err)
	}
	if w.count() != afterEarly+2 {
		t.Fatalf("writes after second fallback = %d, want %d", w.count(), afterEarly+2)
	}
}

func TestNormFlowControllerUpdateEncodingRateScalesWindow(t *testing.T) {
	w := &fakeNormWriter{}
	c := NewNormFlowController(ironpkt.FiveTuple{}, 100, w, 0)
	c.UpdateEncodingRate(2)
	c.mu.Lock()
	got := c.winSize
	c.mu.Unlock()
	if got != 50 {
		t.Errorf("winSize after UpdateEncodingRate(2) with maxQueueDepth=100 = %d, want 50", got)
	}
}
