package fec

import (
	"testing"
	"time"

	"github.com/raytheonbbn/iron-bpf/internal/ironpkt"
)

func TestRRMReporterShouldReport(t *testing.T) {
	r := NewRRMReporter(ironpkt.FiveTuple{}, 50*time.Millisecond)
	base := time.Unix(0, 0)

	if !r.ShouldReport(base) {
		t.Error("ShouldReport before any report: want true")
	}
	rrm := r.Report(base)
	if rrm.LossRatePPM != 0 {
		t.Errorf("LossRatePPM on empty reporter = %d, want 0", rrm.LossRatePPM)
	}
	if r.ShouldReport(base.Add(10 * time.Millisecond)) {
		t.Error("ShouldReport before interval elapsed: want false")
	}
	if !r.ShouldReport(base.Add(60 * time.Millisecond)) {
		t.Error("ShouldReport after interval elapsed: want true")
	}
}

func TestRRMReporterComputesLossRate(t *testing.T) {
	r := NewRRMReporter(ironpkt.FiveTuple{SrcPort: 1000, DstPort: 2000}, time.Second)
	for i := 0; i < 10; i++ {
		r.ObserveReceived(100)
	}
	for i := 0; i < 8; i++ {
		r.ObserveReleased(100)
	}

	rrm := r.Report(time.Unix(0, 0))
	if rrm.TotalPkts != 10 || rrm.ReleasedPkts != 8 {
		t.Fatalf("TotalPkts=%d ReleasedPkts=%d, want 10, 8", rrm.TotalPkts, rrm.ReleasedPkts)
	}
	if rrm.LossRatePPM != 200_000 {
		t.Errorf("LossRatePPM = %d, want 200000 (20%% loss)", rrm.LossRatePPM)
	}
}

func TestRRMMarshalLength(t *testing.T) {
	rrm := RRM{FiveTuple: ironpkt.FiveTuple{SrcPort: 1, DstPort: 2}}
	buf := rrm.Marshal()
	if len(buf) != 4+4+2+2+1+8+8+8+8+4 {
		t.Errorf("Marshal() length = %d, want %d", len(buf), 4+4+2+2+1+8+8+8+8+4)
	}
}
