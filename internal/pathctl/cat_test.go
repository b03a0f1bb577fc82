package pathctl_test

import (
	"testing"
	"time"

	"github.com/raytheonbbn/iron-bpf/internal/ironpkt"
	"github.com/raytheonbbn/iron-bpf/internal/pathctl"
)

func TestPrependAndStripAllCATRoundTrip(t *testing.T) {
	t.Parallel()

	pool := ironpkt.NewPool(4)
	pkt := pool.Get()
	if err := pkt.SetLength(64); err != nil {
		t.Fatalf("SetLength: %v", err)
	}

	pkt.SetSource(ironpkt.BinId(7), 12345)
	pkt.SetTTG(2500 * time.Microsecond)
	pkt.SetOriginTimestamp(9000)
	pkt.AdvanceHistory(ironpkt.BinId(3))
	pkt.AdvanceHistory(ironpkt.BinId(9))
	var dv ironpkt.DstVec
	dv.Set(ironpkt.BinIndex(1))
	dv.Set(ironpkt.BinIndex(5))
	pkt.SetDstVector(dv)
	pkt.SetToggles(true, true, true, true)

	if err := pathctl.PrependCAT(pkt); err != nil {
		t.Fatalf("PrependCAT: %v", err)
	}
	if pkt.MetadataLen() == 0 {
		t.Fatal("expected a nonzero metadata region after PrependCAT")
	}

	gotBin, gotID := pkt.Source()
	gotHistory := pkt.History()
	gotDstVec := pkt.DstVector()
	gotTTG, gotValid := pkt.TTG()
	gotOriginTS := pkt.OriginTimestamp()

	// Clear the fields PrependCAT read, then strip the wire headers back
	// and confirm they reproduce the originals.
	pkt.SetSource(0, 0)
	pkt.InvalidateTTG()
	pkt.SetOriginTimestamp(0)
	pkt.SetDstVector(ironpkt.DstVec{})
	pkt.SetHistory([ironpkt.MaxHistoryLen]byte{})

	if err := pathctl.StripAllCAT(pkt); err != nil {
		t.Fatalf("StripAllCAT: %v", err)
	}
	if pkt.MetadataLen() != 0 {
		t.Fatalf("MetadataLen() = %d after StripAllCAT, want 0", pkt.MetadataLen())
	}

	if b, id := pkt.Source(); b != gotBin || id != gotID {
		t.Fatalf("Source() = (%d, %d), want (%d, %d)", b, id, gotBin, gotID)
	}
	if pkt.History() != gotHistory {
		t.Fatalf("History() = %v, want %v", pkt.History(), gotHistory)
	}
	if !pkt.DstVector().Equal(gotDstVec) {
		t.Fatal("DstVector() did not round-trip")
	}
	if ttg, valid := pkt.TTG(); valid != gotValid || ttg != gotTTG {
		t.Fatalf("TTG() = (%v, %v), want (%v, %v)", ttg, valid, gotTTG, gotValid)
	}
	if pkt.OriginTimestamp() != gotOriginTS {
		t.Fatalf("OriginTimestamp() = %d, want %d", pkt.OriginTimestamp(), gotOriginTS)
	}
}

func TestStripOneRejectsUnknownType(t *testing.T) {
	t.Parallel()

	pool := ironpkt.NewPool(4)
	pkt := pool.Get()
	if _, err := pathctl.StripOne(pkt, []byte{0xFF, 0, 0, 0}); err == nil {
		t.Fatal("expected an error for an unrecognized CAT type byte")
	}
}
