package qlam_test

import (
	"errors"
	"testing"

	"github.com/raytheonbbn/iron-bpf/internal/ironpkt"
	"github.com/raytheonbbn/iron-bpf/internal/qlam"
)

func buildBinMap(t *testing.T) *ironpkt.BinMap {
	t.Helper()

	m := ironpkt.NewBinMap()
	i1, err := m.AddUnicastBin(1)
	if err != nil {
		t.Fatalf("AddUnicastBin(1): %v", err)
	}
	i2, err := m.AddUnicastBin(2)
	if err != nil {
		t.Fatalf("AddUnicastBin(2): %v", err)
	}
	if _, err := m.AddMulticastGroup(0xE0000001, []ironpkt.BinIndex{i1, i2}); err != nil {
		t.Fatalf("AddMulticastGroup: %v", err)
	}
	m.Freeze()
	return m
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	binMap := buildBinMap(t)
	depths := qlam.NewQueueDepths()
	u1, _ := binMap.UnicastIndex(1)
	u2, _ := binMap.UnicastIndex(2)
	g1, _ := binMap.GroupIndex(0xE0000001)

	depths.Set(qlam.UnicastKey(u1), qlam.Depth{Total: 1000, LS: 200})
	depths.Set(qlam.UnicastKey(u2), qlam.Depth{Total: 2000, LS: 0})
	depths.Set(qlam.GroupKey(g1), qlam.Depth{Total: 500, LS: 50})

	buf, nextSeq, err := qlam.Encode(7, 41, depths, binMap)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if nextSeq != 42 {
		t.Fatalf("nextSeq = %d, want 42", nextSeq)
	}

	msg, err := qlam.Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.SrcBin != 7 {
		t.Fatalf("SrcBin = %d, want 7", msg.SrcBin)
	}
	if msg.Sequence != 41 {
		t.Fatalf("Sequence = %d, want 41", msg.Sequence)
	}

	got, err := msg.ToQueueDepths(binMap)
	if err != nil {
		t.Fatalf("ToQueueDepths: %v", err)
	}
	if !got.Equal(depths) {
		t.Fatalf("round trip mismatch")
	}
}

func TestDecodeRejectsWrongType(t *testing.T) {
	t.Parallel()

	buf := make([]byte, 8)
	buf[0] = 0x13 // LSA, not QLAM
	if _, err := qlam.Decode(buf); !errors.Is(err, qlam.ErrWrongType) {
		t.Fatalf("Decode wrong type err = %v, want ErrWrongType", err)
	}
}

func TestDecodeRejectsShortBuffer(t *testing.T) {
	t.Parallel()

	if _, err := qlam.Decode([]byte{qlam.Type, 1, 0, 0}); !errors.Is(err, qlam.ErrBufTooSmall) {
		t.Fatalf("Decode short buffer err = %v, want ErrBufTooSmall", err)
	}
}

func TestSeqIsNewerHandlesWraparound(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		seq  uint32
		last uint32
		want bool
	}{
		{"simple increment", 11, 10, true},
		{"stale", 9, 10, false},
		{"equal is not newer", 10, 10, false},
		{"wraps forward", 0, 0xFFFFFFFF, true},
		{"far future rejected as wrap-stale", 0xFFFFFFFF, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := qlam.SeqIsNewer(tt.seq, tt.last); got != tt.want {
				t.Errorf("SeqIsNewer(%d, %d) = %v, want %v", tt.seq, tt.last, got, tt.want)
			}
		})
	}
}

// TestQLAMStalenessSequence mirrors spec scenario S2: sequence numbers
// 10, 11, 9, 12 arriving in that order must be accepted, accepted,
// rejected, accepted.
func TestQLAMStalenessSequence(t *testing.T) {
	t.Parallel()

	seqs := []uint32{10, 11, 9, 12}
	wantAccepted := []bool{true, true, false, true}

	var last uint32
	first := true
	for i, seq := range seqs {
		accepted := first || qlam.SeqIsNewer(seq, last)
		if accepted != wantAccepted[i] {
			t.Errorf("seq %d: accepted = %v, want %v", seq, accepted, wantAccepted[i])
		}
		if accepted {
			last = seq
			first = false
		}
	}
	if last != 12 {
		t.Fatalf("final accepted sequence = %d, want 12", last)
	}
}
