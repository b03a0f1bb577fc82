package fec

import (
	"fmt"
	"sync"
	"time"

	"github.com/klauspost/reedsolomon"

	"github.com/raytheonbbn/iron-bpf/internal/qlam"
)

// staleGroupMargin bounds how far behind the newest seen group_id a block
// may lag before it is dropped outright rather than held for reordering
// (spec.md §4.8: "blocks older than the newest group id by a large
// margin are dropped").
const staleGroupMargin = 1 << 16

// block buffers one FEC block's shards as they arrive, indexed by
// slot_id, until either k are present (reconstruct) or it goes stale
// (partial release).
type block struct {
	shards    [][]byte // len n; nil where not yet received
	present   int
	firstSeen time.Time
}

// Decoder reassembles original packets from a stream of FEC-coded wire
// packets (spec.md §4.8 "Decoding").
type Decoder struct {
	cfg Config
	rs  reedsolomon.Encoder

	mu          sync.Mutex
	newestGroup uint32
	haveNewest  bool
	blocks      map[uint32]*block
}

// NewDecoder constructs a Decoder for the given context configuration.
func NewDecoder(cfg Config) (*Decoder, error) {
	cfg = cfg.withDefaults()
	rs, err := reedsolomon.New(cfg.BaseRate, cfg.RepairCount())
	if err != nil {
		return nil, fmt.Errorf("fec: new decoder: %w", err)
	}
	return &Decoder{cfg: cfg, rs: rs, blocks: make(map[uint32]*block)}, nil
}

// Receive processes one received FEC wire packet. Once any k of the
// block's n slots have arrived, the k originals are reconstructed,
// stripped of their trailer and padding, and returned for release.
func (d *Decoder) Receive(buf []byte, now time.Time) ([][]byte, error) {
	shard, groupID, slotID, _, err := stripTrailer(buf)
	if err != nil {
		return nil, err
	}
	if int(slotID) >= d.cfg.TotalRate {
		return nil, fmt.Errorf("fec: slot id %d out of range [0,%d)", slotID, d.cfg.TotalRate)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.haveNewest && groupID != d.newestGroup && !qlam.SeqIsNewer(groupID, d.newestGroup) {
		if d.newestGroup-groupID > staleGroupMargin {
			return nil, nil // far behind the newest group: drop
		}
	}
	if !d.haveNewest || qlam.SeqIsNewer(groupID, d.newestGroup) {
		d.newestGroup = groupID
		d.haveNewest = true
	}

	b := d.blocks[groupID]
	if b == nil {
		b = &block{shards: make([][]byte, d.cfg.TotalRate), firstSeen: now}
		d.blocks[groupID] = b
	}
	if b.shards[slotID] == nil {
		b.shards[slotID] = append([]byte(nil), shard...)
		b.present++
	}

	if b.present < d.cfg.BaseRate {
		return nil, nil
	}

	originals, err := d.reconstruct(b)
	delete(d.blocks, groupID)
	return originals, err
}

// reconstruct recovers the k original payloads of a block once enough
// shards are present, stripping each shard's length prefix/padding.
func (d *Decoder) reconstruct(b *block) ([][]byte, error) {
	if err := d.rs.ReconstructData(b.shards); err != nil {
		return nil, fmt.Errorf("fec: reconstruct: %w", err)
	}
	out := make([][]byte, 0, d.cfg.BaseRate)
	for i := 0; i < d.cfg.BaseRate; i++ {
		out = append(out, unpadShard(b.shards[i]))
	}
	return out, nil
}

// unpadShard strips a shard's length prefix and zero padding, returning
// the original payload.
func unpadShard(shard []byte) []byte {
	if len(shard) < lengthPrefixLen {
		return nil
	}
	n := int(shard[0])<<8 | int(shard[1])
	if n < 0 || lengthPrefixLen+n > len(shard) {
		return nil
	}
	return shard[lengthPrefixLen : lengthPrefixLen+n]
}

// Tick releases any block held past ReorderTime, with only the originals
// actually present (spec.md §4.8: "Blocks stale beyond reorder_time are
// released partially").
func (d *Decoder) Tick(now time.Time) [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	var released [][]byte
	for groupID, b := range d.blocks {
		if now.Sub(b.firstSeen) < d.cfg.ReorderTime {
			continue
		}
		for i := 0; i < d.cfg.BaseRate; i++ {
			if b.shards[i] != nil {
				released = append(released, unpadShard(b.shards[i]))
			}
		}
		delete(d.blocks, groupID)
	}
	return released
}
