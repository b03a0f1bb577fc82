package fec

import (
	"fmt"
	"sync"
	"time"

	"github.com/klauspost/reedsolomon"
)

// lengthPrefixLen is the size of the original-payload-length prefix
// carried inside every RS-coded shard, so padding can be stripped at
// decode time.
const lengthPrefixLen = 2

// Encoder forms fixed-size blocks of k originals plus n-k systematic
// Reed-Solomon repair packets (spec.md §4.8 "Encoding").
type Encoder struct {
	cfg Config
	rs  reedsolomon.Encoder

	mu       sync.Mutex
	pending  [][]byte // up to k raw original payloads, not yet flushed
	openedAt time.Time
	groupID  uint32
	seq      uint32
}

// NewEncoder constructs an Encoder for the given context configuration.
func NewEncoder(cfg Config) (*Encoder, error) {
	cfg = cfg.withDefaults()
	rs, err := reedsolomon.New(cfg.BaseRate, cfg.RepairCount())
	if err != nil {
		return nil, fmt.Errorf("fec: new encoder: %w", err)
	}
	return &Encoder{cfg: cfg, rs: rs}, nil
}

// Submit enqueues one original packet payload. If this completes a block
// of BaseRate originals, the block's k original + (n-k) repair wire
// packets are returned for emission, each already trailer-stamped with
// (group_id, slot_id, fec_seq_num) (spec.md §4.8).
func (e *Encoder) Submit(payload []byte, now time.Time) ([][]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.pending) == 0 {
		e.openedAt = now
	}
	e.pending = append(e.pending, payload)
	if len(e.pending) < e.cfg.BaseRate {
		return nil, nil
	}
	return e.flushLocked()
}

// Tick forces emission of a partial block if one has been open longer
// than MaxHoldTime (spec.md §4.8: "After either k originals arrive or
// max_hold_time elapses (whichever first)").
func (e *Encoder) Tick(now time.Time) ([][]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.pending) == 0 {
		return nil, nil
	}
	if now.Sub(e.openedAt) < e.cfg.MaxHoldTime {
		return nil, nil
	}
	return e.flushLocked()
}

// flushLocked forms a block out of whatever originals are pending,
// computing repair shards over the received originals padded out with
// empty placeholders up to BaseRate (must be called with e.mu held).
func (e *Encoder) flushLocked() ([][]byte, error) {
	originals := e.pending
	e.pending = nil

	shardLen := lengthPrefixLen + e.cfg.MaxChunkSize
	n := e.cfg.TotalRate
	shards := make([][]byte, n)
	for i := range shards {
		shards[i] = make([]byte, shardLen)
	}
	for i, orig := range originals {
		if len(orig) > e.cfg.MaxChunkSize {
			return nil, fmt.Errorf("fec: original payload %d bytes exceeds max_chunk_sz %d", len(orig), e.cfg.MaxChunkSize)
		}
		shards[i][0] = byte(len(orig) >> 8)
		shards[i][1] = byte(len(orig))
		copy(shards[i][lengthPrefixLen:], orig)
	}

	if err := e.rs.Encode(shards); err != nil {
		return nil, fmt.Errorf("fec: encode block %d: %w", e.groupID, err)
	}

	out := make([][]byte, 0, n)
	for slot := 0; slot < len(originals); slot++ {
		out = append(out, appendTrailer(shards[slot], e.groupID, uint16(slot), e.seq))
		e.seq++
	}
	for slot := e.cfg.BaseRate; slot < n; slot++ {
		out = append(out, appendTrailer(shards[slot], e.groupID, uint16(slot), e.seq))
		e.seq++
	}

	e.groupID++ // wraps modulo 2^32 on overflow
	return out, nil
}
