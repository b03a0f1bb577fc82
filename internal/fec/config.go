// Package fec implements the UDP proxy's forward-error-correction layer
// (spec.md §4.8): per-flow encode/decode contexts keyed by destination
// port range, plus the release controllers, RRM reporter, and NORM flow
// controller that sit downstream of decoding.
package fec

import (
	"time"

	"github.com/raytheonbbn/iron-bpf/internal/ironpkt"
)

// Config parameterizes one FEC context (spec.md §4.8's field table).
type Config struct {
	// LoPort, HiPort bound the UDP destination port range this context
	// applies to.
	LoPort, HiPort int
	// BaseRate (k) is the number of original packets per FEC block.
	BaseRate int
	// TotalRate (n) is k plus the number of repair packets per block.
	TotalRate int
	// MaxChunkSize is the byte size every original packet in a block is
	// padded to. The encoder rejects a longer payload with an error; it
	// is neither truncated nor split.
	MaxChunkSize int
	// MaxHoldTime bounds how long the encoder waits for a full block of
	// k originals before forcing emission of a partial one.
	MaxHoldTime time.Duration
	// InOrder requires the decoder to release packets in sequence.
	InOrder bool
	// Timeout is the inactivity duration after which this context is
	// garbage-collected.
	Timeout time.Duration
	// TimeToGo is the TTG stamped on packets this context emits.
	TimeToGo time.Duration
	// TTGValid reports whether TimeToGo was explicitly configured.
	TTGValid bool
	// ReorderTime bounds how long the decoder holds an out-of-order
	// packet before releasing a block partially.
	ReorderTime time.Duration
	// DstVec is the multicast destination bin set (multicast contexts
	// only).
	DstVec ironpkt.DstVec
	// DSCP is stamped on packets this context emits.
	DSCP uint8
	// UtilFnDefn is an opaque utility-function definition string passed
	// through to the BPF for admission/gradient weighting.
	UtilFnDefn string
}

func (c Config) withDefaults() Config {
	if c.BaseRate <= 0 {
		c.BaseRate = 1
	}
	if c.TotalRate < c.BaseRate {
		c.TotalRate = c.BaseRate
	}
	if c.MaxChunkSize <= 0 {
		c.MaxChunkSize = 1400
	}
	if c.MaxHoldTime <= 0 {
		c.MaxHoldTime = 100 * time.Millisecond
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.ReorderTime <= 0 {
		c.ReorderTime = 50 * time.Millisecond
	}
	return c
}

// RepairCount returns n - k, the number of repair packets per block.
func (c Config) RepairCount() int { return c.TotalRate - c.BaseRate }

// InRange reports whether dstPort falls within [LoPort, HiPort].
func (c Config) InRange(dstPort int) bool {
	return dstPort >= c.LoPort && dstPort <= c.HiPort
}
