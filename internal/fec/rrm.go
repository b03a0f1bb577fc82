package fec

import (
	"encoding/binary"
	"time"

	"github.com/raytheonbbn/iron-bpf/internal/ironpkt"
)

// RRMPort is the reserved UDP port Receiver Report Messages are sent to
// (spec.md §4.8: "via a reserved UDP port (default 48900)").
const RRMPort uint16 = 48900

// rrmDefaultInterval is the periodic RRM emission cadence, adopted from
// original_source's reporting cadence (emitted once per configurable
// interval, default 1s, and immediately on context garbage collection).
const rrmDefaultInterval = time.Second

// RRM is a Receiver Report Message: per-flow counters the decode side
// reports back toward the source so it can adapt total_rate (spec.md
// §4.8).
type RRM struct {
	FiveTuple     ironpkt.FiveTuple
	TotalBytes    uint64
	TotalPkts     uint64
	ReleasedBytes uint64
	ReleasedPkts  uint64
	LossRatePPM   uint32
}

// Marshal encodes an RRM into a fixed-width wire form.
func (r RRM) Marshal() []byte {
	buf := make([]byte, 4+4+2+2+1+8+8+8+8+4)
	binary.BigEndian.PutUint32(buf[0:], r.FiveTuple.SrcAddr)
	binary.BigEndian.PutUint32(buf[4:], r.FiveTuple.DstAddr)
	binary.BigEndian.PutUint16(buf[8:], r.FiveTuple.SrcPort)
	binary.BigEndian.PutUint16(buf[10:], r.FiveTuple.DstPort)
	buf[12] = r.FiveTuple.Protocol
	binary.BigEndian.PutUint64(buf[13:], r.TotalBytes)
	binary.BigEndian.PutUint64(buf[21:], r.TotalPkts)
	binary.BigEndian.PutUint64(buf[29:], r.ReleasedBytes)
	binary.BigEndian.PutUint64(buf[37:], r.ReleasedPkts)
	binary.BigEndian.PutUint32(buf[45:], r.LossRatePPM)
	return buf
}

// RRMReporter accumulates per-flow counters and decides when a fresh RRM
// is due.
type RRMReporter struct {
	tuple    ironpkt.FiveTuple
	interval time.Duration

	totalBytes, totalPkts       uint64
	releasedBytes, releasedPkts uint64
	lastReportAt                time.Time
	haveReport                  bool
}

// NewRRMReporter constructs a reporter for tuple, reporting on the given
// interval (0 selects the default 1s cadence).
func NewRRMReporter(tuple ironpkt.FiveTuple, interval time.Duration) *RRMReporter {
	if interval <= 0 {
		interval = rrmDefaultInterval
	}
	return &RRMReporter{tuple: tuple, interval: interval}
}

// ObserveReceived folds in one received (possibly repair) packet's byte
// count toward total_bytes/total_pkts.
func (r *RRMReporter) ObserveReceived(n int) {
	r.totalBytes += uint64(n)
	r.totalPkts++
}

// ObserveReleased folds in one packet released to the local application
// toward released_bytes/released_pkts.
func (r *RRMReporter) ObserveReleased(n int) {
	r.releasedBytes += uint64(n)
	r.releasedPkts++
}

// ShouldReport reports whether the periodic interval has elapsed since
// the last report.
func (r *RRMReporter) ShouldReport(now time.Time) bool {
	return !r.haveReport || now.Sub(r.lastReportAt) >= r.interval
}

// Report builds the current RRM and marks it reported at now. Callers
// should also call Report immediately before discarding a garbage
// collected context, regardless of ShouldReport.
func (r *RRMReporter) Report(now time.Time) RRM {
	r.lastReportAt = now
	r.haveReport = true

	var lossPPM uint32
	if r.totalPkts > 0 && r.releasedPkts <= r.totalPkts {
		lost := r.totalPkts - r.releasedPkts
		lossPPM = uint32(lost * 1_000_000 / r.totalPkts)
	}
	return RRM{
		FiveTuple:     r.tuple,
		TotalBytes:    r.totalBytes,
		TotalPkts:     r.totalPkts,
		ReleasedBytes: r.releasedBytes,
		ReleasedPkts:  r.releasedPkts,
		LossRatePPM:   lossPPM,
	}
}
