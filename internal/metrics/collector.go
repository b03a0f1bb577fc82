// Package ironmetrics exposes the data-plane core's operational counters
// and gauges as Prometheus metrics.
package ironmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "iron"
	subsystem = "bpf"
)

// Label names.
const (
	labelBin        = "bin"
	labelClass      = "class"
	labelNeighbor   = "neighbor"
	labelReason     = "reason"
	labelFECContext = "fec_context"
	labelController = "controller"
	labelQueue      = "queue"
)

// -------------------------------------------------------------------------
// Collector — Prometheus IRON Metrics
// -------------------------------------------------------------------------

// Collector holds all IRON backpressure-forwarder Prometheus metrics.
//
//   - QueueDepth/Weight track the per-bin state the oscillator and EWMA
//     weight computation produce (spec.md §4.4/§4.5).
//   - ZombieBytes/PacketsForwarded/PacketsDropped/PacketsExpired track
//     data-plane packet accounting (spec.md §4.1, §4.6, §7).
//   - FECBlocksEncoded/FECBlocksDecoded/FECBlocksLost track the FEC
//     encoder/decoder (spec.md §4.8).
//   - SondQueueOccupancy tracks each path controller's per-priority-queue
//     backlog (spec.md §4.7).
type Collector struct {
	// QueueDepth is the current occupancy of a bin's queue, in packets.
	QueueDepth *prometheus.GaugeVec

	// Weight is the current EWMA-smoothed admission weight for a bin,
	// labeled by accounting class ("local" or "latency_sensitive").
	Weight *prometheus.GaugeVec

	// ZombieBytes counts bytes sent as zombie (padding/probe) traffic,
	// per originating bin.
	ZombieBytes *prometheus.CounterVec

	// PacketsForwarded counts packets successfully handed to a neighbor's
	// path controller.
	PacketsForwarded *prometheus.CounterVec

	// PacketsDropped counts packets dropped, labeled by reason
	// ("malformed", "pool_exhausted_caller_retry", "history_loop",
	// "ttg_infeasible", "dedup").
	PacketsDropped *prometheus.CounterVec

	// PacketsExpired counts packets whose deadline elapsed at dequeue,
	// labeled by the accounting class they were demoted from.
	PacketsExpired *prometheus.CounterVec

	// FECBlocksEncoded counts FEC blocks emitted by the encoder, per
	// context.
	FECBlocksEncoded *prometheus.CounterVec

	// FECBlocksDecoded counts FEC blocks the decoder fully or partially
	// reconstructed, per context.
	FECBlocksDecoded *prometheus.CounterVec

	// FECBlocksLost counts FEC blocks the decoder could not recover any
	// originals from before their reorder time elapsed, per context.
	FECBlocksLost *prometheus.CounterVec

	// SondQueueOccupancy is a path controller's current per-priority-queue
	// occupancy, labeled by controller and queue name ("ef", "other",
	// "control").
	SondQueueOccupancy *prometheus.GaugeVec
}

// NewCollector creates a Collector with all IRON metrics registered
// against the provided prometheus.Registerer. If reg is nil,
// prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.QueueDepth,
		c.Weight,
		c.ZombieBytes,
		c.PacketsForwarded,
		c.PacketsDropped,
		c.PacketsExpired,
		c.FECBlocksEncoded,
		c.FECBlocksDecoded,
		c.FECBlocksLost,
		c.SondQueueOccupancy,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	binLabels := []string{labelBin}
	weightLabels := []string{labelBin, labelClass}
	neighborLabels := []string{labelNeighbor}
	dropLabels := []string{labelReason}
	expiredLabels := []string{labelClass}
	fecLabels := []string{labelFECContext}
	sondLabels := []string{labelController, labelQueue}

	return &Collector{
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "queue_depth_packets",
			Help:      "Current bin queue occupancy, in packets.",
		}, binLabels),

		Weight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "weight",
			Help:      "Current EWMA-smoothed admission weight for a bin.",
		}, weightLabels),

		ZombieBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "zombie_bytes_total",
			Help:      "Total bytes sent as zombie traffic.",
		}, binLabels),

		PacketsForwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_forwarded_total",
			Help:      "Total packets handed to a neighbor's path controller.",
		}, neighborLabels),

		PacketsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_dropped_total",
			Help:      "Total packets dropped, labeled by reason.",
		}, dropLabels),

		PacketsExpired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_expired_total",
			Help:      "Total packets whose deadline elapsed at dequeue.",
		}, expiredLabels),

		FECBlocksEncoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "fec_blocks_encoded_total",
			Help:      "Total FEC blocks emitted by the encoder.",
		}, fecLabels),

		FECBlocksDecoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "fec_blocks_decoded_total",
			Help:      "Total FEC blocks the decoder reconstructed, fully or partially.",
		}, fecLabels),

		FECBlocksLost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "fec_blocks_lost_total",
			Help:      "Total FEC blocks released with zero recovered originals.",
		}, fecLabels),

		SondQueueOccupancy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sond_queue_occupancy",
			Help:      "Current path controller per-priority-queue occupancy.",
		}, sondLabels),
	}
}

// -------------------------------------------------------------------------
// Queue / weight gauges
// -------------------------------------------------------------------------

// SetQueueDepth records bin's current queue occupancy in packets.
func (c *Collector) SetQueueDepth(bin string, depth int) {
	c.QueueDepth.WithLabelValues(bin).Set(float64(depth))
}

// SetWeight records bin's current EWMA weight for the given accounting
// class.
func (c *Collector) SetWeight(bin, class string, weight float64) {
	c.Weight.WithLabelValues(bin, class).Set(weight)
}

// -------------------------------------------------------------------------
// Packet counters
// -------------------------------------------------------------------------

// AddZombieBytes increments the zombie byte counter for bin by n.
func (c *Collector) AddZombieBytes(bin string, n int) {
	c.ZombieBytes.WithLabelValues(bin).Add(float64(n))
}

// IncPacketsForwarded increments the forwarded packet counter for neighbor.
func (c *Collector) IncPacketsForwarded(neighbor string) {
	c.PacketsForwarded.WithLabelValues(neighbor).Inc()
}

// IncPacketsDropped increments the dropped packet counter for reason.
func (c *Collector) IncPacketsDropped(reason string) {
	c.PacketsDropped.WithLabelValues(reason).Inc()
}

// IncPacketsExpired increments the expired packet counter for class.
func (c *Collector) IncPacketsExpired(class string) {
	c.PacketsExpired.WithLabelValues(class).Inc()
}

// -------------------------------------------------------------------------
// FEC counters
// -------------------------------------------------------------------------

// IncFECBlocksEncoded increments the encoded-block counter for context.
func (c *Collector) IncFECBlocksEncoded(context string) {
	c.FECBlocksEncoded.WithLabelValues(context).Inc()
}

// IncFECBlocksDecoded increments the decoded-block counter for context.
func (c *Collector) IncFECBlocksDecoded(context string) {
	c.FECBlocksDecoded.WithLabelValues(context).Inc()
}

// IncFECBlocksLost increments the lost-block counter for context.
func (c *Collector) IncFECBlocksLost(context string) {
	c.FECBlocksLost.WithLabelValues(context).Inc()
}

// -------------------------------------------------------------------------
// SOND queue occupancy
// -------------------------------------------------------------------------

// SetSondQueueOccupancy records controller's current occupancy of queue
// (one of "ef", "other", "control"), in packets.
func (c *Collector) SetSondQueueOccupancy(controller, queue string, occupancy int) {
	c.SondQueueOccupancy.WithLabelValues(controller, queue).Set(float64(occupancy))
}
