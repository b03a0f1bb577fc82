// Package pathctl defines the uniform path-controller capability set the
// forwarder drives (spec.md §4.7) and provides the SOND (Simple Overlay
// Network Device) implementation of it.
package pathctl

import (
	"errors"
	"time"

	"github.com/raytheonbbn/iron-bpf/internal/ironpkt"
)

// SendResult is the outcome of a Controller.Send call.
type SendResult uint8

const (
	// Accepted means ownership of the packet transferred to the controller.
	Accepted SendResult = iota
	// Rejected means ownership stays with the caller (spec.md §4.7,
	// §7 "Path controller tx queue full: return Rejected to the forwarder").
	Rejected
)

func (r SendResult) String() string {
	if r == Accepted {
		return "Accepted"
	}
	return "Rejected"
}

// ErrNotReady is returned by Send when the controller has no bound remote
// bin index yet (spec.md §4.7: "a controller is not ready until a valid
// bin index is bound").
var ErrNotReady = errors.New("path controller: remote bin not bound")

// FDEvent pairs a pollable file descriptor with the event mask the
// controller wants notified on, mirroring the teacher's netio Listener
// registration pattern adapted to a capability-set controller.
type FDEvent struct {
	FD        int
	Readable  bool
	Writable  bool
}

// Controller is the uniform capability set every path controller
// implements (spec.md §4.7). The forwarder holds a slice of Controllers
// and never type-switches on concrete implementations.
type Controller interface {
	// Initialize prepares the controller to run, given a stable id used
	// in logging/metrics labels.
	Initialize(id string) error

	// Send attempts to hand pkt to the controller for eventual emission.
	// On Accepted, ownership of pkt transfers to the controller; on
	// Rejected, the caller retains ownership and must retry elsewhere.
	Send(pkt *ironpkt.Packet) (SendResult, error)

	// QueuedBytes reports the controller's current internal backlog, as
	// shown by the daemon's status endpoint; the forwarder does not use it.
	QueuedBytes() uint64

	// SelectableFDs returns the file descriptors this controller wants
	// polled, and Service is invoked by the owning event loop when one of
	// them becomes ready.
	SelectableFDs() []FDEvent
	Service(fd int) error

	// PerQLAMOverhead returns the fixed framing overhead (Ethernet + IPv4
	// + UDP) this controller type adds per QLAM packet, in bytes.
	PerQLAMOverhead() int

	// ConfigurePDDReporting arms the PDD-change callback (spec.md §4.7).
	ConfigurePDDReporting(thresholdFraction float64, minPeriod, maxPeriod time.Duration, report func(meanPDD time.Duration))

	// SetRemoteBin binds the neighbor bin this controller carries traffic
	// to or from. The controller is not Ready until this has been called.
	SetRemoteBin(bin ironpkt.BinId, idx ironpkt.BinIndex)

	// Ready reports whether SetRemoteBin has bound a bin index. It does
	// not report queue space or PDD budget; a full queue shows up only as
	// Rejected from Send.
	Ready() bool

	// CapacityBps returns the controller's current estimated capacity to
	// its bound neighbor, in bits per second (spec.md §4.6 `C_N`).
	CapacityBps() uint64

	// RemoteBin returns the bound neighbor bin index and whether one has
	// been bound yet.
	RemoteBin() (ironpkt.BinIndex, bool)
}
