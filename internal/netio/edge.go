// Package netio implements the EdgeInterface capability spec.md §1 names
// as an external collaborator: raw socket / tun-device I/O that the BPF
// core consumes as {open, recv->packet, send(packet), selectable handle},
// without ever importing the forwarding logic itself.
package netio

import (
	"errors"

	"github.com/raytheonbbn/iron-bpf/internal/ironpkt"
)

// ErrClosed is returned by EdgeInterface operations performed after Close.
var ErrClosed = errors.New("netio: edge interface closed")

// Mode selects how an EdgeInterface captures and injects packets.
type Mode int

const (
	// ModeRaw captures/injects full IP datagrams on a raw IP socket bound
	// to a named interface.
	ModeRaw Mode = iota
	// ModeTun captures/injects IP datagrams on a tun device. No pack
	// example or ecosystem dependency in the domain stack provides tun
	// support without cgo, so this mode is metadata-only (selectable but
	// not constructible) until such a dependency is wired.
	ModeTun
)

func (m Mode) String() string {
	switch m {
	case ModeRaw:
		return "raw"
	case ModeTun:
		return "tun"
	default:
		return "unknown"
	}
}

// Config selects and parameterizes one EdgeInterface.
type Config struct {
	Mode      Mode
	IfName    string
	LocalAddr string
}

// EdgeInterface is the capability the BPF core consumes for its own edge
// enclave I/O (spec.md §1): open the device, receive inbound packets into
// pool-owned buffers, send outbound packets, and expose a handle the
// core's select/poll loop can wait on (spec.md §4.9's "union of edge
// interface fds, path controller fds, ...").
type EdgeInterface interface {
	Open() error
	Recv() (*ironpkt.Packet, error)
	Send(pkt *ironpkt.Packet) error
	FD() int
	Close() error
}
