//go:build linux

package pathctl

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sync"

	"golang.org/x/net/ipv4"

	"github.com/raytheonbbn/iron-bpf/internal/netio"
)

// rawIPWriter implements sondWriter over a SOCK_RAW IPv4 socket opened with
// IP_HDRINCL, so the BPF-constructed IPv4 header on pkt.Bytes() is sent
// verbatim (spec.md §4.7). The socket itself is opened by
// internal/netio's shared raw-IP-socket helper and wrapped here in an
// ipv4.PacketConn, giving SOND TTL/ToS control-message access on the
// same path the teacher's rawsock_linux.go opens single-purpose sockets
// on.
type rawIPWriter struct {
	conn *net.IPConn
	p4   *ipv4.PacketConn
	dst  net.IP

	mu     sync.Mutex
	closed bool
}

// NewRawIPWriter opens a raw IP_HDRINCL socket bound to laddr and targeting
// dst, for use as a Sond's underlying wire writer.
func NewRawIPWriter(ctx context.Context, laddr netip.Addr, dst netip.Addr) (*rawIPWriter, error) {
	conn, p4, err := netio.OpenRawIPConn(ctx, laddr)
	if err != nil {
		return nil, fmt.Errorf("sond: %w", err)
	}
	return &rawIPWriter{conn: conn, p4: p4, dst: net.IP(dst.AsSlice())}, nil
}

// WriteRaw writes b, a complete IPv4 datagram, to the configured peer.
func (w *rawIPWriter) WriteRaw(b []byte) error {
	if _, err := w.p4.WriteTo(b, nil, &net.IPAddr{IP: w.dst}); err != nil {
		return fmt.Errorf("sond raw write: %w", err)
	}
	return nil
}

// ReadRaw reads one complete IPv4 datagram from the peer.
func (w *rawIPWriter) ReadRaw() ([]byte, error) {
	buf := make([]byte, 65535)
	n, _, _, err := w.p4.ReadFrom(buf)
	if err != nil {
		return nil, fmt.Errorf("sond raw read: %w", err)
	}
	return buf[:n], nil
}

// FD returns the underlying socket file descriptor, for SelectableFDs.
func (w *rawIPWriter) FD() int {
	sc, err := w.conn.SyscallConn()
	if err != nil {
		return -1
	}
	fd := -1
	_ = sc.Control(func(f uintptr) { fd = int(f) })
	return fd
}

// Close releases the underlying socket.
func (w *rawIPWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.conn.Close()
}
