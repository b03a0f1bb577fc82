//go:build linux

package netio

import (
	"context"
	"fmt"
	"net"
	"net/netip"

	"golang.org/x/net/bpf"

	"github.com/raytheonbbn/iron-bpf/internal/ironpkt"
)

// NewRawEdgeInterface constructs a RawEdgeInterface backed by a real
// Linux raw IP socket. Packets read from the wire are allocated out of
// pool.
func NewRawEdgeInterface(cfg Config, pool *ironpkt.Pool) (*RawEdgeInterface, error) {
	return newRawEdgeInterface(cfg, pool, openRealRawConn)
}

// realRawConn adapts a *net.IPConn to the rawConn interface.
type realRawConn struct {
	conn *net.IPConn
}

func (r *realRawConn) ReadFrom(b []byte) (int, net.Addr, error) { return r.conn.ReadFrom(b) }
func (r *realRawConn) WriteTo(b []byte, addr net.Addr) (int, error) {
	return r.conn.WriteTo(b, addr)
}
func (r *realRawConn) Close() error { return r.conn.Close() }

func (r *realRawConn) FD() int {
	sc, err := r.conn.SyscallConn()
	if err != nil {
		return -1
	}
	fd := -1
	_ = sc.Control(func(f uintptr) { fd = int(f) })
	return fd
}

// openRealRawConn opens and configures the real raw socket for cfg,
// restricting it to cfg.IfName if set and attaching the default
// accept-all classic BPF selection filter.
func openRealRawConn(cfg Config) (rawConn, error) {
	laddr := netip.IPv4Unspecified()
	if cfg.LocalAddr != "" {
		a, err := netip.ParseAddr(cfg.LocalAddr)
		if err != nil {
			return nil, fmt.Errorf("netio: parse local addr %q: %w", cfg.LocalAddr, err)
		}
		laddr = a
	}

	conn, _, err := OpenRawIPConn(context.Background(), laddr)
	if err != nil {
		return nil, err
	}

	if cfg.IfName != "" {
		sc, err := conn.SyscallConn()
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("netio: syscall conn: %w", err)
		}
		if err := bindToDevice(sc, cfg.IfName); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}

	if err := attachAcceptAllFilter(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return &realRawConn{conn: conn}, nil
}

// attachAcceptAllFilter attaches a trivial classic BPF program (spec.md
// §1's "tun/raw capture selection metadata"): a single instruction
// returning the maximum snap length, unconditionally accepting every
// captured datagram. It exists as the hook later filter-selection
// policy (e.g. DSCP-based admission) attaches to, rather than as a real
// packet filter today.
func attachAcceptAllFilter(conn *net.IPConn) error {
	prog, err := bpf.Assemble([]bpf.Instruction{
		bpf.RetConstant{Val: 0xffff},
	})
	if err != nil {
		return fmt.Errorf("netio: assemble BPF filter: %w", err)
	}

	sc, err := conn.SyscallConn()
	if err != nil {
		return fmt.Errorf("netio: syscall conn: %w", err)
	}
	return attachClassicBPF(sc, prog)
}
