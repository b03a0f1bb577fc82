//go:build linux

package netio

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"syscall"

	"golang.org/x/net/bpf"
	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"
)

// OpenRawIPConn opens a SOCK_RAW IPv4 socket with IP_HDRINCL set, bound
// to laddr, so callers (both this package's RawEdgeInterface and
// internal/pathctl's SOND) read and write complete, already-built IPv4
// datagrams verbatim. It returns both the underlying net.IPConn, for
// raw file-descriptor access (select/poll readiness), and an
// ipv4.PacketConn wrapper over the same socket, for TTL/ToS
// control-message access.
//
// Grounded on the teacher's listenUDP/setSocketOpts Control-callback
// pattern (dantte-lp-gobfd's internal/netio/rawsock_linux.go), adapted
// from a plain UDP socket to a header-included raw IP socket.
func OpenRawIPConn(ctx context.Context, laddr netip.Addr) (*net.IPConn, *ipv4.PacketConn, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			return setHdrInclOpt(c)
		},
	}

	pc, err := lc.ListenPacket(ctx, "ip4:udp", laddr.String())
	if err != nil {
		return nil, nil, fmt.Errorf("open raw IP socket on %s: %w", laddr, err)
	}
	conn, ok := pc.(*net.IPConn)
	if !ok {
		_ = pc.Close()
		return nil, nil, fmt.Errorf("open raw IP socket on %s: unexpected conn type", laddr)
	}

	p4 := ipv4.NewPacketConn(conn)
	if err := p4.SetControlMessage(ipv4.FlagTTL|ipv4.FlagDst|ipv4.FlagInterface, true); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("enable IPv4 control messages on %s: %w", laddr, err)
	}
	return conn, p4, nil
}

// setHdrInclOpt sets IP_HDRINCL and SO_REUSEADDR on the raw socket.
func setHdrInclOpt(c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		intFD := int(fd)
		if e := unix.SetsockoptInt(intFD, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); e != nil {
			sockErr = fmt.Errorf("SO_REUSEADDR: %w", e)
			return
		}
		if e := unix.SetsockoptInt(intFD, unix.IPPROTO_IP, unix.IP_HDRINCL, 1); e != nil {
			sockErr = fmt.Errorf("IP_HDRINCL: %w", e)
			return
		}
	})
	if err != nil {
		return fmt.Errorf("control raw socket: %w", err)
	}
	return sockErr
}

// bindToDevice restricts a raw socket to a single named interface via
// SO_BINDTODEVICE, the same capability the teacher's netio package
// exposes for single-hop BFD sessions (rawsock_linux.go's multiHop
// branch), reused here to pin the edge interface to one enclave-facing
// NIC.
func bindToDevice(c syscall.RawConn, ifName string) error {
	if ifName == "" {
		return nil
	}
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.BindToDevice(int(fd), ifName)
	})
	if err != nil {
		return fmt.Errorf("control raw socket: %w", err)
	}
	if sockErr != nil {
		return fmt.Errorf("SO_BINDTODEVICE %s: %w", ifName, sockErr)
	}
	return nil
}

// attachClassicBPF installs an assembled classic BPF program as a
// socket filter via SO_ATTACH_FILTER.
func attachClassicBPF(c syscall.RawConn, prog []bpf.RawInstruction) error {
	filters := make([]unix.SockFilter, len(prog))
	for i, ri := range prog {
		filters[i] = unix.SockFilter{Code: ri.Op, Jt: ri.Jt, Jf: ri.Jf, K: ri.K}
	}
	fprog := unix.SockFprog{
		Len:    uint16(len(filters)),
		Filter: &filters[0],
	}

	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptSockFprog(int(fd), unix.SOL_SOCKET, unix.SO_ATTACH_FILTER, &fprog)
	})
	if err != nil {
		return fmt.Errorf("control raw socket: %w", err)
	}
	if sockErr != nil {
		return fmt.Errorf("SO_ATTACH_FILTER: %w", sockErr)
	}
	return nil
}
