package netio

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/raytheonbbn/iron-bpf/internal/ironpkt"
)

// rawConn is the minimal socket capability RawEdgeInterface depends on,
// letting tests substitute a fake without opening a real raw socket —
// the same seam the teacher's PacketConn interface provides for its own
// Listener (dantte-lp-gobfd's internal/netio/rawsock.go).
type rawConn interface {
	ReadFrom(b []byte) (int, net.Addr, error)
	WriteTo(b []byte, addr net.Addr) (int, error)
	Close() error
	FD() int
}

// rawConnFactory opens the underlying socket for a given Config. The
// real implementation (openRealRawConn, Linux-only) is swapped out in
// tests for one that returns a fake rawConn.
type rawConnFactory func(cfg Config) (rawConn, error)

// RawEdgeInterface implements EdgeInterface over a raw, header-included
// IPv4 socket bound to one enclave-facing interface (ModeRaw). IRON's
// edge traffic is itself UDP-overlay encapsulated, so the same raw
// socket idiom internal/pathctl's SOND uses for path-controller
// datagrams applies here, generalized to a named local interface rather
// than a single remote peer.
type RawEdgeInterface struct {
	cfg  Config
	pool *ironpkt.Pool
	open rawConnFactory

	mu     sync.Mutex
	conn   rawConn
	closed bool
}

func newRawEdgeInterface(cfg Config, pool *ironpkt.Pool, open rawConnFactory) (*RawEdgeInterface, error) {
	if cfg.Mode != ModeRaw {
		return nil, fmt.Errorf("netio: RawEdgeInterface requires ModeRaw, got %s", cfg.Mode)
	}
	return &RawEdgeInterface{cfg: cfg, pool: pool, open: open}, nil
}

// Open binds the underlying raw socket.
func (e *RawEdgeInterface) Open() error {
	conn, err := e.open(e.cfg)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.conn = conn
	e.mu.Unlock()
	return nil
}

// Recv reads one inbound IPv4 datagram into a pool-owned packet.
func (e *RawEdgeInterface) Recv() (*ironpkt.Packet, error) {
	e.mu.Lock()
	conn := e.conn
	closed := e.closed
	e.mu.Unlock()
	if closed || conn == nil {
		return nil, ErrClosed
	}

	pkt := e.pool.Get()
	n, _, err := conn.ReadFrom(pkt.Writable())
	if err != nil {
		e.pool.Recycle(pkt)
		return nil, fmt.Errorf("netio: recv: %w", err)
	}
	if err := pkt.SetLength(n); err != nil {
		e.pool.Recycle(pkt)
		return nil, fmt.Errorf("netio: recv: %w", err)
	}
	pkt.SetType(ironpkt.PacketTypeIPv4)
	pkt.SetRecvTime(time.Now())
	return pkt, nil
}

// Send writes pkt's bytes as a complete IPv4 datagram to its own
// destination address field; the caller retains ownership of pkt.
func (e *RawEdgeInterface) Send(pkt *ironpkt.Packet) error {
	e.mu.Lock()
	conn := e.conn
	closed := e.closed
	e.mu.Unlock()
	if closed || conn == nil {
		return ErrClosed
	}

	hdr, err := pkt.GetIPHdr()
	if err != nil {
		return fmt.Errorf("netio: send: %w", err)
	}
	dst := net.IP(append([]byte(nil), hdr[16:20]...))
	if _, err := conn.WriteTo(pkt.Bytes(), &net.IPAddr{IP: dst}); err != nil {
		return fmt.Errorf("netio: send: %w", err)
	}
	return nil
}

// FD returns the underlying socket file descriptor, for the core's
// select/poll loop.
func (e *RawEdgeInterface) FD() int {
	e.mu.Lock()
	conn := e.conn
	closed := e.closed
	e.mu.Unlock()
	if closed || conn == nil {
		return -1
	}
	return conn.FD()
}

// Close releases the underlying socket.
func (e *RawEdgeInterface) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.conn == nil {
		e.closed = true
		return nil
	}
	e.closed = true
	return e.conn.Close()
}
