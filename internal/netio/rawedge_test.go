package netio

import (
	"errors"
	"net"
	"sync"
	"testing"

	"github.com/raytheonbbn/iron-bpf/internal/ironpkt"
)

// fakeRawConn is a test double for rawConn, recording writes and serving
// injectable reads without opening a real socket.
type fakeRawConn struct {
	mu      sync.Mutex
	reads   [][]byte
	readErr error
	written [][]byte
	closed  bool
}

func (c *fakeRawConn) ReadFrom(b []byte) (int, net.Addr, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return 0, nil, c.readErr
	}
	if len(c.reads) == 0 {
		return 0, nil, errors.New("fakeRawConn: no more queued reads")
	}
	next := c.reads[0]
	c.reads = c.reads[1:]
	n := copy(b, next)
	return n, nil, nil
}

func (c *fakeRawConn) WriteTo(b []byte, addr net.Addr) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, append([]byte(nil), b...))
	return len(b), nil
}

func (c *fakeRawConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeRawConn) FD() int { return 42 }

func newTestEdge(t *testing.T, conn *fakeRawConn) *RawEdgeInterface {
	t.Helper()
	pool := ironpkt.NewPool(4)
	e, err := newRawEdgeInterface(Config{Mode: ModeRaw}, pool, func(Config) (rawConn, error) {
		return conn, nil
	})
	if err != nil {
		t.Fatalf("newRawEdgeInterface: %v", err)
	}
	if err := e.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	return e
}

// minimalIPv4Packet returns a 20-byte IPv4 header (no payload) with the
// given destination address, a valid IHL, and nothing else set.
func minimalIPv4Packet(dst [4]byte) []byte {
	b := make([]byte, 20)
	b[0] = 0x45 // version 4, IHL 5 words
	copy(b[16:20], dst[:])
	return b
}

func TestRawEdgeInterfaceRejectsNonRawMode(t *testing.T) {
	pool := ironpkt.NewPool(1)
	if _, err := newRawEdgeInterface(Config{Mode: ModeTun}, pool, nil); err == nil {
		t.Error("newRawEdgeInterface with ModeTun: want error, got nil")
	}
}

func TestRawEdgeInterfaceRecv(t *testing.T) {
	conn := &fakeRawConn{reads: [][]byte{minimalIPv4Packet([4]byte{10, 0, 0, 1})}}
	e := newTestEdge(t, conn)
	defer e.Close()

	pkt, err := e.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if pkt.Length() != 20 {
		t.Errorf("Length() = %d, want 20", pkt.Length())
	}
	if pkt.Type() != ironpkt.PacketTypeIPv4 {
		t.Errorf("Type() = %v, want PacketTypeIPv4", pkt.Type())
	}
}

func TestRawEdgeInterfaceSend(t *testing.T) {
	conn := &fakeRawConn{}
	e := newTestEdge(t, conn)
	defer e.Close()

	pool := ironpkt.NewPool(1)
	pkt := pool.Get()
	raw := minimalIPv4Packet([4]byte{192, 168, 1, 1})
	copy(pkt.Writable(), raw)
	if err := pkt.SetLength(len(raw)); err != nil {
		t.Fatalf("SetLength: %v", err)
	}
	pkt.SetType(ironpkt.PacketTypeIPv4)

	if err := e.Send(pkt); err != nil {
		t.Fatalf("Send: %v", err)
	}
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if len(conn.written) != 1 {
		t.Fatalf("written packets = %d, want 1", len(conn.written))
	}
}

func TestRawEdgeInterfaceOperationsFailAfterClose(t *testing.T) {
	conn := &fakeRawConn{}
	e := newTestEdge(t, conn)
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := e.Recv(); !errors.Is(err, ErrClosed) {
		t.Errorf("Recv after close: got %v, want ErrClosed", err)
	}
	if err := e.Send(ironpkt.NewPool(1).Get()); !errors.Is(err, ErrClosed) {
		t.Errorf("Send after close: got %v, want ErrClosed", err)
	}
	if e.FD() != -1 {
		t.Errorf("FD after close: want -1, got %d", e.FD())
	}
}

func TestModeString(t *testing.T) {
	cases := map[Mode]string{ModeRaw: "raw", ModeTun: "tun", Mode(99): "unknown"}
	for mode, want := range cases {
		if got := mode.String(); got != want {
			t.Errorf("Mode(%d).String() = %q, want %q", mode, got, want)
		}
	}
}
