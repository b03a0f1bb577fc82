package pathctl

import (
	"container/list"
	"runtime"
	"sync"
	"time"

	"github.com/raytheonbbn/iron-bpf/internal/ironpkt"
)

// sondQueueKind indexes a SOND's four fixed priority queues (spec.md §4.7),
// in priority order: 0 is serviced before 1, etc.
type sondQueueKind int

const (
	sondQueueQLAM sondQueueKind = iota
	sondQueueEF
	sondQueueSystemControl
	sondQueueOther
	numSondQueues
)

func (k sondQueueKind) String() string {
	switch k {
	case sondQueueQLAM:
		return "qlam"
	case sondQueueEF:
		return "ef"
	case sondQueueSystemControl:
		return "system-control"
	case sondQueueOther:
		return "other"
	default:
		return "unknown"
	}
}

// sondWriter abstracts the wire write so the queueing/pacing core is
// testable without a real socket, mirroring the teacher's PacketConn split
// between interface (rawsock.go) and platform implementation
// (rawsock_linux.go).
type sondWriter interface {
	WriteRaw(b []byte) error
	Close() error
}

// SondConfig parameterizes a Sond.
type SondConfig struct {
	// MaxLineRateKbps is the configured pacing rate, in kbps (spec.md
	// §4.7 "max_line_rate").
	MaxLineRateKbps uint64
	// TransmitThreshold sizes the EF and Other queues: capacity ≈
	// TransmitThreshold / 28 bytes (spec.md §4.7).
	TransmitThreshold int
	// SystemControlCapacity is the fixed capacity of the system-control
	// queue (spec.md §4.7 default 100).
	SystemControlCapacity int
	// PerQLAMOverheadBytes is the fixed Ethernet+IPv4+UDP framing size
	// this controller type adds per QLAM packet.
	PerQLAMOverheadBytes int
}

func (c SondConfig) withDefaults() SondConfig {
	if c.MaxLineRateKbps == 0 {
		c.MaxLineRateKbps = 1000
	}
	if c.TransmitThreshold <= 0 {
		c.TransmitThreshold = 28000
	}
	if c.SystemControlCapacity <= 0 {
		c.SystemControlCapacity = 100
	}
	if c.PerQLAMOverheadBytes <= 0 {
		c.PerQLAMOverheadBytes = 14 + 20 + 8
	}
	return c
}

func (c SondConfig) dataQueueCapacity() int {
	capacity := c.TransmitThreshold / 28
	if capacity <= 0 {
		capacity = 1
	}
	return capacity
}

// Sond is the default UDP-tunneled path controller (spec.md §4.7): four
// fixed-priority queues drained by a rate-paced one-shot timer, modeled on
// the session run-loop idiom of the BFD core this module was grounded on.
type Sond struct {
	id  string
	cfg SondConfig
	pool *ironpkt.Pool
	writer sondWriter

	mu         sync.Mutex
	queues     [numSondQueues]*list.List
	queuedBytes uint64

	remoteBin  ironpkt.BinId
	remoteIdx  ironpkt.BinIndex
	haveRemote bool

	lineRateBps uint64
	xmitStart   time.Time
	deltaTime   time.Duration

	pdd       *PDDReporter
	pddReport func(time.Duration)

	admitCh chan struct{}
	closeCh chan struct{}
	closeOnce sync.Once
}

// NewSond constructs a Sond over the given writer, which performs the
// actual IP_HDRINCL raw-socket write (see sond_socket_linux.go for the
// production implementation).
func NewSond(cfg SondConfig, pool *ironpkt.Pool, writer sondWriter) *Sond {
	cfg = cfg.withDefaults()
	s := &Sond{
		cfg:         cfg,
		pool:        pool,
		writer:      writer,
		lineRateBps: cfg.MaxLineRateKbps * 1000,
		admitCh:     make(chan struct{}, 1),
		closeCh:     make(chan struct{}),
	}
	for i := range s.queues {
		s.queues[i] = list.New()
	}
	return s
}

// Initialize binds the controller's id and starts its internal TX-pacing
// goroutine (spec.md §4.7 "initialize(config, id)").
func (s *Sond) Initialize(id string) error {
	s.mu.Lock()
	s.id = id
	s.xmitStart = time.Now()
	s.mu.Unlock()
	go s.run()
	return nil
}

// Close stops the pacing goroutine and closes the underlying writer.
func (s *Sond) Close() error {
	s.closeOnce.Do(func() { close(s.closeCh) })
	return s.writer.Close()
}

// SetMaxLineRate reconfigures the pacing rate. A packet already awaiting
// its computed emission timer is unaffected (spec.md §4.7: "Max-line-rate
// changes do not affect a packet currently awaiting its timer").
func (s *Sond) SetMaxLineRate(kbps uint64) {
	s.mu.Lock()
	s.lineRateBps = kbps * 1000
	s.mu.Unlock()
}

// Send classifies pkt into one of the four priority queues and admits it
// (spec.md §4.7, §4.7 "SOND specifics").
func (s *Sond) Send(pkt *ironpkt.Packet) (SendResult, error) {
	if !s.Ready() {
		return Rejected, ErrNotReady
	}

	kind := classifyQueue(pkt)

	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queues[kind]
	if kind == sondQueueQLAM {
		if q.Len() > 0 {
			old := q.Remove(q.Front()).(*ironpkt.Packet)
			s.queuedBytes -= uint64(old.Length())
			s.pool.Recycle(old)
		}
		q.PushBack(pkt)
		s.queuedBytes += uint64(pkt.Length())
		s.signalAdmit()
		return Accepted, nil
	}

	if q.Len() >= s.capacityFor(kind) {
		return Rejected, nil
	}
	q.PushBack(pkt)
	s.queuedBytes += uint64(pkt.Length())
	s.signalAdmit()
	return Accepted, nil
}

func (s *Sond) capacityFor(kind sondQueueKind) int {
	switch kind {
	case sondQueueQLAM:
		return 1
	case sondQueueSystemControl:
		return s.cfg.SystemControlCapacity
	default:
		return s.cfg.dataQueueCapacity()
	}
}

// classifyQueue maps a packet onto one of the four SOND priority queues by
// its cached PacketType/LatencyClass (spec.md §4.7).
func classifyQueue(pkt *ironpkt.Packet) sondQueueKind {
	switch pkt.Type() {
	case ironpkt.PacketTypeQLAM:
		return sondQueueQLAM
	case ironpkt.PacketTypeLSA:
		return sondQueueSystemControl
	}
	if pkt.LatencyClassOf() == ironpkt.LatencyLow {
		return sondQueueEF
	}
	return sondQueueOther
}

// signalAdmit wakes the pacing goroutine if it is idle. Must be called
// with s.mu held.
func (s *Sond) signalAdmit() {
	select {
	case s.admitCh <- struct{}{}:
	default:
	}
}

// QueuedBytes reports the controller's current internal backlog.
func (s *Sond) QueuedBytes() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queuedBytes
}

// SelectableFDs returns the file descriptors this controller wants polled
// for readability; TX pacing is handled by the internal goroutine and
// never needs the owning event loop to drive it, so only RX readiness is
// ever reported here.
func (s *Sond) SelectableFDs() []FDEvent {
	if rd, ok := s.writer.(interface{ FD() int }); ok {
		return []FDEvent{{FD: rd.FD(), Readable: true}}
	}
	return nil
}

// Service reads one inbound datagram from the peer SOND and discards it;
// received datagrams are not decoded or stripped of their CAT headers.
func (s *Sond) Service(fd int) error {
	rd, ok := s.writer.(interface {
		ReadRaw() ([]byte, error)
	})
	if !ok {
		return nil
	}
	buf, err := rd.ReadRaw()
	if err != nil {
		return err
	}
	_ = buf // the datagram is dropped here; no receive path decodes it.
	return nil
}

// PerQLAMOverhead returns the fixed Ethernet+IPv4+UDP framing overhead.
func (s *Sond) PerQLAMOverhead() int { return s.cfg.PerQLAMOverheadBytes }

// ConfigurePDDReporting arms the PDD-change callback (spec.md §4.7).
func (s *Sond) ConfigurePDDReporting(thresholdFraction float64, minPeriod, maxPeriod time.Duration, report func(time.Duration)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pdd = NewPDDReporter(thresholdFraction, minPeriod, maxPeriod)
	s.pddReport = report
}

// ObservePDD folds one observed low-latency PDD sample in and invokes the
// configured report callback if warranted (spec.md §4.7).
func (s *Sond) ObservePDD(now time.Time, pdd time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pdd == nil {
		return
	}
	s.pdd.Observe(pdd)
	if s.pdd.ShouldReport(now) {
		mean := s.pdd.Mean()
		s.pdd.MarkReported(now)
		if s.pddReport != nil {
			report := s.pddReport
			go report(mean)
		}
	}
}

// SetRemoteBin binds the neighbor this controller carries traffic to.
func (s *Sond) SetRemoteBin(bin ironpkt.BinId, idx ironpkt.BinIndex) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remoteBin = bin
	s.remoteIdx = idx
	s.haveRemote = true
}

// Ready reports whether a remote bin has been bound.
func (s *Sond) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.haveRemote
}

// CapacityBps returns the configured line rate, in bits per second.
func (s *Sond) CapacityBps() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lineRateBps
}

// RemoteBin returns the bound neighbor bin index and whether one is bound.
func (s *Sond) RemoteBin() (ironpkt.BinIndex, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteIdx, s.haveRemote
}

// run is the internal TX-pacing goroutine: a one-shot timer fires at the
// computed wall-clock emission instant for the head of the highest
// nonempty priority queue (spec.md §4.7), modeled on the BFD session's
// runLoop (Run/runLoop in the teacher's internal/bfd/session.go).
func (s *Sond) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	armed := false
	defer timer.Stop()

	for {
		select {
		case <-s.closeCh:
			return
		case <-s.admitCh:
			if armed {
				continue
			}
			if d, ok := s.nextEmission(); ok {
				timer.Reset(d)
				armed = true
			}
		case <-timer.C:
			armed = false
			s.emitOne()
			if d, ok := s.nextEmission(); ok {
				timer.Reset(d)
				armed = true
			}
		}
	}
}

// nextEmission reports the duration to wait before the highest-priority
// nonempty queue's head packet should be emitted, scheduling it
// xmit_start_time + delta_time out and advancing delta_time by the
// packet's transmission time at the current line rate (spec.md §4.7).
func (s *Sond) nextEmission() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pkt := s.peekHeadLocked()
	if pkt == nil {
		return 0, false
	}

	fireAt := s.xmitStart.Add(s.deltaTime)
	bits := uint64(pkt.Length()) * 8
	rate := s.lineRateBps
	if rate == 0 {
		rate = 1
	}
	s.deltaTime += time.Duration(bits) * time.Second / time.Duration(rate)

	return time.Until(fireAt), true
}

// peekHeadLocked returns the head-of-queue packet of the highest-priority
// nonempty queue, without dequeueing it. Must be called with s.mu held.
func (s *Sond) peekHeadLocked() *ironpkt.Packet {
	for k := sondQueueKind(0); k < numSondQueues; k++ {
		if e := s.queues[k].Front(); e != nil {
			return e.Value.(*ironpkt.Packet)
		}
	}
	return nil
}

// emitOne dequeues and writes the current head-of-queue packet to the
// wire, prepending any enabled CAT metadata headers first (spec.md §4.7:
// "Before handing a packet to the wire, the controller may prepend...").
func (s *Sond) emitOne() {
	s.mu.Lock()
	var pkt *ironpkt.Packet
	for k := sondQueueKind(0); k < numSondQueues; k++ {
		if e := s.queues[k].Front(); e != nil {
			pkt = s.queues[k].Remove(e).(*ironpkt.Packet)
			break
		}
	}
	if pkt != nil {
		s.queuedBytes -= uint64(pkt.Length())
	}
	s.mu.Unlock()

	if pkt == nil {
		return
	}
	defer s.pool.Recycle(pkt)

	if err := PrependCAT(pkt); err != nil {
		return
	}
	_ = s.writer.WriteRaw(pkt.Bytes())
}
