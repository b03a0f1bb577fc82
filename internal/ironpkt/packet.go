package ironpkt

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"
)

// -------------------------------------------------------------------------
// Wire constants — spec.md §3, §6
// -------------------------------------------------------------------------

// MinCapacity is the minimum packet buffer capacity (spec.md §3: "at
// least 66,000 bytes", room for a jumbo-ish IP datagram plus metadata
// headers and CAT prepends).
const MinCapacity = 66000

// MaxHistoryLen is the fixed length of the packet history vector
// (spec.md §3: "up to 11 previously-visited bin ids").
const MaxHistoryLen = 11

// HistoryUnused is the sentinel byte marking an unused history slot
// (spec.md §6: "11 B of node bin ids (0 = unused slot)"); bin id 0 is
// already reserved/invalid for unicast bins (spec.md §3), so it doubles
// safely as the wire "unused" marker.
const HistoryUnused byte = 0

// Packet-type first-byte ranges (spec.md §6).
const (
	// protoAnyLocalNetwork is the IP protocol number used to mark zombie
	// packets (spec.md §6: "IP-protocol byte = 63").
	protoAnyLocalNetwork = 63

	// dscpTolerant is the DSCP value marking zombie / tolerant traffic
	// (spec.md §6: "DSCP = 1").
	dscpTolerant = 1

	// dscpEF is the DSCP value for expedited-forwarding (low-latency) traffic.
	dscpEF = 46

	catTypeDstVec     = 0x34
	catTypePacketID   = 0x35
	catTypeHistory    = 0x36
	catTypeLatency    = 0x37
	bpfTypeQLAM       = 0x10
	bpfTypeLSA        = 0x13
	ipv4VersionNibble = 0x4
)

// -------------------------------------------------------------------------
// PacketType — spec.md §4.1
// -------------------------------------------------------------------------

// PacketType is the coarse classification of a packet's first byte / IP
// version nibble (spec.md §4.1, §6).
type PacketType uint8

const (
	PacketTypeUnknown PacketType = iota
	PacketTypeQLAM
	PacketTypeLSA
	PacketTypeZombie
	PacketTypeIPv4
)

func (t PacketType) String() string {
	switch t {
	case PacketTypeQLAM:
		return "QLAM"
	case PacketTypeLSA:
		return "LSA"
	case PacketTypeZombie:
		return "ZOMBIE"
	case PacketTypeIPv4:
		return "IPv4"
	default:
		return "UNKNOWN"
	}
}

// classifyFirstByte derives a PacketType from the first byte of a buffer,
// following the ranges in spec.md §6. Zombie detection additionally
// requires inspecting the IP protocol/DSCP fields, so callers that have a
// full IPv4 header available should prefer classifyIPv4 over this raw
// first-byte check.
func classifyFirstByte(b byte) PacketType {
	switch {
	case b == bpfTypeQLAM:
		return PacketTypeQLAM
	case b == bpfTypeLSA:
		return PacketTypeLSA
	case b>>4 == ipv4VersionNibble:
		return PacketTypeIPv4
	default:
		return PacketTypeUnknown
	}
}

// -------------------------------------------------------------------------
// LatencyClass — spec.md §4.1, original_source/iron/common/include/packet.h
// -------------------------------------------------------------------------

// LatencyClass is the cached intra-IRON latency treatment of a packet
// (spec.md §3, §4.1). Ordering matches
// original_source/iron/common/include/packet.h's LatencyClass enum exactly,
// since the dequeue priority order (spec.md §4.4) depends on the numeric
// ordering of these constants.
type LatencyClass uint8

const (
	LatencyCritical LatencyClass = iota
	LatencyControl
	LatencyLow             // LOW_LATENCY (EF)
	LatencyHighExp         // zombies from expired low-latency packets
	LatencyHighNPLBLowSens // zombies from the LS NPLB algorithm
	LatencyHighZLRLowSens  // ZLR zombies for latency-sensitive packets
	LatencyNormal
	LatencyHighReceived // received zombies
	LatencyHighNPLB     // zombies from the NPLB algorithm
	LatencyHighZLR      // zombies from the ZLR algorithm
	numLatencyClasses
)

// NumLatencyClasses is the number of distinct LatencyClass values, for
// callers that size per-class arrays (e.g. the bin queue manager's FIFO
// array, spec.md §3 "Per-bin queue state").
const NumLatencyClasses = int(numLatencyClasses)

var latencyClassNames = [...]string{
	"CRITICAL", "CONTROL", "LOW_LATENCY", "HIGH_LATENCY_EXP",
	"HIGH_LATENCY_NPLB_LS", "HIGH_LATENCY_ZLR_LS", "NORMAL_LATENCY",
	"HIGH_LATENCY_RCVD", "HIGH_LATENCY_NPLB", "HIGH_LATENCY_ZLR",
}

func (l LatencyClass) String() string {
	if int(l) < len(latencyClassNames) {
		return latencyClassNames[l]
	}
	return fmt.Sprintf("Unknown(%d)", uint8(l))
}

// IsZombie reports whether class is one of the virtual/degraded "zombie"
// classes (spec.md §3, §9 Open Questions — resolved per
// original_source/iron/common/include/packet.h's IsZombie: lat >=
// HIGH_LATENCY_EXP && lat != NORMAL_LATENCY).
func (l LatencyClass) IsZombie() bool {
	return l >= LatencyHighExp && l != LatencyNormal
}

// IsLatencySensitive reports whether class participates in latency-
// sensitive (LS) accounting and dequeue preemption (spec.md §3, §4.4 —
// resolved per the source's IsLatencySensitive: lat < NORMAL_LATENCY).
func (l LatencyClass) IsLatencySensitive() bool {
	return l < LatencyNormal
}

// DequeueOrder lists latency classes in bin-queue dequeue priority order
// (spec.md §4.4: "CRITICAL first, then CONTROL, LOW_LATENCY, the LS zombie
// classes, NORMAL, then the non-LS zombie classes"). This is exactly the
// enum's natural ascending order.
var DequeueOrder = [...]LatencyClass{
	LatencyCritical, LatencyControl, LatencyLow,
	LatencyHighExp, LatencyHighNPLBLowSens, LatencyHighZLRLowSens,
	LatencyNormal,
	LatencyHighReceived, LatencyHighNPLB, LatencyHighZLR,
}

// -------------------------------------------------------------------------
// Errors
// -------------------------------------------------------------------------

var (
	ErrCapacityExceeded  = errors.New("operation exceeds packet buffer capacity")
	ErrMetadataNonEmpty  = errors.New("cannot shift start: metadata header region is non-empty")
	ErrNotEnoughHeadroom = errors.New("not enough headroom to prepend")
	ErrWrongPacketType   = errors.New("operation not valid for this packet's cached type")
	ErrPacketTooShort    = errors.New("packet too short for requested header")
	ErrNotTransportProto = errors.New("packet is not TCP or UDP")
)

// -------------------------------------------------------------------------
// Packet — spec.md §3, §4.1
// -------------------------------------------------------------------------

// Packet owns a fixed-capacity byte buffer and the intra-IRON metadata
// needed to queue, forward, and account for it (spec.md §3).
//
// Packet is never constructed directly by callers; it is always obtained
// from a Pool (pool.go), which is the sole allocator for the lifetime of
// the process (spec.md §4.2, §9 "Raw new/delete overload").
type Packet struct {
	mu       sync.Mutex
	refCount int

	buf      []byte // full fixed-capacity buffer
	start    int    // offset of payload start within buf
	length   int    // payload length
	metaLen  int    // length of the metadata-header region immediately before start

	packetType   PacketType
	latencyClass LatencyClass
	latencySet   bool

	virtualLength int // for packetless zombies, bytes represented in accounting

	recvTime      time.Time
	originTS      uint16 // 16-bit ms, wire format
	ttg           time.Duration
	ttgValid      bool

	srcBinID  BinId
	packetID  uint32 // 20-bit value

	sendPacketID   bool
	sendHistory    bool
	sendDstVec     bool
	trackTTG       bool

	history [MaxHistoryLen]byte
	dstVec  DstVec

	slotIndex int // index into the owning Pool, stable for shared-memory addressing
}

// newPacket allocates a fresh Packet with the given capacity. Only called
// by Pool.
func newPacket(capacity int) *Packet {
	if capacity < MinCapacity {
		capacity = MinCapacity
	}
	p := &Packet{buf: make([]byte, capacity)}
	p.resetFields()
	return p
}

// reserveMTU is the headroom reserved at the front of a fresh packet so
// that prepends (CAT metadata headers, tunnel encapsulation) never need to
// copy the payload (spec.md §4.1 "new() from pool").
const reserveMTU = 256

// resetFields restores a packet to its just-allocated state, as performed
// by Pool.Get (spec.md §4.2).
func (p *Packet) resetFields() {
	p.refCount = 1
	p.length = 0
	p.metaLen = 0
	p.start = min(reserveMTU, len(p.buf))
	p.packetType = PacketTypeUnknown
	p.latencyClass = 0
	p.latencySet = false
	p.virtualLength = 0
	p.recvTime = time.Time{}
	p.originTS = 0
	p.ttg = 0
	p.ttgValid = false
	p.srcBinID = 0
	p.packetID = 0
	p.sendPacketID = false
	p.sendHistory = false
	p.sendDstVec = false
	p.trackTTG = false
	for i := range p.history {
		p.history[i] = HistoryUnused
	}
	p.dstVec = DstVec{}
}

// Capacity returns the fixed size of the underlying buffer.
func (p *Packet) Capacity() int { return len(p.buf) }

// Length returns the current payload length.
func (p *Packet) Length() int { return p.length }

// Start returns the current payload start offset within the buffer.
func (p *Packet) Start() int { return p.start }

// Bytes returns the payload slice [start, start+length). Callers must not
// retain this slice beyond the packet's lifetime without a Clone.
func (p *Packet) Bytes() []byte { return p.buf[p.start : p.start+p.length] }

// Writable returns the full region available for writing from start to
// the end of the buffer, regardless of the current length. Callers write
// into it and then call SetLength to commit the new payload size; this
// mirrors how a receive path fills a freshly-allocated packet before its
// length is known.
func (p *Packet) Writable() []byte { return p.buf[p.start:] }

// RefCount returns the current reference count (for diagnostics/testing).
func (p *Packet) RefCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refCount
}

// SlotIndex returns the pool slot index backing this packet, used to pass
// packets across process boundaries via shared memory (spec.md §4.2).
func (p *Packet) SlotIndex() int { return p.slotIndex }

// -------------------------------------------------------------------------
// Buffer shaping — spec.md §4.1
// -------------------------------------------------------------------------

// SetLength sets the payload length. Fails if n exceeds the remaining
// capacity after start.
func (p *Packet) SetLength(n int) error {
	if n < 0 || p.start+n > len(p.buf) {
		return fmt.Errorf("set length %d at start %d: %w", n, p.start, ErrCapacityExceeded)
	}
	p.length = n
	return nil
}

// StripFront advances start by n and decrements length by n. Fails if the
// metadata-header region is non-empty (spec.md §3 invariant: once
// metadata headers exist, start_ may no longer shift) or n exceeds length.
func (p *Packet) StripFront(n int) error {
	if p.metaLen > 0 {
		return fmt.Errorf("strip_front(%d): %w", n, ErrMetadataNonEmpty)
	}
	if n < 0 || n > p.length {
		return fmt.Errorf("strip_front(%d): %w", n, ErrCapacityExceeded)
	}
	p.start += n
	p.length -= n
	return nil
}

// Prepend reverses StripFront: moves start back by n and grows length by
// n. Fails if start < n (no headroom).
func (p *Packet) Prepend(n int) error {
	if n < 0 || n > p.start {
		return fmt.Errorf("prepend(%d): %w", n, ErrNotEnoughHeadroom)
	}
	p.start -= n
	p.length += n
	return nil
}

// Append copies data onto the tail of the payload, growing length.
func (p *Packet) Append(data []byte) error {
	if p.start+p.length+len(data) > len(p.buf) {
		return fmt.Errorf("append %d bytes: %w", len(data), ErrCapacityExceeded)
	}
	copy(p.buf[p.start+p.length:], data)
	p.length += len(data)
	return nil
}

// RemoveTail shrinks length by n from the end of the payload.
func (p *Packet) RemoveTail(n int) error {
	if n < 0 || n > p.length {
		return fmt.Errorf("remove_tail(%d): %w", n, ErrCapacityExceeded)
	}
	p.length -= n
	return nil
}

// -------------------------------------------------------------------------
// Metadata header region — spec.md §3, §6 (CAT headers)
// -------------------------------------------------------------------------

// PrependMetadata prepends a metadata/CAT header of size n immediately
// before the current start. Requires start >= metaLen already (the
// invariant from spec.md §3); grows metaLen by n.
func (p *Packet) PrependMetadata(n int) ([]byte, error) {
	if err := p.Prepend(n); err != nil {
		return nil, err
	}
	p.metaLen += n
	return p.buf[p.start : p.start+n], nil
}

// MetadataLen returns the size of the metadata-header region preceding
// the payload start.
func (p *Packet) MetadataLen() int { return p.metaLen }

// PeekMetadata returns the remaining, unconsumed metadata-header region
// without modifying the packet, for a receiver to inspect the next
// header's type byte before deciding how many bytes StripMetadataHeader
// should consume.
func (p *Packet) PeekMetadata() []byte { return p.buf[p.start : p.start+p.metaLen] }

// StripMetadataHeader consumes n bytes from the front of the metadata
// region (the inverse of PrependMetadata), advancing start and shrinking
// metaLen, and returns the consumed bytes. Used by a receiving path
// controller walking the CAT header chain one self-describing header at a
// time (spec.md §4.7).
func (p *Packet) StripMetadataHeader(n int) ([]byte, error) {
	if n < 0 || n > p.metaLen {
		return nil, fmt.Errorf("strip_metadata_header(%d): %w", n, ErrMetadataNonEmpty)
	}
	out := p.buf[p.start : p.start+n]
	p.start += n
	p.length -= n
	p.metaLen -= n
	return out, nil
}

// ClearMetadata resets the metadata-header region, e.g. after a receiving
// path controller has stripped and parsed all CAT headers.
func (p *Packet) ClearMetadata() { p.metaLen = 0 }

// -------------------------------------------------------------------------
// Header access — spec.md §4.1
// -------------------------------------------------------------------------

// ipv4MinHeader is the minimum IPv4 header length (no options).
const ipv4MinHeader = 20

// GetIPHdr returns the IPv4 header bytes iff the cached type admits it.
func (p *Packet) GetIPHdr() ([]byte, error) {
	if p.Type() != PacketTypeIPv4 && p.Type() != PacketTypeZombie {
		return nil, fmt.Errorf("get_ip_hdr: %w", ErrWrongPacketType)
	}
	if p.length < ipv4MinHeader {
		return nil, fmt.Errorf("get_ip_hdr: %w", ErrPacketTooShort)
	}
	ihl := int(p.buf[p.start]&0x0F) * 4
	if ihl < ipv4MinHeader || p.length < ihl {
		return nil, fmt.Errorf("get_ip_hdr: %w", ErrPacketTooShort)
	}
	return p.buf[p.start : p.start+ihl], nil
}

// ihl returns the IPv4 header length in bytes, or 0 if unavailable.
func (p *Packet) ihl() int {
	if p.length < 1 {
		return 0
	}
	return int(p.buf[p.start]&0x0F) * 4
}

// GetUDPHdr returns the 8-byte UDP header iff the cached type and IP
// protocol field admit it.
func (p *Packet) GetUDPHdr() ([]byte, error) {
	hdr, err := p.GetIPHdr()
	if err != nil {
		return nil, err
	}
	if hdr[9] != 17 {
		return nil, fmt.Errorf("get_udp_hdr: %w", ErrNotTransportProto)
	}
	ihl := len(hdr)
	if p.length < ihl+8 {
		return nil, fmt.Errorf("get_udp_hdr: %w", ErrPacketTooShort)
	}
	return p.buf[p.start+ihl : p.start+ihl+8], nil
}

// GetTCPHdr returns the fixed 20-byte TCP header iff the cached type and
// IP protocol field admit it (TCP options are not returned).
func (p *Packet) GetTCPHdr() ([]byte, error) {
	hdr, err := p.GetIPHdr()
	if err != nil {
		return nil, err
	}
	if hdr[9] != 6 {
		return nil, fmt.Errorf("get_tcp_hdr: %w", ErrNotTransportProto)
	}
	ihl := len(hdr)
	if p.length < ihl+20 {
		return nil, fmt.Errorf("get_tcp_hdr: %w", ErrPacketTooShort)
	}
	return p.buf[p.start+ihl : p.start+ihl+20], nil
}

// FiveTuple is the host-byte-order 5-tuple returned by GetFiveTuple.
type FiveTuple struct {
	SrcAddr  uint32
	DstAddr  uint32
	SrcPort  uint16
	DstPort  uint16
	Protocol uint8
}

// GetFiveTuple extracts (saddr, daddr, sport, dport, proto) in host byte
// order. Fails if the packet is too short or not TCP/UDP.
func (p *Packet) GetFiveTuple() (FiveTuple, error) {
	hdr, err := p.GetIPHdr()
	if err != nil {
		return FiveTuple{}, err
	}
	proto := hdr[9]
	if proto != 6 && proto != 17 {
		return FiveTuple{}, fmt.Errorf("get_five_tuple: %w", ErrNotTransportProto)
	}
	ihl := len(hdr)
	if p.length < ihl+4 {
		return FiveTuple{}, fmt.Errorf("get_five_tuple: %w", ErrPacketTooShort)
	}
	ports := p.buf[p.start+ihl : p.start+ihl+4]
	return FiveTuple{
		SrcAddr:  binary.BigEndian.Uint32(hdr[12:16]),
		DstAddr:  binary.BigEndian.Uint32(hdr[16:20]),
		SrcPort:  binary.BigEndian.Uint16(ports[0:2]),
		DstPort:  binary.BigEndian.Uint16(ports[2:4]),
		Protocol: proto,
	}, nil
}

// UpdateChecksums recomputes the IPv4 header checksum and, for UDP/TCP,
// the transport checksum. Must be called after any mutation that affects
// header or payload bytes (spec.md §4.1).
func (p *Packet) UpdateChecksums() error {
	hdr, err := p.GetIPHdr()
	if err != nil {
		return err
	}
	ihl := len(hdr)
	hdr[10], hdr[11] = 0, 0
	csum := ipChecksum(hdr)
	hdr[10] = byte(csum >> 8)
	hdr[11] = byte(csum)

	proto := hdr[9]
	switch proto {
	case 17:
		return p.updateUDPChecksum(ihl)
	case 6:
		return p.updateTCPChecksum(ihl)
	default:
		return nil
	}
}

func ipChecksum(hdr []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(hdr); i += 2 {
		sum += uint32(hdr[i])<<8 | uint32(hdr[i+1])
	}
	if len(hdr)%2 == 1 {
		sum += uint32(hdr[len(hdr)-1]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	return ^uint16(sum)
}

func (p *Packet) pseudoHeaderSum(ihl, protoLen int, proto byte) uint32 {
	hdr := p.buf[p.start : p.start+ihl]
	var sum uint32
	sum += uint32(binary.BigEndian.Uint16(hdr[12:14]))
	sum += uint32(binary.BigEndian.Uint16(hdr[14:16]))
	sum += uint32(binary.BigEndian.Uint16(hdr[16:18]))
	sum += uint32(binary.BigEndian.Uint16(hdr[18:20]))
	sum += uint32(proto)
	sum += uint32(protoLen)
	return sum
}

func (p *Packet) updateUDPChecksum(ihl int) error {
	if p.length < ihl+8 {
		return fmt.Errorf("update_checksums(udp): %w", ErrPacketTooShort)
	}
	udpLen := p.length - ihl
	seg := p.buf[p.start+ihl : p.start+p.length]
	seg[6], seg[7] = 0, 0
	sum := p.pseudoHeaderSum(ihl, udpLen, 17)
	sum += transportChecksum(seg)
	for sum>>16 != 0 {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	c := ^uint16(sum)
	if c == 0 {
		c = 0xFFFF // RFC 768: a computed zero is transmitted as all-ones.
	}
	seg[6], seg[7] = byte(c>>8), byte(c)
	return nil
}

func (p *Packet) updateTCPChecksum(ihl int) error {
	if p.length < ihl+20 {
		return fmt.Errorf("update_checksums(tcp): %w", ErrPacketTooShort)
	}
	tcpLen := p.length - ihl
	seg := p.buf[p.start+ihl : p.start+p.length]
	seg[16], seg[17] = 0, 0
	sum := p.pseudoHeaderSum(ihl, tcpLen, 6)
	sum += transportChecksum(seg)
	for sum>>16 != 0 {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	c := ^uint16(sum)
	seg[16], seg[17] = byte(c>>8), byte(c)
	return nil
}

func transportChecksum(seg []byte) uint32 {
	var sum uint32
	for i := 0; i+1 < len(seg); i += 2 {
		sum += uint32(seg[i])<<8 | uint32(seg[i+1])
	}
	if len(seg)%2 == 1 {
		sum += uint32(seg[len(seg)-1]) << 8
	}
	return sum
}

// -------------------------------------------------------------------------
// Type & latency classification — spec.md §4.1
// -------------------------------------------------------------------------

// Type returns the cached packet type, classifying lazily from the first
// byte / IP header if not already cached.
func (p *Packet) Type() PacketType {
	if p.packetType != PacketTypeUnknown || p.length == 0 {
		return p.packetType
	}
	t := classifyFirstByte(p.buf[p.start])
	if t == PacketTypeIPv4 && p.isZombieWire() {
		t = PacketTypeZombie
	}
	p.packetType = t
	return p.packetType
}

// SetType overrides the cached type (used by decoders that already know
// the classification, e.g. the CAT header parser).
func (p *Packet) SetType(t PacketType) { p.packetType = t }

// isZombieWire reports whether the current IPv4 bytes carry the zombie
// marker (spec.md §6: protocol=63, DSCP=1).
func (p *Packet) isZombieWire() bool {
	if p.length < ipv4MinHeader {
		return false
	}
	b := p.buf[p.start]
	if b>>4 != ipv4VersionNibble {
		return false
	}
	dscp := p.buf[p.start+1] >> 2
	proto := p.buf[p.start+9]
	return proto == protoAnyLocalNetwork && dscp == dscpTolerant
}

// LatencyClassOf returns the cached latency class, classifying lazily on
// first call (spec.md §4.1 "latency_class()"):
//
//	Zombies -> HIGH_LATENCY_RCVD
//	DSCP-EF IPv4 -> LOW_LATENCY
//	DSCP tolerant -> NORMAL
//	QLAM/LSA -> CONTROL
//	default -> NORMAL
//
// The result is cached and stable until ResetLatencyClass is called.
func (p *Packet) LatencyClassOf() LatencyClass {
	if p.latencySet {
		return p.latencyClass
	}
	p.latencyClass = p.classifyLatency()
	p.latencySet = true
	return p.latencyClass
}

func (p *Packet) classifyLatency() LatencyClass {
	switch p.Type() {
	case PacketTypeZombie:
		return LatencyHighReceived
	case PacketTypeQLAM, PacketTypeLSA:
		return LatencyControl
	case PacketTypeIPv4:
		if p.length < ipv4MinHeader {
			return LatencyNormal
		}
		dscp := p.buf[p.start+1] >> 2
		switch {
		case dscp == dscpEF:
			return LatencyLow
		case dscp == dscpTolerant:
			return LatencyNormal
		default:
			return LatencyNormal
		}
	default:
		return LatencyNormal
	}
}

// SetLatencyClass forcibly sets and caches the latency class (used when
// the queue manager reclassifies a packet, e.g. zombification).
func (p *Packet) SetLatencyClass(l LatencyClass) {
	p.latencyClass = l
	p.latencySet = true
}

// ResetLatencyClass clears the cached latency class so it will be
// recomputed on next access.
func (p *Packet) ResetLatencyClass() { p.latencySet = false }

// -------------------------------------------------------------------------
// Virtual length, TTG, expiration — spec.md §3, §4.1
// -------------------------------------------------------------------------

// VirtualLength returns the number of bytes this packet represents for
// queue accounting. Equal to the physical payload length for ordinary
// packets; may exceed it for packetless zombies.
func (p *Packet) VirtualLength() int {
	if p.virtualLength > 0 {
		return p.virtualLength
	}
	return p.length
}

// SetVirtualLength overrides the accounting length (used for zombies).
func (p *Packet) SetVirtualLength(n int) { p.virtualLength = n }

// SetRecvTime stamps the packet's receive time.
func (p *Packet) SetRecvTime(t time.Time) { p.recvTime = t }

// RecvTime returns the packet's receive time.
func (p *Packet) RecvTime() time.Time { return p.recvTime }

// SetTTG sets the time-to-go budget and marks it valid.
func (p *Packet) SetTTG(ttg time.Duration) {
	p.ttg = ttg
	p.ttgValid = true
	p.trackTTG = true
}

// TTG returns the configured time-to-go and whether it is valid.
func (p *Packet) TTG() (time.Duration, bool) { return p.ttg, p.ttgValid }

// InvalidateTTG clears the TTG-valid flag without losing the stored value.
func (p *Packet) InvalidateTTG() { p.ttgValid = false }

// HasExpired reports whether, for packets with a valid TTG, now minus
// recv_time exceeds ttg (spec.md §4.1). Packets without a valid TTG never
// expire via this check.
func (p *Packet) HasExpired(now time.Time) bool {
	if !p.ttgValid {
		return false
	}
	return now.Sub(p.recvTime) > p.ttg
}

// OrderTime returns the packet ordering key used for TTG-based scheduling
// (spec.md §4.1): max(recv_time + ttg - achievableTTGBudget, recv_time).
// Only packets with a valid TTG participate in TTG ordering; others return
// the zero time, sorting first (treated as having no deadline pressure).
func (p *Packet) OrderTime(achievableTTGBudget time.Duration) time.Time {
	if !p.ttgValid {
		return time.Time{}
	}
	candidate := p.recvTime.Add(p.ttg).Add(-achievableTTGBudget)
	if candidate.Before(p.recvTime) {
		return p.recvTime
	}
	return candidate
}

// MakeZombie rewrites the packet as a zombie of the given latency class:
// sets the IP protocol field to 63 ("any local network"), DSCP to 1
// (tolerant), preserves size, and sets the cached latency class
// (spec.md §4.1).
func (p *Packet) MakeZombie(class LatencyClass) error {
	hdr, err := p.GetIPHdr()
	if err != nil {
		// Packetless zombie: no IP bytes to rewrite, only accounting state.
		p.packetType = PacketTypeZombie
		p.SetLatencyClass(class)
		return nil
	}
	hdr[1] = (hdr[1] & 0x03) | (dscpTolerant << 2)
	hdr[9] = protoAnyLocalNetwork
	if cerr := p.UpdateChecksums(); cerr != nil {
		return fmt.Errorf("make_zombie: %w", cerr)
	}
	p.packetType = PacketTypeZombie
	p.SetLatencyClass(class)
	return nil
}

// -------------------------------------------------------------------------
// Source bin / packet id / toggles — spec.md §3
// -------------------------------------------------------------------------

// SetSource sets the source BinId and 20-bit packet id that together make
// this packet globally unique per BPF.
func (p *Packet) SetSource(bin BinId, id uint32) {
	p.srcBinID = bin
	p.packetID = id & 0xFFFFF
}

// Source returns the source BinId and 20-bit packet id.
func (p *Packet) Source() (BinId, uint32) { return p.srcBinID, p.packetID }

// SetToggles configures the per-packet boolean toggles (spec.md §3).
func (p *Packet) SetToggles(sendID, sendHistory, sendDstVec, trackTTG bool) {
	p.sendPacketID = sendID
	p.sendHistory = sendHistory
	p.sendDstVec = sendDstVec
	p.trackTTG = trackTTG
}

// Toggles returns the per-packet boolean toggles.
func (p *Packet) Toggles() (sendID, sendHistory, sendDstVec, trackTTG bool) {
	return p.sendPacketID, p.sendHistory, p.sendDstVec, p.trackTTG
}

// -------------------------------------------------------------------------
// History vector — spec.md §3, §4.6
// -------------------------------------------------------------------------

// History returns a copy of the 11-byte history vector.
func (p *Packet) History() [MaxHistoryLen]byte { return p.history }

// HasVisited reports whether bin already appears in the history vector
// (spec.md §4.6 "history loop detection").
func (p *Packet) HasVisited(bin BinId) bool {
	b := byte(bin)
	for _, h := range p.history {
		if h == HistoryUnused {
			break
		}
		if h == b {
			return true
		}
	}
	return false
}

// AdvanceHistory shifts bin into position 0 of the history vector,
// dropping the oldest entry (spec.md §4.6: "On forwarding, the node's own
// bin id is shifted into position 0").
func (p *Packet) AdvanceHistory(bin BinId) {
	copy(p.history[1:], p.history[:len(p.history)-1])
	p.history[0] = byte(bin)
}

// SetHistory overwrites the full history vector verbatim, used when a CAT
// history header is parsed off the wire (spec.md §6).
func (p *Packet) SetHistory(h [MaxHistoryLen]byte) { p.history = h }

// -------------------------------------------------------------------------
// Destination vector — spec.md §3, §4.6
// -------------------------------------------------------------------------

// DstVector returns the packet's destination bit vector (multicast only).
func (p *Packet) DstVector() DstVec { return p.dstVec }

// SetDstVector sets the packet's destination bit vector.
func (p *Packet) SetDstVector(d DstVec) { p.dstVec = d }

// -------------------------------------------------------------------------
// Origin timestamp — spec.md §3
// -------------------------------------------------------------------------

// SetOriginTimestamp sets the 16-bit ms origin timestamp.
func (p *Packet) SetOriginTimestamp(ms uint16) { p.originTS = ms }

// OriginTimestamp returns the 16-bit ms origin timestamp.
func (p *Packet) OriginTimestamp() uint16 { return p.originTS }
