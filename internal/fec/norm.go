package fec

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/raytheonbbn/iron-bpf/internal/ironpkt"
)

// normBaseWinUpdateInterval is the periodic fallback cadence's base term
// (spec.md §4.8: "periodic fallback at 100ms x 2^k backoff").
const normBaseWinUpdateInterval = 100 * time.Millisecond

// normMaxWinUpdateShift caps the periodic fallback's exponential backoff.
const normMaxWinUpdateShift = 5

// NORM common message header field, per RFC 5740 section 5.1: a single
// version/type byte, a header length (in 32-bit words), a sequence
// number, and a source identifier. The window size and window update
// payloads used here are a private extension of that header, understood
// only between the UDP proxy and its local NORM application.
const (
	normVersion         = 1
	normMsgTypeWinSize  = 1
	normMsgTypeWinUpdate = 2
	normCommonHdrLen    = 8
)

// NormWriter delivers a flow controller's wire packets to the local NORM
// application.
type NormWriter interface {
	WriteTo(b []byte) error
}

func marshalNormCommonHdr(msgType uint8, hdrLenWords uint8, seq uint16, sourceID uint32) []byte {
	buf := make([]byte, normCommonHdrLen)
	buf[0] = normVersion<<4 | msgType&0x0f
	buf[1] = hdrLenWords
	binary.BigEndian.PutUint16(buf[2:], seq)
	binary.BigEndian.PutUint32(buf[4:], sourceID)
	return buf
}

// NormFlowController advertises a NORM application's receive window back
// to it based on the FEC encoder's queue depth and encoding rate, so the
// application can throttle its own sending before the BPF admits
// packets (spec.md §4.8 "NORM flow controller").
type NormFlowController struct {
	tuple         ironpkt.FiveTuple
	maxQueueDepth uint32
	writer        NormWriter
	inboundDevIP  uint32

	mu             sync.Mutex
	winSize        uint16
	encodingRate   float64
	firstPkt       bool
	nextWinUpdate  time.Time
	txSeqNum       uint16
	rcvSeqNum      uint16
	sentSeqNum     uint16
	winUpdateShift uint8
}

// NewNormFlowController constructs a controller for one NORM flow.
// inboundDevIP, in network byte order, is used as the NORM common
// message header's source id field.
func NewNormFlowController(tuple ironpkt.FiveTuple, maxQueueDepth uint32, writer NormWriter, inboundDevIP uint32) *NormFlowController {
	return &NormFlowController{
		tuple:         tuple,
		maxQueueDepth: maxQueueDepth,
		writer:        writer,
		inboundDevIP:  inboundDevIP,
		firstPkt:      true,
		encodingRate:  1,
	}
}

// UpdateEncodingRate updates the flow's FEC encoding rate (repair
// expansion factor) and recomputes the advertised window accordingly,
// since the encoding queue holds both original and repair packets.
func (c *NormFlowController) UpdateEncodingRate(rate float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rate <= 0 {
		rate = 1
	}
	c.encodingRate = rate
	c.recomputeWinSizeLocked()
}

func (c *NormFlowController) recomputeWinSizeLocked() {
	w := float64(c.maxQueueDepth) / c.encodingRate
	if w < 0 {
		w = 0
	}
	if w > 0xffff {
		w = 0xffff
	}
	c.winSize = uint16(w)
}

// HandleRcvdPkt records the sequence number of a NORM packet received
// from the application. On the first packet for this flow, it sends the
// initial window size packet.
func (c *NormFlowController) HandleRcvdPkt(seqNum uint16, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rcvSeqNum = seqNum
	if !c.firstPkt {
		return nil
	}
	c.firstPkt = false
	c.nextWinUpdate = now.Add(normBaseWinUpdateInterval)
	return c.sendWindowSizeLocked()
}

// HandleSentPkt records the sequence number of the NORM packet most
// recently admitted to the BPF and immediately sends a window update,
// resetting the periodic fallback's backoff.
func (c *NormFlowController) HandleSentPkt(seqNum uint16, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sentSeqNum = seqNum
	c.winUpdateShift = 0
	c.nextWinUpdate = now.Add(normBaseWinUpdateInterval)
	return c.sendWindowUpdateLocked()
}

// SvcEvents fires the periodic fallback window update when no packet has
// been admitted since the last update, doubling the wait each time up to
// normMaxWinUpdateShift.
func (c *NormFlowController) SvcEvents(now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.firstPkt || now.Before(c.nextWinUpdate) {
		return nil
	}
	err := c.sendWindowUpdateLocked()
	if c.winUpdateShift < normMaxWinUpdateShift {
		c.winUpdateShift++
	}
	c.nextWinUpdate = now.Add(normBaseWinUpdateInterval << c.winUpdateShift)
	return err
}

func (c *NormFlowController) sendWindowSizeLocked() error {
	hdr := marshalNormCommonHdr(normMsgTypeWinSize, normCommonHdrLen/4, c.txSeqNum, c.inboundDevIP)
	c.txSeqNum++
	payload := make([]byte, 2)
	binary.BigEndian.PutUint16(payload, c.winSize)
	if err := c.writer.WriteTo(append(hdr, payload...)); err != nil {
		return fmt.Errorf("fec: send norm window size: %w", err)
	}
	return nil
}

func (c *NormFlowController) sendWindowUpdateLocked() error {
	hdr := marshalNormCommonHdr(normMsgTypeWinUpdate, normCommonHdrLen/4, c.txSeqNum, c.inboundDevIP)
	c.txSeqNum++
	payload := make([]byte, 4)
	binary.BigEndian.PutUint16(payload[0:], c.rcvSeqNum)
	binary.BigEndian.PutUint16(payload[2:], c.sentSeqNum)
	if err := c.writer.WriteTo(append(hdr, payload...)); err != nil {
		return fmt.Errorf("fec: send norm window update: %w", err)
	}
	return nil
}
