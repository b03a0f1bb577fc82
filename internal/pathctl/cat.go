package pathctl

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/raytheonbbn/iron-bpf/internal/ironpkt"
)

// CAT (Cross-path Adaptive Transport) per-packet metadata header type bytes
// (spec.md §6).
const (
	catTypeDstVec   = 0x34
	catTypePacketID = 0x35
	catTypeHistory  = 0x36
	catTypeLatency  = 0x37
)

const (
	catDstVecLen   = 4
	catPacketIDLen = 4
	catHistoryLen  = 1 + ironpkt.MaxHistoryLen
	catLatencyLen  = 8
)

// ErrUnknownCATType is returned by StripOne when the next metadata byte is
// not one of the four recognized CAT type bytes.
var ErrUnknownCATType = errors.New("pathctl: unknown CAT header type byte")

// PrependCAT writes every enabled CAT header onto pkt's metadata region, in
// the wire order the controller must emit them: packet-id (0x35), latency
// (0x37), history (0x36), destination-vector (0x34) (spec.md §4.7). Because
// PrependMetadata always inserts immediately before the current start
// offset, headers are written in reverse wire order so the last prepend
// call (packet-id) ends up first on the wire.
func PrependCAT(pkt *ironpkt.Packet) error {
	sendID, sendHistory, sendDstVec, trackTTG := pkt.Toggles()

	if sendDstVec {
		if err := prependDstVec(pkt); err != nil {
			return err
		}
	}
	if sendHistory {
		if err := prependHistory(pkt); err != nil {
			return err
		}
	}
	if trackTTG {
		if err := prependLatency(pkt); err != nil {
			return err
		}
	}
	if sendID {
		if err := prependPacketID(pkt); err != nil {
			return err
		}
	}
	return nil
}

func prependDstVec(pkt *ironpkt.Packet) error {
	buf, err := pkt.PrependMetadata(catDstVecLen)
	if err != nil {
		return fmt.Errorf("prepend dst-vec: %w", err)
	}
	buf[0] = catTypeDstVec
	dv := pkt.DstVector().MarshalBytes()
	copy(buf[1:], dv[:])
	return nil
}

func prependPacketID(pkt *ironpkt.Packet) error {
	buf, err := pkt.PrependMetadata(catPacketIDLen)
	if err != nil {
		return fmt.Errorf("prepend packet-id: %w", err)
	}
	buf[0] = catTypePacketID
	bin, id := pkt.Source()
	v := (uint32(bin&0x0F) << 20) | (id & 0xFFFFF)
	buf[1] = byte(v >> 16)
	buf[2] = byte(v >> 8)
	buf[3] = byte(v)
	return nil
}

func prependHistory(pkt *ironpkt.Packet) error {
	buf, err := pkt.PrependMetadata(catHistoryLen)
	if err != nil {
		return fmt.Errorf("prepend history: %w", err)
	}
	buf[0] = catTypeHistory
	hist := pkt.History()
	copy(buf[1:], hist[:])
	return nil
}

func prependLatency(pkt *ironpkt.Packet) error {
	buf, err := pkt.PrependMetadata(catLatencyLen)
	if err != nil {
		return fmt.Errorf("prepend latency: %w", err)
	}
	buf[0] = catTypeLatency
	ttg, valid := pkt.TTG()
	var flags byte
	if valid {
		flags = 1
	}
	buf[1] = flags
	binary.BigEndian.PutUint16(buf[2:4], pkt.OriginTimestamp())
	binary.BigEndian.PutUint32(buf[4:8], uint32(ttg.Microseconds()))
	return nil
}

// StripOne parses exactly one CAT header from the front of buf (which must
// begin with a CAT type byte) and applies it to pkt's metadata fields,
// returning the number of bytes consumed (spec.md §4.7: "On receive, the
// peer strips them in reverse, populating the packet object's metadata
// fields before queueing").
func StripOne(pkt *ironpkt.Packet, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, fmt.Errorf("strip CAT header: %w", ErrUnknownCATType)
	}
	switch buf[0] {
	case catTypeDstVec:
		if len(buf) < catDstVecLen {
			return 0, fmt.Errorf("strip dst-vec: short buffer")
		}
		var b [3]byte
		copy(b[:], buf[1:4])
		pkt.SetDstVector(ironpkt.UnmarshalDstVecBytes(b))
		return catDstVecLen, nil

	case catTypePacketID:
		if len(buf) < catPacketIDLen {
			return 0, fmt.Errorf("strip packet-id: short buffer")
		}
		v := uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])
		bin := ironpkt.BinId((v >> 20) & 0x0F)
		id := v & 0xFFFFF
		pkt.SetSource(bin, id)
		return catPacketIDLen, nil

	case catTypeHistory:
		if len(buf) < catHistoryLen {
			return 0, fmt.Errorf("strip history: short buffer")
		}
		var hist [ironpkt.MaxHistoryLen]byte
		copy(hist[:], buf[1:catHistoryLen])
		pkt.SetHistory(hist)
		return catHistoryLen, nil

	case catTypeLatency:
		if len(buf) < catLatencyLen {
			return 0, fmt.Errorf("strip latency: short buffer")
		}
		flags := buf[1]
		pkt.SetOriginTimestamp(binary.BigEndian.Uint16(buf[2:4]))
		ttgUsec := binary.BigEndian.Uint32(buf[4:8])
		if flags&0x01 != 0 {
			pkt.SetTTG(microsecondsToDuration(ttgUsec))
		} else {
			pkt.InvalidateTTG()
		}
		return catLatencyLen, nil

	default:
		return 0, fmt.Errorf("byte 0x%02x: %w", buf[0], ErrUnknownCATType)
	}
}

func microsecondsToDuration(usec uint32) time.Duration {
	return time.Duration(usec) * time.Microsecond
}

// StripAllCAT walks pkt's entire metadata-header region from the front,
// applying each self-describing CAT header in turn via StripOne, until the
// region is empty (spec.md §4.7: "the peer strips them in reverse,
// populating the packet object's metadata fields before queueing").
func StripAllCAT(pkt *ironpkt.Packet) error {
	for pkt.MetadataLen() > 0 {
		n, err := StripOne(pkt, pkt.PeekMetadata())
		if err != nil {
			return err
		}
		if _, err := pkt.StripMetadataHeader(n); err != nil {
			return err
		}
	}
	return nil
}
