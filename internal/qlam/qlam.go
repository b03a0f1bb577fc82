package qlam

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/raytheonbbn/iron-bpf/internal/ironpkt"
)

// Type is the QLAM packet-type first byte (spec.md §6: "Type=0x10").
const Type byte = 0x10

const (
	headerSize = 1 + 1 + 4 + 2 // type, src bin, sequence, num groups
	groupSize  = 4 + 1         // group id, num pairs
	pairSize   = 1 + 4 + 4     // bin id, depth, ls depth
)

var (
	ErrBufTooSmall    = errors.New("qlam: buffer too small")
	ErrWrongType      = errors.New("qlam: wrong packet type byte")
	ErrWrongSourceBin = errors.New("qlam: source bin id does not match expected neighbor")
	ErrStaleSequence  = errors.New("qlam: sequence number not newer than last seen")
)

// Pair is one (BinId, total_depth, ls_depth) record within a Group.
type Pair struct {
	Bin   ironpkt.BinId
	Total uint32
	LS    uint32
}

// Group is one group header's worth of pairs: either the synthetic
// all-unicast group (Id == ironpkt.GroupIdAllUnicast) or a real multicast
// group (spec.md §4.3, §6).
type Group struct {
	Id    ironpkt.GroupId
	Pairs []Pair
}

// Message is a fully decoded QLAM (spec.md §3 "QLAM").
type Message struct {
	SrcBin   ironpkt.BinId
	Sequence uint32
	Groups   []Group
}

// Encode renders srcBin's current depths as a QLAM wire message, advancing
// seq (spec.md §4.3 "QLAM encode"). Unicast entries are collected under
// synthetic group id 0; each configured multicast group gets its own group
// header. binMap supplies the BinId/GroupId <-> BinIndex translation.
func Encode(srcBin ironpkt.BinId, seq uint32, depths *QueueDepths, binMap *ironpkt.BinMap) ([]byte, uint32, error) {
	var unicastPairs []Pair
	groupsByID := make(map[ironpkt.GroupId][]Pair)

	var rangeErr error
	depths.ForEach(func(k Key, d Depth) {
		if rangeErr != nil {
			return
		}
		switch k.Kind {
		case KindUnicast:
			id, ok := binMap.UnicastID(k.Index)
			if !ok {
				rangeErr = fmt.Errorf("qlam encode: %w: unicast index %d", ironpkt.ErrUnknownBinId, k.Index)
				return
			}
			unicastPairs = append(unicastPairs, Pair{Bin: id, Total: d.Total, LS: d.LS})
		case KindGroup:
			gid, ok := binMap.GroupID(k.Index)
			if !ok {
				rangeErr = fmt.Errorf("qlam encode: %w: group index %d", ironpkt.ErrUnknownBinId, k.Index)
				return
			}
			// Group-level depths are advertised per group id without a
			// per-unicast-member pair breakdown; represent them as a
			// single synthetic pair under bin id 0.
			groupsByID[gid] = append(groupsByID[gid], Pair{Bin: 0, Total: d.Total, LS: d.LS})
		}
	})
	if rangeErr != nil {
		return nil, seq, rangeErr
	}

	groups := make([]Group, 0, 1+len(groupsByID))
	if len(unicastPairs) > 0 {
		groups = append(groups, Group{Id: ironpkt.GroupIdAllUnicast, Pairs: unicastPairs})
	}
	for gid, pairs := range groupsByID {
		groups = append(groups, Group{Id: gid, Pairs: pairs})
	}

	total := headerSize
	for _, g := range groups {
		total += groupSize + len(g.Pairs)*pairSize
	}

	buf := make([]byte, total)
	buf[0] = Type
	buf[1] = byte(srcBin)
	binary.BigEndian.PutUint32(buf[2:6], seq)
	binary.BigEndian.PutUint16(buf[6:8], uint16(len(groups)))

	off := headerSize
	for _, g := range groups {
		binary.BigEndian.PutUint32(buf[off:off+4], uint32(g.Id))
		buf[off+4] = uint8(len(g.Pairs))
		off += groupSize
		for _, p := range g.Pairs {
			buf[off] = byte(p.Bin)
			binary.BigEndian.PutUint32(buf[off+1:off+5], p.Total)
			binary.BigEndian.PutUint32(buf[off+5:off+9], p.LS)
			off += pairSize
		}
	}

	nextSeq := seq + 1 // overflow is modulo 2^32, which uint32 addition already gives us
	return buf, nextSeq, nil
}

// Decode parses a raw QLAM wire message. It does not apply neighbor/
// staleness validation; callers combine it with SeqIsNewer and an
// expected-source check per spec.md §4.3 "QLAM decode on receive".
// Decode is order-agnostic over groups and pairs (spec.md §9: "QLAM group
// ordering on the wire is not fixed by the source").
func Decode(buf []byte) (*Message, error) {
	if len(buf) < headerSize {
		return nil, fmt.Errorf("decode header: %w", ErrBufTooSmall)
	}
	if buf[0] != Type {
		return nil, fmt.Errorf("decode: type byte 0x%02x: %w", buf[0], ErrWrongType)
	}

	msg := &Message{
		SrcBin:   ironpkt.BinId(buf[1]),
		Sequence: binary.BigEndian.Uint32(buf[2:6]),
	}
	numGroups := binary.BigEndian.Uint16(buf[6:8])

	off := headerSize
	for i := 0; i < int(numGroups); i++ {
		if off+groupSize > len(buf) {
			return nil, fmt.Errorf("decode group %d header: %w", i, ErrBufTooSmall)
		}
		gid := ironpkt.GroupId(binary.BigEndian.Uint32(buf[off : off+4]))
		numPairs := int(buf[off+4])
		off += groupSize

		pairs := make([]Pair, 0, numPairs)
		for j := 0; j < numPairs; j++ {
			if off+pairSize > len(buf) {
				return nil, fmt.Errorf("decode group %d pair %d: %w", i, j, ErrBufTooSmall)
			}
			pairs = append(pairs, Pair{
				Bin:   ironpkt.BinId(buf[off]),
				Total: binary.BigEndian.Uint32(buf[off+1 : off+5]),
				LS:    binary.BigEndian.Uint32(buf[off+5 : off+9]),
			})
			off += pairSize
		}
		msg.Groups = append(msg.Groups, Group{Id: gid, Pairs: pairs})
	}

	return msg, nil
}

// SeqIsNewer reports whether seq is strictly newer than last using
// signed-difference comparison modulo 2^32 (spec.md §4.3, §5: "the
// receiver applies modular-difference ordering so wrap does not cause
// regression").
func SeqIsNewer(seq, last uint32) bool {
	return int32(seq-last) > 0
}

// ToQueueDepths converts a decoded Message into a QueueDepths vector,
// resolving each Bin/Group id against binMap. Pairs under the synthetic
// all-unicast group become unicast keys; all other groups are recorded as
// a single group-level key (per-member breakdown under a real multicast
// group is not carried by the wire format beyond the group's own
// aggregate pair, matching Encode's representation above).
func (m *Message) ToQueueDepths(binMap *ironpkt.BinMap) (*QueueDepths, error) {
	out := NewQueueDepths()
	for _, g := range m.Groups {
		if g.Id == ironpkt.GroupIdAllUnicast {
			for _, p := range g.Pairs {
				idx, err := binMap.UnicastIndex(p.Bin)
				if err != nil {
					return nil, fmt.Errorf("qlam decode: %w", err)
				}
				out.Set(UnicastKey(idx), Depth{Total: p.Total, LS: p.LS})
			}
			continue
		}
		idx, err := binMap.GroupIndex(g.Id)
		if err != nil {
			return nil, fmt.Errorf("qlam decode: %w", err)
		}
		var total, ls uint32
		for _, p := range g.Pairs {
			total += p.Total
			ls += p.LS
		}
		out.Set(GroupKey(idx), Depth{Total: total, LS: ls})
	}
	return out, nil
}
