package fec

import (
	"encoding/binary"
	"fmt"
)

// trailerLen is the fixed size of the (group_id, slot_id, fec_seq_num)
// trailer stamped onto every original packet before FEC encoding (spec.md
// §4.8: "Original packets are stamped with a (group_id, slot_id,
// fec_seq_num) trailer").
const trailerLen = 4 + 2 + 4

// appendTrailer returns payload with a trailer appended, without mutating
// payload's backing array.
func appendTrailer(payload []byte, groupID uint32, slotID uint16, seq uint32) []byte {
	out := make([]byte, len(payload)+trailerLen)
	copy(out, payload)
	binary.BigEndian.PutUint32(out[len(payload):], groupID)
	binary.BigEndian.PutUint16(out[len(payload)+4:], slotID)
	binary.BigEndian.PutUint32(out[len(payload)+6:], seq)
	return out
}

// stripTrailer splits buf into its original payload and trailer fields.
func stripTrailer(buf []byte) (payload []byte, groupID uint32, slotID uint16, seq uint32, err error) {
	if len(buf) < trailerLen {
		return nil, 0, 0, 0, fmt.Errorf("fec: buffer shorter than trailer (%d < %d)", len(buf), trailerLen)
	}
	n := len(buf) - trailerLen
	groupID = binary.BigEndian.Uint32(buf[n:])
	slotID = binary.BigEndian.Uint16(buf[n+4:])
	seq = binary.BigEndian.Uint32(buf[n+6:])
	return buf[:n], groupID, slotID, seq, nil
}
