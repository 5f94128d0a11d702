package avctp

import (
	"errors"
	"fmt"
	"math"
)

// Segment is one piece of a fragmented message.
type Segment struct {
	Type PacketType
	Data []byte
}

// Fragment splits header+payload into segments. The first segment holds at most
// firstCap bytes and starts with header; later segments hold at most nextCap bytes.
// A message that does not fit in one segment is emitted as Start, zero or more full
// Continue segments, then an End segment with whatever remains. The End segment is
// always emitted and may be empty.
func Fragment(header, payload []byte, firstCap, nextCap int) ([]Segment, error) {
	if firstCap <= 0 || nextCap <= 0 {
		return nil, fmt.Errorf("avctp: invalid fragment capacity %d/%d", firstCap, nextCap)
	}
	total := len(header) + len(payload)
	if len(header) > firstCap {
		return nil, errors.New("avctp: header larger than first fragment")
	}

	msg := make([]byte, 0, total)
	msg = append(msg, header...)
	msg = append(msg, payload...)

	if total <= firstCap {
		return []Segment{{Type: PacketTypeSingle, Data: msg}}, nil
	}

	rem := total - firstCap
	continues := rem / nextCap
	// the packet count field in a Start header is one byte wide.
	if continues+2 > math.MaxUint8 {
		return nil, fmt.Errorf("avctp: message of %d bytes needs too many fragments", total)
	}

	segments := make([]Segment, 0, continues+2)
	segments = append(segments, Segment{Type: PacketTypeStart, Data: msg[:firstCap]})
	off := firstCap
	for i := 0; i < continues; i++ {
		segments = append(segments, Segment{Type: PacketTypeContinue, Data: msg[off : off+nextCap]})
		off += nextCap
	}
	segments = append(segments, Segment{Type: PacketTypeEnd, Data: msg[off:]})
	return segments, nil
}

// Packets builds the transport packets for an AV/C frame given the channel MTU.
func Packets(label uint8, response bool, pid uint16, frame []byte, mtu int) ([]*Packet, error) {
	var segments []Segment
	if len(frame)+PacketTypeSingle.HeaderSize() <= mtu {
		segments = []Segment{{Type: PacketTypeSingle, Data: frame}}
	} else {
		var err error
		segments, err = Fragment(nil, frame, mtu-PacketTypeStart.HeaderSize(), mtu-PacketTypeContinue.HeaderSize())
		if err != nil {
			return nil, err
		}
	}
	packets := make([]*Packet, len(segments))
	for i, s := range segments {
		p := &Packet{
			Header: Header{
				Label:    label,
				Type:     s.Type,
				Response: response,
			},
			Payload: s.Data,
		}
		if p.HasPID() {
			p.PID = pid
		}
		if s.Type == PacketTypeStart {
			p.Packets = uint8(len(segments))
		}
		packets[i] = p
	}
	return packets, nil
}
