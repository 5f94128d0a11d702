package avctp

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrMalformedPacket is returned for packets too short for their declared type
	// or carrying an impossible field.
	ErrMalformedPacket = errors.New("avctp: malformed packet")
	// ErrBadProfile is returned when a Single or Start packet names a profile other
	// than the one the decoder was asked for.
	ErrBadProfile = errors.New("avctp: bad profile identifier")
)

// PacketType is defined in Section 6.1.1 of the AVCTP specification.
type PacketType uint8

const (
	PacketTypeSingle   PacketType = 0x00
	PacketTypeStart    PacketType = 0x01
	PacketTypeContinue PacketType = 0x02
	PacketTypeEnd      PacketType = 0x03
)

func (t PacketType) String() string {
	switch t {
	case PacketTypeSingle:
		return "single"
	case PacketTypeStart:
		return "start"
	case PacketTypeContinue:
		return "continue"
	case PacketTypeEnd:
		return "end"
	default:
		return fmt.Sprintf("PacketType(%d)", uint8(t))
	}
}

// HeaderSize returns the number of transport header bytes carried by a packet of this type.
func (t PacketType) HeaderSize() int {
	switch t {
	case PacketTypeSingle:
		return 3
	case PacketTypeStart:
		return 4
	default:
		return 1
	}
}

// PIDAVRemoteControl is the A/V remote control service class UUID used as the AVCTP profile id.
const PIDAVRemoteControl uint16 = 0x110E

// MaxLabel is the largest transaction label that fits in the header.
const MaxLabel = 0x0F

// Header is the AVCTP transport header.
type Header struct {
	Label          uint8
	Type           PacketType
	Response       bool
	InvalidProfile bool
	// Packets is the number of packets in the fragmented message, present on Start only.
	Packets uint8
	// PID is present on Single and Start only.
	PID uint16
}

func (h *Header) Marshal() ([]byte, error) {
	if h.Label > MaxLabel {
		return nil, fmt.Errorf("avctp: label %d out of range", h.Label)
	}
	if h.Type > PacketTypeEnd {
		return nil, fmt.Errorf("avctp: invalid packet type %d", h.Type)
	}
	buf := make([]byte, h.Type.HeaderSize())
	buf[0] = h.Label<<4 | uint8(h.Type)<<2
	if h.Response {
		buf[0] |= 0x02
	}
	if h.InvalidProfile {
		buf[0] |= 0x01
	}
	switch h.Type {
	case PacketTypeSingle:
		binary.BigEndian.PutUint16(buf[1:], h.PID)
	case PacketTypeStart:
		buf[1] = h.Packets
		binary.BigEndian.PutUint16(buf[2:], h.PID)
	}
	return buf, nil
}

// Unmarshal decodes the header at the start of buf and returns the payload offset.
func (h *Header) Unmarshal(buf []byte) (int, error) {
	if len(buf) < 1 {
		return 0, fmt.Errorf("%w: empty packet", ErrMalformedPacket)
	}
	h.Label = buf[0] >> 4
	h.Type = PacketType((buf[0] >> 2) & 0x03)
	h.Response = buf[0]&0x02 != 0
	h.InvalidProfile = buf[0]&0x01 != 0
	h.Packets = 0
	h.PID = 0

	n := h.Type.HeaderSize()
	if len(buf) < n {
		return 0, fmt.Errorf("%w: %s packet of %d bytes", ErrMalformedPacket, h.Type, len(buf))
	}
	switch h.Type {
	case PacketTypeSingle:
		h.PID = binary.BigEndian.Uint16(buf[1:])
	case PacketTypeStart:
		h.Packets = buf[1]
		if h.Packets < 2 {
			return 0, fmt.Errorf("%w: start packet announcing %d packets", ErrMalformedPacket, h.Packets)
		}
		h.PID = binary.BigEndian.Uint16(buf[2:])
	}
	return n, nil
}

// HasPID reports whether the header carries a profile identifier.
func (h *Header) HasPID() bool {
	return h.Type == PacketTypeSingle || h.Type == PacketTypeStart
}

// CheckProfile returns ErrBadProfile when the header carries a PID other than pid.
func (h *Header) CheckProfile(pid uint16) error {
	if h.HasPID() && h.PID != pid {
		return fmt.Errorf("%w: %#04x", ErrBadProfile, h.PID)
	}
	return nil
}

// Packet is a decoded transport header plus the bytes that follow it.
type Packet struct {
	Header
	Payload []byte
}

// UnmarshalPacket decodes buf into a packet. The payload aliases buf.
func UnmarshalPacket(buf []byte) (*Packet, error) {
	p := &Packet{}
	n, err := p.Header.Unmarshal(buf)
	if err != nil {
		return nil, err
	}
	p.Payload = buf[n:]
	return p, nil
}

func (p *Packet) Marshal() ([]byte, error) {
	hbuf, err := p.Header.Marshal()
	if err != nil {
		return nil, err
	}
	return append(hbuf, p.Payload...), nil
}

// Len is the on-wire size of the packet.
func (p *Packet) Len() int {
	return p.Type.HeaderSize() + len(p.Payload)
}
