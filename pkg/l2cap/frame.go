// Package l2cap carries AVCTP over Bluetooth BR/EDR L2CAP channels, either
// through the kernel's SEQPACKET sockets or by framing B-frames on a raw ACL-U
// link.
package l2cap

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// PSMAVCTP is the protocol/service multiplexer of the AVCTP control channel.
const PSMAVCTP uint16 = 0x0017

// ChannelID is defined in Vol 3, Part A, Section 2.1 of the Bluetooth Core Specification.
type ChannelID uint16

const (
	ChannelIDSignallingACLU ChannelID = 0x0001
	ChannelIDConnectionless ChannelID = 0x0002
	// ChannelIDDynamic is the first id available to connection-oriented channels.
	ChannelIDDynamic ChannelID = 0x0040
)

var ErrPayloadTooLarge = errors.New("l2cap: payload too large")

// BFrame is defined in Vol 3, Part A, Section 3.1 of the Bluetooth Core Specification.
type BFrame struct {
	ChannelID
	Payload []byte
}

const bframeHeaderSize = 4

func (f *BFrame) Marshal() ([]byte, error) {
	if len(f.Payload) > math.MaxUint16 {
		return nil, ErrPayloadTooLarge
	}
	buf := make([]byte, bframeHeaderSize+len(f.Payload))
	binary.LittleEndian.PutUint16(buf[0:], uint16(len(f.Payload)))
	binary.LittleEndian.PutUint16(buf[2:], uint16(f.ChannelID))
	copy(buf[bframeHeaderSize:], f.Payload)
	return buf, nil
}

func (f *BFrame) Unmarshal(buf []byte) error {
	if len(buf) < bframeHeaderSize || uint16(len(buf)-bframeHeaderSize) != binary.LittleEndian.Uint16(buf[0:]) {
		return io.ErrShortBuffer
	}
	f.ChannelID = ChannelID(binary.LittleEndian.Uint16(buf[2:]))
	f.Payload = buf[bframeHeaderSize:]
	return nil
}

// ReadBFrame reads one frame from a byte stream, using the length in its basic header.
func ReadBFrame(r io.Reader) (*BFrame, error) {
	var hdr [bframeHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint16(hdr[0:])
	f := &BFrame{
		ChannelID: ChannelID(binary.LittleEndian.Uint16(hdr[2:])),
		Payload:   make([]byte, n),
	}
	if _, err := io.ReadFull(r, f.Payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("l2cap: frame for channel %#04x: %w", uint16(f.ChannelID), err)
	}
	return f, nil
}
