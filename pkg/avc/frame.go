// Package avc encodes the AV/C command frames and the AVRCP Metadata-Transfer
// sub-header carried above AVCTP.
package avc

import (
	"encoding/binary"
	"fmt"

	"github.com/muxable/avrcp/pkg/avctp"
)

const (
	// HeaderSize covers ctype, subunit and opcode.
	HeaderSize = 3
	// MaxFrameSize is the largest AV/C frame, headers included.
	MaxFrameSize = 512
	// MetadataHeaderSize is the AV/C header, company id, PDU id, packet type and parameter length.
	MetadataHeaderSize = HeaderSize + 3 + 4
	// MaxMetadataParams is the parameter space of one Metadata-Transfer frame.
	MaxMetadataParams = MaxFrameSize - MetadataHeaderSize
)

// Frame is an AV/C command or response frame. For responses CType holds the
// response code.
type Frame struct {
	CType       uint8
	SubunitType SubunitType
	SubunitID   uint8
	Opcode      Opcode
	Operands    []byte
}

func (f *Frame) Marshal() ([]byte, error) {
	if f.CType > 0x0F {
		return nil, fmt.Errorf("avc: ctype %#x out of range", f.CType)
	}
	if f.SubunitType > 0x1F || f.SubunitID > 0x07 {
		return nil, fmt.Errorf("avc: subunit %#x/%d out of range", f.SubunitType, f.SubunitID)
	}
	buf := make([]byte, HeaderSize+len(f.Operands))
	buf[0] = f.CType
	buf[1] = uint8(f.SubunitType)<<3 | f.SubunitID
	buf[2] = uint8(f.Opcode)
	copy(buf[HeaderSize:], f.Operands)
	return buf, nil
}

func (f *Frame) Unmarshal(buf []byte) error {
	if len(buf) < HeaderSize {
		return fmt.Errorf("%w: av/c frame of %d bytes", avctp.ErrMalformedPacket, len(buf))
	}
	f.CType = buf[0] & 0x0F
	f.SubunitType = SubunitType(buf[1] >> 3)
	f.SubunitID = buf[1] & 0x07
	f.Opcode = Opcode(buf[2])
	f.Operands = buf[HeaderSize:]
	return nil
}

// IsMetadata reports whether the frame is a vendor-dependent frame carrying the
// Bluetooth SIG company id.
func (f *Frame) IsMetadata() bool {
	return f.Opcode == OpcodeVendorDependent && len(f.Operands) >= 3 && companyID(f.Operands) == CompanyIDBluetoothSIG
}

func companyID(buf []byte) uint32 {
	return uint32(buf[0])<<16 | uint32(buf[1])<<8 | uint32(buf[2])
}

// Metadata is the Metadata-Transfer sub-header and parameters carried as the
// operands of a vendor-dependent frame.
type Metadata struct {
	PDU    PDUID
	Type   avctp.PacketType
	Params []byte
}

func (m *Metadata) Marshal() ([]byte, error) {
	if len(m.Params) > MaxMetadataParams {
		return nil, fmt.Errorf("avc: %d parameter bytes exceed %d", len(m.Params), MaxMetadataParams)
	}
	buf := make([]byte, 7+len(m.Params))
	buf[0] = uint8(CompanyIDBluetoothSIG >> 16 & 0xFF)
	buf[1] = uint8(CompanyIDBluetoothSIG >> 8 & 0xFF)
	buf[2] = uint8(CompanyIDBluetoothSIG & 0xFF)
	buf[3] = uint8(m.PDU)
	buf[4] = uint8(m.Type) & 0x03
	binary.BigEndian.PutUint16(buf[5:], uint16(len(m.Params)))
	copy(buf[7:], m.Params)
	return buf, nil
}

// Unmarshal decodes vendor-dependent operands. Bytes past the declared parameter
// length are ignored.
func (m *Metadata) Unmarshal(operands []byte) error {
	if len(operands) < 7 {
		return fmt.Errorf("%w: metadata header of %d bytes", avctp.ErrMalformedPacket, len(operands))
	}
	if id := companyID(operands); id != CompanyIDBluetoothSIG {
		return fmt.Errorf("%w: company id %#06x", avctp.ErrMalformedPacket, id)
	}
	m.PDU = PDUID(operands[3])
	m.Type = avctp.PacketType(operands[4] & 0x03)
	n := int(binary.BigEndian.Uint16(operands[5:]))
	if len(operands)-7 < n {
		return fmt.Errorf("%w: parameter length %d with %d bytes", avctp.ErrMalformedPacket, n, len(operands)-7)
	}
	m.Params = operands[7 : 7+n]
	return nil
}

// MetadataFrame builds a complete vendor-dependent frame for a Metadata-Transfer PDU.
func MetadataFrame(ctype uint8, m *Metadata) ([]byte, error) {
	operands, err := m.Marshal()
	if err != nil {
		return nil, err
	}
	f := &Frame{
		CType:       ctype,
		SubunitType: SubunitTypePanel,
		Opcode:      OpcodeVendorDependent,
		Operands:    operands,
	}
	return f.Marshal()
}

// FrameLength returns the length of the AV/C frame at the start of buf when the
// opcode makes it computable, or ok=false when the frame extends to the end of
// the packet.
func FrameLength(buf []byte) (n int, ok bool) {
	if len(buf) < HeaderSize {
		return 0, false
	}
	switch Opcode(buf[2]) {
	case OpcodeUnitInfo, OpcodeSubunitInfo:
		return HeaderSize + 5, true
	case OpcodePassThrough:
		if len(buf) < HeaderSize+2 {
			return 0, false
		}
		return HeaderSize + 2 + int(buf[4]), true
	case OpcodeVendorDependent:
		if len(buf) < MetadataHeaderSize || companyID(buf[HeaderSize:]) != CompanyIDBluetoothSIG {
			return 0, false
		}
		return MetadataHeaderSize + int(binary.BigEndian.Uint16(buf[8:])), true
	}
	return 0, false
}
