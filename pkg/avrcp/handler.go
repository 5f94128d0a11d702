package avrcp

import (
	"fmt"

	"github.com/muxable/avrcp/pkg/avc"
	"github.com/muxable/avrcp/pkg/avctp"
)

// Command is an AV/C command, either received from the peer or issued locally.
type Command struct {
	// Label is the transaction label. It is assigned by the session for local commands.
	Label       uint8
	CType       avc.CType
	SubunitType avc.SubunitType
	SubunitID   uint8
	Opcode      avc.Opcode
	// Operands follow the opcode. For Metadata-Transfer commands they are the PDU parameters.
	Operands []byte
	// Metadata is set for Metadata-Transfer commands.
	Metadata *avc.Metadata
}

// NewMetadataCommand builds a Metadata-Transfer command addressed to the panel subunit.
func NewMetadataCommand(ctype avc.CType, pdu avc.PDUID, params []byte) *Command {
	return &Command{
		CType:       ctype,
		SubunitType: avc.SubunitTypePanel,
		Opcode:      avc.OpcodeVendorDependent,
		Operands:    params,
		Metadata:    &avc.Metadata{PDU: pdu, Params: params},
	}
}

// NewPassThrough builds a pass-through command for the panel operation op.
func NewPassThrough(op uint8, released bool, data []byte) *Command {
	if released {
		op |= 0x80
	}
	operands := make([]byte, 2+len(data))
	operands[0] = op
	operands[1] = uint8(len(data))
	copy(operands[2:], data)
	return &Command{
		CType:       avc.CTypeControl,
		SubunitType: avc.SubunitTypePanel,
		Opcode:      avc.OpcodePassThrough,
		Operands:    operands,
	}
}

func (c *Command) Tag() Tag {
	t := Tag{Opcode: c.Opcode}
	if c.Metadata != nil {
		t.PDU = c.Metadata.PDU
	}
	return t
}

func (c *Command) frame() ([]byte, error) {
	if c.Metadata != nil {
		if c.Opcode != avc.OpcodeVendorDependent {
			return nil, fmt.Errorf("avrcp: metadata command with opcode %s", c.Opcode)
		}
		m := *c.Metadata
		m.Type = 0
		if len(m.Params) > avc.MaxMetadataParams {
			return nil, fmt.Errorf("%w: %d parameter bytes", ErrFrameTooLarge, len(m.Params))
		}
		return avc.MetadataFrame(uint8(c.CType), &m)
	}
	f := &avc.Frame{
		CType:       uint8(c.CType),
		SubunitType: c.SubunitType,
		SubunitID:   c.SubunitID,
		Opcode:      c.Opcode,
		Operands:    c.Operands,
	}
	return f.Marshal()
}

// Response is the outcome of a locally issued command. Err is set when the
// request failed: ErrTimeout when the watchdog fired, a *RejectedError when the
// peer refused it.
type Response struct {
	Label       uint8
	Code        avc.ResponseCode
	SubunitType avc.SubunitType
	SubunitID   uint8
	Opcode      avc.Opcode
	Operands    []byte
	Metadata    *avc.Metadata
	// Event is set on responses to a notification registration.
	Event avc.EventID
	Err   error
}

// Interim reports whether a final response is still to come.
func (r *Response) Interim() bool {
	return r.Err == nil && r.Code == avc.ResponseInterim
}

// Fragmented reports whether more of this metadata response waits to be pulled
// with RequestContinuing.
func (r *Response) Fragmented() bool {
	return r.Metadata != nil && (r.Metadata.Type == avctp.PacketTypeStart || r.Metadata.Type == avctp.PacketTypeContinue)
}

// Handler consumes decoded messages. Every message delivered through it blocks
// further inbound processing until Session.Release is called or the session
// sends something.
type Handler interface {
	HandleCommand(s *Session, c *Command)
	HandleResponse(s *Session, r *Response)
}

// HandlerFuncs adapts plain functions to Handler. Nil fields ignore the message.
type HandlerFuncs struct {
	Command  func(s *Session, c *Command)
	Response func(s *Session, r *Response)
}

func (h HandlerFuncs) HandleCommand(s *Session, c *Command) {
	if h.Command != nil {
		h.Command(s, c)
	}
}

func (h HandlerFuncs) HandleResponse(s *Session, r *Response) {
	if h.Response != nil {
		h.Response(s, r)
	}
}
