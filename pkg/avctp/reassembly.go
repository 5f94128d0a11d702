package avctp

import (
	"fmt"
)

// MaxMessageSize bounds a reassembled message. AV/C frames never exceed 512 bytes.
const MaxMessageSize = 512

// AbandonedError reports a partially reassembled message dropped because a new
// Start packet arrived before its End.
type AbandonedError struct {
	Label    uint8
	Response bool
	// Partial holds the bytes received before the message was dropped.
	Partial []byte
}

func (e *AbandonedError) Error() string {
	return fmt.Sprintf("avctp: reassembly of label %d abandoned by new start packet", e.Label)
}

// Message is a complete logical message rebuilt from one or more packets.
type Message struct {
	Label    uint8
	Response bool
	PID      uint16
	Payload  []byte
}

// Reassembler concatenates Start/Continue/End packets of one message.
// Single packets pass straight through.
type Reassembler struct {
	active   bool
	label    uint8
	response bool
	pid      uint16
	expected uint8
	received uint8
	buf      []byte
}

// Push consumes a packet. It returns the complete message once the End (or a
// Single) packet arrives and nil while more packets are expected. A Start while
// another message is in progress starts over and returns an *AbandonedError
// naming the dropped message alongside the nil message.
func (r *Reassembler) Push(p *Packet) (*Message, error) {
	switch p.Type {
	case PacketTypeSingle:
		if len(p.Payload) > MaxMessageSize {
			return nil, fmt.Errorf("%w: single packet carries %d bytes", ErrMalformedPacket, len(p.Payload))
		}
		return &Message{Label: p.Label, Response: p.Response, PID: p.PID, Payload: p.Payload}, nil

	case PacketTypeStart:
		var err error
		if r.active {
			err = &AbandonedError{Label: r.label, Response: r.response, Partial: append([]byte(nil), r.buf...)}
		}
		r.active = true
		r.label = p.Label
		r.response = p.Response
		r.pid = p.PID
		r.expected = p.Packets
		r.received = 1
		r.buf = append(r.buf[:0], p.Payload...)
		if len(r.buf) > MaxMessageSize {
			r.Reset()
			return nil, fmt.Errorf("%w: message exceeds %d bytes", ErrMalformedPacket, MaxMessageSize)
		}
		return nil, err

	case PacketTypeContinue, PacketTypeEnd:
		if !r.active {
			return nil, fmt.Errorf("%w: %s packet without start", ErrMalformedPacket, p.Type)
		}
		if p.Label != r.label || p.Response != r.response {
			return nil, fmt.Errorf("%w: %s packet for label %d during label %d", ErrMalformedPacket, p.Type, p.Label, r.label)
		}
		r.received++
		r.buf = append(r.buf, p.Payload...)
		if len(r.buf) > MaxMessageSize {
			r.Reset()
			return nil, fmt.Errorf("%w: message exceeds %d bytes", ErrMalformedPacket, MaxMessageSize)
		}
		if p.Type == PacketTypeContinue {
			if r.received >= r.expected {
				r.Reset()
				return nil, fmt.Errorf("%w: more packets than announced", ErrMalformedPacket)
			}
			return nil, nil
		}
		if r.received != r.expected {
			n, want := r.received, r.expected
			r.Reset()
			return nil, fmt.Errorf("%w: end after %d of %d packets", ErrMalformedPacket, n, want)
		}
		m := &Message{
			Label:    r.label,
			Response: r.response,
			PID:      r.pid,
			Payload:  append([]byte(nil), r.buf...),
		}
		r.Reset()
		return m, nil
	}
	return nil, fmt.Errorf("%w: packet type %d", ErrMalformedPacket, p.Type)
}

// InProgress reports whether a Start has been seen without its End.
func (r *Reassembler) InProgress() bool {
	return r.active
}

func (r *Reassembler) Reset() {
	r.active = false
	r.label = 0
	r.response = false
	r.pid = 0
	r.expected = 0
	r.received = 0
	r.buf = r.buf[:0]
}
