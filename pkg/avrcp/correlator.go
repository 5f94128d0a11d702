package avrcp

import (
	"fmt"

	"github.com/muxable/avrcp/pkg/avc"
)

// Tag identifies the operation a message belongs to: the AV/C opcode and, for
// Metadata-Transfer frames, the PDU.
type Tag struct {
	Opcode avc.Opcode
	PDU    avc.PDUID
}

func (t Tag) String() string {
	if t.Opcode == avc.OpcodeVendorDependent {
		return fmt.Sprintf("%s/%#04x", t.Opcode, uint8(t.PDU))
	}
	return t.Opcode.String()
}

// pendingRequest is a locally initiated request awaiting its response.
type pendingRequest struct {
	label uint8
	tag   Tag
	// also is an alternative tag the peer may answer with, such as the pull PDU
	// itself when it rejects a continuation request.
	also  *Tag
	timer timer
}

func (p *pendingRequest) accepts(label uint8, tag Tag) bool {
	if p == nil || p.label != label {
		return false
	}
	return p.tag == tag || (p.also != nil && *p.also == tag)
}

func (p *pendingRequest) stop() {
	if p != nil {
		p.timer.stop()
	}
}

// registration is a notification the local side registered with the peer.
type registration struct {
	event avc.EventID
	label uint8
	// awaiting is set until the peer acknowledges the registration with INTERIM.
	awaiting bool
	timer    timer
}

func (r *registration) stop() {
	if r != nil {
		r.timer.stop()
	}
}

// correlator matches inbound responses to the requests that caused them.
// The main slot admits one request at a time. Continuation pulls and aborts use
// their own slot and notifications their own table.
type correlator struct {
	main          *pendingRequest
	pull          *pendingRequest
	registrations [avc.MaxEvents]*registration
	// peer holds the notifications the peer registered with us.
	peer [avc.MaxEvents]peerRegistration
}

type peerRegistration struct {
	label  uint8
	active bool
}

// idle reports whether the main slot is free.
func (c *correlator) idle() bool {
	return c.main == nil
}

// match finds and returns the slot expecting a response with this label and tag.
func (c *correlator) match(label uint8, tag Tag) **pendingRequest {
	if c.main.accepts(label, tag) {
		return &c.main
	}
	if c.pull.accepts(label, tag) {
		return &c.pull
	}
	return nil
}

// matchLabel finds the slot awaiting label regardless of the operation.
func (c *correlator) matchLabel(label uint8) **pendingRequest {
	if c.main != nil && c.main.label == label {
		return &c.main
	}
	if c.pull != nil && c.pull.label == label {
		return &c.pull
	}
	return nil
}

func (c *correlator) registrationFor(label uint8) *registration {
	for _, r := range c.registrations {
		if r != nil && r.label == label {
			return r
		}
	}
	return nil
}

func (c *correlator) reset() {
	c.main.stop()
	c.main = nil
	c.pull.stop()
	c.pull = nil
	for i, r := range c.registrations {
		r.stop()
		c.registrations[i] = nil
	}
	c.peer = [avc.MaxEvents]peerRegistration{}
}
