package avrcp

import (
	"fmt"

	"github.com/muxable/avrcp/pkg/avc"
	"github.com/muxable/avrcp/pkg/avctp"
	"go.uber.org/zap"
)

// Send issues a command to the peer and returns the label it was sent with.
// Only one request may be outstanding at a time; a second one fails with
// ErrBusy and leaves the session untouched. RegisterNotification commands are
// tracked per event and never count as outstanding.
//
// Sending releases the last delivered message. Its buffers must not be used
// afterwards.
func (s *Session) Send(c *Command) (uint8, error) {
	if err := s.connected(); err != nil {
		return 0, err
	}
	tag := c.Tag()
	if c.Metadata != nil {
		switch c.Metadata.PDU {
		case avc.PDURegisterNotification:
			return s.register(c)
		case avc.PDURequestContinuingResponse, avc.PDUAbortContinuingResponse:
			return 0, fmt.Errorf("avrcp: %s is sent with RequestContinuing or AbortContinuing", tag)
		}
	}
	if !s.corr.idle() {
		s.metrics.RequestsBusy.Inc()
		return 0, fmt.Errorf("%w: %s awaiting label %d", ErrBusy, s.corr.main.tag, s.corr.main.label)
	}
	frame, err := c.frame()
	if err != nil {
		return 0, err
	}
	defer s.resume(s.gate.release())

	if s.inCont != nil {
		s.discardInbound("superseded by " + tag.String())
	}
	label := s.labels.Peek()
	if err := s.writeFrame(label, false, frame); err != nil {
		return 0, err
	}
	s.labels.Next()
	p := &pendingRequest{label: label, tag: tag}
	s.corr.main = p
	s.watch(&s.corr.main, p)
	s.metrics.RequestsSent.Inc()
	s.log.Debug("request sent", zap.Stringer("tag", tag), zap.Uint8("label", label))
	return label, nil
}

// Register asks the peer to notify the local side when event changes.
// params follow the event id, e.g. the playback interval.
func (s *Session) Register(event avc.EventID, params []byte) (uint8, error) {
	operands := append([]byte{uint8(event)}, params...)
	return s.Send(NewMetadataCommand(avc.CTypeNotify, avc.PDURegisterNotification, operands))
}

func (s *Session) register(c *Command) (uint8, error) {
	params := c.Metadata.Params
	if len(params) < 1 || params[0] == 0 || int(params[0]) >= avc.MaxEvents {
		return 0, fmt.Errorf("avrcp: register notification needs an event id")
	}
	ev := avc.EventID(params[0])
	if prev := s.corr.registrations[ev]; prev != nil && prev.awaiting {
		s.metrics.RequestsBusy.Inc()
		return 0, fmt.Errorf("%w: event %#04x awaiting label %d", ErrBusy, uint8(ev), prev.label)
	}
	frame, err := c.frame()
	if err != nil {
		return 0, err
	}
	defer s.resume(s.gate.release())

	if s.inCont != nil {
		s.discardInbound("superseded by notification registration")
	}
	label := s.labels.Peek()
	if err := s.writeFrame(label, false, frame); err != nil {
		return 0, err
	}
	s.labels.Next()
	s.corr.registrations[ev].stop()
	r := &registration{event: ev, label: label, awaiting: true}
	s.corr.registrations[ev] = r
	s.watchRegistration(r)
	s.metrics.RequestsSent.Inc()
	return label, nil
}

// RequestContinuing asks the peer for the next fragment of the fragmented
// response to pdu. It fails with ErrContinuationMismatch when no such response
// is being received; the parked transfer is left as it was.
func (s *Session) RequestContinuing(pdu avc.PDUID) (uint8, error) {
	return s.pull(avc.PDURequestContinuingResponse, pdu)
}

// AbortContinuing tells the peer to drop the rest of the fragmented response to pdu.
func (s *Session) AbortContinuing(pdu avc.PDUID) (uint8, error) {
	return s.pull(avc.PDUAbortContinuingResponse, pdu)
}

func (s *Session) pull(op, pdu avc.PDUID) (uint8, error) {
	if err := s.connected(); err != nil {
		return 0, err
	}
	if s.inCont == nil || s.inCont.pdu != pdu {
		return 0, fmt.Errorf("%w: %#04x", ErrContinuationMismatch, uint8(pdu))
	}
	if s.corr.pull != nil {
		s.metrics.RequestsBusy.Inc()
		return 0, fmt.Errorf("%w: continuation request awaiting label %d", ErrBusy, s.corr.pull.label)
	}
	c := NewMetadataCommand(avc.CTypeControl, op, []byte{uint8(pdu)})
	frame, err := c.frame()
	if err != nil {
		return 0, err
	}
	defer s.resume(s.gate.release())

	label := s.labels.Peek()
	if err := s.writeFrame(label, false, frame); err != nil {
		return 0, err
	}
	s.labels.Next()

	// the peer answers a pull with the continued pdu and an abort with the abort pdu.
	p := &pendingRequest{label: label, tag: Tag{Opcode: avc.OpcodeVendorDependent, PDU: pdu}}
	if op == avc.PDUAbortContinuingResponse {
		p.tag.PDU = op
		s.discardInbound("aborted")
	} else {
		p.also = &Tag{Opcode: avc.OpcodeVendorDependent, PDU: op}
	}
	s.corr.pull = p
	s.watch(&s.corr.pull, p)
	s.metrics.RequestsSent.Inc()
	return label, nil
}

// Respond answers the peer command c. Metadata parameters too large for one
// frame are sent in pull fragments: the first goes out now and the rest is
// held until the peer requests it.
//
// Responding releases the last delivered message.
func (s *Session) Respond(c *Command, code avc.ResponseCode, operands []byte) error {
	if err := s.connected(); err != nil {
		return err
	}
	defer s.resume(s.gate.release())

	if c.Metadata == nil {
		return s.writeResponseFrame(c, code, operands)
	}
	pdu := c.Metadata.PDU
	if pdu == avc.PDURegisterNotification && code != avc.ResponseInterim && len(c.Metadata.Params) > 0 {
		s.unregisterPeer(avc.EventID(c.Metadata.Params[0]))
	}
	if len(operands) <= avc.MaxMetadataParams {
		return s.writeMetadata(c.Label, true, uint8(code), &avc.Metadata{PDU: pdu, Params: operands})
	}

	if s.outCont != nil {
		s.discardOutbound("replaced")
	}
	cont := &continuation{pdu: pdu, code: code, remaining: append([]byte(nil), operands...)}
	chunk, _ := cont.take()
	if err := s.writeMetadata(c.Label, true, uint8(code), &avc.Metadata{PDU: pdu, Type: avctp.PacketTypeStart, Params: chunk}); err != nil {
		return err
	}
	s.outCont = cont
	s.expireOutbound(cont)
	s.metrics.ContinuationsParked.Inc()
	s.log.Debug("response parked", zap.Uint8("pdu", uint8(pdu)), zap.Int("remaining", len(cont.remaining)))
	return nil
}

// Reject answers the peer command c with REJECTED. Metadata commands carry
// status; other commands echo their operands.
func (s *Session) Reject(c *Command, status avc.ErrorCode) error {
	if err := s.connected(); err != nil {
		return err
	}
	defer s.resume(s.gate.release())
	return s.writeReject(c, status)
}

// Notify sends the CHANGED response for a notification the peer registered,
// using the label of its registration. The registration is consumed.
func (s *Session) Notify(event avc.EventID, params []byte) error {
	if err := s.connected(); err != nil {
		return err
	}
	if event == 0 || int(event) >= avc.MaxEvents || !s.corr.peer[event].active {
		return fmt.Errorf("%w: %#04x", ErrNotRegistered, uint8(event))
	}
	if 1+len(params) > avc.MaxMetadataParams {
		return fmt.Errorf("%w: %d parameter bytes", ErrFrameTooLarge, 1+len(params))
	}
	defer s.resume(s.gate.release())

	label := s.corr.peer[event].label
	m := &avc.Metadata{
		PDU:    avc.PDURegisterNotification,
		Params: append([]byte{uint8(event)}, params...),
	}
	if err := s.writeMetadata(label, true, uint8(avc.ResponseChanged), m); err != nil {
		return err
	}
	s.unregisterPeer(event)
	return nil
}

func (s *Session) unregisterPeer(event avc.EventID) {
	if int(event) < avc.MaxEvents {
		s.corr.peer[event] = peerRegistration{}
	}
}

// resume drains the inbound queue after an outgoing message released the gate.
func (s *Session) resume(released bool) {
	if released {
		s.pump()
	}
}

// watch arms the watchdog of the request in slot.
func (s *Session) watch(slot **pendingRequest, p *pendingRequest) {
	p.timer.arm(s.scheduler, s.cfg.WatchdogTimeout, func() {
		if *slot != p || s.state != StateConnected {
			return
		}
		*slot = nil
		if slot == &s.corr.pull {
			s.discardInbound("continuation request timed out")
		}
		s.metrics.RequestTimeouts.Inc()
		s.log.Debug("request timed out", zap.Stringer("tag", p.tag), zap.Uint8("label", p.label))
		r := &Response{Label: p.label, Opcode: p.tag.Opcode, Err: ErrTimeout}
		if p.tag.PDU != 0 {
			r.Metadata = &avc.Metadata{PDU: p.tag.PDU}
		}
		s.handler.HandleResponse(s, r)
	})
}

func (s *Session) watchRegistration(r *registration) {
	r.timer.arm(s.scheduler, s.cfg.WatchdogTimeout, func() {
		if s.corr.registrations[r.event] != r || !r.awaiting || s.state != StateConnected {
			return
		}
		s.corr.registrations[r.event] = nil
		s.metrics.RequestTimeouts.Inc()
		s.handler.HandleResponse(s, &Response{
			Label:    r.label,
			Opcode:   avc.OpcodeVendorDependent,
			Metadata: &avc.Metadata{PDU: avc.PDURegisterNotification},
			Event:    r.event,
			Err:      ErrTimeout,
		})
	})
}

// expireOutbound discards cont if the peer does not pull it in time.
func (s *Session) expireOutbound(cont *continuation) {
	cont.timer.arm(s.scheduler, s.cfg.ContinuationTimeout, func() {
		if s.outCont == cont {
			s.discardOutbound("expired")
		}
	})
}

func (s *Session) discardInbound(reason string) {
	if s.inCont == nil {
		return
	}
	s.log.Debug("continuation discarded", zap.String("direction", "inbound"), zap.Uint8("pdu", uint8(s.inCont.pdu)), zap.String("reason", reason))
	s.inCont.stop()
	s.inCont = nil
	s.metrics.ContinuationsAborted.Inc()
}

func (s *Session) discardOutbound(reason string) {
	if s.outCont == nil {
		return
	}
	s.log.Debug("continuation discarded", zap.String("direction", "outbound"), zap.Uint8("pdu", uint8(s.outCont.pdu)), zap.String("reason", reason))
	s.outCont.stop()
	s.outCont = nil
	s.metrics.ContinuationsAborted.Inc()
}

func (s *Session) writeReject(c *Command, status avc.ErrorCode) error {
	if c.Metadata != nil {
		if c.Metadata.PDU == avc.PDURegisterNotification && len(c.Metadata.Params) > 0 {
			s.unregisterPeer(avc.EventID(c.Metadata.Params[0]))
		}
		m := &avc.Metadata{PDU: c.Metadata.PDU, Params: []byte{uint8(status)}}
		return s.writeMetadata(c.Label, true, uint8(avc.ResponseRejected), m)
	}
	return s.writeResponseFrame(c, avc.ResponseRejected, c.Operands)
}

// refuse rejects a command the engine handles itself.
func (s *Session) refuse(c *Command, status avc.ErrorCode) {
	if err := s.writeReject(c, status); err != nil {
		s.log.Warn("failed to reject command", zap.Stringer("tag", c.Tag()), zap.Error(err))
	}
}

func (s *Session) writeResponseFrame(c *Command, code avc.ResponseCode, operands []byte) error {
	f := &avc.Frame{
		CType:       uint8(code),
		SubunitType: c.SubunitType,
		SubunitID:   c.SubunitID,
		Opcode:      c.Opcode,
		Operands:    operands,
	}
	buf, err := f.Marshal()
	if err != nil {
		return err
	}
	return s.writeFrame(c.Label, true, buf)
}

func (s *Session) writeMetadata(label uint8, response bool, ctype uint8, m *avc.Metadata) error {
	buf, err := avc.MetadataFrame(ctype, m)
	if err != nil {
		return err
	}
	return s.writeFrame(label, response, buf)
}

// writeFrame splits an AV/C frame into AVCTP packets that fit the MTU and
// writes them back to back.
func (s *Session) writeFrame(label uint8, response bool, frame []byte) error {
	if len(frame) > avc.MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(frame))
	}
	packets, err := avctp.Packets(label, response, avctp.PIDAVRemoteControl, frame, s.mtu)
	if err != nil {
		return err
	}
	for i, p := range packets {
		if err := s.writePacket(p); err != nil {
			if i > 0 {
				s.log.Warn("fragmented write aborted", zap.Int("sent", i), zap.Int("total", len(packets)))
			}
			return err
		}
	}
	return nil
}

func (s *Session) writePacket(p *avctp.Packet) error {
	buf, err := p.Marshal()
	if err != nil {
		return err
	}
	out, err := s.transport.Claim(len(buf))
	if err != nil {
		return fmt.Errorf("%w: claim %d bytes: %w", ErrNoResource, len(buf), err)
	}
	n := copy(out, buf)
	s.log.Debug("avctp writing", zap.String("packet", fmt.Sprintf("%x", buf)))
	if err := s.transport.Commit(n); err != nil {
		return fmt.Errorf("%w: %w", ErrNoResource, err)
	}
	s.metrics.PacketsSent.Inc()
	return nil
}
