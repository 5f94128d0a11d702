package avrcp

import (
	"errors"
	"fmt"

	"github.com/muxable/avrcp/pkg/avc"
	"github.com/muxable/avrcp/pkg/avctp"
	"go.uber.org/zap"
)

// Poll processes everything the transport has buffered.
func (s *Session) Poll() error {
	if err := s.connected(); err != nil {
		return err
	}
	for s.state == StateConnected {
		buf := s.transport.Available()
		if len(buf) == 0 {
			return nil
		}
		data := append([]byte(nil), buf...)
		s.transport.Drop(len(buf))
		s.receive(data)
	}
	return nil
}

// Receive processes bytes read from the transport outside of Poll. Several
// packets in one read are processed in order.
func (s *Session) Receive(buf []byte) error {
	if err := s.connected(); err != nil {
		return err
	}
	s.receive(append([]byte(nil), buf...))
	return nil
}

// Release hands the last delivered message back to the session and resumes
// processing of held packets. It is a no-op when nothing is held.
func (s *Session) Release() {
	if s.gate == nil || !s.gate.release() {
		return
	}
	s.pump()
}

func (s *Session) receive(buf []byte) {
	for len(buf) > 0 && s.state == StateConnected {
		p, err := avctp.UnmarshalPacket(buf)
		if err != nil {
			s.drop(dropMalformed, err, buf)
			return
		}
		n := len(buf)
		if p.Type == avctp.PacketTypeSingle && p.PID == avctp.PIDAVRemoteControl {
			// more than one complete frame may arrive in one read.
			if fl, ok := avc.FrameLength(p.Payload); ok && fl < len(p.Payload) {
				p.Payload = p.Payload[:fl]
				n = p.Len()
			}
		}
		s.log.Debug("avctp reading", zap.String("packet", fmt.Sprintf("%x", buf[:n])))
		buf = buf[n:]
		s.metrics.PacketsReceived.Inc()

		if err := p.CheckProfile(avctp.PIDAVRemoteControl); err != nil {
			s.rejectProfile(p, err)
			continue
		}
		if !s.gate.push(p) {
			s.drop(dropQueueFull, errors.New("inbound queue full"), nil)
			continue
		}
		if s.gate.blocked {
			s.metrics.PacketsHeld.Inc()
		}
		s.pump()
	}
}

// pump processes held packets until the gate closes. Calls made from inside the
// handler return immediately and the outer pump carries on.
func (s *Session) pump() {
	if s.pumping {
		return
	}
	s.pumping = true
	defer func() { s.pumping = false }()
	for s.state == StateConnected {
		p, ok := s.gate.next()
		if !ok {
			return
		}
		s.process(p)
	}
}

func (s *Session) process(p *avctp.Packet) {
	if p.Response && p.InvalidProfile {
		s.handleInvalidProfile(p.Label)
		return
	}
	msg, err := s.reassembler.Push(p)
	var abandoned *avctp.AbandonedError
	if errors.As(err, &abandoned) {
		s.rejectAbandoned(abandoned)
	} else if err != nil {
		s.drop(dropMalformed, err, nil)
		return
	}
	if msg == nil {
		return
	}
	var f avc.Frame
	if err := f.Unmarshal(msg.Payload); err != nil {
		s.drop(dropMalformed, err, msg.Payload)
		return
	}
	if msg.Response {
		s.handleResponse(msg.Label, &f)
	} else {
		s.handleCommand(msg.Label, &f)
	}
}

func (s *Session) handleCommand(label uint8, f *avc.Frame) {
	s.lastRxLabel = label
	c := &Command{
		Label:       label,
		CType:       avc.CType(f.CType),
		SubunitType: f.SubunitType,
		SubunitID:   f.SubunitID,
		Opcode:      f.Opcode,
		Operands:    f.Operands,
	}

	switch f.Opcode {
	case avc.OpcodeVendorDependent, avc.OpcodeUnitInfo, avc.OpcodeSubunitInfo, avc.OpcodePassThrough:
	default:
		s.log.Debug("unsupported opcode", zap.Stringer("opcode", f.Opcode))
		if err := s.writeResponseFrame(c, avc.ResponseNotImplemented, f.Operands); err != nil {
			s.log.Warn("failed to answer unsupported opcode", zap.Error(err))
		}
		return
	}

	if f.IsMetadata() {
		m := &avc.Metadata{}
		if err := m.Unmarshal(f.Operands); err != nil {
			s.drop(dropMalformed, err, f.Operands)
			return
		}
		c.Metadata = m
		c.Operands = m.Params
		if m.Type != avctp.PacketTypeSingle {
			s.log.Debug("fragmented metadata command", zap.Stringer("type", m.Type))
			s.refuse(c, avc.ErrorInvalidCommand)
			return
		}
		switch m.PDU {
		case avc.PDURequestContinuingResponse:
			s.handlePull(c)
			return
		case avc.PDUAbortContinuingResponse:
			s.handleAbort(c)
			return
		case avc.PDURegisterNotification:
			if len(m.Params) < 1 || m.Params[0] == 0 || int(m.Params[0]) >= avc.MaxEvents {
				s.refuse(c, avc.ErrorInvalidParameter)
				return
			}
			s.corr.peer[m.Params[0]] = peerRegistration{label: label, active: true}
		}
	}
	if s.outCont != nil {
		s.discardOutbound("superseded by " + c.Tag().String())
	}

	s.gate.block(c.Tag())
	s.metrics.CommandsReceived.Inc()
	s.handler.HandleCommand(s, c)
}

// handlePull sends the next fragment of the parked response the peer asks for.
func (s *Session) handlePull(c *Command) {
	if len(c.Metadata.Params) < 1 {
		s.refuse(c, avc.ErrorParameterContentError)
		return
	}
	pdu := avc.PDUID(c.Metadata.Params[0])
	if s.outCont == nil || s.outCont.pdu != pdu {
		s.log.Debug("continuation request does not match", zap.Uint8("pdu", uint8(pdu)))
		s.refuse(c, avc.ErrorInvalidParameter)
		return
	}
	cont := s.outCont
	chunk, last := cont.take()
	typ := avctp.PacketTypeContinue
	if last {
		typ = avctp.PacketTypeEnd
	}
	err := s.writeMetadata(c.Label, true, uint8(cont.code), &avc.Metadata{PDU: pdu, Type: typ, Params: chunk})
	if err != nil {
		s.log.Warn("failed to send continuation", zap.Error(err))
		s.discardOutbound("write failed")
		return
	}
	if last {
		cont.stop()
		s.outCont = nil
		return
	}
	cont.stop()
	s.expireOutbound(cont)
}

func (s *Session) handleAbort(c *Command) {
	if len(c.Metadata.Params) < 1 {
		s.refuse(c, avc.ErrorParameterContentError)
		return
	}
	pdu := avc.PDUID(c.Metadata.Params[0])
	if s.outCont == nil || s.outCont.pdu != pdu {
		s.refuse(c, avc.ErrorInvalidParameter)
		return
	}
	s.discardOutbound("aborted by peer")
	if err := s.writeMetadata(c.Label, true, uint8(avc.ResponseAccepted), &avc.Metadata{PDU: avc.PDUAbortContinuingResponse}); err != nil {
		s.log.Warn("failed to accept abort", zap.Error(err))
	}
}

func (s *Session) handleResponse(label uint8, f *avc.Frame) {
	code := avc.ResponseCode(f.CType)
	r := &Response{
		Label:       label,
		Code:        code,
		SubunitType: f.SubunitType,
		SubunitID:   f.SubunitID,
		Opcode:      f.Opcode,
		Operands:    f.Operands,
	}
	tag := Tag{Opcode: f.Opcode}
	if f.IsMetadata() {
		m := &avc.Metadata{}
		if err := m.Unmarshal(f.Operands); err != nil {
			s.drop(dropMalformed, err, f.Operands)
			return
		}
		r.Metadata = m
		r.Operands = m.Params
		tag.PDU = m.PDU
		if m.PDU == avc.PDURegisterNotification {
			s.handleNotification(r)
			return
		}
	}
	if code.IsReject() {
		r.Err = rejectError(code, r.Metadata)
	}

	slot := s.corr.match(label, tag)
	if slot == nil {
		s.drop(dropUnmatched, fmt.Errorf("response %s label %d", tag, label), nil)
		return
	}
	p := *slot
	p.stop()
	if code == avc.ResponseInterim {
		s.watch(slot, p)
	} else {
		*slot = nil
	}

	if r.Metadata != nil && r.Err == nil {
		s.trackInbound(r.Metadata)
	} else if slot == &s.corr.pull && r.Err != nil {
		s.discardInbound("pull refused")
	}
	if r.Err != nil {
		s.metrics.RequestsRejects.Inc()
	}
	s.deliver(tag, r)
}

// trackInbound follows a fragmented response the peer holds for us.
func (s *Session) trackInbound(m *avc.Metadata) {
	switch m.Type {
	case avctp.PacketTypeStart:
		s.inCont = &continuation{pdu: m.PDU}
		s.metrics.ContinuationsParked.Inc()
	case avctp.PacketTypeEnd, avctp.PacketTypeSingle:
		if s.inCont != nil && s.inCont.pdu == m.PDU {
			s.inCont = nil
		}
	}
}

func (s *Session) handleNotification(r *Response) {
	// a rejection carries the error status where the event id would be.
	var reg *registration
	if r.Code.IsReject() {
		reg = s.corr.registrationFor(r.Label)
	} else if params := r.Metadata.Params; len(params) >= 1 && int(params[0]) < avc.MaxEvents {
		if cand := s.corr.registrations[params[0]]; cand != nil && cand.label == r.Label {
			reg = cand
		}
	}
	if reg == nil {
		s.drop(dropUnmatched, fmt.Errorf("notification %s label %d", r.Code, r.Label), nil)
		return
	}
	r.Event = reg.event
	switch {
	case r.Code.IsReject():
		reg.stop()
		s.corr.registrations[reg.event] = nil
		r.Err = rejectError(r.Code, r.Metadata)
		s.metrics.RequestsRejects.Inc()
	default:
		// CHANGED without a prior INTERIM acknowledges the registration too.
		reg.stop()
		reg.awaiting = false
	}
	s.deliver(Tag{Opcode: avc.OpcodeVendorDependent, PDU: avc.PDURegisterNotification}, r)
}

func (s *Session) deliver(tag Tag, r *Response) {
	s.gate.block(tag)
	s.metrics.ResponsesReceived.Inc()
	s.handler.HandleResponse(s, r)
}

func rejectError(code avc.ResponseCode, m *avc.Metadata) error {
	e := &RejectedError{Code: code}
	if m != nil && code == avc.ResponseRejected && len(m.Params) >= 1 {
		e.Status = avc.ErrorCode(m.Params[0])
		e.HasStatus = true
	}
	return e
}

// rejectProfile answers a command for an unknown profile with the IPID bit set.
func (s *Session) rejectProfile(p *avctp.Packet, err error) {
	s.drop(dropBadProfile, err, nil)
	if p.Response {
		return
	}
	q := &avctp.Packet{Header: avctp.Header{
		Label:          p.Label,
		Type:           avctp.PacketTypeSingle,
		Response:       true,
		InvalidProfile: true,
		PID:            p.PID,
	}}
	if err := s.writePacket(q); err != nil {
		s.log.Warn("failed to reject profile", zap.Error(err))
	}
}

// handleInvalidProfile fails the local request the peer refused because it does
// not serve the profile. The answer is header only, so it is matched by label.
func (s *Session) handleInvalidProfile(label uint8) {
	err := fmt.Errorf("%w: peer refused label %d", avctp.ErrBadProfile, label)
	if reg := s.corr.registrationFor(label); reg != nil && reg.awaiting {
		reg.stop()
		s.corr.registrations[reg.event] = nil
		s.metrics.RequestsRejects.Inc()
		s.deliver(Tag{Opcode: avc.OpcodeVendorDependent, PDU: avc.PDURegisterNotification}, &Response{
			Label:    label,
			Opcode:   avc.OpcodeVendorDependent,
			Metadata: &avc.Metadata{PDU: avc.PDURegisterNotification},
			Event:    reg.event,
			Err:      err,
		})
		return
	}
	slot := s.corr.matchLabel(label)
	if slot == nil {
		s.drop(dropUnmatched, err, nil)
		return
	}
	p := *slot
	p.stop()
	*slot = nil
	if slot == &s.corr.pull {
		s.discardInbound("pull refused")
	}
	s.metrics.RequestsRejects.Inc()
	r := &Response{Label: label, Opcode: p.tag.Opcode, Err: err}
	if p.tag.PDU != 0 {
		r.Metadata = &avc.Metadata{PDU: p.tag.PDU}
	}
	s.deliver(p.tag, r)
}

// rejectAbandoned refuses a fragmented command cut short by a new Start.
func (s *Session) rejectAbandoned(e *avctp.AbandonedError) {
	s.drop(dropAbandoned, e, nil)
	if e.Response {
		return
	}
	var f avc.Frame
	if err := f.Unmarshal(e.Partial); err != nil {
		return
	}
	c := &Command{Label: e.Label, SubunitType: f.SubunitType, SubunitID: f.SubunitID, Opcode: f.Opcode}
	var m avc.Metadata
	if f.IsMetadata() && len(f.Operands) >= 4 {
		m.PDU = avc.PDUID(f.Operands[3])
		c.Metadata = &m
	}
	s.refuse(c, avc.ErrorInvalidCommand)
}

func (s *Session) drop(reason string, err error, buf []byte) {
	s.metrics.PacketsDropped.WithLabelValues(reason).Inc()
	if buf != nil {
		s.log.Debug("dropped inbound", zap.String("reason", reason), zap.Error(err), zap.String("packet", fmt.Sprintf("%x", buf)))
		return
	}
	s.log.Debug("dropped inbound", zap.String("reason", reason), zap.Error(err))
}
