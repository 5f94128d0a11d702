package avrcp

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/muxable/avrcp/pkg/avc"
	"github.com/muxable/avrcp/pkg/avctp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap/zaptest"
)

func TestStateTransitions(t *testing.T) {
	s := NewSession(DefaultConfig(), nil, WithLogger(zaptest.NewLogger(t)), WithScheduler(&manualScheduler{}))
	if err := s.Connect(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("Connect() before Init error = %v, want ErrInvalidState", err)
	}
	if err := s.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := s.Disconnect(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Disconnect() while ready error = %v, want ErrInvalidState", err)
	}
	if err := s.Attach(&fakeTransport{}, 0); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Attach() while ready error = %v, want ErrInvalidState", err)
	}

	steps := []struct {
		name string
		do   func() error
		want State
	}{
		{"connect", s.Connect, StateConnecting},
		{"abort connect", s.AbortConnect, StateReady},
		{"connect again", s.Connect, StateConnecting},
		{"attach", func() error { return s.Attach(&fakeTransport{}, 100) }, StateConnected},
		{"disconnect", s.Disconnect, StateReady},
		{"close", s.Close, StateClosed},
		{"close again", s.Close, StateClosed},
	}
	for _, step := range steps {
		if err := step.do(); err != nil {
			t.Fatalf("%s: error = %v", step.name, err)
		}
		if got := s.State(); got != step.want {
			t.Fatalf("%s: state = %s, want %s", step.name, got, step.want)
		}
	}
}

func TestInitRejectsConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxFrameSize = 10
	s := NewSession(cfg, nil, WithLogger(zaptest.NewLogger(t)))
	if err := s.Init(); err == nil {
		t.Fatal("Init() accepted max frame size 10")
	}
	if s.State() != StateUninitialised {
		t.Errorf("state = %s, want uninitialised", s.State())
	}
}

func TestInitRequiresScheduler(t *testing.T) {
	s := NewSession(DefaultConfig(), nil, WithLogger(zaptest.NewLogger(t)))
	if err := s.Init(); !errors.Is(err, ErrNoScheduler) {
		t.Fatalf("Init() error = %v, want ErrNoScheduler", err)
	}
	if s.State() != StateUninitialised {
		t.Errorf("state = %s, want uninitialised", s.State())
	}

	NewLoop(s)
	if err := s.Init(); err != nil {
		t.Fatalf("Init() with loop error = %v", err)
	}
}

func TestAttachMTU(t *testing.T) {
	tests := []struct {
		name    string
		mtu     int
		want    int
		wantErr bool
	}{
		{"default", 0, DefaultMaxFrameSize, false},
		{"negotiated", 100, 100, false},
		{"capped", 4096, DefaultMaxFrameSize, false},
		{"too small", 20, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSession(DefaultConfig(), nil, WithLogger(zaptest.NewLogger(t)), WithScheduler(&manualScheduler{}))
			if err := s.Init(); err != nil {
				t.Fatal(err)
			}
			if err := s.Connect(); err != nil {
				t.Fatal(err)
			}
			err := s.Attach(&fakeTransport{}, tt.mtu)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Attach() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && s.MTU() != tt.want {
				t.Errorf("MTU() = %d, want %d", s.MTU(), tt.want)
			}
		})
	}
}

func TestNotConnected(t *testing.T) {
	s := NewSession(DefaultConfig(), nil, WithLogger(zaptest.NewLogger(t)), WithScheduler(&manualScheduler{}))
	if err := s.Init(); err != nil {
		t.Fatal(err)
	}
	c := NewPassThrough(0x44, false, nil)
	calls := map[string]func() error{
		"Send":              func() error { _, err := s.Send(c); return err },
		"Register":          func() error { _, err := s.Register(avc.EventVolumeChanged, nil); return err },
		"RequestContinuing": func() error { _, err := s.RequestContinuing(avc.PDUGetElementAttributes); return err },
		"AbortContinuing":   func() error { _, err := s.AbortContinuing(avc.PDUGetElementAttributes); return err },
		"Respond":           func() error { return s.Respond(c, avc.ResponseAccepted, nil) },
		"Reject":            func() error { return s.Reject(c, avc.ErrorInternalError) },
		"Notify":            func() error { return s.Notify(avc.EventVolumeChanged, nil) },
		"Receive":           func() error { return s.Receive([]byte{0x10, 0x11, 0x0E}) },
		"Poll":              s.Poll,
	}
	for name, call := range calls {
		if err := call(); !errors.Is(err, ErrNotConnected) {
			t.Errorf("%s() error = %v, want ErrNotConnected", name, err)
		}
	}
}

func TestDisconnectCancelsEverything(t *testing.T) {
	rec := &recorder{}
	s, _, sched := newConnectedSession(t, DefaultConfig(), rec)
	if _, err := s.Send(NewPassThrough(0x44, false, nil)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if _, err := s.Register(avc.EventTrackChanged, nil); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	receive(t, s, single(t, 1, false, passThroughFrame(uint8(avc.CTypeControl), 0x44)))
	receive(t, s, single(t, 2, false, passThroughFrame(uint8(avc.CTypeControl), 0x45)))

	if err := s.Disconnect(); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	sched.Advance(time.Minute)
	if len(rec.responses) != 0 {
		t.Errorf("delivered %d responses after disconnect", len(rec.responses))
	}
	if len(rec.commands) != 1 {
		t.Errorf("delivered %d commands, want 1", len(rec.commands))
	}
	if !s.Idle() || s.Blocked() || s.LastLabel() != 0 || s.gate.held.Len() != 0 {
		t.Error("disconnect left session state behind")
	}
}

func TestBadProfileAnswered(t *testing.T) {
	rec := &recorder{}
	s, tr, _ := newConnectedSession(t, DefaultConfig(), rec)
	p := &avctp.Packet{
		Header:  avctp.Header{Label: 4, Type: avctp.PacketTypeSingle, PID: 0x1234},
		Payload: passThroughFrame(uint8(avc.CTypeControl), 0x44),
	}
	buf, err := p.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	receive(t, s, buf)
	if len(rec.commands) != 0 {
		t.Fatal("command for another profile delivered")
	}
	if len(tr.written) != 1 || !bytes.Equal(tr.written[0], []byte{0x43, 0x12, 0x34}) {
		t.Fatalf("written = %x, want 431234", tr.written)
	}
}

func TestInvalidProfileResponse(t *testing.T) {
	refusal := func(label uint8) []byte {
		return []byte{label<<4 | 0x03, 0x11, 0x0E}
	}

	t.Run("request", func(t *testing.T) {
		rec := &recorder{}
		s, _, _ := newConnectedSession(t, DefaultConfig(), rec)
		label, err := s.Send(NewPassThrough(0x44, false, nil))
		if err != nil {
			t.Fatalf("Send() error = %v", err)
		}
		receive(t, s, refusal(label))
		if len(rec.responses) != 1 {
			t.Fatalf("delivered %d responses, want 1", len(rec.responses))
		}
		r := rec.responses[0]
		if !errors.Is(r.Err, avctp.ErrBadProfile) || r.Label != label || r.Opcode != avc.OpcodePassThrough {
			t.Errorf("response = %+v", r)
		}
		if !s.Idle() {
			t.Error("refused request left pending")
		}
		if got := testutil.ToFloat64(s.metrics.PacketsDropped.WithLabelValues(dropMalformed)); got != 0 {
			t.Errorf("malformed drops = %v, want 0", got)
		}
	})

	t.Run("registration", func(t *testing.T) {
		rec := &recorder{}
		s, _, _ := newConnectedSession(t, DefaultConfig(), rec)
		label, err := s.Register(avc.EventVolumeChanged, nil)
		if err != nil {
			t.Fatalf("Register() error = %v", err)
		}
		receive(t, s, refusal(label))
		if len(rec.responses) != 1 || !errors.Is(rec.responses[0].Err, avctp.ErrBadProfile) || rec.responses[0].Event != avc.EventVolumeChanged {
			t.Fatalf("responses = %+v", rec.responses)
		}
		if s.corr.registrations[avc.EventVolumeChanged] != nil {
			t.Error("refused registration kept")
		}
	})

	t.Run("unmatched", func(t *testing.T) {
		rec := &recorder{}
		s, _, _ := newConnectedSession(t, DefaultConfig(), rec)
		receive(t, s, refusal(7))
		if len(rec.responses) != 0 || s.Blocked() {
			t.Fatalf("responses = %+v", rec.responses)
		}
		if got := testutil.ToFloat64(s.metrics.PacketsDropped.WithLabelValues(dropUnmatched)); got != 1 {
			t.Errorf("unmatched drops = %v, want 1", got)
		}
	})
}

func TestUnknownOpcodeNotImplemented(t *testing.T) {
	rec := &recorder{}
	s, tr, _ := newConnectedSession(t, DefaultConfig(), rec)
	receive(t, s, single(t, 2, false, []byte{uint8(avc.CTypeStatus), uint8(avc.SubunitTypePanel) << 3, 0x02, 0xAA}))
	if len(rec.commands) != 0 {
		t.Fatal("unknown opcode delivered")
	}
	got := tr.sent(t, 0)
	if got.header.Label != 2 || avc.ResponseCode(got.frame.CType) != avc.ResponseNotImplemented || got.frame.Opcode != 0x02 || !bytes.Equal(got.frame.Operands, []byte{0xAA}) {
		t.Errorf("answer = %+v", got)
	}
}

func TestRespondAndReject(t *testing.T) {
	tests := []struct {
		name     string
		frame    []byte
		answer   func(s *Session, c *Command) error
		wantCode avc.ResponseCode
		wantOps  []byte
	}{
		{
			name:     "pass-through accepted",
			frame:    passThroughFrame(uint8(avc.CTypeControl), 0x44),
			answer:   func(s *Session, c *Command) error { return s.Respond(c, avc.ResponseAccepted, c.Operands) },
			wantCode: avc.ResponseAccepted,
			wantOps:  []byte{0x44, 0x00},
		},
		{
			name:     "pass-through rejected echoes operands",
			frame:    passThroughFrame(uint8(avc.CTypeControl), 0x44),
			answer:   func(s *Session, c *Command) error { return s.Reject(c, avc.ErrorInternalError) },
			wantCode: avc.ResponseRejected,
			wantOps:  []byte{0x44, 0x00},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{onCommand: func(s *Session, c *Command) {
				if err := tt.answer(s, c); err != nil {
					t.Errorf("answer error = %v", err)
				}
			}}
			s, tr, _ := newConnectedSession(t, DefaultConfig(), rec)
			receive(t, s, single(t, 11, false, tt.frame))
			got := tr.sent(t, 0)
			if got.header.Label != 11 || !got.header.Response {
				t.Errorf("header = %+v", got.header)
			}
			if avc.ResponseCode(got.frame.CType) != tt.wantCode || !bytes.Equal(got.frame.Operands, tt.wantOps) {
				t.Errorf("frame = %+v", got.frame)
			}
			if s.Blocked() {
				t.Error("answer did not release the gate")
			}
		})
	}
}

func TestMetadataRejectCarriesStatus(t *testing.T) {
	rec := &recorder{onCommand: func(s *Session, c *Command) {
		if err := s.Reject(c, avc.ErrorInternalError); err != nil {
			t.Errorf("Reject() error = %v", err)
		}
	}}
	s, tr, _ := newConnectedSession(t, DefaultConfig(), rec)
	receive(t, s, single(t, 3, false, metaFrame(t, uint8(avc.CTypeStatus), avc.PDUGetPlayStatus, avctp.PacketTypeSingle, nil)))
	got := tr.sent(t, 0)
	if got.meta == nil || got.meta.PDU != avc.PDUGetPlayStatus || !bytes.Equal(got.meta.Params, []byte{uint8(avc.ErrorInternalError)}) {
		t.Errorf("reject = %+v", got.meta)
	}
}

func TestAbandonedCommandRejected(t *testing.T) {
	rec := &recorder{}
	s, tr, _ := newConnectedSession(t, DefaultConfig(), rec)
	frame := vendorFrame(100)
	start := func(label uint8) []byte {
		p := &avctp.Packet{
			Header:  avctp.Header{Label: label, Type: avctp.PacketTypeStart, Packets: 3, PID: avctp.PIDAVRemoteControl},
			Payload: frame[:40],
		}
		buf, err := p.Marshal()
		if err != nil {
			t.Fatal(err)
		}
		return buf
	}
	receive(t, s, start(1))
	receive(t, s, start(2))
	if len(tr.written) != 1 {
		t.Fatalf("written %d packets, want 1", len(tr.written))
	}
	got := tr.sent(t, 0)
	if got.header.Label != 1 || avc.ResponseCode(got.frame.CType) != avc.ResponseRejected || got.frame.Opcode != avc.OpcodeVendorDependent {
		t.Errorf("reject = %+v", got)
	}
	if !s.reassembler.InProgress() {
		t.Error("new start was not kept")
	}
}

func TestNotificationRegistration(t *testing.T) {
	rec := &recorder{}
	s, tr, sched := newConnectedSession(t, DefaultConfig(), rec)

	label, err := s.Register(avc.EventVolumeChanged, nil)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	sent := tr.sent(t, -1)
	if avc.CType(sent.frame.CType) != avc.CTypeNotify || sent.meta == nil || sent.meta.PDU != avc.PDURegisterNotification {
		t.Fatalf("registration = %+v", sent)
	}
	if _, err := s.Register(avc.EventVolumeChanged, nil); !errors.Is(err, ErrBusy) {
		t.Fatalf("second Register() error = %v, want ErrBusy", err)
	}
	if !s.Idle() {
		t.Fatal("registration occupied the request slot")
	}
	other, err := s.Send(NewMetadataCommand(avc.CTypeStatus, avc.PDUGetPlayStatus, nil))
	if err != nil {
		t.Fatalf("Send() alongside registration error = %v", err)
	}
	if other == label {
		t.Fatalf("registration and request share label %d", label)
	}

	notification := func(code avc.ResponseCode, volume byte) []byte {
		return single(t, label, true, metaFrame(t, uint8(code), avc.PDURegisterNotification, avctp.PacketTypeSingle, []byte{uint8(avc.EventVolumeChanged), volume}))
	}
	receive(t, s, notification(avc.ResponseInterim, 0x30))
	if len(rec.responses) != 1 {
		t.Fatalf("delivered %d responses, want 1", len(rec.responses))
	}
	if r := rec.responses[0]; !r.Interim() || r.Event != avc.EventVolumeChanged {
		t.Fatalf("interim = %+v", r)
	}
	if s.Idle() {
		t.Fatal("notification cleared the request slot")
	}
	s.Release()

	receive(t, s, notification(avc.ResponseChanged, 0x40))
	if len(rec.responses) != 2 {
		t.Fatalf("delivered %d responses, want 2", len(rec.responses))
	}
	if r := rec.responses[1]; r.Code != avc.ResponseChanged || !bytes.Equal(r.Operands, []byte{uint8(avc.EventVolumeChanged), 0x40}) {
		t.Fatalf("changed = %+v", r)
	}
	reg := s.corr.registrations[avc.EventVolumeChanged]
	if reg == nil || reg.awaiting {
		t.Fatalf("registration after changed = %+v", reg)
	}

	// acknowledged registrations have no watchdog; only the request times out.
	sched.Advance(time.Minute)
	if len(rec.responses) != 3 || rec.responses[2].Opcode != avc.OpcodeVendorDependent || rec.responses[2].Event != 0 {
		t.Fatalf("responses = %+v, want request timeout only", rec.responses)
	}

	if _, err := s.Register(avc.EventVolumeChanged, nil); err != nil {
		t.Fatalf("re-Register() error = %v", err)
	}
}

func TestNotificationTimeoutAndReject(t *testing.T) {
	t.Run("timeout before interim", func(t *testing.T) {
		rec := &recorder{}
		s, _, sched := newConnectedSession(t, DefaultConfig(), rec)
		if _, err := s.Register(avc.EventTrackChanged, nil); err != nil {
			t.Fatal(err)
		}
		sched.Advance(DefaultConfig().WatchdogTimeout)
		if len(rec.responses) != 1 || !errors.Is(rec.responses[0].Err, ErrTimeout) || rec.responses[0].Event != avc.EventTrackChanged {
			t.Fatalf("responses = %+v", rec.responses)
		}
		if s.corr.registrations[avc.EventTrackChanged] != nil {
			t.Error("timed out registration kept")
		}
	})

	t.Run("rejected", func(t *testing.T) {
		rec := &recorder{}
		s, _, _ := newConnectedSession(t, DefaultConfig(), rec)
		label, err := s.Register(avc.EventTrackChanged, nil)
		if err != nil {
			t.Fatal(err)
		}
		receive(t, s, single(t, label, true, metaFrame(t, uint8(avc.ResponseRejected), avc.PDURegisterNotification, avctp.PacketTypeSingle, []byte{uint8(avc.ErrorInvalidParameter)})))
		if len(rec.responses) != 1 || rec.responses[0].Event != avc.EventTrackChanged {
			t.Fatalf("responses = %+v", rec.responses)
		}
		var rej *RejectedError
		if !errors.As(rec.responses[0].Err, &rej) || rej.Status != avc.ErrorInvalidParameter {
			t.Fatalf("Err = %v, want rejected with invalid parameter", rec.responses[0].Err)
		}
		if s.corr.registrations[avc.EventTrackChanged] != nil {
			t.Error("rejected registration kept")
		}
	})
}

func TestChangedBeforeInterim(t *testing.T) {
	rec := &recorder{}
	s, _, sched := newConnectedSession(t, DefaultConfig(), rec)
	label, err := s.Register(avc.EventTrackChanged, nil)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	receive(t, s, single(t, label, true, metaFrame(t, uint8(avc.ResponseChanged), avc.PDURegisterNotification, avctp.PacketTypeSingle, []byte{uint8(avc.EventTrackChanged), 0, 0, 0, 0, 0, 0, 0, 1})))
	s.Release()

	sched.Advance(time.Minute)
	if len(rec.responses) != 1 {
		t.Fatalf("delivered %d responses, want 1: %+v", len(rec.responses), rec.responses)
	}
	if r := rec.responses[0]; r.Err != nil || r.Code != avc.ResponseChanged || r.Event != avc.EventTrackChanged {
		t.Errorf("response = %+v", r)
	}
	reg := s.corr.registrations[avc.EventTrackChanged]
	if reg == nil || reg.awaiting {
		t.Fatalf("registration = %+v", reg)
	}
	if _, err := s.Register(avc.EventTrackChanged, nil); err != nil {
		t.Errorf("re-Register() error = %v", err)
	}
}

func TestNotifyPeerRegistration(t *testing.T) {
	rec := &recorder{onCommand: func(s *Session, c *Command) {
		if c.Metadata != nil && c.Metadata.PDU == avc.PDURegisterNotification {
			if err := s.Respond(c, avc.ResponseInterim, []byte{uint8(avc.EventVolumeChanged), 0x20}); err != nil {
				t.Errorf("Respond() error = %v", err)
			}
		}
	}}
	s, tr, _ := newConnectedSession(t, DefaultConfig(), rec)
	if err := s.Notify(avc.EventVolumeChanged, []byte{0x40}); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("Notify() before registration error = %v, want ErrNotRegistered", err)
	}

	receive(t, s, single(t, 7, false, metaFrame(t, uint8(avc.CTypeNotify), avc.PDURegisterNotification, avctp.PacketTypeSingle, []byte{uint8(avc.EventVolumeChanged)})))
	if len(rec.commands) != 1 {
		t.Fatalf("delivered %d commands, want 1", len(rec.commands))
	}
	if err := s.Notify(avc.EventVolumeChanged, []byte{0x40}); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	got := tr.sent(t, -1)
	if got.header.Label != 7 || avc.ResponseCode(got.frame.CType) != avc.ResponseChanged {
		t.Errorf("changed = %+v", got)
	}
	if got.meta == nil || !bytes.Equal(got.meta.Params, []byte{uint8(avc.EventVolumeChanged), 0x40}) {
		t.Errorf("changed params = %+v", got.meta)
	}
	if err := s.Notify(avc.EventVolumeChanged, []byte{0x41}); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("second Notify() error = %v, want ErrNotRegistered", err)
	}
}

func TestPeerRegistrationForBadEventRejected(t *testing.T) {
	rec := &recorder{}
	s, tr, _ := newConnectedSession(t, DefaultConfig(), rec)
	receive(t, s, single(t, 7, false, metaFrame(t, uint8(avc.CTypeNotify), avc.PDURegisterNotification, avctp.PacketTypeSingle, []byte{0x20})))
	if len(rec.commands) != 0 {
		t.Fatal("bad registration delivered")
	}
	got := tr.sent(t, 0)
	if avc.ResponseCode(got.frame.CType) != avc.ResponseRejected || got.meta == nil || !bytes.Equal(got.meta.Params, []byte{uint8(avc.ErrorInvalidParameter)}) {
		t.Errorf("reject = %+v", got)
	}
}

func TestPoll(t *testing.T) {
	rec := &recorder{}
	s, tr, _ := newConnectedSession(t, DefaultConfig(), rec)
	tr.rx = append(single(t, 1, false, passThroughFrame(uint8(avc.CTypeControl), 0x44)),
		single(t, 2, false, passThroughFrame(uint8(avc.CTypeControl), 0x45))...)
	if err := s.Poll(); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if len(tr.rx) != 0 {
		t.Errorf("%d bytes left in transport", len(tr.rx))
	}
	if len(rec.commands) != 1 || s.gate.held.Len() != 1 {
		t.Fatalf("commands = %d, held = %d; want 1, 1", len(rec.commands), s.gate.held.Len())
	}
	s.Release()
	if len(rec.commands) != 2 {
		t.Errorf("delivered %d commands, want 2", len(rec.commands))
	}
}
