package avrcp

import (
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/muxable/avrcp/pkg/avc"
	"github.com/muxable/avrcp/pkg/avctp"
	"go.uber.org/zap/zaptest"
)

var errNoSpace = errors.New("no buffer space")

// fakeTransport records committed packets and serves queued inbound bytes.
type fakeTransport struct {
	written [][]byte
	rx      []byte
	claimed []byte

	// limitClaims makes Claim fail once claimsLeft reaches zero.
	limitClaims bool
	claimsLeft  int
}

func (f *fakeTransport) Claim(n int) ([]byte, error) {
	if f.limitClaims {
		if f.claimsLeft == 0 {
			return nil, errNoSpace
		}
		f.claimsLeft--
	}
	f.claimed = make([]byte, n)
	return f.claimed, nil
}

func (f *fakeTransport) Commit(n int) error {
	f.written = append(f.written, append([]byte(nil), f.claimed[:n]...))
	return nil
}

func (f *fakeTransport) Available() []byte { return f.rx }

func (f *fakeTransport) Drop(n int) { f.rx = f.rx[n:] }

// sentFrame is a decoded Single packet written by the session.
type sentFrame struct {
	header avctp.Header
	frame  avc.Frame
	meta   *avc.Metadata
}

func (f *fakeTransport) sent(t *testing.T, i int) sentFrame {
	t.Helper()
	if i < 0 {
		i += len(f.written)
	}
	if i < 0 || i >= len(f.written) {
		t.Fatalf("packet %d not written, have %d", i, len(f.written))
	}
	p, err := avctp.UnmarshalPacket(f.written[i])
	if err != nil {
		t.Fatalf("written packet %d: %v", i, err)
	}
	out := sentFrame{header: p.Header}
	if len(p.Payload) == 0 {
		return out
	}
	if err := out.frame.Unmarshal(p.Payload); err != nil {
		t.Fatalf("written frame %d: %v", i, err)
	}
	if out.frame.IsMetadata() {
		out.meta = &avc.Metadata{}
		if err := out.meta.Unmarshal(out.frame.Operands); err != nil {
			t.Fatalf("written metadata %d: %v", i, err)
		}
	}
	return out
}

// manualScheduler fires timers only when the test advances its clock.
type manualScheduler struct {
	now    time.Duration
	timers []*manualTimer
}

type manualTimer struct {
	at      time.Duration
	fn      func()
	stopped bool
}

func (m *manualScheduler) Schedule(d time.Duration, fn func()) func() {
	mt := &manualTimer{at: m.now + d, fn: fn}
	m.timers = append(m.timers, mt)
	return func() { mt.stopped = true }
}

func (m *manualScheduler) Advance(d time.Duration) {
	target := m.now + d
	for {
		var due []*manualTimer
		for _, mt := range m.timers {
			if !mt.stopped && mt.at <= target {
				due = append(due, mt)
			}
		}
		if len(due) == 0 {
			break
		}
		sort.Slice(due, func(i, j int) bool { return due[i].at < due[j].at })
		mt := due[0]
		mt.stopped = true
		m.now = mt.at
		mt.fn()
	}
	m.now = target
}

// recorder collects what the session delivers. The hooks run before recording.
type recorder struct {
	commands  []*Command
	responses []*Response
	onCommand func(s *Session, c *Command)
}

func (r *recorder) HandleCommand(s *Session, c *Command) {
	r.commands = append(r.commands, c)
	if r.onCommand != nil {
		r.onCommand(s, c)
	}
}

func (r *recorder) HandleResponse(s *Session, resp *Response) {
	r.responses = append(r.responses, resp)
}

func newConnectedSession(t *testing.T, cfg Config, h Handler) (*Session, *fakeTransport, *manualScheduler) {
	t.Helper()
	sched := &manualScheduler{}
	tr := &fakeTransport{}
	s := NewSession(cfg, h, WithLogger(zaptest.NewLogger(t)), WithScheduler(sched), WithPeer("00:11:22:33:44:55"))
	if err := s.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := s.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := s.Attach(tr, 0); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	return s, tr, sched
}

func single(t *testing.T, label uint8, response bool, frame []byte) []byte {
	t.Helper()
	p := &avctp.Packet{
		Header:  avctp.Header{Label: label, Type: avctp.PacketTypeSingle, Response: response, PID: avctp.PIDAVRemoteControl},
		Payload: frame,
	}
	buf, err := p.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	return buf
}

func metaFrame(t *testing.T, ctype uint8, pdu avc.PDUID, typ avctp.PacketType, params []byte) []byte {
	t.Helper()
	buf, err := avc.MetadataFrame(ctype, &avc.Metadata{PDU: pdu, Type: typ, Params: params})
	if err != nil {
		t.Fatalf("MetadataFrame() error = %v", err)
	}
	return buf
}

func passThroughFrame(ctype uint8, op uint8) []byte {
	return []byte{ctype, uint8(avc.SubunitTypePanel) << 3, uint8(avc.OpcodePassThrough), op, 0x00}
}

// vendorFrame is a vendor-dependent frame outside the Metadata-Transfer company id.
func vendorFrame(n int) []byte {
	buf := make([]byte, avc.HeaderSize+n)
	buf[0] = uint8(avc.CTypeControl)
	buf[1] = uint8(avc.SubunitTypePanel) << 3
	buf[2] = uint8(avc.OpcodeVendorDependent)
	buf[5] = 0x01
	for i := 6; i < len(buf); i++ {
		buf[i] = uint8(i)
	}
	return buf
}

func receive(t *testing.T, s *Session, buf []byte) {
	t.Helper()
	if err := s.Receive(buf); err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
}

func filled(n int, b byte) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = b
	}
	return buf
}
