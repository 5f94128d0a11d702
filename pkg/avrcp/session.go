// Package avrcp implements the AVRCP transport engine: framing of AV/C commands
// over AVCTP, fragmentation, pull continuations, response correlation and flow
// control for one peer connection per Session.
package avrcp

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/muxable/avrcp/pkg/avctp"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Transport is the ordered packet stream beneath a session, usually an L2CAP channel.
type Transport interface {
	// Claim returns a buffer of n bytes to be filled and committed. It fails when
	// the transport cannot accept n bytes.
	Claim(n int) ([]byte, error)
	// Commit sends the first n bytes of the claimed buffer.
	Commit(n int) error
	// Available returns received bytes not yet dropped.
	Available() []byte
	// Drop discards the first n available bytes.
	Drop(n int)
}

// Session is the engine state for one connected peer. A session is not safe
// for concurrent use; Loop serializes access for hosts that need it.
type Session struct {
	ID   string
	Peer string

	cfg       Config
	state     State
	handler   Handler
	transport Transport
	mtu       int
	scheduler Scheduler
	log       *zap.Logger
	metrics   *Metrics

	labels      avctp.Labels
	lastRxLabel uint8
	reassembler avctp.Reassembler
	corr        correlator
	gate        *gate
	// inCont tracks a response we are pulling from the peer, outCont one the peer pulls from us.
	inCont  *continuation
	outCont *continuation
	pumping bool
}

type Option func(*Session)

func WithLogger(l *zap.Logger) Option {
	return func(s *Session) { s.log = l }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

func WithScheduler(sc Scheduler) Option {
	return func(s *Session) { s.scheduler = sc }
}

// WithPeer names the remote device in logs.
func WithPeer(peer string) Option {
	return func(s *Session) { s.Peer = peer }
}

func NewSession(cfg Config, h Handler, opts ...Option) *Session {
	s := &Session{
		ID:      uuid.NewString(),
		cfg:     cfg,
		handler: h,
		log:     zap.L(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.handler == nil {
		s.handler = HandlerFuncs{}
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(prometheus.NewRegistry())
	}
	s.log = s.log.With(zap.String("session", s.ID))
	if s.Peer != "" {
		s.log = s.log.With(zap.String("peer", s.Peer))
	}
	return s
}

func (s *Session) move(next State) error {
	if !s.state.canMoveTo(next) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidState, s.state, next)
	}
	s.log.Debug("session state", zap.Stringer("from", s.state), zap.Stringer("to", next))
	s.state = next
	return nil
}

// Init validates the configuration and makes the session ready to connect. It
// fails with ErrNoScheduler unless the session has a scheduler from
// WithScheduler or NewLoop.
func (s *Session) Init() error {
	if err := s.move(StateInitialising); err != nil {
		return err
	}
	if err := s.cfg.Validate(); err != nil {
		s.state = StateUninitialised
		return fmt.Errorf("avrcp: invalid config: %w", err)
	}
	if s.scheduler == nil {
		s.state = StateUninitialised
		return ErrNoScheduler
	}
	s.gate = newGate(s.cfg.InboundQueueLimit)
	return s.move(StateReady)
}

// Connect records that the connection manager is opening the transport.
func (s *Session) Connect() error {
	return s.move(StateConnecting)
}

// AbortConnect returns a connecting session to ready.
func (s *Session) AbortConnect() error {
	if s.state != StateConnecting {
		return fmt.Errorf("%w: abort connect in %s", ErrInvalidState, s.state)
	}
	return s.move(StateReady)
}

// Attach binds the opened transport and its negotiated MTU. An mtu of 0 uses
// the configured maximum frame size.
func (s *Session) Attach(t Transport, mtu int) error {
	if s.state != StateConnecting {
		return fmt.Errorf("%w: attach in %s", ErrInvalidState, s.state)
	}
	if mtu == 0 || mtu > s.cfg.MaxFrameSize {
		mtu = s.cfg.MaxFrameSize
	}
	if mtu < MinMaxFrameSize {
		return fmt.Errorf("avrcp: mtu %d below %d", mtu, MinMaxFrameSize)
	}
	s.transport = t
	s.mtu = mtu
	if err := s.move(StateConnected); err != nil {
		return err
	}
	s.metrics.ActiveSessions.Inc()
	s.log.Info("session connected", zap.Int("mtu", mtu))
	return nil
}

// Disconnect tears down every transfer in flight. No response is delivered for
// requests cancelled here.
func (s *Session) Disconnect() error {
	if err := s.move(StateDisconnecting); err != nil {
		return err
	}
	s.corr.reset()
	s.discardInbound("disconnect")
	s.discardOutbound("disconnect")
	s.gate.reset()
	s.reassembler.Reset()
	s.labels.Reset()
	s.lastRxLabel = 0
	s.transport = nil
	s.metrics.ActiveSessions.Dec()
	s.log.Info("session disconnected")
	return s.move(StateReady)
}

// Close disconnects if needed and retires the session.
func (s *Session) Close() error {
	switch s.state {
	case StateClosed:
		return nil
	case StateConnected:
		if err := s.Disconnect(); err != nil {
			return err
		}
	case StateConnecting:
		if err := s.move(StateReady); err != nil {
			return err
		}
	case StateUninitialised, StateInitialising:
		s.state = StateClosed
		return nil
	}
	return s.move(StateClosed)
}

func (s *Session) State() State {
	return s.state
}

// MTU is the negotiated transport packet size while connected.
func (s *Session) MTU() int {
	return s.mtu
}

// Blocked reports whether inbound processing waits for Release.
func (s *Session) Blocked() bool {
	return s.gate != nil && s.gate.blocked
}

// BlockedBy returns the operation of the message holding the gate.
func (s *Session) BlockedBy() (Tag, bool) {
	if !s.Blocked() {
		return Tag{}, false
	}
	return s.gate.tag, true
}

// Idle reports whether a new request may be sent.
func (s *Session) Idle() bool {
	return s.corr.idle()
}

// Pending returns the label and operation of the outstanding request.
func (s *Session) Pending() (uint8, Tag, bool) {
	if s.corr.main == nil {
		return 0, Tag{}, false
	}
	return s.corr.main.label, s.corr.main.tag, true
}

// LastLabel is the label of the most recent local command.
func (s *Session) LastLabel() uint8 {
	return s.labels.Last()
}

// LastReceivedLabel is the label of the most recent command from the peer.
func (s *Session) LastReceivedLabel() uint8 {
	return s.lastRxLabel
}

func (s *Session) connected() error {
	if s.state != StateConnected {
		return fmt.Errorf("%w: %s", ErrNotConnected, s.state)
	}
	return nil
}
