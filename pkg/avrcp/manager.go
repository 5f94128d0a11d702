package avrcp

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type managed struct {
	loop   *Loop
	cancel context.CancelFunc
	done   chan error
}

// Manager runs independent sessions, one Loop each, with shared metrics.
type Manager struct {
	cfg     Config
	log     *zap.Logger
	metrics *Metrics

	mu       sync.Mutex
	sessions map[string]*managed
}

func NewManager(cfg Config, log *zap.Logger, reg prometheus.Registerer) *Manager {
	return &Manager{
		cfg:      cfg,
		log:      log,
		metrics:  NewMetrics(reg),
		sessions: make(map[string]*managed),
	}
}

// Open creates and initialises a session for peer and starts its loop.
func (m *Manager) Open(peer string, h Handler) (*Loop, error) {
	s := NewSession(m.cfg, h, WithLogger(m.log), WithMetrics(m.metrics), WithPeer(peer))
	l := NewLoop(s)
	if err := s.Init(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	entry := &managed{loop: l, cancel: cancel, done: make(chan error, 1)}
	go func() { entry.done <- l.Run(ctx) }()

	m.mu.Lock()
	m.sessions[s.ID] = entry
	m.mu.Unlock()
	m.log.Debug("session opened", zap.String("session", s.ID), zap.String("peer", peer))
	return l, nil
}

func (m *Manager) Get(id string) (*Loop, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	return e.loop, true
}

// IDs lists the open sessions.
func (m *Manager) IDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Remove closes the session and stops its loop.
func (m *Manager) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	e, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("avrcp: unknown session %s", id)
	}
	return m.stop(ctx, e)
}

func (m *Manager) stop(ctx context.Context, e *managed) error {
	err := e.loop.Do(ctx, (*Session).Close)
	e.cancel()
	<-e.done
	return err
}

// Close closes every session.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	entries := m.sessions
	m.sessions = make(map[string]*managed)
	m.mu.Unlock()

	var err error
	for id, e := range entries {
		if cerr := m.stop(ctx, e); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("session %s: %w", id, cerr))
		}
	}
	return err
}
