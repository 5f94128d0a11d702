package avrcp

import (
	"context"
	"errors"
	"time"
)

var ErrLoopStopped = errors.New("avrcp: session loop stopped")

// Receiver is a transport that blocks until it has buffered inbound data.
type Receiver interface {
	Fill() error
}

// Loop drives one session from a single goroutine. API calls, inbound data and
// timer fires are all run through its event queue, one at a time.
type Loop struct {
	session *Session
	events  chan func()
	done    chan struct{}
}

// NewLoop takes ownership of s. The session must not be used outside Do from now on.
func NewLoop(s *Session) *Loop {
	l := &Loop{
		session: s,
		events:  make(chan func(), 16),
		done:    make(chan struct{}),
	}
	s.scheduler = l
	return l
}

// Run processes events until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-l.events:
			fn()
		}
	}
}

// Do runs fn on the loop goroutine and waits for its result.
func (l *Loop) Do(ctx context.Context, fn func(s *Session) error) error {
	errc := make(chan error, 1)
	select {
	case l.events <- func() { errc <- fn(l.session) }:
	case <-l.done:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-errc:
		return err
	case <-l.done:
		select {
		case err := <-errc:
			return err
		default:
			return ErrLoopStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Schedule implements Scheduler by posting fn back onto the loop.
func (l *Loop) Schedule(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, func() {
		select {
		case l.events <- fn:
		case <-l.done:
		}
	})
	return func() { t.Stop() }
}

// Serve feeds everything r receives to the session until r fails. Closing the
// underlying transport is the way to stop it.
func (l *Loop) Serve(ctx context.Context, r Receiver) error {
	for {
		if err := r.Fill(); err != nil {
			return err
		}
		if err := l.Do(ctx, (*Session).Poll); err != nil {
			return err
		}
	}
}

// ID returns the id of the session the loop owns.
func (l *Loop) ID() string {
	return l.session.ID
}
