package avrcp

import "time"

// Scheduler arms timers for a session. The callback must run on the goroutine
// that drives the session; Loop provides such a scheduler. A session has none
// until WithScheduler or NewLoop supplies one.
type Scheduler interface {
	Schedule(d time.Duration, fn func()) (cancel func())
}

// timer is a rearmable watchdog. A fire that raced with stop or a later arm is ignored.
type timer struct {
	gen    uint64
	cancel func()
}

func (t *timer) arm(sc Scheduler, d time.Duration, fn func()) {
	t.stop()
	gen := t.gen
	t.cancel = sc.Schedule(d, func() {
		if t.gen != gen {
			return
		}
		t.cancel = nil
		fn()
	})
}

func (t *timer) stop() {
	t.gen++
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
}
