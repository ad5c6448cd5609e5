package monitor

import (
	"sync"
	"time"
)

type fakeTimer struct {
	stopped bool
	delay   time.Duration
	fn      func()
}

func (t *fakeTimer) Stop() bool {
	t.stopped = true
	return true
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(0, 0)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTimer{delay: d, fn: fn}
	f.timers = append(f.timers, t)
	return t
}

// Advance moves time forward and fires every live timer whose delay has
// elapsed.
func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	var due, pending []*fakeTimer
	for _, t := range f.timers {
		if t.stopped {
			continue
		}
		if t.delay <= d {
			due = append(due, t)
		} else {
			t.delay -= d
			pending = append(pending, t)
		}
	}
	f.timers = pending
	f.mu.Unlock()

	for _, t := range due {
		t.fn()
	}
}
