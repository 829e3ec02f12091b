package sched

import (
	"sort"
	"sync"
	"time"
)

// Manual is a Scheduler driven entirely by explicit Advance calls, for
// deterministic tests. Timers fire synchronously inside Advance, in due-time
// order, on the caller's goroutine.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	nextID int
	timers []*manualTimer
}

type manualTimer struct {
	id        int
	due       time.Time
	interval  time.Duration // 0 for one-shot
	fn        func()
	cancelled bool
}

// NewManual creates a manual scheduler anchored at the given time.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) After(d time.Duration, fn func()) func() {
	return m.add(d, 0, fn)
}

func (m *Manual) Every(interval time.Duration, fn func()) func() {
	return m.add(interval, interval, fn)
}

func (m *Manual) add(d, interval time.Duration, fn func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := &manualTimer{
		id:       m.nextID,
		due:      m.now.Add(d),
		interval: interval,
		fn:       fn,
	}
	m.nextID++
	m.timers = append(m.timers, t)

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		t.cancelled = true
	}
}

// Advance moves the clock forward by d, firing every due timer in order.
// Repeating timers re-arm and may fire multiple times within one advance.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		t := m.popNextDue(target)
		if t == nil {
			break
		}
		t.fn()
	}

	m.mu.Lock()
	m.now = target
	m.mu.Unlock()
}

// popNextDue advances the clock to the earliest timer due at or before
// target and removes (or re-arms) it. Returns nil when no timer is due.
func (m *Manual) popNextDue(target time.Time) *manualTimer {
	m.mu.Lock()
	defer m.mu.Unlock()

	live := m.timers[:0]
	for _, t := range m.timers {
		if !t.cancelled {
			live = append(live, t)
		}
	}
	m.timers = live

	sort.SliceStable(m.timers, func(i, j int) bool {
		if m.timers[i].due.Equal(m.timers[j].due) {
			return m.timers[i].id < m.timers[j].id
		}
		return m.timers[i].due.Before(m.timers[j].due)
	})

	if len(m.timers) == 0 || m.timers[0].due.After(target) {
		return nil
	}

	t := m.timers[0]
	if t.due.After(m.now) {
		m.now = t.due
	}

	if t.interval > 0 {
		t.due = t.due.Add(t.interval)
	} else {
		m.timers = m.timers[1:]
	}
	return t
}

// PendingTimers returns the number of live timers, for test assertions.
func (m *Manual) PendingTimers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.timers {
		if !t.cancelled {
			n++
		}
	}
	return n
}
