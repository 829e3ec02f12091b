// Package sched provides the timer scheduling abstraction shared by the
// session driver and the playback observer. All timers are handed out as
// cancel functions; a cancelled timer never fires its callback afterward.
package sched

import (
	"sync"
	"time"
)

// Scheduler schedules one-shot and repeating actions against a clock.
type Scheduler interface {
	// Now returns the scheduler's current time.
	Now() time.Time

	// After runs fn once after d elapses. The returned cancel function is
	// idempotent and prevents fn from running if it has not fired yet.
	After(d time.Duration, fn func()) (cancel func())

	// Every runs fn repeatedly at the given interval until cancelled.
	Every(interval time.Duration, fn func()) (cancel func())
}

// Real is the wall-clock Scheduler used in production.
type Real struct{}

// NewReal creates a wall-clock scheduler.
func NewReal() *Real {
	return &Real{}
}

func (r *Real) Now() time.Time {
	return time.Now()
}

func (r *Real) After(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}

func (r *Real) Every(interval time.Duration, fn func()) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	var once sync.Once

	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()

	return func() {
		once.Do(func() {
			ticker.Stop()
			close(done)
		})
	}
}
