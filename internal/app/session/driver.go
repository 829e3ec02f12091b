package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/shiomiya/skipbeat/internal/domain/plan"
	"github.com/shiomiya/skipbeat/internal/infra/sched"
)

// DefaultTickInterval drives the elapsed-time display. Correctness rests on
// the per-slice boundary timers, never on the tick.
const DefaultTickInterval = 500 * time.Millisecond

// Skipper issues the external skip command.
type Skipper interface {
	Next(ctx context.Context) error
}

// CredentialSource reports whether a usable credential is held.
type CredentialSource interface {
	Available() bool
}

// Config holds driver configuration.
type Config struct {
	TickInterval time.Duration
}

// Driver runs a timed interval session: one boundary timer per slice, each
// of which advances the slice index and fires a skip command, plus a display
// tick. All timers are cancelled on stop, plan change, credential loss, and
// teardown; a stale timer from a previous run never mutates state.
type Driver struct {
	mu sync.RWMutex

	scheduler sched.Scheduler
	player    Skipper
	creds     CredentialSource
	tick      time.Duration

	status    Status
	timeline  plan.Stats
	runID     string
	startedAt time.Time
	sliceIdx  int

	boundaryCancels []func()
	tickCancel      func()

	eventCh chan Event
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewDriver creates an idle session driver.
func NewDriver(scheduler sched.Scheduler, player Skipper, creds CredentialSource, cfg Config) *Driver {
	tick := cfg.TickInterval
	if tick <= 0 {
		tick = DefaultTickInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Driver{
		scheduler: scheduler,
		player:    player,
		creds:     creds,
		tick:      tick,
		status:    StatusIdle,
		eventCh:   make(chan Event, 16),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Events returns the event channel.
func (d *Driver) Events() <-chan Event {
	return d.eventCh
}

// SetTimeline replaces the timeline. Any in-progress session is invalidated:
// a stale boundary from the previous plan must never fire.
func (d *Driver) SetTimeline(timeline plan.Stats) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopLocked()
	d.timeline = timeline
}

// Timeline returns the current timeline.
func (d *Driver) Timeline() plan.Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.timeline
}

// Start begins a session. It is a no-op without a credential or with an
// empty timeline, and when a session is already running.
func (d *Driver) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.status == StatusRunning {
		return
	}
	if d.timeline.Empty() {
		zlog.Debug().Msg("session: start ignored, empty timeline")
		return
	}
	if !d.creds.Available() {
		zlog.Debug().Msg("session: start ignored, no credential")
		return
	}

	d.cancelTimersLocked()

	d.runID = uuid.New().String()
	d.startedAt = d.scheduler.Now()
	d.status = StatusRunning
	d.sliceIdx = 0

	// One absolute-offset timer per slice, armed up front so boundaries
	// fire strictly in timeline order.
	runID := d.runID
	d.boundaryCancels = make([]func(), 0, len(d.timeline.Slices))
	for _, s := range d.timeline.Slices {
		s := s
		cancel := d.scheduler.After(s.End, func() {
			d.onBoundary(runID, s)
		})
		d.boundaryCancels = append(d.boundaryCancels, cancel)
	}

	d.tickCancel = d.scheduler.Every(d.tick, func() {
		d.onTick(runID)
	})

	zlog.Info().Msgf("session: started run=%s slices=%d total=%v",
		runID, len(d.timeline.Slices), d.timeline.TotalDuration)

	d.sendEventLocked(Event{Type: EventStarted, RunID: runID, Status: d.status})
}

// Stop cancels all pending timers and resets to idle.
func (d *Driver) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()
}

// stopLocked cancels everything and resets. Must be called with d.mu held.
func (d *Driver) stopLocked() {
	wasActive := d.status == StatusRunning

	d.cancelTimersLocked()
	d.status = StatusIdle
	d.sliceIdx = 0
	d.startedAt = time.Time{}
	runID := d.runID
	d.runID = ""

	if wasActive {
		zlog.Info().Msgf("session: stopped run=%s", runID)
		d.sendEventLocked(Event{Type: EventStopped, RunID: runID, Status: d.status})
	}
}

// cancelTimersLocked releases every scheduled action. Must be called with
// d.mu held.
func (d *Driver) cancelTimersLocked() {
	for _, cancel := range d.boundaryCancels {
		cancel()
	}
	d.boundaryCancels = nil
	if d.tickCancel != nil {
		d.tickCancel()
		d.tickCancel = nil
	}
}

// HandleCredentialLost resets a running session when the credential goes
// away.
func (d *Driver) HandleCredentialLost() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.status == StatusRunning {
		zlog.Warn().Msg("session: credential lost, stopping")
		d.stopLocked()
	}
}

// Status returns the current session status.
func (d *Driver) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.status
}

// StartedAt returns the session anchor time, zero when not running.
func (d *Driver) StartedAt() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.startedAt
}

// CurrentSliceIndex returns the index of the slice in progress.
func (d *Driver) CurrentSliceIndex() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.sliceIdx
}

// Elapsed returns the wall-clock time since the session started.
func (d *Driver) Elapsed() time.Duration {
	d.mu.RLock()
	defer d.mu.RUnlock()

	switch d.status {
	case StatusRunning:
		return d.scheduler.Now().Sub(d.startedAt)
	case StatusCompleted:
		return d.timeline.TotalDuration
	default:
		return 0
	}
}

// NextSkipIn returns the time until the current slice's skip fires. The
// second return is false when no skip is pending (idle, completed, or the
// final slice which plays out).
func (d *Driver) NextSkipIn() (time.Duration, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.status != StatusRunning || d.sliceIdx >= len(d.timeline.Slices) {
		return 0, false
	}
	s := d.timeline.Slices[d.sliceIdx]
	if !s.SkipAfter {
		return 0, false
	}

	remaining := d.startedAt.Add(s.End).Sub(d.scheduler.Now())
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

// Close tears down the driver.
func (d *Driver) Close() {
	d.Stop()
	d.cancel()
	close(d.eventCh)
}

// onBoundary handles a slice boundary firing.
func (d *Driver) onBoundary(runID string, s plan.Slice) {
	d.mu.Lock()
	defer d.mu.Unlock()

	// A timer from a superseded run must not touch current state.
	if d.runID != runID || d.status != StatusRunning {
		return
	}

	last := len(d.timeline.Slices) - 1
	if next := s.Index + 1; next <= last {
		d.sliceIdx = next
	} else {
		d.sliceIdx = last
	}

	zlog.Debug().Msgf("session: slice %d ended at %v (skip=%t)", s.Index, s.End, s.SkipAfter)
	d.sendEventLocked(Event{Type: EventSliceEnded, RunID: runID, Slice: &s, Status: d.status})

	if s.SkipAfter {
		// Fire-and-forget: a failed skip is logged, never aborts the session.
		go func() {
			if err := d.player.Next(d.ctx); err != nil {
				zlog.Error().Msgf("session: skip command failed at slice %d: %v", s.Index, err)
			}
		}()
		d.sendEventLocked(Event{Type: EventSkipIssued, RunID: runID, Slice: &s, Status: d.status})
	}

	if s.Index == last {
		d.status = StatusCompleted
		if d.tickCancel != nil {
			d.tickCancel()
			d.tickCancel = nil
		}
		zlog.Info().Msgf("session: completed run=%s", runID)
		d.sendEventLocked(Event{Type: EventCompleted, RunID: runID, Status: d.status})
	}
}

// onTick emits the display tick while the run is live.
func (d *Driver) onTick(runID string) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.runID != runID || d.status != StatusRunning {
		return
	}
	d.sendEventLocked(Event{Type: EventTick, RunID: runID, Status: d.status})
}

// sendEventLocked sends an event without blocking.
// Must be called with lock held.
func (d *Driver) sendEventLocked(e Event) {
	select {
	case d.eventCh <- e:
	case <-d.ctx.Done():
	default:
		// Channel full, drop event
	}
}
