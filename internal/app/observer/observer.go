// Package observer provides the live playback polling loop.
package observer

import (
	"context"
	"sync"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/shiomiya/skipbeat/internal/domain/track"
	"github.com/shiomiya/skipbeat/internal/infra/sched"
)

// DefaultPollInterval is how often playback state is read.
const DefaultPollInterval = 5 * time.Second

// Player reads the external service's current playback state.
type Player interface {
	CurrentlyPlaying(ctx context.Context) (*track.Snapshot, error)
}

// CredentialSource reports whether a usable credential is held.
type CredentialSource interface {
	Available() bool
}

// UpdateFunc receives every snapshot the observer produces. snapshot is nil
// when nothing is playing or the poll failed; changed is false when the
// snapshot differs from the previous one only in progress fields, letting
// subscribers coalesce display updates.
type UpdateFunc func(snapshot *track.Snapshot, changed bool)

// Config holds observer configuration.
type Config struct {
	PollInterval time.Duration
}

// Observer polls the current-track operation on a fixed interval and
// normalizes responses into snapshots. It polls only while a credential is
// present, and discards results that arrive after deactivation.
type Observer struct {
	mu sync.Mutex

	scheduler sched.Scheduler
	player    Player
	creds     CredentialSource
	interval  time.Duration

	active     bool
	generation int // bumped on every stop; stale fetches check it
	cancelPoll func()

	last     *track.Snapshot
	errMsg   string
	loading  bool
	onUpdate []UpdateFunc
}

// New creates an inactive observer.
func New(scheduler sched.Scheduler, player Player, creds CredentialSource, cfg Config) *Observer {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Observer{
		scheduler: scheduler,
		player:    player,
		creds:     creds,
		interval:  interval,
	}
}

// OnUpdate registers a subscriber for snapshot updates.
func (o *Observer) OnUpdate(fn UpdateFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onUpdate = append(o.onUpdate, fn)
}

// Start begins polling: once immediately, then on every interval. A no-op
// without a credential or when already active.
func (o *Observer) Start() {
	o.mu.Lock()
	if o.active || !o.creds.Available() {
		o.mu.Unlock()
		return
	}
	o.active = true
	o.loading = true
	gen := o.generation
	o.cancelPoll = o.scheduler.Every(o.interval, func() {
		o.poll(gen)
	})
	o.mu.Unlock()

	o.poll(gen)
}

// Stop halts polling and invalidates any in-flight fetch.
func (o *Observer) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopLocked()
}

func (o *Observer) stopLocked() {
	if !o.active {
		return
	}
	o.active = false
	o.generation++
	o.loading = false
	if o.cancelPoll != nil {
		o.cancelPoll()
		o.cancelPoll = nil
	}
}

// HandleCredentialLost stops polling and clears the held snapshot when the
// credential goes away.
func (o *Observer) HandleCredentialLost() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopLocked()
	o.last = nil
	o.errMsg = ""
}

// Current returns the latest snapshot (nil when nothing is playing), the
// current error message, and whether the very first fetch is still pending.
func (o *Observer) Current() (*track.Snapshot, string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last, o.errMsg, o.loading
}

// poll performs a single fetch. The network call runs without the lock;
// results from a superseded generation are discarded to prevent a stale
// write after Stop.
func (o *Observer) poll(gen int) {
	o.mu.Lock()
	if !o.active || o.generation != gen {
		o.mu.Unlock()
		return
	}
	if !o.creds.Available() {
		zlog.Debug().Msg("observer: credential gone, stopping polls")
		o.stopLocked()
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), o.interval)
	snap, err := o.player.CurrentlyPlaying(ctx)
	cancel()

	o.mu.Lock()
	if !o.active || o.generation != gen {
		// Deactivated while the fetch was in flight.
		o.mu.Unlock()
		return
	}
	o.loading = false

	if err != nil {
		zlog.Warn().Msgf("observer: poll failed: %v", err)
		o.last = nil
		o.errMsg = err.Error()
		listeners := append([]UpdateFunc{}, o.onUpdate...)
		o.mu.Unlock()

		for _, fn := range listeners {
			fn(nil, true)
		}
		return
	}

	o.errMsg = ""
	changed := !snap.EqualIgnoringProgress(o.last)
	o.last = snap
	listeners := append([]UpdateFunc{}, o.onUpdate...)
	o.mu.Unlock()

	for _, fn := range listeners {
		fn(snap, changed)
	}
}
