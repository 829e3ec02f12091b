// Package counter provides the song completion counter: it estimates true
// listening time per track from polled snapshots and finalizes a completed
// song record exactly once per track transition.
package counter

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/shiomiya/skipbeat/internal/domain/track"
	"github.com/shiomiya/skipbeat/internal/infra/sched"
)

// Errors returned by counter operations.
var (
	ErrNotRunning     = errors.New("counter is not running")
	ErrAlreadyRunning = errors.New("counter is already running")
	ErrNoTrack        = errors.New("no track is playing")
	ErrNoCredential   = errors.New("no credential available")
)

// Status represents the counter lifecycle state.
type Status int

const (
	StatusIdle Status = iota
	StatusRunning
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusRunning:
		return "running"
	default:
		return "unknown"
	}
}

// Player issues the external skip command.
type Player interface {
	Next(ctx context.Context) error
}

// CredentialSource reports whether a usable credential is held.
type CredentialSource interface {
	Available() bool
}

// accumulator is the in-progress bookkeeping for the track currently being
// counted. It is replaced wholesale on every track transition.
type accumulator struct {
	snap          *track.Snapshot // latest snapshot of the tracked track
	startProgress time.Duration   // offset at which counting began
}

// State is a read-only view of the counter for display.
type State struct {
	Status        Status
	Error         string
	Count         int
	TotalPlayed   time.Duration
	LastCompleted *track.CompletedSong

	// Live fields, zero when nothing is being tracked.
	TrackID        string
	TrackName      string
	Elapsed        time.Duration
	Remaining      time.Duration
	AfterSongTotal time.Duration
}

// Counter tracks elapsed per-track listening time across snapshots.
type Counter struct {
	mu sync.Mutex

	scheduler sched.Scheduler
	player    Player
	creds     CredentialSource

	status          Status
	active          *accumulator
	lastFinalizedID string

	lastCompleted *track.CompletedSong
	count         int
	totalPlayed   time.Duration
	errMsg        string
}

// New creates an idle counter.
func New(scheduler sched.Scheduler, player Player, creds CredentialSource) *Counter {
	return &Counter{
		scheduler: scheduler,
		player:    player,
		creds:     creds,
	}
}

// Start begins counting against the currently playing track. Counting
// starts from the track's current live position, so listening before the
// session began is not credited. Totals reset for the new session.
func (c *Counter) Start(snap *track.Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status == StatusRunning {
		return ErrAlreadyRunning
	}
	if !c.creds.Available() {
		return ErrNoCredential
	}
	if snap == nil || !snap.Playing {
		return ErrNoTrack
	}

	c.status = StatusRunning
	c.count = 0
	c.totalPlayed = 0
	c.lastCompleted = nil
	c.errMsg = ""
	c.lastFinalizedID = ""
	c.beginTrackingLocked(snap)

	zlog.Info().Msgf("counter: started on %q at %v", snap.Name, c.active.startProgress)
	return nil
}

// Observe feeds a playback snapshot into the counter. A nil snapshot means
// playback stopped.
func (c *Counter) Observe(snap *track.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != StatusRunning {
		return
	}

	if snap == nil {
		// Playback stopped: close out the active track once.
		c.finalizeLocked()
		return
	}

	if c.active != nil && c.active.snap.SameTrack(snap) {
		// Same track: refresh progress and display fields in place.
		c.active.snap = snap
		return
	}

	if c.active != nil {
		c.finalizeLocked()
	}

	// A snapshot for the identity we just finalized, with no replacement
	// in between, is residue of the finished track, not a new listen.
	if snap.ID == c.lastFinalizedID {
		return
	}
	c.beginTrackingLocked(snap)
}

// Skip finalizes the active track at its current live position, then issues
// the external skip command. A failed skip surfaces as an error without
// losing the already-finalized record.
func (c *Counter) Skip(ctx context.Context) error {
	c.mu.Lock()
	if c.status != StatusRunning {
		c.mu.Unlock()
		return ErrNotRunning
	}
	c.finalizeLocked()
	c.mu.Unlock()

	if err := c.player.Next(ctx); err != nil {
		c.mu.Lock()
		c.errMsg = "Failed to skip track: " + err.Error()
		c.mu.Unlock()
		zlog.Error().Msgf("counter: skip command failed: %v", err)
		return errors.Wrap(err, "skip command failed")
	}

	c.mu.Lock()
	c.errMsg = ""
	c.mu.Unlock()
	return nil
}

// Stop finalizes any active track and resets the counter to idle. The
// accumulated totals remain readable until the next Start.
func (c *Counter) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != StatusRunning {
		return
	}
	c.finalizeLocked()
	c.status = StatusIdle
	c.lastFinalizedID = ""
	c.errMsg = ""
	zlog.Info().Msgf("counter: stopped, %d songs completed (%v)", c.count, c.totalPlayed)
}

// Status returns the counter lifecycle state.
func (c *Counter) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// State returns a display snapshot of the counter.
func (c *Counter) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := State{
		Status:        c.status,
		Error:         c.errMsg,
		Count:         c.count,
		TotalPlayed:   c.totalPlayed,
		LastCompleted: c.lastCompleted,
	}

	if c.active != nil {
		live := c.liveProgressLocked()
		s.TrackID = c.active.snap.ID
		s.TrackName = c.active.snap.Name
		s.Elapsed = live - c.active.startProgress
		s.Remaining = c.active.snap.Duration - live
		s.AfterSongTotal = c.totalPlayed + (c.active.snap.Duration - c.active.startProgress)
	}
	return s
}

// beginTrackingLocked starts counting a new track from its current live
// position. Must be called with c.mu held.
func (c *Counter) beginTrackingLocked(snap *track.Snapshot) {
	c.active = &accumulator{
		snap:          snap,
		startProgress: snap.LiveProgress(c.scheduler.Now()),
	}
	c.lastFinalizedID = ""
	zlog.Debug().Msgf("counter: tracking %q from %v", snap.Name, c.active.startProgress)
}

// liveProgressLocked projects the active track's progress to now. Must be
// called with c.mu held and c.active non-nil.
func (c *Counter) liveProgressLocked() time.Duration {
	return c.active.snap.LiveProgress(c.scheduler.Now())
}

// finalizeLocked closes out the active accumulator, appending a completed
// song record when any time was credited. A zero-length finalization still
// clears the accumulator. Must be called with c.mu held.
func (c *Counter) finalizeLocked() {
	if c.active == nil {
		return
	}

	snap := c.active.snap
	latest := c.liveProgressLocked()
	if latest < c.active.startProgress {
		latest = c.active.startProgress
	}
	if latest > snap.Duration {
		latest = snap.Duration
	}
	played := latest - c.active.startProgress

	c.lastFinalizedID = snap.ID
	c.active = nil

	if played <= 0 {
		zlog.Debug().Msgf("counter: discarding zero-length span for %q", snap.Name)
		return
	}

	record := &track.CompletedSong{
		ID:      snap.ID,
		Name:    snap.Name,
		Artists: snap.Artists,
		Played:  played,
	}
	c.lastCompleted = record
	c.count++
	c.totalPlayed += played
	zlog.Info().Msgf("counter: completed %q (%v played, total %d songs)", snap.Name, played, c.count)
}
