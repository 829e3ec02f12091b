package observer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiomiya/skipbeat/internal/domain/track"
	"github.com/shiomiya/skipbeat/internal/infra/sched"
)

type fakePlayer struct {
	mu    sync.Mutex
	snap  *track.Snapshot
	err   error
	calls int
}

func (f *fakePlayer) CurrentlyPlaying(ctx context.Context) (*track.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.snap, nil
}

func (f *fakePlayer) set(snap *track.Snapshot, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap = snap
	f.err = err
}

func (f *fakePlayer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeCreds struct {
	mu        sync.Mutex
	available bool
}

func (f *fakeCreds) Available() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.available
}

func (f *fakeCreds) set(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.available = v
}

type recorder struct {
	mu      sync.Mutex
	updates []bool // changed flags, in order
	snaps   []*track.Snapshot
}

func (r *recorder) record(snap *track.Snapshot, changed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, changed)
	r.snaps = append(r.snaps, snap)
}

func (r *recorder) changedFlags() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool{}, r.updates...)
}

func testSnapshot(id string, progress time.Duration, observedAt time.Time) *track.Snapshot {
	return &track.Snapshot{
		ID:         id,
		Name:       "Song " + id,
		Artists:    []string{"Artist"},
		Album:      "Album",
		Playing:    true,
		Progress:   progress,
		Duration:   3 * time.Minute,
		ObservedAt: observedAt,
	}
}

func newTestObserver(t *testing.T) (*Observer, *sched.Manual, *fakePlayer, *fakeCreds, *recorder) {
	t.Helper()
	clock := sched.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	player := &fakePlayer{}
	creds := &fakeCreds{available: true}
	rec := &recorder{}
	o := New(clock, player, creds, Config{PollInterval: 5 * time.Second})
	o.OnUpdate(rec.record)
	t.Cleanup(o.Stop)
	return o, clock, player, creds, rec
}

func TestObserver_ImmediatePollOnStart(t *testing.T) {
	o, _, player, _, _ := newTestObserver(t)
	player.set(testSnapshot("t1", 0, time.Now()), nil)

	_, _, loading := o.Current()
	assert.False(t, loading, "not loading before activation")

	o.Start()

	assert.Equal(t, 1, player.callCount())
	snap, errMsg, loading := o.Current()
	require.NotNil(t, snap)
	assert.Equal(t, "t1", snap.ID)
	assert.Empty(t, errMsg)
	assert.False(t, loading, "loading clears after the first fetch")
}

func TestObserver_StartWithoutCredentialIsNoop(t *testing.T) {
	o, clock, player, creds, _ := newTestObserver(t)
	creds.set(false)

	o.Start()
	clock.Advance(time.Minute)

	assert.Equal(t, 0, player.callCount())
}

func TestObserver_PollsOnInterval(t *testing.T) {
	o, clock, player, _, _ := newTestObserver(t)
	player.set(testSnapshot("t1", 0, clock.Now()), nil)

	o.Start()
	clock.Advance(15 * time.Second)

	assert.Equal(t, 4, player.callCount(), "immediate poll plus one per interval")
}

func TestObserver_NoContentMeansNoTrackNoError(t *testing.T) {
	o, _, player, _, _ := newTestObserver(t)
	player.set(nil, nil)

	o.Start()

	snap, errMsg, _ := o.Current()
	assert.Nil(t, snap)
	assert.Empty(t, errMsg)
}

func TestObserver_ChangeSuppression(t *testing.T) {
	o, clock, player, _, rec := newTestObserver(t)
	base := clock.Now()
	player.set(testSnapshot("t1", 0, base), nil)

	o.Start()

	// Same track, only progress moved: coalesced.
	player.set(testSnapshot("t1", 5*time.Second, base.Add(5*time.Second)), nil)
	clock.Advance(5 * time.Second)

	// Different track: material change.
	player.set(testSnapshot("t2", 0, base.Add(10*time.Second)), nil)
	clock.Advance(5 * time.Second)

	assert.Equal(t, []bool{true, false, true}, rec.changedFlags())

	// Progress still refreshes even when coalesced.
	snap, _, _ := o.Current()
	assert.Equal(t, "t2", snap.ID)
}

func TestObserver_ErrorReplacesTrack(t *testing.T) {
	o, clock, player, _, _ := newTestObserver(t)
	player.set(testSnapshot("t1", 0, clock.Now()), nil)

	o.Start()
	snap, _, _ := o.Current()
	require.NotNil(t, snap)

	player.set(nil, errors.New("network down"))
	clock.Advance(5 * time.Second)

	snap, errMsg, loading := o.Current()
	assert.Nil(t, snap)
	assert.Contains(t, errMsg, "network down")
	assert.False(t, loading, "polling failures do not re-enter loading")

	// Polling continues on its normal schedule after a failure.
	player.set(testSnapshot("t1", 0, clock.Now()), nil)
	clock.Advance(5 * time.Second)
	snap, errMsg, _ = o.Current()
	require.NotNil(t, snap)
	assert.Empty(t, errMsg)
}

func TestObserver_StopHaltsPolling(t *testing.T) {
	o, clock, player, _, _ := newTestObserver(t)
	player.set(testSnapshot("t1", 0, clock.Now()), nil)

	o.Start()
	o.Stop()
	calls := player.callCount()

	clock.Advance(time.Minute)
	assert.Equal(t, calls, player.callCount(), "no polls after stop")
}

func TestObserver_CredentialLossStopsAndClears(t *testing.T) {
	o, clock, player, creds, _ := newTestObserver(t)
	player.set(testSnapshot("t1", 0, clock.Now()), nil)

	o.Start()
	creds.set(false)

	// The next scheduled poll notices the missing credential and stops.
	clock.Advance(5 * time.Second)
	calls := player.callCount()
	clock.Advance(time.Minute)
	assert.Equal(t, calls, player.callCount())

	o.HandleCredentialLost()
	snap, errMsg, _ := o.Current()
	assert.Nil(t, snap)
	assert.Empty(t, errMsg)
}

func TestObserver_RestartAfterStop(t *testing.T) {
	o, clock, player, _, rec := newTestObserver(t)
	player.set(testSnapshot("t1", 0, clock.Now()), nil)

	o.Start()
	o.Stop()
	o.Start()

	assert.Equal(t, 2, player.callCount())
	clock.Advance(5 * time.Second)
	assert.Equal(t, 3, player.callCount())
	assert.NotEmpty(t, rec.changedFlags())
}
