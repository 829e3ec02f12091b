package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiomiya/skipbeat/internal/app/counter"
	"github.com/shiomiya/skipbeat/internal/app/observer"
	"github.com/shiomiya/skipbeat/internal/app/session"
	"github.com/shiomiya/skipbeat/internal/domain/track"
	"github.com/shiomiya/skipbeat/internal/infra/planstore"
	"github.com/shiomiya/skipbeat/internal/infra/sched"
)

type fakePlayer struct {
	mu    sync.Mutex
	snap  *track.Snapshot
	skips int
}

func (f *fakePlayer) Next(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.skips++
	return nil
}

func (f *fakePlayer) CurrentlyPlaying(ctx context.Context) (*track.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap, nil
}

type fakeCreds struct{ available bool }

func (f *fakeCreds) Available() bool { return f.available }

type fixture struct {
	handler  *Handler
	server   *httptest.Server
	clock    *sched.Manual
	player   *fakePlayer
	observer *observer.Observer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clock := sched.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	player := &fakePlayer{}
	creds := &fakeCreds{available: true}

	driver := session.NewDriver(clock, player, creds, session.Config{})
	t.Cleanup(driver.Close)
	obs := observer.New(clock, player, creds, observer.Config{})
	t.Cleanup(obs.Stop)
	cnt := counter.New(clock, player, creds)
	obs.OnUpdate(func(snap *track.Snapshot, changed bool) {
		cnt.Observe(snap)
	})

	store := planstore.New(filepath.Join(t.TempDir(), "plan.json"))
	h := New(store, driver, obs, cnt, creds)

	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)

	return &fixture{handler: h, server: srv, clock: clock, player: player, observer: obs}
}

func (f *fixture) do(t *testing.T, method, path, body string) (*http.Response, stateView) {
	t.Helper()

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)

	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var state stateView
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&state))
	}
	return resp, state
}

func TestHandler_StateDefaults(t *testing.T) {
	f := newFixture(t)

	resp, state := f.do(t, http.MethodGet, "/api/state", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.True(t, state.Authenticated)
	assert.Equal(t, 30, state.Plan.TotalMinutes)
	assert.Equal(t, 60, state.Plan.SliceLengthSeconds)
	assert.Equal(t, "idle", state.Session.Status)
	assert.Equal(t, int64(30*60*1000), state.Timeline.TotalDurationMs)
	assert.Equal(t, 29, state.Timeline.SkipCount)
}

func TestHandler_PlanUpdateSanitizesAndRecomputes(t *testing.T) {
	f := newFixture(t)

	resp, state := f.do(t, http.MethodPut, "/api/plan",
		`{"total_minutes":10,"extra_thirty_seconds":false,"slice_length_seconds":500}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, 210, state.Plan.SliceLengthSeconds, "out-of-range slice length clamps")
	assert.Equal(t, int64(600000), state.Timeline.TotalDurationMs)
}

func TestHandler_PlanActions(t *testing.T) {
	f := newFixture(t)

	_, state := f.do(t, http.MethodPost, "/api/plan/action", `{"action":"increment_minutes"}`)
	assert.Equal(t, 31, state.Plan.TotalMinutes)

	_, state = f.do(t, http.MethodPost, "/api/plan/action", `{"action":"toggle_extra_thirty_seconds"}`)
	assert.True(t, state.Plan.ExtraThirtySeconds)

	_, state = f.do(t, http.MethodPost, "/api/plan/action", `{"action":"set_slice_length","seconds":90}`)
	assert.Equal(t, 90, state.Plan.SliceLengthSeconds)

	resp, _ := f.do(t, http.MethodPost, "/api/plan/action", `{"action":"bogus"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandler_PlanResetIsIdempotent(t *testing.T) {
	f := newFixture(t)

	f.do(t, http.MethodPost, "/api/plan/action", `{"action":"increment_minutes"}`)
	_, first := f.do(t, http.MethodPost, "/api/plan/reset", "")
	_, second := f.do(t, http.MethodPost, "/api/plan/reset", "")

	assert.Equal(t, first.Plan, second.Plan)
	assert.Equal(t, 30, second.Plan.TotalMinutes)
}

func TestHandler_SessionLifecycle(t *testing.T) {
	f := newFixture(t)

	resp, state := f.do(t, http.MethodPost, "/api/session/start", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "running", state.Session.Status)
	require.NotNil(t, state.Session.NextSkipInMs)
	assert.Equal(t, int64(60000), *state.Session.NextSkipInMs)

	// Editing the plan invalidates the running session.
	_, state = f.do(t, http.MethodPut, "/api/plan",
		`{"total_minutes":5,"slice_length_seconds":60}`)
	assert.Equal(t, "idle", state.Session.Status)

	_, state = f.do(t, http.MethodPost, "/api/session/stop", "")
	assert.Equal(t, "idle", state.Session.Status)
}

func TestHandler_SessionStartWithEmptyTimelineConflicts(t *testing.T) {
	f := newFixture(t)

	f.do(t, http.MethodPut, "/api/plan", `{"total_minutes":0,"slice_length_seconds":60}`)
	resp, _ := f.do(t, http.MethodPost, "/api/session/start", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestHandler_CounterLifecycle(t *testing.T) {
	f := newFixture(t)

	// Nothing playing yet: start conflicts.
	resp, _ := f.do(t, http.MethodPost, "/api/counter/start", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	f.player.mu.Lock()
	f.player.snap = &track.Snapshot{
		ID:         "t1",
		Name:       "Song t1",
		Artists:    []string{"Artist"},
		Album:      "Album",
		Playing:    true,
		Duration:   3 * time.Minute,
		ObservedAt: f.clock.Now(),
	}
	f.player.mu.Unlock()
	f.observer.Start()

	resp, state := f.do(t, http.MethodPost, "/api/counter/start", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "running", state.Counter.Status)
	assert.Equal(t, "Song t1", state.Counter.TrackName)

	f.clock.Advance(10 * time.Second)
	resp, state = f.do(t, http.MethodPost, "/api/counter/skip", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, state.Counter.Count)

	_, state = f.do(t, http.MethodPost, "/api/counter/stop", "")
	assert.Equal(t, "idle", state.Counter.Status)
}
