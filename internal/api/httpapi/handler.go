// Package httpapi provides the JSON control surface consumed by the
// embedding UI.
package httpapi

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/shiomiya/skipbeat/internal/app/counter"
	"github.com/shiomiya/skipbeat/internal/app/observer"
	"github.com/shiomiya/skipbeat/internal/app/session"
	"github.com/shiomiya/skipbeat/internal/domain/plan"
	"github.com/shiomiya/skipbeat/internal/infra/planstore"
)

// CredentialSource reports whether a usable credential is held.
type CredentialSource interface {
	Available() bool
}

// Handler owns the current plan and translates HTTP requests into calls on
// the timing subsystems. Plan edits invalidate any running session.
type Handler struct {
	mu   sync.Mutex
	plan plan.Plan

	store    *planstore.Store
	driver   *session.Driver
	observer *observer.Observer
	counter  *counter.Counter
	creds    CredentialSource
}

// New creates a handler seeded with the persisted plan. The driver's
// timeline is primed from it.
func New(store *planstore.Store, driver *session.Driver, obs *observer.Observer, cnt *counter.Counter, creds CredentialSource) *Handler {
	h := &Handler{
		plan:     store.Load(),
		store:    store,
		driver:   driver,
		observer: obs,
		counter:  cnt,
		creds:    creds,
	}
	driver.SetTimeline(plan.Compute(h.plan))
	return h
}

// Router builds the HTTP mux for the control API.
func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/state", h.handleState)
	mux.HandleFunc("PUT /api/plan", h.handlePlanUpdate)
	mux.HandleFunc("POST /api/plan/action", h.handlePlanAction)
	mux.HandleFunc("POST /api/plan/reset", h.handlePlanReset)
	mux.HandleFunc("POST /api/session/start", h.handleSessionStart)
	mux.HandleFunc("POST /api/session/stop", h.handleSessionStop)
	mux.HandleFunc("POST /api/counter/start", h.handleCounterStart)
	mux.HandleFunc("POST /api/counter/stop", h.handleCounterStop)
	mux.HandleFunc("POST /api/counter/skip", h.handleCounterSkip)

	return logRequests(mux)
}

// Plan returns the current plan.
func (h *Handler) Plan() plan.Plan {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.plan
}

func (h *Handler) handleState(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	p := h.plan
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, buildState(p, h.driver, h.observer, h.counter, h.creds))
}

func (h *Handler) handlePlanUpdate(w http.ResponseWriter, r *http.Request) {
	var req planPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid plan payload")
		return
	}

	// Out-of-range values are clamped, never rejected.
	next := plan.Plan{
		TotalMinutes:       req.TotalMinutes,
		ExtraThirtySeconds: req.ExtraThirtySeconds,
		SliceLengthSeconds: req.SliceLengthSeconds,
	}.Sanitize()

	h.applyPlan(w, next)
}

func (h *Handler) handlePlanAction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action  string `json:"action"`
		Seconds int    `json:"seconds,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid action payload")
		return
	}

	h.mu.Lock()
	p := h.plan
	h.mu.Unlock()

	switch req.Action {
	case "increment_minutes":
		p = p.IncrementMinutes()
	case "decrement_minutes":
		p = p.DecrementMinutes()
	case "toggle_extra_thirty_seconds":
		p = p.ToggleExtraThirtySeconds()
	case "set_slice_length":
		p = p.SetSliceLength(req.Seconds)
	default:
		writeError(w, http.StatusBadRequest, "unknown plan action")
		return
	}

	h.applyPlan(w, p)
}

func (h *Handler) handlePlanReset(w http.ResponseWriter, r *http.Request) {
	h.applyPlan(w, plan.Default())
}

// applyPlan persists the plan and rebuilds the timeline, which invalidates
// any running session.
func (h *Handler) applyPlan(w http.ResponseWriter, next plan.Plan) {
	h.mu.Lock()
	h.plan = next
	h.mu.Unlock()

	if err := h.store.Save(next); err != nil {
		zlog.Warn().Msgf("httpapi: failed to persist plan: %v", err)
	}
	h.driver.SetTimeline(plan.Compute(next))

	writeJSON(w, http.StatusOK, buildState(next, h.driver, h.observer, h.counter, h.creds))
}

func (h *Handler) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	h.driver.Start()
	if h.driver.Status() != session.StatusRunning {
		writeError(w, http.StatusConflict, "session not started: empty timeline or missing credential")
		return
	}
	h.handleState(w, r)
}

func (h *Handler) handleSessionStop(w http.ResponseWriter, r *http.Request) {
	h.driver.Stop()
	h.handleState(w, r)
}

func (h *Handler) handleCounterStart(w http.ResponseWriter, r *http.Request) {
	snap, _, _ := h.observer.Current()
	if err := h.counter.Start(snap); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	h.handleState(w, r)
}

func (h *Handler) handleCounterStop(w http.ResponseWriter, r *http.Request) {
	h.counter.Stop()
	h.handleState(w, r)
}

func (h *Handler) handleCounterSkip(w http.ResponseWriter, r *http.Request) {
	if err := h.counter.Skip(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	h.handleState(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zlog.Warn().Msgf("httpapi: failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// logRequests wraps the mux with request logging.
func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		zlog.Debug().Msgf("httpapi: %s %s (%v)", r.Method, r.URL.Path, time.Since(start))
	})
}
