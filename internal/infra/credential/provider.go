package credential

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/shiomiya/skipbeat/internal/infra/sched"
)

// Refresh timing: a refresh is issued when the remaining lifetime drops to
// the buffer, and a proactive refresh is never scheduled closer than the
// minimum lead.
const (
	refreshBuffer  = 60 * time.Second
	minRefreshLead = 5 * time.Second
)

// ErrNoCredential is returned when no usable credential is held.
var ErrNoCredential = errors.New("no credential available")

// refreshFunc exchanges a refresh token for a new token.
type refreshFunc func(ctx context.Context, refreshToken string) (*oauth2.Token, error)

// Provider holds the process-wide credential: single writer (the refresh
// flow), many readers. It implements oauth2.TokenSource so the playback
// client can hang directly off it.
type Provider struct {
	mu        sync.Mutex
	refreshMu sync.Mutex // serializes refresh exchanges; callers coalesce here

	store     *Store
	scheduler sched.Scheduler
	refresh   refreshFunc

	cred        *Credential
	cancelTimer func()
	onChange    []func(*Credential)
}

// NewProvider creates a provider seeded from the store. cfg supplies the
// refresh-grant endpoint; a public (PKCE) client needs only the client ID.
func NewProvider(store *Store, cfg *oauth2.Config, scheduler sched.Scheduler) *Provider {
	p := &Provider{
		store:     store,
		scheduler: scheduler,
		refresh: func(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
			return cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
		},
	}
	if c := store.Load(); c != nil {
		p.mu.Lock()
		p.cred = c
		p.scheduleRefreshLocked()
		p.mu.Unlock()
		zlog.Info().Msgf("credential: loaded persisted credential, expires %s", c.Expiry.Format(time.RFC3339))
	}
	return p
}

// OnChange registers a callback invoked whenever the credential is replaced
// or cleared. A nil credential signals loss.
func (p *Provider) OnChange(fn func(*Credential)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChange = append(p.onChange, fn)
}

// Current returns the held credential, or nil when none is held. The value
// must be treated as immutable.
func (p *Provider) Current() *Credential {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cred
}

// Available reports whether a credential is held.
func (p *Provider) Available() bool {
	return p.Current() != nil
}

// Set replaces the held credential wholesale, persists it, and reschedules
// the proactive refresh.
func (p *Provider) Set(c *Credential) error {
	if err := p.store.Save(c); err != nil {
		return err
	}

	p.mu.Lock()
	p.cred = c
	p.scheduleRefreshLocked()
	listeners := append([]func(*Credential){}, p.onChange...)
	p.mu.Unlock()

	for _, fn := range listeners {
		fn(c)
	}
	return nil
}

// Clear drops the held credential and its persisted copy and notifies
// subscribers of the loss.
func (p *Provider) Clear() {
	p.mu.Lock()
	p.cred = nil
	if p.cancelTimer != nil {
		p.cancelTimer()
		p.cancelTimer = nil
	}
	listeners := append([]func(*Credential){}, p.onChange...)
	p.mu.Unlock()

	if err := p.store.Clear(); err != nil {
		zlog.Warn().Msgf("credential: failed to clear persisted credential: %v", err)
	}

	for _, fn := range listeners {
		fn(nil)
	}
}

// Token implements oauth2.TokenSource. It returns the held access token,
// refreshing it first when the remaining lifetime is within the buffer.
// Concurrent callers needing a refresh coalesce onto a single exchange.
func (p *Provider) Token() (*oauth2.Token, error) {
	p.mu.Lock()
	cred := p.cred
	p.mu.Unlock()

	if cred == nil {
		return nil, ErrNoCredential
	}
	if cred.Remaining(p.scheduler.Now()) > refreshBuffer {
		return cred.Token(), nil
	}
	return p.doRefresh(context.Background())
}

// RequestRefresh forces a refresh exchange, coalescing with any in-flight
// attempt.
func (p *Provider) RequestRefresh(ctx context.Context) error {
	_, err := p.doRefresh(ctx)
	return err
}

// doRefresh performs a single refresh exchange. The refreshMu serialization
// plus the freshness re-check means concurrent callers ride on one network
// call instead of issuing duplicates. A rejected refresh clears the
// credential; the user must re-authenticate.
func (p *Provider) doRefresh(ctx context.Context) (*oauth2.Token, error) {
	p.refreshMu.Lock()
	defer p.refreshMu.Unlock()

	p.mu.Lock()
	cred := p.cred
	p.mu.Unlock()

	if cred == nil {
		return nil, ErrNoCredential
	}
	// Another caller may have refreshed while we waited on refreshMu.
	if cred.Remaining(p.scheduler.Now()) > refreshBuffer {
		return cred.Token(), nil
	}
	if cred.RefreshToken == "" {
		p.Clear()
		return nil, errors.New("credential expired and no refresh token held")
	}

	tok, err := p.refresh(ctx, cred.RefreshToken)
	if err != nil {
		zlog.Error().Msgf("credential: refresh rejected: %v", err)
		p.Clear()
		return nil, errors.Wrap(err, "credential refresh failed")
	}

	next := FromToken(tok, cred.RefreshToken)
	if err := p.Set(next); err != nil {
		return nil, err
	}
	zlog.Debug().Msgf("credential: refreshed, expires %s", next.Expiry.Format(time.RFC3339))
	return next.Token(), nil
}

// scheduleRefreshLocked arms the proactive refresh timer for the held
// credential. Must be called with p.mu held.
func (p *Provider) scheduleRefreshLocked() {
	if p.cancelTimer != nil {
		p.cancelTimer()
		p.cancelTimer = nil
	}
	if p.cred == nil || p.cred.RefreshToken == "" || p.cred.Expiry.IsZero() {
		return
	}

	delay := p.cred.Remaining(p.scheduler.Now()) - refreshBuffer
	if delay < minRefreshLead {
		delay = minRefreshLead
	}
	p.cancelTimer = p.scheduler.After(delay, func() {
		if err := p.RequestRefresh(context.Background()); err != nil {
			zlog.Warn().Msgf("credential: proactive refresh failed: %v", err)
		}
	})
}

// Close releases the proactive refresh timer.
func (p *Provider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancelTimer != nil {
		p.cancelTimer()
		p.cancelTimer = nil
	}
}
