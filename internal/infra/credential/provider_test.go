package credential

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/shiomiya/skipbeat/internal/infra/sched"
)

func newTestProvider(t *testing.T, clock *sched.Manual, refresh refreshFunc) *Provider {
	t.Helper()
	return &Provider{
		store:     NewStore(filepath.Join(t.TempDir(), "credential.json")),
		scheduler: clock,
		refresh:   refresh,
	}
}

func TestStore_LoadMissingOrMalformed(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file is no credential", func(t *testing.T) {
		s := NewStore(filepath.Join(dir, "absent.json"))
		assert.Nil(t, s.Load())
	})

	t.Run("malformed content is no credential", func(t *testing.T) {
		path := filepath.Join(dir, "broken.json")
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))
		assert.Nil(t, NewStore(path).Load())
	})

	t.Run("empty access token is no credential", func(t *testing.T) {
		path := filepath.Join(dir, "empty.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"access_token":""}`), 0600))
		assert.Nil(t, NewStore(path).Load())
	})
}

func TestStore_SaveLoadClear(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "nested", "credential.json"))

	cred := &Credential{
		AccessToken:  "access",
		TokenType:    "Bearer",
		RefreshToken: "refresh",
		Expiry:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Scope:        "user-read-playback-state",
	}
	require.NoError(t, s.Save(cred))

	loaded := s.Load()
	require.NotNil(t, loaded)
	assert.Equal(t, cred, loaded)

	require.NoError(t, s.Clear())
	assert.Nil(t, s.Load())
	require.NoError(t, s.Clear(), "clearing twice is fine")
}

func TestProvider_TokenWithoutCredential(t *testing.T) {
	clock := sched.NewManual(time.Now())
	p := newTestProvider(t, clock, nil)

	_, err := p.Token()
	assert.ErrorIs(t, err, ErrNoCredential)
	assert.False(t, p.Available())
}

func TestProvider_TokenReturnsFreshCredential(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := sched.NewManual(now)

	refreshCalls := 0
	p := newTestProvider(t, clock, func(ctx context.Context, rt string) (*oauth2.Token, error) {
		refreshCalls++
		return nil, assert.AnError
	})
	require.NoError(t, p.Set(&Credential{
		AccessToken:  "access",
		RefreshToken: "refresh",
		Expiry:       now.Add(time.Hour),
	}))

	tok, err := p.Token()
	require.NoError(t, err)
	assert.Equal(t, "access", tok.AccessToken)
	assert.Equal(t, 0, refreshCalls, "fresh credential must not trigger a refresh")
}

func TestProvider_RefreshesWhenInsideBuffer(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := sched.NewManual(now)

	p := newTestProvider(t, clock, func(ctx context.Context, rt string) (*oauth2.Token, error) {
		assert.Equal(t, "refresh-1", rt)
		return &oauth2.Token{
			AccessToken: "access-2",
			Expiry:      clock.Now().Add(time.Hour),
		}, nil
	})
	require.NoError(t, p.Set(&Credential{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		Expiry:       now.Add(30 * time.Second), // inside the 60s buffer
	}))

	tok, err := p.Token()
	require.NoError(t, err)
	assert.Equal(t, "access-2", tok.AccessToken)

	// The rotated credential keeps the previous refresh token when the
	// exchange did not return a new one.
	assert.Equal(t, "refresh-1", p.Current().RefreshToken)
}

func TestProvider_RefreshFailureClearsCredential(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := sched.NewManual(now)

	p := newTestProvider(t, clock, func(ctx context.Context, rt string) (*oauth2.Token, error) {
		return nil, assert.AnError
	})

	var lost bool
	p.OnChange(func(c *Credential) {
		if c == nil {
			lost = true
		}
	})

	require.NoError(t, p.Set(&Credential{
		AccessToken:  "access",
		RefreshToken: "refresh",
		Expiry:       now.Add(10 * time.Second),
	}))

	_, err := p.Token()
	require.Error(t, err)
	assert.False(t, p.Available(), "rejected refresh must clear the credential")
	assert.True(t, lost, "subscribers must see the loss")
}

func TestProvider_ExpiredWithoutRefreshToken(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := sched.NewManual(now)

	p := newTestProvider(t, clock, nil)
	require.NoError(t, p.Set(&Credential{
		AccessToken: "access",
		Expiry:      now.Add(-time.Minute),
	}))

	_, err := p.Token()
	require.Error(t, err)
	assert.False(t, p.Available())
}

func TestProvider_ProactiveRefreshFires(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := sched.NewManual(now)

	refreshCalls := 0
	p := newTestProvider(t, clock, func(ctx context.Context, rt string) (*oauth2.Token, error) {
		refreshCalls++
		return &oauth2.Token{
			AccessToken: "access-2",
			Expiry:      clock.Now().Add(time.Hour),
		}, nil
	})
	require.NoError(t, p.Set(&Credential{
		AccessToken:  "access-1",
		RefreshToken: "refresh",
		Expiry:       now.Add(5 * time.Minute),
	}))

	// The refresh is scheduled one buffer ahead of expiry.
	clock.Advance(4 * time.Minute)
	assert.Equal(t, 1, refreshCalls)
	assert.Equal(t, "access-2", p.Current().AccessToken)
}

func TestProvider_ClearCancelsProactiveRefresh(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := sched.NewManual(now)

	refreshCalls := 0
	p := newTestProvider(t, clock, func(ctx context.Context, rt string) (*oauth2.Token, error) {
		refreshCalls++
		return nil, assert.AnError
	})
	require.NoError(t, p.Set(&Credential{
		AccessToken:  "access",
		RefreshToken: "refresh",
		Expiry:       now.Add(5 * time.Minute),
	}))

	p.Clear()
	clock.Advance(time.Hour)
	assert.Equal(t, 0, refreshCalls, "cancelled timer must never fire")
}
