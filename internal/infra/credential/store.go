// Package credential provides persisted Spotify credentials and a
// self-refreshing token provider shared by all playback components.
package credential

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// Credential is the persisted token shape. Values are replaced wholesale on
// refresh, never mutated in place.
type Credential struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Expiry       time.Time `json:"expiry"`
	Scope        string    `json:"scope,omitempty"`
}

// Token converts the credential to an oauth2 token.
func (c *Credential) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		TokenType:    c.TokenType,
		RefreshToken: c.RefreshToken,
		Expiry:       c.Expiry,
	}
}

// FromToken builds a credential from an oauth2 token, carrying over the
// previous refresh token when the exchange did not rotate it.
func FromToken(t *oauth2.Token, previousRefresh string) *Credential {
	refresh := t.RefreshToken
	if refresh == "" {
		refresh = previousRefresh
	}
	return &Credential{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		RefreshToken: refresh,
		Expiry:       t.Expiry,
	}
}

// Remaining returns the credential's remaining lifetime at the given time.
func (c *Credential) Remaining(now time.Time) time.Duration {
	return c.Expiry.Sub(now)
}

// Store persists a credential as a JSON file at a stable path.
type Store struct {
	path string
}

// NewStore creates a store backed by the given file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the persisted credential. Absent or malformed content is
// treated as "no credential", not an error.
func (s *Store) Load() *Credential {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil
	}

	var c Credential
	if err := json.Unmarshal(data, &c); err != nil {
		zlog.Warn().Msgf("credential: ignoring malformed credential file %s: %v", s.path, err)
		return nil
	}
	if c.AccessToken == "" {
		return nil
	}
	return &c
}

// Save writes the credential, creating parent directories as needed.
func (s *Store) Save(c *Credential) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal credential")
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return errors.Wrap(err, "failed to create credential directory")
		}
	}
	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return errors.Wrap(err, "failed to write credential file")
	}
	return nil
}

// Clear removes the persisted credential. Missing file is not an error.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to remove credential file")
	}
	return nil
}
