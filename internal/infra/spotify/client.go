// Package spotify provides the playback client for the Spotify API.
package spotify

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/zmb3/spotify/v2"
	"golang.org/x/oauth2"

	"github.com/shiomiya/skipbeat/internal/domain/track"
)

// Client wraps the Spotify Web API for the two playback operations the core
// needs: reading the current track and advancing to the next one.
type Client struct {
	client     *spotify.Client
	now        func() time.Time
	maxRetries int
	retryDelay time.Duration
}

// New creates a playback client over the given token source. The source is
// typically the credential provider, so every call picks up the freshest
// access token.
func New(ctx context.Context, src oauth2.TokenSource) *Client {
	httpClient := oauth2.NewClient(ctx, src)
	return &Client{
		client:     spotify.New(httpClient),
		now:        time.Now,
		maxRetries: 3,
		retryDelay: time.Second,
	}
}

// CurrentlyPlaying reads the current playback state. Returns (nil, nil) when
// nothing is playing (the API's "no content" response).
func (c *Client) CurrentlyPlaying(ctx context.Context) (*track.Snapshot, error) {
	playing, err := c.client.PlayerCurrentlyPlaying(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get current playback")
	}
	if playing == nil || playing.Item == nil || playing.Item.ID == "" {
		return nil, nil
	}
	return convertSnapshot(playing, c.now()), nil
}

// Next advances playback to the next track. Transient failures are retried
// a few times; the command carries no payload and returns no body.
func (c *Client) Next(ctx context.Context) error {
	err := c.retry(func() error {
		return c.client.Next(ctx)
	})
	if err != nil {
		return errors.Wrap(err, "failed to skip to next track")
	}
	return nil
}

// convertSnapshot converts the API's currently-playing payload to a domain
// snapshot observed at the given time.
func convertSnapshot(playing *spotify.CurrentlyPlaying, observedAt time.Time) *track.Snapshot {
	item := playing.Item

	artists := make([]string, len(item.Artists))
	for i, a := range item.Artists {
		artists[i] = a.Name
	}

	album := item.Album.Name
	if album == "" {
		album = track.UnknownAlbum
	}

	var albumArt string
	if len(item.Album.Images) > 0 {
		albumArt = item.Album.Images[0].URL
	}

	return &track.Snapshot{
		ID:          string(item.ID),
		Name:        item.Name,
		Artists:     track.ArtistNames(artists),
		Album:       album,
		AlbumArtURL: albumArt,
		Playing:     playing.Playing,
		Progress:    time.Duration(playing.Progress) * time.Millisecond,
		Duration:    item.TimeDuration(),
		ObservedAt:  observedAt,
	}
}

// retry retries an operation with linear backoff.
func (c *Client) retry(fn func() error) error {
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}

		if i < c.maxRetries-1 {
			time.Sleep(c.retryDelay * time.Duration(i+1))
		}
	}
	return errors.Wrap(lastErr, "max retries exceeded")
}

// isRetryable checks if an error is retryable.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	// Rate limit errors and server errors are retryable
	errStr := err.Error()
	return strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504")
}
