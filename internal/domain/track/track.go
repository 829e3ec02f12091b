// Package track provides the playback-facing domain entities.
package track

import "time"

// Sentinel display values for tracks with missing metadata.
const (
	UnknownArtist = "Unknown artist"
	UnknownAlbum  = "Unknown album"
)

// Snapshot represents the remote service's view of playback at a single
// point in time. A snapshot is immutable once produced; each poll replaces
// the previous one wholesale.
type Snapshot struct {
	ID          string        // Spotify Track ID
	Name        string        // Track name
	Artists     []string      // Artist names
	Album       string        // Album name
	AlbumArtURL string        // Album art URL
	Playing     bool          // Whether playback is active
	Progress    time.Duration // Playback position at ObservedAt
	Duration    time.Duration // Track duration
	ObservedAt  time.Time     // When this state was observed
}

// CompletedSong records a finished span of counted listening for one track.
// Created exactly once per track transition; immutable thereafter.
type CompletedSong struct {
	ID      string
	Name    string
	Artists []string
	Played  time.Duration // Listening time credited to this track
}

// ArtistNames normalizes an artist list for display, substituting the
// sentinel when the service reported no artists.
func ArtistNames(artists []string) []string {
	if len(artists) == 0 {
		return []string{UnknownArtist}
	}
	return artists
}

// LiveProgress projects the snapshot's playback position forward to now,
// compensating for the latency between the observation and its use. The
// result is clamped to [0, Duration]. A paused snapshot is returned as-is:
// no time elapses while paused.
func (s *Snapshot) LiveProgress(now time.Time) time.Duration {
	if !s.Playing {
		return s.Progress
	}
	p := s.Progress + now.Sub(s.ObservedAt)
	if p < 0 {
		return 0
	}
	if p > s.Duration {
		return s.Duration
	}
	return p
}

// SameTrack reports whether two snapshots refer to the same track.
func (s *Snapshot) SameTrack(other *Snapshot) bool {
	if s == nil || other == nil {
		return false
	}
	return s.ID == other.ID
}

// EqualIgnoringProgress reports whether two snapshots are materially equal,
// i.e. differ at most in their progress/observation fields. Used by the
// observer to coalesce updates that would only cause needless re-renders.
func (s *Snapshot) EqualIgnoringProgress(other *Snapshot) bool {
	if s == nil || other == nil {
		return s == nil && other == nil
	}
	if s.ID != other.ID ||
		s.Name != other.Name ||
		s.Album != other.Album ||
		s.AlbumArtURL != other.AlbumArtURL ||
		s.Playing != other.Playing ||
		s.Duration != other.Duration {
		return false
	}
	if len(s.Artists) != len(other.Artists) {
		return false
	}
	for i := range s.Artists {
		if s.Artists[i] != other.Artists[i] {
			return false
		}
	}
	return true
}
