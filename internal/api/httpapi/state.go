package httpapi

import (
	"github.com/shiomiya/skipbeat/internal/app/counter"
	"github.com/shiomiya/skipbeat/internal/app/observer"
	"github.com/shiomiya/skipbeat/internal/app/session"
	"github.com/shiomiya/skipbeat/internal/domain/plan"
)

// planPayload is the plan shape on the wire.
type planPayload struct {
	TotalMinutes       int  `json:"total_minutes"`
	ExtraThirtySeconds bool `json:"extra_thirty_seconds"`
	SliceLengthSeconds int  `json:"slice_length_seconds"`
}

type sliceView struct {
	Index       int   `json:"index"`
	StartMs     int64 `json:"start_ms"`
	EndMs       int64 `json:"end_ms"`
	DurationMs  int64 `json:"duration_ms"`
	IsRemainder bool  `json:"is_remainder"`
	SkipAfter   bool  `json:"skip_after"`
}

type timelineView struct {
	TotalDurationMs int64       `json:"total_duration_ms"`
	SliceLengthMs   int64       `json:"slice_length_ms"`
	SkipCount       int         `json:"skip_count"`
	Slices          []sliceView `json:"slices"`
}

type sessionView struct {
	Status       string `json:"status"`
	CurrentSlice int    `json:"current_slice"`
	ElapsedMs    int64  `json:"elapsed_ms"`
	NextSkipInMs *int64 `json:"next_skip_in_ms,omitempty"`
}

type playbackView struct {
	Track   *trackView `json:"track,omitempty"`
	Error   string     `json:"error,omitempty"`
	Loading bool       `json:"loading"`
}

type trackView struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Artists     []string `json:"artists"`
	Album       string   `json:"album"`
	AlbumArtURL string   `json:"album_art_url,omitempty"`
	IsPlaying   bool     `json:"is_playing"`
	ProgressMs  int64    `json:"progress_ms"`
	DurationMs  int64    `json:"duration_ms"`
}

type completedSongView struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Artists  []string `json:"artists"`
	PlayedMs int64    `json:"played_ms"`
}

type counterView struct {
	Status           string             `json:"status"`
	Error            string             `json:"error,omitempty"`
	Count            int                `json:"count"`
	TotalPlayedMs    int64              `json:"total_played_ms"`
	LastCompleted    *completedSongView `json:"last_completed,omitempty"`
	TrackName        string             `json:"track_name,omitempty"`
	ElapsedMs        int64              `json:"elapsed_ms"`
	RemainingMs      int64              `json:"remaining_ms"`
	AfterSongTotalMs int64              `json:"after_song_total_ms"`
}

type stateView struct {
	Authenticated bool         `json:"authenticated"`
	Plan          planPayload  `json:"plan"`
	Timeline      timelineView `json:"timeline"`
	Session       sessionView  `json:"session"`
	Playback      playbackView `json:"playback"`
	Counter       counterView  `json:"counter"`
}

func buildState(p plan.Plan, driver *session.Driver, obs *observer.Observer, cnt *counter.Counter, creds CredentialSource) stateView {
	timeline := driver.Timeline()

	slices := make([]sliceView, len(timeline.Slices))
	for i, s := range timeline.Slices {
		slices[i] = sliceView{
			Index:       s.Index,
			StartMs:     s.Start.Milliseconds(),
			EndMs:       s.End.Milliseconds(),
			DurationMs:  s.Duration.Milliseconds(),
			IsRemainder: s.Remainder,
			SkipAfter:   s.SkipAfter,
		}
	}

	sess := sessionView{
		Status:       driver.Status().String(),
		CurrentSlice: driver.CurrentSliceIndex(),
		ElapsedMs:    driver.Elapsed().Milliseconds(),
	}
	if remaining, ok := driver.NextSkipIn(); ok {
		ms := remaining.Milliseconds()
		sess.NextSkipInMs = &ms
	}

	snap, errMsg, loading := obs.Current()
	pb := playbackView{Error: errMsg, Loading: loading}
	if snap != nil {
		pb.Track = &trackView{
			ID:          snap.ID,
			Name:        snap.Name,
			Artists:     snap.Artists,
			Album:       snap.Album,
			AlbumArtURL: snap.AlbumArtURL,
			IsPlaying:   snap.Playing,
			ProgressMs:  snap.Progress.Milliseconds(),
			DurationMs:  snap.Duration.Milliseconds(),
		}
	}

	cs := cnt.State()
	cv := counterView{
		Status:           cs.Status.String(),
		Error:            cs.Error,
		Count:            cs.Count,
		TotalPlayedMs:    cs.TotalPlayed.Milliseconds(),
		TrackName:        cs.TrackName,
		ElapsedMs:        cs.Elapsed.Milliseconds(),
		RemainingMs:      cs.Remaining.Milliseconds(),
		AfterSongTotalMs: cs.AfterSongTotal.Milliseconds(),
	}
	if cs.LastCompleted != nil {
		cv.LastCompleted = &completedSongView{
			ID:       cs.LastCompleted.ID,
			Name:     cs.LastCompleted.Name,
			Artists:  cs.LastCompleted.Artists,
			PlayedMs: cs.LastCompleted.Played.Milliseconds(),
		}
	}

	return stateView{
		Authenticated: creds.Available(),
		Plan: planPayload{
			TotalMinutes:       p.TotalMinutes,
			ExtraThirtySeconds: p.ExtraThirtySeconds,
			SliceLengthSeconds: p.SliceLengthSeconds,
		},
		Timeline: timelineView{
			TotalDurationMs: timeline.TotalDuration.Milliseconds(),
			SliceLengthMs:   timeline.SliceLength.Milliseconds(),
			SkipCount:       timeline.SkipCount,
			Slices:          slices,
		},
		Session:  sess,
		Playback: pb,
		Counter:  cv,
	}
}
