// Package plan provides the interval plan entity and timeline computation.
package plan

import (
	"time"

	"github.com/creasty/defaults"
)

// Slice length bounds and granularity, in seconds.
const (
	MinSliceLengthSeconds  = 30
	MaxSliceLengthSeconds  = 210
	SliceLengthStepSeconds = 30
)

// Plan represents a user-configured workout interval plan.
type Plan struct {
	TotalMinutes       int  `json:"total_minutes" yaml:"total_minutes" default:"30" validate:"gte=0"`
	ExtraThirtySeconds bool `json:"extra_thirty_seconds" yaml:"extra_thirty_seconds"`
	SliceLengthSeconds int  `json:"slice_length_seconds" yaml:"slice_length_seconds" default:"60"`
}

// Default returns a plan populated with default values.
func Default() Plan {
	var p Plan
	_ = defaults.Set(&p)
	return p
}

// TotalDuration returns the full workout duration the plan describes.
func (p Plan) TotalDuration() time.Duration {
	d := time.Duration(p.TotalMinutes) * time.Minute
	if p.ExtraThirtySeconds {
		d += 30 * time.Second
	}
	return d
}

// SliceLength returns the plan's slice length as a duration.
func (p Plan) SliceLength() time.Duration {
	return time.Duration(p.SliceLengthSeconds) * time.Second
}

// IncrementMinutes returns a copy with one more total minute.
func (p Plan) IncrementMinutes() Plan {
	p.TotalMinutes++
	return p
}

// DecrementMinutes returns a copy with one fewer total minute, floored at 0.
func (p Plan) DecrementMinutes() Plan {
	if p.TotalMinutes > 0 {
		p.TotalMinutes--
	}
	return p
}

// ToggleExtraThirtySeconds returns a copy with the extra-30s flag flipped.
func (p Plan) ToggleExtraThirtySeconds() Plan {
	p.ExtraThirtySeconds = !p.ExtraThirtySeconds
	return p
}

// SetSliceLength returns a copy with the slice length set to the sanitized
// value of seconds.
func (p Plan) SetSliceLength(seconds int) Plan {
	p.SliceLengthSeconds = SanitizeSliceLength(seconds)
	return p
}

// Sanitize returns a copy with all fields forced into their valid ranges.
// Out-of-range values are clamped or defaulted, never rejected.
func (p Plan) Sanitize() Plan {
	if p.TotalMinutes < 0 {
		p.TotalMinutes = 0
	}
	p.SliceLengthSeconds = SanitizeSliceLength(p.SliceLengthSeconds)
	return p
}

// SanitizeSliceLength snaps a slice length in seconds to the nearest valid
// option: clamped to [30s, 210s] and rounded to a multiple of 30s.
// Non-positive values fall back to the default slice length.
func SanitizeSliceLength(seconds int) int {
	if seconds <= 0 {
		return Default().SliceLengthSeconds
	}
	if seconds < MinSliceLengthSeconds {
		return MinSliceLengthSeconds
	}
	if seconds > MaxSliceLengthSeconds {
		return MaxSliceLengthSeconds
	}
	// Round to the nearest step, half up.
	step := SliceLengthStepSeconds
	return ((seconds + step/2) / step) * step
}

// Slice is one contiguous sub-interval of the workout timeline.
type Slice struct {
	Index     int           // Ordinal within the timeline
	Start     time.Duration // Offset from session start
	End       time.Duration // Start + Duration
	Duration  time.Duration
	Remainder bool // True for a trailing slice shorter than the slice length
	SkipAfter bool // True when a skip command fires at this slice's end
}

// Stats is the deterministic timeline derived from a plan.
type Stats struct {
	TotalDuration time.Duration
	SliceLength   time.Duration
	FullSlices    int
	Remainder     time.Duration
	Slices        []Slice
	SkipCount     int
}

// Empty reports whether the timeline contains no slices.
func (s Stats) Empty() bool {
	return len(s.Slices) == 0
}

// Compute derives the timeline for a plan. Slices are contiguous and
// non-overlapping; at most the last one is a shorter remainder; every slice
// except the last triggers a skip at its end. A plan with zero total
// duration yields an empty timeline.
func Compute(p Plan) Stats {
	p = p.Sanitize()

	total := p.TotalDuration()
	sliceLen := p.SliceLength()

	stats := Stats{
		TotalDuration: total,
		SliceLength:   sliceLen,
	}
	if total <= 0 {
		return stats
	}

	stats.FullSlices = int(total / sliceLen)
	stats.Remainder = total - time.Duration(stats.FullSlices)*sliceLen

	count := stats.FullSlices
	if stats.Remainder > 0 || count == 0 {
		count++
	}

	slices := make([]Slice, 0, count)
	var offset time.Duration
	for i := 0; i < count; i++ {
		d := sliceLen
		remainder := false
		if i >= stats.FullSlices {
			d = stats.Remainder
			remainder = true
		}
		slices = append(slices, Slice{
			Index:     i,
			Start:     offset,
			End:       offset + d,
			Duration:  d,
			Remainder: remainder,
			SkipAfter: i < count-1,
		})
		offset += d
	}

	stats.Slices = slices
	stats.SkipCount = count - 1
	return stats
}
