package plan

import (
	"github.com/mitchellh/mapstructure"
)

// legacySlice is the per-slice shape of the pre-schema plan format, which
// stored an explicit list of slice durations instead of a uniform length.
type legacySlice struct {
	Minutes int `mapstructure:"minutes"`
	Seconds int `mapstructure:"seconds"`
}

// Migrate converts a previously persisted plan of unknown shape into the
// current schema. The current object shape passes through (sanitized). The
// legacy list-of-slices shape is reduced to a uniform plan: the slice length
// is inferred from the first listed slice, and the extra-30-seconds flag
// from the parity of the total duration. This loses information when legacy
// slices had heterogeneous lengths. Anything unrecognizable yields the
// default plan.
func Migrate(raw any) Plan {
	switch v := raw.(type) {
	case map[string]any:
		if p, ok := decodeCurrent(v); ok {
			return p.Sanitize()
		}
	case []any:
		if p, ok := decodeLegacy(v); ok {
			return p
		}
	}
	return Default()
}

func decodeCurrent(m map[string]any) (Plan, bool) {
	if _, ok := m["total_minutes"]; !ok {
		return Plan{}, false
	}
	p := Default()
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &p,
		TagName:          "json",
		WeaklyTypedInput: true, // JSON numbers arrive as float64
	})
	if err != nil {
		return Plan{}, false
	}
	if err := dec.Decode(m); err != nil {
		return Plan{}, false
	}
	return p, true
}

func decodeLegacy(items []any) (Plan, bool) {
	var slices []legacySlice
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &slices,
		WeaklyTypedInput: true, // JSON numbers arrive as float64
	})
	if err != nil {
		return Plan{}, false
	}
	if err := dec.Decode(items); err != nil {
		return Plan{}, false
	}
	if len(slices) == 0 {
		return Plan{}, false
	}

	first := slices[0].Minutes*60 + slices[0].Seconds
	if first <= 0 {
		return Plan{}, false
	}

	totalSeconds := 0
	for _, s := range slices {
		totalSeconds += s.Minutes*60 + s.Seconds
	}

	p := Default()
	p.SliceLengthSeconds = SanitizeSliceLength(first)
	p.TotalMinutes = totalSeconds / 60
	p.ExtraThirtySeconds = totalSeconds%60 >= 30
	return p, true
}
