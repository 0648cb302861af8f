package guard

import (
	"time"

	"github.com/mind-engage/examguard/internal/timewindow"
)

// BestOfGroups merges group overrides field by field: earliest nonzero open,
// latest close, largest duration. A set zero close or duration is unbounded
// and therefore wins. The result may combine fields from different overrides.
func BestOfGroups(groups []Override) Fields {
	var out Fields
	for _, g := range groups {
		f := g.Fields
		if f.Open != nil {
			switch {
			case out.Open == nil:
				out.Open = TimePtr(*f.Open)
			case out.Open.IsZero() && !f.Open.IsZero():
				out.Open = TimePtr(*f.Open)
			case !f.Open.IsZero() && f.Open.Before(*out.Open):
				out.Open = TimePtr(*f.Open)
			}
		}
		if f.Close != nil {
			switch {
			case out.Close == nil:
				out.Close = TimePtr(*f.Close)
			case out.Close.IsZero():
			case f.Close.IsZero() || f.Close.After(*out.Close):
				out.Close = TimePtr(*f.Close)
			}
		}
		if f.Duration != nil {
			switch {
			case out.Duration == nil:
				out.Duration = DurationPtr(*f.Duration)
			case *out.Duration == 0:
			case *f.Duration == 0 || *f.Duration > *out.Duration:
				out.Duration = DurationPtr(*f.Duration)
			}
		}
	}
	return out
}

// ResolveEffective applies precedence per field: personal override, then the
// best of the group overrides, then the activity's own window.
func ResolveEffective(base timewindow.ActivityWindow, personal *Override, groups []Override) EffectiveSettings {
	eff := EffectiveSettings{Open: base.Open, Close: base.Close, Duration: base.Duration}
	layers := []Fields{BestOfGroups(groups)}
	if personal != nil {
		layers = append(layers, personal.Fields)
	}
	for _, f := range layers {
		if f.Open != nil {
			eff.Open = *f.Open
		}
		if f.Close != nil {
			eff.Close = *f.Close
		}
		if f.Duration != nil {
			eff.Duration = *f.Duration
		}
	}
	return eff
}

// Extend shifts close and duration by delta. Unbounded fields stay unbounded.
// Duration is clamped so it never exceeds close - open.
func Extend(eff EffectiveSettings, delta time.Duration) EffectiveSettings {
	out := eff
	if !eff.Close.IsZero() {
		out.Close = eff.Close.Add(delta)
	}
	if eff.Duration > 0 {
		out.Duration = eff.Duration + delta
		if out.Duration <= 0 {
			// zero would read as unlimited
			out.Duration = eff.Duration
		}
		out.Duration = clampDuration(out.Duration, eff.Open, out.Close)
	}
	return out
}

func clampDuration(d time.Duration, open, close time.Time) time.Duration {
	if open.IsZero() || close.IsZero() {
		return d
	}
	if max := close.Sub(open); d > max {
		return max
	}
	return d
}

// bucketKey identifies students that share identical effective settings.
type bucketKey struct {
	open, close int64
	duration    time.Duration
}

func keyOf(eff EffectiveSettings) bucketKey {
	return bucketKey{open: UnixOrZero(eff.Open), close: UnixOrZero(eff.Close), duration: eff.Duration}
}
