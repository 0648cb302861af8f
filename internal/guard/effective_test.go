package guard

import (
	"testing"
	"time"

	"github.com/mind-engage/examguard/internal/timewindow"
)

var base0 = time.Unix(1744099200, 0).UTC()

func at(d time.Duration) *time.Time { return TimePtr(base0.Add(d)) }

func TestBestOfGroupsPerField(t *testing.T) {
	groups := []Override{
		{Fields: Fields{Open: at(time.Hour), Close: at(3 * time.Hour), Duration: DurationPtr(time.Hour)}},
		{Fields: Fields{Open: at(30 * time.Minute), Close: at(2 * time.Hour)}},
		{Fields: Fields{Duration: DurationPtr(2 * time.Hour)}},
	}
	got := BestOfGroups(groups)
	if !got.Open.Equal(base0.Add(30*time.Minute)) || !got.Close.Equal(base0.Add(3*time.Hour)) || *got.Duration != 2*time.Hour {
		t.Fatalf("best = open %v close %v duration %v", got.Open, got.Close, *got.Duration)
	}
}

func TestBestOfGroupsUnbounded(t *testing.T) {
	groups := []Override{
		{Fields: Fields{Open: TimePtr(time.Time{}), Close: at(3 * time.Hour), Duration: DurationPtr(time.Hour)}},
		{Fields: Fields{Open: at(time.Hour), Close: TimePtr(time.Time{}), Duration: DurationPtr(0)}},
		{Fields: Fields{Close: at(5 * time.Hour), Duration: DurationPtr(3 * time.Hour)}},
	}
	got := BestOfGroups(groups)
	if !got.Open.Equal(base0.Add(time.Hour)) {
		t.Fatalf("open = %v, want earliest nonzero", got.Open)
	}
	if !got.Close.IsZero() || *got.Duration != 0 {
		t.Fatalf("unbounded close/duration must win: %v %v", got.Close, *got.Duration)
	}
	if f := BestOfGroups(nil); f.Open != nil || f.Close != nil || f.Duration != nil {
		t.Fatal("no groups yields no fields")
	}
}

func TestResolveEffectivePrecedence(t *testing.T) {
	w := timewindow.DefaultSettings().Window(base0, base0.Add(3*time.Hour), 3*time.Hour)
	groups := []Override{{Fields: Fields{Close: at(4 * time.Hour), Duration: DurationPtr(4 * time.Hour)}}}
	personal := &Override{Fields: Fields{Close: at(2 * time.Hour)}}

	eff := ResolveEffective(w, personal, groups)
	if !eff.Open.Equal(base0) || !eff.Close.Equal(base0.Add(2*time.Hour)) || eff.Duration != 4*time.Hour {
		t.Fatalf("eff = %+v", eff)
	}
	eff = ResolveEffective(w, nil, nil)
	if !eff.Close.Equal(base0.Add(3*time.Hour)) || eff.Duration != 3*time.Hour {
		t.Fatalf("base eff = %+v", eff)
	}
}

func TestExtendClampsDuration(t *testing.T) {
	eff := EffectiveSettings{Open: base0, Close: base0.Add(2 * time.Hour), Duration: 2 * time.Hour}
	got := Extend(eff, 15*time.Minute)
	if !got.Close.Equal(base0.Add(2*time.Hour+15*time.Minute)) || got.Duration != 2*time.Hour+15*time.Minute {
		t.Fatalf("extend = %+v", got)
	}
	eff.Duration = 3 * time.Hour
	if got := Extend(eff, 15*time.Minute); got.Duration != 2*time.Hour+15*time.Minute {
		t.Fatalf("duration not clamped: %v", got.Duration)
	}
	unbounded := EffectiveSettings{Open: base0}
	if got := Extend(unbounded, time.Hour); !got.Close.IsZero() || got.Duration != 0 {
		t.Fatalf("unbounded fields must stay unbounded: %+v", got)
	}
	noOpen := EffectiveSettings{Close: base0, Duration: time.Hour}
	if got := Extend(noOpen, time.Hour); got.Duration != 2*time.Hour {
		t.Fatalf("no open, no clamp: %v", got.Duration)
	}
}

func TestBucketKeyIgnoresLocation(t *testing.T) {
	a := EffectiveSettings{Open: base0, Close: base0.Add(time.Hour)}
	b := EffectiveSettings{Open: base0.Local(), Close: base0.Add(time.Hour).Local()}
	if keyOf(a) != keyOf(b) {
		t.Fatal("same instants must share a bucket")
	}
}
