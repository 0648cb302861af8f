package guard_test

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/mind-engage/examguard/internal/guard"
	"github.com/mind-engage/examguard/internal/guard/quiz"
)

func TestApplyExtensionWithoutOverrides(t *testing.T) {
	h := newHarness(t)
	res := h.apply(15)
	if res.GroupsCreated != 1 || res.Skipped != 0 {
		t.Fatalf("result = %+v", res)
	}

	groups := h.synthetic()
	if len(groups) != 1 {
		t.Fatalf("synthetic groups = %d, want 1", len(groups))
	}
	for gid, members := range groups {
		if !reflect.DeepEqual(members, students) {
			t.Fatalf("members = %v", members)
		}
		o := h.getOverride(guard.GroupScope(gid))
		if o == nil {
			t.Fatal("synthetic group has no override")
		}
		if !o.Fields.Close.Equal(t0.Add(3*time.Hour + 15*time.Minute)) {
			t.Fatalf("close = %v", o.Fields.Close)
		}
		if *o.Fields.Duration != 3*time.Hour+15*time.Minute {
			t.Fatalf("duration = %v", *o.Fields.Duration)
		}
		if o.Fields.Open != nil {
			t.Fatal("open equal to the base must not be written")
		}
		a, err := h.store.Repos().Ledger.GetAudit(h.ctx, quizID, o.ID)
		h.must(err)
		if a == nil || a.ExtensionMinutes != 15 || a.Original != nil {
			t.Fatalf("audit = %+v", a)
		}
	}

	cur, err := h.service().CurrentExtension(h.ctx, quizID)
	h.must(err)
	if cur != 15 {
		t.Fatalf("current extension = %d", cur)
	}
	if len(h.obs.applied) != 1 {
		t.Fatalf("observer saw %d applies", len(h.obs.applied))
	}
}

func TestApplyExtensionIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.override(guard.UserScope("s1"), guard.Fields{Close: closeAt(4 * time.Hour)})
	g := h.group("Lab A", "s2", "s3")
	h.override(guard.GroupScope(g), guard.Fields{Close: closeAt(3*time.Hour + 30*time.Minute)})

	h.apply(15)
	before := h.store.Writes()
	res := h.apply(15)
	if got := h.store.Writes(); got != before {
		t.Fatalf("second apply wrote %d times", got-before)
	}
	if res.GroupsKept != 2 || res.GroupsCreated != 0 || res.GroupsDeleted != 0 || res.PersonalUpdated != 0 {
		t.Fatalf("result = %+v", res)
	}
	if n := len(h.store.History(quizID)); n != 2 {
		t.Fatalf("history entries = %d, want 2", n)
	}
}

func TestRevokeRestoresPersonalOverrides(t *testing.T) {
	h := newHarness(t)
	origS1 := guard.Fields{Close: closeAt(4 * time.Hour), Duration: guard.DurationPtr(4 * time.Hour)}
	origS2 := guard.Fields{Duration: guard.DurationPtr(2 * time.Hour)}
	h.override(guard.UserScope("s1"), origS1)
	o2 := h.override(guard.UserScope("s2"), origS2)

	h.apply(15)
	s2 := h.getOverride(guard.UserScope("s2"))
	if !s2.Fields.Close.Equal(t0.Add(3*time.Hour+15*time.Minute)) || *s2.Fields.Duration != 2*time.Hour+15*time.Minute {
		t.Fatalf("s2 after 15 = %+v", s2.Fields)
	}

	h.apply(40)
	s1 := h.getOverride(guard.UserScope("s1"))
	if !s1.Fields.Close.Equal(t0.Add(4*time.Hour+40*time.Minute)) || *s1.Fields.Duration != 4*time.Hour+40*time.Minute {
		t.Fatalf("s1 after 40 = close %v duration %v", s1.Fields.Close, *s1.Fields.Duration)
	}

	res := h.apply(0)
	if res.PersonalRestored != 2 {
		t.Fatalf("restored = %d", res.PersonalRestored)
	}
	if got := h.getOverride(guard.UserScope("s1")).Fields; !got.Equal(origS1) {
		t.Fatalf("s1 not restored: %+v", got)
	}
	if got := h.getOverride(guard.UserScope("s2")).Fields; !got.Equal(origS2) || got.Close != nil {
		t.Fatalf("s2 not restored: %+v", got)
	}
	if a, _ := h.store.Repos().Ledger.GetAudit(h.ctx, quizID, o2); a != nil {
		t.Fatal("audit must be gone after restore")
	}
	if n := len(h.synthetic()); n != 0 {
		t.Fatalf("synthetic groups left = %d", n)
	}
	if cur, _ := h.service().CurrentExtension(h.ctx, quizID); cur != 0 {
		t.Fatalf("current extension = %d", cur)
	}
}

func TestStudentsBucketedByEffectiveSettings(t *testing.T) {
	h := newHarness(t)
	ga := h.group("Group A", "s1", "s2")
	gb := h.group("Group B", "s3")
	h.override(guard.GroupScope(ga), guard.Fields{Close: closeAt(3*time.Hour + 30*time.Minute)})
	h.override(guard.GroupScope(gb), guard.Fields{Close: closeAt(4 * time.Hour)})

	h.apply(15)
	want := map[string]time.Time{
		"s1,s2": t0.Add(3*time.Hour + 45*time.Minute),
		"s3":    t0.Add(4*time.Hour + 15*time.Minute),
		"s4,s5": t0.Add(3*time.Hour + 15*time.Minute),
	}
	got := map[string]time.Time{}
	for gid, members := range h.synthetic() {
		key := ""
		for i, m := range members {
			if i > 0 {
				key += ","
			}
			key += m
		}
		got[key] = *h.getOverride(guard.GroupScope(gid)).Fields.Close
	}
	if len(got) != len(want) {
		t.Fatalf("buckets = %v", got)
	}
	for k, w := range want {
		if !got[k].Equal(w) {
			t.Errorf("bucket %s close = %v, want %v", k, got[k], w)
		}
	}
}

func TestStudentInTwoGroupsUsesLaterClose(t *testing.T) {
	h := newHarness(t)
	ga := h.group("Group A", "s1")
	gb := h.group("Group B", "s1", "s2")
	h.override(guard.GroupScope(ga), guard.Fields{Close: closeAt(3*time.Hour + 30*time.Minute)})
	h.override(guard.GroupScope(gb), guard.Fields{Close: closeAt(4 * time.Hour)})

	h.apply(15)
	for gid, members := range h.synthetic() {
		for _, m := range members {
			if m != "s1" {
				continue
			}
			c := h.getOverride(guard.GroupScope(gid)).Fields.Close
			if !c.Equal(t0.Add(4*time.Hour + 15*time.Minute)) {
				t.Fatalf("s1 close = %v", c)
			}
			return
		}
	}
	t.Fatal("s1 is in no synthetic group")
}

func TestPersonalOverrideTakesPrecedence(t *testing.T) {
	h := newHarness(t)
	g := h.group("Group B", "s1", "s2")
	h.override(guard.GroupScope(g), guard.Fields{Close: closeAt(4 * time.Hour)})
	h.override(guard.UserScope("s1"), guard.Fields{Close: closeAt(2*time.Hour + 30*time.Minute)})

	res := h.apply(15)
	if res.PersonalUpdated != 1 {
		t.Fatalf("result = %+v", res)
	}
	if c := h.getOverride(guard.UserScope("s1")).Fields.Close; !c.Equal(t0.Add(2*time.Hour + 45*time.Minute)) {
		t.Fatalf("s1 close = %v", c)
	}
	for _, members := range h.synthetic() {
		for _, m := range members {
			if m == "s1" {
				t.Fatal("s1 must not join a synthetic group")
			}
		}
	}
}

func TestPersonalOverrideOutsideWindowIsSkipped(t *testing.T) {
	h := newHarness(t)
	orig := guard.Fields{Open: guard.TimePtr(t0.Add(-2 * time.Hour)), Close: guard.TimePtr(t0.Add(-15 * time.Minute))}
	h.override(guard.UserScope("s1"), orig)

	res := h.apply(15)
	if res.Skipped != 1 {
		t.Fatalf("result = %+v", res)
	}
	if got := h.getOverride(guard.UserScope("s1")).Fields; !got.Equal(orig) {
		t.Fatalf("override changed: %+v", got)
	}
}

func TestLargerExtensionReplacesSyntheticGroups(t *testing.T) {
	h := newHarness(t)
	h.apply(15)
	res := h.apply(30)
	if res.GroupsDeleted != 1 || res.GroupsCreated != 1 {
		t.Fatalf("result = %+v", res)
	}
	gs, err := h.store.Repos().Overrides.FindGroupsByNamePrefix(h.ctx, course, guard.SyntheticPrefix(quizID))
	h.must(err)
	if len(gs) != 1 || gs[0].Name != guard.SyntheticName(quizID, 30, 1) {
		t.Fatalf("groups = %+v", gs)
	}
	if c := h.getOverride(guard.GroupScope(gs[0].ID)).Fields.Close; !c.Equal(t0.Add(3*time.Hour + 30*time.Minute)) {
		t.Fatalf("close = %v", c)
	}
}

func TestExpiredSyntheticGroupsAreLeftAlone(t *testing.T) {
	h := newHarness(t)
	stale := h.group(guard.SyntheticName(quizID, 5, 1), "s1")
	h.override(guard.GroupScope(stale), guard.Fields{Close: guard.TimePtr(t0.Add(-time.Minute))})

	res := h.apply(15)
	if res.GroupsDeleted != 0 {
		t.Fatalf("result = %+v", res)
	}
	gs, err := h.store.Repos().Overrides.FindGroupsByNamePrefix(h.ctx, course, guard.SyntheticPrefix(quizID))
	h.must(err)
	if len(gs) != 2 || gs[0].ID != stale || gs[1].Name != guard.SyntheticName(quizID, 15, 2) {
		t.Fatalf("groups = %+v", gs)
	}
}

func TestStudentInsidePreviousExtensionIsKept(t *testing.T) {
	h := newHarness(t)
	h.apply(30)
	// base close has passed, the 30 minute extension has not
	h.clock.now = t0.Add(3*time.Hour + 20*time.Minute)
	res := h.apply(45)
	if res.GroupsCreated != 1 || res.Skipped != 0 {
		t.Fatalf("result = %+v", res)
	}
	for gid := range h.synthetic() {
		if c := h.getOverride(guard.GroupScope(gid)).Fields.Close; !c.Equal(t0.Add(3*time.Hour + 45*time.Minute)) {
			t.Fatalf("close = %v", c)
		}
	}
}

func TestApplyExtensionRefusals(t *testing.T) {
	cases := []struct {
		name    string
		setup   func(h *harness)
		minutes int
		want    error
	}{
		{"unauthorized", func(h *harness) { h.authz.manage = false }, 15, guard.ErrUnauthorized},
		{"bulk disabled", func(h *harness) { h.opts.BulkExtensionEnabled = false }, 15, guard.ErrBulkExtensionDisabled},
		{"negative", func(h *harness) {}, -1, guard.ErrInvalidExtension},
		{"too large", func(h *harness) {}, 1000, guard.ErrInvalidExtension},
		{"not active", func(h *harness) { h.clock.now = t0.Add(4 * time.Hour) }, 15, guard.ErrNotActiveExamActivity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			tc.setup(h)
			_, err := h.service().ApplyExtension(h.ctx, quizID, tc.minutes, "t1")
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
			if h.store.Writes() != 0 || len(h.store.History(quizID)) != 0 {
				t.Fatal("refused apply must not write")
			}
		})
	}
}

func TestUnknownActivity(t *testing.T) {
	h := newHarness(t)
	_, err := h.service().ApplyExtension(h.ctx, "missing", 15, "t1")
	if !errors.Is(err, guard.ErrActivityNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestMultipleLegacyGroupsRollBack(t *testing.T) {
	h := newHarness(t)
	h.override(guard.UserScope("s1"), guard.Fields{Close: closeAt(4 * time.Hour)})
	h.group("Exam_guard_activity_q1_extension_10", "s2")
	h.group("Exam_guard_activity_q1_extension_20", "s3")
	before := h.store.Writes()

	_, err := h.service().ApplyExtension(h.ctx, quizID, 15, "t1")
	var ie *guard.InconsistentStateError
	if !errors.As(err, &ie) || ie.ActivityID != quizID {
		t.Fatalf("err = %v", err)
	}
	if h.store.Writes() != before {
		t.Fatal("failed apply must roll back")
	}
	if h.obs.failed != 1 {
		t.Fatalf("observer failures = %d", h.obs.failed)
	}
}

func TestLegacyGroupIsReplaced(t *testing.T) {
	h := newHarness(t)
	legacy := h.group("Exam_guard_activity_q1_extension_10", "s1")
	h.override(guard.GroupScope(legacy), guard.Fields{Close: closeAt(3*time.Hour + 10*time.Minute)})

	res := h.apply(20)
	if res.GroupsDeleted != 1 || res.GroupsCreated != 1 {
		t.Fatalf("result = %+v", res)
	}
	if o := h.getOverride(guard.GroupScope(legacy)); o != nil {
		t.Fatal("legacy override must be deleted")
	}
}

func TestRevokeWithoutSnapshotIsInconsistent(t *testing.T) {
	h := newHarness(t)
	id := h.override(guard.UserScope("s1"), guard.Fields{Close: closeAt(4 * time.Hour)})
	h.must(h.store.Repos().Ledger.UpsertAudit(h.ctx, guard.Audit{ActivityID: quizID, OverrideID: id, ExtensionMinutes: 10}))

	_, err := h.service().ApplyExtension(h.ctx, quizID, 0, "t1")
	var ie *guard.InconsistentStateError
	if !errors.As(err, &ie) {
		t.Fatalf("err = %v", err)
	}
}

func TestRevokeAfterWindow(t *testing.T) {
	h := newHarness(t)
	orig := guard.Fields{Close: closeAt(4 * time.Hour)}
	h.override(guard.UserScope("s1"), orig)
	h.apply(15)

	h.clock.now = t0.Add(5 * time.Hour)
	if _, err := h.service().ApplyExtension(h.ctx, quizID, 15, "t1"); !errors.Is(err, guard.ErrNotActiveExamActivity) {
		t.Fatalf("extend after the window: %v", err)
	}
	res := h.apply(0)
	if res.PersonalRestored != 1 {
		t.Fatalf("result = %+v", res)
	}
	if got := h.getOverride(guard.UserScope("s1")).Fields; !got.Equal(orig) {
		t.Fatalf("s1 not restored: %+v", got)
	}
	if cur, _ := h.service().CurrentExtension(h.ctx, quizID); cur != 0 {
		t.Fatalf("current extension = %d", cur)
	}
}

func TestInvalidOverrideIsNotAStoreError(t *testing.T) {
	h := newHarness(t)
	// close before open; still inside the buffered window at t0+5m
	h.override(guard.UserScope("s1"), guard.Fields{Open: guard.TimePtr(t0.Add(14 * time.Minute)), Close: guard.TimePtr(t0)})
	before := h.store.Writes()

	_, err := h.service().ApplyExtension(h.ctx, quizID, 1, "t1")
	if !errors.Is(err, guard.ErrInvalidOverride) || !errors.Is(err, quiz.ErrCloseBeforeOpen) {
		t.Fatalf("err = %v", err)
	}
	var se *guard.StoreError
	if errors.As(err, &se) {
		t.Fatalf("classified as a store failure: %v", err)
	}
	if h.store.Writes() != before {
		t.Fatal("failed apply must roll back")
	}
}
