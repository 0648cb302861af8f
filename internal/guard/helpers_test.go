package guard_test

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/mind-engage/examguard/internal/guard"
	"github.com/mind-engage/examguard/internal/guard/quiz"
	"github.com/mind-engage/examguard/internal/rbac"
	"github.com/mind-engage/examguard/internal/store/memory"
)

var t0 = time.Unix(1744099200, 0).UTC()

type fakeAuthz struct{ manage, bypass bool }

func (f fakeAuthz) CanManageOverrides(context.Context, string) bool { return f.manage }
func (f fakeAuthz) CanBypassCourseGuard(context.Context) bool       { return f.bypass }

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

type recorder struct {
	applied     []guard.ApplyResult
	failed      int
	transitions []bool
}

func (r *recorder) ExtensionApplied(res guard.ApplyResult) { r.applied = append(r.applied, res) }
func (r *recorder) ExtensionFailed(string, error)          { r.failed++ }
func (r *recorder) GuardTransition(_ string, blocked bool) {
	r.transitions = append(r.transitions, blocked)
}

type harness struct {
	t     *testing.T
	ctx   context.Context
	store *memory.Store
	clock *clock
	obs   *recorder
	authz fakeAuthz
	opts  guard.Options
}

const (
	course = "c1"
	quizID = "q1"
)

var students = []string{"s1", "s2", "s3", "s4", "s5"}

// newHarness seeds course c1 with quiz q1 (open t0, close t0+3h, limit 3h),
// five students and one editing teacher.
func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:     t,
		ctx:   context.Background(),
		store: memory.New(),
		clock: &clock{now: t0.Add(5 * time.Minute)},
		obs:   &recorder{},
		authz: fakeAuthz{manage: true},
		opts:  guard.DefaultOptions(),
	}
	r := h.store.Repos()
	h.must(r.Activities.SaveActivity(h.ctx, guard.Activity{
		ID: quizID, CourseID: course, Type: quiz.Type, Name: "Final exam",
		Open: t0, Close: t0.Add(3 * time.Hour), Duration: 3 * time.Hour,
	}))
	for _, s := range students {
		h.must(r.Enrolments.Enrol(h.ctx, course, s, "student"))
	}
	h.must(r.Enrolments.Enrol(h.ctx, course, "t1", "editingteacher"))
	return h
}

func (h *harness) must(err error) {
	h.t.Helper()
	if err != nil {
		h.t.Fatalf("unexpected error: %v", err)
	}
}

func (h *harness) service() *guard.Service {
	return guard.NewService(h.store, h.authz, rbac.NewChecker(nil), h.opts, h.clock.Now, log.New(io.Discard, "", 0), h.obs)
}

func (h *harness) apply(minutes int) guard.ApplyResult {
	h.t.Helper()
	res, err := h.service().ApplyExtension(h.ctx, quizID, minutes, "t1")
	if err != nil {
		h.t.Fatalf("ApplyExtension(%d): %v", minutes, err)
	}
	return res
}

func (h *harness) group(name string, members ...string) string {
	h.t.Helper()
	r := h.store.Repos()
	gid, err := r.Overrides.CreateGroup(h.ctx, course, name)
	h.must(err)
	for _, m := range members {
		h.must(r.Overrides.AddMember(h.ctx, gid, m))
	}
	return gid
}

func (h *harness) override(scope guard.Scope, f guard.Fields) string {
	h.t.Helper()
	id, err := h.store.Repos().Overrides.SaveOverride(h.ctx, quizID, scope, f)
	h.must(err)
	return id
}

func (h *harness) getOverride(scope guard.Scope) *guard.Override {
	h.t.Helper()
	o, err := h.store.Repos().Overrides.GetOverride(h.ctx, quizID, scope)
	h.must(err)
	return o
}

// synthetic returns the activity's synthetic groups with their members.
func (h *harness) synthetic() map[string][]string {
	h.t.Helper()
	r := h.store.Repos()
	gs, err := r.Overrides.FindGroupsByNamePrefix(h.ctx, course, guard.SyntheticPrefix(quizID))
	h.must(err)
	out := map[string][]string{}
	for _, g := range gs {
		m, err := r.Overrides.ListGroupMembers(h.ctx, g.ID)
		h.must(err)
		out[g.ID] = m
	}
	return out
}

func closeAt(d time.Duration) *time.Time { return guard.TimePtr(t0.Add(d)) }
