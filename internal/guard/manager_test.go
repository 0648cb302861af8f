package guard_test

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/mind-engage/examguard/internal/guard"
	"github.com/mind-engage/examguard/internal/guard/quiz"
	"github.com/mind-engage/examguard/internal/rbac"
)

func (h *harness) activity(id, typ string, open, close time.Time) {
	h.t.Helper()
	h.must(h.store.Repos().Activities.SaveActivity(h.ctx, guard.Activity{
		ID: id, CourseID: course, Type: typ, Open: open, Close: close,
	}))
}

func TestActiveExamActivitiesOrderedByEndTime(t *testing.T) {
	h := newHarness(t)
	h.activity("q2", quiz.Type, t0, t0.Add(4*time.Hour))
	h.activity("q3", quiz.Type, t0, t0.Add(6*time.Hour)) // too long for an exam
	h.activity("a1", "assign", t0, t0.Add(2*time.Hour))  // no adapter
	h.activity("q4", quiz.Type, t0.Add(5*time.Hour), t0.Add(6*time.Hour))
	h.clock.now = t0.Add(time.Hour)

	active, err := h.service().ActiveExamActivities(h.ctx, course)
	h.must(err)
	var ids []string
	for _, a := range active {
		ids = append(ids, a.Activity().ID)
	}
	if !reflect.DeepEqual(ids, []string{"q2", quizID}) {
		t.Fatalf("active = %v", ids)
	}
	blocked, err := h.service().Manager().CourseEditingShouldBeBlocked(h.ctx, course)
	h.must(err)
	if !blocked {
		t.Fatal("course must be blocked")
	}
}

func TestReconcileCourseGuardRoleTransitions(t *testing.T) {
	h := newHarness(t)
	h.must(h.store.Repos().Enrolments.Enrol(h.ctx, course, "m1", "manager"))
	h.must(h.store.Repos().Enrolments.Enrol(h.ctx, course, "t2", "teacher"))
	svc := h.service()
	g := h.store.Repos().Guard

	st, err := svc.ReconcileCourseGuard(h.ctx, course)
	h.must(err)
	if !st.Blocked || !st.Changed || !reflect.DeepEqual(st.Users, []string{"t1", "m1"}) {
		t.Fatalf("state = %+v", st)
	}
	if !strings.HasPrefix(st.Banner, "Exam in progress! Course editing will be available after ") {
		t.Fatalf("banner = %q", st.Banner)
	}
	holders, err := g.RoleHolders(h.ctx, course, guard.GuardRole)
	h.must(err)
	if !reflect.DeepEqual(holders, []string{"m1", "t1"}) {
		t.Fatalf("holders = %v", holders)
	}

	// redundant calls are no-ops
	st, err = svc.ReconcileCourseGuard(h.ctx, course)
	h.must(err)
	if st.Changed || !st.Blocked {
		t.Fatalf("second reconcile = %+v", st)
	}

	h.clock.now = t0.Add(3*time.Hour + 10*time.Minute)
	st, err = svc.ReconcileCourseGuard(h.ctx, course)
	h.must(err)
	if st.Blocked || !st.Changed || st.Banner != "" {
		t.Fatalf("after exam = %+v", st)
	}
	if holders, _ := g.RoleHolders(h.ctx, course, guard.GuardRole); len(holders) != 0 {
		t.Fatalf("holders left = %v", holders)
	}
	if marked, _ := g.GuardMarked(h.ctx, course); marked {
		t.Fatal("marker must be cleared")
	}
	if !reflect.DeepEqual(h.obs.transitions, []bool{true, false}) {
		t.Fatalf("transitions = %v", h.obs.transitions)
	}
}

func TestExtensionKeepsCourseBlocked(t *testing.T) {
	h := newHarness(t)
	h.apply(30)
	h.clock.now = t0.Add(3*time.Hour + 20*time.Minute)
	ok, err := h.service().IsActiveExamActivity(h.ctx, quizID)
	h.must(err)
	if !ok {
		t.Fatal("extension must keep the quiz active")
	}
	st, err := h.service().ExamStatus(h.ctx, quizID)
	h.must(err)
	if !st.End.Equal(t0.Add(3*time.Hour+40*time.Minute)) || st.ExtensionMinutes != 30 || !st.Start.Equal(t0) {
		t.Fatalf("status = %+v", st)
	}
	if marked, _ := h.store.Repos().Guard.GuardMarked(h.ctx, course); !marked {
		t.Fatal("apply must reconcile the course guard")
	}
}

func TestCheckCourseEditAllowed(t *testing.T) {
	h := newHarness(t)
	if err := h.service().CheckCourseEditAllowed(h.ctx, course); !errors.Is(err, guard.ErrCourseEditingBanned) {
		t.Fatalf("err = %v", err)
	}
	h.authz.bypass = true
	if err := h.service().CheckCourseEditAllowed(h.ctx, course); err != nil {
		t.Fatalf("admin bypass: %v", err)
	}
	h.authz.bypass = false
	h.opts.GuardEnabled = false
	if err := h.service().CheckCourseEditAllowed(h.ctx, course); err != nil {
		t.Fatalf("guard disabled: %v", err)
	}
	if _, err := h.service().ReconcileCourseGuard(h.ctx, course); !errors.Is(err, guard.ErrGuardDisabled) {
		t.Fatalf("reconcile with guard disabled: %v", err)
	}
}

func TestSaveActivityReconcilesGuard(t *testing.T) {
	h := newHarness(t)
	h.clock.now = t0.Add(-2 * time.Hour)
	svc := h.service()
	err := svc.SaveActivity(h.ctx, guard.Activity{
		ID: "q9", CourseID: course, Type: quiz.Type,
		Open: t0.Add(-2 * time.Hour), Close: t0.Add(-time.Hour),
	})
	h.must(err)
	if marked, _ := h.store.Repos().Guard.GuardMarked(h.ctx, course); !marked {
		t.Fatal("saving an active exam must block the course")
	}
	err = svc.SaveActivity(h.ctx, guard.Activity{ID: "q10", CourseID: course, Type: quiz.Type})
	if !errors.Is(err, guard.ErrCourseEditingBanned) {
		t.Fatalf("err = %v", err)
	}
}

func TestSaveActivityRefusesOtherCourse(t *testing.T) {
	h := newHarness(t)
	svc := h.service()
	_, err := svc.ReconcileCourseGuard(h.ctx, course)
	h.must(err)

	err = svc.SaveActivity(h.ctx, guard.Activity{
		ID: quizID, CourseID: "c2", Type: quiz.Type, Open: t0, Close: t0.Add(time.Minute),
	})
	if !errors.Is(err, guard.ErrActivityNotFound) {
		t.Fatalf("err = %v", err)
	}
	act, err := h.store.Repos().Activities.GetActivity(h.ctx, quizID)
	h.must(err)
	if act.CourseID != course || !act.Close.Equal(t0.Add(3*time.Hour)) {
		t.Fatalf("activity changed: %+v", act)
	}
	blocked, err := svc.Manager().CourseEditingShouldBeBlocked(h.ctx, course)
	h.must(err)
	if !blocked {
		t.Fatal("course must stay blocked")
	}
	if err := svc.CheckCourseEditAllowed(h.ctx, course); !errors.Is(err, guard.ErrCourseEditingBanned) {
		t.Fatalf("edit check = %v", err)
	}
}

// The guard role must take away exactly what makes a role an editor.
func TestGuardRoleProhibitsEditCapabilities(t *testing.T) {
	got := rbac.RoleProhibitions[guard.GuardRole]
	if !reflect.DeepEqual(got, guard.EditCapabilities) {
		t.Fatalf("prohibitions = %v, want %v", got, guard.EditCapabilities)
	}
}

func TestOnCourseView(t *testing.T) {
	h := newHarness(t)
	svc := h.service()
	banner, err := svc.OnCourseView(h.ctx, course, "student")
	h.must(err)
	if banner != "" {
		t.Fatalf("students get no banner, got %q", banner)
	}
	if marked, _ := h.store.Repos().Guard.GuardMarked(h.ctx, course); marked {
		t.Fatal("student views must not reconcile")
	}
	banner, err = svc.OnCourseView(h.ctx, course, "editingteacher")
	h.must(err)
	if want := guard.BannerText(t0.Add(3*time.Hour + 10*time.Minute)); banner != want {
		t.Fatalf("banner = %q, want %q", banner, want)
	}
}

func TestGuardRoleMissing(t *testing.T) {
	h := newHarness(t)
	m := guard.NewManager(h.store, noRoles{}, h.opts.Settings, h.clock.Now, nil, nil)
	if _, err := m.ReconcileCourseGuardRole(h.ctx, course); !errors.Is(err, guard.ErrGuardRoleMissing) {
		t.Fatalf("err = %v", err)
	}
}

type noRoles struct{}

func (noRoles) Has(string, string) bool { return false }
func (noRoles) RoleExists(string) bool  { return false }
