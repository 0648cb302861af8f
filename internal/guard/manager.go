package guard

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/mind-engage/examguard/internal/timewindow"
)

// GuardRole is the restrictive role assigned to editors while an exam runs.
const GuardRole = "examguard"

// EditCapabilities are the course-structure capabilities the guard role
// prohibits. Holding any of them makes a user an editor.
var EditCapabilities = []string{
	"course:update",
	"course:manageactivities",
	"course:activityvisibility",
	"course:sectionvisibility",
	"course:movesections",
	"course:setcurrentsection",
	"site:manageblocks",
}

// Manager decides, per course, whether editing must be blocked and keeps the
// guard role assignments in line with that.
type Manager struct {
	store    Store
	caps     Capabilities
	settings timewindow.Settings
	now      timewindow.Clock
	log      *log.Logger
	obs      Observer
}

func NewManager(store Store, caps Capabilities, settings timewindow.Settings, now timewindow.Clock, logger *log.Logger, obs Observer) *Manager {
	if now == nil {
		now = timewindow.System
	}
	if logger == nil {
		logger = log.Default()
	}
	if obs == nil {
		obs = NopObserver{}
	}
	return &Manager{store: store, caps: caps, settings: settings, now: now, log: logger, obs: obs}
}

func (m *Manager) env(r Repos) AdapterEnv {
	return AdapterEnv{Overrides: r.Overrides, Ledger: r.Ledger, Settings: m.settings, Now: m.now}
}

// ActiveExamActivities lists the course's active exam activities, latest
// ending first.
func (m *Manager) ActiveExamActivities(ctx context.Context, courseID string) ([]ActivityAdapter, error) {
	return m.activeExams(ctx, m.store.Repos(), courseID)
}

func (m *Manager) activeExams(ctx context.Context, r Repos, courseID string) ([]ActivityAdapter, error) {
	acts, err := r.Activities.ListCourseActivities(ctx, courseID)
	if err != nil {
		return nil, storeErr("list activities", err)
	}
	type entry struct {
		ad  ActivityAdapter
		end time.Time
	}
	var active []entry
	for _, a := range acts {
		if !IsSupported(a.Type) {
			continue
		}
		ad, err := NewAdapter(a, m.env(r))
		if err != nil {
			return nil, err
		}
		ok, err := ad.IsActiveExamActivity(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		end, err := ad.ExamEndTime(ctx)
		if err != nil {
			return nil, err
		}
		active = append(active, entry{ad: ad, end: end})
	}
	sort.SliceStable(active, func(i, j int) bool { return active[i].end.After(active[j].end) })
	out := make([]ActivityAdapter, len(active))
	for i, e := range active {
		out[i] = e.ad
	}
	return out, nil
}

func (m *Manager) CourseEditingShouldBeBlocked(ctx context.Context, courseID string) (bool, error) {
	active, err := m.ActiveExamActivities(ctx, courseID)
	if err != nil {
		return false, err
	}
	return len(active) > 0, nil
}

// Banner is the notice shown while editing is blocked; empty when nothing is
// active. active must be ordered as ActiveExamActivities returns it.
func (m *Manager) Banner(ctx context.Context, active []ActivityAdapter) (string, error) {
	if len(active) == 0 {
		return "", nil
	}
	end, err := active[0].ExamEndTime(ctx)
	if err != nil {
		return "", err
	}
	return BannerText(end), nil
}

func BannerText(end time.Time) string {
	return fmt.Sprintf("Exam in progress! Course editing will be available after %s", end.Format("Monday, 2 January 2006, 3:04 PM MST"))
}

// ReconcileCourseGuardRole aligns the guard role with the course's exam state.
// It only writes when the stored marker disagrees with the computed state, so
// it is safe to call on every page view.
func (m *Manager) ReconcileCourseGuardRole(ctx context.Context, courseID string) (GuardState, error) {
	if !m.caps.RoleExists(GuardRole) {
		return GuardState{}, ErrGuardRoleMissing
	}
	st := GuardState{CourseID: courseID}
	err := m.store.InTx(ctx, func(r Repos) error {
		active, err := m.activeExams(ctx, r, courseID)
		if err != nil {
			return err
		}
		st.Blocked = len(active) > 0
		if st.Banner, err = m.Banner(ctx, active); err != nil {
			return err
		}
		marked, err := r.Guard.GuardMarked(ctx, courseID)
		if err != nil {
			return storeErr("guard marker", err)
		}
		if marked == st.Blocked {
			return nil
		}
		st.Changed = true
		if st.Blocked {
			st.Users, err = m.block(ctx, r, courseID)
		} else {
			st.Users, err = m.unblock(ctx, r, courseID)
		}
		return err
	})
	if err != nil {
		return GuardState{}, err
	}
	if st.Changed {
		m.log.Printf("examguard: course %s blocked=%v, guard role changed for %d users", courseID, st.Blocked, len(st.Users))
		m.obs.GuardTransition(courseID, st.Blocked)
	}
	return st, nil
}

func (m *Manager) block(ctx context.Context, r Repos, courseID string) ([]string, error) {
	ens, err := r.Enrolments.CourseEnrolments(ctx, courseID)
	if err != nil {
		return nil, storeErr("course enrolments", err)
	}
	var users []string
	seen := map[string]bool{}
	for _, en := range ens {
		if seen[en.UserID] || !m.isEditor(en.Role) {
			continue
		}
		seen[en.UserID] = true
		if err := r.Guard.AssignRole(ctx, courseID, en.UserID, GuardRole); err != nil {
			return nil, storeErr("assign guard role", err)
		}
		users = append(users, en.UserID)
	}
	if err := r.Guard.MarkGuard(ctx, courseID); err != nil {
		return nil, storeErr("mark guard", err)
	}
	return users, nil
}

func (m *Manager) unblock(ctx context.Context, r Repos, courseID string) ([]string, error) {
	holders, err := r.Guard.RoleHolders(ctx, courseID, GuardRole)
	if err != nil {
		return nil, storeErr("guard role holders", err)
	}
	for _, uid := range holders {
		if err := r.Guard.UnassignRole(ctx, courseID, uid, GuardRole); err != nil {
			return nil, storeErr("unassign guard role", err)
		}
	}
	if err := r.Guard.ClearGuard(ctx, courseID); err != nil {
		return nil, storeErr("clear guard", err)
	}
	return holders, nil
}

func (m *Manager) isEditor(role string) bool {
	for _, c := range EditCapabilities {
		if m.caps.Has(role, c) {
			return true
		}
	}
	return false
}
