package guard

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/mind-engage/examguard/internal/timewindow"
)

type Options struct {
	Settings             timewindow.Settings
	BulkExtensionEnabled bool
	GuardEnabled         bool
	GradeableRoles       []string
}

func DefaultOptions() Options {
	return Options{
		Settings:             timewindow.DefaultSettings(),
		BulkExtensionEnabled: true,
		GuardEnabled:         true,
		GradeableRoles:       []string{"student"},
	}
}

// Service is the entry point the UI and HTTP layers call.
type Service struct {
	store   Store
	authz   Authorizer
	caps    Capabilities
	opts    Options
	now     timewindow.Clock
	log     *log.Logger
	obs     Observer
	manager *Manager
}

func NewService(store Store, authz Authorizer, caps Capabilities, opts Options, now timewindow.Clock, logger *log.Logger, obs Observer) *Service {
	if now == nil {
		now = timewindow.System
	}
	if logger == nil {
		logger = log.Default()
	}
	if obs == nil {
		obs = NopObserver{}
	}
	return &Service{
		store:   store,
		authz:   authz,
		caps:    caps,
		opts:    opts,
		now:     now,
		log:     logger,
		obs:     obs,
		manager: NewManager(store, caps, opts.Settings, now, logger, obs),
	}
}

func (s *Service) Manager() *Manager { return s.manager }
func (s *Service) Options() Options  { return s.opts }

func (s *Service) adapter(ctx context.Context, r Repos, activityID string) (ActivityAdapter, error) {
	act, err := r.Activities.GetActivity(ctx, activityID)
	if err != nil {
		return nil, storeErr("get activity", err)
	}
	return NewAdapter(act, AdapterEnv{Overrides: r.Overrides, Ledger: r.Ledger, Settings: s.opts.Settings, Now: s.now})
}

// ApplyExtension sets the bulk extension of an activity to minutes, by is the
// acting user. Authorization is checked before any transaction is opened.
func (s *Service) ApplyExtension(ctx context.Context, activityID string, minutes int, by string) (ApplyResult, error) {
	if !s.opts.BulkExtensionEnabled {
		return ApplyResult{}, ErrBulkExtensionDisabled
	}
	if minutes < 0 || minutes > MaxExtensionMinutes {
		return ApplyResult{}, ErrInvalidExtension
	}
	if !s.authz.CanManageOverrides(ctx, activityID) {
		return ApplyResult{}, ErrUnauthorized
	}

	var (
		res      ApplyResult
		courseID string
	)
	err := s.store.InTx(ctx, func(r Repos) error {
		ad, err := s.adapter(ctx, r, activityID)
		if err != nil {
			return err
		}
		courseID = ad.Activity().CourseID
		active, err := ad.IsActiveExamActivity(ctx)
		if err != nil {
			return err
		}
		// revoking is allowed after the window so the overrides can be cleaned up
		if !active && minutes != 0 {
			return ErrNotActiveExamActivity
		}
		roster := NewRoster(r, s.caps, s.opts.GradeableRoles)
		res, err = NewReconciler(r.Overrides, r.Ledger, roster, s.opts.Settings, s.now).Apply(ctx, ad, minutes, by)
		return err
	})
	if err != nil {
		s.obs.ExtensionFailed(activityID, err)
		return ApplyResult{}, err
	}
	s.log.Printf("examguard: activity %s extended by %d min by %s (personal updated=%d restored=%d, groups created=%d kept=%d deleted=%d, skipped=%d)",
		activityID, minutes, by, res.PersonalUpdated, res.PersonalRestored, res.GroupsCreated, res.GroupsKept, res.GroupsDeleted, res.Skipped)
	s.obs.ExtensionApplied(res)

	// the end time moved; the course guard may need to follow
	if s.opts.GuardEnabled {
		if _, err := s.manager.ReconcileCourseGuardRole(ctx, courseID); err != nil {
			s.log.Printf("examguard: reconcile course %s after extension: %v", courseID, err)
		}
	}
	return res, nil
}

func (s *Service) CurrentExtension(ctx context.Context, activityID string) (int, error) {
	r := s.store.Repos()
	if _, err := r.Activities.GetActivity(ctx, activityID); err != nil {
		return 0, storeErr("get activity", err)
	}
	m, err := r.Ledger.LatestExtension(ctx, activityID)
	if err != nil {
		return 0, storeErr("latest extension", err)
	}
	return m, nil
}

type ExamStatus struct {
	ActivityID       string    `json:"activity_id"`
	ExamActivity     bool      `json:"exam_activity"`
	Active           bool      `json:"active"`
	Start            time.Time `json:"start_time"`
	End              time.Time `json:"end_time"`
	ExtensionMinutes int       `json:"extension_minutes"`
}

func (s *Service) ExamStatus(ctx context.Context, activityID string) (ExamStatus, error) {
	ad, err := s.adapter(ctx, s.store.Repos(), activityID)
	if err != nil {
		return ExamStatus{}, err
	}
	st := ExamStatus{ActivityID: activityID, ExamActivity: ad.IsExamActivity(), Start: ad.ExamStartTime()}
	if st.Active, err = ad.IsActiveExamActivity(ctx); err != nil {
		return ExamStatus{}, err
	}
	if st.End, err = ad.ExamEndTime(ctx); err != nil {
		return ExamStatus{}, err
	}
	if st.ExtensionMinutes, err = s.CurrentExtension(ctx, activityID); err != nil {
		return ExamStatus{}, err
	}
	return st, nil
}

func (s *Service) IsActiveExamActivity(ctx context.Context, activityID string) (bool, error) {
	ad, err := s.adapter(ctx, s.store.Repos(), activityID)
	if err != nil {
		return false, err
	}
	return ad.IsActiveExamActivity(ctx)
}

func (s *Service) ActiveExamActivities(ctx context.Context, courseID string) ([]ActivityAdapter, error) {
	return s.manager.ActiveExamActivities(ctx, courseID)
}

func (s *Service) ReconcileCourseGuard(ctx context.Context, courseID string) (GuardState, error) {
	if !s.opts.GuardEnabled {
		return GuardState{}, ErrGuardDisabled
	}
	return s.manager.ReconcileCourseGuardRole(ctx, courseID)
}

// CheckCourseEditAllowed fails with ErrCourseEditingBanned while the course
// has an active exam, unless the caller may bypass the guard.
func (s *Service) CheckCourseEditAllowed(ctx context.Context, courseID string) error {
	if !s.opts.GuardEnabled || s.authz.CanBypassCourseGuard(ctx) {
		return nil
	}
	blocked, err := s.manager.CourseEditingShouldBeBlocked(ctx, courseID)
	if err != nil {
		return err
	}
	if blocked {
		return ErrCourseEditingBanned
	}
	return nil
}

// SaveActivity creates or updates an activity and re-evaluates the course
// guard, since the change may start or end an exam window. An activity never
// moves between courses.
func (s *Service) SaveActivity(ctx context.Context, a Activity) error {
	if err := s.CheckCourseEditAllowed(ctx, a.CourseID); err != nil {
		return err
	}
	err := s.store.InTx(ctx, func(r Repos) error {
		old, err := r.Activities.GetActivity(ctx, a.ID)
		switch {
		case errors.Is(err, ErrActivityNotFound):
		case err != nil:
			return storeErr("get activity", err)
		case old.CourseID != a.CourseID:
			return fmt.Errorf("%w: %s is not in course %s", ErrActivityNotFound, a.ID, a.CourseID)
		}
		return storeErr("save activity", r.Activities.SaveActivity(ctx, a))
	})
	if err != nil {
		return err
	}
	if s.opts.GuardEnabled && IsSupported(a.Type) {
		if _, err := s.manager.ReconcileCourseGuardRole(ctx, a.CourseID); err != nil {
			s.log.Printf("examguard: reconcile course %s after saving activity %s: %v", a.CourseID, a.ID, err)
		}
	}
	return nil
}

// OnCourseView reconciles the guard for editors viewing the course and
// returns the banner to show them, if any.
func (s *Service) OnCourseView(ctx context.Context, courseID, role string) (string, error) {
	if !s.opts.GuardEnabled || !s.manager.isEditor(role) {
		return "", nil
	}
	st, err := s.manager.ReconcileCourseGuardRole(ctx, courseID)
	if err != nil {
		return "", err
	}
	return st.Banner, nil
}
