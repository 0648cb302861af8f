package guard

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mind-engage/examguard/internal/timewindow"
)

// ActivityAdapter is the per-type view of an activity the guard works with.
type ActivityAdapter interface {
	Activity() Activity
	// ParticipateCapability is what a student needs to take the activity.
	ParticipateCapability() string
	BaseWindow() timewindow.ActivityWindow
	CreateOverride(ctx context.Context, scope Scope, f Fields) (string, error)
	EffectiveSettings(personal *Override, groups []Override) EffectiveSettings
	IsExamActivity() bool
	IsActiveExamActivity(ctx context.Context) (bool, error)
	ExamStartTime() time.Time
	ExamEndTime(ctx context.Context) (time.Time, error)
}

// AdapterEnv carries what an adapter needs beyond the activity itself.
type AdapterEnv struct {
	Overrides OverrideStore
	Ledger    ExtensionLedger
	Settings  timewindow.Settings
	Now       timewindow.Clock
}

type Constructor func(a Activity, env AdapterEnv) ActivityAdapter

var (
	registryMu sync.RWMutex
	registry   = map[string]Constructor{}
)

// Register an adapter for an activity type. Call from init() in subpackages.
func Register(activityType string, c Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[activityType] = c
}

func Lookup(activityType string) (Constructor, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	c, ok := registry[activityType]
	return c, ok
}

// SupportedTypes returns the registered activity types, sorted.
func SupportedTypes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func IsSupported(activityType string) bool {
	_, ok := Lookup(activityType)
	return ok
}

func NewAdapter(a Activity, env AdapterEnv) (ActivityAdapter, error) {
	c, ok := Lookup(a.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedActivity, a.Type)
	}
	if env.Now == nil {
		env.Now = timewindow.System
	}
	return c(a, env), nil
}

// BaseAdapter implements the type-independent parts of ActivityAdapter.
// Variants embed it and override what differs.
type BaseAdapter struct {
	Act Activity
	Env AdapterEnv
}

func (b *BaseAdapter) Activity() Activity { return b.Act }

func (b *BaseAdapter) BaseWindow() timewindow.ActivityWindow {
	return b.Env.Settings.Window(b.Act.Open, b.Act.Close, b.Act.Duration)
}

func (b *BaseAdapter) CreateOverride(ctx context.Context, scope Scope, f Fields) (string, error) {
	id, err := b.Env.Overrides.SaveOverride(ctx, b.Act.ID, scope, f)
	if err != nil {
		return "", storeErr("save override", err)
	}
	return id, nil
}

func (b *BaseAdapter) EffectiveSettings(personal *Override, groups []Override) EffectiveSettings {
	return ResolveEffective(b.BaseWindow(), personal, groups)
}

func (b *BaseAdapter) IsExamActivity() bool {
	return timewindow.IsExamActivity(b.BaseWindow())
}

func (b *BaseAdapter) CurrentExtension(ctx context.Context) (time.Duration, error) {
	m, err := b.Env.Ledger.LatestExtension(ctx, b.Act.ID)
	if err != nil {
		return 0, storeErr("latest extension", err)
	}
	return time.Duration(m) * time.Minute, nil
}

func (b *BaseAdapter) IsActiveExamActivity(ctx context.Context) (bool, error) {
	if !b.IsExamActivity() {
		return false, nil
	}
	ext, err := b.CurrentExtension(ctx)
	if err != nil {
		return false, err
	}
	return timewindow.IsActive(b.BaseWindow(), ext, b.Env.Now()), nil
}

func (b *BaseAdapter) ExamStartTime() time.Time {
	return timewindow.ExamStartTime(b.BaseWindow())
}

func (b *BaseAdapter) ExamEndTime(ctx context.Context) (time.Time, error) {
	ext, err := b.CurrentExtension(ctx)
	if err != nil {
		return time.Time{}, err
	}
	return timewindow.ExamEndTime(b.BaseWindow(), ext), nil
}
