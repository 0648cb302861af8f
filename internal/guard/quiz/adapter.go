package quiz

import (
	"context"
	"fmt"

	"github.com/mind-engage/examguard/internal/guard"
)

const (
	Type                      = "quiz"
	CapabilityAttempt         = "quiz:attempt"
	CapabilityManageOverrides = "quiz:manageoverrides"
)

var ErrCloseBeforeOpen = fmt.Errorf("%w: quiz override close time must be after open time", guard.ErrInvalidOverride)

func init() { guard.Register(Type, New) }

// Adapter is the timed-quiz variant. Open/close come from the quiz's
// timeopen/timeclose and duration from its time limit.
type Adapter struct {
	guard.BaseAdapter
}

func New(a guard.Activity, env guard.AdapterEnv) guard.ActivityAdapter {
	return &Adapter{BaseAdapter: guard.BaseAdapter{Act: a, Env: env}}
}

func (q *Adapter) ParticipateCapability() string { return CapabilityAttempt }

// CreateOverride rejects a close before the effective open, like the quiz
// override form does.
func (q *Adapter) CreateOverride(ctx context.Context, scope guard.Scope, f guard.Fields) (string, error) {
	open := q.Act.Open
	if f.Open != nil {
		open = *f.Open
	}
	if f.Close != nil && !f.Close.IsZero() && !open.IsZero() && !f.Close.After(open) {
		return "", ErrCloseBeforeOpen
	}
	return q.BaseAdapter.CreateOverride(ctx, scope, f)
}
