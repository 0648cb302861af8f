// Package metrics exports guard activity as Prometheus series.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mind-engage/examguard/internal/guard"
)

// Observer implements guard.Observer.
type Observer struct {
	applied     prometheus.Counter
	failed      *prometheus.CounterVec
	groups      *prometheus.CounterVec
	transitions *prometheus.CounterVec
	blocked     prometheus.Gauge
}

var _ guard.Observer = (*Observer)(nil)

// New registers the collectors on reg; nil means the default registry.
func New(reg prometheus.Registerer) *Observer {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Observer{
		applied: f.NewCounter(prometheus.CounterOpts{
			Name: "examguard_extensions_applied_total",
			Help: "Bulk extensions applied successfully.",
		}),
		failed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "examguard_extensions_failed_total",
			Help: "Bulk extension attempts that returned an error, by kind.",
		}, []string{"kind"}),
		groups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "examguard_synthetic_groups_total",
			Help: "Synthetic extension groups touched, by action.",
		}, []string{"action"}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "examguard_guard_transitions_total",
			Help: "Course guard role transitions.",
		}, []string{"state"}),
		blocked: f.NewGauge(prometheus.GaugeOpts{
			Name: "examguard_courses_blocked",
			Help: "Courses currently marked as blocked by this process.",
		}),
	}
}

func (o *Observer) ExtensionApplied(res guard.ApplyResult) {
	o.applied.Inc()
	o.groups.WithLabelValues("created").Add(float64(res.GroupsCreated))
	o.groups.WithLabelValues("deleted").Add(float64(res.GroupsDeleted))
	o.groups.WithLabelValues("kept").Add(float64(res.GroupsKept))
}

func (o *Observer) ExtensionFailed(_ string, err error) {
	o.failed.WithLabelValues(Kind(err)).Inc()
}

func (o *Observer) GuardTransition(_ string, blocked bool) {
	if blocked {
		o.transitions.WithLabelValues("blocked").Inc()
		o.blocked.Inc()
		return
	}
	o.transitions.WithLabelValues("unblocked").Inc()
	o.blocked.Dec()
}

// Kind maps a guard error to a low-cardinality label value.
func Kind(err error) string {
	var ie *guard.InconsistentStateError
	var se *guard.StoreError
	switch {
	case errors.Is(err, guard.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, guard.ErrNotActiveExamActivity):
		return "not_active"
	case errors.Is(err, guard.ErrBulkExtensionDisabled):
		return "disabled"
	case errors.Is(err, guard.ErrInvalidExtension), errors.Is(err, guard.ErrInvalidOverride):
		return "invalid"
	case errors.Is(err, guard.ErrActivityNotFound), errors.Is(err, guard.ErrUnsupportedActivity):
		return "not_found"
	case errors.As(err, &ie):
		return "inconsistent"
	case errors.As(err, &se):
		return "store"
	}
	return "other"
}
