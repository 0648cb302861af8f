package guard

// Observer is notified of state changes, e.g. for metrics.
type Observer interface {
	ExtensionApplied(res ApplyResult)
	ExtensionFailed(activityID string, err error)
	GuardTransition(courseID string, blocked bool)
}

type NopObserver struct{}

func (NopObserver) ExtensionApplied(ApplyResult)  {}
func (NopObserver) ExtensionFailed(string, error) {}
func (NopObserver) GuardTransition(string, bool)  {}
