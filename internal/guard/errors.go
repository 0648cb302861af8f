package guard

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorized          = errors.New("guard: not allowed to manage overrides")
	ErrNotActiveExamActivity = errors.New("guard: not an active exam activity")
	ErrBulkExtensionDisabled = errors.New("guard: bulk extension is not enabled")
	ErrGuardDisabled         = errors.New("guard: exam guard is disabled")
	ErrInvalidExtension      = errors.New("guard: extension must be between 0 and 999 minutes")
	ErrActivityNotFound      = errors.New("guard: activity not found")
	ErrUnsupportedActivity   = errors.New("guard: unsupported activity type")
	ErrCourseEditingBanned   = errors.New("guard: course editing is blocked while an exam is in progress")
	ErrGuardRoleMissing      = errors.New("guard: exam guard role does not exist")
	ErrInvalidOverride       = errors.New("guard: invalid override")
)

// MaxExtensionMinutes caps a single bulk extension.
const MaxExtensionMinutes = 999

// InconsistentStateError means stored state contradicts what the guard
// wrote earlier. The operation is aborted and rolled back.
type InconsistentStateError struct {
	ActivityID string
	Reason     string
}

func (e *InconsistentStateError) Error() string {
	return fmt.Sprintf("guard: inconsistent state for activity %s: %s", e.ActivityID, e.Reason)
}

// StoreError wraps a persistence failure.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return "guard: store " + e.Op + ": " + e.Err.Error() }
func (e *StoreError) Unwrap() error { return e.Err }

// storeErr wraps err unless it already carries a guard classification.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	var ie *InconsistentStateError
	if errors.As(err, &se) || errors.As(err, &ie) ||
		errors.Is(err, ErrActivityNotFound) || errors.Is(err, ErrGuardRoleMissing) ||
		errors.Is(err, ErrInvalidOverride) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}
