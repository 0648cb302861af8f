package timewindow

import "time"

// Clock returns the current time. Inject a fixed clock in tests.
type Clock func() time.Time

// System is the wall clock.
func System() time.Time { return time.Now() }

// Settings are the plugin-wide knobs every window is built from.
type Settings struct {
	ExamDuration time.Duration // longest open→close span still treated as an exam
	Buffer       time.Duration // margin before open / after close that still counts as active
}

const (
	DefaultExamDurationMinutes = 300
	DefaultTimeBufferMinutes   = 10
)

func DefaultSettings() Settings {
	return FromMinutes(DefaultExamDurationMinutes, DefaultTimeBufferMinutes)
}

func FromMinutes(examDurationMinutes, bufferMinutes int) Settings {
	return Settings{
		ExamDuration: time.Duration(examDurationMinutes) * time.Minute,
		Buffer:       time.Duration(bufferMinutes) * time.Minute,
	}
}

// ActivityWindow is the timing of one activity instance as seen by the guard.
// A zero Open or Close means the activity has no such bound; a zero Duration
// means no time limit.
type ActivityWindow struct {
	Open          time.Time
	Close         time.Time
	Duration      time.Duration
	Buffer        time.Duration
	ExamThreshold time.Duration
}

func (s Settings) Window(open, close time.Time, duration time.Duration) ActivityWindow {
	return ActivityWindow{
		Open:          open,
		Close:         close,
		Duration:      duration,
		Buffer:        s.Buffer,
		ExamThreshold: s.ExamDuration,
	}
}

// IsExamActivity reports whether both bounds are set and the span is within
// the exam threshold (equality included).
func IsExamActivity(w ActivityWindow) bool {
	if w.Open.IsZero() || w.Close.IsZero() {
		return false
	}
	return w.Close.Sub(w.Open) <= w.ExamThreshold
}

// IsActive reports whether now lies strictly inside
// (open - buffer, close + extension + buffer).
func IsActive(w ActivityWindow, extension time.Duration, now time.Time) bool {
	if !IsExamActivity(w) {
		return false
	}
	return w.Open.Add(-w.Buffer).Before(now) && now.Before(ExamEndTime(w, extension))
}

func ExamStartTime(w ActivityWindow) time.Time { return w.Open }

func ExamEndTime(w ActivityWindow, extension time.Duration) time.Time {
	return w.Close.Add(extension + w.Buffer)
}

// Contains is the per-student variant of IsActive: it does not require an
// exam-like span, and an unset bound is open-ended.
func Contains(open, close time.Time, buffer time.Duration, now time.Time) bool {
	if !open.IsZero() && !open.Add(-buffer).Before(now) {
		return false
	}
	if !close.IsZero() && !now.Before(close.Add(buffer)) {
		return false
	}
	return true
}
