package guard

import "time"

type ScopeKind string

const (
	ScopeUser  ScopeKind = "user"
	ScopeGroup ScopeKind = "group"
)

// Scope names who an override applies to: one user or one group.
type Scope struct {
	Kind ScopeKind `json:"kind"`
	ID   string    `json:"id"`
}

func UserScope(userID string) Scope   { return Scope{Kind: ScopeUser, ID: userID} }
func GroupScope(groupID string) Scope { return Scope{Kind: ScopeGroup, ID: groupID} }

// Fields are the timing values an override replaces. A nil field falls back
// to the next level of precedence. A set field holding the zero value means
// "no bound" (no close, unlimited duration).
type Fields struct {
	Open     *time.Time
	Close    *time.Time
	Duration *time.Duration
}

func (f Fields) Clone() Fields {
	var c Fields
	if f.Open != nil {
		v := *f.Open
		c.Open = &v
	}
	if f.Close != nil {
		v := *f.Close
		c.Close = &v
	}
	if f.Duration != nil {
		v := *f.Duration
		c.Duration = &v
	}
	return c
}

func (f Fields) Equal(g Fields) bool {
	return timePtrEqual(f.Open, g.Open) && timePtrEqual(f.Close, g.Close) && durPtrEqual(f.Duration, g.Duration)
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Unix() == b.Unix()
}

func durPtrEqual(a, b *time.Duration) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func TimePtr(t time.Time) *time.Time             { return &t }
func DurationPtr(d time.Duration) *time.Duration { return &d }

type Override struct {
	ID         string
	ActivityID string
	Scope      Scope
	Fields     Fields
}

type Group struct {
	ID       string
	CourseID string
	Name     string
}

// Activity is the stored configuration of one timed activity.
type Activity struct {
	ID       string        `json:"id"`
	CourseID string        `json:"course_id"`
	Type     string        `json:"type"` // quiz, ...
	Name     string        `json:"name"`
	Open     time.Time     `json:"-"`
	Close    time.Time     `json:"-"`
	Duration time.Duration `json:"-"`
}

// EffectiveSettings is the timing triple resolved for one student.
type EffectiveSettings struct {
	Open     time.Time
	Close    time.Time
	Duration time.Duration
}

type ExtensionRecord struct {
	ID         string
	ActivityID string
	Minutes    int
	AppliedAt  time.Time
	AppliedBy  string
}

// Audit records the extension currently baked into one override, plus the
// override's fields before any extension when it was a pre-existing record.
type Audit struct {
	ActivityID       string
	OverrideID       string
	ExtensionMinutes int
	Original         *Fields
	ModifiedBy       string
	ModifiedAt       time.Time
}

// Enrolment is a user's role in a course.
type Enrolment struct {
	UserID string
	Role   string
}

// ApplyResult summarises what one extension run changed.
type ApplyResult struct {
	ActivityID       string
	Minutes          int
	PersonalUpdated  int
	PersonalRestored int
	GroupsDeleted    int
	GroupsCreated    int
	GroupsKept       int
	Skipped          int
}

// GuardState is the outcome of a course guard reconcile.
type GuardState struct {
	CourseID string
	Blocked  bool
	Changed  bool
	Users    []string // users whose guard role was assigned or revoked
	Banner   string
}
