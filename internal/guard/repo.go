package guard

import "context"

// OverrideStore persists per-user and per-group timing overrides and the
// groups they hang off.
type OverrideStore interface {
	ListOverrides(ctx context.Context, activityID string) ([]Override, error)
	GetOverride(ctx context.Context, activityID string, scope Scope) (*Override, error) // nil when absent
	SaveOverride(ctx context.Context, activityID string, scope Scope, f Fields) (string, error)
	DeleteOverride(ctx context.Context, overrideID string) error

	CreateGroup(ctx context.Context, courseID, name string) (string, error)
	DeleteGroup(ctx context.Context, groupID string) error
	AddMember(ctx context.Context, groupID, userID string) error
	ListGroupMembers(ctx context.Context, groupID string) ([]string, error)
	FindGroupsByNamePrefix(ctx context.Context, courseID, prefix string) ([]Group, error)
}

// ExtensionLedger keeps the extension history and per-override audit rows.
type ExtensionLedger interface {
	LatestExtension(ctx context.Context, activityID string) (int, error) // 0 when none recorded
	RecordExtension(ctx context.Context, rec ExtensionRecord) error
	GetAudit(ctx context.Context, activityID, overrideID string) (*Audit, error) // nil when absent
	UpsertAudit(ctx context.Context, a Audit) error
	DeleteAudit(ctx context.Context, activityID, overrideID string) error
}

// Roster answers who takes an activity and which groups they are in.
type Roster interface {
	GradeableEnrolledUsers(ctx context.Context, contextID, capability string) ([]string, error)
	UserGroups(ctx context.Context, courseID, userID string) ([]string, error)
}

// Authorizer decides what the caller in ctx may do.
type Authorizer interface {
	CanManageOverrides(ctx context.Context, contextID string) bool
	CanBypassCourseGuard(ctx context.Context) bool
}

// Capabilities maps a role to what it can do.
type Capabilities interface {
	Has(role, capability string) bool
	RoleExists(role string) bool
}

type ActivityCatalog interface {
	GetActivity(ctx context.Context, id string) (Activity, error)
	ListCourseActivities(ctx context.Context, courseID string) ([]Activity, error)
	SaveActivity(ctx context.Context, a Activity) error
}

type Enrolments interface {
	CourseEnrolments(ctx context.Context, courseID string) ([]Enrolment, error)
	UserGroups(ctx context.Context, courseID, userID string) ([]string, error)
	Enrol(ctx context.Context, courseID, userID, role string) error
}

// CourseGuardStore holds the per-course blocked marker and role assignments.
type CourseGuardStore interface {
	GuardMarked(ctx context.Context, courseID string) (bool, error)
	MarkGuard(ctx context.Context, courseID string) error
	ClearGuard(ctx context.Context, courseID string) error
	AssignRole(ctx context.Context, courseID, userID, role string) error
	UnassignRole(ctx context.Context, courseID, userID, role string) error
	RoleHolders(ctx context.Context, courseID, role string) ([]string, error)
}

// Repos bundles the stores a unit of work needs.
type Repos struct {
	Overrides  OverrideStore
	Ledger     ExtensionLedger
	Activities ActivityCatalog
	Enrolments Enrolments
	Guard      CourseGuardStore
}

// Store hands out repos, either directly or bound to one transaction. When fn
// returns an error nothing it wrote is kept.
type Store interface {
	Repos() Repos
	InTx(ctx context.Context, fn func(Repos) error) error
}
