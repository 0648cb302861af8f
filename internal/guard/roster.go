package guard

import (
	"context"
	"sort"
)

// enrolmentRoster derives the roster from course enrolments: a user is
// gradeable when their role is one of the gradeable roles and it grants the
// participate capability.
type enrolmentRoster struct {
	activities ActivityCatalog
	enrolments Enrolments
	caps       Capabilities
	gradeable  map[string]bool
}

// NewRoster builds a Roster over the given repos. contextID is an activity
// id; its course enrolments are used.
func NewRoster(r Repos, caps Capabilities, gradeableRoles []string) Roster {
	g := make(map[string]bool, len(gradeableRoles))
	for _, role := range gradeableRoles {
		g[role] = true
	}
	return &enrolmentRoster{activities: r.Activities, enrolments: r.Enrolments, caps: caps, gradeable: g}
}

func (e *enrolmentRoster) GradeableEnrolledUsers(ctx context.Context, contextID, capability string) ([]string, error) {
	act, err := e.activities.GetActivity(ctx, contextID)
	if err != nil {
		return nil, err
	}
	ens, err := e.enrolments.CourseEnrolments(ctx, act.CourseID)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []string
	for _, en := range ens {
		if !e.gradeable[en.Role] || !e.caps.Has(en.Role, capability) || seen[en.UserID] {
			continue
		}
		seen[en.UserID] = true
		out = append(out, en.UserID)
	}
	sort.Strings(out)
	return out, nil
}

func (e *enrolmentRoster) UserGroups(ctx context.Context, courseID, userID string) ([]string, error) {
	return e.enrolments.UserGroups(ctx, courseID, userID)
}
