package rbac

import (
	"context"
	"strings"
)

type Checker struct {
	RolePermissions  map[string][]string
	RoleProhibitions map[string][]string
}

func NewChecker(rp map[string][]string) *Checker {
	if rp == nil {
		rp = RolePermissions
	}
	return &Checker{RolePermissions: rp, RoleProhibitions: RoleProhibitions}
}

func (c *Checker) Has(role, perm string) bool {
	perms, ok := c.RolePermissions[role]
	if !ok {
		return false
	}
	for _, p := range perms {
		if p == "*" || matchPerm(p, perm) {
			return true
		}
	}
	return false
}

func (c *Checker) RoleExists(role string) bool {
	_, ok := c.RolePermissions[role]
	return ok
}

func (c *Checker) Any(role string, perms ...string) bool {
	for _, p := range perms {
		if c.Has(role, p) {
			return true
		}
	}
	return false
}

// Prohibits reports whether role takes perm away from every role held with it.
func (c *Checker) Prohibits(role, perm string) bool {
	for _, p := range c.RoleProhibitions[role] {
		if matchPerm(p, perm) {
			return true
		}
	}
	return false
}

// Allowed checks perm for the caller in ctx: its role plus any course roles
// assigned on top. A prohibition in any of them wins over a grant.
func (c *Checker) Allowed(ctx context.Context, perm string) bool {
	roles := append([]string{RoleFromContext(ctx)}, CourseRolesFromContext(ctx)...)
	granted := false
	for _, r := range roles {
		if r == "" {
			continue
		}
		if c.Prohibits(r, perm) {
			return false
		}
		granted = granted || c.Has(r, perm)
	}
	return granted
}

func (c *Checker) All(role string, perms ...string) bool {
	for _, p := range perms {
		if !c.Has(role, p) {
			return false
		}
	}
	return true
}

func matchPerm(pattern, perm string) bool {
	if pattern == "*" || pattern == perm {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(perm, strings.TrimSuffix(pattern, "*"))
	}
	return false
}

// ---- role and subject in context ----

type ctxKey string

const (
	ctxKeyRole        ctxKey = "role"
	ctxKeySub         ctxKey = "sub"
	ctxKeyCourseRoles ctxKey = "course_roles"
)

func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, ctxKeyRole, role)
}

func RoleFromContext(ctx context.Context) string {
	if v := ctx.Value(ctxKeyRole); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func WithSubject(ctx context.Context, sub string) context.Context {
	return context.WithValue(ctx, ctxKeySub, sub)
}

func SubjectFromContext(ctx context.Context) string {
	if v := ctx.Value(ctxKeySub); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// WithCourseRoles adds roles assigned in the current course on top of the
// caller's own role.
func WithCourseRoles(ctx context.Context, roles ...string) context.Context {
	all := append(CourseRolesFromContext(ctx), roles...)
	return context.WithValue(ctx, ctxKeyCourseRoles, all)
}

func CourseRolesFromContext(ctx context.Context) []string {
	if v, ok := ctx.Value(ctxKeyCourseRoles).([]string); ok {
		return append([]string(nil), v...)
	}
	return nil
}
