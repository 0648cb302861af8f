// internal/auth/middleware/attach_role.go
package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/examguard/internal/guard"
	"github.com/mind-engage/examguard/internal/rbac"
)

// AttachCourseRole replaces the token role with the caller's enrolment role
// in the course named by the route ({courseID}, or the course of
// {activityID}), and adds the exam guard role when the caller holds it there.
// Admin tokens are left untouched.
// allowClaimFallback=true in dev/offline; false in prod.
func AttachCourseRole(repos guard.Repos, allowClaimFallback bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			claimRole := rbac.RoleFromContext(ctx) // set by JWTMiddleware
			if claimRole == "admin" {
				next.ServeHTTP(w, r)
				return
			}

			courseID, err := routeCourse(ctx, repos, r)
			switch {
			case errors.Is(err, guard.ErrActivityNotFound):
				// let the handler answer 404
				next.ServeHTTP(w, r)
				return
			case err == nil && courseID == "":
				next.ServeHTTP(w, r)
				return
			}

			sub := rbac.SubjectFromContext(ctx)
			var role string
			if err == nil {
				role, err = enrolmentRole(ctx, repos, courseID, sub)
			}
			if err == nil {
				var guarded bool
				if guarded, err = holdsRole(ctx, repos, courseID, sub, guard.GuardRole); guarded {
					ctx = rbac.WithCourseRoles(ctx, guard.GuardRole)
					r = r.WithContext(ctx)
				}
			}
			switch {
			case err == nil && role != "":
				next.ServeHTTP(w, r.WithContext(rbac.WithRole(ctx, role)))
			case allowClaimFallback && claimRole != "":
				next.ServeHTTP(w, r)
			default:
				http.Error(w, "forbidden", http.StatusForbidden)
			}
		})
	}
}

func routeCourse(ctx context.Context, repos guard.Repos, r *http.Request) (string, error) {
	if id := chi.URLParam(r, "courseID"); id != "" {
		return id, nil
	}
	id := chi.URLParam(r, "activityID")
	if id == "" {
		return "", nil
	}
	act, err := repos.Activities.GetActivity(ctx, id)
	if err != nil {
		return "", err
	}
	return act.CourseID, nil
}

func enrolmentRole(ctx context.Context, repos guard.Repos, courseID, userID string) (string, error) {
	ens, err := repos.Enrolments.CourseEnrolments(ctx, courseID)
	if err != nil {
		return "", err
	}
	for _, e := range ens {
		if e.UserID == userID {
			return e.Role, nil
		}
	}
	return "", nil
}

func holdsRole(ctx context.Context, repos guard.Repos, courseID, userID, role string) (bool, error) {
	holders, err := repos.Guard.RoleHolders(ctx, courseID, role)
	if err != nil {
		return false, err
	}
	for _, h := range holders {
		if h == userID {
			return true, nil
		}
	}
	return false, nil
}
