package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/mind-engage/examguard/internal/guard"
)

const overrideCols = `id, activity_id, user_id, group_id, time_open, time_close, time_limit`

func scanOverride(sc interface{ Scan(...any) error }) (guard.Override, error) {
	var (
		o                  guard.Override
		userID, groupID    sql.NullString
		open, closeAt, lim sql.NullInt64
	)
	if err := sc.Scan(&o.ID, &o.ActivityID, &userID, &groupID, &open, &closeAt, &lim); err != nil {
		return guard.Override{}, err
	}
	switch {
	case userID.Valid:
		o.Scope = guard.UserScope(userID.String)
	case groupID.Valid:
		o.Scope = guard.GroupScope(groupID.String)
	default:
		return guard.Override{}, fmt.Errorf("override %s has no scope", o.ID)
	}
	o.Fields = guard.Fields{Open: timeFromNull(open), Close: timeFromNull(closeAt), Duration: durationFromNull(lim)}
	return o, nil
}

func scopeColumn(s guard.Scope) (string, error) {
	switch s.Kind {
	case guard.ScopeUser:
		return "user_id", nil
	case guard.ScopeGroup:
		return "group_id", nil
	}
	return "", fmt.Errorf("unknown scope kind %q", s.Kind)
}

func (r *repo) ListOverrides(ctx context.Context, activityID string) ([]guard.Override, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+overrideCols+` FROM overrides WHERE activity_id=$1 ORDER BY seq`, activityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []guard.Override
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *repo) GetOverride(ctx context.Context, activityID string, scope guard.Scope) (*guard.Override, error) {
	col, err := scopeColumn(scope)
	if err != nil {
		return nil, err
	}
	row := r.q.QueryRowContext(ctx,
		`SELECT `+overrideCols+` FROM overrides WHERE activity_id=$1 AND `+col+`=$2`, activityID, scope.ID)
	o, err := scanOverride(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *repo) SaveOverride(ctx context.Context, activityID string, scope guard.Scope, f guard.Fields) (string, error) {
	existing, err := r.GetOverride(ctx, activityID, scope)
	if err != nil {
		return "", err
	}
	if existing != nil {
		_, err := r.q.ExecContext(ctx,
			`UPDATE overrides SET time_open=$1, time_close=$2, time_limit=$3 WHERE id=$4`,
			nullUnix(f.Open), nullUnix(f.Close), nullSeconds(f.Duration), existing.ID)
		return existing.ID, err
	}
	var userID, groupID sql.NullString
	if scope.Kind == guard.ScopeUser {
		userID = sql.NullString{String: scope.ID, Valid: true}
	} else {
		groupID = sql.NullString{String: scope.ID, Valid: true}
	}
	id := uuid.NewString()
	_, err = r.q.ExecContext(ctx,
		`INSERT INTO overrides (id, activity_id, user_id, group_id, time_open, time_close, time_limit)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		id, activityID, userID, groupID, nullUnix(f.Open), nullUnix(f.Close), nullSeconds(f.Duration))
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *repo) DeleteOverride(ctx context.Context, overrideID string) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM overrides WHERE id=$1`, overrideID)
	return err
}

func (r *repo) CreateGroup(ctx context.Context, courseID, name string) (string, error) {
	id := uuid.NewString()
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO course_groups (id, course_id, name) VALUES ($1,$2,$3)`, id, courseID, name)
	if err != nil {
		return "", err
	}
	return id, nil
}

// DeleteGroup removes the group, its members and any override scoped to it.
func (r *repo) DeleteGroup(ctx context.Context, groupID string) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM overrides WHERE group_id=$1`, groupID); err != nil {
		return err
	}
	if _, err := r.q.ExecContext(ctx, `DELETE FROM group_members WHERE group_id=$1`, groupID); err != nil {
		return err
	}
	_, err := r.q.ExecContext(ctx, `DELETE FROM course_groups WHERE id=$1`, groupID)
	return err
}

func (r *repo) AddMember(ctx context.Context, groupID, userID string) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO group_members (group_id, user_id) VALUES ($1,$2)
		 ON CONFLICT (group_id, user_id) DO NOTHING`, groupID, userID)
	return err
}

func (r *repo) ListGroupMembers(ctx context.Context, groupID string) ([]string, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT user_id FROM group_members WHERE group_id=$1 ORDER BY user_id`, groupID)
	if err != nil {
		return nil, err
	}
	return collectStrings(rows)
}

// FindGroupsByNamePrefix compares with substr rather than LIKE: synthetic
// names contain '_', which LIKE treats as a wildcard.
func (r *repo) FindGroupsByNamePrefix(ctx context.Context, courseID, prefix string) ([]guard.Group, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT id, course_id, name FROM course_groups
		 WHERE course_id=$1 AND substr(name, 1, $2)=$3 ORDER BY seq`,
		courseID, utf8.RuneCountInString(prefix), prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []guard.Group
	for rows.Next() {
		var g guard.Group
		if err := rows.Scan(&g.ID, &g.CourseID, &g.Name); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
