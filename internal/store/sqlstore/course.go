package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/mind-engage/examguard/internal/guard"
)

// ---- activities ----

func scanActivity(sc interface{ Scan(...any) error }) (guard.Activity, error) {
	var (
		a                  guard.Activity
		open, closeAt, lim int64
	)
	if err := sc.Scan(&a.ID, &a.CourseID, &a.Type, &a.Name, &open, &closeAt, &lim); err != nil {
		return guard.Activity{}, err
	}
	a.Open = guard.FromUnix(open)
	a.Close = guard.FromUnix(closeAt)
	a.Duration = time.Duration(lim) * time.Second
	return a, nil
}

const activityCols = `id, course_id, type, name, time_open, time_close, time_limit`

func (r *repo) GetActivity(ctx context.Context, id string) (guard.Activity, error) {
	a, err := scanActivity(r.q.QueryRowContext(ctx, `SELECT `+activityCols+` FROM activities WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return guard.Activity{}, guard.ErrActivityNotFound
	}
	return a, err
}

func (r *repo) ListCourseActivities(ctx context.Context, courseID string) ([]guard.Activity, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+activityCols+` FROM activities WHERE course_id=$1 ORDER BY id`, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []guard.Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *repo) SaveActivity(ctx context.Context, a guard.Activity) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO activities (id, course_id, type, name, time_open, time_close, time_limit)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)
		 ON CONFLICT (id) DO UPDATE SET
		   course_id=excluded.course_id, type=excluded.type, name=excluded.name,
		   time_open=excluded.time_open, time_close=excluded.time_close, time_limit=excluded.time_limit`,
		a.ID, a.CourseID, a.Type, a.Name, guard.UnixOrZero(a.Open), guard.UnixOrZero(a.Close), int64(a.Duration/time.Second))
	return err
}

// ---- enrolments ----

func (r *repo) CourseEnrolments(ctx context.Context, courseID string) ([]guard.Enrolment, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT user_id, role FROM enrolments WHERE course_id=$1 ORDER BY seq`, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []guard.Enrolment
	for rows.Next() {
		var e guard.Enrolment
		if err := rows.Scan(&e.UserID, &e.Role); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *repo) Enrol(ctx context.Context, courseID, userID, role string) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO enrolments (course_id, user_id, role) VALUES ($1,$2,$3)
		 ON CONFLICT (course_id, user_id) DO UPDATE SET role=excluded.role`,
		courseID, userID, role)
	return err
}

func (r *repo) UserGroups(ctx context.Context, courseID, userID string) ([]string, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT g.id FROM course_groups g
		 JOIN group_members m ON m.group_id = g.id
		 WHERE g.course_id=$1 AND m.user_id=$2 ORDER BY g.seq`, courseID, userID)
	if err != nil {
		return nil, err
	}
	return collectStrings(rows)
}

// ---- course guard ----

func (r *repo) GuardMarked(ctx context.Context, courseID string) (bool, error) {
	var one int
	err := r.q.QueryRowContext(ctx, `SELECT 1 FROM course_guard WHERE course_id=$1`, courseID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (r *repo) MarkGuard(ctx context.Context, courseID string) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO course_guard (course_id, marked_at) VALUES ($1,$2)
		 ON CONFLICT (course_id) DO NOTHING`, courseID, r.now().Unix())
	return err
}

func (r *repo) ClearGuard(ctx context.Context, courseID string) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM course_guard WHERE course_id=$1`, courseID)
	return err
}

func (r *repo) AssignRole(ctx context.Context, courseID, userID, role string) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO role_assignments (course_id, user_id, role, assigned_at) VALUES ($1,$2,$3,$4)
		 ON CONFLICT (course_id, user_id, role) DO NOTHING`, courseID, userID, role, r.now().Unix())
	return err
}

func (r *repo) UnassignRole(ctx context.Context, courseID, userID, role string) error {
	_, err := r.q.ExecContext(ctx,
		`DELETE FROM role_assignments WHERE course_id=$1 AND user_id=$2 AND role=$3`, courseID, userID, role)
	return err
}

func (r *repo) RoleHolders(ctx context.Context, courseID, role string) ([]string, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT user_id FROM role_assignments WHERE course_id=$1 AND role=$2 ORDER BY user_id`, courseID, role)
	if err != nil {
		return nil, err
	}
	return collectStrings(rows)
}
