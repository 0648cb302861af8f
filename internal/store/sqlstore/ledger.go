package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/mind-engage/examguard/internal/guard"
)

func (r *repo) LatestExtension(ctx context.Context, activityID string) (int, error) {
	var m int
	err := r.q.QueryRowContext(ctx,
		`SELECT extension_minutes FROM extension_history WHERE activity_id=$1 ORDER BY seq DESC LIMIT 1`,
		activityID).Scan(&m)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return m, err
}

func (r *repo) RecordExtension(ctx context.Context, rec guard.ExtensionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.AppliedAt.IsZero() {
		rec.AppliedAt = r.now()
	}
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO extension_history (id, activity_id, extension_minutes, applied_at, applied_by)
		 VALUES ($1,$2,$3,$4,$5)`,
		rec.ID, rec.ActivityID, rec.Minutes, rec.AppliedAt.Unix(), rec.AppliedBy)
	return err
}

// History returns the extension records of an activity, oldest first.
func (r *repo) History(ctx context.Context, activityID string) ([]guard.ExtensionRecord, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT id, activity_id, extension_minutes, applied_at, applied_by
		 FROM extension_history WHERE activity_id=$1 ORDER BY seq`, activityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []guard.ExtensionRecord
	for rows.Next() {
		var (
			rec guard.ExtensionRecord
			at  int64
		)
		if err := rows.Scan(&rec.ID, &rec.ActivityID, &rec.Minutes, &at, &rec.AppliedBy); err != nil {
			return nil, err
		}
		rec.AppliedAt = guard.FromUnix(at)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) History(ctx context.Context, activityID string) ([]guard.ExtensionRecord, error) {
	return (&repo{q: s.db.SQL, now: s.now}).History(ctx, activityID)
}

func (r *repo) GetAudit(ctx context.Context, activityID, overrideID string) (*guard.Audit, error) {
	var (
		a    = guard.Audit{ActivityID: activityID, OverrideID: overrideID}
		snap sql.NullString
		at   int64
	)
	err := r.q.QueryRowContext(ctx,
		`SELECT extension_minutes, original_snapshot, modified_by, modified_at
		 FROM override_audit WHERE activity_id=$1 AND override_id=$2`,
		activityID, overrideID).Scan(&a.ExtensionMinutes, &snap, &a.ModifiedBy, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.ModifiedAt = guard.FromUnix(at)
	if snap.Valid {
		f, err := guard.DecodeSnapshot(snap.String)
		if err != nil {
			return nil, &guard.InconsistentStateError{ActivityID: activityID, Reason: err.Error()}
		}
		a.Original = &f
	}
	return &a, nil
}

func (r *repo) UpsertAudit(ctx context.Context, a guard.Audit) error {
	var snap sql.NullString
	if a.Original != nil {
		raw, err := guard.EncodeSnapshot(*a.Original)
		if err != nil {
			return err
		}
		snap = sql.NullString{String: raw, Valid: true}
	}
	if a.ModifiedAt.IsZero() {
		a.ModifiedAt = r.now()
	}
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO override_audit (activity_id, override_id, extension_minutes, original_snapshot, modified_by, modified_at)
		 VALUES ($1,$2,$3,$4,$5,$6)
		 ON CONFLICT (activity_id, override_id) DO UPDATE SET
		   extension_minutes=excluded.extension_minutes,
		   original_snapshot=excluded.original_snapshot,
		   modified_by=excluded.modified_by,
		   modified_at=excluded.modified_at`,
		a.ActivityID, a.OverrideID, a.ExtensionMinutes, snap, a.ModifiedBy, a.ModifiedAt.Unix())
	return err
}

func (r *repo) DeleteAudit(ctx context.Context, activityID, overrideID string) error {
	_, err := r.q.ExecContext(ctx,
		`DELETE FROM override_audit WHERE activity_id=$1 AND override_id=$2`, activityID, overrideID)
	return err
}
