package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/mind-engage/examguard/internal/db"
	"github.com/mind-engage/examguard/internal/guard"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements the guard ports on the schema created by db.Open.
type Store struct {
	db  *db.DB
	now func() time.Time
}

func New(d *db.DB) *Store { return &Store{db: d, now: time.Now} }

func (s *Store) Repos() guard.Repos { return (&repo{q: s.db.SQL, now: s.now}).bundle() }

func (s *Store) InTx(ctx context.Context, fn func(guard.Repos) error) error {
	return db.WithTx(ctx, s.db, nil, func(tx *sql.Tx) error {
		return fn((&repo{q: tx, now: s.now}).bundle())
	})
}

type repo struct {
	q   querier
	now func() time.Time
}

func (r *repo) bundle() guard.Repos {
	return guard.Repos{Overrides: r, Ledger: r, Activities: r, Enrolments: r, Guard: r}
}

func nullUnix(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: guard.UnixOrZero(*t), Valid: true}
}

func nullSeconds(d *time.Duration) sql.NullInt64 {
	if d == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*d / time.Second), Valid: true}
}

func timeFromNull(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	return guard.TimePtr(guard.FromUnix(v.Int64))
}

func durationFromNull(v sql.NullInt64) *time.Duration {
	if !v.Valid {
		return nil
	}
	return guard.DurationPtr(time.Duration(v.Int64) * time.Second)
}

func collectStrings(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
