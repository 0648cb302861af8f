package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	_ "github.com/lib/pq"              // driver: postgres
	_ "modernc.org/sqlite"             // driver: sqlite
)

type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres" // via pgx
	DriverPQ       Driver = "pq"       // via lib/pq
)

// DB is a thin wrapper around *sql.DB so we can hang helpers off it.
type DB struct {
	SQL    *sql.DB
	Driver Driver
}

// Open opens a DB, tunes the pool and ensures the schema exists.
func Open(ctx context.Context, driver Driver, dsn string) (*DB, error) {
	var drvName string
	switch driver {
	case DriverSQLite:
		drvName = "sqlite" // modernc driver
		if dsn == "" {
			dsn = "file:examguard.db?cache=shared&mode=rwc&_pragma=busy_timeout(5000)"
		}
	case DriverPostgres, DriverPQ:
		drvName = "pgx" // pgx stdlib driver
		if driver == DriverPQ {
			drvName = "postgres"
		}
		if dsn == "" {
			dsn = "postgres://localhost:5432/examguard?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	sqldb, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, fmt.Errorf("db: open: %w", err)
	}
	tunePool(driver, sqldb)
	if err := sqldb.PingContext(ctx); err != nil {
		_ = sqldb.Close()
		return nil, fmt.Errorf("db: ping: %w", err)
	}
	d := &DB{SQL: sqldb, Driver: driver}
	if err := ensureSchema(ctx, d); err != nil {
		_ = sqldb.Close()
		return nil, fmt.Errorf("db: schema: %w", err)
	}
	return d, nil
}

// Close closes the underlying *sql.DB (safe to call multiple times).
func (d *DB) Close() error {
	if d == nil || d.SQL == nil {
		return nil
	}
	return d.SQL.Close()
}

// WithTx starts a transaction, runs fn, and commits if fn returns nil.
// If fn returns an error, the transaction is rolled back and that error is returned.
func WithTx(ctx context.Context, d *DB, opts *sql.TxOptions, fn func(*sql.Tx) error) (err error) {
	if d == nil || d.SQL == nil {
		return errors.New("db: DB is nil")
	}
	tx, err := d.SQL.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("db: begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if e := tx.Commit(); e != nil {
			err = fmt.Errorf("db: commit: %w", e)
		}
	}()
	err = fn(tx)
	return
}

func tunePool(driver Driver, db *sql.DB) {
	maxOpen := 20
	maxIdle := 10
	connLife := 45 * time.Minute
	idleLife := 15 * time.Minute

	if driver == DriverSQLite {
		// single writer: keep the pool tiny to avoid busy errors
		maxOpen = 1
		maxIdle = 1
		connLife = 0
		idleLife = 0
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(connLife)
	db.SetConnMaxIdleTime(idleLife)
}

func ensureSchema(ctx context.Context, d *DB) error {
	schema := schemaPostgres
	if d.Driver == DriverSQLite {
		schema = schemaSQLite
	}
	_, err := d.SQL.ExecContext(ctx, schema)
	return err
}
