package storeinfra

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goliatone/attendance-core/internal/retry"
	_ "github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// PoolOptions tunes the database/sql pool.
type PoolOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open connects to driver at dsn and verifies the connection.
func Open(ctx context.Context, driver, dsn string, pool PoolOptions) (*bun.DB, error) {
	switch driver {
	case DriverPostgres, "postgresql":
		return OpenPostgres(ctx, dsn, pool)
	case DriverSQLite, "sqlite":
		return OpenSQLite(ctx, dsn)
	default:
		return nil, fmt.Errorf("storeinfra: unsupported driver %q", driver)
	}
}

// OpenPostgres opens a lib/pq connection pool wrapped in bun.
func OpenPostgres(ctx context.Context, dsn string, pool PoolOptions) (*bun.DB, error) {
	sqldb, err := sql.Open(DriverPostgres, dsn)
	if err != nil {
		return nil, fmt.Errorf("storeinfra: open postgres: %w", err)
	}
	if pool.MaxOpenConns > 0 {
		sqldb.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		sqldb.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		sqldb.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}

	db := bun.NewDB(sqldb, pgdialect.New())
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storeinfra: ping postgres: %w", err)
	}
	return db, nil
}

// OpenSQLite opens a mattn/go-sqlite3 database wrapped in bun. SQLite allows
// a single writer, so the pool is limited to one connection.
func OpenSQLite(ctx context.Context, dsn string) (*bun.DB, error) {
	sqldb, err := sql.Open(DriverSQLite, dsn)
	if err != nil {
		return nil, fmt.Errorf("storeinfra: open sqlite: %w", err)
	}
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storeinfra: ping sqlite: %w", err)
	}
	return db, nil
}

// IsSQLiteBusy reports whether err is SQLITE_BUSY or SQLITE_LOCKED.
func IsSQLiteBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

// RetryPolicy is retry.DefaultPolicy extended with SQLite lock contention.
func RetryPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	p.Classify = retry.Any(retry.IsTransient, IsSQLiteBusy)
	return p
}
