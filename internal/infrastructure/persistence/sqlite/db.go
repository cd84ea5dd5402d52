// Package sqlite implements the embedded single-node store on modernc SQLite.
//
// Timestamps are stored as INTEGER Unix milliseconds in UTC, so the day
// arithmetic done in Go and in SQL agree exactly. The pool is pinned to one
// connection: SQLite has a single writer and a transaction must own it.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	sqlitedrv "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/alem-hub/points-ledger/internal/application/port"
	"github.com/alem-hub/points-ledger/internal/domain/shared"
	"github.com/alem-hub/points-ledger/pkg/logger"
)

// Config holds SQLite settings.
type Config struct {
	// Path is the database file. ":memory:" is not supported because every
	// connection would see its own database.
	Path string

	BusyTimeout time.Duration
}

// DSN builds a modernc DSN with pragmas applied on every connection.
func (c Config) DSN() string {
	busy := c.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	q.Set("_txlock", "immediate")
	return "file:" + c.Path + "?" + q.Encode()
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements port.Store.
type Store struct {
	db  *sql.DB
	log *logger.Logger
}

// Open opens the database and applies pending migrations.
func Open(ctx context.Context, cfg Config, log *logger.Logger) (*Store, error) {
	if cfg.Path == "" || cfg.Path == ":memory:" {
		return nil, errors.New("sqlite: a database file path is required")
	}
	if log == nil {
		log = logger.Nop()
	}

	db, err := sql.Open("sqlite", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	s := &Store{db: db, log: log.With(logger.Component("sqlite"))}
	if err := NewMigrator(db).Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// DB returns the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

// Repositories implements port.Store.
func (s *Store) Repositories() port.Repositories {
	return repositoriesFor(s.db)
}

func repositoriesFor(q querier) port.Repositories {
	return port.Repositories{
		Students:     &studentRepo{q: q},
		Ledger:       &ledgerRepo{q: q},
		Sprints:      &sprintRepo{q: q},
		Achievements: &achievementRepo{q: q},
	}
}

// WithinTx implements port.Store. BEGIN IMMEDIATE (via _txlock) takes the
// write lock up front, which is what makes GetForUpdate safe here.
func (s *Store) WithinTx(ctx context.Context, fn port.TxFunc) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("store", "Begin", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, repositoriesFor(tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.log.Warn("rollback failed", logger.Err(rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify("store", "Commit", err)
	}
	return nil
}

// Ping implements port.Store.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements port.Store.
func (s *Store) Close() error {
	return s.db.Close()
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// IsBusy reports SQLITE_BUSY and SQLITE_LOCKED, including extended codes.
func IsBusy(err error) bool {
	var se *sqlitedrv.Error
	if !errors.As(err, &se) {
		return false
	}
	code := se.Code() & 0xff
	return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
}

// IsConstraint reports a constraint violation.
func IsConstraint(err error) bool {
	var se *sqlitedrv.Error
	return errors.As(err, &se) && se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
}

// classify wraps a driver error; busy databases become retryable.
func classify(domain, op string, err error) error {
	if err == nil {
		return nil
	}
	if IsBusy(err) {
		return shared.WrapError(domain, op, shared.ErrServiceUnavailable, "database is busy", err)
	}
	return shared.StorageError(domain, op, err)
}

// ══════════════════════════════════════════════════════════════════════════════
// VALUE HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func millis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMillis(n.Int64)
	return &t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
