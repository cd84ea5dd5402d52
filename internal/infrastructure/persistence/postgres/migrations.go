package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Migration is one schema version. AppliedAt and IsApplied are filled in by
// Status only.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	DownSQL   string
	AppliedAt time.Time
	IsApplied bool
}

// schema lists every version in order. Versions are never renumbered.
var schema = []Migration{
	{Version: 1, Name: "create_students", UpSQL: migration001Up, DownSQL: migration001Down},
	{Version: 2, Name: "create_ledger", UpSQL: migration002Up, DownSQL: migration002Down},
	{Version: 3, Name: "create_skill_sprints", UpSQL: migration003Up, DownSQL: migration003Down},
	{Version: 4, Name: "create_badges", UpSQL: migration004Up, DownSQL: migration004Down},
}

const createVersionTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
)`

// Every node runs Migrate on start; the advisory lock makes them take turns.
const lockSchema = `SELECT pg_advisory_xact_lock(hashtext('points_ledger_migrate'))`

// Migrator moves the schema forward on start and back one step on request.
type Migrator struct {
	conn *Connection
}

// NewMigrator creates a Migrator over conn.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{conn: conn}
}

// Migrate applies every pending version in one transaction.
func (m *Migrator) Migrate(ctx context.Context) error {
	return m.locked(ctx, func(tx pgx.Tx, applied map[int]time.Time) error {
		for _, mg := range schema {
			if _, done := applied[mg.Version]; done {
				continue
			}
			if _, err := tx.Exec(ctx, mg.UpSQL); err != nil {
				return fmt.Errorf("%w: %03d_%s: %w", ErrMigrationFailed, mg.Version, mg.Name, err)
			}
			if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, mg.Version, mg.Name); err != nil {
				return fmt.Errorf("%w: record %03d: %w", ErrMigrationFailed, mg.Version, err)
			}
		}
		return nil
	})
}

// Rollback reverts the newest applied version. With nothing applied it is a
// no-op.
func (m *Migrator) Rollback(ctx context.Context) error {
	return m.locked(ctx, func(tx pgx.Tx, applied map[int]time.Time) error {
		for i := len(schema) - 1; i >= 0; i-- {
			mg := schema[i]
			if _, ok := applied[mg.Version]; !ok {
				continue
			}
			if _, err := tx.Exec(ctx, mg.DownSQL); err != nil {
				return fmt.Errorf("%w: revert %03d_%s: %w", ErrMigrationFailed, mg.Version, mg.Name, err)
			}
			_, err := tx.Exec(ctx, `DELETE FROM schema_migrations WHERE version = $1`, mg.Version)
			return err
		}
		return nil
	})
}

// Status reports every known version with its apply time, if any.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	out := make([]Migration, len(schema))
	err := m.locked(ctx, func(_ pgx.Tx, applied map[int]time.Time) error {
		for i, mg := range schema {
			mg.AppliedAt, mg.IsApplied = applied[mg.Version]
			out[i] = mg
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// locked runs fn in a transaction holding the schema lock, with the version
// table created and read.
func (m *Migrator) locked(ctx context.Context, fn func(tx pgx.Tx, applied map[int]time.Time) error) error {
	return m.conn.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, lockSchema); err != nil {
			return fmt.Errorf("%w: lock: %w", ErrMigrationFailed, err)
		}
		if _, err := tx.Exec(ctx, createVersionTable); err != nil {
			return fmt.Errorf("%w: version table: %w", ErrMigrationFailed, err)
		}
		applied, err := appliedVersions(ctx, tx)
		if err != nil {
			return err
		}
		return fn(tx, applied)
	})
}

func appliedVersions(ctx context.Context, q Querier) (map[int]time.Time, error) {
	rows, err := q.Query(ctx, `SELECT version, applied_at FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("%w: read versions: %w", ErrMigrationFailed, err)
	}
	applied := make(map[int]time.Time)
	for rows.Next() {
		var (
			v  int
			at time.Time
		)
		if err := rows.Scan(&v, &at); err != nil {
			rows.Close()
			return nil, err
		}
		applied[v] = at
	}
	rows.Close()
	return applied, rows.Err()
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: STUDENTS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
CREATE TABLE IF NOT EXISTS students (
    id TEXT PRIMARY KEY,
    display_name TEXT NOT NULL,
    points_total INTEGER NOT NULL DEFAULT 0,
    points_balance INTEGER NOT NULL DEFAULT 0,
    lifetime_points INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_lifetime CHECK (lifetime_points >= 0)
);

CREATE INDEX IF NOT EXISTS idx_students_lifetime ON students(lifetime_points DESC);

-- One row per student per calendar day.
CREATE TABLE IF NOT EXISTS student_checkins (
    student_id TEXT NOT NULL REFERENCES students(id) ON DELETE CASCADE,
    checkin_date DATE NOT NULL,
    checked_in_at TIMESTAMP WITH TIME ZONE NOT NULL,

    PRIMARY KEY (student_id, checkin_date)
);
`

const migration001Down = `
DROP TABLE IF EXISTS student_checkins;
DROP TABLE IF EXISTS students;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: LEDGER
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
CREATE TABLE IF NOT EXISTS ledger_entries (
    id TEXT PRIMARY KEY,
    student_id TEXT NOT NULL REFERENCES students(id) ON DELETE CASCADE,
    points INTEGER NOT NULL,
    category VARCHAR(40) NOT NULL,
    note TEXT NOT NULL DEFAULT '',
    source_type VARCHAR(40),
    source_id TEXT,
    created_by TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_ledger_student_created ON ledger_entries(student_id, created_at, id);
CREATE INDEX IF NOT EXISTS idx_ledger_source ON ledger_entries(source_type, source_id);
`

const migration002Down = `
DROP TABLE IF EXISTS ledger_entries;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: SKILL SPRINTS
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
CREATE TABLE IF NOT EXISTS skill_sprints (
    id TEXT PRIMARY KEY,
    student_id TEXT NOT NULL REFERENCES students(id) ON DELETE CASCADE,
    source_label TEXT NOT NULL,
    assigned_at TIMESTAMP WITH TIME ZONE NOT NULL,
    due_at TIMESTAMP WITH TIME ZONE NOT NULL,
    reward_points INTEGER NOT NULL,
    penalty_points_per_day INTEGER NOT NULL,
    requested_penalty_points_per_day INTEGER NOT NULL,
    charged_days INTEGER NOT NULL DEFAULT 0,
    last_penalty_at TIMESTAMP WITH TIME ZONE,
    completed_at TIMESTAMP WITH TIME ZONE,
    completed_by TEXT NOT NULL DEFAULT '',
    awarded_points INTEGER NOT NULL DEFAULT 0,
    enabled BOOLEAN NOT NULL DEFAULT TRUE,
    assigned_by TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_reward CHECK (reward_points >= 0),
    CONSTRAINT valid_penalty CHECK (penalty_points_per_day >= 0)
);

CREATE INDEX IF NOT EXISTS idx_sprints_student ON skill_sprints(student_id, assigned_at DESC);
CREATE INDEX IF NOT EXISTS idx_sprints_open ON skill_sprints(assigned_at)
    WHERE enabled AND completed_at IS NULL;

-- The primary key is the once-per-day guarantee for penalties.
CREATE TABLE IF NOT EXISTS skill_sprint_penalty_charges (
    assignment_id TEXT NOT NULL REFERENCES skill_sprints(id) ON DELETE CASCADE,
    day_index INTEGER NOT NULL,
    ledger_entry_id TEXT,
    charged_at TIMESTAMP WITH TIME ZONE NOT NULL,

    PRIMARY KEY (assignment_id, day_index),
    CONSTRAINT valid_day CHECK (day_index >= 1)
);
`

const migration003Down = `
DROP TABLE IF EXISTS skill_sprint_penalty_charges;
DROP TABLE IF EXISTS skill_sprints;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 004: BADGES
// ══════════════════════════════════════════════════════════════════════════════

const migration004Up = `
CREATE TABLE IF NOT EXISTS badges (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    criteria_type VARCHAR(30) NOT NULL,
    criteria_threshold INTEGER NOT NULL,
    points_award INTEGER NOT NULL DEFAULT 0,
    enabled BOOLEAN NOT NULL DEFAULT TRUE,
    prestige BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS badge_awards (
    student_id TEXT NOT NULL REFERENCES students(id) ON DELETE CASCADE,
    badge_id TEXT NOT NULL REFERENCES badges(id) ON DELETE CASCADE,
    points_awarded INTEGER NOT NULL,
    awarded_by TEXT NOT NULL DEFAULT '',
    awarded_at TIMESTAMP WITH TIME ZONE NOT NULL,
    auto BOOLEAN NOT NULL DEFAULT FALSE,

    PRIMARY KEY (student_id, badge_id)
);

CREATE INDEX IF NOT EXISTS idx_badge_awards_badge ON badge_awards(badge_id);
`

const migration004Down = `
DROP TABLE IF EXISTS badge_awards;
DROP TABLE IF EXISTS badges;
`
