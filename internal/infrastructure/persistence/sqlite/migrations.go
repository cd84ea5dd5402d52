package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Migration is one forward schema step.
type Migration struct {
	Version int
	Name    string
	UpSQL   string
}

// Migrator applies embedded migrations in version order.
type Migrator struct {
	db         *sql.DB
	migrations []Migration
}

// NewMigrator creates a migrator with the embedded migrations.
func NewMigrator(db *sql.DB) *Migrator {
	return &Migrator{db: db, migrations: GetMigrations()}
}

// Migrate applies every migration not yet recorded in schema_migrations.
func (m *Migrator) Migrate(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at INTEGER NOT NULL
		)`); err != nil {
		return fmt.Errorf("sqlite: create migrations table: %w", err)
	}

	applied := make(map[int]bool)
	rows, err := m.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("sqlite: read migrations: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("sqlite: scan migration: %w", err)
		}
		applied[v] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("sqlite: read migrations: %w", err)
	}

	for _, mig := range m.migrations {
		if applied[mig.Version] {
			continue
		}
		tx, err := m.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("sqlite: migration %d: %w", mig.Version, err)
		}
		if _, err := tx.ExecContext(ctx, mig.UpSQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("sqlite: migration %d (%s): %w", mig.Version, mig.Name, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
			mig.Version, mig.Name, time.Now().UnixMilli(),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("sqlite: record migration %d: %w", mig.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("sqlite: commit migration %d: %w", mig.Version, err)
		}
	}
	return nil
}

// GetMigrations returns all embedded migrations.
func GetMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_students", UpSQL: migration001},
		{Version: 2, Name: "create_ledger", UpSQL: migration002},
		{Version: 3, Name: "create_skill_sprints", UpSQL: migration003},
		{Version: 4, Name: "create_badges", UpSQL: migration004},
	}
}

const migration001 = `
CREATE TABLE students (
	id              TEXT PRIMARY KEY,
	display_name    TEXT NOT NULL,
	points_total    INTEGER NOT NULL DEFAULT 0,
	points_balance  INTEGER NOT NULL DEFAULT 0,
	lifetime_points INTEGER NOT NULL DEFAULT 0,
	created_at      INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL
);
CREATE INDEX idx_students_lifetime ON students (lifetime_points);

CREATE TABLE student_checkins (
	student_id    TEXT NOT NULL REFERENCES students (id) ON DELETE CASCADE,
	checkin_date  TEXT NOT NULL,
	checked_in_at INTEGER NOT NULL,
	PRIMARY KEY (student_id, checkin_date)
);
`

const migration002 = `
CREATE TABLE ledger_entries (
	id          TEXT PRIMARY KEY,
	student_id  TEXT NOT NULL REFERENCES students (id) ON DELETE CASCADE,
	points      INTEGER NOT NULL,
	category    TEXT NOT NULL,
	note        TEXT NOT NULL DEFAULT '',
	source_type TEXT,
	source_id   TEXT,
	created_by  TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL
);
CREATE INDEX idx_ledger_student_created ON ledger_entries (student_id, created_at, id);
CREATE INDEX idx_ledger_source ON ledger_entries (source_type, source_id);
`

const migration003 = `
CREATE TABLE skill_sprints (
	id                               TEXT PRIMARY KEY,
	student_id                       TEXT NOT NULL REFERENCES students (id) ON DELETE CASCADE,
	source_label                     TEXT NOT NULL,
	assigned_at                      INTEGER NOT NULL,
	due_at                           INTEGER NOT NULL,
	reward_points                    INTEGER NOT NULL CHECK (reward_points >= 0),
	penalty_points_per_day           INTEGER NOT NULL CHECK (penalty_points_per_day >= 0),
	requested_penalty_points_per_day INTEGER NOT NULL,
	charged_days                     INTEGER NOT NULL DEFAULT 0,
	last_penalty_at                  INTEGER,
	completed_at                     INTEGER,
	completed_by                     TEXT NOT NULL DEFAULT '',
	awarded_points                   INTEGER NOT NULL DEFAULT 0,
	enabled                          INTEGER NOT NULL DEFAULT 1,
	assigned_by                      TEXT NOT NULL DEFAULT '',
	created_at                       INTEGER NOT NULL,
	updated_at                       INTEGER NOT NULL
);
CREATE INDEX idx_sprints_student ON skill_sprints (student_id, assigned_at);
CREATE INDEX idx_sprints_open ON skill_sprints (assigned_at) WHERE enabled = 1 AND completed_at IS NULL;

CREATE TABLE skill_sprint_penalty_charges (
	assignment_id   TEXT NOT NULL REFERENCES skill_sprints (id) ON DELETE CASCADE,
	day_index       INTEGER NOT NULL CHECK (day_index >= 1),
	ledger_entry_id TEXT,
	charged_at      INTEGER NOT NULL,
	PRIMARY KEY (assignment_id, day_index)
);
`

const migration004 = `
CREATE TABLE badges (
	id                 TEXT PRIMARY KEY,
	name               TEXT NOT NULL,
	description        TEXT NOT NULL DEFAULT '',
	criteria_type      TEXT NOT NULL,
	criteria_threshold INTEGER NOT NULL,
	points_award       INTEGER NOT NULL DEFAULT 0,
	enabled            INTEGER NOT NULL DEFAULT 1,
	prestige           INTEGER NOT NULL DEFAULT 0,
	created_at         INTEGER NOT NULL,
	updated_at         INTEGER NOT NULL
);

CREATE TABLE badge_awards (
	student_id     TEXT NOT NULL REFERENCES students (id) ON DELETE CASCADE,
	badge_id       TEXT NOT NULL REFERENCES badges (id) ON DELETE CASCADE,
	points_awarded INTEGER NOT NULL,
	awarded_by     TEXT NOT NULL DEFAULT '',
	awarded_at     INTEGER NOT NULL,
	auto           INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (student_id, badge_id)
);
CREATE INDEX idx_badge_awards_badge ON badge_awards (badge_id);
`
