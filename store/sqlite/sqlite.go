/*
Package sqlite provides a SQLite-backed implementation of the attendance stores.

PURPOSE:
  Implements attendance.Store (policies, fences, events, days, punch
  requests, roster, calendars, scheduler runs) on SQLite. The same patterns
  apply to PostgreSQL with minor SQL dialect differences.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE statements on the events table
  - No DELETE statements on the events table
  - Days are derived and freely upserted

KEY TABLES:
  events:          Immutable attendance facts (accepted and rejected)
  days:            Rollup per (org, account, date)
  punch_requests:  Supervisor requests and their lifecycle
  scheduler_runs:  Exactly-once claims for scheduler passes

INDEXES:
  - idx_events_owner_ts: Day replay (hot path)
  - idx_events_idempotency: One event per (org, account, key)
  - idx_scheduler_runs_unique: One run per (org, pass, key)

TIMESTAMPS:
  Stored as fixed-width UTC text (tsLayout) so lexical order equals
  chronological order. Events sharing a timestamp replay in insertion order.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. With PostgreSQL, database-level
  concurrency control handles this instead.

USAGE:
  store, err := sqlite.New("./data/attendance.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - attendance/store.go: Interface definitions
  - attendance/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/attendance-engine/attendance"
)

const tsLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements attendance.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ attendance.Store = (*Store)(nil)

// New opens the database at dbPath and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Each connection to :memory: is its own database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// NewWithDB wraps an open connection without migrating it.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection, for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Policies (one per organization)
	CREATE TABLE IF NOT EXISTS policies (
		org_id TEXT PRIMARY KEY,
		active INTEGER NOT NULL DEFAULT 0,
		outside_fence TEXT NOT NULL,
		integrity TEXT NOT NULL,
		allow_checkin_before_start_min INTEGER NOT NULL,
		late_checkin_after_start_min INTEGER NOT NULL,
		allow_checkout_before_end_min INTEGER NOT NULL,
		max_checkout_after_end_min INTEGER NOT NULL,
		notify_before_shift_start_min INTEGER NOT NULL,
		fence_radius_m INTEGER NOT NULL,
		accuracy_gate_m INTEGER NOT NULL,
		cooldown_seconds INTEGER NOT NULL,
		max_successful_punches INTEGER NOT NULL,
		max_failed_punches INTEGER NOT NULL,
		max_working_hours INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS office_hours (
		org_id TEXT PRIMARY KEY,
		start_time TEXT NOT NULL,
		end_time TEXT NOT NULL,
		timezone TEXT NOT NULL
	);

	-- Holidays; empty org_id applies to every organization
	CREATE TABLE IF NOT EXISTS holidays (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL DEFAULT '',
		date TEXT NOT NULL,
		month_day TEXT NOT NULL,
		name TEXT NOT NULL,
		recurring INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_holidays_date ON holidays(date);
	CREATE INDEX IF NOT EXISTS idx_holidays_month_day ON holidays(month_day) WHERE recurring = 1;

	-- Geofences
	CREATE TABLE IF NOT EXISTS fences (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		name TEXT NOT NULL,
		kind TEXT NOT NULL,
		site_code TEXT,
		lat REAL NOT NULL,
		lng REAL NOT NULL,
		radius_m INTEGER NOT NULL,
		active INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS fence_assignments (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		fence_id TEXT NOT NULL,
		entity_type INTEGER NOT NULL,
		entity_id TEXT NOT NULL,
		is_default INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_fence_assignments_entity
		ON fence_assignments(org_id, entity_type, entity_id);

	-- Roster and memberships
	CREATE TABLE IF NOT EXISTS members (
		org_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		PRIMARY KEY (org_id, account_id)
	);

	CREATE TABLE IF NOT EXISTS memberships (
		org_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		entity_type INTEGER NOT NULL,
		entity_id TEXT NOT NULL,
		PRIMARY KEY (org_id, account_id, entity_type, entity_id)
	);

	CREATE INDEX IF NOT EXISTS idx_memberships_entity
		ON memberships(org_id, entity_type, entity_id);

	-- Events (append-only ledger)
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		source TEXT NOT NULL,
		action TEXT NOT NULL,
		ts_utc TEXT NOT NULL,
		lat REAL,
		lng REAL,
		accuracy_m REAL,
		fence_id TEXT,
		under_range INTEGER NOT NULL DEFAULT 0,
		success INTEGER NOT NULL,
		verdict TEXT NOT NULL,
		fail_reason TEXT,
		flags_json TEXT,
		idempotency_key TEXT,
		punch_request_id TEXT,
		requester_id TEXT,
		created_at TEXT NOT NULL
	);

	-- Day replay (hot path)
	CREATE INDEX IF NOT EXISTS idx_events_owner_ts
		ON events(org_id, account_id, ts_utc);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_events_idempotency
		ON events(org_id, account_id, idempotency_key) WHERE idempotency_key IS NOT NULL;

	CREATE INDEX IF NOT EXISTS idx_events_punch_request
		ON events(org_id, punch_request_id) WHERE punch_request_id IS NOT NULL;

	-- Days (derived, upserted on every rebuild)
	CREATE TABLE IF NOT EXISTS days (
		org_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		date TEXT NOT NULL,
		first_in TEXT,
		last_out TEXT,
		worked_seconds INTEGER NOT NULL,
		break_seconds INTEGER NOT NULL,
		anomalies_json TEXT,
		status TEXT NOT NULL,
		event_count INTEGER NOT NULL,
		computed_at TEXT NOT NULL,
		PRIMARY KEY (org_id, account_id, date)
	);

	CREATE INDEX IF NOT EXISTS idx_days_org_date ON days(org_id, date);

	-- Punch requests
	CREATE TABLE IF NOT EXISTS punch_requests (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		target_type INTEGER NOT NULL,
		target_id TEXT NOT NULL,
		requester_id TEXT NOT NULL,
		requested_at TEXT NOT NULL,
		respond_within_minutes INTEGER NOT NULL,
		state TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		resolved_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_punch_requests_state
		ON punch_requests(org_id, state);
	CREATE INDEX IF NOT EXISTS idx_punch_requests_requested
		ON punch_requests(org_id, requested_at);

	-- Scheduler runs (exactly-once claims)
	CREATE TABLE IF NOT EXISTS scheduler_runs (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		pass TEXT NOT NULL,
		run_key TEXT NOT NULL,
		status TEXT NOT NULL,
		processed INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_scheduler_runs_unique
		ON scheduler_runs(org_id, pass, run_key);
	CREATE INDEX IF NOT EXISTS idx_scheduler_runs_started
		ON scheduler_runs(org_id, started_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(tsLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isNoRows(err error) bool { return errors.Is(err, sql.ErrNoRows) }

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
