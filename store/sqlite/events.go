package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/warp/attendance-engine/attendance"
)

// =============================================================================
// EVENT STORE (attendance.EventStore interface)
// =============================================================================

const eventColumns = `id, org_id, account_id, kind, source, action, ts_utc, lat, lng, accuracy_m,
	fence_id, under_range, success, verdict, fail_reason, flags_json, idempotency_key,
	punch_request_id, requester_id, created_at`

// AppendEvent inserts an event. A reused idempotency key returns
// attendance.ErrDuplicateIdempotencyKey.
func (s *Store) AppendEvent(ctx context.Context, e attendance.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	flagsJSON, err := json.Marshal(e.Flags)
	if err != nil {
		return fmt.Errorf("failed to encode flags: %w", err)
	}

	var lat, lng sql.NullFloat64
	if e.Location != nil {
		lat = sql.NullFloat64{Float64: e.Location.Lat, Valid: true}
		lng = sql.NullFloat64{Float64: e.Location.Lng, Valid: true}
	}

	query := `
		INSERT INTO events (` + eventColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		e.ID, e.OrgID, e.AccountID, e.Kind, e.Source, e.Action, formatTime(e.At),
		lat, lng, nullFloat(e.AccuracyM),
		nullString(string(e.FenceID)), boolInt(e.UnderRange), boolInt(e.Success),
		e.Verdict, nullString(string(e.FailReason)), string(flagsJSON),
		nullString(e.IdempotencyKey), nullString(string(e.PunchRequestID)),
		nullString(string(e.RequesterID)), formatTime(e.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return attendance.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// EventsInRange returns events with from <= At < to, in timestamp order and
// insertion order within a timestamp.
func (s *Store) EventsInRange(ctx context.Context, org attendance.OrgID, account attendance.AccountID, from, to time.Time) ([]attendance.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT ` + eventColumns + `
		FROM events
		WHERE org_id = ? AND account_id = ? AND ts_utc >= ? AND ts_utc < ?
		ORDER BY ts_utc ASC, rowid ASC
	`
	return s.queryEvents(ctx, query, org, account, formatTime(from), formatTime(to))
}

func (s *Store) EventByIdempotencyKey(ctx context.Context, org attendance.OrgID, account attendance.AccountID, key string) (attendance.Event, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT ` + eventColumns + `
		FROM events
		WHERE org_id = ? AND account_id = ? AND idempotency_key = ?
	`
	events, err := s.queryEvents(ctx, query, org, account, key)
	if err != nil {
		return attendance.Event{}, false, err
	}
	if len(events) == 0 {
		return attendance.Event{}, false, nil
	}
	return events[0], true, nil
}

func (s *Store) EventsForPunchRequest(ctx context.Context, org attendance.OrgID, id attendance.PunchRequestID) ([]attendance.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT ` + eventColumns + `
		FROM events
		WHERE org_id = ? AND punch_request_id = ?
		ORDER BY ts_utc ASC, rowid ASC
	`
	return s.queryEvents(ctx, query, org, id)
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]attendance.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []attendance.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func scanEvent(rows *sql.Rows) (attendance.Event, error) {
	var (
		e              attendance.Event
		at, createdAt  string
		lat, lng, acc  sql.NullFloat64
		fenceID        sql.NullString
		failReason     sql.NullString
		flagsJSON      sql.NullString
		idempotencyKey sql.NullString
		punchRequestID sql.NullString
		requesterID    sql.NullString
		underRange     int
		success        int
	)

	err := rows.Scan(
		&e.ID, &e.OrgID, &e.AccountID, &e.Kind, &e.Source, &e.Action, &at,
		&lat, &lng, &acc, &fenceID, &underRange, &success, &e.Verdict,
		&failReason, &flagsJSON, &idempotencyKey, &punchRequestID, &requesterID, &createdAt,
	)
	if err != nil {
		return e, fmt.Errorf("failed to scan event: %w", err)
	}

	if e.At, err = parseTime(at); err != nil {
		return e, err
	}
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return e, err
	}
	if lat.Valid && lng.Valid {
		e.Location = &attendance.Coordinate{Lat: lat.Float64, Lng: lng.Float64}
	}
	if acc.Valid {
		v := acc.Float64
		e.AccuracyM = &v
	}
	e.FenceID = attendance.FenceID(fenceID.String)
	e.UnderRange = underRange == 1
	e.Success = success == 1
	e.FailReason = attendance.FailReason(failReason.String)
	e.IdempotencyKey = idempotencyKey.String
	e.PunchRequestID = attendance.PunchRequestID(punchRequestID.String)
	e.RequesterID = attendance.AccountID(requesterID.String)

	e.Flags = attendance.Flags{}
	if flagsJSON.Valid && flagsJSON.String != "" && flagsJSON.String != "null" {
		if err := json.Unmarshal([]byte(flagsJSON.String), &e.Flags); err != nil {
			return e, fmt.Errorf("failed to decode flags of event %s: %w", e.ID, err)
		}
	}
	return e, nil
}

// =============================================================================
// DAY STORE (attendance.DayStore interface)
// =============================================================================

const dayColumns = `org_id, account_id, date, first_in, last_out, worked_seconds, break_seconds,
	anomalies_json, status, event_count, computed_at`

func (s *Store) UpsertDay(ctx context.Context, d attendance.Day) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	anomalies, err := json.Marshal(d.Anomalies)
	if err != nil {
		return fmt.Errorf("failed to encode anomalies: %w", err)
	}

	query := `
		INSERT INTO days (` + dayColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(org_id, account_id, date) DO UPDATE SET
			first_in = excluded.first_in,
			last_out = excluded.last_out,
			worked_seconds = excluded.worked_seconds,
			break_seconds = excluded.break_seconds,
			anomalies_json = excluded.anomalies_json,
			status = excluded.status,
			event_count = excluded.event_count,
			computed_at = excluded.computed_at
	`

	_, err = s.db.ExecContext(ctx, query,
		d.OrgID, d.AccountID, d.Date.String(), nullTime(d.FirstIn), nullTime(d.LastOut),
		d.WorkedSeconds, d.BreakSeconds, string(anomalies), d.Status, d.EventCount,
		formatTime(d.ComputedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert day: %w", err)
	}
	return nil
}

func (s *Store) Day(ctx context.Context, org attendance.OrgID, account attendance.AccountID, date attendance.LocalDate) (attendance.Day, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + dayColumns + ` FROM days WHERE org_id = ? AND account_id = ? AND date = ?`
	days, err := s.queryDays(ctx, query, org, account, date.String())
	if err != nil {
		return attendance.Day{}, false, err
	}
	if len(days) == 0 {
		return attendance.Day{}, false, nil
	}
	return days[0], true, nil
}

func (s *Store) DaysOn(ctx context.Context, org attendance.OrgID, date attendance.LocalDate) ([]attendance.Day, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + dayColumns + ` FROM days WHERE org_id = ? AND date = ? ORDER BY account_id`
	return s.queryDays(ctx, query, org, date.String())
}

func (s *Store) queryDays(ctx context.Context, query string, args ...any) ([]attendance.Day, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query days: %w", err)
	}
	defer rows.Close()

	var days []attendance.Day
	for rows.Next() {
		var (
			d                attendance.Day
			date, computedAt string
			firstIn, lastOut sql.NullString
			anomalies        sql.NullString
		)
		if err := rows.Scan(
			&d.OrgID, &d.AccountID, &date, &firstIn, &lastOut, &d.WorkedSeconds, &d.BreakSeconds,
			&anomalies, &d.Status, &d.EventCount, &computedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan day: %w", err)
		}

		if d.Date, err = attendance.ParseLocalDate(date); err != nil {
			return nil, err
		}
		if d.FirstIn, err = parseNullTime(firstIn); err != nil {
			return nil, err
		}
		if d.LastOut, err = parseNullTime(lastOut); err != nil {
			return nil, err
		}
		if d.ComputedAt, err = parseTime(computedAt); err != nil {
			return nil, err
		}
		if anomalies.Valid && anomalies.String != "" && anomalies.String != "null" {
			if err := json.Unmarshal([]byte(anomalies.String), &d.Anomalies); err != nil {
				return nil, fmt.Errorf("failed to decode anomalies: %w", err)
			}
		}
		days = append(days, d)
	}
	return days, rows.Err()
}
