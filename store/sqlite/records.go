package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/warp/attendance-engine/attendance"
)

// =============================================================================
// POLICIES
// =============================================================================

const policyColumns = `org_id, active, outside_fence, integrity, allow_checkin_before_start_min,
	late_checkin_after_start_min, allow_checkout_before_end_min, max_checkout_after_end_min,
	notify_before_shift_start_min, fence_radius_m, accuracy_gate_m, cooldown_seconds,
	max_successful_punches, max_failed_punches, max_working_hours, updated_at`

// SavePolicy inserts or replaces an organization's policy.
func (s *Store) SavePolicy(ctx context.Context, p attendance.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT OR REPLACE INTO policies (` + policyColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		p.OrgID, boolInt(p.Active), p.OutsideFence, p.Integrity,
		p.AllowCheckInBeforeStartMin, p.LateCheckInAfterStartMin,
		p.AllowCheckOutBeforeEndMin, p.MaxCheckOutAfterEndMin, p.NotifyBeforeShiftStartMin,
		p.FenceRadiusM, p.AccuracyGateM, p.CooldownSeconds,
		p.MaxSuccessfulPunchesPerDay, p.MaxFailedPunchesPerDay, p.MaxWorkingHoursPerDay,
		formatTime(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save policy: %w", err)
	}
	return nil
}

func (s *Store) Policy(ctx context.Context, org attendance.OrgID) (attendance.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	policies, err := s.queryPolicies(ctx, `SELECT `+policyColumns+` FROM policies WHERE org_id = ?`, org)
	if err != nil {
		return attendance.Policy{}, err
	}
	if len(policies) == 0 {
		return attendance.Policy{}, attendance.PolicyNotFound(org)
	}
	return policies[0], nil
}

func (s *Store) ActivePolicies(ctx context.Context) ([]attendance.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryPolicies(ctx, `SELECT `+policyColumns+` FROM policies WHERE active = 1 ORDER BY org_id`)
}

func (s *Store) queryPolicies(ctx context.Context, query string, args ...any) ([]attendance.Policy, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query policies: %w", err)
	}
	defer rows.Close()

	var policies []attendance.Policy
	for rows.Next() {
		var (
			p         attendance.Policy
			active    int
			updatedAt string
		)
		if err := rows.Scan(
			&p.OrgID, &active, &p.OutsideFence, &p.Integrity,
			&p.AllowCheckInBeforeStartMin, &p.LateCheckInAfterStartMin,
			&p.AllowCheckOutBeforeEndMin, &p.MaxCheckOutAfterEndMin, &p.NotifyBeforeShiftStartMin,
			&p.FenceRadiusM, &p.AccuracyGateM, &p.CooldownSeconds,
			&p.MaxSuccessfulPunchesPerDay, &p.MaxFailedPunchesPerDay, &p.MaxWorkingHoursPerDay,
			&updatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan policy: %w", err)
		}
		p.Active = active == 1
		if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

// =============================================================================
// OFFICE HOURS / HOLIDAYS
// =============================================================================

func (s *Store) SaveOfficeHours(ctx context.Context, org attendance.OrgID, h attendance.OfficeHours) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO office_hours (org_id, start_time, end_time, timezone) VALUES (?, ?, ?, ?)`,
		org, h.Start.String(), h.End.String(), h.Zone().String(),
	)
	if err != nil {
		return fmt.Errorf("failed to save office hours: %w", err)
	}
	return nil
}

// OfficeHours falls back to DefaultOfficeHours when none are configured.
func (s *Store) OfficeHours(ctx context.Context, org attendance.OrgID) (attendance.OfficeHours, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var start, end, zone string
	err := s.db.QueryRowContext(ctx,
		`SELECT start_time, end_time, timezone FROM office_hours WHERE org_id = ?`, org,
	).Scan(&start, &end, &zone)
	if isNoRows(err) {
		return attendance.DefaultOfficeHours(), nil
	}
	if err != nil {
		return attendance.OfficeHours{}, fmt.Errorf("failed to load office hours: %w", err)
	}

	var h attendance.OfficeHours
	if h.Start, err = attendance.ParseClockTime(start); err != nil {
		return h, err
	}
	if h.End, err = attendance.ParseClockTime(end); err != nil {
		return h, err
	}
	if h.Location, err = time.LoadLocation(zone); err != nil {
		return h, fmt.Errorf("office hours timezone %q: %w", zone, err)
	}
	return h, nil
}

func (s *Store) SaveHoliday(ctx context.Context, h attendance.Holiday) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO holidays (id, org_id, date, month_day, name, recurring) VALUES (?, ?, ?, ?, ?, ?)`,
		h.ID, h.OrgID, h.Date.String(), monthDay(h.Date), h.Name, boolInt(h.Recurring),
	)
	if err != nil {
		return fmt.Errorf("failed to save holiday: %w", err)
	}
	return nil
}

// IsHoliday checks organization holidays and global ones (empty org_id).
func (s *Store) IsHoliday(ctx context.Context, org attendance.OrgID, date attendance.LocalDate) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT COUNT(*) FROM holidays
		WHERE (org_id = ? OR org_id = '')
		  AND (date = ? OR (recurring = 1 AND month_day = ?))
	`
	var count int
	if err := s.db.QueryRowContext(ctx, query, org, date.String(), monthDay(date)).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check holiday: %w", err)
	}
	return count > 0, nil
}

func monthDay(d attendance.LocalDate) string {
	return fmt.Sprintf("%02d-%02d", int(d.Month), d.Day)
}

// =============================================================================
// FENCES
// =============================================================================

func (s *Store) SaveFence(ctx context.Context, f attendance.Fence) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT OR REPLACE INTO fences (id, org_id, name, kind, site_code, lat, lng, radius_m, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		f.ID, f.OrgID, f.Name, f.Kind, nullString(f.SiteCode),
		f.Center.Lat, f.Center.Lng, f.RadiusM, boolInt(f.Active),
	)
	if err != nil {
		return fmt.Errorf("failed to save fence: %w", err)
	}
	return nil
}

func (s *Store) Fence(ctx context.Context, org attendance.OrgID, id attendance.FenceID) (attendance.Fence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		f        attendance.Fence
		siteCode sql.NullString
		active   int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, org_id, name, kind, site_code, lat, lng, radius_m, active FROM fences WHERE id = ? AND org_id = ?`,
		id, org,
	).Scan(&f.ID, &f.OrgID, &f.Name, &f.Kind, &siteCode, &f.Center.Lat, &f.Center.Lng, &f.RadiusM, &active)
	if isNoRows(err) {
		return attendance.Fence{}, attendance.FenceNotFound(id)
	}
	if err != nil {
		return attendance.Fence{}, fmt.Errorf("failed to load fence: %w", err)
	}
	f.SiteCode = siteCode.String
	f.Active = active == 1
	return f, nil
}

func (s *Store) SaveAssignment(ctx context.Context, a attendance.FenceAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT OR REPLACE INTO fence_assignments (id, org_id, fence_id, entity_type, entity_id, is_default, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		a.ID, a.OrgID, a.FenceID, int(a.Entity.Type), a.Entity.ID, boolInt(a.IsDefault), formatTime(a.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save fence assignment: %w", err)
	}
	return nil
}

func (s *Store) AssignmentsFor(ctx context.Context, org attendance.OrgID, entity attendance.EntityRef) ([]attendance.FenceAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, org_id, fence_id, entity_type, entity_id, is_default, created_at
		FROM fence_assignments
		WHERE org_id = ? AND entity_type = ? AND entity_id = ?
		ORDER BY created_at ASC, id ASC
	`, org, int(entity.Type), entity.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query fence assignments: %w", err)
	}
	defer rows.Close()

	var out []attendance.FenceAssignment
	for rows.Next() {
		var (
			a          attendance.FenceAssignment
			entityType int
			isDefault  int
			createdAt  string
		)
		if err := rows.Scan(&a.ID, &a.OrgID, &a.FenceID, &entityType, &a.Entity.ID, &isDefault, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan fence assignment: %w", err)
		}
		a.Entity.Type = attendance.EntityType(entityType)
		a.IsDefault = isDefault == 1
		if a.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// =============================================================================
// DIRECTORY / MEMBERSHIPS
// =============================================================================

func (s *Store) AddMember(ctx context.Context, org attendance.OrgID, account attendance.AccountID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO members (org_id, account_id) VALUES (?, ?)`, org, account)
	if err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}
	return nil
}

func (s *Store) AddMembership(ctx context.Context, org attendance.OrgID, account attendance.AccountID, entity attendance.EntityRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO memberships (org_id, account_id, entity_type, entity_id) VALUES (?, ?, ?, ?)`,
		org, account, int(entity.Type), entity.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to add membership: %w", err)
	}
	return nil
}

func (s *Store) Members(ctx context.Context, org attendance.OrgID) ([]attendance.AccountID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryAccounts(ctx, `SELECT account_id FROM members WHERE org_id = ? ORDER BY account_id`, org)
}

func (s *Store) MembersOf(ctx context.Context, org attendance.OrgID, entity attendance.EntityRef) ([]attendance.AccountID, error) {
	switch entity.Type {
	case attendance.EntityOrg:
		return s.Members(ctx, org)
	case attendance.EntityUser:
		return []attendance.AccountID{attendance.AccountID(entity.ID)}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryAccounts(ctx, `
		SELECT account_id FROM memberships
		WHERE org_id = ? AND entity_type = ? AND entity_id = ?
		ORDER BY account_id
	`, org, int(entity.Type), entity.ID)
}

func (s *Store) TeamsForUser(ctx context.Context, org attendance.OrgID, account attendance.AccountID) ([]string, error) {
	return s.membershipIDs(ctx, org, account, attendance.EntityTeam)
}

func (s *Store) ProjectsForUser(ctx context.Context, org attendance.OrgID, account attendance.AccountID) ([]string, error) {
	return s.membershipIDs(ctx, org, account, attendance.EntityProject)
}

func (s *Store) membershipIDs(ctx context.Context, org attendance.OrgID, account attendance.AccountID, t attendance.EntityType) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_id FROM memberships
		WHERE org_id = ? AND account_id = ? AND entity_type = ?
		ORDER BY entity_id
	`, org, account, int(t))
	if err != nil {
		return nil, fmt.Errorf("failed to query memberships: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) queryAccounts(ctx context.Context, query string, args ...any) ([]attendance.AccountID, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var out []attendance.AccountID
	for rows.Next() {
		var id attendance.AccountID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// =============================================================================
// PUNCH REQUESTS
// =============================================================================

const punchRequestColumns = `id, org_id, target_type, target_id, requester_id, requested_at,
	respond_within_minutes, state, created_at, updated_at, resolved_at`

func (s *Store) SavePunchRequest(ctx context.Context, r attendance.PunchRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO punch_requests (` + punchRequestColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			updated_at = excluded.updated_at,
			resolved_at = excluded.resolved_at
	`
	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.OrgID, int(r.Target.Type), r.Target.ID, r.RequesterID, formatTime(r.RequestedAt),
		r.RespondWithinMinutes, r.State, formatTime(r.CreatedAt), formatTime(r.UpdatedAt),
		nullTime(r.ResolvedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save punch request: %w", err)
	}
	return nil
}

func (s *Store) PunchRequest(ctx context.Context, id attendance.PunchRequestID) (attendance.PunchRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	requests, err := s.queryPunchRequests(ctx, `SELECT `+punchRequestColumns+` FROM punch_requests WHERE id = ?`, id)
	if err != nil {
		return attendance.PunchRequest{}, err
	}
	if len(requests) == 0 {
		return attendance.PunchRequest{}, attendance.PunchRequestNotFound(id)
	}
	return requests[0], nil
}

func (s *Store) PendingPunchRequests(ctx context.Context, org attendance.OrgID) ([]attendance.PunchRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryPunchRequests(ctx, `
		SELECT `+punchRequestColumns+` FROM punch_requests
		WHERE org_id = ? AND state = ?
		ORDER BY requested_at ASC
	`, org, attendance.PunchRequestPending)
}

func (s *Store) PunchRequestsInRange(ctx context.Context, org attendance.OrgID, from, to time.Time) ([]attendance.PunchRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryPunchRequests(ctx, `
		SELECT `+punchRequestColumns+` FROM punch_requests
		WHERE org_id = ? AND requested_at >= ? AND requested_at < ?
		ORDER BY requested_at ASC, id ASC
	`, org, formatTime(from), formatTime(to))
}

func (s *Store) queryPunchRequests(ctx context.Context, query string, args ...any) ([]attendance.PunchRequest, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query punch requests: %w", err)
	}
	defer rows.Close()

	var out []attendance.PunchRequest
	for rows.Next() {
		var (
			r                    attendance.PunchRequest
			targetType           int
			requestedAt, created string
			updated              string
			resolved             sql.NullString
		)
		if err := rows.Scan(
			&r.ID, &r.OrgID, &targetType, &r.Target.ID, &r.RequesterID, &requestedAt,
			&r.RespondWithinMinutes, &r.State, &created, &updated, &resolved,
		); err != nil {
			return nil, fmt.Errorf("failed to scan punch request: %w", err)
		}
		r.Target.Type = attendance.EntityType(targetType)
		if r.RequestedAt, err = parseTime(requestedAt); err != nil {
			return nil, err
		}
		if r.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		if r.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, err
		}
		if r.ResolvedAt, err = parseNullTime(resolved); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// SCHEDULER RUNS (adapted from reconciliation runs)
// =============================================================================

// ClaimRun inserts a running record. The unique (org, pass, key) index
// turns a second claim into attendance.ErrRunAlreadyClaimed.
func (s *Store) ClaimRun(ctx context.Context, run attendance.SchedulerRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduler_runs (id, org_id, pass, run_key, status, processed, failed, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID, run.OrgID, run.Pass, run.Key, run.Status, run.Processed, run.Failed,
		nullString(run.Error), formatTime(run.StartedAt), nullTime(run.CompletedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return attendance.ErrRunAlreadyClaimed
		}
		return fmt.Errorf("failed to claim scheduler run: %w", err)
	}
	return nil
}

func (s *Store) FinishRun(ctx context.Context, run attendance.SchedulerRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE scheduler_runs
		SET status = ?, processed = ?, failed = ?, error = ?, completed_at = ?
		WHERE org_id = ? AND pass = ? AND run_key = ?
	`,
		run.Status, run.Processed, run.Failed, nullString(run.Error), nullTime(run.CompletedAt),
		run.OrgID, run.Pass, run.Key,
	)
	if err != nil {
		return fmt.Errorf("failed to finish scheduler run: %w", err)
	}
	return nil
}

func (s *Store) Runs(ctx context.Context, org attendance.OrgID, limit int) ([]attendance.SchedulerRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, org_id, pass, run_key, status, processed, failed, error, started_at, completed_at
		FROM scheduler_runs
		WHERE org_id = ?
		ORDER BY started_at DESC
		LIMIT ?
	`, org, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query scheduler runs: %w", err)
	}
	defer rows.Close()

	var runs []attendance.SchedulerRun
	for rows.Next() {
		var (
			r         attendance.SchedulerRun
			errText   sql.NullString
			startedAt string
			completed sql.NullString
		)
		if err := rows.Scan(
			&r.ID, &r.OrgID, &r.Pass, &r.Key, &r.Status, &r.Processed, &r.Failed,
			&errText, &startedAt, &completed,
		); err != nil {
			return nil, fmt.Errorf("failed to scan scheduler run: %w", err)
		}
		r.Error = errText.String
		if r.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, err
		}
		if r.CompletedAt, err = parseNullTime(completed); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
