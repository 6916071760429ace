package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/warp/attendance-engine/attendance"
)

const (
	reasonAutoCheckOut = "auto check-out after office hours"
	reasonAutoBreakEnd = "auto break end before auto check-out"
)

// CompleteDay closes every day of the organization still open on date:
// an open break gets a BREAK_END, an open check-in a CHECK_OUT. Employees
// without a check-in are left alone, holiday or not. Returns the number of
// employees whose day was closed.
func (s *Scheduler) CompleteDay(ctx context.Context, org attendance.OrgID, date attendance.LocalDate) (int, error) {
	hours, err := s.store.OfficeHours(ctx, org)
	if err != nil {
		return 0, fmt.Errorf("load office hours: %w", err)
	}
	days, err := s.store.DaysOn(ctx, org, date)
	if err != nil {
		return 0, fmt.Errorf("list days on %s: %w", date, err)
	}

	var errs []error
	completed := 0
	for _, day := range days {
		if day.FirstIn == nil {
			continue
		}
		if !day.HasAnomaly(attendance.AnomalyStillCheckedIn) && !day.HasAnomaly(attendance.AnomalyStillOnBreak) {
			continue
		}
		closed, err := s.completeAccount(ctx, org, day.AccountID, date, hours)
		if err != nil {
			errs = append(errs, fmt.Errorf("complete %s: %w", day.AccountID, err))
			continue
		}
		if closed {
			completed++
		}
	}
	return completed, errors.Join(errs...)
}

// completeAccount re-reads the day under the lock and synthesizes only what
// is still missing.
func (s *Scheduler) completeAccount(ctx context.Context, org attendance.OrgID, account attendance.AccountID, date attendance.LocalDate, hours attendance.OfficeHours) (bool, error) {
	unlock, err := s.locker.Lock(ctx, attendance.DayKey(org, account, date))
	if err != nil {
		return false, err
	}
	defer unlock()

	events, err := s.ledger.DayEvents(ctx, org, account, date, hours.Zone())
	if err != nil {
		return false, err
	}

	state := attendance.CurrentState(events)
	if state == attendance.StateOut {
		return false, nil
	}

	stamp := stampFor(s.clock.Now(), date, hours.Zone())
	if state == attendance.StateOnBreak {
		if err := s.synthesize(ctx, org, account, attendance.KindBreakEnd, stamp); err != nil {
			return false, err
		}
	}
	if err := s.synthesize(ctx, org, account, attendance.KindCheckOut, stamp); err != nil {
		return false, err
	}

	day, err := s.projector.Rebuild(ctx, org, account, date, hours.Zone())
	if err != nil {
		return false, err
	}
	s.logger.Info("day auto-completed",
		zap.String("org_id", string(org)),
		zap.String("account_id", string(account)),
		zap.Stringer("date", date),
		zap.String("day_status", string(day.Status)))
	return true, nil
}

func (s *Scheduler) synthesize(ctx context.Context, org attendance.OrgID, account attendance.AccountID, kind attendance.EventKind, at time.Time) error {
	flags := attendance.Flags{}
	flags.Set(attendance.FlagAutoGenerated)
	if kind == attendance.KindBreakEnd {
		flags.Set(attendance.FlagAutoBreakEnd)
		flags.SetValue(attendance.FlagReason, reasonAutoBreakEnd)
	} else {
		flags.Set(attendance.FlagAutoCheckOut)
		flags.SetValue(attendance.FlagReason, reasonAutoCheckOut)
	}

	if _, err := s.ledger.Append(ctx, attendance.Event{
		OrgID:     org,
		AccountID: account,
		Kind:      kind,
		Source:    attendance.SourceSystem,
		Action:    attendance.ActionAuto,
		At:        at,
		Success:   true,
		Verdict:   attendance.VerdictPass,
		Flags:     flags,
	}); err != nil {
		return err
	}
	s.metrics.AutoCompleted(string(kind))
	return nil
}
