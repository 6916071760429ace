package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/warp/attendance-engine/attendance"
)

// expire closes every pending punch request whose window has elapsed.
// Targeted employees who were checked in when the window closed and never
// answered get a failed PUNCHED event. Returns the number of expired
// requests.
func (s *Scheduler) expire(ctx context.Context, org attendance.OrgID, hours attendance.OfficeHours, now time.Time) (int, error) {
	pending, err := s.store.PendingPunchRequests(ctx, org)
	if err != nil {
		return 0, fmt.Errorf("list pending punch requests: %w", err)
	}

	var errs []error
	expired := 0
	for _, req := range pending {
		if now.Before(req.ExpiresAt()) {
			continue
		}
		if err := s.expireRequest(ctx, req, hours, now); err != nil {
			errs = append(errs, fmt.Errorf("expire punch request %s: %w", req.ID, err))
			continue
		}
		expired++
	}
	return expired, errors.Join(errs...)
}

func (s *Scheduler) expireRequest(ctx context.Context, req attendance.PunchRequest, hours attendance.OfficeHours, now time.Time) error {
	targets, err := s.store.MembersOf(ctx, req.OrgID, req.Target)
	if err != nil {
		return fmt.Errorf("list targets: %w", err)
	}
	responses, err := s.store.EventsForPunchRequest(ctx, req.OrgID, req.ID)
	if err != nil {
		return fmt.Errorf("load responses: %w", err)
	}
	answered := make(map[attendance.AccountID]bool)
	for _, e := range responses {
		if e.Success {
			answered[e.AccountID] = true
		}
	}

	date := attendance.DateOf(req.RequestedAt, hours.Zone())
	missed := 0
	for _, account := range targets {
		if answered[account] {
			continue
		}
		recorded, err := s.recordMissed(ctx, req, account, date, hours, now)
		if err != nil {
			return err
		}
		if recorded {
			missed++
		}
	}

	if err := req.Transition(attendance.PunchRequestExpired, now); err != nil {
		return err
	}
	if err := s.store.SavePunchRequest(ctx, req); err != nil {
		return fmt.Errorf("save punch request: %w", err)
	}

	s.logger.Info("punch request expired",
		zap.String("org_id", string(req.OrgID)),
		zap.String("punch_request_id", string(req.ID)),
		zap.Stringer("target", req.Target),
		zap.Int("missed", missed))
	return nil
}

// recordMissed appends a failed PUNCHED event for an employee who was
// checked in when the window closed.
func (s *Scheduler) recordMissed(ctx context.Context, req attendance.PunchRequest, account attendance.AccountID, date attendance.LocalDate, hours attendance.OfficeHours, now time.Time) (bool, error) {
	unlock, err := s.locker.Lock(ctx, attendance.DayKey(req.OrgID, account, date))
	if err != nil {
		return false, err
	}
	defer unlock()

	events, err := s.ledger.DayEvents(ctx, req.OrgID, account, date, hours.Zone())
	if err != nil {
		return false, err
	}
	var before []attendance.Event
	for _, e := range events {
		if e.At.Before(req.ExpiresAt()) {
			before = append(before, e)
		}
	}
	if !attendance.IsCheckedIn(before) {
		return false, nil
	}

	flags := attendance.Flags{}
	flags.Set(attendance.FlagMissedPunch)
	flags.Set(attendance.FlagAutoGenerated)
	_, err = s.ledger.Append(ctx, attendance.Event{
		OrgID:          req.OrgID,
		AccountID:      account,
		Kind:           attendance.KindPunched,
		Source:         attendance.SourceSystem,
		Action:         attendance.ActionAuto,
		At:             stampFor(now, date, hours.Zone()),
		Verdict:        attendance.VerdictFail,
		FailReason:     attendance.FailMissedPunch,
		Flags:          flags,
		IdempotencyKey: "missed-punch:" + string(req.ID),
		PunchRequestID: req.ID,
		RequesterID:    req.RequesterID,
	})
	var dup *attendance.DuplicateEventError
	if errors.As(err, &dup) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if _, err := s.projector.Rebuild(ctx, req.OrgID, account, date, hours.Zone()); err != nil {
		return false, err
	}
	s.metrics.MissedPunch()
	return true, nil
}
