package punch

import (
	"context"
	"fmt"

	"github.com/warp/attendance-engine/attendance"
)

// TodaySummary returns the day aggregate, timeline and current status for
// one account. A zero date means today in the organization's timezone.
// The rollup is rebuilt first so open spans are accrued up to now.
func (s *Service) TodaySummary(ctx context.Context, org attendance.OrgID, account attendance.AccountID, date attendance.LocalDate) (attendance.TodaySummary, error) {
	policy, err := s.store.Policy(ctx, org)
	if err != nil {
		return attendance.TodaySummary{}, err
	}
	hours, err := s.store.OfficeHours(ctx, org)
	if err != nil {
		return attendance.TodaySummary{}, fmt.Errorf("load office hours: %w", err)
	}
	now := s.clock.Now()
	if date.IsZero() {
		date = hours.Today(now)
	}

	events, err := s.ledger.DayEvents(ctx, org, account, date, hours.Zone())
	if err != nil {
		return attendance.TodaySummary{}, err
	}
	day, err := s.projector.Rebuild(ctx, org, account, date, hours.Zone())
	if err != nil {
		return attendance.TodaySummary{}, err
	}

	fences, err := s.eventFences(ctx, org, events)
	if err != nil {
		return attendance.TodaySummary{}, err
	}

	return attendance.Summarize(attendance.SummaryInput{
		Day:    day,
		Events: events,
		Fences: fences,
		Policy: policy,
		Hours:  hours,
		Now:    now,
	}), nil
}

// eventFences loads the fences referenced by events, for location labels.
// Fences deleted since are left out.
func (s *Service) eventFences(ctx context.Context, org attendance.OrgID, events []attendance.Event) (map[attendance.FenceID]attendance.Fence, error) {
	fences := make(map[attendance.FenceID]attendance.Fence)
	for _, e := range events {
		if e.FenceID == "" {
			continue
		}
		if _, seen := fences[e.FenceID]; seen {
			continue
		}
		f, err := s.store.Fence(ctx, org, e.FenceID)
		if attendance.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		fences[e.FenceID] = f
	}
	return fences, nil
}
