package scheduler

import (
	"context"
	"fmt"

	"github.com/warp/attendance-engine/attendance"
)

// remind notifies every rostered employee without a first-in on the shift
// date. Holidays send nothing.
func (s *Scheduler) remind(ctx context.Context, org attendance.OrgID, hours attendance.OfficeHours, date attendance.LocalDate) (int, error) {
	holiday, err := s.store.IsHoliday(ctx, org, date)
	if err != nil {
		return 0, fmt.Errorf("check holiday: %w", err)
	}
	if holiday {
		return 0, nil
	}

	members, err := s.store.Members(ctx, org)
	if err != nil {
		return 0, fmt.Errorf("list members: %w", err)
	}

	message := attendance.ReminderMessage(hours.Start)
	var batch []attendance.Notification
	for _, account := range members {
		day, found, err := s.store.Day(ctx, org, account, date)
		if err != nil {
			return 0, fmt.Errorf("load day for %s: %w", account, err)
		}
		if found && day.FirstIn != nil {
			continue
		}
		batch = append(batch, attendance.Notification{OrgID: org, AccountID: account, Message: message})
	}
	if len(batch) == 0 {
		return 0, nil
	}

	if err := s.notifier.Notify(ctx, batch); err != nil {
		return 0, fmt.Errorf("notify: %w", err)
	}
	s.metrics.RemindersSent(len(batch))
	return len(batch), nil
}
