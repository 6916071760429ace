package punch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/warp/attendance-engine/attendance"
)

// MaxReportDays bounds the dates covered by one range query, both ends
// included.
const MaxReportDays = 31

// reportParallelism caps the accounts graded concurrently.
const reportParallelism = 4

// RangeReport is the attendance of several accounts over a date range.
// Days is account-major: every date of Accounts[0] first, in date order.
type RangeReport struct {
	OrgID    attendance.OrgID
	From     attendance.LocalDate
	To       attendance.LocalDate
	Accounts []attendance.AccountID
	PerDate  []attendance.ReportCounts
	Overall  attendance.ReportCounts
	Days     []attendance.ReportDay
}

// AttendanceRange grades every account on every date from..to. No accounts
// means the organization's whole roster. A zero to means from alone.
//
// Days are rolled up from the ledger on the fly and nothing is stored.
func (s *Service) AttendanceRange(ctx context.Context, org attendance.OrgID, accounts []attendance.AccountID, from, to attendance.LocalDate) (RangeReport, error) {
	dates, err := reportDates(from, to)
	if err != nil {
		return RangeReport{}, err
	}

	policy, err := s.store.Policy(ctx, org)
	if err != nil {
		return RangeReport{}, err
	}
	hours, err := s.store.OfficeHours(ctx, org)
	if err != nil {
		return RangeReport{}, fmt.Errorf("load office hours: %w", err)
	}
	if len(accounts) == 0 {
		if accounts, err = s.store.Members(ctx, org); err != nil {
			return RangeReport{}, fmt.Errorf("list members: %w", err)
		}
	}
	accounts = uniqueAccounts(accounts)

	holidays := make([]bool, len(dates))
	for i, date := range dates {
		if holidays[i], err = s.store.IsHoliday(ctx, org, date); err != nil {
			return RangeReport{}, fmt.Errorf("check holiday %s: %w", date, err)
		}
	}

	now := s.clock.Now()
	today := hours.Today(now)
	days := make([]attendance.ReportDay, len(accounts)*len(dates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(reportParallelism)
	for a, account := range accounts {
		a, account := a, account
		g.Go(func() error {
			for i, date := range dates {
				d, err := s.gradeDay(gctx, org, account, date, policy, hours, holidays[i], now, today)
				if err != nil {
					return err
				}
				days[a*len(dates)+i] = d
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return RangeReport{}, err
	}

	report := RangeReport{
		OrgID:    org,
		From:     dates[0],
		To:       dates[len(dates)-1],
		Accounts: accounts,
		PerDate:  make([]attendance.ReportCounts, len(dates)),
		Overall:  attendance.ReportCounts{Employees: len(accounts)},
		Days:     days,
	}
	for i, date := range dates {
		report.PerDate[i] = attendance.ReportCounts{Date: date, Employees: len(accounts)}
	}
	for j, d := range days {
		report.PerDate[j%len(dates)].Add(d)
		report.Overall.Add(d)
	}

	s.logger.Debug("attendance range graded",
		zap.String("org_id", string(org)),
		zap.Stringer("from", report.From),
		zap.Stringer("to", report.To),
		zap.Int("accounts", len(accounts)))
	return report, nil
}

func (s *Service) gradeDay(ctx context.Context, org attendance.OrgID, account attendance.AccountID, date attendance.LocalDate,
	policy attendance.Policy, hours attendance.OfficeHours, holiday bool, now time.Time, today attendance.LocalDate,
) (attendance.ReportDay, error) {
	if date.After(today) {
		return attendance.GradeDay(attendance.SummaryInput{
			Day:   attendance.Day{OrgID: org, AccountID: account, Date: date},
			Hours: hours,
			Now:   now,
		}, holiday, today), nil
	}

	events, err := s.ledger.DayEvents(ctx, org, account, date, hours.Zone())
	if err != nil {
		return attendance.ReportDay{}, err
	}
	fences, err := s.eventFences(ctx, org, events)
	if err != nil {
		return attendance.ReportDay{}, err
	}

	_, end := date.Bounds(hours.Zone())
	asOf := now
	if asOf.After(end) {
		asOf = end
	}
	return attendance.GradeDay(attendance.SummaryInput{
		Day:    attendance.Rollup(org, account, date, events, asOf),
		Events: events,
		Fences: fences,
		Policy: policy,
		Hours:  hours,
		Now:    now,
	}, holiday, today), nil
}

// reportDates lists from..to inclusive.
func reportDates(from, to attendance.LocalDate) ([]attendance.LocalDate, error) {
	invalid := func(field, reason string) error {
		return &attendance.FieldError{Field: field, Reason: reason, Err: attendance.ErrInvalidRange}
	}
	if from.IsZero() {
		return nil, invalid("from", "is required")
	}
	if to.IsZero() {
		to = from
	}
	if to.Before(from) {
		return nil, invalid("to", "must not be before from")
	}

	var dates []attendance.LocalDate
	for d := from; !d.After(to); d = d.AddDays(1) {
		if len(dates) == MaxReportDays {
			return nil, invalid("to", fmt.Sprintf("must be within %d days of from", MaxReportDays))
		}
		dates = append(dates, d)
	}
	return dates, nil
}

func uniqueAccounts(accounts []attendance.AccountID) []attendance.AccountID {
	seen := make(map[attendance.AccountID]bool, len(accounts))
	out := make([]attendance.AccountID, 0, len(accounts))
	for _, a := range accounts {
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out
}
