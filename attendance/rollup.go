/*
rollup.go - Day rollup reducer and projector

PURPOSE:
  The Day is a projection of the day's events: first-in, last-out, worked and
  break seconds, anomalies and status. It is never patched. Every admitted
  event triggers a full replay of the day's event list.

ALGORITHM (Rollup):
  Iterate events chronologically, ignoring unsuccessful ones.
  - CHECK_IN:    set first-in if unset, open a work span
  - CHECK_OUT:   close the work span into worked seconds (anomaly
                 checkout_without_checkin if none open), set last-out;
                 an open break is closed at the same instant
  - BREAK_START: open a break span
  - BREAK_END:   close it into break seconds (anomaly
                 break_end_without_start if none open)
  Spans still open after the scan accrue up to asOf and are flagged
  still_checked_in / still_on_break.

STATUS:
  no first-in          → ABSENT
  open spans           → INCOMPLETE
  orphan-close anomaly → FLAGGED
  otherwise            → PRESENT

SEE ALSO:
  - ledger.go: Supplies the day's events
  - store.go: DayStore persists the projection
*/
package attendance

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

type DayStatus string

const (
	DayAbsent     DayStatus = "ABSENT"
	DayPresent    DayStatus = "PRESENT"
	DayIncomplete DayStatus = "INCOMPLETE"
	DayFlagged    DayStatus = "FLAGGED"
)

const (
	AnomalyCheckoutWithoutCheckin = "checkout_without_checkin"
	AnomalyBreakEndWithoutStart   = "break_end_without_start"
	AnomalyStillCheckedIn         = "still_checked_in"
	AnomalyStillOnBreak           = "still_on_break"
)

// Day is the derived per-employee, per-date aggregate.
type Day struct {
	OrgID     OrgID
	AccountID AccountID
	Date      LocalDate

	FirstIn *time.Time
	LastOut *time.Time

	WorkedSeconds int64
	BreakSeconds  int64
	Anomalies     []string // sorted, unique
	Status        DayStatus

	EventCount int
	ComputedAt time.Time
}

func (d Day) HasAnomaly(name string) bool {
	i := sort.SearchStrings(d.Anomalies, name)
	return i < len(d.Anomalies) && d.Anomalies[i] == name
}

// WorkedHours is worked time in hours, two decimal places.
func (d Day) WorkedHours() decimal.Decimal { return secondsToHours(d.WorkedSeconds) }

// BreakHours is break time in hours, two decimal places.
func (d Day) BreakHours() decimal.Decimal { return secondsToHours(d.BreakSeconds) }

// EffortHours is worked time minus break time, never negative.
func (d Day) EffortHours() decimal.Decimal {
	effort := d.WorkedSeconds - d.BreakSeconds
	if effort < 0 {
		effort = 0
	}
	return secondsToHours(effort)
}

func secondsToHours(s int64) decimal.Decimal {
	return decimal.NewFromInt(s).Div(decimal.NewFromInt(3600)).Round(2)
}

// =============================================================================
// REDUCER
// =============================================================================

// Rollup replays events into a Day. It is pure: the same events and asOf
// always produce the same Day.
func Rollup(org OrgID, account AccountID, date LocalDate, events []Event, asOf time.Time) Day {
	day := Day{
		OrgID:      org,
		AccountID:  account,
		Date:       date,
		EventCount: len(events),
		ComputedAt: asOf,
	}
	anomalies := map[string]bool{}

	var openIn, openBreak *time.Time
	for _, e := range sortEvents(events) {
		if !e.Success {
			continue
		}
		at := e.At
		switch e.Kind {
		case KindCheckIn:
			if day.FirstIn == nil {
				day.FirstIn = &at
			}
			if openIn == nil {
				openIn = &at
			}
		case KindCheckOut:
			if openIn != nil {
				day.WorkedSeconds += spanSeconds(*openIn, at)
				openIn = nil
			} else {
				anomalies[AnomalyCheckoutWithoutCheckin] = true
			}
			day.LastOut = &at
		case KindBreakStart:
			if openBreak == nil {
				openBreak = &at
			}
		case KindBreakEnd:
			if openBreak != nil {
				day.BreakSeconds += spanSeconds(*openBreak, at)
				openBreak = nil
			} else {
				anomalies[AnomalyBreakEndWithoutStart] = true
			}
		}
	}

	if openIn != nil {
		day.WorkedSeconds += spanSeconds(*openIn, asOf)
		anomalies[AnomalyStillCheckedIn] = true
	}
	if openBreak != nil {
		day.BreakSeconds += spanSeconds(*openBreak, asOf)
		anomalies[AnomalyStillOnBreak] = true
	}

	for name := range anomalies {
		day.Anomalies = append(day.Anomalies, name)
	}
	sort.Strings(day.Anomalies)

	switch {
	case day.FirstIn == nil:
		day.Status = DayAbsent
	case anomalies[AnomalyStillCheckedIn] || anomalies[AnomalyStillOnBreak]:
		day.Status = DayIncomplete
	case anomalies[AnomalyCheckoutWithoutCheckin] || anomalies[AnomalyBreakEndWithoutStart]:
		day.Status = DayFlagged
	default:
		day.Status = DayPresent
	}
	return day
}

func spanSeconds(from, to time.Time) int64 {
	if !to.After(from) {
		return 0
	}
	return int64(to.Sub(from) / time.Second)
}

// =============================================================================
// PROJECTOR - Rebuilds and persists the Day from the event log
// =============================================================================

type Projector struct {
	Ledger *Ledger
	Days   DayStore
	Clock  Clock
}

// Rebuild replays every event of the date and upserts the result. Open spans
// accrue up to now, capped at the end of the date. A date without events is
// returned as ABSENT and not stored.
func (p *Projector) Rebuild(ctx context.Context, org OrgID, account AccountID, date LocalDate, loc *time.Location) (Day, error) {
	events, err := p.Ledger.DayEvents(ctx, org, account, date, loc)
	if err != nil {
		return Day{}, err
	}

	_, end := date.Bounds(loc)
	asOf := p.Clock.Now()
	if asOf.After(end) {
		asOf = end
	}

	day := Rollup(org, account, date, events, asOf)
	if len(events) == 0 {
		return day, nil
	}
	if err := p.Days.UpsertDay(ctx, day); err != nil {
		return Day{}, fmt.Errorf("upsert day %s/%s/%s: %w", org, account, date, err)
	}
	return day, nil
}
