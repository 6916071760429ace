package attendance

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// RANGE REPORT - One graded cell per account and date
// =============================================================================

// ReportStatus grades an account-day in a range report. Working days use the
// Classification values.
type ReportStatus string

const (
	ReportPresent  ReportStatus = ReportStatus(ClassPresent)
	ReportLate     ReportStatus = ReportStatus(ClassLate)
	ReportPartial  ReportStatus = ReportStatus(ClassPartial)
	ReportAbsent   ReportStatus = ReportStatus(ClassAbsent)
	ReportHoliday  ReportStatus = "HOLIDAY"
	ReportUpcoming ReportStatus = "UPCOMING"
)

// Grid badges.
const (
	BadgeLateIn       = "LATE_IN"
	BadgeOutsideFence = "OUTSIDE_FENCE"
)

// Report flags.
const (
	ReportFlagLateCheckIn       = "LATE_CHECK_IN"
	ReportFlagOutsideAtCheckIn  = "OUTSIDE_FENCE_AT_CHECK_IN"
	ReportFlagOutsideAtCheckOut = "OUTSIDE_FENCE_AT_CHECK_OUT"
	ReportFlagIntegrityCheckIn  = "INTEGRITY_WARNING_AT_CHECK_IN"
	ReportFlagIntegrityCheckOut = "INTEGRITY_WARNING_AT_CHECK_OUT"
	ReportFlagFailedAttempts    = "FAILED_ATTEMPTS"
	ReportFlagWorkedOnHoliday   = "WORKED_ON_HOLIDAY"
)

// ReportDay is one account-day of a range report. Summary is the drill-down
// and is nil for upcoming days and for holidays without punches.
type ReportDay struct {
	AccountID      AccountID
	Date           LocalDate
	Status         ReportStatus
	Badge          string
	FirstIn        *time.Time
	LastOut        *time.Time
	WorkedHours    decimal.Decimal
	BreakHours     decimal.Decimal
	EffortHours    decimal.Decimal
	Breaks         []BreakInterval
	FailedAttempts int
	Alerts         int
	Flags          []string
	Summary        *TodaySummary
}

// ReportCounts tallies statuses for one date, or for the whole range when
// Date is zero. Upcoming days count toward nothing.
type ReportCounts struct {
	Date      LocalDate
	Employees int
	Present   int
	Late      int
	Partial   int
	Absent    int
	Holiday   int
	Alerts    int
}

func (c *ReportCounts) Add(d ReportDay) {
	switch d.Status {
	case ReportPresent:
		c.Present++
	case ReportLate:
		c.Late++
	case ReportPartial:
		c.Partial++
	case ReportAbsent:
		c.Absent++
	case ReportHoliday:
		c.Holiday++
	}
	c.Alerts += d.Alerts
}

// GradeDay builds the report cell for one account-day. in.Day must be the
// rollup of in.Events. Dates after today are UPCOMING; a holiday without
// punches is HOLIDAY.
func GradeDay(in SummaryInput, holiday bool, today LocalDate) ReportDay {
	day := in.Day
	rd := ReportDay{
		AccountID:   day.AccountID,
		Date:        day.Date,
		WorkedHours: decimal.Zero,
		BreakHours:  decimal.Zero,
		EffortHours: decimal.Zero,
	}
	if day.Date.After(today) {
		rd.Status = ReportUpcoming
		return rd
	}
	if holiday && len(in.Events) == 0 {
		rd.Status = ReportHoliday
		return rd
	}

	summary := Summarize(in)
	rd.Summary = &summary
	rd.Status = ReportStatus(summary.Classification)
	rd.FirstIn = day.FirstIn
	rd.LastOut = day.LastOut
	rd.WorkedHours = summary.WorkedHours
	rd.BreakHours = summary.BreakHours
	rd.EffortHours = summary.EffortHours
	rd.Breaks = summary.Breaks

	if holiday {
		rd.Status = ReportHoliday
		if day.FirstIn != nil {
			rd.Flags = append(rd.Flags, ReportFlagWorkedOnHoliday)
		}
	}

	checkIn, hasIn := FirstSuccessful(summary.Events, KindCheckIn)
	checkOut, hasOut := lastSuccessful(summary.Events, KindCheckOut)

	if !holiday && summary.Classification == ClassLate {
		rd.Flags = append(rd.Flags, ReportFlagLateCheckIn)
		rd.Badge = BadgeLateIn
	}
	if hasIn {
		if outsideFence(checkIn) {
			rd.Flags = append(rd.Flags, ReportFlagOutsideAtCheckIn)
			if rd.Badge == "" {
				rd.Badge = BadgeOutsideFence
			}
		}
		if checkIn.Verdict == VerdictWarn {
			rd.Flags = append(rd.Flags, ReportFlagIntegrityCheckIn)
		}
	}
	if hasOut {
		if outsideFence(checkOut) {
			rd.Flags = append(rd.Flags, ReportFlagOutsideAtCheckOut)
		}
		if checkOut.Verdict == VerdictWarn {
			rd.Flags = append(rd.Flags, ReportFlagIntegrityCheckOut)
		}
	}

	for _, e := range summary.Events {
		if !e.Success {
			rd.FailedAttempts++
		}
		if !e.Success || e.Verdict == VerdictWarn || e.Verdict == VerdictFail {
			rd.Alerts++
		}
	}
	if rd.FailedAttempts > 0 {
		rd.Flags = append(rd.Flags, ReportFlagFailedAttempts)
	}
	rd.Flags = append(rd.Flags, day.Anomalies...)
	return rd
}

// outsideFence reports a located punch that landed outside its assigned fence.
func outsideFence(e Event) bool {
	return e.FenceID != "" && e.Location != nil && !e.UnderRange
}
