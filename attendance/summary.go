package attendance

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TODAY SUMMARY - Day aggregate plus the full event timeline
// =============================================================================

type CurrentStatus string

const (
	StatusNotStarted CurrentStatus = "NOT_STARTED"
	StatusCheckedIn  CurrentStatus = "CHECKED_IN"
	StatusOnBreak    CurrentStatus = "ON_BREAK"
	StatusCheckedOut CurrentStatus = "CHECKED_OUT"
)

// Classification grades a day against the configured office hours.
type Classification string

const (
	ClassAbsent  Classification = "ABSENT"
	ClassLate    Classification = "LATE"
	ClassPartial Classification = "PARTIAL"
	ClassPresent Classification = "PRESENT"
)

const (
	MarkerMissingCheckIn  = "MISSING_CHECK_IN"
	MarkerMissingCheckOut = "MISSING_CHECK_OUT"
)

type BreakInterval struct {
	Start   time.Time
	End     *time.Time // nil while the break is open
	Seconds int64
}

// TimelineEntry is one row of the day timeline. Synthetic rows mark a
// missing check-in or check-out and carry no event.
type TimelineEntry struct {
	EventID    EventID
	Kind       string
	At         time.Time
	Source     EventSource
	Action     EventAction
	Success    bool
	Verdict    Verdict
	FailReason FailReason
	FenceID    FenceID
	UnderRange bool
	Location   string
	Flags      []string
	Synthetic  bool
}

type TodaySummary struct {
	OrgID          OrgID
	AccountID      AccountID
	Date           LocalDate
	Status         CurrentStatus
	Classification Classification
	Day            Day
	WorkedHours    decimal.Decimal
	BreakHours     decimal.Decimal
	EffortHours    decimal.Decimal
	Breaks         []BreakInterval
	Timeline       []TimelineEntry
	Events         []Event
}

// SummaryInput carries everything Summarize needs; it does no I/O.
type SummaryInput struct {
	Day    Day
	Events []Event
	Fences map[FenceID]Fence
	Policy Policy
	Hours  OfficeHours
	Now    time.Time
}

func Summarize(in SummaryInput) TodaySummary {
	events := sortEvents(in.Events)
	day := in.Day

	s := TodaySummary{
		OrgID:          day.OrgID,
		AccountID:      day.AccountID,
		Date:           day.Date,
		Day:            day,
		WorkedHours:    day.WorkedHours(),
		BreakHours:     day.BreakHours(),
		EffortHours:    day.EffortHours(),
		Events:         events,
		Classification: Classify(day, in.Policy, in.Hours),
		Breaks:         breakIntervals(events, in.Now),
	}

	switch CurrentState(events) {
	case StateIn:
		s.Status = StatusCheckedIn
	case StateOnBreak:
		s.Status = StatusOnBreak
	default:
		if day.FirstIn == nil {
			s.Status = StatusNotStarted
		} else {
			s.Status = StatusCheckedOut
		}
	}

	s.Timeline = timeline(events, in, s.Status)
	return s
}

// Classify grades the day using the organization's office hours and the
// policy's late and early thresholds.
func Classify(day Day, policy Policy, hours OfficeHours) Classification {
	if day.FirstIn == nil {
		return ClassAbsent
	}
	lateAfter := hours.ShiftStart(day.Date).Add(time.Duration(policy.LateCheckInAfterStartMin) * time.Minute)
	if day.FirstIn.After(lateAfter) {
		return ClassLate
	}
	earlyBefore := hours.ShiftEnd(day.Date).Add(-time.Duration(policy.AllowCheckOutBeforeEndMin) * time.Minute)
	if day.LastOut != nil && !day.HasAnomaly(AnomalyStillCheckedIn) && day.LastOut.Before(earlyBefore) {
		return ClassPartial
	}
	return ClassPresent
}

func breakIntervals(events []Event, now time.Time) []BreakInterval {
	var out []BreakInterval
	var open *BreakInterval
	closeAt := func(at time.Time) {
		end := at
		open.End = &end
		open.Seconds = spanSeconds(open.Start, at)
		out = append(out, *open)
		open = nil
	}
	for _, e := range events {
		if !e.Success {
			continue
		}
		switch e.Kind {
		case KindBreakStart:
			if open == nil {
				open = &BreakInterval{Start: e.At}
			}
		case KindBreakEnd:
			if open != nil {
				closeAt(e.At)
			}
		}
	}
	if open != nil {
		open.Seconds = spanSeconds(open.Start, now)
		out = append(out, *open)
	}
	return out
}

func timeline(events []Event, in SummaryInput, status CurrentStatus) []TimelineEntry {
	entries := make([]TimelineEntry, 0, len(events)+1)
	for _, e := range events {
		entries = append(entries, TimelineEntry{
			EventID:    e.ID,
			Kind:       string(e.Kind),
			At:         e.At,
			Source:     e.Source,
			Action:     e.Action,
			Success:    e.Success,
			Verdict:    e.Verdict,
			FailReason: e.FailReason,
			FenceID:    e.FenceID,
			UnderRange: e.UnderRange,
			Location:   locationLabel(e, in.Fences),
			Flags:      e.Flags.Names(),
		})
	}

	date := in.Day.Date
	if _, ok := FirstSuccessful(events, KindCheckIn); !ok {
		start := in.Hours.ShiftStart(date)
		if in.Now.After(start) {
			entries = append(entries, TimelineEntry{Kind: MarkerMissingCheckIn, At: start.UTC(), Synthetic: true})
		}
	} else if status == StatusCheckedIn || status == StatusOnBreak {
		end := in.Hours.ShiftEnd(date)
		if in.Now.After(end) {
			entries = append(entries, TimelineEntry{Kind: MarkerMissingCheckOut, At: end.UTC(), Synthetic: true})
		}
	}

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].At.Before(entries[j].At) })
	return entries
}

func locationLabel(e Event, fences map[FenceID]Fence) string {
	if e.Location == nil {
		return "Location unavailable"
	}
	if e.FenceID == "" {
		return "No fence assigned"
	}
	fence, ok := fences[e.FenceID]
	if !ok {
		return "Unknown fence"
	}
	if e.UnderRange {
		return fence.Name
	}
	if d, ok := e.Flags[FlagDistanceM].(float64); ok {
		return fmt.Sprintf("%.2f km away from %s", d/1000, fence.Name)
	}
	return "Outside " + fence.Name
}
