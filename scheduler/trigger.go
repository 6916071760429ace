package scheduler

import (
	"time"

	"github.com/warp/attendance-engine/attendance"
)

// =============================================================================
// TRIGGER INSTANTS - Minute-aligned firing
// =============================================================================
//
// A pass fires only when the evaluation minute equals the trigger minute.
// Both helpers look at the neighbouring operational date as well, because
// the trigger instant can land on a different wall-clock date than the
// shift it belongs to:
//
//   reminder   start 00:05, notify 10  → fires 23:55 the day before
//   completion end 23:30, grace 60     → fires 00:30 the day after

func sameMinute(a, b time.Time) bool {
	return attendance.TruncateMinute(a).Equal(attendance.TruncateMinute(b))
}

// ReminderTarget returns the shift date whose reminder instant
// (office start − notifyBefore) falls in now's minute.
func ReminderTarget(now time.Time, hours attendance.OfficeHours, notifyBeforeMin int) (attendance.LocalDate, bool) {
	today := hours.Today(now)
	for _, d := range []attendance.LocalDate{today, today.AddDays(1)} {
		trigger := hours.ShiftStart(d).Add(-time.Duration(notifyBeforeMin) * time.Minute)
		if sameMinute(now, trigger) {
			return d, true
		}
	}
	return attendance.LocalDate{}, false
}

// AutoCompletionTarget returns the operational date whose cutoff
// (office end + grace) falls in now's minute. When now is earlier than
// today's office end the cutoff can only belong to the previous date.
func AutoCompletionTarget(now time.Time, hours attendance.OfficeHours, graceMin int) (attendance.LocalDate, bool) {
	today := hours.Today(now)
	for _, d := range []attendance.LocalDate{today.AddDays(-1), today} {
		cutoff := hours.ShiftEnd(d).Add(time.Duration(graceMin) * time.Minute)
		if sameMinute(now, cutoff) {
			return d, true
		}
	}
	return attendance.LocalDate{}, false
}

// stampFor returns the instant synthesized events are recorded at:
// now, capped at the last second of the target date.
func stampFor(now time.Time, date attendance.LocalDate, loc *time.Location) time.Time {
	_, end := date.Bounds(loc)
	if last := end.Add(-time.Second); now.After(last) {
		return last
	}
	return now
}
