package attendance_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/warp/attendance-engine/attendance"
)

func TestCurrentState(t *testing.T) {
	in := ev(attendance.KindCheckIn, at(9, 0), true)
	brk := ev(attendance.KindBreakStart, at(12, 0), true)
	back := ev(attendance.KindBreakEnd, at(12, 30), true)
	out := ev(attendance.KindCheckOut, at(17, 0), true)
	failedOut := ev(attendance.KindCheckOut, at(17, 0), false)

	tests := []struct {
		name   string
		events []attendance.Event
		want   attendance.State
	}{
		{"empty", nil, attendance.StateOut},
		{"checked in", []attendance.Event{in}, attendance.StateIn},
		{"on break", []attendance.Event{in, brk}, attendance.StateOnBreak},
		{"back from break", []attendance.Event{in, brk, back}, attendance.StateIn},
		{"checked out", []attendance.Event{in, out}, attendance.StateOut},
		{"failed check-out ignored", []attendance.Event{in, failedOut}, attendance.StateIn},
		{"checked out while on break", []attendance.Event{in, brk, out}, attendance.StateOut},
		{"checked in again after break check-out", []attendance.Event{in, brk, out, ev(attendance.KindCheckIn, at(18, 0), true)}, attendance.StateOnBreak},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, attendance.CurrentState(tt.events))
		})
	}
}

func TestLastSuccessfulKind_IgnoresPunched(t *testing.T) {
	kind, ok := attendance.LastSuccessfulKind([]attendance.Event{
		ev(attendance.KindCheckIn, at(9, 0), true),
		ev(attendance.KindBreakStart, at(12, 0), true),
		ev(attendance.KindPunched, at(12, 10), true),
		ev(attendance.KindBreakEnd, at(12, 20), false),
	})

	assert.True(t, ok)
	assert.Equal(t, attendance.KindBreakStart, kind)
}

func TestCountOutcomes(t *testing.T) {
	// Daily caps count only the employee's own punches. AUTO events
	// (supervised PUNCHED answers, missed-punch records, scheduler
	// corrections) are excluded on purpose, so a plain count over every
	// stored event for the day would give 3 and 2 here.
	missed := ev(attendance.KindPunched, at(9, 30), false)
	missed.Action = attendance.ActionAuto
	answered := ev(attendance.KindPunched, at(9, 40), true)
	answered.Action = attendance.ActionAuto

	s, f := attendance.CountOutcomes([]attendance.Event{
		ev(attendance.KindCheckIn, at(9, 0), false),
		ev(attendance.KindCheckIn, at(9, 5), true),
		ev(attendance.KindBreakStart, at(9, 10), true),
		missed,
		answered,
	})

	assert.Equal(t, 2, s)
	assert.Equal(t, 1, f)
}
