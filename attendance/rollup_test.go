package attendance_test

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/attendance/store"
)

func rollup(asOf time.Time, events ...attendance.Event) attendance.Day {
	return attendance.Rollup("org-1", "emp-1", monday, events, asOf)
}

// =============================================================================
// REDUCER
// =============================================================================

func TestRollup_NoEvents_Absent(t *testing.T) {
	day := rollup(at(12, 0))

	assert.Equal(t, attendance.DayAbsent, day.Status)
	assert.Nil(t, day.FirstIn)
	assert.Zero(t, day.WorkedSeconds)
}

func TestRollup_OpenCheckIn_Incomplete(t *testing.T) {
	// GIVEN: CHECK_IN at 09:00 and nothing else
	// WHEN: Rolled up at 12:00
	// THEN: INCOMPLETE, 3 h worked, still_checked_in

	day := rollup(at(12, 0), ev(attendance.KindCheckIn, at(9, 0), true))

	assert.Equal(t, attendance.DayIncomplete, day.Status)
	assert.Equal(t, int64(10800), day.WorkedSeconds)
	assert.True(t, day.HasAnomaly(attendance.AnomalyStillCheckedIn))
	require.NotNil(t, day.FirstIn)
	assert.Equal(t, at(9, 0), *day.FirstIn)
	assert.Nil(t, day.LastOut)
}

func TestRollup_FullDay_Present(t *testing.T) {
	day := rollup(at(20, 0),
		ev(attendance.KindCheckIn, at(9, 0), true),
		ev(attendance.KindBreakStart, at(12, 0), true),
		ev(attendance.KindBreakEnd, at(12, 45), true),
		ev(attendance.KindCheckOut, at(17, 0), true),
	)

	assert.Equal(t, attendance.DayPresent, day.Status)
	assert.Equal(t, int64(8*3600), day.WorkedSeconds)
	assert.Equal(t, int64(45*60), day.BreakSeconds)
	assert.Empty(t, day.Anomalies)
	assert.Equal(t, "8", day.WorkedHours().String())
	assert.Equal(t, "0.75", day.BreakHours().String())
	assert.Equal(t, "7.25", day.EffortHours().String())
	require.NotNil(t, day.LastOut)
	assert.Equal(t, at(17, 0), *day.LastOut)
}

func TestRollup_FailedEventsIgnored(t *testing.T) {
	day := rollup(at(20, 0),
		ev(attendance.KindCheckIn, at(8, 0), false),
		ev(attendance.KindCheckIn, at(9, 0), true),
		ev(attendance.KindCheckOut, at(10, 0), false),
		ev(attendance.KindCheckOut, at(17, 0), true),
	)

	assert.Equal(t, at(9, 0), *day.FirstIn)
	assert.Equal(t, int64(8*3600), day.WorkedSeconds)
	assert.Equal(t, 4, day.EventCount)
}

func TestRollup_MultipleSpans(t *testing.T) {
	day := rollup(at(20, 0),
		ev(attendance.KindCheckIn, at(9, 0), true),
		ev(attendance.KindCheckOut, at(12, 0), true),
		ev(attendance.KindCheckIn, at(13, 0), true),
		ev(attendance.KindCheckOut, at(17, 0), true),
	)

	assert.Equal(t, int64(7*3600), day.WorkedSeconds)
	assert.Equal(t, at(9, 0), *day.FirstIn)
	assert.Equal(t, at(17, 0), *day.LastOut)
	assert.Equal(t, attendance.DayPresent, day.Status)
}

func TestRollup_OrphanCloses_Flagged(t *testing.T) {
	day := rollup(at(20, 0),
		ev(attendance.KindCheckIn, at(9, 0), true),
		ev(attendance.KindCheckOut, at(12, 0), true),
		ev(attendance.KindCheckOut, at(13, 0), true),
		ev(attendance.KindBreakEnd, at(14, 0), true),
	)

	assert.Equal(t, attendance.DayFlagged, day.Status)
	assert.Equal(t, []string{attendance.AnomalyBreakEndWithoutStart, attendance.AnomalyCheckoutWithoutCheckin}, day.Anomalies)
}

func TestRollup_OpenBreak_Incomplete(t *testing.T) {
	day := rollup(at(13, 0),
		ev(attendance.KindCheckIn, at(9, 0), true),
		ev(attendance.KindBreakStart, at(12, 0), true),
	)

	assert.Equal(t, attendance.DayIncomplete, day.Status)
	assert.True(t, day.HasAnomaly(attendance.AnomalyStillOnBreak))
	assert.Equal(t, int64(3600), day.BreakSeconds)
}

func TestRollup_CheckOutLeavesBreakOpen(t *testing.T) {
	// GIVEN: A check-out recorded while a break is still open
	// WHEN: Rolling up at 17:00
	// THEN: Only the work span closes; the break accrues to asOf and is flagged

	day := rollup(at(17, 0),
		ev(attendance.KindCheckIn, at(9, 0), true),
		ev(attendance.KindBreakStart, at(12, 0), true),
		ev(attendance.KindCheckOut, at(13, 0), true),
	)

	assert.Equal(t, attendance.DayIncomplete, day.Status)
	assert.Equal(t, int64(4*3600), day.WorkedSeconds)
	assert.Equal(t, int64(5*3600), day.BreakSeconds)
	assert.Equal(t, []string{attendance.AnomalyStillOnBreak}, day.Anomalies)
}

func TestRollup_UnsortedInput(t *testing.T) {
	day := rollup(at(20, 0),
		ev(attendance.KindCheckOut, at(17, 0), true),
		ev(attendance.KindCheckIn, at(9, 0), true),
	)

	assert.Equal(t, attendance.DayPresent, day.Status)
	assert.Equal(t, int64(8*3600), day.WorkedSeconds)
}

// =============================================================================
// PROPERTIES
// =============================================================================

var kinds = []attendance.EventKind{
	attendance.KindCheckIn,
	attendance.KindCheckOut,
	attendance.KindBreakStart,
	attendance.KindBreakEnd,
	attendance.KindPunched,
}

func genEvents(kindIdx []int, gaps []int, outcomes []bool) []attendance.Event {
	n := len(kindIdx)
	if len(gaps) < n {
		n = len(gaps)
	}
	if len(outcomes) < n {
		n = len(outcomes)
	}
	events := make([]attendance.Event, 0, n)
	ts := at(6, 0)
	for i := 0; i < n; i++ {
		ts = ts.Add(time.Duration(gaps[i]+1) * time.Minute)
		events = append(events, ev(kinds[kindIdx[i]], ts, outcomes[i]))
	}
	return events
}

func TestRollup_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	kindGen := gen.SliceOf(gen.IntRange(0, len(kinds)-1))
	gapGen := gen.SliceOf(gen.IntRange(0, 90))
	outcomeGen := gen.SliceOf(gen.Bool())

	properties.Property("re-running the rollup is idempotent", prop.ForAll(
		func(k, g []int, o []bool) bool {
			events := genEvents(k, g, o)
			return reflect.DeepEqual(rollup(at(23, 0), events...), rollup(at(23, 0), events...))
		},
		kindGen, gapGen, outcomeGen,
	))

	properties.Property("input order does not matter for distinct timestamps", prop.ForAll(
		func(k, g []int, o []bool) bool {
			events := genEvents(k, g, o)
			reversed := make([]attendance.Event, len(events))
			for i, e := range events {
				reversed[len(events)-1-i] = e
			}
			return reflect.DeepEqual(rollup(at(23, 0), events...), rollup(at(23, 0), reversed...))
		},
		kindGen, gapGen, outcomeGen,
	))

	properties.Property("status is ABSENT exactly when there is no first-in", prop.ForAll(
		func(k, g []int, o []bool) bool {
			day := rollup(at(23, 0), genEvents(k, g, o)...)
			return (day.Status == attendance.DayAbsent) == (day.FirstIn == nil) &&
				day.WorkedSeconds >= 0 && day.BreakSeconds >= 0
		},
		kindGen, gapGen, outcomeGen,
	))

	properties.TestingRun(t)
}

// =============================================================================
// PROJECTOR
// =============================================================================

func TestProjector_RebuildReplaysLedger(t *testing.T) {
	// GIVEN: A stored check-in at 09:00
	// WHEN: Rebuilding at 12:00, then again after a check-out
	// THEN: The stored day follows the full replay each time

	ctx := context.Background()
	mem := store.NewMemory()
	clock := attendance.NewManualClock(at(12, 0))
	ledger := attendance.NewLedger(mem, clock)
	projector := &attendance.Projector{Ledger: ledger, Days: mem, Clock: clock}

	_, err := ledger.Append(ctx, ev(attendance.KindCheckIn, at(9, 0), true))
	require.NoError(t, err)

	day, err := projector.Rebuild(ctx, "org-1", "emp-1", monday, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, attendance.DayIncomplete, day.Status)

	clock.Set(at(17, 0))
	_, err = ledger.Append(ctx, ev(attendance.KindCheckOut, at(17, 0), true))
	require.NoError(t, err)

	_, err = projector.Rebuild(ctx, "org-1", "emp-1", monday, time.UTC)
	require.NoError(t, err)

	stored, found, err := mem.Day(ctx, "org-1", "emp-1", monday)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, attendance.DayPresent, stored.Status)
	assert.Equal(t, int64(8*3600), stored.WorkedSeconds)
}

func TestProjector_PastDayCapsAtEndOfDay(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	clock := attendance.NewManualClock(at(12, 0).Add(48 * time.Hour))
	ledger := attendance.NewLedger(mem, clock)
	projector := &attendance.Projector{Ledger: ledger, Days: mem, Clock: clock}

	_, err := ledger.Append(ctx, ev(attendance.KindCheckIn, at(22, 0), true))
	require.NoError(t, err)

	day, err := projector.Rebuild(ctx, "org-1", "emp-1", monday, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, int64(2*3600), day.WorkedSeconds)
}

func TestProjector_NoEvents_NotStored(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	clock := attendance.NewManualClock(at(12, 0))
	projector := &attendance.Projector{Ledger: attendance.NewLedger(mem, clock), Days: mem, Clock: clock}

	day, err := projector.Rebuild(ctx, "org-1", "emp-1", monday, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, attendance.DayAbsent, day.Status)

	_, found, err := mem.Day(ctx, "org-1", "emp-1", monday)
	require.NoError(t, err)
	assert.False(t, found)
}
