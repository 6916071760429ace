/*
rules.go - Acceptance rules engine

PURPOSE:
  Given one candidate punch, the organization policy, the effective fence and
  the employee's prior events for the day, decide:
  - success: whether the punch changes the employee's state
  - verdict: PASS, WARN (accepted with flags) or FAIL
  - failReason: the rejection code when success is false
  - flags: structured observations

EVALUATION ORDER (CHECK_IN / CHECK_OUT):
  1. Accuracy gate      low_accuracy       BLOCK posture → LOW_ACCURACY
  2. Fence containment  out_of_fence       BLOCK policy  → OUTSIDE_FENCE
  3. Cooldown                               → GRACE_EXPIRED
  4. Daily caps                             → CAP_REACHED
  5. State legality                         → DUP_CHECKIN / MISSING_CHECKIN,
                                              ALREADY_ON_BREAK (CHECK_OUT on break)
  6. Shift windows      too_early, late_checkin, early_checkout, very_late_checkout
  7. Excess hours       excessive_hours    (CHECK_OUT only)
  8. Holiday            holiday
  9. Verdict            WARN if any warning flag is set, else PASS

  Steps 1-5 short-circuit on failure. Steps 6-8 never fail a punch.

BREAKS:
  BREAK_START / BREAK_END skip steps 1-4 and 6-8. Both require a check-in.

PUNCHED:
  Separate path (EvaluatePunched): the request must be PENDING and inside its
  window, the employee checked in and not on break.

PURITY:
  Everything time-dependent arrives in the input (Now, OfficeHours, Holiday).
  The engine does no I/O.

SEE ALSO:
  - state.go: Backward-scan state queries
  - geo.go: Distance
  - punch/service.go: The orchestrator that gathers the input
*/
package attendance

import (
	"math"
	"time"
)

// Input is everything the engine needs to judge a CHECK_IN/CHECK_OUT/BREAK punch.
type Input struct {
	OrgID     OrgID
	AccountID AccountID
	Kind      EventKind
	Location  *Coordinate
	AccuracyM *float64

	Policy Policy
	Fence  *Fence // nil = no fence assigned
	Prior  []Event

	Now     time.Time
	Hours   OfficeHours
	Holiday bool
}

// Decision is the outcome of an admission evaluation.
type Decision struct {
	Success    bool
	Verdict    Verdict
	FailReason FailReason
	Flags      Flags
	UnderRange bool
}

func pass(flags Flags) Decision {
	verdict := VerdictPass
	if flags.hasWarning() {
		verdict = VerdictWarn
	}
	return Decision{Success: true, Verdict: verdict, Flags: flags}
}

func fail(reason FailReason, flags Flags) Decision {
	return Decision{Success: false, Verdict: VerdictFail, FailReason: reason, Flags: flags}
}

// =============================================================================
// CHECK_IN / CHECK_OUT / BREAK
// =============================================================================

// Evaluate judges a self-service punch.
func Evaluate(in Input) Decision {
	prior := sortEvents(in.Prior)

	switch in.Kind {
	case KindBreakStart, KindBreakEnd:
		return evaluateBreak(in.Kind, prior)
	case KindCheckIn, KindCheckOut:
	default:
		return fail(FailFailedPunch, Flags{})
	}

	flags := Flags{}
	var underRange bool

	// 1. Accuracy gate
	if in.AccuracyM != nil && *in.AccuracyM > float64(in.Policy.AccuracyGateM) {
		flags.Set(FlagLowAccuracy)
		if in.Policy.Integrity == IntegrityBlock {
			return fail(FailLowAccuracy, flags)
		}
	}

	// 2. Fence containment
	if in.Fence != nil && in.Location != nil {
		distance := DistanceMeters(in.Location.Lat, in.Location.Lng, in.Fence.Center.Lat, in.Fence.Center.Lng)
		flags.SetValue(FlagDistanceM, math.Round(distance))
		underRange = distance <= float64(in.Policy.FenceRadiusM)
		if !underRange {
			flags.Set(FlagOutOfFence)
			if in.Policy.OutsideFence == OutsideFenceBlock {
				return fail(FailOutsideFence, flags)
			}
		}
	}

	d := evaluateShiftPunch(in, prior, flags)
	d.UnderRange = underRange
	return d
}

func evaluateShiftPunch(in Input, prior []Event, flags Flags) Decision {
	// 3. Cooldown
	if n := len(prior); n > 0 && in.Policy.CooldownSeconds > 0 {
		cooldown := time.Duration(in.Policy.CooldownSeconds) * time.Second
		if in.Now.Sub(prior[n-1].At) < cooldown {
			return fail(FailGraceExpired, flags)
		}
	}

	// 4. Daily caps
	successful, failed := CountOutcomes(prior)
	if successful >= in.Policy.MaxSuccessfulPunchesPerDay || failed >= in.Policy.MaxFailedPunchesPerDay {
		return fail(FailCapReached, flags)
	}

	// 5. State legality
	checkedIn := IsCheckedIn(prior)
	if in.Kind == KindCheckIn && checkedIn {
		return fail(FailDupCheckIn, flags)
	}
	if in.Kind == KindCheckOut && !checkedIn {
		return fail(FailMissingCheckIn, flags)
	}
	// A break must be ended before checking out.
	if in.Kind == KindCheckOut && IsOnBreak(prior) {
		return fail(FailAlreadyOnBreak, flags)
	}

	// 6. Shift windows
	date := in.Hours.Today(in.Now)
	minutes := func(m int) time.Duration { return time.Duration(m) * time.Minute }
	if in.Kind == KindCheckIn {
		start := in.Hours.ShiftStart(date)
		if in.Now.Before(start.Add(-minutes(in.Policy.AllowCheckInBeforeStartMin))) {
			flags.Set(FlagTooEarly)
		}
		if in.Now.After(start.Add(minutes(in.Policy.LateCheckInAfterStartMin))) {
			flags.Set(FlagLateCheckIn)
		}
	} else {
		end := in.Hours.ShiftEnd(date)
		if in.Now.Before(end.Add(-minutes(in.Policy.AllowCheckOutBeforeEndMin))) {
			flags.Set(FlagEarlyCheckOut)
		}
		if in.Now.After(end.Add(minutes(in.Policy.MaxCheckOutAfterEndMin))) {
			flags.Set(FlagVeryLateCheckOut)
		}
	}

	// 7. Excess hours (whole hours elapsed)
	if in.Kind == KindCheckOut {
		if first, ok := FirstSuccessful(prior, KindCheckIn); ok {
			if int(in.Now.Sub(first.At).Hours()) > in.Policy.MaxWorkingHoursPerDay {
				flags.Set(FlagExcessiveHours)
			}
		}
	}

	// 8. Holiday
	if in.Holiday {
		flags.Set(FlagHoliday)
	}

	return pass(flags)
}

func evaluateBreak(kind EventKind, prior []Event) Decision {
	flags := Flags{}
	if !IsCheckedIn(prior) {
		return fail(FailMissingCheckIn, flags)
	}
	onBreak := IsOnBreak(prior)
	if kind == KindBreakStart && onBreak {
		return fail(FailAlreadyOnBreak, flags)
	}
	if kind == KindBreakEnd && !onBreak {
		return fail(FailNotOnBreak, flags)
	}
	return pass(flags)
}

// =============================================================================
// PUNCHED
// =============================================================================

// PunchedInput is the input for a supervisor-requested punch.
type PunchedInput struct {
	Request *PunchRequest // nil when the request could not be loaded
	Prior   []Event
	Now     time.Time
}

// EvaluatePunched judges a response to a punch request.
func EvaluatePunched(in PunchedInput) Decision {
	flags := Flags{}
	if in.Request == nil || in.Request.State != PunchRequestPending {
		return fail(FailFailedPunch, flags)
	}
	if !in.Request.WindowContains(in.Now) {
		return fail(FailFailedPunch, flags)
	}

	prior := sortEvents(in.Prior)
	if !IsCheckedIn(prior) {
		return fail(FailMissingCheckIn, flags)
	}
	if IsOnBreak(prior) {
		return fail(FailBeforeCheckout, flags)
	}
	return pass(flags)
}
