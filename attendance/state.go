package attendance

// =============================================================================
// DAY STATE MACHINE - OUT / IN / ON_BREAK, driven by successful events only
// =============================================================================

type State string

const (
	StateOut     State = "OUT"
	StateIn      State = "IN"
	StateOnBreak State = "ON_BREAK"
)

// lastSuccessful scans backward and returns the most recent successful event
// whose kind is one of kinds.
func lastSuccessful(events []Event, kinds ...EventKind) (Event, bool) {
	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		if !e.Success {
			continue
		}
		for _, k := range kinds {
			if e.Kind == k {
				return e, true
			}
		}
	}
	return Event{}, false
}

// IsCheckedIn reports whether the most recent successful CHECK_IN/CHECK_OUT
// is a CHECK_IN.
func IsCheckedIn(events []Event) bool {
	e, ok := lastSuccessful(events, KindCheckIn, KindCheckOut)
	return ok && e.Kind == KindCheckIn
}

// IsOnBreak reports whether the most recent successful BREAK_START/BREAK_END
// is a BREAK_START. Check-in boundaries don't close a break.
func IsOnBreak(events []Event) bool {
	e, ok := lastSuccessful(events, KindBreakStart, KindBreakEnd)
	return ok && e.Kind == KindBreakStart
}

// CurrentState folds the day's events into the employee's current state.
func CurrentState(events []Event) State {
	switch {
	case !IsCheckedIn(events):
		return StateOut
	case IsOnBreak(events):
		return StateOnBreak
	default:
		return StateIn
	}
}

// LastSuccessfulKind returns the kind of the latest successful event that
// changes state (PUNCHED is ignored).
func LastSuccessfulKind(events []Event) (EventKind, bool) {
	e, ok := lastSuccessful(events, KindCheckIn, KindCheckOut, KindBreakStart, KindBreakEnd)
	return e.Kind, ok
}

// FirstSuccessful returns the earliest successful event of kind.
func FirstSuccessful(events []Event, kind EventKind) (Event, bool) {
	for _, e := range events {
		if e.Success && e.Kind == kind {
			return e, true
		}
	}
	return Event{}, false
}

// CountOutcomes returns how many of the employee's own punches succeeded and
// failed. AUTO events (supervised responses, system corrections) don't count.
func CountOutcomes(events []Event) (successful, failed int) {
	for _, e := range events {
		if e.Action == ActionAuto {
			continue
		}
		if e.Success {
			successful++
		} else {
			failed++
		}
	}
	return successful, failed
}
