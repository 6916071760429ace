/*
Package attendance provides the core punch acceptance and rollup engine.

PURPOSE:
  Decides whether an incoming punch (check-in, check-out, break boundary or
  supervisor-requested punch) is accepted, warned or rejected, and derives the
  per-employee, per-day attendance rollup from the event history.

KEY CONCEPTS IN THIS FILE (types.go):
  - Event: An immutable attendance fact (accepted OR rejected admission attempt)
  - EventKind/Source/Action: What happened, who produced it, how
  - Verdict/FailReason: Outcome of the acceptance rules
  - Flags: Structured, non-fatal observations attached to an event

DESIGN PRINCIPLES:
  1. Append-only: Events are never updated or deleted
  2. Event-sourced: The day aggregate is always replayed from events
  3. Type Safety: Strong typing for IDs prevents mixing org/account ids
  4. Pure core: Rules and rollup are functions of their inputs; "now" is passed in

SEE ALSO:
  - rules.go: Acceptance rules engine
  - rollup.go: Day rollup reducer and projector
  - ledger.go: Append-only event log
*/
package attendance

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type OrgID string
type AccountID string
type EventID string
type FenceID string
type PunchRequestID string

// =============================================================================
// EVENT KIND / SOURCE / ACTION
// =============================================================================

type EventKind string

const (
	KindCheckIn    EventKind = "CHECK_IN"
	KindCheckOut   EventKind = "CHECK_OUT"
	KindBreakStart EventKind = "BREAK_START"
	KindBreakEnd   EventKind = "BREAK_END"
	KindPunched    EventKind = "PUNCHED"
)

// ParseEventKind accepts the canonical names case-insensitively.
func ParseEventKind(s string) (EventKind, error) {
	k := EventKind(strings.ToUpper(strings.TrimSpace(s)))
	switch k {
	case KindCheckIn, KindCheckOut, KindBreakStart, KindBreakEnd, KindPunched:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidEventKind, s)
}

func (k EventKind) IsBreak() bool { return k == KindBreakStart || k == KindBreakEnd }

// EventSource records who produced the event.
type EventSource string

const (
	SourceSelfService EventSource = "GEOFENCE"
	SourceSupervisor  EventSource = "SUPERVISOR"
	SourceSystem      EventSource = "SYSTEM"
)

type EventAction string

const (
	ActionManual EventAction = "MANUAL"
	ActionAuto   EventAction = "AUTO"
)

// =============================================================================
// VERDICT / FAIL REASON
// =============================================================================

type Verdict string

const (
	VerdictPass Verdict = "PASS"
	VerdictWarn Verdict = "WARN"
	VerdictFail Verdict = "FAIL"
)

// FailReason is an admission rejection code. Rejections are business
// outcomes carried in Decision and Event, never Go errors.
type FailReason string

const (
	FailDupCheckIn     FailReason = "DUP_CHECKIN"
	FailMissingCheckIn FailReason = "MISSING_CHECKIN"
	FailOutsideFence   FailReason = "OUTSIDE_FENCE"
	FailLowAccuracy    FailReason = "LOW_ACCURACY"
	FailGraceExpired   FailReason = "GRACE_EXPIRED"
	FailCapReached     FailReason = "CAP_REACHED"
	FailAlreadyOnBreak FailReason = "ALREADY_ON_BREAK"
	FailNotOnBreak     FailReason = "NOT_ON_BREAK"
	FailFailedPunch    FailReason = "FAILED_PUNCH"
	FailBeforeCheckout FailReason = "BEFORE_CHECKOUT"
	FailMissedPunch    FailReason = "MISSED_PUNCH"
)

// =============================================================================
// FLAGS
// =============================================================================

const (
	FlagLowAccuracy      = "low_accuracy"
	FlagOutOfFence       = "out_of_fence"
	FlagTooEarly         = "too_early"
	FlagLateCheckIn      = "late_checkin"
	FlagEarlyCheckOut    = "early_checkout"
	FlagVeryLateCheckOut = "very_late_checkout"
	FlagExcessiveHours   = "excessive_hours"
	FlagHoliday          = "holiday"

	FlagDistanceM        = "distance_m"
	FlagAutoGenerated    = "auto_generated"
	FlagAutoCheckOut     = "auto_checkout"
	FlagAutoBreakEnd     = "auto_break_end"
	FlagMissedPunch      = "missed_punch"
	FlagAlreadyResponded = "already_responded"
	FlagNotTargeted      = "not_targeted"
	FlagReason           = "reason"
)

// warningFlags are the non-fatal observations that turn PASS into WARN.
var warningFlags = []string{
	FlagLowAccuracy,
	FlagOutOfFence,
	FlagTooEarly,
	FlagLateCheckIn,
	FlagEarlyCheckOut,
	FlagVeryLateCheckOut,
	FlagExcessiveHours,
	FlagHoliday,
}

// Flags is a string-keyed set of observations. Boolean flags are stored as
// true; informational values (distance, reason) keep their value.
type Flags map[string]any

func (f Flags) Set(name string)                { f[name] = true }
func (f Flags) SetValue(name string, value any) { f[name] = value }

// Has reports whether a boolean flag is set to true.
func (f Flags) Has(name string) bool {
	v, ok := f[name].(bool)
	return ok && v
}

func (f Flags) Clone() Flags {
	out := make(Flags, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Names returns the set boolean flags, sorted.
func (f Flags) Names() []string {
	var names []string
	for k := range f {
		if f.Has(k) {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	return names
}

func (f Flags) hasWarning() bool {
	for _, name := range warningFlags {
		if f.Has(name) {
			return true
		}
	}
	return false
}

// =============================================================================
// EVENT
// =============================================================================

type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Event is an immutable attendance fact. One is written for every admission
// attempt, accepted or rejected, and for every system-synthesized correction.
type Event struct {
	ID        EventID
	OrgID     OrgID
	AccountID AccountID
	Kind      EventKind
	Source    EventSource
	Action    EventAction
	At        time.Time // UTC

	Location   *Coordinate
	AccuracyM  *float64
	FenceID    FenceID // empty = no fence was assigned
	UnderRange bool

	Success    bool
	Verdict    Verdict
	FailReason FailReason // empty on success
	Flags      Flags

	IdempotencyKey string
	PunchRequestID PunchRequestID // PUNCHED only
	RequesterID    AccountID      // PUNCHED only

	CreatedAt time.Time
}

// sortEvents returns a chronologically ordered copy. Events sharing a
// timestamp keep their relative order.
func sortEvents(events []Event) []Event {
	out := make([]Event, len(events))
	copy(out, events)
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}
