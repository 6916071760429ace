package attendance

import "time"

// =============================================================================
// PUNCH REQUEST - Supervisor-issued invitation to punch
// =============================================================================
//
//   PENDING ──▶ FULFILLED   (successful PUNCHED by a USER target)
//      │
//      ├──────▶ EXPIRED     (window elapsed, scheduler)
//      │
//      └──────▶ CANCELLED   (supervisor)
//
// Terminal states never change again.

type PunchRequestState string

const (
	PunchRequestPending   PunchRequestState = "PENDING"
	PunchRequestFulfilled PunchRequestState = "FULFILLED"
	PunchRequestExpired   PunchRequestState = "EXPIRED"
	PunchRequestCancelled PunchRequestState = "CANCELLED"
)

type PunchRequest struct {
	ID                   PunchRequestID
	OrgID                OrgID
	Target               EntityRef
	RequesterID          AccountID
	RequestedAt          time.Time
	RespondWithinMinutes int
	State                PunchRequestState
	CreatedAt            time.Time
	UpdatedAt            time.Time
	ResolvedAt           *time.Time
}

// ExpiresAt is the exclusive end of the response window.
func (r PunchRequest) ExpiresAt() time.Time {
	return r.RequestedAt.Add(time.Duration(r.RespondWithinMinutes) * time.Minute)
}

// WindowContains reports whether now lies in [RequestedAt, ExpiresAt).
func (r PunchRequest) WindowContains(now time.Time) bool {
	return !now.Before(r.RequestedAt) && now.Before(r.ExpiresAt())
}

// ActiveAt reports whether the request can still be answered at now.
func (r PunchRequest) ActiveAt(now time.Time) bool {
	return r.State == PunchRequestPending && r.WindowContains(now)
}

// SecondsRemaining is zero once the window has closed or the request resolved.
func (r PunchRequest) SecondsRemaining(now time.Time) int64 {
	if r.State != PunchRequestPending || !now.Before(r.ExpiresAt()) {
		return 0
	}
	return int64(r.ExpiresAt().Sub(now) / time.Second)
}

// Targets reports whether the request addresses any of the given entities.
func (r PunchRequest) Targets(entities []EntityRef) bool {
	for _, e := range entities {
		if e == r.Target {
			return true
		}
	}
	return false
}

// IsIndividual reports whether the request targets a single employee.
func (r PunchRequest) IsIndividual() bool { return r.Target.Type == EntityUser }

// Transition moves a PENDING request into a terminal state.
func (r *PunchRequest) Transition(to PunchRequestState, at time.Time) error {
	if r.State != PunchRequestPending || to == PunchRequestPending {
		return &TransitionError{ID: r.ID, From: r.State, To: to}
	}
	switch to {
	case PunchRequestFulfilled, PunchRequestExpired, PunchRequestCancelled:
	default:
		return &TransitionError{ID: r.ID, From: r.State, To: to}
	}
	r.State = to
	r.UpdatedAt = at
	r.ResolvedAt = &at
	return nil
}
