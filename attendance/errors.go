/*
errors.go - Centralized error types for the attendance engine

PURPOSE:
  All error types in one place for consistency and discoverability.

ERROR CATEGORIES:
  1. Admission rejections - NOT errors. See FailReason in types.go; they are
     returned inside Decision and recorded on the Event.
  2. Not-found conditions - policy, fence or punch request absent
  3. Client/conflict errors - invalid input, illegal state transitions
  4. Infrastructure faults - store failures, wrapped and propagated as-is

USAGE:
    if attendance.IsNotFound(err) {
        // 404
    }

SEE ALSO:
  - types.go: FailReason codes
  - api/errors.go: HTTP status mapping
*/
package attendance

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrPolicyNotFound is returned when an organization has no attendance policy.
	ErrPolicyNotFound = errors.New("attendance policy not found")

	// ErrFenceNotFound is returned when an assignment references a missing fence.
	ErrFenceNotFound = errors.New("geofence not found")

	// ErrPunchRequestNotFound is returned when a referenced punch request doesn't exist.
	ErrPunchRequestNotFound = errors.New("punch request not found")

	// ErrPolicyInactive is returned by the policy gate when attendance is
	// switched off for the organization.
	ErrPolicyInactive = errors.New("attendance policy is not active")

	// ErrInvalidPolicy is returned when policy thresholds violate invariants.
	ErrInvalidPolicy = errors.New("invalid attendance policy")

	// ErrInvalidEventKind is returned for an unknown punch kind.
	ErrInvalidEventKind = errors.New("invalid event kind")

	// ErrInvalidCommand is returned when a punch is missing required input.
	ErrInvalidCommand = errors.New("invalid punch command")

	// ErrInvalidEntityType is returned for an unknown assignment/target entity type.
	ErrInvalidEntityType = errors.New("invalid entity type")

	// ErrInvalidPunchRequest is returned when a punch request fails validation.
	ErrInvalidPunchRequest = errors.New("invalid punch request")

	// ErrOrgMismatch is returned when a referenced record belongs to another organization.
	ErrOrgMismatch = errors.New("record belongs to another organization")

	// ErrInvalidTransition is returned for an illegal punch request state change.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrDuplicateIdempotencyKey is returned when an event with the same
	// idempotency key already exists. Expected on client retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrRunAlreadyClaimed is returned when a scheduler pass was already
	// claimed for the same organization and trigger.
	ErrRunAlreadyClaimed = errors.New("scheduler run already claimed")

	// ErrLockTimeout is returned when a day lock could not be acquired
	// before the context ended.
	ErrLockTimeout = errors.New("timed out acquiring day lock")

	// ErrInvalidRange is returned when a date range is reversed or too long.
	ErrInvalidRange = errors.New("invalid date range")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NotFoundError names the missing record.
type NotFoundError struct {
	Kind string // "policy", "fence", "punch_request"
	ID   string
	Err  error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// PolicyNotFound builds the not-found error stores return for a missing policy.
func PolicyNotFound(org OrgID) error {
	return &NotFoundError{Kind: "policy", ID: string(org), Err: ErrPolicyNotFound}
}

// FenceNotFound builds the not-found error stores return for a missing fence.
func FenceNotFound(id FenceID) error {
	return &NotFoundError{Kind: "fence", ID: string(id), Err: ErrFenceNotFound}
}

// PunchRequestNotFound builds the not-found error stores return for a missing request.
func PunchRequestNotFound(id PunchRequestID) error {
	return &NotFoundError{Kind: "punch_request", ID: string(id), Err: ErrPunchRequestNotFound}
}

// FieldError describes a single invalid field.
type FieldError struct {
	Field  string
	Reason string
	Err    error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%v: %s %s", e.Err, e.Field, e.Reason)
}

func (e *FieldError) Unwrap() error { return e.Err }

// TransitionError provides details about a rejected punch request transition.
type TransitionError struct {
	ID   PunchRequestID
	From PunchRequestState
	To   PunchRequestState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("punch request %s: cannot move from %s to %s", e.ID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// DuplicateEventError carries the event already stored under the key so
// callers can replay the original outcome.
type DuplicateEventError struct {
	Key      string
	Existing Event
}

func (e *DuplicateEventError) Error() string {
	return fmt.Sprintf("event with idempotency key %q already exists (id %s)", e.Key, e.Existing.ID)
}

func (e *DuplicateEventError) Unwrap() error { return ErrDuplicateIdempotencyKey }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPolicyNotFound) ||
		errors.Is(err, ErrFenceNotFound) ||
		errors.Is(err, ErrPunchRequestNotFound)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidEventKind) ||
		errors.Is(err, ErrInvalidCommand) ||
		errors.Is(err, ErrInvalidEntityType) ||
		errors.Is(err, ErrInvalidPunchRequest) ||
		errors.Is(err, ErrInvalidPolicy) ||
		errors.Is(err, ErrInvalidRange) ||
		errors.Is(err, ErrOrgMismatch)
}

// IsConflict returns true if the request is valid but the current state forbids it.
func IsConflict(err error) bool {
	return errors.Is(err, ErrPolicyInactive) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrLockTimeout)
}
