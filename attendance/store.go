package attendance

import (
	"context"
	"time"
)

// =============================================================================
// STORE INTERFACES - Narrow collaborators consumed by the engine
// =============================================================================

// PolicyStore returns ErrPolicyNotFound (wrapped) for an unknown organization.
type PolicyStore interface {
	Policy(ctx context.Context, org OrgID) (Policy, error)
	ActivePolicies(ctx context.Context) ([]Policy, error)
}

type FenceStore interface {
	// Fence returns ErrFenceNotFound (wrapped) when the fence doesn't exist.
	Fence(ctx context.Context, org OrgID, id FenceID) (Fence, error)
	AssignmentsFor(ctx context.Context, org OrgID, entity EntityRef) ([]FenceAssignment, error)
}

// EventStore persists attendance events. APPEND-ONLY: there is no update or
// delete operation.
type EventStore interface {
	AppendEvent(ctx context.Context, e Event) error
	// EventsInRange returns events with from <= At < to, chronologically.
	EventsInRange(ctx context.Context, org OrgID, account AccountID, from, to time.Time) ([]Event, error)
	EventByIdempotencyKey(ctx context.Context, org OrgID, account AccountID, key string) (Event, bool, error)
	EventsForPunchRequest(ctx context.Context, org OrgID, id PunchRequestID) ([]Event, error)
}

type DayStore interface {
	UpsertDay(ctx context.Context, d Day) error
	Day(ctx context.Context, org OrgID, account AccountID, date LocalDate) (Day, bool, error)
	DaysOn(ctx context.Context, org OrgID, date LocalDate) ([]Day, error)
}

type PunchRequestStore interface {
	SavePunchRequest(ctx context.Context, r PunchRequest) error
	// PunchRequest returns ErrPunchRequestNotFound (wrapped) for an unknown id.
	PunchRequest(ctx context.Context, id PunchRequestID) (PunchRequest, error)
	PendingPunchRequests(ctx context.Context, org OrgID) ([]PunchRequest, error)
	// PunchRequestsInRange returns requests of any state with
	// from <= RequestedAt < to, oldest first.
	PunchRequestsInRange(ctx context.Context, org OrgID, from, to time.Time) ([]PunchRequest, error)
}

// MembershipResolver expands an account into the teams and projects it
// belongs to.
type MembershipResolver interface {
	TeamsForUser(ctx context.Context, org OrgID, account AccountID) ([]string, error)
	ProjectsForUser(ctx context.Context, org OrgID, account AccountID) ([]string, error)
}

// Directory lists the employees of an organization or of one entity in it.
type Directory interface {
	Members(ctx context.Context, org OrgID) ([]AccountID, error)
	MembersOf(ctx context.Context, org OrgID, entity EntityRef) ([]AccountID, error)
}

// OfficeHoursProvider is the single source of truth for shift times and the
// operational timezone.
type OfficeHoursProvider interface {
	OfficeHours(ctx context.Context, org OrgID) (OfficeHours, error)
}

type HolidayCalendar interface {
	IsHoliday(ctx context.Context, org OrgID, date LocalDate) (bool, error)
}

// Holiday is an organization holiday. Recurring holidays match the same
// month and day every year.
type Holiday struct {
	ID        string
	OrgID     OrgID
	Date      LocalDate
	Name      string
	Recurring bool
}

// Matches reports whether the holiday falls on date.
func (h Holiday) Matches(date LocalDate) bool {
	if h.Recurring {
		return h.Date.Month == date.Month && h.Date.Day == date.Day
	}
	return h.Date == date
}

// =============================================================================
// SCHEDULER RUNS - Exactly-once claims for periodic passes
// =============================================================================

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// SchedulerRun records one periodic pass for one organization. (OrgID, Pass,
// Key) is unique; claiming it twice fails with ErrRunAlreadyClaimed.
type SchedulerRun struct {
	ID          string
	OrgID       OrgID
	Pass        string
	Key         string
	Status      RunStatus
	Processed   int
	Failed      int
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time
}

type RunStore interface {
	ClaimRun(ctx context.Context, run SchedulerRun) error
	FinishRun(ctx context.Context, run SchedulerRun) error
	Runs(ctx context.Context, org OrgID, limit int) ([]SchedulerRun, error)
}

// Store is the full set of collaborators, implemented by the memory and
// SQLite stores.
type Store interface {
	PolicyStore
	FenceStore
	EventStore
	DayStore
	PunchRequestStore
	MembershipResolver
	Directory
	OfficeHoursProvider
	HolidayCalendar
	RunStore
}
