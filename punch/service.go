/*
Package punch implements the punch orchestrator: the use-case layer between
the transport and the attendance engine.

PURPOSE:
  For every punch, gather what the acceptance rules need, evaluate, record
  the outcome in the ledger and rebuild the day rollup.

PUNCH FLOW (self-service):
  1. Policy gate        policy must exist (and be active when required)
  2. Fence resolution   precedence USER < TEAM < PROJECT < ORG
  3. Day lock           (org, account, date) held for steps 4-7
  4. Load day events    organization-local date
  5. Idempotency        same key → original result, nothing written
  6. Evaluate + append  accepted AND rejected attempts are recorded
  7. Rebuild day        full replay, never patched

CONCURRENCY:
  Steps 4-7 run under attendance.Locker so two concurrent punches for the same
  employee-day can't both observe the same prior events.

ERRORS:
  Rejections are results (Result.Success=false), not errors. Errors are
  not-found conditions, invalid input and infrastructure faults.

SEE ALSO:
  - requests.go: Punch request lifecycle
  - summary.go: Today summary
  - report.go: Attendance over a date range
  - fence.go: Effective fence lookup
  - attendance/rules.go: The engine
*/
package punch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/metrics"
)

// Options tune a Service. Zero values select defaults.
type Options struct {
	Clock   attendance.Clock
	Locker  attendance.Locker
	Logger  *zap.Logger
	Metrics *metrics.Metrics

	// RequireActivePolicy rejects punches for organizations whose policy is
	// switched off.
	RequireActivePolicy bool

	// MaxPastSkew bounds how far in the past a punch request may start.
	MaxPastSkew time.Duration
}

type Service struct {
	store     attendance.Store
	ledger    *attendance.Ledger
	projector *attendance.Projector
	fences    *attendance.FenceResolver
	locker    attendance.Locker
	clock     attendance.Clock
	logger    *zap.Logger
	metrics   *metrics.Metrics

	requireActivePolicy bool
	maxPastSkew         time.Duration
}

func NewService(store attendance.Store, opts Options) *Service {
	if opts.Clock == nil {
		opts.Clock = attendance.SystemClock{}
	}
	if opts.Locker == nil {
		opts.Locker = attendance.NewKeyedMutex()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxPastSkew == 0 {
		opts.MaxPastSkew = 5 * time.Minute
	}

	ledger := attendance.NewLedger(store, opts.Clock)
	return &Service{
		store:               store,
		ledger:              ledger,
		projector:           &attendance.Projector{Ledger: ledger, Days: store, Clock: opts.Clock},
		fences:              &attendance.FenceResolver{Fences: store, Memberships: store},
		locker:              opts.Locker,
		clock:               opts.Clock,
		logger:              opts.Logger.Named("punch"),
		metrics:             opts.Metrics,
		requireActivePolicy: opts.RequireActivePolicy,
		maxPastSkew:         opts.MaxPastSkew,
	}
}

// Ledger exposes the event ledger shared with the scheduler.
func (s *Service) Ledger() *attendance.Ledger { return s.ledger }

// Projector exposes the day projector shared with the scheduler.
func (s *Service) Projector() *attendance.Projector { return s.projector }

// =============================================================================
// COMMANDS / RESULT
// =============================================================================

// Command is a self-service punch.
type Command struct {
	AccountID      attendance.AccountID
	Kind           string
	Location       *attendance.Coordinate
	AccuracyM      *float64
	IdempotencyKey string
}

// SupervisedCommand answers a punch request.
type SupervisedCommand struct {
	AccountID      attendance.AccountID
	PunchRequestID attendance.PunchRequestID
	Location       *attendance.Coordinate
	AccuracyM      *float64
	IdempotencyKey string
}

// Result is the punch-result value handed back to the transport.
type Result struct {
	EventID    attendance.EventID
	AccountID  attendance.AccountID
	Kind       attendance.EventKind
	At         time.Time
	FenceID    attendance.FenceID
	UnderRange bool
	Success    bool
	Verdict    attendance.Verdict
	FailReason attendance.FailReason
	Flags      attendance.Flags

	// Replayed is true when the idempotency key matched an earlier punch.
	Replayed bool
	Day      attendance.Day
}

func resultFrom(e attendance.Event, day attendance.Day, replayed bool) Result {
	return Result{
		EventID:    e.ID,
		AccountID:  e.AccountID,
		Kind:       e.Kind,
		At:         e.At,
		FenceID:    e.FenceID,
		UnderRange: e.UnderRange,
		Success:    e.Success,
		Verdict:    e.Verdict,
		FailReason: e.FailReason,
		Flags:      e.Flags,
		Replayed:   replayed,
		Day:        day,
	}
}

// =============================================================================
// SELF-SERVICE PUNCH
// =============================================================================

// Punch admits a CHECK_IN, CHECK_OUT, BREAK_START or BREAK_END.
func (s *Service) Punch(ctx context.Context, org attendance.OrgID, cmd Command) (Result, error) {
	started := s.clock.Now()

	kind, err := attendance.ParseEventKind(cmd.Kind)
	if err != nil {
		return Result{}, err
	}
	if kind == attendance.KindPunched {
		return Result{}, fmt.Errorf("%w: PUNCHED answers a punch request", attendance.ErrInvalidEventKind)
	}
	if cmd.AccountID == "" {
		return Result{}, &attendance.FieldError{Field: "account_id", Reason: "is required", Err: attendance.ErrInvalidCommand}
	}

	policy, err := s.gate(ctx, org)
	if err != nil {
		return Result{}, err
	}
	hours, err := s.store.OfficeHours(ctx, org)
	if err != nil {
		return Result{}, fmt.Errorf("load office hours: %w", err)
	}
	fence, err := s.fences.Resolve(ctx, org, cmd.AccountID)
	if err != nil {
		return Result{}, fmt.Errorf("resolve fence: %w", err)
	}

	// One reading of the clock fixes both the day and the event time, even
	// when the lock wait crosses midnight.
	now := s.clock.Now()
	date := hours.Today(now)
	holiday, err := s.store.IsHoliday(ctx, org, date)
	if err != nil {
		return Result{}, fmt.Errorf("check holiday: %w", err)
	}

	unlock, err := s.locker.Lock(ctx, attendance.DayKey(org, cmd.AccountID, date))
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	if replay, ok, err := s.replay(ctx, org, cmd.AccountID, cmd.IdempotencyKey, date, hours); err != nil || ok {
		return replay, err
	}

	prior, err := s.ledger.DayEvents(ctx, org, cmd.AccountID, date, hours.Zone())
	if err != nil {
		return Result{}, err
	}

	decision := attendance.Evaluate(attendance.Input{
		OrgID:     org,
		AccountID: cmd.AccountID,
		Kind:      kind,
		Location:  cmd.Location,
		AccuracyM: cmd.AccuracyM,
		Policy:    policy,
		Fence:     fence,
		Prior:     prior,
		Now:       now,
		Hours:     hours,
		Holiday:   holiday,
	})

	event := attendance.Event{
		OrgID:          org,
		AccountID:      cmd.AccountID,
		Kind:           kind,
		Source:         attendance.SourceSelfService,
		Action:         attendance.ActionManual,
		At:             now,
		Location:       cmd.Location,
		AccuracyM:      cmd.AccuracyM,
		UnderRange:     decision.UnderRange,
		Success:        decision.Success,
		Verdict:        decision.Verdict,
		FailReason:     decision.FailReason,
		Flags:          decision.Flags,
		IdempotencyKey: cmd.IdempotencyKey,
	}
	if fence != nil {
		event.FenceID = fence.ID
	}

	result, err := s.record(ctx, event, date, hours)
	if err != nil {
		return Result{}, err
	}
	s.observe(result, started)
	return result, nil
}

// =============================================================================
// SUPERVISED PUNCH
// =============================================================================

// PunchSupervised records an employee's response to a punch request.
func (s *Service) PunchSupervised(ctx context.Context, org attendance.OrgID, cmd SupervisedCommand) (Result, error) {
	started := s.clock.Now()

	if cmd.AccountID == "" {
		return Result{}, &attendance.FieldError{Field: "account_id", Reason: "is required", Err: attendance.ErrInvalidCommand}
	}
	policy, err := s.gate(ctx, org)
	if err != nil {
		return Result{}, err
	}
	hours, err := s.store.OfficeHours(ctx, org)
	if err != nil {
		return Result{}, fmt.Errorf("load office hours: %w", err)
	}
	entities, err := attendance.ExpandMemberships(ctx, s.store, org, cmd.AccountID)
	if err != nil {
		return Result{}, err
	}
	fence, err := s.fences.Resolve(ctx, org, cmd.AccountID)
	if err != nil {
		return Result{}, fmt.Errorf("resolve fence: %w", err)
	}

	now := s.clock.Now()
	date := hours.Today(now)
	unlock, err := s.locker.Lock(ctx, attendance.DayKey(org, cmd.AccountID, date))
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	if replay, ok, err := s.replay(ctx, org, cmd.AccountID, cmd.IdempotencyKey, date, hours); err != nil || ok {
		return replay, err
	}

	req, err := s.store.PunchRequest(ctx, cmd.PunchRequestID)
	if err != nil {
		return Result{}, err
	}
	if req.OrgID != org {
		return Result{}, fmt.Errorf("%w: punch request %s", attendance.ErrOrgMismatch, req.ID)
	}

	prior, err := s.ledger.DayEvents(ctx, org, cmd.AccountID, date, hours.Zone())
	if err != nil {
		return Result{}, err
	}

	decision := attendance.EvaluatePunched(attendance.PunchedInput{Request: &req, Prior: prior, Now: now})
	if decision.Success {
		decision, err = s.checkResponder(ctx, req, cmd.AccountID, entities, decision)
		if err != nil {
			return Result{}, err
		}
	}

	event := attendance.Event{
		OrgID:          org,
		AccountID:      cmd.AccountID,
		Kind:           attendance.KindPunched,
		Source:         attendance.SourceSupervisor,
		Action:         attendance.ActionAuto,
		At:             now,
		Location:       cmd.Location,
		AccuracyM:      cmd.AccuracyM,
		Success:        decision.Success,
		Verdict:        decision.Verdict,
		FailReason:     decision.FailReason,
		Flags:          decision.Flags,
		IdempotencyKey: cmd.IdempotencyKey,
		PunchRequestID: req.ID,
		RequesterID:    req.RequesterID,
	}
	if fence != nil {
		event.FenceID = fence.ID
		if cmd.Location != nil {
			event.UnderRange = attendance.IsWithinFence(*cmd.Location, fence.Center, float64(policy.FenceRadiusM))
		}
	}

	result, err := s.record(ctx, event, date, hours)
	if err != nil {
		return Result{}, err
	}

	if result.Success && !result.Replayed && req.IsIndividual() {
		if err := req.Transition(attendance.PunchRequestFulfilled, now); err != nil {
			return Result{}, err
		}
		if err := s.store.SavePunchRequest(ctx, req); err != nil {
			return Result{}, fmt.Errorf("save punch request: %w", err)
		}
	}

	s.observe(result, started)
	return result, nil
}

// checkResponder rejects responses from accounts the request doesn't target
// and second responses to a group request.
func (s *Service) checkResponder(ctx context.Context, req attendance.PunchRequest, account attendance.AccountID, entities []attendance.EntityRef, d attendance.Decision) (attendance.Decision, error) {
	rejected := func(flag string) attendance.Decision {
		flags := d.Flags.Clone()
		flags.Set(flag)
		return attendance.Decision{Verdict: attendance.VerdictFail, FailReason: attendance.FailFailedPunch, Flags: flags}
	}

	if !req.Targets(entities) {
		return rejected(attendance.FlagNotTargeted), nil
	}
	if req.IsIndividual() {
		return d, nil
	}

	answered, err := s.answered(ctx, req, account)
	if err != nil {
		return d, err
	}
	if answered {
		return rejected(attendance.FlagAlreadyResponded), nil
	}
	return d, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// gate loads the policy and applies the active-policy switch.
func (s *Service) gate(ctx context.Context, org attendance.OrgID) (attendance.Policy, error) {
	policy, err := s.store.Policy(ctx, org)
	if err != nil {
		return attendance.Policy{}, err
	}
	if s.requireActivePolicy && !policy.Active {
		return attendance.Policy{}, fmt.Errorf("%w: %s", attendance.ErrPolicyInactive, org)
	}
	return policy, nil
}

// replay returns the stored outcome of an earlier punch with the same key.
func (s *Service) replay(ctx context.Context, org attendance.OrgID, account attendance.AccountID, key string, date attendance.LocalDate, hours attendance.OfficeHours) (Result, bool, error) {
	if key == "" {
		return Result{}, false, nil
	}
	existing, found, err := s.store.EventByIdempotencyKey(ctx, org, account, key)
	if err != nil {
		return Result{}, false, fmt.Errorf("check idempotency key: %w", err)
	}
	if !found {
		return Result{}, false, nil
	}
	day, err := s.projector.Rebuild(ctx, org, account, attendance.DateOf(existing.At, hours.Zone()), hours.Zone())
	if err != nil {
		return Result{}, false, err
	}
	return resultFrom(existing, day, true), true, nil
}

// record appends the event and rebuilds the day it belongs to.
func (s *Service) record(ctx context.Context, event attendance.Event, date attendance.LocalDate, hours attendance.OfficeHours) (Result, error) {
	stored, err := s.ledger.Append(ctx, event)
	var dup *attendance.DuplicateEventError
	switch {
	case errors.As(err, &dup):
		day, err := s.projector.Rebuild(ctx, event.OrgID, event.AccountID, date, hours.Zone())
		if err != nil {
			return Result{}, err
		}
		return resultFrom(dup.Existing, day, true), nil
	case err != nil:
		return Result{}, err
	}

	day, err := s.projector.Rebuild(ctx, event.OrgID, event.AccountID, date, hours.Zone())
	if err != nil {
		return Result{}, err
	}

	s.logger.Info("punch recorded",
		zap.String("org_id", string(stored.OrgID)),
		zap.String("account_id", string(stored.AccountID)),
		zap.String("kind", string(stored.Kind)),
		zap.String("verdict", string(stored.Verdict)),
		zap.String("fail_reason", string(stored.FailReason)),
		zap.String("day_status", string(day.Status)))
	return resultFrom(stored, day, false), nil
}

func (s *Service) observe(r Result, started time.Time) {
	s.metrics.ObservePunch(string(r.Kind), string(r.Verdict), string(r.FailReason), s.clock.Now().Sub(started).Seconds())
}
