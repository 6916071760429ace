package punch

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/attendance-engine/attendance"
)

// =============================================================================
// PUNCH REQUESTS - Supervisor invitations to punch within a window
// =============================================================================

// CreateRequest is a supervisor's punch request.
type CreateRequest struct {
	Target               attendance.EntityRef
	RequesterID          attendance.AccountID
	RequestedAt          time.Time // zero means now
	RespondWithinMinutes int
}

// RequestView is a punch request as seen at a point in time.
type RequestView struct {
	attendance.PunchRequest
	ExpiresAt        time.Time
	Active           bool
	SecondsRemaining int64
}

func (s *Service) view(r attendance.PunchRequest, now time.Time) RequestView {
	return RequestView{
		PunchRequest:     r,
		ExpiresAt:        r.ExpiresAt(),
		Active:           r.ActiveAt(now),
		SecondsRemaining: r.SecondsRemaining(now),
	}
}

// CreatePunchRequest validates and stores a PENDING request. The request
// may not start more than MaxPastSkew in the past, nor after the office day
// ends.
func (s *Service) CreatePunchRequest(ctx context.Context, org attendance.OrgID, req CreateRequest) (RequestView, error) {
	invalid := func(field, reason string) error {
		return &attendance.FieldError{Field: field, Reason: reason, Err: attendance.ErrInvalidPunchRequest}
	}

	if !req.Target.Type.Valid() {
		return RequestView{}, fmt.Errorf("%w: %d", attendance.ErrInvalidEntityType, int(req.Target.Type))
	}
	if req.Target.ID == "" {
		return RequestView{}, invalid("target_id", "is required")
	}
	if req.Target.Type == attendance.EntityOrg && req.Target.ID != string(org) {
		return RequestView{}, fmt.Errorf("%w: target organization %s", attendance.ErrOrgMismatch, req.Target.ID)
	}
	if req.RequesterID == "" {
		return RequestView{}, invalid("requester_id", "is required")
	}
	if req.RespondWithinMinutes <= 0 {
		return RequestView{}, invalid("respond_within_minutes", "must be positive")
	}

	if _, err := s.gate(ctx, org); err != nil {
		return RequestView{}, err
	}
	hours, err := s.store.OfficeHours(ctx, org)
	if err != nil {
		return RequestView{}, fmt.Errorf("load office hours: %w", err)
	}

	now := s.clock.Now()
	requestedAt := req.RequestedAt.UTC()
	if req.RequestedAt.IsZero() {
		requestedAt = now
	}
	if requestedAt.Before(now.Add(-s.maxPastSkew)) {
		return RequestView{}, invalid("requested_at", "is too far in the past")
	}
	if end := hours.ShiftEnd(hours.Today(requestedAt)); requestedAt.After(end) {
		return RequestView{}, invalid("requested_at", "is after office hours end")
	}

	pr := attendance.PunchRequest{
		ID:                   attendance.PunchRequestID(uuid.NewString()),
		OrgID:                org,
		Target:               req.Target,
		RequesterID:          req.RequesterID,
		RequestedAt:          requestedAt,
		RespondWithinMinutes: req.RespondWithinMinutes,
		State:                attendance.PunchRequestPending,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.store.SavePunchRequest(ctx, pr); err != nil {
		return RequestView{}, fmt.Errorf("save punch request: %w", err)
	}

	s.logger.Info("punch request created",
		zap.String("org_id", string(org)),
		zap.String("punch_request_id", string(pr.ID)),
		zap.Stringer("target", pr.Target),
		zap.Time("expires_at", pr.ExpiresAt()))
	return s.view(pr, now), nil
}

// PunchRequest loads one request of the organization.
func (s *Service) PunchRequest(ctx context.Context, org attendance.OrgID, id attendance.PunchRequestID) (RequestView, error) {
	pr, err := s.store.PunchRequest(ctx, id)
	if err != nil {
		return RequestView{}, err
	}
	if pr.OrgID != org {
		return RequestView{}, attendance.PunchRequestNotFound(id)
	}
	return s.view(pr, s.clock.Now()), nil
}

// CancelPunchRequest moves a PENDING request to CANCELLED.
func (s *Service) CancelPunchRequest(ctx context.Context, org attendance.OrgID, id attendance.PunchRequestID) (RequestView, error) {
	pr, err := s.store.PunchRequest(ctx, id)
	if err != nil {
		return RequestView{}, err
	}
	if pr.OrgID != org {
		return RequestView{}, attendance.PunchRequestNotFound(id)
	}

	now := s.clock.Now()
	if err := pr.Transition(attendance.PunchRequestCancelled, now); err != nil {
		return RequestView{}, err
	}
	if err := s.store.SavePunchRequest(ctx, pr); err != nil {
		return RequestView{}, fmt.Errorf("save punch request: %w", err)
	}

	s.logger.Info("punch request cancelled",
		zap.String("org_id", string(org)),
		zap.String("punch_request_id", string(pr.ID)))
	return s.view(pr, now), nil
}

// PendingPunchRequests lists the requests an account can still answer,
// soonest expiry first. Requests the account already answered are left out.
func (s *Service) PendingPunchRequests(ctx context.Context, org attendance.OrgID, account attendance.AccountID) ([]RequestView, error) {
	entities, err := attendance.ExpandMemberships(ctx, s.store, org, account)
	if err != nil {
		return nil, err
	}
	pending, err := s.store.PendingPunchRequests(ctx, org)
	if err != nil {
		return nil, fmt.Errorf("list pending punch requests: %w", err)
	}

	now := s.clock.Now()
	var out []RequestView
	for _, pr := range pending {
		if !pr.ActiveAt(now) || !pr.Targets(entities) {
			continue
		}
		answered, err := s.answered(ctx, pr, account)
		if err != nil {
			return nil, err
		}
		if answered {
			continue
		}
		out = append(out, s.view(pr, now))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out, nil
}

func (s *Service) answered(ctx context.Context, pr attendance.PunchRequest, account attendance.AccountID) (bool, error) {
	responses, err := s.store.EventsForPunchRequest(ctx, pr.OrgID, pr.ID)
	if err != nil {
		return false, fmt.Errorf("load punch request responses: %w", err)
	}
	for _, e := range responses {
		if e.AccountID == account && e.Success {
			return true, nil
		}
	}
	return false, nil
}

// HistoryEntry is a punch request in any state, with the queried accounts it
// targets and those of them who answered it.
type HistoryEntry struct {
	RequestView
	Targets  []attendance.AccountID
	Answered []attendance.AccountID
}

// PunchRequestHistory lists the requests raised on from..to (organization
// dates, both included) that target any of accounts, oldest first. A zero
// from means today. No accounts means no history.
func (s *Service) PunchRequestHistory(ctx context.Context, org attendance.OrgID, accounts []attendance.AccountID, from, to attendance.LocalDate) ([]HistoryEntry, error) {
	accounts = uniqueAccounts(accounts)
	if len(accounts) == 0 {
		return nil, nil
	}
	hours, err := s.store.OfficeHours(ctx, org)
	if err != nil {
		return nil, fmt.Errorf("load office hours: %w", err)
	}
	now := s.clock.Now()
	if from.IsZero() {
		from = hours.Today(now)
	}
	dates, err := reportDates(from, to)
	if err != nil {
		return nil, err
	}
	start, _ := dates[0].Bounds(hours.Zone())
	_, end := dates[len(dates)-1].Bounds(hours.Zone())

	entities := make(map[attendance.AccountID][]attendance.EntityRef, len(accounts))
	for _, account := range accounts {
		if entities[account], err = attendance.ExpandMemberships(ctx, s.store, org, account); err != nil {
			return nil, err
		}
	}

	requests, err := s.store.PunchRequestsInRange(ctx, org, start, end)
	if err != nil {
		return nil, fmt.Errorf("list punch requests: %w", err)
	}

	var out []HistoryEntry
	for _, pr := range requests {
		entry := HistoryEntry{RequestView: s.view(pr, now)}
		for _, account := range accounts {
			if pr.Targets(entities[account]) {
				entry.Targets = append(entry.Targets, account)
			}
		}
		if len(entry.Targets) == 0 {
			continue
		}
		responses, err := s.store.EventsForPunchRequest(ctx, org, pr.ID)
		if err != nil {
			return nil, fmt.Errorf("load punch request responses: %w", err)
		}
		for _, account := range entry.Targets {
			for _, e := range responses {
				if e.AccountID == account && e.Success {
					entry.Answered = append(entry.Answered, account)
					break
				}
			}
		}
		out = append(out, entry)
	}
	return out, nil
}
