// Package store provides in-memory implementations of the attendance stores.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/attendance-engine/attendance"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex

	policies    map[attendance.OrgID]attendance.Policy
	hours       map[attendance.OrgID]attendance.OfficeHours
	fences      map[attendance.FenceID]attendance.Fence
	assignments []attendance.FenceAssignment
	holidays    []attendance.Holiday

	events      map[owner][]attendance.Event
	idempotency map[idemKey]attendance.Event
	days        map[dayKey]attendance.Day
	requests    map[attendance.PunchRequestID]attendance.PunchRequest
	runs        map[runKey]attendance.SchedulerRun

	members     map[attendance.OrgID][]attendance.AccountID
	memberships map[owner][]attendance.EntityRef
}

type owner struct {
	OrgID     attendance.OrgID
	AccountID attendance.AccountID
}

type idemKey struct {
	owner
	Key string
}

type dayKey struct {
	owner
	Date attendance.LocalDate
}

type runKey struct {
	OrgID attendance.OrgID
	Pass  string
	Key   string
}

var _ attendance.Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		policies:    make(map[attendance.OrgID]attendance.Policy),
		hours:       make(map[attendance.OrgID]attendance.OfficeHours),
		fences:      make(map[attendance.FenceID]attendance.Fence),
		events:      make(map[owner][]attendance.Event),
		idempotency: make(map[idemKey]attendance.Event),
		days:        make(map[dayKey]attendance.Day),
		requests:    make(map[attendance.PunchRequestID]attendance.PunchRequest),
		runs:        make(map[runKey]attendance.SchedulerRun),
		members:     make(map[attendance.OrgID][]attendance.AccountID),
		memberships: make(map[owner][]attendance.EntityRef),
	}
}

// =============================================================================
// POLICIES / OFFICE HOURS / HOLIDAYS
// =============================================================================

func (m *Memory) SavePolicy(_ context.Context, p attendance.Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies[p.OrgID] = p
	return nil
}

func (m *Memory) Policy(_ context.Context, org attendance.OrgID) (attendance.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.policies[org]
	if !ok {
		return attendance.Policy{}, attendance.PolicyNotFound(org)
	}
	return p, nil
}

func (m *Memory) ActivePolicies(_ context.Context) ([]attendance.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []attendance.Policy
	for _, p := range m.policies {
		if p.Active {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrgID < out[j].OrgID })
	return out, nil
}

func (m *Memory) SaveOfficeHours(_ context.Context, org attendance.OrgID, h attendance.OfficeHours) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hours[org] = h
	return nil
}

// OfficeHours falls back to DefaultOfficeHours when none are configured.
func (m *Memory) OfficeHours(_ context.Context, org attendance.OrgID) (attendance.OfficeHours, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if h, ok := m.hours[org]; ok {
		return h, nil
	}
	return attendance.DefaultOfficeHours(), nil
}

func (m *Memory) SaveHoliday(_ context.Context, h attendance.Holiday) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.holidays = append(m.holidays, h)
	return nil
}

// IsHoliday checks organization holidays and global ones (empty OrgID).
func (m *Memory) IsHoliday(_ context.Context, org attendance.OrgID, date attendance.LocalDate) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, h := range m.holidays {
		if (h.OrgID == org || h.OrgID == "") && h.Matches(date) {
			return true, nil
		}
	}
	return false, nil
}

// =============================================================================
// FENCES
// =============================================================================

func (m *Memory) SaveFence(_ context.Context, f attendance.Fence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fences[f.ID] = f
	return nil
}

func (m *Memory) SaveAssignment(_ context.Context, a attendance.FenceAssignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assignments = append(m.assignments, a)
	return nil
}

func (m *Memory) Fence(_ context.Context, org attendance.OrgID, id attendance.FenceID) (attendance.Fence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.fences[id]
	if !ok || f.OrgID != org {
		return attendance.Fence{}, attendance.FenceNotFound(id)
	}
	return f, nil
}

func (m *Memory) AssignmentsFor(_ context.Context, org attendance.OrgID, entity attendance.EntityRef) ([]attendance.FenceAssignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []attendance.FenceAssignment
	for _, a := range m.assignments {
		if a.OrgID == org && a.Entity == entity {
			out = append(out, a)
		}
	}
	return out, nil
}

// =============================================================================
// EVENTS - Append-only
// =============================================================================

func (m *Memory) AppendEvent(_ context.Context, e attendance.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o := owner{OrgID: e.OrgID, AccountID: e.AccountID}
	if e.IdempotencyKey != "" {
		k := idemKey{owner: o, Key: e.IdempotencyKey}
		if _, exists := m.idempotency[k]; exists {
			return attendance.ErrDuplicateIdempotencyKey
		}
		m.idempotency[k] = e
	}

	events := m.events[o]
	// Insert after any event with the same timestamp
	i := sort.Search(len(events), func(i int) bool {
		return events[i].At.After(e.At)
	})
	events = append(events, attendance.Event{})
	copy(events[i+1:], events[i:])
	events[i] = e
	m.events[o] = events
	return nil
}

func (m *Memory) EventsInRange(_ context.Context, org attendance.OrgID, account attendance.AccountID, from, to time.Time) ([]attendance.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []attendance.Event
	for _, e := range m.events[owner{OrgID: org, AccountID: account}] {
		if !e.At.Before(from) && e.At.Before(to) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) EventByIdempotencyKey(_ context.Context, org attendance.OrgID, account attendance.AccountID, key string) (attendance.Event, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.idempotency[idemKey{owner: owner{OrgID: org, AccountID: account}, Key: key}]
	return e, ok, nil
}

func (m *Memory) EventsForPunchRequest(_ context.Context, org attendance.OrgID, id attendance.PunchRequestID) ([]attendance.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []attendance.Event
	for o, events := range m.events {
		if o.OrgID != org {
			continue
		}
		for _, e := range events {
			if e.PunchRequestID == id {
				out = append(out, e)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out, nil
}

// AllEvents returns every event of an account, for tests and debugging.
func (m *Memory) AllEvents(org attendance.OrgID, account attendance.AccountID) []attendance.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	events := m.events[owner{OrgID: org, AccountID: account}]
	out := make([]attendance.Event, len(events))
	copy(out, events)
	return out
}

// =============================================================================
// DAYS
// =============================================================================

func (m *Memory) UpsertDay(_ context.Context, d attendance.Day) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.days[dayKey{owner: owner{OrgID: d.OrgID, AccountID: d.AccountID}, Date: d.Date}] = d
	return nil
}

func (m *Memory) Day(_ context.Context, org attendance.OrgID, account attendance.AccountID, date attendance.LocalDate) (attendance.Day, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.days[dayKey{owner: owner{OrgID: org, AccountID: account}, Date: date}]
	return d, ok, nil
}

func (m *Memory) DaysOn(_ context.Context, org attendance.OrgID, date attendance.LocalDate) ([]attendance.Day, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []attendance.Day
	for k, d := range m.days {
		if k.OrgID == org && k.Date == date {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out, nil
}

// =============================================================================
// PUNCH REQUESTS
// =============================================================================

func (m *Memory) SavePunchRequest(_ context.Context, r attendance.PunchRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[r.ID] = r
	return nil
}

func (m *Memory) PunchRequest(_ context.Context, id attendance.PunchRequestID) (attendance.PunchRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	if !ok {
		return attendance.PunchRequest{}, attendance.PunchRequestNotFound(id)
	}
	return r, nil
}

func (m *Memory) PendingPunchRequests(_ context.Context, org attendance.OrgID) ([]attendance.PunchRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []attendance.PunchRequest
	for _, r := range m.requests {
		if r.OrgID == org && r.State == attendance.PunchRequestPending {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out, nil
}

func (m *Memory) PunchRequestsInRange(_ context.Context, org attendance.OrgID, from, to time.Time) ([]attendance.PunchRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []attendance.PunchRequest
	for _, r := range m.requests {
		if r.OrgID == org && !r.RequestedAt.Before(from) && r.RequestedAt.Before(to) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].RequestedAt.Before(out[j].RequestedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// =============================================================================
// DIRECTORY / MEMBERSHIPS
// =============================================================================

func (m *Memory) AddMember(_ context.Context, org attendance.OrgID, account attendance.AccountID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.members[org] {
		if a == account {
			return nil
		}
	}
	m.members[org] = append(m.members[org], account)
	return nil
}

// AddMembership records that account belongs to a team or project.
func (m *Memory) AddMembership(_ context.Context, org attendance.OrgID, account attendance.AccountID, entity attendance.EntityRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := owner{OrgID: org, AccountID: account}
	m.memberships[o] = append(m.memberships[o], entity)
	return nil
}

func (m *Memory) Members(_ context.Context, org attendance.OrgID) ([]attendance.AccountID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]attendance.AccountID(nil), m.members[org]...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (m *Memory) MembersOf(ctx context.Context, org attendance.OrgID, entity attendance.EntityRef) ([]attendance.AccountID, error) {
	switch entity.Type {
	case attendance.EntityOrg:
		return m.Members(ctx, org)
	case attendance.EntityUser:
		return []attendance.AccountID{attendance.AccountID(entity.ID)}, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []attendance.AccountID
	for o, refs := range m.memberships {
		if o.OrgID != org {
			continue
		}
		for _, r := range refs {
			if r == entity {
				out = append(out, o.AccountID)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (m *Memory) TeamsForUser(_ context.Context, org attendance.OrgID, account attendance.AccountID) ([]string, error) {
	return m.membershipIDs(org, account, attendance.EntityTeam), nil
}

func (m *Memory) ProjectsForUser(_ context.Context, org attendance.OrgID, account attendance.AccountID) ([]string, error) {
	return m.membershipIDs(org, account, attendance.EntityProject), nil
}

func (m *Memory) membershipIDs(org attendance.OrgID, account attendance.AccountID, t attendance.EntityType) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for _, r := range m.memberships[owner{OrgID: org, AccountID: account}] {
		if r.Type == t {
			ids = append(ids, r.ID)
		}
	}
	return ids
}

// =============================================================================
// SCHEDULER RUNS
// =============================================================================

func (m *Memory) ClaimRun(_ context.Context, run attendance.SchedulerRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := runKey{OrgID: run.OrgID, Pass: run.Pass, Key: run.Key}
	if _, exists := m.runs[k]; exists {
		return attendance.ErrRunAlreadyClaimed
	}
	m.runs[k] = run
	return nil
}

func (m *Memory) FinishRun(_ context.Context, run attendance.SchedulerRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[runKey{OrgID: run.OrgID, Pass: run.Pass, Key: run.Key}] = run
	return nil
}

func (m *Memory) Runs(_ context.Context, org attendance.OrgID, limit int) ([]attendance.SchedulerRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []attendance.SchedulerRun
	for k, r := range m.runs {
		if k.OrgID == org {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
