/*
handlers_test.go - HTTP tests for the attendance API

Tests for:
- Punch admission over HTTP (created, replayed, rejected outcomes)
- Request validation and error mapping (400/404/409)
- Today summary, range report and effective fence
- Punch request lifecycle (create, pending, answer, cancel, history)
- Scheduler trigger and health
*/
package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/attendance-engine/api"
	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/attendance/store"
	"github.com/warp/attendance-engine/metrics"
	"github.com/warp/attendance-engine/punch"
	"github.com/warp/attendance-engine/scheduler"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const org attendance.OrgID = "org-1"

var office = attendance.Coordinate{Lat: -6.2, Lng: 106.816666}

func at(hour, minute int) time.Time {
	return time.Date(2025, time.October, 6, hour, minute, 0, 0, time.UTC)
}

type testServer struct {
	router http.Handler
	mem    *store.Memory
	clock  *attendance.ManualClock
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func newTestServer(t *testing.T, punchOpts punch.Options, withScheduler bool, checks map[string]api.Pinger) *testServer {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()
	clock := attendance.NewManualClock(at(9, 0))

	policy := attendance.DefaultPolicy(org)
	policy.Active = true
	require.NoError(t, mem.SavePolicy(ctx, policy))
	require.NoError(t, mem.SaveOfficeHours(ctx, org, attendance.DefaultOfficeHours()))
	require.NoError(t, mem.SaveFence(ctx, attendance.Fence{ID: "fence-hq", OrgID: org, Name: "Main office", Center: office, RadiusM: 150, Active: true}))
	require.NoError(t, mem.SaveAssignment(ctx, attendance.FenceAssignment{
		ID: "a-org", OrgID: org, FenceID: "fence-hq",
		Entity: attendance.EntityRef{Type: attendance.EntityOrg, ID: string(org)}, IsDefault: true,
	}))
	for _, acct := range []attendance.AccountID{"emp-1", "emp-2"} {
		require.NoError(t, mem.AddMember(ctx, org, acct))
	}

	m := metrics.New()
	locker := attendance.NewKeyedMutex()
	punchOpts.Clock = clock
	punchOpts.Locker = locker
	punchOpts.Metrics = m
	svc := punch.NewService(mem, punchOpts)

	opts := api.HandlerOptions{Checks: checks}
	if withScheduler {
		opts.Scheduler = scheduler.New(mem, scheduler.Options{Clock: clock, Locker: locker, Metrics: m})
	}
	h := api.NewHandler(svc, opts)
	return &testServer{
		router: api.NewRouter(h, api.RouterOptions{Metrics: m.Handler()}),
		mem:    mem,
		clock:  clock,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func punchBody(account, kind string) map[string]any {
	return map[string]any{
		"account_id": account,
		"kind":       kind,
		"latitude":   office.Lat,
		"longitude":  office.Lng,
		"accuracy_m": 10,
	}
}

const punchPath = "/api/orgs/org-1/attendance/punch"

// =============================================================================
// PUNCH
// =============================================================================

func TestPunch_CheckIn_Created(t *testing.T) {
	// GIVEN: An active org with an office fence
	// WHEN: emp-1 checks in at the office at 09:00
	// THEN: 201 with a PASS verdict and an in-progress day

	s := newTestServer(t, punch.Options{}, false, nil)

	rec := s.do(t, http.MethodPost, punchPath, punchBody("emp-1", "CHECK_IN"))

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	got := decodeBody[api.PunchResultDTO](t, rec)
	assert.True(t, got.Success)
	assert.Equal(t, "PASS", got.Verdict)
	assert.Equal(t, "fence-hq", got.FenceID)
	assert.True(t, got.UnderRange)
	assert.Equal(t, "INCOMPLETE", got.Day.Status)
	assert.NotEmpty(t, got.EventID)
}

func TestPunch_IdempotencyKeyReplays(t *testing.T) {
	s := newTestServer(t, punch.Options{}, false, nil)

	body := punchBody("emp-1", "CHECK_IN")
	body["idempotency_key"] = "device-42"

	first := s.do(t, http.MethodPost, punchPath, body)
	require.Equal(t, http.StatusCreated, first.Code)

	s.clock.Advance(time.Minute)
	second := s.do(t, http.MethodPost, punchPath, body)
	require.Equal(t, http.StatusOK, second.Code)

	a := decodeBody[api.PunchResultDTO](t, first)
	b := decodeBody[api.PunchResultDTO](t, second)
	assert.Equal(t, a.EventID, b.EventID)
	assert.True(t, b.Replayed)
	assert.Len(t, s.mem.AllEvents(org, "emp-1"), 1)
}

func TestPunch_RejectionIsARecordedOutcome(t *testing.T) {
	// GIVEN: emp-1 has not checked in
	// WHEN: emp-1 tries to check out
	// THEN: 201 with success=false and MISSING_CHECKIN, and the attempt is stored

	s := newTestServer(t, punch.Options{}, false, nil)

	rec := s.do(t, http.MethodPost, punchPath, punchBody("emp-1", "CHECK_OUT"))

	require.Equal(t, http.StatusCreated, rec.Code)
	got := decodeBody[api.PunchResultDTO](t, rec)
	assert.False(t, got.Success)
	assert.Equal(t, "FAIL", got.Verdict)
	assert.Equal(t, "MISSING_CHECKIN", got.FailReason)
	assert.Len(t, s.mem.AllEvents(org, "emp-1"), 1)
}

func TestPunch_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		opts     punch.Options
		path     string
		body     any
		wantCode int
		wantErr  string
	}{
		{
			name:     "missing account",
			path:     punchPath,
			body:     map[string]any{"kind": "CHECK_IN"},
			wantCode: http.StatusBadRequest,
			wantErr:  "invalid_request",
		},
		{
			name:     "latitude without longitude",
			path:     punchPath,
			body:     map[string]any{"account_id": "emp-1", "kind": "CHECK_IN", "latitude": 1.0},
			wantCode: http.StatusBadRequest,
			wantErr:  "invalid_request",
		},
		{
			name:     "latitude out of range",
			path:     punchPath,
			body:     map[string]any{"account_id": "emp-1", "kind": "CHECK_IN", "latitude": 91.0, "longitude": 0.0},
			wantCode: http.StatusBadRequest,
			wantErr:  "invalid_request",
		},
		{
			name:     "unknown kind",
			path:     punchPath,
			body:     punchBody("emp-1", "LUNCH"),
			wantCode: http.StatusBadRequest,
			wantErr:  "invalid_request",
		},
		{
			name:     "PUNCHED is not self-service",
			path:     punchPath,
			body:     punchBody("emp-1", "PUNCHED"),
			wantCode: http.StatusBadRequest,
			wantErr:  "invalid_request",
		},
		{
			name:     "unknown organization",
			path:     "/api/orgs/org-404/attendance/punch",
			body:     punchBody("emp-1", "CHECK_IN"),
			wantCode: http.StatusNotFound,
			wantErr:  "not_found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, tt.opts, false, nil)
			rec := s.do(t, http.MethodPost, tt.path, tt.body)

			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			got := decodeBody[api.ErrorResponse](t, rec)
			assert.Equal(t, tt.wantErr, got.Code)
		})
	}
}

func TestPunch_InactivePolicyConflicts(t *testing.T) {
	s := newTestServer(t, punch.Options{RequireActivePolicy: true}, false, nil)
	policy := attendance.DefaultPolicy(org) // inactive
	require.NoError(t, s.mem.SavePolicy(context.Background(), policy))

	rec := s.do(t, http.MethodPost, punchPath, punchBody("emp-1", "CHECK_IN"))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", decodeBody[api.ErrorResponse](t, rec).Code)
}

func TestPunch_MalformedJSON(t *testing.T) {
	s := newTestServer(t, punch.Options{}, false, nil)

	req := httptest.NewRequest(http.MethodPost, punchPath, bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// TODAY
// =============================================================================

func TestToday_AfterCheckInAndBreak(t *testing.T) {
	// GIVEN: emp-1 checked in at 09:00 and started a break at 12:00
	// WHEN: Reading today's summary at 12:30
	// THEN: ON_BREAK, 3.5 worked hours, 0.5 break hours, two timeline rows

	s := newTestServer(t, punch.Options{}, false, nil)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, punchPath, punchBody("emp-1", "CHECK_IN")).Code)
	s.clock.Set(at(12, 0))
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, punchPath, punchBody("emp-1", "BREAK_START")).Code)
	s.clock.Set(at(12, 30))

	rec := s.do(t, http.MethodGet, "/api/orgs/org-1/attendance/today?account_id=emp-1", nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decodeBody[api.TodaySummaryDTO](t, rec)
	assert.Equal(t, "ON_BREAK", got.Status)
	assert.Equal(t, "3.5", got.WorkedHours.String())
	assert.Equal(t, "0.5", got.BreakHours.String())
	assert.Equal(t, "2025-10-06", got.Date)
	assert.Len(t, got.Timeline, 2)
	require.Len(t, got.Breaks, 1)
	assert.Nil(t, got.Breaks[0].End)
}

func TestToday_BadQuery(t *testing.T) {
	s := newTestServer(t, punch.Options{}, false, nil)

	rec := s.do(t, http.MethodGet, "/api/orgs/org-1/attendance/today", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/orgs/org-1/attendance/today?account_id=emp-1&date=06-10-2025", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestToday_ExplicitDateWithoutEvents(t *testing.T) {
	s := newTestServer(t, punch.Options{}, false, nil)

	rec := s.do(t, http.MethodGet, "/api/orgs/org-1/attendance/today?account_id=emp-2&date=2025-10-03", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[api.TodaySummaryDTO](t, rec)
	assert.Equal(t, "2025-10-03", got.Date)
	assert.Equal(t, "NOT_STARTED", got.Status)
	assert.Equal(t, "ABSENT", got.Day.Status)
}

// =============================================================================
// RANGE REPORT / EFFECTIVE FENCE
// =============================================================================

func TestAttendanceRange_Roster(t *testing.T) {
	// GIVEN: emp-1 checked in at 09:00, emp-2 never did
	// WHEN: Reading Monday..Tuesday at 12:00 without naming accounts
	// THEN: Counts, rows, grid and drill-down cover the roster; Tuesday is
	//       an empty grid cell with no row

	s := newTestServer(t, punch.Options{}, false, nil)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, punchPath, punchBody("emp-1", "CHECK_IN")).Code)
	s.clock.Set(at(12, 0))

	rec := s.do(t, http.MethodGet, "/api/orgs/org-1/attendance/range?from=2025-10-06&to=2025-10-07", nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decodeBody[api.RangeReportDTO](t, rec)
	assert.Equal(t, "2025-10-06", got.From)
	assert.Equal(t, "2025-10-07", got.To)
	assert.Equal(t, 2, got.Overall.Employees)
	assert.Equal(t, 1, got.Overall.Present)
	assert.Equal(t, 1, got.Overall.Absent)
	require.Len(t, got.PerDate, 2)
	assert.Equal(t, "2025-10-06", got.PerDate[0].Date)

	require.Len(t, got.Rows, 2)
	assert.Equal(t, "emp-1", got.Rows[0].AccountID)
	assert.Equal(t, "PRESENT", got.Rows[0].Status)
	assert.NotNil(t, got.Rows[0].FirstIn)
	assert.Equal(t, "ABSENT", got.Rows[1].Status)

	require.Len(t, got.Grid, 2)
	assert.Equal(t, api.GridCellDTO{Status: "PRESENT"}, got.Grid[0].Cells["2025-10-06"])
	assert.Equal(t, api.GridCellDTO{}, got.Grid[0].Cells["2025-10-07"])

	drill := got.DrillDown["emp-1"]["2025-10-06"]
	assert.Equal(t, "CHECKED_IN", drill.Status)
	assert.Equal(t, "3", drill.WorkedHours.String())
}

func TestAttendanceRange_Accounts(t *testing.T) {
	s := newTestServer(t, punch.Options{}, false, nil)

	rec := s.do(t, http.MethodGet, "/api/orgs/org-1/attendance/range?from=2025-10-06&account_id=emp-2", nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decodeBody[api.RangeReportDTO](t, rec)
	require.Len(t, got.Grid, 1)
	assert.Equal(t, "emp-2", got.Grid[0].AccountID)
	assert.Equal(t, 1, got.Overall.Employees)
}

func TestAttendanceRange_BadQuery(t *testing.T) {
	s := newTestServer(t, punch.Options{}, false, nil)

	tests := []struct {
		name   string
		query  string
		status int
	}{
		{"missing from", "", http.StatusBadRequest},
		{"malformed from", "?from=06-10-2025", http.StatusBadRequest},
		{"reversed", "?from=2025-10-06&to=2025-10-05", http.StatusBadRequest},
		{"too long", "?from=2025-10-01&to=2025-11-30", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodGet, "/api/orgs/org-1/attendance/range"+tt.query, nil)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}

	rec := s.do(t, http.MethodGet, "/api/orgs/org-x/attendance/range?from=2025-10-06", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEffectiveFence(t *testing.T) {
	s := newTestServer(t, punch.Options{}, false, nil)

	rec := s.do(t, http.MethodGet, "/api/orgs/org-1/attendance/fence?account_id=emp-1", nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decodeBody[api.EffectiveFenceDTO](t, rec)
	assert.Equal(t, "emp-1", got.AccountID)
	require.NotNil(t, got.Fence)
	assert.Equal(t, "fence-hq", got.Fence.ID)
	assert.Equal(t, 150, got.Fence.RadiusM)
	require.NotNil(t, got.Assignment)
	assert.Equal(t, "a-org", got.Assignment.ID)
	assert.Equal(t, "ORG", got.Assignment.EntityType)
	assert.True(t, got.Assignment.IsDefault)

	rec = s.do(t, http.MethodGet, "/api/orgs/org-1/attendance/fence", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// PUNCH REQUESTS
// =============================================================================

func TestPunchRequests_Lifecycle(t *testing.T) {
	// GIVEN: emp-1 is checked in
	// WHEN: A supervisor requests a punch at 10:00 and emp-1 answers at 10:05
	// THEN: The request shows up as pending, the answer succeeds and the
	//       request becomes FULFILLED

	s := newTestServer(t, punch.Options{}, false, nil)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, punchPath, punchBody("emp-1", "CHECK_IN")).Code)
	s.clock.Set(at(10, 0))

	rec := s.do(t, http.MethodPost, "/api/orgs/org-1/punch-requests", map[string]any{
		"entity_type":            "USER",
		"entity_id":              "emp-1",
		"requester_id":           "sup-1",
		"respond_within_minutes": 30,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[api.PunchRequestDTO](t, rec)
	assert.Equal(t, "PENDING", created.State)
	assert.Equal(t, "USER", created.EntityType)
	assert.Equal(t, int64(1800), created.SecondsRemaining)

	rec = s.do(t, http.MethodGet, "/api/orgs/org-1/punch-requests/pending?account_id=emp-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pending := decodeBody[[]api.PunchRequestDTO](t, rec)
	require.Len(t, pending, 1)
	assert.Equal(t, created.ID, pending[0].ID)

	rec = s.do(t, http.MethodGet, "/api/orgs/org-1/punch-requests/pending?account_id=emp-2", nil)
	assert.Empty(t, decodeBody[[]api.PunchRequestDTO](t, rec))

	s.clock.Set(at(10, 5))
	rec = s.do(t, http.MethodPost, "/api/orgs/org-1/attendance/punched", map[string]any{
		"account_id":       "emp-1",
		"punch_request_id": created.ID,
		"latitude":         office.Lat,
		"longitude":        office.Lng,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	answer := decodeBody[api.PunchResultDTO](t, rec)
	assert.True(t, answer.Success)
	assert.Equal(t, "PUNCHED", answer.Kind)

	rec = s.do(t, http.MethodGet, "/api/orgs/org-1/punch-requests/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[api.PunchRequestDTO](t, rec)
	assert.Equal(t, "FULFILLED", got.State)
	assert.NotNil(t, got.ResolvedAt)
}

func TestPunchRequests_Cancel(t *testing.T) {
	s := newTestServer(t, punch.Options{}, false, nil)

	rec := s.do(t, http.MethodPost, "/api/orgs/org-1/punch-requests", map[string]any{
		"entity_type":            "ORG",
		"entity_id":              "org-1",
		"requester_id":           "sup-1",
		"respond_within_minutes": 15,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[api.PunchRequestDTO](t, rec)

	path := "/api/orgs/org-1/punch-requests/" + created.ID + "/cancel"
	rec = s.do(t, http.MethodPost, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "CANCELLED", decodeBody[api.PunchRequestDTO](t, rec).State)

	rec = s.do(t, http.MethodPost, path, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/orgs/org-2/punch-requests/"+created.ID+"/cancel", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPunchRequests_History(t *testing.T) {
	// GIVEN: An org-wide request raised at 10:00 and cancelled
	// WHEN: Listing today's history for emp-1
	// THEN: The cancelled request is listed with emp-1 as a target who never
	//       answered

	s := newTestServer(t, punch.Options{}, false, nil)
	s.clock.Set(at(10, 0))
	rec := s.do(t, http.MethodPost, "/api/orgs/org-1/punch-requests", map[string]any{
		"entity_type":            "ORG",
		"entity_id":              "org-1",
		"requester_id":           "sup-1",
		"respond_within_minutes": 15,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[api.PunchRequestDTO](t, rec)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/orgs/org-1/punch-requests/"+created.ID+"/cancel", nil).Code)

	rec = s.do(t, http.MethodGet, "/api/orgs/org-1/punch-requests/history?account_id=emp-1", nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	history := decodeBody[[]api.PunchRequestHistoryDTO](t, rec)
	require.Len(t, history, 1)
	assert.Equal(t, created.ID, history[0].ID)
	assert.Equal(t, "CANCELLED", history[0].State)
	assert.Equal(t, []string{"emp-1"}, history[0].Targets)
	assert.Empty(t, history[0].Answered)

	rec = s.do(t, http.MethodGet, "/api/orgs/org-1/punch-requests/history?account_id=emp-1&from=2025-10-05&to=2025-10-05", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[[]api.PunchRequestHistoryDTO](t, rec))

	rec = s.do(t, http.MethodGet, "/api/orgs/org-1/punch-requests/history", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPunchRequests_Invalid(t *testing.T) {
	s := newTestServer(t, punch.Options{}, false, nil)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"unknown entity type", map[string]any{"entity_type": "GUILD", "entity_id": "g-1", "requester_id": "sup-1", "respond_within_minutes": 10}},
		{"zero window", map[string]any{"entity_type": "USER", "entity_id": "emp-1", "requester_id": "sup-1", "respond_within_minutes": 0}},
		{"missing requester", map[string]any{"entity_type": "USER", "entity_id": "emp-1", "respond_within_minutes": 10}},
		{"foreign org target", map[string]any{"entity_type": "ORG", "entity_id": "org-2", "requester_id": "sup-1", "respond_within_minutes": 10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/orgs/org-1/punch-requests", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}

	rec := s.do(t, http.MethodGet, "/api/orgs/org-1/punch-requests/pr-missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// OPERATIONS
// =============================================================================

func TestRunScheduler(t *testing.T) {
	// GIVEN: emp-1 checked in and never checked out
	// WHEN: The scheduler is triggered at 18:00 (17:00 end + 60 min grace)
	// THEN: One day is auto-completed

	s := newTestServer(t, punch.Options{}, true, nil)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, punchPath, punchBody("emp-1", "CHECK_IN")).Code)
	s.clock.Set(at(18, 0))

	rec := s.do(t, http.MethodPost, "/api/scheduler/run", nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decodeBody[scheduler.Report](t, rec)
	assert.Equal(t, 1, report.Organizations)
	assert.Equal(t, 1, report.AutoCompleted)
	assert.Zero(t, report.Failures)
}

func TestCompleteDay_Manual(t *testing.T) {
	s := newTestServer(t, punch.Options{}, true, nil)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, punchPath, punchBody("emp-1", "CHECK_IN")).Code)
	s.clock.Set(at(20, 0))

	rec := s.do(t, http.MethodPost, "/api/orgs/org-1/attendance/complete?date=2025-10-06", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, float64(1), decodeBody[map[string]any](t, rec)["completed"])

	rec = s.do(t, http.MethodPost, "/api/orgs/org-1/attendance/complete", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunScheduler_Disabled(t *testing.T) {
	s := newTestServer(t, punch.Options{}, false, nil)

	rec := s.do(t, http.MethodPost, "/api/scheduler/run", nil)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealth(t *testing.T) {
	healthy := newTestServer(t, punch.Options{}, false, map[string]api.Pinger{
		"database": pingerFunc(func(context.Context) error { return nil }),
	})
	rec := healthy.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody[api.HealthDTO](t, rec).Checks["database"])

	degraded := newTestServer(t, punch.Options{}, false, map[string]api.Pinger{
		"redis": pingerFunc(func(context.Context) error { return errors.New("connection refused") }),
	})
	rec = degraded.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", decodeBody[api.HealthDTO](t, rec).Status)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, punch.Options{}, false, nil)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, punchPath, punchBody("emp-1", "CHECK_IN")).Code)

	rec := s.do(t, http.MethodGet, "/metrics", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "attendance_punches_total")
}
