package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func at(hour, min int) time.Time {
	return time.Date(2025, time.October, 6, hour, min, 0, 0, time.UTC)
}

var monday = attendance.NewLocalDate(2025, time.October, 6)

func event(id string, kind attendance.EventKind, ts time.Time) attendance.Event {
	return attendance.Event{
		ID:        attendance.EventID(id),
		OrgID:     "org-1",
		AccountID: "emp-1",
		Kind:      kind,
		Source:    attendance.SourceSelfService,
		Action:    attendance.ActionManual,
		At:        ts,
		Success:   true,
		Verdict:   attendance.VerdictPass,
		Flags:     attendance.Flags{},
		CreatedAt: ts,
	}
}

// =============================================================================
// EVENTS
// =============================================================================

func TestSQLite_AppendEvent_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	accuracy := 12.5
	e := event("ev-1", attendance.KindCheckIn, at(9, 0))
	e.Location = &attendance.Coordinate{Lat: -6.2, Lng: 106.8}
	e.AccuracyM = &accuracy
	e.FenceID = "fence-hq"
	e.UnderRange = true
	e.Verdict = attendance.VerdictWarn
	e.Flags.Set(attendance.FlagLateCheckIn)
	e.IdempotencyKey = "k-1"

	require.NoError(t, s.AppendEvent(ctx, e))

	events, err := s.EventsInRange(ctx, "org-1", "emp-1", at(0, 0), at(23, 59))
	require.NoError(t, err)
	require.Len(t, events, 1)

	got := events[0]
	assert.Equal(t, e.ID, got.ID)
	assert.True(t, e.At.Equal(got.At))
	require.NotNil(t, got.Location)
	assert.InDelta(t, -6.2, got.Location.Lat, 1e-9)
	require.NotNil(t, got.AccuracyM)
	assert.InDelta(t, 12.5, *got.AccuracyM, 1e-9)
	assert.Equal(t, attendance.FenceID("fence-hq"), got.FenceID)
	assert.True(t, got.UnderRange)
	assert.Equal(t, attendance.VerdictWarn, got.Verdict)
	assert.True(t, got.Flags.Has(attendance.FlagLateCheckIn))
	assert.Equal(t, "k-1", got.IdempotencyKey)
}

func TestSQLite_EventsInRange_HalfOpenAndOrdered(t *testing.T) {
	// GIVEN: Events inserted out of order, two sharing a timestamp
	// WHEN: Querying [09:00, 17:00)
	// THEN: Events come back chronologically, ties in insertion order,
	//       and the 17:00 event is excluded

	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.AppendEvent(ctx, event("ev-3", attendance.KindBreakStart, at(12, 0))))
	require.NoError(t, s.AppendEvent(ctx, event("ev-1", attendance.KindCheckIn, at(9, 0))))
	require.NoError(t, s.AppendEvent(ctx, event("ev-4", attendance.KindBreakEnd, at(12, 0))))
	require.NoError(t, s.AppendEvent(ctx, event("ev-5", attendance.KindCheckOut, at(17, 0))))

	events, err := s.EventsInRange(ctx, "org-1", "emp-1", at(9, 0), at(17, 0))
	require.NoError(t, err)

	var ids []attendance.EventID
	for _, e := range events {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []attendance.EventID{"ev-1", "ev-3", "ev-4"}, ids)
}

func TestSQLite_AppendEvent_DuplicateIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	first := event("ev-1", attendance.KindCheckIn, at(9, 0))
	first.IdempotencyKey = "k-1"
	require.NoError(t, s.AppendEvent(ctx, first))

	second := event("ev-2", attendance.KindCheckIn, at(9, 1))
	second.IdempotencyKey = "k-1"
	err := s.AppendEvent(ctx, second)
	assert.ErrorIs(t, err, attendance.ErrDuplicateIdempotencyKey)

	// Keys are scoped per account
	other := event("ev-3", attendance.KindCheckIn, at(9, 1))
	other.AccountID = "emp-2"
	other.IdempotencyKey = "k-1"
	assert.NoError(t, s.AppendEvent(ctx, other))

	// Events without a key never collide
	require.NoError(t, s.AppendEvent(ctx, event("ev-4", attendance.KindBreakStart, at(10, 0))))
	require.NoError(t, s.AppendEvent(ctx, event("ev-5", attendance.KindBreakEnd, at(10, 5))))

	got, found, err := s.EventByIdempotencyKey(ctx, "org-1", "emp-1", "k-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, attendance.EventID("ev-1"), got.ID)

	_, found, err = s.EventByIdempotencyKey(ctx, "org-1", "emp-1", "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSQLite_EventsForPunchRequest(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	response := event("ev-1", attendance.KindPunched, at(10, 5))
	response.PunchRequestID = "pr-1"
	response.RequesterID = "boss"
	require.NoError(t, s.AppendEvent(ctx, response))
	require.NoError(t, s.AppendEvent(ctx, event("ev-2", attendance.KindCheckIn, at(9, 0))))

	events, err := s.EventsForPunchRequest(ctx, "org-1", "pr-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, attendance.AccountID("boss"), events[0].RequesterID)
}

// =============================================================================
// DAYS
// =============================================================================

func TestSQLite_Days_UpsertReplaces(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	in := at(9, 0)
	day := attendance.Day{
		OrgID:         "org-1",
		AccountID:     "emp-1",
		Date:          monday,
		FirstIn:       &in,
		WorkedSeconds: 3600,
		Anomalies:     []string{attendance.AnomalyStillCheckedIn},
		Status:        attendance.DayIncomplete,
		EventCount:    1,
		ComputedAt:    at(10, 0),
	}
	require.NoError(t, s.UpsertDay(ctx, day))

	out := at(17, 0)
	day.LastOut = &out
	day.WorkedSeconds = 8 * 3600
	day.Anomalies = nil
	day.Status = attendance.DayPresent
	day.EventCount = 2
	require.NoError(t, s.UpsertDay(ctx, day))

	got, found, err := s.Day(ctx, "org-1", "emp-1", monday)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, attendance.DayPresent, got.Status)
	assert.Equal(t, int64(8*3600), got.WorkedSeconds)
	assert.Empty(t, got.Anomalies)
	require.NotNil(t, got.LastOut)
	assert.True(t, out.Equal(*got.LastOut))

	days, err := s.DaysOn(ctx, "org-1", monday)
	require.NoError(t, err)
	assert.Len(t, days, 1)

	_, found, err = s.Day(ctx, "org-1", "emp-1", monday.AddDays(1))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSQLite_Projector_RebuildsFromStoredEvents(t *testing.T) {
	// GIVEN: A ledger and projector backed by SQLite
	// WHEN: Recording a check-in and a check-out, then rebuilding
	// THEN: The stored day is PRESENT with 8 hours worked

	ctx := context.Background()
	s := newStore(t)
	clock := attendance.NewManualClock(at(18, 0))
	ledger := attendance.NewLedger(s, clock)
	projector := &attendance.Projector{Ledger: ledger, Days: s, Clock: clock}

	_, err := ledger.Append(ctx, event("", attendance.KindCheckIn, at(9, 0)))
	require.NoError(t, err)
	_, err = ledger.Append(ctx, event("", attendance.KindCheckOut, at(17, 0)))
	require.NoError(t, err)

	day, err := projector.Rebuild(ctx, "org-1", "emp-1", monday, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, attendance.DayPresent, day.Status)

	stored, found, err := s.Day(ctx, "org-1", "emp-1", monday)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(8*3600), stored.WorkedSeconds)
}

// =============================================================================
// POLICIES / CALENDAR / FENCES / DIRECTORY
// =============================================================================

func TestSQLite_Policies(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	_, err := s.Policy(ctx, "org-1")
	assert.True(t, attendance.IsNotFound(err))

	active := attendance.DefaultPolicy("org-1")
	active.Active = true
	active.FenceRadiusM = 200
	require.NoError(t, s.SavePolicy(ctx, active))
	require.NoError(t, s.SavePolicy(ctx, attendance.DefaultPolicy("org-2")))

	got, err := s.Policy(ctx, "org-1")
	require.NoError(t, err)
	assert.True(t, got.Active)
	assert.Equal(t, 200, got.FenceRadiusM)
	assert.Equal(t, attendance.OutsideFenceWarn, got.OutsideFence)

	policies, err := s.ActivePolicies(ctx)
	require.NoError(t, err)
	require.Len(t, policies, 1)
	assert.Equal(t, attendance.OrgID("org-1"), policies[0].OrgID)
}

func TestSQLite_OfficeHours(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	hours, err := s.OfficeHours(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, attendance.DefaultOfficeHours().Start, hours.Start)

	jakarta, err := time.LoadLocation("Asia/Jakarta")
	require.NoError(t, err)
	require.NoError(t, s.SaveOfficeHours(ctx, "org-1", attendance.OfficeHours{
		Start:    attendance.ClockTime{Hour: 8, Minute: 30},
		End:      attendance.ClockTime{Hour: 17, Minute: 30},
		Location: jakarta,
	}))

	hours, err = s.OfficeHours(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, "08:30", hours.Start.String())
	assert.Equal(t, "17:30", hours.End.String())
	assert.Equal(t, "Asia/Jakarta", hours.Zone().String())
}

func TestSQLite_IsHoliday(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.SaveHoliday(ctx, attendance.Holiday{
		ID: "h-1", OrgID: "org-1", Date: monday, Name: "Company day",
	}))
	require.NoError(t, s.SaveHoliday(ctx, attendance.Holiday{
		ID: "h-2", Date: attendance.NewLocalDate(2020, time.August, 17), Name: "Independence Day", Recurring: true,
	}))

	tests := []struct {
		name string
		org  attendance.OrgID
		date attendance.LocalDate
		want bool
	}{
		{"org holiday", "org-1", monday, true},
		{"other org", "org-2", monday, false},
		{"recurring global", "org-2", attendance.NewLocalDate(2025, time.August, 17), true},
		{"ordinary day", "org-1", monday.AddDays(1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.IsHoliday(ctx, tt.org, tt.date)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSQLite_FenceResolution(t *testing.T) {
	// GIVEN: An ORG fence and a TEAM fence, the employee in the team
	// WHEN: Resolving the employee's fence through the SQLite store
	// THEN: The team fence wins

	ctx := context.Background()
	s := newStore(t)

	hq := attendance.Fence{ID: "fence-hq", OrgID: "org-1", Name: "HQ", Kind: attendance.LocationOffice,
		Center: attendance.Coordinate{Lat: -6.2, Lng: 106.8}, RadiusM: 150, Active: true}
	site := attendance.Fence{ID: "fence-site", OrgID: "org-1", Name: "Site", Kind: attendance.LocationRemote,
		SiteCode: "S-01", Center: attendance.Coordinate{Lat: -6.3, Lng: 106.9}, RadiusM: 100, Active: true}
	require.NoError(t, s.SaveFence(ctx, hq))
	require.NoError(t, s.SaveFence(ctx, site))
	require.NoError(t, s.SaveAssignment(ctx, attendance.FenceAssignment{
		ID: "a-1", OrgID: "org-1", FenceID: "fence-hq",
		Entity: attendance.EntityRef{Type: attendance.EntityOrg, ID: "org-1"}, CreatedAt: at(8, 0),
	}))
	require.NoError(t, s.SaveAssignment(ctx, attendance.FenceAssignment{
		ID: "a-2", OrgID: "org-1", FenceID: "fence-site",
		Entity: attendance.EntityRef{Type: attendance.EntityTeam, ID: "team-a"}, CreatedAt: at(8, 0),
	}))
	require.NoError(t, s.AddMember(ctx, "org-1", "emp-1"))
	require.NoError(t, s.AddMembership(ctx, "org-1", "emp-1", attendance.EntityRef{Type: attendance.EntityTeam, ID: "team-a"}))

	resolver := &attendance.FenceResolver{Fences: s, Memberships: s}
	fence, err := resolver.Resolve(ctx, "org-1", "emp-1")
	require.NoError(t, err)
	require.NotNil(t, fence)
	assert.Equal(t, attendance.FenceID("fence-site"), fence.ID)
	assert.Equal(t, "S-01", fence.SiteCode)

	_, err = s.Fence(ctx, "org-2", "fence-hq")
	assert.True(t, attendance.IsNotFound(err))
}

func TestSQLite_Directory(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	team := attendance.EntityRef{Type: attendance.EntityTeam, ID: "team-a"}
	for _, acct := range []attendance.AccountID{"emp-2", "emp-1", "emp-3"} {
		require.NoError(t, s.AddMember(ctx, "org-1", acct))
	}
	require.NoError(t, s.AddMember(ctx, "org-1", "emp-1")) // idempotent
	require.NoError(t, s.AddMembership(ctx, "org-1", "emp-1", team))
	require.NoError(t, s.AddMembership(ctx, "org-1", "emp-2", team))
	require.NoError(t, s.AddMembership(ctx, "org-1", "emp-1", attendance.EntityRef{Type: attendance.EntityProject, ID: "p-9"}))

	members, err := s.Members(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, []attendance.AccountID{"emp-1", "emp-2", "emp-3"}, members)

	inTeam, err := s.MembersOf(ctx, "org-1", team)
	require.NoError(t, err)
	assert.Equal(t, []attendance.AccountID{"emp-1", "emp-2"}, inTeam)

	single, err := s.MembersOf(ctx, "org-1", attendance.EntityRef{Type: attendance.EntityUser, ID: "emp-3"})
	require.NoError(t, err)
	assert.Equal(t, []attendance.AccountID{"emp-3"}, single)

	teams, err := s.TeamsForUser(ctx, "org-1", "emp-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"team-a"}, teams)

	projects, err := s.ProjectsForUser(ctx, "org-1", "emp-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"p-9"}, projects)
}

// =============================================================================
// PUNCH REQUESTS / SCHEDULER RUNS
// =============================================================================

func TestSQLite_PunchRequests(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	req := attendance.PunchRequest{
		ID:                   "pr-1",
		OrgID:                "org-1",
		Target:               attendance.EntityRef{Type: attendance.EntityUser, ID: "emp-1"},
		RequesterID:          "boss",
		RequestedAt:          at(10, 0),
		RespondWithinMinutes: 30,
		State:                attendance.PunchRequestPending,
		CreatedAt:            at(10, 0),
		UpdatedAt:            at(10, 0),
	}
	require.NoError(t, s.SavePunchRequest(ctx, req))

	pending, err := s.PendingPunchRequests(ctx, "org-1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.True(t, at(10, 30).Equal(pending[0].ExpiresAt()))

	require.NoError(t, req.Transition(attendance.PunchRequestFulfilled, at(10, 5)))
	require.NoError(t, s.SavePunchRequest(ctx, req))

	got, err := s.PunchRequest(ctx, "pr-1")
	require.NoError(t, err)
	assert.Equal(t, attendance.PunchRequestFulfilled, got.State)
	require.NotNil(t, got.ResolvedAt)
	assert.True(t, at(10, 5).Equal(*got.ResolvedAt))

	pending, err = s.PendingPunchRequests(ctx, "org-1")
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = s.PunchRequest(ctx, "pr-missing")
	assert.True(t, attendance.IsNotFound(err))
}

func TestSQLite_PunchRequestsInRange(t *testing.T) {
	// GIVEN: Requests at 08:00, 10:00 (expired) and 12:00, plus one in another org
	// WHEN: Listing [10:00, 12:00)
	// THEN: Only the 10:00 request comes back, whatever its state

	ctx := context.Background()
	s := newStore(t)

	save := func(id string, org attendance.OrgID, requested time.Time, state attendance.PunchRequestState) {
		require.NoError(t, s.SavePunchRequest(ctx, attendance.PunchRequest{
			ID:                   attendance.PunchRequestID(id),
			OrgID:                org,
			Target:               attendance.EntityRef{Type: attendance.EntityOrg, ID: string(org)},
			RequesterID:          "boss",
			RequestedAt:          requested,
			RespondWithinMinutes: 15,
			State:                state,
			CreatedAt:            requested,
			UpdatedAt:            requested,
		}))
	}
	save("pr-early", "org-1", at(8, 0), attendance.PunchRequestPending)
	save("pr-in", "org-1", at(10, 0), attendance.PunchRequestExpired)
	save("pr-end", "org-1", at(12, 0), attendance.PunchRequestPending)
	save("pr-other", "org-2", at(10, 30), attendance.PunchRequestPending)

	got, err := s.PunchRequestsInRange(ctx, "org-1", at(10, 0), at(12, 0))

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, attendance.PunchRequestID("pr-in"), got[0].ID)
	assert.Equal(t, attendance.PunchRequestExpired, got[0].State)
}

func TestSQLite_ClaimRun_ExactlyOnce(t *testing.T) {
	// GIVEN: A claimed autocomplete run for 2025-10-06
	// WHEN: Claiming the same (org, pass, key) again
	// THEN: ErrRunAlreadyClaimed; a different key claims fine

	ctx := context.Background()
	s := newStore(t)

	run := attendance.SchedulerRun{
		ID: "run-1", OrgID: "org-1", Pass: "autocomplete", Key: "2025-10-06",
		Status: attendance.RunRunning, StartedAt: at(18, 0),
	}
	require.NoError(t, s.ClaimRun(ctx, run))

	again := run
	again.ID = "run-2"
	assert.ErrorIs(t, s.ClaimRun(ctx, again), attendance.ErrRunAlreadyClaimed)

	next := run
	next.ID = "run-3"
	next.Key = "2025-10-07"
	next.StartedAt = at(19, 0)
	require.NoError(t, s.ClaimRun(ctx, next))

	done := at(18, 1)
	run.Status = attendance.RunCompleted
	run.Processed = 3
	run.CompletedAt = &done
	require.NoError(t, s.FinishRun(ctx, run))

	runs, err := s.Runs(ctx, "org-1", 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-3", runs[0].ID)
	assert.Equal(t, attendance.RunCompleted, runs[1].Status)
	assert.Equal(t, 3, runs[1].Processed)

	runs, err = s.Runs(ctx, "org-1", 1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

// =============================================================================
// INFRASTRUCTURE FAULTS
// =============================================================================

func TestSQLite_QueryFailuresPropagate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := sqlite.NewWithDB(db)
	ctx := context.Background()
	boom := errors.New("disk I/O error")

	mock.ExpectQuery("SELECT .* FROM policies WHERE org_id = ?").
		WithArgs("org-1").
		WillReturnError(boom)
	_, err = s.Policy(ctx, "org-1")
	assert.ErrorIs(t, err, boom)
	assert.False(t, attendance.IsNotFound(err))

	mock.ExpectExec("INSERT INTO events").WillReturnError(boom)
	err = s.AppendEvent(ctx, event("ev-1", attendance.KindCheckIn, at(9, 0)))
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, attendance.ErrDuplicateIdempotencyKey)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLite_ClaimRun_MapsUniqueViolation(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := sqlite.NewWithDB(db)
	mock.ExpectExec("INSERT INTO scheduler_runs").
		WillReturnError(errors.New("UNIQUE constraint failed: scheduler_runs.org_id, scheduler_runs.pass, scheduler_runs.run_key"))

	err = s.ClaimRun(context.Background(), attendance.SchedulerRun{
		ID: "run-1", OrgID: "org-1", Pass: "reminder", Key: "2025-10-06", Status: attendance.RunRunning,
	})
	assert.ErrorIs(t, err, attendance.ErrRunAlreadyClaimed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLite_OfficeHours_BadTimezone(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := sqlite.NewWithDB(db)
	mock.ExpectQuery("SELECT start_time, end_time, timezone FROM office_hours").
		WithArgs("org-1").
		WillReturnRows(sqlmock.NewRows([]string{"start_time", "end_time", "timezone"}).
			AddRow("09:00", "17:00", "Mars/Olympus_Mons"))

	_, err = s.OfficeHours(context.Background(), "org-1")
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
