/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the attendance domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Punches:
    PunchRequest, SupervisedPunchRequest, PunchResultDTO

  Today:
    TodaySummaryDTO, DayDTO, BreakDTO, TimelineEntryDTO

  Range report:
    RangeReportDTO, ReportCountsDTO, ReportRowDTO, GridRowDTO, GridCellDTO

  Fences:
    EffectiveFenceDTO

  Punch requests:
    CreatePunchRequestRequest, PunchRequestDTO, PunchRequestHistoryDTO

VALIDATION:
  Shape validation uses validator/v10 struct tags (Handler.decode). Domain
  rules (kind names, entity types, windows) are checked by the punch service.

SEE ALSO:
  - handlers.go: Uses these types
  - punch/service.go: Result and request views
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/punch"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// PunchRequest is a self-service punch.
type PunchRequest struct {
	AccountID      string   `json:"account_id" validate:"required"`
	Kind           string   `json:"kind" validate:"required"`
	Latitude       *float64 `json:"latitude" validate:"required_with=Longitude,omitempty,latitude"`
	Longitude      *float64 `json:"longitude" validate:"required_with=Latitude,omitempty,longitude"`
	AccuracyM      *float64 `json:"accuracy_m" validate:"omitempty,gte=0"`
	IdempotencyKey string   `json:"idempotency_key" validate:"omitempty,max=128"`
}

// SupervisedPunchRequest answers a punch request.
type SupervisedPunchRequest struct {
	AccountID      string   `json:"account_id" validate:"required"`
	PunchRequestID string   `json:"punch_request_id" validate:"required"`
	Latitude       *float64 `json:"latitude" validate:"required_with=Longitude,omitempty,latitude"`
	Longitude      *float64 `json:"longitude" validate:"required_with=Latitude,omitempty,longitude"`
	AccuracyM      *float64 `json:"accuracy_m" validate:"omitempty,gte=0"`
	IdempotencyKey string   `json:"idempotency_key" validate:"omitempty,max=128"`
}

// CreatePunchRequestRequest is a supervisor's request for a punch.
type CreatePunchRequestRequest struct {
	EntityType           string     `json:"entity_type" validate:"required"`
	EntityID             string     `json:"entity_id" validate:"required"`
	RequesterID          string     `json:"requester_id" validate:"required"`
	RequestedAt          *time.Time `json:"requested_at"`
	RespondWithinMinutes int        `json:"respond_within_minutes" validate:"required,gt=0"`
}

func location(lat, lng *float64) *attendance.Coordinate {
	if lat == nil || lng == nil {
		return nil
	}
	return &attendance.Coordinate{Lat: *lat, Lng: *lng}
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// PunchResultDTO is the outcome of one punch attempt. Rejections carry
// success=false and a fail_reason.
type PunchResultDTO struct {
	EventID    string         `json:"event_id"`
	AccountID  string         `json:"account_id"`
	Kind       string         `json:"kind"`
	At         string         `json:"at"`
	FenceID    string         `json:"fence_id,omitempty"`
	UnderRange bool           `json:"under_range"`
	Success    bool           `json:"success"`
	Verdict    string         `json:"verdict"`
	FailReason string         `json:"fail_reason,omitempty"`
	Flags      map[string]any `json:"flags"`
	Replayed   bool           `json:"replayed,omitempty"`
	Day        DayDTO         `json:"day"`
}

func toPunchResultDTO(r punch.Result) PunchResultDTO {
	flags := map[string]any(r.Flags)
	if flags == nil {
		flags = map[string]any{}
	}
	return PunchResultDTO{
		EventID:    string(r.EventID),
		AccountID:  string(r.AccountID),
		Kind:       string(r.Kind),
		At:         r.At.UTC().Format(time.RFC3339),
		FenceID:    string(r.FenceID),
		UnderRange: r.UnderRange,
		Success:    r.Success,
		Verdict:    string(r.Verdict),
		FailReason: string(r.FailReason),
		Flags:      flags,
		Replayed:   r.Replayed,
		Day:        toDayDTO(r.Day),
	}
}

// DayDTO is the daily rollup.
type DayDTO struct {
	Date          string          `json:"date"`
	Status        string          `json:"status"`
	FirstIn       *string         `json:"first_in,omitempty"`
	LastOut       *string         `json:"last_out,omitempty"`
	WorkedSeconds int64           `json:"worked_seconds"`
	BreakSeconds  int64           `json:"break_seconds"`
	WorkedHours   decimal.Decimal `json:"worked_hours"`
	BreakHours    decimal.Decimal `json:"break_hours"`
	Anomalies     []string        `json:"anomalies"`
	EventCount    int             `json:"event_count"`
}

func toDayDTO(d attendance.Day) DayDTO {
	anomalies := d.Anomalies
	if anomalies == nil {
		anomalies = []string{}
	}
	return DayDTO{
		Date:          d.Date.String(),
		Status:        string(d.Status),
		FirstIn:       timePtr(d.FirstIn),
		LastOut:       timePtr(d.LastOut),
		WorkedSeconds: d.WorkedSeconds,
		BreakSeconds:  d.BreakSeconds,
		WorkedHours:   d.WorkedHours(),
		BreakHours:    d.BreakHours(),
		Anomalies:     anomalies,
		EventCount:    d.EventCount,
	}
}

// TodaySummaryDTO is the day aggregate plus the event timeline.
type TodaySummaryDTO struct {
	OrgID          string             `json:"org_id"`
	AccountID      string             `json:"account_id"`
	Date           string             `json:"date"`
	Status         string             `json:"status"`
	Classification string             `json:"classification"`
	WorkedHours    decimal.Decimal    `json:"worked_hours"`
	BreakHours     decimal.Decimal    `json:"break_hours"`
	EffortHours    decimal.Decimal    `json:"effort_hours"`
	Day            DayDTO             `json:"day"`
	Breaks         []BreakDTO         `json:"breaks"`
	Timeline       []TimelineEntryDTO `json:"timeline"`
}

type BreakDTO struct {
	Start   string  `json:"start"`
	End     *string `json:"end,omitempty"`
	Seconds int64   `json:"seconds"`
}

type TimelineEntryDTO struct {
	EventID    string   `json:"event_id,omitempty"`
	Kind       string   `json:"kind"`
	At         *string  `json:"at,omitempty"`
	Source     string   `json:"source,omitempty"`
	Action     string   `json:"action,omitempty"`
	Success    bool     `json:"success"`
	Verdict    string   `json:"verdict,omitempty"`
	FailReason string   `json:"fail_reason,omitempty"`
	FenceID    string   `json:"fence_id,omitempty"`
	UnderRange bool     `json:"under_range"`
	Location   string   `json:"location,omitempty"`
	Flags      []string `json:"flags"`
	Synthetic  bool     `json:"synthetic,omitempty"`
}

func toTodaySummaryDTO(s attendance.TodaySummary) TodaySummaryDTO {
	dto := TodaySummaryDTO{
		OrgID:          string(s.OrgID),
		AccountID:      string(s.AccountID),
		Date:           s.Date.String(),
		Status:         string(s.Status),
		Classification: string(s.Classification),
		WorkedHours:    s.WorkedHours,
		BreakHours:     s.BreakHours,
		EffortHours:    s.EffortHours,
		Day:            toDayDTO(s.Day),
		Breaks:         toBreakDTOs(s.Breaks),
		Timeline:       make([]TimelineEntryDTO, 0, len(s.Timeline)),
	}
	for _, e := range s.Timeline {
		entry := TimelineEntryDTO{
			EventID:    string(e.EventID),
			Kind:       e.Kind,
			Source:     string(e.Source),
			Action:     string(e.Action),
			Success:    e.Success,
			Verdict:    string(e.Verdict),
			FailReason: string(e.FailReason),
			FenceID:    string(e.FenceID),
			UnderRange: e.UnderRange,
			Location:   e.Location,
			Flags:      e.Flags,
			Synthetic:  e.Synthetic,
		}
		if !e.At.IsZero() {
			entry.At = timePtr(&e.At)
		}
		if entry.Flags == nil {
			entry.Flags = []string{}
		}
		dto.Timeline = append(dto.Timeline, entry)
	}
	return dto
}

// PunchRequestDTO is a punch request with its live window.
type PunchRequestDTO struct {
	ID                   string  `json:"id"`
	OrgID                string  `json:"org_id"`
	EntityType           string  `json:"entity_type"`
	EntityID             string  `json:"entity_id"`
	RequesterID          string  `json:"requester_id"`
	RequestedAt          string  `json:"requested_at"`
	RespondWithinMinutes int     `json:"respond_within_minutes"`
	ExpiresAt            string  `json:"expires_at"`
	State                string  `json:"state"`
	Active               bool    `json:"active"`
	SecondsRemaining     int64   `json:"seconds_remaining"`
	ResolvedAt           *string `json:"resolved_at,omitempty"`
}

func toPunchRequestDTO(v punch.RequestView) PunchRequestDTO {
	return PunchRequestDTO{
		ID:                   string(v.ID),
		OrgID:                string(v.OrgID),
		EntityType:           v.Target.Type.String(),
		EntityID:             v.Target.ID,
		RequesterID:          string(v.RequesterID),
		RequestedAt:          v.RequestedAt.Format(time.RFC3339),
		RespondWithinMinutes: v.RespondWithinMinutes,
		ExpiresAt:            v.ExpiresAt.Format(time.RFC3339),
		State:                string(v.State),
		Active:               v.Active,
		SecondsRemaining:     v.SecondsRemaining,
		ResolvedAt:           timePtr(v.ResolvedAt),
	}
}

// PunchRequestHistoryDTO is a request in any state with the queried
// accounts it targets and those who answered.
type PunchRequestHistoryDTO struct {
	PunchRequestDTO
	Targets  []string `json:"targets"`
	Answered []string `json:"answered"`
}

func toPunchRequestHistoryDTO(e punch.HistoryEntry) PunchRequestHistoryDTO {
	return PunchRequestHistoryDTO{
		PunchRequestDTO: toPunchRequestDTO(e.RequestView),
		Targets:         accountStrings(e.Targets),
		Answered:        accountStrings(e.Answered),
	}
}

// =============================================================================
// RANGE REPORT
// =============================================================================

// RangeReportDTO is the range report in four views: counts, one row per
// working account-day, a status grid, and per-day drill-downs keyed by
// account then date.
type RangeReportDTO struct {
	OrgID     string                                `json:"org_id"`
	From      string                                `json:"from"`
	To        string                                `json:"to"`
	PerDate   []ReportCountsDTO                     `json:"per_date"`
	Overall   ReportCountsDTO                       `json:"overall"`
	Rows      []ReportRowDTO                        `json:"rows"`
	Grid      []GridRowDTO                          `json:"grid"`
	DrillDown map[string]map[string]TodaySummaryDTO `json:"drill_down"`
}

type ReportCountsDTO struct {
	Date      string `json:"date,omitempty"`
	Employees int    `json:"employees"`
	Present   int    `json:"present"`
	Late      int    `json:"late"`
	Partial   int    `json:"partial"`
	Absent    int    `json:"absent"`
	Holiday   int    `json:"holiday"`
	Alerts    int    `json:"alerts"`
}

type ReportRowDTO struct {
	AccountID      string          `json:"account_id"`
	Date           string          `json:"date"`
	Status         string          `json:"status"`
	FirstIn        *string         `json:"first_in,omitempty"`
	LastOut        *string         `json:"last_out,omitempty"`
	WorkedHours    decimal.Decimal `json:"worked_hours"`
	BreakHours     decimal.Decimal `json:"break_hours"`
	EffortHours    decimal.Decimal `json:"effort_hours"`
	Breaks         []BreakDTO      `json:"breaks"`
	FailedAttempts int             `json:"failed_attempts"`
	Flags          []string        `json:"flags"`
}

type GridRowDTO struct {
	AccountID string                 `json:"account_id"`
	Cells     map[string]GridCellDTO `json:"cells"`
}

// GridCellDTO has an empty status for upcoming dates.
type GridCellDTO struct {
	Status string `json:"status,omitempty"`
	Badge  string `json:"badge,omitempty"`
}

func toReportCountsDTO(c attendance.ReportCounts) ReportCountsDTO {
	dto := ReportCountsDTO{
		Employees: c.Employees,
		Present:   c.Present,
		Late:      c.Late,
		Partial:   c.Partial,
		Absent:    c.Absent,
		Holiday:   c.Holiday,
		Alerts:    c.Alerts,
	}
	if !c.Date.IsZero() {
		dto.Date = c.Date.String()
	}
	return dto
}

func toRangeReportDTO(r punch.RangeReport) RangeReportDTO {
	dto := RangeReportDTO{
		OrgID:     string(r.OrgID),
		From:      r.From.String(),
		To:        r.To.String(),
		PerDate:   make([]ReportCountsDTO, 0, len(r.PerDate)),
		Overall:   toReportCountsDTO(r.Overall),
		Rows:      []ReportRowDTO{},
		Grid:      make([]GridRowDTO, 0, len(r.Accounts)),
		DrillDown: make(map[string]map[string]TodaySummaryDTO, len(r.Accounts)),
	}
	for _, c := range r.PerDate {
		dto.PerDate = append(dto.PerDate, toReportCountsDTO(c))
	}

	grid := make(map[attendance.AccountID]int, len(r.Accounts))
	for _, account := range r.Accounts {
		grid[account] = len(dto.Grid)
		dto.Grid = append(dto.Grid, GridRowDTO{AccountID: string(account), Cells: map[string]GridCellDTO{}})
	}

	for _, d := range r.Days {
		date := d.Date.String()
		cell := GridCellDTO{Badge: d.Badge}
		if d.Status != attendance.ReportUpcoming {
			cell.Status = string(d.Status)
		}
		dto.Grid[grid[d.AccountID]].Cells[date] = cell

		if d.Summary == nil {
			continue
		}
		row := ReportRowDTO{
			AccountID:      string(d.AccountID),
			Date:           date,
			Status:         string(d.Status),
			FirstIn:        timePtr(d.FirstIn),
			LastOut:        timePtr(d.LastOut),
			WorkedHours:    d.WorkedHours,
			BreakHours:     d.BreakHours,
			EffortHours:    d.EffortHours,
			Breaks:         toBreakDTOs(d.Breaks),
			FailedAttempts: d.FailedAttempts,
			Flags:          d.Flags,
		}
		if row.Flags == nil {
			row.Flags = []string{}
		}
		dto.Rows = append(dto.Rows, row)

		account := string(d.AccountID)
		if dto.DrillDown[account] == nil {
			dto.DrillDown[account] = map[string]TodaySummaryDTO{}
		}
		dto.DrillDown[account][date] = toTodaySummaryDTO(*d.Summary)
	}
	return dto
}

// =============================================================================
// FENCES
// =============================================================================

// EffectiveFenceDTO omits fence and assignment when none is assigned.
type EffectiveFenceDTO struct {
	AccountID  string         `json:"account_id"`
	Fence      *FenceDTO      `json:"fence,omitempty"`
	Assignment *AssignmentDTO `json:"assignment,omitempty"`
}

type FenceDTO struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Kind      string  `json:"kind,omitempty"`
	SiteCode  string  `json:"site_code,omitempty"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	RadiusM   int     `json:"radius_m"`
}

type AssignmentDTO struct {
	ID         string `json:"id"`
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	IsDefault  bool   `json:"is_default"`
}

func toEffectiveFenceDTO(e punch.EffectiveFence) EffectiveFenceDTO {
	dto := EffectiveFenceDTO{AccountID: string(e.AccountID)}
	if f := e.Fence; f != nil {
		dto.Fence = &FenceDTO{
			ID:        string(f.ID),
			Name:      f.Name,
			Kind:      string(f.Kind),
			SiteCode:  f.SiteCode,
			Latitude:  f.Center.Lat,
			Longitude: f.Center.Lng,
			RadiusM:   f.RadiusM,
		}
	}
	if a := e.Assignment; a != nil {
		dto.Assignment = &AssignmentDTO{
			ID:         a.ID,
			EntityType: a.Entity.Type.String(),
			EntityID:   a.Entity.ID,
			IsDefault:  a.IsDefault,
		}
	}
	return dto
}

// ErrorResponse represents an error in API responses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

// HealthDTO reports dependency health.
type HealthDTO struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func timePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

func toBreakDTOs(breaks []attendance.BreakInterval) []BreakDTO {
	out := make([]BreakDTO, 0, len(breaks))
	for _, b := range breaks {
		out = append(out, BreakDTO{
			Start:   b.Start.UTC().Format(time.RFC3339),
			End:     timePtr(b.End),
			Seconds: b.Seconds,
		})
	}
	return out
}

func accountStrings(accounts []attendance.AccountID) []string {
	out := make([]string, len(accounts))
	for i, a := range accounts {
		out[i] = string(a)
	}
	return out
}
