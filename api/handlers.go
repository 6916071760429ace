/*
handlers.go - HTTP API handlers for the attendance engine

PURPOSE:
  Exposes punch admission, today summaries and punch requests via REST.
  Handles HTTP request/response, JSON serialization, and delegates to the
  punch service and scheduler.

ENDPOINTS:
  Attendance (under /api/orgs/{orgID}):
    POST   /attendance/punch              Self-service punch
    POST   /attendance/punched            Answer a punch request
    GET    /attendance/today              Today summary (?account_id=&date=)
    GET    /attendance/range              Range report (?account_id=a,b&from=&to=)
    GET    /attendance/fence              Effective fence (?account_id=)
    POST   /attendance/complete           Auto-complete a date (?date=)

  Punch requests (under /api/orgs/{orgID}):
    POST   /punch-requests                Create a punch request
    GET    /punch-requests/pending        Pending for an account (?account_id=)
    GET    /punch-requests/history        Any state (?account_id=a,b&from=&to=)
    GET    /punch-requests/{id}           Get one request
    POST   /punch-requests/{id}/cancel    Cancel a pending request

  Operations:
    POST   /api/scheduler/run             Run every scheduler pass now
    GET    /api/health                    Dependency health

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate shape (validator/v10)
  3. Call the punch service or scheduler
  4. Serialize response
  5. Map errors (errors.go)

PUNCH OUTCOMES:
  A rejected punch is a recorded business outcome, not an error: it is
  returned with success=false and a fail_reason. A replayed idempotency key
  returns 200 with the original outcome; a newly recorded punch returns 201.

SECURITY NOTE:
  No authentication or authorization. Account ids come from the request.

SEE ALSO:
  - dto.go: Request/response data structures
  - errors.go: Error mapping
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/punch"
	"github.com/warp/attendance-engine/scheduler"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// SchedulerRunner is the part of the scheduler exposed over HTTP.
type SchedulerRunner interface {
	RunOnce(ctx context.Context) (scheduler.Report, error)
	CompleteDay(ctx context.Context, org attendance.OrgID, date attendance.LocalDate) (int, error)
}

// Pinger is a dependency with a health check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Punches   *punch.Service
	Scheduler SchedulerRunner // nil disables the scheduler routes

	checks   map[string]Pinger
	validate *validator.Validate
	logger   *zap.Logger
}

type HandlerOptions struct {
	Scheduler SchedulerRunner
	Checks    map[string]Pinger
	Logger    *zap.Logger
}

// NewHandler creates a handler around the punch service.
func NewHandler(punches *punch.Service, opts HandlerOptions) *Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON field names in validation errors.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Handler{
		Punches:   punches,
		Scheduler: opts.Scheduler,
		checks:    opts.Checks,
		validate:  v,
		logger:    opts.Logger.Named("api"),
	}
}

// =============================================================================
// PUNCH HANDLERS
// =============================================================================

// Punch admits a self-service punch.
// POST /api/orgs/{orgID}/attendance/punch
func (h *Handler) Punch(w http.ResponseWriter, r *http.Request) {
	var req PunchRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.Punches.Punch(r.Context(), orgID(r), punch.Command{
		AccountID:      attendance.AccountID(req.AccountID),
		Kind:           req.Kind,
		Location:       location(req.Latitude, req.Longitude),
		AccuracyM:      req.AccuracyM,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, punchStatus(result), toPunchResultDTO(result))
}

// PunchSupervised answers a punch request.
// POST /api/orgs/{orgID}/attendance/punched
func (h *Handler) PunchSupervised(w http.ResponseWriter, r *http.Request) {
	var req SupervisedPunchRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.Punches.PunchSupervised(r.Context(), orgID(r), punch.SupervisedCommand{
		AccountID:      attendance.AccountID(req.AccountID),
		PunchRequestID: attendance.PunchRequestID(req.PunchRequestID),
		Location:       location(req.Latitude, req.Longitude),
		AccuracyM:      req.AccuracyM,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, punchStatus(result), toPunchResultDTO(result))
}

func punchStatus(r punch.Result) int {
	if r.Replayed {
		return http.StatusOK
	}
	return http.StatusCreated
}

// Today returns the day summary for one account.
// GET /api/orgs/{orgID}/attendance/today?account_id=emp-1&date=2025-10-06
func (h *Handler) Today(w http.ResponseWriter, r *http.Request) {
	account := r.URL.Query().Get("account_id")
	if account == "" {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "account_id is required", nil)
		return
	}
	date, ok := parseDateParam(w, r)
	if !ok {
		return
	}

	summary, err := h.Punches.TodaySummary(r.Context(), orgID(r), attendance.AccountID(account), date)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTodaySummaryDTO(summary))
}

// AttendanceRange grades accounts over a date range. No account_id means
// the whole roster.
// GET /api/orgs/{orgID}/attendance/range?account_id=emp-1,emp-2&from=2025-10-01&to=2025-10-07
func (h *Handler) AttendanceRange(w http.ResponseWriter, r *http.Request) {
	from, ok := parseDateQuery(w, r, "from")
	if !ok {
		return
	}
	to, ok := parseDateQuery(w, r, "to")
	if !ok {
		return
	}
	if from.IsZero() {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "from is required", nil)
		return
	}

	report, err := h.Punches.AttendanceRange(r.Context(), orgID(r), accountIDs(r), from, to)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRangeReportDTO(report))
}

// EffectiveFence returns the fence a punch would be checked against.
// GET /api/orgs/{orgID}/attendance/fence?account_id=emp-1
func (h *Handler) EffectiveFence(w http.ResponseWriter, r *http.Request) {
	account := r.URL.Query().Get("account_id")
	if account == "" {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "account_id is required", nil)
		return
	}

	fence, err := h.Punches.EffectiveFence(r.Context(), orgID(r), attendance.AccountID(account))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEffectiveFenceDTO(fence))
}

// =============================================================================
// PUNCH REQUEST HANDLERS
// =============================================================================

// CreatePunchRequest creates a PENDING punch request.
// POST /api/orgs/{orgID}/punch-requests
func (h *Handler) CreatePunchRequest(w http.ResponseWriter, r *http.Request) {
	var req CreatePunchRequestRequest
	if !h.decode(w, r, &req) {
		return
	}

	entityType, err := attendance.ParseEntityType(req.EntityType)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	create := punch.CreateRequest{
		Target:               attendance.EntityRef{Type: entityType, ID: req.EntityID},
		RequesterID:          attendance.AccountID(req.RequesterID),
		RespondWithinMinutes: req.RespondWithinMinutes,
	}
	if req.RequestedAt != nil {
		create.RequestedAt = req.RequestedAt.UTC()
	}

	view, err := h.Punches.CreatePunchRequest(r.Context(), orgID(r), create)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPunchRequestDTO(view))
}

// GetPunchRequest returns one punch request.
// GET /api/orgs/{orgID}/punch-requests/{id}
func (h *Handler) GetPunchRequest(w http.ResponseWriter, r *http.Request) {
	view, err := h.Punches.PunchRequest(r.Context(), orgID(r), attendance.PunchRequestID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPunchRequestDTO(view))
}

// CancelPunchRequest cancels a pending punch request.
// POST /api/orgs/{orgID}/punch-requests/{id}/cancel
func (h *Handler) CancelPunchRequest(w http.ResponseWriter, r *http.Request) {
	view, err := h.Punches.CancelPunchRequest(r.Context(), orgID(r), attendance.PunchRequestID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPunchRequestDTO(view))
}

// PendingPunchRequests lists the requests an account can still answer.
// GET /api/orgs/{orgID}/punch-requests/pending?account_id=emp-1
func (h *Handler) PendingPunchRequests(w http.ResponseWriter, r *http.Request) {
	account := r.URL.Query().Get("account_id")
	if account == "" {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "account_id is required", nil)
		return
	}

	views, err := h.Punches.PendingPunchRequests(r.Context(), orgID(r), attendance.AccountID(account))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	dtos := make([]PunchRequestDTO, len(views))
	for i, v := range views {
		dtos[i] = toPunchRequestDTO(v)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// PunchRequestHistory lists requests in any state that target the accounts.
// GET /api/orgs/{orgID}/punch-requests/history?account_id=emp-1&from=2025-10-06&to=2025-10-06
func (h *Handler) PunchRequestHistory(w http.ResponseWriter, r *http.Request) {
	accounts := accountIDs(r)
	if len(accounts) == 0 {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "account_id is required", nil)
		return
	}
	from, ok := parseDateQuery(w, r, "from")
	if !ok {
		return
	}
	to, ok := parseDateQuery(w, r, "to")
	if !ok {
		return
	}

	entries, err := h.Punches.PunchRequestHistory(r.Context(), orgID(r), accounts, from, to)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	dtos := make([]PunchRequestHistoryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toPunchRequestHistoryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// OPERATIONS
// =============================================================================

// RunScheduler runs every scheduler pass for the current minute.
// POST /api/scheduler/run
func (h *Handler) RunScheduler(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, codeConflict, "Scheduler is disabled", nil)
		return
	}
	report, err := h.Scheduler.RunOnce(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// CompleteDay auto-completes every open day of an organization on a date.
// POST /api/orgs/{orgID}/attendance/complete?date=2025-10-06
func (h *Handler) CompleteDay(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, codeConflict, "Scheduler is disabled", nil)
		return
	}
	date, ok := parseDateParam(w, r)
	if !ok {
		return
	}
	if date.IsZero() {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "date is required", nil)
		return
	}

	completed, err := h.Scheduler.CompleteDay(r.Context(), orgID(r), date)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"org_id":    chi.URLParam(r, "orgID"),
		"date":      date.String(),
		"completed": completed,
	})
}

// Health pings every registered dependency.
// GET /api/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := HealthDTO{Status: "ok", Checks: make(map[string]string, len(h.checks))}
	for name, dep := range h.checks {
		if err := dep.Ping(ctx); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			continue
		}
		resp.Checks[name] = "ok"
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads and validates a JSON body. It writes the 400 response itself.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeValidationError(w, err)
		return false
	}
	return true
}

func orgID(r *http.Request) attendance.OrgID {
	return attendance.OrgID(chi.URLParam(r, "orgID"))
}

// parseDateParam reads ?date=YYYY-MM-DD; absent means the zero date.
func parseDateParam(w http.ResponseWriter, r *http.Request) (attendance.LocalDate, bool) {
	return parseDateQuery(w, r, "date")
}

func parseDateQuery(w http.ResponseWriter, r *http.Request, name string) (attendance.LocalDate, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return attendance.LocalDate{}, true
	}
	date, err := attendance.ParseLocalDate(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "Invalid "+name+", expected YYYY-MM-DD", err)
		return attendance.LocalDate{}, false
	}
	return date, true
}

// accountIDs reads account_id, repeated or comma-separated.
func accountIDs(r *http.Request) []attendance.AccountID {
	var out []attendance.AccountID
	for _, raw := range r.URL.Query()["account_id"] {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				out = append(out, attendance.AccountID(id))
			}
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
