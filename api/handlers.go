/*
handlers.go - HTTP API handlers for the presence engine

PURPOSE:
  Exposes the check-in engine and record management via REST. Handles HTTP
  request/response and JSON; all decisions stay in the attendance package.

ENDPOINTS:
  Check-in:
    POST   /api/checkin                  Process one scan

  Branches:
    GET    /api/branches                 List branches
    POST   /api/branches                 Create branch (token generated)
    GET    /api/branches/{id}            Get branch
    PUT    /api/branches/{id}            Update branch
    DELETE /api/branches/{id}            Delete branch
    POST   /api/branches/{id}/rotate-token  Invalidate printed codes

  Employees:
    GET    /api/employees                List employees
    POST   /api/employees                Create employee
    GET    /api/employees/{id}           Get employee
    DELETE /api/employees/{id}           Delete employee
    GET    /api/employees/{id}/status    Derived on-site state
    GET    /api/employees/{id}/events    Event history

  Operations:
    GET    /api/presence                 Who is on-site now
    GET    /api/reports/summary          Range aggregates

ERROR HANDLING:
  Rejections map to HTTP status by kind:
    404 invalid_token            429 rate_limited
    403 geofence_violation       503 geolocation_unavailable
    409 branch_mismatch          503 persistence_failure

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/warp/presence-engine/attendance"
	"github.com/warp/presence-engine/report"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store  attendance.Store
	Engine *attendance.Engine

	// LateThreshold feeds the reports screen. Zero value uses the report
	// package default.
	LateThreshold report.Clock

	// DefaultRadius is the admission radius for branches created without
	// one. Zero means attendance.DefaultAdmissionRadiusMeters.
	DefaultRadius float64
}

// NewHandler creates a new handler over the given store.
func NewHandler(store attendance.Store) *Handler {
	return &Handler{
		Store:  store,
		Engine: attendance.NewEngine(store),
	}
}

// =============================================================================
// CHECK-IN
// =============================================================================

// CheckIn processes one scan.
// POST /api/checkin
func (h *Handler) CheckIn(w http.ResponseWriter, r *http.Request) {
	var req CheckInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", "", err)
		return
	}
	if req.Token == "" || req.EmployeeID == "" {
		writeError(w, http.StatusBadRequest, "token and employee_id are required", "", nil)
		return
	}

	reading := attendance.GeoReading{
		Latitude:       req.Latitude,
		Longitude:      req.Longitude,
		AccuracyMeters: req.Accuracy,
	}
	if req.CapturedAt != "" {
		capturedAt, err := time.Parse(time.RFC3339, req.CapturedAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid captured_at format (use RFC3339)", "", err)
			return
		}
		reading.CapturedAt = capturedAt
	}

	ev, err := h.Engine.CheckIn(r.Context(), req.Token, attendance.EmployeeID(req.EmployeeID), reading)
	if err != nil {
		writeRejection(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toEventDTO(ev))
}

// writeRejection maps the rejection taxonomy to HTTP status codes.
func writeRejection(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, attendance.ErrInvalidToken):
		writeError(w, http.StatusNotFound, "No branch owns this token", "invalid_token", nil)
	case errors.Is(err, attendance.ErrGeolocationUnavailable):
		writeError(w, http.StatusServiceUnavailable, "Location reading unavailable or stale", "geolocation_unavailable", nil)
	case errors.Is(err, attendance.ErrGeofenceViolation):
		writeError(w, http.StatusForbidden, "Outside branch admission radius", "geofence_violation", err)
	case errors.Is(err, attendance.ErrBranchMismatch):
		writeError(w, http.StatusConflict, "Departure must be at the arrival branch", "branch_mismatch", err)
	case errors.Is(err, attendance.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "Duplicate scan, retry after cooldown", "rate_limited", err)
	default:
		writeError(w, http.StatusServiceUnavailable, "Could not record attendance", "persistence_failure", err)
	}
}

// =============================================================================
// BRANCH HANDLERS
// =============================================================================

// ListBranches returns all branches.
func (h *Handler) ListBranches(w http.ResponseWriter, r *http.Request) {
	branches, err := h.Store.ListBranches(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list branches", "", err)
		return
	}

	dtos := make([]BranchDTO, len(branches))
	for i, b := range branches {
		dtos[i] = toBranchDTO(b)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateBranch creates a branch with a freshly generated token.
func (h *Handler) CreateBranch(w http.ResponseWriter, r *http.Request) {
	var req CreateBranchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", "", err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required", "", nil)
		return
	}

	radius := req.RadiusMeters
	if radius <= 0 {
		radius = h.DefaultRadius
	}
	if radius <= 0 {
		radius = attendance.DefaultAdmissionRadiusMeters
	}

	b := attendance.Branch{
		ID:                    attendance.BranchID(uuid.NewString()),
		Name:                  req.Name,
		Latitude:              req.Latitude,
		Longitude:             req.Longitude,
		AdmissionRadiusMeters: radius,
		Token:                 uuid.NewString(),
		CreatedAt:             time.Now().UTC(),
	}
	if err := h.Store.SaveBranch(r.Context(), b); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create branch", "", err)
		return
	}

	writeJSON(w, http.StatusCreated, toBranchDTO(b))
}

// GetBranch returns a single branch.
func (h *Handler) GetBranch(w http.ResponseWriter, r *http.Request) {
	b, err := h.Store.GetBranch(r.Context(), attendance.BranchID(chi.URLParam(r, "id")))
	if err != nil {
		writeNotFoundOr500(w, err, "Branch not found", "Failed to get branch")
		return
	}
	writeJSON(w, http.StatusOK, toBranchDTO(b))
}

// UpdateBranch updates name/coordinates/radius; fields absent from the body
// are left unchanged. The token is untouched; use rotate-token to invalidate
// codes.
func (h *Handler) UpdateBranch(w http.ResponseWriter, r *http.Request) {
	id := attendance.BranchID(chi.URLParam(r, "id"))

	existing, err := h.Store.GetBranch(r.Context(), id)
	if err != nil {
		writeNotFoundOr500(w, err, "Branch not found", "Failed to get branch")
		return
	}

	var req UpdateBranchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", "", err)
		return
	}

	if req.Name != nil && *req.Name != "" {
		existing.Name = *req.Name
	}
	if req.Latitude != nil {
		existing.Latitude = *req.Latitude
	}
	if req.Longitude != nil {
		existing.Longitude = *req.Longitude
	}
	if req.RadiusMeters != nil && *req.RadiusMeters > 0 {
		existing.AdmissionRadiusMeters = *req.RadiusMeters
	}

	if err := h.Store.SaveBranch(r.Context(), existing); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update branch", "", err)
		return
	}
	writeJSON(w, http.StatusOK, toBranchDTO(existing))
}

// DeleteBranch deletes a branch record. The event log keeps its history.
func (h *Handler) DeleteBranch(w http.ResponseWriter, r *http.Request) {
	err := h.Store.DeleteBranch(r.Context(), attendance.BranchID(chi.URLParam(r, "id")))
	if err != nil {
		writeNotFoundOr500(w, err, "Branch not found", "Failed to delete branch")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RotateToken generates a new token for the branch, invalidating previously
// printed codes.
// POST /api/branches/{id}/rotate-token
func (h *Handler) RotateToken(w http.ResponseWriter, r *http.Request) {
	b, err := h.Store.RotateToken(r.Context(), attendance.BranchID(chi.URLParam(r, "id")), uuid.NewString())
	if err != nil {
		writeNotFoundOr500(w, err, "Branch not found", "Failed to rotate token")
		return
	}
	writeJSON(w, http.StatusOK, toBranchDTO(b))
}

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

// ListEmployees returns all employees.
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	employees, err := h.Store.ListEmployees(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list employees", "", err)
		return
	}

	dtos := make([]EmployeeDTO, len(employees))
	for i, e := range employees {
		dtos[i] = toEmployeeDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateEmployee creates a new employee.
func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	var req CreateEmployeeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", "", err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required", "", nil)
		return
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	e := attendance.Employee{
		ID:        attendance.EmployeeID(id),
		Name:      req.Name,
		Email:     req.Email,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.Store.SaveEmployee(r.Context(), e); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create employee", "", err)
		return
	}
	writeJSON(w, http.StatusCreated, toEmployeeDTO(e))
}

// GetEmployee returns a single employee.
func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	e, err := h.Store.GetEmployee(r.Context(), attendance.EmployeeID(chi.URLParam(r, "id")))
	if err != nil {
		writeNotFoundOr500(w, err, "Employee not found", "Failed to get employee")
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(e))
}

// DeleteEmployee deletes an employee record. The event log keeps its history.
func (h *Handler) DeleteEmployee(w http.ResponseWriter, r *http.Request) {
	err := h.Store.DeleteEmployee(r.Context(), attendance.EmployeeID(chi.URLParam(r, "id")))
	if err != nil {
		writeNotFoundOr500(w, err, "Employee not found", "Failed to delete employee")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetEmployeeStatus returns the employee's derived on-site state.
// GET /api/employees/{id}/status
func (h *Handler) GetEmployeeStatus(w http.ResponseWriter, r *http.Request) {
	id := attendance.EmployeeID(chi.URLParam(r, "id"))

	last, err := h.Engine.LastEvent(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read last event", "", err)
		return
	}

	dto := StatusDTO{EmployeeID: string(id), OnSite: attendance.OnSite(last)}
	if last != nil {
		evDTO := toEventDTO(*last)
		dto.LastEvent = &evDTO
	}
	writeJSON(w, http.StatusOK, dto)
}

// GetEmployeeEvents returns the employee's event history in a range
// (defaults to the current month).
// GET /api/employees/{id}/events
func (h *Handler) GetEmployeeEvents(w http.ResponseWriter, r *http.Request) {
	id := attendance.EmployeeID(chi.URLParam(r, "id"))

	from, to, err := rangeFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid range", "", err)
		return
	}

	events, err := h.Store.EventsInRange(r.Context(), id, from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load events", "", err)
		return
	}

	dtos := make([]EventDTO, len(events))
	for i, ev := range events {
		dtos[i] = toEventDTO(ev)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// PRESENCE & REPORT HANDLERS
// =============================================================================

// GetPresence returns the employees currently on-site.
// GET /api/presence
func (h *Handler) GetPresence(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := time.Now().UTC()

	// The roster needs each employee's latest event; today's window plus a
	// generous lookback covers open overnight shifts.
	events, err := h.Store.EventsInRange(ctx, "", now.AddDate(0, -1, 0), now)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load events", "", err)
		return
	}
	branches, err := h.Store.ListBranches(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list branches", "", err)
		return
	}
	employees, err := h.Store.ListEmployees(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list employees", "", err)
		return
	}

	roster := report.Roster(events, branches, employees, now)
	dtos := make([]PresenceDTO, len(roster))
	for i, p := range roster {
		dtos[i] = toPresenceDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetSummary returns range aggregates for the reports screen.
// GET /api/reports/summary?range=week|month|3months
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	rng := report.Range(r.URL.Query().Get("range"))
	if rng == "" {
		rng = report.RangeMonth
	}
	from, to, err := rng.Bounds(time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid range", "", err)
		return
	}

	events, err := h.Store.EventsInRange(ctx, "", from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load events", "", err)
		return
	}
	branches, err := h.Store.ListBranches(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list branches", "", err)
		return
	}
	employees, err := h.Store.ListEmployees(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list employees", "", err)
		return
	}

	summary := report.Summarize(events, branches, employees, from, to, report.Options{
		LateThreshold: h.LateThreshold,
	})

	dto := SummaryDTO{
		Range:            string(rng),
		From:             from.Format(time.RFC3339),
		To:               to.Format(time.RFC3339),
		TotalEmployees:   summary.TotalEmployees,
		TotalEvents:      summary.TotalEvents,
		DailyAverage:     summary.DailyAverage.String(),
		MostActiveBranch: summary.MostActiveBranch,
		ByDay:            toDayCountDTOs(summary.ByDay),
		ByBranch:         make([]BranchCountDTO, len(summary.ByBranch)),
		ByEmployee:       make([]EmployeeStatsDTO, len(summary.ByEmployee)),
		LateByDay:        toDayCountDTOs(summary.LateArrivalsByDay),
	}
	for i, b := range summary.ByBranch {
		dto.ByBranch[i] = BranchCountDTO{BranchID: string(b.BranchID), Name: b.Name, Count: b.Count}
	}
	for i, e := range summary.ByEmployee {
		dto.ByEmployee[i] = EmployeeStatsDTO{
			EmployeeID:  string(e.EmployeeID),
			Name:        e.Name,
			EventCount:  e.EventCount,
			WorkedHours: e.WorkedHours.StringFixed(2),
		}
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// HELPERS
// =============================================================================

func toDayCountDTOs(counts []report.DayCount) []DayCountDTO {
	dtos := make([]DayCountDTO, len(counts))
	for i, c := range counts {
		dtos[i] = DayCountDTO{Day: c.Day, Count: c.Count}
	}
	return dtos
}

func rangeFromQuery(r *http.Request) (time.Time, time.Time, error) {
	q := r.URL.Query()
	now := time.Now().UTC()

	from := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	to := now
	var err error
	if v := q.Get("from"); v != "" {
		from, err = time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	if v := q.Get("to"); v != "" {
		to, err = time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	return from, to, nil
}

func writeNotFoundOr500(w http.ResponseWriter, err error, notFoundMsg, failMsg string) {
	if attendance.IsNotFound(err) {
		writeError(w, http.StatusNotFound, notFoundMsg, "", nil)
		return
	}
	writeError(w, http.StatusInternalServerError, failMsg, "", err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message, code string, err error) {
	resp := ErrorResponse{Error: message, Code: code}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
