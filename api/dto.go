/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple the
  internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/presence-engine/attendance"
	"github.com/warp/presence-engine/report"
)

// =============================================================================
// CHECK-IN
// =============================================================================

// CheckInRequest is one scan: the decoded token plus the device reading.
type CheckInRequest struct {
	Token      string  `json:"token"`
	EmployeeID string  `json:"employee_id"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	Accuracy   float64 `json:"accuracy_meters,omitempty"`
	CapturedAt string  `json:"captured_at,omitempty"` // RFC3339; empty = just now
}

// EventDTO is a persisted attendance event.
type EventDTO struct {
	ID         string  `json:"id"`
	EmployeeID string  `json:"employee_id"`
	BranchID   string  `json:"branch_id"`
	Type       string  `json:"type"`
	Timestamp  string  `json:"timestamp"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
}

func toEventDTO(ev attendance.AttendanceEvent) EventDTO {
	return EventDTO{
		ID:         string(ev.ID),
		EmployeeID: string(ev.EmployeeID),
		BranchID:   string(ev.BranchID),
		Type:       string(ev.Type),
		Timestamp:  ev.Timestamp.Format(time.RFC3339),
		Latitude:   ev.Latitude,
		Longitude:  ev.Longitude,
	}
}

// StatusDTO is an employee's derived on-site state.
type StatusDTO struct {
	EmployeeID string    `json:"employee_id"`
	OnSite     bool      `json:"on_site"`
	LastEvent  *EventDTO `json:"last_event,omitempty"`
}

// =============================================================================
// BRANCHES
// =============================================================================

type BranchDTO struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	RadiusMeters float64 `json:"admission_radius_meters"`
	Token        string  `json:"token"`
	CreatedAt    string  `json:"created_at,omitempty"`
}

func toBranchDTO(b attendance.Branch) BranchDTO {
	dto := BranchDTO{
		ID:           string(b.ID),
		Name:         b.Name,
		Latitude:     b.Latitude,
		Longitude:    b.Longitude,
		RadiusMeters: b.AdmissionRadiusMeters,
		Token:        b.Token,
	}
	if !b.CreatedAt.IsZero() {
		dto.CreatedAt = b.CreatedAt.Format(time.RFC3339)
	}
	return dto
}

// CreateBranchRequest creates a branch. RadiusMeters zero means the default
// admission radius. The token is always server-generated.
type CreateBranchRequest struct {
	Name         string  `json:"name"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	RadiusMeters float64 `json:"admission_radius_meters,omitempty"`
}

// UpdateBranchRequest is a partial update: only fields present in the body
// change. Coordinates are pointers because zero is a valid coordinate.
type UpdateBranchRequest struct {
	Name         *string  `json:"name,omitempty"`
	Latitude     *float64 `json:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty"`
	RadiusMeters *float64 `json:"admission_radius_meters,omitempty"`
}

// =============================================================================
// EMPLOYEES
// =============================================================================

type EmployeeDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

func toEmployeeDTO(e attendance.Employee) EmployeeDTO {
	dto := EmployeeDTO{
		ID:    string(e.ID),
		Name:  e.Name,
		Email: e.Email,
	}
	if !e.CreatedAt.IsZero() {
		dto.CreatedAt = e.CreatedAt.Format(time.RFC3339)
	}
	return dto
}

type CreateEmployeeRequest struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// =============================================================================
// PRESENCE & REPORTS
// =============================================================================

type PresenceDTO struct {
	EmployeeID    string `json:"employee_id"`
	EmployeeName  string `json:"employee_name,omitempty"`
	BranchID      string `json:"branch_id"`
	BranchName    string `json:"branch_name,omitempty"`
	Since         string `json:"since"`
	OnSiteMinutes int    `json:"on_site_minutes"`
}

func toPresenceDTO(p report.PresenceEntry) PresenceDTO {
	return PresenceDTO{
		EmployeeID:    string(p.Employee.ID),
		EmployeeName:  p.Employee.Name,
		BranchID:      string(p.Branch.ID),
		BranchName:    p.Branch.Name,
		Since:         p.Since.Format(time.RFC3339),
		OnSiteMinutes: int(p.OnSiteFor.Minutes()),
	}
}

type SummaryDTO struct {
	Range            string             `json:"range"`
	From             string             `json:"from"`
	To               string             `json:"to"`
	TotalEmployees   int                `json:"total_employees"`
	TotalEvents      int                `json:"total_events"`
	DailyAverage     string             `json:"daily_average"`
	MostActiveBranch string             `json:"most_active_branch,omitempty"`
	ByDay            []DayCountDTO      `json:"by_day"`
	ByBranch         []BranchCountDTO   `json:"by_branch"`
	ByEmployee       []EmployeeStatsDTO `json:"by_employee"`
	LateByDay        []DayCountDTO      `json:"late_arrivals_by_day"`
}

type DayCountDTO struct {
	Day   string `json:"day"`
	Count int    `json:"count"`
}

type BranchCountDTO struct {
	BranchID string `json:"branch_id"`
	Name     string `json:"name"`
	Count    int    `json:"count"`
}

type EmployeeStatsDTO struct {
	EmployeeID  string `json:"employee_id"`
	Name        string `json:"name,omitempty"`
	EventCount  int    `json:"event_count"`
	WorkedHours string `json:"worked_hours"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the uniform error body. Code carries the rejection kind
// from the taxonomy (invalid_token, geofence_violation, ...).
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}
