/*
Package attendance contains the check-in decision engine and its domain types.

PURPOSE:
  Given a scanned branch token, a device-reported location, and an employee's
  prior attendance history, decide atomically whether the scan is a valid
  arrival or departure, reject it when fraudulent or out of range, and persist
  an immutable, causally ordered event.

KEY CONCEPTS IN THIS FILE (types.go):
  - Branch: A physical site with coordinates, an admission radius, and a
    rotatable scan token
  - AttendanceEvent: An immutable log entry (arrival or departure)
  - GeoReading: A device-supplied location fix
  - Employee: Minimal identity reference

DESIGN PRINCIPLES:
  1. Immutability: Events are never updated or deleted, only appended
  2. Derived state: On-site/off-site is always reconstructed from the last
     persisted event, never held as separate mutable state
  3. Server time: Event timestamps come from the server clock, never from
     the device

SEE ALSO:
  - sequence.go: Next-event-type resolution
  - guard.go: Cooldown, branch-consistency, and geofence checks
  - engine.go: Orchestration and concurrency discipline
  - store.go: Persistence contracts
*/
package attendance

import "time"

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EmployeeID string
type BranchID string
type EventID string

// =============================================================================
// EVENT TYPE - Two-state machine per employee
// =============================================================================

type EventType string

const (
	EventArrival   EventType = "arrival"
	EventDeparture EventType = "departure"
)

// Opposite returns the other event type. Strict alternation means the valid
// successor of any event is always the opposite type.
func (t EventType) Opposite() EventType {
	if t == EventArrival {
		return EventDeparture
	}
	return EventArrival
}

// =============================================================================
// BRANCH - Physical site, read-only to the engine
// =============================================================================

// Branch is a physical site employees check in at. The Token is an opaque
// identifier bound to the branch's scannable code; rotating it invalidates
// previously printed codes.
type Branch struct {
	ID                    BranchID
	Name                  string
	Latitude              float64
	Longitude             float64
	AdmissionRadiusMeters float64
	Token                 string
	CreatedAt             time.Time
}

// DefaultAdmissionRadiusMeters applies when a branch is created without an
// explicit radius.
const DefaultAdmissionRadiusMeters = 100.0

// =============================================================================
// EMPLOYEE - Identity reference
// =============================================================================

// Employee is the identity the engine records events against. Everything
// beyond the ID belongs to record management; Name and Email are carried for
// roster and report display only.
type Employee struct {
	ID        EmployeeID
	Name      string
	Email     string
	CreatedAt time.Time
}

// =============================================================================
// ATTENDANCE EVENT - Immutable log entry
// =============================================================================

// AttendanceEvent records one accepted arrival or departure. Immutable once
// written. Per-employee ordering by Timestamp is the source of truth for
// current on-site/off-site state.
type AttendanceEvent struct {
	ID         EventID
	EmployeeID EmployeeID
	BranchID   BranchID
	Type       EventType
	Timestamp  time.Time
	Latitude   float64
	Longitude  float64
}

// =============================================================================
// GEO READING - Device-supplied location fix
// =============================================================================

// GeoReading is the location fix supplied by the device's location service.
// AccuracyMeters is informational only; the geofence compares raw coordinates
// against the branch radius.
type GeoReading struct {
	Latitude       float64
	Longitude      float64
	AccuracyMeters float64
	CapturedAt     time.Time
}
