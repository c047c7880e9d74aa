/*
store.go - Persistence contracts for the check-in engine

PURPOSE:
  Defines the interfaces between the engine and the database. The event log
  is append-only; branch and employee records are ordinary CRUD owned by
  record management and read-only to the engine.

APPEND-ONLY CONTRACT:
  EventStore has exactly one write operation: Append(). No Update() or
  Delete() methods exist, and implementations must not expose them. Current
  on-site state is always derived by reading back the log.

IMPLEMENTATIONS:
  - store/sqlite: Production SQLite store
  - attendance/store: In-memory store for tests/dev

SEE ALSO:
  - engine.go: Serializes RecentEvents-then-Append per employee
*/
package attendance

import (
	"context"
	"time"
)

// =============================================================================
// EVENT STORE - Append-only attendance log
// =============================================================================

// EventStore persists attendance events. APPEND-ONLY: events are immutable
// once written.
//
// The engine serializes RecentEvents-then-Append per employee; implementations
// must make each individual call atomic but need not provide cross-call
// transactions.
type EventStore interface {
	// Append persists an event. This is the ONLY write operation.
	Append(ctx context.Context, ev AttendanceEvent) error

	// RecentEvents returns up to limit events for the employee, newest first.
	RecentEvents(ctx context.Context, employeeID EmployeeID, limit int) ([]AttendanceEvent, error)

	// EventsInRange returns the employee's events in [from, to], oldest
	// first. Empty employeeID means all employees (report queries).
	EventsInRange(ctx context.Context, employeeID EmployeeID, from, to time.Time) ([]AttendanceEvent, error)
}

// =============================================================================
// BRANCH STORE - Record management, read-only to the engine
// =============================================================================

// BranchStore manages branch records. The engine only calls ResolveByToken;
// the rest serves the operator-facing API.
type BranchStore interface {
	// ResolveByToken returns the branch owning the exact token, or
	// ErrInvalidToken.
	ResolveByToken(ctx context.Context, token string) (Branch, error)

	SaveBranch(ctx context.Context, b Branch) error
	GetBranch(ctx context.Context, id BranchID) (Branch, error)
	ListBranches(ctx context.Context) ([]Branch, error)
	DeleteBranch(ctx context.Context, id BranchID) error

	// RotateToken replaces the branch's token, invalidating previously
	// printed codes, and returns the updated branch.
	RotateToken(ctx context.Context, id BranchID, token string) (Branch, error)
}

// =============================================================================
// EMPLOYEE STORE
// =============================================================================

type EmployeeStore interface {
	SaveEmployee(ctx context.Context, e Employee) error
	GetEmployee(ctx context.Context, id EmployeeID) (Employee, error)
	ListEmployees(ctx context.Context) ([]Employee, error)
	DeleteEmployee(ctx context.Context, id EmployeeID) error
}

// Store is the full persistence surface the server wires together.
type Store interface {
	EventStore
	BranchStore
	EmployeeStore
}
