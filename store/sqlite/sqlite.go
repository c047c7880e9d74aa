/*
Package sqlite provides a SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements attendance.Store (EventStore, BranchStore, EmployeeStore) using
  SQLite. In production the same patterns apply to PostgreSQL - only minor
  SQL dialect differences.

APPEND-ONLY ENFORCEMENT:
  No UPDATE or DELETE statements exist for the attendance_events table. The
  event log is immutable; the only write is the INSERT in Append.

KEY TABLES:
  attendance_events: Immutable log of arrivals and departures
  branches:          Sites with coordinates, radius, and scan token
  employees:         Identity records

INDEXES:
  - idx_events_employee_ts: the read-last-event hot path
  - branches.token UNIQUE:  exact token resolution

CONCURRENCY:
  Opened with WAL for reader/writer concurrency plus a sync.RWMutex; the
  engine additionally serializes read-then-append per employee, so the store
  only needs per-statement atomicity.

USAGE:
  store, err := sqlite.New("./data/presence.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - attendance/store.go: Interface definitions
  - attendance/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/presence-engine/attendance"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Branches (sites with a rotatable scan token)
	CREATE TABLE IF NOT EXISTS branches (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		latitude REAL NOT NULL,
		longitude REAL NOT NULL,
		admission_radius_m REAL NOT NULL,
		token TEXT NOT NULL UNIQUE,
		created_at TEXT NOT NULL
	);

	-- Employees (identity records)
	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		created_at TEXT NOT NULL
	);

	-- Attendance events (append-only log)
	CREATE TABLE IF NOT EXISTS attendance_events (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		branch_id TEXT NOT NULL,
		event_type TEXT NOT NULL CHECK (event_type IN ('arrival', 'departure')),
		ts TEXT NOT NULL,
		latitude REAL NOT NULL,
		longitude REAL NOT NULL
	);

	-- The read-last-event hot path
	CREATE INDEX IF NOT EXISTS idx_events_employee_ts
		ON attendance_events(employee_id, ts DESC);

	-- Report queries scan by time range
	CREATE INDEX IF NOT EXISTS idx_events_ts
		ON attendance_events(ts);

	-- Per-branch aggregation
	CREATE INDEX IF NOT EXISTS idx_events_branch
		ON attendance_events(branch_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// EVENT STORE (attendance.EventStore interface)
// =============================================================================

// Append adds an event to the log. This is the only write on
// attendance_events.
func (s *Store) Append(ctx context.Context, ev attendance.AttendanceEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO attendance_events
		(id, employee_id, branch_id, event_type, ts, latitude, longitude)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		string(ev.ID),
		string(ev.EmployeeID),
		string(ev.BranchID),
		string(ev.Type),
		ev.Timestamp.UTC().Format(time.RFC3339Nano),
		ev.Latitude,
		ev.Longitude,
	)
	return err
}

// RecentEvents returns up to limit events for the employee, newest first.
func (s *Store) RecentEvents(ctx context.Context, employeeID attendance.EmployeeID, limit int) ([]attendance.AttendanceEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, employee_id, branch_id, event_type, ts, latitude, longitude
		FROM attendance_events
		WHERE employee_id = ?
		ORDER BY ts DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, string(employeeID), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

// EventsInRange returns events in [from, to], oldest first. Empty employeeID
// means all employees.
func (s *Store) EventsInRange(ctx context.Context, employeeID attendance.EmployeeID, from, to time.Time) ([]attendance.AttendanceEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, employee_id, branch_id, event_type, ts, latitude, longitude
		FROM attendance_events
		WHERE ts >= ? AND ts <= ?
	`
	args := []any{from.UTC().Format(time.RFC3339Nano), to.UTC().Format(time.RFC3339Nano)}
	if employeeID != "" {
		query += " AND employee_id = ?"
		args = append(args, string(employeeID))
	}
	query += " ORDER BY ts ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]attendance.AttendanceEvent, error) {
	var events []attendance.AttendanceEvent
	for rows.Next() {
		var ev attendance.AttendanceEvent
		var ts string
		if err := rows.Scan(&ev.ID, &ev.EmployeeID, &ev.BranchID, &ev.Type, &ts, &ev.Latitude, &ev.Longitude); err != nil {
			return nil, err
		}
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("corrupt timestamp %q: %w", ts, err)
		}
		ev.Timestamp = parsed
		events = append(events, ev)
	}
	return events, rows.Err()
}

// =============================================================================
// BRANCH STORE (attendance.BranchStore interface)
// =============================================================================

// ResolveByToken looks a branch up by exact token match.
func (s *Store) ResolveByToken(ctx context.Context, token string) (attendance.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, latitude, longitude, admission_radius_m, token, created_at
		FROM branches WHERE token = ?
	`, token)

	b, err := scanBranch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return attendance.Branch{}, attendance.ErrInvalidToken
	}
	return b, err
}

// SaveBranch inserts or updates a branch record.
func (s *Store) SaveBranch(ctx context.Context, b attendance.Branch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	createdAt := b.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO branches (id, name, latitude, longitude, admission_radius_m, token, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			admission_radius_m = excluded.admission_radius_m,
			token = excluded.token
	`, string(b.ID), b.Name, b.Latitude, b.Longitude, b.AdmissionRadiusMeters, b.Token,
		createdAt.Format(time.RFC3339Nano))
	return err
}

func (s *Store) GetBranch(ctx context.Context, id attendance.BranchID) (attendance.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, latitude, longitude, admission_radius_m, token, created_at
		FROM branches WHERE id = ?
	`, string(id))

	b, err := scanBranch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return attendance.Branch{}, attendance.ErrBranchNotFound
	}
	return b, err
}

func (s *Store) ListBranches(ctx context.Context) ([]attendance.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, latitude, longitude, admission_radius_m, token, created_at
		FROM branches ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var branches []attendance.Branch
	for rows.Next() {
		b, err := scanBranch(rows)
		if err != nil {
			return nil, err
		}
		branches = append(branches, b)
	}
	return branches, rows.Err()
}

func (s *Store) DeleteBranch(ctx context.Context, id attendance.BranchID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM branches WHERE id = ?`, string(id))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return attendance.ErrBranchNotFound
	}
	return nil
}

// RotateToken replaces the branch token, invalidating previously printed
// codes.
func (s *Store) RotateToken(ctx context.Context, id attendance.BranchID, token string) (attendance.Branch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE branches SET token = ? WHERE id = ?`, token, string(id))
	if err != nil {
		return attendance.Branch{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return attendance.Branch{}, err
	}
	if n == 0 {
		return attendance.Branch{}, attendance.ErrBranchNotFound
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, latitude, longitude, admission_radius_m, token, created_at
		FROM branches WHERE id = ?
	`, string(id))
	return scanBranch(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBranch(row rowScanner) (attendance.Branch, error) {
	var b attendance.Branch
	var createdAt string
	if err := row.Scan(&b.ID, &b.Name, &b.Latitude, &b.Longitude, &b.AdmissionRadiusMeters, &b.Token, &createdAt); err != nil {
		return attendance.Branch{}, err
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		b.CreatedAt = t
	}
	return b, nil
}

// =============================================================================
// EMPLOYEE STORE (attendance.EmployeeStore interface)
// =============================================================================

func (s *Store) SaveEmployee(ctx context.Context, e attendance.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO employees (id, name, email, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email
	`, string(e.ID), e.Name, e.Email, createdAt.Format(time.RFC3339Nano))
	return err
}

func (s *Store) GetEmployee(ctx context.Context, id attendance.EmployeeID) (attendance.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, created_at FROM employees WHERE id = ?
	`, string(id))

	e, err := scanEmployee(row)
	if errors.Is(err, sql.ErrNoRows) {
		return attendance.Employee{}, attendance.ErrEmployeeNotFound
	}
	return e, err
}

func (s *Store) ListEmployees(ctx context.Context) ([]attendance.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, email, created_at FROM employees ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var employees []attendance.Employee
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		employees = append(employees, e)
	}
	return employees, rows.Err()
}

func (s *Store) DeleteEmployee(ctx context.Context, id attendance.EmployeeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM employees WHERE id = ?`, string(id))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return attendance.ErrEmployeeNotFound
	}
	return nil
}

func scanEmployee(row rowScanner) (attendance.Employee, error) {
	var e attendance.Employee
	var email sql.NullString
	var createdAt string
	if err := row.Scan(&e.ID, &e.Name, &email, &createdAt); err != nil {
		return attendance.Employee{}, err
	}
	e.Email = email.String
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		e.CreatedAt = t
	}
	return e, nil
}
