// Package store provides attendance.Store implementations.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/warp/presence-engine/attendance"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu        sync.RWMutex
	events    map[attendance.EmployeeID][]attendance.AttendanceEvent
	branches  map[attendance.BranchID]attendance.Branch
	employees map[attendance.EmployeeID]attendance.Employee

	// failAppends makes the next N Append calls fail, to exercise the
	// engine's retry path in tests.
	failAppends int
}

func NewMemory() *Memory {
	return &Memory{
		events:    make(map[attendance.EmployeeID][]attendance.AttendanceEvent),
		branches:  make(map[attendance.BranchID]attendance.Branch),
		employees: make(map[attendance.EmployeeID]attendance.Employee),
	}
}

// FailNextAppends makes the next n Append calls return an error.
func (m *Memory) FailNextAppends(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAppends = n
}

// =============================================================================
// EVENT STORE - Append-only
// =============================================================================

// Append adds a single event. Append-only: there is no update or delete.
func (m *Memory) Append(_ context.Context, ev attendance.AttendanceEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failAppends > 0 {
		m.failAppends--
		return errInjected
	}

	evs := m.events[ev.EmployeeID]

	// Insert keeping chronological order.
	i := sort.Search(len(evs), func(i int) bool {
		return evs[i].Timestamp.After(ev.Timestamp)
	})
	evs = append(evs, attendance.AttendanceEvent{})
	copy(evs[i+1:], evs[i:])
	evs[i] = ev
	m.events[ev.EmployeeID] = evs
	return nil
}

func (m *Memory) RecentEvents(_ context.Context, employeeID attendance.EmployeeID, limit int) ([]attendance.AttendanceEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	evs := m.events[employeeID]
	if limit > len(evs) {
		limit = len(evs)
	}
	result := make([]attendance.AttendanceEvent, 0, limit)
	for i := len(evs) - 1; i >= len(evs)-limit; i-- {
		result = append(result, evs[i])
	}
	return result, nil
}

func (m *Memory) EventsInRange(_ context.Context, employeeID attendance.EmployeeID, from, to time.Time) ([]attendance.AttendanceEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []attendance.AttendanceEvent
	collect := func(evs []attendance.AttendanceEvent) {
		for _, ev := range evs {
			if !ev.Timestamp.Before(from) && !ev.Timestamp.After(to) {
				result = append(result, ev)
			}
		}
	}

	if employeeID != "" {
		collect(m.events[employeeID])
	} else {
		for _, evs := range m.events {
			collect(evs)
		}
		sort.Slice(result, func(i, j int) bool {
			return result[i].Timestamp.Before(result[j].Timestamp)
		})
	}
	return result, nil
}

// =============================================================================
// BRANCH STORE
// =============================================================================

func (m *Memory) ResolveByToken(_ context.Context, token string) (attendance.Branch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, b := range m.branches {
		if b.Token == token {
			return b, nil
		}
	}
	return attendance.Branch{}, attendance.ErrInvalidToken
}

func (m *Memory) SaveBranch(_ context.Context, b attendance.Branch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.branches[b.ID] = b
	return nil
}

func (m *Memory) GetBranch(_ context.Context, id attendance.BranchID) (attendance.Branch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.branches[id]
	if !ok {
		return attendance.Branch{}, attendance.ErrBranchNotFound
	}
	return b, nil
}

func (m *Memory) ListBranches(_ context.Context) ([]attendance.Branch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]attendance.Branch, 0, len(m.branches))
	for _, b := range m.branches {
		result = append(result, b)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) DeleteBranch(_ context.Context, id attendance.BranchID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.branches[id]; !ok {
		return attendance.ErrBranchNotFound
	}
	delete(m.branches, id)
	return nil
}

func (m *Memory) RotateToken(_ context.Context, id attendance.BranchID, token string) (attendance.Branch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.branches[id]
	if !ok {
		return attendance.Branch{}, attendance.ErrBranchNotFound
	}
	b.Token = token
	m.branches[id] = b
	return b, nil
}

// =============================================================================
// EMPLOYEE STORE
// =============================================================================

func (m *Memory) SaveEmployee(_ context.Context, e attendance.Employee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.employees[e.ID] = e
	return nil
}

func (m *Memory) GetEmployee(_ context.Context, id attendance.EmployeeID) (attendance.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.employees[id]
	if !ok {
		return attendance.Employee{}, attendance.ErrEmployeeNotFound
	}
	return e, nil
}

func (m *Memory) ListEmployees(_ context.Context) ([]attendance.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]attendance.Employee, 0, len(m.employees))
	for _, e := range m.employees {
		result = append(result, e)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) DeleteEmployee(_ context.Context, id attendance.EmployeeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.employees[id]; !ok {
		return attendance.ErrEmployeeNotFound
	}
	delete(m.employees, id)
	return nil
}

var errInjected = errors.New("injected store failure")
