/*
engine.go - Check-in orchestration and concurrency discipline

PURPOSE:
  CheckIn is the single entry point for a scan. It resolves the branch from
  the token, derives the only valid next event type from the employee's last
  persisted event, runs the anti-fraud guard, and appends the accepted event
  with a server-assigned timestamp.

CONCURRENCY:
  Read-last-event and append-new-event are one critical section per employee.
  Without this, two concurrent scans for the same employee could both read
  the same last event, both resolve the same next type, and both be accepted,
  breaking strict alternation. The lock is keyed by employee id; scans for
  different employees never contend.

RETRY:
  A storage failure is retried exactly once, re-reading the last event and
  re-deciding before the second attempt (the first attempt may have landed).
  Rejections are never retried. Once the critical section begins it runs to
  completion; no mid-flight cancellation.

TRUST:
  - Event timestamps come from the engine's clock, never the device.
  - The authoritative last event is re-read from the store at decision time,
    never taken from a client-supplied hint.

SEE ALSO:
  - sequence.go: Next-type resolution
  - guard.go: Cooldown, branch-consistency, geofence
  - store.go: Persistence contracts
*/
package attendance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warp/presence-engine/geo"
)

// DefaultMaxReadingAge bounds how old a device location fix may be before the
// scan is rejected as GeolocationUnavailable.
const DefaultMaxReadingAge = 10 * time.Second

// recentEventWindow is how much history the guard needs: the last event for
// sequencing plus the event before it for the same-type cooldown.
const recentEventWindow = 2

// =============================================================================
// ENGINE
// =============================================================================

// Engine decides whether a scan is a valid arrival or departure and persists
// the resulting event. Safe for concurrent use.
type Engine struct {
	store Store
	guard Guard

	// MaxReadingAge rejects stale location fixes. Zero means
	// DefaultMaxReadingAge.
	MaxReadingAge time.Duration

	// Now supplies server-trusted timestamps. Defaults to time.Now.
	Now func() time.Time

	mu    sync.Mutex
	locks map[EmployeeID]*sync.Mutex
}

// NewEngine creates an engine over the given store.
func NewEngine(store Store) *Engine {
	return &Engine{
		store: store,
		locks: make(map[EmployeeID]*sync.Mutex),
	}
}

// SetMinInterval overrides the same-type cooldown window.
func (e *Engine) SetMinInterval(d time.Duration) { e.guard.MinInterval = d }

// =============================================================================
// CHECK-IN - The atomic read-decide-write cycle
// =============================================================================

// CheckIn processes one scan and returns the persisted event or a typed
// rejection. On rejection no event is written.
func (e *Engine) CheckIn(ctx context.Context, token string, employeeID EmployeeID, reading GeoReading) (AttendanceEvent, error) {
	if err := e.validateReading(reading); err != nil {
		return AttendanceEvent{}, err
	}

	// Fail fast on an unknown token before taking the employee lock.
	branch, err := e.store.ResolveByToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrInvalidToken) {
			return AttendanceEvent{}, ErrInvalidToken
		}
		return AttendanceEvent{}, fmt.Errorf("%w: resolving token: %v", ErrPersistenceFailure, err)
	}

	// Critical section: read last event through append must be serialized
	// per employee.
	lock := e.employeeLock(employeeID)
	lock.Lock()
	defer lock.Unlock()

	ev, err := e.decideAndAppend(ctx, branch, employeeID, reading)
	if err != nil && !IsRejection(err) {
		// Transient persistence failure: retry once, re-reading the last
		// event so the retry decides against whatever actually landed.
		ev, err = e.decideAndAppend(ctx, branch, employeeID, reading)
		if err != nil && !IsRejection(err) {
			return AttendanceEvent{}, fmt.Errorf("%w: %v", ErrPersistenceFailure, err)
		}
	}
	return ev, err
}

// decideAndAppend runs one read-decide-write cycle. Caller holds the
// employee lock.
func (e *Engine) decideAndAppend(ctx context.Context, branch Branch, employeeID EmployeeID, reading GeoReading) (AttendanceEvent, error) {
	history, err := e.store.RecentEvents(ctx, employeeID, recentEventWindow)
	if err != nil {
		return AttendanceEvent{}, err
	}

	var last *AttendanceEvent
	if len(history) > 0 {
		last = &history[0]
	}

	candidate := AttendanceEvent{
		ID:         EventID(uuid.NewString()),
		EmployeeID: employeeID,
		BranchID:   branch.ID,
		Type:       NextType(last),
		Timestamp:  e.now(),
		Latitude:   reading.Latitude,
		Longitude:  reading.Longitude,
	}

	if err := e.guard.Validate(candidate, history, branch); err != nil {
		return AttendanceEvent{}, err
	}

	if err := e.store.Append(ctx, candidate); err != nil {
		return AttendanceEvent{}, err
	}
	return candidate, nil
}

// LastEvent returns the employee's most recent event, or nil if they have
// none. Read-only; used by status endpoints.
func (e *Engine) LastEvent(ctx context.Context, employeeID EmployeeID) (*AttendanceEvent, error) {
	history, err := e.store.RecentEvents(ctx, employeeID, 1)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistenceFailure, err)
	}
	if len(history) == 0 {
		return nil, nil
	}
	return &history[0], nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (e *Engine) validateReading(reading GeoReading) error {
	if !geo.ValidCoordinate(reading.Latitude, reading.Longitude) {
		return ErrGeolocationUnavailable
	}
	maxAge := e.MaxReadingAge
	if maxAge == 0 {
		maxAge = DefaultMaxReadingAge
	}
	if !reading.CapturedAt.IsZero() && e.now().Sub(reading.CapturedAt) > maxAge {
		return ErrGeolocationUnavailable
	}
	return nil
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now().UTC()
}

func (e *Engine) employeeLock(id EmployeeID) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[id] = lock
	}
	return lock
}
