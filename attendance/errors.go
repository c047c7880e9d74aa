/*
errors.go - Rejection taxonomy for the check-in engine

PURPOSE:
  All rejection kinds in one place. Handlers and callers branch on the
  sentinels with errors.Is(); structured types carry the context needed for
  a useful client message and unwrap to their sentinel.

CATEGORIES:
  1. Scan rejections - InvalidToken, GeofenceViolation, BranchMismatch,
     RateLimited, GeolocationUnavailable
  2. Infrastructure - PersistenceFailure (retried once internally)
  3. Record lookups - branch/employee not found

USAGE:
  _, err := engine.CheckIn(ctx, token, emp, reading)
  if errors.Is(err, attendance.ErrRateLimited) {
      var rl *attendance.RateLimitedError
      errors.As(err, &rl)
      // rl.RetryAfter
  }

SEE ALSO:
  - guard.go: Produces GeofenceViolation, BranchMismatch, RateLimited
  - engine.go: Produces InvalidToken, GeolocationUnavailable, PersistenceFailure
*/
package attendance

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidToken is returned when a scanned token matches no branch.
	// Non-retryable without a new scan.
	ErrInvalidToken = errors.New("invalid token")

	// ErrGeolocationUnavailable is returned when the device reading is
	// missing, malformed, or stale. Retryable by re-scanning.
	ErrGeolocationUnavailable = errors.New("geolocation unavailable")

	// ErrGeofenceViolation is returned when the reported position lies
	// outside the branch admission radius.
	ErrGeofenceViolation = errors.New("outside branch admission radius")

	// ErrBranchMismatch is returned when a departure is attempted at a
	// different branch than the matching arrival.
	ErrBranchMismatch = errors.New("departure branch does not match arrival branch")

	// ErrRateLimited is returned when a same-type event falls inside the
	// cooldown window. Retryable after the cooldown elapses.
	ErrRateLimited = errors.New("duplicate scan within cooldown window")

	// ErrPersistenceFailure is returned when the storage transaction failed
	// and the single automatic retry failed too.
	ErrPersistenceFailure = errors.New("persistence failure")

	// ErrBranchNotFound is returned by branch lookups by id.
	ErrBranchNotFound = errors.New("branch not found")

	// ErrEmployeeNotFound is returned by employee lookups by id.
	ErrEmployeeNotFound = errors.New("employee not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry rejection context
// =============================================================================

// GeofenceError reports how far outside the admission radius the reading was.
type GeofenceError struct {
	BranchID       BranchID
	DistanceMeters float64
	RadiusMeters   float64
}

func (e *GeofenceError) Error() string {
	return fmt.Sprintf("outside admission radius of branch %s: %.0fm away, radius %.0fm",
		e.BranchID, e.DistanceMeters, e.RadiusMeters)
}

func (e *GeofenceError) Unwrap() error { return ErrGeofenceViolation }

// BranchMismatchError reports the branch pair involved in a rejected departure.
type BranchMismatchError struct {
	ArrivalBranch   BranchID
	DepartureBranch BranchID
}

func (e *BranchMismatchError) Error() string {
	return fmt.Sprintf("departure at branch %s but arrival was at branch %s",
		e.DepartureBranch, e.ArrivalBranch)
}

func (e *BranchMismatchError) Unwrap() error { return ErrBranchMismatch }

// RateLimitedError reports when the duplicate scan may be retried.
type RateLimitedError struct {
	Type       EventType
	LastAt     time.Time
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s already recorded at %s, retry in %s",
		e.Type, e.LastAt.Format(time.RFC3339), e.RetryAfter.Round(time.Second))
}

func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the same scan might succeed later without the
// employee moving or re-scanning a different code.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrGeolocationUnavailable) ||
		errors.Is(err, ErrPersistenceFailure)
}

// IsRejection returns true if the error is a scan rejection rather than an
// infrastructure failure. Rejections are final decisions: no event was
// written and no internal retry applies.
func IsRejection(err error) bool {
	return errors.Is(err, ErrInvalidToken) ||
		errors.Is(err, ErrGeolocationUnavailable) ||
		errors.Is(err, ErrGeofenceViolation) ||
		errors.Is(err, ErrBranchMismatch) ||
		errors.Is(err, ErrRateLimited)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrBranchNotFound) ||
		errors.Is(err, ErrEmployeeNotFound)
}
