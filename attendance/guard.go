/*
guard.go - Anti-fraud checks for a candidate event

PURPOSE:
  Validates a candidate event against the employee's recent history and the
  target branch. Three checks run in order and short-circuit on the first
  failure; there is no partial acceptance.

CHECKS:
  1. Cooldown:          No two same-type events inside MinInterval. Enforced
                        against the most recent event of the candidate's type,
                        which under strict alternation is the event before
                        last. This is what suppresses double-taps and
                        duplicate network retries.
  2. Branch consistency: A departure must occur at the branch of the matching
                        arrival.
  3. Geofence:          The reported position must lie within the branch's
                        admission radius (haversine distance).

SEE ALSO:
  - geo: Distance computation
  - engine.go: Calls Validate inside the per-employee critical section
*/
package attendance

import (
	"time"

	"github.com/warp/presence-engine/geo"
)

// DefaultMinInterval is the cooldown between two same-type events for the
// same employee.
const DefaultMinInterval = 30 * time.Second

// Guard rejects candidate events that violate minimum-interval or
// branch-consistency rules, or fall outside the branch geofence.
type Guard struct {
	// MinInterval is the minimum elapsed time between two same-type events.
	// Zero means DefaultMinInterval.
	MinInterval time.Duration
}

func (g Guard) minInterval() time.Duration {
	if g.MinInterval > 0 {
		return g.MinInterval
	}
	return DefaultMinInterval
}

// Validate checks a candidate event against the employee's recent history
// (newest first) and the resolved branch. Returns nil on acceptance or one
// typed rejection. history must contain at least the last two events (fewer
// if the employee has fewer).
func (g Guard) Validate(candidate AttendanceEvent, history []AttendanceEvent, branch Branch) error {
	// Cooldown: most recent event of the same type, regardless of position.
	// Under strict alternation that is history[1], but scanning also covers
	// the race where history[0] already has the candidate's type.
	for _, prev := range history {
		if prev.Type != candidate.Type {
			continue
		}
		if elapsed := candidate.Timestamp.Sub(prev.Timestamp); elapsed < g.minInterval() {
			return &RateLimitedError{
				Type:       candidate.Type,
				LastAt:     prev.Timestamp,
				RetryAfter: g.minInterval() - elapsed,
			}
		}
		break
	}

	// Branch consistency: a departure closes the immediately preceding
	// arrival and must name the same branch.
	if candidate.Type == EventDeparture && len(history) > 0 {
		if last := history[0]; last.Type == EventArrival && last.BranchID != candidate.BranchID {
			return &BranchMismatchError{
				ArrivalBranch:   last.BranchID,
				DepartureBranch: candidate.BranchID,
			}
		}
	}

	// Geofence: raw reported coordinates against the admission radius.
	// AccuracyMeters is deliberately not folded into the radius.
	distance := geo.DistanceMeters(candidate.Latitude, candidate.Longitude, branch.Latitude, branch.Longitude)
	if distance > branch.AdmissionRadiusMeters {
		return &GeofenceError{
			BranchID:       branch.ID,
			DistanceMeters: distance,
			RadiusMeters:   branch.AdmissionRadiusMeters,
		}
	}

	return nil
}
