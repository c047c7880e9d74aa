package attendance_test

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/presence-engine/attendance"
	memstore "github.com/warp/presence-engine/attendance/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type clock struct {
	mu sync.Mutex
	at time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.at
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.at = c.at.Add(d)
}

func (c *clock) set(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.at = at
}

func newTestEngine(t *testing.T) (*attendance.Engine, *memstore.Memory, *clock) {
	t.Helper()

	store := memstore.NewMemory()
	engine := attendance.NewEngine(store)

	clk := &clock{at: time.Date(2025, time.March, 10, 10, 0, 0, 0, time.UTC)}
	engine.Now = clk.now

	ctx := context.Background()
	require.NoError(t, store.SaveBranch(ctx, attendance.Branch{
		ID:                    "branch-a",
		Name:                  "Centro",
		Latitude:              10.0,
		Longitude:             -75.0,
		AdmissionRadiusMeters: 100,
		Token:                 "token-a",
	}))
	require.NoError(t, store.SaveBranch(ctx, attendance.Branch{
		ID:                    "branch-b",
		Name:                  "Norte",
		Latitude:              10.2,
		Longitude:             -75.0,
		AdmissionRadiusMeters: 100,
		Token:                 "token-b",
	}))
	require.NoError(t, store.SaveEmployee(ctx, attendance.Employee{ID: "emp-1", Name: "Ana"}))

	return engine, store, clk
}

func readingAt(lat, lon float64) attendance.GeoReading {
	return attendance.GeoReading{Latitude: lat, Longitude: lon}
}

// =============================================================================
// ACCEPTANCE
// =============================================================================

func TestCheckIn_FirstScan_IsArrival(t *testing.T) {
	// GIVEN: an employee with no prior events, scanning at the branch
	// THEN: the scan is accepted as an arrival with a server timestamp
	engine, store, clk := newTestEngine(t)
	ctx := context.Background()

	ev, err := engine.CheckIn(ctx, "token-a", "emp-1", readingAt(10.0, -75.0))
	require.NoError(t, err)

	assert.Equal(t, attendance.EventArrival, ev.Type)
	assert.Equal(t, attendance.BranchID("branch-a"), ev.BranchID)
	assert.Equal(t, attendance.EmployeeID("emp-1"), ev.EmployeeID)
	assert.Equal(t, clk.now(), ev.Timestamp, "timestamp comes from the server clock")
	assert.NotEmpty(t, ev.ID)

	persisted, err := store.RecentEvents(ctx, "emp-1", 10)
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Equal(t, ev, persisted[0])
}

func TestCheckIn_SequenceStrictlyAlternates(t *testing.T) {
	// A full week of scans never produces two consecutive equal types.
	engine, store, clk := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := engine.CheckIn(ctx, "token-a", "emp-1", readingAt(10.0, -75.0))
		require.NoError(t, err)
		clk.advance(4 * time.Hour)
	}

	events, err := store.EventsInRange(ctx, "emp-1", time.Time{}, clk.now())
	require.NoError(t, err)
	require.Len(t, events, 10)

	for i, ev := range events {
		if i%2 == 0 {
			assert.Equal(t, attendance.EventArrival, ev.Type, "event %d", i)
		} else {
			assert.Equal(t, attendance.EventDeparture, ev.Type, "event %d", i)
		}
	}
}

func TestCheckIn_DepartureWithinCooldownOfArrival_Accepted(t *testing.T) {
	// GIVEN: an arrival at 10:00:00
	// WHEN: scanning again at 10:00:10
	// THEN: accepted as departure - the cooldown only pairs same-type events
	engine, _, clk := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.CheckIn(ctx, "token-a", "emp-1", readingAt(10.0, -75.0))
	require.NoError(t, err)

	clk.advance(10 * time.Second)
	ev, err := engine.CheckIn(ctx, "token-a", "emp-1", readingAt(10.0, -75.0))
	require.NoError(t, err)
	assert.Equal(t, attendance.EventDeparture, ev.Type)
}

// =============================================================================
// REJECTIONS
// =============================================================================

func TestCheckIn_UnknownToken_Rejected(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.CheckIn(ctx, "no-such-token", "emp-1", readingAt(10.0, -75.0))
	assert.ErrorIs(t, err, attendance.ErrInvalidToken)

	persisted, _ := store.RecentEvents(ctx, "emp-1", 10)
	assert.Empty(t, persisted, "rejected scans write nothing")
}

func TestCheckIn_OutsideGeofence_Rejected(t *testing.T) {
	// GIVEN: a branch at (10.0000, -75.0000), radius 100m
	// WHEN: scanning from ~150m away
	// THEN: GeofenceViolation and no event persisted
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.CheckIn(ctx, "token-a", "emp-1", readingAt(10.00135, -75.0))
	require.Error(t, err)
	assert.ErrorIs(t, err, attendance.ErrGeofenceViolation)

	var geofence *attendance.GeofenceError
	require.ErrorAs(t, err, &geofence)
	assert.InDelta(t, 150, geofence.DistanceMeters, 2)

	persisted, _ := store.RecentEvents(ctx, "emp-1", 10)
	assert.Empty(t, persisted)
}

func TestCheckIn_DepartureAtWrongBranch_Rejected(t *testing.T) {
	// GIVEN: an arrival at branch A at 10:00
	// WHEN: scanning at branch B at 10:05, within range of B
	// THEN: BranchMismatch - the expected departure must be at A
	engine, store, clk := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.CheckIn(ctx, "token-a", "emp-1", readingAt(10.0, -75.0))
	require.NoError(t, err)

	clk.advance(5 * time.Minute)
	_, err = engine.CheckIn(ctx, "token-b", "emp-1", readingAt(10.2, -75.0))
	assert.ErrorIs(t, err, attendance.ErrBranchMismatch)

	persisted, _ := store.RecentEvents(ctx, "emp-1", 10)
	assert.Len(t, persisted, 1, "only the arrival is persisted")
}

func TestCheckIn_DuplicateScanWithinCooldown_RateLimited(t *testing.T) {
	// GIVEN: arrival 10:00:00, departure 10:00:10 (both accepted)
	// WHEN: an identical scan arrives at 10:00:15
	// THEN: the resolved arrival falls inside the cooldown of the 10:00:00
	//       arrival and is rejected as RateLimited
	engine, store, clk := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.CheckIn(ctx, "token-a", "emp-1", readingAt(10.0, -75.0))
	require.NoError(t, err)

	clk.advance(10 * time.Second)
	_, err = engine.CheckIn(ctx, "token-a", "emp-1", readingAt(10.0, -75.0))
	require.NoError(t, err)

	clk.advance(5 * time.Second)
	_, err = engine.CheckIn(ctx, "token-a", "emp-1", readingAt(10.0, -75.0))
	require.Error(t, err)
	assert.ErrorIs(t, err, attendance.ErrRateLimited)

	var rl *attendance.RateLimitedError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 15*time.Second, rl.RetryAfter)

	persisted, _ := store.RecentEvents(ctx, "emp-1", 10)
	assert.Len(t, persisted, 2)
}

func TestCheckIn_CooldownElapsed_Accepted(t *testing.T) {
	engine, _, clk := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.CheckIn(ctx, "token-a", "emp-1", readingAt(10.0, -75.0))
	require.NoError(t, err)

	clk.advance(10 * time.Second)
	_, err = engine.CheckIn(ctx, "token-a", "emp-1", readingAt(10.0, -75.0))
	require.NoError(t, err)

	clk.advance(31 * time.Second) // clears the 30s window from the arrival
	ev, err := engine.CheckIn(ctx, "token-a", "emp-1", readingAt(10.0, -75.0))
	require.NoError(t, err)
	assert.Equal(t, attendance.EventArrival, ev.Type)
}

func TestCheckIn_InvalidReading_Rejected(t *testing.T) {
	engine, _, clk := newTestEngine(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		reading attendance.GeoReading
	}{
		{"NaN latitude", attendance.GeoReading{Latitude: math.NaN(), Longitude: -75.0}},
		{"latitude out of range", attendance.GeoReading{Latitude: 95.0, Longitude: -75.0}},
		{"stale fix", attendance.GeoReading{
			Latitude:   10.0,
			Longitude:  -75.0,
			CapturedAt: clk.now().Add(-time.Minute),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.CheckIn(ctx, "token-a", "emp-1", tt.reading)
			assert.ErrorIs(t, err, attendance.ErrGeolocationUnavailable)
		})
	}
}

func TestCheckIn_FreshCapturedAt_Accepted(t *testing.T) {
	engine, _, clk := newTestEngine(t)
	ctx := context.Background()

	reading := attendance.GeoReading{
		Latitude:       10.0,
		Longitude:      -75.0,
		AccuracyMeters: 12,
		CapturedAt:     clk.now().Add(-3 * time.Second),
	}
	_, err := engine.CheckIn(ctx, "token-a", "emp-1", reading)
	assert.NoError(t, err)
}

// =============================================================================
// PERSISTENCE RETRY
// =============================================================================

func TestCheckIn_TransientStoreFailure_RetriedOnce(t *testing.T) {
	// GIVEN: the store fails the first append
	// THEN: the engine retries once, re-reading the last event, and succeeds
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()

	store.FailNextAppends(1)
	ev, err := engine.CheckIn(ctx, "token-a", "emp-1", readingAt(10.0, -75.0))
	require.NoError(t, err)
	assert.Equal(t, attendance.EventArrival, ev.Type)

	persisted, _ := store.RecentEvents(ctx, "emp-1", 10)
	assert.Len(t, persisted, 1)
}

func TestCheckIn_PersistentStoreFailure_Surfaced(t *testing.T) {
	// Retry is single-shot: a second failure surfaces PersistenceFailure.
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()

	store.FailNextAppends(2)
	_, err := engine.CheckIn(ctx, "token-a", "emp-1", readingAt(10.0, -75.0))
	assert.ErrorIs(t, err, attendance.ErrPersistenceFailure)

	persisted, _ := store.RecentEvents(ctx, "emp-1", 10)
	assert.Empty(t, persisted)
}

// =============================================================================
// CONCURRENCY - the read-decide-write cycle is serialized per employee
// =============================================================================

func TestCheckIn_ConcurrentScansSameEmployee_AlternationHolds(t *testing.T) {
	// GIVEN: 8 identical scans for the same employee at the same instant
	// THEN: the lock serializes them - the first becomes arrival, the second
	//       departure, the rest hit the arrival cooldown; the persisted log
	//       still strictly alternates
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()

	const scans = 8
	var wg sync.WaitGroup
	errs := make([]error, scans)

	for i := 0; i < scans; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = engine.CheckIn(ctx, "token-a", "emp-1", readingAt(10.0, -75.0))
		}(i)
	}
	wg.Wait()

	var accepted, rateLimited int
	for _, err := range errs {
		switch {
		case err == nil:
			accepted++
		case assert.ErrorIs(t, err, attendance.ErrRateLimited):
			rateLimited++
		}
	}
	assert.Equal(t, 2, accepted)
	assert.Equal(t, scans-2, rateLimited)

	events, err := store.RecentEvents(ctx, "emp-1", scans)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, attendance.EventDeparture, events[0].Type)
	assert.Equal(t, attendance.EventArrival, events[1].Type)
}

func TestCheckIn_ConcurrentScansDifferentEmployees_NoContention(t *testing.T) {
	// Locks are keyed per employee: independent employees all get arrivals.
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()

	ids := []attendance.EmployeeID{"emp-1", "emp-2", "emp-3", "emp-4"}
	for _, id := range ids {
		require.NoError(t, store.SaveEmployee(ctx, attendance.Employee{ID: id}))
	}

	var wg sync.WaitGroup
	errs := make([]error, len(ids))
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id attendance.EmployeeID) {
			defer wg.Done()
			_, errs[i] = engine.CheckIn(ctx, "token-a", id, readingAt(10.0, -75.0))
		}(i, id)
	}
	wg.Wait()

	for i, id := range ids {
		require.NoError(t, errs[i])
		last, err := engine.LastEvent(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, last)
		assert.Equal(t, attendance.EventArrival, last.Type)
	}
}

// =============================================================================
// STATUS
// =============================================================================

func TestLastEvent_ReflectsLog(t *testing.T) {
	engine, _, clk := newTestEngine(t)
	ctx := context.Background()

	last, err := engine.LastEvent(ctx, "emp-1")
	require.NoError(t, err)
	assert.Nil(t, last, "no events yet")

	_, err = engine.CheckIn(ctx, "token-a", "emp-1", readingAt(10.0, -75.0))
	require.NoError(t, err)
	clk.advance(time.Hour)

	last, err = engine.LastEvent(ctx, "emp-1")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, attendance.OnSite(last))
}
