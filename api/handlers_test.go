package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/presence-engine/api"
	"github.com/warp/presence-engine/attendance"
	memstore "github.com/warp/presence-engine/attendance/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testServer struct {
	handler *api.Handler
	store   *memstore.Memory
	router  http.Handler
	now     time.Time
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store := memstore.NewMemory()
	handler := api.NewHandler(store)

	ts := &testServer{
		handler: handler,
		store:   store,
		router:  api.NewRouter(handler),
		now:     time.Date(2025, time.March, 10, 10, 0, 0, 0, time.UTC),
	}
	handler.Engine.Now = func() time.Time { return ts.now }
	return ts
}

func (ts *testServer) seedBranch(t *testing.T, id, token string, lat, lon float64) {
	t.Helper()
	require.NoError(t, ts.store.SaveBranch(context.Background(), attendance.Branch{
		ID:                    attendance.BranchID(id),
		Name:                  id,
		Latitude:              lat,
		Longitude:             lon,
		AdmissionRadiusMeters: 100,
		Token:                 token,
	}))
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func checkInBody(token, employeeID string, lat, lon float64) map[string]any {
	return map[string]any{
		"token":       token,
		"employee_id": employeeID,
		"latitude":    lat,
		"longitude":   lon,
	}
}

// =============================================================================
// CHECK-IN ENDPOINT
// =============================================================================

func TestAPI_CheckIn_Arrival(t *testing.T) {
	ts := newTestServer(t)
	ts.seedBranch(t, "branch-a", "token-a", 10.0, -75.0)

	rec := ts.do(t, http.MethodPost, "/api/checkin", checkInBody("token-a", "emp-1", 10.0, -75.0))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	ev := decode[api.EventDTO](t, rec)
	assert.Equal(t, "arrival", ev.Type)
	assert.Equal(t, "branch-a", ev.BranchID)
	assert.Equal(t, "emp-1", ev.EmployeeID)
	assert.NotEmpty(t, ev.ID)
}

func TestAPI_CheckIn_InvalidToken(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/checkin", checkInBody("stale", "emp-1", 10.0, -75.0))
	require.Equal(t, http.StatusNotFound, rec.Code)

	resp := decode[api.ErrorResponse](t, rec)
	assert.Equal(t, "invalid_token", resp.Code)
}

func TestAPI_CheckIn_OutsideGeofence(t *testing.T) {
	ts := newTestServer(t)
	ts.seedBranch(t, "branch-a", "token-a", 10.0, -75.0)

	rec := ts.do(t, http.MethodPost, "/api/checkin", checkInBody("token-a", "emp-1", 10.00135, -75.0))
	require.Equal(t, http.StatusForbidden, rec.Code)

	resp := decode[api.ErrorResponse](t, rec)
	assert.Equal(t, "geofence_violation", resp.Code)
}

func TestAPI_CheckIn_BranchMismatch(t *testing.T) {
	ts := newTestServer(t)
	ts.seedBranch(t, "branch-a", "token-a", 10.0, -75.0)
	ts.seedBranch(t, "branch-b", "token-b", 10.2, -75.0)

	rec := ts.do(t, http.MethodPost, "/api/checkin", checkInBody("token-a", "emp-1", 10.0, -75.0))
	require.Equal(t, http.StatusCreated, rec.Code)

	ts.now = ts.now.Add(5 * time.Minute)
	rec = ts.do(t, http.MethodPost, "/api/checkin", checkInBody("token-b", "emp-1", 10.2, -75.0))
	require.Equal(t, http.StatusConflict, rec.Code)

	resp := decode[api.ErrorResponse](t, rec)
	assert.Equal(t, "branch_mismatch", resp.Code)
}

func TestAPI_CheckIn_RateLimited(t *testing.T) {
	ts := newTestServer(t)
	ts.seedBranch(t, "branch-a", "token-a", 10.0, -75.0)

	rec := ts.do(t, http.MethodPost, "/api/checkin", checkInBody("token-a", "emp-1", 10.0, -75.0))
	require.Equal(t, http.StatusCreated, rec.Code)

	ts.now = ts.now.Add(10 * time.Second)
	rec = ts.do(t, http.MethodPost, "/api/checkin", checkInBody("token-a", "emp-1", 10.0, -75.0))
	require.Equal(t, http.StatusCreated, rec.Code, "departure 10s later is fine")

	ts.now = ts.now.Add(5 * time.Second)
	rec = ts.do(t, http.MethodPost, "/api/checkin", checkInBody("token-a", "emp-1", 10.0, -75.0))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	resp := decode[api.ErrorResponse](t, rec)
	assert.Equal(t, "rate_limited", resp.Code)
}

func TestAPI_CheckIn_MissingFields(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/checkin", map[string]any{"token": "token-a"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// BRANCH ENDPOINTS
// =============================================================================

func TestAPI_CreateBranch_GeneratesToken(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/branches", map[string]any{
		"name":      "Centro",
		"latitude":  10.0,
		"longitude": -75.0,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	b := decode[api.BranchDTO](t, rec)
	assert.NotEmpty(t, b.ID)
	assert.NotEmpty(t, b.Token, "token is server-generated")
	assert.Equal(t, 100.0, b.RadiusMeters, "default admission radius")
}

func TestAPI_RotateToken_InvalidatesPrintedCodes(t *testing.T) {
	ts := newTestServer(t)
	ts.seedBranch(t, "branch-a", "token-old", 10.0, -75.0)

	rec := ts.do(t, http.MethodPost, "/api/branches/branch-a/rotate-token", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	b := decode[api.BranchDTO](t, rec)
	assert.NotEqual(t, "token-old", b.Token)

	// The old code no longer checks anyone in.
	rec = ts.do(t, http.MethodPost, "/api/checkin", checkInBody("token-old", "emp-1", 10.0, -75.0))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// The new one does.
	rec = ts.do(t, http.MethodPost, "/api/checkin", checkInBody(b.Token, "emp-1", 10.0, -75.0))
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestAPI_UpdateBranch_PartialBodyKeepsCoordinates(t *testing.T) {
	// GIVEN: a branch at (10, -75)
	// WHEN: the update body carries only a new name
	// THEN: coordinates and radius survive, and scans there still pass the fence
	ts := newTestServer(t)
	ts.seedBranch(t, "branch-a", "token-a", 10.0, -75.0)

	rec := ts.do(t, http.MethodPut, "/api/branches/branch-a", map[string]any{"name": "Centro Historico"})
	require.Equal(t, http.StatusOK, rec.Code)

	b := decode[api.BranchDTO](t, rec)
	assert.Equal(t, "Centro Historico", b.Name)
	assert.Equal(t, 10.0, b.Latitude)
	assert.Equal(t, -75.0, b.Longitude)
	assert.Equal(t, 100.0, b.RadiusMeters)

	rec = ts.do(t, http.MethodPost, "/api/checkin", checkInBody("token-a", "emp-1", 10.0, -75.0))
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestAPI_UpdateBranch_MovesWhenCoordinatesGiven(t *testing.T) {
	ts := newTestServer(t)
	ts.seedBranch(t, "branch-a", "token-a", 10.0, -75.0)

	rec := ts.do(t, http.MethodPut, "/api/branches/branch-a", map[string]any{
		"latitude":  10.2,
		"longitude": -75.1,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	b := decode[api.BranchDTO](t, rec)
	assert.Equal(t, 10.2, b.Latitude)
	assert.Equal(t, -75.1, b.Longitude)
}

func TestAPI_GetBranch_NotFound(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/branches/branch-ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// EMPLOYEE ENDPOINTS
// =============================================================================

func TestAPI_EmployeeLifecycleAndStatus(t *testing.T) {
	ts := newTestServer(t)
	ts.seedBranch(t, "branch-a", "token-a", 10.0, -75.0)

	rec := ts.do(t, http.MethodPost, "/api/employees", map[string]any{
		"id":   "emp-1",
		"name": "Ana",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	// Off-site before any scan.
	rec = ts.do(t, http.MethodGet, "/api/employees/emp-1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[api.StatusDTO](t, rec)
	assert.False(t, status.OnSite)
	assert.Nil(t, status.LastEvent)

	// On-site after an arrival.
	rec = ts.do(t, http.MethodPost, "/api/checkin", checkInBody("token-a", "emp-1", 10.0, -75.0))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/employees/emp-1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status = decode[api.StatusDTO](t, rec)
	assert.True(t, status.OnSite)
	require.NotNil(t, status.LastEvent)
	assert.Equal(t, "arrival", status.LastEvent.Type)
}

// =============================================================================
// PRESENCE
// =============================================================================

func TestAPI_Presence_ListsOnSiteEmployees(t *testing.T) {
	ts := newTestServer(t)
	// The presence endpoint derives the roster against the wall clock, so the
	// scans have to land in the recent past.
	ts.now = time.Now().UTC().Add(-2 * time.Hour)
	ts.seedBranch(t, "branch-a", "token-a", 10.0, -75.0)
	require.NoError(t, ts.store.SaveEmployee(context.Background(), attendance.Employee{ID: "emp-1", Name: "Ana"}))
	require.NoError(t, ts.store.SaveEmployee(context.Background(), attendance.Employee{ID: "emp-2", Name: "Bruno"}))

	// Ana arrives and stays; Bruno arrives and leaves.
	rec := ts.do(t, http.MethodPost, "/api/checkin", checkInBody("token-a", "emp-1", 10.0, -75.0))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/checkin", checkInBody("token-a", "emp-2", 10.0, -75.0))
	require.Equal(t, http.StatusCreated, rec.Code)
	ts.now = ts.now.Add(time.Hour)
	rec = ts.do(t, http.MethodPost, "/api/checkin", checkInBody("token-a", "emp-2", 10.0, -75.0))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/presence", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	roster := decode[[]api.PresenceDTO](t, rec)
	require.Len(t, roster, 1)
	assert.Equal(t, "emp-1", roster[0].EmployeeID)
	assert.Equal(t, "Ana", roster[0].EmployeeName)
	assert.Equal(t, "branch-a", roster[0].BranchID)
}

// =============================================================================
// HEALTH
// =============================================================================

func TestAPI_Health(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
