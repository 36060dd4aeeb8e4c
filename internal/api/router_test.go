package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fleet-route-service/internal/adapters/lock"
	"fleet-route-service/internal/adapters/memory"
	"fleet-route-service/internal/api/dto"
	"fleet-route-service/internal/domain"
	"fleet-route-service/internal/ports"
	"fleet-route-service/internal/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	handler    http.Handler
	aggregator *services.TelemetryAggregator
	vehicles   *memory.VehicleRepository
}

// busyLocker refuses every lock, as if another replica held it.
type busyLocker struct{}

func (busyLocker) TryLock(context.Context, string) (func(), error) {
	return nil, domain.ErrOptimizationInProgress
}

func newTestServer(t *testing.T, locker ports.RouteLocker) *testServer {
	t.Helper()
	if locker == nil {
		locker = lock.NewLocalLocker()
	}

	vehicles := memory.NewVehicleRepository()
	aggregator := services.NewTelemetryAggregator(memory.NewPositionRepository(), 0, nil)
	tracker := services.NewRouteTracker(memory.NewRouteRepository(), locker, services.TrackerConfig{})

	return &testServer{
		handler: NewRouter(Deps{
			Tracker:    tracker,
			Aggregator: aggregator,
			Vehicles:   vehicles,
		}),
		aggregator: aggregator,
		vehicles:   vehicles,
	}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, r)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

const routeBody = `{
	"name": "jhb north",
	"vehicle_id": "veh-1",
	"start": {"lat": -26.1950, "lon": 28.0340},
	"stops": [
		{"id": "sandton", "coordinate": {"lat": -26.1076, "lon": 28.0567}},
		{"id": "rosebank", "coordinate": {"lat": -26.1473, "lon": 28.0407}},
		{"id": "midrand", "coordinate": {"lat": -25.9950, "lon": 28.1290}}
	]
}`

func createRoute(t *testing.T, s *testServer) dto.RouteResponse {
	t.Helper()
	w := s.do(t, http.MethodPost, "/routes", routeBody)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[dto.RouteResponse](t, w)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = s.do(t, http.MethodPost, "/health", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHealthReportsStorageFailure(t *testing.T) {
	handler := NewRouter(Deps{Ping: func(context.Context) error { return errors.New("disk gone") }})

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "degraded")
}

func TestRequestIDIsPropagated(t *testing.T) {
	s := newTestServer(t, nil)

	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.Header.Set("X-Request-ID", "abc-123")
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, r)

	assert.Equal(t, "abc-123", w.Header().Get("X-Request-ID"))
}

func TestOptimizeEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodPost, "/optimize", `{
		"start": {"lat": -26.1950, "lon": 28.0340},
		"algorithm": "simulated_annealing",
		"seed": 7,
		"reference_time": "2024-03-04T08:00:00Z",
		"stops": [
			{"id": "a", "coordinate": {"lat": -26.1076, "lon": 28.0567}, "service_duration_minutes": 10},
			{"id": "b", "coordinate": {"lat": -26.1473, "lon": 28.0407}}
		]
	}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	res := decode[dto.OptimizeResponse](t, w)
	require.Len(t, res.Sequence, 2)
	assert.Equal(t, "b", res.Sequence[0].StopID)
	assert.Equal(t, 1, res.Sequence[0].Sequence)
	assert.Equal(t, 2, res.Sequence[1].Sequence)
	assert.Greater(t, res.TotalDistanceKm, 0.0)
	assert.Equal(t, "simulated_annealing", res.Metadata["algorithm"])
	assert.True(t, res.Sequence[0].EstimatedArrival.After(time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)))
}

func TestOptimizeEndpointErrors(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"empty stops", `{"stops": []}`, http.StatusBadRequest},
		{"bad coordinate", `{"stops": [{"coordinate": {"lat": 91, "lon": 0}}]}`, http.StatusBadRequest},
		{"unknown algorithm", `{"algorithm": "ant_colony", "stops": [{"coordinate": {"lat": 1, "lon": 1}}]}`, http.StatusBadRequest},
		{"unknown field", `{"stops": [], "depot": "x"}`, http.StatusBadRequest},
		{"trailing data", `{"stops": []} {}`, http.StatusBadRequest},
		{"not json", `stops`, http.StatusBadRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, "/optimize", tc.body)
			assert.Equal(t, tc.want, w.Code, w.Body.String())
			assert.Contains(t, w.Body.String(), `"error"`)
		})
	}
}

func TestRouteLifecycleEndpoints(t *testing.T) {
	s := newTestServer(t, nil)
	created := createRoute(t, s)
	assert.Equal(t, "draft", created.Status)
	assert.Empty(t, created.Checkpoints)

	w := s.do(t, http.MethodPost, "/routes/"+created.ID+"/optimize", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	optimized := decode[dto.RouteResponse](t, w)
	require.Len(t, optimized.Checkpoints, 3)
	assert.True(t, optimized.IsOptimized)
	assert.Equal(t, 3, optimized.TotalTasks)

	w = s.do(t, http.MethodPatch, "/routes/"+created.ID+"/status", `{"status": "active"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	active := decode[dto.RouteResponse](t, w)
	assert.Equal(t, "active", active.Status)
	assert.NotNil(t, active.ActualStart)

	cpID := optimized.Checkpoints[0].ID
	w = s.do(t, http.MethodPost, "/checkpoints/"+cpID+"/arrival", `{"arrived_at": "2024-03-04T08:20:00Z"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	cp := decode[dto.CheckpointResponse](t, w)
	assert.True(t, cp.Completed)
	require.NotNil(t, cp.ActualArrival)
	assert.True(t, cp.ActualArrival.Equal(time.Date(2024, 3, 4, 8, 20, 0, 0, time.UTC)))

	w = s.do(t, http.MethodGet, "/routes/"+created.ID+"/progress", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"route_id":"`+created.ID+`","completed":1,"total":3,"percentage":33}`, w.Body.String())

	w = s.do(t, http.MethodPost, "/routes/"+created.ID+"/checkpoints", `{"coordinate": {"lat": -26.2041, "lon": 28.0473}, "address": "cbd"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	added := decode[dto.CheckpointResponse](t, w)
	assert.Equal(t, 4, added.Sequence)
	assert.Nil(t, added.StopID)

	w = s.do(t, http.MethodGet, "/routes/"+created.ID, "")
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[dto.RouteResponse](t, w)
	assert.Len(t, got.Checkpoints, 4)
	assert.Equal(t, 1, got.CompletedTasks)
	assert.Equal(t, 4, got.TotalTasks)
}

func TestRouteEndpointErrors(t *testing.T) {
	s := newTestServer(t, nil)
	created := createRoute(t, s)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"missing route", http.MethodGet, "/routes/nope", "", http.StatusNotFound},
		{"missing route progress", http.MethodGet, "/routes/nope/progress", "", http.StatusNotFound},
		{"optimize missing route", http.MethodPost, "/routes/nope/optimize", "", http.StatusNotFound},
		{"unknown algorithm", http.MethodPost, "/routes/" + created.ID + "/optimize", `{"algorithm": "brute"}`, http.StatusBadRequest},
		{"unknown status", http.MethodPatch, "/routes/" + created.ID + "/status", `{"status": "paused"}`, http.StatusBadRequest},
		{"missing checkpoint", http.MethodPost, "/checkpoints/nope/arrival", "", http.StatusNotFound},
		{"blank name", http.MethodPost, "/routes", `{"name": "  "}`, http.StatusBadRequest},
		{"bad stop", http.MethodPost, "/routes", `{"name": "x", "stops": [{"coordinate": {"lat": 0, "lon": 200}}]}`, http.StatusBadRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := s.do(t, tc.method, tc.path, tc.body)
			assert.Equal(t, tc.want, w.Code, w.Body.String())
		})
	}
}

func TestOptimizeRouteWithoutStops(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodPost, "/routes", `{"name": "empty"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	created := decode[dto.RouteResponse](t, w)

	w = s.do(t, http.MethodPost, "/routes/"+created.ID+"/optimize", "")
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
}

func TestOptimizeRouteConflict(t *testing.T) {
	s := newTestServer(t, busyLocker{})
	created := createRoute(t, s)

	w := s.do(t, http.MethodPost, "/routes/"+created.ID+"/optimize", `{"algorithm": "genetic"}`)
	assert.Equal(t, http.StatusConflict, w.Code, w.Body.String())
}

func TestVehicleEndpoints(t *testing.T) {
	s := newTestServer(t, nil)
	ctx := context.Background()

	require.NoError(t, s.vehicles.UpsertVehicle(ctx, &domain.Vehicle{ID: "veh-1", ExternalID: 101, Name: "Truck 1", LicensePlate: "CA 123"}))

	now := time.Now().UTC()
	start := now.Add(-10 * time.Minute)
	require.NoError(t, s.aggregator.Ingest(ctx, domain.PositionSample{
		VehicleID: "veh-1", Coordinate: domain.Coordinate{Lat: -26.1076, Lon: 28.0567}, SpeedKmh: 30, Timestamp: start,
	}))
	require.NoError(t, s.aggregator.Ingest(ctx, domain.PositionSample{
		VehicleID: "veh-1", Coordinate: domain.Coordinate{Lat: -26.1473, Lon: 28.0407}, SpeedKmh: 50, Timestamp: now.Add(-time.Minute),
	}))

	w := s.do(t, http.MethodGet, "/vehicles", "")
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[dto.ListVehiclesResponse](t, w)
	require.Len(t, list.Vehicles, 1)
	assert.Equal(t, "CA 123", list.Vehicles[0].LicensePlate)

	w = s.do(t, http.MethodGet, "/vehicles/online", "")
	require.Equal(t, http.StatusOK, w.Code)
	online := decode[dto.ListLiveStateResponse](t, w)
	require.Len(t, online.Vehicles, 1)
	assert.Equal(t, 50.0, online.Vehicles[0].SpeedKmh)
	assert.True(t, online.Vehicles[0].IsOnline)

	w = s.do(t, http.MethodGet, "/vehicles/veh-1/live", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[dto.LiveStateResponse](t, w).IsOnline)

	w = s.do(t, http.MethodGet, "/vehicles/ghost/live", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	from := start.Add(-time.Minute).Format(time.RFC3339)
	to := now.Add(time.Minute).Format(time.RFC3339)

	w = s.do(t, http.MethodGet, "/vehicles/veh-1/statistics?from="+from+"&to="+to, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	stats := decode[services.Statistics](t, w)
	assert.Equal(t, 2, stats.SampleCount)
	assert.Equal(t, 50.0, stats.MaxSpeedKmh)
	assert.InDelta(t, 4.7, stats.DistanceKm, 0.2)

	w = s.do(t, http.MethodGet, "/vehicles/veh-1/track?from="+from+"&to="+to, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	track := decode[dto.TrackResponse](t, w)
	require.Len(t, track.Positions, 2)
	assert.True(t, track.Positions[0].Timestamp.Before(track.Positions[1].Timestamp))
}

func TestVehicleWindowValidation(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []string{
		"/vehicles/veh-1/track?from=yesterday",
		"/vehicles/veh-1/track?to=2024-13-01",
		"/vehicles/veh-1/statistics?from=2024-03-05T00:00:00Z&to=2024-03-04T00:00:00Z",
	}
	for _, path := range tests {
		w := s.do(t, http.MethodGet, path, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
	}

	w := s.do(t, http.MethodGet, "/vehicles/veh-1/statistics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, decode[services.Statistics](t, w).SampleCount)
}
