package repositories

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"fleet-route-service/internal/adapters/memory"
	"fleet-route-service/internal/domain"
	"fleet-route-service/internal/platform/db"
	"fleet-route-service/internal/ports"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stores struct {
	routes    ports.RouteRepository
	positions ports.PositionRepository
	vehicles  ports.VehicleRepository
}

func openTestSQLite(t *testing.T) *db.SQLite {
	t.Helper()
	conn, err := db.OpenSQLite(filepath.Join(t.TempDir(), "fleet.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, InitSchema(conn.Conn(), SQLite))
	return conn
}

func allStores(t *testing.T) map[string]stores {
	t.Helper()
	sqlite := openTestSQLite(t)
	out := map[string]stores{
		"memory": {
			routes:    memory.NewRouteRepository(),
			positions: memory.NewPositionRepository(),
			vehicles:  memory.NewVehicleRepository(),
		},
		"sqlite": {
			routes:    NewSqliteRouteRepository(sqlite),
			positions: NewSqlitePositionRepository(sqlite),
			vehicles:  NewSqliteVehicleRepository(sqlite),
		},
	}

	if url := os.Getenv("DATABASE_URL"); url != "" {
		sqlDB, err := db.Open(url)
		require.NoError(t, err)
		require.NoError(t, InitSchema(sqlDB, Postgres))
		_ = sqlDB.Close()

		pool, err := db.OpenPool(context.Background(), url)
		require.NoError(t, err)
		t.Cleanup(pool.Close)
		out["postgres"] = stores{
			routes:    NewPostgresRouteRepository(pool),
			positions: NewPostgresPositionRepository(pool),
			vehicles:  NewPostgresVehicleRepository(pool),
		}
	}
	return out
}

var t0 = time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)

func newRoute(vehicleID *string) *domain.Route {
	r := domain.NewRoute(uuid.NewString(), "north loop", t0)
	r.VehicleID = vehicleID
	r.StartCoordinate = &domain.Coordinate{Lat: -26.195, Lon: 28.034}
	return r
}

func checkpointsFor(routeID string, n int) []domain.Checkpoint {
	out := make([]domain.Checkpoint, 0, n)
	for i := 0; i < n; i++ {
		stopID := uuid.NewString()
		out = append(out, domain.Checkpoint{
			ID:               uuid.NewString(),
			RouteID:          routeID,
			StopID:           &stopID,
			Sequence:         i + 1,
			Coordinate:       domain.Coordinate{Lat: -26.1 - float64(i)/100, Lon: 28.05},
			Address:          "stop",
			EstimatedArrival: t0.Add(time.Duration(i+1) * 20 * time.Minute),
		})
	}
	return out
}

func TestRouteRepositories(t *testing.T) {
	for name, s := range allStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			vehicleID := "veh-" + uuid.NewString()
			route := newRoute(&vehicleID)

			require.NoError(t, s.routes.CreateRoute(ctx, route))

			loaded, err := s.routes.LoadRouteWithCheckpoints(ctx, route.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.RouteDraft, loaded.Status)
			assert.Equal(t, route.StartCoordinate, loaded.StartCoordinate)
			assert.Equal(t, vehicleID, *loaded.VehicleID)
			assert.Empty(t, loaded.Checkpoints)

			_, err = s.routes.LoadRouteWithCheckpoints(ctx, "missing")
			assert.ErrorIs(t, err, domain.ErrRouteNotFound)

			// stops keep insertion order across batches
			scheduled := t0.Add(2 * time.Hour)
			require.NoError(t, s.routes.AddStops(ctx, route.ID, []domain.Stop{
				{ID: "a", Coordinate: domain.Coordinate{Lat: -26.1, Lon: 28.0}, ServiceDurationMinutes: 10},
				{ID: "b", Coordinate: domain.Coordinate{Lat: -26.2, Lon: 28.1}, ScheduledTime: &scheduled},
			}))
			require.NoError(t, s.routes.AddStops(ctx, route.ID, []domain.Stop{
				{ID: "c", Coordinate: domain.Coordinate{Lat: -26.3, Lon: 28.2}, Address: "Main Rd"},
			}))
			stops, err := s.routes.LoadPendingStopsForRoute(ctx, route.ID)
			require.NoError(t, err)
			require.Len(t, stops, 3)
			assert.Equal(t, []string{"a", "b", "c"}, []string{stops[0].ID, stops[1].ID, stops[2].ID})
			assert.Equal(t, 10, stops[0].ServiceDurationMinutes)
			require.NotNil(t, stops[1].ScheduledTime)
			assert.True(t, scheduled.Equal(*stops[1].ScheduledTime))
			assert.Equal(t, "Main Rd", stops[2].Address)

			assert.ErrorIs(t, s.routes.AddStops(ctx, "missing", stops), domain.ErrRouteNotFound)

			// replace twice; only the second batch survives
			first := checkpointsFor(route.ID, 3)
			route.IsOptimized = true
			require.NoError(t, s.routes.ReplaceCheckpoints(ctx, route, first))

			second := checkpointsFor(route.ID, 2)
			route.TotalDistanceKm = 12.34
			route.EstimatedDurationMinutes = 55
			route.OptimizationParams = map[string]any{"algorithm": "genetic"}
			route.UpdatedAt = t0.Add(time.Minute)
			require.NoError(t, s.routes.ReplaceCheckpoints(ctx, route, second))

			loaded, err = s.routes.LoadRouteWithCheckpoints(ctx, route.ID)
			require.NoError(t, err)
			require.Len(t, loaded.Checkpoints, 2)
			assert.True(t, loaded.IsOptimized)
			assert.Equal(t, 12.34, loaded.TotalDistanceKm)
			assert.Equal(t, 55, loaded.EstimatedDurationMinutes)
			assert.Equal(t, 2, loaded.TotalTasks)
			assert.Equal(t, 0, loaded.CompletedTasks)
			assert.Equal(t, "genetic", loaded.OptimizationParams["algorithm"])
			for i, cp := range loaded.Checkpoints {
				assert.Equal(t, second[i].ID, cp.ID)
				assert.Equal(t, i+1, cp.Sequence)
				assert.True(t, second[i].EstimatedArrival.Equal(cp.EstimatedArrival))
			}

			// arrival on a replaced checkpoint never re-inserts it
			_, err = s.routes.MarkCheckpointArrival(ctx, first[0].ID, t0, t0)
			assert.ErrorIs(t, err, domain.ErrCheckpointNotFound)
			loaded, err = s.routes.LoadRouteWithCheckpoints(ctx, route.ID)
			require.NoError(t, err)
			assert.Len(t, loaded.Checkpoints, 2)

			arrived := t0.Add(45 * time.Minute)
			cp, err := s.routes.MarkCheckpointArrival(ctx, second[1].ID, arrived, t0.Add(46*time.Minute))
			require.NoError(t, err)
			assert.True(t, cp.Completed)
			assert.Equal(t, 2, cp.Sequence)
			require.NotNil(t, cp.ActualArrival)
			assert.True(t, arrived.Equal(*cp.ActualArrival))

			loaded, err = s.routes.LoadRouteWithCheckpoints(ctx, route.ID)
			require.NoError(t, err)
			assert.Equal(t, 1, loaded.CompletedTasks)
			assert.Equal(t, 2, loaded.TotalTasks)
			assert.True(t, t0.Add(46*time.Minute).Equal(loaded.UpdatedAt))

			// appended checkpoints take the next sequence
			manual := domain.Checkpoint{
				ID:               uuid.NewString(),
				RouteID:          route.ID,
				Sequence:         99,
				Coordinate:       domain.Coordinate{Lat: -26.2041, Lon: 28.0473},
				EstimatedArrival: t0.Add(2 * time.Hour),
			}
			require.NoError(t, s.routes.AppendCheckpoint(ctx, &manual, t0.Add(50*time.Minute)))
			assert.Equal(t, 3, manual.Sequence)

			orphan := manual
			orphan.ID = uuid.NewString()
			orphan.RouteID = "missing"
			assert.ErrorIs(t, s.routes.AppendCheckpoint(ctx, &orphan, t0), domain.ErrRouteNotFound)

			loaded, err = s.routes.LoadRouteWithCheckpoints(ctx, route.ID)
			require.NoError(t, err)
			require.Len(t, loaded.Checkpoints, 3)
			assert.Nil(t, loaded.Checkpoints[2].StopID)
			assert.Equal(t, 3, loaded.TotalTasks)
			assert.Equal(t, 1, loaded.CompletedTasks)

			// status and active lookup
			_, err = s.routes.FindActiveRouteForVehicle(ctx, vehicleID)
			assert.ErrorIs(t, err, domain.ErrRouteNotFound)

			dispatched, err := s.routes.UpdateRouteStatus(ctx, route.ID, func(r *domain.Route) {
				r.Dispatch(t0.Add(time.Minute))
			})
			require.NoError(t, err)
			assert.Equal(t, domain.RouteActive, dispatched.Status)
			assert.Len(t, dispatched.Checkpoints, 3)

			active, err := s.routes.FindActiveRouteForVehicle(ctx, vehicleID)
			require.NoError(t, err)
			assert.Equal(t, route.ID, active.ID)
			assert.Len(t, active.Checkpoints, 3)
			require.NotNil(t, active.ActualStart)
			assert.True(t, t0.Add(time.Minute).Equal(*active.ActualStart))

			// a stale route passed to replan leaves lifecycle and name alone
			assert.Equal(t, domain.RouteDraft, route.Status)
			route.Name = "stale name"
			require.NoError(t, s.routes.ReplaceCheckpoints(ctx, route, checkpointsFor(route.ID, 1)))

			loaded, err = s.routes.LoadRouteWithCheckpoints(ctx, route.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.RouteActive, loaded.Status)
			assert.Equal(t, "north loop", loaded.Name)
			require.NotNil(t, loaded.ActualStart)
			assert.Equal(t, 1, loaded.TotalTasks)
			assert.Equal(t, 0, loaded.CompletedTasks)

			// completion writes only lifecycle fields
			done, err := s.routes.UpdateRouteStatus(ctx, route.ID, func(r *domain.Route) {
				r.Complete(t0.Add(91 * time.Minute))
			})
			require.NoError(t, err)
			assert.Equal(t, 90, done.ActualDurationMinutes)
			assert.True(t, done.IsOptimized)
			assert.Equal(t, 1, done.TotalTasks)

			_, err = s.routes.UpdateRouteStatus(ctx, "missing", func(r *domain.Route) {})
			assert.ErrorIs(t, err, domain.ErrRouteNotFound)

			missing := newRoute(nil)
			assert.ErrorIs(t, s.routes.ReplaceCheckpoints(ctx, missing, nil), domain.ErrRouteNotFound)
		})
	}
}

func TestPositionRepositories(t *testing.T) {
	for name, s := range allStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			vehicleID := "veh-" + uuid.NewString()

			// appended out of order
			for _, m := range []int{20, 0, 10, 30} {
				require.NoError(t, s.positions.AppendPositionSample(ctx, domain.PositionSample{
					VehicleID:  vehicleID,
					Coordinate: domain.Coordinate{Lat: -26 + float64(m)/1000, Lon: 28},
					SpeedKmh:   float64(m),
					Satellites: 9,
					Timestamp:  t0.Add(time.Duration(m) * time.Minute),
					Sensors:    map[string]any{"ign": true},
				}))
			}

			history, err := s.positions.LoadPositionHistory(ctx, vehicleID, t0, t0.Add(20*time.Minute))
			require.NoError(t, err)
			require.Len(t, history, 3)
			for i, want := range []float64{0, 10, 20} {
				assert.Equal(t, want, history[i].SpeedKmh)
				assert.Equal(t, vehicleID, history[i].VehicleID)
			}
			assert.Equal(t, 9, history[0].Satellites)
			assert.Equal(t, true, history[0].Sensors["ign"])

			none, err := s.positions.LoadPositionHistory(ctx, "other", t0, t0.Add(time.Hour))
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestVehicleRepositories(t *testing.T) {
	for name, s := range allStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ext := time.Now().UnixNano()

			_, err := s.vehicles.FindByExternalID(ctx, ext)
			assert.ErrorIs(t, err, domain.ErrVehicleNotFound)

			v := &domain.Vehicle{
				ID:           uuid.NewString(),
				ExternalID:   ext,
				Name:         "Truck 1",
				LicensePlate: "CA 1",
				Metadata:     map[string]any{"brand": "Isuzu"},
				UpdatedAt:    t0,
			}
			require.NoError(t, s.vehicles.UpsertVehicle(ctx, v))

			v.Name = "Truck 1b"
			require.NoError(t, s.vehicles.UpsertVehicle(ctx, v))

			got, err := s.vehicles.FindByExternalID(ctx, ext)
			require.NoError(t, err)
			assert.Equal(t, v.ID, got.ID)
			assert.Equal(t, "Truck 1b", got.Name)
			assert.Equal(t, "Isuzu", got.Metadata["brand"])

			all, err := s.vehicles.ListVehicles(ctx)
			require.NoError(t, err)
			found := 0
			for _, x := range all {
				if x.ID == v.ID {
					found++
				}
			}
			assert.Equal(t, 1, found)
		})
	}
}

func TestInitSchemaIsIdempotent(t *testing.T) {
	conn := openTestSQLite(t)
	require.NoError(t, InitSchema(conn.Conn(), SQLite))

	assert.Error(t, InitSchema(conn.Conn(), Dialect("oracle")))
	assert.Error(t, InitSchema(nil, SQLite))
}

func TestSeedFromJSON(t *testing.T) {
	conn := openTestSQLite(t)
	repo := NewSqliteRouteRepository(conn)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "routes.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"name": "jhb", "start": {"lat": -26.195, "lon": 28.034},
		 "stops": [
			{"id": "sandton", "coordinate": {"lat": -26.1076, "lon": 28.0567}},
			{"coordinate": {"lat": -26.1473, "lon": 28.0407}, "service_duration_minutes": 5}
		 ]}
	]`), 0o644))

	n, err := SeedFromJSON(ctx, repo, path)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`[{"name": "x", "stops": [{"coordinate": {"lat": 200, "lon": 0}}]}]`), 0o644))
	_, err = SeedFromJSON(ctx, repo, bad)
	assert.ErrorIs(t, err, domain.ErrInvalidCoordinate)
}
