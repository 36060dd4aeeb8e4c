package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fleet-route-service/internal/domain"
	"fleet-route-service/internal/platform/obs"
	"fleet-route-service/internal/ports"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ ports.RouteRepository = (*PostgresRouteRepository)(nil)

// Postgres-backed implementation of the RouteRepository port.
type PostgresRouteRepository struct{ Pool *pgxpool.Pool }

func NewPostgresRouteRepository(pool *pgxpool.Pool) *PostgresRouteRepository {
	return &PostgresRouteRepository{Pool: pool}
}

const pgInsertRoute = `
	INSERT INTO routes (` + routeColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17);
	`

const pgInsertCheckpoint = `
	INSERT INTO checkpoints (` + checkpointColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);
	`

const pgRecountRoute = `
	UPDATE routes SET
		completed_tasks = (SELECT COUNT(*) FROM checkpoints WHERE route_id = routes.id AND completed),
		total_tasks = (SELECT COUNT(*) FROM checkpoints WHERE route_id = routes.id),
		updated_at = $2
	WHERE id = $1;
	`

func pgRouteArgs(r *domain.Route) []any {
	var startLat, startLon *float64
	if r.StartCoordinate != nil {
		startLat, startLon = &r.StartCoordinate.Lat, &r.StartCoordinate.Lon
	}
	return []any{
		r.ID, r.Name, string(r.Status), r.VehicleID, startLat, startLon,
		r.TotalDistanceKm, r.EstimatedDurationMinutes, r.ActualDurationMinutes,
		r.ActualStart, r.ActualEnd, r.IsOptimized, r.OptimizationParams,
		r.CompletedTasks, r.TotalTasks, r.CreatedAt, r.UpdatedAt,
	}
}

func pgCheckpointArgs(cp *domain.Checkpoint) []any {
	return []any{
		cp.ID, cp.RouteID, cp.StopID, cp.Sequence, cp.Coordinate.Lat, cp.Coordinate.Lon,
		cp.Address, cp.EstimatedArrival, cp.ActualArrival, cp.Completed,
	}
}

func (p *PostgresRouteRepository) CreateRoute(ctx context.Context, route *domain.Route) error {
	if _, err := p.Pool.Exec(ctx, pgInsertRoute, pgRouteArgs(route)...); err != nil {
		return fmt.Errorf("create route %q: %w", route.ID, err)
	}
	return nil
}

func (p *PostgresRouteRepository) LoadRouteWithCheckpoints(ctx context.Context, routeID string) (_ *domain.Route, err error) {
	defer obs.Time(ctx, "postgres.LoadRouteWithCheckpoints")(&err)

	row := p.Pool.QueryRow(ctx, `SELECT `+routeColumns+` FROM routes WHERE id = $1;`, routeID)
	route, err := pgScanRoute(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("load route %q: %w", routeID, domain.ErrRouteNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load route %q: %w", routeID, err)
	}

	route.Checkpoints, err = pgLoadCheckpoints(ctx, p.Pool, routeID)
	if err != nil {
		return nil, fmt.Errorf("load route %q: %w", routeID, err)
	}
	return route, nil
}

type pgQueryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func pgLoadCheckpoints(ctx context.Context, q pgQueryer, routeID string) ([]domain.Checkpoint, error) {
	rows, err := q.Query(ctx, `
	SELECT `+checkpointColumns+`
	FROM checkpoints
	WHERE route_id = $1
	ORDER BY sequence;
	`, routeID)
	if err != nil {
		return nil, fmt.Errorf("query checkpoints: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Checkpoint, 0, 16)
	for rows.Next() {
		cp, err := pgScanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		out = append(out, *cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("checkpoint row iteration: %w", err)
	}
	return out, nil
}

// lockRoute takes the route row lock every route-mutating transaction
// starts with, so writers to one route queue behind each other.
func lockRoute(ctx context.Context, tx pgx.Tx, routeID string) error {
	var id string
	err := tx.QueryRow(ctx, `SELECT id FROM routes WHERE id = $1 FOR UPDATE;`, routeID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrRouteNotFound
	}
	return err
}

func (p *PostgresRouteRepository) UpdateRouteStatus(
	ctx context.Context,
	routeID string,
	apply func(*domain.Route),
) (_ *domain.Route, err error) {
	defer obs.Time(ctx, "postgres.UpdateRouteStatus")(&err)

	tx, err := p.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("update status: db begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	route, err := pgScanRoute(tx.QueryRow(ctx, `SELECT `+routeColumns+` FROM routes WHERE id = $1 FOR UPDATE;`, routeID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("update status of route %q: %w", routeID, domain.ErrRouteNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("update status of route %q: %w", routeID, err)
	}

	apply(route)

	if _, err := tx.Exec(ctx, `
	UPDATE routes SET
		status = $2, actual_start = $3, actual_end = $4, actual_duration_minutes = $5, updated_at = $6
	WHERE id = $1;
	`, routeID, string(route.Status), route.ActualStart, route.ActualEnd,
		route.ActualDurationMinutes, route.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("update status of route %q: %w", routeID, err)
	}

	route.Checkpoints, err = pgLoadCheckpoints(ctx, tx, routeID)
	if err != nil {
		return nil, fmt.Errorf("update status of route %q: %w", routeID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("update status: commit: %w", err)
	}
	return route, nil
}

func (p *PostgresRouteRepository) LoadPendingStopsForRoute(ctx context.Context, routeID string) ([]domain.Stop, error) {
	if err := p.routeExists(ctx, routeID); err != nil {
		return nil, fmt.Errorf("load stops for route %q: %w", routeID, err)
	}

	rows, err := p.Pool.Query(ctx, `
	SELECT id, lat, lon, address, priority, scheduled_time, service_duration_minutes
	FROM route_stops
	WHERE route_id = $1
	ORDER BY position;
	`, routeID)
	if err != nil {
		return nil, fmt.Errorf("load stops for route %q: query: %w", routeID, err)
	}
	defer rows.Close()

	stops := make([]domain.Stop, 0, 16)
	for rows.Next() {
		var st domain.Stop
		if err := rows.Scan(
			&st.ID, &st.Coordinate.Lat, &st.Coordinate.Lon, &st.Address, &st.Priority,
			&st.ScheduledTime, &st.ServiceDurationMinutes,
		); err != nil {
			return nil, fmt.Errorf("load stops for route %q: scan row: %w", routeID, err)
		}
		stops = append(stops, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load stops for route %q: row iteration: %w", routeID, err)
	}
	return stops, nil
}

func (p *PostgresRouteRepository) AddStops(ctx context.Context, routeID string, stops []domain.Stop) error {
	tx, err := p.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("add stops: db begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Lock the route row so concurrent appends get distinct positions.
	var next int
	err = tx.QueryRow(ctx, `
	SELECT COALESCE((SELECT MAX(position) FROM route_stops WHERE route_id = r.id), 0)
	FROM routes r WHERE r.id = $1 FOR UPDATE;
	`, routeID).Scan(&next)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("add stops to route %q: %w", routeID, domain.ErrRouteNotFound)
	}
	if err != nil {
		return fmt.Errorf("add stops: next position: %w", err)
	}

	batch := &pgx.Batch{}
	for _, st := range stops {
		next++
		batch.Queue(`
		INSERT INTO route_stops (
			route_id, id, position, lat, lon, address, priority, scheduled_time, service_duration_minutes
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
		`, routeID, st.ID, next, st.Coordinate.Lat, st.Coordinate.Lon, st.Address, st.Priority,
			st.ScheduledTime, st.ServiceDurationMinutes)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("add stops: insert: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("add stops: commit: %w", err)
	}
	return nil
}

func (p *PostgresRouteRepository) ReplaceCheckpoints(
	ctx context.Context,
	route *domain.Route,
	checkpoints []domain.Checkpoint,
) (err error) {
	defer obs.Time(ctx, "postgres.ReplaceCheckpoints")(&err)

	tx, err := p.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("replace checkpoints: db begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockRoute(ctx, tx, route.ID); err != nil {
		return fmt.Errorf("replace checkpoints for route %q: %w", route.ID, err)
	}

	batch := &pgx.Batch{}
	batch.Queue(`
	UPDATE routes SET
		total_distance_km = $2, estimated_duration_minutes = $3, is_optimized = $4, optimization_params = $5
	WHERE id = $1;
	`, route.ID, route.TotalDistanceKm, route.EstimatedDurationMinutes, route.IsOptimized, route.OptimizationParams)
	batch.Queue(`DELETE FROM checkpoints WHERE route_id = $1;`, route.ID)
	for i := range checkpoints {
		batch.Queue(pgInsertCheckpoint, pgCheckpointArgs(&checkpoints[i])...)
	}
	batch.Queue(pgRecountRoute, route.ID, route.UpdatedAt)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("replace checkpoints: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("replace checkpoints: commit: %w", err)
	}
	return nil
}

func (p *PostgresRouteRepository) MarkCheckpointArrival(
	ctx context.Context,
	checkpointID string,
	arrivedAt, now time.Time,
) (_ *domain.Checkpoint, err error) {
	defer obs.Time(ctx, "postgres.MarkCheckpointArrival")(&err)

	var routeID string
	err = p.Pool.QueryRow(ctx, `SELECT route_id FROM checkpoints WHERE id = $1;`, checkpointID).Scan(&routeID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("mark checkpoint %q: %w", checkpointID, domain.ErrCheckpointNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("mark checkpoint %q: %w", checkpointID, err)
	}

	tx, err := p.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("mark checkpoint: db begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockRoute(ctx, tx, routeID); err != nil {
		return nil, fmt.Errorf("mark checkpoint %q: %w", checkpointID, err)
	}

	// A replan committed before the lock was taken has deleted the row.
	cp, err := pgScanCheckpoint(tx.QueryRow(ctx, `
	UPDATE checkpoints SET completed = TRUE, actual_arrival = $3
	WHERE id = $1 AND route_id = $2
	RETURNING `+checkpointColumns+`;
	`, checkpointID, routeID, arrivedAt))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("mark checkpoint %q: %w", checkpointID, domain.ErrCheckpointNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("mark checkpoint %q: %w", checkpointID, err)
	}

	if _, err := tx.Exec(ctx, pgRecountRoute, routeID, now); err != nil {
		return nil, fmt.Errorf("mark checkpoint %q: recount: %w", checkpointID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("mark checkpoint: commit: %w", err)
	}
	return cp, nil
}

func (p *PostgresRouteRepository) AppendCheckpoint(ctx context.Context, cp *domain.Checkpoint, now time.Time) error {
	tx, err := p.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("append checkpoint: db begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockRoute(ctx, tx, cp.RouteID); err != nil {
		return fmt.Errorf("append checkpoint to route %q: %w", cp.RouteID, err)
	}

	var next int
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM checkpoints WHERE route_id = $1;`, cp.RouteID,
	).Scan(&next); err != nil {
		return fmt.Errorf("append checkpoint: next sequence: %w", err)
	}
	cp.Sequence = next

	batch := &pgx.Batch{}
	batch.Queue(pgInsertCheckpoint, pgCheckpointArgs(cp)...)
	batch.Queue(pgRecountRoute, cp.RouteID, now)
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("append checkpoint %q: %w", cp.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("append checkpoint: commit: %w", err)
	}
	return nil
}

func (p *PostgresRouteRepository) FindActiveRouteForVehicle(ctx context.Context, vehicleID string) (*domain.Route, error) {
	var routeID string
	err := p.Pool.QueryRow(ctx, `
	SELECT id FROM routes
	WHERE vehicle_id = $1 AND status = $2
	ORDER BY updated_at DESC
	LIMIT 1;
	`, vehicleID, string(domain.RouteActive)).Scan(&routeID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("active route for vehicle %q: %w", vehicleID, domain.ErrRouteNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("active route for vehicle %q: %w", vehicleID, err)
	}
	return p.LoadRouteWithCheckpoints(ctx, routeID)
}

func (p *PostgresRouteRepository) routeExists(ctx context.Context, routeID string) error {
	var one int
	err := p.Pool.QueryRow(ctx, `SELECT 1 FROM routes WHERE id = $1;`, routeID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrRouteNotFound
	}
	return err
}

func pgScanRoute(row pgx.Row) (*domain.Route, error) {
	var (
		r                  domain.Route
		status             string
		startLat, startLon *float64
	)
	if err := row.Scan(
		&r.ID, &r.Name, &status, &r.VehicleID, &startLat, &startLon,
		&r.TotalDistanceKm, &r.EstimatedDurationMinutes, &r.ActualDurationMinutes,
		&r.ActualStart, &r.ActualEnd, &r.IsOptimized, &r.OptimizationParams,
		&r.CompletedTasks, &r.TotalTasks, &r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		return nil, err
	}

	r.Status = domain.RouteStatus(status)
	if startLat != nil && startLon != nil {
		r.StartCoordinate = &domain.Coordinate{Lat: *startLat, Lon: *startLon}
	}
	r.ActualStart = utcPtr(r.ActualStart)
	r.ActualEnd = utcPtr(r.ActualEnd)
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	r.Checkpoints = []domain.Checkpoint{}
	return &r, nil
}

func pgScanCheckpoint(row pgx.Row) (*domain.Checkpoint, error) {
	var cp domain.Checkpoint
	if err := row.Scan(
		&cp.ID, &cp.RouteID, &cp.StopID, &cp.Sequence, &cp.Coordinate.Lat, &cp.Coordinate.Lon,
		&cp.Address, &cp.EstimatedArrival, &cp.ActualArrival, &cp.Completed,
	); err != nil {
		return nil, err
	}
	cp.EstimatedArrival = cp.EstimatedArrival.UTC()
	cp.ActualArrival = utcPtr(cp.ActualArrival)
	return &cp, nil
}
