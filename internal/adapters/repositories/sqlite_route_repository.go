package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fleet-route-service/internal/domain"
	"fleet-route-service/internal/platform/db"
	"fleet-route-service/internal/platform/obs"
	"fleet-route-service/internal/ports"
)

var _ ports.RouteRepository = (*SqliteRouteRepository)(nil)

// SQLite-backed implementation of the RouteRepository port.
type SqliteRouteRepository struct{ DB *db.SQLite }

func NewSqliteRouteRepository(db *db.SQLite) *SqliteRouteRepository {
	return &SqliteRouteRepository{DB: db}
}

const routeColumns = `
	id, name, status, vehicle_id, start_lat, start_lon,
	total_distance_km, estimated_duration_minutes, actual_duration_minutes,
	actual_start, actual_end, is_optimized, optimization_params,
	completed_tasks, total_tasks, created_at, updated_at`

const checkpointColumns = `
	id, route_id, stop_id, sequence, lat, lon, address,
	estimated_arrival, actual_arrival, completed`

func (s *SqliteRouteRepository) CreateRoute(ctx context.Context, route *domain.Route) error {
	args, err := routeArgs(route)
	if err != nil {
		return fmt.Errorf("create route: %w", err)
	}

	s.DB.LockWrite()
	defer s.DB.UnlockWrite()

	_, err = s.DB.Conn().ExecContext(ctx, `
	INSERT INTO routes (`+routeColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
	`, args...)
	if err != nil {
		return fmt.Errorf("create route %q: %w", route.ID, err)
	}
	return nil
}

func (s *SqliteRouteRepository) LoadRouteWithCheckpoints(ctx context.Context, routeID string) (_ *domain.Route, err error) {
	defer obs.Time(ctx, "sqlite.LoadRouteWithCheckpoints")(&err)

	row := s.DB.Conn().QueryRowContext(ctx, `SELECT `+routeColumns+` FROM routes WHERE id = ?;`, routeID)
	route, err := scanRoute(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load route %q: %w", routeID, domain.ErrRouteNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load route %q: %w", routeID, err)
	}

	route.Checkpoints, err = loadCheckpoints(ctx, s.DB.Conn(), routeID)
	if err != nil {
		return nil, fmt.Errorf("load route %q: %w", routeID, err)
	}
	return route, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func loadCheckpoints(ctx context.Context, q queryer, routeID string) ([]domain.Checkpoint, error) {
	rows, err := q.QueryContext(ctx, `
	SELECT `+checkpointColumns+`
	FROM checkpoints
	WHERE route_id = ?
	ORDER BY sequence;
	`, routeID)
	if err != nil {
		return nil, fmt.Errorf("query checkpoints: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Checkpoint, 0, 16)
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
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

// UpdateRouteStatus reads and rewrites the lifecycle columns inside one
// write transaction.
func (s *SqliteRouteRepository) UpdateRouteStatus(
	ctx context.Context,
	routeID string,
	apply func(*domain.Route),
) (_ *domain.Route, err error) {
	defer obs.Time(ctx, "sqlite.UpdateRouteStatus")(&err)

	s.DB.LockWrite()
	defer s.DB.UnlockWrite()

	tx, err := s.DB.Conn().BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("update status: db begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	route, err := scanRoute(tx.QueryRowContext(ctx, `SELECT `+routeColumns+` FROM routes WHERE id = ?;`, routeID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("update status of route %q: %w", routeID, domain.ErrRouteNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("update status of route %q: %w", routeID, err)
	}

	apply(route)

	if _, err := tx.ExecContext(ctx, `
	UPDATE routes SET
		status = ?, actual_start = ?, actual_end = ?, actual_duration_minutes = ?, updated_at = ?
	WHERE id = ?;
	`, string(route.Status), nullNanos(route.ActualStart), nullNanos(route.ActualEnd),
		route.ActualDurationMinutes, route.UpdatedAt.UnixNano(), routeID,
	); err != nil {
		return nil, fmt.Errorf("update status of route %q: %w", routeID, err)
	}

	route.Checkpoints, err = loadCheckpoints(ctx, tx, routeID)
	if err != nil {
		return nil, fmt.Errorf("update status of route %q: %w", routeID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("update status: commit: %w", err)
	}
	return route, nil
}

// Refreshes the task counters from the checkpoints table.
const recountRouteQuery = `
	UPDATE routes SET
		completed_tasks = (SELECT COUNT(*) FROM checkpoints WHERE route_id = routes.id AND completed = 1),
		total_tasks = (SELECT COUNT(*) FROM checkpoints WHERE route_id = routes.id),
		updated_at = ?
	WHERE id = ?;
	`

func (s *SqliteRouteRepository) LoadPendingStopsForRoute(ctx context.Context, routeID string) ([]domain.Stop, error) {
	if err := s.routeExists(ctx, routeID); err != nil {
		return nil, fmt.Errorf("load stops for route %q: %w", routeID, err)
	}

	rows, err := s.DB.Conn().QueryContext(ctx, `
	SELECT id, lat, lon, address, priority, scheduled_time, service_duration_minutes
	FROM route_stops
	WHERE route_id = ?
	ORDER BY position;
	`, routeID)
	if err != nil {
		return nil, fmt.Errorf("load stops for route %q: query: %w", routeID, err)
	}
	defer rows.Close()

	stops := make([]domain.Stop, 0, 16)
	for rows.Next() {
		var st domain.Stop
		var scheduled sql.NullInt64
		if err := rows.Scan(
			&st.ID, &st.Coordinate.Lat, &st.Coordinate.Lon, &st.Address, &st.Priority,
			&scheduled, &st.ServiceDurationMinutes,
		); err != nil {
			return nil, fmt.Errorf("load stops for route %q: scan row: %w", routeID, err)
		}
		st.ScheduledTime = fromNullNanos(scheduled)
		stops = append(stops, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load stops for route %q: row iteration: %w", routeID, err)
	}
	return stops, nil
}

func (s *SqliteRouteRepository) AddStops(ctx context.Context, routeID string, stops []domain.Stop) error {
	if err := s.routeExists(ctx, routeID); err != nil {
		return fmt.Errorf("add stops to route %q: %w", routeID, err)
	}

	s.DB.LockWrite()
	defer s.DB.UnlockWrite()

	tx, err := s.DB.Conn().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("add stops: db begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var next int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(position), 0) FROM route_stops WHERE route_id = ?;`, routeID,
	).Scan(&next); err != nil {
		return fmt.Errorf("add stops: next position: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO route_stops (
		route_id, id, position, lat, lon, address, priority, scheduled_time, service_duration_minutes
	)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);
	`)
	if err != nil {
		return fmt.Errorf("add stops: db prepare: %w", err)
	}
	defer stmt.Close()

	for _, st := range stops {
		next++
		if _, err := stmt.ExecContext(ctx,
			routeID, st.ID, next, st.Coordinate.Lat, st.Coordinate.Lon, st.Address, st.Priority,
			nullNanos(st.ScheduledTime), st.ServiceDurationMinutes,
		); err != nil {
			return fmt.Errorf("add stops: insert stop_id=%q: %w", st.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("add stops: commit: %w", err)
	}
	return nil
}

// ReplaceCheckpoints swaps the route's checkpoint batch and its optimization
// fields in one transaction.
func (s *SqliteRouteRepository) ReplaceCheckpoints(
	ctx context.Context,
	route *domain.Route,
	checkpoints []domain.Checkpoint,
) (err error) {
	defer obs.Time(ctx, "sqlite.ReplaceCheckpoints")(&err)

	params, err := encodeJSON(route.OptimizationParams)
	if err != nil {
		return fmt.Errorf("replace checkpoints: optimization params: %w", err)
	}

	s.DB.LockWrite()
	defer s.DB.UnlockWrite()

	tx, err := s.DB.Conn().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("replace checkpoints: db begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
	UPDATE routes SET
		total_distance_km = ?, estimated_duration_minutes = ?, is_optimized = ?, optimization_params = ?
	WHERE id = ?;
	`, route.TotalDistanceKm, route.EstimatedDurationMinutes, route.IsOptimized, params, route.ID)
	if err != nil {
		return fmt.Errorf("replace checkpoints: update route: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("replace checkpoints for route %q: %w", route.ID, domain.ErrRouteNotFound)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM checkpoints WHERE route_id = ?;`, route.ID); err != nil {
		return fmt.Errorf("replace checkpoints: delete: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, insertCheckpointQuery)
	if err != nil {
		return fmt.Errorf("replace checkpoints: db prepare: %w", err)
	}
	defer stmt.Close()

	for _, cp := range checkpoints {
		if _, err := stmt.ExecContext(ctx, checkpointArgs(&cp)...); err != nil {
			return fmt.Errorf("replace checkpoints: insert sequence=%d: %w", cp.Sequence, err)
		}
	}

	if _, err := tx.ExecContext(ctx, recountRouteQuery, route.UpdatedAt.UnixNano(), route.ID); err != nil {
		return fmt.Errorf("replace checkpoints: recount: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("replace checkpoints: commit: %w", err)
	}
	return nil
}

const insertCheckpointQuery = `
	INSERT INTO checkpoints (` + checkpointColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
	`

// MarkCheckpointArrival only updates a checkpoint that still exists; it never
// re-inserts one dropped by a replan.
func (s *SqliteRouteRepository) MarkCheckpointArrival(
	ctx context.Context,
	checkpointID string,
	arrivedAt, now time.Time,
) (_ *domain.Checkpoint, err error) {
	defer obs.Time(ctx, "sqlite.MarkCheckpointArrival")(&err)

	s.DB.LockWrite()
	defer s.DB.UnlockWrite()

	tx, err := s.DB.Conn().BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("mark checkpoint: db begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE checkpoints SET completed = 1, actual_arrival = ? WHERE id = ?;`,
		arrivedAt.UnixNano(), checkpointID,
	)
	if err != nil {
		return nil, fmt.Errorf("mark checkpoint %q: %w", checkpointID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("mark checkpoint %q: %w", checkpointID, domain.ErrCheckpointNotFound)
	}

	cp, err := scanCheckpoint(tx.QueryRowContext(ctx,
		`SELECT `+checkpointColumns+` FROM checkpoints WHERE id = ?;`, checkpointID))
	if err != nil {
		return nil, fmt.Errorf("mark checkpoint %q: reload: %w", checkpointID, err)
	}

	if _, err := tx.ExecContext(ctx, recountRouteQuery, now.UnixNano(), cp.RouteID); err != nil {
		return nil, fmt.Errorf("mark checkpoint %q: recount: %w", checkpointID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("mark checkpoint: commit: %w", err)
	}
	return cp, nil
}

func (s *SqliteRouteRepository) AppendCheckpoint(ctx context.Context, cp *domain.Checkpoint, now time.Time) error {
	s.DB.LockWrite()
	defer s.DB.UnlockWrite()

	tx, err := s.DB.Conn().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append checkpoint: db begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var next int
	err = tx.QueryRowContext(ctx, `
	SELECT COALESCE((SELECT MAX(sequence) FROM checkpoints WHERE route_id = r.id), 0) + 1
	FROM routes r WHERE r.id = ?;
	`, cp.RouteID).Scan(&next)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("append checkpoint to route %q: %w", cp.RouteID, domain.ErrRouteNotFound)
	}
	if err != nil {
		return fmt.Errorf("append checkpoint: next sequence: %w", err)
	}
	cp.Sequence = next

	if _, err := tx.ExecContext(ctx, insertCheckpointQuery, checkpointArgs(cp)...); err != nil {
		return fmt.Errorf("append checkpoint %q: %w", cp.ID, err)
	}
	if _, err := tx.ExecContext(ctx, recountRouteQuery, now.UnixNano(), cp.RouteID); err != nil {
		return fmt.Errorf("append checkpoint %q: recount: %w", cp.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append checkpoint: commit: %w", err)
	}
	return nil
}

func (s *SqliteRouteRepository) FindActiveRouteForVehicle(ctx context.Context, vehicleID string) (*domain.Route, error) {
	var routeID string
	err := s.DB.Conn().QueryRowContext(ctx, `
	SELECT id FROM routes
	WHERE vehicle_id = ? AND status = ?
	ORDER BY updated_at DESC
	LIMIT 1;
	`, vehicleID, string(domain.RouteActive)).Scan(&routeID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("active route for vehicle %q: %w", vehicleID, domain.ErrRouteNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("active route for vehicle %q: %w", vehicleID, err)
	}
	return s.LoadRouteWithCheckpoints(ctx, routeID)
}

func (s *SqliteRouteRepository) routeExists(ctx context.Context, routeID string) error {
	var one int
	err := s.DB.Conn().QueryRowContext(ctx, `SELECT 1 FROM routes WHERE id = ?;`, routeID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrRouteNotFound
	}
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func routeArgs(r *domain.Route) ([]any, error) {
	params, err := encodeJSON(r.OptimizationParams)
	if err != nil {
		return nil, fmt.Errorf("optimization params: %w", err)
	}

	var startLat, startLon sql.NullFloat64
	if r.StartCoordinate != nil {
		startLat = sql.NullFloat64{Float64: r.StartCoordinate.Lat, Valid: true}
		startLon = sql.NullFloat64{Float64: r.StartCoordinate.Lon, Valid: true}
	}

	return []any{
		r.ID, r.Name, string(r.Status), nullString(r.VehicleID), startLat, startLon,
		r.TotalDistanceKm, r.EstimatedDurationMinutes, r.ActualDurationMinutes,
		nullNanos(r.ActualStart), nullNanos(r.ActualEnd), r.IsOptimized, params,
		r.CompletedTasks, r.TotalTasks, r.CreatedAt.UnixNano(), r.UpdatedAt.UnixNano(),
	}, nil
}

func scanRoute(row rowScanner) (*domain.Route, error) {
	var (
		r                      domain.Route
		status                 string
		vehicleID              sql.NullString
		startLat, startLon     sql.NullFloat64
		actualStart, actualEnd sql.NullInt64
		params                 sql.NullString
		createdAt, updatedAt   int64
	)
	if err := row.Scan(
		&r.ID, &r.Name, &status, &vehicleID, &startLat, &startLon,
		&r.TotalDistanceKm, &r.EstimatedDurationMinutes, &r.ActualDurationMinutes,
		&actualStart, &actualEnd, &r.IsOptimized, &params,
		&r.CompletedTasks, &r.TotalTasks, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	r.Status = domain.RouteStatus(status)
	if vehicleID.Valid {
		r.VehicleID = &vehicleID.String
	}
	if startLat.Valid && startLon.Valid {
		r.StartCoordinate = &domain.Coordinate{Lat: startLat.Float64, Lon: startLon.Float64}
	}
	r.ActualStart = fromNullNanos(actualStart)
	r.ActualEnd = fromNullNanos(actualEnd)
	if params.Valid && params.String != "" {
		if err := json.Unmarshal([]byte(params.String), &r.OptimizationParams); err != nil {
			return nil, fmt.Errorf("decode optimization params: %w", err)
		}
	}
	r.CreatedAt = time.Unix(0, createdAt).UTC()
	r.UpdatedAt = time.Unix(0, updatedAt).UTC()
	r.Checkpoints = []domain.Checkpoint{}
	return &r, nil
}

func checkpointArgs(cp *domain.Checkpoint) []any {
	return []any{
		cp.ID, cp.RouteID, nullString(cp.StopID), cp.Sequence, cp.Coordinate.Lat, cp.Coordinate.Lon,
		cp.Address, cp.EstimatedArrival.UnixNano(), nullNanos(cp.ActualArrival), cp.Completed,
	}
}

func scanCheckpoint(row rowScanner) (*domain.Checkpoint, error) {
	var (
		cp        domain.Checkpoint
		stopID    sql.NullString
		estimated int64
		actual    sql.NullInt64
	)
	if err := row.Scan(
		&cp.ID, &cp.RouteID, &stopID, &cp.Sequence, &cp.Coordinate.Lat, &cp.Coordinate.Lon,
		&cp.Address, &estimated, &actual, &cp.Completed,
	); err != nil {
		return nil, err
	}
	if stopID.Valid {
		cp.StopID = &stopID.String
	}
	cp.EstimatedArrival = time.Unix(0, estimated).UTC()
	cp.ActualArrival = fromNullNanos(actual)
	return &cp, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNullNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(0, n.Int64).UTC()
	return &t
}
