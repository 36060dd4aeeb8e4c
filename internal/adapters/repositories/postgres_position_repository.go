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

var (
	_ ports.PositionRepository = (*PostgresPositionRepository)(nil)
	_ ports.VehicleRepository  = (*PostgresVehicleRepository)(nil)
)

type PostgresPositionRepository struct{ Pool *pgxpool.Pool }

func NewPostgresPositionRepository(pool *pgxpool.Pool) *PostgresPositionRepository {
	return &PostgresPositionRepository{Pool: pool}
}

func (p *PostgresPositionRepository) AppendPositionSample(ctx context.Context, sample domain.PositionSample) error {
	_, err := p.Pool.Exec(ctx, `
	INSERT INTO position_samples (
		vehicle_id, lat, lon, speed_kmh, course_degrees, altitude_m, satellites, recorded_at, sensors
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
	`,
		sample.VehicleID, sample.Coordinate.Lat, sample.Coordinate.Lon, sample.SpeedKmh,
		sample.CourseDegrees, sample.AltitudeM, sample.Satellites, sample.Timestamp, sample.Sensors,
	)
	if err != nil {
		return fmt.Errorf("append position sample vehicle_id=%q: %w", sample.VehicleID, err)
	}
	return nil
}

func (p *PostgresPositionRepository) LoadPositionHistory(
	ctx context.Context,
	vehicleID string,
	from, to time.Time,
) (_ []domain.PositionSample, err error) {
	defer obs.Time(ctx, "postgres.LoadPositionHistory")(&err)

	rows, err := p.Pool.Query(ctx, `
	SELECT lat, lon, speed_kmh, course_degrees, altitude_m, satellites, recorded_at, sensors
	FROM position_samples
	WHERE vehicle_id = $1 AND recorded_at BETWEEN $2 AND $3
	ORDER BY recorded_at;
	`, vehicleID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load position history: query: %w", err)
	}
	defer rows.Close()

	out := make([]domain.PositionSample, 0, 64)
	for rows.Next() {
		s := domain.PositionSample{VehicleID: vehicleID}
		if err := rows.Scan(
			&s.Coordinate.Lat, &s.Coordinate.Lon, &s.SpeedKmh, &s.CourseDegrees,
			&s.AltitudeM, &s.Satellites, &s.Timestamp, &s.Sensors,
		); err != nil {
			return nil, fmt.Errorf("load position history: scan row: %w", err)
		}
		s.Timestamp = s.Timestamp.UTC()
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load position history: row iteration: %w", err)
	}
	return out, nil
}

type PostgresVehicleRepository struct{ Pool *pgxpool.Pool }

func NewPostgresVehicleRepository(pool *pgxpool.Pool) *PostgresVehicleRepository {
	return &PostgresVehicleRepository{Pool: pool}
}

func (p *PostgresVehicleRepository) FindByExternalID(ctx context.Context, externalID int64) (*domain.Vehicle, error) {
	row := p.Pool.QueryRow(ctx, `SELECT `+vehicleColumns+` FROM vehicles WHERE external_id = $1;`, externalID)
	v, err := pgScanVehicle(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("vehicle external_id=%d: %w", externalID, domain.ErrVehicleNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("vehicle external_id=%d: %w", externalID, err)
	}
	return v, nil
}

func (p *PostgresVehicleRepository) UpsertVehicle(ctx context.Context, v *domain.Vehicle) error {
	_, err := p.Pool.Exec(ctx, `
	INSERT INTO vehicles (`+vehicleColumns+`)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (id) DO UPDATE SET
		external_id = EXCLUDED.external_id,
		name = EXCLUDED.name,
		license_plate = EXCLUDED.license_plate,
		vin = EXCLUDED.vin,
		metadata = EXCLUDED.metadata,
		updated_at = EXCLUDED.updated_at;
	`, v.ID, v.ExternalID, v.Name, v.LicensePlate, v.VIN, v.Metadata, v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert vehicle %q: %w", v.ID, err)
	}
	return nil
}

func (p *PostgresVehicleRepository) ListVehicles(ctx context.Context) ([]*domain.Vehicle, error) {
	rows, err := p.Pool.Query(ctx, `SELECT `+vehicleColumns+` FROM vehicles ORDER BY name;`)
	if err != nil {
		return nil, fmt.Errorf("list vehicles: query: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.Vehicle, 0, 32)
	for rows.Next() {
		v, err := pgScanVehicle(rows)
		if err != nil {
			return nil, fmt.Errorf("list vehicles: scan row: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list vehicles: row iteration: %w", err)
	}
	return out, nil
}

func pgScanVehicle(row pgx.Row) (*domain.Vehicle, error) {
	var v domain.Vehicle
	if err := row.Scan(&v.ID, &v.ExternalID, &v.Name, &v.LicensePlate, &v.VIN, &v.Metadata, &v.UpdatedAt); err != nil {
		return nil, err
	}
	v.UpdatedAt = v.UpdatedAt.UTC()
	return &v, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
