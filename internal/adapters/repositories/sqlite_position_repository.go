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

var (
	_ ports.PositionRepository = (*SqlitePositionRepository)(nil)
	_ ports.VehicleRepository  = (*SqliteVehicleRepository)(nil)
)

// SQLite-backed append-only position history.
type SqlitePositionRepository struct{ DB *db.SQLite }

func NewSqlitePositionRepository(db *db.SQLite) *SqlitePositionRepository {
	return &SqlitePositionRepository{DB: db}
}

func (s *SqlitePositionRepository) AppendPositionSample(ctx context.Context, sample domain.PositionSample) error {
	sensors, err := encodeJSON(sample.Sensors)
	if err != nil {
		return fmt.Errorf("append position sample: %w", err)
	}

	s.DB.LockWrite()
	defer s.DB.UnlockWrite()

	_, err = s.DB.Conn().ExecContext(ctx, `
	INSERT INTO position_samples (
		vehicle_id, lat, lon, speed_kmh, course_degrees, altitude_m, satellites, recorded_at, sensors
	)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);
	`,
		sample.VehicleID, sample.Coordinate.Lat, sample.Coordinate.Lon, sample.SpeedKmh,
		sample.CourseDegrees, sample.AltitudeM, sample.Satellites, sample.Timestamp.UnixNano(), sensors,
	)
	if err != nil {
		return fmt.Errorf("append position sample vehicle_id=%q: %w", sample.VehicleID, err)
	}
	return nil
}

func (s *SqlitePositionRepository) LoadPositionHistory(
	ctx context.Context,
	vehicleID string,
	from, to time.Time,
) (_ []domain.PositionSample, err error) {
	defer obs.Time(ctx, "sqlite.LoadPositionHistory")(&err)

	rows, err := s.DB.Conn().QueryContext(ctx, `
	SELECT lat, lon, speed_kmh, course_degrees, altitude_m, satellites, recorded_at, sensors
	FROM position_samples
	WHERE vehicle_id = ? AND recorded_at BETWEEN ? AND ?
	ORDER BY recorded_at;
	`, vehicleID, from.UnixNano(), to.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("load position history: query: %w", err)
	}
	defer rows.Close()

	out := make([]domain.PositionSample, 0, 64)
	for rows.Next() {
		sample := domain.PositionSample{VehicleID: vehicleID}
		var recorded int64
		var sensors sql.NullString
		if err := rows.Scan(
			&sample.Coordinate.Lat, &sample.Coordinate.Lon, &sample.SpeedKmh, &sample.CourseDegrees,
			&sample.AltitudeM, &sample.Satellites, &recorded, &sensors,
		); err != nil {
			return nil, fmt.Errorf("load position history: scan row: %w", err)
		}
		sample.Timestamp = time.Unix(0, recorded).UTC()
		if sensors.Valid && sensors.String != "" {
			if err := json.Unmarshal([]byte(sensors.String), &sample.Sensors); err != nil {
				return nil, fmt.Errorf("load position history: decode sensors: %w", err)
			}
		}
		out = append(out, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load position history: row iteration: %w", err)
	}
	return out, nil
}

// SQLite-backed vehicle registry.
type SqliteVehicleRepository struct{ DB *db.SQLite }

func NewSqliteVehicleRepository(db *db.SQLite) *SqliteVehicleRepository {
	return &SqliteVehicleRepository{DB: db}
}

const vehicleColumns = `id, external_id, name, license_plate, vin, metadata, updated_at`

func (s *SqliteVehicleRepository) FindByExternalID(ctx context.Context, externalID int64) (*domain.Vehicle, error) {
	row := s.DB.Conn().QueryRowContext(ctx,
		`SELECT `+vehicleColumns+` FROM vehicles WHERE external_id = ?;`, externalID)
	v, err := scanVehicle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("vehicle external_id=%d: %w", externalID, domain.ErrVehicleNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("vehicle external_id=%d: %w", externalID, err)
	}
	return v, nil
}

func (s *SqliteVehicleRepository) UpsertVehicle(ctx context.Context, v *domain.Vehicle) error {
	metadata, err := encodeJSON(v.Metadata)
	if err != nil {
		return fmt.Errorf("upsert vehicle: %w", err)
	}

	s.DB.LockWrite()
	defer s.DB.UnlockWrite()

	_, err = s.DB.Conn().ExecContext(ctx, `
	INSERT INTO vehicles (`+vehicleColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		external_id = excluded.external_id,
		name = excluded.name,
		license_plate = excluded.license_plate,
		vin = excluded.vin,
		metadata = excluded.metadata,
		updated_at = excluded.updated_at;
	`, v.ID, v.ExternalID, v.Name, v.LicensePlate, v.VIN, metadata, v.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("upsert vehicle %q: %w", v.ID, err)
	}
	return nil
}

func (s *SqliteVehicleRepository) ListVehicles(ctx context.Context) ([]*domain.Vehicle, error) {
	rows, err := s.DB.Conn().QueryContext(ctx, `SELECT `+vehicleColumns+` FROM vehicles ORDER BY name;`)
	if err != nil {
		return nil, fmt.Errorf("list vehicles: query: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.Vehicle, 0, 32)
	for rows.Next() {
		v, err := scanVehicle(rows)
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

func scanVehicle(row rowScanner) (*domain.Vehicle, error) {
	var (
		v         domain.Vehicle
		metadata  sql.NullString
		updatedAt int64
	)
	if err := row.Scan(&v.ID, &v.ExternalID, &v.Name, &v.LicensePlate, &v.VIN, &metadata, &updatedAt); err != nil {
		return nil, err
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &v.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	v.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &v, nil
}

func encodeJSON(m map[string]any) (sql.NullString, error) {
	if m == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode json: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
