package repositories

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"fleet-route-service/internal/domain"
	"fleet-route-service/internal/ports"

	"github.com/google/uuid"
)

type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

//go:embed schema_postgres.sql
var postgresSchema string

func schemaStatements(d Dialect) ([]string, error) {
	var src string
	switch d {
	case SQLite:
		src = sqliteSchema
	case Postgres:
		src = postgresSchema
	default:
		return nil, fmt.Errorf("unknown dialect %q", d)
	}

	lines := make([]string, 0, 64)
	for _, line := range strings.Split(src, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		lines = append(lines, line)
	}

	statements := make([]string, 0, 8)
	for _, stmt := range strings.Split(strings.Join(lines, "\n"), ";") {
		if s := strings.TrimSpace(stmt); s != "" {
			statements = append(statements, s)
		}
	}
	return statements, nil
}

// Initialize the database schema for the given dialect.
func InitSchema(db *sql.DB, d Dialect) error {
	if db == nil {
		return errors.New("init schema: DB is nil")
	}

	statements, err := schemaStatements(d)
	if err != nil {
		return fmt.Errorf("init schema: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("init schema: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: exec statement #%d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("init schema: commit tx: %w", err)
	}

	return nil
}

type RouteSeed struct {
	Name      string             `json:"name"`
	VehicleID *string            `json:"vehicle_id,omitempty"`
	Start     *domain.Coordinate `json:"start,omitempty"`
	Stops     []domain.Stop      `json:"stops"`
}

// Populate the repository with draft routes from a JSON file.
func SeedFromJSON(ctx context.Context, repo ports.RouteRepository, jsonPath string) (int, error) {
	bytes, err := os.ReadFile(jsonPath)
	if err != nil {
		return 0, fmt.Errorf("seed routes: read %q: %w", jsonPath, err)
	}

	var data []RouteSeed
	if err := json.Unmarshal(bytes, &data); err != nil {
		return 0, fmt.Errorf("seed routes: parse json: %w", err)
	}

	for i, item := range data {
		if strings.TrimSpace(item.Name) == "" {
			return 0, fmt.Errorf("seed routes: route at index %d: name cannot be empty", i+1)
		}
		for j, s := range item.Stops {
			if err := s.Coordinate.Validate(); err != nil {
				return 0, fmt.Errorf("seed routes: route %q stop %d: %w", item.Name, j+1, err)
			}
		}
	}

	now := time.Now().UTC()
	for _, item := range data {
		route := domain.NewRoute(uuid.NewString(), strings.TrimSpace(item.Name), now)
		route.VehicleID = item.VehicleID
		route.StartCoordinate = item.Start

		stops := make([]domain.Stop, len(item.Stops))
		for i, s := range item.Stops {
			if s.ID == "" {
				s.ID = uuid.NewString()
			}
			stops[i] = s
		}

		if err := repo.CreateRoute(ctx, route); err != nil {
			return 0, fmt.Errorf("seed routes: %w", err)
		}
		if err := repo.AddStops(ctx, route.ID, stops); err != nil {
			return 0, fmt.Errorf("seed routes: %w", err)
		}
	}

	return len(data), nil
}
