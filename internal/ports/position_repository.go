package ports

import (
	"context"
	"time"

	"fleet-route-service/internal/domain"
)

// Port: append-only vehicle position history.
type PositionRepository interface {
	AppendPositionSample(ctx context.Context, sample domain.PositionSample) error
	// Samples in [from, to], ordered by timestamp ascending.
	LoadPositionHistory(ctx context.Context, vehicleID string, from, to time.Time) ([]domain.PositionSample, error)
}

// Port: registry of vehicles known to the upstream provider.
type VehicleRepository interface {
	FindByExternalID(ctx context.Context, externalID int64) (*domain.Vehicle, error)
	UpsertVehicle(ctx context.Context, vehicle *domain.Vehicle) error
	ListVehicles(ctx context.Context) ([]*domain.Vehicle, error)
}
