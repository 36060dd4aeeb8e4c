package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"fleet-route-service/internal/domain"
)

type PositionRepository struct {
	mu      sync.RWMutex
	history map[string][]domain.PositionSample
}

func NewPositionRepository() *PositionRepository {
	return &PositionRepository{history: make(map[string][]domain.PositionSample)}
}

func (r *PositionRepository) AppendPositionSample(ctx context.Context, sample domain.PositionSample) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.history[sample.VehicleID] = append(r.history[sample.VehicleID], sample)
	return nil
}

func (r *PositionRepository) LoadPositionHistory(
	ctx context.Context,
	vehicleID string,
	from, to time.Time,
) ([]domain.PositionSample, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []domain.PositionSample{}
	for _, s := range r.history[vehicleID] {
		if s.Timestamp.Before(from) || s.Timestamp.After(to) {
			continue
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

type VehicleRepository struct {
	mu       sync.RWMutex
	vehicles map[string]*domain.Vehicle
}

func NewVehicleRepository() *VehicleRepository {
	return &VehicleRepository{vehicles: make(map[string]*domain.Vehicle)}
}

func (r *VehicleRepository) FindByExternalID(ctx context.Context, externalID int64) (*domain.Vehicle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, v := range r.vehicles {
		if v.ExternalID == externalID {
			out := *v
			return &out, nil
		}
	}
	return nil, fmt.Errorf("vehicle external_id=%d: %w", externalID, domain.ErrVehicleNotFound)
}

func (r *VehicleRepository) UpsertVehicle(ctx context.Context, vehicle *domain.Vehicle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	v := *vehicle
	r.vehicles[v.ID] = &v
	return nil
}

func (r *VehicleRepository) ListVehicles(ctx context.Context) ([]*domain.Vehicle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.Vehicle, 0, len(r.vehicles))
	for _, v := range r.vehicles {
		c := *v
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
