// Package memory provides in-process implementations of the persistence ports.
// They back the service and API tests; state is lost on exit.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"fleet-route-service/internal/domain"
)

type RouteRepository struct {
	mu          sync.RWMutex
	routes      map[string]*domain.Route
	stops       map[string][]domain.Stop
	checkpoints map[string]*domain.Checkpoint
}

func NewRouteRepository() *RouteRepository {
	return &RouteRepository{
		routes:      make(map[string]*domain.Route),
		stops:       make(map[string][]domain.Stop),
		checkpoints: make(map[string]*domain.Checkpoint),
	}
}

func (r *RouteRepository) CreateRoute(ctx context.Context, route *domain.Route) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.routes[route.ID]; ok {
		return fmt.Errorf("create route: route %q already exists", route.ID)
	}
	r.routes[route.ID] = copyRoute(route)
	return nil
}

func (r *RouteRepository) LoadRouteWithCheckpoints(ctx context.Context, routeID string) (*domain.Route, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	route, ok := r.routes[routeID]
	if !ok {
		return nil, fmt.Errorf("load route %q: %w", routeID, domain.ErrRouteNotFound)
	}

	out := copyRoute(route)
	out.Checkpoints = r.checkpointsFor(routeID)
	return out, nil
}

func (r *RouteRepository) UpdateRouteStatus(ctx context.Context, routeID string, apply func(*domain.Route)) (*domain.Route, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	route, ok := r.routes[routeID]
	if !ok {
		return nil, fmt.Errorf("update status of route %q: %w", routeID, domain.ErrRouteNotFound)
	}
	apply(route)

	out := copyRoute(route)
	out.Checkpoints = r.checkpointsFor(routeID)
	return out, nil
}

func (r *RouteRepository) LoadPendingStopsForRoute(ctx context.Context, routeID string) ([]domain.Stop, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.routes[routeID]; !ok {
		return nil, fmt.Errorf("load stops for route %q: %w", routeID, domain.ErrRouteNotFound)
	}
	return append([]domain.Stop(nil), r.stops[routeID]...), nil
}

func (r *RouteRepository) AddStops(ctx context.Context, routeID string, stops []domain.Stop) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.routes[routeID]; !ok {
		return fmt.Errorf("add stops to route %q: %w", routeID, domain.ErrRouteNotFound)
	}
	r.stops[routeID] = append(r.stops[routeID], stops...)
	return nil
}

func (r *RouteRepository) ReplaceCheckpoints(ctx context.Context, route *domain.Route, checkpoints []domain.Checkpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.routes[route.ID]
	if !ok {
		return fmt.Errorf("replace checkpoints for route %q: %w", route.ID, domain.ErrRouteNotFound)
	}

	for id, cp := range r.checkpoints {
		if cp.RouteID == route.ID {
			delete(r.checkpoints, id)
		}
	}
	for i := range checkpoints {
		cp := checkpoints[i]
		r.checkpoints[cp.ID] = &cp
	}

	stored.IsOptimized = route.IsOptimized
	stored.TotalDistanceKm = route.TotalDistanceKm
	stored.EstimatedDurationMinutes = route.EstimatedDurationMinutes
	stored.OptimizationParams = route.OptimizationParams
	r.recount(route.ID, route.UpdatedAt)
	return nil
}

func (r *RouteRepository) MarkCheckpointArrival(ctx context.Context, checkpointID string, arrivedAt, now time.Time) (*domain.Checkpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp, ok := r.checkpoints[checkpointID]
	if !ok {
		return nil, fmt.Errorf("mark checkpoint %q: %w", checkpointID, domain.ErrCheckpointNotFound)
	}
	at := arrivedAt
	cp.Completed = true
	cp.ActualArrival = &at
	r.recount(cp.RouteID, now)

	out := *cp
	return &out, nil
}

func (r *RouteRepository) AppendCheckpoint(ctx context.Context, checkpoint *domain.Checkpoint, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.routes[checkpoint.RouteID]; !ok {
		return fmt.Errorf("append checkpoint to route %q: %w", checkpoint.RouteID, domain.ErrRouteNotFound)
	}
	if _, ok := r.checkpoints[checkpoint.ID]; ok {
		return fmt.Errorf("append checkpoint: checkpoint %q already exists", checkpoint.ID)
	}

	next := 0
	for _, cp := range r.checkpoints {
		if cp.RouteID == checkpoint.RouteID && cp.Sequence > next {
			next = cp.Sequence
		}
	}
	checkpoint.Sequence = next + 1

	cp := *checkpoint
	r.checkpoints[cp.ID] = &cp
	r.recount(cp.RouteID, now)
	return nil
}

func (r *RouteRepository) FindActiveRouteForVehicle(ctx context.Context, vehicleID string) (*domain.Route, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, route := range r.routes {
		if route.Status == domain.RouteActive && route.VehicleID != nil && *route.VehicleID == vehicleID {
			out := copyRoute(route)
			out.Checkpoints = r.checkpointsFor(route.ID)
			return out, nil
		}
	}
	return nil, fmt.Errorf("active route for vehicle %q: %w", vehicleID, domain.ErrRouteNotFound)
}

// recount must be called with mu held.
func (r *RouteRepository) recount(routeID string, now time.Time) {
	route := r.routes[routeID]
	route.Checkpoints = r.checkpointsFor(routeID)
	route.RecountTasks()
	route.Checkpoints = nil
	route.UpdatedAt = now
}

// checkpointsFor must be called with mu held.
func (r *RouteRepository) checkpointsFor(routeID string) []domain.Checkpoint {
	out := []domain.Checkpoint{}
	for _, cp := range r.checkpoints {
		if cp.RouteID == routeID {
			out = append(out, *cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

func copyRoute(route *domain.Route) *domain.Route {
	out := *route
	out.Checkpoints = nil
	return &out
}
