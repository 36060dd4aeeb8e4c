package ports

import (
	"context"
	"time"

	"fleet-route-service/internal/domain"
)

// Port: persistence boundary for routes, their stops and checkpoints.
//
// Every write touches only the columns it owns, so lifecycle changes,
// optimization results and arrival progress never overwrite each other.
type RouteRepository interface {
	CreateRoute(ctx context.Context, route *domain.Route) error
	// Load a route with its checkpoints ordered by sequence.
	LoadRouteWithCheckpoints(ctx context.Context, routeID string) (*domain.Route, error)
	// Apply a status transition to the stored route while holding its row and
	// persist only the lifecycle fields. Returns the route after the change.
	UpdateRouteStatus(ctx context.Context, routeID string, apply func(*domain.Route)) (*domain.Route, error)
	// Stops assigned to the route that an optimization run should order.
	LoadPendingStopsForRoute(ctx context.Context, routeID string) ([]domain.Stop, error)
	AddStops(ctx context.Context, routeID string, stops []domain.Stop) error
	// Atomically discard the route's checkpoints, insert the new batch and
	// persist the route's optimization fields and task counters.
	ReplaceCheckpoints(ctx context.Context, route *domain.Route, checkpoints []domain.Checkpoint) error
	// Complete an existing checkpoint and refresh its route's task counters.
	// ErrCheckpointNotFound when the checkpoint is gone.
	MarkCheckpointArrival(ctx context.Context, checkpointID string, arrivedAt, now time.Time) (*domain.Checkpoint, error)
	// Insert a checkpoint after the route's last one. Sequence is assigned
	// in the same write that refreshes the task counters.
	AppendCheckpoint(ctx context.Context, checkpoint *domain.Checkpoint, now time.Time) error
	// The active route dispatched to a vehicle, or ErrRouteNotFound.
	FindActiveRouteForVehicle(ctx context.Context, vehicleID string) (*domain.Route, error)
}
