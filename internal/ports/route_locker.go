package ports

import "context"

// RouteLocker allows at most one optimization in flight per route.
type RouteLocker interface {
	// TryLock returns domain.ErrOptimizationInProgress when the route is already held.
	TryLock(ctx context.Context, routeID string) (unlock func(), err error)
}
