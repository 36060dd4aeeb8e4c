package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"fleet-route-service/internal/domain"
	"fleet-route-service/internal/geo"
	"fleet-route-service/internal/platform/obs"
	"fleet-route-service/internal/ports"

	"github.com/google/uuid"
)

const DefaultArrivalRadiusKm = 0.1

type TrackerConfig struct {
	// ArrivalRadiusKm is how close a position sample must be to a pending
	// checkpoint to count as an arrival.
	ArrivalRadiusKm float64
	AverageSpeedKmh float64
	// Now is the tracker clock (default time.Now).
	Now func() time.Time
}

// RouteTracker owns the route lifecycle and its checkpoint state.
type RouteTracker struct {
	repo   ports.RouteRepository
	locker ports.RouteLocker
	cfg    TrackerConfig
}

func NewRouteTracker(repo ports.RouteRepository, locker ports.RouteLocker, cfg TrackerConfig) *RouteTracker {
	if cfg.ArrivalRadiusKm <= 0 {
		cfg.ArrivalRadiusKm = DefaultArrivalRadiusKm
	}
	if cfg.AverageSpeedKmh <= 0 {
		cfg.AverageSpeedKmh = DefaultAverageSpeedKmh
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &RouteTracker{repo: repo, locker: locker, cfg: cfg}
}

type CreateRouteRequest struct {
	Name      string
	VehicleID *string
	Start     *domain.Coordinate
	Stops     []domain.Stop
}

// CreateRoute registers a draft route with its stops. Stops without an id get one.
func (t *RouteTracker) CreateRoute(ctx context.Context, req CreateRouteRequest) (_ *domain.Route, err error) {
	defer obs.Time(ctx, "tracker.CreateRoute")(&err)

	if req.Start != nil {
		if err := req.Start.Validate(); err != nil {
			return nil, fmt.Errorf("create route: start point: %w", err)
		}
	}
	stops := make([]domain.Stop, len(req.Stops))
	for i, s := range req.Stops {
		if err := s.Coordinate.Validate(); err != nil {
			return nil, fmt.Errorf("create route: stop %d: %w", i, err)
		}
		if s.ID == "" {
			s.ID = uuid.NewString()
		}
		stops[i] = s
	}

	route := domain.NewRoute(uuid.NewString(), req.Name, t.cfg.Now().UTC())
	route.VehicleID = req.VehicleID
	route.StartCoordinate = req.Start

	if err := t.repo.CreateRoute(ctx, route); err != nil {
		return nil, fmt.Errorf("create route: %w", err)
	}
	if len(stops) > 0 {
		if err := t.repo.AddStops(ctx, route.ID, stops); err != nil {
			return nil, fmt.Errorf("create route: add stops: %w", err)
		}
	}

	log.Printf("route created route_id=%s stops=%d", route.ID, len(stops))
	return route, nil
}

func (t *RouteTracker) Route(ctx context.Context, routeID string) (*domain.Route, error) {
	route, err := t.repo.LoadRouteWithCheckpoints(ctx, routeID)
	if err != nil {
		return nil, fmt.Errorf("get route: %w", err)
	}
	return route, nil
}

// UpdateStatus moves a route to status. Dispatch records the actual start
// once; completion records the end and the actual duration.
func (t *RouteTracker) UpdateStatus(ctx context.Context, routeID string, status domain.RouteStatus) (*domain.Route, error) {
	now := t.cfg.Now().UTC()

	var from domain.RouteStatus
	route, err := t.repo.UpdateRouteStatus(ctx, routeID, func(r *domain.Route) {
		from = r.Status
		r.SetStatus(status, now)
	})
	if err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}

	log.Printf("route status route_id=%s from=%s to=%s", routeID, from, status)
	return route, nil
}

// OptimizeAndReplan orders the route's stops and replaces its checkpoints with
// the new sequence. At most one run per route is in flight; a concurrent call
// fails with domain.ErrOptimizationInProgress. When optimization fails the
// stored checkpoints are left untouched.
func (t *RouteTracker) OptimizeAndReplan(
	ctx context.Context,
	routeID string,
	algorithm AlgorithmKind,
	opts Options,
) (_ *domain.Route, err error) {
	defer obs.Time(ctx, "tracker.OptimizeAndReplan")(&err)

	unlock, err := t.locker.TryLock(ctx, routeID)
	if err != nil {
		return nil, fmt.Errorf("optimize route: %w", err)
	}
	defer unlock()

	route, err := t.repo.LoadRouteWithCheckpoints(ctx, routeID)
	if err != nil {
		return nil, fmt.Errorf("optimize route: %w", err)
	}
	stops, err := t.repo.LoadPendingStopsForRoute(ctx, routeID)
	if err != nil {
		return nil, fmt.Errorf("optimize route: %w", err)
	}

	if opts.AverageSpeedKmh <= 0 {
		opts.AverageSpeedKmh = t.cfg.AverageSpeedKmh
	}
	if opts.ReferenceTime.IsZero() {
		opts.ReferenceTime = t.cfg.Now()
	}

	res, err := Optimize(ctx, stops, route.StartCoordinate, algorithm, opts)
	if err != nil {
		return nil, fmt.Errorf("optimize route %q: %w", routeID, err)
	}

	checkpoints := make([]domain.Checkpoint, 0, len(res.Sequence))
	for i, ps := range res.Sequence {
		stopID := ps.ID
		checkpoints = append(checkpoints, domain.Checkpoint{
			ID:               uuid.NewString(),
			RouteID:          routeID,
			StopID:           &stopID,
			Sequence:         i + 1,
			Coordinate:       ps.Coordinate,
			Address:          ps.Address,
			EstimatedArrival: ps.EstimatedArrival,
		})
	}

	route.IsOptimized = true
	route.TotalDistanceKm = res.TotalDistanceKm
	route.EstimatedDurationMinutes = res.EstimatedDurationMinutes
	route.OptimizationParams = res.Metadata.Params()
	route.UpdatedAt = t.cfg.Now().UTC()

	if err := t.repo.ReplaceCheckpoints(ctx, route, checkpoints); err != nil {
		return nil, fmt.Errorf("optimize route %q: replace checkpoints: %w", routeID, err)
	}

	// Status may have moved while the optimizer ran.
	route, err = t.repo.LoadRouteWithCheckpoints(ctx, routeID)
	if err != nil {
		return nil, fmt.Errorf("optimize route: %w", err)
	}
	return route, nil
}

// MarkArrival completes a checkpoint at when, or now when nil, and refreshes
// the owning route's task counters. A checkpoint dropped by a replan stays
// gone: the call fails with domain.ErrCheckpointNotFound.
func (t *RouteTracker) MarkArrival(ctx context.Context, checkpointID string, when *time.Time) (*domain.Checkpoint, error) {
	now := t.cfg.Now().UTC()
	arrived := now
	if when != nil {
		arrived = *when
	}

	cp, err := t.repo.MarkCheckpointArrival(ctx, checkpointID, arrived, now)
	if err != nil {
		return nil, fmt.Errorf("mark arrival: %w", err)
	}
	return cp, nil
}

// AddCheckpoint appends a manual checkpoint after the route's last one.
func (t *RouteTracker) AddCheckpoint(ctx context.Context, routeID string, cp domain.Checkpoint) (*domain.Checkpoint, error) {
	if err := cp.Coordinate.Validate(); err != nil {
		return nil, fmt.Errorf("add checkpoint: %w", err)
	}

	now := t.cfg.Now().UTC()
	cp.ID = uuid.NewString()
	cp.RouteID = routeID
	if cp.EstimatedArrival.IsZero() {
		cp.EstimatedArrival = now
	}

	if err := t.repo.AppendCheckpoint(ctx, &cp, now); err != nil {
		return nil, fmt.Errorf("add checkpoint: %w", err)
	}
	return &cp, nil
}

type ProgressReport struct {
	RouteID    string `json:"route_id"`
	Completed  int    `json:"completed"`
	Total      int    `json:"total"`
	Percentage int    `json:"percentage"`
}

func (t *RouteTracker) Progress(ctx context.Context, routeID string) (ProgressReport, error) {
	route, err := t.repo.LoadRouteWithCheckpoints(ctx, routeID)
	if err != nil {
		return ProgressReport{}, fmt.Errorf("route progress: %w", err)
	}

	report := ProgressReport{RouteID: routeID, Total: len(route.Checkpoints)}
	for _, cp := range route.Checkpoints {
		if cp.Completed {
			report.Completed++
		}
	}
	if report.Total > 0 {
		report.Percentage = int(math.Round(100 * float64(report.Completed) / float64(report.Total)))
	}
	return report, nil
}

// DetectArrivals marks every pending checkpoint of the vehicle's active route
// that lies within the arrival radius of sample. It returns the checkpoints
// marked; a vehicle without an active route is not an error.
func (t *RouteTracker) DetectArrivals(ctx context.Context, sample domain.PositionSample) ([]domain.Checkpoint, error) {
	route, err := t.repo.FindActiveRouteForVehicle(ctx, sample.VehicleID)
	if errors.Is(err, domain.ErrRouteNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("detect arrivals: %w", err)
	}

	pending := route.PendingCheckpoints()
	if len(pending) == 0 {
		return nil, nil
	}

	index := geo.NewCheckpointIndex()
	for _, cp := range pending {
		index.Insert(cp)
	}
	hits, err := index.Within(sample.Coordinate, t.cfg.ArrivalRadiusKm)
	if err != nil {
		return nil, fmt.Errorf("detect arrivals: %w", err)
	}

	arrived := sample.Timestamp
	marked := make([]domain.Checkpoint, 0, len(hits))
	for _, hit := range hits {
		cp, err := t.MarkArrival(ctx, hit.ID, &arrived)
		if errors.Is(err, domain.ErrCheckpointNotFound) {
			// replanned since the route was loaded
			continue
		}
		if err != nil {
			return marked, fmt.Errorf("detect arrivals: %w", err)
		}
		marked = append(marked, *cp)
		log.Printf(
			"checkpoint arrival route_id=%s checkpoint_id=%s vehicle_id=%s sequence=%d",
			route.ID, cp.ID, sample.VehicleID, cp.Sequence,
		)
	}

	return marked, nil
}
