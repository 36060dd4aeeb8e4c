package services

import (
	"context"
	"fmt"
	"log"
	"math"
	"math/rand"
	"strings"
	"time"

	"fleet-route-service/internal/domain"
	"fleet-route-service/internal/geo"
	"fleet-route-service/internal/platform/obs"
)

type AlgorithmKind string

const (
	NearestNeighbor    AlgorithmKind = "nearest_neighbor"
	SimulatedAnnealing AlgorithmKind = "simulated_annealing"
	Genetic            AlgorithmKind = "genetic"
)

// ParseAlgorithm maps a name to an AlgorithmKind. Empty selects nearest neighbor.
func ParseAlgorithm(name string) (AlgorithmKind, error) {
	switch k := AlgorithmKind(strings.ToLower(strings.TrimSpace(name))); k {
	case "":
		return NearestNeighbor, nil
	case NearestNeighbor, SimulatedAnnealing, Genetic:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", domain.ErrUnknownAlgorithm, name)
}

// Planning constants, overridable per run through Options.
const (
	DefaultAverageSpeedKmh    = 40.0
	DefaultPopulation         = 50
	DefaultGenerations        = 100
	DefaultMutationRate       = 0.1
	DefaultInitialTemperature = 10000.0
	DefaultCoolingRate        = 0.995
	DefaultStopTemperature    = 1.0
)

// Options tunes a single optimization run. Zero values take the defaults above.
type Options struct {
	// Rand drives the stochastic algorithms. When nil a source is created from Seed,
	// or from the clock when Seed is zero.
	Rand *rand.Rand
	Seed int64

	// ReferenceTime is the departure time used for arrival estimates (default: now).
	ReferenceTime   time.Time
	AverageSpeedKmh float64

	Population   int
	Generations  int
	MutationRate float64

	InitialTemperature float64
	CoolingRate        float64
	StopTemperature    float64
}

func (o Options) withDefaults() Options {
	if o.AverageSpeedKmh <= 0 {
		o.AverageSpeedKmh = DefaultAverageSpeedKmh
	}
	if o.Population < 2 {
		o.Population = DefaultPopulation
	}
	if o.Generations <= 0 {
		o.Generations = DefaultGenerations
	}
	if o.MutationRate <= 0 {
		o.MutationRate = DefaultMutationRate
	}
	if o.InitialTemperature <= 0 {
		o.InitialTemperature = DefaultInitialTemperature
	}
	if o.CoolingRate <= 0 || o.CoolingRate >= 1 {
		o.CoolingRate = DefaultCoolingRate
	}
	if o.StopTemperature <= 0 {
		o.StopTemperature = DefaultStopTemperature
	}
	if o.ReferenceTime.IsZero() {
		o.ReferenceTime = time.Now()
	}
	if o.Rand == nil {
		if o.Seed == 0 {
			o.Seed = time.Now().UnixNano()
		}
		o.Rand = rand.New(rand.NewSource(o.Seed))
	}
	return o
}

// Describes how a Result was produced.
type Metadata struct {
	Algorithm   AlgorithmKind `json:"algorithm"`
	StopCount   int           `json:"stop_count"`
	Iterations  int           `json:"iterations"`
	Seed        int64         `json:"seed,omitempty"`
	OptimizedAt time.Time     `json:"optimized_at"`
}

func (m Metadata) Params() map[string]any {
	return map[string]any{
		"algorithm":    string(m.Algorithm),
		"points_count": m.StopCount,
		"iterations":   m.Iterations,
		"seed":         m.Seed,
		"optimized_at": m.OptimizedAt.UTC().Format(time.RFC3339),
	}
}

// Result of an optimization run: the visiting order with arrival estimates
// and aggregate distance and duration.
type Result struct {
	Sequence                 []domain.PlannedStop
	TotalDistanceKm          float64
	EstimatedDurationMinutes int
	Metadata                 Metadata
}

// problem is the index-based view of a run shared by all algorithms.
// When start is nil the first stop is the fixed origin and never reordered.
type problem struct {
	stops []domain.Stop
	start *domain.Coordinate
}

// firstFree is the first sequence position an algorithm may permute.
func (p *problem) firstFree() int {
	if p.start == nil {
		return 1
	}
	return 0
}

func (p *problem) cost(order []int) float64 {
	total := 0.0
	if p.start != nil && len(order) > 0 {
		total += geo.DistanceKm(*p.start, p.stops[order[0]].Coordinate)
	}
	for i := 1; i < len(order); i++ {
		total += geo.DistanceKm(p.stops[order[i-1]].Coordinate, p.stops[order[i]].Coordinate)
	}
	return total
}

// Optimize orders stops into a visiting sequence using the selected heuristic.
//
// Inputs are validated up front: an empty stop set or an out-of-range coordinate
// fails before any work is done. Stochastic algorithms honour ctx cancellation.
func Optimize(
	ctx context.Context,
	stops []domain.Stop,
	start *domain.Coordinate,
	algorithm AlgorithmKind,
	opts Options,
) (_ Result, err error) {
	defer obs.Time(ctx, "optimizer.Optimize")(&err)

	if len(stops) == 0 {
		return Result{}, fmt.Errorf("optimize: %w", domain.ErrEmptyStopSet)
	}
	for _, s := range stops {
		if err := s.Coordinate.Validate(); err != nil {
			return Result{}, fmt.Errorf("optimize: stop %q: %w", s.ID, err)
		}
	}
	if start != nil {
		if err := start.Validate(); err != nil {
			return Result{}, fmt.Errorf("optimize: start point: %w", err)
		}
	}
	if algorithm == "" {
		algorithm = NearestNeighbor
	}

	opts = opts.withDefaults()
	p := &problem{stops: stops, start: start}

	var (
		order      []int
		iterations int
	)
	switch algorithm {
	case NearestNeighbor:
		order = nearestNeighborOrder(p)
		iterations = len(stops)
	case SimulatedAnnealing:
		order, iterations, err = simulatedAnnealingOrder(ctx, p, opts)
	case Genetic:
		order, iterations, err = geneticOrder(ctx, p, opts)
	default:
		return Result{}, fmt.Errorf("optimize: %w: %q", domain.ErrUnknownAlgorithm, algorithm)
	}
	if err != nil {
		return Result{}, fmt.Errorf("optimize: %s: %w", algorithm, err)
	}

	res := schedule(p, order, opts)
	res.Metadata = Metadata{
		Algorithm:   algorithm,
		StopCount:   len(stops),
		Iterations:  iterations,
		OptimizedAt: time.Now().UTC(),
	}
	if algorithm != NearestNeighbor {
		res.Metadata.Seed = opts.Seed
	}

	log.Printf(
		"optimize algorithm=%s stops=%d distance_km=%.2f duration_min=%d iterations=%d",
		algorithm, len(stops), res.TotalDistanceKm, res.EstimatedDurationMinutes, iterations,
	)

	return res, nil
}

// schedule turns an order into planned stops with arrival estimates.
// Each stop's estimate accumulates its travel leg, at the planning average
// speed, and its own service time. Without a start point the first stop is
// the origin and is stamped with the reference time.
func schedule(p *problem, order []int, opts Options) Result {
	path := make([]domain.Coordinate, 0, len(order)+1)
	if p.start != nil {
		path = append(path, *p.start)
	}

	sequence := make([]domain.PlannedStop, 0, len(order))
	current := opts.ReferenceTime
	travelMinutes := 0.0
	serviceMinutes := 0

	prev := p.start
	for i, idx := range order {
		stop := p.stops[idx]
		origin := i == 0 && p.start == nil

		if prev != nil {
			leg := geo.DistanceKm(*prev, stop.Coordinate) / opts.AverageSpeedKmh * 60
			travelMinutes += leg
			current = current.Add(time.Duration(leg * float64(time.Minute)))
		}
		if !origin {
			current = current.Add(time.Duration(stop.ServiceMinutes()) * time.Minute)
		}

		sequence = append(sequence, domain.PlannedStop{Stop: stop, EstimatedArrival: current})
		serviceMinutes += stop.ServiceMinutes()
		path = append(path, stop.Coordinate)

		c := stop.Coordinate
		prev = &c
	}

	return Result{
		Sequence:                 sequence,
		TotalDistanceKm:          geo.PathDistanceKm(path),
		EstimatedDurationMinutes: int(math.Round(travelMinutes + float64(serviceMinutes))),
	}
}
