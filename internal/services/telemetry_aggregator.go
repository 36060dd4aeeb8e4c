package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"fleet-route-service/internal/domain"
	"fleet-route-service/internal/geo"
	"fleet-route-service/internal/platform/obs"
	"fleet-route-service/internal/ports"
)

const DefaultOnlineFreshness = 5 * time.Minute

// TelemetryAggregator records position samples and keeps the live state of
// every vehicle it has seen. Live state lives in memory only; history goes
// through the position repository.
type TelemetryAggregator struct {
	positions ports.PositionRepository
	freshness time.Duration
	now       func() time.Time

	mu   sync.RWMutex
	live map[string]domain.LiveState
}

func NewTelemetryAggregator(positions ports.PositionRepository, freshness time.Duration, now func() time.Time) *TelemetryAggregator {
	if freshness <= 0 {
		freshness = DefaultOnlineFreshness
	}
	if now == nil {
		now = time.Now
	}
	return &TelemetryAggregator{
		positions: positions,
		freshness: freshness,
		now:       now,
		live:      make(map[string]domain.LiveState),
	}
}

// Ingest appends sample to the vehicle's history and advances its live state.
// A sample older than the current live state is stored but does not rewind it.
func (a *TelemetryAggregator) Ingest(ctx context.Context, sample domain.PositionSample) error {
	if sample.VehicleID == "" {
		return fmt.Errorf("ingest: empty vehicle id")
	}
	if err := sample.Coordinate.Validate(); err != nil {
		return fmt.Errorf("ingest vehicle %q: %w", sample.VehicleID, err)
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = a.now().UTC()
	}

	if err := a.positions.AppendPositionSample(ctx, sample); err != nil {
		return fmt.Errorf("ingest vehicle %q: append sample: %w", sample.VehicleID, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if cur, ok := a.live[sample.VehicleID]; ok && sample.Timestamp.Before(cur.LastSampleTime) {
		return nil
	}
	a.live[sample.VehicleID] = domain.LiveState{
		VehicleID:      sample.VehicleID,
		Coordinate:     sample.Coordinate,
		SpeedKmh:       sample.SpeedKmh,
		CourseDegrees:  sample.CourseDegrees,
		LastSampleTime: sample.Timestamp,
	}
	return nil
}

func (a *TelemetryAggregator) LiveState(vehicleID string) (domain.LiveState, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s, ok := a.live[vehicleID]
	return s, ok
}

func (a *TelemetryAggregator) IsOnline(vehicleID string) bool {
	s, ok := a.LiveState(vehicleID)
	return ok && s.IsOnline(a.now(), a.freshness)
}

// OnlineVehicles returns the live state of every vehicle reported within the
// freshness window, ordered by vehicle id.
func (a *TelemetryAggregator) OnlineVehicles() []domain.LiveState {
	now := a.now()

	a.mu.RLock()
	out := make([]domain.LiveState, 0, len(a.live))
	for _, s := range a.live {
		if s.IsOnline(now, a.freshness) {
			out = append(out, s)
		}
	}
	a.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].VehicleID < out[j].VehicleID })
	return out
}

type Statistics struct {
	VehicleID       string  `json:"vehicle_id"`
	DistanceKm      float64 `json:"distance_km"`
	MaxSpeedKmh     float64 `json:"max_speed_kmh"`
	AvgSpeedKmh     float64 `json:"avg_speed_kmh"`
	DurationMinutes float64 `json:"duration_minutes"`
	SampleCount     int     `json:"sample_count"`
}

// Statistics summarises the vehicle's samples in [from, to].
// Average speed is distance over elapsed time and 0 when no time elapsed.
func (a *TelemetryAggregator) Statistics(ctx context.Context, vehicleID string, from, to time.Time) (_ Statistics, err error) {
	defer obs.Time(ctx, "telemetry.Statistics")(&err)

	samples, err := a.positions.LoadPositionHistory(ctx, vehicleID, from, to)
	if err != nil {
		return Statistics{}, fmt.Errorf("vehicle statistics %q: %w", vehicleID, err)
	}

	return summarize(vehicleID, samples), nil
}

// TodayStatistics covers local midnight until now.
func (a *TelemetryAggregator) TodayStatistics(ctx context.Context, vehicleID string) (Statistics, error) {
	now := a.now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return a.Statistics(ctx, vehicleID, midnight, now)
}

func (a *TelemetryAggregator) Track(ctx context.Context, vehicleID string, from, to time.Time) ([]domain.PositionSample, error) {
	samples, err := a.positions.LoadPositionHistory(ctx, vehicleID, from, to)
	if err != nil {
		return nil, fmt.Errorf("vehicle track %q: %w", vehicleID, err)
	}
	return samples, nil
}

// summarize expects samples ordered by timestamp.
func summarize(vehicleID string, samples []domain.PositionSample) Statistics {
	stats := Statistics{VehicleID: vehicleID, SampleCount: len(samples)}
	if len(samples) == 0 {
		return stats
	}

	distance := 0.0
	maxSpeed := samples[0].SpeedKmh
	for i := 1; i < len(samples); i++ {
		distance += geo.DistanceKm(samples[i-1].Coordinate, samples[i].Coordinate)
		if samples[i].SpeedKmh > maxSpeed {
			maxSpeed = samples[i].SpeedKmh
		}
	}
	elapsed := samples[len(samples)-1].Timestamp.Sub(samples[0].Timestamp)

	stats.DistanceKm = geo.Round2(distance)
	stats.MaxSpeedKmh = geo.Round2(maxSpeed)
	stats.DurationMinutes = geo.Round2(elapsed.Minutes())
	if hours := elapsed.Hours(); hours > 0 {
		stats.AvgSpeedKmh = geo.Round2(distance / hours)
	}
	return stats
}
