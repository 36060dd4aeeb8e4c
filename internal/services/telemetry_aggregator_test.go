package services

import (
	"context"
	"math"
	"testing"
	"time"

	"fleet-route-service/internal/adapters/memory"
	"fleet-route-service/internal/domain"
	"fleet-route-service/internal/geo"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAggregator(t *testing.T) (*TelemetryAggregator, *fixedClock) {
	t.Helper()
	clock := &fixedClock{t: time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)}
	return NewTelemetryAggregator(memory.NewPositionRepository(), 5*time.Minute, clock.Now), clock
}

// linearTrack heads due north at speedKmh, one sample every step.
func linearTrack(vehicleID string, start time.Time, speedKmh float64, step time.Duration, n int) []domain.PositionSample {
	kmPerDegree := geo.EarthRadiusKm * math.Pi / 180
	stepKm := speedKmh * step.Hours()

	out := make([]domain.PositionSample, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, domain.PositionSample{
			VehicleID:  vehicleID,
			Coordinate: domain.Coordinate{Lat: -26.5 + float64(i)*stepKm/kmPerDegree, Lon: 28.0},
			SpeedKmh:   speedKmh,
			Timestamp:  start.Add(time.Duration(i) * step),
		})
	}
	return out
}

func TestStatisticsLinearTrack(t *testing.T) {
	agg, clock := newTestAggregator(t)
	ctx := context.Background()

	const speed = 60.0
	start := clock.Now().Add(-3 * time.Hour)
	// 2 hours at 60 km/h in 5 minute steps
	for _, s := range linearTrack("v1", start, speed, 5*time.Minute, 25) {
		require.NoError(t, agg.Ingest(ctx, s))
	}

	stats, err := agg.Statistics(ctx, "v1", start, clock.Now())
	require.NoError(t, err)

	assert.Equal(t, 25, stats.SampleCount)
	assert.InDelta(t, speed*2, stats.DistanceKm, 0.01)
	assert.InDelta(t, speed, stats.AvgSpeedKmh, 0.01)
	assert.Equal(t, speed, stats.MaxSpeedKmh)
	assert.Equal(t, 120.0, stats.DurationMinutes)
}

func TestStatisticsWindowAndEdgeCases(t *testing.T) {
	agg, clock := newTestAggregator(t)
	ctx := context.Background()
	start := clock.Now().Add(-time.Hour)

	track := linearTrack("v1", start, 30, 10*time.Minute, 7)
	track[3].SpeedKmh = 85
	for _, s := range track {
		require.NoError(t, agg.Ingest(ctx, s))
	}

	empty, err := agg.Statistics(ctx, "unknown", start, clock.Now())
	require.NoError(t, err)
	assert.Equal(t, Statistics{VehicleID: "unknown"}, empty)

	single, err := agg.Statistics(ctx, "v1", start, start)
	require.NoError(t, err)
	assert.Equal(t, 1, single.SampleCount)
	assert.Zero(t, single.AvgSpeedKmh)
	assert.Zero(t, single.DistanceKm)

	window, err := agg.Statistics(ctx, "v1", start.Add(10*time.Minute), start.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 3, window.SampleCount)
	assert.Equal(t, 85.0, window.MaxSpeedKmh)
	assert.Equal(t, 20.0, window.DurationMinutes)
	assert.InDelta(t, 10.0, window.DistanceKm, 0.01)
}

func TestTodayStatisticsStartsAtMidnight(t *testing.T) {
	agg, clock := newTestAggregator(t)
	ctx := context.Background()

	yesterday := linearTrack("v1", clock.Now().Add(-24*time.Hour), 50, time.Minute, 3)
	today := linearTrack("v1", clock.Now().Add(-time.Hour), 50, time.Minute, 4)
	for _, s := range append(yesterday, today...) {
		require.NoError(t, agg.Ingest(ctx, s))
	}

	stats, err := agg.TodayStatistics(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, 4, stats.SampleCount)

	track, err := agg.Track(ctx, "v1", clock.Now().Add(-48*time.Hour), clock.Now())
	require.NoError(t, err)
	assert.Len(t, track, 7)
}

func TestIngestUpdatesLiveState(t *testing.T) {
	agg, clock := newTestAggregator(t)
	ctx := context.Background()

	_, ok := agg.LiveState("v1")
	assert.False(t, ok)
	assert.False(t, agg.IsOnline("v1"))

	latest := domain.PositionSample{
		VehicleID:  "v1",
		Coordinate: domain.Coordinate{Lat: -26.1, Lon: 28.0},
		SpeedKmh:   42,
		Timestamp:  clock.Now().Add(-time.Minute),
	}
	require.NoError(t, agg.Ingest(ctx, latest))

	stale := latest
	stale.Coordinate = domain.Coordinate{Lat: -26.3, Lon: 28.2}
	stale.Timestamp = clock.Now().Add(-10 * time.Minute)
	require.NoError(t, agg.Ingest(ctx, stale))

	state, ok := agg.LiveState("v1")
	require.True(t, ok)
	assert.Equal(t, latest.Coordinate, state.Coordinate)
	assert.Equal(t, 42.0, state.SpeedKmh)
	assert.True(t, agg.IsOnline("v1"))

	clock.Advance(5 * time.Minute)
	assert.False(t, agg.IsOnline("v1"))
}

func TestIngestRejectsInvalidSample(t *testing.T) {
	agg, _ := newTestAggregator(t)
	ctx := context.Background()

	err := agg.Ingest(ctx, domain.PositionSample{VehicleID: "v1", Coordinate: domain.Coordinate{Lat: 95}})
	assert.ErrorIs(t, err, domain.ErrInvalidCoordinate)

	err = agg.Ingest(ctx, domain.PositionSample{Coordinate: domain.Coordinate{Lat: 1}})
	assert.Error(t, err)

	_, ok := agg.LiveState("v1")
	assert.False(t, ok)
}

func TestOnlineVehicles(t *testing.T) {
	agg, clock := newTestAggregator(t)
	ctx := context.Background()

	for id, age := range map[string]time.Duration{"b": time.Minute, "a": 2 * time.Minute, "c": 6 * time.Minute} {
		require.NoError(t, agg.Ingest(ctx, domain.PositionSample{
			VehicleID:  id,
			Coordinate: domain.Coordinate{Lat: -26, Lon: 28},
			Timestamp:  clock.Now().Add(-age),
		}))
	}

	online := agg.OnlineVehicles()
	require.Len(t, online, 2)
	assert.Equal(t, "a", online[0].VehicleID)
	assert.Equal(t, "b", online[1].VehicleID)
}
