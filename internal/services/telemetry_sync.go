package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"fleet-route-service/internal/domain"
	"fleet-route-service/internal/platform/obs"
	"fleet-route-service/internal/ports"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultPositionSyncInterval = 30 * time.Second
	DefaultUnitSyncInterval     = 5 * time.Minute
	DefaultSyncTimeout          = 10 * time.Second
	defaultSyncConcurrency      = 8
)

type SyncConfig struct {
	PositionInterval time.Duration
	UnitInterval     time.Duration
	// Timeout bounds each upstream fetch.
	Timeout     time.Duration
	Concurrency int
	// Now stamps vehicle updates (default time.Now).
	Now func() time.Time
}

func (c SyncConfig) withDefaults() SyncConfig {
	if c.PositionInterval <= 0 {
		c.PositionInterval = DefaultPositionSyncInterval
	}
	if c.UnitInterval <= 0 {
		c.UnitInterval = DefaultUnitSyncInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultSyncTimeout
	}
	if c.Concurrency <= 0 {
		c.Concurrency = defaultSyncConcurrency
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// TelemetrySync pulls live units from the upstream provider on a fixed cadence
// and feeds them to the aggregator, and to the tracker for arrival detection
// when one is set.
type TelemetrySync struct {
	provider   ports.TelemetryProvider
	vehicles   ports.VehicleRepository
	aggregator *TelemetryAggregator
	tracker    *RouteTracker
	cfg        SyncConfig
}

func NewTelemetrySync(
	provider ports.TelemetryProvider,
	vehicles ports.VehicleRepository,
	aggregator *TelemetryAggregator,
	tracker *RouteTracker,
	cfg SyncConfig,
) *TelemetrySync {
	return &TelemetrySync{
		provider:   provider,
		vehicles:   vehicles,
		aggregator: aggregator,
		tracker:    tracker,
		cfg:        cfg.withDefaults(),
	}
}

func (s *TelemetrySync) fetch(ctx context.Context) (_ []ports.LiveUnit, err error) {
	defer obs.Time(ctx, "telemetry.FetchLiveUnits")(&err)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	units, err := s.provider.FetchLiveUnits(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrUpstreamUnavailable, err)
	}
	return units, nil
}

// SyncPositions ingests the current position of every known unit. A failed
// fetch returns domain.ErrUpstreamUnavailable; failures for single vehicles
// are logged and do not stop the others. It returns the number ingested.
func (s *TelemetrySync) SyncPositions(ctx context.Context) (int, error) {
	units, err := s.fetch(ctx)
	if err != nil {
		return 0, fmt.Errorf("sync positions: %w", err)
	}

	results := make([]bool, len(units))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	for i, unit := range units {
		if !unit.HasPosition {
			continue
		}
		g.Go(func() error {
			if err := s.ingestUnit(gctx, unit); err != nil {
				log.Printf("sync position failed external_id=%d err=%v", unit.ExternalID, err)
				return nil
			}
			results[i] = true
			return nil
		})
	}
	_ = g.Wait()

	ingested := 0
	for _, ok := range results {
		if ok {
			ingested++
		}
	}
	return ingested, nil
}

func (s *TelemetrySync) ingestUnit(ctx context.Context, unit ports.LiveUnit) error {
	vehicle, err := s.vehicles.FindByExternalID(ctx, unit.ExternalID)
	if err != nil {
		return err
	}

	sample := domain.PositionSample{
		VehicleID:     vehicle.ID,
		Coordinate:    unit.Coordinate,
		SpeedKmh:      unit.SpeedKmh,
		CourseDegrees: unit.Course,
		AltitudeM:     unit.AltitudeM,
		Satellites:    unit.Satellites,
		Timestamp:     time.Unix(unit.TimestampUnix, 0).UTC(),
		Sensors:       unit.Sensors,
	}
	if unit.TimestampUnix == 0 {
		sample.Timestamp = time.Time{}
	}

	if err := s.aggregator.Ingest(ctx, sample); err != nil {
		return err
	}
	if s.tracker != nil {
		if _, err := s.tracker.DetectArrivals(ctx, sample); err != nil {
			return err
		}
	}
	return nil
}

// SyncUnits refreshes the vehicle registry from the provider's unit list.
// Units seen for the first time are registered with a new id.
func (s *TelemetrySync) SyncUnits(ctx context.Context) (int, error) {
	units, err := s.fetch(ctx)
	if err != nil {
		return 0, fmt.Errorf("sync units: %w", err)
	}

	synced := 0
	for _, unit := range units {
		if err := s.upsertUnit(ctx, unit); err != nil {
			log.Printf("sync unit failed external_id=%d err=%v", unit.ExternalID, err)
			continue
		}
		synced++
	}

	log.Printf("sync units done fetched=%d synced=%d", len(units), synced)
	return synced, nil
}

func (s *TelemetrySync) upsertUnit(ctx context.Context, unit ports.LiveUnit) error {
	vehicle, err := s.vehicles.FindByExternalID(ctx, unit.ExternalID)
	switch {
	case errors.Is(err, domain.ErrVehicleNotFound):
		vehicle = &domain.Vehicle{ID: uuid.NewString(), ExternalID: unit.ExternalID}
	case err != nil:
		return err
	}

	vehicle.Name = unit.Name
	vehicle.LicensePlate = unit.Fields["plate_number"]
	vehicle.VIN = unit.Fields["vin"]
	vehicle.Metadata = make(map[string]any, len(unit.Fields))
	for k, v := range unit.Fields {
		vehicle.Metadata[k] = v
	}
	vehicle.UpdatedAt = s.cfg.Now().UTC()

	return s.vehicles.UpsertVehicle(ctx, vehicle)
}

// Run syncs units and positions once, then on their tickers until ctx is
// done. Upstream failures are logged and retried on the next tick.
func (s *TelemetrySync) Run(ctx context.Context) {
	log.Printf(
		"telemetry sync running position_interval=%v unit_interval=%v",
		s.cfg.PositionInterval, s.cfg.UnitInterval,
	)

	s.unitsOnce(ctx)
	s.positionsOnce(ctx)

	positions := time.NewTicker(s.cfg.PositionInterval)
	defer positions.Stop()
	units := time.NewTicker(s.cfg.UnitInterval)
	defer units.Stop()

	for {
		select {
		case <-positions.C:
			s.positionsOnce(ctx)
		case <-units.C:
			s.unitsOnce(ctx)
		case <-ctx.Done():
			log.Println("telemetry sync stopped")
			return
		}
	}
}

// Each cycle is tagged with its own correlation id.
func (s *TelemetrySync) positionsOnce(ctx context.Context) {
	ctx = obs.WithRequestID(ctx, "sync-positions-"+uuid.NewString()[:8])
	if _, err := s.SyncPositions(ctx); err != nil {
		log.Printf("position sync skipped err=%v", err)
	}
}

func (s *TelemetrySync) unitsOnce(ctx context.Context) {
	ctx = obs.WithRequestID(ctx, "sync-units-"+uuid.NewString()[:8])
	if _, err := s.SyncUnits(ctx); err != nil {
		log.Printf("unit sync skipped err=%v", err)
	}
}
