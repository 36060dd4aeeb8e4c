package ports

import (
	"context"

	"fleet-route-service/internal/domain"
)

// A unit record reported by the upstream telemetry provider.
type LiveUnit struct {
	ExternalID    int64
	Name          string
	HasPosition   bool
	Coordinate    domain.Coordinate
	SpeedKmh      float64
	Course        float64
	AltitudeM     float64
	TimestampUnix int64
	Satellites    int
	Sensors       map[string]any
	Fields        map[string]string
}

// Contract for the upstream GPS provider. Failures may be transient.
type TelemetryProvider interface {
	FetchLiveUnits(ctx context.Context) ([]LiveUnit, error)
}
