package domain

import "time"

// Vehicle registered from the upstream telemetry provider.
type Vehicle struct {
	ID           string
	ExternalID   int64
	Name         string
	LicensePlate string
	VIN          string
	Metadata     map[string]any
	UpdatedAt    time.Time
}

// Single raw position report. Samples are append-only and never mutated.
type PositionSample struct {
	VehicleID     string
	Coordinate    Coordinate
	SpeedKmh      float64
	CourseDegrees float64
	AltitudeM     float64
	Satellites    int
	Timestamp     time.Time
	Sensors       map[string]any
}

// Derived current state of a vehicle, updated on every ingested sample.
// Online is evaluated at read time against a freshness threshold.
type LiveState struct {
	VehicleID      string
	Coordinate     Coordinate
	SpeedKmh       float64
	CourseDegrees  float64
	LastSampleTime time.Time
}

func (s LiveState) IsOnline(now time.Time, freshness time.Duration) bool {
	if s.LastSampleTime.IsZero() {
		return false
	}
	return now.Sub(s.LastSampleTime) < freshness
}
