package dto

import (
	"time"

	"fleet-route-service/internal/domain"
)

type LiveStateResponse struct {
	VehicleID      string            `json:"vehicle_id"`
	Coordinate     domain.Coordinate `json:"coordinate"`
	SpeedKmh       float64           `json:"speed_kmh"`
	CourseDegrees  float64           `json:"course_degrees"`
	LastSampleTime time.Time         `json:"last_sample_time"`
	IsOnline       bool              `json:"is_online"`
}

type ListLiveStateResponse struct {
	Vehicles []LiveStateResponse `json:"vehicles"`
}

type PositionResponse struct {
	Coordinate    domain.Coordinate `json:"coordinate"`
	SpeedKmh      float64           `json:"speed_kmh"`
	CourseDegrees float64           `json:"course_degrees"`
	AltitudeM     float64           `json:"altitude_m"`
	Satellites    int               `json:"satellites"`
	Timestamp     time.Time         `json:"timestamp"`
}

type TrackResponse struct {
	VehicleID string             `json:"vehicle_id"`
	From      time.Time          `json:"from"`
	To        time.Time          `json:"to"`
	Positions []PositionResponse `json:"positions"`
}

type VehicleResponse struct {
	ID           string         `json:"id"`
	ExternalID   int64          `json:"external_id"`
	Name         string         `json:"name"`
	LicensePlate string         `json:"license_plate,omitempty"`
	VIN          string         `json:"vin,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

type ListVehiclesResponse struct {
	Vehicles []VehicleResponse `json:"vehicles"`
}
