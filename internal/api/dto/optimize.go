package dto

import (
	"time"

	"fleet-route-service/internal/domain"
)

type StopRequest struct {
	ID                     string            `json:"id"`
	Coordinate             domain.Coordinate `json:"coordinate"`
	Address                string            `json:"address"`
	Priority               string            `json:"priority"`
	ScheduledTime          *time.Time        `json:"scheduled_time"`
	ServiceDurationMinutes int               `json:"service_duration_minutes"`
}

func (s StopRequest) ToDomain() domain.Stop {
	return domain.Stop{
		ID:                     s.ID,
		Coordinate:             s.Coordinate,
		Address:                s.Address,
		Priority:               s.Priority,
		ScheduledTime:          s.ScheduledTime,
		ServiceDurationMinutes: s.ServiceDurationMinutes,
	}
}

type OptimizeRequest struct {
	Stops         []StopRequest      `json:"stops"`
	Start         *domain.Coordinate `json:"start"`
	Algorithm     string             `json:"algorithm"`
	Seed          int64              `json:"seed"`
	ReferenceTime *time.Time         `json:"reference_time"`
}

type PlannedStopResponse struct {
	Sequence         int               `json:"sequence"`
	StopID           string            `json:"stop_id"`
	Coordinate       domain.Coordinate `json:"coordinate"`
	Address          string            `json:"address,omitempty"`
	EstimatedArrival time.Time         `json:"estimated_arrival"`
}

type OptimizeResponse struct {
	Sequence                 []PlannedStopResponse `json:"sequence"`
	TotalDistanceKm          float64               `json:"total_distance_km"`
	EstimatedDurationMinutes int                   `json:"estimated_duration_minutes"`
	Metadata                 map[string]any        `json:"metadata"`
}
