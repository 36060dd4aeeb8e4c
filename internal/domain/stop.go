package domain

import "time"

// DefaultServiceMinutes is used when a stop does not declare a service duration.
const DefaultServiceMinutes = 15

// Represents a single location to visit on a route.
// A Stop is immutable once it has been submitted to an optimization run.
type Stop struct {
	ID                     string     `json:"id"`
	Coordinate             Coordinate `json:"coordinate"`
	Address                string     `json:"address,omitempty"`
	Priority               string     `json:"priority,omitempty"`
	ScheduledTime          *time.Time `json:"scheduled_time,omitempty"`
	ServiceDurationMinutes int        `json:"service_duration_minutes,omitempty"`
}

func (s Stop) ServiceMinutes() int {
	if s.ServiceDurationMinutes <= 0 {
		return DefaultServiceMinutes
	}
	return s.ServiceDurationMinutes
}

// A stop placed in an optimized sequence with its estimated arrival time.
type PlannedStop struct {
	Stop
	EstimatedArrival time.Time `json:"estimated_arrival"`
}
