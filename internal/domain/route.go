package domain

import (
	"fmt"
	"math"
	"time"
)

type RouteStatus string

const (
	RouteDraft     RouteStatus = "draft"
	RoutePlanned   RouteStatus = "planned"
	RouteActive    RouteStatus = "active"
	RouteCompleted RouteStatus = "completed"
	RouteCancelled RouteStatus = "cancelled"
)

func ParseRouteStatus(s string) (RouteStatus, error) {
	switch st := RouteStatus(s); st {
	case RouteDraft, RoutePlanned, RouteActive, RouteCompleted, RouteCancelled:
		return st, nil
	}
	return "", fmt.Errorf("parse route status: unknown status %q", s)
}

func (s RouteStatus) IsTerminal() bool {
	return s == RouteCompleted || s == RouteCancelled
}

// Represents a single visit on a route, in optimized order.
// Checkpoints are owned by their route and are replaced as a batch
// whenever the route is re-optimized.
type Checkpoint struct {
	ID               string
	RouteID          string
	StopID           *string
	Sequence         int
	Coordinate       Coordinate
	Address          string
	EstimatedArrival time.Time
	ActualArrival    *time.Time
	Completed        bool
}

// Route aggregate: lifecycle status, optimization results and its checkpoints.
type Route struct {
	ID                       string
	Name                     string
	Status                   RouteStatus
	VehicleID                *string
	StartCoordinate          *Coordinate
	TotalDistanceKm          float64
	EstimatedDurationMinutes int
	ActualDurationMinutes    int
	ActualStart              *time.Time
	ActualEnd                *time.Time
	IsOptimized              bool
	OptimizationParams       map[string]any
	CompletedTasks           int
	TotalTasks               int
	Checkpoints              []Checkpoint
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

func NewRoute(id, name string, now time.Time) *Route {
	return &Route{
		ID:        id,
		Name:      name,
		Status:    RouteDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// SetStatus applies a status transition. Other paths than draft/planned -> active -> completed
// are not rejected; the duration is only computed when a start was recorded.
func (r *Route) SetStatus(status RouteStatus, now time.Time) {
	r.Status = status
	r.UpdatedAt = now

	switch status {
	case RouteActive:
		if r.ActualStart == nil {
			start := now
			r.ActualStart = &start
		}
	case RouteCompleted:
		end := now
		r.ActualEnd = &end
		if r.ActualStart != nil {
			r.ActualDurationMinutes = int(math.Round(end.Sub(*r.ActualStart).Minutes()))
		}
	}
}

func (r *Route) Dispatch(now time.Time) { r.SetStatus(RouteActive, now) }

func (r *Route) Complete(now time.Time) { r.SetStatus(RouteCompleted, now) }

func (r *Route) Cancel(now time.Time) { r.SetStatus(RouteCancelled, now) }

// RecountTasks refreshes the completed/total counters from the checkpoint set.
func (r *Route) RecountTasks() {
	completed := 0
	for _, cp := range r.Checkpoints {
		if cp.Completed {
			completed++
		}
	}
	r.CompletedTasks = completed
	r.TotalTasks = len(r.Checkpoints)
}

// PendingCheckpoints returns checkpoints not yet completed, in sequence order.
func (r *Route) PendingCheckpoints() []Checkpoint {
	out := make([]Checkpoint, 0, len(r.Checkpoints))
	for _, cp := range r.Checkpoints {
		if !cp.Completed {
			out = append(out, cp)
		}
	}
	return out
}
