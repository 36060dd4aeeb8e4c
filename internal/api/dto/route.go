package dto

import (
	"time"

	"fleet-route-service/internal/domain"
)

type CreateRouteRequest struct {
	Name      string             `json:"name"`
	VehicleID *string            `json:"vehicle_id"`
	Start     *domain.Coordinate `json:"start"`
	Stops     []StopRequest      `json:"stops"`
}

type OptimizeRouteRequest struct {
	Algorithm string `json:"algorithm"`
	Seed      int64  `json:"seed"`
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

type AddCheckpointRequest struct {
	Coordinate       domain.Coordinate `json:"coordinate"`
	Address          string            `json:"address"`
	EstimatedArrival *time.Time        `json:"estimated_arrival"`
}

type ArrivalRequest struct {
	ArrivedAt *time.Time `json:"arrived_at"`
}

type CheckpointResponse struct {
	ID               string            `json:"id"`
	RouteID          string            `json:"route_id"`
	StopID           *string           `json:"stop_id"`
	Sequence         int               `json:"sequence"`
	Coordinate       domain.Coordinate `json:"coordinate"`
	Address          string            `json:"address,omitempty"`
	EstimatedArrival time.Time         `json:"estimated_arrival"`
	ActualArrival    *time.Time        `json:"actual_arrival"`
	Completed        bool              `json:"completed"`
}

type RouteResponse struct {
	ID                       string               `json:"id"`
	Name                     string               `json:"name"`
	Status                   string               `json:"status"`
	VehicleID                *string              `json:"vehicle_id"`
	Start                    *domain.Coordinate   `json:"start"`
	TotalDistanceKm          float64              `json:"total_distance_km"`
	EstimatedDurationMinutes int                  `json:"estimated_duration_minutes"`
	ActualDurationMinutes    int                  `json:"actual_duration_minutes"`
	ActualStart              *time.Time           `json:"actual_start"`
	ActualEnd                *time.Time           `json:"actual_end"`
	IsOptimized              bool                 `json:"is_optimized"`
	OptimizationParams       map[string]any       `json:"optimization_params,omitempty"`
	CompletedTasks           int                  `json:"completed_tasks"`
	TotalTasks               int                  `json:"total_tasks"`
	Checkpoints              []CheckpointResponse `json:"checkpoints"`
	CreatedAt                time.Time            `json:"created_at"`
	UpdatedAt                time.Time            `json:"updated_at"`
}

func NewCheckpointResponse(cp domain.Checkpoint) CheckpointResponse {
	return CheckpointResponse{
		ID:               cp.ID,
		RouteID:          cp.RouteID,
		StopID:           cp.StopID,
		Sequence:         cp.Sequence,
		Coordinate:       cp.Coordinate,
		Address:          cp.Address,
		EstimatedArrival: cp.EstimatedArrival,
		ActualArrival:    cp.ActualArrival,
		Completed:        cp.Completed,
	}
}

func NewRouteResponse(r *domain.Route) RouteResponse {
	res := RouteResponse{
		ID:                       r.ID,
		Name:                     r.Name,
		Status:                   string(r.Status),
		VehicleID:                r.VehicleID,
		Start:                    r.StartCoordinate,
		TotalDistanceKm:          r.TotalDistanceKm,
		EstimatedDurationMinutes: r.EstimatedDurationMinutes,
		ActualDurationMinutes:    r.ActualDurationMinutes,
		ActualStart:              r.ActualStart,
		ActualEnd:                r.ActualEnd,
		IsOptimized:              r.IsOptimized,
		OptimizationParams:       r.OptimizationParams,
		CompletedTasks:           r.CompletedTasks,
		TotalTasks:               r.TotalTasks,
		Checkpoints:              make([]CheckpointResponse, 0, len(r.Checkpoints)),
		CreatedAt:                r.CreatedAt,
		UpdatedAt:                r.UpdatedAt,
	}
	for _, cp := range r.Checkpoints {
		res.Checkpoints = append(res.Checkpoints, NewCheckpointResponse(cp))
	}
	return res
}
