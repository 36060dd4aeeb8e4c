package handlers

import (
	"net/http"
	"strings"

	"fleet-route-service/internal/api/dto"
	"fleet-route-service/internal/domain"
	"fleet-route-service/internal/services"

	"github.com/go-chi/chi/v5"
)

// RouteHandler exposes route lifecycle and checkpoint progress endpoints.
type RouteHandler struct {
	Tracker *services.RouteTracker
}

func (h *RouteHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateRouteRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, r, http.StatusBadRequest, "name is required")
		return
	}

	stops := make([]domain.Stop, 0, len(req.Stops))
	for _, s := range req.Stops {
		stops = append(stops, s.ToDomain())
	}

	route, err := h.Tracker.CreateRoute(r.Context(), services.CreateRouteRequest{
		Name:      name,
		VehicleID: req.VehicleID,
		Start:     req.Start,
		Stops:     stops,
	})
	if err != nil {
		writeServiceError(w, r, "create route", err)
		return
	}

	writeJSON(w, r, http.StatusCreated, dto.NewRouteResponse(route))
}

func (h *RouteHandler) Get(w http.ResponseWriter, r *http.Request) {
	route, err := h.Tracker.Route(r.Context(), chi.URLParam(r, "routeID"))
	if err != nil {
		writeServiceError(w, r, "get route", err)
		return
	}
	writeJSON(w, r, http.StatusOK, dto.NewRouteResponse(route))
}

func (h *RouteHandler) Optimize(w http.ResponseWriter, r *http.Request) {
	var req dto.OptimizeRouteRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}

	algorithm, err := services.ParseAlgorithm(req.Algorithm)
	if err != nil {
		writeServiceError(w, r, "optimize route", err)
		return
	}

	route, err := h.Tracker.OptimizeAndReplan(r.Context(), chi.URLParam(r, "routeID"), algorithm, services.Options{Seed: req.Seed})
	if err != nil {
		writeServiceError(w, r, "optimize route", err)
		return
	}
	writeJSON(w, r, http.StatusOK, dto.NewRouteResponse(route))
}

func (h *RouteHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req dto.UpdateStatusRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	status, err := domain.ParseRouteStatus(strings.TrimSpace(req.Status))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	route, err := h.Tracker.UpdateStatus(r.Context(), chi.URLParam(r, "routeID"), status)
	if err != nil {
		writeServiceError(w, r, "update route status", err)
		return
	}
	writeJSON(w, r, http.StatusOK, dto.NewRouteResponse(route))
}

func (h *RouteHandler) Progress(w http.ResponseWriter, r *http.Request) {
	report, err := h.Tracker.Progress(r.Context(), chi.URLParam(r, "routeID"))
	if err != nil {
		writeServiceError(w, r, "route progress", err)
		return
	}
	writeJSON(w, r, http.StatusOK, report)
}

func (h *RouteHandler) AddCheckpoint(w http.ResponseWriter, r *http.Request) {
	var req dto.AddCheckpointRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	cp := domain.Checkpoint{Coordinate: req.Coordinate, Address: req.Address}
	if req.EstimatedArrival != nil {
		cp.EstimatedArrival = *req.EstimatedArrival
	}

	created, err := h.Tracker.AddCheckpoint(r.Context(), chi.URLParam(r, "routeID"), cp)
	if err != nil {
		writeServiceError(w, r, "add checkpoint", err)
		return
	}
	writeJSON(w, r, http.StatusCreated, dto.NewCheckpointResponse(*created))
}

func (h *RouteHandler) MarkArrival(w http.ResponseWriter, r *http.Request) {
	var req dto.ArrivalRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}

	cp, err := h.Tracker.MarkArrival(r.Context(), chi.URLParam(r, "checkpointID"), req.ArrivedAt)
	if err != nil {
		writeServiceError(w, r, "mark arrival", err)
		return
	}
	writeJSON(w, r, http.StatusOK, dto.NewCheckpointResponse(*cp))
}
