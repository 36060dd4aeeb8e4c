package handlers

import (
	"net/http"
	"time"

	"fleet-route-service/internal/api/dto"
	"fleet-route-service/internal/ports"
	"fleet-route-service/internal/services"

	"github.com/go-chi/chi/v5"
)

// VehicleHandler serves live state, statistics and tracks from telemetry.
type VehicleHandler struct {
	Aggregator *services.TelemetryAggregator
	Vehicles   ports.VehicleRepository
}

func (h *VehicleHandler) List(w http.ResponseWriter, r *http.Request) {
	vehicles, err := h.Vehicles.ListVehicles(r.Context())
	if err != nil {
		writeServiceError(w, r, "list vehicles", err)
		return
	}

	res := dto.ListVehiclesResponse{Vehicles: make([]dto.VehicleResponse, 0, len(vehicles))}
	for _, v := range vehicles {
		res.Vehicles = append(res.Vehicles, dto.VehicleResponse{
			ID:           v.ID,
			ExternalID:   v.ExternalID,
			Name:         v.Name,
			LicensePlate: v.LicensePlate,
			VIN:          v.VIN,
			Metadata:     v.Metadata,
			UpdatedAt:    v.UpdatedAt,
		})
	}
	writeJSON(w, r, http.StatusOK, res)
}

func (h *VehicleHandler) Online(w http.ResponseWriter, r *http.Request) {
	states := h.Aggregator.OnlineVehicles()

	res := dto.ListLiveStateResponse{Vehicles: make([]dto.LiveStateResponse, 0, len(states))}
	for _, s := range states {
		res.Vehicles = append(res.Vehicles, dto.LiveStateResponse{
			VehicleID:      s.VehicleID,
			Coordinate:     s.Coordinate,
			SpeedKmh:       s.SpeedKmh,
			CourseDegrees:  s.CourseDegrees,
			LastSampleTime: s.LastSampleTime,
			IsOnline:       true,
		})
	}
	writeJSON(w, r, http.StatusOK, res)
}

func (h *VehicleHandler) Live(w http.ResponseWriter, r *http.Request) {
	vehicleID := chi.URLParam(r, "vehicleID")
	s, ok := h.Aggregator.LiveState(vehicleID)
	if !ok {
		writeError(w, r, http.StatusNotFound, "no position reported for vehicle")
		return
	}
	writeJSON(w, r, http.StatusOK, dto.LiveStateResponse{
		VehicleID:      s.VehicleID,
		Coordinate:     s.Coordinate,
		SpeedKmh:       s.SpeedKmh,
		CourseDegrees:  s.CourseDegrees,
		LastSampleTime: s.LastSampleTime,
		IsOnline:       h.Aggregator.IsOnline(vehicleID),
	})
}

// Statistics defaults to today when no from/to query is given.
func (h *VehicleHandler) Statistics(w http.ResponseWriter, r *http.Request) {
	vehicleID := chi.URLParam(r, "vehicleID")

	if r.URL.Query().Get("from") == "" && r.URL.Query().Get("to") == "" {
		stats, err := h.Aggregator.TodayStatistics(r.Context(), vehicleID)
		if err != nil {
			writeServiceError(w, r, "vehicle statistics", err)
			return
		}
		writeJSON(w, r, http.StatusOK, stats)
		return
	}

	from, to, ok := parseWindow(w, r)
	if !ok {
		return
	}
	stats, err := h.Aggregator.Statistics(r.Context(), vehicleID, from, to)
	if err != nil {
		writeServiceError(w, r, "vehicle statistics", err)
		return
	}
	writeJSON(w, r, http.StatusOK, stats)
}

func (h *VehicleHandler) Track(w http.ResponseWriter, r *http.Request) {
	vehicleID := chi.URLParam(r, "vehicleID")
	from, to, ok := parseWindow(w, r)
	if !ok {
		return
	}

	samples, err := h.Aggregator.Track(r.Context(), vehicleID, from, to)
	if err != nil {
		writeServiceError(w, r, "vehicle track", err)
		return
	}

	res := dto.TrackResponse{
		VehicleID: vehicleID,
		From:      from,
		To:        to,
		Positions: make([]dto.PositionResponse, 0, len(samples)),
	}
	for _, s := range samples {
		res.Positions = append(res.Positions, dto.PositionResponse{
			Coordinate:    s.Coordinate,
			SpeedKmh:      s.SpeedKmh,
			CourseDegrees: s.CourseDegrees,
			AltitudeM:     s.AltitudeM,
			Satellites:    s.Satellites,
			Timestamp:     s.Timestamp,
		})
	}
	writeJSON(w, r, http.StatusOK, res)
}

// parseWindow reads RFC 3339 from/to query values. Missing to means now;
// missing from means 24 hours before to.
func parseWindow(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	q := r.URL.Query()

	to := time.Now().UTC()
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "to must be an RFC 3339 timestamp")
			return time.Time{}, time.Time{}, false
		}
		to = t
	}

	from := to.Add(-24 * time.Hour)
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "from must be an RFC 3339 timestamp")
			return time.Time{}, time.Time{}, false
		}
		from = t
	}

	if from.After(to) {
		writeError(w, r, http.StatusBadRequest, "from must not be after to")
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}
