package handlers

import (
	"net/http"
	"time"

	"fleet-route-service/internal/api/dto"
	"fleet-route-service/internal/domain"
	"fleet-route-service/internal/services"
)

// OptimizeHandler orders an ad-hoc stop set without persisting anything.
type OptimizeHandler struct {
	AverageSpeedKmh float64
}

func (h *OptimizeHandler) Optimize(w http.ResponseWriter, r *http.Request) {
	var req dto.OptimizeRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	algorithm, err := services.ParseAlgorithm(req.Algorithm)
	if err != nil {
		writeServiceError(w, r, "optimize", err)
		return
	}

	stops := make([]domain.Stop, 0, len(req.Stops))
	for _, s := range req.Stops {
		stops = append(stops, s.ToDomain())
	}

	opts := services.Options{Seed: req.Seed, AverageSpeedKmh: h.AverageSpeedKmh}
	if req.ReferenceTime != nil {
		opts.ReferenceTime = *req.ReferenceTime
	} else {
		opts.ReferenceTime = time.Now().UTC()
	}

	res, err := services.Optimize(r.Context(), stops, req.Start, algorithm, opts)
	if err != nil {
		writeServiceError(w, r, "optimize", err)
		return
	}

	out := dto.OptimizeResponse{
		Sequence:                 make([]dto.PlannedStopResponse, 0, len(res.Sequence)),
		TotalDistanceKm:          res.TotalDistanceKm,
		EstimatedDurationMinutes: res.EstimatedDurationMinutes,
		Metadata:                 res.Metadata.Params(),
	}
	for i, ps := range res.Sequence {
		out.Sequence = append(out.Sequence, dto.PlannedStopResponse{
			Sequence:         i + 1,
			StopID:           ps.ID,
			Coordinate:       ps.Coordinate,
			Address:          ps.Address,
			EstimatedArrival: ps.EstimatedArrival,
		})
	}

	writeJSON(w, r, http.StatusOK, out)
}
