package api

import (
	"context"
	"net/http"

	"fleet-route-service/internal/api/handlers"
	"fleet-route-service/internal/ports"
	"fleet-route-service/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

// Deps are the services the HTTP layer is composed from.
type Deps struct {
	Tracker         *services.RouteTracker
	Aggregator      *services.TelemetryAggregator
	Vehicles        ports.VehicleRepository
	AverageSpeedKmh float64
	CORSOrigins     []string
	// Ping checks storage for /health; nil reports healthy unconditionally.
	Ping func(ctx context.Context) error
}

// NewRouter wires HTTP handlers with their dependencies and returns an http.Handler.
// This is the API composition root (handlers stay unaware of concrete adapters).
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware)

	origins := deps.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", requestIDHeader},
		ExposedHeaders: []string{requestIDHeader},
		MaxAge:         300,
	}))

	healthHandler := &handlers.HealthHandler{Ping: deps.Ping}
	optimizeHandler := &handlers.OptimizeHandler{AverageSpeedKmh: deps.AverageSpeedKmh}
	routeHandler := &handlers.RouteHandler{Tracker: deps.Tracker}
	vehicleHandler := &handlers.VehicleHandler{Aggregator: deps.Aggregator, Vehicles: deps.Vehicles}

	r.Get("/health", healthHandler.Health)
	r.Post("/optimize", optimizeHandler.Optimize)

	r.Route("/routes", func(r chi.Router) {
		r.Post("/", routeHandler.Create)
		r.Route("/{routeID}", func(r chi.Router) {
			r.Get("/", routeHandler.Get)
			r.Post("/optimize", routeHandler.Optimize)
			r.Patch("/status", routeHandler.UpdateStatus)
			r.Get("/progress", routeHandler.Progress)
			r.Post("/checkpoints", routeHandler.AddCheckpoint)
		})
	})
	r.Post("/checkpoints/{checkpointID}/arrival", routeHandler.MarkArrival)

	r.Route("/vehicles", func(r chi.Router) {
		r.Get("/", vehicleHandler.List)
		r.Get("/online", vehicleHandler.Online)
		r.Get("/{vehicleID}/live", vehicleHandler.Live)
		r.Get("/{vehicleID}/statistics", vehicleHandler.Statistics)
		r.Get("/{vehicleID}/track", vehicleHandler.Track)
	})

	return r
}
