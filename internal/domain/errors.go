package domain

import "errors"

var (
	ErrInvalidCoordinate      = errors.New("invalid coordinate")
	ErrEmptyStopSet           = errors.New("no stops to optimize")
	ErrUnknownAlgorithm       = errors.New("unknown optimization algorithm")
	ErrRouteNotFound          = errors.New("route not found")
	ErrCheckpointNotFound     = errors.New("checkpoint not found")
	ErrVehicleNotFound        = errors.New("vehicle not found")
	ErrOptimizationInProgress = errors.New("optimization already in progress for route")
	ErrUpstreamUnavailable    = errors.New("upstream telemetry provider unavailable")
)
