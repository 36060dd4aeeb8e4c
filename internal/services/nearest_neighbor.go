package services

import (
	"math"

	"fleet-route-service/internal/domain"
	"fleet-route-service/internal/geo"
)

// Order stops using a greedy nearest-neighbor walk.
//
// The walk starts at the start point, or at the first stop when no start is
// given, and repeatedly moves to the closest unvisited stop.
// It does not attempt global optimization; it is O(n²) and deterministic.
func nearestNeighborOrder(p *problem) []int {
	n := len(p.stops)
	order := make([]int, 0, n)
	visited := make([]bool, n)

	var current domain.Coordinate
	if p.start != nil {
		current = *p.start
	} else {
		order = append(order, 0)
		visited[0] = true
		current = p.stops[0].Coordinate
	}

	for len(order) < n {
		best := -1
		minDistance := math.Inf(1)

		// Strict comparison keeps the lowest input index on ties.
		for i := 0; i < n; i++ {
			if visited[i] {
				continue
			}
			d := geo.DistanceKm(current, p.stops[i].Coordinate)
			if d < minDistance {
				minDistance = d
				best = i
			}
		}

		order = append(order, best)
		visited[best] = true
		current = p.stops[best].Coordinate
	}

	return order
}
