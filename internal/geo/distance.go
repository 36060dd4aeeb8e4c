// Package geo holds great-circle math and the spatial index used for
// checkpoint arrival detection.
package geo

import (
	"math"

	"fleet-route-service/internal/domain"
)

const EarthRadiusKm = 6371.0

// DistanceKm returns the Haversine great-circle distance between a and b.
func DistanceKm(a, b domain.Coordinate) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)

	return EarthRadiusKm * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// PathDistanceKm sums consecutive legs of path, rounded to 2 decimals.
func PathDistanceKm(path []domain.Coordinate) float64 {
	return Round2(pathDistance(path))
}

func pathDistance(path []domain.Coordinate) float64 {
	total := 0.0
	for i := 1; i < len(path); i++ {
		total += DistanceKm(path[i-1], path[i])
	}
	return total
}

func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
