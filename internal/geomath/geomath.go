package geomath

import (
	"math"

	"github.com/example/ride-dispatch/internal/models"
)

const earthRadiusKm = 6371.0

// DistanceKm returns the great-circle distance between two points in
// kilometers using the Haversine formula. Symmetric, zero for coincident
// points. Coordinates are assumed finite and validated upstream.
func DistanceKm(a, b models.Location) float64 {
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusKm * c
}

// Fare converts a distance to a fare at the given per-km rate, rounded to
// the nearest currency unit. Minimum-fare floors are the caller's concern.
func Fare(distanceKm, perKm float64) int64 {
	return int64(math.Round(distanceKm * perKm))
}
