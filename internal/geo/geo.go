package geo

import (
	"math"

	"github.com/example/shuttle-bot/internal/models"
)

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

// WithinRadius reports whether the point lies inside the circular
// geofence of radiusMeters around the stop. Pure, no side effects.
func WithinRadius(lat, lon float64, stop models.Stop, radiusMeters float64) bool {
	return Haversine(lat, lon, stop.Latitude, stop.Longitude) <= radiusMeters
}
