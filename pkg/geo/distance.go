package geo

import (
	"math"

	"github.com/chris/community-lending/pkg/models"
)

// EarthRadiusKm is the mean Earth radius used for great-circle distances.
const EarthRadiusKm = 6371.0

// Distance returns the haversine distance between a and b in kilometres.
func Distance(a, b models.Location) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dLat := lat2 - lat1
	dLng := toRadians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * EarthRadiusKm * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// WithinRadius discards the false positives of a bounding-box scan.
func WithinRadius(candidate, center models.Location, radiusKm float64) bool {
	return Distance(candidate, center) <= radiusKm
}

// ValidLocation reports whether loc is a real coordinate.
func ValidLocation(loc models.Location) bool {
	return loc.Lat >= -90 && loc.Lat <= 90 && loc.Lng >= -180 && loc.Lng <= 180 &&
		!math.IsNaN(loc.Lat) && !math.IsNaN(loc.Lng)
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
