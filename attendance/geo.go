package attendance

import "math"

// EarthRadiusM is the mean Earth radius used for great-circle distance.
const EarthRadiusM = 6_371_000.0

// DistanceMeters returns the haversine great-circle distance in meters.
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLon := toRadians(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusM * c
}

// IsWithinFence reports whether point lies within radiusM of center (inclusive).
func IsWithinFence(point, center Coordinate, radiusM float64) bool {
	return DistanceMeters(point.Lat, point.Lng, center.Lat, center.Lng) <= radiusM
}

func toRadians(deg float64) float64 { return deg * math.Pi / 180 }
