package domain

import "math"

const earthRadiusMiles = 3958.8

// HaversineMiles is the great-circle distance between two coordinates.
func HaversineMiles(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMiles * math.Asin(math.Min(1, math.Sqrt(a)))
}

// DistanceMiles returns the distance between two restaurants. ok is false when
// either side has no coordinates.
func DistanceMiles(a, b Restaurant) (miles float64, ok bool) {
	if !a.HasLocation() || !b.HasLocation() {
		return 0, false
	}
	return HaversineMiles(*a.Latitude, *a.Longitude, *b.Latitude, *b.Longitude), true
}
