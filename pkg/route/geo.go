// Package route builds walking route plans and matches live position samples
// against them, one step at a time.
package route

import "math"

// Coordinate is a WGS84 position in degrees.
type Coordinate struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

// Valid reports whether c is finite and within WGS84 bounds.
func (c Coordinate) Valid() bool {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lon) || math.IsInf(c.Lat, 0) || math.IsInf(c.Lon, 0) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

// MetersPerDegree is the flat-earth scale used for proximity checks.
const MetersPerDegree = 111000.0

const earthRadiusMeters = 6371000.0

// Equirectangular returns the flat-earth distance in meters between a and b,
// scaling both latitude and longitude deltas by metersPerDegree. There is no
// cos(lat) correction, so east-west distances read long away from the
// equator.
func Equirectangular(a, b Coordinate, metersPerDegree float64) float64 {
	dLat := (a.Lat - b.Lat) * metersPerDegree
	dLon := (a.Lon - b.Lon) * metersPerDegree
	return math.Sqrt(dLat*dLat + dLon*dLon)
}

// Haversine returns the great-circle distance in meters between a and b.
func Haversine(a, b Coordinate) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Nearest returns the index of the coordinate closest to origin by
// great-circle distance, or -1 when coords is empty. Ties go to the first.
func Nearest(origin Coordinate, coords []Coordinate) int {
	best := -1
	bestDist := math.Inf(1)
	for i, c := range coords {
		if d := Haversine(origin, c); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}
