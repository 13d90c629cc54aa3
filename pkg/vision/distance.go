package vision

import "math"

// EstimateDistance converts a box width in pixels to an approximate
// distance in meters: distance = referenceObjectWidth / boxWidth.
//
// The order matters for degenerate boxes: divide first, replace an invalid
// quotient (zero, negative or non-finite width) with 0, then clamp to the
// calibrated range and round to one decimal. A zero-width box therefore
// reports the minimum distance.
//
// This is a single-object heuristic with no perspective correction.
func EstimateDistance(boxWidth float64, cal Calibration) float64 {
	distance := 0.0
	if boxWidth > 0 && !math.IsInf(boxWidth, 0) {
		distance = cal.ReferenceObjectWidth / boxWidth
	}
	if math.IsNaN(distance) || math.IsInf(distance, 0) {
		distance = 0
	}

	distance = math.Max(cal.MinDistance, math.Min(distance, cal.MaxDistance))
	return math.Round(distance*10) / 10
}
