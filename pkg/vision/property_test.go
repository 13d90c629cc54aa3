package vision

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func genDetection() gopter.Gen {
	return gopter.CombineGens(
		gen.OneConstOf("person", "chair", "car", "dog", "bench"),
		gen.Float64Range(0, 320),
		gen.Float64Range(0, 320),
	).Map(func(v []interface{}) Detection {
		return det(v[0].(string), v[1].(float64), v[2].(float64))
	})
}

func TestDistanceProperties(t *testing.T) {
	cal := DefaultCalibration()
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("distance stays within calibrated range", prop.ForAll(
		func(w float64) bool {
			d := EstimateDistance(w, cal)
			return d >= cal.MinDistance && d <= cal.MaxDistance
		},
		gen.Float64Range(-1000, 1000),
	))

	properties.Property("distance has at most one decimal", prop.ForAll(
		func(w float64) bool {
			d := EstimateDistance(w, cal)
			return math.Abs(d*10-math.Round(d*10)) < 1e-9
		},
		gen.Float64Range(0.01, 1000),
	))

	properties.Property("wider boxes are never farther", prop.ForAll(
		func(a, b float64) bool {
			if a > b {
				a, b = b, a
			}
			return EstimateDistance(b, cal) <= EstimateDistance(a, cal)
		},
		gen.Float64Range(0.01, 500),
		gen.Float64Range(0.01, 500),
	))

	properties.TestingRun(t)
}

func TestClassifyProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("classification ignores detection order", prop.ForAll(
		func(dets []Detection) bool {
			reversed := make([]Detection, len(dets))
			for i, d := range dets {
				reversed[len(dets)-1-i] = d
			}
			return Classify(dets, 320) == Classify(reversed, 320)
		},
		gen.SliceOf(genDetection()),
	))

	properties.Property("an added center box forces Center", prop.ForAll(
		func(dets []Detection) bool {
			withCenter := append(append([]Detection(nil), dets...), det("person", 150, 20))
			return Classify(withCenter, 320) == Center
		},
		gen.SliceOf(genDetection()),
	))

	properties.Property("closest is at least as wide as every detection", prop.ForAll(
		func(dets []Detection) bool {
			c := Closest(dets)
			if len(dets) == 0 {
				return c == nil
			}
			for _, d := range dets {
				if d.Box.Width > c.Box.Width {
					return false
				}
			}
			return true
		},
		gen.SliceOf(genDetection()),
	))

	properties.TestingRun(t)
}
