package vision

import "strings"

// Classify returns the direction signal for one frame.
//
// The frame is split into three equal zones. A box is on the left when it
// ends before the first third, on the right when it starts after the second
// third, and in the center otherwise. Any center box wins, since it blocks
// forward motion; otherwise the side with more boxes wins and a tie is Clear.
func Classify(dets []Detection, frameWidth float64) Direction {
	var left, right, center int
	for _, d := range dets {
		switch {
		case d.Box.Right() < frameWidth/3:
			left++
		case d.Box.X > 2*frameWidth/3:
			right++
		default:
			center++
		}
	}

	switch {
	case center > 0:
		return Center
	case left > right:
		return Left
	case right > left:
		return Right
	default:
		return Clear
	}
}

// HazardSet is a set of detection labels considered traffic.
type HazardSet map[string]struct{}

// NewHazardSet builds a set from labels. Labels match case-sensitively,
// the way detection models emit them.
func NewHazardSet(classes ...string) HazardSet {
	set := make(HazardSet, len(classes))
	for _, c := range classes {
		set[c] = struct{}{}
	}
	return set
}

// Contains reports whether class is a hazard label.
func (h HazardSet) Contains(class string) bool {
	_, ok := h[class]
	return ok
}

// IsHazard reports whether any detection is a vehicle or traffic object.
func IsHazard(dets []Detection, hazards HazardSet) bool {
	for _, d := range dets {
		if hazards.Contains(d.Class) {
			return true
		}
	}
	return false
}

// Closest picks the detection with the widest box, the best proxy for the
// nearest object. Ties go to the first occurrence. Returns nil for an empty
// frame.
func Closest(dets []Detection) *Detection {
	if len(dets) == 0 {
		return nil
	}
	best := 0
	for i := 1; i < len(dets); i++ {
		if dets[i].Box.Width > dets[best].Box.Width {
			best = i
		}
	}
	d := dets[best]
	return &d
}

// Signature is the comma-joined list of labels in detection order. Two
// frames with the same signature and direction describe the same scene.
func Signature(dets []Detection) string {
	if len(dets) == 0 {
		return ""
	}
	names := make([]string, len(dets))
	for i, d := range dets {
		names[i] = d.Class
	}
	return strings.Join(names, ", ")
}

// Analyzer bundles a calibration with its hazard set.
type Analyzer struct {
	cal     Calibration
	hazards HazardSet
}

// NewAnalyzer creates an analyzer for the given calibration.
func NewAnalyzer(cal Calibration) *Analyzer {
	return &Analyzer{
		cal:     cal,
		hazards: NewHazardSet(cal.HazardClasses...),
	}
}

// Calibration returns the analyzer's calibration.
func (a *Analyzer) Calibration() Calibration {
	return a.cal
}

// Analyze classifies one frame. A non-positive frameWidth falls back to the
// calibrated capture width.
func (a *Analyzer) Analyze(dets []Detection, frameWidth float64) FrameAnalysis {
	if frameWidth <= 0 {
		frameWidth = a.cal.FrameWidth
	}

	result := FrameAnalysis{
		Direction: Classify(dets, frameWidth),
		Hazard:    IsHazard(dets, a.hazards),
		Signature: Signature(dets),
		Count:     len(dets),
	}

	if closest := Closest(dets); closest != nil {
		d := EstimateDistance(closest.Box.Width, a.cal)
		result.Closest = closest
		result.DistanceMeters = &d
	}
	return result
}
