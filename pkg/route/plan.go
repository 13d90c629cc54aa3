package route

import (
	"log/slog"

	"github.com/google/uuid"
)

// RawStep is a maneuver as returned by a directions provider.
type RawStep struct {
	Instruction string `json:"instruction"`
	// WaypointIndex points into the route geometry; nil when the provider
	// gave no reference.
	WaypointIndex *int `json:"waypoint_index,omitempty"`
}

// Step is a maneuver with a resolved anchor.
type Step struct {
	Index       int        `json:"index"`
	Instruction string     `json:"instruction"`
	Anchor      Coordinate `json:"anchor"`
}

// Plan is an immutable route from origin to destination.
type Plan struct {
	ID          string       `json:"id"`
	Origin      Coordinate   `json:"origin"`
	Destination Coordinate   `json:"destination"`
	Label       string       `json:"label,omitempty"`
	Steps       []Step       `json:"steps"`
	Geometry    []Coordinate `json:"geometry"`
}

// Empty reports whether the plan has no usable steps.
func (p *Plan) Empty() bool {
	return len(p.Steps) == 0
}

// BuildPlan resolves every step's anchor and drops those without one.
//
// The anchor is the geometry point the waypoint reference names when that
// reference is in range, otherwise geometry[i] for the step's own position,
// otherwise the last geometry point. A step whose candidate anchor is not a
// valid coordinate is dropped and logged. Surviving steps are re-indexed
// densely.
func BuildPlan(origin, destination Coordinate, raw []RawStep, geometry []Coordinate, logger *slog.Logger) *Plan {
	if logger == nil {
		logger = slog.Default()
	}

	plan := &Plan{
		ID:          uuid.NewString(),
		Origin:      origin,
		Destination: destination,
		Geometry:    append([]Coordinate(nil), geometry...),
		Steps:       make([]Step, 0, len(raw)),
	}

	for i, rs := range raw {
		anchor, ok := resolveAnchor(i, rs, geometry)
		if !ok {
			logger.Warn("dropping route step without valid anchor",
				"plan_id", plan.ID,
				"step", i,
				"instruction", rs.Instruction,
			)
			continue
		}
		plan.Steps = append(plan.Steps, Step{
			Index:       len(plan.Steps),
			Instruction: rs.Instruction,
			Anchor:      anchor,
		})
	}

	return plan
}

func resolveAnchor(i int, rs RawStep, geometry []Coordinate) (Coordinate, bool) {
	var c Coordinate
	switch {
	case rs.WaypointIndex != nil && *rs.WaypointIndex >= 0 && *rs.WaypointIndex < len(geometry):
		c = geometry[*rs.WaypointIndex]
	case i < len(geometry):
		c = geometry[i]
	case len(geometry) > 0:
		c = geometry[len(geometry)-1]
	default:
		return Coordinate{}, false
	}
	return c, c.Valid()
}
