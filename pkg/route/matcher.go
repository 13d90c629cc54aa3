package route

// EventKind distinguishes matcher events.
type EventKind string

const (
	// StepReached fires when the walker comes within range of the next
	// step's anchor.
	StepReached EventKind = "step_reached"
	// Arrived fires once, after the last step has been reached.
	Arrived EventKind = "arrived"
)

// Event is one matcher output.
type Event struct {
	Kind        EventKind `json:"kind"`
	StepIndex   int       `json:"step_index"`
	Instruction string    `json:"instruction,omitempty"`
}

// Cursor is the walker's progress along a plan.
type Cursor struct {
	PlanID    string `json:"plan_id"`
	NextStep  int    `json:"next_step"`
	Arrived   bool   `json:"arrived"`
	StepCount int    `json:"step_count"`
}

// MatcherConfig holds the proximity parameters.
type MatcherConfig struct {
	// ProximityMeters is how close the walker must be to an anchor.
	ProximityMeters float64 `yaml:"proximity_meters"`
	// MetersPerDegree scales degree deltas to meters.
	MetersPerDegree float64 `yaml:"meters_per_degree"`
}

// DefaultMatcherConfig returns a 20 m threshold.
func DefaultMatcherConfig() MatcherConfig {
	return MatcherConfig{
		ProximityMeters: 20,
		MetersPerDegree: MetersPerDegree,
	}
}

// Matcher advances a cursor through a plan as position samples arrive.
// It is not safe for concurrent use; the owning session serializes calls.
type Matcher struct {
	plan   *Plan
	cfg    MatcherConfig
	cursor Cursor
}

// NewMatcher creates a matcher at the start of plan.
func NewMatcher(plan *Plan, cfg MatcherConfig) *Matcher {
	if cfg.ProximityMeters <= 0 {
		cfg.ProximityMeters = DefaultMatcherConfig().ProximityMeters
	}
	if cfg.MetersPerDegree <= 0 {
		cfg.MetersPerDegree = MetersPerDegree
	}
	return &Matcher{
		plan: plan,
		cfg:  cfg,
		cursor: Cursor{
			PlanID:    plan.ID,
			StepCount: len(plan.Steps),
		},
	}
}

// Update feeds one position sample and returns the events it triggers.
//
// At most one step is reached per sample, even when the walker is within
// range of several anchors. Arrival is checked after advancing, so the
// sample that reaches the last step also reports arrival. Once arrived,
// every further sample returns nil.
func (m *Matcher) Update(pos Coordinate) []Event {
	if m.cursor.Arrived || !pos.Valid() {
		return nil
	}

	var events []Event
	steps := m.plan.Steps
	if next := m.cursor.NextStep; next < len(steps) {
		if Equirectangular(pos, steps[next].Anchor, m.cfg.MetersPerDegree) <= m.cfg.ProximityMeters {
			events = append(events, Event{
				Kind:        StepReached,
				StepIndex:   next,
				Instruction: steps[next].Instruction,
			})
			m.cursor.NextStep++
		}
	}

	if m.cursor.NextStep == len(steps) && len(steps) > 0 {
		m.cursor.Arrived = true
		events = append(events, Event{Kind: Arrived, StepIndex: len(steps)})
	}
	return events
}

// Cursor returns the current progress.
func (m *Matcher) Cursor() Cursor {
	return m.cursor
}

// Plan returns the plan being matched.
func (m *Matcher) Plan() *Plan {
	return m.plan
}

// Remaining returns the steps not yet reached.
func (m *Matcher) Remaining() []Step {
	return m.plan.Steps[m.cursor.NextStep:]
}
