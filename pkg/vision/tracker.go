package vision

import (
	"sync"

	"github.com/LdDl/mot-go/mot"
	"github.com/google/uuid"
)

// TrackerConfig configures an ObstacleTracker.
type TrackerConfig struct {
	// MaxNoMatch is how many frames a track survives without a match.
	MaxNoMatch int `yaml:"max_no_match"`
	// IoUThreshold is the minimum match score to continue a track.
	IoUThreshold float64 `yaml:"iou_threshold"`
	// ApproachRatio flags a track as approaching when its box width grows
	// by at least this fraction between consecutive matches.
	ApproachRatio float64 `yaml:"approach_ratio"`
}

// DefaultTrackerConfig returns defaults tuned for ~2 fps detection streams.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		MaxNoMatch:    5,
		IoUThreshold:  0.3,
		ApproachRatio: 0.15,
	}
}

// Track is one detection with its persistent identity.
type Track struct {
	ID          uuid.UUID `json:"id"`
	Detection   Detection `json:"detection"`
	Approaching bool      `json:"approaching"`
	// Age is the number of frames this track has been matched in.
	Age int `json:"age"`
}

type trackState struct {
	width float64
	age   int
}

// ObstacleTracker assigns stable identities to detections across frames and
// notices objects whose boxes grow, i.e. that are getting closer.
//
// Tracks are informational. They feed the monitor dashboard and telemetry
// and never change what the alert arbiter announces.
type ObstacleTracker struct {
	mu      sync.Mutex
	cfg     TrackerConfig
	tracker *mot.IoUTracker[*mot.SimpleBlob]
	states  map[uuid.UUID]trackState
}

// NewObstacleTracker creates a tracker.
func NewObstacleTracker(cfg TrackerConfig) *ObstacleTracker {
	return &ObstacleTracker{
		cfg:     cfg,
		tracker: mot.NewIoUTracker[*mot.SimpleBlob](cfg.MaxNoMatch, cfg.IoUThreshold),
		states:  make(map[uuid.UUID]trackState),
	}
}

// Update matches one frame of detections against the live tracks and
// returns them in input order.
func (t *ObstacleTracker) Update(dets []Detection) ([]Track, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	blobs := make([]*mot.SimpleBlob, len(dets))
	for i, d := range dets {
		blobs[i] = mot.NewSimpleBlob(mot.Rectangle{
			X:      d.Box.X,
			Y:      d.Box.Y,
			Width:  d.Box.Width,
			Height: d.Box.Height,
		})
	}

	if err := t.tracker.MatchObjects(blobs); err != nil {
		return nil, err
	}

	tracks := make([]Track, len(dets))
	for i, blob := range blobs {
		id := blob.GetID()
		width := dets[i].Box.Width

		prev, seen := t.states[id]
		approaching := seen && prev.width > 0 && width >= prev.width*(1+t.cfg.ApproachRatio)
		state := trackState{width: width, age: prev.age + 1}
		t.states[id] = state

		tracks[i] = Track{
			ID:          id,
			Detection:   dets[i],
			Approaching: approaching,
			Age:         state.age,
		}
	}

	// Drop state for tracks the matcher has expired.
	for id := range t.states {
		if _, ok := t.tracker.Objects[id]; !ok {
			delete(t.states, id)
		}
	}
	return tracks, nil
}

// Len returns the number of live tracks.
func (t *ObstacleTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tracker.Objects)
}

// Reset forgets every track.
func (t *ObstacleTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracker = mot.NewIoUTracker[*mot.SimpleBlob](t.cfg.MaxNoMatch, t.cfg.IoUThreshold)
	t.states = make(map[uuid.UUID]trackState)
}
