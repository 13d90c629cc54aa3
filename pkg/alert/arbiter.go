package alert

import (
	"fmt"
	"sync"
	"time"

	"github.com/teslashibe/go-smartstick/pkg/vision"
)

// Kind classifies an announcement.
type Kind string

// Announcement kinds.
const (
	KindHazard      Kind = "hazard"
	KindObstacle    Kind = "obstacle"
	KindClear       Kind = "clear"
	KindPathCleared Kind = "path_cleared"
	KindNavigation  Kind = "navigation"
	KindNotice      Kind = "notice"
	KindCommand     Kind = "command"
)

// Announcement is one spoken message with its haptic feedback.
type Announcement struct {
	Kind    Kind    `json:"kind"`
	Message string  `json:"message"`
	Haptic  Pattern `json:"haptic,omitempty"`
	Siren   bool    `json:"siren,omitempty"`
}

// State is what the arbiter last committed to announcing.
type State struct {
	Signature   string
	Direction   vision.Direction
	AnnouncedAt time.Time
}

// Arbiter decides, frame by frame, whether to announce. One Arbiter per
// device; it is safe for concurrent use.
type Arbiter struct {
	cfg *Config

	mu    sync.Mutex
	state State
}

// NewArbiter creates an arbiter at the clear baseline, so an empty first
// frame is silent.
func NewArbiter(opts ...Option) *Arbiter {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Arbiter{cfg: cfg}
}

// Decide returns the announcement for one frame, or false when the frame
// should stay silent. Deciding and committing the new state happen under
// one lock.
//
// Hazards are announced on every frame. Other scenes are announced only
// when the (signature, direction) pair differs from the last announced one.
// An empty frame after a non-clear scene announces that the path cleared and
// returns to the baseline.
func (a *Arbiter) Decide(frame vision.FrameAnalysis) (Announcement, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	tpl := a.cfg.Templates

	if frame.Empty() {
		if a.state.Signature == "" && a.state.Direction == vision.Clear {
			return Announcement{}, false
		}
		a.commit("", vision.Clear)
		return Announcement{
			Kind:    KindPathCleared,
			Message: tpl.PathCleared,
			Haptic:  a.cfg.Patterns.Short,
		}, true
	}

	phrase := a.distancePhrase(frame)

	if frame.Hazard {
		a.commit(frame.Signature, frame.Direction)
		return Announcement{
			Kind:    KindHazard,
			Message: fmt.Sprintf(tpl.Hazard, phrase),
			Haptic:  a.cfg.Patterns.Strong,
			Siren:   a.cfg.Siren,
		}, true
	}

	if frame.Signature == a.state.Signature && frame.Direction == a.state.Direction {
		return Announcement{}, false
	}

	var ann Announcement
	switch frame.Direction {
	case vision.Left:
		ann = Announcement{Kind: KindObstacle, Message: fmt.Sprintf(tpl.Left, phrase), Haptic: a.cfg.Patterns.Normal}
	case vision.Right:
		ann = Announcement{Kind: KindObstacle, Message: fmt.Sprintf(tpl.Right, phrase), Haptic: a.cfg.Patterns.Normal}
	case vision.Center:
		ann = Announcement{Kind: KindObstacle, Message: fmt.Sprintf(tpl.Center, phrase), Haptic: a.cfg.Patterns.Normal}
	default:
		ann = Announcement{Kind: KindClear, Message: tpl.Clear, Haptic: a.cfg.Patterns.Short}
	}

	a.commit(frame.Signature, frame.Direction)
	return ann, true
}

// State returns a snapshot of the committed state.
func (a *Arbiter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Reset returns the arbiter to the clear baseline.
func (a *Arbiter) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = State{}
}

// commit must be called with mu held.
func (a *Arbiter) commit(signature string, dir vision.Direction) {
	a.state.Signature = signature
	a.state.Direction = dir
	if now := a.cfg.Now(); now.After(a.state.AnnouncedAt) {
		a.state.AnnouncedAt = now
	}
}

func (a *Arbiter) distancePhrase(frame vision.FrameAnalysis) string {
	if frame.Closest == nil || frame.DistanceMeters == nil {
		return ""
	}
	return fmt.Sprintf(a.cfg.Templates.Distance, frame.Closest.Class, *frame.DistanceMeters)
}
