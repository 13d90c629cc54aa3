package navigation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/teslashibe/go-smartstick/pkg/alert"
	"github.com/teslashibe/go-smartstick/pkg/maps"
	"github.com/teslashibe/go-smartstick/pkg/route"
)

// Status is a snapshot of a session.
type Status struct {
	Active      bool              `json:"active"`
	Planning    bool              `json:"planning,omitempty"`
	PlanID      string            `json:"plan_id,omitempty"`
	Destination string            `json:"destination,omitempty"`
	Target      *route.Coordinate `json:"target,omitempty"`
	Cursor      *route.Cursor     `json:"cursor,omitempty"`
	NextStep    string            `json:"next_step,omitempty"`
	Position    *route.Coordinate `json:"position,omitempty"`
}

// Session is the navigation state machine for one device. Safe for
// concurrent use.
type Session struct {
	cfg        *Config
	geocoder   maps.Geocoder
	directions maps.Directions
	location   LocationSource
	renderer   MapRenderer
	speaker    Speaker
	logger     *slog.Logger

	mu         sync.Mutex
	generation uint64
	cancelSub  func()
	planning   bool
	plan       *route.Plan
	matcher    *route.Matcher
	lastPos    *route.Coordinate
}

// NewSession creates an idle session.
func NewSession(
	geocoder maps.Geocoder,
	directions maps.Directions,
	location LocationSource,
	renderer MapRenderer,
	speaker Speaker,
	opts ...Option,
) *Session {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Session{
		cfg:        cfg,
		geocoder:   geocoder,
		directions: directions,
		location:   location,
		renderer:   renderer,
		speaker:    speaker,
		logger:     cfg.Logger.With("component", "navigation.session"),
	}
}

// Navigate plans a route to the place described by text and starts
// following it. Any active route is cancelled before planning begins.
//
// Every failure is announced to the walker and also returned. A call
// overtaken by a newer Navigate or Stop returns ErrSuperseded and announces
// nothing.
func (s *Session) Navigate(ctx context.Context, text string) (plan *route.Plan, err error) {
	gen := s.reset(true)
	start := time.Now()

	defer func() {
		s.mu.Lock()
		if s.generation == gen {
			s.planning = false
		}
		s.mu.Unlock()

		if r := recover(); r != nil {
			s.logger.Error("navigation panic", "panic", r)
			err = fmt.Errorf("navigation: panic: %v", r)
			plan = nil
			s.notify(ctx, s.cfg.Messages.Failure)
		}
		if err != nil && !errors.Is(err, ErrSuperseded) && s.cfg.Hooks.OnFailure != nil {
			s.cfg.Hooks.OnFailure(err)
		}
	}()

	text = strings.TrimSpace(text)
	if text == "" {
		s.notify(ctx, s.cfg.Messages.NoDestination)
		return nil, ErrNoDestination
	}

	sample, err := s.location.Current(ctx)
	if err != nil || !sample.Position.Valid() {
		s.logger.Warn("no position for navigation", "error", err)
		s.notify(ctx, s.cfg.Messages.NoPosition)
		if err == nil {
			err = errors.New("invalid fix")
		}
		return nil, fmt.Errorf("%w: %v", ErrNoPosition, err)
	}
	origin := sample.Position

	candidates, err := s.geocoder.Search(ctx, text, origin)
	if err != nil && !errors.Is(err, maps.ErrNoResults) {
		return nil, s.transportFailure(ctx, gen, "geocode", err)
	}
	if s.superseded(gen) {
		return nil, ErrSuperseded
	}
	if len(candidates) == 0 {
		s.logger.Info("destination not found", "query", text)
		s.notify(ctx, s.cfg.Messages.NotFound)
		return nil, ErrDestinationNotFound
	}

	positions := make([]route.Coordinate, len(candidates))
	for i, c := range candidates {
		positions[i] = c.Position
	}
	dest := candidates[route.Nearest(origin, positions)]

	r, err := s.directions.Route(ctx, origin, dest.Position)
	if s.superseded(gen) {
		return nil, ErrSuperseded
	}
	switch {
	case err != nil && !errors.Is(err, maps.ErrNoRoute) && !errors.Is(err, maps.ErrMalformedResponse):
		return nil, s.transportFailure(ctx, gen, "directions", err)
	case err != nil || r == nil || len(r.Geometry) == 0:
		s.logger.Info("no directions", "destination", dest.Name, "error", err)
		s.notify(ctx, s.cfg.Messages.NoDirections)
		return nil, ErrNoDirections
	}

	plan = route.BuildPlan(origin, dest.Position, r.Steps, r.Geometry, s.logger)
	plan.Label = dest.Name

	// Commit under the lock so a concurrent Navigate or Stop either sees
	// this plan or discards it.
	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return nil, ErrSuperseded
	}
	s.plan = plan
	if !plan.Empty() {
		s.matcher = route.NewMatcher(plan, s.cfg.Matcher)
	}
	pos := origin
	s.lastPos = &pos
	s.mu.Unlock()

	if s.cfg.Hooks.OnPlanned != nil {
		s.cfg.Hooks.OnPlanned(time.Since(start))
	}
	if s.cfg.Hooks.OnPlan != nil {
		s.cfg.Hooks.OnPlan(plan)
	}

	if err := s.renderer.DrawRoute(ctx, origin, dest.Position, plan.Geometry); err != nil {
		s.logger.Warn("draw route failed", "error", err)
	}
	if err := s.renderer.UpdatePosition(ctx, origin); err != nil {
		s.logger.Warn("position update failed", "error", err)
	}

	if plan.Empty() {
		s.notify(ctx, s.cfg.Messages.NoSteps)
	} else {
		msg := fmt.Sprintf(s.cfg.Messages.Summary, dest.Name, len(plan.Steps), r.DistanceMeters)
		msg += " " + fmt.Sprintf(s.cfg.Messages.FirstStep, plan.Steps[0].Instruction)
		s.say(ctx, alert.Announcement{Kind: alert.KindNavigation, Message: msg, Haptic: alert.PatternShort})
	}

	cancel, err := s.location.Subscribe(func(sample Sample) {
		s.onLocation(gen, sample)
	})
	if err != nil {
		s.logger.Warn("location subscription failed", "error", err)
		s.mu.Lock()
		if s.generation == gen {
			s.generation++
			s.planning = false
			s.plan = nil
			s.matcher = nil
		}
		s.mu.Unlock()
		s.notify(ctx, s.cfg.Messages.NoPosition)
		return nil, fmt.Errorf("%w: subscribe: %v", ErrNoPosition, err)
	}

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		cancel()
		return nil, ErrSuperseded
	}
	s.cancelSub = cancel
	s.mu.Unlock()

	s.logger.Info("navigation started",
		"plan_id", plan.ID,
		"destination", dest.Name,
		"steps", len(plan.Steps),
		"candidates", len(candidates),
	)
	return plan, nil
}

// Stop cancels the active route.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	active := s.plan != nil || s.cancelSub != nil || s.planning
	s.mu.Unlock()

	s.reset(false)
	if !active {
		s.notify(ctx, s.cfg.Messages.NotActive)
		return ErrNotNavigating
	}
	s.notify(ctx, s.cfg.Messages.Stopped)
	s.logger.Info("navigation stopped")
	return nil
}

// Close cancels the active route without announcing anything.
func (s *Session) Close() {
	s.reset(false)
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{Active: s.plan != nil, Planning: s.planning}
	if s.lastPos != nil {
		pos := *s.lastPos
		st.Position = &pos
	}
	if s.plan == nil {
		return st
	}
	st.PlanID = s.plan.ID
	st.Destination = s.plan.Label
	target := s.plan.Destination
	st.Target = &target
	if s.matcher != nil {
		cur := s.matcher.Cursor()
		st.Cursor = &cur
		if rem := s.matcher.Remaining(); len(rem) > 0 {
			st.NextStep = rem[0].Instruction
		}
	}
	return st
}

// DescribeNext announces the next instruction, for "where am I".
func (s *Session) DescribeNext(ctx context.Context) {
	st := s.Status()
	switch {
	case !st.Active:
		s.notify(ctx, s.cfg.Messages.NotActive)
	case st.NextStep != "":
		s.notify(ctx, fmt.Sprintf(s.cfg.Messages.NextStep, st.NextStep))
	case st.Cursor == nil:
		s.notify(ctx, s.cfg.Messages.NoSteps)
	case st.Cursor.Arrived:
		s.notify(ctx, s.cfg.Messages.Arrived)
	default:
		s.notify(ctx, s.cfg.Messages.AllStepsMet)
	}
}

// onLocation handles one subscribed fix. Fixes from a cancelled
// subscription are dropped by the generation check.
func (s *Session) onLocation(gen uint64, sample Sample) {
	ctx := context.Background()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("location handler panic", "panic", r)
		}
	}()

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return
	}
	if !sample.Position.Valid() {
		s.mu.Unlock()
		return
	}
	pos := sample.Position
	s.lastPos = &pos

	var events []route.Event
	var planID string
	if s.matcher != nil {
		events = s.matcher.Update(pos)
		planID = s.matcher.Cursor().PlanID
	}
	s.mu.Unlock()

	if err := s.renderer.UpdatePosition(ctx, pos); err != nil {
		s.logger.Debug("position update failed", "error", err)
	}

	for _, ev := range events {
		if s.cfg.Hooks.OnEvent != nil {
			s.cfg.Hooks.OnEvent(planID, ev)
		}
		switch ev.Kind {
		case route.StepReached:
			s.logger.Info("step reached", "plan_id", planID, "step", ev.StepIndex)
			s.say(ctx, alert.Announcement{Kind: alert.KindNavigation, Message: ev.Instruction, Haptic: alert.PatternNormal})
		case route.Arrived:
			s.logger.Info("arrived", "plan_id", planID)
			s.say(ctx, alert.Announcement{Kind: alert.KindNavigation, Message: s.cfg.Messages.Arrived, Haptic: alert.PatternStrong})
		}
	}
}

// reset invalidates the active route and any in-flight planning, and
// returns the new generation.
func (s *Session) reset(planning bool) uint64 {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.planning = planning
	cancel := s.cancelSub
	s.cancelSub = nil
	s.plan = nil
	s.matcher = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return gen
}

func (s *Session) superseded(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation != gen
}

func (s *Session) transportFailure(ctx context.Context, gen uint64, stage string, err error) error {
	if s.superseded(gen) {
		return ErrSuperseded
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.logger.Warn("navigation request failed", "stage", stage, "error", err)
	s.notify(ctx, s.cfg.Messages.Failure)
	return fmt.Errorf("navigation: %s: %w", stage, err)
}

func (s *Session) notify(ctx context.Context, msg string) {
	s.say(ctx, alert.Announcement{Kind: alert.KindNotice, Message: msg, Haptic: alert.PatternShort})
}

func (s *Session) say(ctx context.Context, ann alert.Announcement) {
	if err := s.speaker.Announce(ctx, ann); err != nil {
		s.logger.Debug("announce failed", "error", err)
	}
}
