// Package navigation runs turn-by-turn walking guidance for one device.
//
// A Session resolves a spoken destination to a place, plans a walking route,
// and announces each step as the walker's live position reaches it. It owns
// at most one active plan; starting a new one cancels the previous location
// subscription first.
package navigation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/teslashibe/go-smartstick/pkg/alert"
	"github.com/teslashibe/go-smartstick/pkg/route"
)

// Sentinel errors. Each is announced to the walker as a spoken notice.
var (
	// ErrNoDestination is returned for an empty destination text.
	ErrNoDestination = errors.New("navigation: destination is empty")

	// ErrNoPosition is returned when the current position is unavailable.
	ErrNoPosition = errors.New("navigation: current position unavailable")

	// ErrDestinationNotFound is returned when geocoding finds nothing.
	ErrDestinationNotFound = errors.New("navigation: destination not found")

	// ErrNoDirections is returned when the directions provider gives no
	// usable route.
	ErrNoDirections = errors.New("navigation: directions could not be found")

	// ErrSuperseded is returned when a newer Navigate or Stop call replaced
	// this one while it was planning.
	ErrSuperseded = errors.New("navigation: superseded by a newer request")

	// ErrNotNavigating is returned by Stop when no route is active.
	ErrNotNavigating = errors.New("navigation: not navigating")
)

// Sample is one position fix from the device.
type Sample struct {
	Position route.Coordinate `json:"position"`
	Accuracy float64          `json:"accuracy,omitempty"`
	Time     time.Time        `json:"ts"`
}

// LocationSource provides position fixes.
type LocationSource interface {
	// Current returns the latest fix, waiting for one if needed.
	Current(ctx context.Context) (Sample, error)
	// Subscribe delivers every new fix to fn until cancel is called.
	Subscribe(fn func(Sample)) (cancel func(), err error)
}

// MapRenderer displays the route and the walker's marker. Calls are
// fire-and-forget; errors are logged only.
type MapRenderer interface {
	DrawRoute(ctx context.Context, origin, destination route.Coordinate, geometry []route.Coordinate) error
	UpdatePosition(ctx context.Context, pos route.Coordinate) error
}

// Speaker delivers announcements. *alert.Announcer implements it.
type Speaker interface {
	Announce(ctx context.Context, ann alert.Announcement) error
}

var _ Speaker = (*alert.Announcer)(nil)

// Messages are the spoken navigation notices.
type Messages struct {
	NoDestination string `yaml:"no_destination"`
	NoPosition    string `yaml:"no_position"`
	NotFound      string `yaml:"not_found"`
	NoDirections  string `yaml:"no_directions"`
	NoSteps       string `yaml:"no_steps"`
	Failure       string `yaml:"failure"`
	// Summary is formatted with the destination name, the step count and
	// the route length in meters.
	Summary string `yaml:"summary"`
	// FirstStep prefixes the first instruction after the summary.
	FirstStep   string `yaml:"first_step"`
	Arrived     string `yaml:"arrived"`
	Stopped     string `yaml:"stopped"`
	NotActive   string `yaml:"not_active"`
	NextStep    string `yaml:"next_step"`
	AllStepsMet string `yaml:"all_steps_met"`
}

// DefaultMessages returns the standard English notices.
func DefaultMessages() Messages {
	return Messages{
		NoDestination: "Please say where you want to go.",
		NoPosition:    "Location is unavailable. Please enable location services.",
		NotFound:      "Destination not found.",
		NoDirections:  "Directions could not be found.",
		NoSteps:       "Route found, but it has no valid steps. Showing the route on the map.",
		Failure:       "Navigation failed. Please try again.",
		Summary:       "Route to %s found. %d steps, about %.0f meters.",
		FirstStep:     "First, %s",
		Arrived:       "You have arrived at your destination.",
		Stopped:       "Navigation stopped.",
		NotActive:     "You are not navigating.",
		NextStep:      "Next: %s",
		AllStepsMet:   "You are close to your destination.",
	}
}

// Hooks observe session activity, for dashboards and telemetry.
// Any hook may be nil. Hooks run synchronously and must not call back into
// the session.
type Hooks struct {
	OnPlan    func(plan *route.Plan)
	OnEvent   func(planID string, ev route.Event)
	OnFailure func(reason error)
	OnPlanned func(d time.Duration)
}

// Config configures a Session.
type Config struct {
	Messages Messages
	Matcher  route.MatcherConfig
	Hooks    Hooks
	Logger   *slog.Logger
}

// Option configures a Session.
type Option func(*Config)

// WithMessages replaces the spoken notices.
func WithMessages(m Messages) Option {
	return func(c *Config) {
		c.Messages = m
	}
}

// WithMatcherConfig sets the proximity parameters.
func WithMatcherConfig(m route.MatcherConfig) Option {
	return func(c *Config) {
		c.Matcher = m
	}
}

// WithHooks sets the observation hooks.
func WithHooks(h Hooks) Option {
	return func(c *Config) {
		c.Hooks = h
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() *Config {
	return &Config{
		Messages: DefaultMessages(),
		Matcher:  route.DefaultMatcherConfig(),
		Logger:   slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}
