package gateway

import (
	"log/slog"
	"time"

	"github.com/teslashibe/go-smartstick/pkg/guide"
	"github.com/teslashibe/go-smartstick/pkg/hub"
	"github.com/teslashibe/go-smartstick/pkg/maps"
	"github.com/teslashibe/go-smartstick/pkg/protocol"
	"github.com/teslashibe/go-smartstick/pkg/telemetry"
	"github.com/teslashibe/go-smartstick/pkg/tts"
)

// Config configures a Gateway.
type Config struct {
	Geocoder   maps.Geocoder
	Directions maps.Directions

	// TTS synthesizes speak messages. Nil sends text only.
	TTS tts.Provider

	// Camera is sent to every device on connect.
	Camera protocol.CameraConfig

	GuideOptions []guide.Option

	// Monitor receives dashboard events. Nil disables the feed.
	Monitor   *hub.Hub
	Telemetry *telemetry.Telemetry

	SirenDuration time.Duration

	// FixTimeout bounds how long a navigation request waits for the first
	// location fix; fixes older than FixMaxAge are not reused.
	FixTimeout time.Duration
	FixMaxAge  time.Duration

	Logger *slog.Logger
}

// Option configures a Gateway.
type Option func(*Config)

// WithMaps sets the geocoder and directions providers.
func WithMaps(geocoder maps.Geocoder, directions maps.Directions) Option {
	return func(c *Config) {
		c.Geocoder = geocoder
		c.Directions = directions
	}
}

// WithTTS enables server-side synthesis.
func WithTTS(p tts.Provider) Option {
	return func(c *Config) {
		c.TTS = p
	}
}

// WithCamera sets the capture configuration sent on connect.
func WithCamera(cam protocol.CameraConfig) Option {
	return func(c *Config) {
		c.Camera = cam
	}
}

// WithGuideOptions configures every device's guidance engine.
func WithGuideOptions(opts ...guide.Option) Option {
	return func(c *Config) {
		c.GuideOptions = append(c.GuideOptions, opts...)
	}
}

// WithMonitor publishes events to the dashboard hub.
func WithMonitor(h *hub.Hub) Option {
	return func(c *Config) {
		c.Monitor = h
	}
}

// WithTelemetry records metrics and spans.
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(c *Config) {
		c.Telemetry = t
	}
}

// WithSirenDuration sets how long the hazard siren plays.
func WithSirenDuration(d time.Duration) Option {
	return func(c *Config) {
		c.SirenDuration = d
	}
}

// WithFixTimeout sets the location fix wait and reuse window.
func WithFixTimeout(wait, maxAge time.Duration) Option {
	return func(c *Config) {
		c.FixTimeout = wait
		c.FixMaxAge = maxAge
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// DefaultConfig returns the default gateway configuration.
func DefaultConfig() *Config {
	return &Config{
		Camera:        protocol.CameraConfig{Width: 320, Height: 240, FacingBack: true},
		SirenDuration: 3 * time.Second,
		FixTimeout:    5 * time.Second,
		FixMaxAge:     10 * time.Second,
		Logger:        slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}
