package guide

import (
	"log/slog"
	"time"

	"github.com/teslashibe/go-smartstick/pkg/alert"
	"github.com/teslashibe/go-smartstick/pkg/navigation"
	"github.com/teslashibe/go-smartstick/pkg/speech"
	"github.com/teslashibe/go-smartstick/pkg/vision"
)

// DefaultTutorial is spoken when a device connects.
const DefaultTutorial = "Welcome to Smart Stick App. This app will guide you using voice and vibration. " +
	"Point your phone camera ahead and listen for instructions. " +
	"You can use voice commands like 'scan left', 'scan right', or 'go forward'. " +
	"To repeat the last message, say 'repeat'. " +
	"You do not need to look at the screen. All feedback is provided by sound and vibration."

// Sensors a device can report on.
const (
	SensorCamera     = "camera"
	SensorLocation   = "location"
	SensorMicrophone = "microphone"
	SensorModel      = "model"
	SensorBattery    = "battery"
)

// DefaultBatteryLow is the battery level at or below which the walker is
// warned.
const DefaultBatteryLow = 0.2

// Emergency report replies.
const (
	EmergencyLocation   = "Emergency! Your location is latitude %.6f, longitude %.6f."
	EmergencyNoLocation = "Unable to get location."

	// mapsLink is shared with the monitor so a helper can open the spot.
	mapsLink = "https://maps.google.com/?q=%.6f,%.6f"
)

// EmergencyTimeout bounds the wait for a fix during an emergency report.
const EmergencyTimeout = 10 * time.Second

// DefaultSensorNotices are spoken once when a sensor becomes unavailable.
func DefaultSensorNotices() map[string]string {
	return map[string]string{
		SensorCamera:     "Camera is unavailable. Obstacle alerts are paused. Please allow camera access.",
		SensorLocation:   "Location is unavailable. Please enable location services.",
		SensorMicrophone: "Microphone is unavailable. Voice commands are disabled.",
		SensorModel:      "Object detection could not start. Obstacle alerts are paused.",
		SensorBattery:    "Warning! Battery is low.",
	}
}

// Hooks observe the engine, for dashboards and telemetry. Any hook may be
// nil. Hooks run synchronously on the calling goroutine.
type Hooks struct {
	OnFrame        func(analysis vision.FrameAnalysis, tracks []vision.Track)
	OnAnnouncement func(ann alert.Announcement)
	OnCommand      func(cmd speech.Command)
	OnSensor       func(sensor string, available bool)
	OnEmergency    func(report EmergencyReport)
}

// Config configures an Engine.
type Config struct {
	Calibration vision.Calibration
	Tracking    bool
	Tracker     vision.TrackerConfig

	AlertOptions      []alert.Option
	NavigationOptions []navigation.Option

	// Tutorial is spoken by Welcome. Empty disables it.
	Tutorial      string
	SensorNotices map[string]string

	// BatteryLow is the warning threshold as a fraction of full charge.
	BatteryLow float64

	// Recognizer transcribes device audio. Nil disables voice audio.
	Recognizer speech.Recognizer

	Hooks  Hooks
	Logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Config)

// WithCalibration sets the classifier and distance calibration.
func WithCalibration(cal vision.Calibration) Option {
	return func(c *Config) {
		c.Calibration = cal
	}
}

// WithTracking enables the obstacle tracker.
func WithTracking(cfg vision.TrackerConfig) Option {
	return func(c *Config) {
		c.Tracking = true
		c.Tracker = cfg
	}
}

// WithAlertOptions configures the arbiter.
func WithAlertOptions(opts ...alert.Option) Option {
	return func(c *Config) {
		c.AlertOptions = append(c.AlertOptions, opts...)
	}
}

// WithNavigationOptions configures the navigation session.
func WithNavigationOptions(opts ...navigation.Option) Option {
	return func(c *Config) {
		c.NavigationOptions = append(c.NavigationOptions, opts...)
	}
}

// WithTutorial replaces the onboarding text. Empty disables it.
func WithTutorial(text string) Option {
	return func(c *Config) {
		c.Tutorial = text
	}
}

// WithSensorNotices replaces the sensor notices.
func WithSensorNotices(notices map[string]string) Option {
	return func(c *Config) {
		c.SensorNotices = notices
	}
}

// WithBatteryLow sets the low battery warning threshold (0..1).
func WithBatteryLow(level float64) Option {
	return func(c *Config) {
		c.BatteryLow = level
	}
}

// WithRecognizer enables server-side recognition of device audio.
func WithRecognizer(r speech.Recognizer) Option {
	return func(c *Config) {
		c.Recognizer = r
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

// DefaultConfig returns the default engine configuration.
func DefaultConfig() *Config {
	return &Config{
		Calibration:   vision.DefaultCalibration(),
		Tracker:       vision.DefaultTrackerConfig(),
		Tutorial:      DefaultTutorial,
		SensorNotices: DefaultSensorNotices(),
		BatteryLow:    DefaultBatteryLow,
		Logger:        slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}
