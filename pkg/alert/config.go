// Package alert decides which obstacle alerts to announce and delivers them
// to the device.
//
// The Arbiter turns per-frame analyses into at most one Announcement,
// suppressing repeats of an unchanged scene. The Announcer delivers every
// announcement, from obstacles and navigation alike, to a single Sink.
package alert

import "time"

// Pattern is a vibration pattern: alternating on/off durations in
// milliseconds, starting with on. This is the format the browser vibration
// API and Android accept.
type Pattern []int

// Duration returns the total length of the pattern.
func (p Pattern) Duration() time.Duration {
	total := 0
	for _, ms := range p {
		total += ms
	}
	return time.Duration(total) * time.Millisecond
}

// Predefined patterns.
var (
	PatternShort  = Pattern{100}
	PatternNormal = Pattern{200, 100, 200}
	PatternStrong = Pattern{500, 200, 500}
)

// Templates are the spoken messages. Templates ending in a distance phrase
// take it as their single %s argument.
type Templates struct {
	// Distance is formatted with the class name and distance in meters.
	Distance string `yaml:"distance"`

	Hazard      string `yaml:"hazard"`
	Left        string `yaml:"left"`
	Right       string `yaml:"right"`
	Center      string `yaml:"center"`
	Clear       string `yaml:"clear"`
	PathCleared string `yaml:"path_cleared"`
}

// DefaultTemplates returns the standard English messages.
func DefaultTemplates() Templates {
	return Templates{
		Distance:    "%s detected, %.1f meters ahead.",
		Hazard:      "Caution! Vehicle or traffic detected. %s",
		Left:        "Obstacle left. Move right. %s",
		Right:       "Obstacle right. Move left. %s",
		Center:      "Obstacle ahead. Scan left and right. %s",
		Clear:       "Path clear. Go forward.",
		PathCleared: "Path is now clear. You can move forward.",
	}
}

// Patterns are the haptic patterns per alert strength.
type Patterns struct {
	Short  Pattern `yaml:"short"`
	Normal Pattern `yaml:"normal"`
	Strong Pattern `yaml:"strong"`
}

// DefaultPatterns returns the standard patterns.
func DefaultPatterns() Patterns {
	return Patterns{
		Short:  PatternShort,
		Normal: PatternNormal,
		Strong: PatternStrong,
	}
}

// Config configures an Arbiter.
type Config struct {
	Templates Templates `yaml:"templates"`
	Patterns  Patterns  `yaml:"patterns"`

	// Siren requests the sink's alarm sound on hazard alerts.
	Siren bool `yaml:"siren"`

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time `yaml:"-"`
}

// Option configures an Arbiter.
type Option func(*Config)

// WithTemplates replaces the message templates.
func WithTemplates(t Templates) Option {
	return func(c *Config) {
		c.Templates = t
	}
}

// WithPatterns replaces the haptic patterns.
func WithPatterns(p Patterns) Option {
	return func(c *Config) {
		c.Patterns = p
	}
}

// WithSiren enables or disables the hazard siren.
func WithSiren(enabled bool) Option {
	return func(c *Config) {
		c.Siren = enabled
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Config) {
		c.Now = now
	}
}

// DefaultConfig returns the default arbiter configuration.
func DefaultConfig() *Config {
	return &Config{
		Templates: DefaultTemplates(),
		Patterns:  DefaultPatterns(),
		Siren:     true,
		Now:       time.Now,
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}
