// Package config loads the guidance server configuration.
//
// Values come from three layers: built-in defaults, an optional YAML file,
// then environment variables. Secrets are normally only set through the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-smartstick/pkg/alert"
	"github.com/teslashibe/go-smartstick/pkg/navigation"
	"github.com/teslashibe/go-smartstick/pkg/route"
	"github.com/teslashibe/go-smartstick/pkg/vision"
)

// Defaults.
const (
	DefaultPort        = 8080
	DefaultLogLevel    = "info"
	DefaultEnvironment = "development"
)

// Config is the full server configuration.
type Config struct {
	Server     Server             `yaml:"server"`
	Vision     vision.Calibration `yaml:"vision"`
	Tracking   Tracking           `yaml:"tracking"`
	Alerts     Alerts             `yaml:"alerts"`
	Navigation Navigation         `yaml:"navigation"`
	Maps       Maps               `yaml:"maps"`
	TTS        TTS                `yaml:"tts"`
	Speech     Speech             `yaml:"speech"`
	Guide      Guide              `yaml:"guide"`
	Telemetry  Telemetry          `yaml:"telemetry"`
}

// Server configures the HTTP listener.
type Server struct {
	Port         int           `yaml:"port"`
	Environment  string        `yaml:"environment"`
	LogLevel     string        `yaml:"log_level"`
	AllowOrigins string        `yaml:"allow_origins"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Addr returns the listen address.
func (s Server) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

// Tracking configures the obstacle tracker.
type Tracking struct {
	Enabled bool                 `yaml:"enabled"`
	Tracker vision.TrackerConfig `yaml:",inline"`
}

// Alerts configures the arbiter.
type Alerts struct {
	Templates alert.Templates `yaml:"templates"`
	Patterns  alert.Patterns  `yaml:"patterns"`
	Siren     bool            `yaml:"siren"`
}

// Options returns the arbiter options.
func (a Alerts) Options() []alert.Option {
	return []alert.Option{
		alert.WithTemplates(a.Templates),
		alert.WithPatterns(a.Patterns),
		alert.WithSiren(a.Siren),
	}
}

// Navigation configures navigation sessions.
type Navigation struct {
	Messages navigation.Messages `yaml:"messages"`
	Matcher  route.MatcherConfig `yaml:"matcher"`
}

// Options returns the session options.
func (n Navigation) Options() []navigation.Option {
	return []navigation.Option{
		navigation.WithMessages(n.Messages),
		navigation.WithMatcherConfig(n.Matcher),
	}
}

// Maps configures the geocoders and the directions provider.
type Maps struct {
	NominatimURL       string        `yaml:"nominatim_url"`
	OverpassURL        string        `yaml:"overpass_url"`
	ORSURL             string        `yaml:"ors_url"`
	ORSAPIKey          string        `yaml:"ors_api_key"`
	Profile            string        `yaml:"profile"`
	Language           string        `yaml:"language"`
	SearchRadiusMeters float64       `yaml:"search_radius_meters"`
	Timeout            time.Duration `yaml:"timeout"`
}

// TTS configures server-side speech synthesis.
type TTS struct {
	// Providers are tried in order: "openai", "google". Empty disables
	// synthesis and devices speak locally.
	Providers    []string      `yaml:"providers"`
	OpenAIAPIKey string        `yaml:"openai_api_key"`
	GoogleAPIKey string        `yaml:"google_api_key"`
	Voice        string        `yaml:"voice"`
	Language     string        `yaml:"language"`
	SpeakingRate float64       `yaml:"speaking_rate"`
	CacheSize    int           `yaml:"cache_size"`
	Timeout      time.Duration `yaml:"timeout"`
}

// Speech configures recognition of device audio.
type Speech struct {
	Enabled      bool          `yaml:"enabled"`
	GoogleAPIKey string        `yaml:"google_api_key"`
	Language     string        `yaml:"language"`
	Timeout      time.Duration `yaml:"timeout"`
}

// Guide configures per-device behaviour.
type Guide struct {
	Tutorial        string            `yaml:"tutorial"`
	DisableTutorial bool              `yaml:"disable_tutorial"`
	SensorNotices   map[string]string `yaml:"sensor_notices"`
}

// Telemetry configures OpenTelemetry export.
type Telemetry struct {
	Endpoint   string  `yaml:"endpoint"`
	Insecure   bool    `yaml:"insecure"`
	SampleRate float64 `yaml:"sample_rate"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: Server{
			Port:         DefaultPort,
			Environment:  DefaultEnvironment,
			LogLevel:     DefaultLogLevel,
			AllowOrigins: "*",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Vision: vision.DefaultCalibration(),
		Tracking: Tracking{
			Enabled: true,
			Tracker: vision.DefaultTrackerConfig(),
		},
		Alerts: Alerts{
			Templates: alert.DefaultTemplates(),
			Patterns:  alert.DefaultPatterns(),
			Siren:     true,
		},
		Navigation: Navigation{
			Messages: navigation.DefaultMessages(),
			Matcher:  route.DefaultMatcherConfig(),
		},
		Maps: Maps{
			Profile:            "foot-walking",
			Language:           "en",
			SearchRadiusMeters: 5000,
			Timeout:            10 * time.Second,
		},
		TTS: TTS{
			Language:     "en-US",
			SpeakingRate: 1.1,
			CacheSize:    128,
			Timeout:      10 * time.Second,
		},
		Speech: Speech{
			Language: "en-US",
			Timeout:  10 * time.Second,
		},
		Telemetry: Telemetry{
			SampleRate: 1.0,
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv applies environment overrides read through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: PORT: %w", err)
		}
		c.Server.Port = port
	}
	setString(lookup, "GO_ENV", &c.Server.Environment)
	setString(lookup, "LOG_LEVEL", &c.Server.LogLevel)
	setString(lookup, "ORS_API_KEY", &c.Maps.ORSAPIKey)
	setString(lookup, "ORS_URL", &c.Maps.ORSURL)
	setString(lookup, "NOMINATIM_URL", &c.Maps.NominatimURL)
	setString(lookup, "OVERPASS_URL", &c.Maps.OverpassURL)
	setString(lookup, "OPENAI_API_KEY", &c.TTS.OpenAIAPIKey)
	setString(lookup, "OTEL_EXPORTER_OTLP_ENDPOINT", &c.Telemetry.Endpoint)

	// One Google key serves both synthesis and recognition.
	if v, ok := lookup("GOOGLE_API_KEY"); ok && v != "" {
		if c.TTS.GoogleAPIKey == "" {
			c.TTS.GoogleAPIKey = v
		}
		if c.Speech.GoogleAPIKey == "" {
			c.Speech.GoogleAPIKey = v
		}
	}
	return nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("config: invalid port %d", c.Server.Port))
	}
	if err := c.Vision.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("config: %w", err))
	}
	if c.Navigation.Matcher.ProximityMeters <= 0 {
		errs = append(errs, errors.New("config: navigation proximity must be positive"))
	}
	for _, p := range c.TTS.Providers {
		switch strings.ToLower(p) {
		case "openai", "google":
		default:
			errs = append(errs, fmt.Errorf("config: unknown tts provider %q", p))
		}
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("config: sample rate %v outside [0, 1]", c.Telemetry.SampleRate))
	}
	return errors.Join(errs...)
}

// Production reports whether the server runs in production mode.
func (c *Config) Production() bool {
	return c.Server.Environment == "production"
}

func setString(lookup func(string) (string, bool), key string, dst *string) {
	if v, ok := lookup(key); ok && v != "" {
		*dst = v
	}
}
