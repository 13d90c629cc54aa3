package maps

import (
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/teslashibe/go-smartstick/internal/httpc"
)

// Config holds map provider configuration.
// Use functional options (WithXxx) to set these values.
type Config struct {
	APIKey  string
	BaseURL string

	// Search tuning
	SearchRadiusMeters float64
	MaxResults         int
	Language           string

	// Directions profile, e.g. "foot-walking".
	Profile string

	// Outbound request budget. Nominatim's usage policy allows one
	// request per second.
	RateLimit rate.Limit
	Burst     int

	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Option is a functional option for configuring map providers.
type Option func(*Config)

// WithAPIKey sets the API key for the provider.
func WithAPIKey(key string) Option {
	return func(c *Config) {
		c.APIKey = key
	}
}

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *Config) {
		c.BaseURL = url
	}
}

// WithSearchRadius limits place search to a radius around the walker.
func WithSearchRadius(meters float64) Option {
	return func(c *Config) {
		c.SearchRadiusMeters = meters
	}
}

// WithMaxResults caps the number of geocoding candidates.
func WithMaxResults(n int) Option {
	return func(c *Config) {
		c.MaxResults = n
	}
}

// WithLanguage sets the preferred result language.
func WithLanguage(lang string) Option {
	return func(c *Config) {
		c.Language = lang
	}
}

// WithProfile sets the directions profile.
func WithProfile(profile string) Option {
	return func(c *Config) {
		c.Profile = profile
	}
}

// WithRateLimit sets the outbound request rate.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(c *Config) {
		c.RateLimit = limit
		c.Burst = burst
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.Timeout = timeout
	}
}

// WithHTTPClient replaces the shared HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) {
		c.HTTPClient = client
	}
}

// WithLogger sets the structured logger for the provider.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() *Config {
	return &Config{
		SearchRadiusMeters: 5000,
		MaxResults:         10,
		Language:           "en",
		Profile:            "foot-walking",
		RateLimit:          rate.Limit(1),
		Burst:              1,
		Timeout:            httpc.DefaultTimeout,
		HTTPClient:         httpc.Client,
		Logger:             slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return ErrNoAPIKey
	}
	return nil
}

func (c *Config) limiter() *rate.Limiter {
	if c.RateLimit <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := c.Burst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(c.RateLimit, burst)
}
