package speech

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	speechapi "google.golang.org/api/speech/v1"

	"github.com/teslashibe/go-smartstick/internal/gcp"
)

// DefaultSampleRate is the PCM16 rate devices are asked to record at.
const DefaultSampleRate = 16000

var (
	// ErrNoSpeech is returned when audio contains no recognizable speech.
	ErrNoSpeech = errors.New("speech: no speech recognized")

	// ErrEmptyAudio is returned when asked to recognize nothing.
	ErrEmptyAudio = errors.New("speech: empty audio")
)

// Transcript is a recognition result.
type Transcript struct {
	Text       string
	Confidence float64
	Latency    time.Duration
}

// Recognizer transcribes a complete PCM16 mono utterance.
type Recognizer interface {
	Recognize(ctx context.Context, pcm []int16, sampleRate int) (*Transcript, error)
}

// APIError is an error response from the recognition service.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("speech: API error %d: %s", e.StatusCode, e.Message)
}

// Config holds recognizer configuration.
type Config struct {
	APIKey       string
	BaseURL      string
	TokenSource  oauth2.TokenSource
	LanguageCode string
	Model        string

	// Phrases biases recognition towards the command vocabulary.
	Phrases []string

	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Option configures a recognizer.
type Option func(*Config)

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(c *Config) { c.APIKey = key }
}

// WithBaseURL overrides the service endpoint.
func WithBaseURL(url string) Option {
	return func(c *Config) { c.BaseURL = url }
}

// WithTokenSource sets OAuth2 credentials.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(c *Config) { c.TokenSource = ts }
}

// WithLanguage sets the BCP-47 language code.
func WithLanguage(code string) Option {
	return func(c *Config) { c.LanguageCode = code }
}

// WithPhrases replaces the phrase hints.
func WithPhrases(phrases ...string) Option {
	return func(c *Config) { c.Phrases = phrases }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) { c.HTTPClient = client }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

// DefaultConfig returns the recognizer defaults.
func DefaultConfig() *Config {
	return &Config{
		LanguageCode: "en-US",
		Model:        "command_and_search",
		Phrases: []string{
			"scan left", "scan right", "go forward", "help", "repeat",
			"navigate to", "take me to", "stop navigation", "where am I",
		},
		Timeout: 10 * time.Second,
		Logger:  slog.Default(),
	}
}

// Google transcribes utterances with Cloud Speech-to-Text.
type Google struct {
	config  *Config
	service *speechapi.Service
	logger  *slog.Logger
}

var _ Recognizer = (*Google)(nil)

// NewGoogle creates a Cloud Speech-to-Text recognizer.
func NewGoogle(ctx context.Context, opts ...Option) (*Google, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	clientOpts, err := gcp.ClientOptions(ctx, gcp.Credentials{
		APIKey:      cfg.APIKey,
		TokenSource: cfg.TokenSource,
		HTTPClient:  cfg.HTTPClient,
		Endpoint:    cfg.BaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("speech: %w", err)
	}
	svc, err := speechapi.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("speech: create service: %w", err)
	}

	return &Google{
		config:  cfg,
		service: svc,
		logger:  cfg.Logger.With("component", "speech.google"),
	}, nil
}

// Recognize sends one utterance for synchronous recognition and returns the
// best alternative.
func (g *Google) Recognize(ctx context.Context, pcm []int16, sampleRate int) (*Transcript, error) {
	if len(pcm) == 0 {
		return nil, ErrEmptyAudio
	}
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, g.config.Timeout)
	defer cancel()

	req := &speechapi.RecognizeRequest{
		Config: &speechapi.RecognitionConfig{
			Encoding:        "LINEAR16",
			SampleRateHertz: int64(sampleRate),
			LanguageCode:    g.config.LanguageCode,
			Model:           g.config.Model,
			MaxAlternatives: 1,
		},
		Audio: &speechapi.RecognitionAudio{
			Content: base64.StdEncoding.EncodeToString(EncodePCM16(pcm)),
		},
	}
	if len(g.config.Phrases) > 0 {
		req.Config.SpeechContexts = []*speechapi.SpeechContext{{Phrases: g.config.Phrases}}
	}

	resp, err := g.service.Speech.Recognize(req).Context(ctx).Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) {
			return nil, &APIError{StatusCode: gerr.Code, Message: gerr.Message}
		}
		return nil, fmt.Errorf("speech: recognize: %w", err)
	}

	var best *speechapi.SpeechRecognitionAlternative
	var parts []string
	for _, res := range resp.Results {
		if len(res.Alternatives) == 0 {
			continue
		}
		alt := res.Alternatives[0]
		parts = append(parts, strings.TrimSpace(alt.Transcript))
		if best == nil || alt.Confidence > best.Confidence {
			best = alt
		}
	}
	text := strings.TrimSpace(strings.Join(parts, " "))
	if text == "" {
		return nil, ErrNoSpeech
	}

	t := &Transcript{Text: text, Confidence: best.Confidence, Latency: time.Since(start)}
	g.logger.Debug("recognized utterance",
		"text", t.Text,
		"confidence", t.Confidence,
		"samples", len(pcm),
		"latency_ms", t.Latency.Milliseconds(),
	)
	return t, nil
}

// EncodePCM16 encodes samples as little-endian bytes.
func EncodePCM16(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[2*i] = byte(s)
		out[2*i+1] = byte(uint16(s) >> 8)
	}
	return out
}

// DecodePCM16 decodes little-endian bytes. A trailing odd byte is dropped.
func DecodePCM16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(uint16(b[2*i]) | uint16(b[2*i+1])<<8)
	}
	return out
}

// MockRecognizer implements Recognizer for tests.
type MockRecognizer struct {
	RecognizeFunc func(ctx context.Context, pcm []int16, sampleRate int) (*Transcript, error)

	mu    sync.Mutex
	calls int
}

var _ Recognizer = (*MockRecognizer)(nil)

// NewMockRecognizer returns a mock that always hears text.
func NewMockRecognizer(text string) *MockRecognizer {
	return &MockRecognizer{
		RecognizeFunc: func(ctx context.Context, pcm []int16, sampleRate int) (*Transcript, error) {
			return &Transcript{Text: text, Confidence: 1}, nil
		},
	}
}

// Recognize calls RecognizeFunc.
func (m *MockRecognizer) Recognize(ctx context.Context, pcm []int16, sampleRate int) (*Transcript, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.RecognizeFunc != nil {
		return m.RecognizeFunc(ctx, pcm, sampleRate)
	}
	return nil, ErrNoSpeech
}

// Calls returns the number of Recognize calls.
func (m *MockRecognizer) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
