package tts

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/api/googleapi"
	texttospeech "google.golang.org/api/texttospeech/v1"

	"github.com/teslashibe/go-smartstick/internal/gcp"
)

const providerGoogle = "google"

// Google implements Provider using Cloud Text-to-Speech.
type Google struct {
	config  *Config
	service *texttospeech.Service
	logger  *slog.Logger
}

var _ Provider = (*Google)(nil)

// NewGoogle creates a Cloud Text-to-Speech provider. It authenticates with
// the API key when set, otherwise with the token source or Application
// Default Credentials.
func NewGoogle(ctx context.Context, opts ...Option) (*Google, error) {
	cfg := DefaultConfig()
	cfg.Voice = "en-US-Neural2-F"
	cfg.Apply(opts...)

	clientOpts, err := gcp.ClientOptions(ctx, gcp.Credentials{
		APIKey:      cfg.APIKey,
		TokenSource: cfg.TokenSource,
		HTTPClient:  cfg.HTTPClient,
		Endpoint:    cfg.BaseURL,
	})
	if err != nil {
		return nil, WrapError(providerGoogle, err)
	}

	svc, err := texttospeech.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, WrapError(providerGoogle, fmt.Errorf("create service: %w", err))
	}

	return &Google{
		config:  cfg,
		service: svc,
		logger:  cfg.Logger.With("component", "tts.google"),
	}, nil
}

// Synthesize converts text to audio in the configured encoding.
func (g *Google) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, g.config.Timeout)
	defer cancel()

	req := &texttospeech.SynthesizeSpeechRequest{
		Input: &texttospeech.SynthesisInput{Text: text},
		Voice: &texttospeech.VoiceSelectionParams{
			LanguageCode: g.config.LanguageCode,
			Name:         g.config.Voice,
		},
		AudioConfig: &texttospeech.AudioConfig{
			AudioEncoding: googleEncoding(g.config.Encoding),
			SpeakingRate:  g.config.SpeakingRate,
		},
	}

	resp, err := g.service.Text.Synthesize(req).Context(ctx).Do()
	if err != nil {
		return nil, g.convertError(err)
	}

	audio, err := base64.StdEncoding.DecodeString(resp.AudioContent)
	if err != nil {
		return nil, WrapError(providerGoogle, fmt.Errorf("decode audio: %w", err))
	}
	if len(audio) == 0 {
		return nil, WrapError(providerGoogle, ErrEmptyAudio)
	}

	latency := time.Since(start)
	g.logger.Debug("synthesized audio",
		"chars", len(text),
		"bytes", len(audio),
		"latency_ms", latency.Milliseconds(),
		"voice", g.config.Voice,
	)

	return &AudioResult{
		Audio:     audio,
		Encoding:  g.config.Encoding,
		CharCount: len(text),
		Latency:   latency,
		Provider:  providerGoogle,
	}, nil
}

// Health lists voices for the configured language.
func (g *Google) Health(ctx context.Context) error {
	_, err := g.service.Voices.List().LanguageCode(g.config.LanguageCode).Context(ctx).Do()
	if err != nil {
		return g.convertError(err)
	}
	return nil
}

// Close releases resources.
func (g *Google) Close() error {
	return nil
}

func (g *Google) convertError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return &APIError{
			StatusCode: gerr.Code,
			Message:    gerr.Message,
			Provider:   providerGoogle,
		}
	}
	return WrapError(providerGoogle, err)
}

func googleEncoding(enc Encoding) string {
	switch enc {
	case EncodingOggOpus:
		return "OGG_OPUS"
	case EncodingLinear16:
		return "LINEAR16"
	default:
		return "MP3"
	}
}
