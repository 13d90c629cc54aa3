// Package tts synthesizes the server's spoken announcements.
//
// Devices can always fall back to their local speech engine, so synthesis is
// optional: when a provider is configured, speak messages carry the audio
// alongside the text. Providers share the Provider interface so they can be
// chained for fallback and cached.
//
// Example usage:
//
//	provider, _ := tts.NewGoogle(ctx, tts.WithAPIKey(os.Getenv("GOOGLE_API_KEY")))
//	defer provider.Close()
//
//	result, _ := provider.Synthesize(ctx, "Obstacle ahead.")
//	// result.Audio holds MP3 bytes
package tts

import (
	"context"
	"time"
)

// Provider defines the TTS provider interface.
type Provider interface {
	// Synthesize converts text to audio, returning the complete buffer.
	Synthesize(ctx context.Context, text string) (*AudioResult, error)

	// Health checks provider connectivity and credentials.
	Health(ctx context.Context) error

	// Close releases any resources held by the provider.
	Close() error
}

// AudioResult is a complete synthesis result.
type AudioResult struct {
	Audio []byte

	Encoding Encoding

	// CharCount is the number of characters synthesized.
	CharCount int

	// Latency is the provider round-trip time.
	Latency time.Duration

	// Provider names the provider that produced the audio.
	Provider string
}

// Encoding is an audio container the device can play directly.
type Encoding string

const (
	EncodingMP3      Encoding = "mp3"
	EncodingOggOpus  Encoding = "ogg_opus"
	EncodingLinear16 Encoding = "linear16"
)

// MIMEType returns the media type for the encoding.
func (e Encoding) MIMEType() string {
	switch e {
	case EncodingOggOpus:
		return "audio/ogg"
	case EncodingLinear16:
		return "audio/wav"
	default:
		return "audio/mpeg"
	}
}
