package tts_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-smartstick/internal/log"
	"github.com/teslashibe/go-smartstick/pkg/tts"
)

func TestMockProvider(t *testing.T) {
	mock := tts.NewMock()
	ctx := context.Background()

	t.Run("Synthesize returns audio", func(t *testing.T) {
		result, err := mock.Synthesize(ctx, "Hello world")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(result.Audio) == 0 {
			t.Error("expected audio data")
		}
		if result.CharCount != 11 {
			t.Errorf("expected 11 chars, got %d", result.CharCount)
		}
		if result.Encoding != tts.EncodingMP3 {
			t.Errorf("expected mp3, got %s", result.Encoding)
		}
	})

	t.Run("Health returns nil", func(t *testing.T) {
		if err := mock.Health(ctx); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("Calls are tracked", func(t *testing.T) {
		if got := len(mock.Calls()); got != 2 {
			t.Errorf("expected 2 calls, got %d", got)
		}
		if mock.CallCount("Synthesize") != 1 {
			t.Errorf("expected 1 Synthesize call, got %d", mock.CallCount("Synthesize"))
		}
		last := mock.LastCall()
		if last == nil || last.Method != "Health" {
			t.Errorf("expected last call Health, got %+v", last)
		}
	})

	t.Run("Reset clears calls", func(t *testing.T) {
		mock.Reset()
		if len(mock.Calls()) != 0 {
			t.Error("expected no calls after reset")
		}
	})
}

func TestMockWithError(t *testing.T) {
	boom := errors.New("boom")
	mock := tts.WithError(boom)

	_, err := mock.Synthesize(context.Background(), "x")
	if !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
	if err := mock.Health(context.Background()); !errors.Is(err, boom) {
		t.Errorf("expected boom from Health, got %v", err)
	}
}

func TestConfigValidation(t *testing.T) {
	cfg := tts.DefaultConfig()
	if err := cfg.Validate(); !errors.Is(err, tts.ErrNoAPIKey) {
		t.Errorf("expected ErrNoAPIKey, got %v", err)
	}

	cfg.Apply(tts.WithAPIKey("k"), tts.WithVoice("v"), tts.WithSpeakingRate(1.2), tts.WithRetry(4, time.Second))
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if cfg.Voice != "v" || cfg.SpeakingRate != 1.2 || cfg.MaxRetries != 4 || cfg.RetryDelay != time.Second {
		t.Errorf("options not applied: %+v", cfg)
	}
}

func TestEncodingMIMEType(t *testing.T) {
	tests := []struct {
		enc  tts.Encoding
		want string
	}{
		{tts.EncodingMP3, "audio/mpeg"},
		{tts.EncodingOggOpus, "audio/ogg"},
		{tts.EncodingLinear16, "audio/wav"},
	}
	for _, tt := range tests {
		t.Run(string(tt.enc), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.enc.MIMEType())
		})
	}
}

func TestAPIError(t *testing.T) {
	tests := []struct {
		status      int
		rateLimited bool
		server      bool
		retryable   bool
	}{
		{429, true, false, true},
		{500, false, true, true},
		{503, false, true, true},
		{401, false, false, false},
		{400, false, false, false},
	}
	for _, tt := range tests {
		err := &tts.APIError{StatusCode: tt.status, Message: "m", Provider: "p"}
		assert.Equal(t, tt.rateLimited, err.IsRateLimited(), "status %d", tt.status)
		assert.Equal(t, tt.server, err.IsServerError(), "status %d", tt.status)
		assert.Equal(t, tt.retryable, err.IsRetryable(), "status %d", tt.status)
	}

	withCode := &tts.APIError{StatusCode: 400, Message: "bad", Code: "invalid", Provider: "openai"}
	assert.Equal(t, "tts [openai]: API error 400 (invalid): bad", withCode.Error())
}

func TestProviderError(t *testing.T) {
	assert.Nil(t, tts.WrapError("x", nil))

	err := tts.WrapError("google", tts.ErrEmptyAudio)
	assert.ErrorIs(t, err, tts.ErrEmptyAudio)
	assert.Equal(t, "tts [google]: tts: provider returned no audio", err.Error())
}

func TestChain(t *testing.T) {
	ctx := context.Background()
	logger := log.Discard()

	t.Run("requires a provider", func(t *testing.T) {
		_, err := tts.NewChain(logger)
		assert.ErrorIs(t, err, tts.ErrProviderUnavailable)
	})

	t.Run("falls back to the next provider", func(t *testing.T) {
		failing := tts.WithError(errors.New("down"))
		working := tts.NewMock()
		chain, err := tts.NewChain(logger, failing, working)
		require.NoError(t, err)

		result, err := chain.Synthesize(ctx, "Path clear.")
		require.NoError(t, err)
		assert.Equal(t, "mock", result.Provider)
		assert.Equal(t, 1, failing.CallCount("Synthesize"))
		assert.Equal(t, 1, working.CallCount("Synthesize"))
	})

	t.Run("aggregates errors", func(t *testing.T) {
		first := errors.New("first")
		second := errors.New("second")
		chain, err := tts.NewChain(logger, tts.WithError(first), tts.WithError(second))
		require.NoError(t, err)

		_, err = chain.Synthesize(ctx, "x")
		var chainErr *tts.ChainError
		require.ErrorAs(t, err, &chainErr)
		assert.Len(t, chainErr.Errors, 2)
		assert.ErrorIs(t, err, first)
		assert.ErrorIs(t, err, second)
	})

	t.Run("healthy if any provider is", func(t *testing.T) {
		chain, err := tts.NewChain(logger, tts.WithError(errors.New("down")), tts.NewMock())
		require.NoError(t, err)
		assert.NoError(t, chain.Health(ctx))
	})
}

func TestCache(t *testing.T) {
	ctx := context.Background()
	mock := tts.NewMock()
	cache := tts.NewCache(mock, 2)

	_, err := cache.Synthesize(ctx, "a")
	require.NoError(t, err)
	_, err = cache.Synthesize(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, mock.CallCount("Synthesize"))

	_, _ = cache.Synthesize(ctx, "b")
	_, _ = cache.Synthesize(ctx, "c") // evicts a
	_, _ = cache.Synthesize(ctx, "a")
	assert.Equal(t, 4, mock.CallCount("Synthesize"))

	hits, misses := cache.Stats()
	assert.Equal(t, uint64(1), hits)
	assert.Equal(t, uint64(4), misses)

	t.Run("failures are not cached", func(t *testing.T) {
		failing := tts.WithError(errors.New("down"))
		c := tts.NewCache(failing, 4)
		_, err := c.Synthesize(ctx, "x")
		assert.Error(t, err)
		_, err = c.Synthesize(ctx, "x")
		assert.Error(t, err)
		assert.Equal(t, 2, failing.CallCount("Synthesize"))
	})
}

func TestOpenAI(t *testing.T) {
	ctx := context.Background()

	t.Run("requires an API key", func(t *testing.T) {
		_, err := tts.NewOpenAI()
		assert.ErrorIs(t, err, tts.ErrNoAPIKey)
	})

	t.Run("synthesizes mp3", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/audio/speech", r.URL.Path)
			assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

			var body map[string]any
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "Obstacle ahead.", body["input"])
			assert.Equal(t, "tts-1", body["model"])
			assert.Equal(t, "mp3", body["response_format"])

			w.Header().Set("Content-Type", "audio/mpeg")
			_, _ = w.Write([]byte("ID3audio"))
		}))
		defer srv.Close()

		p, err := tts.NewOpenAI(tts.WithAPIKey("secret"), tts.WithBaseURL(srv.URL), tts.WithLogger(log.Discard()))
		require.NoError(t, err)
		defer p.Close()

		result, err := p.Synthesize(ctx, "Obstacle ahead.")
		require.NoError(t, err)
		assert.Equal(t, []byte("ID3audio"), result.Audio)
		assert.Equal(t, tts.EncodingMP3, result.Encoding)
		assert.Equal(t, "openai", result.Provider)
	})

	t.Run("retries server errors", func(t *testing.T) {
		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if hits.Add(1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte("ok"))
		}))
		defer srv.Close()

		p, err := tts.NewOpenAI(
			tts.WithAPIKey("k"),
			tts.WithBaseURL(srv.URL),
			tts.WithRetry(2, time.Millisecond),
			tts.WithLogger(log.Discard()),
		)
		require.NoError(t, err)

		_, err = p.Synthesize(ctx, "hi")
		require.NoError(t, err)
		assert.Equal(t, int32(2), hits.Load())
	})

	t.Run("does not retry client errors", func(t *testing.T) {
		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"message":"bad key","code":"invalid_api_key"}}`))
		}))
		defer srv.Close()

		p, err := tts.NewOpenAI(tts.WithAPIKey("k"), tts.WithBaseURL(srv.URL), tts.WithLogger(log.Discard()))
		require.NoError(t, err)

		_, err = p.Synthesize(ctx, "hi")
		var apiErr *tts.APIError
		require.ErrorAs(t, err, &apiErr)
		assert.True(t, apiErr.IsUnauthorized())
		assert.Equal(t, "bad key", apiErr.Message)
		assert.Equal(t, int32(1), hits.Load())
	})

	t.Run("rejects empty text", func(t *testing.T) {
		p, err := tts.NewOpenAI(tts.WithAPIKey("k"))
		require.NoError(t, err)
		_, err = p.Synthesize(ctx, "  ")
		assert.ErrorIs(t, err, tts.ErrEmptyText)
	})
}

func TestGoogle(t *testing.T) {
	ctx := context.Background()

	t.Run("decodes audio content", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/v1/text:synthesize", r.URL.Path)

			var body struct {
				Input struct {
					Text string `json:"text"`
				} `json:"input"`
				Voice struct {
					LanguageCode string `json:"languageCode"`
				} `json:"voice"`
				AudioConfig struct {
					AudioEncoding string `json:"audioEncoding"`
				} `json:"audioConfig"`
			}
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "Path clear. Go forward.", body.Input.Text)
			assert.Equal(t, "en-US", body.Voice.LanguageCode)
			assert.Equal(t, "MP3", body.AudioConfig.AudioEncoding)

			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]string{
				"audioContent": base64.StdEncoding.EncodeToString([]byte("mp3bytes")),
			})
		}))
		defer srv.Close()

		p, err := tts.NewGoogle(ctx,
			tts.WithHTTPClient(srv.Client()),
			tts.WithBaseURL(srv.URL+"/"),
			tts.WithLogger(log.Discard()),
		)
		require.NoError(t, err)

		result, err := p.Synthesize(ctx, "Path clear. Go forward.")
		require.NoError(t, err)
		assert.Equal(t, []byte("mp3bytes"), result.Audio)
		assert.Equal(t, "google", result.Provider)
	})

	t.Run("maps API errors", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error":{"code":403,"message":"API key not valid"}}`))
		}))
		defer srv.Close()

		p, err := tts.NewGoogle(ctx,
			tts.WithHTTPClient(srv.Client()),
			tts.WithBaseURL(srv.URL+"/"),
			tts.WithLogger(log.Discard()),
		)
		require.NoError(t, err)

		_, err = p.Synthesize(ctx, "hi")
		var apiErr *tts.APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, 403, apiErr.StatusCode)
		assert.Equal(t, "API key not valid", apiErr.Message)
	})
}
