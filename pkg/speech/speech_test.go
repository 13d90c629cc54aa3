package speech_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-smartstick/internal/log"
	"github.com/teslashibe/go-smartstick/pkg/speech"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in   string
		kind speech.CommandKind
		dest string
	}{
		{"Scan left", speech.CommandScanLeft, ""},
		{"please SCAN RIGHT!", speech.CommandScanRight, ""},
		{"go forward", speech.CommandGoForward, ""},
		{"Help!", speech.CommandHelp, ""},
		{"can you repeat that", speech.CommandRepeat, ""},
		{"Navigate to Central Station", speech.CommandNavigate, "central station"},
		{"take me to the pharmacy, please", speech.CommandNavigate, "the pharmacy"},
		{"go to main street", speech.CommandNavigate, "main street"},
		{"navigate to", speech.CommandUnknown, ""},
		{"stop navigation", speech.CommandStopNavigation, ""},
		{"Where am I?", speech.CommandWhereAmI, ""},
		{"what's next", speech.CommandWhereAmI, ""},
		{"Where am I exactly?", speech.CommandEmergency, ""},
		{"emergency, I need help", speech.CommandEmergency, ""},
		{"share my location", speech.CommandEmergency, ""},
		{"hello there", speech.CommandUnknown, ""},
		{"", speech.CommandUnknown, ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			cmd := speech.ParseCommand(tt.in)
			assert.Equal(t, tt.kind, cmd.Kind)
			assert.Equal(t, tt.dest, cmd.Destination)
		})
	}
}

func TestCommandReply(t *testing.T) {
	assert.Equal(t, "Scanning left. Please move your camera to the left.", speech.ParseCommand("scan left").Reply())
	assert.Equal(t, "Scanning right. Please move your camera to the right.", speech.ParseCommand("scan right").Reply())
	assert.Equal(t, "Moving forward. Please proceed.", speech.ParseCommand("go forward").Reply())
	assert.Equal(t, "Emergency help activated.", speech.ParseCommand("help").Reply())
	assert.Empty(t, speech.ParseCommand("repeat").Reply())
	assert.Empty(t, speech.ParseCommand("emergency").Reply())
}

func TestPCM16RoundTrip(t *testing.T) {
	in := []int16{0, 1, -1, 32767, -32768, 1234}
	b := speech.EncodePCM16(in)
	assert.Equal(t, []byte{0x01, 0x00}, b[2:4])
	assert.Equal(t, in, speech.DecodePCM16(b))
	assert.Len(t, speech.DecodePCM16([]byte{1, 2, 3}), 1)
}

const rate = 16000

func silence(ms int) []int16 {
	return make([]int16, rate*ms/1000)
}

func tone(ms int) []int16 {
	out := make([]int16, rate*ms/1000)
	for i := range out {
		out[i] = int16(0.5 * 32767 * math.Sin(2*math.Pi*440*float64(i)/rate))
	}
	return out
}

func concat(parts ...[]int16) []int16 {
	var out []int16
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func TestSegmenter(t *testing.T) {
	t.Run("splits an utterance surrounded by silence", func(t *testing.T) {
		seg := speech.NewSegmenter(rate)
		utts := seg.Feed(concat(silence(200), tone(500), silence(600)))
		require.Len(t, utts, 1)
		assert.Equal(t, rate/2, len(utts[0]))
		assert.False(t, seg.Active())
	})

	t.Run("accepts audio in small chunks", func(t *testing.T) {
		seg := speech.NewSegmenter(rate)
		stream := concat(silence(100), tone(300), silence(500), tone(300), silence(500))
		var utts [][]int16
		for i := 0; i < len(stream); i += 37 {
			end := min(i+37, len(stream))
			utts = append(utts, seg.Feed(stream[i:end])...)
		}
		assert.Len(t, utts, 2)
	})

	t.Run("flush returns speech in progress", func(t *testing.T) {
		seg := speech.NewSegmenter(rate)
		assert.Empty(t, seg.Feed(concat(silence(100), tone(300))))
		assert.True(t, seg.Active())
		u := seg.Flush()
		assert.NotEmpty(t, u)
		assert.False(t, seg.Active())
		assert.Nil(t, seg.Flush())
	})

	t.Run("silence yields nothing", func(t *testing.T) {
		assert.False(t, speech.HasSpeech(silence(1000), rate))
		assert.True(t, speech.HasSpeech(concat(silence(100), tone(200)), rate))
	})

	t.Run("short clicks do not trigger", func(t *testing.T) {
		assert.False(t, speech.HasSpeech(concat(silence(100), tone(20), silence(100)), rate))
	})
}

func TestGoogleRecognizer(t *testing.T) {
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/speech:recognize", r.URL.Path)

		var body struct {
			Config struct {
				Encoding        string `json:"encoding"`
				SampleRateHertz int    `json:"sampleRateHertz"`
				LanguageCode    string `json:"languageCode"`
			} `json:"config"`
			Audio struct {
				Content string `json:"content"`
			} `json:"audio"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "LINEAR16", body.Config.Encoding)
		assert.Equal(t, rate, body.Config.SampleRateHertz)
		assert.Equal(t, "en-US", body.Config.LanguageCode)
		raw, err := base64.StdEncoding.DecodeString(body.Audio.Content)
		assert.NoError(t, err)
		assert.Len(t, raw, 8)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[{"alternatives":[{"transcript":"take me to the park","confidence":0.92}]}]}`))
	}))
	defer srv.Close()

	rec, err := speech.NewGoogle(ctx,
		speech.WithHTTPClient(srv.Client()),
		speech.WithBaseURL(srv.URL+"/"),
		speech.WithLogger(log.Discard()),
	)
	require.NoError(t, err)

	tr, err := rec.Recognize(ctx, []int16{1, 2, 3, 4}, rate)
	require.NoError(t, err)
	assert.Equal(t, "take me to the park", tr.Text)
	assert.InDelta(t, 0.92, tr.Confidence, 1e-9)

	_, err = rec.Recognize(ctx, nil, rate)
	assert.ErrorIs(t, err, speech.ErrEmptyAudio)
}

func TestGoogleRecognizerNoSpeech(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	rec, err := speech.NewGoogle(ctx, speech.WithHTTPClient(srv.Client()), speech.WithBaseURL(srv.URL+"/"))
	require.NoError(t, err)

	_, err = rec.Recognize(ctx, []int16{1}, rate)
	assert.ErrorIs(t, err, speech.ErrNoSpeech)
}

func TestGoogleRecognizerAPIError(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":400,"message":"bad audio"}}`))
	}))
	defer srv.Close()

	rec, err := speech.NewGoogle(ctx, speech.WithHTTPClient(srv.Client()), speech.WithBaseURL(srv.URL+"/"))
	require.NoError(t, err)

	_, err = rec.Recognize(ctx, []int16{1}, rate)
	var apiErr *speech.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 400, apiErr.StatusCode)
}
