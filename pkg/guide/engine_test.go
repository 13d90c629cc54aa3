package guide_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-smartstick/internal/log"
	"github.com/teslashibe/go-smartstick/pkg/alert"
	"github.com/teslashibe/go-smartstick/pkg/guide"
	"github.com/teslashibe/go-smartstick/pkg/maps"
	"github.com/teslashibe/go-smartstick/pkg/navigation"
	"github.com/teslashibe/go-smartstick/pkg/route"
	"github.com/teslashibe/go-smartstick/pkg/speech"
	"github.com/teslashibe/go-smartstick/pkg/vision"
)

var origin = route.Coordinate{Lat: 52.5200, Lon: 13.4050}

func north(c route.Coordinate, meters float64) route.Coordinate {
	return route.Coordinate{Lat: c.Lat + meters/route.MetersPerDegree, Lon: c.Lon}
}

type fixture struct {
	engine   *guide.Engine
	sink     *alert.MockSink
	location *navigation.MockLocation
	renderer *navigation.MockRenderer
	maps     *maps.Mock
}

func newFixture(t *testing.T, opts ...guide.Option) *fixture {
	t.Helper()
	f := &fixture{
		sink:     alert.NewMockSink(),
		location: navigation.NewMockLocation(origin),
		renderer: &navigation.MockRenderer{},
		maps:     maps.NewMock(),
	}
	opts = append([]guide.Option{guide.WithLogger(log.Discard())}, opts...)
	e, err := guide.NewEngine("dev-1", guide.Deps{
		Sink:       f.sink,
		Location:   f.location,
		Renderer:   f.renderer,
		Geocoder:   f.maps,
		Directions: f.maps,
	}, opts...)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	f.engine = e
	return f
}

func det(class string, x, w float64) vision.Detection {
	return vision.Detection{Class: class, Box: vision.BoundingBox{X: x, Y: 10, Width: w, Height: 50}}
}

func TestNewEngineValidates(t *testing.T) {
	_, err := guide.NewEngine("x", guide.Deps{})
	assert.Error(t, err)

	bad := vision.DefaultCalibration()
	bad.MinDistance = 10
	_, err = guide.NewEngine("x", guide.Deps{Sink: alert.NewMockSink()}, guide.WithCalibration(bad))
	assert.Error(t, err)
}

func TestWelcome(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engine.Welcome(context.Background()))
	require.Len(t, f.sink.Spoken(), 1)
	assert.Contains(t, f.sink.Spoken()[0], "Welcome to Smart Stick App.")

	quiet := newFixture(t, guide.WithTutorial(""))
	require.NoError(t, quiet.engine.Welcome(context.Background()))
	assert.Empty(t, quiet.sink.Spoken())
}

func TestHandleFrame(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, guide.WithAlertOptions(alert.WithSiren(true)))

	// car spanning the center, width 40 → 2.0 m
	_, ok := f.engine.HandleFrame(ctx, []vision.Detection{det("car", 140, 40)}, 320)
	require.True(t, ok)
	assert.Equal(t, []string{"Caution! Vehicle or traffic detected. car detected, 2.0 meters ahead."}, f.sink.Spoken())
	assert.Equal(t, 1, f.sink.Alarms())

	// hazards repeat every frame
	_, ok = f.engine.HandleFrame(ctx, []vision.Detection{det("car", 140, 40)}, 320)
	assert.True(t, ok)

	// a bench on the left is announced once
	f.sink.Reset()
	_, ok = f.engine.HandleFrame(ctx, []vision.Detection{det("bench", 0, 50)}, 320)
	require.True(t, ok)
	_, ok = f.engine.HandleFrame(ctx, []vision.Detection{det("bench", 0, 50)}, 320)
	assert.False(t, ok)
	assert.Equal(t, []string{"Obstacle left. Move right. bench detected, 1.6 meters ahead."}, f.sink.Spoken())

	// empty frame clears once
	_, ok = f.engine.HandleFrame(ctx, nil, 320)
	assert.True(t, ok)
	_, ok = f.engine.HandleFrame(ctx, nil, 320)
	assert.False(t, ok)
	assert.Equal(t, "Path is now clear. You can move forward.", f.engine.LastMessage())
}

func TestHandleFrameTracking(t *testing.T) {
	var mu sync.Mutex
	var seen [][]vision.Track
	f := newFixture(t,
		guide.WithTracking(vision.DefaultTrackerConfig()),
		guide.WithHooks(guide.Hooks{
			OnFrame: func(_ vision.FrameAnalysis, tracks []vision.Track) {
				mu.Lock()
				seen = append(seen, tracks)
				mu.Unlock()
			},
		}),
	)
	ctx := context.Background()
	f.engine.HandleFrame(ctx, []vision.Detection{det("person", 100, 40)}, 320)
	f.engine.HandleFrame(ctx, []vision.Detection{det("person", 98, 48)}, 320)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	require.Len(t, seen[1], 1)
	assert.Equal(t, seen[0][0].ID, seen[1][0].ID)
	assert.True(t, seen[1][0].Approaching)
}

func TestHandleCommand(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		transcript string
		spoken     string
		alarms     int
	}{
		{"scan left", speech.ReplyScanLeft, 0},
		{"Scan right please", speech.ReplyScanRight, 0},
		{"go forward", speech.ReplyGoForward, 0},
		{"help", speech.ReplyHelp, 1},
	}
	for _, tt := range tests {
		t.Run(tt.transcript, func(t *testing.T) {
			f := newFixture(t)
			f.engine.HandleCommand(ctx, tt.transcript)
			assert.Equal(t, []string{tt.spoken}, f.sink.Spoken())
			assert.Equal(t, tt.alarms, f.sink.Alarms())
		})
	}

	t.Run("help vibrates strongly", func(t *testing.T) {
		f := newFixture(t)
		f.engine.HandleCommand(ctx, "help")
		assert.Equal(t, []alert.Pattern{alert.PatternStrong}, f.sink.Patterns())
	})

	t.Run("repeat", func(t *testing.T) {
		f := newFixture(t)
		f.engine.HandleCommand(ctx, "repeat")
		assert.Empty(t, f.sink.Spoken())

		f.engine.HandleCommand(ctx, "scan left")
		f.engine.HandleCommand(ctx, "repeat")
		assert.Equal(t, []string{speech.ReplyScanLeft, speech.ReplyScanLeft}, f.sink.Spoken())
	})

	t.Run("unknown is ignored", func(t *testing.T) {
		f := newFixture(t)
		cmd := f.engine.HandleCommand(ctx, "what a nice day")
		assert.Equal(t, speech.CommandUnknown, cmd.Kind)
		assert.Empty(t, f.sink.Spoken())
	})

	t.Run("stop without navigation", func(t *testing.T) {
		f := newFixture(t)
		f.engine.HandleCommand(ctx, "stop navigation")
		assert.Equal(t, []string{"You are not navigating."}, f.sink.Spoken())
	})
}

func TestNavigateByVoice(t *testing.T) {
	f := newFixture(t)
	dest := north(origin, 200)
	f.maps.SearchFunc = func(ctx context.Context, text string, near route.Coordinate) ([]maps.Candidate, error) {
		assert.Equal(t, "the park", text)
		return []maps.Candidate{{Name: "The Park", Position: dest}}, nil
	}
	idx := 1
	f.maps.RouteFunc = func(ctx context.Context, o, d route.Coordinate) (*maps.Route, error) {
		return &maps.Route{
			Steps:          []route.RawStep{{Instruction: "Head north", WaypointIndex: &idx}},
			Geometry:       []route.Coordinate{o, north(o, 100), d},
			DistanceMeters: 200,
		}, nil
	}

	cmd := f.engine.HandleCommand(context.Background(), "Take me to the park")
	assert.Equal(t, speech.CommandNavigate, cmd.Kind)

	require.Eventually(t, func() bool { return f.engine.Status().Active && f.location.Subscribers() == 1 },
		time.Second, 5*time.Millisecond)

	f.location.Emit(north(origin, 95))
	f.location.Emit(dest)

	spoken := f.sink.Spoken()
	require.Len(t, spoken, 3)
	assert.Equal(t, "Route to The Park found. 1 steps, about 200 meters. First, Head north", spoken[0])
	assert.Equal(t, "Head north", spoken[1])
	assert.Equal(t, "You have arrived at your destination.", spoken[2])
}

func TestNavigationFailureKeepsObstacleAlerts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.maps.SearchFunc = func(ctx context.Context, text string, near route.Coordinate) ([]maps.Candidate, error) {
		return nil, &maps.APIError{StatusCode: 503, Provider: "nominatim"}
	}

	_, err := f.engine.NavigateSync(ctx, "anywhere")
	require.Error(t, err)

	_, ok := f.engine.HandleFrame(ctx, []vision.Detection{det("bench", 250, 40)}, 320)
	assert.True(t, ok)
	assert.Equal(t, []string{
		"Navigation failed. Please try again.",
		"Obstacle right. Move left. bench detected, 2.0 meters ahead.",
	}, f.sink.Spoken())
}

func TestHandleSensor(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.engine.HandleSensor(ctx, guide.SensorLocation, false, "denied")
	f.engine.HandleSensor(ctx, guide.SensorLocation, false, "denied")
	assert.Equal(t, []string{"Location is unavailable. Please enable location services."}, f.sink.Spoken())

	f.engine.HandleSensor(ctx, guide.SensorLocation, true, "")
	f.engine.HandleSensor(ctx, guide.SensorLocation, false, "lost")
	assert.Len(t, f.sink.Spoken(), 2)

	t.Run("frames mean the camera recovered", func(t *testing.T) {
		f.sink.Reset()
		f.engine.HandleSensor(ctx, guide.SensorCamera, false, "")
		f.engine.HandleFrame(ctx, nil, 320)
		f.engine.HandleSensor(ctx, guide.SensorCamera, false, "")
		assert.Len(t, f.sink.Spoken(), 2)
	})

	t.Run("unknown sensor", func(t *testing.T) {
		f.sink.Reset()
		f.engine.HandleSensor(ctx, "compass", false, "")
		assert.Equal(t, []string{"The compass is unavailable."}, f.sink.Spoken())
	})
}

func tone(ms int) []int16 {
	out := make([]int16, speech.DefaultSampleRate*ms/1000)
	for i := range out {
		out[i] = int16(16000 * math.Sin(2*math.Pi*300*float64(i)/speech.DefaultSampleRate))
	}
	return out
}

func TestHandleVoice(t *testing.T) {
	t.Run("requires a recognizer", func(t *testing.T) {
		f := newFixture(t)
		assert.ErrorIs(t, f.engine.HandleVoice(tone(100), 0, true), guide.ErrNoRecognizer)
	})

	t.Run("transcribes utterances into commands", func(t *testing.T) {
		rec := speech.NewMockRecognizer("scan right")
		f := newFixture(t, guide.WithRecognizer(rec))

		silence := make([]int16, speech.DefaultSampleRate/10)
		require.NoError(t, f.engine.HandleVoice(append(silence, tone(400)...), 0, false))
		require.NoError(t, f.engine.HandleVoice(silence, 0, true))

		require.Eventually(t, func() bool { return len(f.sink.Spoken()) == 1 }, time.Second, 5*time.Millisecond)
		assert.Equal(t, speech.ReplyScanRight, f.sink.Spoken()[0])
		assert.Equal(t, 1, rec.Calls())
	})

	t.Run("silence is not sent", func(t *testing.T) {
		rec := speech.NewMockRecognizer("help")
		f := newFixture(t, guide.WithRecognizer(rec))
		require.NoError(t, f.engine.HandleVoice(make([]int16, 8000), 0, true))
		f.engine.Close()
		assert.Equal(t, 0, rec.Calls())
	})

	t.Run("recognizer errors are dropped", func(t *testing.T) {
		rec := &speech.MockRecognizer{RecognizeFunc: func(context.Context, []int16, int) (*speech.Transcript, error) {
			return nil, errors.New("boom")
		}}
		f := newFixture(t, guide.WithRecognizer(rec))
		require.NoError(t, f.engine.HandleVoice(tone(300), 0, true))
		f.engine.Close()
		assert.Equal(t, 1, rec.Calls())
		assert.Empty(t, f.sink.Spoken())
	})
}

func TestClosedEngine(t *testing.T) {
	f := newFixture(t)
	f.engine.Close()
	assert.ErrorIs(t, f.engine.Navigate("park"), guide.ErrClosed)
	assert.ErrorIs(t, f.engine.Emergency(), guide.ErrClosed)
}

func TestCloseRacesBackgroundWork(t *testing.T) {
	f := newFixture(t)
	f.maps.SearchFunc = func(ctx context.Context, text string, near route.Coordinate) ([]maps.Candidate, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if err := f.engine.Navigate("the park"); err != nil {
					assert.ErrorIs(t, err, guide.ErrClosed)
					return
				}
			}
		}()
	}

	f.engine.Close()
	wg.Wait()
	assert.ErrorIs(t, f.engine.Navigate("the park"), guide.ErrClosed)
}

func TestSlowSpeechDoesNotDelayHazards(t *testing.T) {
	f := newFixture(t, guide.WithAlertOptions(alert.WithSiren(true)))
	release := make(chan struct{})
	started := make(chan struct{})
	f.sink.SpeakHook = func(ctx context.Context, text string) {
		if text == "You are not navigating." {
			close(started)
			<-release
		}
	}
	defer close(release)

	go f.engine.HandleCommand(context.Background(), "stop navigation")
	<-started

	start := time.Now()
	_, ok := f.engine.HandleFrame(context.Background(), []vision.Detection{det("car", 140, 40)}, 320)
	require.True(t, ok)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, []string{"Caution! Vehicle or traffic detected. car detected, 2.0 meters ahead."}, f.sink.Spoken())
	assert.Equal(t, 1, f.sink.Alarms())
}

func TestEmergency(t *testing.T) {
	ctx := context.Background()

	t.Run("speaks coordinates and shares a maps link", func(t *testing.T) {
		var reports []guide.EmergencyReport
		var mu sync.Mutex
		f := newFixture(t, guide.WithHooks(guide.Hooks{
			OnEmergency: func(r guide.EmergencyReport) {
				mu.Lock()
				reports = append(reports, r)
				mu.Unlock()
			},
		}))

		report, err := f.engine.EmergencySync(ctx)
		require.NoError(t, err)
		assert.Equal(t, origin, report.Position)
		assert.Equal(t, "https://maps.google.com/?q=52.520000,13.405000", report.MapsURL)
		assert.Equal(t, []string{"Emergency! Your location is latitude 52.520000, longitude 13.405000."}, f.sink.Spoken())
		assert.Equal(t, []alert.Pattern{alert.PatternStrong}, f.sink.Patterns())

		mu.Lock()
		defer mu.Unlock()
		require.Len(t, reports, 1)
		assert.Equal(t, report.MapsURL, reports[0].MapsURL)
	})

	t.Run("without a fix", func(t *testing.T) {
		f := newFixture(t)
		f.location.CurrentFunc = func(ctx context.Context) (navigation.Sample, error) {
			return navigation.Sample{}, navigation.ErrNoPosition
		}
		_, err := f.engine.EmergencySync(ctx)
		assert.ErrorIs(t, err, navigation.ErrNoPosition)
		assert.Equal(t, []string{guide.EmergencyNoLocation}, f.sink.Spoken())
	})

	t.Run("by voice", func(t *testing.T) {
		f := newFixture(t)
		cmd := f.engine.HandleCommand(ctx, "Where am I exactly?")
		assert.Equal(t, speech.CommandEmergency, cmd.Kind)
		require.Eventually(t, func() bool { return len(f.sink.Spoken()) == 1 }, time.Second, 5*time.Millisecond)
		assert.Contains(t, f.sink.Spoken()[0], "Emergency! Your location is latitude 52.520000")
	})
}

func TestHandleBattery(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.engine.HandleBattery(ctx, 0.5, false)
	assert.Empty(t, f.sink.Spoken())

	f.engine.HandleBattery(ctx, 0.2, false)
	f.engine.HandleBattery(ctx, 0.15, false)
	assert.Equal(t, []string{"Warning! Battery is low."}, f.sink.Spoken())

	// charging re-arms the warning
	f.engine.HandleBattery(ctx, 0.16, true)
	f.engine.HandleBattery(ctx, 0.14, false)
	assert.Len(t, f.sink.Spoken(), 2)

	t.Run("custom threshold", func(t *testing.T) {
		f := newFixture(t, guide.WithBatteryLow(0.1))
		f.engine.HandleBattery(ctx, 0.15, false)
		assert.Empty(t, f.sink.Spoken())
		f.engine.HandleBattery(ctx, 0.05, false)
		assert.Len(t, f.sink.Spoken(), 1)
	})
}
