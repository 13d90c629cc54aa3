package command

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-smartstick/internal/config"
	"github.com/teslashibe/go-smartstick/internal/simulate"
	"github.com/teslashibe/go-smartstick/pkg/alert"
	"github.com/teslashibe/go-smartstick/pkg/protocol"
	"github.com/teslashibe/go-smartstick/pkg/vision"
)

func staticConfig(paths *[]string) func(string) (*config.Config, error) {
	return func(path string) (*config.Config, error) {
		if paths != nil {
			*paths = append(*paths, path)
		}
		return config.Default(), nil
	}
}

func TestBuildApp_DefaultCommandIsServe(t *testing.T) {
	served := 0
	app := BuildApp(Deps{
		LoadConfig: staticConfig(nil),
		Serve: func(_ context.Context, cfg *config.Config) error {
			served++
			assert.Equal(t, config.DefaultPort, cfg.Server.Port)
			return nil
		},
	})
	require.NoError(t, app.RunContext(context.Background(), []string{"smartstick"}))
	assert.Equal(t, 1, served)
}

func TestBuildApp_ServeFlags(t *testing.T) {
	var paths []string
	var port int
	app := BuildApp(Deps{
		LoadConfig: staticConfig(&paths),
		Serve: func(_ context.Context, cfg *config.Config) error {
			port = cfg.Server.Port
			return nil
		},
	})
	err := app.RunContext(context.Background(), []string{"smartstick", "serve", "--config", "prod.yaml", "--port", "9090"})
	require.NoError(t, err)
	assert.Equal(t, []string{"prod.yaml"}, paths)
	assert.Equal(t, 9090, port)
}

func TestBuildApp_ServeWithoutRunner(t *testing.T) {
	app := BuildApp(Deps{LoadConfig: staticConfig(nil)})
	err := app.RunContext(context.Background(), []string{"smartstick", "serve"})
	assert.EqualError(t, err, "serve runner is not configured")
}

func TestBuildApp_Simulate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "walk.yaml")
	require.NoError(t, os.WriteFile(path, []byte("device_id: sim\nsteps:\n  - command: help\n"), 0o600))

	var out bytes.Buffer
	var gotServer string
	app := BuildApp(Deps{
		Stdout: &out,
		Simulate: func(_ context.Context, server string, sc *simulate.Scenario, opts ...simulate.Option) (*simulate.Report, error) {
			gotServer = server
			assert.Len(t, sc.Steps, 1)

			cfg := simulate.DefaultConfig()
			cfg.Apply(opts...)
			msg, err := protocol.NewSpeakMessage("Emergency help activated.", "command", nil, "")
			require.NoError(t, err)
			cfg.Observer(msg)

			return &simulate.Report{
				DeviceID: "sim",
				Sent:     1,
				Received: map[protocol.MessageType]int{protocol.TypeSpeak: 1, protocol.TypeAlarm: 1},
			}, nil
		},
	})

	err := app.RunContext(context.Background(), []string{"smartstick", "simulate", "--server", "ws://guide:8080", path})
	require.NoError(t, err)
	assert.Equal(t, "ws://guide:8080", gotServer)
	assert.Contains(t, out.String(), "speak: Emergency help activated.\n")
	assert.Contains(t, out.String(), "device sim: sent 1, received 1 speak, 0 haptic, 1 alarm, 0 error")
}

func TestBuildApp_SimulateArgs(t *testing.T) {
	app := BuildApp(Deps{})
	err := app.RunContext(context.Background(), []string{"smartstick", "simulate"})
	assert.EqualError(t, err, "simulate: scenario file required")

	err = app.RunContext(context.Background(), []string{"smartstick", "simulate", filepath.Join(t.TempDir(), "none.yaml")})
	assert.Error(t, err)
}

func TestBuildApp_Analyze(t *testing.T) {
	tests := []struct {
		name  string
		input string
		args  []string
		want  vision.Direction
		kind  alert.Kind
	}{
		{
			name:  "payload",
			input: `{"width":320,"detections":[{"class":"bench","bbox":{"x":250,"y":10,"width":40,"height":60}}]}`,
			want:  vision.Right,
			kind:  alert.KindObstacle,
		},
		{
			name:  "message envelope",
			input: `{"type":"detections","data":{"width":320,"detections":[{"class":"car","bbox":[0,0,50,60]}]}}`,
			want:  vision.Left,
			kind:  alert.KindHazard,
		},
		{
			name:  "bare array uses width flag",
			input: `[{"class":"person","bbox":[140,0,40,80]}]`,
			args:  []string{"--width", "320"},
			want:  vision.Center,
			kind:  alert.KindObstacle,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			app := BuildApp(Deps{
				LoadConfig: staticConfig(nil),
				Stdin:      strings.NewReader(tt.input),
				Stdout:     &out,
			})
			args := append([]string{"smartstick", "analyze"}, tt.args...)
			require.NoError(t, app.RunContext(context.Background(), args))

			var res AnalyzeResult
			require.NoError(t, json.Unmarshal(out.Bytes(), &res))
			assert.Equal(t, tt.want, res.Analysis.Direction)
			require.NotNil(t, res.Announcement)
			assert.Equal(t, tt.kind, res.Announcement.Kind)
		})
	}

	t.Run("empty frame is silent", func(t *testing.T) {
		var out bytes.Buffer
		app := BuildApp(Deps{LoadConfig: staticConfig(nil), Stdin: strings.NewReader(`[]`), Stdout: &out})
		require.NoError(t, app.RunContext(context.Background(), []string{"smartstick", "analyze"}))

		var res AnalyzeResult
		require.NoError(t, json.Unmarshal(out.Bytes(), &res))
		assert.Equal(t, vision.Clear, res.Analysis.Direction)
		assert.Nil(t, res.Announcement)
	})
}

func TestBuildApp_AnalyzeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frame.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"class":"truck","bbox":[200,0,100,90]}]`), 0o600))

	var out bytes.Buffer
	app := BuildApp(Deps{LoadConfig: staticConfig(nil), Stdout: &out})
	require.NoError(t, app.RunContext(context.Background(), []string{"smartstick", "analyze", path}))

	var res AnalyzeResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.True(t, res.Analysis.Hazard)
	require.NotNil(t, res.Announcement)
	assert.True(t, res.Announcement.Siren)
}

func TestBuildApp_AnalyzeBadInput(t *testing.T) {
	app := BuildApp(Deps{
		LoadConfig: staticConfig(nil),
		Stdin:      strings.NewReader("not json"),
		Stdout:     &bytes.Buffer{},
	})
	err := app.RunContext(context.Background(), []string{"smartstick", "analyze"})
	assert.ErrorContains(t, err, "decode frame")
}
