// Package command builds the smartstick command line.
package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/teslashibe/go-smartstick/internal/config"
	"github.com/teslashibe/go-smartstick/internal/simulate"
	"github.com/teslashibe/go-smartstick/pkg/alert"
	"github.com/teslashibe/go-smartstick/pkg/protocol"
	"github.com/teslashibe/go-smartstick/pkg/vision"
)

// Deps are the runners behind each command.
type Deps struct {
	LoadConfig func(path string) (*config.Config, error)
	Serve      func(context.Context, *config.Config) error
	Simulate   func(context.Context, string, *simulate.Scenario, ...simulate.Option) (*simulate.Report, error)

	Stdin  io.Reader
	Stdout io.Writer
}

// BuildApp returns the CLI app. Running it without a command serves.
func BuildApp(deps Deps) *cli.App {
	serve := func(ctx *cli.Context) error {
		cfg, err := loadConfig(deps, ctx.String("config"))
		if err != nil {
			return err
		}
		if ctx.IsSet("port") {
			cfg.Server.Port = ctx.Int("port")
		}
		return runServe(ctx.Context, deps, cfg)
	}

	return &cli.App{
		Name:   "smartstick",
		Usage:  "guidance server for the smart stick walking aid",
		Flags:  []cli.Flag{configFlag()},
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "start the guidance server",
				Flags: []cli.Flag{
					configFlag(),
					&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Usage: "listen port"},
				},
				Action: serve,
			},
			{
				Name:      "simulate",
				Usage:     "replay a scenario against a server as a device",
				ArgsUsage: "SCENARIO",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "server", Aliases: []string{"s"}, Value: "ws://localhost:8080", Usage: "server base URL"},
					&cli.DurationFlag{Name: "linger", Usage: "wait for replies after the last step"},
				},
				Action: func(ctx *cli.Context) error {
					if ctx.NArg() != 1 {
						return errors.New("simulate: scenario file required")
					}
					sc, err := simulate.LoadScenario(ctx.Args().First())
					if err != nil {
						return err
					}
					var opts []simulate.Option
					if ctx.IsSet("linger") {
						opts = append(opts, simulate.WithLinger(ctx.Duration("linger")))
					}
					return runSimulate(ctx.Context, deps, ctx.String("server"), sc, opts)
				},
			},
			{
				Name:      "analyze",
				Usage:     "classify one detection frame and print the announcement",
				ArgsUsage: "[FRAME.json]",
				Flags: []cli.Flag{
					configFlag(),
					&cli.Float64Flag{Name: "width", Usage: "frame width when the file has none"},
				},
				Action: func(ctx *cli.Context) error {
					cfg, err := loadConfig(deps, ctx.String("config"))
					if err != nil {
						return err
					}
					in := stdin(deps)
					if ctx.NArg() > 0 {
						f, err := os.Open(ctx.Args().First())
						if err != nil {
							return err
						}
						defer f.Close()
						in = f
					}
					return runAnalyze(in, stdout(deps), cfg, ctx.Float64("width"))
				},
			},
		},
	}
}

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "YAML configuration file",
		EnvVars: []string{"SMARTSTICK_CONFIG"},
	}
}

func loadConfig(deps Deps, path string) (*config.Config, error) {
	if deps.LoadConfig != nil {
		return deps.LoadConfig(path)
	}
	return config.Load(path)
}

func runServe(ctx context.Context, deps Deps, cfg *config.Config) error {
	if deps.Serve == nil {
		return errors.New("serve runner is not configured")
	}
	return deps.Serve(ctx, cfg)
}

func runSimulate(ctx context.Context, deps Deps, server string, sc *simulate.Scenario, opts []simulate.Option) error {
	run := deps.Simulate
	if run == nil {
		run = simulate.Run
	}
	out := stdout(deps)
	opts = append(opts, simulate.WithObserver(func(msg *protocol.Message) {
		if msg.Type != protocol.TypeSpeak {
			return
		}
		var s protocol.SpeakData
		if err := msg.ParseData(&s); err == nil {
			fmt.Fprintf(out, "speak: %s\n", s.Text)
		}
	}))

	report, err := run(ctx, server, sc, opts...)
	if report != nil {
		fmt.Fprintf(out, "device %s: sent %d, received %d speak, %d haptic, %d alarm, %d error\n",
			report.DeviceID, report.Sent,
			report.Received[protocol.TypeSpeak], report.Received[protocol.TypeHaptic],
			report.Received[protocol.TypeAlarm], report.Received[protocol.TypeError])
	}
	return err
}

// AnalyzeResult is printed by the analyze command.
type AnalyzeResult struct {
	Analysis     vision.FrameAnalysis `json:"analysis"`
	Announcement *alert.Announcement  `json:"announcement,omitempty"`
}

func runAnalyze(in io.Reader, out io.Writer, cfg *config.Config, width float64) error {
	data, err := io.ReadAll(in)
	if err != nil {
		return err
	}
	frame, err := decodeFrame(data)
	if err != nil {
		return err
	}
	if frame.Width <= 0 {
		frame.Width = width
	}
	if frame.Width <= 0 {
		frame.Width = cfg.Vision.FrameWidth
	}

	analysis := vision.NewAnalyzer(cfg.Vision).Analyze(frame.Detections, frame.Width)
	res := AnalyzeResult{Analysis: analysis}
	if ann, ok := alert.NewArbiter(cfg.Alerts.Options()...).Decide(analysis); ok {
		res.Announcement = &ann
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// decodeFrame accepts a detections payload, a full detections message or a
// bare array of detections.
func decodeFrame(data []byte) (protocol.DetectionsData, error) {
	var frame protocol.DetectionsData
	if err := json.Unmarshal(data, &frame.Detections); err == nil {
		return frame, nil
	}
	if msg, err := protocol.ParseMessage(data); err == nil && msg.Type == protocol.TypeDetections {
		if err := msg.ParseData(&frame); err != nil {
			return frame, fmt.Errorf("analyze: %w", err)
		}
		return frame, nil
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		return frame, fmt.Errorf("analyze: decode frame: %w", err)
	}
	return frame, nil
}

func stdin(deps Deps) io.Reader {
	if deps.Stdin != nil {
		return deps.Stdin
	}
	return os.Stdin
}

func stdout(deps Deps) io.Writer {
	if deps.Stdout != nil {
		return deps.Stdout
	}
	return os.Stdout
}
