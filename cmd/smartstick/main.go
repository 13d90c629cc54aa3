// smartstick: guidance server for the smart stick walking aid.
// Devices stream detections and location over WebSocket and receive spoken,
// haptic and siren guidance back.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/teslashibe/go-smartstick/internal/command"
	"github.com/teslashibe/go-smartstick/internal/config"
	"github.com/teslashibe/go-smartstick/internal/simulate"
)

var version = "1.0.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := command.BuildApp(command.Deps{
		LoadConfig: config.Load,
		Serve:      runServe,
		Simulate:   simulate.Run,
	})
	app.Version = version

	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "smartstick:", err)
		os.Exit(1)
	}
}
