package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/teslashibe/go-smartstick/internal/config"
	"github.com/teslashibe/go-smartstick/internal/httpc"
	"github.com/teslashibe/go-smartstick/internal/log"
	"github.com/teslashibe/go-smartstick/pkg/gateway"
	"github.com/teslashibe/go-smartstick/pkg/guide"
	"github.com/teslashibe/go-smartstick/pkg/hub"
	"github.com/teslashibe/go-smartstick/pkg/maps"
	"github.com/teslashibe/go-smartstick/pkg/protocol"
	"github.com/teslashibe/go-smartstick/pkg/speech"
	"github.com/teslashibe/go-smartstick/pkg/telemetry"
	"github.com/teslashibe/go-smartstick/pkg/tts"
)

const shutdownTimeout = 5 * time.Second

func runServe(ctx context.Context, cfg *config.Config) error {
	logger := log.New(os.Stdout, cfg.Server.LogLevel, cfg.Production())
	slog.SetDefault(logger)

	logger.Info("starting smartstick", "version", version, "environment", cfg.Server.Environment)

	tel, err := telemetry.New(ctx, telemetryOptions(cfg, logger)...)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = tel.Shutdown(sctx)
	}()

	geocoder, directions, err := buildMaps(cfg, logger)
	if err != nil {
		return err
	}
	synth, err := buildTTS(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if synth != nil {
		defer synth.Close()
	}
	recognizer, err := buildRecognizer(ctx, cfg, logger)
	if err != nil {
		return err
	}

	monitor := hub.New("monitor", logger)
	go monitor.Run(ctx)

	gw := gateway.New(
		gateway.WithMaps(geocoder, directions),
		gateway.WithTTS(synth),
		gateway.WithCamera(protocol.CameraConfig{
			Width:      int(cfg.Vision.FrameWidth),
			Height:     int(cfg.Vision.FrameHeight),
			FacingBack: true,
		}),
		gateway.WithGuideOptions(guideOptions(cfg, recognizer)...),
		gateway.WithMonitor(monitor),
		gateway.WithTelemetry(tel),
		gateway.WithLogger(logger),
	)
	defer gw.Close()

	app := fiber.New(fiber.Config{
		AppName:               "smartstick",
		DisableStartupMessage: true,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.Server.AllowOrigins,
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Content-Type,Authorization",
	}))
	if !cfg.Production() {
		app.Use(fiberlogger.New())
	}

	gw.RegisterRoutes(app)
	gw.RegisterAPIRoutes(app.Group("/api"))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"version": version,
			"devices": gw.DeviceCount(),
		})
	})
	app.Get("/metrics", gw.MetricsHandler)

	errCh := make(chan error, 1)
	go func() {
		addr := cfg.Server.Addr()
		logger.Info("listening", "addr", addr,
			"device_ws", fmt.Sprintf("ws://localhost:%d/ws/device", cfg.Server.Port),
			"monitor_ws", fmt.Sprintf("ws://localhost:%d/ws/monitor", cfg.Server.Port))
		errCh <- app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := app.ShutdownWithContext(sctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	return nil
}

func telemetryOptions(cfg *config.Config, logger *slog.Logger) []telemetry.Option {
	opts := []telemetry.Option{
		telemetry.WithServiceVersion(version),
		telemetry.WithEnvironment(cfg.Server.Environment),
		telemetry.WithSampleRate(cfg.Telemetry.SampleRate),
		telemetry.WithLogger(logger),
	}
	if cfg.Telemetry.Endpoint != "" {
		opts = append(opts, telemetry.WithEndpoint(cfg.Telemetry.Endpoint, cfg.Telemetry.Insecure))
	}
	return opts
}

// buildMaps returns the geocoder chain and the directions client. Both are
// nil when no OpenRouteService key is configured.
func buildMaps(cfg *config.Config, logger *slog.Logger) (maps.Geocoder, maps.Directions, error) {
	if cfg.Maps.ORSAPIKey == "" {
		logger.Warn("ORS_API_KEY not set, navigation disabled")
		return nil, nil, nil
	}

	common := []maps.Option{
		maps.WithLanguage(cfg.Maps.Language),
		maps.WithSearchRadius(cfg.Maps.SearchRadiusMeters),
		maps.WithTimeout(cfg.Maps.Timeout),
		maps.WithHTTPClient(httpc.NewClient(cfg.Maps.Timeout)),
		maps.WithLogger(logger),
	}
	with := func(extra ...maps.Option) []maps.Option {
		return append(append([]maps.Option(nil), common...), extra...)
	}

	nominatim := maps.NewNominatim(with(maps.WithBaseURL(cfg.Maps.NominatimURL))...)
	overpass := maps.NewOverpass(with(maps.WithBaseURL(cfg.Maps.OverpassURL))...)
	geocoder, err := maps.NewGeocoderChain(logger, nominatim, overpass)
	if err != nil {
		return nil, nil, err
	}

	directions, err := maps.NewORS(with(
		maps.WithAPIKey(cfg.Maps.ORSAPIKey),
		maps.WithBaseURL(cfg.Maps.ORSURL),
		maps.WithProfile(cfg.Maps.Profile),
	)...)
	if err != nil {
		return nil, nil, err
	}
	return geocoder, directions, nil
}

// buildTTS returns the synthesis chain, or nil when devices speak locally.
func buildTTS(ctx context.Context, cfg *config.Config, logger *slog.Logger) (tts.Provider, error) {
	if len(cfg.TTS.Providers) == 0 {
		return nil, nil
	}

	common := []tts.Option{
		tts.WithLanguage(cfg.TTS.Language),
		tts.WithSpeakingRate(cfg.TTS.SpeakingRate),
		tts.WithTimeout(cfg.TTS.Timeout),
		tts.WithLogger(logger),
	}
	if cfg.TTS.Voice != "" {
		common = append(common, tts.WithVoice(cfg.TTS.Voice))
	}

	var providers []tts.Provider
	for _, name := range cfg.TTS.Providers {
		opts := append([]tts.Option(nil), common...)
		var (
			p   tts.Provider
			err error
		)
		switch name {
		case "openai":
			p, err = tts.NewOpenAI(append(opts, tts.WithAPIKey(cfg.TTS.OpenAIAPIKey))...)
		case "google":
			p, err = tts.NewGoogle(ctx, append(opts, tts.WithAPIKey(cfg.TTS.GoogleAPIKey))...)
		default:
			err = fmt.Errorf("unknown tts provider %q", name)
		}
		if err != nil {
			return nil, fmt.Errorf("tts %s: %w", name, err)
		}
		providers = append(providers, p)
	}

	chain, err := tts.NewChain(logger, providers...)
	if err != nil {
		return nil, err
	}
	if cfg.TTS.CacheSize <= 0 {
		return chain, nil
	}
	return tts.NewCache(chain, cfg.TTS.CacheSize), nil
}

func buildRecognizer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (speech.Recognizer, error) {
	if !cfg.Speech.Enabled {
		return nil, nil
	}
	rec, err := speech.NewGoogle(ctx,
		speech.WithAPIKey(cfg.Speech.GoogleAPIKey),
		speech.WithLanguage(cfg.Speech.Language),
		speech.WithTimeout(cfg.Speech.Timeout),
		speech.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("speech: %w", err)
	}
	return rec, nil
}

func guideOptions(cfg *config.Config, recognizer speech.Recognizer) []guide.Option {
	opts := []guide.Option{
		guide.WithCalibration(cfg.Vision),
		guide.WithAlertOptions(cfg.Alerts.Options()...),
		guide.WithNavigationOptions(cfg.Navigation.Options()...),
	}
	if cfg.Tracking.Enabled {
		opts = append(opts, guide.WithTracking(cfg.Tracking.Tracker))
	}
	switch {
	case cfg.Guide.DisableTutorial:
		opts = append(opts, guide.WithTutorial(""))
	case cfg.Guide.Tutorial != "":
		opts = append(opts, guide.WithTutorial(cfg.Guide.Tutorial))
	}
	if len(cfg.Guide.SensorNotices) > 0 {
		notices := guide.DefaultSensorNotices()
		for k, v := range cfg.Guide.SensorNotices {
			notices[k] = v
		}
		opts = append(opts, guide.WithSensorNotices(notices))
	}
	if recognizer != nil {
		opts = append(opts, guide.WithRecognizer(recognizer))
	}
	return opts
}
