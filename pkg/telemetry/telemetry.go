// Package telemetry records guidance metrics and traces with OpenTelemetry.
//
// When an OTLP endpoint is configured, metrics and spans are exported over
// gRPC. Otherwise the SDK providers still aggregate, so extra readers (tests,
// the /metrics endpoint) can observe them.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/teslashibe/go-smartstick"

// Config configures the providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	// OTLPEndpoint is a gRPC collector address such as "localhost:4317".
	// Empty disables export.
	OTLPEndpoint   string
	Insecure       bool
	SampleRate     float64
	ExportInterval time.Duration

	readers       []sdkmetric.Reader
	spanExporters []sdktrace.SpanExporter
	logger        *slog.Logger
}

// Option configures the providers.
type Option func(*Config)

// WithEndpoint enables OTLP gRPC export to endpoint.
func WithEndpoint(endpoint string, insecure bool) Option {
	return func(c *Config) {
		c.OTLPEndpoint = endpoint
		c.Insecure = insecure
	}
}

// WithServiceVersion sets the service.version resource attribute.
func WithServiceVersion(v string) Option {
	return func(c *Config) {
		c.ServiceVersion = v
	}
}

// WithEnvironment sets the deployment environment attribute.
func WithEnvironment(env string) Option {
	return func(c *Config) {
		c.Environment = env
	}
}

// WithSampleRate sets the trace sampling ratio, 0 to 1.
func WithSampleRate(rate float64) Option {
	return func(c *Config) {
		c.SampleRate = rate
	}
}

// WithReader adds a metric reader, for example sdkmetric.NewManualReader.
func WithReader(r sdkmetric.Reader) Option {
	return func(c *Config) {
		c.readers = append(c.readers, r)
	}
}

// WithSpanExporter adds a synchronous span exporter.
func WithSpanExporter(e sdktrace.SpanExporter) Option {
	return func(c *Config) {
		c.spanExporters = append(c.spanExporters, e)
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.logger = logger
	}
}

// DefaultConfig returns the default configuration: no export, sample all.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "smartstick",
		ServiceVersion: "dev",
		Environment:    "development",
		SampleRate:     1.0,
		ExportInterval: 15 * time.Second,
	}
}

// Telemetry holds the providers and the guidance instruments.
type Telemetry struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	snapshot       *sdkmetric.ManualReader
	logger         *slog.Logger

	frames        metric.Int64Counter
	announcements metric.Int64Counter
	commands      metric.Int64Counter
	navEvents     metric.Int64Counter
	navFailures   metric.Int64Counter
	sensorChanges metric.Int64Counter
	devices       metric.Int64UpDownCounter
	planDuration  metric.Float64Histogram
}

// New creates the providers and instruments.
func New(ctx context.Context, opts ...Option) (*Telemetry, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	t := &Telemetry{logger: cfg.logger.With("component", "telemetry")}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("service.version", cfg.ServiceVersion),
			attribute.String("deployment.environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: resource: %w", err)
	}

	if err := t.initTracing(ctx, cfg, res); err != nil {
		return nil, err
	}
	if err := t.initMetrics(ctx, cfg, res); err != nil {
		return nil, err
	}
	if err := t.initInstruments(); err != nil {
		return nil, fmt.Errorf("telemetry: instruments: %w", err)
	}

	t.logger.Info("telemetry initialized",
		"service", cfg.ServiceName,
		"endpoint", cfg.OTLPEndpoint,
		"sample_rate", cfg.SampleRate,
	)
	return t, nil
}

// Nop returns a Telemetry that records into unexported providers.
func Nop() *Telemetry {
	t, err := New(context.Background(), WithLogger(slog.New(slog.DiscardHandler)))
	if err != nil {
		panic(err)
	}
	return t
}

func (t *Telemetry) initTracing(ctx context.Context, cfg *Config, res *resource.Resource) error {
	var sampler sdktrace.Sampler
	switch {
	case cfg.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case cfg.SampleRate <= 0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	}
	if cfg.OTLPEndpoint != "" {
		expOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.Insecure {
			expOpts = append(expOpts, otlptracegrpc.WithInsecure())
		}
		exp, err := otlptracegrpc.New(ctx, expOpts...)
		if err != nil {
			return fmt.Errorf("telemetry: trace exporter: %w", err)
		}
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exp))
	}
	for _, exp := range cfg.spanExporters {
		tpOpts = append(tpOpts, sdktrace.WithSyncer(exp))
	}

	t.tracerProvider = sdktrace.NewTracerProvider(tpOpts...)
	t.tracer = t.tracerProvider.Tracer(instrumentationName)
	return nil
}

func (t *Telemetry) initMetrics(ctx context.Context, cfg *Config, res *resource.Resource) error {
	mpOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if cfg.OTLPEndpoint != "" {
		expOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.Insecure {
			expOpts = append(expOpts, otlpmetricgrpc.WithInsecure())
		}
		exp, err := otlpmetricgrpc.New(ctx, expOpts...)
		if err != nil {
			return fmt.Errorf("telemetry: metric exporter: %w", err)
		}
		mpOpts = append(mpOpts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(cfg.ExportInterval)),
		))
	}
	for _, r := range cfg.readers {
		mpOpts = append(mpOpts, sdkmetric.WithReader(r))
	}
	t.snapshot = sdkmetric.NewManualReader()
	mpOpts = append(mpOpts, sdkmetric.WithReader(t.snapshot))

	t.meterProvider = sdkmetric.NewMeterProvider(mpOpts...)
	return nil
}

func (t *Telemetry) initInstruments() error {
	meter := t.meterProvider.Meter(instrumentationName)
	var err error

	if t.frames, err = meter.Int64Counter("smartstick.frames",
		metric.WithDescription("Detection frames processed"),
		metric.WithUnit("{frame}"),
	); err != nil {
		return err
	}
	if t.announcements, err = meter.Int64Counter("smartstick.announcements",
		metric.WithDescription("Announcements spoken, by kind"),
		metric.WithUnit("{announcement}"),
	); err != nil {
		return err
	}
	if t.commands, err = meter.Int64Counter("smartstick.commands",
		metric.WithDescription("Voice commands handled, by kind"),
		metric.WithUnit("{command}"),
	); err != nil {
		return err
	}
	if t.navEvents, err = meter.Int64Counter("smartstick.navigation.events",
		metric.WithDescription("Route events: steps reached and arrivals"),
		metric.WithUnit("{event}"),
	); err != nil {
		return err
	}
	if t.navFailures, err = meter.Int64Counter("smartstick.navigation.failures",
		metric.WithDescription("Navigation requests that failed"),
		metric.WithUnit("{failure}"),
	); err != nil {
		return err
	}
	if t.sensorChanges, err = meter.Int64Counter("smartstick.sensor.changes",
		metric.WithDescription("Sensor availability reports"),
		metric.WithUnit("{report}"),
	); err != nil {
		return err
	}
	if t.devices, err = meter.Int64UpDownCounter("smartstick.devices.connected",
		metric.WithDescription("Connected devices"),
		metric.WithUnit("{device}"),
	); err != nil {
		return err
	}
	t.planDuration, err = meter.Float64Histogram("smartstick.navigation.plan.duration",
		metric.WithDescription("Time from request to announced route"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	)
	return err
}

// Shutdown flushes and stops the providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if err := t.tracerProvider.Shutdown(ctx); err != nil {
		t.logger.Error("trace provider shutdown failed", "error", err)
	}
	if err := t.meterProvider.Shutdown(ctx); err != nil {
		t.logger.Error("meter provider shutdown failed", "error", err)
	}
	return nil
}

// Tracer returns the tracer.
func (t *Telemetry) Tracer() trace.Tracer {
	return t.tracer
}

// RecordFrame counts one detection frame.
func (t *Telemetry) RecordFrame(ctx context.Context, deviceID, direction string, announced bool) {
	t.frames.Add(ctx, 1, metric.WithAttributes(
		attribute.String("device.id", deviceID),
		attribute.String("direction", direction),
		attribute.Bool("announced", announced),
	))
}

// RecordAnnouncement counts one announcement.
func (t *Telemetry) RecordAnnouncement(ctx context.Context, deviceID, kind string) {
	t.announcements.Add(ctx, 1, metric.WithAttributes(
		attribute.String("device.id", deviceID),
		attribute.String("kind", kind),
	))
}

// RecordCommand counts one voice command.
func (t *Telemetry) RecordCommand(ctx context.Context, deviceID, kind string) {
	t.commands.Add(ctx, 1, metric.WithAttributes(
		attribute.String("device.id", deviceID),
		attribute.String("kind", kind),
	))
}

// RecordNavigationEvent counts one route event.
func (t *Telemetry) RecordNavigationEvent(ctx context.Context, deviceID, kind string) {
	t.navEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("device.id", deviceID),
		attribute.String("kind", kind),
	))
}

// RecordNavigationFailure counts one failed navigation request. reason is
// a short fixed label such as "not_found".
func (t *Telemetry) RecordNavigationFailure(ctx context.Context, deviceID, reason string) {
	t.navFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("device.id", deviceID),
		attribute.String("reason", reason),
	))
}

// RecordPlanDuration records how long planning took.
func (t *Telemetry) RecordPlanDuration(ctx context.Context, deviceID string, d time.Duration) {
	t.planDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("device.id", deviceID),
	))
}

// RecordSensor counts one sensor availability report.
func (t *Telemetry) RecordSensor(ctx context.Context, deviceID, sensor string, available bool) {
	t.sensorChanges.Add(ctx, 1, metric.WithAttributes(
		attribute.String("device.id", deviceID),
		attribute.String("sensor", sensor),
		attribute.Bool("available", available),
	))
}

// DeviceConnected adjusts the connected device gauge by delta.
func (t *Telemetry) DeviceConnected(ctx context.Context, delta int64) {
	t.devices.Add(ctx, delta)
}

// StartSpan starts a span for one device operation. The returned function
// ends it, recording err if non-nil.
func (t *Telemetry) StartSpan(ctx context.Context, name, deviceID string, attrs ...attribute.KeyValue) (context.Context, func(err error)) {
	attrs = append(attrs, attribute.String("device.id", deviceID))
	ctx, span := t.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attrs...),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}
