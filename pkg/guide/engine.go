// Package guide runs the guidance pipelines for one device. Detection frames
// go through the classifier and the alert arbiter, location samples go
// through the navigation session, and voice commands are dispatched to
// either. All three speak through a single announcer.
package guide

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-smartstick/pkg/alert"
	"github.com/teslashibe/go-smartstick/pkg/maps"
	"github.com/teslashibe/go-smartstick/pkg/navigation"
	"github.com/teslashibe/go-smartstick/pkg/route"
	"github.com/teslashibe/go-smartstick/pkg/speech"
	"github.com/teslashibe/go-smartstick/pkg/vision"
)

var (
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("guide: engine closed")

	// ErrNoRecognizer is returned for voice audio when no recognizer is set.
	ErrNoRecognizer = errors.New("guide: speech recognition not configured")
)

// Deps are the device-facing collaborators of an Engine.
type Deps struct {
	Sink       alert.Sink
	Location   navigation.LocationSource
	Renderer   navigation.MapRenderer
	Geocoder   maps.Geocoder
	Directions maps.Directions
}

// Engine is the guidance engine for one device. Safe for concurrent use.
type Engine struct {
	id     string
	cfg    *Config
	logger *slog.Logger

	analyzer  *vision.Analyzer
	tracker   *vision.ObstacleTracker
	arbiter   *alert.Arbiter
	announcer *alert.Announcer
	session   *navigation.Session
	location  navigation.LocationSource

	// frames are decided in arrival order
	frameMu sync.Mutex

	sensorMu    sync.Mutex
	unavailable map[string]bool

	voiceMu   sync.Mutex
	segmenter *speech.Segmenter

	ctx    context.Context
	cancel context.CancelFunc

	// asyncMu orders background starts against Close
	asyncMu sync.Mutex
	closed  bool
	wg      sync.WaitGroup
}

// EmergencyReport is the walker's position shared on an emergency request.
type EmergencyReport struct {
	Position route.Coordinate `json:"position"`
	Accuracy float64          `json:"accuracy,omitempty"`
	MapsURL  string           `json:"maps_url"`
	Time     time.Time        `json:"time"`
}

// NewEngine creates the engine for device id.
func NewEngine(id string, deps Deps, opts ...Option) (*Engine, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if err := cfg.Calibration.Validate(); err != nil {
		return nil, fmt.Errorf("guide: %w", err)
	}
	if deps.Sink == nil {
		return nil, errors.New("guide: sink required")
	}

	logger := cfg.Logger.With("component", "guide.engine", "device_id", id)
	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		id:          id,
		cfg:         cfg,
		logger:      logger,
		analyzer:    vision.NewAnalyzer(cfg.Calibration),
		arbiter:     alert.NewArbiter(cfg.AlertOptions...),
		announcer:   alert.NewAnnouncer(deps.Sink, logger),
		location:    deps.Location,
		unavailable: make(map[string]bool),
		segmenter:   speech.NewSegmenter(speech.DefaultSampleRate),
		ctx:         ctx,
		cancel:      cancel,
	}
	if cfg.Tracking {
		e.tracker = vision.NewObstacleTracker(cfg.Tracker)
	}
	if cfg.Hooks.OnAnnouncement != nil {
		e.announcer.OnAnnounce(cfg.Hooks.OnAnnouncement)
	}

	navOpts := append([]navigation.Option{navigation.WithLogger(logger)}, cfg.NavigationOptions...)
	e.session = navigation.NewSession(deps.Geocoder, deps.Directions, deps.Location, deps.Renderer, e.announcer, navOpts...)

	return e, nil
}

// ID returns the device id.
func (e *Engine) ID() string {
	return e.id
}

// Welcome speaks the onboarding tutorial, if enabled.
func (e *Engine) Welcome(ctx context.Context) error {
	if e.cfg.Tutorial == "" {
		return nil
	}
	return e.announcer.Say(ctx, alert.KindNotice, e.cfg.Tutorial)
}

// HandleFrame classifies one frame and announces the arbiter's decision.
// It returns the analysis and whether anything was announced.
func (e *Engine) HandleFrame(ctx context.Context, dets []vision.Detection, frameWidth float64) (vision.FrameAnalysis, bool) {
	e.frameMu.Lock()
	defer e.frameMu.Unlock()

	e.recovered(SensorCamera)

	analysis := e.analyzer.Analyze(dets, frameWidth)

	var tracks []vision.Track
	if e.tracker != nil {
		var err error
		if tracks, err = e.tracker.Update(dets); err != nil {
			e.logger.Warn("tracker update failed", "error", err)
		}
	}
	if e.cfg.Hooks.OnFrame != nil {
		e.cfg.Hooks.OnFrame(analysis, tracks)
	}

	ann, ok := e.arbiter.Decide(analysis)
	if !ok {
		return analysis, false
	}
	if err := e.announcer.Announce(ctx, ann); err != nil {
		e.logger.Debug("frame announcement failed", "error", err)
	}
	return analysis, true
}

// HandleCommand parses a transcript and carries out the command.
// Navigation starts in the background.
func (e *Engine) HandleCommand(ctx context.Context, transcript string) speech.Command {
	cmd := speech.ParseCommand(transcript)
	if e.cfg.Hooks.OnCommand != nil {
		e.cfg.Hooks.OnCommand(cmd)
	}
	e.logger.Info("voice command", "kind", cmd.Kind, "transcript", cmd.Transcript)

	switch cmd.Kind {
	case speech.CommandScanLeft, speech.CommandScanRight, speech.CommandGoForward:
		e.say(ctx, alert.Announcement{Kind: alert.KindCommand, Message: cmd.Reply()})
	case speech.CommandHelp:
		e.say(ctx, alert.Announcement{
			Kind:    alert.KindCommand,
			Message: cmd.Reply(),
			Haptic:  alert.PatternStrong,
			Siren:   true,
		})
	case speech.CommandRepeat:
		if err := e.announcer.Repeat(ctx); err != nil && !errors.Is(err, alert.ErrNothingToRepeat) {
			e.logger.Debug("repeat failed", "error", err)
		}
	case speech.CommandNavigate:
		if err := e.Navigate(cmd.Destination); err != nil {
			e.logger.Warn("navigate command dropped", "error", err)
		}
	case speech.CommandStopNavigation:
		_ = e.session.Stop(ctx)
	case speech.CommandWhereAmI:
		e.session.DescribeNext(ctx)
	case speech.CommandEmergency:
		if err := e.Emergency(); err != nil {
			e.logger.Warn("emergency command dropped", "error", err)
		}
	}
	return cmd
}

// HandleVoice feeds PCM16 audio to the utterance segmenter and transcribes
// every complete utterance in the background. final ends the stream.
func (e *Engine) HandleVoice(pcm []int16, sampleRate int, final bool) error {
	if e.cfg.Recognizer == nil {
		return ErrNoRecognizer
	}
	if e.isClosed() {
		return ErrClosed
	}

	e.voiceMu.Lock()
	if sampleRate > 0 && sampleRate != e.segmenter.SampleRate() {
		e.segmenter = speech.NewSegmenter(sampleRate)
	}
	rate := e.segmenter.SampleRate()
	utterances := e.segmenter.Feed(pcm)
	if final {
		if u := e.segmenter.Flush(); u != nil {
			utterances = append(utterances, u)
		}
	}
	e.voiceMu.Unlock()

	for _, u := range utterances {
		err := e.goAsync(func(ctx context.Context) {
			t, err := e.cfg.Recognizer.Recognize(ctx, u, rate)
			if err != nil {
				if !errors.Is(err, speech.ErrNoSpeech) {
					e.logger.Warn("speech recognition failed", "error", err)
				}
				return
			}
			e.HandleCommand(ctx, t.Text)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Navigate starts navigation to destination in the background. Failures
// are announced by the session.
func (e *Engine) Navigate(destination string) error {
	return e.goAsync(func(ctx context.Context) {
		if _, err := e.session.Navigate(ctx, destination); err != nil && !errors.Is(err, navigation.ErrSuperseded) {
			e.logger.Info("navigation did not start", "destination", destination, "error", err)
		}
	})
}

// NavigateSync plans a route and waits for the result.
func (e *Engine) NavigateSync(ctx context.Context, destination string) (*route.Plan, error) {
	return e.session.Navigate(ctx, destination)
}

// Emergency reports the walker's location in the background.
func (e *Engine) Emergency() error {
	return e.goAsync(func(ctx context.Context) {
		if _, err := e.EmergencySync(ctx); err != nil {
			e.logger.Warn("emergency report without location", "error", err)
		}
	})
}

// EmergencySync speaks the current coordinates and hands a maps link to the
// OnEmergency hook. Without a fix it says so and returns the error.
func (e *Engine) EmergencySync(ctx context.Context) (*EmergencyReport, error) {
	e.logger.Warn("emergency requested")
	if e.location == nil {
		e.say(ctx, alert.Announcement{Kind: alert.KindCommand, Message: EmergencyNoLocation, Haptic: alert.PatternStrong})
		return nil, navigation.ErrNoPosition
	}

	fixCtx, cancel := context.WithTimeout(ctx, EmergencyTimeout)
	sample, err := e.location.Current(fixCtx)
	cancel()
	if err == nil && !sample.Position.Valid() {
		err = navigation.ErrNoPosition
	}
	if err != nil {
		e.say(ctx, alert.Announcement{Kind: alert.KindCommand, Message: EmergencyNoLocation, Haptic: alert.PatternStrong})
		return nil, fmt.Errorf("guide: emergency: %w", err)
	}

	pos := sample.Position
	report := &EmergencyReport{
		Position: pos,
		Accuracy: sample.Accuracy,
		MapsURL:  fmt.Sprintf(mapsLink, pos.Lat, pos.Lon),
		Time:     time.Now(),
	}
	e.say(ctx, alert.Announcement{
		Kind:    alert.KindCommand,
		Message: fmt.Sprintf(EmergencyLocation, pos.Lat, pos.Lon),
		Haptic:  alert.PatternStrong,
	})
	if e.cfg.Hooks.OnEmergency != nil {
		e.cfg.Hooks.OnEmergency(*report)
	}
	return report, nil
}

// HandleBattery warns once when the battery drops to the low threshold
// while not charging. The warning re-arms after the level recovers or the
// device starts charging.
func (e *Engine) HandleBattery(ctx context.Context, level float64, charging bool) {
	low := !charging && level <= e.cfg.BatteryLow
	e.HandleSensor(ctx, SensorBattery, !low, fmt.Sprintf("level %.0f%%", level*100))
}

// Stop stops navigation.
func (e *Engine) Stop(ctx context.Context) error {
	return e.session.Stop(ctx)
}

// Status returns the navigation status.
func (e *Engine) Status() navigation.Status {
	return e.session.Status()
}

// AlertState returns the arbiter's committed state.
func (e *Engine) AlertState() alert.State {
	return e.arbiter.State()
}

// LastMessage returns the last spoken message.
func (e *Engine) LastMessage() string {
	return e.announcer.Last()
}

// HandleSensor records a sensor change. An unavailable sensor is announced
// once; the notice repeats only after the sensor has recovered in between.
func (e *Engine) HandleSensor(ctx context.Context, sensor string, available bool, detail string) {
	if e.cfg.Hooks.OnSensor != nil {
		e.cfg.Hooks.OnSensor(sensor, available)
	}
	if available {
		e.recovered(sensor)
		return
	}

	e.sensorMu.Lock()
	already := e.unavailable[sensor]
	e.unavailable[sensor] = true
	e.sensorMu.Unlock()
	if already {
		return
	}

	e.logger.Warn("sensor unavailable", "sensor", sensor, "detail", detail)
	msg, ok := e.cfg.SensorNotices[sensor]
	if !ok {
		msg = fmt.Sprintf("The %s is unavailable.", sensor)
	}
	e.say(ctx, alert.Announcement{Kind: alert.KindNotice, Message: msg, Haptic: alert.PatternShort})
}

// Close stops navigation and waits for background work. Later background
// requests return ErrClosed.
func (e *Engine) Close() {
	e.asyncMu.Lock()
	e.closed = true
	e.asyncMu.Unlock()

	e.cancel()
	e.session.Close()
	e.wg.Wait()
}

func (e *Engine) isClosed() bool {
	e.asyncMu.Lock()
	defer e.asyncMu.Unlock()
	return e.closed
}

func (e *Engine) recovered(sensor string) {
	e.sensorMu.Lock()
	defer e.sensorMu.Unlock()
	if e.unavailable[sensor] {
		delete(e.unavailable, sensor)
		e.logger.Info("sensor recovered", "sensor", sensor)
	}
}

func (e *Engine) say(ctx context.Context, ann alert.Announcement) {
	if err := e.announcer.Announce(ctx, ann); err != nil {
		e.logger.Debug("announce failed", "kind", ann.Kind, "error", err)
	}
}

func (e *Engine) goAsync(fn func(ctx context.Context)) error {
	e.asyncMu.Lock()
	defer e.asyncMu.Unlock()
	if e.closed {
		return ErrClosed
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("background task panic", "panic", r)
			}
		}()
		fn(e.ctx)
	}()
	return nil
}
