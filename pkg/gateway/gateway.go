// Package gateway accepts device WebSocket connections and runs one guidance
// engine per device. It also serves the REST API and the monitor feed.
package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	monitorws "github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"github.com/teslashibe/go-smartstick/pkg/alert"
	"github.com/teslashibe/go-smartstick/pkg/guide"
	"github.com/teslashibe/go-smartstick/pkg/hub"
	"github.com/teslashibe/go-smartstick/pkg/maps"
	"github.com/teslashibe/go-smartstick/pkg/navigation"
	"github.com/teslashibe/go-smartstick/pkg/protocol"
	"github.com/teslashibe/go-smartstick/pkg/route"
	"github.com/teslashibe/go-smartstick/pkg/speech"
	"github.com/teslashibe/go-smartstick/pkg/telemetry"
	"github.com/teslashibe/go-smartstick/pkg/vision"
)

// ErrDeviceConnected is returned when a device id is already in use.
var ErrDeviceConnected = errors.New("gateway: device already connected")

// errMapsUnavailable is returned by navigation when no map providers are set.
var errMapsUnavailable = errors.New("gateway: map providers not configured")

// Gateway manages device connections.
type Gateway struct {
	cfg    *Config
	logger *slog.Logger
	tel    *telemetry.Telemetry

	mu      sync.RWMutex
	devices map[string]*Device

	// Stats
	messagesReceived atomic.Uint64
	messagesSent     atomic.Uint64
	framesReceived   atomic.Uint64
	errorsSent       atomic.Uint64
}

// New creates a gateway.
func New(opts ...Option) *Gateway {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Geocoder == nil || cfg.Directions == nil {
		cfg.Geocoder, cfg.Directions = noMaps{}, noMaps{}
	}
	tel := cfg.Telemetry
	if tel == nil {
		tel = telemetry.Nop()
	}

	return &Gateway{
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "gateway"),
		tel:     tel,
		devices: make(map[string]*Device),
	}
}

// RegisterRoutes registers the WebSocket routes on a Fiber app.
func (g *Gateway) RegisterRoutes(app *fiber.App) {
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/device", websocket.New(g.handleDevice))
	app.Get("/ws/device/:id", websocket.New(g.handleDevice))

	if g.cfg.Monitor != nil {
		app.Get("/ws/monitor", monitorws.New(func(c *monitorws.Conn) {
			client := hub.NewClient(g.cfg.Monitor, c)
			if client == nil {
				return
			}
			client.Run()
		}))
	}
}

// handleDevice runs one device connection.
func (g *Gateway) handleDevice(c *websocket.Conn) {
	id := c.Params("id")
	if raw, err := url.PathUnescape(id); err == nil {
		id = raw
	}
	if id == "" {
		id = uuid.NewString()
	}

	dev, err := g.Connect(id, c)
	if err != nil {
		g.logger.Warn("device rejected", "device_id", id, "error", err)
		msg, _ := protocol.NewErrorMessage("%v", err)
		if data, err := msg.Bytes(); err == nil {
			_ = c.WriteMessage(websocket.TextMessage, data)
		}
		return
	}
	defer g.Disconnect(dev)

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			g.logger.Debug("device read ended", "device_id", id, "error", err)
			return
		}
		dev.touch()
		g.messagesReceived.Add(1)
		g.HandleMessage(dev, data)
	}
}

// Connect registers a device writing to conn, sends it the capture
// configuration and speaks the tutorial.
func (g *Gateway) Connect(id string, conn Conn) (*Device, error) {
	dev := newDevice(id, conn, g.cfg, &g.messagesSent)

	engine, err := g.newEngine(dev)
	if err != nil {
		return nil, err
	}
	dev.engine = engine

	g.mu.Lock()
	if _, exists := g.devices[id]; exists {
		g.mu.Unlock()
		engine.Close()
		return nil, ErrDeviceConnected
	}
	g.devices[id] = dev
	count := len(g.devices)
	g.mu.Unlock()

	ctx := context.Background()
	g.logger.Info("device connected", "device_id", id, "devices", count)
	g.tel.DeviceConnected(ctx, 1)
	g.publish(hub.EventDeviceConnected, id, nil)

	camera := g.cfg.Camera
	if err := dev.send(protocol.NewConfigMessage(id, &camera)); err != nil {
		g.logger.Warn("send config failed", "device_id", id, "error", err)
	}
	if err := engine.Welcome(ctx); err != nil {
		g.logger.Debug("tutorial failed", "device_id", id, "error", err)
	}
	return dev, nil
}

// Disconnect unregisters a device and stops its engine.
func (g *Gateway) Disconnect(dev *Device) {
	dev.closing.Store(true)

	g.mu.Lock()
	if g.devices[dev.ID] == dev {
		delete(g.devices, dev.ID)
	}
	count := len(g.devices)
	g.mu.Unlock()

	dev.engine.Close()

	g.logger.Info("device disconnected", "device_id", dev.ID, "devices", count)
	g.tel.DeviceConnected(context.Background(), -1)
	g.publish(hub.EventDeviceDisconnected, dev.ID, nil)
}

func (g *Gateway) newEngine(dev *Device) (*guide.Engine, error) {
	id := dev.ID
	ctx := context.Background()

	navHooks := navigation.Hooks{
		OnPlan: func(plan *route.Plan) {
			g.publish(hub.EventRoute, id, plan)
		},
		OnEvent: func(planID string, ev route.Event) {
			g.tel.RecordNavigationEvent(ctx, id, string(ev.Kind))
			g.publish(hub.EventNavigation, id, ev)
		},
		OnFailure: func(reason error) {
			g.tel.RecordNavigationFailure(ctx, id, failureReason(reason))
		},
		OnPlanned: func(d time.Duration) {
			g.tel.RecordPlanDuration(ctx, id, d)
		},
	}
	hooks := guide.Hooks{
		OnFrame: func(analysis vision.FrameAnalysis, tracks []vision.Track) {
			g.publish(hub.EventFrame, id, analysis)
			if len(tracks) > 0 {
				g.publish(hub.EventTracks, id, tracks)
			}
		},
		OnAnnouncement: func(ann alert.Announcement) {
			g.tel.RecordAnnouncement(ctx, id, string(ann.Kind))
			g.publish(hub.EventAnnouncement, id, ann)
		},
		OnCommand: func(cmd speech.Command) {
			g.tel.RecordCommand(ctx, id, string(cmd.Kind))
			g.publish(hub.EventTranscript, id, cmd)
		},
		OnSensor: func(sensor string, available bool) {
			g.tel.RecordSensor(ctx, id, sensor, available)
		},
		OnEmergency: func(report guide.EmergencyReport) {
			g.logger.Warn("emergency reported", "device_id", id, "maps_url", report.MapsURL)
			g.publish(hub.EventEmergency, id, report)
		},
	}

	opts := append([]guide.Option{guide.WithLogger(g.cfg.Logger)}, g.cfg.GuideOptions...)
	opts = append(opts,
		guide.WithHooks(hooks),
		guide.WithNavigationOptions(navigation.WithHooks(navHooks)),
	)

	return guide.NewEngine(id, guide.Deps{
		Sink:       dev,
		Location:   dev,
		Renderer:   dev,
		Geocoder:   tracedGeocoder{next: g.cfg.Geocoder, tel: g.tel, deviceID: id},
		Directions: tracedDirections{next: g.cfg.Directions, tel: g.tel, deviceID: id},
	}, opts...)
}

// HandleMessage dispatches one device message.
func (g *Gateway) HandleMessage(dev *Device, data []byte) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		g.replyError(dev, "invalid message: %v", err)
		return
	}

	ctx := context.Background()
	engine := dev.engine

	switch msg.Type {
	case protocol.TypeDetections:
		frame, err := protocol.Decode[protocol.DetectionsData](msg)
		if err != nil {
			g.replyError(dev, "%v", err)
			return
		}
		g.framesReceived.Add(1)
		width := frame.Width
		if width <= 0 {
			width = float64(g.cfg.Camera.Width)
		}
		analysis, announced := engine.HandleFrame(ctx, frame.Detections, width)
		g.tel.RecordFrame(ctx, dev.ID, analysis.Direction.String(), announced)

	case protocol.TypeLocation:
		loc, err := protocol.Decode[protocol.LocationData](msg)
		if err != nil {
			g.replyError(dev, "%v", err)
			return
		}
		pos := loc.Coordinate()
		if !pos.Valid() {
			g.logger.Debug("invalid location dropped", "device_id", dev.ID, "lat", loc.Lat, "lon", loc.Lon)
			return
		}
		ts := loc.Time()
		if ts.IsZero() {
			ts = time.Now()
		}
		dev.handleLocation(navigation.Sample{Position: pos, Accuracy: loc.Accuracy, Time: ts})

	case protocol.TypeCommand:
		cmd, err := protocol.Decode[protocol.CommandData](msg)
		if err != nil {
			g.replyError(dev, "%v", err)
			return
		}
		engine.HandleCommand(ctx, cmd.Text)

	case protocol.TypeVoice:
		voice, err := protocol.Decode[protocol.VoiceData](msg)
		if err != nil {
			g.replyError(dev, "%v", err)
			return
		}
		audio, err := voice.DecodeAudio()
		if err != nil {
			g.replyError(dev, "invalid audio: %v", err)
			return
		}
		if err := engine.HandleVoice(speech.DecodePCM16(audio), voice.SampleRate, voice.Final); err != nil {
			g.replyError(dev, "%v", err)
		}

	case protocol.TypeSensor:
		s, err := protocol.Decode[protocol.SensorData](msg)
		if err != nil {
			g.replyError(dev, "%v", err)
			return
		}
		engine.HandleSensor(ctx, s.Sensor, s.Available, s.Error)

	case protocol.TypeBattery:
		b, err := protocol.Decode[protocol.BatteryData](msg)
		if err != nil {
			g.replyError(dev, "%v", err)
			return
		}
		if b.Level < 0 || b.Level > 1 {
			g.replyError(dev, "battery level %v out of range 0..1", b.Level)
			return
		}
		engine.HandleBattery(ctx, b.Level, b.Charging)

	case protocol.TypeEmergency:
		if err := engine.Emergency(); err != nil {
			g.replyError(dev, "%v", err)
		}

	case protocol.TypeNavigate:
		nav, err := protocol.Decode[protocol.NavigateData](msg)
		if err != nil {
			g.replyError(dev, "%v", err)
			return
		}
		_ = engine.Navigate(nav.Destination)

	case protocol.TypeStop:
		_ = engine.Stop(ctx)

	case protocol.TypePing:
		ping, err := protocol.Decode[protocol.PingData](msg)
		if err != nil {
			g.replyError(dev, "%v", err)
			return
		}
		ts := ping.Timestamp
		if ts == 0 {
			ts = msg.Timestamp
		}
		_ = dev.send(protocol.NewPongMessage(ping.ID, ts, time.Now().UnixMilli()))

	case protocol.TypePong:
		// the device measures latency

	default:
		g.replyError(dev, "unsupported message type %q", msg.Type)
	}
}

func (g *Gateway) replyError(dev *Device, format string, args ...any) {
	g.errorsSent.Add(1)
	g.logger.Debug("device message rejected", "device_id", dev.ID, "error", fmt.Sprintf(format, args...))
	if err := dev.send(protocol.NewErrorMessage(format, args...)); err != nil {
		g.logger.Debug("send error failed", "device_id", dev.ID, "error", err)
	}
}

func (g *Gateway) publish(eventType, deviceID string, data any) {
	if g.cfg.Monitor != nil {
		g.cfg.Monitor.Publish(eventType, deviceID, data)
	}
}

// Device returns a connected device by id.
func (g *Gateway) Device(id string) *Device {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.devices[id]
}

// DeviceCount returns the number of connected devices.
func (g *Gateway) DeviceCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.devices)
}

// Stats contains gateway statistics
type Stats struct {
	Devices          int       `json:"devices"`
	MessagesReceived uint64    `json:"messages_received"`
	MessagesSent     uint64    `json:"messages_sent"`
	FramesReceived   uint64    `json:"frames_received"`
	ErrorsSent       uint64    `json:"errors_sent"`
	Monitor          hub.Stats `json:"monitor"`
}

// GetStats returns gateway statistics
func (g *Gateway) GetStats() Stats {
	s := Stats{
		Devices:          g.DeviceCount(),
		MessagesReceived: g.messagesReceived.Load(),
		MessagesSent:     g.messagesSent.Load(),
		FramesReceived:   g.framesReceived.Load(),
		ErrorsSent:       g.errorsSent.Load(),
	}
	if g.cfg.Monitor != nil {
		s.Monitor = g.cfg.Monitor.Stats()
	}
	return s
}

// DeviceInfo describes a connected device.
type DeviceInfo struct {
	ID         string            `json:"id"`
	Connected  time.Time         `json:"connected"`
	LastSeen   time.Time         `json:"last_seen"`
	Navigation navigation.Status `json:"navigation"`
}

// GetDeviceInfos returns info about all connected devices, oldest first.
func (g *Gateway) GetDeviceInfos() []DeviceInfo {
	g.mu.RLock()
	devices := make([]*Device, 0, len(g.devices))
	for _, d := range g.devices {
		devices = append(devices, d)
	}
	g.mu.RUnlock()

	infos := make([]DeviceInfo, 0, len(devices))
	for _, d := range devices {
		infos = append(infos, d.info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Connected.Before(infos[j].Connected)
	})
	return infos
}

func (d *Device) info() DeviceInfo {
	return DeviceInfo{
		ID:         d.ID,
		Connected:  d.Connected,
		LastSeen:   d.LastSeen(),
		Navigation: d.engine.Status(),
	}
}

// RegisterAPIRoutes registers API routes for device management
func (g *Gateway) RegisterAPIRoutes(api fiber.Router) {
	api.Get("/stats", func(c *fiber.Ctx) error {
		return c.JSON(g.GetStats())
	})

	devices := api.Group("/devices")

	devices.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"devices": g.GetDeviceInfos(),
			"count":   g.DeviceCount(),
		})
	})

	devices.Get("/:id/status", func(c *fiber.Ctx) error {
		dev, err := g.lookup(c.Params("id"))
		if err != nil {
			return err
		}
		return c.JSON(dev.info())
	})

	// Start navigation. With ?wait=true the response carries the plan.
	devices.Post("/:id/navigate", func(c *fiber.Ctx) error {
		dev, err := g.lookup(c.Params("id"))
		if err != nil {
			return err
		}

		var req protocol.NavigateData
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		if req.Destination == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "destination required"})
		}

		if !c.QueryBool("wait") {
			if err := dev.engine.Navigate(req.Destination); err != nil {
				return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
			}
			return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "planning"})
		}

		ctx, end := g.tel.StartSpan(c.UserContext(), "navigation.navigate", dev.ID)
		plan, err := dev.engine.NavigateSync(ctx, req.Destination)
		end(err)
		if err != nil {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error":  err.Error(),
				"reason": failureReason(err),
			})
		}
		return c.JSON(fiber.Map{"status": "navigating", "plan": plan})
	})

	devices.Post("/:id/stop", func(c *fiber.Ctx) error {
		dev, err := g.lookup(c.Params("id"))
		if err != nil {
			return err
		}
		if err := dev.engine.Stop(c.UserContext()); err != nil {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"status": "stopped"})
	})
}

func (g *Gateway) lookup(id string) (*Device, error) {
	dev := g.Device(id)
	if dev == nil {
		return nil, fiber.NewError(fiber.StatusNotFound, "device not connected")
	}
	return dev, nil
}

// MetricsHandler serves gateway counters and telemetry in the Prometheus
// text format.
func (g *Gateway) MetricsHandler(c *fiber.Ctx) error {
	stats := g.GetStats()
	var buf bytes.Buffer
	fmt.Fprintf(&buf, `# HELP smartstick_gateway_devices Connected device count
# TYPE smartstick_gateway_devices gauge
smartstick_gateway_devices %d

# HELP smartstick_gateway_messages_received Total messages received
# TYPE smartstick_gateway_messages_received counter
smartstick_gateway_messages_received %d

# HELP smartstick_gateway_messages_sent Total messages sent
# TYPE smartstick_gateway_messages_sent counter
smartstick_gateway_messages_sent %d

# HELP smartstick_gateway_frames_received Total detection frames received
# TYPE smartstick_gateway_frames_received counter
smartstick_gateway_frames_received %d

# HELP smartstick_monitor_clients Connected monitor clients
# TYPE smartstick_monitor_clients gauge
smartstick_monitor_clients %d

`, stats.Devices, stats.MessagesReceived, stats.MessagesSent, stats.FramesReceived, stats.Monitor.Clients)

	if err := g.tel.WriteText(c.UserContext(), &buf); err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, "text/plain; version=0.0.4")
	return c.Send(buf.Bytes())
}

// Close stops every device engine and waits for background navigation
// work. Connections themselves end when the server shuts down.
func (g *Gateway) Close() {
	g.mu.RLock()
	devices := make([]*Device, 0, len(g.devices))
	for _, d := range g.devices {
		devices = append(devices, d)
	}
	g.mu.RUnlock()

	for _, d := range devices {
		d.engine.Close()
	}
}

// failureReason maps a navigation error to a short label.
func failureReason(err error) string {
	switch {
	case errors.Is(err, navigation.ErrNoDestination):
		return "no_destination"
	case errors.Is(err, navigation.ErrNoPosition):
		return "no_position"
	case errors.Is(err, navigation.ErrDestinationNotFound):
		return "not_found"
	case errors.Is(err, navigation.ErrNoDirections):
		return "no_directions"
	case errors.Is(err, navigation.ErrSuperseded):
		return "superseded"
	case errors.Is(err, errMapsUnavailable):
		return "unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "provider"
	}
}

// noMaps stands in when no map providers are configured.
type noMaps struct{}

func (noMaps) Search(context.Context, string, route.Coordinate) ([]maps.Candidate, error) {
	return nil, errMapsUnavailable
}

func (noMaps) Route(context.Context, route.Coordinate, route.Coordinate) (*maps.Route, error) {
	return nil, errMapsUnavailable
}
