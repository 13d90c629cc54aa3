package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/teslashibe/go-smartstick/pkg/alert"
	"github.com/teslashibe/go-smartstick/pkg/guide"
	"github.com/teslashibe/go-smartstick/pkg/hub"
	"github.com/teslashibe/go-smartstick/pkg/navigation"
	"github.com/teslashibe/go-smartstick/pkg/protocol"
	"github.com/teslashibe/go-smartstick/pkg/route"
)

// Conn is the write side of a device websocket.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
}

var _ Conn = (*websocket.Conn)(nil)

// Device is one connected device. It is the announcement sink, location
// source and map renderer of the device's guidance engine.
type Device struct {
	ID        string
	Connected time.Time

	conn    Conn
	cfg     *Config
	logger  *slog.Logger
	sent    *atomic.Uint64
	engine  *guide.Engine
	closing atomic.Bool

	// serializes socket writes
	mu       sync.Mutex
	lastSeen time.Time

	locMu   sync.Mutex
	last    *navigation.Sample
	subs    map[int]func(navigation.Sample)
	nextSub int
}

var (
	_ alert.Sink                = (*Device)(nil)
	_ alert.Alarmer             = (*Device)(nil)
	_ navigation.LocationSource = (*Device)(nil)
	_ navigation.MapRenderer    = (*Device)(nil)
)

func newDevice(id string, conn Conn, cfg *Config, sent *atomic.Uint64) *Device {
	now := time.Now()
	return &Device{
		ID:        id,
		Connected: now,
		conn:      conn,
		cfg:       cfg,
		logger:    cfg.Logger.With("component", "gateway.device", "device_id", id),
		sent:      sent,
		lastSeen:  now,
		subs:      make(map[int]func(navigation.Sample)),
	}
}

// Engine returns the device's guidance engine.
func (d *Device) Engine() *guide.Engine {
	return d.engine
}

// LastSeen returns when the device last sent a message.
func (d *Device) LastSeen() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastSeen
}

func (d *Device) touch() {
	d.mu.Lock()
	d.lastSeen = time.Now()
	d.mu.Unlock()
}

// Send writes a message to the device.
func (d *Device) Send(msg *protocol.Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("gateway: send %s: %w", msg.Type, err)
	}
	if d.sent != nil {
		d.sent.Add(1)
	}
	return nil
}

func (d *Device) send(msg *protocol.Message, err error) error {
	if err != nil {
		return err
	}
	return d.Send(msg)
}

// Speak sends a speak message, with synthesized audio when a provider is
// configured. Synthesis failures fall back to text only.
func (d *Device) Speak(ctx context.Context, text string) error {
	var audio []byte
	var format string
	if d.cfg.TTS != nil {
		res, err := d.cfg.TTS.Synthesize(ctx, text)
		switch {
		case err != nil:
			d.logger.Warn("speech synthesis failed, sending text only", "error", err)
		default:
			audio = res.Audio
			format = string(res.Encoding)
		}
	}
	return d.send(protocol.NewSpeakMessage(text, "", audio, format))
}

// Vibrate sends a haptic message.
func (d *Device) Vibrate(ctx context.Context, pattern alert.Pattern) error {
	return d.send(protocol.NewHapticMessage([]int(pattern)))
}

// Alarm sends the hazard siren.
func (d *Device) Alarm(ctx context.Context) error {
	return d.send(protocol.NewAlarmMessage(int(d.cfg.SirenDuration / time.Millisecond)))
}

// DrawRoute sends the route for the device map.
func (d *Device) DrawRoute(ctx context.Context, origin, destination route.Coordinate, geometry []route.Coordinate) error {
	return d.send(protocol.NewRouteMessage("", origin, destination, geometry))
}

// UpdatePosition moves the device's map marker.
func (d *Device) UpdatePosition(ctx context.Context, pos route.Coordinate) error {
	if d.cfg.Monitor != nil {
		d.cfg.Monitor.Publish(hub.EventPosition, d.ID, pos)
	}
	return d.send(protocol.NewPositionMessage(pos))
}

// Current returns the latest fix if it is recent enough. Otherwise it asks
// the device to stream its location and waits for the next fix.
func (d *Device) Current(ctx context.Context) (navigation.Sample, error) {
	ch := make(chan navigation.Sample, 1)

	d.locMu.Lock()
	if d.last != nil && time.Since(d.last.Time) <= d.cfg.FixMaxAge {
		s := *d.last
		d.locMu.Unlock()
		return s, nil
	}
	id := d.addSubLocked(func(s navigation.Sample) {
		select {
		case ch <- s:
		default:
		}
	})
	d.locMu.Unlock()
	defer d.removeSub(id)

	timer := time.NewTimer(d.cfg.FixTimeout)
	defer timer.Stop()

	select {
	case s := <-ch:
		return s, nil
	case <-timer.C:
		return navigation.Sample{}, navigation.ErrNoPosition
	case <-ctx.Done():
		return navigation.Sample{}, ctx.Err()
	}
}

// Subscribe delivers every fix to fn until cancel is called. The device
// streams its location while at least one subscriber is registered.
func (d *Device) Subscribe(fn func(navigation.Sample)) (func(), error) {
	if d.closing.Load() {
		return nil, errors.New("gateway: device disconnected")
	}

	d.locMu.Lock()
	id := d.addSubLocked(fn)
	d.locMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { d.removeSub(id) })
	}, nil
}

// addSubLocked registers fn and turns streaming on for the first subscriber.
func (d *Device) addSubLocked(fn func(navigation.Sample)) int {
	id := d.nextSub
	d.nextSub++
	d.subs[id] = fn
	if len(d.subs) == 1 {
		d.watch(true)
	}
	return id
}

func (d *Device) removeSub(id int) {
	d.locMu.Lock()
	defer d.locMu.Unlock()
	if _, ok := d.subs[id]; !ok {
		return
	}
	delete(d.subs, id)
	if len(d.subs) == 0 {
		d.watch(false)
	}
}

func (d *Device) watch(enabled bool) {
	if d.closing.Load() {
		return
	}
	if err := d.send(protocol.NewLocationWatchMessage(enabled)); err != nil {
		d.logger.Warn("location watch failed", "enabled", enabled, "error", err)
	}
}

// handleLocation stores a fix and fans it out to subscribers.
func (d *Device) handleLocation(s navigation.Sample) {
	d.locMu.Lock()
	d.last = &s
	subs := make([]func(navigation.Sample), 0, len(d.subs))
	for _, fn := range d.subs {
		subs = append(subs, fn)
	}
	d.locMu.Unlock()

	for _, fn := range subs {
		fn(s)
	}
}

// Subscribers returns the number of location subscribers.
func (d *Device) Subscribers() int {
	d.locMu.Lock()
	defer d.locMu.Unlock()
	return len(d.subs)
}
