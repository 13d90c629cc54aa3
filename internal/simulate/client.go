package simulate

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-smartstick/pkg/protocol"
)

// Config configures a simulation run.
type Config struct {
	Dialer *websocket.Dialer

	// Linger is how long to keep reading replies after the last step.
	Linger time.Duration

	// Observer sees every server message as it arrives.
	Observer func(*protocol.Message)

	Logger *slog.Logger
}

// Option configures a simulation run.
type Option func(*Config)

// WithDialer sets the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Config) {
		c.Dialer = d
	}
}

// WithLinger sets how long to wait for replies after the last step.
func WithLinger(d time.Duration) Option {
	return func(c *Config) {
		c.Linger = d
	}
}

// WithObserver registers a callback for server messages.
func WithObserver(fn func(*protocol.Message)) Option {
	return func(c *Config) {
		c.Observer = fn
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// DefaultConfig returns the default run configuration.
func DefaultConfig() *Config {
	return &Config{
		Dialer: websocket.DefaultDialer,
		Linger: time.Second,
		Logger: slog.Default(),
	}
}

// Report summarizes what the server sent back.
type Report struct {
	DeviceID string                       `json:"device_id"`
	Sent     int                          `json:"sent"`
	Received map[protocol.MessageType]int `json:"received"`
	Spoken   []string                     `json:"spoken"`
	Errors   []string                     `json:"errors,omitempty"`
}

// DeviceURL returns the device websocket endpoint of a server. http and
// https base URLs are mapped to ws and wss.
func DeviceURL(server, deviceID string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("simulate: server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("simulate: unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/device"
	u.RawPath = ""
	if deviceID != "" {
		// RawPath keeps a "/" inside the id escaped as one segment.
		u.RawPath = u.EscapedPath() + "/" + url.PathEscape(deviceID)
		u.Path += "/" + deviceID
	}
	return u.String(), nil
}

// Run connects to server as the scenario's device, plays every step and
// returns what the server sent back.
func Run(ctx context.Context, server string, sc *Scenario, opts ...Option) (*Report, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	logger := cfg.Logger.With("component", "simulate")

	target, err := DeviceURL(server, sc.DeviceID)
	if err != nil {
		return nil, err
	}
	conn, _, err := cfg.Dialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, fmt.Errorf("simulate: dial %s: %w", target, err)
	}
	defer conn.Close()
	logger.Info("connected", "url", target)

	report := &Report{DeviceID: sc.DeviceID, Received: make(map[protocol.MessageType]int)}
	var mu sync.Mutex
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			msg, err := protocol.ParseMessage(data)
			if err != nil {
				logger.Warn("unparseable server message", "error", err)
				continue
			}
			mu.Lock()
			report.record(msg)
			mu.Unlock()
			if cfg.Observer != nil {
				cfg.Observer(msg)
			}
		}
	}()

	runErr := play(ctx, conn, sc, report, &mu)
	if runErr == nil {
		runErr = sleep(ctx, cfg.Linger)
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	conn.Close()
	<-done

	mu.Lock()
	defer mu.Unlock()
	return report, runErr
}

func play(ctx context.Context, conn *websocket.Conn, sc *Scenario, report *Report, mu *sync.Mutex) error {
	for i, step := range sc.Steps {
		if step.Wait > 0 {
			if err := sleep(ctx, step.Wait); err != nil {
				return err
			}
			continue
		}

		msg, err := step.Message(sc)
		if err != nil {
			return fmt.Errorf("simulate: step %d: %w", i+1, err)
		}
		data, err := msg.Bytes()
		if err != nil {
			return fmt.Errorf("simulate: step %d: %w", i+1, err)
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return fmt.Errorf("simulate: step %d: send: %w", i+1, err)
		}
		mu.Lock()
		report.Sent++
		mu.Unlock()

		if i < len(sc.Steps)-1 {
			if err := sleep(ctx, sc.Interval); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Report) record(msg *protocol.Message) {
	r.Received[msg.Type]++
	switch msg.Type {
	case protocol.TypeConfig:
		var cfg protocol.ConfigUpdate
		if err := msg.ParseData(&cfg); err == nil && r.DeviceID == "" {
			r.DeviceID = cfg.DeviceID
		}
	case protocol.TypeSpeak:
		var s protocol.SpeakData
		if err := msg.ParseData(&s); err == nil {
			r.Spoken = append(r.Spoken, s.Text)
		}
	case protocol.TypeError:
		var e protocol.ErrorData
		if err := msg.ParseData(&e); err == nil {
			r.Errors = append(r.Errors, e.Message)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}
