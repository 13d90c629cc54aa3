// Package protocol defines the WebSocket message types exchanged between a
// guidance device (phone or stick) and the guidance server.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/teslashibe/go-smartstick/pkg/route"
	"github.com/teslashibe/go-smartstick/pkg/vision"
)

// MessageType identifies the type of WebSocket message
type MessageType string

const (
	// Device → Server messages
	TypeDetections MessageType = "detections" // Object detections for one frame
	TypeLocation   MessageType = "location"   // Position sample
	TypeCommand    MessageType = "command"    // Final voice transcript or typed command
	TypeVoice      MessageType = "voice"      // Raw microphone audio
	TypeSensor     MessageType = "sensor"     // Sensor availability change
	TypeNavigate   MessageType = "navigate"   // Start navigation to a destination
	TypeStop       MessageType = "stop"       // Stop navigation
	TypeEmergency  MessageType = "emergency"  // Report the walker's location
	TypeBattery    MessageType = "battery"    // Battery level

	// Server → Device messages
	TypeSpeak         MessageType = "speak"          // Spoken announcement
	TypeHaptic        MessageType = "haptic"         // Vibration pattern
	TypeAlarm         MessageType = "alarm"          // Hazard siren
	TypeRoute         MessageType = "route"          // Route to draw on the map
	TypePosition      MessageType = "position"       // Position marker update
	TypeLocationWatch MessageType = "location_watch" // Start or stop streaming location
	TypeConfig        MessageType = "config"         // Capture configuration
	TypeError         MessageType = "error"          // Protocol error

	// Bidirectional
	TypePing MessageType = "ping" // Health check
	TypePong MessageType = "pong" // Health check response
)

// Message is the base wrapper for all WebSocket messages
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data any) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v any) error {
	if len(m.Data) == 0 {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("failed to parse message: missing type")
	}
	return &msg, nil
}

// =============================================================================
// Device → Server Message Types
// =============================================================================

// DetectionsData carries the detector output for one camera frame.
type DetectionsData struct {
	FrameID    uint64             `json:"frame_id,omitempty"`
	Width      float64            `json:"width"`
	Height     float64            `json:"height,omitempty"`
	Detections []vision.Detection `json:"detections"`
}

// LocationData is one position sample.
type LocationData struct {
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Accuracy  float64 `json:"accuracy,omitempty"` // meters
	Timestamp int64   `json:"ts,omitempty"`       // Unix milliseconds
}

// Coordinate returns the sample position.
func (l LocationData) Coordinate() route.Coordinate {
	return route.Coordinate{Lat: l.Lat, Lon: l.Lon}
}

// Time returns the sample time, or zero if unset.
func (l LocationData) Time() time.Time {
	if l.Timestamp == 0 {
		return time.Time{}
	}
	return time.UnixMilli(l.Timestamp)
}

// CommandData carries a transcript recognized on the device.
type CommandData struct {
	Text string `json:"text"`
}

// VoiceData carries a chunk of microphone audio.
type VoiceData struct {
	Format     string `json:"format"`      // "pcm16"
	SampleRate int    `json:"sample_rate"` // e.g., 16000
	Data       string `json:"data"`        // base64 encoded
	Final      bool   `json:"final,omitempty"`
}

// SensorData reports that a sensor became unavailable or recovered.
type SensorData struct {
	Sensor    string `json:"sensor"` // "camera", "location", "microphone", "model"
	Available bool   `json:"available"`
	Error     string `json:"error,omitempty"`
}

// BatteryData reports the device battery.
type BatteryData struct {
	Level    float64 `json:"level"` // 0..1
	Charging bool    `json:"charging,omitempty"`
}

// NavigateData requests navigation to a destination.
type NavigateData struct {
	Destination string `json:"destination"`
}

// =============================================================================
// Server → Device Message Types
// =============================================================================

// SpeakData is an announcement. Audio is present only when the server
// synthesized it; otherwise the device speaks Text itself.
type SpeakData struct {
	Text   string `json:"text"`
	Kind   string `json:"kind,omitempty"`
	Format string `json:"format,omitempty"` // "mp3", "ogg_opus"
	Data   string `json:"data,omitempty"`   // base64 encoded
}

// HapticData is a vibration pattern in milliseconds, alternating on and off.
type HapticData struct {
	Pattern []int `json:"pattern"`
}

// AlarmData requests the hazard siren.
type AlarmData struct {
	DurationMs int `json:"duration_ms"`
}

// RouteData is a route for the device map.
type RouteData struct {
	PlanID      string             `json:"plan_id"`
	Origin      route.Coordinate   `json:"origin"`
	Destination route.Coordinate   `json:"destination"`
	Geometry    []route.Coordinate `json:"geometry"`
}

// PositionData moves the position marker.
type PositionData struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// LocationWatchData starts or stops location streaming.
type LocationWatchData struct {
	Enabled bool `json:"enabled"`
}

// ConfigUpdate contains configuration the device should apply
type ConfigUpdate struct {
	Camera   *CameraConfig `json:"camera,omitempty"`
	DeviceID string        `json:"device_id,omitempty"`
}

// CameraConfig contains capture settings
type CameraConfig struct {
	Width      int  `json:"width"`
	Height     int  `json:"height"`
	FacingBack bool `json:"facing_back"`
}

// ErrorData reports a message the server could not handle.
type ErrorData struct {
	Message string `json:"message"`
}

// =============================================================================
// Bidirectional Message Types
// =============================================================================

// PingData contains ping information
type PingData struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"ts"`
}

// PongData contains pong response
type PongData struct {
	ID        string `json:"id"`
	PingTS    int64  `json:"ping_ts"`
	PongTS    int64  `json:"pong_ts"`
	LatencyMs int64  `json:"latency_ms"`
}
