package protocol

import (
	"encoding/base64"
	"fmt"

	"github.com/teslashibe/go-smartstick/pkg/route"
)

// =============================================================================
// Helper functions for creating messages
// =============================================================================

// NewSpeakMessage creates a speak message. audio may be nil.
func NewSpeakMessage(text, kind string, audio []byte, format string) (*Message, error) {
	data := SpeakData{Text: text, Kind: kind}
	if len(audio) > 0 {
		data.Format = format
		data.Data = base64.StdEncoding.EncodeToString(audio)
	}
	return NewMessage(TypeSpeak, data)
}

// NewHapticMessage creates a vibration message
func NewHapticMessage(pattern []int) (*Message, error) {
	return NewMessage(TypeHaptic, HapticData{Pattern: pattern})
}

// NewAlarmMessage creates a siren message
func NewAlarmMessage(durationMs int) (*Message, error) {
	return NewMessage(TypeAlarm, AlarmData{DurationMs: durationMs})
}

// NewRouteMessage creates a route drawing message
func NewRouteMessage(planID string, origin, dest route.Coordinate, geometry []route.Coordinate) (*Message, error) {
	return NewMessage(TypeRoute, RouteData{
		PlanID:      planID,
		Origin:      origin,
		Destination: dest,
		Geometry:    geometry,
	})
}

// NewPositionMessage creates a marker update message
func NewPositionMessage(pos route.Coordinate) (*Message, error) {
	return NewMessage(TypePosition, PositionData{Lat: pos.Lat, Lon: pos.Lon})
}

// NewLocationWatchMessage starts or stops device location streaming
func NewLocationWatchMessage(enabled bool) (*Message, error) {
	return NewMessage(TypeLocationWatch, LocationWatchData{Enabled: enabled})
}

// NewConfigMessage creates a configuration message
func NewConfigMessage(deviceID string, camera *CameraConfig) (*Message, error) {
	return NewMessage(TypeConfig, ConfigUpdate{DeviceID: deviceID, Camera: camera})
}

// NewErrorMessage creates an error message
func NewErrorMessage(format string, args ...any) (*Message, error) {
	return NewMessage(TypeError, ErrorData{Message: fmt.Sprintf(format, args...)})
}

// NewPingMessage creates a ping message
func NewPingMessage(id string, ts int64) (*Message, error) {
	return NewMessage(TypePing, PingData{ID: id, Timestamp: ts})
}

// NewPongMessage creates a pong response message
func NewPongMessage(id string, pingTS, pongTS int64) (*Message, error) {
	return NewMessage(TypePong, PongData{
		ID:        id,
		PingTS:    pingTS,
		PongTS:    pongTS,
		LatencyMs: pongTS - pingTS,
	})
}

// NewDetectionsMessage creates a detections message
func NewDetectionsMessage(data DetectionsData) (*Message, error) {
	return NewMessage(TypeDetections, data)
}

// NewLocationMessage creates a location message
func NewLocationMessage(data LocationData) (*Message, error) {
	return NewMessage(TypeLocation, data)
}

// NewCommandMessage creates a command message
func NewCommandMessage(text string) (*Message, error) {
	return NewMessage(TypeCommand, CommandData{Text: text})
}

// NewVoiceMessage creates a voice message from little-endian PCM16 bytes
func NewVoiceMessage(pcm []byte, sampleRate int, final bool) (*Message, error) {
	return NewMessage(TypeVoice, VoiceData{
		Format:     "pcm16",
		SampleRate: sampleRate,
		Data:       base64.StdEncoding.EncodeToString(pcm),
		Final:      final,
	})
}

// =============================================================================
// Helper functions for parsing messages
// =============================================================================

// Decode unmarshals the message data into a new T.
func Decode[T any](m *Message) (*T, error) {
	var data T
	if err := m.ParseData(&data); err != nil {
		return nil, fmt.Errorf("decode %s: %w", m.Type, err)
	}
	return &data, nil
}

// DecodeAudio decodes the base64 audio data
func (v *VoiceData) DecodeAudio() ([]byte, error) {
	return base64.StdEncoding.DecodeString(v.Data)
}

// DecodeAudio decodes the base64 audio data, if any
func (s *SpeakData) DecodeAudio() ([]byte, error) {
	if s.Data == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(s.Data)
}
