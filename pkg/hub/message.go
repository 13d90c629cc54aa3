// Package hub fans out monitor events to dashboard websocket clients using
// the channel-based broadcast pattern: one goroutine owns the client set and
// every client has its own buffered send queue and write pump.
package hub

import "time"

// MessageType indicates the websocket message format
type MessageType int

const (
	// JSONMessage is a JSON-encoded message
	JSONMessage MessageType = iota
	// BinaryMessage is raw binary data
	BinaryMessage
)

// Message represents a message to be broadcast to clients
type Message struct {
	Type MessageType
	Data []byte
}

// NewJSONMessage creates a JSON message from pre-encoded bytes
func NewJSONMessage(data []byte) Message {
	return Message{Type: JSONMessage, Data: data}
}

// NewBinaryMessage creates a binary message
func NewBinaryMessage(data []byte) Message {
	return Message{Type: BinaryMessage, Data: data}
}

// Event types published to the monitor.
const (
	EventDeviceConnected    = "device_connected"
	EventDeviceDisconnected = "device_disconnected"
	EventFrame              = "frame"
	EventAnnouncement       = "announcement"
	EventTracks             = "tracks"
	EventPosition           = "position"
	EventRoute              = "route"
	EventNavigation         = "navigation"
	EventTranscript         = "transcript"
	EventEmergency          = "emergency"
)

// Event is the JSON envelope sent to monitor clients.
type Event struct {
	Type     string    `json:"type"`
	DeviceID string    `json:"device_id,omitempty"`
	Time     time.Time `json:"time"`
	Data     any       `json:"data,omitempty"`
}
