// Package protocol defines the WebSocket and HTTP message types exchanged
// between a camera client and the cardscan bridge.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/teslashibe/go-cardscan/pkg/geometry"
)

// MessageType identifies the type of WebSocket message
type MessageType string

const (
	// Client → Bridge messages
	TypeFrame   MessageType = "frame"   // Live preview frame
	TypeConfig  MessageType = "config"  // Detection option update
	TypeCapture MessageType = "capture" // Capture trigger with a still image

	// Bridge → Client messages
	TypeRectangles MessageType = "rectangles" // Tracked set for a frame
	TypeNormalized MessageType = "normalized" // Rectified outputs for a capture
	TypeError      MessageType = "error"      // Request failure

	// Bridge → Monitor messages
	TypeEvent MessageType = "event" // Session lifecycle and capture outcomes

	// Bidirectional
	TypePing MessageType = "ping" // Health check
	TypePong MessageType = "pong" // Health check response
)

// Error codes carried in ErrorData.
const (
	CodeLoad       = "E_LOAD"        // Source still could not be loaded
	CodeBadRequest = "E_BAD_REQUEST" // Malformed message or payload
	CodeBusy       = "E_BUSY"        // A capture is already in progress
	CodeInternal   = "E_INTERNAL"    // Unexpected server failure
)

// Message is the base wrapper for all WebSocket messages
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data interface{}) (*Message, error) {
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
func (m *Message) ParseData(v interface{}) error {
	if m.Data == nil {
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
// Client → Bridge Message Types
// =============================================================================

// FrameData contains one preview frame
type FrameData struct {
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Stride      int    `json:"stride,omitempty"`      // Bytes per row, 0 = packed
	Format      string `json:"format"`                // "bgra", "rgba", "bgr", "gray", "nv12", "jpeg"
	Orientation int    `json:"orientation,omitempty"` // EXIF orientation of the sensor, 0 = up
	Data        string `json:"data"`                  // base64 encoded
	FrameID     uint64 `json:"frame_id,omitempty"`
}

// ConfigOptions carries detection options by name. Both the canonical
// names (minAspectRatio, ...) and the short bridge names (minAspect, ...)
// are accepted.
type ConfigOptions map[string]any

// CaptureData triggers normalization of a still image
type CaptureData struct {
	ImagePath   string          `json:"image_path"`
	DPI         float64         `json:"dpi,omitempty"`         // 0 = 300
	Coordinates string          `json:"coordinates,omitempty"` // "oriented" or "sensor"; default "oriented", or "sensor" for the tracked set
	Rectangles  []RectangleData `json:"rectangles,omitempty"`  // Empty = session's current tracked set

	// UntaggedOrientation is the EXIF orientation (1-8) assumed when the
	// still has none. 0 lets a session use its frames' orientation.
	UntaggedOrientation int `json:"untagged_orientation,omitempty"`
}

// =============================================================================
// Bridge → Client Message Types
// =============================================================================

// RectangleData is a tracked rectangle on the wire
type RectangleData struct {
	ID           string         `json:"id,omitempty"`
	TopLeft      geometry.Point `json:"topLeft"`
	TopRight     geometry.Point `json:"topRight"`
	BottomRight  geometry.Point `json:"bottomRight"`
	BottomLeft   geometry.Point `json:"bottomLeft"`
	Confidence   float64        `json:"confidence,omitempty"`
	RelativeArea float64        `json:"relativeArea,omitempty"`
}

// RectanglesData is the tracked set for one frame. Rectangles are in the
// frame's native sensor orientation; Display holds the same rectangles
// remapped upright for overlay drawing.
type RectanglesData struct {
	FrameID    uint64          `json:"frame_id,omitempty"`
	Rectangles []RectangleData `json:"rectangles"`
	Display    []RectangleData `json:"display"`
}

// RejectedEntry explains why a capture entry produced no image
type RejectedEntry struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// NormalizedData lists the rectified outputs of a capture, in input order
type NormalizedData struct {
	Paths      []string        `json:"paths"`
	Rejected   []RejectedEntry `json:"rejected,omitempty"`
	CardsFound int             `json:"cards_found"`
}

// ErrorData reports a failed request
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Event kinds carried in EventData.
const (
	EventSessionOpened = "session_opened"
	EventSessionClosed = "session_closed"
	EventCaptureDone   = "capture_done"
	EventCaptureFailed = "capture_failed"
)

// EventData is broadcast to monitors
type EventData struct {
	Kind       string `json:"kind"`
	SessionID  string `json:"session_id,omitempty"`
	CardsFound int    `json:"cards_found,omitempty"`
	Rejected   int    `json:"rejected,omitempty"`
	Code       string `json:"code,omitempty"`
	Message    string `json:"message,omitempty"`
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
