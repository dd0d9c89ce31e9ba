package protocol

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image/jpeg"

	"github.com/teslashibe/go-cardscan/pkg/geometry"
	"github.com/teslashibe/go-cardscan/pkg/rectify"
	"github.com/teslashibe/go-cardscan/pkg/tracking"
	"github.com/teslashibe/go-cardscan/pkg/tracking/detection"
)

// =============================================================================
// Helper functions for creating messages
// =============================================================================

// NewFrameMessage creates a frame message from a raw pixel buffer
func NewFrameMessage(frame detection.Frame, frameID uint64) (*Message, error) {
	return NewMessage(TypeFrame, FrameData{
		Width:       frame.Width,
		Height:      frame.Height,
		Stride:      frame.Stride,
		Format:      string(frame.Format),
		Orientation: int(frame.Orientation),
		Data:        base64.StdEncoding.EncodeToString(frame.Pix),
		FrameID:     frameID,
	})
}

// NewJPEGFrameMessage creates a frame message from JPEG data
func NewJPEGFrameMessage(width, height int, jpegData []byte, orientation geometry.Orientation, frameID uint64) (*Message, error) {
	return NewMessage(TypeFrame, FrameData{
		Width:       width,
		Height:      height,
		Format:      "jpeg",
		Orientation: int(orientation),
		Data:        base64.StdEncoding.EncodeToString(jpegData),
		FrameID:     frameID,
	})
}

// NewConfigMessage creates a detection option update
func NewConfigMessage(opts ConfigOptions) (*Message, error) {
	return NewMessage(TypeConfig, opts)
}

// NewCaptureMessage creates a capture trigger
func NewCaptureMessage(capture CaptureData) (*Message, error) {
	return NewMessage(TypeCapture, capture)
}

// NewRectanglesMessage creates a tracked-set message. Display rectangles
// are the tracked quads remapped through the frame orientation.
func NewRectanglesMessage(frameID uint64, tracked []tracking.TrackedRectangle, orientation geometry.Orientation) (*Message, error) {
	return NewMessage(TypeRectangles, NewRectanglesData(frameID, tracked, orientation))
}

// NewRectanglesData builds the tracked-set payload
func NewRectanglesData(frameID uint64, tracked []tracking.TrackedRectangle, orientation geometry.Orientation) RectanglesData {
	data := RectanglesData{
		FrameID:    frameID,
		Rectangles: make([]RectangleData, len(tracked)),
		Display:    make([]RectangleData, len(tracked)),
	}
	o := orientation.Normalize()
	for i, tr := range tracked {
		data.Rectangles[i] = FromTracked(tr)
		shown := tr
		shown.Quad = o.MapQuad(tr.Quad)
		data.Display[i] = FromTracked(shown)
	}
	return data
}

// NewNormalizedMessage creates a capture result message
func NewNormalizedMessage(res *rectify.Result) (*Message, error) {
	return NewMessage(TypeNormalized, NewNormalizedData(res))
}

// NewNormalizedData builds the capture result payload
func NewNormalizedData(res *rectify.Result) NormalizedData {
	data := NormalizedData{
		Paths:      res.Paths(),
		CardsFound: len(res.Images),
	}
	for _, r := range res.Rejected {
		data.Rejected = append(data.Rejected, RejectedEntry{Index: r.Index, Reason: r.Err.Error()})
	}
	return data
}

// NewErrorMessage creates an error message
func NewErrorMessage(code, message string) (*Message, error) {
	return NewMessage(TypeError, ErrorData{Code: code, Message: message})
}

// ErrorCode maps an error to its wire code
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, rectify.ErrSourceImageLoad):
		return CodeLoad
	case errors.Is(err, ErrBadFrame), errors.Is(err, ErrBadCapture):
		return CodeBadRequest
	default:
		return CodeInternal
	}
}

// NewPingMessage creates a ping message
func NewPingMessage(id string) (*Message, error) {
	return NewMessage(TypePing, PingData{
		ID:        id,
		Timestamp: 0, // Will be set by NewMessage
	})
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

// =============================================================================
// Helper functions for parsing messages
// =============================================================================

// Errors returned when a payload cannot be turned into a domain value.
var (
	ErrBadFrame   = errors.New("protocol: bad frame")
	ErrBadCapture = errors.New("protocol: bad capture")
)

// GetFrameData extracts frame data from a message
func (m *Message) GetFrameData() (*FrameData, error) {
	var data FrameData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// DecodeFrameData decodes the base64 image data
func (f *FrameData) DecodeFrameData() ([]byte, error) {
	return base64.StdEncoding.DecodeString(f.Data)
}

// Frame decodes the payload into a detection frame. JPEG payloads are
// decompressed; raw formats are validated against the declared geometry.
func (f *FrameData) Frame() (detection.Frame, error) {
	pix, err := f.DecodeFrameData()
	if err != nil {
		return detection.Frame{}, fmt.Errorf("%w: base64: %v", ErrBadFrame, err)
	}
	orientation := geometry.Orientation(f.Orientation).Normalize()

	if f.Format == "jpeg" {
		img, err := jpeg.Decode(bytes.NewReader(pix))
		if err != nil {
			return detection.Frame{}, fmt.Errorf("%w: jpeg: %v", ErrBadFrame, err)
		}
		frame := detection.FrameFromImage(img)
		frame.Orientation = orientation
		return frame, nil
	}

	frame := detection.Frame{
		Pix:         pix,
		Width:       f.Width,
		Height:      f.Height,
		Stride:      f.Stride,
		Format:      detection.PixelFormat(f.Format),
		Orientation: orientation,
	}
	if err := frame.Validate(); err != nil {
		return detection.Frame{}, fmt.Errorf("%w: %w", ErrBadFrame, err)
	}
	return frame, nil
}

// GetConfigOptions extracts detection options from a message
func (m *Message) GetConfigOptions() (ConfigOptions, error) {
	data := ConfigOptions{}
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return data, nil
}

// GetCaptureData extracts a capture trigger from a message
func (m *Message) GetCaptureData() (*CaptureData, error) {
	var data CaptureData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// Request converts a capture into a normalization request. fallback is
// used when the capture carries no rectangles of its own; tracked
// rectangles are in the frame's sensor orientation, so without explicit
// coordinates the request is then in the sensor frame.
func (c *CaptureData) Request(fallback []tracking.TrackedRectangle) (rectify.Request, error) {
	if c.ImagePath == "" {
		return rectify.Request{}, fmt.Errorf("%w: image_path required", ErrBadCapture)
	}
	if c.DPI < 0 {
		return rectify.Request{}, fmt.Errorf("%w: negative dpi", ErrBadCapture)
	}
	untagged := geometry.Orientation(c.UntaggedOrientation)
	if untagged != geometry.OrientationUnknown && !untagged.Valid() {
		return rectify.Request{}, fmt.Errorf("%w: untagged_orientation %d not in 1-8", ErrBadCapture, c.UntaggedOrientation)
	}

	var quads []geometry.Quadrilateral
	if len(c.Rectangles) > 0 {
		for _, r := range c.Rectangles {
			quads = append(quads, r.Quad())
		}
	} else {
		for _, tr := range fallback {
			quads = append(quads, tr.Quad)
		}
	}

	frame := rectify.CoordinateFrame(c.Coordinates)
	switch frame {
	case "":
		frame = rectify.FrameOriented
		if len(c.Rectangles) == 0 {
			frame = rectify.FrameSensor
		}
	case rectify.FrameOriented, rectify.FrameSensor:
	default:
		return rectify.Request{}, fmt.Errorf("%w: unknown coordinates %q", ErrBadCapture, c.Coordinates)
	}

	return rectify.Request{
		ImagePath: c.ImagePath,
		Quads:     quads,
		DPI:       c.DPI,
		Frame:     frame,
		Untagged:  untagged,
	}, nil
}

// GetRectanglesData extracts a tracked set from a message
func (m *Message) GetRectanglesData() (*RectanglesData, error) {
	var data RectanglesData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetNormalizedData extracts a capture result from a message
func (m *Message) GetNormalizedData() (*NormalizedData, error) {
	var data NormalizedData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetErrorData extracts an error from a message
func (m *Message) GetErrorData() (*ErrorData, error) {
	var data ErrorData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPingData extracts ping data from a message
func (m *Message) GetPingData() (*PingData, error) {
	var data PingData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// FromTracked converts a tracked rectangle to its wire form
func FromTracked(tr tracking.TrackedRectangle) RectangleData {
	return RectangleData{
		ID:           tr.ID,
		TopLeft:      tr.Quad.TopLeft,
		TopRight:     tr.Quad.TopRight,
		BottomRight:  tr.Quad.BottomRight,
		BottomLeft:   tr.Quad.BottomLeft,
		Confidence:   tr.Confidence,
		RelativeArea: tr.RelativeArea,
	}
}

// Quad returns the rectangle's corners
func (r RectangleData) Quad() geometry.Quadrilateral {
	return geometry.Quad(r.TopLeft, r.TopRight, r.BottomRight, r.BottomLeft)
}

// GetPongData extracts pong data from a message
func (m *Message) GetPongData() (*PongData, error) {
	var data PongData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// NewEventMessage creates a monitor event
func NewEventMessage(event EventData) (*Message, error) {
	return NewMessage(TypeEvent, event)
}

// GetEventData extracts a monitor event from a message
func (m *Message) GetEventData() (*EventData, error) {
	var data EventData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}
