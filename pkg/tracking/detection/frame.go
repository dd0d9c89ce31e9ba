package detection

import (
	"errors"
	"fmt"
	"image"
	"image/draw"

	"github.com/teslashibe/go-cardscan/pkg/geometry"
)

// ErrMalformedFrame is returned for frames whose buffer does not match
// their declared geometry or format.
var ErrMalformedFrame = errors.New("detection: malformed frame")

// PixelFormat identifies the layout of Frame.Pix
type PixelFormat string

// Supported pixel formats.
const (
	FormatBGRA PixelFormat = "bgra"
	FormatRGBA PixelFormat = "rgba"
	FormatBGR  PixelFormat = "bgr"
	FormatGray PixelFormat = "gray"
	FormatNV12 PixelFormat = "nv12" // Y plane followed by interleaved UV at half resolution
)

// BytesPerPixel returns the bytes per pixel of the first plane, or 0 for
// an unknown format.
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case FormatBGRA, FormatRGBA:
		return 4
	case FormatBGR:
		return 3
	case FormatGray, FormatNV12:
		return 1
	default:
		return 0
	}
}

// Frame is one decoded video frame as delivered by the camera pipeline
type Frame struct {
	Pix         []byte
	Width       int
	Height      int
	Stride      int                  // Bytes per row of the first plane (0 = tightly packed)
	Format      PixelFormat          // Pixel layout
	Orientation geometry.Orientation // Native sensor orientation, informational
}

// RowBytes returns the effective stride.
func (f Frame) RowBytes() int {
	if f.Stride > 0 {
		return f.Stride
	}
	return f.Width * f.Format.BytesPerPixel()
}

// Validate checks that the buffer is large enough for the declared
// geometry and format.
func (f Frame) Validate() error {
	bpp := f.Format.BytesPerPixel()
	if bpp == 0 {
		return fmt.Errorf("%w: unknown format %q", ErrMalformedFrame, f.Format)
	}
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("%w: size %dx%d", ErrMalformedFrame, f.Width, f.Height)
	}
	stride := f.RowBytes()
	if stride < f.Width*bpp {
		return fmt.Errorf("%w: stride %d < %d", ErrMalformedFrame, stride, f.Width*bpp)
	}
	need := stride*(f.Height-1) + f.Width*bpp
	if f.Format == FormatNV12 {
		// Luma plane plus the half-height chroma plane
		need = stride * (f.Height + (f.Height+1)/2)
	}
	if len(f.Pix) < need {
		return fmt.Errorf("%w: buffer %d bytes, need %d", ErrMalformedFrame, len(f.Pix), need)
	}
	return nil
}

// FrameFromImage copies img into a tightly packed RGBA frame.
func FrameFromImage(img image.Image) Frame {
	b := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Rect.Min != (image.Point{}) || rgba.Stride != 4*b.Dx() {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	}
	return Frame{
		Pix:         rgba.Pix,
		Width:       b.Dx(),
		Height:      b.Dy(),
		Stride:      rgba.Stride,
		Format:      FormatRGBA,
		Orientation: geometry.OrientationUp,
	}
}
