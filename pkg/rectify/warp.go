package rectify

import (
	"fmt"
	"image"
	"math"

	"github.com/teslashibe/go-cardscan/pkg/geometry"
)

// Warper applies a 4-point projective transform, pulling the region
// bounded by quad (pixel coordinates, canonical corner order) out of src
// into an axis-aligned image of size width x height.
type Warper interface {
	Warp(src *image.NRGBA, quad geometry.Quadrilateral, width, height int) (*image.NRGBA, error)
}

// NaturalSize returns the rectified size that preserves the quad's
// resolution: the longer of each pair of opposite edges.
func NaturalSize(quad geometry.Quadrilateral) (width, height int) {
	top := quad.TopLeft.Dist(quad.TopRight)
	bottom := quad.BottomLeft.Dist(quad.BottomRight)
	left := quad.TopLeft.Dist(quad.BottomLeft)
	right := quad.TopRight.Dist(quad.BottomRight)

	width = int(math.Round(math.Max(top, bottom)))
	height = int(math.Round(math.Max(left, right)))
	return max(width, 1), max(height, 1)
}

// HomographyWarper is a pure Go Warper with bilinear sampling
type HomographyWarper struct{}

// Warp implements Warper.
func (HomographyWarper) Warp(src *image.NRGBA, quad geometry.Quadrilateral, width, height int) (*image.NRGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("rectify: invalid output size %dx%d", width, height)
	}
	h, err := geometry.RectToQuad(float64(width), float64(height), quad)
	if err != nil {
		return nil, err
	}

	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		row := dst.Pix[y*dst.Stride:]
		for x := 0; x < width; x++ {
			// Pixel centers on both sides
			p := h.Apply(geometry.Pt(float64(x)+0.5, float64(y)+0.5))
			r, g, b, a := bilinear(src, p.X-0.5, p.Y-0.5)
			row[x*4+0] = r
			row[x*4+1] = g
			row[x*4+2] = b
			row[x*4+3] = a
		}
	}
	return dst, nil
}

// bilinear samples src at fractional pixel-index coordinates, clamping to
// the image edges
func bilinear(src *image.NRGBA, fx, fy float64) (r, g, b, a uint8) {
	bounds := src.Rect
	w, h := bounds.Dx(), bounds.Dy()
	if math.IsNaN(fx) || math.IsNaN(fy) {
		return 0, 0, 0, 0
	}

	fx = math.Min(math.Max(fx, 0), float64(w-1))
	fy = math.Min(math.Max(fy, 0), float64(h-1))
	x0, y0 := int(fx), int(fy)
	x1, y1 := min(x0+1, w-1), min(y0+1, h-1)
	tx, ty := fx-float64(x0), fy-float64(y0)

	at := func(x, y int) []uint8 {
		i := src.PixOffset(bounds.Min.X+x, bounds.Min.Y+y)
		return src.Pix[i : i+4]
	}
	p00, p10, p01, p11 := at(x0, y0), at(x1, y0), at(x0, y1), at(x1, y1)

	var out [4]uint8
	for c := 0; c < 4; c++ {
		top := float64(p00[c])*(1-tx) + float64(p10[c])*tx
		bottom := float64(p01[c])*(1-tx) + float64(p11[c])*tx
		out[c] = uint8(math.Round(top*(1-ty) + bottom*ty))
	}
	return out[0], out[1], out[2], out[3]
}
