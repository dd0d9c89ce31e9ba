package rectify

import (
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"gocv.io/x/gocv"

	"github.com/teslashibe/go-cardscan/pkg/geometry"
)

// OpenCVWarper is a Warper backed by OpenCV's perspective transform
type OpenCVWarper struct {
	// Interpolation used by WarpPerspective (nil = linear).
	Interpolation *gocv.InterpolationFlags
}

// NewOpenCVWarper returns an OpenCVWarper using the given interpolation.
func NewOpenCVWarper(interp gocv.InterpolationFlags) OpenCVWarper {
	return OpenCVWarper{Interpolation: &interp}
}

// Warp implements Warper.
func (w OpenCVWarper) Warp(src *image.NRGBA, quad geometry.Quadrilateral, width, height int) (*image.NRGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("rectify: invalid output size %dx%d", width, height)
	}

	mat, err := gocv.ImageToMatRGBA(src)
	if err != nil {
		return nil, fmt.Errorf("rectify: image to mat: %w", err)
	}
	defer mat.Close()

	srcPts := gocv.NewPoint2fVectorFromPoints([]gocv.Point2f{
		{X: float32(quad.TopLeft.X), Y: float32(quad.TopLeft.Y)},
		{X: float32(quad.TopRight.X), Y: float32(quad.TopRight.Y)},
		{X: float32(quad.BottomRight.X), Y: float32(quad.BottomRight.Y)},
		{X: float32(quad.BottomLeft.X), Y: float32(quad.BottomLeft.Y)},
	})
	defer srcPts.Close()

	fw, fh := float32(width), float32(height)
	dstPts := gocv.NewPoint2fVectorFromPoints([]gocv.Point2f{
		{X: 0, Y: 0},
		{X: fw, Y: 0},
		{X: fw, Y: fh},
		{X: 0, Y: fh},
	})
	defer dstPts.Close()

	m := gocv.GetPerspectiveTransform2f(srcPts, dstPts)
	defer m.Close()
	if m.Empty() {
		return nil, geometry.ErrSingular
	}

	interp := gocv.InterpolationLinear
	if w.Interpolation != nil {
		interp = *w.Interpolation
	}

	out := gocv.NewMat()
	defer out.Close()
	gocv.WarpPerspectiveWithParams(mat, &out, m, image.Pt(width, height), interp, gocv.BorderReplicate, color.RGBA{})

	img, err := out.ToImage()
	if err != nil {
		return nil, fmt.Errorf("rectify: mat to image: %w", err)
	}
	return imaging.Clone(img), nil
}
