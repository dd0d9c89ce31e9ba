package rectify

import (
	"image"

	"golang.org/x/image/draw"
)

// Rescale resizes src independently in X and Y to exactly width x height
// using Catmull-Rom resampling.
func Rescale(src *image.NRGBA, width, height int) *image.NRGBA {
	if src.Rect.Dx() == width && src.Rect.Dy() == height {
		return src
	}
	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Rect, src, src.Rect, draw.Src, nil)
	return dst
}
