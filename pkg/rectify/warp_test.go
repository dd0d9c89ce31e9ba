package rectify

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-cardscan/pkg/geometry"
)

func gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{uint8(x * 255 / w), uint8(y * 255 / h), 90, 255})
		}
	}
	return img
}

func TestWarpIdentity(t *testing.T) {
	src := gradient(64, 48)
	full := pixelQuad([2]float64{0, 0}, [2]float64{64, 0}, [2]float64{64, 48}, [2]float64{0, 48})

	tests := []struct {
		name string
		w    Warper
		tol  int
	}{
		{"homography", HomographyWarper{}, 0},
		{"opencv", OpenCVWarper{}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := tt.w.Warp(src, full, 64, 48)
			if err != nil {
				t.Fatal(err)
			}
			if d := maxPixelDiff(src, out); d > tt.tol {
				t.Errorf("identity warp differs by %d, want <= %d", d, tt.tol)
			}
		})
	}
}

func TestOpenCVWarperInterpolation(t *testing.T) {
	// 4x4 black and white checkerboard, upscaled 2x
	src := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			v := uint8(0)
			if (x+y)%2 == 0 {
				v = 255
			}
			src.SetNRGBA(x, y, color.NRGBA{v, v, v, 255})
		}
	}
	full := pixelQuad([2]float64{0, 0}, [2]float64{4, 0}, [2]float64{4, 4}, [2]float64{0, 4})

	// intermediate reports whether any output pixel is neither black nor white
	intermediate := func(img *image.NRGBA) bool {
		for y := 0; y < img.Rect.Dy(); y++ {
			for x := 0; x < img.Rect.Dx(); x++ {
				if r := nrgbaAt(img, x, y).R; r != 0 && r != 255 {
					return true
				}
			}
		}
		return false
	}

	tests := []struct {
		name             string
		w                OpenCVWarper
		wantIntermediate bool
	}{
		{"default is linear", OpenCVWarper{}, true},
		{"nearest neighbor", NewOpenCVWarper(gocv.InterpolationNearestNeighbor), false},
		{"explicit linear", NewOpenCVWarper(gocv.InterpolationLinear), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := tt.w.Warp(src, full, 8, 8)
			if err != nil {
				t.Fatal(err)
			}
			if got := intermediate(out); got != tt.wantIntermediate {
				t.Errorf("intermediate values = %v, want %v", got, tt.wantIntermediate)
			}
		})
	}
}

func TestWarpSubRegion(t *testing.T) {
	src := gradient(100, 100)
	region := pixelQuad([2]float64{20, 30}, [2]float64{60, 30}, [2]float64{60, 90}, [2]float64{20, 90})

	out, err := HomographyWarper{}.Warp(src, region, 40, 60)
	if err != nil {
		t.Fatal(err)
	}
	if d := maxPixelDiff(src.SubImage(image.Rect(20, 30, 60, 90)), out); d != 0 {
		t.Errorf("axis-aligned crop differs by %d", d)
	}
}

func TestWarpSingular(t *testing.T) {
	src := gradient(10, 10)
	line := pixelQuad([2]float64{0, 0}, [2]float64{5, 5}, [2]float64{10, 10}, [2]float64{2, 2})

	if _, err := (HomographyWarper{}).Warp(src, line, 10, 10); !errors.Is(err, geometry.ErrSingular) {
		t.Errorf("err = %v, want ErrSingular", err)
	}
	if _, err := (HomographyWarper{}).Warp(src, line, 0, 10); err == nil {
		t.Error("zero width accepted")
	}
}

func TestNaturalSize(t *testing.T) {
	q := pixelQuad([2]float64{10, 10}, [2]float64{110, 20}, [2]float64{100, 160}, [2]float64{20, 150})
	w, h := NaturalSize(q)
	// top edge ~100.5, bottom ~80.6; left ~140.3, right ~140.4
	if w != 100 || h != 140 {
		t.Errorf("NaturalSize = %dx%d, want 100x140", w, h)
	}
}

func TestRescale(t *testing.T) {
	src := gradient(30, 50)
	out := Rescale(src, 744, 1039)
	if b := out.Bounds(); b.Dx() != 744 || b.Dy() != 1039 {
		t.Errorf("Rescale size %v, want 744x1039", b.Size())
	}
	if same := Rescale(src, 30, 50); same != src {
		t.Error("Rescale to the same size should return src")
	}
}
