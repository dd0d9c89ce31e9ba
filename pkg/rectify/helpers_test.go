package rectify

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/teslashibe/go-cardscan/pkg/geometry"
)

var (
	background = color.NRGBA{128, 128, 128, 255}
	quadrant   = [4]color.NRGBA{
		{220, 30, 30, 255},  // top-left
		{30, 200, 30, 255},  // top-right
		{30, 30, 220, 255},  // bottom-left
		{230, 220, 40, 255}, // bottom-right
	}
)

// quadrantColor returns the expected artwork color at card coordinates u, v
func quadrantColor(u, v float64) color.NRGBA {
	i := 0
	if u >= 0.5 {
		i++
	}
	if v >= 0.5 {
		i += 2
	}
	return quadrant[i]
}

// cardScene renders a w x h image with a four-color card projected onto
// the pixel quadrilateral q.
func cardScene(t *testing.T, w, h int, q geometry.Quadrilateral) *image.NRGBA {
	t.Helper()
	toCard, err := geometry.QuadToSquare(q)
	if err != nil {
		t.Fatalf("QuadToSquare: %v", err)
	}
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			p := toCard.Apply(geometry.Pt(float64(x)+0.5, float64(y)+0.5))
			c := background
			if p.X >= 0 && p.X <= 1 && p.Y >= 0 && p.Y <= 1 {
				c = quadrantColor(p.X, p.Y)
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func writePNGFile(t *testing.T, dir, name string, img image.Image) string {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// jpegWithOrientation encodes img as JPEG carrying a minimal EXIF APP1
// segment with the given orientation tag.
func jpegWithOrientation(t *testing.T, img image.Image, o geometry.Orientation) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		t.Fatalf("jpeg.Encode: %v", err)
	}
	raw := buf.Bytes()

	app1 := []byte{
		0xFF, 0xE1, 0x00, 0x22, // APP1, length 34
		'E', 'x', 'i', 'f', 0x00, 0x00,
		'I', 'I', 0x2A, 0x00, 0x08, 0x00, 0x00, 0x00, // little-endian TIFF, IFD0 at 8
		0x01, 0x00, // one entry
		0x12, 0x01, 0x03, 0x00, 0x01, 0x00, 0x00, 0x00, byte(o), 0x00, 0x00, 0x00, // Orientation, SHORT, 1
		0x00, 0x00, 0x00, 0x00, // no next IFD
	}

	out := make([]byte, 0, len(raw)+len(app1))
	out = append(out, raw[:2]...) // SOI
	out = append(out, app1...)
	out = append(out, raw[2:]...)
	return out
}

func readPNG(t *testing.T, path string) image.Image {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return img
}

func nrgbaAt(img image.Image, x, y int) color.NRGBA {
	return color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
}

func near(a, b color.NRGBA, tol int) bool {
	d := func(x, y uint8) int {
		if x > y {
			return int(x - y)
		}
		return int(y - x)
	}
	return d(a.R, b.R) <= tol && d(a.G, b.G) <= tol && d(a.B, b.B) <= tol
}

// maxPixelDiff returns the largest per-channel difference between two
// same-sized images, or 255 if the sizes differ.
func maxPixelDiff(a, b image.Image) int {
	if a.Bounds().Size() != b.Bounds().Size() {
		return 255
	}
	worst := 0
	ab, bb := a.Bounds(), b.Bounds()
	for y := 0; y < ab.Dy(); y++ {
		for x := 0; x < ab.Dx(); x++ {
			ca := nrgbaAt(a, ab.Min.X+x, ab.Min.Y+y)
			cb := nrgbaAt(b, bb.Min.X+x, bb.Min.Y+y)
			for _, d := range []int{
				int(ca.R) - int(cb.R), int(ca.G) - int(cb.G),
				int(ca.B) - int(cb.B), int(ca.A) - int(cb.A),
			} {
				if d < 0 {
					d = -d
				}
				worst = max(worst, d)
			}
		}
	}
	return worst
}

func pixelQuad(tl, tr, br, bl [2]float64) geometry.Quadrilateral {
	return geometry.Quad(
		geometry.Pt(tl[0], tl[1]), geometry.Pt(tr[0], tr[1]),
		geometry.Pt(br[0], br[1]), geometry.Pt(bl[0], bl[1]),
	)
}
