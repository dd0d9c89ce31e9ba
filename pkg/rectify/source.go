package rectify

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/url"
	"os"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/teslashibe/go-cardscan/pkg/geometry"
)

// Source is a decoded still with its orientation already applied
type Source struct {
	Image *image.NRGBA

	// Orientation is the orientation that was applied: the EXIF tag, or
	// the caller's fallback when the still has none.
	Orientation geometry.Orientation

	// Tagged reports whether Orientation came from the still's metadata.
	Tagged bool
}

// Width returns the upright width in pixels.
func (s *Source) Width() int { return s.Image.Rect.Dx() }

// Height returns the upright height in pixels.
func (s *Source) Height() int { return s.Image.Rect.Dy() }

// ResolvePath turns a capture-layer image reference into a filesystem path.
// Both plain paths and file:// URLs are accepted.
func ResolvePath(ref string) string {
	if !strings.HasPrefix(ref, "file://") {
		return ref
	}
	if u, err := url.Parse(ref); err == nil && u.Path != "" {
		return u.Path
	}
	return strings.TrimPrefix(ref, "file://")
}

// LoadSource reads and decodes the still at ref and rotates it upright
// according to its EXIF orientation. A missing tag means upright.
func LoadSource(ref string) (*Source, error) {
	return loadSource(ref, geometry.OrientationUp)
}

// loadSource is LoadSource with the orientation assumed for untagged stills
func loadSource(ref string, untagged geometry.Orientation) (*Source, error) {
	path := ResolvePath(ref)
	if path == "" {
		return nil, &SourceError{Path: ref, Err: fmt.Errorf("empty image path")}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &SourceError{Path: path, Err: err}
	}
	return decodeSource(data, path, untagged)
}

// DecodeSource decodes an in-memory still. name is only used in errors.
func DecodeSource(data []byte, name string) (*Source, error) {
	return decodeSource(data, name, geometry.OrientationUp)
}

func decodeSource(data []byte, name string, untagged geometry.Orientation) (*Source, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &SourceError{Path: name, Err: err}
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, &SourceError{Path: name, Err: fmt.Errorf("empty image %dx%d", b.Dx(), b.Dy())}
	}

	o, tagged := readOrientation(data)
	if !tagged {
		o = untagged.Normalize()
	}
	return &Source{Image: applyOrientation(img, o), Orientation: o, Tagged: tagged}, nil
}

// readOrientation extracts a valid EXIF orientation tag, if any
func readOrientation(data []byte) (geometry.Orientation, bool) {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return geometry.OrientationUnknown, false
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return geometry.OrientationUnknown, false
	}
	v, err := tag.Int(0)
	if err != nil || !geometry.Orientation(v).Valid() {
		return geometry.OrientationUnknown, false
	}
	return geometry.Orientation(v), true
}

// applyOrientation returns img transformed into its upright display form.
// The mapping matches geometry.Orientation.MapPoint.
func applyOrientation(img image.Image, o geometry.Orientation) *image.NRGBA {
	switch o {
	case geometry.OrientationUpMirrored:
		return imaging.FlipH(img)
	case geometry.OrientationDown:
		return imaging.Rotate180(img)
	case geometry.OrientationDownMirrored:
		return imaging.FlipV(img)
	case geometry.OrientationLeftMirrored:
		return imaging.Transpose(img)
	case geometry.OrientationRight:
		return imaging.Rotate270(img)
	case geometry.OrientationRightMirrored:
		return imaging.Transverse(img)
	case geometry.OrientationLeft:
		return imaging.Rotate90(img)
	default:
		return imaging.Clone(img)
	}
}
