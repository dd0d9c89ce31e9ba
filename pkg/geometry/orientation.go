package geometry

import "fmt"

// Orientation is the EXIF/TIFF orientation tag (1-8). It describes how the
// stored pixel grid must be transformed to appear upright.
type Orientation int

// EXIF orientation values.
const (
	OrientationUnknown       Orientation = 0
	OrientationUp            Orientation = 1 // stored upright
	OrientationUpMirrored    Orientation = 2 // mirror horizontal
	OrientationDown          Orientation = 3 // rotate 180
	OrientationDownMirrored  Orientation = 4 // mirror vertical
	OrientationLeftMirrored  Orientation = 5 // transpose
	OrientationRight         Orientation = 6 // rotate 90 clockwise to display
	OrientationRightMirrored Orientation = 7 // transverse
	OrientationLeft          Orientation = 8 // rotate 90 counter-clockwise to display
)

// SensorPortrait is the fixed transform for a landscape sensor mounted in a
// portrait device: stored frames must be rotated 90 degrees clockwise.
// Axis remap for normalized points: x' = 1 - y, y' = x.
const SensorPortrait = OrientationRight

// Valid reports whether o is one of the eight EXIF values.
func (o Orientation) Valid() bool {
	return o >= OrientationUp && o <= OrientationLeft
}

// Normalize maps unknown or invalid values to OrientationUp.
func (o Orientation) Normalize() Orientation {
	if !o.Valid() {
		return OrientationUp
	}
	return o
}

// SwapsAxes reports whether the upright image has width and height
// exchanged relative to the stored grid.
func (o Orientation) SwapsAxes() bool {
	return o >= OrientationLeftMirrored && o <= OrientationLeft
}

// MapPoint converts a normalized point in the stored grid into the upright
// display frame.
func (o Orientation) MapPoint(p Point) Point {
	switch o {
	case OrientationUpMirrored:
		return Point{X: 1 - p.X, Y: p.Y}
	case OrientationDown:
		return Point{X: 1 - p.X, Y: 1 - p.Y}
	case OrientationDownMirrored:
		return Point{X: p.X, Y: 1 - p.Y}
	case OrientationLeftMirrored:
		return Point{X: p.Y, Y: p.X}
	case OrientationRight:
		return Point{X: 1 - p.Y, Y: p.X}
	case OrientationRightMirrored:
		return Point{X: 1 - p.Y, Y: 1 - p.X}
	case OrientationLeft:
		return Point{X: p.Y, Y: 1 - p.X}
	default:
		return p
	}
}

// MapQuad converts a normalized quadrilateral in the stored grid into the
// upright display frame and re-derives corner roles from the new positions.
func (o Orientation) MapQuad(q Quadrilateral) Quadrilateral {
	if o.Normalize() == OrientationUp {
		return q
	}
	return q.Map(o.MapPoint).Canonical()
}

// String implements fmt.Stringer.
func (o Orientation) String() string {
	switch o {
	case OrientationUp:
		return "up"
	case OrientationUpMirrored:
		return "up-mirrored"
	case OrientationDown:
		return "down"
	case OrientationDownMirrored:
		return "down-mirrored"
	case OrientationLeftMirrored:
		return "left-mirrored"
	case OrientationRight:
		return "right"
	case OrientationRightMirrored:
		return "right-mirrored"
	case OrientationLeft:
		return "left"
	default:
		return fmt.Sprintf("orientation(%d)", int(o))
	}
}
