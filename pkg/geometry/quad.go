package geometry

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// Validation errors for quadrilaterals.
var (
	// ErrNotFinite is returned when a corner has a NaN or infinite coordinate.
	ErrNotFinite = errors.New("geometry: non-finite coordinate")

	// ErrOutOfBounds is returned when a normalized corner lies outside [0,1].
	ErrOutOfBounds = errors.New("geometry: coordinate outside [0,1]")

	// ErrDegenerate is returned for collinear, self-intersecting, concave
	// or zero-area quadrilaterals.
	ErrDegenerate = errors.New("geometry: degenerate quadrilateral")
)

// MinRelativeArea is the smallest normalized area a quadrilateral may
// cover and still be considered usable.
const MinRelativeArea = 1e-6

// minTurn is the smallest accepted |cross| at a corner relative to the
// product of its adjacent edge lengths (sine of the corner angle).
const minTurn = 1e-3

// Quadrilateral is a four-corner polygon approximating a card boundary.
// Corners are named by their role; Canonical re-derives the names from
// the positions.
type Quadrilateral struct {
	TopLeft     Point `json:"topLeft" yaml:"top_left"`
	TopRight    Point `json:"topRight" yaml:"top_right"`
	BottomRight Point `json:"bottomRight" yaml:"bottom_right"`
	BottomLeft  Point `json:"bottomLeft" yaml:"bottom_left"`
}

// Quad builds a quadrilateral from corners in TL, TR, BR, BL order.
func Quad(tl, tr, br, bl Point) Quadrilateral {
	return Quadrilateral{TopLeft: tl, TopRight: tr, BottomRight: br, BottomLeft: bl}
}

// Corners returns the corners in perimeter order TL, TR, BR, BL.
func (q Quadrilateral) Corners() [4]Point {
	return [4]Point{q.TopLeft, q.TopRight, q.BottomRight, q.BottomLeft}
}

// Area returns the unsigned shoelace area.
func (q Quadrilateral) Area() float64 {
	return math.Abs(q.signedArea())
}

func (q Quadrilateral) signedArea() float64 {
	c := q.Corners()
	var s float64
	for i := 0; i < 4; i++ {
		j := (i + 1) % 4
		s += c[i].X*c[j].Y - c[j].X*c[i].Y
	}
	return s / 2
}

// Scale multiplies every coordinate, typically to go from normalized to
// pixel space.
func (q Quadrilateral) Scale(sx, sy float64) Quadrilateral {
	c := q.Corners()
	for i := range c {
		c[i] = Point{X: c[i].X * sx, Y: c[i].Y * sy}
	}
	return Quad(c[0], c[1], c[2], c[3])
}

// Map applies fn to every corner, keeping the corner roles.
func (q Quadrilateral) Map(fn func(Point) Point) Quadrilateral {
	return Quad(fn(q.TopLeft), fn(q.TopRight), fn(q.BottomRight), fn(q.BottomLeft))
}

// Bounds returns the axis-aligned bounding box as min and max corners.
func (q Quadrilateral) Bounds() (min, max Point) {
	c := q.Corners()
	min, max = c[0], c[0]
	for _, p := range c[1:] {
		min.X = math.Min(min.X, p.X)
		min.Y = math.Min(min.Y, p.Y)
		max.X = math.Max(max.X, p.X)
		max.Y = math.Max(max.Y, p.Y)
	}
	return min, max
}

// Overlap returns the intersection-over-union of the bounding boxes of q
// and o. It is 0 for disjoint boxes and 1 for identical ones.
func (q Quadrilateral) Overlap(o Quadrilateral) float64 {
	amin, amax := q.Bounds()
	bmin, bmax := o.Bounds()

	iw := math.Min(amax.X, bmax.X) - math.Max(amin.X, bmin.X)
	ih := math.Min(amax.Y, bmax.Y) - math.Max(amin.Y, bmin.Y)
	if iw <= 0 || ih <= 0 {
		return 0
	}
	inter := iw * ih
	union := (amax.X-amin.X)*(amax.Y-amin.Y) + (bmax.X-bmin.X)*(bmax.Y-bmin.Y) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// EdgeLengths returns the mean width (top and bottom edges) and mean
// height (left and right edges).
func (q Quadrilateral) EdgeLengths() (width, height float64) {
	width = (q.TopLeft.Dist(q.TopRight) + q.BottomLeft.Dist(q.BottomRight)) / 2
	height = (q.TopLeft.Dist(q.BottomLeft) + q.TopRight.Dist(q.BottomRight)) / 2
	return width, height
}

// AspectRatio returns shorter/longer of the mean edge lengths, in (0,1].
func (q Quadrilateral) AspectRatio() float64 {
	w, h := q.EdgeLengths()
	if w <= 0 || h <= 0 {
		return 0
	}
	return math.Min(w, h) / math.Max(w, h)
}

// Validate checks that q is a usable shape in any coordinate space: finite,
// strictly convex (which rules out self-intersection and three collinear
// corners) and of non-trivial area. Either winding is accepted.
func (q Quadrilateral) Validate() error {
	c := q.Corners()
	for _, p := range c {
		if !p.Finite() {
			return ErrNotFinite
		}
	}

	var sign float64
	for i := 0; i < 4; i++ {
		a, b, d := c[i], c[(i+1)%4], c[(i+2)%4]
		lab, lbd := a.Dist(b), b.Dist(d)
		if lab == 0 || lbd == 0 {
			return fmt.Errorf("%w: coincident corners", ErrDegenerate)
		}
		turn := cross(a, b, d) / (lab * lbd)
		if math.Abs(turn) < minTurn {
			return fmt.Errorf("%w: collinear corners", ErrDegenerate)
		}
		if sign == 0 {
			sign = math.Copysign(1, turn)
		} else if math.Copysign(1, turn) != sign {
			return fmt.Errorf("%w: not convex", ErrDegenerate)
		}
	}

	// A star-shaped winding can turn the same way four times and still
	// self-intersect; its signed area then disagrees with the turn sign
	// or is tiny.
	area := q.signedArea()
	if math.Copysign(1, area) != sign {
		return fmt.Errorf("%w: self-intersecting", ErrDegenerate)
	}
	if math.Abs(area) <= 0 {
		return fmt.Errorf("%w: zero area", ErrDegenerate)
	}
	return nil
}

// ValidateNormalized runs Validate and additionally requires every corner
// inside the unit square and a minimum relative area.
func (q Quadrilateral) ValidateNormalized() error {
	if err := q.Validate(); err != nil {
		return err
	}
	for _, p := range q.Corners() {
		if p.X < 0 || p.X > 1 || p.Y < 0 || p.Y > 1 {
			return ErrOutOfBounds
		}
	}
	if q.Area() < MinRelativeArea {
		return fmt.Errorf("%w: area below %g", ErrDegenerate, MinRelativeArea)
	}
	return nil
}

// Canonical reorders the corners by position in a y-down space: clockwise
// around the centroid, starting from the corner nearest the top-left
// (smallest x+y). Only meaningful for a quadrilateral that passed Validate.
func (q Quadrilateral) Canonical() Quadrilateral {
	c := q.Corners()
	var cx, cy float64
	for _, p := range c {
		cx += p.X / 4
		cy += p.Y / 4
	}

	pts := c[:]
	sort.SliceStable(pts, func(i, j int) bool {
		return math.Atan2(pts[i].Y-cy, pts[i].X-cx) < math.Atan2(pts[j].Y-cy, pts[j].X-cx)
	})

	start := 0
	for i := 1; i < 4; i++ {
		if pts[i].X+pts[i].Y < pts[start].X+pts[start].Y {
			start = i
		}
	}
	return Quad(pts[start], pts[(start+1)%4], pts[(start+2)%4], pts[(start+3)%4])
}
