// Package geometry holds the 2-D primitives shared by the tracker and the
// normalizer: points, card quadrilaterals, projective transforms and EXIF
// orientation remapping.
package geometry

import "math"

// Point is a 2-D point. Depending on context it is either normalized
// (0-1 relative to width and height) or in pixels.
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Pt is shorthand for Point{X: x, Y: y}.
func Pt(x, y float64) Point {
	return Point{X: x, Y: y}
}

// Sub returns p - q.
func (p Point) Sub(q Point) Point {
	return Point{X: p.X - q.X, Y: p.Y - q.Y}
}

// Dist returns the euclidean distance between p and q.
func (p Point) Dist(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// Finite reports whether both coordinates are finite numbers.
func (p Point) Finite() bool {
	return !math.IsNaN(p.X) && !math.IsInf(p.X, 0) &&
		!math.IsNaN(p.Y) && !math.IsInf(p.Y, 0)
}

// cross returns the z component of (b-a) x (c-b).
func cross(a, b, c Point) float64 {
	ab := b.Sub(a)
	bc := c.Sub(b)
	return ab.X*bc.Y - ab.Y*bc.X
}
