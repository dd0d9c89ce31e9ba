package geometry

import (
	"errors"
	"math"
)

// ErrSingular is returned when four correspondences do not define a
// projective transform (three or more points collinear).
var ErrSingular = errors.New("geometry: singular projective transform")

// Homography is a 3x3 projective transform acting on column vectors:
//
//	x' = (m00 x + m01 y + m02) / (m20 x + m21 y + m22)
//	y' = (m10 x + m11 y + m12) / (m20 x + m21 y + m22)
type Homography [3][3]float64

// Identity returns the identity transform.
func Identity() Homography {
	return Homography{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

// Apply maps p through the transform.
func (h Homography) Apply(p Point) Point {
	w := h[2][0]*p.X + h[2][1]*p.Y + h[2][2]
	return Point{
		X: (h[0][0]*p.X + h[0][1]*p.Y + h[0][2]) / w,
		Y: (h[1][0]*p.X + h[1][1]*p.Y + h[1][2]) / w,
	}
}

// Mul returns h * o, the transform that applies o first and then h.
func (h Homography) Mul(o Homography) Homography {
	var r Homography
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = h[i][0]*o[0][j] + h[i][1]*o[1][j] + h[i][2]*o[2][j]
		}
	}
	return r
}

// Adjugate returns the transpose of the cofactor matrix. For a projective
// transform it is the inverse up to scale, which is all that matters.
func (h Homography) Adjugate() Homography {
	return Homography{
		{
			h[1][1]*h[2][2] - h[1][2]*h[2][1],
			h[0][2]*h[2][1] - h[0][1]*h[2][2],
			h[0][1]*h[1][2] - h[0][2]*h[1][1],
		},
		{
			h[1][2]*h[2][0] - h[1][0]*h[2][2],
			h[0][0]*h[2][2] - h[0][2]*h[2][0],
			h[0][2]*h[1][0] - h[0][0]*h[1][2],
		},
		{
			h[1][0]*h[2][1] - h[1][1]*h[2][0],
			h[0][1]*h[2][0] - h[0][0]*h[2][1],
			h[0][0]*h[1][1] - h[0][1]*h[1][0],
		},
	}
}

// Det returns the determinant.
func (h Homography) Det() float64 {
	return h[0][0]*(h[1][1]*h[2][2]-h[1][2]*h[2][1]) -
		h[0][1]*(h[1][0]*h[2][2]-h[1][2]*h[2][0]) +
		h[0][2]*(h[1][0]*h[2][1]-h[1][1]*h[2][0])
}

// Inverse returns the inverse transform.
func (h Homography) Inverse() (Homography, error) {
	if d := h.Det(); d == 0 || math.IsNaN(d) || math.IsInf(d, 0) {
		return Homography{}, ErrSingular
	}
	return h.Adjugate(), nil
}

// SquareToQuad returns the transform mapping the unit square corners
// (0,0), (1,0), (1,1), (0,1) onto q's TL, TR, BR, BL.
func SquareToQuad(q Quadrilateral) (Homography, error) {
	p0, p1, p2, p3 := q.TopLeft, q.TopRight, q.BottomRight, q.BottomLeft

	dx3 := p0.X - p1.X + p2.X - p3.X
	dy3 := p0.Y - p1.Y + p2.Y - p3.Y
	if dx3 == 0 && dy3 == 0 {
		// Parallelogram: affine is enough.
		h := Homography{
			{p1.X - p0.X, p3.X - p0.X, p0.X},
			{p1.Y - p0.Y, p3.Y - p0.Y, p0.Y},
			{0, 0, 1},
		}
		if h.Det() == 0 {
			return Homography{}, ErrSingular
		}
		return h, nil
	}

	dx1 := p1.X - p2.X
	dx2 := p3.X - p2.X
	dy1 := p1.Y - p2.Y
	dy2 := p3.Y - p2.Y
	den := dx1*dy2 - dx2*dy1
	if den == 0 {
		return Homography{}, ErrSingular
	}
	g := (dx3*dy2 - dx2*dy3) / den
	k := (dx1*dy3 - dx3*dy1) / den

	h := Homography{
		{p1.X - p0.X + g*p1.X, p3.X - p0.X + k*p3.X, p0.X},
		{p1.Y - p0.Y + g*p1.Y, p3.Y - p0.Y + k*p3.Y, p0.Y},
		{g, k, 1},
	}
	if d := h.Det(); d == 0 || math.IsNaN(d) || math.IsInf(d, 0) {
		return Homography{}, ErrSingular
	}
	return h, nil
}

// QuadToSquare is the inverse of SquareToQuad.
func QuadToSquare(q Quadrilateral) (Homography, error) {
	h, err := SquareToQuad(q)
	if err != nil {
		return Homography{}, err
	}
	return h.Inverse()
}

// QuadToQuad returns the transform mapping src's corners onto dst's.
func QuadToQuad(src, dst Quadrilateral) (Homography, error) {
	toSquare, err := QuadToSquare(src)
	if err != nil {
		return Homography{}, err
	}
	fromSquare, err := SquareToQuad(dst)
	if err != nil {
		return Homography{}, err
	}
	return fromSquare.Mul(toSquare), nil
}

// RectToQuad returns the transform mapping the axis-aligned rectangle
// (0,0)-(w,h) onto q. Used to pull source pixels for a rectified output.
func RectToQuad(w, h float64, q Quadrilateral) (Homography, error) {
	s, err := SquareToQuad(q)
	if err != nil {
		return Homography{}, err
	}
	scale := Homography{{1 / w, 0, 0}, {0, 1 / h, 0}, {0, 0, 1}}
	return s.Mul(scale), nil
}
