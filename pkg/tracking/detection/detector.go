// Package detection provides card quadrilateral detection over raw frames
package detection

import (
	"sort"

	"github.com/teslashibe/go-cardscan/pkg/geometry"
)

// Candidate is one quadrilateral found by a detection pass
type Candidate struct {
	Quad         geometry.Quadrilateral // Corners, normalized 0-1 in the frame's native orientation
	Confidence   float64                // Detector confidence (0-1)
	RelativeArea float64                // Fraction of the frame covered
}

// Params constrains a detection pass
type Params struct {
	MinAspectRatio  float64 // Shorter/longer side, lower bound
	MaxAspectRatio  float64 // Shorter/longer side, upper bound
	MinRelativeSize float64 // Minimum fraction of frame area
	MinConfidence   float64 // Drop candidates below this
	MaxCandidates   int     // Upper bound on candidates returned (0 = unbounded)
}

// DefaultParams returns the defaults used for trading-card detection
func DefaultParams() Params {
	return Params{
		MinAspectRatio:  0.65,
		MaxAspectRatio:  0.8,
		MinRelativeSize: 0.1,
		MinConfidence:   0.7,
		MaxCandidates:   5,
	}
}

// Accept reports whether c satisfies the shape, size and confidence limits
// in a width x height frame. The aspect band applies to the card's pixel
// shape, not to its normalized coordinates.
func (p Params) Accept(c Candidate, width, height int) bool {
	if c.Confidence < p.MinConfidence {
		return false
	}
	if c.RelativeArea < p.MinRelativeSize {
		return false
	}
	ratio := c.PixelAspect(width, height)
	return ratio >= p.MinAspectRatio && ratio <= p.MaxAspectRatio
}

// PixelAspect returns the shorter/longer side ratio of c's quad once scaled
// to a width x height frame. Non-positive sizes leave the quad unscaled.
func (c Candidate) PixelAspect(width, height int) float64 {
	if width <= 0 || height <= 0 {
		return c.Quad.AspectRatio()
	}
	return c.Quad.Scale(float64(width), float64(height)).AspectRatio()
}

// Detector is the interface for quadrilateral detection backends
type Detector interface {
	// Detect runs one detection pass over the frame's pixel buffer
	Detect(frame Frame, params Params) ([]Candidate, error)

	// Close releases resources
	Close() error
}

// Rank sorts candidates by confidence, highest first, breaking ties by
// larger relative area
func Rank(cands []Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Confidence != cands[j].Confidence {
			return cands[i].Confidence > cands[j].Confidence
		}
		return cands[i].RelativeArea > cands[j].RelativeArea
	})
}

// SelectTop ranks a copy of cands and keeps at most n of them.
// n <= 0 keeps everything.
func SelectTop(cands []Candidate, n int) []Candidate {
	out := make([]Candidate, len(cands))
	copy(out, cands)
	Rank(out)
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Suppress drops candidates whose bounding box overlaps a better ranked
// candidate by more than maxOverlap (IoU). The result is ranked.
func Suppress(cands []Candidate, maxOverlap float64) []Candidate {
	ranked := SelectTop(cands, 0)
	kept := make([]Candidate, 0, len(ranked))
	for _, c := range ranked {
		dup := false
		for _, k := range kept {
			if c.Quad.Overlap(k.Quad) > maxOverlap {
				dup = true
				break
			}
		}
		if !dup {
			kept = append(kept, c)
		}
	}
	return kept
}
