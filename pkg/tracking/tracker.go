package tracking

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/teslashibe/go-cardscan/internal/log"
	"github.com/teslashibe/go-cardscan/pkg/geometry"
	"github.com/teslashibe/go-cardscan/pkg/tracking/detection"
)

// TrackedRectangle is a detected card with an identity that persists while
// detection passes keep reporting it
type TrackedRectangle struct {
	ID           string                 `json:"id"`
	Quad         geometry.Quadrilateral `json:"quad"`
	Confidence   float64                `json:"confidence"`
	RelativeArea float64                `json:"relativeArea"`
}

// Stats counts tracker activity since creation or the last Reset
type Stats struct {
	Frames    uint64 `json:"frames"`
	Passes    uint64 `json:"passes"`
	Failures  uint64 `json:"failures"`
	LastError string `json:"lastError,omitempty"`
}

// Tracker runs a detector every N frames and serves the most recent
// tracked set in between. One Tracker belongs to one camera session.
type Tracker struct {
	detector detection.Detector
	logger   *slog.Logger
	newID    func() string

	mu         sync.Mutex
	frameCount uint64
	tracked    []TrackedRectangle
	stats      Stats
}

// New creates a tracker around detector
func New(detector detection.Detector) *Tracker {
	return &Tracker{
		detector: detector,
		logger:   log.Component("tracker"),
		newID:    uuid.NewString,
	}
}

// Process handles one frame. On detection-pass frames the tracked set is
// replaced by the pass result; on other frames, or when the pass fails, the
// previous set is returned unchanged. The returned slice is a copy.
func (t *Tracker) Process(frame detection.Frame, cfg Config) []TrackedRectangle {
	cfg = cfg.WithDefaults()

	t.mu.Lock()
	defer t.mu.Unlock()

	t.frameCount++
	t.stats.Frames = t.frameCount
	if t.frameCount%uint64(cfg.DetectEveryNFrames) != 0 {
		return t.snapshot()
	}

	t.stats.Passes++
	cands, err := t.detect(frame, cfg.Params())
	if err != nil {
		t.stats.Failures++
		t.stats.LastError = err.Error()
		t.logger.Warn("detection pass failed, keeping previous set",
			"frame", t.frameCount,
			"tracked", len(t.tracked),
			"error", err)
		return t.snapshot()
	}

	t.tracked = t.assign(cands, cfg.MatchOverlap)
	t.logger.Debug("detection pass",
		"frame", t.frameCount,
		"candidates", len(cands),
		"tracked", len(t.tracked))
	return t.snapshot()
}

// detect runs the detector, recovering panics, and enforces the limits
// regardless of what the backend returned
func (t *Tracker) detect(frame detection.Frame, params detection.Params) (cands []detection.Candidate, err error) {
	defer func() {
		if r := recover(); r != nil {
			cands = nil
			err = fmt.Errorf("%w: detector panic: %v", ErrDetectionTransient, r)
		}
	}()

	if err := frame.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDetectionTransient, err)
	}

	raw, err := t.detector.Detect(frame, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDetectionTransient, err)
	}

	valid := raw[:0:0]
	for _, c := range raw {
		if c.Quad.ValidateNormalized() != nil || !params.Accept(c, frame.Width, frame.Height) {
			continue
		}
		c.Quad = c.Quad.Canonical()
		valid = append(valid, c)
	}
	return detection.SelectTop(valid, params.MaxCandidates), nil
}

// assign gives each candidate an identity. With matchOverlap > 0 a
// candidate inherits the identity of the best overlapping rectangle from the
// previous pass; each previous identity is used at most once.
func (t *Tracker) assign(cands []detection.Candidate, matchOverlap float64) []TrackedRectangle {
	out := make([]TrackedRectangle, 0, len(cands))
	used := make(map[int]bool, len(t.tracked))

	for _, c := range cands {
		id := ""
		if matchOverlap > 0 {
			best, bestIoU := -1, matchOverlap
			for i, prev := range t.tracked {
				if used[i] {
					continue
				}
				if iou := c.Quad.Overlap(prev.Quad); iou >= bestIoU {
					best, bestIoU = i, iou
				}
			}
			if best >= 0 {
				used[best] = true
				id = t.tracked[best].ID
			}
		}
		if id == "" {
			id = t.newID()
		}
		out = append(out, TrackedRectangle{
			ID:           id,
			Quad:         c.Quad,
			Confidence:   c.Confidence,
			RelativeArea: c.RelativeArea,
		})
	}
	return out
}

func (t *Tracker) snapshot() []TrackedRectangle {
	out := make([]TrackedRectangle, len(t.tracked))
	copy(out, t.tracked)
	return out
}

// Tracked returns a copy of the current tracked set
func (t *Tracker) Tracked() []TrackedRectangle {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshot()
}

// FrameCount returns the number of frames processed
func (t *Tracker) FrameCount() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.frameCount
}

// Stats returns a snapshot of the tracker counters
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

// Reset clears the tracked set, frame counter and stats
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frameCount = 0
	t.tracked = nil
	t.stats = Stats{}
}

// Close releases the detector
func (t *Tracker) Close() error {
	return t.detector.Close()
}
