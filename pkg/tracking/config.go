package tracking

import (
	"fmt"
	"math"

	"github.com/teslashibe/go-cardscan/pkg/tracking/detection"
)

// Off disables the MinRelativeSize and MinConfidence thresholds. Any
// negative value does the same.
const Off = -1.0

// Config holds the per-invocation detection parameters.
// Zero values mean "not set" and fall back to DefaultConfig; the two
// thresholds take Off to accept everything.
type Config struct {
	// Shape
	MinAspectRatio float64 `json:"minAspectRatio" yaml:"min_aspect_ratio"` // Shorter/longer side, lower bound
	MaxAspectRatio float64 `json:"maxAspectRatio" yaml:"max_aspect_ratio"` // Shorter/longer side, upper bound

	// Size
	MinRelativeSize float64 `json:"minRelativeSize" yaml:"min_relative_size"` // Minimum fraction of frame area (Off = none)

	// Tracked set
	MaxTrackedCount int `json:"maxTrackedCount" yaml:"max_tracked_count"` // Cap on simultaneously tracked rectangles

	// Cadence
	DetectEveryNFrames int `json:"detectEveryNFrames" yaml:"detect_every_n_frames"` // Detection pass runs every N frames

	// Acceptance
	MinConfidence float64 `json:"minConfidence" yaml:"min_confidence"` // Detector acceptance threshold (Off = none)

	// Identity continuity (IoU). A new detection overlapping a previous
	// rectangle at least this much keeps its identity. 0 disables matching
	// so every pass issues fresh identities.
	MatchOverlap float64 `json:"matchOverlap" yaml:"match_overlap"`
}

// DefaultConfig returns the defaults for trading-card detection
func DefaultConfig() Config {
	p := detection.DefaultParams()
	return Config{
		MinAspectRatio:     p.MinAspectRatio, // 63/88 = 0.716 sits inside the band
		MaxAspectRatio:     p.MaxAspectRatio,
		MinRelativeSize:    p.MinRelativeSize,
		MaxTrackedCount:    p.MaxCandidates,
		DetectEveryNFrames: 10, // ~3 passes per second at 30 fps
		MinConfidence:      p.MinConfidence,
		MatchOverlap:       0,
	}
}

// WithDefaults returns c with every unset field taken from DefaultConfig
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.MinAspectRatio <= 0 {
		c.MinAspectRatio = d.MinAspectRatio
	}
	if c.MaxAspectRatio <= 0 {
		c.MaxAspectRatio = d.MaxAspectRatio
	}
	if c.MinRelativeSize == 0 {
		c.MinRelativeSize = d.MinRelativeSize
	}
	if c.MaxTrackedCount <= 0 {
		c.MaxTrackedCount = d.MaxTrackedCount
	}
	if c.DetectEveryNFrames <= 0 {
		c.DetectEveryNFrames = d.DetectEveryNFrames
	}
	if c.MinConfidence == 0 {
		c.MinConfidence = d.MinConfidence
	}
	if c.MatchOverlap < 0 {
		c.MatchOverlap = 0
	}
	return c
}

// Validate rejects inconsistent settings after defaults are applied
func (c Config) Validate() error {
	c = c.WithDefaults()
	if c.MinAspectRatio > c.MaxAspectRatio {
		return fmt.Errorf("tracking: minAspectRatio %.3f > maxAspectRatio %.3f", c.MinAspectRatio, c.MaxAspectRatio)
	}
	if c.MaxAspectRatio > 1 {
		return fmt.Errorf("tracking: maxAspectRatio %.3f > 1 (ratio is shorter/longer side)", c.MaxAspectRatio)
	}
	if c.MinRelativeSize > 1 {
		return fmt.Errorf("tracking: minRelativeSize %.3f > 1", c.MinRelativeSize)
	}
	if c.MinConfidence > 1 {
		return fmt.Errorf("tracking: minConfidence %.3f > 1", c.MinConfidence)
	}
	if c.MatchOverlap > 1 {
		return fmt.Errorf("tracking: matchOverlap %.3f > 1", c.MatchOverlap)
	}
	return nil
}

// Params converts the config into detector parameters
func (c Config) Params() detection.Params {
	c = c.WithDefaults()
	return detection.Params{
		MinAspectRatio:  c.MinAspectRatio,
		MaxAspectRatio:  c.MaxAspectRatio,
		MinRelativeSize: max(c.MinRelativeSize, 0),
		MinConfidence:   max(c.MinConfidence, 0),
		MaxCandidates:   c.MaxTrackedCount,
	}
}

// option keys accepted by ConfigFromOptions, canonical name first
var optionKeys = map[string][]string{
	"minAspectRatio":     {"minAspectRatio", "minAspect"},
	"maxAspectRatio":     {"maxAspectRatio", "maxAspect"},
	"minRelativeSize":    {"minRelativeSize", "minSize"},
	"maxTrackedCount":    {"maxTrackedCount", "maxObservations"},
	"detectEveryNFrames": {"detectEveryNFrames"},
	"minConfidence":      {"minConfidence"},
	"matchOverlap":       {"matchOverlap"},
}

// ConfigFromOptions builds a Config from a loosely typed option map as sent
// by camera bridges. Unknown keys are ignored; absent keys keep defaults.
// Since presence is explicit here, a threshold sent as 0 means Off.
func ConfigFromOptions(opts map[string]any) (Config, error) {
	return Config{}.WithOptions(opts)
}

// WithOptions returns c with the options in opts applied on top
func (c Config) WithOptions(opts map[string]any) (Config, error) {
	for field, keys := range optionKeys {
		for _, key := range keys {
			raw, ok := opts[key]
			if !ok || raw == nil {
				continue
			}
			v, err := toFloat(raw)
			if err != nil {
				return Config{}, fmt.Errorf("tracking: option %s: %w", key, err)
			}
			switch field {
			case "minAspectRatio":
				c.MinAspectRatio = v
			case "maxAspectRatio":
				c.MaxAspectRatio = v
			case "minRelativeSize":
				c.MinRelativeSize = offIfZero(v)
			case "maxTrackedCount":
				c.MaxTrackedCount = int(math.Round(v))
			case "detectEveryNFrames":
				c.DetectEveryNFrames = int(math.Round(v))
			case "minConfidence":
				c.MinConfidence = offIfZero(v)
			case "matchOverlap":
				c.MatchOverlap = v
			}
			break
		}
	}
	c = c.WithDefaults()
	return c, c.Validate()
}

func offIfZero(v float64) float64 {
	if v == 0 {
		return Off
	}
	return v
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
}
