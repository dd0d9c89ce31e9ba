// Package rectify implements the perspective normalizer: it cuts detected
// card quadrilaterals out of a captured still, corrects their perspective
// and writes each one as a fixed-size PNG at a print resolution.
package rectify

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-cardscan/internal/log"
	"github.com/teslashibe/go-cardscan/pkg/geometry"
)

// CoordinateFrame names the space a request's quadrilaterals are expressed in
type CoordinateFrame string

const (
	// FrameOriented means coordinates are relative to the upright still,
	// after its EXIF orientation is applied.
	FrameOriented CoordinateFrame = "oriented"

	// FrameSensor means coordinates are relative to the stored pixel grid
	// and must be remapped through the still's orientation.
	FrameSensor CoordinateFrame = "sensor"
)

// Request is one normalization job
type Request struct {
	ImagePath string                   // Path or file:// URL of the captured still
	Quads     []geometry.Quadrilateral // Normalized 0-1 corners
	DPI       float64                  // Output resolution (0 = DefaultDPI)
	Frame     CoordinateFrame          // Coordinate space of Quads ("" = FrameOriented)

	// Untagged is the orientation assumed when the still carries no EXIF
	// orientation, typically the capturing sensor's (0 = upright).
	Untagged geometry.Orientation
}

// RectifiedImage is one written output. The caller owns the file.
type RectifiedImage struct {
	Index  int    `json:"index"` // Position of the source quad in the request
	Path   string `json:"path"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Result holds the outputs of a request, in input order. Entries that
// produced no output are listed in Rejected.
type Result struct {
	Images   []RectifiedImage
	Rejected []*EntryError
}

// Empty reports whether no card was produced. Callers treat this as
// "no cards found" rather than an error.
func (r *Result) Empty() bool {
	return len(r.Images) == 0
}

// Paths returns the output paths in input order.
func (r *Result) Paths() []string {
	paths := make([]string, len(r.Images))
	for i, img := range r.Images {
		paths[i] = img.Path
	}
	return paths
}

// Remove deletes every output file of the result.
func (r *Result) Remove() error {
	var errs []error
	for _, img := range r.Images {
		if err := os.Remove(img.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Normalizer rectifies card quadrilaterals out of still images.
// It holds no per-request state and is safe for concurrent use.
type Normalizer struct {
	warper    Warper
	outputDir string
	workers   int
	logger    *slog.Logger
}

// Option configures a Normalizer
type Option func(*Normalizer)

// WithWarper sets the perspective warp backend.
func WithWarper(w Warper) Option {
	return func(n *Normalizer) {
		if w != nil {
			n.warper = w
		}
	}
}

// WithOutputDir sets where output PNGs are written.
func WithOutputDir(dir string) Option {
	return func(n *Normalizer) {
		if dir != "" {
			n.outputDir = dir
		}
	}
}

// WithWorkers bounds how many quadrilaterals are processed concurrently.
func WithWorkers(workers int) Option {
	return func(n *Normalizer) {
		if workers > 0 {
			n.workers = workers
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(n *Normalizer) {
		if l != nil {
			n.logger = l
		}
	}
}

// New creates a Normalizer. Defaults: pure Go warper, OS temp dir,
// up to 4 workers.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{
		warper:    HomographyWarper{},
		outputDir: os.TempDir(),
		workers:   min(runtime.NumCPU(), 4),
		logger:    log.Component("normalizer"),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// OutputDir returns the directory outputs are written to.
func (n *Normalizer) OutputDir() string {
	return n.outputDir
}

// Normalize loads the still once and produces one RectifiedImage per valid
// quadrilateral. The only returned error is a source load failure
// (ErrSourceImageLoad) or ctx cancellation; per-entry failures are
// reported in Result.Rejected. On cancellation nothing is left on disk.
func (n *Normalizer) Normalize(ctx context.Context, req Request) (*Result, error) {
	src, err := loadSource(req.ImagePath, req.Untagged)
	if err != nil {
		n.logger.Error("source image load failed", "path", req.ImagePath, "error", err)
		return nil, err
	}

	quads := req.Quads
	if req.Frame == FrameSensor && src.Orientation != geometry.OrientationUp {
		quads = make([]geometry.Quadrilateral, len(req.Quads))
		for i, q := range req.Quads {
			quads[i] = src.Orientation.MapQuad(q)
		}
	}

	res, err := n.normalize(ctx, src, quads, req.DPI)
	if err != nil {
		return nil, err
	}

	n.logger.Info("normalized capture",
		"path", req.ImagePath,
		"orientation", src.Orientation.String(),
		"tagged", src.Tagged,
		"quads", len(quads),
		"images", len(res.Images),
		"rejected", len(res.Rejected))
	return res, nil
}

// NormalizeImage runs the batch over an already decoded, upright image.
func (n *Normalizer) NormalizeImage(ctx context.Context, img image.Image, quads []geometry.Quadrilateral, dpi float64) (*Result, error) {
	if img.Bounds().Empty() {
		return nil, &SourceError{Path: "<memory>", Err: fmt.Errorf("empty image")}
	}
	src := &Source{Image: applyOrientation(img, geometry.OrientationUp), Orientation: geometry.OrientationUp}
	return n.normalize(ctx, src, quads, dpi)
}

func (n *Normalizer) normalize(ctx context.Context, src *Source, quads []geometry.Quadrilateral, dpi float64) (*Result, error) {
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	tw, th := TargetSize(dpi)
	batch := uuid.NewString()

	if err := os.MkdirAll(n.outputDir, 0o755); err != nil {
		n.logger.Warn("output dir unavailable", "dir", n.outputDir, "error", err)
	}

	images := make([]*RectifiedImage, len(quads))
	failures := make([]*EntryError, len(quads))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(n.workers)
	for i, q := range quads {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			img, err := n.rectify(gctx, src, i, q, tw, th, batch)
			if err != nil {
				var entryErr *EntryError
				if errors.As(err, &entryErr) {
					failures[i] = entryErr
					n.logger.Debug("entry skipped", "index", i, "error", err)
					return nil
				}
				return err
			}
			images[i] = img
			return nil
		})
	}

	waitErr := g.Wait()
	res := &Result{}
	for i := range quads {
		if images[i] != nil {
			res.Images = append(res.Images, *images[i])
		}
		if failures[i] != nil {
			res.Rejected = append(res.Rejected, failures[i])
		}
	}

	if err := ctx.Err(); err != nil || waitErr != nil {
		// Abandoned capture: nothing will read these
		if rmErr := res.Remove(); rmErr != nil {
			n.logger.Warn("cleanup after cancel failed", "error", rmErr)
		}
		if err == nil {
			err = waitErr
		}
		return nil, err
	}
	return res, nil
}

// rectify processes one entry. Geometric and output failures come back as
// *EntryError; anything else is a context error.
func (n *Normalizer) rectify(ctx context.Context, src *Source, index int, q geometry.Quadrilateral, tw, th int, batch string) (*RectifiedImage, error) {
	if err := q.ValidateNormalized(); err != nil {
		return nil, rejected(index, err)
	}

	pq := q.Canonical().Scale(float64(src.Width()), float64(src.Height()))
	if err := pq.Validate(); err != nil {
		return nil, rejected(index, err)
	}

	nw, nh := NaturalSize(pq)
	patch, err := n.warper.Warp(src.Image, pq, nw, nh)
	if err != nil {
		return nil, rejected(index, err)
	}
	out := Rescale(patch, tw, th)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := filepath.Join(n.outputDir, fmt.Sprintf("normalized_%s_%d.png", batch, index))
	if err := writePNG(path, out); err != nil {
		return nil, writeFailed(index, err)
	}
	return &RectifiedImage{Index: index, Path: path, Width: tw, Height: th}, nil
}

// writePNG creates path exclusively and encodes img into it
func writePNG(path string, img image.Image) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return err
	}
	return nil
}

// Outcome is the result of an asynchronous normalization
type Outcome struct {
	Result *Result
	Err    error
}

// NormalizeAsync runs Normalize on a background goroutine and delivers the
// outcome on the returned channel, which receives exactly one value.
func (n *Normalizer) NormalizeAsync(ctx context.Context, req Request) <-chan Outcome {
	ch := make(chan Outcome, 1)
	go func() {
		defer close(ch)
		res, err := n.Normalize(ctx, req)
		ch <- Outcome{Result: res, Err: err}
	}()
	return ch
}
