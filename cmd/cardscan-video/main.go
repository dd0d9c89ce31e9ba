// cardscan-video: runs the card tracker over a recorded video and
// normalizes the cards tracked on the last frame.
package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"image/color"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-cardscan/internal/config"
	"github.com/teslashibe/go-cardscan/internal/log"
	"github.com/teslashibe/go-cardscan/pkg/geometry"
	"github.com/teslashibe/go-cardscan/pkg/rectify"
	"github.com/teslashibe/go-cardscan/pkg/tracking"
	"github.com/teslashibe/go-cardscan/pkg/tracking/detection"
)

func main() {
	input := flag.String("input", "", "Video file or device to read")
	configPath := flag.String("config", "", "YAML configuration file")
	outputDir := flag.String("output", "", "Directory for normalized images")
	dpi := flag.Float64("dpi", 0, "Output resolution")
	annotate := flag.String("annotate", "", "Write the last frame with tracked rectangles to this path")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error")
	flag.Parse()

	if *input == "" {
		fmt.Fprintln(os.Stderr, "usage: cardscan-video -input <video> [-output dir] [-annotate frame.png]")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	if *outputDir != "" {
		cfg.Normalizer.OutputDir = *outputDir
	}
	if *dpi > 0 {
		cfg.Normalizer.DPI = *dpi
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	log.Init(cfg.Log.Level)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *input, *annotate, cfg); err != nil {
		log.Error("cardscan-video failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, input, annotate string, cfg *config.Config) error {
	capture, err := gocv.OpenVideoCapture(input)
	if err != nil {
		return fmt.Errorf("open %s: %w", input, err)
	}
	defer capture.Close()

	tracker := tracking.New(detection.NewContourDetector(cfg.Contour))
	defer tracker.Close()

	mat := gocv.NewMat()
	defer mat.Close()
	last := gocv.NewMat()
	defer last.Close()

	start := time.Now()
	var tracked []tracking.TrackedRectangle
	for ctx.Err() == nil && capture.Read(&mat) {
		if mat.Empty() {
			continue
		}
		frame, err := detection.FrameFromMat(mat)
		if err != nil {
			log.Warn("skipping frame", "error", err)
			continue
		}
		tracked = tracker.Process(frame, cfg.Detection)
		mat.CopyTo(&last)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if last.Empty() {
		return fmt.Errorf("no frames read from %s", input)
	}

	stats := tracker.Stats()
	log.Info("video processed",
		"frames", stats.Frames,
		"passes", stats.Passes,
		"failures", stats.Failures,
		"tracked", len(tracked),
		"elapsed", time.Since(start).Round(time.Millisecond))

	if annotate != "" {
		if err := writeAnnotated(annotate, last, tracked); err != nil {
			return err
		}
	}
	if len(tracked) == 0 {
		fmt.Println("no cards tracked")
		return nil
	}

	img, err := last.ToImage()
	if err != nil {
		return fmt.Errorf("convert last frame: %w", err)
	}
	opts, err := cfg.Normalizer.Options()
	if err != nil {
		return err
	}
	quads := make([]geometry.Quadrilateral, 0, len(tracked))
	for _, r := range tracked {
		quads = append(quads, r.Quad)
	}

	res, err := rectify.New(opts...).NormalizeImage(ctx, img, quads, cfg.Normalizer.DPI)
	if err != nil {
		return err
	}
	for _, p := range res.Paths() {
		fmt.Println(p)
	}
	for _, rej := range res.Rejected {
		log.Warn("card skipped", "index", rej.Index, "error", rej.Err)
	}
	return nil
}

// writeAnnotated outlines every tracked rectangle on a copy of frame
func writeAnnotated(path string, frame gocv.Mat, tracked []tracking.TrackedRectangle) error {
	canvas := frame.Clone()
	defer canvas.Close()

	w, h := float64(canvas.Cols()), float64(canvas.Rows())
	outline := color.RGBA{0, 255, 0, 0}
	for _, r := range tracked {
		px := r.Quad.Scale(w, h).Corners()
		pts := make([]image.Point, len(px))
		for i, p := range px {
			pts[i] = image.Pt(int(p.X+0.5), int(p.Y+0.5))
		}
		pv := gocv.NewPointsVectorFromPoints([][]image.Point{pts})
		gocv.Polylines(&canvas, pv, true, outline, 3)
		pv.Close()
		label := fmt.Sprintf("%.2f", r.Confidence)
		gocv.PutText(&canvas, label, pts[0], gocv.FontHersheySimplex, 0.8, outline, 2)
	}

	if !gocv.IMWrite(path, canvas) {
		return fmt.Errorf("write %s failed", path)
	}
	log.Info("annotated frame written", "path", path)
	return nil
}
