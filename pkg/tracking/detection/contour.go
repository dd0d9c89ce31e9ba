package detection

import (
	"fmt"
	"image"
	"math"
	"sync"

	"github.com/teslashibe/go-cardscan/internal/log"
	"github.com/teslashibe/go-cardscan/pkg/geometry"
	"gocv.io/x/gocv"
)

// ContourConfig holds tuning for the OpenCV contour detector
type ContourConfig struct {
	MaxDimension  int     `yaml:"max_dimension"` // Frames are downscaled so the longer side is at most this (0 = never)
	BlurKernel    int     `yaml:"blur_kernel"`   // Gaussian kernel size, odd
	CannyLow      float32 `yaml:"canny_low"`     // Canny hysteresis thresholds
	CannyHigh     float32 `yaml:"canny_high"`
	ApproxEpsilon float64 `yaml:"approx_epsilon"` // Polygon approximation tolerance as a fraction of the perimeter
	MaxOverlap    float64 `yaml:"max_overlap"`    // IoU above which two candidates are the same card
}

// DefaultContourConfig returns production defaults
func DefaultContourConfig() ContourConfig {
	return ContourConfig{
		MaxDimension:  640,
		BlurKernel:    5,
		CannyLow:      50,
		CannyHigh:     150,
		ApproxEpsilon: 0.02,
		MaxOverlap:    0.8,
	}
}

// ContourDetector finds convex four-sided contours with OpenCV:
// grayscale, blur, Canny, dilate, contour search, polygon approximation.
type ContourDetector struct {
	config ContourConfig
	kernel gocv.Mat
	mu     sync.Mutex // Protects kernel and serializes passes
	closed bool
}

// NewContourDetector creates a detector with the given tuning
func NewContourDetector(cfg ContourConfig) *ContourDetector {
	if cfg.BlurKernel <= 0 || cfg.BlurKernel%2 == 0 {
		cfg.BlurKernel = DefaultContourConfig().BlurKernel
	}
	if cfg.ApproxEpsilon <= 0 {
		cfg.ApproxEpsilon = DefaultContourConfig().ApproxEpsilon
	}
	if cfg.MaxOverlap <= 0 {
		cfg.MaxOverlap = DefaultContourConfig().MaxOverlap
	}
	return &ContourDetector{
		config: cfg,
		kernel: gocv.GetStructuringElement(gocv.MorphRect, image.Pt(3, 3)),
	}
}

// Detect runs one detection pass over the frame
func (d *ContourDetector) Detect(frame Frame, params Params) ([]Candidate, error) {
	if err := frame.Validate(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, fmt.Errorf("detection: detector closed")
	}

	gray, err := grayMat(frame)
	if err != nil {
		return nil, err
	}
	defer gray.Close()

	if limit := d.config.MaxDimension; limit > 0 && (gray.Cols() > limit || gray.Rows() > limit) {
		scale := float64(limit) / math.Max(float64(gray.Cols()), float64(gray.Rows()))
		small := gocv.NewMat()
		gocv.Resize(gray, &small, image.Point{}, scale, scale, gocv.InterpolationArea)
		gray.Close()
		gray = small
	}

	w, h := float64(gray.Cols()), float64(gray.Rows())

	blurred := gocv.NewMat()
	defer blurred.Close()
	k := d.config.BlurKernel
	gocv.GaussianBlur(gray, &blurred, image.Pt(k, k), 0, 0, gocv.BorderDefault)

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(blurred, &edges, d.config.CannyLow, d.config.CannyHigh)

	// Close small gaps in the card outline
	closed := gocv.NewMat()
	defer closed.Close()
	gocv.Dilate(edges, &closed, d.kernel)

	contours := gocv.FindContours(closed, gocv.RetrievalList, gocv.ChainApproxSimple)
	defer contours.Close()

	minArea := params.MinRelativeSize * w * h

	var cands []Candidate
	for i := 0; i < contours.Size(); i++ {
		contour := contours.At(i)

		area := gocv.ContourArea(contour)
		if area <= 0 || area < minArea {
			continue
		}

		perimeter := gocv.ArcLength(contour, true)
		approx := gocv.ApproxPolyDP(contour, d.config.ApproxEpsilon*perimeter, true)
		if approx.Size() != 4 || !gocv.IsContourConvex(approx) {
			approx.Close()
			continue
		}
		pts := approx.ToPoints()
		approx.Close()

		quad := geometry.Quad(
			geometry.Pt(float64(pts[0].X)/w, float64(pts[0].Y)/h),
			geometry.Pt(float64(pts[1].X)/w, float64(pts[1].Y)/h),
			geometry.Pt(float64(pts[2].X)/w, float64(pts[2].Y)/h),
			geometry.Pt(float64(pts[3].X)/w, float64(pts[3].Y)/h),
		)
		if quad.ValidateNormalized() != nil {
			continue
		}
		quad = quad.Canonical()

		cand := Candidate{
			Quad:         quad,
			Confidence:   confidence(quad.Scale(w, h), area),
			RelativeArea: quad.Area(),
		}
		if params.Accept(cand, gray.Cols(), gray.Rows()) {
			cands = append(cands, cand)
		}
	}

	cands = Suppress(cands, d.config.MaxOverlap)
	if params.MaxCandidates > 0 && len(cands) > params.MaxCandidates {
		cands = cands[:params.MaxCandidates]
	}

	if len(cands) > 0 {
		log.Debug("contour detector pass", "candidates", len(cands), "contours", contours.Size())
	}

	return cands, nil
}

// Close releases the detector resources
func (d *ContourDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.kernel.Close()
		d.closed = true
	}
	return nil
}

// confidence scores how card-like a pixel-space quad is: how well the raw
// contour fills the polygon, damped by how far the corners are from square.
func confidence(quad geometry.Quadrilateral, contourArea float64) float64 {
	polyArea := quad.Area()
	if polyArea <= 0 {
		return 0
	}
	fill := math.Min(contourArea, polyArea) / math.Max(contourArea, polyArea)

	c := quad.Corners()
	var cosSum float64
	for i := 0; i < 4; i++ {
		prev, cur, next := c[(i+3)%4], c[i], c[(i+1)%4]
		a, b := prev.Sub(cur), next.Sub(cur)
		den := math.Hypot(a.X, a.Y) * math.Hypot(b.X, b.Y)
		if den == 0 {
			return 0
		}
		cosSum += math.Abs((a.X*b.X + a.Y*b.Y) / den)
	}
	return fill * (1 - 0.5*cosSum/4)
}

// grayMat builds a single-channel Mat from the frame's first plane.
func grayMat(frame Frame) (gocv.Mat, error) {
	bpp := frame.Format.BytesPerPixel()
	rowLen := frame.Width * bpp
	stride := frame.RowBytes()

	packed := frame.Pix[:rowLen*frame.Height]
	if stride != rowLen {
		packed = make([]byte, rowLen*frame.Height)
		for y := 0; y < frame.Height; y++ {
			copy(packed[y*rowLen:(y+1)*rowLen], frame.Pix[y*stride:y*stride+rowLen])
		}
	}

	var (
		matType gocv.MatType
		code    gocv.ColorConversionCode
	)
	switch frame.Format {
	case FormatBGRA:
		matType, code = gocv.MatTypeCV8UC4, gocv.ColorBGRAToGray
	case FormatRGBA:
		matType, code = gocv.MatTypeCV8UC4, gocv.ColorRGBAToGray
	case FormatBGR:
		matType, code = gocv.MatTypeCV8UC3, gocv.ColorBGRToGray
	default:
		// Gray and the NV12 luma plane are already single channel
		view, err := gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC1, packed)
		if err != nil {
			return gocv.Mat{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		defer view.Close()
		// Own the pixels; the view may alias the caller's buffer
		return view.Clone(), nil
	}

	src, err := gocv.NewMatFromBytes(frame.Height, frame.Width, matType, packed)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	defer src.Close()

	gray := gocv.NewMat()
	gocv.CvtColor(src, &gray, code)
	return gray, nil
}

// FrameFromMat copies an OpenCV image into a Frame. Mats read from
// capture devices and files are BGR, so three channels map to FormatBGR.
func FrameFromMat(mat gocv.Mat) (Frame, error) {
	if mat.Empty() {
		return Frame{}, fmt.Errorf("%w: empty mat", ErrMalformedFrame)
	}
	var format PixelFormat
	switch mat.Type() {
	case gocv.MatTypeCV8UC1:
		format = FormatGray
	case gocv.MatTypeCV8UC3:
		format = FormatBGR
	case gocv.MatTypeCV8UC4:
		format = FormatBGRA
	default:
		return Frame{}, fmt.Errorf("%w: unsupported mat type %v", ErrMalformedFrame, mat.Type())
	}
	return Frame{
		Pix:    mat.ToBytes(),
		Width:  mat.Cols(),
		Height: mat.Rows(),
		Format: format,
	}, nil
}
