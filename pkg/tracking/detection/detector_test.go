package detection

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/teslashibe/go-cardscan/pkg/geometry"
)

func box(x, y, w, h float64) geometry.Quadrilateral {
	return geometry.Quad(
		geometry.Pt(x, y), geometry.Pt(x+w, y),
		geometry.Pt(x+w, y+h), geometry.Pt(x, y+h),
	)
}

func TestSelectTop(t *testing.T) {
	cands := []Candidate{
		{Quad: box(0.0, 0.0, 0.1, 0.1), Confidence: 0.71, RelativeArea: 0.10},
		{Quad: box(0.1, 0.0, 0.1, 0.1), Confidence: 0.95, RelativeArea: 0.12},
		{Quad: box(0.2, 0.0, 0.1, 0.1), Confidence: 0.80, RelativeArea: 0.15},
		{Quad: box(0.3, 0.0, 0.1, 0.1), Confidence: 0.88, RelativeArea: 0.11},
		{Quad: box(0.4, 0.0, 0.1, 0.1), Confidence: 0.75, RelativeArea: 0.20},
		{Quad: box(0.5, 0.0, 0.1, 0.1), Confidence: 0.92, RelativeArea: 0.13},
		{Quad: box(0.6, 0.0, 0.1, 0.1), Confidence: 0.73, RelativeArea: 0.30},
	}

	top := SelectTop(cands, 3)
	if len(top) != 3 {
		t.Fatalf("SelectTop returned %d, want 3", len(top))
	}

	want := []float64{0.95, 0.92, 0.88}
	for i, c := range top {
		if c.Confidence != want[i] {
			t.Errorf("top[%d].Confidence = %v, want %v", i, c.Confidence, want[i])
		}
	}

	// Input must not be reordered
	if cands[0].Confidence != 0.71 {
		t.Error("SelectTop mutated its input")
	}
}

func TestSelectTop_TieBreaksOnArea(t *testing.T) {
	cands := []Candidate{
		{Quad: box(0, 0, 0.1, 0.1), Confidence: 0.9, RelativeArea: 0.1},
		{Quad: box(0, 0, 0.3, 0.3), Confidence: 0.9, RelativeArea: 0.3},
		{Quad: box(0, 0, 0.2, 0.2), Confidence: 0.9, RelativeArea: 0.2},
	}

	top := SelectTop(cands, 0)
	if len(top) != 3 {
		t.Fatalf("SelectTop(0) returned %d, want all 3", len(top))
	}
	if top[0].RelativeArea != 0.3 || top[1].RelativeArea != 0.2 || top[2].RelativeArea != 0.1 {
		t.Errorf("tie break order wrong: %+v", top)
	}
}

func TestSelectTop_Empty(t *testing.T) {
	if got := SelectTop(nil, 3); len(got) != 0 {
		t.Errorf("SelectTop(nil) = %v, want empty", got)
	}
}

func TestSuppress(t *testing.T) {
	cands := []Candidate{
		{Quad: box(0.10, 0.10, 0.4, 0.5), Confidence: 0.80, RelativeArea: 0.2},
		{Quad: box(0.11, 0.11, 0.4, 0.5), Confidence: 0.90, RelativeArea: 0.2}, // near duplicate, better
		{Quad: box(0.55, 0.10, 0.4, 0.5), Confidence: 0.85, RelativeArea: 0.2},
	}

	kept := Suppress(cands, 0.8)
	if len(kept) != 2 {
		t.Fatalf("Suppress kept %d, want 2", len(kept))
	}
	if kept[0].Confidence != 0.90 || kept[1].Confidence != 0.85 {
		t.Errorf("Suppress kept wrong candidates: %+v", kept)
	}
}

func TestParams_Accept(t *testing.T) {
	p := DefaultParams()
	card := box(0.2, 0.1, 0.63*0.8, 0.88*0.8) // 63:88 card in a square frame

	// The same shapes in a 640x480 frame: a 252x352 card and a 300x300 square
	wideCard := box(0.3, 0.1, 252.0/640, 352.0/480)
	wideSquare := box(0.3, 0.1, 300.0/640, 300.0/480)

	tests := []struct {
		name          string
		cand          Candidate
		width, height int
		want          bool
	}{
		{"card", Candidate{Quad: card, Confidence: 0.9, RelativeArea: 0.35}, 100, 100, true},
		{"low confidence", Candidate{Quad: card, Confidence: 0.5, RelativeArea: 0.35}, 100, 100, false},
		{"too small", Candidate{Quad: card, Confidence: 0.9, RelativeArea: 0.05}, 100, 100, false},
		{"square", Candidate{Quad: box(0.1, 0.1, 0.5, 0.5), Confidence: 0.9, RelativeArea: 0.25}, 100, 100, false},
		{"long strip", Candidate{Quad: box(0.1, 0.1, 0.2, 0.8), Confidence: 0.9, RelativeArea: 0.16}, 100, 100, false},
		{"card in 4:3 frame", Candidate{Quad: wideCard, Confidence: 0.9, RelativeArea: 0.29}, 640, 480, true},
		{"square in 4:3 frame", Candidate{Quad: wideSquare, Confidence: 0.9, RelativeArea: 0.29}, 640, 480, false},
		{"card in 16:9 frame", Candidate{Quad: box(0.3, 0.1, 630.0/1920, 880.0/1080), Confidence: 0.9, RelativeArea: 0.27}, 1920, 1080, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Accept(tt.cand, tt.width, tt.height); got != tt.want {
				t.Errorf("Accept() = %v, want %v (pixel aspect %.3f)", got, tt.want, tt.cand.PixelAspect(tt.width, tt.height))
			}
		})
	}
}

func TestFrame_Validate(t *testing.T) {
	tests := []struct {
		name    string
		frame   Frame
		wantErr bool
	}{
		{"packed bgra", Frame{Pix: make([]byte, 4*4*3), Width: 4, Height: 3, Format: FormatBGRA}, false},
		{"padded stride", Frame{Pix: make([]byte, 8*2+4), Width: 4, Height: 3, Stride: 8, Format: FormatGray}, false},
		{"nv12", Frame{Pix: make([]byte, 4*4+4*2), Width: 4, Height: 4, Format: FormatNV12}, false},
		{"short buffer", Frame{Pix: make([]byte, 10), Width: 4, Height: 3, Format: FormatBGRA}, true},
		{"short nv12", Frame{Pix: make([]byte, 16), Width: 4, Height: 4, Format: FormatNV12}, true},
		{"zero size", Frame{Pix: make([]byte, 10), Width: 0, Height: 3, Format: FormatGray}, true},
		{"unknown format", Frame{Pix: make([]byte, 100), Width: 4, Height: 3, Format: "yuv9"}, true},
		{"stride too small", Frame{Pix: make([]byte, 100), Width: 4, Height: 3, Stride: 3, Format: FormatBGR}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.frame.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedFrame) {
					t.Errorf("Validate() = %v, want ErrMalformedFrame", err)
				}
				return
			}
			if err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
		})
	}
}

func TestFrameFromImage(t *testing.T) {
	img := image.NewNRGBA(image.Rect(10, 10, 14, 13))
	img.Set(10, 10, color.NRGBA{R: 255, A: 255})

	frame := FrameFromImage(img)
	if frame.Width != 4 || frame.Height != 3 {
		t.Fatalf("frame size = %dx%d, want 4x3", frame.Width, frame.Height)
	}
	if frame.Format != FormatRGBA {
		t.Errorf("frame format = %v, want rgba", frame.Format)
	}
	if err := frame.Validate(); err != nil {
		t.Fatalf("frame invalid: %v", err)
	}
	if frame.Pix[0] != 255 || frame.Pix[3] != 255 {
		t.Errorf("first pixel = %v, want opaque red", frame.Pix[:4])
	}
}
