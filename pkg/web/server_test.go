package web

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-cardscan/pkg/geometry"
	"github.com/teslashibe/go-cardscan/pkg/protocol"
	"github.com/teslashibe/go-cardscan/pkg/rectify"
	"github.com/teslashibe/go-cardscan/pkg/tracking"
	"github.com/teslashibe/go-cardscan/pkg/tracking/detection"
)

// stubDetector reports one card-shaped quad on every pass
type stubDetector struct{}

func (stubDetector) Detect(frame detection.Frame, params detection.Params) ([]detection.Candidate, error) {
	return []detection.Candidate{{
		Quad: geometry.Quad(
			geometry.Pt(0.2, 0.1), geometry.Pt(0.65, 0.1),
			geometry.Pt(0.65, 0.7), geometry.Pt(0.2, 0.7),
		),
		Confidence:   0.9,
		RelativeArea: 0.27,
	}}, nil
}

func (stubDetector) Close() error { return nil }

func newTestServer(t *testing.T, port string, opts ...rectify.Option) *Server {
	t.Helper()
	opts = append([]rectify.Option{rectify.WithOutputDir(t.TempDir())}, opts...)
	s := NewServer(Config{
		Port:        port,
		Normalizer:  rectify.New(opts...),
		NewDetector: func() detection.Detector { return stubDetector{} },
		Detection:   tracking.Config{DetectEveryNFrames: 2},
	})
	t.Cleanup(func() { s.Shutdown() })
	return s
}

func startTestServer(t *testing.T, port string, opts ...rectify.Option) *Server {
	t.Helper()
	s := newTestServer(t, port, opts...)
	go s.Start()
	time.Sleep(100 * time.Millisecond)
	return s
}

func writeStill(t *testing.T) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 120, 160))
	for y := 0; y < 160; y++ {
		for x := 0; x < 120; x++ {
			img.SetNRGBA(x, y, color.NRGBA{uint8(x * 2), uint8(y), 80, 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "still.png")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func grayFrame(frameID uint64) []byte {
	msg, _ := protocol.NewFrameMessage(detection.Frame{
		Pix:         make([]byte, 64),
		Width:       8,
		Height:      8,
		Format:      detection.FormatGray,
		Orientation: geometry.SensorPortrait,
	}, frameID)
	data, _ := msg.Bytes()
	return data
}

func readMessage(t *testing.T, ws *websocket.Conn) *protocol.Message {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("Read error: %v", err)
	}
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	return msg
}

func send(t *testing.T, ws *websocket.Conn, msg *protocol.Message) {
	t.Helper()
	data, err := msg.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("Write error: %v", err)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, "0")

	resp, err := s.App().Test(httptest.NewRequest("GET", "/api/health", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body map[string]any
	json.NewDecoder(resp.Body).Decode(&body)
	if body["status"] != "ok" || body["sessions"] != float64(0) {
		t.Errorf("body = %v", body)
	}
}

func TestConfigEndpoint(t *testing.T) {
	s := newTestServer(t, "0")

	resp, err := s.App().Test(httptest.NewRequest("GET", "/api/config", nil))
	if err != nil {
		t.Fatal(err)
	}

	var body ConfigResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Width != 744 || body.Height != 1039 || body.DPI != 300 {
		t.Errorf("config = %+v", body)
	}
	if body.Detection.DetectEveryNFrames != 2 || body.Detection.MaxTrackedCount != 5 {
		t.Errorf("detection = %+v", body.Detection)
	}
}

func TestNormalizeEndpoint(t *testing.T) {
	still := writeStill(t)
	rect := `{"topLeft":{"x":0.1,"y":0.1},"topRight":{"x":0.8,"y":0.1},"bottomRight":{"x":0.8,"y":0.9},"bottomLeft":{"x":0.1,"y":0.9}}`
	degenerate := `{"topLeft":{"x":0.1,"y":0.1},"topRight":{"x":0.5,"y":0.1},"bottomRight":{"x":0.9,"y":0.1},"bottomLeft":{"x":0.1,"y":0.9}}`

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   string
		wantCards  int
	}{
		{
			name:       "one card",
			body:       `{"image_path":"` + still + `","rectangles":[` + rect + `]}`,
			wantStatus: 200,
			wantCards:  1,
		},
		{
			name:       "partial batch",
			body:       `{"image_path":"file://` + still + `","dpi":150,"rectangles":[` + rect + `,` + degenerate + `,` + rect + `]}`,
			wantStatus: 200,
			wantCards:  2,
		},
		{
			name:       "source load failure",
			body:       `{"image_path":"/nonexistent/still.jpg","rectangles":[` + rect + `]}`,
			wantStatus: 422,
			wantCode:   protocol.CodeLoad,
		},
		{
			name:       "missing image path",
			body:       `{"rectangles":[` + rect + `]}`,
			wantStatus: 400,
			wantCode:   protocol.CodeBadRequest,
		},
		{
			name:       "malformed json",
			body:       `{"image_path":`,
			wantStatus: 400,
			wantCode:   protocol.CodeBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, "0")
			req := httptest.NewRequest("POST", "/api/normalize", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")

			resp, err := s.App().Test(req, 10000)
			if err != nil {
				t.Fatal(err)
			}
			raw, _ := io.ReadAll(resp.Body)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", resp.StatusCode, tt.wantStatus, raw)
			}

			if tt.wantCode != "" {
				var e protocol.ErrorData
				json.Unmarshal(raw, &e)
				if e.Code != tt.wantCode {
					t.Errorf("code = %q, want %q", e.Code, tt.wantCode)
				}
				return
			}

			var data protocol.NormalizedData
			if err := json.Unmarshal(raw, &data); err != nil {
				t.Fatal(err)
			}
			if data.CardsFound != tt.wantCards || len(data.Paths) != tt.wantCards {
				t.Errorf("got %+v, want %d cards", data, tt.wantCards)
			}
			for _, p := range data.Paths {
				if _, err := os.Stat(p); err != nil {
					t.Errorf("output %s: %v", p, err)
				}
			}
		})
	}
}

func TestUpgradeRequired(t *testing.T) {
	s := newTestServer(t, "0")
	resp, err := s.App().Test(httptest.NewRequest("GET", "/ws/session", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 426 {
		t.Errorf("status = %d, want 426", resp.StatusCode)
	}
}
