package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/teslashibe/go-cardscan/pkg/rectify"
	"github.com/teslashibe/go-cardscan/pkg/tracking"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cardscan.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != DefaultPort {
		t.Errorf("port = %q, want %q", cfg.Server.Port, DefaultPort)
	}
	if cfg.Normalizer.DPI != rectify.DefaultDPI {
		t.Errorf("dpi = %v, want %v", cfg.Normalizer.DPI, rectify.DefaultDPI)
	}
	if cfg.Detection != tracking.DefaultConfig() {
		t.Errorf("detection = %+v, want defaults", cfg.Detection)
	}
	if cfg.Normalizer.OutputDir != os.TempDir() {
		t.Errorf("output dir = %q", cfg.Normalizer.OutputDir)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "9001"
log:
  level: debug
normalizer:
  output_dir: /tmp/cards
  dpi: 150
  workers: 2
  warper: OpenCV
detection:
  max_tracked_count: 3
  detect_every_n_frames: 4
contour:
  max_dimension: 320
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != "9001" || cfg.Log.Level != "debug" {
		t.Errorf("server/log = %+v %+v", cfg.Server, cfg.Log)
	}
	if cfg.Normalizer.DPI != 150 || cfg.Normalizer.Workers != 2 || cfg.Normalizer.Warper != "opencv" {
		t.Errorf("normalizer = %+v", cfg.Normalizer)
	}
	if cfg.Detection.MaxTrackedCount != 3 || cfg.Detection.DetectEveryNFrames != 4 {
		t.Errorf("detection = %+v", cfg.Detection)
	}
	// Unset detection fields keep their defaults
	if cfg.Detection.MinConfidence != tracking.DefaultConfig().MinConfidence {
		t.Errorf("min confidence = %v", cfg.Detection.MinConfidence)
	}
	if cfg.Contour.MaxDimension != 320 || cfg.Contour.BlurKernel == 0 {
		t.Errorf("contour = %+v", cfg.Contour)
	}
	if _, ok := mustWarper(t, cfg).(rectify.OpenCVWarper); !ok {
		t.Error("expected the OpenCV warper")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, "server:\n  port: \"9001\"\n")
	t.Setenv("CARDSCAN_PORT", "9100")
	t.Setenv("CARDSCAN_DPI", "200")
	t.Setenv("CARDSCAN_WORKERS", "6")
	t.Setenv("CARDSCAN_OUTPUT_DIR", "/var/cards")
	t.Setenv("CARDSCAN_WARPER", "go")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != "9100" {
		t.Errorf("port = %q, want env value", cfg.Server.Port)
	}
	if cfg.Normalizer.DPI != 200 || cfg.Normalizer.Workers != 6 || cfg.Normalizer.OutputDir != "/var/cards" {
		t.Errorf("normalizer = %+v", cfg.Normalizer)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("log level = %q", cfg.Log.Level)
	}
	if _, ok := mustWarper(t, cfg).(rectify.HomographyWarper); !ok {
		t.Error("expected the homography warper")
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		env  map[string]string
	}{
		{name: "malformed yaml", body: "server: [unterminated"},
		{name: "unknown warper", body: "normalizer:\n  warper: magic\n"},
		{name: "bad port", body: "server:\n  port: http\n"},
		{name: "inverted aspect band", body: "detection:\n  min_aspect_ratio: 0.9\n  max_aspect_ratio: 0.7\n"},
		{name: "negative workers", body: "normalizer:\n  workers: -1\n"},
		{name: "bad dpi env", env: map[string]string{"CARDSCAN_DPI": "lots"}},
		{name: "bad workers env", env: map[string]string{"CARDSCAN_WORKERS": "two"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(writeConfig(t, tt.body)); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("a named config file must exist")
	}
}

func TestNormalizerOptions(t *testing.T) {
	opts, err := NormalizerConfig{OutputDir: t.TempDir(), Workers: 2}.Options()
	if err != nil {
		t.Fatalf("Options: %v", err)
	}
	if len(opts) != 3 {
		t.Fatalf("got %d options, want 3", len(opts))
	}
	if _, err := (NormalizerConfig{Warper: "nope"}).Options(); err == nil {
		t.Error("expected an error for an unknown warper")
	}
}

func mustWarper(t *testing.T, cfg *Config) rectify.Warper {
	t.Helper()
	w, err := cfg.Normalizer.NewWarper()
	if err != nil {
		t.Fatal(err)
	}
	return w
}

func TestLoadDotenv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	body := "CARDSCAN_TEST_DPI=175\nCARDSCAN_TEST_PORT=7000\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CARDSCAN_TEST_PORT", "7100")
	t.Cleanup(func() { os.Unsetenv("CARDSCAN_TEST_DPI") })

	if err := LoadDotenv(path); err != nil {
		t.Fatalf("LoadDotenv: %v", err)
	}
	if got := os.Getenv("CARDSCAN_TEST_DPI"); got != "175" {
		t.Errorf("CARDSCAN_TEST_DPI = %q, want 175", got)
	}
	if got := os.Getenv("CARDSCAN_TEST_PORT"); got != "7100" {
		t.Errorf("existing variable overridden: %q", got)
	}
	if err := LoadDotenv(filepath.Join(dir, "missing.env")); err != nil {
		t.Errorf("missing file: %v", err)
	}
}
