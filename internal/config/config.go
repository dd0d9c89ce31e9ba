// Package config loads the cardscan service configuration:
// defaults, then an optional YAML file, then environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-cardscan/pkg/rectify"
	"github.com/teslashibe/go-cardscan/pkg/tracking"
	"github.com/teslashibe/go-cardscan/pkg/tracking/detection"
)

// Default service configuration.
const (
	DefaultPort     = "8080"
	DefaultLogLevel = "info"
	DefaultWarper   = "go"
)

// Config is the service configuration
type Config struct {
	Server     ServerConfig            `yaml:"server"`
	Log        LogConfig               `yaml:"log"`
	Normalizer NormalizerConfig        `yaml:"normalizer"`
	Detection  tracking.Config         `yaml:"detection"`
	Contour    detection.ContourConfig `yaml:"contour"`
}

// ServerConfig configures the bridge listener
type ServerConfig struct {
	Port string `yaml:"port"`
}

// LogConfig configures logging
type LogConfig struct {
	Level string `yaml:"level"`
}

// NormalizerConfig configures the perspective normalizer
type NormalizerConfig struct {
	OutputDir string  `yaml:"output_dir"`
	DPI       float64 `yaml:"dpi"`
	Workers   int     `yaml:"workers"`
	Warper    string  `yaml:"warper"` // "go" or "opencv"
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: DefaultPort},
		Log:    LogConfig{Level: DefaultLogLevel},
		Normalizer: NormalizerConfig{
			OutputDir: os.TempDir(),
			DPI:       rectify.DefaultDPI,
			Warper:    DefaultWarper,
		},
		Detection: tracking.DefaultConfig(),
		Contour:   detection.DefaultContourConfig(),
	}
}

// Load builds the configuration. path may be empty, in which case only
// defaults and environment apply; a named file must exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse configuration: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotenv loads variables from a .env file. Variables already set in
// the environment win, and a missing file is not an error.
func LoadDotenv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides fields from CARDSCAN_* and LOG_LEVEL
func (c *Config) applyEnv() error {
	if v := os.Getenv("CARDSCAN_PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("CARDSCAN_OUTPUT_DIR"); v != "" {
		c.Normalizer.OutputDir = v
	}
	if v := os.Getenv("CARDSCAN_WARPER"); v != "" {
		c.Normalizer.Warper = v
	}
	if v := os.Getenv("CARDSCAN_DPI"); v != "" {
		dpi, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("CARDSCAN_DPI: %w", err)
		}
		c.Normalizer.DPI = dpi
	}
	if v := os.Getenv("CARDSCAN_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CARDSCAN_WORKERS: %w", err)
		}
		c.Normalizer.Workers = n
	}
	return nil
}

// setDefaults fills values a YAML file may have zeroed
func (c *Config) setDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = DefaultPort
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Normalizer.OutputDir == "" {
		c.Normalizer.OutputDir = os.TempDir()
	}
	if c.Normalizer.DPI <= 0 {
		c.Normalizer.DPI = rectify.DefaultDPI
	}
	if c.Normalizer.Warper == "" {
		c.Normalizer.Warper = DefaultWarper
	}
	c.Normalizer.Warper = strings.ToLower(c.Normalizer.Warper)
	c.Detection = c.Detection.WithDefaults()
}

// Validate checks the configuration for inconsistent values
func (c *Config) Validate() error {
	if _, err := strconv.Atoi(c.Server.Port); err != nil {
		return fmt.Errorf("server.port %q: not a number", c.Server.Port)
	}
	if c.Normalizer.Workers < 0 {
		return fmt.Errorf("normalizer.workers %d: must not be negative", c.Normalizer.Workers)
	}
	if _, err := c.Normalizer.NewWarper(); err != nil {
		return err
	}
	return c.Detection.Validate()
}

// NewWarper returns the configured warp backend
func (n NormalizerConfig) NewWarper() (rectify.Warper, error) {
	switch n.Warper {
	case "", "go":
		return rectify.HomographyWarper{}, nil
	case "opencv":
		return rectify.OpenCVWarper{}, nil
	default:
		return nil, fmt.Errorf("normalizer.warper %q: want go or opencv", n.Warper)
	}
}

// Options returns the rectify options for this configuration
func (n NormalizerConfig) Options() ([]rectify.Option, error) {
	w, err := n.NewWarper()
	if err != nil {
		return nil, err
	}
	return []rectify.Option{
		rectify.WithWarper(w),
		rectify.WithOutputDir(n.OutputDir),
		rectify.WithWorkers(n.Workers),
	}, nil
}
