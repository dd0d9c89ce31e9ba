// cardscan: camera-session bridge for trading-card scanning.
// Tracks card rectangles in live frames and writes flattened card images.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/teslashibe/go-cardscan/internal/config"
	"github.com/teslashibe/go-cardscan/internal/log"
	"github.com/teslashibe/go-cardscan/pkg/rectify"
	"github.com/teslashibe/go-cardscan/pkg/tracking/detection"
	"github.com/teslashibe/go-cardscan/pkg/web"
)

func main() {
	configPath := flag.String("config", "", "YAML configuration file")
	envFile := flag.String("env", ".env", "dotenv file loaded before configuration")
	port := flag.String("port", "", "HTTP port (overrides CARDSCAN_PORT)")
	outputDir := flag.String("output", "", "Directory for normalized images")
	dpi := flag.Float64("dpi", 0, "Default output resolution")
	warper := flag.String("warper", "", "Warp backend: go or opencv")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error")
	flag.Parse()

	if err := config.LoadDotenv(*envFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	if *port != "" {
		cfg.Server.Port = *port
	}
	if *outputDir != "" {
		cfg.Normalizer.OutputDir = *outputDir
	}
	if *dpi > 0 {
		cfg.Normalizer.DPI = *dpi
	}
	if *warper != "" {
		cfg.Normalizer.Warper = *warper
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	log.Init(cfg.Log.Level)

	opts, err := cfg.Normalizer.Options()
	if err != nil {
		log.Error("invalid normalizer configuration", "error", err)
		os.Exit(1)
	}

	contour := cfg.Contour
	server := web.NewServer(web.Config{
		Port:       cfg.Server.Port,
		Normalizer: rectify.New(opts...),
		NewDetector: func() detection.Detector {
			return detection.NewContourDetector(contour)
		},
		Detection: cfg.Detection,
		DPI:       cfg.Normalizer.DPI,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errc := make(chan error, 1)
	go func() { errc <- server.Start() }()

	log.Info("cardscan started",
		"port", cfg.Server.Port,
		"output", cfg.Normalizer.OutputDir,
		"dpi", cfg.Normalizer.DPI,
		"warper", cfg.Normalizer.Warper)

	select {
	case err := <-errc:
		if err != nil {
			log.Error("server stopped", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		log.Info("shutting down")
		if err := server.Shutdown(); err != nil {
			log.Warn("shutdown error", "error", err)
		}
	}
}
