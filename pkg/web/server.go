// Package web provides the camera-session bridge: a websocket per live
// camera feeding a tracker, and HTTP endpoints for one-shot normalization.
package web

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/teslashibe/go-cardscan/internal/log"
	"github.com/teslashibe/go-cardscan/pkg/hub"
	"github.com/teslashibe/go-cardscan/pkg/rectify"
	"github.com/teslashibe/go-cardscan/pkg/tracking"
	"github.com/teslashibe/go-cardscan/pkg/tracking/detection"
)

// DetectorFactory creates the detector for a new camera session
type DetectorFactory func() detection.Detector

// Config configures the bridge server
type Config struct {
	Port        string
	Normalizer  *rectify.Normalizer
	NewDetector DetectorFactory
	Detection   tracking.Config // Starting options for every session
	DPI         float64         // Default capture resolution
}

// Server is the camera-session bridge
type Server struct {
	app    *fiber.App
	port   string
	logger *slog.Logger

	normalizer  *rectify.Normalizer
	newDetector DetectorFactory
	detection   tracking.Config
	dpi         float64

	// Live sessions by ID
	sessions   map[string]*Session
	sessionsMu sync.RWMutex

	// Monitor feed
	events *hub.Hub
	ctx    context.Context
	cancel context.CancelFunc

	// Stats
	framesReceived atomic.Uint64
	capturesDone   atomic.Uint64
	capturesFailed atomic.Uint64
}

// NewServer creates a new bridge server
func NewServer(cfg Config) *Server {
	if cfg.Normalizer == nil {
		cfg.Normalizer = rectify.New()
	}
	if cfg.NewDetector == nil {
		cfg.NewDetector = func() detection.Detector {
			return detection.NewContourDetector(detection.DefaultContourConfig())
		}
	}
	if cfg.DPI <= 0 {
		cfg.DPI = rectify.DefaultDPI
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		port:        cfg.Port,
		logger:      log.Component("web"),
		normalizer:  cfg.Normalizer,
		newDetector: cfg.NewDetector,
		detection:   cfg.Detection.WithDefaults(),
		dpi:         cfg.DPI,
		sessions:    make(map[string]*Session),
		events:      hub.New("events"),
		ctx:         ctx,
		cancel:      cancel,
	}
	go s.events.Run(ctx)

	app := fiber.New(fiber.Config{
		AppName:               "cardscan",
		DisableStartupMessage: true,
		BodyLimit:             16 * 1024 * 1024,
	})

	app.Use(recover.New())
	// CORS for local development
	app.Use(cors.New())

	// API routes
	api := app.Group("/api")
	api.Get("/health", s.handleHealth)
	api.Get("/config", s.handleConfig)
	api.Post("/normalize", s.handleNormalize)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	// WebSocket routes
	app.Get("/ws/session", websocket.New(s.handleSessionWS, websocket.Config{
		ReadBufferSize:  64 * 1024,
		WriteBufferSize: 16 * 1024,
	}))
	app.Get("/ws/events", websocket.New(s.handleEventsWS))

	s.app = app
	return s
}

// App exposes the fiber app, mainly for tests
func (s *Server) App() *fiber.App {
	return s.app
}

// Start starts the server and blocks until it stops
func (s *Server) Start() error {
	s.logger.Info("bridge listening", "port", s.port)
	return s.app.Listen(":" + s.port)
}

// Shutdown closes all sessions and stops the server
func (s *Server) Shutdown() error {
	s.cancel()
	return s.app.Shutdown()
}

func (s *Server) shuttingDown() bool {
	return s.ctx.Err() != nil
}

// SessionCount returns the number of live camera sessions
func (s *Server) SessionCount() int {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()
	return len(s.sessions)
}

func (s *Server) addSession(sess *Session) int {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	s.sessions[sess.ID] = sess
	return len(s.sessions)
}

func (s *Server) removeSession(sess *Session) int {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	delete(s.sessions, sess.ID)
	return len(s.sessions)
}
