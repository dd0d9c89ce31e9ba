package web

import (
	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-cardscan/pkg/protocol"
	"github.com/teslashibe/go-cardscan/pkg/rectify"
	"github.com/teslashibe/go-cardscan/pkg/tracking"
)

// handleHealth reports liveness and counters
func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":           "ok",
		"sessions":         s.SessionCount(),
		"monitors":         s.events.ClientCount(),
		"frames":           s.framesReceived.Load(),
		"captures":         s.capturesDone.Load(),
		"capture_failures": s.capturesFailed.Load(),
	})
}

// ConfigResponse describes the defaults a new session starts with
type ConfigResponse struct {
	Detection tracking.Config `json:"detection"`
	DPI       float64         `json:"dpi"`
	Width     int             `json:"width"`  // Output pixels at DPI
	Height    int             `json:"height"` // Output pixels at DPI
	OutputDir string          `json:"output_dir"`
}

// handleConfig returns the session defaults
func (s *Server) handleConfig(c *fiber.Ctx) error {
	w, h := rectify.TargetSize(s.dpi)
	return c.JSON(ConfigResponse{
		Detection: s.detection,
		DPI:       s.dpi,
		Width:     w,
		Height:    h,
		OutputDir: s.normalizer.OutputDir(),
	})
}

// handleNormalize runs a one-shot normalization outside any session
func (s *Server) handleNormalize(c *fiber.Ctx) error {
	var body protocol.CaptureData
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(protocol.ErrorData{
			Code:    protocol.CodeBadRequest,
			Message: err.Error(),
		})
	}

	req, err := body.Request(nil)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(protocol.ErrorData{
			Code:    protocol.CodeBadRequest,
			Message: err.Error(),
		})
	}
	if req.DPI == 0 {
		req.DPI = s.dpi
	}

	res, err := s.normalizer.Normalize(c.UserContext(), req)
	if err != nil {
		code := protocol.ErrorCode(err)
		status := fiber.StatusInternalServerError
		if code == protocol.CodeLoad {
			status = fiber.StatusUnprocessableEntity
		}
		s.capturesFailed.Add(1)
		return c.Status(status).JSON(protocol.ErrorData{Code: code, Message: err.Error()})
	}

	s.capturesDone.Add(1)
	return c.JSON(protocol.NewNormalizedData(res))
}
