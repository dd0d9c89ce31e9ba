package web

import (
	"github.com/gofiber/contrib/websocket"

	"github.com/teslashibe/go-cardscan/pkg/hub"
	"github.com/teslashibe/go-cardscan/pkg/protocol"
)

// publish broadcasts a monitor event
func (s *Server) publish(event protocol.EventData) {
	msg, err := protocol.NewEventMessage(event)
	if err != nil {
		return
	}
	if err := s.events.BroadcastJSON(msg); err != nil {
		s.logger.Warn("event broadcast failed", "error", err)
	}
}

// handleEventsWS subscribes a monitor to session and capture events
func (s *Server) handleEventsWS(c *websocket.Conn) {
	client := hub.NewClient(s.events, c)
	if client == nil {
		return
	}
	client.Run()
}
