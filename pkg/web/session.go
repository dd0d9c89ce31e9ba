package web

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"

	"github.com/teslashibe/go-cardscan/pkg/geometry"
	"github.com/teslashibe/go-cardscan/pkg/protocol"
	"github.com/teslashibe/go-cardscan/pkg/tracking"
	"github.com/teslashibe/go-cardscan/pkg/tracking/detection"
)

const (
	// writeWait is how long to wait for a write to complete
	writeWait = 10 * time.Second

	// maxMessageSize bounds one inbound frame (4K BGRA is ~33MB; clients
	// should send preview-sized frames)
	maxMessageSize = 16 * 1024 * 1024

	// sendBuffer is the number of queued outbound messages per session
	sendBuffer = 32
)

// Session is one live camera connection. It owns its tracker; frames are
// processed synchronously in the read loop, captures on a goroutine.
type Session struct {
	ID string

	server  *Server
	conn    *websocket.Conn
	tracker *tracking.Tracker
	config  tracking.Config // Read loop only

	// Native orientation of the last frame. Read loop only.
	orientation geometry.Orientation
	logger      *slog.Logger

	send      chan []byte
	ctx       context.Context
	cancel    context.CancelFunc
	capturing atomic.Bool
	writers   sync.WaitGroup
}

func newSession(s *Server, conn *websocket.Conn) *Session {
	ctx, cancel := context.WithCancel(s.ctx)
	id := uuid.NewString()
	return &Session{
		ID:      id,
		server:  s,
		conn:    conn,
		tracker: tracking.New(s.newDetector()),
		config:  s.detection,
		logger:  s.logger.With("session", id),
		send:    make(chan []byte, sendBuffer),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// handleSessionWS runs one camera session until the client disconnects
func (s *Server) handleSessionWS(c *websocket.Conn) {
	sess := newSession(s, c)
	count := s.addSession(sess)
	sess.logger.Info("session opened", "sessions", count)
	s.publish(protocol.EventData{Kind: protocol.EventSessionOpened, SessionID: sess.ID})

	defer func() {
		sess.cancel()
		sess.writers.Wait()
		if err := sess.tracker.Close(); err != nil {
			sess.logger.Warn("detector close failed", "error", err)
		}
		count := s.removeSession(sess)
		stats := sess.tracker.Stats()
		sess.logger.Info("session closed",
			"sessions", count,
			"frames", stats.Frames,
			"passes", stats.Passes,
			"failures", stats.Failures)
		s.publish(protocol.EventData{Kind: protocol.EventSessionClosed, SessionID: sess.ID})
	}()

	sess.writers.Add(1)
	go sess.writePump()
	sess.readLoop()
}

// readLoop reads and dispatches client messages
func (sess *Session) readLoop() {
	sess.conn.SetReadLimit(maxMessageSize)
	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				sess.logger.Warn("session read error", "error", err)
			}
			return
		}
		if sess.server.shuttingDown() {
			return
		}

		msg, err := protocol.ParseMessage(data)
		if err != nil {
			sess.sendError(protocol.CodeBadRequest, err.Error())
			continue
		}
		sess.handleMessage(msg)
	}
}

// handleMessage processes one client message
func (sess *Session) handleMessage(msg *protocol.Message) {
	switch msg.Type {
	case protocol.TypeFrame:
		fd, err := msg.GetFrameData()
		if err != nil {
			sess.sendError(protocol.CodeBadRequest, err.Error())
			return
		}
		sess.handleFrame(fd)

	case protocol.TypeConfig:
		opts, err := msg.GetConfigOptions()
		if err != nil {
			sess.sendError(protocol.CodeBadRequest, err.Error())
			return
		}
		cfg, err := sess.config.WithOptions(opts)
		if err != nil {
			sess.sendError(protocol.CodeBadRequest, err.Error())
			return
		}
		sess.config = cfg
		sess.logger.Debug("session config updated", "config", cfg)

	case protocol.TypeCapture:
		cd, err := msg.GetCaptureData()
		if err != nil {
			sess.sendError(protocol.CodeBadRequest, err.Error())
			return
		}
		sess.handleCapture(cd)

	case protocol.TypePing:
		ping, err := msg.GetPingData()
		if err != nil {
			return
		}
		if pong, err := protocol.NewPongMessage(ping.ID, msg.Timestamp, time.Now().UnixMilli()); err == nil {
			sess.sendMessage(pong)
		}

	default:
		sess.sendError(protocol.CodeBadRequest, "unknown message type "+string(msg.Type))
	}
}

// handleFrame runs the tracker on one frame and replies with the tracked
// set. An undecodable frame still advances the tracker, which keeps the
// previous set.
func (sess *Session) handleFrame(fd *protocol.FrameData) {
	sess.server.framesReceived.Add(1)

	frame, err := fd.Frame()
	if err != nil {
		sess.logger.Debug("frame decode failed", "frame_id", fd.FrameID, "error", err)
		frame = detection.Frame{Orientation: geometry.Orientation(fd.Orientation).Normalize()}
	}

	sess.orientation = frame.Orientation
	tracked := sess.tracker.Process(frame, sess.config)
	reply, err := protocol.NewRectanglesMessage(fd.FrameID, tracked, frame.Orientation)
	if err != nil {
		sess.logger.Error("encode rectangles", "error", err)
		return
	}
	sess.sendMessage(reply)
}

// handleCapture normalizes a still in the background. One capture runs at
// a time per session; disconnecting abandons it.
func (sess *Session) handleCapture(cd *protocol.CaptureData) {
	s := sess.server

	req, err := cd.Request(sess.tracker.Tracked())
	if err != nil {
		sess.sendError(protocol.CodeBadRequest, err.Error())
		return
	}
	if req.DPI == 0 {
		req.DPI = s.dpi
	}
	// Tracked rectangles come from frames in this orientation; a still
	// without EXIF is assumed to share it.
	if len(cd.Rectangles) == 0 && req.Untagged == geometry.OrientationUnknown {
		req.Untagged = sess.orientation
	}
	if !sess.capturing.CompareAndSwap(false, true) {
		sess.sendError(protocol.CodeBusy, "capture already in progress")
		return
	}

	go func() {
		defer sess.capturing.Store(false)

		res, err := s.normalizer.Normalize(sess.ctx, req)
		if sess.ctx.Err() != nil {
			sess.logger.Debug("capture abandoned")
			return
		}
		if err != nil {
			s.capturesFailed.Add(1)
			code := protocol.ErrorCode(err)
			s.publish(protocol.EventData{Kind: protocol.EventCaptureFailed, SessionID: sess.ID, Code: code, Message: err.Error()})
			sess.sendError(code, err.Error())
			return
		}

		s.capturesDone.Add(1)
		s.publish(protocol.EventData{
			Kind:       protocol.EventCaptureDone,
			SessionID:  sess.ID,
			CardsFound: len(res.Images),
			Rejected:   len(res.Rejected),
		})
		msg, err := protocol.NewNormalizedMessage(res)
		if err != nil {
			sess.logger.Error("encode normalized", "error", err)
			return
		}
		sess.sendMessage(msg)
	}()
}

// sendMessage queues a message for the write pump. Messages are dropped
// once the session is closing.
func (sess *Session) sendMessage(msg *protocol.Message) {
	data, err := msg.Bytes()
	if err != nil {
		sess.logger.Error("encode message", "type", msg.Type, "error", err)
		return
	}
	select {
	case sess.send <- data:
	case <-sess.ctx.Done():
	}
}

func (sess *Session) sendError(code, message string) {
	msg, err := protocol.NewErrorMessage(code, message)
	if err != nil {
		return
	}
	sess.sendMessage(msg)
}

// writePump is the only goroutine that writes to the connection
func (sess *Session) writePump() {
	defer sess.writers.Done()
	for {
		select {
		case data := <-sess.send:
			sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sess.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				sess.logger.Debug("session write failed", "error", err)
				sess.cancel()
				return
			}
		case <-sess.ctx.Done():
			return
		}
	}
}
