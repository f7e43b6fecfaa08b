// Package ws exposes the streaming screening endpoint over WebSocket. Text
// frames carry JSON control messages, binary frames carry raw PCM16 audio;
// every server-to-client event is a JSON text frame.
package ws

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"voice-screening-service/internal/service/session"
)

const (
	// writeWait bounds a single outbound frame write.
	writeWait = 10 * time.Second
	// pongWait is how long the connection may stay silent before the
	// read loop gives up.
	pongWait = 60 * time.Second
	// pingPeriod must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// maxMessageSize caps inbound frames. Audio is streamed in small
	// chunks; anything this large is a misbehaving client.
	maxMessageSize = 1 << 20
)

// Handler upgrades HTTP requests into screening sessions.
type Handler struct {
	newSession func() *session.Session
	upgrader   websocket.Upgrader
	log        zerolog.Logger
}

// NewHandler creates the WebSocket handler. newSession is called once per
// accepted connection.
func NewHandler(newSession func() *session.Session, logger zerolog.Logger) *Handler {
	return &Handler{
		newSession: newSession,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser clients connect from arbitrary origins; auth
			// happens at the gateway in front of this service.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: logger.With().Str("component", "ws").Logger(),
	}
}

// ServeHTTP runs one connection: a write pump drains the session's event
// channel while the read loop feeds control and audio into the session.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	s := h.newSession()
	logger := h.log.With().Str("sessionId", s.ID()).Logger()
	logger.Info().Str("remote", conn.RemoteAddr().String()).Msg("Connection accepted")

	writerDone := make(chan struct{})
	go h.writePump(conn, s, logger, writerDone)

	h.readLoop(conn, s, logger)

	// Closing the session closes its event channel, which ends the write
	// pump after it has flushed the remaining events.
	s.Close()
	<-writerDone
	_ = conn.Close()
	logger.Info().Msg("Connection closed")
}

func (h *Handler) readLoop(conn *websocket.Conn, s *session.Session, logger zerolog.Logger) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn().Err(err).Msg("Connection read failed")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		switch messageType {
		case websocket.TextMessage:
			err = s.HandleControl(data)
		case websocket.BinaryMessage:
			err = s.HandleAudio(data)
		default:
			continue
		}

		if errors.Is(err, session.ErrSessionComplete) {
			return
		}
		if err != nil {
			logger.Error().Err(err).Msg("Session failed")
			return
		}
	}
}

// writePump is the connection's only writer. It serializes session events
// and keepalive pings onto the socket and ends when the event channel is
// closed.
func (h *Handler) writePump(conn *websocket.Conn, s *session.Session, logger zerolog.Logger, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-s.Events():
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(event); err != nil {
				logger.Debug().Err(err).Msg("Event write failed")
				// Keep draining so the session never blocks on a
				// dead connection.
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logger.Debug().Err(err).Msg("Ping failed")
			}
		}
	}
}
