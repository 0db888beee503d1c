// Package acceptor owns the WebSocket transport: connection upgrade,
// token verification, the per-connection read loop feeding the command
// processor, and the write pump that coalesces outbound batches for
// slow consumers.
package acceptor

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/GeeoIO/geeo-server/config"
	"github.com/GeeoIO/geeo-server/logger"
	"github.com/GeeoIO/geeo-server/metrics"
	"github.com/GeeoIO/geeo-server/service"
	"github.com/GeeoIO/geeo-server/session"
	"github.com/GeeoIO/geeo-server/token"
)

// WSAcceptor upgrades HTTP requests at the ws endpoint into client
// sessions.
type WSAcceptor struct {
	processor *service.Processor
	tokens    *token.Manager
	upgrader  websocket.Upgrader

	maxMessageBytes int64
	pongWait        time.Duration
	writeWait       time.Duration
	maxPending      int
}

// NewWSAcceptor builds the acceptor from configuration.
func NewWSAcceptor(cfg *config.Config, processor *service.Processor, tokens *token.Manager) *WSAcceptor {
	return &WSAcceptor{
		processor: processor,
		tokens:    tokens,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.GetInt("geeo.ws.readBufferSize"),
			WriteBufferSize: cfg.GetInt("geeo.ws.writeBufferSize"),
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		maxMessageBytes: int64(cfg.GetInt("geeo.ws.maxMessageBytes")),
		pongWait:        cfg.GetDuration("geeo.ws.pongWait"),
		writeWait:       cfg.GetDuration("geeo.ws.writeWait"),
		maxPending:      cfg.GetInt("geeo.session.buffer"),
	}
}

// Handler serves `GET /ws?token=<JWT>`.
func (a *WSAcceptor) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := a.tokens.Verify(r.URL.Query().Get("token"))
		if err != nil {
			logger.Debugf("rejected connection from %s: %s", r.RemoteAddr, err)
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		conn, err := a.upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warnf("upgrade failed for %s: %s", r.RemoteAddr, err)
			return
		}

		wc := newWSConn(conn, a.writeWait, a.pongWait, a.maxPending)
		s := session.New(wc, claims.Capabilities())
		metrics.ConnectedSessions.Inc()
		s.OnClose(func() { metrics.ConnectedSessions.Dec() })

		if err := a.processor.Open(s, claims); err != nil {
			logger.Warnf("session %s: open failed: %s", s.ID(), err)
			s.Close()
			return
		}

		wc.startWriter()
		a.readLoop(s, wc)
	}
}

// readLoop pumps inbound messages into the processor until the
// connection dies. Every exit path closes the session, which is the
// single cleanup trigger for the bound agent and view.
func (a *WSAcceptor) readLoop(s *session.Session, wc *wsConn) {
	defer s.Close()

	wc.conn.SetReadLimit(a.maxMessageBytes)
	_ = wc.conn.SetReadDeadline(time.Now().Add(a.pongWait))
	wc.conn.SetPongHandler(func(string) error {
		return wc.conn.SetReadDeadline(time.Now().Add(a.pongWait))
	})

	for {
		_, data, err := wc.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debugf("session %s: read error: %s", s.ID(), err)
			}
			return
		}
		if err := a.processor.Submit(s, data); err != nil {
			return
		}
	}
}
