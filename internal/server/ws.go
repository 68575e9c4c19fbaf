// Package server hosts the coordinator's duplex ingresses: WebSocket for
// browser peers and a QUIC gateway for native clients. Both speak the same
// JSON envelope protocol and feed the same router.
package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dropwire/coordinator/internal/config"
	"github.com/dropwire/coordinator/internal/observability"
	"github.com/dropwire/coordinator/internal/ratelimit"
	"github.com/dropwire/coordinator/internal/router"
)

const closeGraceTimeout = 2 * time.Second

// WSServer upgrades HTTP connections and pumps frames into the router.
type WSServer struct {
	router   *router.Router
	upgrader websocket.Upgrader
	limiter  *ratelimit.TokenBucket

	// readLimit is a hard transport cap above the codec's soft ceiling:
	// frames between the two are dropped politely by the codec, frames
	// beyond it kill the connection.
	readLimit int64

	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewWSServer creates the WebSocket ingress.
func NewWSServer(cfg *config.Config, rt *router.Router, logger *observability.Logger, metrics *observability.Metrics) *WSServer {
	return &WSServer{
		router: rt,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			// Peer identity is the opaque session id, not the page origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:   ratelimit.NewTokenBucket(cfg.AcceptRatePerSecond, cfg.AcceptBurst),
		readLimit: 4 * cfg.MaxEnvelopeBytes(),
		logger:    logger,
		metrics:   metrics,
	}
}

// Handler returns the HTTP handler exposing the /ws endpoint.
func (s *WSServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

func (s *WSServer) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow(1) {
		http.Error(w, "too many connections", http.StatusTooManyRequests)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error(err, "websocket upgrade failed")
		return
	}
	conn.SetReadLimit(s.readLimit)

	client := s.router.Connect(&wsOutbound{conn: conn})
	s.readPump(client, conn)
}

// readPump serializes one peer's inbound stream in arrival order. It
// returns when the connection dies, which tears the session down.
func (s *WSServer) readPump(client *router.Client, conn *websocket.Conn) {
	for {
		msgType, raw, err := conn.ReadMessage()
		if err != nil {
			reason := "connection closed"
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				reason = "connection error"
			}
			s.router.Disconnect(client, reason)
			return
		}
		if msgType != websocket.TextMessage {
			// The protocol is UTF-8 JSON; binary frames are not part of it.
			continue
		}
		s.router.HandleMessage(client, raw)
	}
}

// wsOutbound adapts a websocket connection to the registry's send handle.
// The mutex serializes writers: the router forwards from many sessions
// into one connection.
type wsOutbound struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (o *wsOutbound) Send(data []byte, deadline time.Duration) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.conn.SetWriteDeadline(time.Now().Add(deadline)); err != nil {
		return err
	}
	return o.conn.WriteMessage(websocket.TextMessage, data)
}

func (o *wsOutbound) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "")
	_ = o.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGraceTimeout))
	return o.conn.Close()
}
