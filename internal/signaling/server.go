package signaling

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/openmeet/signaling-relay/internal/client"
	"github.com/openmeet/signaling-relay/internal/meeting"
	"github.com/openmeet/signaling-relay/internal/metrics"
	"github.com/openmeet/signaling-relay/internal/origin"
	"github.com/openmeet/signaling-relay/internal/protocol"
	"github.com/openmeet/signaling-relay/internal/ratelimit"
)

// Config carries the collaborators and per-connection limits for a Server.
type Config struct {
	Clients  *client.Registry
	Meetings *meeting.Registry
	Metrics  *metrics.Metrics
	Logger   *slog.Logger

	// AllowedOrigins is the normalized browser-origin allowlist for the
	// websocket handshake. Empty means any origin is accepted.
	AllowedOrigins []string

	MaxMessageBytes      int64
	MaxMessagesPerSecond int64
	PingInterval         time.Duration
	IdleTimeout          time.Duration
	WriteTimeout         time.Duration
}

// Server owns the websocket endpoint and the lifecycle of every connection:
// identity assignment, registration, the read loop, and the cleanup cascade
// that runs exactly once per connection no matter how it ends.
type Server struct {
	cfg      Config
	log      *slog.Logger
	metrics  *metrics.Metrics
	router   *Router
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	s := &Server{
		cfg:     cfg,
		log:     cfg.Logger,
		metrics: cfg.Metrics,
		router:  NewRouter(cfg.Logger, cfg.Metrics, cfg.Clients, cfg.Meetings),
		conns:   make(map[*websocket.Conn]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return origin.Allowed(r.Header.Get("Origin"), cfg.AllowedOrigins)
		},
	}
	return s
}

// RegisterRoutes attaches the websocket endpoint to mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", s.handleWebSocket)
}

// Close tears down every live connection. New upgrades are still possible
// afterwards; callers stop the HTTP listener first.
func (s *Server) Close() {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	for _, conn := range conns {
		writeClose(conn, websocket.CloseGoingAway, "server shutting down")
		_ = conn.Close()
	}
}

func (s *Server) track(conn *websocket.Conn) {
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

// wsClient adapts a websocket connection to the client registry's Sender.
// The mutex serializes data writes; control frames go through WriteControl,
// which gorilla permits concurrently with data writes.
type wsClient struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu sync.Mutex
}

func (c *wsClient) Send(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket_upgrade_failed", "remote_addr", r.RemoteAddr, "err", err)
		return
	}

	clientID := uuid.NewString()
	sender := &wsClient{conn: conn, writeTimeout: s.cfg.WriteTimeout}

	s.track(conn)
	nickname := s.cfg.Clients.Register(clientID, sender)
	s.metrics.Inc(metrics.ClientsConnected)
	s.log.Info("client_connected", "client_id", clientID, "remote_addr", r.RemoteAddr)

	// The cleanup cascade runs exactly once: registry removal first so no
	// new messages are routed to the connection, then meeting purge so the
	// remaining participants learn about the departure.
	defer func() {
		s.cfg.Clients.Unregister(clientID)
		s.cfg.Meetings.PurgeClient(clientID)
		s.untrack(conn)
		_ = conn.Close()
		s.metrics.Inc(metrics.ClientsDisconnected)
		s.log.Info("client_disconnected", "client_id", clientID)
	}()

	if err := sender.Send(protocol.NewWelcome(clientID, nickname)); err != nil {
		return
	}

	conn.SetReadLimit(s.cfg.MaxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
	})

	stopPings := make(chan struct{})
	defer close(stopPings)
	go s.pingLoop(conn, stopPings)

	bucket := ratelimit.NewTokenBucket(ratelimit.RealClock{}, s.cfg.MaxMessagesPerSecond, s.cfg.MaxMessagesPerSecond)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		// Reading before the limit check drains the frame, so an offending
		// client sees the close reason instead of a reset.
		if !bucket.Allow(1) {
			s.metrics.Inc(metrics.MessagesRateLimited)
			s.log.Warn("client_rate_limited", "client_id", clientID)
			writeClose(conn, websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}

		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))

		if msgType != websocket.TextMessage {
			s.metrics.Inc(metrics.MessagesMalformed)
			_ = sender.Send(protocol.NewError("unparseable message"))
			continue
		}

		s.router.Route(clientID, data)
	}
}

func (s *Server) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

func writeClose(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
}
