package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/chessmate/backend/internal/auth"
	"github.com/chessmate/backend/internal/metrics"
	"github.com/chessmate/backend/internal/ratelimit"
	"github.com/chessmate/backend/internal/requestqueue"
)

const (
	defaultAuthTimeout       = 10 * time.Second
	defaultHeartbeatInterval = 30 * time.Second
)

// FrameHandler consumes one routed frame. The raw payload is passed
// through so handlers decode their own message shape.
type FrameHandler func(raw json.RawMessage, c *Client)

// Config tunes the gateway. Zero values take the defaults above.
type Config struct {
	AuthTimeout       time.Duration
	HeartbeatInterval time.Duration
	// AllowedOrigins restricts the upgrade handshake. Empty allows all,
	// which is only sane behind a trusted proxy.
	AllowedOrigins []string
}

// Gateway owns every live WebSocket connection: the auth handshake,
// frame routing, heartbeat and disconnect cleanup.
type Gateway struct {
	cfg      Config
	verifier auth.Verifier
	limiter  *ratelimit.Limiter
	metrics  *metrics.Metrics
	queues   []*requestqueue.Queue
	log      *slog.Logger

	upgrader websocket.Upgrader

	mu       sync.RWMutex
	clients  map[string]*Client
	handlers map[string]FrameHandler
}

// New builds a gateway. limiter and m may be nil; queues are the
// request queues whose pending entries a disconnect must cancel.
func New(cfg Config, verifier auth.Verifier, limiter *ratelimit.Limiter, m *metrics.Metrics, queues ...*requestqueue.Queue) *Gateway {
	if cfg.AuthTimeout == 0 {
		cfg.AuthTimeout = defaultAuthTimeout
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	gw := &Gateway{
		cfg:      cfg,
		verifier: verifier,
		limiter:  limiter,
		metrics:  m,
		queues:   queues,
		log:      slog.With("component", "gateway"),
		clients:  make(map[string]*Client),
		handlers: make(map[string]FrameHandler),
	}
	gw.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     checkOrigin(cfg.AllowedOrigins),
	}
	return gw
}

func checkOrigin(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		return set[r.Header.Get("Origin")]
	}
}

// Route registers the handler for one frame type. Not safe to call
// after the gateway starts accepting connections.
func (gw *Gateway) Route(msgType string, h FrameHandler) {
	gw.handlers[msgType] = h
}

// HandleWebSocket upgrades the request and starts the connection's
// pumps. The client has AuthTimeout to present a valid token.
func (gw *Gateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := gw.upgrader.Upgrade(w, r, nil)
	if err != nil {
		gw.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := newClient(gw, uuid.NewString(), conn)
	gw.register(c)

	go c.writePump()
	go c.readPump()

	time.AfterFunc(gw.cfg.AuthTimeout, func() {
		if !c.authed.Load() && c.Open() {
			gw.observeConnection("auth_timeout")
			c.closeWith(CloseAuthTimeout, "authentication timeout")
		}
	})
}

func (gw *Gateway) register(c *Client) {
	gw.mu.Lock()
	gw.clients[c.id] = c
	n := len(gw.clients)
	gw.mu.Unlock()

	if gw.metrics != nil {
		gw.metrics.ConnectionsActive.Set(float64(n))
	}
	gw.log.Info("connection opened", "conn", c.id)
}

// unregister drops the connection and cancels the user's pending work
// in every queue.
func (gw *Gateway) unregister(c *Client) {
	gw.mu.Lock()
	if _, ok := gw.clients[c.id]; !ok {
		gw.mu.Unlock()
		return
	}
	delete(gw.clients, c.id)
	n := len(gw.clients)
	gw.mu.Unlock()

	if user := c.UserID(); user != "" {
		for _, q := range gw.queues {
			q.CancelUser(user)
		}
	}
	if gw.metrics != nil {
		gw.metrics.ConnectionsActive.Set(float64(n))
	}
	gw.log.Info("connection closed", "conn", c.id, "user", c.UserID())
}

// handleFrame is called from each connection's readPump.
func (gw *Gateway) handleFrame(c *Client, payload []byte) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		gw.observeFrame("malformed")
		_ = c.Send(errorFrame{Type: "error", Error: "malformed message"})
		return
	}

	if !c.authed.Load() {
		if env.Type != "auth" {
			_ = c.Send(errorFrame{Type: "error", Error: "not authenticated"})
			return
		}
		gw.handleAuth(c, payload)
		return
	}

	gw.observeFrame(env.Type)

	if env.Type == "auth" {
		_ = c.Send(errorFrame{Type: "error", Error: "already authenticated"})
		return
	}

	if gw.limiter != nil && !gw.limiter.Allow(c.UserID()) {
		_ = c.Send(errorFrame{Type: "error", Error: "rate limit exceeded"})
		return
	}

	handler, ok := gw.handlers[env.Type]
	if !ok {
		_ = c.Send(errorFrame{Type: "error", Error: "unknown message type: " + env.Type})
		return
	}
	handler(payload, c)
}

func (gw *Gateway) handleAuth(c *Client, payload []byte) {
	var frame authFrame
	if err := json.Unmarshal(payload, &frame); err != nil || frame.Token == "" {
		gw.observeConnection("auth_failed")
		c.closeWith(CloseNoToken, "missing token")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), gw.cfg.AuthTimeout)
	defer cancel()

	user, err := gw.verifier.Verify(ctx, frame.Token)
	if err != nil {
		gw.observeConnection("auth_failed")
		if errors.Is(err, auth.ErrInvalidToken) {
			c.closeWith(CloseInvalidToken, "invalid token")
		} else {
			gw.log.Error("token verification failed", "conn", c.id, "error", err)
			c.closeWith(CloseInvalidToken, "authentication unavailable")
		}
		return
	}

	c.setUser(user)
	gw.observeConnection("accepted")
	gw.log.Info("connection authenticated", "conn", c.id, "user", user.ID)
	_ = c.Send(authSuccessFrame{Type: "auth_success", User: user})
}

// Run drives the heartbeat until the context is cancelled. Each sweep
// terminates connections that never answered the previous ping, then
// clears the flag and pings again.
func (gw *Gateway) Run(ctx context.Context) {
	ticker := time.NewTicker(gw.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			gw.sweep()
		}
	}
}

func (gw *Gateway) sweep() {
	gw.mu.RLock()
	clients := make([]*Client, 0, len(gw.clients))
	for _, c := range gw.clients {
		clients = append(clients, c)
	}
	gw.mu.RUnlock()

	for _, c := range clients {
		if !c.alive.Load() {
			gw.log.Warn("heartbeat missed, dropping connection", "conn", c.id, "user", c.UserID())
			c.closeWith(websocket.CloseGoingAway, "heartbeat timeout")
			continue
		}
		c.alive.Store(false)
		c.requestPing()
	}
}

// ConnectionCount reports the live connections for the stats endpoint.
func (gw *Gateway) ConnectionCount() int {
	gw.mu.RLock()
	defer gw.mu.RUnlock()
	return len(gw.clients)
}

// AuthenticatedCount reports how many live connections have completed
// the auth handshake.
func (gw *Gateway) AuthenticatedCount() int {
	gw.mu.RLock()
	defer gw.mu.RUnlock()
	n := 0
	for _, c := range gw.clients {
		if c.authed.Load() {
			n++
		}
	}
	return n
}

// Shutdown closes every connection with a going-away frame.
func (gw *Gateway) Shutdown() {
	gw.mu.RLock()
	clients := make([]*Client, 0, len(gw.clients))
	for _, c := range gw.clients {
		clients = append(clients, c)
	}
	gw.mu.RUnlock()

	for _, c := range clients {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
	}
}

func (gw *Gateway) observeConnection(result string) {
	if gw.metrics != nil {
		gw.metrics.ConnectionsTotal.WithLabelValues(result).Inc()
	}
}

func (gw *Gateway) observeFrame(frameType string) {
	if gw.metrics != nil {
		gw.metrics.FramesTotal.WithLabelValues(frameType).Inc()
	}
}
