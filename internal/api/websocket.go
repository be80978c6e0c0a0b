package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sscm-labs/sscm-relay/internal/auth"
	"github.com/sscm-labs/sscm-relay/internal/deviceid"
	"github.com/sscm-labs/sscm-relay/internal/infrastructure/config"
	"github.com/sscm-labs/sscm-relay/internal/infrastructure/logging"
	"github.com/sscm-labs/sscm-relay/internal/metrics"
)

// defaultSendBuffer is used when the config leaves send_buffer unset.
const defaultSendBuffer = 256

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// Hub tracks the open relay connections so they can be closed together.
// Subscriptions live in relay.Registry, not here.
type Hub struct {
	logger  *logging.Logger
	clients map[*wsConn]struct{}
	mu      sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[*wsConn]struct{}),
	}
}

// Register adds a connection to the hub.
func (h *Hub) Register(c *wsConn) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.RelayConnections.Inc()
	h.logger.Debug("relay connection opened", "conn_id", c.id, "device_id", c.device, "clients", n)
}

// Unregister removes a connection. Only the caller that actually removed it
// closes the send channel.
func (h *Hub) Unregister(c *wsConn) {
	h.mu.Lock()
	_, existed := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if existed {
		c.closeSend()
		metrics.RelayConnections.Dec()
		h.logger.Debug("relay connection closed", "conn_id", c.id, "device_id", c.device, "clients", n)
	}
}

// ClientCount returns the number of open connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// closeAll closes every connection. The read pumps then unwind through
// Unregister and relay.Router.Disconnect.
func (h *Hub) closeAll() {
	h.mu.RLock()
	clients := make([]*wsConn, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.conn.Close()
	}
}

// wsConn is one relay connection. It satisfies relay.Conn.
type wsConn struct {
	id     string
	device string // empty for admin connections
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte

	mu     sync.Mutex
	closed bool
}

func newWSConn(hub *Hub, conn *websocket.Conn, device string, buffer int) *wsConn {
	if buffer <= 0 {
		buffer = defaultSendBuffer
	}
	return &wsConn{
		id:     uuid.NewString(),
		device: device,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, buffer),
	}
}

// ID returns the connection id used in logs.
func (c *wsConn) ID() string { return c.id }

// Send queues a frame without blocking. It returns false when the connection
// is closed or its queue is full.
func (c *wsConn) Send(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		metrics.RelaySendQueueFull.Inc()
		return false
	}
}

func (c *wsConn) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// handleRelay upgrades a relay connection. Devices identify themselves with
// the deviceId query parameter. Everyone else needs a token granting
// relay access.
func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	device := ""
	if raw := r.URL.Query().Get("deviceId"); raw != "" {
		id, err := deviceid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, ErrCodeValidation, "invalid device ID format")
			return
		}
		device = id.String()
	} else {
		claims, ok := s.authenticate(w, r)
		if !ok {
			return
		}
		if !auth.HasPermission(claims.Role, auth.PermRelayConnect) {
			writeForbidden(w, "insufficient permissions")
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := newWSConn(s.hub, conn, device, s.wsCfg.SendBuffer)
	s.hub.Register(c)

	go c.writePump(s.wsCfg)
	go s.readPump(s.ctx, c)
}

// readPump feeds every inbound frame to the relay router. On exit the
// connection's subscriptions are removed.
func (s *Server) readPump(ctx context.Context, c *wsConn) {
	defer func() {
		s.relay.Disconnect(c)
		s.hub.Unregister(c)
		c.conn.Close()
	}()

	if s.wsCfg.MaxMessageSize > 0 {
		c.conn.SetReadLimit(int64(s.wsCfg.MaxMessageSize))
	}
	deadline := readDeadline(s.wsCfg)
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(deadline))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		msgType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read error", "conn_id", c.id, "error", err)
			} else {
				s.logger.Debug("websocket closed", "conn_id", c.id, "error", err)
			}
			return
		}
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(deadline))
		if msgType != websocket.TextMessage {
			continue
		}
		s.relay.Handle(ctx, c, message)
	}
}

// writePump drains the send queue and keeps the connection alive with pings.
func (c *wsConn) writePump(cfg config.WebSocketConfig) {
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	writeWait := time.Duration(cfg.PongTimeout) * time.Second
	if writeWait <= 0 {
		writeWait = 10 * time.Second
	}
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func readDeadline(cfg config.WebSocketConfig) time.Duration {
	ping := time.Duration(cfg.PingInterval) * time.Second
	pong := time.Duration(cfg.PongTimeout) * time.Second
	if ping <= 0 {
		ping = 30 * time.Second
	}
	if pong <= 0 {
		pong = 10 * time.Second
	}
	return ping + pong
}
