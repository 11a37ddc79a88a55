package handlers

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/anstrom/inventorama/internal/api/middleware"
	"github.com/anstrom/inventorama/internal/logging"
	"github.com/anstrom/inventorama/internal/models"
)

const (
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriodRatio = 0.9
	pingPeriod      = time.Duration(float64(pongWait) * pingPeriodRatio)
	maxMessageSize  = 512
)

// RecordFeed publishes record transitions to subscribers.
type RecordFeed interface {
	Subscribe() (<-chan models.ScanRecord, func())
}

// WebSocketMessage represents a WebSocket message structure.
type WebSocketMessage struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// WebSocketHandler streams every record transition to connected clients.
type WebSocketHandler struct {
	feed     RecordFeed
	logger   *logging.Logger
	upgrader websocket.Upgrader

	clients  atomic.Int64
	mu       sync.Mutex
	conns    map[*websocket.Conn]struct{}
	shutdown chan struct{}
	closed   bool
}

// NewWebSocketHandler creates a live view handler fed by feed.
func NewWebSocketHandler(feed RecordFeed, logger *logging.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		feed:   feed,
		logger: logger.WithComponent("websocket"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns:    make(map[*websocket.Conn]struct{}),
		shutdown: make(chan struct{}),
	}
}

// ServeWS handles GET /api/v1/ws.
func (h *WebSocketHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r)

	// Subscribe before the handshake completes so no transition published
	// after the client sees the upgrade is missed.
	records, unsubscribe := h.feed.Subscribe()
	defer unsubscribe()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", "request_id", requestID, "error", err)
		return
	}
	if !h.register(conn) {
		_ = conn.Close()
		return
	}
	defer h.unregister(conn)

	h.logger.Debug("WebSocket client connected", "request_id", requestID, "clients", h.clients.Load())

	closed := make(chan struct{})
	go h.readPump(conn, closed, requestID)
	h.writePump(conn, records, closed, requestID)
}

func (h *WebSocketHandler) register(conn *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[conn] = struct{}{}
	h.clients.Add(1)
	return true
}

func (h *WebSocketHandler) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.conns[conn]; ok {
		delete(h.conns, conn)
		h.clients.Add(-1)
	}
	h.mu.Unlock()
	_ = conn.Close()
}

// readPump discards client messages and signals closed when the peer goes
// away.
func (h *WebSocketHandler) readPump(conn *websocket.Conn, closed chan<- struct{}, requestID string) {
	defer close(closed)

	conn.SetReadLimit(maxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("WebSocket unexpected close", "request_id", requestID, "error", err)
			}
			return
		}
	}
}

func (h *WebSocketHandler) writePump(conn *websocket.Conn, records <-chan models.ScanRecord, closed <-chan struct{}, requestID string) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case <-h.shutdown:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		case rec, ok := <-records:
			if !ok {
				return
			}
			msg := WebSocketMessage{Type: "record", Timestamp: time.Now().UTC(), Data: rec}
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Debug("Write failed, closing connection", "request_id", requestID, "error", err)
				return
			}
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.logger.Debug("Ping failed, closing connection", "request_id", requestID, "error", err)
				return
			}
		}
	}
}

// ConnectedClients returns the number of open connections.
func (h *WebSocketHandler) ConnectedClients() int {
	return int(h.clients.Load())
}

// Close disconnects every client and refuses new ones.
func (h *WebSocketHandler) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	close(h.shutdown)
	h.logger.Info("WebSocket handler closed", "clients", len(h.conns))
	return nil
}
