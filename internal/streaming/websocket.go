package streaming

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tracelink-lab/internal/domain/models"
	"tracelink-lab/pkg/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origins are enforced by the CORS layer
		return true
	},
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// WebSocketHub manages WebSocket connections that watch search sessions
type WebSocketHub struct {
	logger *logger.Logger

	mu      sync.RWMutex
	clients map[*WebSocketClient]bool

	broadcast chan *SearchEvent
}

// WebSocketClient represents a connected WebSocket client
type WebSocketClient struct {
	hub    *WebSocketHub
	conn   *websocket.Conn
	send   chan []byte
	logger *logger.Logger

	subMu        sync.RWMutex
	subscription *Subscription
}

func (c *WebSocketClient) matches(event *SearchEvent) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return c.subscription == nil || c.subscription.Matches(event)
}

// NewWebSocketHub creates a new WebSocket hub
func NewWebSocketHub(log *logger.Logger) *WebSocketHub {
	return &WebSocketHub{
		logger:    log.WithComponent("websocket-hub"),
		clients:   make(map[*WebSocketClient]bool),
		broadcast: make(chan *SearchEvent, 256),
	}
}

// Run starts the hub's main loop
func (h *WebSocketHub) Run(ctx context.Context) {
	h.logger.Info().Msg("WebSocket hub started")

	for {
		select {
		case <-ctx.Done():
			h.logger.Info().Msg("WebSocket hub stopping")
			h.closeAllClients()
			return
		case event := <-h.broadcast:
			h.broadcastEvent(event)
		}
	}
}

// BroadcastEvent sends an event to all matching clients
func (h *WebSocketHub) BroadcastEvent(event *SearchEvent) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn().Msg("broadcast channel full, dropping event")
	}
}

// broadcastEvent sends an event to all matching clients
func (h *WebSocketHub) broadcastEvent(event *SearchEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if client.matches(event) {
			select {
			case client.send <- data:
			default:
				// Client buffer full, skip
			}
		}
	}
}

// closeAllClients closes all connected clients
func (h *WebSocketHub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}

// registerClient adds a client to the hub
func (h *WebSocketHub) registerClient(client *WebSocketClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client] = true
	h.logger.Info().Int("clients", len(h.clients)).Msg("client connected")
}

// unregisterClient removes a client from the hub
func (h *WebSocketHub) unregisterClient(client *WebSocketClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		h.logger.Info().Int("clients", len(h.clients)).Msg("client disconnected")
	}
}

// ClientCount returns the number of connected clients
func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWebSocket handles watcher connections. A client narrows what it
// receives by sending a Subscription as JSON at any time.
func (h *WebSocketHub) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to upgrade connection")
		return
	}

	client := &WebSocketClient{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, 256),
		logger: h.logger,
	}
	if id := r.URL.Query().Get("session_id"); id != "" {
		client.subscription = &Subscription{SessionIDs: []string{id}}
	}

	h.registerClient(client)

	// Start client goroutines
	go client.writePump()
	go client.readPump()
}

// readPump reads messages from the client
func (c *WebSocketClient) readPump() {
	defer func() {
		c.hub.unregisterClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(64 * 1024) // 64KB max message size
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn().Err(err).Msg("websocket read error")
			}
			break
		}

		// Handle subscription update
		var sub Subscription
		if err := json.Unmarshal(message, &sub); err == nil {
			c.subMu.Lock()
			c.subscription = &sub
			c.subMu.Unlock()
			c.logger.Debug().Msg("subscription updated")
		}
	}
}

// writePump writes messages to the client
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Batch pending messages
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte("\n"))
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// WebSocketMessage is a message sent to WebSocket clients
type WebSocketMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Message types of a streamed search
const (
	MessageProgress = "progress"
	MessageResult   = "result"
	MessageError    = "error"
)

// SessionRunner runs one search, reporting progress as it goes
type SessionRunner func(ctx context.Context, progress models.ProgressFunc) (any, error)

// ServeSession upgrades the connection, runs one search and streams its
// progress followed by a single result or error message. The search is
// cancelled when the client goes away.
func ServeSession(w http.ResponseWriter, r *http.Request, log *logger.Logger, run SessionRunner) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade connection")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reader only notices the client closing
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	out := make(chan WebSocketMessage, 64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range out {
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				log.Debug().Err(err).Msg("websocket write failed")
				cancel()
				for range out {
				}
				return
			}
		}
	}()

	progress := func(ev models.ProgressEvent) {
		payload, err := json.Marshal(ev)
		if err != nil {
			return
		}
		select {
		case out <- WebSocketMessage{Type: MessageProgress, Payload: payload}:
		case <-ctx.Done():
		}
	}

	result, err := run(ctx, progress)
	if err != nil {
		payload, _ := json.Marshal(map[string]string{"error": err.Error()})
		out <- WebSocketMessage{Type: MessageError, Payload: payload}
	} else if payload, merr := json.Marshal(result); merr == nil {
		out <- WebSocketMessage{Type: MessageResult, Payload: payload}
	} else {
		log.Error().Err(merr).Msg("failed to marshal search result")
	}
	close(out)
	<-done

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
