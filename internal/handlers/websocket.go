package handlers

import (
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"

	"studio-board/internal/board"
	"studio-board/internal/common"
	"studio-board/internal/middleware"
	"studio-board/internal/services"
)

// WebSocketHub tracks open board sessions and sends them heartbeats
type WebSocketHub struct {
	sessions   map[*Session]bool
	register   chan *Session
	unregister chan *Session
	stop       chan struct{}
	stopOnce   sync.Once
	mutex      sync.RWMutex

	config    *common.Config
	repo      *services.Repository
	resolver  *board.ConfigResolver
	metrics   *services.Metrics
	logger    arbor.ILogger
	heartbeat time.Duration
	upgrader  websocket.Upgrader
}

// NewWebSocketHub creates a new WebSocket hub and starts its loop
func NewWebSocketHub(deps Dependencies) *WebSocketHub {
	heartbeat := time.Duration(deps.Config.Server.HeartbeatSeconds) * time.Second
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}

	hub := &WebSocketHub{
		sessions:   make(map[*Session]bool),
		register:   make(chan *Session),
		unregister: make(chan *Session),
		stop:       make(chan struct{}),
		config:     deps.Config,
		repo:       deps.Repo,
		resolver:   deps.Resolver,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		heartbeat:  heartbeat,
	}
	hub.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     hub.checkOrigin,
	}
	go hub.run()
	return hub
}

// run manages session registration and heartbeats
func (h *WebSocketHub) run() {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case session := <-h.register:
			h.mutex.Lock()
			h.sessions[session] = true
			h.mutex.Unlock()
			h.metrics.ConnectionOpened()
			h.logger.Debug().Str("user", session.user.Email).Msg("WebSocket session opened")

		case session := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.sessions[session]; ok {
				delete(h.sessions, session)
				h.metrics.ConnectionClosed()
			}
			h.mutex.Unlock()
			h.logger.Debug().Str("user", session.user.Email).Msg("WebSocket session closed")

		case <-ticker.C:
			h.SendStatus("online")

		case <-h.stop:
			h.mutex.Lock()
			for session := range h.sessions {
				session.close()
				delete(h.sessions, session)
				h.metrics.ConnectionClosed()
			}
			h.mutex.Unlock()
			return
		}
	}
}

// SendStatus sends a heartbeat to every open session
func (h *WebSocketHub) SendStatus(status string) {
	msg := ServerMessage{
		Type:      MessageStatus,
		Status:    status,
		Timestamp: time.Now().Unix(),
	}
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	for session := range h.sessions {
		session.send(msg)
	}
}

// Count returns the number of open sessions.
func (h *WebSocketHub) Count() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.sessions)
}

// Stop closes every session and ends the hub loop.
func (h *WebSocketHub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// checkOrigin admits any origin when CORS allows all, otherwise only the
// configured ones.
func (h *WebSocketHub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	allowed := h.config.CORS.AllowedOrigins
	if origin == "" || len(allowed) == 0 || slices.Contains(allowed, "*") {
		return true
	}
	return slices.Contains(allowed, origin)
}

// WebSocketHandler upgrades the request and runs a board session until the
// connection closes
func (h *WebSocketHub) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.UserFromContext(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	session := newSession(h, conn, user)
	select {
	case h.register <- session:
	case <-h.stop:
		conn.Close()
		return
	}

	go session.writePump()
	session.readPump()

	select {
	case h.unregister <- session:
	case <-h.stop:
	}
}

func marshalMessage(msg ServerMessage) []byte {
	data, err := json.Marshal(msg)
	if err != nil {
		fallback, _ := json.Marshal(ServerMessage{Type: MessageError, Error: &common.ErrorBody{
			Type: common.ErrorTypeInternal, Code: "ENCODE_FAILED", Message: "could not encode message",
		}})
		return fallback
	}
	return data
}
