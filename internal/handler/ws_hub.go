package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/prn-tf/sendme/internal/metrics"
	"github.com/prn-tf/sendme/internal/service"
)

const (
	wsPingInterval = 30 * time.Second
	wsReadTimeout  = 90 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsSendBuffer   = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub fans message events out to every connected device of a user.
// It implements service.EventPublisher.
type Hub struct {
	mu      sync.Mutex
	clients map[int64]map[*wsClient]struct{}
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

type wsClient struct {
	userID    int64
	conn      *websocket.Conn
	send      chan []byte
	closeChan chan struct{}
	closeOnce sync.Once
}

// NewHub creates an empty Hub.
func NewHub(m *metrics.Metrics, logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[int64]map[*wsClient]struct{}),
		metrics: m,
		logger:  logger.With().Str("component", "ws_hub").Logger(),
	}
}

// Publish queues event for every connection of userID. Slow clients whose
// buffer is full are disconnected instead of blocking the caller.
func (h *Hub) Publish(_ context.Context, userID int64, event service.MessageEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Str("event", string(event.Type)).Msg("failed to encode event")
		return
	}

	h.mu.Lock()
	var slow []*wsClient
	for c := range h.clients[userID] {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.Unlock()

	for _, c := range slow {
		h.logger.Warn().Int64("user_id", userID).Msg("dropping slow websocket client")
		h.unregister(c)
	}
}

// Connections returns the number of open connections of userID.
func (h *Hub) Connections(userID int64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[userID])
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	var all []*wsClient
	for _, set := range h.clients {
		for c := range set {
			all = append(all, c)
		}
	}
	h.mu.Unlock()

	for _, c := range all {
		h.unregister(c)
	}
}

// ServeWS handles GET /api/v1/ws. The request must already be authenticated.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeErrorCode(w, errUnauthorized, "missing user")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &wsClient{
		userID:    userID,
		conn:      conn,
		send:      make(chan []byte, wsSendBuffer),
		closeChan: make(chan struct{}),
	}
	h.register(c)
	defer h.unregister(c)

	go c.writeLoop(h.logger)

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	// Clients only listen; the read loop exists to process control frames.
	for {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug().Err(err).Int64("user_id", userID).Msg("websocket read error")
			}
			return
		}
	}
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	set, ok := h.clients[c.userID]
	if !ok {
		set = make(map[*wsClient]struct{})
		h.clients[c.userID] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.WSConnections.Inc()
	}
	h.logger.Debug().Int64("user_id", c.userID).Msg("websocket connected")
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	set, ok := h.clients[c.userID]
	_, present := set[c]
	if present {
		delete(set, c)
		if len(set) == 0 {
			delete(h.clients, c.userID)
		}
	}
	h.mu.Unlock()

	if !ok || !present {
		return
	}
	c.close()
	if h.metrics != nil {
		h.metrics.WSConnections.Dec()
	}
	h.logger.Debug().Int64("user_id", c.userID).Msg("websocket disconnected")
}

func (c *wsClient) writeLoop(logger zerolog.Logger) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closeChan:
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				logger.Debug().Err(err).Int64("user_id", c.userID).Msg("websocket ping failed")
				c.close()
				return
			}
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Debug().Err(err).Int64("user_id", c.userID).Msg("websocket write failed")
				c.close()
				return
			}
		}
	}
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() {
		close(c.closeChan)
		c.conn.Close()
	})
}

var _ service.EventPublisher = (*Hub)(nil)
