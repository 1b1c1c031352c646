package realtime

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/kaxterzz/job-runner/internal/domain"
	"github.com/kaxterzz/job-runner/internal/logger"
	"github.com/kaxterzz/job-runner/internal/metrics"
)

const maxFrameSize = 4096

// Config tunes connection handling.
type Config struct {
	WriteWait  time.Duration
	PongWait   time.Duration
	SendBuffer int

	// CheckOrigin decides whether a browser origin may open a connection.
	// Nil accepts every origin.
	CheckOrigin func(origin string) bool
}

// DefaultConfig returns the connection defaults.
func DefaultConfig() Config {
	return Config{
		WriteWait:  10 * time.Second,
		PongWait:   60 * time.Second,
		SendBuffer: 64,
	}
}

// Hub fans job events out to the connections subscribed to each job topic.
// Delivery is at-most-once: a connection whose buffer is full loses the event.
type Hub struct {
	cfg      Config
	log      *logger.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*conn]struct{}
	topics  map[string]map[*conn]struct{}
	closed  bool
}

// NewHub creates a hub with no connections.
// Parameters:
//   - cfg: connection settings; zero fields fall back to DefaultConfig.
//   - log: logger instance; nil uses the default logger.
//
// Returns:
//   - *Hub: hub ready to serve connections.
func NewHub(cfg Config, log *logger.Logger) *Hub {
	def := DefaultConfig()
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = def.WriteWait
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = def.PongWait
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	if log == nil {
		log = logger.GetDefault()
	}

	h := &Hub{
		cfg:     cfg,
		log:     log.WithField(logger.FieldComponent, "channel"),
		clients: make(map[*conn]struct{}),
		topics:  make(map[string]map[*conn]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || h.cfg.CheckOrigin == nil {
		return true
	}
	return h.cfg.CheckOrigin(origin)
}

// Publish delivers evt to every connection subscribed to evt.JobID.
// It never blocks on a slow connection.
func (h *Hub) Publish(evt domain.Event) {
	if evt.JobID == "" {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	subs := h.topics[evt.JobID]
	if len(subs) == 0 {
		return
	}

	msg, err := json.Marshal(evt)
	if err != nil {
		h.log.WithError(err).WithField(logger.FieldEvent, evt.Name).Error("Failed to encode event")
		return
	}

	for c := range subs {
		select {
		case c.send <- msg:
			metrics.RecordEvent(evt.Name, true)
		default:
			metrics.RecordEvent(evt.Name, false)
			c.log.WithField(logger.FieldEvent, evt.Name).Warn("Send buffer full, dropping event")
		}
	}
}

// Subscribers returns the number of connections subscribed to jobID.
func (h *Hub) Subscribers(jobID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[jobID])
}

// Connections returns the number of open connections.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		logger.FromContext(r.Context()).WithError(err).Warn("Event channel upgrade failed")
		return
	}

	id := uuid.New().String()
	c := &conn{
		hub:    h,
		ws:     ws,
		send:   make(chan []byte, h.cfg.SendBuffer),
		topics: make(map[string]struct{}),
		log:    logger.FromContext(r.Context()).WithField(logger.FieldConnID, id),
	}
	if !h.register(c) {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(h.cfg.WriteWait))
		ws.Close()
		return
	}

	go c.writePump()
	c.readPump()
}

// Close disconnects every connection and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*conn, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.ws.Close()
	}
}

func (h *Hub) register(c *conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	metrics.ChannelConnections.Inc()
	c.log.Info("Event channel connected")
	return true
}

// unregister drops c from every topic and closes its send buffer.
// Publish holds the read lock while sending, so closing under the write lock
// cannot race a send.
func (h *Hub) unregister(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return
	}
	for topic := range c.topics {
		h.removeFromTopic(topic, c)
	}
	delete(h.clients, c)
	close(c.send)
	metrics.ChannelConnections.Dec()
	c.log.Info("Event channel disconnected")
}

func (h *Hub) subscribe(c *conn, jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return
	}
	subs, ok := h.topics[jobID]
	if !ok {
		subs = make(map[*conn]struct{})
		h.topics[jobID] = subs
	}
	subs[c] = struct{}{}
	c.topics[jobID] = struct{}{}
}

func (h *Hub) unsubscribe(c *conn, jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(c.topics, jobID)
	h.removeFromTopic(jobID, c)
}

func (h *Hub) removeFromTopic(jobID string, c *conn) {
	subs := h.topics[jobID]
	delete(subs, c)
	if len(subs) == 0 {
		delete(h.topics, jobID)
	}
}
