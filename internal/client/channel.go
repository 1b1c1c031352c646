package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kaxterzz/job-runner/internal/domain"
	"github.com/kaxterzz/job-runner/internal/logger"
)

// ErrNotConnected is returned when a frame is sent while the channel is down.
var ErrNotConnected = errors.New("event channel not connected")

// DisconnectReason tells why an established connection ended.
type DisconnectReason int

const (
	// ConnectionLost covers network errors and unexpected closes.
	ConnectionLost DisconnectReason = iota
	// ServerClosed means the server ended the connection cleanly.
	ServerClosed
	// ClientClosed means Close was called or the run context ended.
	ClientClosed
)

// ChannelConfig controls dialing and reconnection.
type ChannelConfig struct {
	// ReconnectAttempts bounds consecutive failed dials before giving up.
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	DialTimeout       time.Duration
	WriteWait         time.Duration
}

// ChannelCallbacks receive connection and event notifications.
// They run on the channel goroutine; nil callbacks are skipped.
type ChannelCallbacks struct {
	OnConnect         func()
	OnDisconnect      func(reason DisconnectReason, err error)
	OnReconnectFailed func(err error)
	OnEvent           func(name string, data json.RawMessage)
}

// Channel is the client side of the job event channel. Subscriptions are
// remembered and re-sent after every reconnect.
type Channel struct {
	url string
	cfg ChannelConfig
	cb  ChannelCallbacks
	log *logger.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	topics map[string]struct{}
	closed bool
	cancel context.CancelFunc

	writeMu sync.Mutex
}

// NewChannel creates a channel for the server at baseURL (http or https).
func NewChannel(baseURL string, cfg ChannelConfig, cb ChannelCallbacks, log *logger.Logger) (*Channel, error) {
	wsURL, err := channelURL(baseURL)
	if err != nil {
		return nil, err
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 10 * time.Second
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if log == nil {
		log = logger.GetDefault()
	}
	return &Channel{
		url:    wsURL,
		cfg:    cfg,
		cb:     cb,
		log:    log.WithField(logger.FieldComponent, "channel-client"),
		topics: make(map[string]struct{}),
	}, nil
}

func channelURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid server url %q: %w", baseURL, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	u.Path += "/ws"
	return u.String(), nil
}

// Connected reports whether a connection is currently established.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Run connects and serves the channel until ctx ends, Close is called, or
// ReconnectAttempts consecutive dials fail.
func (c *Channel) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.cancel = cancel
	c.mu.Unlock()

	failures := 0
	for {
		ws, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			c.log.WithError(err).Warnf("Job server connection failed: attempt=%d", failures)
			if failures > c.cfg.ReconnectAttempts {
				c.log.Warn("Failed to reconnect to job server, live updates disabled")
				if c.cb.OnReconnectFailed != nil {
					c.cb.OnReconnectFailed(err)
				}
				return
			}
			if !sleepCtx(ctx, c.cfg.ReconnectDelay) {
				return
			}
			continue
		}

		failures = 0
		reason, err := c.serve(ctx, ws)
		if c.cb.OnDisconnect != nil {
			c.cb.OnDisconnect(reason, err)
		}
		if reason == ClientClosed || ctx.Err() != nil {
			return
		}
		if !sleepCtx(ctx, c.cfg.ReconnectDelay) {
			return
		}
	}
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.DialTimeout}
	ws, resp, err := dialer.DialContext(ctx, c.url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return ws, err
}

// serve runs one established connection until it ends.
func (c *Channel) serve(ctx context.Context, ws *websocket.Conn) (DisconnectReason, error) {
	stop := context.AfterFunc(ctx, func() { ws.Close() })
	defer stop()

	c.mu.Lock()
	c.conn = ws
	topics := make([]string, 0, len(c.topics))
	for t := range c.topics {
		topics = append(topics, t)
	}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		ws.Close()
	}()

	c.log.WithField("url", c.url).Info("Connected to job server")
	if c.cb.OnConnect != nil {
		c.cb.OnConnect()
	}
	for _, t := range topics {
		if err := c.send(domain.EventSubscribe, t); err != nil {
			c.log.WithError(err).WithField(logger.FieldJobID, t).Warn("Failed to restore subscription")
		}
	}

	for {
		var msg struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		}
		if err := ws.ReadJSON(&msg); err != nil {
			switch {
			case ctx.Err() != nil:
				return ClientClosed, nil
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				c.log.Info("Job server closed the connection")
				return ServerClosed, err
			default:
				c.log.WithError(err).Warn("Connection lost, trying to reconnect")
				return ConnectionLost, err
			}
		}
		if c.cb.OnEvent != nil {
			c.cb.OnEvent(msg.Event, msg.Data)
		}
	}
}

// Subscribe joins the job's topic. It is idempotent and the subscription
// survives reconnects. The returned error only reports a failed send; the
// topic is still remembered.
func (c *Channel) Subscribe(jobID string) error {
	c.mu.Lock()
	c.topics[jobID] = struct{}{}
	c.mu.Unlock()
	return c.send(domain.EventSubscribe, jobID)
}

// Unsubscribe leaves the job's topic. It is idempotent.
func (c *Channel) Unsubscribe(jobID string) error {
	c.mu.Lock()
	_, had := c.topics[jobID]
	delete(c.topics, jobID)
	c.mu.Unlock()
	if !had {
		return nil
	}
	return c.send(domain.EventUnsubscribe, jobID)
}

func (c *Channel) send(event, jobID string) error {
	c.mu.Lock()
	ws := c.conn
	c.mu.Unlock()
	if ws == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
	return ws.WriteJSON(map[string]string{"event": event, "data": jobID})
}

// Close stops Run and closes the current connection.
func (c *Channel) Close() {
	c.mu.Lock()
	c.closed = true
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
