package realtime

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kaxterzz/job-runner/internal/domain"
	"github.com/kaxterzz/job-runner/internal/logger"
)

// conn is one websocket connection. topics is guarded by the hub lock.
type conn struct {
	hub    *Hub
	ws     *websocket.Conn
	send   chan []byte
	topics map[string]struct{}
	log    *logger.Logger
}

// inbound is a client frame. Data carries the job id, either as a bare JSON
// string or as {"jobId": "..."}.
type inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

var errNoJobID = errors.New("frame carries no job id")

func (m inbound) jobID() (string, error) {
	var id string
	if err := json.Unmarshal(m.Data, &id); err == nil {
		id = strings.TrimSpace(id)
		if id == "" {
			return "", errNoJobID
		}
		return id, nil
	}

	var obj struct {
		JobID string `json:"jobId"`
	}
	if err := json.Unmarshal(m.Data, &obj); err != nil {
		return "", err
	}
	if obj.JobID = strings.TrimSpace(obj.JobID); obj.JobID == "" {
		return "", errNoJobID
	}
	return obj.JobID, nil
}

func (c *conn) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.ws.Close()
	}()

	pongWait := c.hub.cfg.PongWait
	c.ws.SetReadLimit(maxFrameSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg inbound
		if err := c.ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.WithError(err).Warn("Event channel read failed")
			}
			return
		}
		c.handle(msg)
	}
}

func (c *conn) handle(msg inbound) {
	log := c.log.WithField(logger.FieldEvent, msg.Event)

	switch msg.Event {
	case domain.EventSubscribe, domain.EventUnsubscribe:
	default:
		log.Debug("Ignoring unknown frame")
		return
	}

	jobID, err := msg.jobID()
	if err != nil {
		log.WithError(err).Debug("Ignoring malformed frame")
		return
	}

	if msg.Event == domain.EventSubscribe {
		c.hub.subscribe(c, jobID)
		log.WithField(logger.FieldJobID, jobID).Debug("Subscribed")
		return
	}
	c.hub.unsubscribe(c, jobID)
	log.WithField(logger.FieldJobID, jobID).Debug("Unsubscribed")
}

func (c *conn) writePump() {
	writeWait := c.hub.cfg.WriteWait
	ticker := time.NewTicker(c.hub.cfg.PongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
