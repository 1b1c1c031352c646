package realtime

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kaxterzz/job-runner/internal/domain"
	"github.com/kaxterzz/job-runner/internal/logger"
)

func quietLogger() *logger.Logger {
	return logger.New(&logger.Config{Level: "error", Output: io.Discard})
}

func startHub(t *testing.T, cfg Config) (*Hub, string) {
	t.Helper()
	hub := NewHub(cfg, quietLogger())
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func readFrame(t *testing.T, ws *websocket.Conn) frame {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f frame
	if err := ws.ReadJSON(&f); err != nil {
		t.Fatalf("read: %v", err)
	}
	return f
}

func TestSubscribeAndReceive(t *testing.T) {
	tests := []struct {
		name string
		data interface{}
	}{
		{"bare string", "job_1"},
		{"object", map[string]string{"jobId": "job_1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub, url := startHub(t, DefaultConfig())
			ws := dial(t, url)

			if err := ws.WriteJSON(map[string]interface{}{"event": domain.EventSubscribe, "data": tt.data}); err != nil {
				t.Fatal(err)
			}
			waitFor(t, "subscription", func() bool { return hub.Subscribers("job_1") == 1 })

			hub.Publish(domain.NewProgressEvent("job_1", 42, domain.JobStatusRunning))

			f := readFrame(t, ws)
			if f.Event != domain.EventProgress {
				t.Fatalf("event = %s", f.Event)
			}
			var p domain.ProgressPayload
			if err := json.Unmarshal(f.Data, &p); err != nil {
				t.Fatal(err)
			}
			if p.JobID != "job_1" || p.Progress != 42 || p.Status != domain.JobStatusRunning {
				t.Errorf("payload = %+v", p)
			}
		})
	}
}

func TestTopicsAreIsolated(t *testing.T) {
	hub, url := startHub(t, DefaultConfig())
	ws := dial(t, url)

	_ = ws.WriteJSON(map[string]string{"event": domain.EventSubscribe, "data": "job_a"})
	waitFor(t, "subscription", func() bool { return hub.Subscribers("job_a") == 1 })

	hub.Publish(domain.NewFailedEvent("job_b", "other job"))
	hub.Publish(domain.NewFailedEvent("job_a", "mine"))

	var p domain.FailedPayload
	if err := json.Unmarshal(readFrame(t, ws).Data, &p); err != nil {
		t.Fatal(err)
	}
	if p.JobID != "job_a" {
		t.Errorf("received event for %s", p.JobID)
	}
}

func TestUnsubscribeAndDisconnect(t *testing.T) {
	hub, url := startHub(t, DefaultConfig())
	ws := dial(t, url)
	waitFor(t, "connection", func() bool { return hub.Connections() == 1 })

	_ = ws.WriteJSON(map[string]string{"event": domain.EventSubscribe, "data": "job_1"})
	waitFor(t, "subscription", func() bool { return hub.Subscribers("job_1") == 1 })

	_ = ws.WriteJSON(map[string]string{"event": domain.EventUnsubscribe, "data": "job_1"})
	waitFor(t, "unsubscription", func() bool { return hub.Subscribers("job_1") == 0 })

	_ = ws.WriteJSON(map[string]string{"event": domain.EventSubscribe, "data": "job_2"})
	waitFor(t, "second subscription", func() bool { return hub.Subscribers("job_2") == 1 })

	ws.Close()
	waitFor(t, "disconnect cleanup", func() bool {
		return hub.Connections() == 0 && hub.Subscribers("job_2") == 0
	})
}

func TestMalformedFramesAreIgnored(t *testing.T) {
	hub, url := startHub(t, DefaultConfig())
	ws := dial(t, url)

	_ = ws.WriteJSON(map[string]string{"event": "bogus", "data": "job_1"})
	_ = ws.WriteJSON(map[string]interface{}{"event": domain.EventSubscribe, "data": 17})
	_ = ws.WriteJSON(map[string]string{"event": domain.EventSubscribe, "data": ""})
	_ = ws.WriteJSON(map[string]string{"event": domain.EventSubscribe, "data": "job_ok"})

	waitFor(t, "valid subscription", func() bool { return hub.Subscribers("job_ok") == 1 })
	if hub.Subscribers("job_1") != 0 || hub.Connections() != 1 {
		t.Error("malformed frames changed hub state")
	}
}

func TestRejectsDisallowedOrigin(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CheckOrigin = func(origin string) bool { return origin == "http://allowed.example" }
	_, url := startHub(t, cfg)

	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Fatal("expected handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("response = %v", resp)
	}

	header.Set("Origin", "http://allowed.example")
	ws, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("allowed origin: %v", err)
	}
	ws.Close()
}

func TestPublishDropsWhenBufferFull(t *testing.T) {
	hub := NewHub(DefaultConfig(), quietLogger())
	c := &conn{
		hub:    hub,
		send:   make(chan []byte, 1),
		topics: make(map[string]struct{}),
		log:    quietLogger(),
	}
	hub.clients[c] = struct{}{}
	hub.subscribe(c, "job_1")

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			hub.Publish(domain.NewProgressEvent("job_1", i, domain.JobStatusRunning))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full buffer")
	}
	if len(c.send) != 1 {
		t.Errorf("buffered %d events, want 1", len(c.send))
	}

	var f frame
	_ = json.Unmarshal(<-c.send, &f)
	if !strings.Contains(string(f.Data), `"progress":0`) {
		t.Errorf("kept %s, want the first event", f.Data)
	}
}

func TestCloseRefusesNewConnections(t *testing.T) {
	hub, url := startHub(t, DefaultConfig())
	ws := dial(t, url)
	waitFor(t, "connection", func() bool { return hub.Connections() == 1 })

	hub.Close()
	waitFor(t, "close", func() bool { return hub.Connections() == 0 })

	_ = ws.SetReadDeadline(time.Now().Add(time.Second))
	if _, _, err := ws.ReadMessage(); err == nil {
		t.Error("connection still readable after Close")
	}
}
