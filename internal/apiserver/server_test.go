package apiserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/alexsjones/sidekick/internal/eventbus"
)

type fakeSidecar struct {
	name    string
	running bool
	pid     int
}

func (f *fakeSidecar) Name() string  { return f.name }
func (f *fakeSidecar) Running() bool { return f.running }
func (f *fakeSidecar) PID() int      { return f.pid }
func (f *fakeSidecar) Shutdown(context.Context) error {
	f.running, f.pid = false, 0
	return nil
}

func newTestServer(t *testing.T) (*httptest.Server, *fakeSidecar, *eventbus.MemoryEventBus) {
	t.Helper()
	llm := &fakeSidecar{name: "llm", running: true, pid: 42}
	bot := &fakeSidecar{name: "bot"}
	bus := eventbus.NewMemoryEventBus()
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "sidekick_test_total", Help: "test"}))

	srv := httptest.NewServer(NewServer([]Sidecar{llm, bot}, bus, reg, logr.Discard()).Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = bus.Close()
	})
	return srv, llm, bus
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestEndpoints(t *testing.T) {
	srv, _, _ := newTestServer(t)

	tests := []struct {
		path     string
		wantCode int
		contains string
	}{
		{"/healthz", http.StatusOK, "ok"},
		{"/readyz", http.StatusOK, "ok"},
		{"/metrics", http.StatusOK, "sidekick_test_total"},
		{"/api/v1/sidecars/llm", http.StatusOK, `"pid":42`},
		{"/api/v1/sidecars/tts", http.StatusNotFound, "unknown sidecar"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			code, body := get(t, srv.URL+tt.path)
			if code != tt.wantCode || !strings.Contains(body, tt.contains) {
				t.Errorf("GET %s = %d %q", tt.path, code, body)
			}
		})
	}
}

func TestListAndShutdownSidecars(t *testing.T) {
	srv, llm, _ := newTestServer(t)

	_, body := get(t, srv.URL+"/api/v1/sidecars")
	var list []SidecarStatus
	if err := json.Unmarshal([]byte(body), &list); err != nil {
		t.Fatal(err)
	}
	want := []SidecarStatus{{Name: "llm", Running: true, PID: 42}, {Name: "bot"}}
	if len(list) != 2 || list[0] != want[0] || list[1] != want[1] {
		t.Errorf("sidecars = %+v", list)
	}

	resp, err := http.Post(srv.URL+"/api/v1/sidecars/llm/shutdown", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent || llm.running {
		t.Errorf("shutdown = %d, running %v", resp.StatusCode, llm.running)
	}
}

func TestEventStream(t *testing.T) {
	srv, _, bus := newTestServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events?topic=voice.>"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// The subscription is registered after the upgrade; publish until the
	// first event arrives.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		tick := time.NewTicker(20 * time.Millisecond)
		defer tick.Stop()
		for {
			ev, _ := eventbus.NewEvent(eventbus.TopicVoiceUserStarted, nil, map[string]string{"user_id": "u1"})
			_ = bus.Publish(ctx, eventbus.TopicSidecarRespawned, ev)
			_ = bus.Publish(ctx, eventbus.TopicVoiceUserStarted, ev)
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
			}
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	var ev eventbus.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Topic != eventbus.TopicVoiceUserStarted {
		t.Errorf("topic = %s", ev.Topic)
	}
}
