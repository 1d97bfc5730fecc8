// Package apiserver provides the HTTP + WebSocket API of the sidekick daemon.
package apiserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alexsjones/sidekick/internal/eventbus"
)

// Sidecar is the view of a supervisor the API needs.
type Sidecar interface {
	Name() string
	Running() bool
	PID() int
	Shutdown(ctx context.Context) error
}

// SidecarStatus is the JSON form of a sidecar.
type SidecarStatus struct {
	Name    string `json:"name"`
	Running bool   `json:"running"`
	PID     int    `json:"pid,omitempty"`
}

// Server is the sidekick API server.
type Server struct {
	sidecars map[string]Sidecar
	order    []string
	eventBus eventbus.EventBus
	gatherer prometheus.Gatherer
	log      logr.Logger
	upgrader websocket.Upgrader
}

// NewServer creates a new API server. A nil gatherer serves the default
// Prometheus registry.
func NewServer(sidecars []Sidecar, bus eventbus.EventBus, gatherer prometheus.Gatherer, log logr.Logger) *Server {
	s := &Server{
		sidecars: map[string]Sidecar{},
		eventBus: bus,
		gatherer: gatherer,
		log:      log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	for _, sc := range sidecars {
		s.sidecars[sc.Name()] = sc
		s.order = append(s.order, sc.Name())
	}
	return s
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Sidecar endpoints
	mux.HandleFunc("GET /api/v1/sidecars", s.listSidecars)
	mux.HandleFunc("GET /api/v1/sidecars/{name}", s.getSidecar)
	mux.HandleFunc("POST /api/v1/sidecars/{name}/shutdown", s.shutdownSidecar)

	// WebSocket streaming
	mux.HandleFunc("/ws/events", s.handleEvents)

	// Health & metrics
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})
	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	} else {
		mux.Handle("/metrics", promhttp.Handler())
	}
	return mux
}

// Start serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Starting API server", "addr", addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// --- Sidecar handlers ---

func status(sc Sidecar) SidecarStatus {
	return SidecarStatus{Name: sc.Name(), Running: sc.Running(), PID: sc.PID()}
}

func (s *Server) listSidecars(w http.ResponseWriter, r *http.Request) {
	out := make([]SidecarStatus, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, status(s.sidecars[name]))
	}
	writeJSON(w, out)
}

func (s *Server) getSidecar(w http.ResponseWriter, r *http.Request) {
	sc, ok := s.sidecars[r.PathValue("name")]
	if !ok {
		http.Error(w, "unknown sidecar", http.StatusNotFound)
		return
	}
	writeJSON(w, status(sc))
}

func (s *Server) shutdownSidecar(w http.ResponseWriter, r *http.Request) {
	sc, ok := s.sidecars[r.PathValue("name")]
	if !ok {
		http.Error(w, "unknown sidecar", http.StatusNotFound)
		return
	}
	if err := sc.Shutdown(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.log.Info("sidecar stopped via API", "sidecar", sc.Name())
	w.WriteHeader(http.StatusNoContent)
}

// --- WebSocket streaming ---

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	if topic == "" {
		topic = eventbus.TopicAll
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error(err, "failed to upgrade websocket")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, err := s.eventBus.Subscribe(ctx, topic)
	if err != nil {
		s.log.Error(err, "failed to subscribe to events", "topic", topic)
		return
	}

	// Read loop (handle client messages / keep-alive)
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	// Write loop (forward events to client)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
