// Package api exposes the runtime's observation surface over HTTP:
// stats and health for operators, Prometheus metrics for scraping.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chessmate/backend/internal/enginepool"
	"github.com/chessmate/backend/internal/requestqueue"
)

// ConnectionCounter reports live WebSocket connections and how many of
// them are authenticated; the gateway satisfies it.
type ConnectionCounter interface {
	ConnectionCount() int
	AuthenticatedCount() int
}

// Server serves /stats, /healthz and /metrics.
type Server struct {
	connections ConnectionCounter
	queues      map[string]*requestqueue.Queue
	pools       map[string]*enginepool.Pool
	log         *slog.Logger
}

func NewServer(connections ConnectionCounter, queues map[string]*requestqueue.Queue, pools map[string]*enginepool.Pool) *Server {
	return &Server{
		connections: connections,
		queues:      queues,
		pools:       pools,
		log:         slog.With("component", "api"),
	}
}

// Router builds the HTTP route table. The caller mounts the WebSocket
// endpoint and owns the http.Server lifecycle.
func (s *Server) Router(middleware ...mux.MiddlewareFunc) *mux.Router {
	r := mux.NewRouter()
	for _, m := range middleware {
		r.Use(m)
	}
	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}

type queueStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
}

type poolStats struct {
	Total     int `json:"total"`
	Available int `json:"available"`
	Busy      int `json:"busy"`
	Waiting   int `json:"waiting"`
}

type statsResponse struct {
	Connections   int                   `json:"connections"`
	Authenticated int                   `json:"authenticated"`
	Queues        map[string]queueStats `json:"queues"`
	Pools         map[string]poolStats  `json:"pools"`
}

func (s *Server) snapshot() statsResponse {
	resp := statsResponse{
		Connections:   s.connections.ConnectionCount(),
		Authenticated: s.connections.AuthenticatedCount(),
		Queues:        make(map[string]queueStats, len(s.queues)),
		Pools:         make(map[string]poolStats, len(s.pools)),
	}
	for name, q := range s.queues {
		st := q.Stats()
		resp.Queues[name] = queueStats{Pending: st.Pending, Processing: st.Processing}
	}
	for name, p := range s.pools {
		st := p.Stats()
		resp.Pools[name] = poolStats{
			Total:     st.Total,
			Available: st.Available,
			Busy:      st.Busy,
			Waiting:   st.Waiting,
		}
	}
	return resp
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.snapshot()); err != nil {
		s.log.Warn("stats encode failed", "error", err)
	}
}

// handleHealthz reports liveness plus whether every pool still has at
// least one engine. A pool drained by crashes flips the status to
// degraded without failing the probe.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	for _, p := range s.pools {
		if p.Stats().Total == 0 {
			status = "degraded"
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
}
