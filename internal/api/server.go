// Package api serves the published topology over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"socgraph/internal/analyzer"
	"socgraph/internal/graph/topology"
	"socgraph/internal/logger"
)

var log = logger.Named("api")

// SnapshotProvider returns the currently published topology.
type SnapshotProvider interface {
	Current() *topology.Snapshot
}

// Options configures the server.
type Options struct {
	// Gatherer backs /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer
	// RequestLog enables chi's request logger.
	RequestLog bool
}

// Server is the read-only topology API.
type Server struct {
	r        *chi.Mux
	topology SnapshotProvider
	gatherer prometheus.Gatherer
}

// NewServer creates the API server.
func NewServer(provider SnapshotProvider, opts Options) *Server {
	s := &Server{r: chi.NewRouter(), topology: provider, gatherer: opts.Gatherer}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}

	if opts.RequestLog {
		s.r.Use(middleware.Logger)
	}
	s.r.Use(middleware.RequestID)
	s.r.Use(middleware.Recoverer)

	s.routes()
	return s
}

func (s *Server) routes() {
	s.r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("ok")) })
	s.r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	s.r.Route("/topology", func(r chi.Router) {
		r.Get("/", s.getTopology)
		r.Get("/attack-planning", s.getAttackPlanning)
		r.Get("/attack-paths", s.getAttackPaths)
		r.Get("/nodes/{agentID}", s.getNode)
		r.Get("/nodes/{agentID}/context", s.getAttackContext)
	})
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.r }

// GET /topology
func (s *Server) getTopology(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.topology.Current(), http.StatusOK)
}

// GET /topology/attack-planning
func (s *Server) getAttackPlanning(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.topology.Current().AttackPlanning(), http.StatusOK)
}

// GET /topology/attack-paths?limit=N
func (s *Server) getAttackPaths(w http.ResponseWriter, r *http.Request) {
	ranked := analyzer.RankAttackPaths(s.topology.Current())
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		if limit < len(ranked) {
			ranked = ranked[:limit]
		}
	}
	writeJSON(w, ranked, http.StatusOK)
}

// GET /topology/nodes/{agentID}
func (s *Server) getNode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "agentID")
	node, ok := s.topology.Current().Nodes[id]
	if !ok {
		http.Error(w, topology.ErrAgentNotFound.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, node, http.StatusOK)
}

// GET /topology/nodes/{agentID}/context
func (s *Server) getAttackContext(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "agentID")
	ac, err := s.topology.Current().AttackContext(id)
	if errors.Is(err, topology.ErrAgentNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		log.Errorf("attack context for %s: %v", id, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, ac, http.StatusOK)
}

func writeJSON(w http.ResponseWriter, v any, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warnf("encode response: %v", err)
	}
}
