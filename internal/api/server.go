// Package api serves the analytics query API and the operational endpoints.
package api

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/winklabs/storepulse/internal/analytics"
	"github.com/winklabs/storepulse/internal/ingest"
	"github.com/winklabs/storepulse/internal/metrics"
	"github.com/winklabs/storepulse/internal/store"
)

// Authenticator resolves bearer tokens to credentials.
type Authenticator interface {
	AuthenticateToken(ctx context.Context, token string) (*store.Credential, error)
}

// OrgResolver maps a store to its owning org, for scope checks.
type OrgResolver interface {
	StoreOrg(ctx context.Context, storeID string) (string, error)
}

// Server wires routes, middleware, and dependencies.
type Server struct {
	router    *mux.Router
	analytics *analytics.Service
	auth      Authenticator
	orgs      OrgResolver
	metrics   *metrics.Server
	logger    *log.Logger
}

// NewServer builds the full HTTP surface: ingest endpoints, analytics
// queries, health, and Prometheus metrics.
func NewServer(svc *analytics.Service, auth Authenticator, orgs OrgResolver, ih *ingest.Handlers, m *metrics.Server) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		analytics: svc,
		auth:      auth,
		orgs:      orgs,
		metrics:   m,
		logger:    log.New(log.Writer(), "[API] ", log.LstdFlags),
	}

	s.router.Use(s.loggingMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Edge write path. The handlers authenticate themselves.
	s.router.HandleFunc("/v1/events/bulk", ih.Bulk()).Methods("POST")
	s.router.HandleFunc("/v1/ingest/heartbeat", ih.Heartbeat()).Methods("POST")

	// Query API. Every route goes through token auth and store scoping.
	q := s.router.PathPrefix("/api/analytics").Subrouter()
	q.Use(s.authMiddleware)
	q.HandleFunc("/footfall", s.instrument("footfall", s.handleFootfall)).Methods("GET")
	q.HandleFunc("/zones", s.instrument("zones", s.handleZones)).Methods("GET")
	q.HandleFunc("/shelves", s.instrument("shelves", s.handleShelves)).Methods("GET")
	q.HandleFunc("/queue", s.instrument("queue", s.handleQueue)).Methods("GET")
	q.HandleFunc("/peak_hour", s.instrument("peak_hour", s.handlePeakHour)).Methods("GET")
	q.HandleFunc("/live", s.instrument("live", s.handleLive)).Methods("GET")
	q.HandleFunc("/promo", s.instrument("promo", s.handlePromo)).Methods("GET")
	q.HandleFunc("/spikes", s.instrument("spikes", s.handleSpikes)).Methods("GET")
	q.HandleFunc("/summary", s.instrument("summary", s.handleSummary)).Methods("GET")

	return s
}

// Handler exposes the router for http.Server and tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// instrument records per-endpoint latency.
func (s *Server) instrument(name string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next(w, r)
		if s.metrics != nil {
			s.metrics.QueryDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		}
	}
}

// statusRecorder captures the response code for the request log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		reqID := uuid.NewString()[:8]

		next.ServeHTTP(rec, r)

		s.logger.Printf("%s %s %s → %d (%s)", reqID, r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}
