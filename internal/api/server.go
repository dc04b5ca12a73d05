// Package api provides the HTTP server of a seednet node. It serves the peer
// protocol under /seed and a diagnostic JSON API under /api.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/seednet/seednet/internal/health"
	"github.com/seednet/seednet/internal/infra/network"
	"github.com/seednet/seednet/internal/infra/transport"
)

// Version is reported by /api/version.
const Version = "0.1.0"

// maxBodyBytes caps request bodies.
const maxBodyBytes = 16 << 20

// Server is the seednet HTTP API server.
type Server struct {
	net            *network.Network
	health         *health.Checker
	metricsEnabled bool
	clock          clock.Clock
	logger         *zap.Logger
}

// NewServer creates a new API server over net.
func NewServer(net *network.Network, clk clock.Clock, logger *zap.Logger) *Server {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{net: net, clock: clk, logger: logger.Named("api")}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetHealth makes /health report the checker's verdict.
func (s *Server) SetHealth(c *health.Checker) { s.health = c }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))
	r.Use(s.requestLogger)

	r.Get("/health", s.handleHealth)

	r.Get("/api/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"version": Version})
	})

	// Peer protocol. Peers are judged by the socket address, so forwarding
	// headers are not honored here.
	r.Route("/seed", func(r chi.Router) {
		r.Use(corsMiddleware)
		r.Post(trimSeed(transport.PathHello), s.handleHello)
		r.Post(trimSeed(transport.PathQuery), s.handleQuery)
		r.Post(trimSeed(transport.PathSearch), s.handleSearch)
		r.Post(trimSeed(transport.PathTransfer), s.handleTransfer)
		r.Post(trimSeed(transport.PathCrawl), s.handleCrawl)
		r.Post("/news", s.handleNewsIntake)
	})

	// Diagnostics
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.RealIP)
		r.Get("/status", s.handleStatus)
		r.Get("/seeds", s.handleSeeds)
		r.Get("/seeds/{id}", s.handleSeed)
		r.Get("/dht/targets", s.handleTargets)
		r.Get("/dht/distance", s.handleDistance)
		r.Get("/news", s.handleNewsList)
		r.Post("/news", s.handleNewsPublish)
		r.Get("/feed", s.handleFeed)
		r.Post("/search", s.handleRemoteSearch)
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	return r
}

func trimSeed(path string) string { return path[len("/seed"):] }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	status, code := "ok", http.StatusOK
	if !s.health.IsHealthy() {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status": status,
		"checks": s.health.Statuses(),
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    "error",
		},
	})
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// corsMiddleware adds CORS headers for browser based peers.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+transport.RequestIDHeader)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := s.clock.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Duration("elapsed", s.clock.Since(start)))
	})
}
