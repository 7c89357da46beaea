// Package api provides the HTTP server the bot's message-handling layer
// calls into. It is a thin JSON surface over the access engine — all gating
// logic lives behind it.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mediagate-bot/mediagate/internal/app/access"
	"github.com/mediagate-bot/mediagate/internal/health"
)

// Server is the MediaGate HTTP API server.
type Server struct {
	engine         *access.Engine
	health         *health.Checker
	metricsEnabled bool
	version        string
}

// NewServer creates a new API server over the access engine.
func NewServer(engine *access.Engine) *Server {
	return &Server{engine: engine, version: "dev"}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetHealth sets the health checker surfaced on /health.
func (s *Server) SetHealth(h *health.Checker) { s.health = h }

// SetVersion sets the version string reported by /api/version.
func (s *Server) SetVersion(v string) { s.version = v }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)

	r.Get("/api/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
	})

	// Gate endpoints — the inbound interface consumed by the bot layer.
	r.Route("/api/gate", func(r chi.Router) {
		r.Post("/evaluate", s.handleEvaluate)
		r.Post("/challenge", s.handleIssueChallenge)
		r.Post("/redeem", s.handleRedeemChallenge)
		r.Get("/status/{userID}", s.handleStatus)
		r.Post("/premium/grant", s.handleGrantPremium)
		r.Post("/premium/revoke", s.handleRevokePremium)
		r.Post("/referral/attribute", s.handleAttribute)
		r.Post("/points/redeem", s.handleRedeemPoints)
		r.Get("/points/history/{userID}", s.handlePointsHistory)
		r.Post("/reset", s.handleResetUser)
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	status := http.StatusOK
	if !s.health.IsHealthy() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"healthy": s.health.IsHealthy(),
		"checks":  s.health.Statuses(),
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response with a machine-readable code.
func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": msg,
		},
	})
}
