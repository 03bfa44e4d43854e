// Package server wires the FlowGuard HTTP routes.
package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/telhawk-systems/flowguard/internal/handlers"
	"github.com/telhawk-systems/flowguard/internal/middleware"
)

// NewRouter constructs a ServeMux with the API routes registered.
func NewRouter(h *handlers.Handler, corsOrigins []string) http.Handler {
	mux := http.NewServeMux()

	// Health and metrics
	mux.HandleFunc("GET /{$}", h.Root)
	mux.HandleFunc("GET /healthz", h.HealthCheck)
	mux.HandleFunc("GET /readyz", h.ReadyCheck)
	mux.Handle("GET /metrics", promhttp.Handler())

	api := http.NewServeMux()
	api.HandleFunc("GET /api/health", h.HealthCheck)

	// Ingestion
	api.HandleFunc("POST /api/v1/ingest/logs", h.IngestLogs)
	api.HandleFunc("POST /api/v1/ingest/metrics", h.IngestMetrics)

	// Queries
	api.HandleFunc("GET /api/v1/logs", h.ListLogs)
	api.HandleFunc("GET /api/v1/metrics", h.ListMetrics)
	api.HandleFunc("GET /api/v1/kpis", h.GetKPIs)
	api.HandleFunc("GET /api/v1/alerts", h.ListAlerts)

	// Admin
	api.HandleFunc("GET /api/v1/config", h.GetConfig)
	api.HandleFunc("POST /api/v1/test-alert", h.TestAlert)

	cors := middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", middleware.HeaderRequestID},
	})
	mux.Handle("/api/", cors(api))

	return middleware.RequestID(mux)
}
