// Package handlers provides the HTTP handlers of the FlowGuard API.
package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/telhawk-systems/flowguard/internal/ingest"
	"github.com/telhawk-systems/flowguard/internal/logging"
	"github.com/telhawk-systems/flowguard/internal/messaging"
	"github.com/telhawk-systems/flowguard/internal/pipeline"
	"github.com/telhawk-systems/flowguard/internal/repository"
	"github.com/telhawk-systems/flowguard/internal/validator"
)

// TestAlerter raises synthetic alerts.
type TestAlerter interface {
	DispatchTestAlert(ctx context.Context, service string) (*pipeline.ServiceResult, error)
}

// Handler serves the ingest, query and admin endpoints.
type Handler struct {
	repo    repository.Repository
	sink    ingest.Sink
	allow   validator.Allowlist
	alerter TestAlerter
	broker  messaging.Connection
	config  ConfigView
	maxBody int64
	logger  *slog.Logger
}

// NewHandler creates a Handler reading from repo.
func NewHandler(repo repository.Repository, logger *slog.Logger) *Handler {
	return &Handler{
		repo:    repo,
		maxBody: 10 << 20,
		logger:  logging.OrDefault(logger),
	}
}

// WithSink sets where accepted batches are submitted.
func (h *Handler) WithSink(sink ingest.Sink) *Handler {
	h.sink = sink
	return h
}

// WithAllowlist restricts the services accepted for ingestion.
func (h *Handler) WithAllowlist(allow validator.Allowlist) *Handler {
	h.allow = allow
	return h
}

// WithTestAlerter enables POST /api/v1/test-alert.
func (h *Handler) WithTestAlerter(alerter TestAlerter) *Handler {
	h.alerter = alerter
	return h
}

// WithBroker adds the broker connection to readiness checks.
func (h *Handler) WithBroker(conn messaging.Connection) *Handler {
	h.broker = conn
	return h
}

// WithConfig sets the settings exposed by GET /api/v1/config.
func (h *Handler) WithConfig(view ConfigView) *Handler {
	h.config = view
	return h
}

// Root handles GET /
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"service": "flowguard", "status": "ok"})
}

// HealthCheck handles GET /healthz
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "flowguard"})
}

// ReadyCheck handles GET /readyz. The database must answer; the broker must
// be connected when one is configured.
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{"service": "flowguard"}
	status := http.StatusOK

	if err := h.repo.Ping(r.Context()); err != nil {
		logging.FromContext(r.Context(), h.logger).Warn("readiness: database ping failed", logging.Error(err))
		resp["database"] = "unavailable"
		status = http.StatusServiceUnavailable
	} else {
		resp["database"] = "ok"
	}

	if h.broker != nil {
		health := messaging.CheckHealth(h.broker)
		resp["broker"] = health
		if !health.Connected {
			status = http.StatusServiceUnavailable
		}
	}

	if status == http.StatusOK {
		resp["status"] = "ready"
	} else {
		resp["status"] = "not_ready"
	}
	writeJSON(w, status, resp)
}
