package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/telhawk-systems/flowguard/internal/config"
	"github.com/telhawk-systems/flowguard/internal/logging"
	"github.com/telhawk-systems/flowguard/internal/models"
)

// ConfigView is the non-secret runtime configuration.
type ConfigView struct {
	ErrorRateThreshold float64  `json:"alert_error_rate_threshold"`
	P95LatencyMs       int      `json:"alert_p95_latency_ms"`
	LookbackMinutes    float64  `json:"alert_lookback_min"`
	DedupMinutes       float64  `json:"alert_dedup_min"`
	Channels           []string `json:"alert_channels"`
	Services           []string `json:"services"`
	DetectorBackend    string   `json:"detector_state_backend"`
	DatabaseHost       string   `json:"database_host"`
	BrokerURL          string   `json:"broker_url,omitempty"`
}

// NewConfigView extracts the displayable settings from cfg.
func NewConfigView(cfg *config.Config) ConfigView {
	channels := append([]string{}, cfg.Alerting.Channels...)
	services := append([]string{}, cfg.Ingest.Allowlist...)
	return ConfigView{
		ErrorRateThreshold: cfg.Alerting.ErrorRateThreshold,
		P95LatencyMs:       cfg.Alerting.P95LatencyMs,
		LookbackMinutes:    cfg.Alerting.LookbackWindow.Minutes(),
		DedupMinutes:       cfg.Alerting.DedupWindow.Minutes(),
		Channels:           channels,
		Services:           services,
		DetectorBackend:    cfg.Detector.StateBackend,
		DatabaseHost:       cfg.Database.Postgres.Host,
		BrokerURL:          cfg.NATS.URL,
	}
}

// GetConfig handles GET /api/v1/config
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.config)
}

type testAlertRequest struct {
	Service string `json:"service"`
}

// TestAlert handles POST /api/v1/test-alert. The body is optional.
func (h *Handler) TestAlert(w http.ResponseWriter, r *http.Request) {
	if h.alerter == nil {
		writeError(w, http.StatusServiceUnavailable, "test alerts are not enabled")
		return
	}

	var req testAlertRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	result, err := h.alerter.DispatchTestAlert(r.Context(), strings.TrimSpace(req.Service))
	if err != nil {
		h.internalError(w, r, "failed to dispatch test alert", err)
		return
	}

	dispatched := result.Outcomes
	if dispatched == nil {
		dispatched = []models.DispatchOutcome{}
	}
	logging.FromContext(r.Context(), h.logger).Info("test alert requested",
		logging.Service(result.Service), logging.Count(len(dispatched)))
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status":     "accepted",
		"service":    result.Service,
		"dispatched": dispatched,
	})
}
