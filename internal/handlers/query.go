package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/telhawk-systems/flowguard/internal/kpi"
	"github.com/telhawk-systems/flowguard/internal/logging"
	"github.com/telhawk-systems/flowguard/internal/models"
	"github.com/telhawk-systems/flowguard/internal/repository"
)

const (
	logLimit          = 500
	defaultAlertLimit = 50
	maxAlertLimit     = 1000
)

// now is replaced in tests.
var now = time.Now

// ListLogs handles GET /api/v1/logs
func (h *Handler) ListLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, end := ParseRange(q.Get("range"), now())

	events, err := h.repo.ListLogEvents(r.Context(), repository.LogFilter{
		Service: q.Get("service"),
		Level:   q.Get("level"),
		Query:   q.Get("q"),
		Since:   start,
		Until:   end,
		Limit:   logLimit,
	})
	if err != nil {
		h.internalError(w, r, "failed to list logs", err)
		return
	}
	if events == nil {
		events = []*models.LogEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": events})
}

// ListMetrics handles GET /api/v1/metrics
func (h *Handler) ListMetrics(w http.ResponseWriter, r *http.Request) {
	service := r.URL.Query().Get("service")
	if service == "" {
		writeError(w, http.StatusBadRequest, "service query parameter required")
		return
	}
	start, end := ParseRange(r.URL.Query().Get("range"), now())

	items := []*models.MetricPoint{}
	svc, err := h.repo.GetServiceByName(r.Context(), service)
	switch {
	case errors.Is(err, repository.ErrServiceNotFound):
	case err != nil:
		h.internalError(w, r, "failed to look up service", err)
		return
	default:
		points, err := h.repo.ListMetricPoints(r.Context(), repository.MetricFilter{ServiceID: svc.ID, Since: start, Until: end})
		if err != nil {
			h.internalError(w, r, "failed to list metrics", err)
			return
		}
		if points != nil {
			items = points
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"service": service, "items": items})
}

// GetKPIs handles GET /api/v1/kpis
func (h *Handler) GetKPIs(w http.ResponseWriter, r *http.Request) {
	service := r.URL.Query().Get("service")
	if service == "" {
		writeError(w, http.StatusBadRequest, "service query parameter required")
		return
	}
	start, end := ParseRange(r.URL.Query().Get("range"), now())

	series, err := kpi.Series(r.Context(), h.repo, service, start, end)
	if err != nil {
		h.internalError(w, r, "failed to load KPI series", err)
		return
	}
	writeJSON(w, http.StatusOK, series)
}

// ListAlerts handles GET /api/v1/alerts
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	limit := defaultAlertLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxAlertLimit)
	}

	alerts, err := h.repo.ListAlertEvents(r.Context(), repository.AlertFilter{
		Service: r.URL.Query().Get("service"),
		Limit:   limit,
	})
	if err != nil {
		h.internalError(w, r, "failed to list alerts", err)
		return
	}
	if alerts == nil {
		alerts = []*models.AlertEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": alerts})
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	logging.FromContext(r.Context(), h.logger).Error(msg, logging.Error(err))
	writeError(w, http.StatusInternalServerError, msg)
}
