package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/telhawk-systems/flowguard/internal/ingest"
	"github.com/telhawk-systems/flowguard/internal/logging"
	"github.com/telhawk-systems/flowguard/internal/metrics"
	"github.com/telhawk-systems/flowguard/internal/pipeline"
	"github.com/telhawk-systems/flowguard/internal/validator"
)

// IngestResponse is returned for accepted batches.
type IngestResponse struct {
	Status   string                      `json:"status"`
	BatchID  string                      `json:"batch_id"`
	Accepted int                         `json:"accepted"`
	Errors   []validator.ValidationError `json:"errors"`
}

// IngestLogs handles POST /api/v1/ingest/logs
func (h *Handler) IngestLogs(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r, pipeline.KindLogs)
	if !ok {
		return
	}

	records, errs, err := validator.ValidateLogBatch(body, h.allow)
	if !h.checkValidation(w, pipeline.KindLogs, errs, err) {
		return
	}
	h.submit(w, r, ingest.NewLogBatch(records), len(records), errs)
}

// IngestMetrics handles POST /api/v1/ingest/metrics
func (h *Handler) IngestMetrics(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r, pipeline.KindMetrics)
	if !ok {
		return
	}

	records, errs, err := validator.ValidateMetricBatch(body, h.allow)
	if !h.checkValidation(w, pipeline.KindMetrics, errs, err) {
		return
	}
	h.submit(w, r, ingest.NewMetricBatch(records), len(records), errs)
}

func (h *Handler) readBody(w http.ResponseWriter, r *http.Request, kind string) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		metrics.IngestRequests.WithLabelValues(kind, "invalid").Inc()
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return nil, false
	}
	return body, true
}

func (h *Handler) checkValidation(w http.ResponseWriter, kind string, errs []validator.ValidationError, err error) bool {
	metrics.IngestRejected.WithLabelValues(kind).Add(float64(len(errs)))

	switch {
	case err == nil:
		return true
	case errors.Is(err, validator.ErrInvalidPayload):
		metrics.IngestRequests.WithLabelValues(kind, "invalid").Inc()
		writeError(w, http.StatusBadRequest, "invalid JSON: expected an array of records")
	default:
		metrics.IngestRequests.WithLabelValues(kind, "rejected").Inc()
		if errs == nil {
			errs = []validator.ValidationError{}
		}
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"status":  "error",
			"message": err.Error(),
			"errors":  errs,
		})
	}
	return false
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request, batch *pipeline.Batch, accepted int, errs []validator.ValidationError) {
	logger := logging.FromContext(r.Context(), h.logger).With(logging.BatchID(batch.ID), logging.Kind(batch.Kind))

	if h.sink == nil {
		writeError(w, http.StatusServiceUnavailable, "ingestion is not enabled")
		return
	}
	if err := h.sink.Submit(r.Context(), batch); err != nil {
		logger.Error("failed to queue batch", logging.Error(err))
		metrics.IngestRequests.WithLabelValues(batch.Kind, "unavailable").Inc()
		writeError(w, http.StatusServiceUnavailable, "failed to queue batch")
		return
	}

	metrics.IngestRequests.WithLabelValues(batch.Kind, "accepted").Inc()
	logger.Info("queued ingestion batch", logging.Count(accepted), slog.Int("rejected", len(errs)))

	if errs == nil {
		errs = []validator.ValidationError{}
	}
	writeJSON(w, http.StatusAccepted, IngestResponse{
		Status:   "accepted",
		BatchID:  batch.ID,
		Accepted: accepted,
		Errors:   errs,
	})
}
