package pipeline

import (
	"sort"

	"github.com/telhawk-systems/flowguard/internal/models"
)

// Batch kinds.
const (
	KindLogs    = "logs"
	KindMetrics = "metrics"
)

// Batch summary statuses.
const (
	StatusOK      = "ok"
	StatusPartial = "partial"
	StatusSkipped = "skipped"
)

// Batch is one validated ingestion batch. Exactly one of Logs and Metrics is
// populated, according to Kind.
type Batch struct {
	ID      string                `json:"batch_id"`
	Kind    string                `json:"kind"`
	Logs    []models.LogRecord    `json:"logs,omitempty"`
	Metrics []models.MetricRecord `json:"metrics,omitempty"`
}

// Len returns the number of records in the batch.
func (b *Batch) Len() int {
	if b.Kind == KindMetrics {
		return len(b.Metrics)
	}
	return len(b.Logs)
}

// groups returns record indexes keyed by service name.
func (b *Batch) groups() map[string][]int {
	out := make(map[string][]int)
	if b.Kind == KindMetrics {
		for i, m := range b.Metrics {
			out[m.Service] = append(out[m.Service], i)
		}
		return out
	}
	for i, l := range b.Logs {
		out[l.Service] = append(out[l.Service], i)
	}
	return out
}

// RecordError reports a record that could not be persisted. Index is the
// position of the record in the batch.
type RecordError struct {
	Index   int    `json:"index"`
	Service string `json:"service,omitempty"`
	Error   string `json:"error"`
}

// ServiceResult is the outcome of the alerting stages for one service.
type ServiceResult struct {
	Service   string                   `json:"service"`
	Persisted int                      `json:"persisted"`
	Snapshot  *models.KPISnapshot      `json:"snapshot,omitempty"`
	Anomaly   models.AnomalyResult     `json:"anomaly"`
	Triggers  []models.Trigger         `json:"triggers"`
	Outcomes  []models.DispatchOutcome `json:"dispatch"`
	Error     string                   `json:"error,omitempty"`
}

// BatchSummary is returned to the worker for every processed batch.
type BatchSummary struct {
	BatchID   string           `json:"batch_id"`
	Kind      string           `json:"kind"`
	Status    string           `json:"status"`
	Persisted int              `json:"persisted"`
	Services  []*ServiceResult `json:"services"`
	Errors    []RecordError    `json:"errors"`
}

// Dispatched counts delivered outcomes across all services.
func (s *BatchSummary) Dispatched() int {
	n := 0
	for _, svc := range s.Services {
		for _, o := range svc.Outcomes {
			if o.Delivered {
				n++
			}
		}
	}
	return n
}

func sortedNames(groups map[string][]int) []string {
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
