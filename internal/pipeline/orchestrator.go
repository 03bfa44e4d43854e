// Package pipeline drives validated batches through persistence, KPI
// aggregation, anomaly detection and alerting.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/telhawk-systems/flowguard/internal/alerting"
	"github.com/telhawk-systems/flowguard/internal/logging"
	"github.com/telhawk-systems/flowguard/internal/metrics"
	"github.com/telhawk-systems/flowguard/internal/models"
	"github.com/telhawk-systems/flowguard/internal/repository"
)

// DefaultTestService is used by DispatchTestAlert when no service is named.
const DefaultTestService = "demo"

// Aggregator builds KPI snapshots.
type Aggregator interface {
	Aggregate(ctx context.Context, svc *models.Service, lookback time.Duration) (*models.KPISnapshot, error)
}

// Detector scores snapshots for anomalies.
type Detector interface {
	Evaluate(ctx context.Context, service string, snap *models.KPISnapshot) models.AnomalyResult
}

// Gate suppresses duplicate triggers.
type Gate interface {
	Admit(ctx context.Context, svc *models.Service, trigger models.Trigger, snapshotTS time.Time, window time.Duration) (bool, string)
}

// Dispatcher delivers admitted triggers.
type Dispatcher interface {
	Dispatch(ctx context.Context, svc *models.Service, snap *models.KPISnapshot, trigger models.Trigger, dedupeKey string, channels []string) []models.DispatchOutcome
}

// Settings are the alerting parameters applied to every batch.
type Settings struct {
	Thresholds     alerting.Thresholds
	LookbackWindow time.Duration
	DedupWindow    time.Duration
	Channels       []string
}

// Stages groups the collaborators run for each affected service.
type Stages struct {
	Aggregator Aggregator
	Detector   Detector
	Gate       Gate
	Dispatcher Dispatcher
}

// Orchestrator processes batches. It is safe for concurrent use as long as
// its stages are.
type Orchestrator struct {
	repo     repository.Repository
	stages   Stages
	settings Settings
	now      func() time.Time
	logger   *slog.Logger
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(repo repository.Repository, stages Stages, settings Settings, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		repo:     repo,
		stages:   stages,
		settings: settings,
		now:      time.Now,
		logger:   logging.OrDefault(logger),
	}
}

// WithClock overrides the time source used for test alerts.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// Settings returns the alerting parameters.
func (o *Orchestrator) Settings() Settings {
	return o.settings
}

// ProcessBatch persists batch and runs the alerting stages for every service
// that gained at least one record. Record and service failures are reported
// in the summary; only a failure to resolve services returns an error.
func (o *Orchestrator) ProcessBatch(ctx context.Context, batch *Batch) (*BatchSummary, error) {
	ctx = logging.ContextWithBatchID(ctx, batch.ID)
	logger := logging.FromContext(ctx, o.logger).With(logging.Kind(batch.Kind))

	summary := &BatchSummary{
		BatchID:  batch.ID,
		Kind:     batch.Kind,
		Services: []*ServiceResult{},
		Errors:   []RecordError{},
	}

	if batch.Kind != KindLogs && batch.Kind != KindMetrics {
		return nil, fmt.Errorf("unknown batch kind %q", batch.Kind)
	}

	if batch.Len() == 0 {
		summary.Status = StatusSkipped
		metrics.BatchesTotal.WithLabelValues(batch.Kind, StatusSkipped).Inc()
		logger.Debug("empty batch skipped")
		return summary, nil
	}

	groups := batch.groups()
	names := sortedNames(groups)

	var services map[string]*models.Service
	err := o.repo.RunInTx(ctx, func(tx repository.Tx) error {
		var err error
		services, err = tx.EnsureServices(ctx, names)
		return err
	})
	if err != nil {
		metrics.BatchesTotal.WithLabelValues(batch.Kind, "error").Inc()
		return nil, fmt.Errorf("failed to resolve services: %w", err)
	}

	start := time.Now()
	var affected []*ServiceResult
	for _, name := range names {
		svc := services[name]
		if svc == nil {
			for _, idx := range groups[name] {
				summary.Errors = append(summary.Errors, RecordError{Index: idx, Service: name, Error: "service not resolved"})
			}
			continue
		}

		persisted, recErrs := o.persistGroup(ctx, batch, svc, groups[name])
		summary.Errors = append(summary.Errors, recErrs...)
		summary.Persisted += persisted
		if persisted > 0 {
			affected = append(affected, &ServiceResult{Service: name, Persisted: persisted})
		}
	}
	metrics.StageDuration.WithLabelValues("persist").Observe(time.Since(start).Seconds())
	metrics.RecordsPersisted.WithLabelValues(batch.Kind).Add(float64(summary.Persisted))
	if len(summary.Errors) > 0 {
		metrics.PersistenceErrors.WithLabelValues(batch.Kind).Add(float64(len(summary.Errors)))
	}

	for _, result := range affected {
		o.runStages(ctx, services[result.Service], result)
		summary.Services = append(summary.Services, result)
	}

	summary.Status = StatusOK
	if len(summary.Errors) > 0 {
		summary.Status = StatusPartial
	}
	for _, r := range summary.Services {
		if r.Error != "" {
			summary.Status = StatusPartial
		}
	}

	metrics.BatchesTotal.WithLabelValues(batch.Kind, summary.Status).Inc()
	logger.Info("batch processed",
		slog.String("status", summary.Status),
		slog.Int("persisted", summary.Persisted),
		slog.Int("errors", len(summary.Errors)),
		slog.Int("dispatched", summary.Dispatched()))
	return summary, nil
}

// persistGroup writes the records at idxs for svc in one transaction. When
// the transaction fails every record in the group is reported.
func (o *Orchestrator) persistGroup(ctx context.Context, batch *Batch, svc *models.Service, idxs []int) (int, []RecordError) {
	logger := logging.FromContext(ctx, o.logger).With(logging.Service(svc.Name))

	var persisted int
	var recErrs []RecordError

	err := o.repo.RunInTx(ctx, func(tx repository.Tx) error {
		persisted, recErrs = 0, nil

		if batch.Kind == KindLogs {
			events := make([]*models.LogEvent, 0, len(idxs))
			for _, idx := range idxs {
				rec := batch.Logs[idx]
				events = append(events, &models.LogEvent{
					ServiceID:  svc.ID,
					Timestamp:  rec.Timestamp.UTC(),
					Level:      rec.Level,
					Message:    rec.Message,
					LatencyMs:  rec.LatencyMs,
					StatusCode: rec.StatusCode,
					Meta:       rec.Meta,
				})
			}
			if err := tx.InsertLogEvents(ctx, events); err != nil {
				return err
			}
			persisted = len(events)
			return nil
		}

		for _, idx := range idxs {
			rec := batch.Metrics[idx]
			point := &models.MetricPoint{
				ServiceID:    svc.ID,
				Timestamp:    rec.Timestamp.UTC(),
				TPS:          rec.TPS,
				ErrorRate:    rec.ErrorRate,
				P95LatencyMs: rec.P95LatencyMs,
			}
			if err := o.persistMetric(ctx, tx, point); err != nil {
				logger.Warn("failed to persist metric point", slog.Int("index", idx), logging.Error(err))
				recErrs = append(recErrs, RecordError{Index: idx, Service: svc.Name, Error: err.Error()})
				continue
			}
			persisted++
		}
		return nil
	})
	if err != nil {
		logger.Error("failed to persist service group", logging.Count(len(idxs)), logging.Error(err))
		recErrs = make([]RecordError, 0, len(idxs))
		for _, idx := range idxs {
			recErrs = append(recErrs, RecordError{Index: idx, Service: svc.Name, Error: err.Error()})
		}
		return 0, recErrs
	}
	return persisted, recErrs
}

// persistMetric inserts point, retrying a unique-key conflict once as an
// upsert.
func (o *Orchestrator) persistMetric(ctx context.Context, tx repository.Tx, point *models.MetricPoint) error {
	err := tx.InsertMetricPoint(ctx, point)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repository.ErrMetricConflict) {
		return err
	}
	if err := tx.UpsertMetricPoint(ctx, point); err != nil {
		return fmt.Errorf("failed to upsert metric point: %w", err)
	}
	return nil
}

// runStages aggregates, detects, evaluates, deduplicates and dispatches for
// one service, filling result.
func (o *Orchestrator) runStages(ctx context.Context, svc *models.Service, result *ServiceResult) {
	logger := logging.FromContext(ctx, o.logger).With(logging.Service(svc.Name))
	result.Triggers = []models.Trigger{}
	result.Outcomes = []models.DispatchOutcome{}

	start := time.Now()
	snap, err := o.stages.Aggregator.Aggregate(ctx, svc, o.settings.LookbackWindow)
	metrics.StageDuration.WithLabelValues("aggregate").Observe(time.Since(start).Seconds())
	if err != nil {
		logger.Error("aggregation failed", logging.Error(err))
		result.Error = err.Error()
		return
	}
	result.Snapshot = snap

	if err := o.repo.UpsertMetricPoint(ctx, snap.MetricPoint()); err != nil {
		logger.Warn("failed to persist snapshot", logging.Error(err))
	}

	start = time.Now()
	result.Anomaly = o.stages.Detector.Evaluate(ctx, svc.Name, snap)
	metrics.StageDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())

	result.Triggers = alerting.EvaluateTriggers(snap, result.Anomaly, o.settings.Thresholds)
	result.Outcomes = o.alert(ctx, svc, snap, result.Triggers)
}

// alert passes triggers through the gate and dispatches those admitted.
func (o *Orchestrator) alert(ctx context.Context, svc *models.Service, snap *models.KPISnapshot, triggers []models.Trigger) []models.DispatchOutcome {
	outcomes := []models.DispatchOutcome{}
	start := time.Now()
	for _, trigger := range triggers {
		metrics.TriggersTotal.WithLabelValues(trigger.Reason, trigger.Severity).Inc()

		admitted, key := o.stages.Gate.Admit(ctx, svc, trigger, snap.Timestamp, o.settings.DedupWindow)
		if !admitted {
			continue
		}
		outcomes = append(outcomes, o.stages.Dispatcher.Dispatch(ctx, svc, snap, trigger, key, o.settings.Channels)...)
	}
	metrics.StageDuration.WithLabelValues("dispatch").Observe(time.Since(start).Seconds())
	return outcomes
}

// DispatchTestAlert raises a synthetic alert for service (DefaultTestService
// when empty) with every trigger rule firing, and sends it through the gate
// and dispatcher.
func (o *Orchestrator) DispatchTestAlert(ctx context.Context, service string) (*ServiceResult, error) {
	if service == "" {
		service = DefaultTestService
	}

	var svc *models.Service
	err := o.repo.RunInTx(ctx, func(tx repository.Tx) error {
		resolved, err := tx.EnsureServices(ctx, []string{service})
		if err != nil {
			return err
		}
		svc = resolved[service]
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve service %s: %w", service, err)
	}
	if svc == nil {
		return nil, fmt.Errorf("failed to resolve service %s: %w", service, repository.ErrServiceNotFound)
	}

	th := o.settings.Thresholds
	snap := &models.KPISnapshot{
		Service:      svc.Name,
		ServiceID:    svc.ID,
		Timestamp:    o.now().UTC(),
		ErrorRate:    th.ErrorRate * 1.2,
		P95LatencyMs: int(float64(th.P95LatencyMs) * 1.1),
	}
	anomaly := models.AnomalyResult{IsAnomaly: true, Reason: "Test alert"}

	result := &ServiceResult{Service: svc.Name, Snapshot: snap, Anomaly: anomaly}
	result.Triggers = alerting.EvaluateTriggers(snap, anomaly, th)
	result.Outcomes = o.alert(ctx, svc, snap, result.Triggers)

	logging.FromContext(ctx, o.logger).Info("test alert dispatched",
		logging.Service(svc.Name), logging.Count(len(result.Outcomes)))
	return result, nil
}
