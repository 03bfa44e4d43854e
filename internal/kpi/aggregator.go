// Package kpi derives per-service health snapshots from raw telemetry.
package kpi

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/telhawk-systems/flowguard/internal/models"
	"github.com/telhawk-systems/flowguard/internal/repository"
)

// Store is the read surface the aggregator needs.
type Store interface {
	ListLogEvents(ctx context.Context, filter repository.LogFilter) ([]*models.LogEvent, error)
	ListMetricPoints(ctx context.Context, filter repository.MetricFilter) ([]*models.MetricPoint, error)
}

// SeriesStore is the read surface Series needs.
type SeriesStore interface {
	GetServiceByName(ctx context.Context, name string) (*models.Service, error)
	ListMetricPoints(ctx context.Context, filter repository.MetricFilter) ([]*models.MetricPoint, error)
}

// Aggregator computes KPI snapshots. It holds no state between calls.
type Aggregator struct {
	store Store
	now   func() time.Time
}

// NewAggregator creates an Aggregator reading from store.
func NewAggregator(store Store) *Aggregator {
	return &Aggregator{store: store, now: time.Now}
}

// WithClock overrides the time source.
func (a *Aggregator) WithClock(now func() time.Time) *Aggregator {
	a.now = now
	return a
}

// Aggregate builds a snapshot for svc over [now-lookback, now].
//
// Without logs in the window the most recent metric point in the window is
// reused (zeros when there is none). With logs, error rate, p95 latency and
// throughput are recomputed from the logs alone.
func (a *Aggregator) Aggregate(ctx context.Context, svc *models.Service, lookback time.Duration) (*models.KPISnapshot, error) {
	end := a.now().UTC()
	start := end.Add(-lookback)

	logs, err := a.store.ListLogEvents(ctx, repository.LogFilter{ServiceID: svc.ID, Since: start, Until: end})
	if err != nil {
		return nil, fmt.Errorf("failed to load logs for %s: %w", svc.Name, err)
	}
	points, err := a.store.ListMetricPoints(ctx, repository.MetricFilter{ServiceID: svc.ID, Since: start, Until: end})
	if err != nil {
		return nil, fmt.Errorf("failed to load metrics for %s: %w", svc.Name, err)
	}

	snap := &models.KPISnapshot{
		Service:     svc.Name,
		ServiceID:   svc.ID,
		Timestamp:   end,
		LogCount:    len(logs),
		MetricCount: len(points),
	}

	if len(logs) == 0 {
		if len(points) > 0 {
			latest := points[len(points)-1]
			snap.ErrorRate = latest.ErrorRate
			snap.P95LatencyMs = latest.P95LatencyMs
			snap.TPS = latest.TPS
		}
		return snap, nil
	}

	var errorCount int
	latencies := make([]float64, 0, len(logs))
	for _, l := range logs {
		if models.IsErrorLevel(l.Level) {
			errorCount++
		}
		if l.LatencyMs != nil {
			latencies = append(latencies, float64(*l.LatencyMs))
		}
	}

	snap.ErrorRate = float64(errorCount) / float64(len(logs))
	snap.P95LatencyMs = int(math.RoundToEven(Percentile(latencies, 95)))
	snap.TPS = float64(len(logs)) / math.Max(lookback.Seconds(), 1)

	return snap, nil
}

// Series returns the stored metric history of a service for charting.
// An unknown service yields an empty series.
func Series(ctx context.Context, repo SeriesStore, service string, start, end time.Time) (*models.KPISeries, error) {
	series := &models.KPISeries{
		Service: service,
		Start:   start,
		End:     end,
		Items:   []*models.MetricPoint{},
	}

	svc, err := repo.GetServiceByName(ctx, service)
	if err != nil {
		if errors.Is(err, repository.ErrServiceNotFound) {
			return series, nil
		}
		return nil, err
	}

	points, err := repo.ListMetricPoints(ctx, repository.MetricFilter{ServiceID: svc.ID, Since: start, Until: end})
	if err != nil {
		return nil, err
	}
	if len(points) > 0 {
		series.Items = points
		series.Latest = points[len(points)-1]
	}
	return series, nil
}

// Percentile returns the p-th percentile of values using linear
// interpolation between closest ranks. It returns 0 for no values.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}
