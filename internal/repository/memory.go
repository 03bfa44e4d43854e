package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/telhawk-systems/flowguard/internal/models"
)

type metricKey struct {
	serviceID int64
	ts        int64
}

// MemoryRepository is an in-process Repository used by tests and by
// `flowguard serve --memory`.
type MemoryRepository struct {
	mu sync.Mutex

	services map[string]*models.Service
	logs     []*models.LogEvent
	metrics  map[metricKey]*models.MetricPoint
	alerts   []*models.AlertEvent
	nextID   int64

	now func() time.Time
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		services: make(map[string]*models.Service),
		metrics:  make(map[metricKey]*models.MetricPoint),
		now:      time.Now,
	}
}

func (r *MemoryRepository) id() int64 {
	r.nextID++
	return r.nextID
}

type memorySnapshot struct {
	services map[string]*models.Service
	logs     []*models.LogEvent
	metrics  map[metricKey]*models.MetricPoint
	nextID   int64
}

func (r *MemoryRepository) snapshot() memorySnapshot {
	s := memorySnapshot{
		services: make(map[string]*models.Service, len(r.services)),
		logs:     append([]*models.LogEvent(nil), r.logs...),
		metrics:  make(map[metricKey]*models.MetricPoint, len(r.metrics)),
		nextID:   r.nextID,
	}
	for k, v := range r.services {
		s.services[k] = v
	}
	for k, v := range r.metrics {
		cp := *v
		s.metrics[k] = &cp
	}
	return s
}

func (r *MemoryRepository) restore(s memorySnapshot) {
	r.services = s.services
	r.logs = s.logs
	r.metrics = s.metrics
	r.nextID = s.nextID
}

// RunInTx serialises fn against the repository and restores the previous
// state if fn fails.
func (r *MemoryRepository) RunInTx(ctx context.Context, fn func(tx Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	before := r.snapshot()
	if err := fn(&memoryTx{repo: r}); err != nil {
		r.restore(before)
		return err
	}
	return nil
}

func (r *MemoryRepository) GetServiceByName(ctx context.Context, name string) (*models.Service, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.services[name]
	if !ok {
		return nil, ErrServiceNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *MemoryRepository) ListServices(ctx context.Context) ([]*models.Service, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*models.Service, 0, len(r.services))
	for _, s := range r.services {
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *MemoryRepository) serviceName(id int64) string {
	for name, s := range r.services {
		if s.ID == id {
			return name
		}
	}
	return ""
}

func (r *MemoryRepository) ListLogEvents(ctx context.Context, filter LogFilter) ([]*models.LogEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*models.LogEvent
	for _, ev := range r.logs {
		if filter.ServiceID != 0 && ev.ServiceID != filter.ServiceID {
			continue
		}
		name := r.serviceName(ev.ServiceID)
		if filter.Service != "" && name != filter.Service {
			continue
		}
		if filter.Level != "" && ev.Level != strings.ToUpper(filter.Level) {
			continue
		}
		if filter.Query != "" && !strings.Contains(strings.ToLower(ev.Message), strings.ToLower(filter.Query)) {
			continue
		}
		if !filter.Since.IsZero() && ev.Timestamp.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && ev.Timestamp.After(filter.Until) {
			continue
		}
		cp := *ev
		cp.Service = name
		out = append(out, &cp)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID > out[j].ID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *MemoryRepository) ListMetricPoints(ctx context.Context, filter MetricFilter) ([]*models.MetricPoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*models.MetricPoint
	for _, p := range r.metrics {
		if p.ServiceID != filter.ServiceID {
			continue
		}
		if !filter.Since.IsZero() && p.Timestamp.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && p.Timestamp.After(filter.Until) {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *MemoryRepository) UpsertMetricPoint(ctx context.Context, p *models.MetricPoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.upsertMetric(p)
	return nil
}

func (r *MemoryRepository) upsertMetric(p *models.MetricPoint) {
	key := metricKey{serviceID: p.ServiceID, ts: p.Timestamp.UnixNano()}
	if existing, ok := r.metrics[key]; ok {
		p.ID = existing.ID
	} else {
		p.ID = r.id()
	}
	cp := *p
	r.metrics[key] = &cp
}

func (r *MemoryRepository) AlertExistsSince(ctx context.Context, serviceID int64, dedupeKey string, since time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.alerts {
		if a.ServiceID == serviceID && a.DedupeKey == dedupeKey && !a.Timestamp.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryRepository) InsertAlertEvent(ctx context.Context, a *models.AlertEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a.ID = r.id()
	cp := *a
	r.alerts = append(r.alerts, &cp)
	return nil
}

func (r *MemoryRepository) ListAlertEvents(ctx context.Context, filter AlertFilter) ([]*models.AlertEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*models.AlertEvent
	for _, a := range r.alerts {
		name := r.serviceName(a.ServiceID)
		if filter.Service != "" && name != filter.Service {
			continue
		}
		cp := *a
		cp.Service = name
		out = append(out, &cp)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID > out[j].ID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *MemoryRepository) Ping(ctx context.Context) error {
	return nil
}

func (r *MemoryRepository) Close() error {
	return nil
}

// memoryTx operates on the repository while RunInTx holds its lock.
type memoryTx struct {
	repo *MemoryRepository
}

func (t *memoryTx) EnsureServices(ctx context.Context, names []string) (map[string]*models.Service, error) {
	resolved := make(map[string]*models.Service, len(names))
	for _, name := range names {
		s, ok := t.repo.services[name]
		if !ok {
			s = &models.Service{ID: t.repo.id(), Name: name, CreatedAt: t.repo.now().UTC()}
			t.repo.services[name] = s
		}
		cp := *s
		resolved[name] = &cp
	}
	return resolved, nil
}

func (t *memoryTx) InsertLogEvents(ctx context.Context, events []*models.LogEvent) error {
	for _, ev := range events {
		ev.ID = t.repo.id()
		ev.CreatedAt = t.repo.now().UTC()
		if ev.Meta == nil {
			ev.Meta = map[string]interface{}{}
		}
		cp := *ev
		t.repo.logs = append(t.repo.logs, &cp)
	}
	return nil
}

func (t *memoryTx) InsertMetricPoint(ctx context.Context, p *models.MetricPoint) error {
	key := metricKey{serviceID: p.ServiceID, ts: p.Timestamp.UnixNano()}
	if _, ok := t.repo.metrics[key]; ok {
		return ErrMetricConflict
	}
	t.repo.upsertMetric(p)
	return nil
}

func (t *memoryTx) UpsertMetricPoint(ctx context.Context, p *models.MetricPoint) error {
	t.repo.upsertMetric(p)
	return nil
}
