package repository

import (
	"context"
	"errors"
	"time"

	"github.com/telhawk-systems/flowguard/internal/models"
)

var (
	ErrServiceNotFound = errors.New("service not found")
	// ErrMetricConflict is returned when a metric point already exists for
	// the same (service, timestamp).
	ErrMetricConflict = errors.New("metric point already exists")
)

// LogFilter selects log events. Zero values mean "no constraint".
type LogFilter struct {
	ServiceID int64
	Service   string
	Level     string
	Query     string
	Since     time.Time
	Until     time.Time
	Limit     int
}

// MetricFilter selects metric points, oldest first.
type MetricFilter struct {
	ServiceID int64
	Since     time.Time
	Until     time.Time
	Limit     int
}

// AlertFilter selects alert events, newest first.
type AlertFilter struct {
	Service string
	Limit   int
}

// Repository is the storage collaborator of the pipeline.
type Repository interface {
	// RunInTx runs fn inside one transaction. The transaction is committed
	// when fn returns nil and rolled back otherwise.
	RunInTx(ctx context.Context, fn func(tx Tx) error) error

	// Service operations
	GetServiceByName(ctx context.Context, name string) (*models.Service, error)
	ListServices(ctx context.Context) ([]*models.Service, error)

	// Telemetry reads
	ListLogEvents(ctx context.Context, filter LogFilter) ([]*models.LogEvent, error)
	ListMetricPoints(ctx context.Context, filter MetricFilter) ([]*models.MetricPoint, error)
	UpsertMetricPoint(ctx context.Context, p *models.MetricPoint) error

	// Alert operations
	AlertExistsSince(ctx context.Context, serviceID int64, dedupeKey string, since time.Time) (bool, error)
	InsertAlertEvent(ctx context.Context, a *models.AlertEvent) error
	ListAlertEvents(ctx context.Context, filter AlertFilter) ([]*models.AlertEvent, error)

	// Utility
	Ping(ctx context.Context) error
	Close() error
}

// Tx is the write surface available inside RunInTx.
type Tx interface {
	// EnsureServices resolves every name, creating missing rows.
	EnsureServices(ctx context.Context, names []string) (map[string]*models.Service, error)
	InsertLogEvents(ctx context.Context, events []*models.LogEvent) error
	// InsertMetricPoint returns ErrMetricConflict when the key already
	// exists. A failed insert leaves the transaction usable.
	InsertMetricPoint(ctx context.Context, p *models.MetricPoint) error
	UpsertMetricPoint(ctx context.Context, p *models.MetricPoint) error
}
