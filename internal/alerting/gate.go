package alerting

import (
	"context"
	"log/slog"
	"time"

	"github.com/telhawk-systems/flowguard/internal/logging"
	"github.com/telhawk-systems/flowguard/internal/metrics"
	"github.com/telhawk-systems/flowguard/internal/models"
)

// bucketWidth is the length of the RFC 3339 prefix used in dedupe keys,
// i.e. "2006-01-02T15:04".
const bucketWidth = 16

// AlertLookup answers dedup queries against recorded alerts.
type AlertLookup interface {
	AlertExistsSince(ctx context.Context, serviceID int64, dedupeKey string, since time.Time) (bool, error)
}

// DedupeKey builds the per-trigger key "service:reason:YYYY-MM-DDTHH:MM".
func DedupeKey(service, reason string, ts time.Time) string {
	stamp := ts.UTC().Format(time.RFC3339)
	if len(stamp) > bucketWidth {
		stamp = stamp[:bucketWidth]
	}
	return service + ":" + reason + ":" + stamp
}

// Gate suppresses triggers whose key fired within a sliding window.
type Gate struct {
	alerts AlertLookup
	now    func() time.Time
	logger *slog.Logger
}

// NewGate creates a Gate reading prior alerts from alerts.
func NewGate(alerts AlertLookup, logger *slog.Logger) *Gate {
	return &Gate{alerts: alerts, now: time.Now, logger: logging.OrDefault(logger)}
}

// WithClock overrides the time source.
func (g *Gate) WithClock(now func() time.Time) *Gate {
	g.now = now
	return g
}

// Admit reports whether trigger may be dispatched, along with its dedupe
// key. A trigger is rejected when an alert with the same key was recorded at
// or after now-window. Lookup failures admit the trigger.
func (g *Gate) Admit(ctx context.Context, svc *models.Service, trigger models.Trigger, snapshotTS time.Time, window time.Duration) (bool, string) {
	key := DedupeKey(svc.Name, trigger.Reason, snapshotTS)
	since := g.now().Add(-window)

	exists, err := g.alerts.AlertExistsSince(ctx, svc.ID, key, since)
	if err != nil {
		logging.FromContext(ctx, g.logger).Warn("dedup lookup failed, admitting trigger",
			logging.Service(svc.Name), logging.DedupeKey(key), logging.Error(err))
		return true, key
	}
	if exists {
		metrics.TriggersSuppressed.WithLabelValues(trigger.Reason).Inc()
		logging.FromContext(ctx, g.logger).Debug("trigger suppressed",
			logging.Service(svc.Name), logging.DedupeKey(key))
		return false, key
	}
	return true, key
}
