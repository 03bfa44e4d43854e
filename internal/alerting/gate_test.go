package alerting

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/flowguard/internal/models"
	"github.com/telhawk-systems/flowguard/internal/repository"
)

func TestDedupeKey(t *testing.T) {
	ts := time.Date(2024, 1, 1, 12, 0, 45, 123, time.UTC)
	assert.Equal(t, "checkout:latency_threshold:2024-01-01T12:00", DedupeKey("checkout", ReasonLatency, ts))

	// non-UTC timestamps are bucketed in UTC
	est := time.FixedZone("EST", -5*60*60)
	assert.Equal(t, "checkout:latency_threshold:2024-01-01T12:00", DedupeKey("checkout", ReasonLatency, ts.In(est)))
}

func TestGate_SlidingWindow(t *testing.T) {
	repo := repository.NewMemoryRepository()
	ctx := context.Background()
	svc := &models.Service{ID: 7, Name: "checkout"}
	trigger := models.Trigger{Reason: ReasonLatency, Severity: models.SeverityWarn, Message: "p95 latency 800ms exceeded threshold"}
	snapshotTS := time.Date(2024, 1, 1, 12, 0, 30, 0, time.UTC)
	window := 10 * time.Minute

	now := snapshotTS
	gate := NewGate(repo, nil).WithClock(func() time.Time { return now })

	admitted, key := gate.Admit(ctx, svc, trigger, snapshotTS, window)
	require.True(t, admitted)
	assert.Equal(t, "checkout:latency_threshold:2024-01-01T12:00", key)

	// the dispatcher records the delivery
	require.NoError(t, repo.InsertAlertEvent(ctx, &models.AlertEvent{
		ServiceID: svc.ID, Timestamp: now, Channel: models.ChannelSlack,
		Severity: trigger.Severity, Message: trigger.Message, DedupeKey: key,
	}))

	now = snapshotTS.Add(2 * time.Minute)
	admitted, _ = gate.Admit(ctx, svc, trigger, snapshotTS, window)
	assert.False(t, admitted, "same key within the window is suppressed")

	now = snapshotTS.Add(11 * time.Minute)
	admitted, _ = gate.Admit(ctx, svc, trigger, snapshotTS, window)
	assert.True(t, admitted, "same key after the window is admitted again")
}

func TestGate_DifferentBucketsAndReasons(t *testing.T) {
	repo := repository.NewMemoryRepository()
	ctx := context.Background()
	svc := &models.Service{ID: 7, Name: "checkout"}
	ts := time.Date(2024, 1, 1, 12, 0, 30, 0, time.UTC)
	gate := NewGate(repo, nil).WithClock(func() time.Time { return ts })

	require.NoError(t, repo.InsertAlertEvent(ctx, &models.AlertEvent{
		ServiceID: svc.ID, Timestamp: ts, DedupeKey: DedupeKey(svc.Name, ReasonLatency, ts),
		Channel: models.ChannelSlack, Severity: models.SeverityWarn,
	}))

	admitted, _ := gate.Admit(ctx, svc, models.Trigger{Reason: ReasonErrorRate}, ts, 10*time.Minute)
	assert.True(t, admitted, "different reason")

	admitted, _ = gate.Admit(ctx, svc, models.Trigger{Reason: ReasonLatency}, ts.Add(time.Minute), 10*time.Minute)
	assert.True(t, admitted, "next minute bucket")
}

type mockAlertLookup struct {
	alertExistsSinceFunc func(ctx context.Context, serviceID int64, key string, since time.Time) (bool, error)
}

func (m *mockAlertLookup) AlertExistsSince(ctx context.Context, serviceID int64, key string, since time.Time) (bool, error) {
	return m.alertExistsSinceFunc(ctx, serviceID, key, since)
}

func TestGate_LookupFailureFailsOpen(t *testing.T) {
	lookup := &mockAlertLookup{
		alertExistsSinceFunc: func(context.Context, int64, string, time.Time) (bool, error) {
			return false, errors.New("connection refused")
		},
	}
	gate := NewGate(lookup, nil)

	admitted, key := gate.Admit(context.Background(), &models.Service{ID: 1, Name: "checkout"},
		models.Trigger{Reason: ReasonAnomaly}, time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC), 10*time.Minute)
	assert.True(t, admitted)
	assert.Equal(t, "checkout:anomaly_detected:2024-01-01T12:00", key)
}

func TestGate_PassesWindowStart(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 30, 0, 0, time.UTC)
	var gotSince time.Time
	lookup := &mockAlertLookup{
		alertExistsSinceFunc: func(_ context.Context, _ int64, _ string, since time.Time) (bool, error) {
			gotSince = since
			return false, nil
		},
	}

	NewGate(lookup, nil).WithClock(func() time.Time { return now }).
		Admit(context.Background(), &models.Service{ID: 1, Name: "checkout"}, models.Trigger{Reason: ReasonLatency}, now, 10*time.Minute)
	assert.Equal(t, now.Add(-10*time.Minute), gotSince)
}
