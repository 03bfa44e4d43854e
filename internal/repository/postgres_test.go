package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/telhawk-systems/flowguard/internal/models"
	"github.com/telhawk-systems/flowguard/migrations"
)

// setupTestDatabase creates a PostgreSQL testcontainer and runs migrations
func setupTestDatabase(t *testing.T) *PostgresRepository {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping PostgreSQL integration test in short mode")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("flowguard_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, migrations.Up(connStr))

	repo, err := NewPostgresRepository(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	return repo
}

func TestPostgresRepository_PipelineWrites(t *testing.T) {
	repo := setupTestDatabase(t)
	ctx := context.Background()
	ts := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	var svc *models.Service
	err := repo.RunInTx(ctx, func(tx Tx) error {
		svcs, err := tx.EnsureServices(ctx, []string{"checkout"})
		if err != nil {
			return err
		}
		svc = svcs["checkout"]
		return tx.InsertLogEvents(ctx, []*models.LogEvent{
			{ServiceID: svc.ID, Timestamp: ts, Level: models.LevelError, Message: "boom",
				LatencyMs: models.IntPtr(120), StatusCode: models.IntPtr(500), Meta: map[string]interface{}{"k": "v"}},
			{ServiceID: svc.ID, Timestamp: ts.Add(time.Second), Level: models.LevelInfo, Message: "ok"},
		})
	})
	require.NoError(t, err)
	require.NotNil(t, svc)

	logs, err := repo.ListLogEvents(ctx, LogFilter{Service: "checkout"})
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "ok", logs[0].Message)
	assert.Nil(t, logs[0].LatencyMs)
	require.NotNil(t, logs[1].LatencyMs)
	assert.Equal(t, 120, *logs[1].LatencyMs)
	assert.Equal(t, "v", logs[1].Meta["k"])
	assert.Equal(t, "checkout", logs[1].Service)
}

func TestPostgresRepository_MetricOverwrite(t *testing.T) {
	repo := setupTestDatabase(t)
	ctx := context.Background()
	ts := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	var serviceID int64
	require.NoError(t, repo.RunInTx(ctx, func(tx Tx) error {
		svcs, err := tx.EnsureServices(ctx, []string{"checkout"})
		if err != nil {
			return err
		}
		serviceID = svcs["checkout"].ID
		return tx.InsertMetricPoint(ctx, &models.MetricPoint{ServiceID: serviceID, Timestamp: ts, TPS: 10})
	}))

	// The conflicting insert must not poison the transaction.
	require.NoError(t, repo.RunInTx(ctx, func(tx Tx) error {
		err := tx.InsertMetricPoint(ctx, &models.MetricPoint{ServiceID: serviceID, Timestamp: ts, TPS: 99})
		require.ErrorIs(t, err, ErrMetricConflict)
		return tx.UpsertMetricPoint(ctx, &models.MetricPoint{ServiceID: serviceID, Timestamp: ts, TPS: 99})
	}))

	points, err := repo.ListMetricPoints(ctx, MetricFilter{ServiceID: serviceID, Since: ts, Until: ts})
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, 99.0, points[0].TPS)
}

func TestPostgresRepository_Alerts(t *testing.T) {
	repo := setupTestDatabase(t)
	ctx := context.Background()
	ts := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	var serviceID int64
	require.NoError(t, repo.RunInTx(ctx, func(tx Tx) error {
		svcs, err := tx.EnsureServices(ctx, []string{"checkout"})
		if err != nil {
			return err
		}
		serviceID = svcs["checkout"].ID
		return nil
	}))

	key := "checkout:latency_threshold:2024-01-01T12:00"
	alert := &models.AlertEvent{
		ServiceID: serviceID, Timestamp: ts, Channel: models.ChannelSlack,
		Severity: models.SeverityWarn, Message: "p95 latency 800ms exceeded threshold", DedupeKey: key,
	}
	require.NoError(t, repo.InsertAlertEvent(ctx, alert))
	assert.NotZero(t, alert.ID)

	exists, err := repo.AlertExistsSince(ctx, serviceID, key, ts.Add(-10*time.Minute))
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.AlertExistsSince(ctx, serviceID, key, ts.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, exists)

	alerts, err := repo.ListAlertEvents(ctx, AlertFilter{Service: "checkout", Limit: 50})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "checkout", alerts[0].Service)
}
