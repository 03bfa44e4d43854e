package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/flowguard/internal/config"
	"github.com/telhawk-systems/flowguard/internal/models"
	"github.com/telhawk-systems/flowguard/internal/pipeline"
	"github.com/telhawk-systems/flowguard/internal/repository"
	"github.com/telhawk-systems/flowguard/internal/validator"
)

var fixedNow = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func init() {
	now = func() time.Time { return fixedNow }
}

type mockSink struct {
	submitFunc func(ctx context.Context, batch *pipeline.Batch) error
}

func (m *mockSink) Submit(ctx context.Context, batch *pipeline.Batch) error {
	return m.submitFunc(ctx, batch)
}

type mockAlerter struct {
	dispatchTestAlertFunc func(ctx context.Context, service string) (*pipeline.ServiceResult, error)
}

func (m *mockAlerter) DispatchTestAlert(ctx context.Context, service string) (*pipeline.ServiceResult, error) {
	return m.dispatchTestAlertFunc(ctx, service)
}

type failingRepo struct {
	*repository.MemoryRepository
}

func (failingRepo) Ping(context.Context) error { return errors.New("connection refused") }

func (failingRepo) ListLogEvents(context.Context, repository.LogFilter) ([]*models.LogEvent, error) {
	return nil, errors.New("connection refused")
}

type brokerConn bool

func (b brokerConn) IsConnected() bool { return bool(b) }

func do(t *testing.T, h http.HandlerFunc, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

// seed stores one service with logs, metrics and an alert.
func seed(t *testing.T) *repository.MemoryRepository {
	t.Helper()
	repo := repository.NewMemoryRepository()
	ctx := context.Background()

	require.NoError(t, repo.RunInTx(ctx, func(tx repository.Tx) error {
		services, err := tx.EnsureServices(ctx, []string{"checkout", "payments"})
		if err != nil {
			return err
		}
		checkout := services["checkout"]
		if err := tx.InsertLogEvents(ctx, []*models.LogEvent{
			{ServiceID: checkout.ID, Timestamp: fixedNow.Add(-5 * time.Minute), Level: models.LevelError, Message: "payment gateway timeout"},
			{ServiceID: checkout.ID, Timestamp: fixedNow.Add(-4 * time.Minute), Level: models.LevelInfo, Message: "order placed"},
			{ServiceID: checkout.ID, Timestamp: fixedNow.Add(-3 * time.Hour), Level: models.LevelInfo, Message: "old"},
			{ServiceID: services["payments"].ID, Timestamp: fixedNow.Add(-time.Minute), Level: models.LevelWarn, Message: "retrying"},
		}); err != nil {
			return err
		}
		for i := 1; i <= 3; i++ {
			if err := tx.InsertMetricPoint(ctx, &models.MetricPoint{
				ServiceID: checkout.ID, Timestamp: fixedNow.Add(-time.Duration(i) * time.Minute), TPS: float64(10 * i),
			}); err != nil {
				return err
			}
		}
		return nil
	}))

	checkout, err := repo.GetServiceByName(ctx, "checkout")
	require.NoError(t, err)
	require.NoError(t, repo.InsertAlertEvent(ctx, &models.AlertEvent{
		ServiceID: checkout.ID, Timestamp: fixedNow, Channel: models.ChannelSlack,
		Severity: models.SeverityCritical, Message: "Error rate 50.00% exceeded threshold",
		DedupeKey: "checkout:error_rate_threshold:2024-01-01T12:00",
	}))
	return repo
}

func TestIngestLogs_Accepted(t *testing.T) {
	var submitted *pipeline.Batch
	h := NewHandler(repository.NewMemoryRepository(), nil).
		WithSink(&mockSink{submitFunc: func(_ context.Context, b *pipeline.Batch) error {
			submitted = b
			return nil
		}}).
		WithAllowlist(validator.NewAllowlist([]string{"checkout"}))

	body := `[
		{"service":"checkout","ts":"2024-01-01T12:00:00Z","level":"error","message":"boom","latency_ms":900},
		{"service":"payments","ts":"2024-01-01T12:00:00Z","level":"INFO","message":"ok"}
	]`
	rec := do(t, h.IngestLogs, http.MethodPost, "/api/v1/ingest/logs", body)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp IngestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "accepted", resp.Status)
	assert.Equal(t, 1, resp.Accepted)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, 1, resp.Errors[0].Index)

	require.NotNil(t, submitted)
	assert.Equal(t, resp.BatchID, submitted.ID)
	assert.Equal(t, pipeline.KindLogs, submitted.Kind)
	require.Len(t, submitted.Logs, 1)
	assert.Equal(t, models.LevelError, submitted.Logs[0].Level)
}

func TestIngestMetrics_Accepted(t *testing.T) {
	var submitted *pipeline.Batch
	h := NewHandler(repository.NewMemoryRepository(), nil).
		WithSink(&mockSink{submitFunc: func(_ context.Context, b *pipeline.Batch) error {
			submitted = b
			return nil
		}})

	body := `[{"service":"checkout","ts":"2024-01-01T12:00:00Z","tps":12,"error_rate":0.01,"p95_latency_ms":240}]`
	rec := do(t, h.IngestMetrics, http.MethodPost, "/api/v1/ingest/metrics", body)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.NotNil(t, submitted)
	assert.Equal(t, pipeline.KindMetrics, submitted.Kind)
	assert.Equal(t, 240, submitted.Metrics[0].P95LatencyMs)
	assert.Empty(t, decode(t, rec)["errors"])
}

func TestIngest_Rejections(t *testing.T) {
	sinkErr := &mockSink{submitFunc: func(context.Context, *pipeline.Batch) error {
		return errors.New("nats: no responders available for request")
	}}
	sinkOK := &mockSink{submitFunc: func(context.Context, *pipeline.Batch) error { return nil }}

	validLog := `[{"service":"checkout","ts":"2024-01-01T12:00:00Z","level":"INFO","message":"ok"}]`

	tests := []struct {
		name       string
		sink       *mockSink
		body       string
		wantStatus int
		wantErrors int
	}{
		{name: "invalid json", sink: sinkOK, body: `{nope`, wantStatus: http.StatusBadRequest},
		{name: "not an array", sink: sinkOK, body: `{"service":"a"}`, wantStatus: http.StatusBadRequest},
		{name: "no valid records", sink: sinkOK, body: `[{"service":"a","level":"LOUD","message":"x","ts":"2024-01-01T12:00:00Z"}]`, wantStatus: http.StatusBadRequest, wantErrors: 1},
		{name: "empty array", sink: sinkOK, body: `[]`, wantStatus: http.StatusBadRequest},
		{name: "broker unavailable", sink: sinkErr, body: validLog, wantStatus: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(repository.NewMemoryRepository(), nil).WithSink(tt.sink)
			rec := do(t, h.IngestLogs, http.MethodPost, "/api/v1/ingest/logs", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)

			resp := decode(t, rec)
			assert.Equal(t, "error", resp["status"])
			if tt.wantErrors > 0 {
				assert.Len(t, resp["errors"], tt.wantErrors)
			}
		})
	}
}

func TestIngest_NoSink(t *testing.T) {
	h := NewHandler(repository.NewMemoryRepository(), nil)
	rec := do(t, h.IngestLogs, http.MethodPost, "/api/v1/ingest/logs",
		`[{"service":"checkout","ts":"2024-01-01T12:00:00Z","level":"INFO","message":"ok"}]`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestIngest_BodyTooLarge(t *testing.T) {
	h := NewHandler(repository.NewMemoryRepository(), nil)
	h.maxBody = 16
	rec := do(t, h.IngestMetrics, http.MethodPost, "/api/v1/ingest/metrics", `[{"service":"checkout","tps":1}]`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestListLogs(t *testing.T) {
	h := NewHandler(seed(t), nil)

	tests := []struct {
		name      string
		query     string
		wantCount int
		wantFirst string
	}{
		{name: "default range covers last hour", query: "", wantCount: 3, wantFirst: "retrying"},
		{name: "service filter", query: "?service=checkout", wantCount: 2, wantFirst: "order placed"},
		{name: "level filter is case-insensitive", query: "?level=error", wantCount: 1, wantFirst: "payment gateway timeout"},
		{name: "text search", query: "?q=GATEWAY", wantCount: 1, wantFirst: "payment gateway timeout"},
		{name: "wider range", query: "?service=checkout&range=1d", wantCount: 3, wantFirst: "order placed"},
		{name: "narrow range", query: "?range=2m", wantCount: 1, wantFirst: "retrying"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h.ListLogs, http.MethodGet, "/api/v1/logs"+tt.query, "")
			require.Equal(t, http.StatusOK, rec.Code)

			var resp struct {
				Items []models.LogEvent `json:"items"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			require.Len(t, resp.Items, tt.wantCount)
			assert.Equal(t, tt.wantFirst, resp.Items[0].Message)
		})
	}
}

func TestListLogs_StorageError(t *testing.T) {
	h := NewHandler(failingRepo{repository.NewMemoryRepository()}, nil)
	rec := do(t, h.ListLogs, http.MethodGet, "/api/v1/logs", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestListMetrics(t *testing.T) {
	h := NewHandler(seed(t), nil)

	rec := do(t, h.ListMetrics, http.MethodGet, "/api/v1/metrics?service=checkout&range=30m", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Service string               `json:"service"`
		Items   []models.MetricPoint `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "checkout", resp.Service)
	require.Len(t, resp.Items, 3)
	assert.Equal(t, 30.0, resp.Items[0].TPS, "oldest first")

	rec = do(t, h.ListMetrics, http.MethodGet, "/api/v1/metrics?service=unknown", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode(t, rec)["items"])

	rec = do(t, h.ListMetrics, http.MethodGet, "/api/v1/metrics", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetKPIs(t *testing.T) {
	h := NewHandler(seed(t), nil)

	rec := do(t, h.GetKPIs, http.MethodGet, "/api/v1/kpis?service=checkout", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var series models.KPISeries
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &series))
	assert.Equal(t, "checkout", series.Service)
	assert.Len(t, series.Items, 3)
	require.NotNil(t, series.Latest)
	assert.Equal(t, 10.0, series.Latest.TPS)
	assert.Equal(t, fixedNow.Add(-DefaultRange), series.Start)

	rec = do(t, h.GetKPIs, http.MethodGet, "/api/v1/kpis", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListAlerts(t *testing.T) {
	h := NewHandler(seed(t), nil)

	rec := do(t, h.ListAlerts, http.MethodGet, "/api/v1/alerts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Items []models.AlertEvent `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "checkout", resp.Items[0].Service)
	assert.Equal(t, models.SeverityCritical, resp.Items[0].Severity)

	rec = do(t, h.ListAlerts, http.MethodGet, "/api/v1/alerts?service=payments", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode(t, rec)["items"])

	for _, bad := range []string{"abc", "0", "-3"} {
		rec = do(t, h.ListAlerts, http.MethodGet, "/api/v1/alerts?limit="+bad, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
	}
}

func TestGetConfig(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Notifications.Slack.WebhookURL = "https://hooks.slack.com/services/secret"
	cfg.Database.Postgres.Password = "hunter2"

	h := NewHandler(repository.NewMemoryRepository(), nil).WithConfig(NewConfigView(cfg))
	rec := do(t, h.GetConfig, http.MethodGet, "/api/v1/config", "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode(t, rec)
	assert.Equal(t, 0.05, resp["alert_error_rate_threshold"])
	assert.Equal(t, 500.0, resp["alert_p95_latency_ms"])
	assert.Equal(t, 10.0, resp["alert_lookback_min"])
	assert.Equal(t, []interface{}{"slack", "email"}, resp["alert_channels"])
	assert.NotContains(t, rec.Body.String(), "secret")
	assert.NotContains(t, rec.Body.String(), "hunter2")
}

func TestTestAlert(t *testing.T) {
	var gotService string
	alerter := &mockAlerter{dispatchTestAlertFunc: func(_ context.Context, service string) (*pipeline.ServiceResult, error) {
		gotService = service
		if service == "" {
			service = pipeline.DefaultTestService
		}
		return &pipeline.ServiceResult{Service: service, Outcomes: []models.DispatchOutcome{
			{Channel: models.ChannelSlack, Delivered: true, AlertID: 7},
		}}, nil
	}}
	h := NewHandler(repository.NewMemoryRepository(), nil).WithTestAlerter(alerter)

	rec := do(t, h.TestAlert, http.MethodPost, "/api/v1/test-alert", `{"service":"billing"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "billing", gotService)
	resp := decode(t, rec)
	assert.Equal(t, "accepted", resp["status"])
	assert.Len(t, resp["dispatched"], 1)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/test-alert", bytes.NewReader(nil))
	rec = httptest.NewRecorder()
	h.TestAlert(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "", gotService)
	assert.Equal(t, pipeline.DefaultTestService, decode(t, rec)["service"])

	rec = do(t, h.TestAlert, http.MethodPost, "/api/v1/test-alert", `{"service":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTestAlert_Failure(t *testing.T) {
	h := NewHandler(repository.NewMemoryRepository(), nil).WithTestAlerter(&mockAlerter{
		dispatchTestAlertFunc: func(context.Context, string) (*pipeline.ServiceResult, error) {
			return nil, errors.New("connection refused")
		},
	})
	rec := do(t, h.TestAlert, http.MethodPost, "/api/v1/test-alert", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	h = NewHandler(repository.NewMemoryRepository(), nil)
	rec = do(t, h.TestAlert, http.MethodPost, "/api/v1/test-alert", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthAndReadiness(t *testing.T) {
	h := NewHandler(repository.NewMemoryRepository(), nil)
	rec := do(t, h.HealthCheck, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	tests := []struct {
		name       string
		handler    *Handler
		wantStatus int
	}{
		{name: "ready without broker", handler: NewHandler(repository.NewMemoryRepository(), nil), wantStatus: http.StatusOK},
		{name: "ready with broker", handler: NewHandler(repository.NewMemoryRepository(), nil).WithBroker(brokerConn(true)), wantStatus: http.StatusOK},
		{name: "broker down", handler: NewHandler(repository.NewMemoryRepository(), nil).WithBroker(brokerConn(false)), wantStatus: http.StatusServiceUnavailable},
		{name: "database down", handler: NewHandler(failingRepo{repository.NewMemoryRepository()}, nil), wantStatus: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, tt.handler.ReadyCheck, http.MethodGet, "/readyz", "")
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestParseRange(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{value: "", want: time.Hour},
		{value: "1h", want: time.Hour},
		{value: "24H", want: 24 * time.Hour},
		{value: "30m", want: 30 * time.Minute},
		{value: "7d", want: 7 * 24 * time.Hour},
		{value: "15", want: 15 * time.Minute},
		{value: " 2h ", want: 2 * time.Hour},
		{value: "soon", want: time.Hour},
		{value: "1w", want: time.Hour},
		{value: "0m", want: time.Hour},
		{value: "-5m", want: time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			start, end := ParseRange(tt.value, fixedNow)
			assert.Equal(t, fixedNow, end)
			assert.Equal(t, tt.want, end.Sub(start))
		})
	}
}
