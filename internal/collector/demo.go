package collector

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/telhawk-systems/flowguard/internal/ingest"
	"github.com/telhawk-systems/flowguard/internal/logging"
	"github.com/telhawk-systems/flowguard/internal/metrics"
	"github.com/telhawk-systems/flowguard/internal/models"
	"github.com/telhawk-systems/flowguard/internal/pipeline"
)

var demoStatusCodes = []int{200, 200, 200, 500, 502}

// DemoGenerator emits synthetic log and metric batches for every configured
// service at fixed intervals.
type DemoGenerator struct {
	sink           ingest.Sink
	services       []string
	logInterval    time.Duration
	metricInterval time.Duration
	now            func() time.Time
	logger         *slog.Logger

	mu    sync.Mutex
	faker *gofakeit.Faker
}

// NewDemoGenerator creates a generator for services. An empty list generates
// for "demo".
func NewDemoGenerator(sink ingest.Sink, services []string, logger *slog.Logger) *DemoGenerator {
	if len(services) == 0 {
		services = []string{pipeline.DefaultTestService}
	}
	return &DemoGenerator{
		sink:           sink,
		services:       services,
		logInterval:    5 * time.Second,
		metricInterval: 10 * time.Second,
		now:            time.Now,
		logger:         logging.OrDefault(logger).With(slog.String("collector", "demo")),
		faker:          gofakeit.New(0),
	}
}

// WithIntervals overrides the log and metric emission intervals.
func (g *DemoGenerator) WithIntervals(logEvery, metricEvery time.Duration) *DemoGenerator {
	if logEvery > 0 {
		g.logInterval = logEvery
	}
	if metricEvery > 0 {
		g.metricInterval = metricEvery
	}
	return g
}

// WithSeed makes the generated values reproducible.
func (g *DemoGenerator) WithSeed(seed int64) *DemoGenerator {
	g.faker = gofakeit.New(seed)
	return g
}

// LogBatch returns one log record per service.
func (g *DemoGenerator) LogBatch() []models.LogRecord {
	g.mu.Lock()
	defer g.mu.Unlock()

	ts := g.now().UTC()
	records := make([]models.LogRecord, 0, len(g.services))
	for _, service := range g.services {
		level := g.level()
		latency := g.faker.Number(50, 1500)
		status := g.faker.RandomInt(demoStatusCodes)
		method := g.faker.HTTPMethod()

		records = append(records, models.LogRecord{
			Service:    service,
			Timestamp:  ts,
			Level:      level,
			Message:    fmt.Sprintf("%s processed %s request latency=%dms status=%d", service, method, latency, status),
			LatencyMs:  models.IntPtr(latency),
			StatusCode: models.IntPtr(status),
			Meta: map[string]interface{}{
				"request_id": g.faker.UUID(),
				"client_ip":  g.faker.IPv4Address(),
				"user_agent": g.faker.UserAgent(),
			},
		})
	}
	return records
}

// MetricBatch returns one metric sample per service.
func (g *DemoGenerator) MetricBatch() []models.MetricRecord {
	g.mu.Lock()
	defer g.mu.Unlock()

	ts := g.now().UTC()
	records := make([]models.MetricRecord, 0, len(g.services))
	for _, service := range g.services {
		errorRate := math.Max(0, 0.02+0.01*g.faker.Rand.NormFloat64())
		records = append(records, models.MetricRecord{
			Service:      service,
			Timestamp:    ts,
			TPS:          round(g.faker.Float64Range(10, 50), 3),
			ErrorRate:    round(errorRate, 4),
			P95LatencyMs: g.faker.Number(200, 800),
		})
	}
	return records
}

// level draws INFO, WARN or ERROR with weights 80/15/5.
func (g *DemoGenerator) level() string {
	switch p := g.faker.Float64(); {
	case p < 0.80:
		return models.LevelInfo
	case p < 0.95:
		return models.LevelWarn
	default:
		return models.LevelError
	}
}

// Run emits batches until ctx is cancelled. Submission failures are logged
// and the generator keeps going.
func (g *DemoGenerator) Run(ctx context.Context) error {
	g.logger.Info("starting demo generator", slog.Any("services", g.services),
		slog.Duration("log_interval", g.logInterval), slog.Duration("metric_interval", g.metricInterval))

	logTicker := time.NewTicker(g.logInterval)
	defer logTicker.Stop()
	metricTicker := time.NewTicker(g.metricInterval)
	defer metricTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-logTicker.C:
			g.submit(ctx, ingest.NewLogBatch(g.LogBatch()))
		case <-metricTicker.C:
			g.submit(ctx, ingest.NewMetricBatch(g.MetricBatch()))
		}
	}
}

func (g *DemoGenerator) submit(ctx context.Context, batch *pipeline.Batch) {
	n := float64(batch.Len())
	if err := g.sink.Submit(ctx, batch); err != nil {
		g.logger.Warn("demo batch rejected", logging.BatchID(batch.ID), logging.Kind(batch.Kind), logging.Error(err))
		metrics.CollectorRecords.WithLabelValues("demo", "dropped").Add(n)
		return
	}
	metrics.CollectorRecords.WithLabelValues("demo", "submitted").Add(n)
}

func round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
