package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/telhawk-systems/flowguard/internal/alerting"
	"github.com/telhawk-systems/flowguard/internal/anomaly"
	"github.com/telhawk-systems/flowguard/internal/config"
	"github.com/telhawk-systems/flowguard/internal/kpi"
	"github.com/telhawk-systems/flowguard/internal/messaging"
	natsclient "github.com/telhawk-systems/flowguard/internal/messaging/nats"
	"github.com/telhawk-systems/flowguard/internal/notification"
	"github.com/telhawk-systems/flowguard/internal/pipeline"
	"github.com/telhawk-systems/flowguard/internal/repository"
	"github.com/telhawk-systems/flowguard/migrations"
)

// openRepository connects to PostgreSQL and applies pending migrations, or
// returns an in-process store when memory is set.
func openRepository(ctx context.Context, cfg *config.Config, memory bool, logger *slog.Logger) (repository.Repository, error) {
	if memory {
		logger.Warn("using in-memory storage; data is lost on exit")
		return repository.NewMemoryRepository(), nil
	}

	connString := cfg.Database.Postgres.ConnString()
	if err := migrations.Up(connString); err != nil {
		return nil, err
	}

	repo, err := repository.NewPostgresRepository(ctx, connString)
	if err != nil {
		return nil, err
	}
	logger.Info("connected to database", slog.String("host", cfg.Database.Postgres.Host))
	return repo, nil
}

// newWindowStore returns the detector state store. The returned cleanup
// closes the Redis client when one was opened.
func newWindowStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (anomaly.WindowStore, func(), error) {
	if cfg.Detector.StateBackend != "redis" {
		return anomaly.NewMemoryWindowStore(), func() {}, nil
	}

	opt, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	opt.MaxRetries = cfg.Redis.MaxRetries
	opt.PoolSize = cfg.Redis.PoolSize

	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("detector state shared through redis")
	return anomaly.NewRedisWindowStore(client, cfg.Detector.StateTTL), func() { client.Close() }, nil
}

func newNotifier(cfg *config.Config, logger *slog.Logger) *notification.Router {
	slack := cfg.Notifications.Slack
	email := cfg.Notifications.Email
	return notification.NewRouter(logger,
		notification.NewSlackChannel(slack.WebhookURL, slack.Timeout),
		notification.NewEmailChannel(email.Host, email.Port, email.User, email.Password, email.From, email.To).
			WithTimeout(email.Timeout),
	)
}

func detectorOptions(cfg *config.Config) anomaly.Options {
	opts := anomaly.DefaultOptions()
	opts.WindowSize = cfg.Detector.WindowSize
	opts.MinPoints = cfg.Detector.MinPoints
	opts.ZThreshold = cfg.Detector.ZThreshold
	opts.Forest.Trees = cfg.Detector.Trees
	opts.Forest.Contamination = cfg.Detector.Contamination
	opts.Forest.Seed = cfg.Detector.Seed
	return opts
}

func pipelineSettings(cfg *config.Config) pipeline.Settings {
	return pipeline.Settings{
		Thresholds: alerting.Thresholds{
			ErrorRate:    cfg.Alerting.ErrorRateThreshold,
			P95LatencyMs: cfg.Alerting.P95LatencyMs,
		},
		LookbackWindow: cfg.Alerting.LookbackWindow,
		DedupWindow:    cfg.Alerting.DedupWindow,
		Channels:       cfg.Alerting.Channels,
	}
}

// newOrchestrator wires the pipeline stages over repo and store.
func newOrchestrator(cfg *config.Config, repo repository.Repository, store anomaly.WindowStore, logger *slog.Logger) *pipeline.Orchestrator {
	stages := pipeline.Stages{
		Aggregator: kpi.NewAggregator(repo),
		Detector:   anomaly.NewDetector(store, detectorOptions(cfg), logger),
		Gate:       alerting.NewGate(repo, logger),
		Dispatcher: alerting.NewDispatcher(newNotifier(cfg, logger), repo, logger),
	}
	return pipeline.NewOrchestrator(repo, stages, pipelineSettings(cfg), logger)
}

func natsConfig(cfg *config.Config) natsclient.Config {
	nc := natsclient.DefaultConfig()
	nc.URL = cfg.NATS.URL
	nc.Name = cfg.NATS.Name
	nc.MaxReconnects = cfg.NATS.MaxReconnects
	nc.ReconnectWait = cfg.NATS.ReconnectWait
	return nc
}

func consumerConfig(cfg *config.Config, filterSubject string) natsclient.ConsumerConfig {
	cc := natsclient.DefaultConsumerConfig(messaging.ConsumerWorkers, filterSubject)
	cc.AckWait = cfg.NATS.AckWait
	cc.MaxDeliver = cfg.NATS.MaxDeliver
	cc.MaxAckPending = cfg.NATS.MaxAckPending
	return cc
}

// connectBroker opens JetStream and ensures the batches stream exists.
func connectBroker(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*natsclient.JetStreamClient, error) {
	js, err := natsclient.NewJetStreamClient(natsConfig(cfg), logger)
	if err != nil {
		return nil, err
	}
	if _, err := js.CreateOrUpdateStream(ctx, natsclient.BatchesStream); err != nil {
		js.Close()
		return nil, err
	}
	return js, nil
}
