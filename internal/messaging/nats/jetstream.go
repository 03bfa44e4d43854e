package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/telhawk-systems/flowguard/internal/logging"
	"github.com/telhawk-systems/flowguard/internal/messaging"
)

// JetStreamClient extends Client with durable streams.
type JetStreamClient struct {
	*Client
	js jetstream.JetStream
}

// StreamConfig defines a JetStream stream.
type StreamConfig struct {
	Name      string
	Subjects  []string
	MaxAge    time.Duration
	MaxBytes  int64
	MaxMsgs   int64
	Retention jetstream.RetentionPolicy
	Storage   jetstream.StorageType
	// Duplicates is the publisher dedup window for Nats-Msg-Id.
	Duplicates time.Duration
}

// ConsumerConfig defines a durable pull consumer.
type ConsumerConfig struct {
	Name          string
	FilterSubject string
	AckWait       time.Duration
	MaxDeliver    int
	MaxAckPending int
	// NakDelay is the redelivery delay after a transient handler failure.
	NakDelay time.Duration
}

// BatchesStream is the work queue feeding the pipeline workers.
var BatchesStream = StreamConfig{
	Name:       messaging.StreamBatches,
	Subjects:   []string{messaging.SubjectBatchesAll},
	MaxAge:     24 * time.Hour,
	MaxBytes:   1024 * 1024 * 1024, // 1GB
	MaxMsgs:    1000000,
	Retention:  jetstream.WorkQueuePolicy,
	Storage:    jetstream.FileStorage,
	Duplicates: 2 * time.Minute,
}

// DefaultConsumerConfig returns the worker consumer defaults.
func DefaultConsumerConfig(name, filterSubject string) ConsumerConfig {
	return ConsumerConfig{
		Name:          name,
		FilterSubject: filterSubject,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		MaxAckPending: 16,
		NakDelay:      5 * time.Second,
	}
}

// NewJetStreamClient connects to NATS and opens a JetStream context.
func NewJetStreamClient(cfg Config, logger *slog.Logger) (*JetStreamClient, error) {
	client, err := NewClient(cfg, logger)
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(client.conn)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &JetStreamClient{Client: client, js: js}, nil
}

// CreateOrUpdateStream creates or updates a stream.
func (c *JetStreamClient) CreateOrUpdateStream(ctx context.Context, cfg StreamConfig) (jetstream.Stream, error) {
	stream, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       cfg.Name,
		Subjects:   cfg.Subjects,
		MaxAge:     cfg.MaxAge,
		MaxBytes:   cfg.MaxBytes,
		MaxMsgs:    cfg.MaxMsgs,
		Retention:  cfg.Retention,
		Storage:    cfg.Storage,
		Duplicates: cfg.Duplicates,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create/update stream %s: %w", cfg.Name, err)
	}
	return stream, nil
}

// CreateOrUpdateConsumer creates or updates a durable consumer on stream.
func (c *JetStreamClient) CreateOrUpdateConsumer(ctx context.Context, streamName string, cfg ConsumerConfig) (jetstream.Consumer, error) {
	stream, err := c.js.Stream(ctx, streamName)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream %s: %w", streamName, err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          cfg.Name,
		Durable:       cfg.Name,
		FilterSubject: cfg.FilterSubject,
		AckWait:       cfg.AckWait,
		MaxDeliver:    cfg.MaxDeliver,
		MaxAckPending: cfg.MaxAckPending,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create/update consumer %s: %w", cfg.Name, err)
	}
	return consumer, nil
}

// PublishMsg publishes msg to JetStream and waits for the stream ack. The
// batch id header, when present, doubles as the Nats-Msg-Id so that a
// retried publish is stored once.
func (c *JetStreamClient) PublishMsg(ctx context.Context, msg *messaging.Message) error {
	var opts []jetstream.PublishOpt
	if id := msg.Metadata[messaging.HeaderBatchID]; id != "" {
		opts = append(opts, jetstream.WithMsgID(id))
	}
	if _, err := c.js.PublishMsg(ctx, toNATS(msg), opts...); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", msg.Subject, err)
	}
	return nil
}

// Consume runs handler for every message of the durable consumer until ctx
// is cancelled or the returned stop function is called. Up to
// cfg.MaxAckPending handlers run concurrently; stop waits for them.
func (c *JetStreamClient) Consume(ctx context.Context, streamName string, cfg ConsumerConfig, handler messaging.MessageHandler) (func(), error) {
	consumer, err := c.CreateOrUpdateConsumer(ctx, streamName, cfg)
	if err != nil {
		return nil, err
	}

	consumeCtx, cancel := context.WithCancel(ctx)
	pool := newHandlerPool(cfg.MaxAckPending)
	cons, err := consumer.Consume(func(msg jetstream.Msg) {
		m := &messaging.Message{
			Subject: msg.Subject(),
			Data:    msg.Data(),
		}
		if meta, err := msg.Metadata(); err == nil {
			m.Timestamp = meta.Timestamp
			m.NumDelivered = meta.NumDelivered
		}
		if headers := msg.Headers(); len(headers) > 0 {
			m.Metadata = make(map[string]string, len(headers))
			for k := range headers {
				m.Metadata[k] = headers.Get(k)
			}
		}

		started := pool.Go(consumeCtx, func() {
			c.settle(msg, handler(consumeCtx, m), cfg.NakDelay)
		})
		if !started {
			_ = msg.NakWithDelay(cfg.NakDelay)
		}
	}, jetstream.PullMaxMessages(max(cfg.MaxAckPending, 1)))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	return func() {
		cancel()
		cons.Stop()
		pool.Close()
	}, nil
}

// settle acks, terminates or naks msg according to the handler result.
func (c *JetStreamClient) settle(msg jetstream.Msg, err error, nakDelay time.Duration) {
	var ackErr error
	switch {
	case err == nil:
		ackErr = msg.Ack()
	case messaging.IsPermanent(err):
		c.logger.Warn("terminating undeliverable message", slog.String("subject", msg.Subject()), logging.Error(err))
		ackErr = msg.TermWithReason(err.Error())
	default:
		c.logger.Warn("message processing failed, requesting redelivery", slog.String("subject", msg.Subject()), logging.Error(err))
		ackErr = msg.NakWithDelay(nakDelay)
	}
	if ackErr != nil && !errors.Is(ackErr, nats.ErrConnectionClosed) {
		c.logger.Error("failed to settle message", slog.String("subject", msg.Subject()), logging.Error(ackErr))
	}
}
