// Package worker consumes batches from the broker and runs them through the
// pipeline.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/telhawk-systems/flowguard/internal/logging"
	"github.com/telhawk-systems/flowguard/internal/messaging"
	natsclient "github.com/telhawk-systems/flowguard/internal/messaging/nats"
	"github.com/telhawk-systems/flowguard/internal/pipeline"
)

// BatchProcessor runs one batch through the pipeline.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, batch *pipeline.Batch) (*pipeline.BatchSummary, error)
}

// Consumer delivers messages from a durable stream consumer.
type Consumer interface {
	Consume(ctx context.Context, stream string, cfg natsclient.ConsumerConfig, handler messaging.MessageHandler) (func(), error)
}

// Worker adapts broker deliveries to the pipeline.
type Worker struct {
	processor BatchProcessor
	results   messaging.Publisher
	logger    *slog.Logger
}

// New creates a Worker. results may be nil to skip publishing summaries.
func New(processor BatchProcessor, results messaging.Publisher, logger *slog.Logger) *Worker {
	return &Worker{
		processor: processor,
		results:   results,
		logger:    logging.OrDefault(logger).With(slog.String("component", "worker")),
	}
}

// Run consumes batches until ctx is cancelled.
func (w *Worker) Run(ctx context.Context, consumer Consumer, cfg natsclient.ConsumerConfig) error {
	stop, err := consumer.Consume(ctx, messaging.StreamBatches, cfg, w.HandleMessage)
	if err != nil {
		return fmt.Errorf("failed to start batch consumer: %w", err)
	}
	defer stop()

	w.logger.Info("worker started",
		slog.String("stream", messaging.StreamBatches),
		slog.String("consumer", cfg.Name),
		slog.Int("max_ack_pending", cfg.MaxAckPending))

	<-ctx.Done()
	w.logger.Info("worker stopping")
	return nil
}

// HandleMessage decodes a batch and processes it. Undecodable payloads are
// marked permanent; pipeline errors are returned for redelivery.
func (w *Worker) HandleMessage(ctx context.Context, msg *messaging.Message) error {
	var batch pipeline.Batch
	if err := json.Unmarshal(msg.Data, &batch); err != nil {
		w.logger.Error("failed to decode batch", slog.String("subject", msg.Subject), logging.Error(err))
		return messaging.Permanent(fmt.Errorf("decode batch: %w", err))
	}

	if batch.ID == "" {
		batch.ID = msg.Metadata[messaging.HeaderBatchID]
	}
	if batch.ID == "" {
		batch.ID = uuid.NewString()
	}
	if batch.Kind == "" {
		batch.Kind = kindFromSubject(msg.Subject)
	}
	if batch.Kind != pipeline.KindLogs && batch.Kind != pipeline.KindMetrics {
		return messaging.Permanent(fmt.Errorf("unknown batch kind %q", batch.Kind))
	}

	ctx = logging.ContextWithBatchID(ctx, batch.ID)
	logger := logging.FromContext(ctx, w.logger)
	if msg.NumDelivered > 1 {
		logger.Info("processing redelivered batch", slog.Uint64("delivery", msg.NumDelivered))
	}

	summary, err := w.processor.ProcessBatch(ctx, &batch)
	if err != nil {
		return fmt.Errorf("process batch %s: %w", batch.ID, err)
	}

	if w.results != nil {
		data, err := json.Marshal(summary)
		if err != nil {
			logger.Error("failed to encode batch summary", logging.Error(err))
			return nil
		}
		if err := w.results.Publish(ctx, messaging.SubjectResultsBatch, data); err != nil {
			logger.Warn("failed to publish batch summary", logging.Error(err))
		}
	}
	return nil
}

func kindFromSubject(subject string) string {
	switch subject {
	case messaging.SubjectBatchesLogs:
		return pipeline.KindLogs
	case messaging.SubjectBatchesMetrics:
		return pipeline.KindMetrics
	}
	return ""
}
