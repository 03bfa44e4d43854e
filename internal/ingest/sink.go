// Package ingest hands validated batches to the pipeline, either through the
// message broker or by processing them in-process.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/telhawk-systems/flowguard/internal/logging"
	"github.com/telhawk-systems/flowguard/internal/messaging"
	"github.com/telhawk-systems/flowguard/internal/models"
	"github.com/telhawk-systems/flowguard/internal/pipeline"
)

// Sink accepts batches for processing.
type Sink interface {
	Submit(ctx context.Context, batch *pipeline.Batch) error
}

// NewLogBatch wraps records in a batch with a fresh id.
func NewLogBatch(records []models.LogRecord) *pipeline.Batch {
	return &pipeline.Batch{ID: uuid.NewString(), Kind: pipeline.KindLogs, Logs: records}
}

// NewMetricBatch wraps records in a batch with a fresh id.
func NewMetricBatch(records []models.MetricRecord) *pipeline.Batch {
	return &pipeline.Batch{ID: uuid.NewString(), Kind: pipeline.KindMetrics, Metrics: records}
}

// QueueSink publishes batches to the batches stream.
type QueueSink struct {
	publisher messaging.Publisher
}

// NewQueueSink creates a QueueSink.
func NewQueueSink(publisher messaging.Publisher) *QueueSink {
	return &QueueSink{publisher: publisher}
}

// Submit publishes batch on the subject for its kind.
func (s *QueueSink) Submit(ctx context.Context, batch *pipeline.Batch) error {
	subject := messaging.BatchSubject(batch.Kind)
	if subject == "" {
		return fmt.Errorf("unknown batch kind %q", batch.Kind)
	}

	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to encode batch: %w", err)
	}

	return s.publisher.PublishMsg(ctx, &messaging.Message{
		Subject:  subject,
		Data:     data,
		Metadata: map[string]string{messaging.HeaderBatchID: batch.ID},
	})
}

// Processor runs a batch through the pipeline.
type Processor interface {
	ProcessBatch(ctx context.Context, batch *pipeline.Batch) (*pipeline.BatchSummary, error)
}

// InlineSink processes batches synchronously in the calling goroutine. It
// backs single-process deployments without a broker.
type InlineSink struct {
	processor Processor
	logger    *slog.Logger
}

// NewInlineSink creates an InlineSink.
func NewInlineSink(processor Processor, logger *slog.Logger) *InlineSink {
	return &InlineSink{processor: processor, logger: logging.OrDefault(logger)}
}

// Submit processes batch and discards the summary after logging it.
func (s *InlineSink) Submit(ctx context.Context, batch *pipeline.Batch) error {
	summary, err := s.processor.ProcessBatch(ctx, batch)
	if err != nil {
		return fmt.Errorf("failed to process batch %s: %w", batch.ID, err)
	}
	logging.FromContext(ctx, s.logger).Debug("batch processed inline",
		logging.BatchID(batch.ID), slog.String("status", summary.Status))
	return nil
}
