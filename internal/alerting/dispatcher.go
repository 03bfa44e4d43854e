package alerting

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/telhawk-systems/flowguard/internal/logging"
	"github.com/telhawk-systems/flowguard/internal/metrics"
	"github.com/telhawk-systems/flowguard/internal/models"
	"github.com/telhawk-systems/flowguard/internal/notification"
)

// Notifier delivers rendered alerts on named channels.
type Notifier interface {
	Supports(channel string) bool
	Send(ctx context.Context, channel string, msg *notification.Message) bool
}

// AlertRecorder persists delivered alerts.
type AlertRecorder interface {
	InsertAlertEvent(ctx context.Context, a *models.AlertEvent) error
}

// Dispatcher fans an admitted trigger out to the configured channels.
type Dispatcher struct {
	notifier Notifier
	alerts   AlertRecorder
	now      func() time.Time
	logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(notifier Notifier, alerts AlertRecorder, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		notifier: notifier,
		alerts:   alerts,
		now:      time.Now,
		logger:   logging.OrDefault(logger),
	}
}

// WithClock overrides the time source.
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// Dispatch sends trigger on each channel in order. Every successful
// delivery is recorded as one AlertEvent carrying dedupeKey; failures are
// reported in the outcome and not retried.
func (d *Dispatcher) Dispatch(ctx context.Context, svc *models.Service, snap *models.KPISnapshot, trigger models.Trigger, dedupeKey string, channels []string) []models.DispatchOutcome {
	logger := logging.FromContext(ctx, d.logger).With(logging.Service(svc.Name), logging.Reason(trigger.Reason))
	msg := notification.NewMessage(snap, trigger)

	outcomes := make([]models.DispatchOutcome, 0, len(channels))
	for _, channel := range channels {
		channel = strings.ToLower(strings.TrimSpace(channel))
		outcome := models.DispatchOutcome{
			Channel:  channel,
			Reason:   trigger.Reason,
			Severity: trigger.Severity,
		}

		if !d.notifier.Supports(channel) {
			logger.Warn("unsupported alert channel", logging.Channel(channel))
			metrics.DispatchTotal.WithLabelValues(channel, "unsupported").Inc()
			outcomes = append(outcomes, outcome)
			continue
		}

		if !d.notifier.Send(ctx, channel, msg) {
			metrics.DispatchTotal.WithLabelValues(channel, "failed").Inc()
			outcomes = append(outcomes, outcome)
			continue
		}

		outcome.Delivered = true
		metrics.DispatchTotal.WithLabelValues(channel, "delivered").Inc()

		event := &models.AlertEvent{
			ServiceID: svc.ID,
			Service:   svc.Name,
			Timestamp: d.now().UTC(),
			Channel:   channel,
			Severity:  trigger.Severity,
			Message:   trigger.Message,
			DedupeKey: dedupeKey,
		}
		if err := d.alerts.InsertAlertEvent(ctx, event); err != nil {
			logger.Error("failed to record delivered alert", logging.Channel(channel), logging.Error(err))
		} else {
			outcome.AlertID = event.ID
			logger.Info("alert dispatched", logging.Channel(channel), logging.DedupeKey(dedupeKey))
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}
