// Package alerting turns snapshots and anomaly verdicts into delivered,
// deduplicated alerts.
package alerting

import (
	"fmt"

	"github.com/telhawk-systems/flowguard/internal/models"
)

// Trigger reasons.
const (
	ReasonErrorRate = "error_rate_threshold"
	ReasonLatency   = "latency_threshold"
	ReasonAnomaly   = "anomaly_detected"
)

// Thresholds are the static limits the evaluator checks.
type Thresholds struct {
	ErrorRate    float64
	P95LatencyMs int
}

// EvaluateTriggers applies the error-rate, latency and anomaly rules
// independently, in that order. Any subset may fire.
func EvaluateTriggers(snap *models.KPISnapshot, anomaly models.AnomalyResult, th Thresholds) []models.Trigger {
	var triggers []models.Trigger

	if snap.ErrorRate >= th.ErrorRate {
		severity := models.SeverityWarn
		if snap.ErrorRate >= th.ErrorRate*2 {
			severity = models.SeverityCritical
		}
		triggers = append(triggers, models.Trigger{
			Reason:   ReasonErrorRate,
			Severity: severity,
			Message:  fmt.Sprintf("Error rate %.2f%% exceeded threshold", snap.ErrorRate*100),
		})
	}

	if snap.P95LatencyMs >= th.P95LatencyMs {
		severity := models.SeverityWarn
		if float64(snap.P95LatencyMs) >= float64(th.P95LatencyMs)*1.5 {
			severity = models.SeverityCritical
		}
		triggers = append(triggers, models.Trigger{
			Reason:   ReasonLatency,
			Severity: severity,
			Message:  fmt.Sprintf("p95 latency %dms exceeded threshold", snap.P95LatencyMs),
		})
	}

	if anomaly.IsAnomaly {
		msg := anomaly.Reason
		if msg == "" {
			msg = "Anomaly detected"
		}
		triggers = append(triggers, models.Trigger{
			Reason:   ReasonAnomaly,
			Severity: models.SeverityWarn,
			Message:  msg,
		})
	}

	return triggers
}
