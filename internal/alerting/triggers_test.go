package alerting

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/flowguard/internal/models"
)

var defaultThresholds = Thresholds{ErrorRate: 0.05, P95LatencyMs: 500}

func TestEvaluateTriggers_ErrorRateBoundaries(t *testing.T) {
	tests := []struct {
		name      string
		errorRate float64
		wantFire  bool
		severity  string
	}{
		{name: "below threshold", errorRate: 0.0499, wantFire: false},
		{name: "exactly threshold", errorRate: 0.05, wantFire: true, severity: models.SeverityWarn},
		{name: "between threshold and double", errorRate: 0.08, wantFire: true, severity: models.SeverityWarn},
		{name: "exactly double", errorRate: 0.10, wantFire: true, severity: models.SeverityCritical},
		{name: "far above", errorRate: 0.3, wantFire: true, severity: models.SeverityCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			triggers := EvaluateTriggers(&models.KPISnapshot{ErrorRate: tt.errorRate}, models.AnomalyResult{}, defaultThresholds)
			if !tt.wantFire {
				assert.Empty(t, triggers)
				return
			}
			require.Len(t, triggers, 1)
			assert.Equal(t, ReasonErrorRate, triggers[0].Reason)
			assert.Equal(t, tt.severity, triggers[0].Severity)
		})
	}
}

func TestEvaluateTriggers_LatencyBoundaries(t *testing.T) {
	tests := []struct {
		name     string
		p95      int
		wantFire bool
		severity string
	}{
		{name: "below threshold", p95: 499, wantFire: false},
		{name: "exactly threshold", p95: 500, wantFire: true, severity: models.SeverityWarn},
		{name: "just below 1.5x", p95: 749, wantFire: true, severity: models.SeverityWarn},
		{name: "exactly 1.5x", p95: 750, wantFire: true, severity: models.SeverityCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			triggers := EvaluateTriggers(&models.KPISnapshot{P95LatencyMs: tt.p95}, models.AnomalyResult{}, defaultThresholds)
			if !tt.wantFire {
				assert.Empty(t, triggers)
				return
			}
			require.Len(t, triggers, 1)
			assert.Equal(t, ReasonLatency, triggers[0].Reason)
			assert.Equal(t, tt.severity, triggers[0].Severity)
		})
	}
}

func TestEvaluateTriggers_Messages(t *testing.T) {
	snap := &models.KPISnapshot{ErrorRate: 0.3, P95LatencyMs: 800}
	triggers := EvaluateTriggers(snap, models.AnomalyResult{IsAnomaly: true, Reason: "error_rate spike, latency outlier"}, defaultThresholds)

	require.Len(t, triggers, 3)
	assert.Equal(t, []string{ReasonErrorRate, ReasonLatency, ReasonAnomaly},
		[]string{triggers[0].Reason, triggers[1].Reason, triggers[2].Reason})
	assert.Equal(t, "Error rate 30.00% exceeded threshold", triggers[0].Message)
	assert.Equal(t, "p95 latency 800ms exceeded threshold", triggers[1].Message)
	assert.Equal(t, "error_rate spike, latency outlier", triggers[2].Message)
	assert.Equal(t, models.SeverityWarn, triggers[2].Severity)
}

func TestEvaluateTriggers_AnomalyWithoutReason(t *testing.T) {
	triggers := EvaluateTriggers(&models.KPISnapshot{}, models.AnomalyResult{IsAnomaly: true}, defaultThresholds)
	require.Len(t, triggers, 1)
	assert.Equal(t, "Anomaly detected", triggers[0].Message)
}

func TestEvaluateTriggers_Healthy(t *testing.T) {
	triggers := EvaluateTriggers(&models.KPISnapshot{ErrorRate: 0.01, P95LatencyMs: 120, TPS: 30}, models.AnomalyResult{}, defaultThresholds)
	assert.Empty(t, triggers)
}
