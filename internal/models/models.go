package models

import "time"

// Log levels accepted for LogEvent.Level.
const (
	LevelDebug    = "DEBUG"
	LevelInfo     = "INFO"
	LevelWarn     = "WARN"
	LevelError    = "ERROR"
	LevelCritical = "CRITICAL"
)

// Alert severities.
const (
	SeverityInfo     = "info"
	SeverityWarn     = "warn"
	SeverityCritical = "critical"
)

// Notification channels the dispatcher knows how to deliver to.
const (
	ChannelSlack = "slack"
	ChannelEmail = "email"
)

// ValidLevels lists the accepted log levels in ascending order of severity.
var ValidLevels = []string{LevelDebug, LevelInfo, LevelWarn, LevelError, LevelCritical}

// IsValidLevel reports whether level is one of ValidLevels.
func IsValidLevel(level string) bool {
	for _, l := range ValidLevels {
		if l == level {
			return true
		}
	}
	return false
}

// IsErrorLevel reports whether level counts towards the error rate.
func IsErrorLevel(level string) bool {
	return level == LevelError || level == LevelCritical
}

// Service is a monitored service. Rows are created on first reference and
// never deleted by the pipeline.
type Service struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// LogEvent is a single immutable log record.
type LogEvent struct {
	ID         int64                  `json:"id"`
	ServiceID  int64                  `json:"service_id"`
	Service    string                 `json:"service,omitempty"`
	Timestamp  time.Time              `json:"ts"`
	Level      string                 `json:"level"`
	Message    string                 `json:"message"`
	LatencyMs  *int                   `json:"latency_ms,omitempty"`
	StatusCode *int                   `json:"status_code,omitempty"`
	Meta       map[string]interface{} `json:"meta"`
	CreatedAt  time.Time              `json:"created_at,omitempty"`
}

// MetricPoint is unique on (ServiceID, Timestamp); re-ingesting the same key
// replaces the row.
type MetricPoint struct {
	ID           int64     `json:"id,omitempty"`
	ServiceID    int64     `json:"service_id"`
	Timestamp    time.Time `json:"ts"`
	TPS          float64   `json:"tps"`
	ErrorRate    float64   `json:"error_rate"`
	P95LatencyMs int       `json:"p95_latency_ms"`
}

// AlertEvent records one successful delivery of an alert on one channel.
// DedupeKey is only unique within the dedup window.
type AlertEvent struct {
	ID        int64     `json:"id"`
	ServiceID int64     `json:"service_id"`
	Service   string    `json:"service,omitempty"`
	Timestamp time.Time `json:"ts"`
	Channel   string    `json:"channel"`
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
	DedupeKey string    `json:"dedupe_key"`
}

// KPISnapshot is the health of one service at one point in time. It is never
// cached beyond a single pipeline pass.
type KPISnapshot struct {
	Service      string    `json:"service"`
	ServiceID    int64     `json:"service_id"`
	Timestamp    time.Time `json:"ts"`
	ErrorRate    float64   `json:"error_rate"`
	P95LatencyMs int       `json:"p95_latency_ms"`
	TPS          float64   `json:"tps"`
	LogCount     int       `json:"log_count"`
	MetricCount  int       `json:"metric_count"`
}

// MetricPoint materializes the snapshot as a metric row.
func (s *KPISnapshot) MetricPoint() *MetricPoint {
	return &MetricPoint{
		ServiceID:    s.ServiceID,
		Timestamp:    s.Timestamp,
		TPS:          s.TPS,
		ErrorRate:    s.ErrorRate,
		P95LatencyMs: s.P95LatencyMs,
	}
}

// AnomalyResult is the detector's verdict for one snapshot.
type AnomalyResult struct {
	IsAnomaly bool    `json:"is_anomaly"`
	Reason    string  `json:"reason,omitempty"`
	Score     float64 `json:"score"`
}

// Trigger is a candidate alert produced by one rule.
type Trigger struct {
	Reason   string `json:"reason"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// DispatchOutcome is the result of delivering one trigger on one channel.
type DispatchOutcome struct {
	Channel   string `json:"channel"`
	Reason    string `json:"reason"`
	Severity  string `json:"severity"`
	Delivered bool   `json:"delivered"`
	AlertID   int64  `json:"alert_id,omitempty"`
}

// KPISeries is the chartable metric history of a service.
type KPISeries struct {
	Service string         `json:"service"`
	Start   time.Time      `json:"start"`
	End     time.Time      `json:"end"`
	Items   []*MetricPoint `json:"items"`
	Latest  *MetricPoint   `json:"latest"`
}
