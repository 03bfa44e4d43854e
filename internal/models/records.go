package models

import "time"

// LogRecord is a validated log entry as delivered to the pipeline.
type LogRecord struct {
	Service    string                 `json:"service"`
	Timestamp  time.Time              `json:"ts"`
	Level      string                 `json:"level"`
	Message    string                 `json:"message"`
	LatencyMs  *int                   `json:"latency_ms,omitempty"`
	StatusCode *int                   `json:"status_code,omitempty"`
	Meta       map[string]interface{} `json:"meta,omitempty"`
}

// MetricRecord is a validated metric sample as delivered to the pipeline.
type MetricRecord struct {
	Service      string    `json:"service"`
	Timestamp    time.Time `json:"ts"`
	TPS          float64   `json:"tps"`
	ErrorRate    float64   `json:"error_rate"`
	P95LatencyMs int       `json:"p95_latency_ms"`
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int {
	return &v
}
