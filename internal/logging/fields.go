package logging

import "log/slog"

// Common field names for consistent logging across components.
const (
	FieldService   = "service"
	FieldBatchID   = "batch_id"
	FieldRequestID = "request_id"
	FieldKind      = "kind"
	FieldChannel   = "channel"
	FieldReason    = "reason"
	FieldSeverity  = "severity"
	FieldDedupeKey = "dedupe_key"
	FieldDuration  = "duration_ms"
	FieldError     = "error"
	FieldCount     = "count"
)

// Service returns a slog attribute for the service name.
func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

// BatchID returns a slog attribute for a batch ID.
func BatchID(id string) slog.Attr {
	return slog.String(FieldBatchID, id)
}

// Kind returns a slog attribute for a batch kind.
func Kind(kind string) slog.Attr {
	return slog.String(FieldKind, kind)
}

// Channel returns a slog attribute for a notification channel.
func Channel(name string) slog.Attr {
	return slog.String(FieldChannel, name)
}

// Reason returns a slog attribute for a trigger reason.
func Reason(reason string) slog.Attr {
	return slog.String(FieldReason, reason)
}

// DedupeKey returns a slog attribute for an alert dedupe key.
func DedupeKey(key string) slog.Attr {
	return slog.String(FieldDedupeKey, key)
}

// Duration returns a slog attribute for duration in milliseconds.
func Duration(ms int64) slog.Attr {
	return slog.Int64(FieldDuration, ms)
}

// Count returns a slog attribute for a record count.
func Count(n int) slog.Attr {
	return slog.Int(FieldCount, n)
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}
