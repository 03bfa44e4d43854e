// Package validator checks raw ingestion payloads and converts them into
// pipeline records.
package validator

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/telhawk-systems/flowguard/internal/models"
)

var (
	// ErrInvalidPayload is returned when the body is not a JSON array.
	ErrInvalidPayload = errors.New("payload must be a JSON array")
	// ErrEmptyBatch is returned when no record survived validation.
	ErrEmptyBatch = errors.New("no valid records in batch")
)

// ValidationError describes a rejected record.
type ValidationError struct {
	Index   int    `json:"index"`
	Message string `json:"error"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("record %d: %s", e.Index, e.Message)
}

// Allowlist restricts the services accepted for ingestion. Matching is
// case-insensitive; an empty Allowlist accepts every service.
type Allowlist map[string]struct{}

// NewAllowlist builds an Allowlist from names, ignoring blanks.
func NewAllowlist(names []string) Allowlist {
	allow := make(Allowlist, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n != "" {
			allow[n] = struct{}{}
		}
	}
	return allow
}

// Allows reports whether service may be ingested.
func (a Allowlist) Allows(service string) bool {
	if len(a) == 0 {
		return true
	}
	_, ok := a[strings.ToLower(service)]
	return ok
}

// naive layouts are interpreted as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ValidateLogBatch validates a JSON array of log records. Invalid records are
// reported by index; the error is non-nil only when the payload is malformed
// or nothing valid remains.
func ValidateLogBatch(data []byte, allow Allowlist) ([]models.LogRecord, []ValidationError, error) {
	raw, err := decodeArray(data)
	if err != nil {
		return nil, nil, err
	}

	records := make([]models.LogRecord, 0, len(raw))
	var errs []ValidationError
	for idx, entry := range raw {
		rec, msg := validateLog(entry, allow)
		if msg != "" {
			errs = append(errs, ValidationError{Index: idx, Message: msg})
			continue
		}
		records = append(records, rec)
	}

	if len(records) == 0 {
		return nil, errs, ErrEmptyBatch
	}
	return records, errs, nil
}

// ValidateMetricBatch validates a JSON array of metric records.
func ValidateMetricBatch(data []byte, allow Allowlist) ([]models.MetricRecord, []ValidationError, error) {
	raw, err := decodeArray(data)
	if err != nil {
		return nil, nil, err
	}

	records := make([]models.MetricRecord, 0, len(raw))
	var errs []ValidationError
	for idx, entry := range raw {
		rec, msg := validateMetric(entry, allow)
		if msg != "" {
			errs = append(errs, ValidationError{Index: idx, Message: msg})
			continue
		}
		records = append(records, rec)
	}

	if len(records) == 0 {
		return nil, errs, ErrEmptyBatch
	}
	return records, errs, nil
}

func decodeArray(data []byte) ([]json.RawMessage, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, ErrInvalidPayload
	}
	return raw, nil
}

func decodeObject(entry json.RawMessage) (map[string]interface{}, bool) {
	dec := json.NewDecoder(bytes.NewReader(entry))
	dec.UseNumber()
	var obj map[string]interface{}
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

func checkService(obj map[string]interface{}, allow Allowlist) (string, string) {
	service := strings.TrimSpace(stringValue(obj["service"]))
	if service == "" {
		return "", "missing service"
	}
	if !allow.Allows(service) {
		return "", fmt.Sprintf("service %q not in allowlist", service)
	}
	return service, ""
}

func validateLog(entry json.RawMessage, allow Allowlist) (models.LogRecord, string) {
	var rec models.LogRecord

	obj, ok := decodeObject(entry)
	if !ok {
		return rec, "entry must be an object"
	}

	service, msg := checkService(obj, allow)
	if msg != "" {
		return rec, msg
	}

	level := strings.ToUpper(strings.TrimSpace(stringValue(obj["level"])))
	if !models.IsValidLevel(level) {
		return rec, fmt.Sprintf("invalid level %q", level)
	}

	message := strings.TrimSpace(stringValue(obj["message"]))
	if message == "" {
		return rec, "missing message"
	}

	ts, err := parseTimestamp(obj["ts"])
	if err != nil {
		return rec, err.Error()
	}

	latency, err := optionalInt(obj["latency_ms"])
	if err != nil || isNegative(latency) {
		return rec, "invalid latency_ms"
	}
	status, err := optionalInt(obj["status_code"])
	if err != nil || isNegative(status) {
		return rec, "invalid status_code"
	}

	meta, _ := obj["meta"].(map[string]interface{})
	if meta == nil {
		meta = map[string]interface{}{}
	}

	return models.LogRecord{
		Service:    service,
		Timestamp:  ts,
		Level:      level,
		Message:    message,
		LatencyMs:  latency,
		StatusCode: status,
		Meta:       meta,
	}, ""
}

func validateMetric(entry json.RawMessage, allow Allowlist) (models.MetricRecord, string) {
	var rec models.MetricRecord

	obj, ok := decodeObject(entry)
	if !ok {
		return rec, "entry must be an object"
	}

	service, msg := checkService(obj, allow)
	if msg != "" {
		return rec, msg
	}

	ts, err := parseTimestamp(obj["ts"])
	if err != nil {
		return rec, err.Error()
	}

	tps, err := floatValue(obj["tps"])
	if err != nil || tps < 0 {
		return rec, "invalid tps"
	}
	errorRate, err := floatValue(obj["error_rate"])
	if err != nil {
		return rec, "invalid error_rate"
	}
	if errorRate < 0 || errorRate > 1 {
		return rec, "error_rate must be between 0 and 1"
	}
	latency, err := optionalInt(obj["p95_latency_ms"])
	if err != nil || latency == nil || *latency < 0 {
		return rec, "invalid p95_latency_ms"
	}

	return models.MetricRecord{
		Service:      service,
		Timestamp:    ts,
		TPS:          tps,
		ErrorRate:    errorRate,
		P95LatencyMs: *latency,
	}, ""
}

// parseTimestamp accepts RFC 3339 strings; values without an offset are
// taken as UTC. The result is always in UTC.
func parseTimestamp(v interface{}) (time.Time, error) {
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return time.Time{}, errors.New("missing or invalid ts")
	}
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

func stringValue(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

var errOutOfRange = errors.New("value out of range")

// optionalInt coerces numbers and numeric strings, truncating fractions of
// JSON numbers. nil means absent.
func optionalInt(v interface{}) (*int, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case json.Number:
		if n, err := strconv.Atoi(x.String()); err == nil {
			return models.IntPtr(n), nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, err
		}
		// float64(math.MaxInt) rounds up to 2^63, so the upper bound is exclusive.
		if math.IsNaN(f) || f >= float64(math.MaxInt) || f < float64(math.MinInt) {
			return nil, errOutOfRange
		}
		return models.IntPtr(int(f)), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return nil, err
		}
		return models.IntPtr(n), nil
	default:
		return nil, fmt.Errorf("unsupported type %T", v)
	}
}

func isNegative(n *int) bool {
	return n != nil && *n < 0
}

// floatValue coerces numbers and numeric strings. NaN and infinities are
// rejected.
func floatValue(v interface{}) (float64, error) {
	var (
		f   float64
		err error
	)
	switch x := v.(type) {
	case json.Number:
		f, err = x.Float64()
	case string:
		f, err = strconv.ParseFloat(strings.TrimSpace(x), 64)
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errOutOfRange
	}
	return f, nil
}
