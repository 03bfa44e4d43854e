// Package collector feeds log and metric batches into the pipeline from
// local sources: tailed files and the synthetic demo generator.
package collector

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/telhawk-systems/flowguard/internal/models"
)

// FallbackService is used for tailed lines that do not match LinePattern.
const FallbackService = "file-tail"

var (
	// LinePattern matches "service | LEVEL | message".
	LinePattern    = regexp.MustCompile(`^(?P<service>[\w-]+)\s+\|\s+(?P<level>[A-Z]+)\s+\|\s+(?P<message>.*)$`)
	latencyPattern = regexp.MustCompile(`(?i)latency(?:=|:)(\d+)ms`)
	statusPattern  = regexp.MustCompile(`(?i)status(?:=|:)(\d{3})`)
)

// ParseLogLine extracts a record from a structured line. latency=NNNms and
// status=NNN tokens in the message fill LatencyMs and StatusCode. ok is
// false when the line is not structured.
func ParseLogLine(line string, ts time.Time) (models.LogRecord, bool) {
	m := LinePattern.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return models.LogRecord{}, false
	}

	level := m[LinePattern.SubexpIndex("level")]
	if !models.IsValidLevel(level) {
		level = models.LevelInfo
	}
	message := m[LinePattern.SubexpIndex("message")]

	return models.LogRecord{
		Service:    m[LinePattern.SubexpIndex("service")],
		Timestamp:  ts.UTC(),
		Level:      level,
		Message:    message,
		LatencyMs:  extractInt(latencyPattern, message),
		StatusCode: extractInt(statusPattern, message),
		Meta:       map[string]interface{}{},
	}, true
}

// RecordFromLine parses line, falling back to an INFO record for
// FallbackService carrying the raw text.
func RecordFromLine(line string, ts time.Time) models.LogRecord {
	if rec, ok := ParseLogLine(line, ts); ok {
		return rec
	}
	return models.LogRecord{
		Service:   FallbackService,
		Timestamp: ts.UTC(),
		Level:     models.LevelInfo,
		Message:   strings.TrimSpace(line),
		Meta:      map[string]interface{}{},
	}
}

func extractInt(pattern *regexp.Regexp, text string) *int {
	m := pattern.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return nil
	}
	return &n
}
