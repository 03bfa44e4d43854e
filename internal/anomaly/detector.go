// Package anomaly scores KPI snapshots against a bounded per-service history.
package anomaly

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/telhawk-systems/flowguard/internal/logging"
	"github.com/telhawk-systems/flowguard/internal/metrics"
	"github.com/telhawk-systems/flowguard/internal/models"
)

var (
	ErrModelFit         = errors.New("anomaly model fit failed")
	ErrInsufficientData = errors.New("insufficient data")
)

// Options tunes the detector.
type Options struct {
	WindowSize int
	MinPoints  int
	ZThreshold float64
	Forest     ForestConfig
}

// DefaultOptions returns the stock detector settings.
func DefaultOptions() Options {
	return Options{
		WindowSize: 64,
		MinPoints:  12,
		ZThreshold: 3,
		Forest:     DefaultForestConfig(),
	}
}

// Detector owns the per-service windows and produces anomaly verdicts.
type Detector struct {
	store    WindowStore
	newModel ModelFactory
	opts     Options
	locks    *keyedMutex
	logger   *slog.Logger
}

// NewDetector creates a Detector backed by store.
func NewDetector(store WindowStore, opts Options, logger *slog.Logger) *Detector {
	return &Detector{
		store:    store,
		newModel: ForestFactory(opts.Forest),
		opts:     opts,
		locks:    newKeyedMutex(),
		logger:   logging.OrDefault(logger),
	}
}

// WithModel replaces the outlier model.
func (d *Detector) WithModel(factory ModelFactory) *Detector {
	d.newModel = factory
	return d
}

// outcome is one of insufficientHistory, modelVerdict or fallbackVerdict.
type outcome interface {
	source() string
}

type insufficientHistory struct{}

type modelVerdict struct {
	score   float64
	outlier bool
}

type fallbackVerdict struct {
	score   float64
	anomaly bool
}

func (insufficientHistory) source() string { return "cold" }
func (modelVerdict) source() string        { return "model" }
func (fallbackVerdict) source() string     { return "zscore" }

// Evaluate appends the snapshot to its service window and scores it. It
// always returns a verdict; model and store failures degrade to a
// statistical check or to "no anomaly" and are only logged.
func (d *Detector) Evaluate(ctx context.Context, service string, snap *models.KPISnapshot) models.AnomalyResult {
	unlock := d.locks.Lock(service)
	defer unlock()

	logger := logging.FromContext(ctx, d.logger).With(logging.Service(service))
	vec := Vector{snap.ErrorRate, float64(snap.P95LatencyMs), snap.TPS}

	window, err := d.store.Append(ctx, service, vec, d.opts.WindowSize)
	if err != nil {
		logger.Warn("detector window unavailable, skipping detection", logging.Error(err))
		metrics.DetectionDegraded.WithLabelValues("store").Inc()
		return models.AnomalyResult{}
	}

	out := d.classify(logger, window, vec)

	var result models.AnomalyResult
	switch o := out.(type) {
	case insufficientHistory:
	case modelVerdict:
		result.Score = o.score
		result.IsAnomaly = o.outlier
	case fallbackVerdict:
		result.Score = o.score
		result.IsAnomaly = o.anomaly
	}
	if result.IsAnomaly {
		result.Reason = buildReason(snap)
	}

	metrics.DetectorVerdicts.WithLabelValues(out.source(), boolLabel(result.IsAnomaly)).Inc()
	return result
}

func (d *Detector) classify(logger *slog.Logger, window []Vector, v Vector) outcome {
	if len(window) < d.opts.MinPoints {
		return insufficientHistory{}
	}

	model := d.newModel()
	if err := model.Fit(window); err != nil {
		logger.Warn("outlier model fit failed, falling back to z-score", logging.Error(err))
		metrics.DetectionDegraded.WithLabelValues("model_fit").Inc()

		score := maxAbs(zScores(window, v))
		return fallbackVerdict{score: score, anomaly: score >= d.opts.ZThreshold}
	}

	score, outlier := model.Decision(v)
	return modelVerdict{score: score, outlier: outlier}
}

func buildReason(snap *models.KPISnapshot) string {
	var parts []string
	if snap.ErrorRate > 0.01 {
		parts = append(parts, "error_rate spike")
	}
	if snap.P95LatencyMs > 0 {
		parts = append(parts, "latency outlier")
	}
	if len(parts) == 0 {
		parts = append(parts, "traffic anomaly")
	}
	return strings.Join(parts, ", ")
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
