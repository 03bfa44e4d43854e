package anomaly

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/telhawk-systems/flowguard/internal/kpi"
)

// Model is an unsupervised outlier model refit on every evaluation.
type Model interface {
	Fit(window []Vector) error
	// Decision scores v against the fitted model. Negative scores are
	// outliers.
	Decision(v Vector) (score float64, outlier bool)
}

// ModelFactory creates a fresh, unfitted Model.
type ModelFactory func() Model

// ForestConfig tunes the isolation forest.
type ForestConfig struct {
	Trees         int
	MaxSamples    int
	Contamination float64
	Seed          int64
}

// DefaultForestConfig matches the detector defaults.
func DefaultForestConfig() ForestConfig {
	return ForestConfig{Trees: 50, MaxSamples: 256, Contamination: 0.1, Seed: 42}
}

// IsolationForest isolates points with random axis-aligned splits; outliers
// need fewer splits. Scores follow the Liu et al. formulation with the
// decision offset set at the contamination percentile of training scores.
type IsolationForest struct {
	cfg    ForestConfig
	trees  []*isoNode
	psi    int
	offset float64
}

// NewIsolationForest returns an unfitted forest.
func NewIsolationForest(cfg ForestConfig) *IsolationForest {
	if cfg.Trees <= 0 {
		cfg.Trees = 50
	}
	if cfg.MaxSamples <= 0 {
		cfg.MaxSamples = 256
	}
	return &IsolationForest{cfg: cfg}
}

// ForestFactory returns a ModelFactory building forests from cfg.
func ForestFactory(cfg ForestConfig) ModelFactory {
	return func() Model { return NewIsolationForest(cfg) }
}

type isoNode struct {
	feature     int
	split       float64
	left, right *isoNode
	size        int // leaf only
}

func (n *isoNode) leaf() bool { return n.left == nil }

// Fit builds the forest over window.
func (f *IsolationForest) Fit(window []Vector) error {
	if len(window) < 2 {
		return fmt.Errorf("%w: %w", ErrModelFit, ErrInsufficientData)
	}
	for _, v := range window {
		for _, x := range v {
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return fmt.Errorf("%w: non-finite feature value", ErrModelFit)
			}
		}
	}
	if degenerate(window) {
		return fmt.Errorf("%w: all points identical", ErrModelFit)
	}

	rng := rand.New(rand.NewSource(f.cfg.Seed))
	f.psi = min(f.cfg.MaxSamples, len(window))
	heightLimit := int(math.Ceil(math.Log2(float64(f.psi))))

	f.trees = make([]*isoNode, f.cfg.Trees)
	sample := make([]Vector, f.psi)
	for t := range f.trees {
		perm := rng.Perm(len(window))
		for i := 0; i < f.psi; i++ {
			sample[i] = window[perm[i]]
		}
		f.trees[t] = buildTree(rng, append([]Vector(nil), sample...), 0, heightLimit)
	}

	scores := make([]float64, len(window))
	for i, v := range window {
		scores[i] = f.scoreSample(v)
	}
	f.offset = kpi.Percentile(scores, 100*f.cfg.Contamination)
	return nil
}

// Decision returns score_samples(v) - offset.
func (f *IsolationForest) Decision(v Vector) (float64, bool) {
	score := f.scoreSample(v) - f.offset
	return score, score < 0
}

// scoreSample is the negated anomaly score, in [-1, 0); lower is more
// anomalous.
func (f *IsolationForest) scoreSample(v Vector) float64 {
	var total float64
	for _, root := range f.trees {
		total += pathLength(root, v, 0)
	}
	mean := total / float64(len(f.trees))
	return -math.Pow(2, -mean/averagePathLength(f.psi))
}

func buildTree(rng *rand.Rand, points []Vector, depth, limit int) *isoNode {
	if depth >= limit || len(points) <= 1 {
		return &isoNode{size: len(points)}
	}

	// candidate features with spread in this partition
	var features []int
	var lows, highs [3]float64
	for dim := 0; dim < 3; dim++ {
		lo, hi := points[0][dim], points[0][dim]
		for _, p := range points[1:] {
			lo = math.Min(lo, p[dim])
			hi = math.Max(hi, p[dim])
		}
		lows[dim], highs[dim] = lo, hi
		if hi > lo {
			features = append(features, dim)
		}
	}
	if len(features) == 0 {
		return &isoNode{size: len(points)}
	}

	feature := features[rng.Intn(len(features))]
	split := lows[feature] + rng.Float64()*(highs[feature]-lows[feature])

	var left, right []Vector
	for _, p := range points {
		if p[feature] < split {
			left = append(left, p)
		} else {
			right = append(right, p)
		}
	}

	return &isoNode{
		feature: feature,
		split:   split,
		left:    buildTree(rng, left, depth+1, limit),
		right:   buildTree(rng, right, depth+1, limit),
	}
}

func pathLength(n *isoNode, v Vector, depth int) float64 {
	for !n.leaf() {
		if v[n.feature] < n.split {
			n = n.left
		} else {
			n = n.right
		}
		depth++
	}
	return float64(depth) + averagePathLength(n.size)
}

// averagePathLength is c(n), the mean path length of an unsuccessful BST
// search over n points.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	fn := float64(n)
	harmonic := math.Log(fn-1) + 0.5772156649015329
	return 2*harmonic - 2*(fn-1)/fn
}

func degenerate(window []Vector) bool {
	for _, v := range window[1:] {
		if v != window[0] {
			return false
		}
	}
	return true
}
