package anomaly

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// zScores returns, per dimension, the population z-score of v against
// window. A dimension with zero spread scores 0.
func zScores(window []Vector, v Vector) Vector {
	var out Vector
	if len(window) < 2 {
		return out
	}

	column := make([]float64, len(window))
	for dim := range v {
		for i, w := range window {
			column[i] = w[dim]
		}
		mean, std := stat.PopMeanStdDev(column, nil)
		if std == 0 || math.IsNaN(std) {
			continue
		}
		out[dim] = (v[dim] - mean) / std
	}
	return out
}

// maxAbs returns the largest absolute component of z.
func maxAbs(z Vector) float64 {
	var m float64
	for _, x := range z {
		if a := math.Abs(x); a > m {
			m = a
		}
	}
	return m
}
