package alignment

import (
	"math"

	"affinder/pkg/geometry"

	"gonum.org/v1/gonum/floats"
)

// Residuals returns, for each pair, the distance between src[i] and the
// destination point mapped through m.
func Residuals(src, dst geometry.PointSet, m geometry.Matrix) []float64 {
	if len(src) != len(dst) {
		return nil
	}
	res := make([]float64, len(src))
	for i := range src {
		res[i] = m.Apply(dst[i]).Distance(src[i])
	}
	return res
}

// SumSquaredError returns the least squares objective Σ|src_i − M·dst_i|².
func SumSquaredError(src, dst geometry.PointSet, m geometry.Matrix) float64 {
	r := Residuals(src, dst, m)
	return floats.Dot(r, r)
}

// RMSError returns the root mean square residual, or +Inf when there are
// no pairs to compare.
func RMSError(src, dst geometry.PointSet, m geometry.Matrix) float64 {
	if len(src) != len(dst) || len(src) == 0 {
		return math.Inf(1)
	}
	return math.Sqrt(SumSquaredError(src, dst, m) / float64(len(src)))
}

// MaxError returns the largest residual.
func MaxError(src, dst geometry.PointSet, m geometry.Matrix) float64 {
	r := Residuals(src, dst, m)
	if len(r) == 0 {
		return math.Inf(1)
	}
	return floats.Max(r)
}
