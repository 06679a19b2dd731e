package alignment

import (
	"affinder/pkg/geometry"

	"gonum.org/v1/gonum/mat"
)

// affine fits the general linear map L and translation t minimizing
// Σ|y_i − (L x_i + t)|². With centred coordinates the translation
// decouples, leaving the least squares system Xc·Lᵀ = Yc, which is exact
// for n = d+1 points in general position.
func (c *centered) affine(opts Options) (geometry.Matrix, float64, error) {
	// Rank test on the design: collinear (2D) or coplanar (3D) points
	// leave a direction of the linear map undetermined.
	var svd mat.SVD
	if !svd.Factorize(c.xc, mat.SVDNone) {
		return geometry.Matrix{}, 0, ErrFactorizationFailed
	}
	values := svd.Values(nil)
	cond := values[c.d-1] / values[0]
	if cond < opts.Tolerance {
		return geometry.Matrix{}, cond, DegenerateInputError{Reason: "points are not in general position", Condition: cond}
	}

	// Solve using QR decomposition
	var qr mat.QR
	qr.Factorize(c.xc)

	var lt mat.Dense
	if err := qr.SolveTo(&lt, false, c.yc); err != nil {
		return geometry.Matrix{}, cond, DegenerateInputError{Reason: "least squares solve failed: " + err.Error(), Condition: cond}
	}
	l := mat.DenseCopyOf(lt.T())

	// A singular linear part cannot be inverted for resampling.
	if !svd.Factorize(l, mat.SVDNone) {
		return geometry.Matrix{}, cond, ErrFactorizationFailed
	}
	lv := svd.Values(nil)
	if lv[0] == 0 {
		return geometry.Matrix{}, cond, DegenerateInputError{Reason: "fitted linear map is zero"}
	}
	if r := lv[c.d-1] / lv[0]; r < opts.Tolerance {
		return geometry.Matrix{}, cond, DegenerateInputError{Reason: "fitted linear map is singular", Condition: r}
	}

	return geometry.Homogeneous(l, c.translation(l)), cond, nil
}
