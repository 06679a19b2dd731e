package alignment

import (
	"affinder/pkg/geometry"

	"gonum.org/v1/gonum/mat"
)

// procrustes solves the orthogonal Procrustes problem for the centred sets,
// optionally with an isotropic scale (Umeyama, 1991):
//
//	y_i ≈ c * R * x_i + t
//
// R is a proper rotation; a reflection in the SVD solution is corrected by
// flipping the sign of the last singular vector.
func (c *centered) procrustes(withScale bool, opts Options) (geometry.Matrix, float64, error) {
	d := c.d

	// Cross-covariance of the centred sets.
	covXY := mat.NewDense(d, d, nil)
	covXY.Mul(c.yc.T(), c.xc)
	covXY.Scale(1/float64(c.n), covXY)

	var svd mat.SVD
	if !svd.Factorize(covXY, mat.SVDFull) {
		return geometry.Matrix{}, 0, ErrFactorizationFailed
	}
	values := svd.Values(nil)

	// A rotation in d dimensions is fixed once d-1 independent directions
	// are known.
	cond := 0.0
	if values[0] > 0 {
		cond = 1
		if d >= 2 {
			cond = values[d-2] / values[0]
		}
	}
	if cond < opts.Tolerance {
		return geometry.Matrix{}, cond, DegenerateInputError{Reason: "points do not span enough directions", Condition: cond}
	}

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	s := mat.NewDiagDense(d, nil)
	for i := 0; i < d; i++ {
		s.SetDiag(i, 1)
	}
	if mat.Det(&u)*mat.Det(&v) < 0 {
		s.SetDiag(d-1, -1)
	}

	r := mat.NewDense(d, d, nil)
	r.Product(&u, s, v.T())

	scale := 1.0
	if withScale {
		var trace float64
		for i := 0; i < d; i++ {
			trace += values[i] * s.At(i, i)
		}
		scale = trace / c.varX
	}
	r.Scale(scale, r)

	return geometry.Homogeneous(r, c.translation(r)), cond, nil
}
