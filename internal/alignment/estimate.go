// Package alignment estimates the geometric transform that registers a
// moving image onto a reference image from matched landmark points.
package alignment

import (
	"fmt"
	"log"
	"math"

	"affinder/pkg/geometry"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

const (
	// DefaultTolerance is the singular value ratio below which a point
	// configuration is rejected as rank deficient.
	DefaultTolerance = 1e-10

	// DefaultWarnTolerance is the ratio below which a result is returned but
	// flagged as ill-conditioned.
	DefaultWarnTolerance = 1e-6
)

// Options configures an estimation.
type Options struct {
	Tolerance     float64     // reject below this condition ratio
	WarnTolerance float64     // flag and log below this condition ratio
	Logger        *log.Logger // nil means log.Default()
}

// DefaultOptions returns default estimation options.
func DefaultOptions() Options {
	return Options{
		Tolerance:     DefaultTolerance,
		WarnTolerance: DefaultWarnTolerance,
	}
}

func (o Options) withDefaults() Options {
	if o.Tolerance <= 0 {
		o.Tolerance = DefaultTolerance
	}
	if o.WarnTolerance < o.Tolerance {
		o.WarnTolerance = math.Max(DefaultWarnTolerance, o.Tolerance)
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	return o
}

// Result holds a fitted transform.
type Result struct {
	Family Family
	Matrix geometry.Matrix // maps destination points onto source points

	// Condition is the smallest-to-largest singular value ratio of the
	// system that determined the fit. IllConditioned is set when it fell
	// below the warning tolerance.
	Condition      float64
	IllConditioned bool

	RMS     float64 // root mean square residual over the fitted pairs
	Inliers []int   // indices used by the final fit (RANSAC only)
}

// Estimate fits a transform of the given family to the correspondences
// src[i] ↔ dst[i] and returns the (D+1)×(D+1) homogeneous matrix.
//
// The returned matrix maps destination coordinates to source coordinates:
// src[i] ≈ M · dst[i]. Destination points are the ones placed on the moving
// image, so M takes moving pixel space into reference pixel space and is
// composed as reference.Transform ∘ M.
func Estimate(src, dst geometry.PointSet, family Family) (geometry.Matrix, error) {
	res, err := EstimateWithOptions(src, dst, family, DefaultOptions())
	if err != nil {
		return geometry.Matrix{}, err
	}
	return res.Matrix, nil
}

// EstimateWithOptions is Estimate with explicit tolerances and logger, and
// returns the full Result.
func EstimateWithOptions(src, dst geometry.PointSet, family Family, opts Options) (*Result, error) {
	opts = opts.withDefaults()
	if err := checkPairs(src, dst); err != nil {
		return nil, err
	}

	// The model is fitted from dst to src.
	m, cond, err := fit(dst, src, family, opts)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Family:    family,
		Matrix:    m,
		Condition: cond,
		RMS:       RMSError(src, dst, m),
	}
	if cond < opts.WarnTolerance {
		res.IllConditioned = true
		opts.Logger.Printf("alignment: %s fit of %d points is ill-conditioned (condition %.3g)",
			family, len(src), cond)
	}
	return res, nil
}

// checkPairs validates lengths, dimensionality and point count.
func checkPairs(src, dst geometry.PointSet) error {
	if len(src) != len(dst) {
		return DimensionMismatchError{What: "length", Index: -1, Got: len(dst), Want: len(src)}
	}
	d := src.Dim()
	for i := range src {
		if len(src[i]) != d {
			return DimensionMismatchError{What: "dimension", Index: i, Got: len(src[i]), Want: d}
		}
		if len(dst[i]) != d {
			return DimensionMismatchError{What: "dimension", Index: i, Got: len(dst[i]), Want: d}
		}
	}
	if d == 0 {
		return DegenerateInputError{Reason: "no points"}
	}
	if len(src) < MinPoints(d) {
		return DegenerateInputError{Reason: fmt.Sprintf("need at least %d point pairs, got %d", MinPoints(d), len(src))}
	}
	for i := range src {
		if !finite(src[i]) || !finite(dst[i]) {
			return DegenerateInputError{Reason: fmt.Sprintf("non-finite coordinate at point %d", i)}
		}
	}
	return nil
}

func finite(p geometry.Point) bool {
	for _, v := range p {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// fit estimates the transform taking from[i] to to[i]. Inputs are assumed
// validated by checkPairs.
func fit(from, to geometry.PointSet, family Family, opts Options) (geometry.Matrix, float64, error) {
	c := newCentered(from, to)

	// Coincident points carry no orientation information.
	if c.varX == 0 || math.Sqrt(c.varX) <= opts.Tolerance*mat.Norm(c.muX, 2) {
		return geometry.Matrix{}, 0, DegenerateInputError{Reason: "points are coincident"}
	}

	switch family {
	case Euclidean, Similarity:
		return c.procrustes(family == Similarity, opts)
	case Affine:
		return c.affine(opts)
	default:
		return geometry.Matrix{}, 0, fmt.Errorf("alignment: unknown transform family %d", int(family))
	}
}

// centered holds two point sets as n×d matrices with their means removed.
type centered struct {
	n, d     int
	xc, yc   *mat.Dense
	muX, muY *mat.VecDense
	varX     float64 // total population variance of x
}

func newCentered(x, y geometry.PointSet) *centered {
	n, d := len(x), x.Dim()
	c := &centered{
		n:   n,
		d:   d,
		xc:  mat.NewDense(n, d, nil),
		yc:  mat.NewDense(n, d, nil),
		muX: mat.NewVecDense(d, nil),
		muY: mat.NewVecDense(d, nil),
	}

	colX := make([]float64, n)
	colY := make([]float64, n)
	for j := 0; j < d; j++ {
		for i := 0; i < n; i++ {
			colX[i] = x[i][j]
			colY[i] = y[i][j]
		}
		meanX, varXj := stat.PopMeanVariance(colX, nil)
		c.muX.SetVec(j, meanX)
		c.muY.SetVec(j, stat.Mean(colY, nil))
		c.varX += varXj
	}

	for i := 0; i < n; i++ {
		for j := 0; j < d; j++ {
			c.xc.Set(i, j, x[i][j]-c.muX.AtVec(j))
			c.yc.Set(i, j, y[i][j]-c.muY.AtVec(j))
		}
	}
	return c
}

// translation returns μy − A·μx.
func (c *centered) translation(a mat.Matrix) []float64 {
	var aMu mat.VecDense
	aMu.MulVec(a, c.muX)
	t := make([]float64, c.d)
	for i := range t {
		t[i] = c.muY.AtVec(i) - aMu.AtVec(i)
	}
	return t
}
