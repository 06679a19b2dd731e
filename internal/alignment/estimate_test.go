package alignment_test

import (
	"bytes"
	"errors"
	"log"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gonum.org/v1/gonum/mat"

	"affinder/internal/alignment"
	"affinder/pkg/geometry"
)

const tol = 1e-9

// randomRotation returns a proper rotation in d dimensions.
func randomRotation(rng *rand.Rand, d int) *mat.Dense {
	a := mat.NewDense(d, d, nil)
	for i := 0; i < d; i++ {
		for j := 0; j < d; j++ {
			a.Set(i, j, rng.NormFloat64())
		}
	}
	var qr mat.QR
	qr.Factorize(a)
	var q mat.Dense
	qr.QTo(&q)
	if mat.Det(&q) < 0 {
		for i := 0; i < d; i++ {
			q.Set(i, 0, -q.At(i, 0))
		}
	}
	return &q
}

// randomTransform builds a well-conditioned transform of the family.
func randomTransform(rng *rand.Rand, family alignment.Family, d int) geometry.Matrix {
	linear := mat.NewDense(d, d, nil)
	switch family {
	case alignment.Euclidean:
		linear.Copy(randomRotation(rng, d))
	case alignment.Similarity:
		linear.Scale(0.5+2*rng.Float64(), randomRotation(rng, d))
	case alignment.Affine:
		for i := 0; i < d; i++ {
			for j := 0; j < d; j++ {
				v := 0.3 * rng.NormFloat64()
				if i == j {
					v += 1.2
				}
				linear.Set(i, j, v)
			}
		}
	}
	t := make([]float64, d)
	for i := range t {
		t[i] = 50 * rng.NormFloat64()
	}
	return geometry.Homogeneous(linear, t)
}

func randomPoints(rng *rand.Rand, n, d int) geometry.PointSet {
	pts := make(geometry.PointSet, n)
	for i := range pts {
		p := make(geometry.Point, d)
		for j := range p {
			p[j] = 200 * rng.Float64()
		}
		pts[i] = p
	}
	return pts
}

func isDegenerate(err error) bool {
	var de alignment.DegenerateInputError
	return errors.As(err, &de)
}

func isMismatch(err error) bool {
	var me alignment.DimensionMismatchError
	return errors.As(err, &me)
}

// EstimateSuite groups the estimator property tests.
type EstimateSuite struct {
	suite.Suite
	rng *rand.Rand
}

func (s *EstimateSuite) SetupTest() {
	s.rng = rand.New(rand.NewSource(42))
}

// TestPureTranslation: dst = src + (5,5), so the dst→src matrix translates by (−5,−5).
func (s *EstimateSuite) TestPureTranslation() {
	src := geometry.PointSet{{0, 0}, {0, 10}, {10, 0}}
	dst := geometry.PointSet{{5, 5}, {5, 15}, {15, 5}}

	for _, family := range alignment.Families() {
		m, err := alignment.Estimate(src, dst, family)
		require.NoError(s.T(), err, family.String())

		assert.InDelta(s.T(), -5, m.At(0, 2), tol, family.String())
		assert.InDelta(s.T(), -5, m.At(1, 2), tol, family.String())
		assert.True(s.T(), mat.EqualApprox(m.Linear(), mat.NewDiagDense(2, []float64{1, 1}), tol),
			"%s: rotation block should be identity, got\n%v", family, m)
		assert.Equal(s.T(), []float64{0, 0, 1}, m.Rows()[2], "bottom row must be exact")
	}
}

// TestExactRecovery: dst = M·src exactly ⇒ Estimate returns M⁻¹.
func (s *EstimateSuite) TestExactRecovery() {
	for _, family := range alignment.Families() {
		for _, d := range []int{2, 3} {
			for _, n := range []int{d + 1, 12} {
				m := randomTransform(s.rng, family, d)
				src := randomPoints(s.rng, n, d)
				dst := m.ApplyAll(src)

				want, err := m.Inverse()
				require.NoError(s.T(), err)

				got, err := alignment.Estimate(src, dst, family)
				require.NoError(s.T(), err, "%s d=%d n=%d", family, d, n)
				assert.True(s.T(), got.EqualApprox(want, tol),
					"%s d=%d n=%d: got\n%v\nwant\n%v", family, d, n, got, want)
			}
		}
	}
}

// TestLeastSquaresOptimality: noisy pairs; nearby transforms of the same
// family never fit better than the estimate.
func (s *EstimateSuite) TestLeastSquaresOptimality() {
	const d, n = 2, 20
	for _, family := range alignment.Families() {
		m := randomTransform(s.rng, family, d)
		src := randomPoints(s.rng, n, d)
		dst := m.ApplyAll(src)
		for _, p := range dst {
			for j := range p {
				p[j] += s.rng.NormFloat64()
			}
		}

		est, err := alignment.Estimate(src, dst, family)
		require.NoError(s.T(), err)
		best := alignment.SumSquaredError(src, dst, est)

		for trial := 0; trial < 50; trial++ {
			delta := s.perturbation(family, d, 1e-3)
			competitor := delta.Compose(est)
			sse := alignment.SumSquaredError(src, dst, competitor)
			assert.LessOrEqual(s.T(), best, sse+1e-9, "%s trial %d", family, trial)
		}
	}
}

// perturbation returns a transform of the family close to identity.
func (s *EstimateSuite) perturbation(family alignment.Family, d int, eps float64) geometry.Matrix {
	linear := mat.NewDense(d, d, nil)
	switch family {
	case alignment.Affine:
		for i := 0; i < d; i++ {
			for j := 0; j < d; j++ {
				v := eps * s.rng.NormFloat64()
				if i == j {
					v++
				}
				linear.Set(i, j, v)
			}
		}
	default:
		theta := eps * s.rng.NormFloat64()
		linear.Copy(mat.NewDense(2, 2, []float64{math.Cos(theta), -math.Sin(theta), math.Sin(theta), math.Cos(theta)}))
		if family == alignment.Similarity {
			linear.Scale(1+eps*s.rng.NormFloat64(), linear)
		}
	}
	t := []float64{eps * s.rng.NormFloat64(), eps * s.rng.NormFloat64()}
	return geometry.Homogeneous(linear, t)
}

// TestFamilyNesting: rigid data fitted by a more general family recovers the rigid matrix.
func (s *EstimateSuite) TestFamilyNesting() {
	for _, d := range []int{2, 3} {
		m := randomTransform(s.rng, alignment.Euclidean, d)
		src := randomPoints(s.rng, 8, d)
		dst := m.ApplyAll(src)
		want, err := m.Inverse()
		require.NoError(s.T(), err)

		for _, family := range []alignment.Family{alignment.Similarity, alignment.Affine} {
			require.True(s.T(), family.Includes(alignment.Euclidean))
			got, err := alignment.Estimate(src, dst, family)
			require.NoError(s.T(), err)
			assert.True(s.T(), got.EqualApprox(want, tol), "%s d=%d", family, d)
		}
	}
}

// TestReflectionCorrected: a mirrored point set still yields a proper rotation.
func (s *EstimateSuite) TestReflectionCorrected() {
	src := geometry.PointSet{{0, 0}, {0, 10}, {10, 0}, {7, 3}}
	dst := geometry.PointSet{{0, 0}, {0, -10}, {10, 0}, {7, -3}}

	for _, family := range []alignment.Family{alignment.Euclidean, alignment.Similarity} {
		m, err := alignment.Estimate(src, dst, family)
		require.NoError(s.T(), err)
		assert.Greater(s.T(), mat.Det(m.Linear()), 0.0, family.String())
	}
}

// TestTooFewPoints: N = D is one pair short.
func (s *EstimateSuite) TestTooFewPoints() {
	for _, d := range []int{2, 3} {
		src := randomPoints(s.rng, d, d)
		for _, family := range alignment.Families() {
			_, err := alignment.Estimate(src, src.Clone(), family)
			require.Error(s.T(), err)
			assert.True(s.T(), isDegenerate(err), "%s d=%d: %v", family, d, err)
		}
	}

	_, err := alignment.Estimate(nil, nil, alignment.Affine)
	assert.True(s.T(), isDegenerate(err))
}

// TestCoincidentPoints: identical points determine nothing.
func (s *EstimateSuite) TestCoincidentPoints() {
	src := geometry.PointSet{{3, 4}, {3, 4}, {3, 4}, {3, 4}}
	dst := geometry.PointSet{{1, 2}, {1, 2}, {1, 2}, {1, 2}}
	for _, family := range alignment.Families() {
		_, err := alignment.Estimate(src, dst, family)
		assert.True(s.T(), isDegenerate(err), "%s: %v", family, err)
	}
}

// TestNonFiniteCoordinates: NaN and Inf are rejected before any fitting.
func (s *EstimateSuite) TestNonFiniteCoordinates() {
	for _, bad := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		src := geometry.PointSet{{0, 0}, {0, 10}, {10, 0}, {10, 10}}
		dst := geometry.PointSet{{1, 1}, {1, 11}, {11, 1}, {11, 11}}
		dst[2] = geometry.Point{11, bad}
		for _, family := range alignment.Families() {
			_, err := alignment.Estimate(src, dst, family)
			var de alignment.DegenerateInputError
			require.True(s.T(), errors.As(err, &de), "%s: %v", family, err)
			assert.Contains(s.T(), de.Reason, "non-finite coordinate")
		}
	}
}

// TestCollinearAffine: collinear 2D points leave the affine map undetermined.
func (s *EstimateSuite) TestCollinearAffine() {
	src := geometry.PointSet{{0, 0}, {1, 1}, {2, 2}, {5, 5}}
	dst := geometry.PointSet{{1, 0}, {2, 1}, {3, 2}, {6, 5}}
	_, err := alignment.Estimate(src, dst, alignment.Affine)
	require.Error(s.T(), err)
	assert.True(s.T(), isDegenerate(err), "%v", err)
}

// TestCollapsedDestination: all dst points distinct but src collapsed to one point.
func (s *EstimateSuite) TestCollapsedDestination() {
	src := geometry.PointSet{{1, 1}, {1, 1}, {1, 1}}
	dst := geometry.PointSet{{0, 0}, {0, 10}, {10, 0}}
	for _, family := range alignment.Families() {
		_, err := alignment.Estimate(src, dst, family)
		assert.True(s.T(), isDegenerate(err), "%s: %v", family, err)
	}
}

// TestDimensionMismatch: length and per-point dimension disagreements fail first.
func (s *EstimateSuite) TestDimensionMismatch() {
	src := geometry.PointSet{{0, 0}, {0, 10}, {10, 0}}

	_, err := alignment.Estimate(src, src[:2], alignment.Affine)
	require.True(s.T(), isMismatch(err), "%v", err)
	var me alignment.DimensionMismatchError
	require.True(s.T(), errors.As(err, &me))
	assert.Equal(s.T(), "length", me.What)
	assert.Equal(s.T(), 2, me.Got)
	assert.Equal(s.T(), 3, me.Want)

	dst := geometry.PointSet{{0, 0}, {0, 10, 1}, {10, 0}}
	_, err = alignment.Estimate(src, dst, alignment.Euclidean)
	require.True(s.T(), errors.As(err, &me), "%v", err)
	assert.Equal(s.T(), "dimension", me.What)
	assert.Equal(s.T(), 1, me.Index)

	// Mismatch wins over too-few-points.
	_, err = alignment.Estimate(geometry.PointSet{{0, 0}}, geometry.PointSet{{0, 0, 0}}, alignment.Affine)
	assert.True(s.T(), isMismatch(err), "%v", err)
}

// TestIllConditionedWarning: nearly collinear points are fitted but flagged.
func (s *EstimateSuite) TestIllConditionedWarning() {
	pts := geometry.PointSet{{0, 0}, {100, 0}, {200, 1e-5}}

	var buf bytes.Buffer
	opts := alignment.DefaultOptions()
	opts.Logger = log.New(&buf, "", 0)

	res, err := alignment.EstimateWithOptions(pts, pts.Clone(), alignment.Affine, opts)
	require.NoError(s.T(), err)
	assert.True(s.T(), res.IllConditioned)
	assert.Less(s.T(), res.Condition, alignment.DefaultWarnTolerance)
	assert.Contains(s.T(), buf.String(), "ill-conditioned")

	opts.Tolerance = 1e-6
	_, err = alignment.EstimateWithOptions(pts, pts.Clone(), alignment.Affine, opts)
	assert.True(s.T(), isDegenerate(err), "%v", err)
}

// TestResultFields: a clean fit reports a zero residual and no warning.
func (s *EstimateSuite) TestResultFields() {
	m := randomTransform(s.rng, alignment.Similarity, 2)
	src := randomPoints(s.rng, 6, 2)
	dst := m.ApplyAll(src)

	res, err := alignment.EstimateWithOptions(src, dst, alignment.Similarity, alignment.Options{})
	require.NoError(s.T(), err)
	assert.Equal(s.T(), alignment.Similarity, res.Family)
	assert.False(s.T(), res.IllConditioned)
	assert.InDelta(s.T(), 0, res.RMS, 1e-9)
	assert.Nil(s.T(), res.Inliers)
}

func TestEstimateSuite(t *testing.T) {
	suite.Run(t, new(EstimateSuite))
}
