package geometry_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"affinder/pkg/geometry"
)

func sample(t *testing.T) geometry.Matrix {
	t.Helper()
	m, err := geometry.NewMatrix([][]float64{
		{0.9, -0.2, 4},
		{0.3, 1.1, -7},
		{0, 0, 1},
	})
	require.NoError(t, err)
	return m
}

func TestNewMatrixValidation(t *testing.T) {
	_, err := geometry.NewMatrix([][]float64{{1, 0, 0}, {0, 1, 0}})
	assert.True(t, errors.Is(err, geometry.ErrNotHomogeneous))

	_, err = geometry.NewMatrix([][]float64{{1, 0, 0}, {0, 1, 0}, {0, 0.5, 1}})
	assert.True(t, errors.Is(err, geometry.ErrNotHomogeneous))

	_, err = geometry.NewMatrix([][]float64{{1}})
	assert.True(t, errors.Is(err, geometry.ErrNotHomogeneous))

	m, err := geometry.NewMatrix([][]float64{{1, 0, 2}, {0, 1, 3}, {1e-12, 0, 1}})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 1}, m.Rows()[2])
}

func TestApplyAndParts(t *testing.T) {
	m := sample(t)
	assert.Equal(t, 2, m.Dim())
	assert.Equal(t, geometry.Point{4, -7}, m.Translation())

	got := m.Apply(geometry.NewPoint(10, 5))
	assert.InDelta(t, 0.9*10-0.2*5+4, got[0], 1e-12)
	assert.InDelta(t, 0.3*10+1.1*5-7, got[1], 1e-12)

	assert.Panics(t, func() { m.Apply(geometry.NewPoint(1, 2, 3)) })
}

func TestComposeInverse(t *testing.T) {
	m := sample(t)
	inv, err := m.Inverse()
	require.NoError(t, err)
	assert.True(t, m.Compose(inv).EqualApprox(geometry.IdentityMatrix(2), 1e-12))

	p := geometry.NewPoint(3, -8)
	back := inv.Apply(m.Apply(p))
	assert.InDeltaSlice(t, []float64(p), []float64(back), 1e-12)

	// Compose applies the right operand first.
	shift, err := geometry.NewMatrix([][]float64{{1, 0, 1}, {0, 1, 2}, {0, 0, 1}})
	require.NoError(t, err)
	want := m.Apply(shift.Apply(p))
	assert.InDeltaSlice(t, []float64(want), []float64(m.Compose(shift).Apply(p)), 1e-12)

	singular, err := geometry.NewMatrix([][]float64{{1, 2, 0}, {2, 4, 0}, {0, 0, 1}})
	require.NoError(t, err)
	_, err = singular.Inverse()
	assert.Error(t, err)
}

func TestMatrixIsImmutable(t *testing.T) {
	m := sample(t)
	d := m.Dense()
	d.Set(0, 0, 100)
	rows := m.Rows()
	rows[0][1] = 100
	assert.Equal(t, 0.9, m.At(0, 0))
	assert.Equal(t, -0.2, m.At(0, 1))
}

func TestXYSwapsAxes(t *testing.T) {
	m := sample(t)
	xy, err := m.XY()
	require.NoError(t, err)

	r, c := 12.0, -3.0
	rc := m.Apply(geometry.NewPoint(r, c))
	x, y := xy.Apply(c, r)
	assert.InDelta(t, rc[1], x, 1e-12)
	assert.InDelta(t, rc[0], y, 1e-12)

	_, err = geometry.IdentityMatrix(3).XY()
	assert.Error(t, err)
}

func TestAffineTransformInverse(t *testing.T) {
	a := geometry.AffineTransform{A: 2, B: 1, TX: 5, C: -1, D: 3, TY: 2}
	inv, ok := a.Inverse()
	require.True(t, ok)
	id := a.Compose(inv)
	assert.InDelta(t, 1, id.A, 1e-12)
	assert.InDelta(t, 0, id.B, 1e-12)
	assert.InDelta(t, 0, id.TX, 1e-12)
	assert.InDelta(t, 1, id.D, 1e-12)
	assert.InDelta(t, 0, id.TY, 1e-12)

	_, ok = geometry.AffineTransform{A: 1, B: 2, C: 2, D: 4}.Inverse()
	assert.False(t, ok)
}

func TestCentroidAndBoundingBox(t *testing.T) {
	pts := geometry.PointSet{{0, 0}, {2, 4}, {4, 2}}
	assert.InDeltaSlice(t, []float64{2, 2}, []float64(geometry.Centroid(pts)), 1e-12)

	lo, hi := geometry.BoundingBox(pts)
	assert.Equal(t, geometry.Point{0, 0}, lo)
	assert.Equal(t, geometry.Point{4, 4}, hi)

	assert.Error(t, geometry.PointSet{{1, 2}, {1, 2, 3}}.Validate())
	assert.NoError(t, pts.Validate())
}
