package geometry

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// bottomRowTolerance bounds how far a loaded matrix's last row may stray
// from [0 ... 0 1].
const bottomRowTolerance = 1e-9

// ErrNotHomogeneous is returned when a matrix is not square or its last row
// is not [0 ... 0 1].
var ErrNotHomogeneous = errors.New("geometry: not a homogeneous transform matrix")

// Matrix is a (D+1)×(D+1) homogeneous transformation acting on column
// vectors [p_0, ..., p_{D-1}, 1]ᵀ in array index order.
//
// A Matrix is immutable: no method modifies the receiver, and the
// constructors copy their input. The zero value is an empty matrix.
type Matrix struct {
	m *mat.Dense
}

// IdentityMatrix returns the identity transform in d dimensions.
func IdentityMatrix(d int) Matrix {
	n := d + 1
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return Matrix{m: m}
}

// NewMatrix builds a Matrix from row-major rows. The rows must form a square
// matrix of size at least 2 whose last row is [0 ... 0 1].
func NewMatrix(rows [][]float64) (Matrix, error) {
	n := len(rows)
	if n < 2 {
		return Matrix{}, fmt.Errorf("%w: %d rows", ErrNotHomogeneous, n)
	}
	data := make([]float64, 0, n*n)
	for i, r := range rows {
		if len(r) != n {
			return Matrix{}, fmt.Errorf("%w: row %d has %d values, want %d", ErrNotHomogeneous, i, len(r), n)
		}
		data = append(data, r...)
	}
	return FromDense(mat.NewDense(n, n, data))
}

// FromDense copies a gonum matrix into a Matrix after validating its shape
// and last row. The last row is stored exactly as [0 ... 0 1].
func FromDense(a mat.Matrix) (Matrix, error) {
	r, c := a.Dims()
	if r != c || r < 2 {
		return Matrix{}, fmt.Errorf("%w: %dx%d", ErrNotHomogeneous, r, c)
	}
	for j := 0; j < c; j++ {
		want := 0.0
		if j == c-1 {
			want = 1
		}
		if math.Abs(a.At(r-1, j)-want) > bottomRowTolerance {
			return Matrix{}, fmt.Errorf("%w: last row entry %d is %v", ErrNotHomogeneous, j, a.At(r-1, j))
		}
	}
	m := mat.DenseCopyOf(a)
	for j := 0; j < c; j++ {
		m.Set(r-1, j, 0)
	}
	m.Set(r-1, c-1, 1)
	return Matrix{m: m}, nil
}

// Homogeneous assembles a Matrix from a D×D linear part and a length-D
// translation. It panics if the sizes disagree.
func Homogeneous(linear mat.Matrix, t []float64) Matrix {
	d, c := linear.Dims()
	if d != c || len(t) != d {
		panic("geometry: linear part and translation sizes do not match")
	}
	m := mat.NewDense(d+1, d+1, nil)
	for i := 0; i < d; i++ {
		for j := 0; j < d; j++ {
			m.Set(i, j, linear.At(i, j))
		}
		m.Set(i, d, t[i])
	}
	m.Set(d, d, 1)
	return Matrix{m: m}
}

// IsZero reports whether m is the empty zero value.
func (m Matrix) IsZero() bool {
	return m.m == nil
}

// Dim returns D, the dimensionality of the points the matrix acts on.
func (m Matrix) Dim() int {
	if m.m == nil {
		return 0
	}
	r, _ := m.m.Dims()
	return r - 1
}

// At returns the element at row i, column j.
func (m Matrix) At(i, j int) float64 {
	return m.m.At(i, j)
}

// Dense returns a copy of the underlying (D+1)×(D+1) matrix.
func (m Matrix) Dense() *mat.Dense {
	return mat.DenseCopyOf(m.m)
}

// Rows returns the matrix as row-major slices.
func (m Matrix) Rows() [][]float64 {
	n := m.Dim() + 1
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = mat.Row(nil, i, m.m)
	}
	return rows
}

// Linear returns a copy of the upper-left D×D block.
func (m Matrix) Linear() *mat.Dense {
	d := m.Dim()
	return mat.DenseCopyOf(m.m.Slice(0, d, 0, d))
}

// Translation returns the translation column.
func (m Matrix) Translation() Point {
	d := m.Dim()
	t := make(Point, d)
	for i := range t {
		t[i] = m.m.At(i, d)
	}
	return t
}

// Apply maps a point through the transform.
func (m Matrix) Apply(p Point) Point {
	d := m.Dim()
	if len(p) != d {
		panic(fmt.Sprintf("geometry: point has %d coordinates, matrix expects %d", len(p), d))
	}
	out := make(Point, d)
	for i := 0; i < d; i++ {
		v := m.m.At(i, d)
		for j := 0; j < d; j++ {
			v += m.m.At(i, j) * p[j]
		}
		out[i] = v
	}
	return out
}

// ApplyAll maps every point of a set.
func (m Matrix) ApplyAll(points PointSet) PointSet {
	out := make(PointSet, len(points))
	for i, p := range points {
		out[i] = m.Apply(p)
	}
	return out
}

// Compose returns m·other: applying the result is equivalent to applying
// other first, then m.
func (m Matrix) Compose(other Matrix) Matrix {
	if m.Dim() != other.Dim() {
		panic("geometry: composing matrices of different dimension")
	}
	var out mat.Dense
	out.Mul(m.m, other.m)
	n := m.Dim() + 1
	for j := 0; j < n-1; j++ {
		out.Set(n-1, j, 0)
	}
	out.Set(n-1, n-1, 1)
	return Matrix{m: &out}
}

// Inverse returns the inverse transform.
func (m Matrix) Inverse() (Matrix, error) {
	var inv mat.Dense
	if err := inv.Inverse(m.m); err != nil {
		return Matrix{}, fmt.Errorf("geometry: invert transform: %w", err)
	}
	n := m.Dim() + 1
	for j := 0; j < n-1; j++ {
		inv.Set(n-1, j, 0)
	}
	inv.Set(n-1, n-1, 1)
	return Matrix{m: &inv}, nil
}

// EqualApprox reports whether two matrices have the same size and all
// elements within tol (absolute or relative).
func (m Matrix) EqualApprox(other Matrix, tol float64) bool {
	if m.IsZero() || other.IsZero() {
		return m.IsZero() && other.IsZero()
	}
	return mat.EqualApprox(m.m, other.m, tol)
}

// XY converts a 2D matrix in (row, column) order into an AffineTransform in
// image (x, y) order.
func (m Matrix) XY() (AffineTransform, error) {
	if m.Dim() != 2 {
		return AffineTransform{}, fmt.Errorf("geometry: need a 2D transform, got %dD", m.Dim())
	}
	// Swapping axes: x' = m11 x + m10 y + m12, y' = m01 x + m00 y + m02.
	return AffineTransform{
		A: m.At(1, 1), B: m.At(1, 0), TX: m.At(1, 2),
		C: m.At(0, 1), D: m.At(0, 0), TY: m.At(0, 2),
	}, nil
}

// String formats the matrix one row per line.
func (m Matrix) String() string {
	if m.IsZero() {
		return "[]"
	}
	return fmt.Sprintf("%v", mat.Formatted(m.m, mat.Squeeze()))
}
