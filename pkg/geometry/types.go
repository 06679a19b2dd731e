// Package geometry provides the point, point set and transform types shared
// by the estimator, the resampler and the persistence layers.
package geometry

import (
	"fmt"
	"math"
)

// Point is a position in array index space: (row, column[, depth]).
type Point []float64

// NewPoint creates a Point from its coordinates.
func NewPoint(coords ...float64) Point {
	p := make(Point, len(coords))
	copy(p, coords)
	return p
}

// Dim returns the number of coordinates.
func (p Point) Dim() int {
	return len(p)
}

// Clone returns a copy that shares no storage with p.
func (p Point) Clone() Point {
	return NewPoint(p...)
}

// Distance returns the Euclidean distance to another point of the same dimension.
func (p Point) Distance(other Point) float64 {
	var sum float64
	for i := range p {
		d := p[i] - other[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// PointSet is an ordered sequence of points. The i-th points of two sets
// form a correspondence.
type PointSet []Point

// Dim returns the dimensionality of the first point, or 0 for an empty set.
func (s PointSet) Dim() int {
	if len(s) == 0 {
		return 0
	}
	return len(s[0])
}

// Validate checks that every point has the same number of coordinates.
func (s PointSet) Validate() error {
	d := s.Dim()
	for i, p := range s {
		if len(p) != d {
			return fmt.Errorf("point %d has %d coordinates, want %d", i, len(p), d)
		}
	}
	return nil
}

// Clone returns a deep copy of the set.
func (s PointSet) Clone() PointSet {
	out := make(PointSet, len(s))
	for i, p := range s {
		out[i] = p.Clone()
	}
	return out
}

// Centroid computes the centroid (average position) of a set of points.
func Centroid(points PointSet) Point {
	if len(points) == 0 {
		return nil
	}
	c := make(Point, points.Dim())
	for _, p := range points {
		for j := range c {
			c[j] += p[j]
		}
	}
	n := float64(len(points))
	for j := range c {
		c[j] /= n
	}
	return c
}

// BoundingBox returns the per-axis minimum and maximum of a set of points.
func BoundingBox(points PointSet) (lo, hi Point) {
	if len(points) == 0 {
		return nil, nil
	}
	lo = points[0].Clone()
	hi = points[0].Clone()
	for _, p := range points[1:] {
		for j := range p {
			lo[j] = math.Min(lo[j], p[j])
			hi[j] = math.Max(hi[j], p[j])
		}
	}
	return lo, hi
}

// AffineTransform represents a 2x3 affine transformation matrix in image
// x/y order (x = column, y = row).
// [a b tx]
// [c d ty]
type AffineTransform struct {
	A, B, TX float64
	C, D, TY float64
}

// Translation returns a translation transform.
func Translation(tx, ty float64) AffineTransform {
	return AffineTransform{A: 1, D: 1, TX: tx, TY: ty}
}

// Apply maps (x, y) through the transform.
func (t AffineTransform) Apply(x, y float64) (float64, float64) {
	return t.A*x + t.B*y + t.TX, t.C*x + t.D*y + t.TY
}

// Compose returns this transform composed with another (this * other).
func (t AffineTransform) Compose(other AffineTransform) AffineTransform {
	return AffineTransform{
		A:  t.A*other.A + t.B*other.C,
		B:  t.A*other.B + t.B*other.D,
		TX: t.A*other.TX + t.B*other.TY + t.TX,
		C:  t.C*other.A + t.D*other.C,
		D:  t.C*other.B + t.D*other.D,
		TY: t.C*other.TX + t.D*other.TY + t.TY,
	}
}

// Inverse returns the inverse transform, if it exists.
func (t AffineTransform) Inverse() (AffineTransform, bool) {
	det := t.A*t.D - t.B*t.C
	if math.Abs(det) < 1e-10 {
		return AffineTransform{}, false
	}

	invDet := 1.0 / det
	return AffineTransform{
		A:  t.D * invDet,
		B:  -t.B * invDet,
		TX: (t.B*t.TY - t.D*t.TX) * invDet,
		C:  -t.C * invDet,
		D:  t.A * invDet,
		TY: (t.C*t.TX - t.A*t.TY) * invDet,
	}, true
}

// Aff3 returns the transform in row-major [a b tx c d ty] order, the layout
// used by golang.org/x/image/math/f64.Aff3.
func (t AffineTransform) Aff3() [6]float64 {
	return [6]float64{t.A, t.B, t.TX, t.C, t.D, t.TY}
}
