package image

import (
	"fmt"
	"image"

	"affinder/pkg/geometry"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// Warp resamples src onto a width×height canvas. m maps src pixel
// coordinates (row, column) to canvas pixel coordinates, which is the
// matrix Estimate returns for moving → reference. Canvas pixels that no
// source pixel reaches stay transparent.
func Warp(src image.Image, m geometry.Matrix, width, height int) (*image.RGBA, error) {
	return WarpWith(src, m, width, height, draw.BiLinear)
}

// WarpWith is Warp with an explicit interpolator.
func WarpWith(src image.Image, m geometry.Matrix, width, height int, interp draw.Interpolator) (*image.RGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid output size %dx%d", width, height)
	}
	t, err := m.XY()
	if err != nil {
		return nil, err
	}
	if _, ok := t.Inverse(); !ok {
		return nil, fmt.Errorf("transform is not invertible")
	}

	// Matrix coordinates put pixel centres on integers; draw puts them on
	// half-integers and addresses the source by its absolute bounds.
	origin := src.Bounds().Min
	s2d := geometry.Translation(0.5, 0.5).
		Compose(t).
		Compose(geometry.Translation(-0.5-float64(origin.X), -0.5-float64(origin.Y)))

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	interp.Transform(dst, f64.Aff3(s2d.Aff3()), src, src.Bounds(), draw.Src, nil)
	return dst, nil
}

// WarpLayer resamples moving into reference's pixel grid using the layers'
// world transforms: reference⁻¹ ∘ moving.
func WarpLayer(reference, moving *Layer) (*image.RGBA, error) {
	refInv, err := reference.Transform.Inverse()
	if err != nil {
		return nil, err
	}
	return Warp(moving.Image, refInv.Compose(moving.Transform), reference.Width(), reference.Height())
}
