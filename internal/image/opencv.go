package image

import (
	"fmt"
	"image"
	"image/color"
	"runtime"
	"sync"

	"affinder/pkg/geometry"

	"gocv.io/x/gocv"
)

// WarpOpenCV is Warp implemented with OpenCV's warpAffine. OpenCV already
// places pixel centres on integer coordinates, so the matrix is passed as
// is (converted to x/y order).
func WarpOpenCV(src image.Image, m geometry.Matrix, width, height int) (image.Image, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid output size %dx%d", width, height)
	}
	t, err := m.XY()
	if err != nil {
		return nil, err
	}

	in, err := imageToMat(src)
	if err != nil {
		return nil, fmt.Errorf("failed to convert image: %w", err)
	}
	defer in.Close()

	transformMat := gocv.NewMatWithSize(2, 3, gocv.MatTypeCV64F)
	defer transformMat.Close()
	transformMat.SetDoubleAt(0, 0, t.A)
	transformMat.SetDoubleAt(0, 1, t.B)
	transformMat.SetDoubleAt(0, 2, t.TX)
	transformMat.SetDoubleAt(1, 0, t.C)
	transformMat.SetDoubleAt(1, 1, t.D)
	transformMat.SetDoubleAt(1, 2, t.TY)

	out := gocv.NewMat()
	defer out.Close()
	gocv.WarpAffineWithParams(in, &out, transformMat, image.Point{X: width, Y: height},
		gocv.InterpolationLinear, gocv.BorderConstant, color.RGBA{})

	return matToImage(out)
}

// OverlayOpenCV blends reference and warped with OpenCV's addWeighted:
// opacity·warped + (1−opacity)·reference.
func OverlayOpenCV(reference, warped image.Image, opacity float64) (image.Image, error) {
	a, err := imageToMat(reference)
	if err != nil {
		return nil, err
	}
	defer a.Close()
	b, err := imageToMat(warped)
	if err != nil {
		return nil, err
	}
	defer b.Close()
	if a.Rows() != b.Rows() || a.Cols() != b.Cols() {
		return nil, fmt.Errorf("overlay size mismatch: %dx%d vs %dx%d", a.Cols(), a.Rows(), b.Cols(), b.Rows())
	}

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.AddWeighted(b, opacity, a, 1.0-opacity, 0, &dst)
	return matToImage(dst)
}

// imageToMat converts a Go image.Image to a BGR gocv.Mat (parallelized).
func imageToMat(img image.Image) (gocv.Mat, error) {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width == 0 || height == 0 {
		return gocv.Mat{}, fmt.Errorf("empty image")
	}

	mat := gocv.NewMatWithSize(height, width, gocv.MatTypeCV8UC3)
	forStripes(height, func(yStart, yEnd int) {
		for y := yStart; y < yEnd; y++ {
			for x := 0; x < width; x++ {
				r, g, b, _ := img.At(x+bounds.Min.X, y+bounds.Min.Y).RGBA()
				// OpenCV uses BGR format
				mat.SetUCharAt(y, x*3+0, uint8(b>>8))
				mat.SetUCharAt(y, x*3+1, uint8(g>>8))
				mat.SetUCharAt(y, x*3+2, uint8(r>>8))
			}
		}
	})
	return mat, nil
}

// matToImage converts a BGR gocv.Mat to an RGBA image (parallelized).
func matToImage(mat gocv.Mat) (image.Image, error) {
	h := mat.Rows()
	w := mat.Cols()
	if mat.Channels() != 3 {
		return nil, fmt.Errorf("expected 3 channels, got %d", mat.Channels())
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	stride := img.Stride
	forStripes(h, func(yStart, yEnd int) {
		for y := yStart; y < yEnd; y++ {
			rowOffset := y * stride
			for x := 0; x < w; x++ {
				pixOffset := rowOffset + x*4
				img.Pix[pixOffset+0] = mat.GetUCharAt(y, x*3+2) // R
				img.Pix[pixOffset+1] = mat.GetUCharAt(y, x*3+1) // G
				img.Pix[pixOffset+2] = mat.GetUCharAt(y, x*3+0) // B
				img.Pix[pixOffset+3] = 255
			}
		}
	})
	return img, nil
}

// forStripes runs fn over horizontal stripes of [0, height), one per CPU.
func forStripes(height int, fn func(yStart, yEnd int)) {
	numWorkers := runtime.NumCPU()
	rowsPerWorker := (height + numWorkers - 1) / numWorkers

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		startY := w * rowsPerWorker
		if startY >= height {
			break
		}
		endY := min(startY+rowsPerWorker, height)

		wg.Add(1)
		go func(yStart, yEnd int) {
			defer wg.Done()
			fn(yStart, yEnd)
		}(startY, endY)
	}
	wg.Wait()
}
