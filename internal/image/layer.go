// Package image provides image loading, the layer model that carries each
// image's transform, resampling into another layer's frame, and compositing.
package image

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"affinder/pkg/geometry"

	_ "golang.org/x/image/tiff"
)

// Layer represents a single image with its placement in world space.
type Layer struct {
	Name    string      // Display name, defaults to the file name
	Path    string      // Original file path
	Image   image.Image // Loaded image data
	Visible bool        // Layer visibility
	Opacity float64     // Layer opacity (0.0 - 1.0)

	// Transform maps the layer's pixel coordinates (row, column) into world
	// coordinates. It is replaced, never modified, when a new alignment is
	// applied.
	Transform geometry.Matrix
}

// NewLayer creates a Layer for img with an identity transform.
func NewLayer(name string, img image.Image) *Layer {
	return &Layer{
		Name:      name,
		Image:     img,
		Visible:   true,
		Opacity:   1.0,
		Transform: geometry.IdentityMatrix(2),
	}
}

// Load loads an image from the specified path and returns a Layer.
func Load(path string) (*Layer, error) {
	if !IsSupportedFormat(path) {
		return nil, fmt.Errorf("unsupported image format: %s", filepath.Ext(path))
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	layer := NewLayer(name, img)
	layer.Path = path
	return layer, nil
}

// Width returns the image width in pixels.
func (l *Layer) Width() int {
	if l.Image == nil {
		return 0
	}
	return l.Image.Bounds().Dx()
}

// Height returns the image height in pixels.
func (l *Layer) Height() int {
	if l.Image == nil {
		return 0
	}
	return l.Image.Bounds().Dy()
}

// Extent returns the world-space bounding box (row, column order) of the
// layer's pixel corners under its transform.
func (l *Layer) Extent() (lo, hi geometry.Point) {
	h, w := float64(l.Height()), float64(l.Width())
	corners := geometry.PointSet{{0, 0}, {0, w}, {h, 0}, {h, w}}
	return geometry.BoundingBox(l.Transform.ApplyAll(corners))
}

// PixelAt returns the color at the specified pixel coordinates.
func (l *Layer) PixelAt(x, y int) color.Color {
	if l.Image == nil {
		return color.Black
	}
	bounds := l.Image.Bounds()
	if x < bounds.Min.X || x >= bounds.Max.X || y < bounds.Min.Y || y >= bounds.Max.Y {
		return color.Black
	}
	return l.Image.At(x, y)
}

// SavePNG writes img to path as PNG.
func SavePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}

// SupportedFormats returns the list of supported image formats.
func SupportedFormats() []string {
	return []string{".tiff", ".tif", ".png", ".jpg", ".jpeg"}
}

// IsSupportedFormat checks if the given path has a supported image format.
func IsSupportedFormat(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, format := range SupportedFormats() {
		if ext == format {
			return true
		}
	}
	return false
}
