package image

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"strings"
)

// BlendMode specifies how layers are composited.
type BlendMode int

const (
	BlendNormal BlendMode = iota
	BlendMultiply
	BlendScreen
	BlendOverlay
	BlendDifference
)

func (m BlendMode) String() string {
	switch m {
	case BlendNormal:
		return "normal"
	case BlendMultiply:
		return "multiply"
	case BlendScreen:
		return "screen"
	case BlendOverlay:
		return "overlay"
	case BlendDifference:
		return "difference"
	default:
		return "unknown"
	}
}

// ParseBlendMode converts a blend mode name, as printed by String.
func ParseBlendMode(name string) (BlendMode, error) {
	for m := BlendNormal; m <= BlendDifference; m++ {
		if strings.EqualFold(name, m.String()) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown blend mode %q", name)
}

// Composite stacks images of equal size; later layers are drawn on top.
type Composite struct {
	Width     int
	Height    int
	Layers    []CompositeLayer
	BackColor color.Color
}

// CompositeLayer is one image with its compositing settings.
type CompositeLayer struct {
	Image     image.Image
	BlendMode BlendMode
	Opacity   float64
}

// NewComposite creates a new Composite with the specified dimensions.
func NewComposite(width, height int) *Composite {
	return &Composite{
		Width:     width,
		Height:    height,
		BackColor: color.RGBA{40, 40, 40, 255}, // Dark gray background
	}
}

// AddLayer adds an image to the composite.
func (c *Composite) AddLayer(img image.Image, mode BlendMode, opacity float64) {
	c.Layers = append(c.Layers, CompositeLayer{Image: img, BlendMode: mode, Opacity: opacity})
}

// Render produces the final composited image.
func (c *Composite) Render() *image.RGBA {
	result := image.NewRGBA(image.Rect(0, 0, c.Width, c.Height))
	draw.Draw(result, result.Bounds(), &image.Uniform{c.BackColor}, image.Point{}, draw.Src)

	for _, cl := range c.Layers {
		if cl.Image == nil || cl.Opacity <= 0 {
			continue
		}
		c.compositeLayer(result, cl)
	}
	return result
}

// compositeLayer blends a single layer onto the result.
func (c *Composite) compositeLayer(dst *image.RGBA, cl CompositeLayer) {
	src := cl.Image
	b := src.Bounds()
	h := min(b.Dy(), c.Height)
	w := min(b.Dx(), c.Width)

	forStripes(h, func(yStart, yEnd int) {
		for y := yStart; y < yEnd; y++ {
			for x := 0; x < w; x++ {
				blended := blend(dst.RGBAAt(x, y), src.At(x+b.Min.X, y+b.Min.Y), cl.BlendMode, cl.Opacity)
				dst.SetRGBA(x, y, blended)
			}
		}
	})
}

// Overlay draws warped over reference with the given blend mode and
// opacity. The canvas takes the reference's size.
func Overlay(reference, warped image.Image, opacity float64, mode BlendMode) *image.RGBA {
	rb := reference.Bounds()
	c := NewComposite(rb.Dx(), rb.Dy())
	c.AddLayer(reference, BlendNormal, 1)
	c.AddLayer(warped, mode, opacity)
	return c.Render()
}

// blend performs the blend operation between two colors.
func blend(dst, src color.Color, mode BlendMode, opacity float64) color.RGBA {
	sr, sg, sb, sa := src.RGBA()
	dr, dg, db, da := dst.RGBA()

	// Convert to 0-1 range
	sf := [4]float64{float64(sr) / 65535.0, float64(sg) / 65535.0, float64(sb) / 65535.0, float64(sa) / 65535.0}
	df := [4]float64{float64(dr) / 65535.0, float64(dg) / 65535.0, float64(db) / 65535.0, float64(da) / 65535.0}

	// Un-premultiply the source so modes operate on straight color.
	if sf[3] > 0 {
		for i := 0; i < 3; i++ {
			sf[i] /= sf[3]
		}
	}

	var rf [3]float64
	for i := 0; i < 3; i++ {
		switch mode {
		case BlendMultiply:
			rf[i] = sf[i] * df[i]
		case BlendScreen:
			rf[i] = 1 - (1-sf[i])*(1-df[i])
		case BlendOverlay:
			if df[i] < 0.5 {
				rf[i] = 2 * sf[i] * df[i]
			} else {
				rf[i] = 1 - 2*(1-sf[i])*(1-df[i])
			}
		case BlendDifference:
			rf[i] = math.Abs(sf[i] - df[i])
		default:
			rf[i] = sf[i]
		}
	}

	// Apply opacity and alpha blending
	alpha := sf[3] * opacity
	return color.RGBA{
		R: uint8(math.Round(clamp(rf[0]*alpha+df[0]*(1-alpha), 0, 1) * 255)),
		G: uint8(math.Round(clamp(rf[1]*alpha+df[1]*(1-alpha), 0, 1) * 255)),
		B: uint8(math.Round(clamp(rf[2]*alpha+df[2]*(1-alpha), 0, 1) * 255)),
		A: uint8(math.Round(clamp(alpha+df[3]*(1-alpha), 0, 1) * 255)),
	}
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
