// Package png renders a matrix as a colour-mapped PNG image. Row i becomes
// image row i and column j becomes pixel j.
package png

import (
	"fmt"
	"image"
	"image/color"
	stdpng "image/png"
	"io"
	"math"

	"yqhp/rowfarm/internal/encoder"
	"yqhp/rowfarm/pkg/types"
)

func init() {
	encoder.Register("png", func() encoder.Encoder { return &Encoder{} })
}

// Encoder writes PNG images.
type Encoder struct{}

func (*Encoder) Extension() string { return "png" }

// Encode maps values in [0, 1] through the palette; a matrix with values
// outside that range is rescaled to it first.
func (*Encoder) Encode(w io.Writer, m *types.ResultMatrix) error {
	if m.Height == 0 || m.Width == 0 {
		return fmt.Errorf("cannot render an empty %dx%d matrix", m.Height, m.Width)
	}

	lo, hi := encoder.Range(m)
	scale := func(v float64) float64 { return v }
	if lo < 0 || hi > 1 {
		span := hi - lo
		scale = func(v float64) float64 {
			if span == 0 {
				return 0
			}
			return (v - lo) / span
		}
	}

	img := image.NewRGBA(image.Rect(0, 0, m.Width, m.Height))
	for i, row := range m.Rows {
		for j, v := range row {
			img.Set(j, i, Palette(scale(v)))
		}
	}
	return stdpng.Encode(w, img)
}

// Palette maps t in [0, 1] to a colour: dark blue through orange for fast
// escapes, black for points that never escaped.
func Palette(t float64) color.RGBA {
	if math.IsNaN(t) || t <= 0 {
		return color.RGBA{A: 255}
	}
	if t >= 1 {
		t = 1
	}
	u := 1 - t
	return color.RGBA{
		R: channel(9 * u * t * t * t),
		G: channel(15 * u * u * t * t),
		B: channel(8.5 * u * u * u * t),
		A: 255,
	}
}

func channel(v float64) uint8 {
	return uint8(math.Max(0, math.Min(255, v*255)))
}
