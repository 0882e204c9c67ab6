package render

import (
	"image/color"
	"math"

	"gonum.org/v1/plot/palette"
)

// viridisStops are evenly spaced samples of the viridis colormap.
var viridisStops = []color.NRGBA{
	{0x44, 0x01, 0x54, 0xff},
	{0x47, 0x2d, 0x7b, 0xff},
	{0x3b, 0x52, 0x8b, 0xff},
	{0x2c, 0x72, 0x8e, 0xff},
	{0x21, 0x91, 0x8c, 0xff},
	{0x28, 0xae, 0x80, 0xff},
	{0x5e, 0xc9, 0x62, 0xff},
	{0xad, 0xdc, 0x30, 0xff},
	{0xfd, 0xe7, 0x25, 0xff},
}

// Viridis is a palette.ColorMap interpolating the viridis colormap linearly
// between Min and Max.
type Viridis struct {
	min, max float64
	alpha    float64
}

var _ palette.ColorMap = (*Viridis)(nil)

// NewViridis returns a viridis colormap over [lo, hi].
func NewViridis(lo, hi float64) *Viridis {
	return &Viridis{min: lo, max: hi, alpha: 1}
}

// At returns the color for v. Values outside [Min, Max] return the end color
// together with palette.ErrUnderflow or palette.ErrOverflow.
func (v *Viridis) At(x float64) (color.Color, error) {
	if math.IsNaN(x) {
		return nil, palette.ErrNaN
	}
	// Allow rounding noise at the ends, which the color bar produces.
	eps := 1e-9 * math.Abs(v.max-v.min)
	switch {
	case x < v.min-eps:
		return v.interpolate(0), palette.ErrUnderflow
	case x > v.max+eps:
		return v.interpolate(1), palette.ErrOverflow
	}
	if v.max == v.min {
		return v.interpolate(1), nil
	}
	return v.interpolate((x - v.min) / (v.max - v.min)), nil
}

// Colorize is At without range errors: out-of-range values clamp.
func (v *Viridis) Colorize(x float64) color.NRGBA {
	if math.IsNaN(x) || v.max == v.min {
		return v.interpolate(0)
	}
	return v.interpolate((x - v.min) / (v.max - v.min))
}

func (v *Viridis) interpolate(f float64) color.NRGBA {
	f = min(max(f, 0), 1)
	pos := f * float64(len(viridisStops)-1)
	i := min(int(pos), len(viridisStops)-2)
	frac := pos - float64(i)

	lo, hi := viridisStops[i], viridisStops[i+1]
	mix := func(a, b uint8) uint8 {
		return uint8(math.Round(float64(a) + (float64(b)-float64(a))*frac))
	}
	return color.NRGBA{
		R: mix(lo.R, hi.R),
		G: mix(lo.G, hi.G),
		B: mix(lo.B, hi.B),
		A: uint8(math.Round(255 * v.alpha)),
	}
}

// Max returns the upper end of the mapped range.
func (v *Viridis) Max() float64 { return v.max }

// SetMax sets the upper end of the mapped range.
func (v *Viridis) SetMax(x float64) { v.max = x }

// Min returns the lower end of the mapped range.
func (v *Viridis) Min() float64 { return v.min }

// SetMin sets the lower end of the mapped range.
func (v *Viridis) SetMin(x float64) { v.min = x }

// Alpha returns the opacity applied to every color.
func (v *Viridis) Alpha() float64 { return v.alpha }

// SetAlpha sets the opacity applied to every color.
func (v *Viridis) SetAlpha(a float64) { v.alpha = min(max(a, 0), 1) }

// Palette returns n colors evenly spaced over the map.
func (v *Viridis) Palette(n int) palette.Palette {
	colors := make(colorList, n)
	for i := range colors {
		f := 0.0
		if n > 1 {
			f = float64(i) / float64(n-1)
		}
		colors[i] = v.interpolate(f)
	}
	return colors
}

type colorList []color.Color

func (c colorList) Colors() []color.Color { return c }
