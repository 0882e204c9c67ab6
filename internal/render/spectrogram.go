// Package render draws spectrogram images with gonum/plot.
package render

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/oszuidwest/listening-workshop/internal/dsp"
	"github.com/oszuidwest/listening-workshop/internal/util"
)

// Rendering defaults: a 10 x 4 inch figure at 100 dpi.
const (
	DefaultWidth   = 10 * vg.Inch
	DefaultHeight  = 4 * vg.Inch
	DefaultDPI     = 100
	DefaultTitle   = "Spectrogram"
	MaxColumns     = 1200
	MaxRows        = 512
	colorBarWidth  = 1.1 * vg.Inch
	colorBarLabels = "%+2.0f dB"
)

// ErrEmptySpectrogram is returned when there is nothing to draw.
var ErrEmptySpectrogram = errors.New("spectrogram is empty")

// Options controls the rendered figure.
type Options struct {
	Width  vg.Length
	Height vg.Length
	DPI    int
	Title  string
}

// DefaultOptions returns the standard figure settings.
func DefaultOptions() Options {
	return Options{
		Width:  DefaultWidth,
		Height: DefaultHeight,
		DPI:    DefaultDPI,
		Title:  DefaultTitle,
	}
}

// Spectrogram renders a dB spectrogram as a PNG with a time axis in seconds,
// a frequency axis in Hz and a color bar.
func Spectrogram(sg *dsp.Spectrogram, opts Options) ([]byte, error) {
	if sg == nil || sg.NumFrames() == 0 || sg.NumBins() == 0 {
		return nil, ErrEmptySpectrogram
	}
	if opts.Width <= colorBarWidth || opts.Height <= 0 || opts.DPI <= 0 {
		return nil, fmt.Errorf("invalid figure size %vx%v at %d dpi", opts.Width, opts.Height, opts.DPI)
	}

	grid := downsample(sg.Frames, MaxColumns, MaxRows)
	lo, hi := gridRange(grid)
	cmap := NewViridis(lo, hi)

	duration := float64(sg.NumFrames()*sg.Hop) / float64(sg.SampleRate)
	nyquist := float64(sg.SampleRate) / 2

	p := plot.New()
	p.Title.Text = opts.Title
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Frequency (Hz)"
	p.X.Min, p.X.Max = 0, duration
	p.Y.Min, p.Y.Max = 0, nyquist
	p.Add(plotter.NewImage(rasterize(grid, cmap), 0, 0, duration, nyquist))

	bar := plot.New()
	bar.HideX()
	bar.Y.Padding = 0
	bar.Title.Text = " "
	bar.Add(&plotter.ColorBar{ColorMap: cmap, Vertical: true})
	bar.Y.Tick.Marker = plot.TickerFunc(decibelTicks)

	canvas := vgimg.NewWith(vgimg.UseWH(opts.Width, opts.Height), vgimg.UseDPI(opts.DPI))
	dc := draw.New(canvas)
	p.Draw(draw.Crop(dc, 0, -colorBarWidth, 0, 0))
	bar.Draw(draw.Crop(dc, opts.Width-colorBarWidth, 0, 0, 0))

	var buf bytes.Buffer
	if _, err := (vgimg.PngCanvas{Canvas: canvas}).WriteTo(&buf); err != nil {
		return nil, util.WrapError("encode spectrogram PNG", err)
	}
	return buf.Bytes(), nil
}

func decibelTicks(lo, hi float64) []plot.Tick {
	ticks := plot.DefaultTicks{}.Ticks(lo, hi)
	for i := range ticks {
		if ticks[i].Label != "" {
			ticks[i].Label = fmt.Sprintf(colorBarLabels, ticks[i].Value)
		}
	}
	return ticks
}

// downsample max-pools frames (time x frequency) so that the result has at
// most maxCols frames and maxRows bins. The returned grid keeps the
// frame-major layout.
func downsample(frames [][]float64, maxCols, maxRows int) [][]float64 {
	cols, rows := len(frames), len(frames[0])
	colStep := (cols + maxCols - 1) / maxCols
	rowStep := (rows + maxRows - 1) / maxRows
	if colStep <= 1 && rowStep <= 1 {
		return frames
	}

	outCols := (cols + colStep - 1) / colStep
	outRows := (rows + rowStep - 1) / rowStep
	out := make([][]float64, outCols)
	for c := range out {
		row := make([]float64, outRows)
		for r := range row {
			peak := math.Inf(-1)
			for t := c * colStep; t < min((c+1)*colStep, cols); t++ {
				for k := r * rowStep; k < min((r+1)*rowStep, rows); k++ {
					peak = max(peak, frames[t][k])
				}
			}
			row[r] = peak
		}
		out[c] = row
	}
	return out
}

func gridRange(grid [][]float64) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, col := range grid {
		for _, v := range col {
			lo = min(lo, v)
			hi = max(hi, v)
		}
	}
	if lo == hi {
		lo = hi - 1
	}
	return lo, hi
}

// rasterize draws the grid with low frequencies at the bottom.
func rasterize(grid [][]float64, cmap *Viridis) image.Image {
	cols, rows := len(grid), len(grid[0])
	img := image.NewNRGBA(image.Rect(0, 0, cols, rows))
	for x, col := range grid {
		for k, v := range col {
			img.SetNRGBA(x, rows-1-k, cmap.Colorize(v))
		}
	}
	return img
}
