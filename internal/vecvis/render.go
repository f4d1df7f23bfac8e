// Package vecvis renders embedding vectors as grids of colored cells.
package vecvis

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"io"
	"math"

	"github.com/wcharczuk/go-chart/v2/drawing"
)

const (
	DefaultRows    = 16
	DefaultSpacing = 0.5
	// CellPixels is the default edge of one cell, spacing included.
	CellPixels = 4

	// MaxDimension bounds rows, columns and either edge of the surface.
	MaxDimension = 4096
	MaxPixels    = 1 << 22
)

var (
	ErrBoundsLength = errors.New("min/max bounds must match the vector length")
	ErrTooLarge     = errors.New("render surface too large")
)

// Options controls the grid layout. Zero Rows, Width or Height fall back to
// their defaults; Spacing is taken as given, use NewOptions for the default.
type Options struct {
	Rows    int
	Spacing float64
	Width   int
	Height  int

	MinValues []float64
	MaxValues []float64
}

func NewOptions() Options {
	return Options{Rows: DefaultRows, Spacing: DefaultSpacing}
}

// Grid is the resolved layout for a vector of N values.
type Grid struct {
	N          int     `json:"n"`
	Rows       int     `json:"rows"`
	Cols       int     `json:"cols"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Spacing    float64 `json:"spacing"`
	CellWidth  float64 `json:"cell_width"`
	CellHeight float64 `json:"cell_height"`
}

// Layout resolves opts for a vector of n values.
func Layout(n int, opts Options) Grid {
	g := Grid{N: n, Rows: opts.Rows, Spacing: opts.Spacing, Width: opts.Width, Height: opts.Height}
	if g.Rows <= 0 {
		g.Rows = DefaultRows
	}
	if g.Spacing < 0 {
		g.Spacing = 0
	}
	if n > 0 {
		g.Cols = int(math.Ceil(float64(n) / float64(g.Rows)))
	}
	if g.Width <= 0 {
		g.Width = g.Cols * CellPixels
	}
	if g.Height <= 0 {
		g.Height = g.Rows * CellPixels
	}
	g.CellHeight = float64(g.Height)/float64(g.Rows) - g.Spacing
	if g.Cols > 0 {
		g.CellWidth = float64(g.Width)/float64(g.Cols) - g.Spacing
	}
	return g
}

// Check rejects grids beyond MaxDimension or MaxPixels.
func (g Grid) Check() error {
	if g.Rows > MaxDimension || g.Cols > MaxDimension {
		return fmt.Errorf("%w: %d rows, %d cols", ErrTooLarge, g.Rows, g.Cols)
	}
	if g.Width > MaxDimension || g.Height > MaxDimension || g.Width*g.Height > MaxPixels {
		return fmt.Errorf("%w: %dx%d", ErrTooLarge, g.Width, g.Height)
	}
	return nil
}

// Origin returns the top-left corner of cell i.
func (g Grid) Origin(i int) (x, y float64) {
	if g.Cols == 0 {
		return 0, 0
	}
	col := i % g.Cols
	row := i / g.Cols
	return float64(col) * (g.CellWidth + g.Spacing), float64(row) * (g.CellHeight + g.Spacing)
}

// Canvas is a reusable drawing surface. Every Render clears all of it first.
type Canvas struct {
	img *image.RGBA
}

func NewCanvas() *Canvas {
	return &Canvas{}
}

// Image returns the current surface.
func (c *Canvas) Image() *image.RGBA {
	if c == nil {
		return nil
	}
	return c.img
}

// Render draws vec onto the canvas, resizing it to the grid when needed.
// An empty vector leaves a cleared surface.
func (c *Canvas) Render(vec []float64, opts Options) error {
	if c == nil {
		return fmt.Errorf("canvas is nil")
	}
	perDim := len(opts.MinValues) > 0 && len(opts.MaxValues) > 0
	if perDim && len(vec) > 0 && (len(opts.MinValues) < len(vec) || len(opts.MaxValues) < len(vec)) {
		return fmt.Errorf("%w: %d values, %d min, %d max", ErrBoundsLength, len(vec), len(opts.MinValues), len(opts.MaxValues))
	}

	g := Layout(len(vec), opts)
	if err := g.Check(); err != nil {
		return err
	}
	bounds := image.Rect(0, 0, g.Width, g.Height)
	if c.img == nil || c.img.Bounds() != bounds {
		c.img = image.NewRGBA(bounds)
	}
	draw.Draw(c.img, c.img.Bounds(), image.Transparent, image.Point{}, draw.Src)

	if len(vec) == 0 || g.CellWidth <= 0 || g.CellHeight <= 0 {
		return nil
	}

	gc, err := drawing.NewRasterGraphicContext(c.img)
	if err != nil {
		return fmt.Errorf("raster context: %w", err)
	}
	for i, v := range vec {
		scale := SharedDomain
		if perDim {
			scale = Diverging{Lo: opts.MinValues[i], Mid: 0, Hi: opts.MaxValues[i]}
		}
		col, ok := scale.At(v)
		if !ok {
			continue
		}
		x, y := g.Origin(i)
		gc.BeginPath()
		gc.SetFillColor(col)
		gc.MoveTo(x, y)
		gc.LineTo(x+g.CellWidth, y)
		gc.LineTo(x+g.CellWidth, y+g.CellHeight)
		gc.LineTo(x, y+g.CellHeight)
		gc.Close()
		gc.Fill()
	}
	return nil
}

// Render draws vec onto a fresh surface.
func Render(vec []float64, opts Options) (*image.RGBA, error) {
	c := NewCanvas()
	if err := c.Render(vec, opts); err != nil {
		return nil, err
	}
	return c.Image(), nil
}

// EncodePNG writes img as PNG.
func EncodePNG(w io.Writer, img image.Image) error {
	if img == nil {
		return fmt.Errorf("image is nil")
	}
	return png.Encode(w, img)
}
