package report

import (
	"fmt"
	"image/color"
	"math"
	"os"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

// pie is a plot.Plotter that fills one wedge per positive value, starting at
// twelve o'clock and going counter-clockwise.
type pie struct {
	values []float64
	total  float64
}

func (pc pie) Plot(c draw.Canvas, _ *plot.Plot) {
	center := c.Center()
	radius := min(c.Max.X-c.Min.X, c.Max.Y-c.Min.Y) / 2 * 0.9

	start := math.Pi / 2
	for i, v := range pc.values {
		if v <= 0 {
			continue
		}
		angle := 2 * math.Pi * v / pc.total

		var wedge vg.Path
		wedge.Move(center)
		wedge.Arc(center, radius, start, angle)
		wedge.Close()

		c.SetColor(plotutil.Color(i))
		c.Fill(wedge)
		start += angle
	}
}

func (pc pie) DataRange() (xmin, xmax, ymin, ymax float64) {
	return -1, 1, -1, 1
}

// swatch is a solid legend thumbnail.
type swatch struct {
	color color.Color
}

func (s swatch) Thumbnail(c *draw.Canvas) {
	c.FillPolygon(s.color, []vg.Point{
		{X: c.Min.X, Y: c.Min.Y},
		{X: c.Min.X, Y: c.Max.Y},
		{X: c.Max.X, Y: c.Max.Y},
		{X: c.Max.X, Y: c.Min.Y},
	})
}

// grid adapts a square matrix to plotter.GridXYZ. Row r is drawn at y=r.
type grid [][]float64

func (g grid) Dims() (c, r int)   { return len(g), len(g) }
func (g grid) Z(c, r int) float64 { return g[r][c] }
func (g grid) X(c int) float64    { return float64(c) }
func (g grid) Y(r int) float64    { return float64(r) }

// saveTiles lays plots out on one image and writes it as PNG.
func saveTiles(plots [][]*plot.Plot, path string, width, height vg.Length) error {
	img := vgimg.New(width, height)
	dc := draw.New(img)

	tiles := draw.Tiles{
		Rows:      len(plots),
		Cols:      len(plots[0]),
		PadX:      vg.Millimeter * 4,
		PadY:      vg.Millimeter * 4,
		PadTop:    vg.Millimeter * 2,
		PadBottom: vg.Millimeter * 2,
		PadLeft:   vg.Millimeter * 2,
		PadRight:  vg.Millimeter * 2,
	}

	canvases := plot.Align(plots, tiles, dc)
	for j := range plots {
		for i, p := range plots[j] {
			if p != nil {
				p.Draw(canvases[j][i])
			}
		}
	}
	return writePNG(img, path)
}

func writePNG(img *vgimg.Canvas, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := (vgimg.PngCanvas{Canvas: img}).WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
