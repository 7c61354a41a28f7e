// Package plots renders algorithm comparison charts for aggregated result
// series.
package plots

import (
	"bufio"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/neehar-mavuduru/argosbench/aggregate"
	"github.com/neehar-mavuduru/argosbench/results"
)

// Options controls rendering.
type Options struct {
	DPI        int
	Width      vg.Length
	Height     vg.Length
	Downsample int  // Keep every n-th step
	NoBands    bool // Omit the SEM bands
}

// DefaultOptions returns 8x5 inch charts at 150 DPI.
func DefaultOptions() Options {
	return Options{
		DPI:        150,
		Width:      8 * vg.Inch,
		Height:     5 * vg.Inch,
		Downsample: 1,
	}
}

func (o *Options) applyDefaults() {
	d := DefaultOptions()
	if o.DPI <= 0 {
		o.DPI = d.DPI
	}
	if o.Width <= 0 {
		o.Width = d.Width
	}
	if o.Height <= 0 {
		o.Height = d.Height
	}
	if o.Downsample <= 0 {
		o.Downsample = 1
	}
}

// Title returns the chart title for metric m in group g.
func Title(m results.Metric, g results.Group) string {
	return fmt.Sprintf("%s (%d robots, %d targets)", m.Title(), g.Robots, g.Targets)
}

// FileName returns the chart base name (without extension).
func FileName(m results.Metric, g results.Group) string {
	return fmt.Sprintf("%dr_%dt_%s", g.Robots, g.Targets, m)
}

// Render draws one line per algorithm with a translucent SEM band. It returns
// nil when no algorithm has data.
func Render(title string, m results.Metric, series map[string]aggregate.Series, opts Options) (*plot.Plot, error) {
	opts.applyDefaults()

	names := make([]string, 0, len(series))
	for name, s := range series {
		if len(s.Points) > 0 {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil, nil
	}
	sort.Strings(names)

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "step"
	p.Y.Label.Text = m.Unit()
	stylePlot(p)

	for i, name := range names {
		s := aggregate.Downsample(series[name], opts.Downsample)
		c := plotutil.Color(i)

		if !opts.NoBands {
			band, err := semBand(s, c)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			if band != nil {
				p.Add(band)
			}
		}

		line, err := plotter.NewLine(meanXYs(s))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		line.LineStyle.Width = vg.Points(1.5)
		line.LineStyle.Color = c
		line.LineStyle.Dashes = plotutil.Dashes(i)
		p.Add(line)
		p.Legend.Add(name, line)
	}

	p.Legend.Top = true
	p.Legend.Left = m == results.DistanceToLight
	return p, nil
}

func meanXYs(s aggregate.Series) plotter.XYs {
	pts := make(plotter.XYs, len(s.Points))
	for i, st := range s.Points {
		pts[i].X = float64(st.Step)
		pts[i].Y = st.Mean
	}
	return pts
}

// semBand returns the polygon mean±SEM, or nil when there is nothing to shade.
func semBand(s aggregate.Series, c color.Color) (*plotter.Polygon, error) {
	if len(s.Points) < 2 {
		return nil, nil
	}
	hasSpread := false
	for _, st := range s.Points {
		if st.SEM > 0 {
			hasSpread = true
			break
		}
	}
	if !hasSpread {
		return nil, nil
	}

	n := len(s.Points)
	ring := make(plotter.XYs, 0, 2*n)
	for _, st := range s.Points {
		ring = append(ring, plotter.XY{X: float64(st.Step), Y: st.Mean + st.SEM})
	}
	for i := n - 1; i >= 0; i-- {
		st := s.Points[i]
		ring = append(ring, plotter.XY{X: float64(st.Step), Y: st.Mean - st.SEM})
	}

	poly, err := plotter.NewPolygon(ring)
	if err != nil {
		return nil, err
	}
	fill := color.NRGBAModel.Convert(c).(color.NRGBA)
	fill.A = 56
	poly.Color = fill
	poly.LineStyle.Width = 0
	return poly, nil
}

func stylePlot(p *plot.Plot) {
	p.Title.TextStyle.Font.Size = vg.Points(14)
	p.Title.Padding = vg.Points(8)

	p.X.Label.TextStyle.Font.Size = vg.Points(12)
	p.Y.Label.TextStyle.Font.Size = vg.Points(12)
	p.X.Tick.Label.Font.Size = vg.Points(10)
	p.Y.Tick.Label.Font.Size = vg.Points(10)

	p.Add(plotter.NewGrid())
}

// SavePNG writes p as a PNG file, creating parent directories.
func SavePNG(p *plot.Plot, path string, opts Options) error {
	opts.applyDefaults()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("cannot create directory: %w", err)
	}

	c := vgimg.NewWith(
		vgimg.UseWH(opts.Width, opts.Height),
		vgimg.UseDPI(opts.DPI),
	)
	p.Draw(draw.New(c))

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("cannot create png: %w", err)
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	if _, err := (vgimg.PngCanvas{Canvas: c}).WriteTo(bw); err != nil {
		return fmt.Errorf("cannot write png: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("cannot write png: %w", err)
	}
	return f.Close()
}
