package report

import (
	"fmt"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/elonfeng/socialpulse/pkg/record"
)

const barWidth = 18

// renderAverages tiles one bar chart per metric, one bar per source.
func renderAverages(set record.Set, path string, width, height vg.Length) error {
	sources, means := averages(set)
	names := record.MetricNames()

	const rows, cols = 2, 3
	plots := make([][]*plot.Plot, rows)
	for i := range plots {
		plots[i] = make([]*plot.Plot, cols)
	}

	for i, metric := range names {
		p := plot.New()
		p.Title.Text = "Average " + metric + " per post"
		p.Y.Label.Text = metric

		bars, err := plotter.NewBarChart(plotter.Values(means[metric]), vg.Points(barWidth))
		if err != nil {
			return fmt.Errorf("%s bars: %w", metric, err)
		}
		bars.Color = plotutil.Color(i)
		bars.LineStyle.Width = 0
		p.Add(bars)
		p.NominalX(sources...)

		plots[i/cols][i%cols] = p
	}
	return saveTiles(plots, path, width*1.6, height*1.6)
}

// renderShare draws each source's slice of total engagement.
func renderShare(set record.Set, path string, width, height vg.Length) error {
	sources, totals, total := engagementShare(set)
	if total <= 0 {
		return skip("total engagement is zero")
	}

	p := plot.New()
	p.Title.Text = "Engagement share by source (likes + shares + replies)"
	p.HideAxes()
	p.Add(pie{values: totals, total: total})
	for i, src := range sources {
		if totals[i] <= 0 {
			continue
		}
		p.Legend.Add(fmt.Sprintf("%s %.1f%%", src, 100*totals[i]/total), swatch{color: plotutil.Color(i)})
	}
	p.Legend.Top = true
	p.Legend.Left = true
	return p.Save(height, height, path)
}

// renderTrend plots likes over time per source.
func renderTrend(set record.Set, path string, width, height vg.Length) error {
	sources, series := trendSeries(set)
	if len(sources) == 0 {
		return skip("no record has a known timestamp")
	}

	p := plot.New()
	p.Title.Text = "Likes over time"
	p.X.Label.Text = "posted"
	p.Y.Label.Text = "likes"
	p.X.Tick.Marker = plot.TimeTicks{Format: "2006-01-02"}
	p.Add(plotter.NewGrid())

	for i, src := range sources {
		pts := make(plotter.XYs, len(series[src]))
		for j, pt := range series[src] {
			pts[j].X = float64(pt.At.Unix())
			pts[j].Y = float64(pt.Likes)
		}
		line, points, err := plotter.NewLinePoints(pts)
		if err != nil {
			return fmt.Errorf("%s series: %w", src, err)
		}
		line.Color = plotutil.Color(i)
		points.Color = plotutil.Color(i)
		points.Shape = draw.CircleGlyph{}
		p.Add(line, points)
		p.Legend.Add(src, line, points)
	}
	return p.Save(width, height, path)
}

// renderScatter plots views against likes; glyph size follows shares.
func renderScatter(set record.Set, path string, width, height vg.Length) error {
	var maxShares int64
	for _, r := range set.Records {
		maxShares = max(maxShares, r.Metrics.Get(record.MetricShares))
	}

	p := plot.New()
	p.Title.Text = "Views vs likes (size = shares)"
	p.X.Label.Text = "views"
	p.Y.Label.Text = "likes"
	p.Add(plotter.NewGrid())

	grouped := set.BySource()
	for i, src := range set.Sources() {
		recs := grouped[src]
		pts := make(plotter.XYs, len(recs))
		for j, r := range recs {
			pts[j].X = float64(r.Metrics.Get(record.MetricViews))
			pts[j].Y = float64(r.Metrics.Get(record.MetricLikes))
		}
		sc, err := plotter.NewScatter(pts)
		if err != nil {
			return fmt.Errorf("%s points: %w", src, err)
		}
		c := plotutil.Color(i)
		sc.GlyphStyle.Color = c
		sc.GlyphStyle.Shape = draw.CircleGlyph{}
		sc.GlyphStyleFunc = func(j int) draw.GlyphStyle {
			return draw.GlyphStyle{
				Color:  c,
				Shape:  draw.CircleGlyph{},
				Radius: glyphRadius(recs[j].Metrics.Get(record.MetricShares), maxShares),
			}
		}
		p.Add(sc)
		p.Legend.Add(src, sc)
	}
	return p.Save(width, height, path)
}

func glyphRadius(v, maxV int64) vg.Length {
	const lo, hi = 2.0, 10.0
	if maxV <= 0 {
		return vg.Points(lo)
	}
	return vg.Points(lo + (hi-lo)*float64(v)/float64(maxV))
}

// renderCorrelation draws the Pearson matrix as an annotated heat map.
func renderCorrelation(set record.Set, path string, width, height vg.Length) error {
	if set.Len() < 2 {
		return skip("need at least two records, have %d", set.Len())
	}
	m := correlation(set)
	names := record.MetricNames()

	cm := moreland.SmoothBlueRed()
	cm.SetMin(-1)
	cm.SetMax(1)
	cm.SetConvergePoint(0)

	hm := plotter.NewHeatMap(grid(m), cm.Palette(255))
	hm.Min, hm.Max = -1, 1

	var (
		xys  plotter.XYs
		text []string
	)
	for r := range m {
		for c := range m[r] {
			xys = append(xys, plotter.XY{X: float64(c), Y: float64(r)})
			text = append(text, fmt.Sprintf("%.2f", m[r][c]))
		}
	}
	labels, err := plotter.NewLabels(plotter.XYLabels{XYs: xys, Labels: text})
	if err != nil {
		return fmt.Errorf("cell labels: %w", err)
	}

	p := plot.New()
	p.Title.Text = "Correlation between metrics"
	p.Add(hm, labels)
	p.NominalX(names...)
	p.NominalY(names...)
	return p.Save(width*0.8, height, path)
}

// renderDistribution draws box plots of every declared metric per source,
// laid out three to a row.
func renderDistribution(set record.Set, path string, width, height vg.Length) error {
	grid, err := distributionGrid(set)
	if err != nil {
		return err
	}
	return saveTiles(grid, path, width*1.6, height*1.6)
}

func distributionGrid(set record.Set) ([][]*plot.Plot, error) {
	const perRow = 3
	sources := set.Sources()
	grouped := set.BySource()

	var grid [][]*plot.Plot
	for i, metric := range record.MetricNames() {
		if i%perRow == 0 {
			grid = append(grid, make([]*plot.Plot, perRow))
		}
		p := plot.New()
		p.Title.Text = metric + " distribution"
		p.Y.Label.Text = metric
		for j, src := range sources {
			box, err := plotter.NewBoxPlot(vg.Points(barWidth), float64(j), plotter.Values(column(grouped[src], metric)))
			if err != nil {
				return nil, fmt.Errorf("%s %s box: %w", src, metric, err)
			}
			box.FillColor = plotutil.Color(j)
			p.Add(box)
		}
		p.NominalX(sources...)
		grid[i/perRow][i%perRow] = p
	}
	return grid, nil
}
