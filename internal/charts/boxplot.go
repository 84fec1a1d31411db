package charts

import (
	"math"

	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/kjstillabower/wind-analytics-service/internal/analysis"
)

// boxHalfWidth is half a box's width in x-axis units; groups sit one unit apart.
const boxHalfWidth = 0.3

// BoxGroup is one labelled box on a box plot.
type BoxGroup struct {
	Label string
	Box   analysis.Box
	Color int // palette index
}

func line(xs, ys []float64, style chart.Style) chart.ContinuousSeries {
	return chart.ContinuousSeries{XValues: xs, YValues: ys, Style: style}
}

// boxSeries draws a box, its median, whiskers with caps and outlier dots centred at x.
func boxSeries(x float64, b analysis.Box, color drawing.Color) []chart.Series {
	q1, med, q3 := float64(b.Q1), float64(b.Median), float64(b.Q3)
	lw, uw := float64(b.LowerWhisker), float64(b.UpperWhisker)
	l, r := x-boxHalfWidth, x+boxHalfWidth
	capW := boxHalfWidth / 2
	stroke := chart.Style{StrokeColor: color, StrokeWidth: 1.5}
	out := []chart.Series{
		line([]float64{l, r, r, l, l}, []float64{q1, q1, q3, q3, q1}, stroke),
		line([]float64{l, r}, []float64{med, med}, chart.Style{StrokeColor: chart.ColorBlack, StrokeWidth: 2}),
		line([]float64{x, x}, []float64{lw, q1}, stroke),
		line([]float64{x, x}, []float64{q3, uw}, stroke),
		line([]float64{x - capW, x + capW}, []float64{lw, lw}, stroke),
		line([]float64{x - capW, x + capW}, []float64{uw, uw}, stroke),
	}
	if len(b.Outliers) > 0 {
		xs := make([]float64, len(b.Outliers))
		for i := range xs {
			xs[i] = x
		}
		out = append(out, line(xs, b.Outliers, chart.Style{
			StrokeWidth: chart.Disabled,
			DotWidth:    2.5,
			DotColor:    color,
		}))
	}
	return out
}

// BoxPlot draws one box per group. Groups without data are left empty but keep their slot.
// yMin and yMax clamp the y axis when both are finite.
func (r *Renderer) BoxPlot(title, yLabel string, groups []BoxGroup, yMin, yMax float64) ([]byte, error) {
	var series []chart.Series
	var extent []float64
	ticks := make([]chart.Tick, 0, len(groups))
	for i, g := range groups {
		x := float64(i + 1)
		ticks = append(ticks, chart.Tick{Value: x, Label: g.Label})
		if g.Box.Count == 0 {
			continue
		}
		series = append(series, boxSeries(x, g.Box, seriesColor(g.Color))...)
		extent = append(extent, float64(g.Box.LowerWhisker), float64(g.Box.UpperWhisker))
		extent = append(extent, g.Box.Outliers...)
	}
	if len(series) == 0 {
		return nil, ErrNoData
	}
	ch := chart.Chart{
		Title: title,
		XAxis: chart.XAxis{
			Ticks: ticks,
			Range: &chart.ContinuousRange{Min: 0.5, Max: float64(len(groups)) + 0.5},
		},
		YAxis:  chart.YAxis{Name: yLabel},
		Series: series,
	}
	if !math.IsNaN(yMin) && !math.IsNaN(yMax) && yMax > yMin {
		ch.YAxis.Range = &chart.ContinuousRange{Min: yMin, Max: yMax}
	} else if yr := flatRange(extent); yr != nil {
		ch.YAxis.Range = yr
	}
	return r.render("boxplot", ch)
}

// Heights draws each common LiDAR height as a pair of boxes, site A then site B,
// with the y axis clamped to the widest per-height display range.
func (r *Renderer) Heights(h analysis.HeightComparison) ([]byte, error) {
	groups := make([]BoxGroup, 0, 2*len(h.Columns))
	yMin, yMax := math.Inf(1), math.Inf(-1)
	for _, c := range h.Columns {
		groups = append(groups,
			BoxGroup{Label: shortHeight(c.Column) + " " + h.SiteA, Box: c.A, Color: 0},
			BoxGroup{Label: shortHeight(c.Column) + " " + h.SiteB, Box: c.B, Color: 1},
		)
		if lo := float64(c.YMin); !math.IsNaN(lo) {
			yMin = math.Min(yMin, lo)
		}
		if hi := float64(c.YMax); !math.IsNaN(hi) {
			yMax = math.Max(yMax, hi)
		}
	}
	if math.IsInf(yMin, 1) {
		yMin, yMax = math.NaN(), math.NaN()
	}
	return r.BoxPlot("Horizontal Wind Speed by Height", "Wind Speed (m/s)", groups, yMin, yMax)
}

// HeightColumn draws one LiDAR height for both sites with the y axis clamped to
// that column's display range.
func (r *Renderer) HeightColumn(siteA, siteB string, c analysis.HeightColumn) ([]byte, error) {
	groups := []BoxGroup{
		{Label: siteA, Box: c.A, Color: 0},
		{Label: siteB, Box: c.B, Color: 1},
	}
	return r.BoxPlot("Horizontal Wind Speed at "+shortHeight(c.Column), "Wind Speed (m/s)", groups, float64(c.YMin), float64(c.YMax))
}

// shortHeight turns "Horizontal Wind Speed (m/s) at 99m" into "99m".
func shortHeight(column string) string {
	for i := len(column) - 1; i >= 0; i-- {
		if column[i] == ' ' {
			return column[i+1:]
		}
	}
	return column
}
