// Package charts renders analysis results as PNG images with go-chart.
package charts

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/kjstillabower/wind-analytics-service/internal/analysis"
	"github.com/kjstillabower/wind-analytics-service/internal/observability"
)

// ErrNoData is returned when there is nothing finite to plot.
var ErrNoData = errors.New("no data to plot")

// palette colours series in site order.
var palette = []drawing.Color{chart.ColorBlue, chart.ColorGreen, chart.ColorOrange, chart.ColorRed}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func seriesColor(i int) drawing.Color {
	return palette[i%len(palette)]
}

// Renderer draws charts at a fixed size.
type Renderer struct {
	width  int
	height int
}

// New returns a Renderer. Non-positive dimensions fall back to 900x450.
func New(width, height int) *Renderer {
	if width <= 0 {
		width = 900
	}
	if height <= 0 {
		height = 450
	}
	return &Renderer{width: width, height: height}
}

func (r *Renderer) render(name string, ch chart.Chart) ([]byte, error) {
	start := time.Now()
	defer func() {
		observability.ChartRenderDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}()
	ch.Width = r.width
	ch.Height = r.height
	ch.Background = chart.Style{Padding: chart.Box{Top: 40, Left: 16, Right: 16, Bottom: 16}}
	var buf bytes.Buffer
	if err := ch.Render(chart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("render %s chart: %w", name, err)
	}
	return buf.Bytes(), nil
}

// flatRange returns a padded axis range when every value is equal, and nil
// otherwise. go-chart refuses to draw an axis with a zero delta.
func flatRange(values []float64) *chart.ContinuousRange {
	if len(values) == 0 {
		return nil
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if hi > lo {
		return nil
	}
	return &chart.ContinuousRange{Min: lo - 0.5, Max: hi + 0.5}
}

// stepSeries outlines a histogram as a closed step polygon so fills can overlap.
func stepSeries(name string, edges []float64, counts []int, color drawing.Color) chart.ContinuousSeries {
	xs := make([]float64, 0, 2*len(counts)+2)
	ys := make([]float64, 0, 2*len(counts)+2)
	xs, ys = append(xs, edges[0]), append(ys, 0)
	for i, c := range counts {
		xs = append(xs, edges[i], edges[i+1])
		ys = append(ys, float64(c), float64(c))
	}
	xs, ys = append(xs, edges[len(edges)-1]), append(ys, 0)
	return chart.ContinuousSeries{
		Name:    name,
		XValues: xs,
		YValues: ys,
		Style: chart.Style{
			StrokeColor: color,
			StrokeWidth: 1.5,
			FillColor:   color.WithAlpha(90),
		},
	}
}

// OverlayHistogram draws one translucent histogram per series over shared bins.
func (r *Renderer) OverlayHistogram(title, xLabel string, names []string, h analysis.Histogram) ([]byte, error) {
	if len(h.Edges) < 2 || len(names) != len(h.Counts) {
		return nil, ErrNoData
	}
	series := make([]chart.Series, 0, len(names))
	for i, name := range names {
		series = append(series, stepSeries(name, h.Edges, h.Counts[i], seriesColor(i)))
	}
	ch := chart.Chart{
		Title:  title,
		XAxis:  chart.XAxis{Name: xLabel},
		YAxis:  chart.YAxis{Name: "Frequency"},
		Series: series,
	}
	ch.Elements = []chart.Renderable{chart.Legend(&ch)}
	return r.render("histogram", ch)
}

// Histogram draws a single-series histogram.
func (r *Renderer) Histogram(title, xLabel string, h analysis.Histogram) ([]byte, error) {
	if len(h.Edges) < 2 || len(h.Counts) != 1 {
		return nil, ErrNoData
	}
	ch := chart.Chart{
		Title:  title,
		XAxis:  chart.XAxis{Name: xLabel},
		YAxis:  chart.YAxis{Name: "Frequency"},
		Series: []chart.Series{stepSeries(xLabel, h.Edges, h.Counts[0], seriesColor(0))},
	}
	return r.render("histogram", ch)
}

// MeanBars draws speed and direction means side by side for both sites.
func (r *Renderer) MeanBars(title string, m analysis.MeanBars) ([]byte, error) {
	var bars []chart.Value
	lo, hi := 0.0, 0.0
	for i, label := range m.Labels {
		for j, v := range []float64{m.A[i], m.B[i]} {
			if !finite(v) {
				return nil, ErrNoData
			}
			lo, hi = math.Min(lo, v), math.Max(hi, v)
			site := m.SiteA
			if j == 1 {
				site = m.SiteB
			}
			c := seriesColor(j)
			bars = append(bars, chart.Value{
				Label: label + " (" + site + ")",
				Value: v,
				Style: chart.Style{FillColor: c, StrokeColor: c},
			})
		}
	}
	if len(bars) == 0 {
		return nil, ErrNoData
	}
	start := time.Now()
	defer func() {
		observability.ChartRenderDuration.WithLabelValues("means").Observe(time.Since(start).Seconds())
	}()
	bc := chart.BarChart{
		Title:      title,
		Width:      r.width,
		Height:     r.height,
		BarWidth:   r.width / (2 * len(bars)),
		BarSpacing: r.width / (4 * len(bars)),
		Background: chart.Style{Padding: chart.Box{Top: 40}},
		Bars:       bars,
	}
	if hi == lo {
		hi = lo + 1
	}
	bc.YAxis.Range = &chart.ContinuousRange{Min: lo, Max: hi}
	var buf bytes.Buffer
	if err := bc.Render(chart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("render means chart: %w", err)
	}
	return buf.Bytes(), nil
}

// Scatter draws y against x as dots, skipping pairs with a missing side.
// A constant axis is padded by 0.5 either way.
func (r *Renderer) Scatter(title, xLabel, yLabel string, x, y []float64) ([]byte, error) {
	xs := make([]float64, 0, len(x))
	ys := make([]float64, 0, len(x))
	for i := range x {
		if i >= len(y) || !finite(x[i]) || !finite(y[i]) {
			continue
		}
		xs = append(xs, x[i])
		ys = append(ys, y[i])
	}
	if len(xs) < 2 {
		return nil, ErrNoData
	}
	ch := chart.Chart{
		Title: title,
		XAxis: chart.XAxis{Name: xLabel},
		YAxis: chart.YAxis{Name: yLabel},
		Series: []chart.Series{chart.ContinuousSeries{
			Name:    yLabel,
			XValues: xs,
			YValues: ys,
			Style: chart.Style{
				StrokeWidth: chart.Disabled,
				DotWidth:    3,
				DotColor:    seriesColor(0).WithAlpha(160),
			},
		}},
	}
	if xr := flatRange(xs); xr != nil {
		ch.XAxis.Range = xr
	}
	if yr := flatRange(ys); yr != nil {
		ch.YAxis.Range = yr
	}
	return r.render("scatter", ch)
}
