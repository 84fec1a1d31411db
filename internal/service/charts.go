package service

import (
	"context"
	"fmt"
	"math"

	"github.com/kjstillabower/wind-analytics-service/internal/analysis"
	"github.com/kjstillabower/wind-analytics-service/internal/charts"
	"github.com/kjstillabower/wind-analytics-service/internal/models"
	"github.com/kjstillabower/wind-analytics-service/internal/validation"
)

// Chart names accepted by DatasetChart and CompareChart.
const (
	ChartScatter   = "scatter"
	ChartHistogram = "histogram"
	ChartBoxplot   = "boxplot"
	ChartMeans     = "means"
	ChartHeights   = "heights"
)

// DatasetChart renders a single-dataset chart. scatter plots the second numeric
// column against the first; histogram bins column, or the first numeric column when empty.
func (s *AnalysisService) DatasetChart(ctx context.Context, id string, kind models.Kind, site, name, column string) ([]byte, error) {
	ds, err := s.dataset(ctx, id, kind, site)
	if err != nil {
		return nil, err
	}
	t := ds.Table
	numeric := t.NumericColumns()
	switch name {
	case ChartScatter:
		if len(numeric) < 2 {
			return nil, fmt.Errorf("%w: scatter needs two numeric columns", analysis.ErrColumnNotFound)
		}
		x, _ := t.Numeric(numeric[0])
		y, _ := t.Numeric(numeric[1])
		return s.charts.Scatter(numeric[0]+" vs "+numeric[1], numeric[0], numeric[1], x, y)
	case ChartHistogram:
		if column == "" {
			if len(numeric) == 0 {
				return nil, fmt.Errorf("%w: no numeric columns", analysis.ErrColumnNotFound)
			}
			column = numeric[0]
		}
		values, ok := t.Numeric(column)
		if !ok {
			return nil, fmt.Errorf("%w: %s", analysis.ErrColumnNotFound, column)
		}
		return s.charts.Histogram("Distribution of "+column, column, analysis.SharedHistogram(s.cfg.HistogramBins, values))
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownChart, name)
	}
}

// CompareChart renders a two-site chart. histogram and boxplot use column, or the
// kind's wind speed column when empty; means plots speed and direction. heights is
// LiDAR only and draws the single height named by column, or every height when empty.
func (s *AnalysisService) CompareChart(ctx context.Context, id string, kind models.Kind, a, b, name, column string) ([]byte, error) {
	speedCol, dirCol := s.SpeedDirectionColumns(kind)
	heightColumn := column
	if column == "" {
		column = speedCol
	}
	switch name {
	case ChartHistogram, ChartBoxplot:
		da, db, err := s.pair(ctx, id, kind, a, b)
		if err != nil {
			return nil, err
		}
		av, okA := da.Table.Numeric(column)
		bv, okB := db.Table.Numeric(column)
		if !okA || !okB {
			return nil, fmt.Errorf("%w: %s", analysis.ErrColumnNotFound, column)
		}
		if name == ChartHistogram {
			h := analysis.SharedHistogram(s.cfg.HistogramBins, av, bv)
			return s.charts.OverlayHistogram(column+" Distribution", column, []string{a, b}, h)
		}
		groups := []charts.BoxGroup{
			{Label: a, Box: analysis.BoxStats(av), Color: 0},
			{Label: b, Box: analysis.BoxStats(bv), Color: 1},
		}
		return s.charts.BoxPlot(column+" Boxplot", column, groups, math.NaN(), math.NaN())
	case ChartMeans:
		cmp, err := s.Compare(ctx, id, kind, a, b)
		if err != nil {
			return nil, err
		}
		m, err := analysis.Means(cmp, speedCol, dirCol)
		if err != nil {
			return nil, err
		}
		return s.charts.MeanBars("Mean Values Comparison", m)
	case ChartHeights:
		if kind != models.KindLidar {
			return nil, validation.ErrInvalidKind
		}
		h, err := s.Heights(ctx, id, a, b)
		if err != nil {
			return nil, err
		}
		if heightColumn == "" {
			return s.charts.Heights(h)
		}
		for _, c := range h.Columns {
			if c.Column == heightColumn {
				return s.charts.HeightColumn(h.SiteA, h.SiteB, c)
			}
		}
		return nil, fmt.Errorf("%w: %s", analysis.ErrColumnNotFound, heightColumn)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownChart, name)
	}
}
