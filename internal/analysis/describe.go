// Package analysis computes descriptive statistics, correlation matrices and
// two-site distribution comparisons over parsed tables.
package analysis

import (
	"errors"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/kjstillabower/wind-analytics-service/internal/dataset"
	"github.com/kjstillabower/wind-analytics-service/internal/models"
)

var (
	ErrColumnNotFound  = errors.New("column not found")
	ErrNoCommonColumns = errors.New("no common columns")
)

// ColumnSummary mirrors the rows of a describe() table for one column.
type ColumnSummary struct {
	Column string       `json:"column"`
	Count  int          `json:"count"`
	Mean   models.Float `json:"mean"`
	Std    models.Float `json:"std"`
	Min    models.Float `json:"min"`
	Q25    models.Float `json:"25%"`
	Median models.Float `json:"50%"`
	Q75    models.Float `json:"75%"`
	Max    models.Float `json:"max"`
}

// Describe summarises every numeric column of t.
func Describe(t *dataset.Table) []ColumnSummary {
	cols := t.NumericColumns()
	out := make([]ColumnSummary, 0, len(cols))
	for _, name := range cols {
		values, _ := t.Numeric(name)
		out = append(out, Summarize(name, values))
	}
	return out
}

// Summarize describes a single series, ignoring NaN.
func Summarize(name string, values []float64) ColumnSummary {
	x := dataset.Finite(values)
	s := ColumnSummary{Column: name, Count: len(x)}
	nan := models.Float(math.NaN())
	if len(x) == 0 {
		s.Mean, s.Std, s.Min, s.Q25, s.Median, s.Q75, s.Max = nan, nan, nan, nan, nan, nan, nan
		return s
	}
	sort.Float64s(x)
	s.Mean = models.Float(stat.Mean(x, nil))
	s.Std = models.Float(sampleStdDev(x))
	s.Min = models.Float(x[0])
	s.Q25 = models.Float(Quantile(x, 0.25))
	s.Median = models.Float(Quantile(x, 0.5))
	s.Q75 = models.Float(Quantile(x, 0.75))
	s.Max = models.Float(x[len(x)-1])
	return s
}

// Quantile returns the p-quantile of sorted x using linear interpolation between
// closest ranks, h = (n-1)p. gonum's stat.Quantile offers LinInterp on the
// empirical CDF, which disagrees with this convention on small samples.
func Quantile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	if n == 1 {
		return sorted[0]
	}
	h := float64(n-1) * p
	lo := int(math.Floor(h))
	hi := int(math.Ceil(h))
	return sorted[lo] + (h-float64(lo))*(sorted[hi]-sorted[lo])
}

// sampleStdDev is the n-1 standard deviation; NaN for fewer than two values.
func sampleStdDev(x []float64) float64 {
	if len(x) < 2 {
		return math.NaN()
	}
	return stat.StdDev(x, nil)
}

// CorrelationMatrix is a square Pearson matrix over Columns.
type CorrelationMatrix struct {
	Columns []string         `json:"columns"`
	Values  [][]models.Float `json:"values"`
}

// Correlation computes pairwise-complete Pearson correlations between numeric columns.
func Correlation(t *dataset.Table) CorrelationMatrix {
	cols := t.NumericColumns()
	m := CorrelationMatrix{Columns: cols, Values: make([][]models.Float, len(cols))}
	for i := range cols {
		m.Values[i] = make([]models.Float, len(cols))
	}
	for i, a := range cols {
		av, _ := t.Numeric(a)
		for j := i; j < len(cols); j++ {
			bv, _ := t.Numeric(cols[j])
			r := pairwisePearson(av, bv)
			m.Values[i][j] = models.Float(r)
			m.Values[j][i] = models.Float(r)
		}
	}
	return m
}

func pairwisePearson(a, b []float64) float64 {
	x := make([]float64, 0, len(a))
	y := make([]float64, 0, len(a))
	for i := range a {
		if math.IsNaN(a[i]) || math.IsNaN(b[i]) {
			continue
		}
		x = append(x, a[i])
		y = append(y, b[i])
	}
	if len(x) < 2 {
		return math.NaN()
	}
	if stat.Variance(x, nil) == 0 || stat.Variance(y, nil) == 0 {
		return math.NaN()
	}
	return stat.Correlation(x, y, nil)
}
