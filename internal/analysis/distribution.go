package analysis

import (
	"fmt"
	"math"
	"sort"

	"github.com/kjstillabower/wind-analytics-service/internal/dataset"
	"github.com/kjstillabower/wind-analytics-service/internal/models"
)

// Histogram holds counts per equal-width bin. Edges has len(Counts[i])+1 entries.
type Histogram struct {
	Edges  []float64 `json:"edges"`
	Counts [][]int   `json:"counts"`
}

// SharedHistogram bins every series over their combined range so overlays line up.
// NaN and infinite values are ignored.
func SharedHistogram(bins int, series ...[]float64) Histogram {
	if bins <= 0 {
		bins = 30
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, s := range series {
		for _, v := range s {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}
	h := Histogram{Counts: make([][]int, len(series))}
	if math.IsInf(lo, 1) {
		for i := range h.Counts {
			h.Counts[i] = []int{}
		}
		h.Edges = []float64{}
		return h
	}
	if hi == lo {
		lo, hi = lo-0.5, hi+0.5
	}
	width := (hi - lo) / float64(bins)
	h.Edges = make([]float64, bins+1)
	for i := range h.Edges {
		h.Edges[i] = lo + float64(i)*width
	}
	for i, s := range series {
		counts := make([]int, bins)
		for _, v := range s {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			idx := int((v - lo) / width)
			if idx >= bins {
				idx = bins - 1
			}
			counts[idx]++
		}
		h.Counts[i] = counts
	}
	return h
}

// Box is the five-number summary plus Tukey outliers.
type Box struct {
	Count        int          `json:"count"`
	Q1           models.Float `json:"q1"`
	Median       models.Float `json:"median"`
	Q3           models.Float `json:"q3"`
	LowerWhisker models.Float `json:"lowerWhisker"`
	UpperWhisker models.Float `json:"upperWhisker"`
	Outliers     []float64    `json:"outliers"`
}

// BoxStats computes box-plot statistics; whiskers extend to the furthest point
// within 1.5·IQR of the box.
func BoxStats(values []float64) Box {
	x := dataset.Finite(values)
	b := Box{Count: len(x), Outliers: []float64{}}
	if len(x) == 0 {
		nan := models.Float(math.NaN())
		b.Q1, b.Median, b.Q3, b.LowerWhisker, b.UpperWhisker = nan, nan, nan, nan, nan
		return b
	}
	sort.Float64s(x)
	q1, q3 := Quantile(x, 0.25), Quantile(x, 0.75)
	iqr := q3 - q1
	lo, hi := q1-1.5*iqr, q3+1.5*iqr
	lw, uw := q1, q3
	for _, v := range x {
		if v < lo || v > hi {
			b.Outliers = append(b.Outliers, v)
			continue
		}
		lw = math.Min(lw, v)
		uw = math.Max(uw, v)
	}
	b.Q1 = models.Float(q1)
	b.Median = models.Float(Quantile(x, 0.5))
	b.Q3 = models.Float(q3)
	b.LowerWhisker = models.Float(lw)
	b.UpperWhisker = models.Float(uw)
	return b
}

// HeightColumn compares one wind speed height between two LiDAR sites.
type HeightColumn struct {
	Column string       `json:"column"`
	A      Box          `json:"a"`
	B      Box          `json:"b"`
	YMin   models.Float `json:"yMin"`
	YMax   models.Float `json:"yMax"`
}

// HeightComparison holds every common height column for two sites.
type HeightComparison struct {
	SiteA   string         `json:"siteA"`
	SiteB   string         `json:"siteB"`
	Columns []HeightColumn `json:"columns"`
}

// CompareHeights finds columns matching substr present in both tables and computes
// per-site box stats with a display range clamped to 1.5·IQR of the pooled data.
func CompareHeights(a, b *dataset.Table, nameA, nameB, substr string) (HeightComparison, error) {
	inB := make(map[string]struct{})
	for _, c := range b.ColumnsContaining(substr) {
		inB[c] = struct{}{}
	}
	var common []string
	for _, c := range a.ColumnsContaining(substr) {
		if _, ok := inB[c]; ok {
			common = append(common, c)
		}
	}
	if len(common) == 0 {
		return HeightComparison{}, fmt.Errorf("%w matching %q", ErrNoCommonColumns, substr)
	}
	sort.Strings(common)

	out := HeightComparison{SiteA: nameA, SiteB: nameB}
	for _, col := range common {
		av, okA := a.Numeric(col)
		bv, okB := b.Numeric(col)
		if !okA || !okB {
			continue
		}
		pooled := append(dataset.Finite(av), dataset.Finite(bv)...)
		hc := HeightColumn{Column: col, A: BoxStats(av), B: BoxStats(bv)}
		if len(pooled) == 0 {
			hc.YMin, hc.YMax = models.Float(math.NaN()), models.Float(math.NaN())
		} else {
			sort.Float64s(pooled)
			q1, q3 := Quantile(pooled, 0.25), Quantile(pooled, 0.75)
			iqr := q3 - q1
			hc.YMin = models.Float(math.Max(q1-1.5*iqr, pooled[0]))
			hc.YMax = models.Float(math.Min(q3+1.5*iqr, pooled[len(pooled)-1]))
		}
		out.Columns = append(out.Columns, hc)
	}
	if len(out.Columns) == 0 {
		return HeightComparison{}, fmt.Errorf("%w matching %q", ErrNoCommonColumns, substr)
	}
	return out, nil
}
