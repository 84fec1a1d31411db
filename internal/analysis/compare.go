package analysis

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/kjstillabower/wind-analytics-service/internal/dataset"
	"github.com/kjstillabower/wind-analytics-service/internal/models"
)

// Comparison is one row of the two-site distribution comparison.
type Comparison struct {
	Variable    string       `json:"variable"`
	MeanA       models.Float `json:"meanA"`
	StdA        models.Float `json:"stdA"`
	MeanB       models.Float `json:"meanB"`
	StdB        models.Float `json:"stdB"`
	KSStatistic models.Float `json:"ksStatistic"`
	KSPValue    models.Float `json:"ksPValue"`
	TStatistic  models.Float `json:"tStatistic"`
	TPValue     models.Float `json:"tPValue"`
}

// PairComparison holds the rows for sites A and B.
type PairComparison struct {
	SiteA string       `json:"siteA"`
	SiteB string       `json:"siteB"`
	Rows  []Comparison `json:"rows"`
}

// Compare runs a two-sample KS test and Welch's t-test for every numeric column of
// a that also exists in b. Columns empty on either side after dropping NaN are skipped.
func Compare(a, b *dataset.Table, nameA, nameB string) PairComparison {
	out := PairComparison{SiteA: nameA, SiteB: nameB, Rows: []Comparison{}}
	for _, col := range a.NumericColumns() {
		bv, ok := b.Numeric(col)
		if !ok {
			continue
		}
		av, _ := a.Numeric(col)
		x := dataset.Finite(av)
		y := dataset.Finite(bv)
		if len(x) == 0 || len(y) == 0 {
			continue
		}
		ks, ksP := KolmogorovSmirnov(x, y)
		t, tP := WelchT(x, y)
		out.Rows = append(out.Rows, Comparison{
			Variable:    col,
			MeanA:       models.Float(stat.Mean(x, nil)),
			StdA:        models.Float(sampleStdDev(x)),
			MeanB:       models.Float(stat.Mean(y, nil)),
			StdB:        models.Float(sampleStdDev(y)),
			KSStatistic: models.Float(ks),
			KSPValue:    models.Float(ksP),
			TStatistic:  models.Float(t),
			TPValue:     models.Float(tP),
		})
	}
	return out
}

// Row returns the comparison for variable.
func (p PairComparison) Row(variable string) (Comparison, bool) {
	for _, r := range p.Rows {
		if r.Variable == variable {
			return r, true
		}
	}
	return Comparison{}, false
}

// MeanBars is the data behind the grouped mean comparison chart.
type MeanBars struct {
	Labels []string  `json:"labels"`
	SiteA  string    `json:"siteA"`
	SiteB  string    `json:"siteB"`
	A      []float64 `json:"a"`
	B      []float64 `json:"b"`
}

// Means extracts the speed and direction means from a comparison.
func Means(p PairComparison, speedCol, dirCol string) (MeanBars, error) {
	speed, ok := p.Row(speedCol)
	if !ok {
		return MeanBars{}, fmt.Errorf("%w: %s", ErrColumnNotFound, speedCol)
	}
	dir, ok := p.Row(dirCol)
	if !ok {
		return MeanBars{}, fmt.Errorf("%w: %s", ErrColumnNotFound, dirCol)
	}
	return MeanBars{
		Labels: []string{"Wind Speed", "Wind Direction"},
		SiteA:  p.SiteA,
		SiteB:  p.SiteB,
		A:      []float64{float64(speed.MeanA), float64(dir.MeanA)},
		B:      []float64{float64(speed.MeanB), float64(dir.MeanB)},
	}, nil
}

// KolmogorovSmirnov returns the two-sample KS statistic and its asymptotic p-value.
// Inputs need not be sorted.
func KolmogorovSmirnov(x, y []float64) (d, p float64) {
	if len(x) == 0 || len(y) == 0 {
		return math.NaN(), math.NaN()
	}
	xs := append([]float64(nil), x...)
	ys := append([]float64(nil), y...)
	sort.Float64s(xs)
	sort.Float64s(ys)
	d = stat.KolmogorovSmirnov(xs, nil, ys, nil)
	n1, n2 := float64(len(xs)), float64(len(ys))
	en := math.Sqrt(n1 * n2 / (n1 + n2))
	return d, kolmogorovQ((en + 0.12 + 0.11/en) * d)
}

// kolmogorovQ is the complementary CDF of the Kolmogorov distribution.
func kolmogorovQ(lambda float64) float64 {
	if lambda < 1e-3 {
		return 1
	}
	const eps1, eps2 = 1e-6, 1e-16
	sum, fac, prev := 0.0, 2.0, 0.0
	a2 := -2 * lambda * lambda
	for j := 1; j <= 100; j++ {
		term := fac * math.Exp(a2*float64(j*j))
		sum += term
		if math.Abs(term) <= eps1*prev || math.Abs(term) <= eps2*sum {
			return clamp01(sum)
		}
		fac = -fac
		prev = math.Abs(term)
	}
	return 1
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// WelchT returns Welch's unequal-variance t statistic and two-sided p-value.
// Either sample with fewer than two values, or zero pooled variance, yields NaN.
func WelchT(x, y []float64) (t, p float64) {
	n1, n2 := float64(len(x)), float64(len(y))
	if n1 < 2 || n2 < 2 {
		return math.NaN(), math.NaN()
	}
	m1, v1 := stat.MeanVariance(x, nil)
	m2, v2 := stat.MeanVariance(y, nil)
	se1, se2 := v1/n1, v2/n2
	se := se1 + se2
	if se == 0 {
		return math.NaN(), math.NaN()
	}
	t = (m1 - m2) / math.Sqrt(se)
	df := se * se / (se1*se1/(n1-1) + se2*se2/(n2-1))
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	return t, clamp01(2 * dist.Survival(math.Abs(t)))
}
