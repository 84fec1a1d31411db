package service

import (
	"context"
	"errors"
	"net/url"

	"go.uber.org/zap"

	"github.com/kjstillabower/wind-analytics-service/internal/analysis"
	"github.com/kjstillabower/wind-analytics-service/internal/events"
	"github.com/kjstillabower/wind-analytics-service/internal/models"
	"github.com/kjstillabower/wind-analytics-service/internal/requestctx"
	"github.com/kjstillabower/wind-analytics-service/internal/store"
)

// ChartRef points at a chart image relative to /api/workspaces/{id}/.
type ChartRef struct {
	Title string
	Path  string
}

// SiteDataset is one dataset as shown on the dashboard.
type SiteDataset struct {
	Site        string
	Summary     DatasetSummary
	Preview     Preview
	Describe    []analysis.ColumnSummary
	Correlation *analysis.CorrelationMatrix
	Charts      []ChartRef
}

// KindSection is the Mesoscale or LiDAR part of the dashboard.
type KindSection struct {
	Kind       models.Kind
	Datasets   []SiteDataset
	Missing    []string
	Comparison *analysis.PairComparison
	Heights    *analysis.HeightComparison
	Charts     []ChartRef
	Notices    []string
}

// Ready reports whether both sites have uploads, which the comparisons need.
func (k KindSection) Ready() bool {
	return len(k.Missing) == 0
}

// SiteEvents holds detection and optional cross-check results for one LiDAR site.
type SiteEvents struct {
	Site        string
	Events      []models.Event
	Counts      map[models.EventType]int
	Assessments []models.Assessment
	Error       string
}

// Dashboard is the view model behind the workspace page.
type Dashboard struct {
	Workspace    WorkspaceSummary
	Sites        []models.Site
	SiteA        string
	SiteB        string
	Mesoscale    KindSection
	Lidar        KindSection
	Events       []SiteEvents
	Generic      []SiteDataset
	CrossChecked bool
}

// Dashboard assembles every section for workspace id. Cross-checking calls the
// weather API once per event hour, so it only runs when crossCheck is set.
func (s *AnalysisService) Dashboard(ctx context.Context, id string, crossCheck bool) (Dashboard, error) {
	ws, err := s.store.Get(ctx, id)
	if err != nil {
		return Dashboard{}, err
	}
	a, b := s.DefaultPair()
	d := Dashboard{
		Workspace:    summarizeWorkspace(ws),
		Sites:        s.cfg.Sites,
		SiteA:        a,
		SiteB:        b,
		CrossChecked: crossCheck,
	}
	d.Mesoscale = s.kindSection(ws, models.KindMesoscale, a, b)
	d.Lidar = s.kindSection(ws, models.KindLidar, a, b)
	d.Events = s.eventSections(ctx, ws, crossCheck)
	for _, ds := range d.Workspace.Datasets {
		if ds.Kind != models.KindGeneric {
			continue
		}
		sd := s.siteDataset(ws.Dataset(models.KindGeneric, ds.Site), true)
		base := "datasets/generic/" + url.PathEscape(ds.Site) + "/charts/"
		sd.Charts = []ChartRef{
			{Title: "Scatter Plot", Path: base + "scatter.png"},
			{Title: "Histogram", Path: base + "histogram.png"},
		}
		d.Generic = append(d.Generic, sd)
	}
	return d, nil
}

func (s *AnalysisService) siteDataset(ds *store.Dataset, withCorrelation bool) SiteDataset {
	sd := SiteDataset{
		Site:     ds.Site,
		Summary:  summarizeDataset(ds),
		Preview:  Preview{Columns: ds.Table.Names(), Rows: ds.Table.Head(s.previewRows(ds.Kind))},
		Describe: analysis.Describe(ds.Table),
	}
	if withCorrelation {
		c := analysis.Correlation(ds.Table)
		sd.Correlation = &c
	}
	return sd
}

func (s *AnalysisService) kindSection(ws *store.Workspace, kind models.Kind, a, b string) KindSection {
	sec := KindSection{Kind: kind}
	for _, site := range []string{a, b} {
		ds := ws.Dataset(kind, site)
		if ds == nil {
			sec.Missing = append(sec.Missing, site)
			continue
		}
		sec.Datasets = append(sec.Datasets, s.siteDataset(ds, kind == models.KindLidar))
	}
	if !sec.Ready() {
		return sec
	}

	da, db := ws.Dataset(kind, a), ws.Dataset(kind, b)
	cmp := analysis.Compare(da.Table, db.Table, a, b)
	sec.Comparison = &cmp

	base := "compare/" + string(kind) + "/charts/"
	q := "?a=" + url.QueryEscape(a) + "&b=" + url.QueryEscape(b)
	speedCol, dirCol := s.SpeedDirectionColumns(kind)
	for _, col := range []string{speedCol, dirCol} {
		_, okA := da.Table.Numeric(col)
		_, okB := db.Table.Numeric(col)
		if !okA || !okB {
			continue
		}
		cq := q + "&column=" + url.QueryEscape(col)
		sec.Charts = append(sec.Charts,
			ChartRef{Title: col + " Distribution", Path: base + "histogram.png" + cq},
			ChartRef{Title: col + " Boxplot", Path: base + "boxplot.png" + cq},
		)
	}
	if _, err := analysis.Means(cmp, speedCol, dirCol); err != nil {
		sec.Notices = append(sec.Notices, "Wind Speed or Wind Direction variables not found in the comparison data for mean comparison.")
	} else {
		sec.Charts = append(sec.Charts, ChartRef{Title: "Mean Values Comparison", Path: base + "means.png" + q})
	}

	if kind == models.KindLidar {
		h, err := analysis.CompareHeights(da.Table, db.Table, a, b, s.cfg.LidarSpeedColumnMatch)
		if err != nil {
			sec.Notices = append(sec.Notices, "No common 'Horizontal Wind Speed' columns found. Check your CSV column names!")
		} else {
			sec.Heights = &h
			for _, c := range h.Columns {
				sec.Charts = append(sec.Charts, ChartRef{
					Title: c.Column,
					Path:  base + "heights.png" + q + "&column=" + url.QueryEscape(c.Column),
				})
			}
		}
	}
	return sec
}

func (s *AnalysisService) eventSections(ctx context.Context, ws *store.Workspace, crossCheck bool) []SiteEvents {
	logger := requestctx.Logger(ctx)
	var out []SiteEvents
	for _, site := range s.cfg.Sites {
		ds := ws.Dataset(models.KindLidar, site.Name)
		if ds == nil {
			continue
		}
		se := SiteEvents{Site: site.Name}
		evs, err := events.Detect(ds.Table, site.Name, s.cfg.Events)
		if err != nil {
			se.Error = err.Error()
			out = append(out, se)
			continue
		}
		se.Events = evs
		se.Counts = events.Counts(evs)
		if crossCheck && len(evs) > 0 {
			assessments, err := s.checker.CrossCheck(ctx, site, evs)
			switch {
			case err == nil:
				se.Assessments = assessments
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				se.Error = "Cross-check did not finish before the request deadline."
			default:
				se.Error = "Cross-check failed."
			}
			if err != nil {
				logger.Warn("cross-check failed", zap.String("site", site.Name), zap.Error(err))
			}
		}
		out = append(out, se)
	}
	return out
}
