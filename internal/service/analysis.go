package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/wind-analytics-service/internal/analysis"
	"github.com/kjstillabower/wind-analytics-service/internal/charts"
	"github.com/kjstillabower/wind-analytics-service/internal/dataset"
	"github.com/kjstillabower/wind-analytics-service/internal/events"
	"github.com/kjstillabower/wind-analytics-service/internal/models"
	"github.com/kjstillabower/wind-analytics-service/internal/observability"
	"github.com/kjstillabower/wind-analytics-service/internal/requestctx"
	"github.com/kjstillabower/wind-analytics-service/internal/store"
	"github.com/kjstillabower/wind-analytics-service/internal/validation"
)

var (
	ErrDatasetNotFound = errors.New("dataset not found")
	ErrUnknownChart    = errors.New("unknown chart")
)

// AnalysisConfig carries the dataset and column settings the analyses need.
type AnalysisConfig struct {
	Sites            []models.Site
	UploadMaxBytes   int64
	LidarSkipRows    int
	PreviewRows      int
	LidarPreviewRows int

	MesoscaleSpeedColumn     string
	MesoscaleDirectionColumn string
	LidarSpeedColumnMatch    string

	Events        events.Config
	HistogramBins int
}

// DatasetSummary describes an uploaded dataset without its cells.
type DatasetSummary struct {
	Kind           models.Kind `json:"kind"`
	Site           string      `json:"site"`
	Filename       string      `json:"filename"`
	UploadedAt     time.Time   `json:"uploadedAt"`
	Rows           int         `json:"rows"`
	Columns        []string    `json:"columns"`
	NumericColumns []string    `json:"numericColumns"`
}

// WorkspaceSummary is the JSON view of a workspace.
type WorkspaceSummary struct {
	ID        string           `json:"id"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
	Datasets  []DatasetSummary `json:"datasets"`
}

// Preview is the head of a dataset as raw cells.
type Preview struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// AnalysisService runs the dashboard analyses over workspace datasets.
type AnalysisService struct {
	store   *store.Store
	checker *CrossChecker
	charts  *charts.Renderer
	cfg     AnalysisConfig
}

// NewAnalysisService wires the workspace store, cross-checker and chart renderer.
func NewAnalysisService(st *store.Store, checker *CrossChecker, renderer *charts.Renderer, cfg AnalysisConfig) *AnalysisService {
	if cfg.PreviewRows <= 0 {
		cfg.PreviewRows = 5
	}
	if cfg.LidarPreviewRows <= 0 {
		cfg.LidarPreviewRows = 10
	}
	if cfg.HistogramBins <= 0 {
		cfg.HistogramBins = 30
	}
	if cfg.LidarSpeedColumnMatch == "" {
		cfg.LidarSpeedColumnMatch = "horizontal wind speed"
	}
	return &AnalysisService{store: st, checker: checker, charts: renderer, cfg: cfg}
}

// Sites returns the configured sites in order.
func (s *AnalysisService) Sites() []models.Site {
	return s.cfg.Sites
}

// DefaultPair returns the first two configured sites.
func (s *AnalysisService) DefaultPair() (a, b string) {
	return s.cfg.Sites[0].Name, s.cfg.Sites[1].Name
}

func summarizeDataset(ds *store.Dataset) DatasetSummary {
	return DatasetSummary{
		Kind:           ds.Kind,
		Site:           ds.Site,
		Filename:       ds.Filename,
		UploadedAt:     ds.UploadedAt,
		Rows:           ds.Table.Rows,
		Columns:        ds.Table.Names(),
		NumericColumns: ds.Table.NumericColumns(),
	}
}

func summarizeWorkspace(ws *store.Workspace) WorkspaceSummary {
	out := WorkspaceSummary{ID: ws.ID, CreatedAt: ws.CreatedAt, UpdatedAt: ws.UpdatedAt, Datasets: []DatasetSummary{}}
	for _, ds := range ws.Datasets {
		out.Datasets = append(out.Datasets, summarizeDataset(ds))
	}
	sort.Slice(out.Datasets, func(i, j int) bool {
		a, b := out.Datasets[i], out.Datasets[j]
		if a.Kind != b.Kind {
			return kindOrder[a.Kind] < kindOrder[b.Kind]
		}
		return a.Site < b.Site
	})
	return out
}

var kindOrder = map[models.Kind]int{models.KindMesoscale: 0, models.KindLidar: 1, models.KindGeneric: 2}

// CreateWorkspace starts an empty workspace.
func (s *AnalysisService) CreateWorkspace(ctx context.Context) (WorkspaceSummary, error) {
	ws, err := s.store.Create(ctx)
	if err != nil {
		return WorkspaceSummary{}, err
	}
	requestctx.Logger(ctx).Info("workspace created", zap.String("workspace_id", ws.ID))
	return summarizeWorkspace(ws), nil
}

// Workspace returns the summary of workspace id.
func (s *AnalysisService) Workspace(ctx context.Context, id string) (WorkspaceSummary, error) {
	ws, err := s.store.Get(ctx, id)
	if err != nil {
		return WorkspaceSummary{}, err
	}
	return summarizeWorkspace(ws), nil
}

// Upload parses r and stores it as the (kind, site) dataset of workspace id,
// replacing any earlier upload. A negative skipRows uses the per-kind default.
func (s *AnalysisService) Upload(ctx context.Context, id string, kind models.Kind, site, filename string, r io.Reader, skipRows int) (DatasetSummary, error) {
	logger := requestctx.Logger(ctx)
	if _, err := s.store.Get(ctx, id); err != nil {
		return DatasetSummary{}, err
	}
	if skipRows < 0 {
		skipRows = 0
		if kind == models.KindLidar {
			skipRows = s.cfg.LidarSkipRows
		}
	}

	table, err := dataset.Parse(r, dataset.ParseOptions{SkipRows: skipRows, MaxBytes: s.cfg.UploadMaxBytes})
	if err == nil && kind == models.KindLidar {
		err = dataset.PreprocessLidar(table)
	}
	if err != nil {
		observability.DatasetUploadsTotal.WithLabelValues(string(kind), uploadResult(err)).Inc()
		logger.Info("upload rejected", zap.String("kind", string(kind)), zap.String("site", site), zap.Error(err))
		return DatasetSummary{}, err
	}

	ds := &store.Dataset{Kind: kind, Site: site, Filename: filename, UploadedAt: time.Now().UTC(), Table: table}
	if _, err := s.store.PutDataset(ctx, id, ds); err != nil {
		observability.DatasetUploadsTotal.WithLabelValues(string(kind), uploadResult(err)).Inc()
		return DatasetSummary{}, err
	}
	observability.DatasetUploadsTotal.WithLabelValues(string(kind), "ok").Inc()
	observability.DatasetRowsParsed.WithLabelValues(string(kind)).Observe(float64(table.Rows))
	logger.Info("dataset uploaded",
		zap.String("workspace_id", id),
		zap.String("kind", string(kind)),
		zap.String("site", site),
		zap.Int("rows", table.Rows),
		zap.Int("columns", len(table.Columns)))
	return summarizeDataset(ds), nil
}

func uploadResult(err error) string {
	switch {
	case errors.Is(err, dataset.ErrInvalidCSV):
		return "invalid_csv"
	case errors.Is(err, dataset.ErrEmptyDataset):
		return "empty"
	case errors.Is(err, dataset.ErrTooLarge):
		return "too_large"
	default:
		return "error"
	}
}

func (s *AnalysisService) dataset(ctx context.Context, id string, kind models.Kind, site string) (*store.Dataset, error) {
	ws, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	ds := ws.Dataset(kind, site)
	if ds == nil {
		return nil, fmt.Errorf("%w: %s/%s", ErrDatasetNotFound, kind, site)
	}
	return ds, nil
}

// Dataset returns the summary of one dataset.
func (s *AnalysisService) Dataset(ctx context.Context, id string, kind models.Kind, site string) (DatasetSummary, error) {
	ds, err := s.dataset(ctx, id, kind, site)
	if err != nil {
		return DatasetSummary{}, err
	}
	return summarizeDataset(ds), nil
}

func (s *AnalysisService) previewRows(kind models.Kind) int {
	if kind == models.KindLidar {
		return s.cfg.LidarPreviewRows
	}
	return s.cfg.PreviewRows
}

// Preview returns the first rows of a dataset (10 for LiDAR, 5 otherwise by default).
func (s *AnalysisService) Preview(ctx context.Context, id string, kind models.Kind, site string) (Preview, error) {
	ds, err := s.dataset(ctx, id, kind, site)
	if err != nil {
		return Preview{}, err
	}
	return Preview{Columns: ds.Table.Names(), Rows: ds.Table.Head(s.previewRows(kind))}, nil
}

// Describe returns per-column descriptive statistics.
func (s *AnalysisService) Describe(ctx context.Context, id string, kind models.Kind, site string) ([]analysis.ColumnSummary, error) {
	ds, err := s.dataset(ctx, id, kind, site)
	if err != nil {
		return nil, err
	}
	return analysis.Describe(ds.Table), nil
}

// Correlation returns the Pearson matrix over numeric columns.
func (s *AnalysisService) Correlation(ctx context.Context, id string, kind models.Kind, site string) (analysis.CorrelationMatrix, error) {
	ds, err := s.dataset(ctx, id, kind, site)
	if err != nil {
		return analysis.CorrelationMatrix{}, err
	}
	return analysis.Correlation(ds.Table), nil
}

// Events runs event detection over a dataset.
func (s *AnalysisService) Events(ctx context.Context, id string, kind models.Kind, site string) ([]models.Event, error) {
	ds, err := s.dataset(ctx, id, kind, site)
	if err != nil {
		return nil, err
	}
	evs, err := events.Detect(ds.Table, site, s.cfg.Events)
	if err != nil {
		return nil, err
	}
	for typ, n := range events.Counts(evs) {
		observability.EventsDetectedTotal.WithLabelValues(site, string(typ)).Add(float64(n))
	}
	return evs, nil
}

// CrossCheck detects events and assesses each against observed weather at the site.
// The site must be a configured site with coordinates.
func (s *AnalysisService) CrossCheck(ctx context.Context, id string, kind models.Kind, site string) ([]models.Assessment, error) {
	loc, err := validation.LookupSite(site, s.cfg.Sites)
	if err != nil {
		return nil, err
	}
	evs, err := s.Events(ctx, id, kind, site)
	if err != nil {
		return nil, err
	}
	return s.checker.CrossCheck(ctx, loc, evs)
}

func (s *AnalysisService) pair(ctx context.Context, id string, kind models.Kind, a, b string) (*store.Dataset, *store.Dataset, error) {
	ws, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	da, db := ws.Dataset(kind, a), ws.Dataset(kind, b)
	if da == nil {
		return nil, nil, fmt.Errorf("%w: %s/%s", ErrDatasetNotFound, kind, a)
	}
	if db == nil {
		return nil, nil, fmt.Errorf("%w: %s/%s", ErrDatasetNotFound, kind, b)
	}
	return da, db, nil
}

// Compare runs the KS and Welch tests on every shared numeric column.
func (s *AnalysisService) Compare(ctx context.Context, id string, kind models.Kind, a, b string) (analysis.PairComparison, error) {
	da, db, err := s.pair(ctx, id, kind, a, b)
	if err != nil {
		return analysis.PairComparison{}, err
	}
	return analysis.Compare(da.Table, db.Table, a, b), nil
}

// Heights compares horizontal wind speed at every height both LiDAR datasets carry.
func (s *AnalysisService) Heights(ctx context.Context, id, a, b string) (analysis.HeightComparison, error) {
	da, db, err := s.pair(ctx, id, models.KindLidar, a, b)
	if err != nil {
		return analysis.HeightComparison{}, err
	}
	return analysis.CompareHeights(da.Table, db.Table, a, b, s.cfg.LidarSpeedColumnMatch)
}

// SpeedDirectionColumns returns the wind speed and direction columns used for kind.
func (s *AnalysisService) SpeedDirectionColumns(kind models.Kind) (speed, direction string) {
	if kind == models.KindLidar {
		return s.cfg.Events.SpeedColumn, s.cfg.Events.DirectionColumn
	}
	return s.cfg.MesoscaleSpeedColumn, s.cfg.MesoscaleDirectionColumn
}
