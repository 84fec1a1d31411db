package http

import (
	"errors"
	"fmt"
	"html/template"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/wind-analytics-service/internal/dataset"
	"github.com/kjstillabower/wind-analytics-service/internal/health"
	"github.com/kjstillabower/wind-analytics-service/internal/models"
	"github.com/kjstillabower/wind-analytics-service/internal/service"
	"github.com/kjstillabower/wind-analytics-service/internal/validation"
)

// multipartMaxMemory is how much of a multipart upload is buffered in memory
// before spilling to temporary files.
const multipartMaxMemory = 8 << 20

// multipartOverhead allows for boundaries and form fields around the file part.
const multipartOverhead = 64 << 10

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	analysis       *service.AnalysisService
	monitor        *health.Monitor
	limiter        *rate.Limiter
	logger         *zap.Logger
	pages          *template.Template
	uploadMaxBytes int64
}

// NewHandler returns a new Handler. limiter may be nil when rate limiting is disabled.
func NewHandler(
	analysisService *service.AnalysisService,
	monitor *health.Monitor,
	limiter *rate.Limiter,
	logger *zap.Logger,
	uploadMaxBytes int64,
) *Handler {
	return &Handler{
		analysis:       analysisService,
		monitor:        monitor,
		limiter:        limiter,
		logger:         logger,
		pages:          parsePages(),
		uploadMaxBytes: uploadMaxBytes,
	}
}

// CreateWorkspace handles POST /api/workspaces.
func (h *Handler) CreateWorkspace(w http.ResponseWriter, r *http.Request) {
	ws, err := h.analysis.CreateWorkspace(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/workspaces/"+ws.ID)
	writeJSON(w, http.StatusCreated, ws)
}

// GetWorkspace handles GET /api/workspaces/{id}.
func (h *Handler) GetWorkspace(w http.ResponseWriter, r *http.Request) {
	ws, err := h.analysis.Workspace(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ws)
}

// datasetParams validates the {kind} and {site} path variables.
func (h *Handler) datasetParams(r *http.Request) (id string, kind models.Kind, site string, err error) {
	vars := mux.Vars(r)
	kind, err = validation.ValidateKind(vars["kind"])
	if err != nil {
		return "", "", "", err
	}
	site, err = validation.ValidateSite(vars["site"], kind, h.analysis.Sites())
	if err != nil {
		return "", "", "", err
	}
	return vars["id"], kind, site, nil
}

// PutDataset handles PUT /api/workspaces/{id}/datasets/{kind}/{site}. The CSV is
// either the multipart "file" field or the raw request body.
func (h *Handler) PutDataset(w http.ResponseWriter, r *http.Request) {
	id, kind, site, err := h.datasetParams(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	skipRows, err := parseSkipRows(r.URL.Query().Get("skip_rows"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, codeInvalidParameter, err.Error())
		return
	}
	body, filename, err := h.uploadBody(w, r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	defer body.Close()

	sum, err := h.analysis.Upload(r.Context(), id, kind, site, filename, body, skipRows)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sum)
}

// parseSkipRows returns -1 (use the per-kind default) for an empty value.
func parseSkipRows(s string) (int, error) {
	if s == "" {
		return -1, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("skip_rows must be a non-negative integer, got %q", s)
	}
	return n, nil
}

// uploadBody returns the CSV payload of r. Oversized bodies surface as dataset.ErrTooLarge.
func (h *Handler) uploadBody(w http.ResponseWriter, r *http.Request) (io.ReadCloser, string, error) {
	if h.uploadMaxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.uploadMaxBytes+multipartOverhead)
	}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		name := r.URL.Query().Get("filename")
		if name == "" {
			name = "upload.csv"
		}
		return r.Body, name, nil
	}
	if err := r.ParseMultipartForm(multipartMaxMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, "", dataset.ErrTooLarge
		}
		return nil, "", fmt.Errorf("%w: %v", dataset.ErrInvalidCSV, err)
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		return nil, "", fmt.Errorf("%w: missing \"file\" field", dataset.ErrInvalidCSV)
	}
	return f, hdr.Filename, nil
}

// GetDataset handles GET /api/workspaces/{id}/datasets/{kind}/{site}.
func (h *Handler) GetDataset(w http.ResponseWriter, r *http.Request) {
	id, kind, site, err := h.datasetParams(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	sum, err := h.analysis.Dataset(r.Context(), id, kind, site)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// GetDatasetView handles GET .../datasets/{kind}/{site}/{view} for preview,
// describe, correlation and events.
func (h *Handler) GetDatasetView(w http.ResponseWriter, r *http.Request) {
	id, kind, site, err := h.datasetParams(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	ctx := r.Context()
	var v interface{}
	switch mux.Vars(r)["view"] {
	case "preview":
		v, err = h.analysis.Preview(ctx, id, kind, site)
	case "describe":
		v, err = h.analysis.Describe(ctx, id, kind, site)
	case "correlation":
		v, err = h.analysis.Correlation(ctx, id, kind, site)
	case "events":
		var evs []models.Event
		evs, err = h.analysis.Events(ctx, id, kind, site)
		if evs == nil {
			evs = []models.Event{}
		}
		v = evs
	default:
		writeError(w, r, http.StatusNotFound, codeInvalidParameter, "unknown view")
		return
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// GetCrossCheck handles GET .../datasets/{kind}/{site}/events/crosscheck.
func (h *Handler) GetCrossCheck(w http.ResponseWriter, r *http.Request) {
	id, kind, site, err := h.datasetParams(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	assessments, err := h.analysis.CrossCheck(r.Context(), id, kind, site)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if assessments == nil {
		assessments = []models.Assessment{}
	}
	writeJSON(w, http.StatusOK, assessments)
}

// GetDatasetChart handles GET .../datasets/{kind}/{site}/charts/{chart}.png.
func (h *Handler) GetDatasetChart(w http.ResponseWriter, r *http.Request) {
	id, kind, site, err := h.datasetParams(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	png, err := h.analysis.DatasetChart(r.Context(), id, kind, site, mux.Vars(r)["chart"], r.URL.Query().Get("column"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writePNG(w, png)
}

// pairParams validates {kind} and the a/b query sites, defaulting to the two configured sites.
func (h *Handler) pairParams(r *http.Request) (id string, kind models.Kind, a, b string, err error) {
	vars := mux.Vars(r)
	kind, err = validation.ValidateComparableKind(vars["kind"])
	if err != nil {
		return "", "", "", "", err
	}
	defA, defB := h.analysis.DefaultPair()
	q := r.URL.Query()
	a, b = q.Get("a"), q.Get("b")
	if a == "" {
		a = defA
	}
	if b == "" {
		b = defB
	}
	sites := h.analysis.Sites()
	if a, err = validation.ValidateSite(a, kind, sites); err != nil {
		return "", "", "", "", err
	}
	if b, err = validation.ValidateSite(b, kind, sites); err != nil {
		return "", "", "", "", err
	}
	return vars["id"], kind, a, b, nil
}

// GetComparison handles GET /api/workspaces/{id}/compare/{kind}.
func (h *Handler) GetComparison(w http.ResponseWriter, r *http.Request) {
	id, kind, a, b, err := h.pairParams(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	cmp, err := h.analysis.Compare(r.Context(), id, kind, a, b)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cmp)
}

// GetHeights handles GET /api/workspaces/{id}/compare/lidar/heights.
func (h *Handler) GetHeights(w http.ResponseWriter, r *http.Request) {
	id, _, a, b, err := h.pairParams(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	hc, err := h.analysis.Heights(r.Context(), id, a, b)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hc)
}

// GetCompareChart handles GET .../compare/{kind}/charts/{chart}.png.
func (h *Handler) GetCompareChart(w http.ResponseWriter, r *http.Request) {
	id, kind, a, b, err := h.pairParams(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	png, err := h.analysis.CompareChart(r.Context(), id, kind, a, b, mux.Vars(r)["chart"], r.URL.Query().Get("column"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writePNG(w, png)
}

func writePNG(w http.ResponseWriter, png []byte) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}
