package http

import (
	"bytes"
	"embed"
	"errors"
	"html/template"
	"math"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/wind-analytics-service/internal/models"
	"github.com/kjstillabower/wind-analytics-service/internal/requestctx"
	"github.com/kjstillabower/wind-analytics-service/internal/service"
	"github.com/kjstillabower/wind-analytics-service/internal/store"
	"github.com/kjstillabower/wind-analytics-service/internal/validation"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageFuncs = template.FuncMap{
	"num": func(f models.Float) string {
		v := float64(f)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return "n/a"
		}
		return strconv.FormatFloat(v, 'f', 4, 64)
	},
	"ptr": func(f *float64) string {
		if f == nil {
			return "n/a"
		}
		return strconv.FormatFloat(*f, 'f', -1, 64)
	},
	"chartURL": func(workspaceID, path string) string {
		return "/api/workspaces/" + url.PathEscape(workspaceID) + "/" + path
	},
	"kindTitle": func(k models.Kind) string {
		switch k {
		case models.KindMesoscale:
			return "Mesoscale"
		case models.KindLidar:
			return "LiDAR"
		default:
			return "Quick Analysis"
		}
	},
}

func parsePages() *template.Template {
	return template.Must(template.New("pages").Funcs(pageFuncs).ParseFS(templateFS, "templates/*.html"))
}

// pageData is the root value of every page template.
type pageData struct {
	Title     string
	Sites     []models.Site
	Kinds     []models.Kind
	Dashboard *service.Dashboard
	Sections  []service.KindSection
	Error     string
	Flash     string
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, name string, data pageData) {
	data.Sites = h.analysis.Sites()
	data.Kinds = []models.Kind{models.KindMesoscale, models.KindLidar, models.KindGeneric}
	var buf bytes.Buffer
	if err := h.pages.ExecuteTemplate(&buf, name, data); err != nil {
		requestctx.Logger(r.Context()).Error("render page", zap.String("template", name), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// Index handles GET /.
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "index.html", pageData{Title: "Wind Data Analysis Dashboard"})
}

// CreateWorkspacePage handles POST /workspaces and redirects to the new dashboard.
func (h *Handler) CreateWorkspacePage(w http.ResponseWriter, r *http.Request) {
	ws, err := h.analysis.CreateWorkspace(r.Context())
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	http.Redirect(w, r, "/workspaces/"+ws.ID, http.StatusSeeOther)
}

// DashboardPage handles GET /workspaces/{id}. ?crosscheck=1 also cross-checks events.
func (h *Handler) DashboardPage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	d, err := h.analysis.Dashboard(r.Context(), mux.Vars(r)["id"], q.Get("crosscheck") == "1")
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	h.render(w, r, http.StatusOK, "dashboard.html", pageData{
		Title:     "Wind Data Analysis Dashboard",
		Dashboard: &d,
		Sections:  []service.KindSection{d.Mesoscale, d.Lidar},
		Error:     q.Get("error"),
		Flash:     q.Get("uploaded"),
	})
}

// UploadPage handles POST /workspaces/{id}/uploads from the dashboard form and
// redirects back with the outcome in the query string.
func (h *Handler) UploadPage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	back := "/workspaces/" + url.PathEscape(id)

	fail := func(err error) {
		if errors.Is(err, store.ErrNotFound) {
			h.renderError(w, r, err)
			return
		}
		if classify(err).status >= http.StatusInternalServerError {
			requestctx.Logger(r.Context()).Error("dashboard upload failed", zap.Error(err))
		} else {
			requestctx.Logger(r.Context()).Info("dashboard upload rejected", zap.Error(err))
		}
		http.Redirect(w, r, back+"?error="+url.QueryEscape(classifyMessage(err)), http.StatusSeeOther)
	}

	body, filename, err := h.uploadBody(w, r)
	if err != nil {
		fail(err)
		return
	}
	defer body.Close()

	kind, err := validation.ValidateKind(r.FormValue("kind"))
	if err != nil {
		fail(err)
		return
	}
	site, err := validation.ValidateSite(r.FormValue("site"), kind, h.analysis.Sites())
	if err != nil {
		fail(err)
		return
	}
	skipRows, err := parseSkipRows(r.FormValue("skip_rows"))
	if err != nil {
		fail(err)
		return
	}
	if _, err := h.analysis.Upload(r.Context(), id, kind, site, filename, body, skipRows); err != nil {
		fail(err)
		return
	}
	http.Redirect(w, r, back+"?uploaded="+url.QueryEscape(string(kind)+"/"+site), http.StatusSeeOther)
}

// classifyMessage is the user-facing text for err on the dashboard. Internal
// errors get the same generic text as the JSON API.
func classifyMessage(err error) string {
	return classify(err).message
}

func (h *Handler) renderError(w http.ResponseWriter, r *http.Request, err error) {
	e := classify(err)
	if e.status >= http.StatusInternalServerError {
		requestctx.Logger(r.Context()).Error("page failed", zap.Error(err))
	}
	h.render(w, r, e.status, "error.html", pageData{Title: "Error", Error: e.message})
}
