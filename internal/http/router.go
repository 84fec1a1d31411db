package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/wind-analytics-service/internal/health"
	"github.com/kjstillabower/wind-analytics-service/internal/observability"
)

// RouterConfig selects per-route timeouts and optional endpoints.
type RouterConfig struct {
	RequestTimeout    time.Duration
	CrossCheckTimeout time.Duration
	TestingMode       bool
}

const (
	datasetPath = "/workspaces/{id}/datasets/{kind}/{site}"
	comparePath = "/workspaces/{id}/compare/{kind}"
	chartName   = "{chart:[a-z]+}.png"
)

// NewRouter wires pages, the JSON API, health, metrics and (in testing mode) the
// /test endpoints. Analyst traffic is rate limited and feeds the health tracker;
// /health and /metrics are not.
func NewRouter(h *Handler, inFlight *InFlight, logger *zap.Logger, cfg RouterConfig) *mux.Router {
	tracker := h.monitor.Tracker()

	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.Use(inFlight.Middleware)
	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	if cfg.TestingMode {
		logger.Warn("testing mode enabled; /test endpoint exposed")
		router.HandleFunc("/test", h.GetTestStatus).Methods(http.MethodGet)
		router.HandleFunc("/test/{action}", h.PostTestAction).Methods(http.MethodPost)
	}

	// Each group gets exactly one deadline: cross-checking fans out to the
	// weather API and has its own budget.
	crossCheck := limited(router.NewRoute().Subrouter(), tracker, h, cfg.CrossCheckTimeout)
	crossCheck.HandleFunc("/api"+datasetPath+"/events/crosscheck", h.GetCrossCheck).Methods(http.MethodGet)

	api := limited(router.PathPrefix("/api").Subrouter(), tracker, h, cfg.RequestTimeout)
	api.HandleFunc("/workspaces", h.CreateWorkspace).Methods(http.MethodPost)
	api.HandleFunc("/workspaces/{id}", h.GetWorkspace).Methods(http.MethodGet)
	api.HandleFunc(datasetPath, h.PutDataset).Methods(http.MethodPut)
	api.HandleFunc(datasetPath, h.GetDataset).Methods(http.MethodGet)
	api.HandleFunc(datasetPath+"/{view:preview|describe|correlation|events}", h.GetDatasetView).Methods(http.MethodGet)
	api.HandleFunc(datasetPath+"/charts/"+chartName, h.GetDatasetChart).Methods(http.MethodGet)
	api.HandleFunc(comparePath, h.GetComparison).Methods(http.MethodGet)
	api.HandleFunc("/workspaces/{id}/compare/{kind:lidar}/heights", h.GetHeights).Methods(http.MethodGet)
	api.HandleFunc(comparePath+"/charts/"+chartName, h.GetCompareChart).Methods(http.MethodGet)

	pages := limited(router.NewRoute().Subrouter(), tracker, h, cfg.RequestTimeout)
	pages.HandleFunc("/", h.Index).Methods(http.MethodGet)
	pages.HandleFunc("/workspaces", h.CreateWorkspacePage).Methods(http.MethodPost)
	pages.HandleFunc("/workspaces/{id}", h.DashboardPage).Methods(http.MethodGet)
	pages.HandleFunc("/workspaces/{id}/uploads", h.UploadPage).Methods(http.MethodPost)
	return router
}

// limited applies rate limiting, outcome tracking and a request deadline to sub.
func limited(sub *mux.Router, tracker *health.Tracker, h *Handler, timeout time.Duration) *mux.Router {
	sub.Use(RateLimitMiddleware(h.limiter, tracker))
	sub.Use(OutcomeMiddleware(tracker))
	sub.Use(TimeoutMiddleware(timeout))
	return sub
}
