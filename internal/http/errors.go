package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/kjstillabower/wind-analytics-service/internal/analysis"
	"github.com/kjstillabower/wind-analytics-service/internal/charts"
	"github.com/kjstillabower/wind-analytics-service/internal/client"
	"github.com/kjstillabower/wind-analytics-service/internal/dataset"
	"github.com/kjstillabower/wind-analytics-service/internal/events"
	"github.com/kjstillabower/wind-analytics-service/internal/requestctx"
	"github.com/kjstillabower/wind-analytics-service/internal/service"
	"github.com/kjstillabower/wind-analytics-service/internal/store"
	"github.com/kjstillabower/wind-analytics-service/internal/validation"
)

// Stable error codes returned in the "error.code" field.
const (
	codeInvalidKind         = "INVALID_KIND"
	codeInvalidSite         = "INVALID_SITE"
	codeInvalidParameter    = "INVALID_PARAMETER"
	codeWorkspaceNotFound   = "WORKSPACE_NOT_FOUND"
	codeDatasetNotFound     = "DATASET_NOT_FOUND"
	codeColumnNotFound      = "COLUMN_NOT_FOUND"
	codeUnknownChart        = "UNKNOWN_CHART"
	codeInvalidCSV          = "INVALID_CSV"
	codeEmptyDataset        = "EMPTY_DATASET"
	codeUploadTooLarge      = "UPLOAD_TOO_LARGE"
	codeRateLimited         = "RATE_LIMITED"
	codeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	codeInternal            = "INTERNAL"
	codeUnknownAction       = "UNKNOWN_ACTION"
)

// apiError is the mapped form of a service error.
type apiError struct {
	status  int
	code    string
	message string
}

// classify maps a service error to its HTTP status and stable code. Anything
// unrecognised is INTERNAL with a generic message.
func classify(err error) apiError {
	switch {
	case errors.Is(err, validation.ErrInvalidKind):
		return apiError{http.StatusBadRequest, codeInvalidKind, err.Error()}
	case errors.Is(err, validation.ErrInvalidSite):
		return apiError{http.StatusBadRequest, codeInvalidSite, err.Error()}
	case errors.Is(err, store.ErrNotFound):
		return apiError{http.StatusNotFound, codeWorkspaceNotFound, "workspace not found"}
	case errors.Is(err, service.ErrDatasetNotFound):
		return apiError{http.StatusNotFound, codeDatasetNotFound, err.Error()}
	case errors.Is(err, service.ErrUnknownChart):
		return apiError{http.StatusNotFound, codeUnknownChart, err.Error()}
	case errors.Is(err, analysis.ErrColumnNotFound),
		errors.Is(err, analysis.ErrNoCommonColumns),
		errors.Is(err, events.ErrColumnNotFound),
		errors.Is(err, charts.ErrNoData):
		return apiError{http.StatusUnprocessableEntity, codeColumnNotFound, err.Error()}
	case errors.Is(err, dataset.ErrTooLarge):
		return apiError{http.StatusRequestEntityTooLarge, codeUploadTooLarge, err.Error()}
	case errors.Is(err, dataset.ErrEmptyDataset):
		return apiError{http.StatusBadRequest, codeEmptyDataset, err.Error()}
	case errors.Is(err, dataset.ErrInvalidCSV):
		return apiError{http.StatusBadRequest, codeInvalidCSV, err.Error()}
	case errors.Is(err, client.ErrUpstreamFailure),
		errors.Is(err, client.ErrRateLimited),
		errors.Is(err, client.ErrTimeout),
		errors.Is(err, client.ErrNoData),
		errors.Is(err, client.ErrCircuitOpen),
		errors.Is(err, context.DeadlineExceeded):
		return apiError{http.StatusServiceUnavailable, codeUpstreamUnavailable, "Unable to fetch weather data"}
	default:
		return apiError{http.StatusInternalServerError, codeInternal, "internal error"}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes {"error":{"code","message","requestId"}}.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": requestctx.CorrelationID(r.Context()),
		},
	})
}

// writeServiceError maps err and writes it. 5xx causes are logged at ERROR,
// client mistakes at DEBUG.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	e := classify(err)
	logger := requestctx.Logger(r.Context())
	if e.status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.String("code", e.code), zap.Error(err))
	} else {
		logger.Debug("request rejected", zap.String("code", e.code), zap.Error(err))
	}
	writeError(w, r, e.status, e.code, e.message)
}
