package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/kjstillabower/wind-analytics-service/internal/observability"
)

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.monitor.Evaluate(r.Context())
	writeJSON(w, result.Code, map[string]interface{}{
		"status":    result.Status,
		"service":   observability.ServiceName,
		"version":   "dev",
		"checks":    result.Checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// GetTestStatus handles GET /test. Returns the tracker's current windows.
func (h *Handler) GetTestStatus(w http.ResponseWriter, r *http.Request) {
	th := h.monitor.Thresholds()
	tracker := h.monitor.Tracker()
	window := th.DegradedWindow
	if window <= 0 {
		window = time.Minute
	}
	errs, _ := tracker.ErrorRate(window)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_requests_in_window":  tracker.RequestCount(th.OverloadWindow),
		"denied_requests_in_window": tracker.DenialCount(th.OverloadWindow),
		"errors_in_window":          errs,
		"window_length":             window.String(),
		"config": map[string]interface{}{
			"rate_limit_rps":          th.RateLimitRPS,
			"rate_limit_burst":        th.RateLimitBurst,
			"overload_threshold":      int(th.OverloadThreshold()),
			"overload_window_seconds": th.OverloadWindow.Seconds(),
			"degraded_error_pct":      th.DegradedErrorPct,
		},
	})
}

// PostTestAction handles POST /test/{action} for load, error, reset and shutdown.
func (h *Handler) PostTestAction(w http.ResponseWriter, r *http.Request) {
	switch action := mux.Vars(r)["action"]; action {
	case "load":
		h.postTestLoad(w, r)
	case "error":
		h.postTestError(w, r)
	case "reset":
		h.monitor.Tracker().Reset()
		h.monitor.SetShuttingDown(false)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"ok":      true,
			"action":  "reset",
			"message": "All simulated state cleared",
		})
	case "shutdown":
		h.monitor.SetShuttingDown(true)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"ok":      true,
			"action":  "shutdown",
			"message": "Shutting-down flag set",
		})
	default:
		writeError(w, r, http.StatusNotFound, codeUnknownAction, "unknown test action: "+action)
	}
}

func readCount(r *http.Request, def int) int {
	var body struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Count <= 0 {
		return def
	}
	return body.Count
}

// postTestLoad pushes count simulated requests through the rate limiter, if any.
func (h *Handler) postTestLoad(w http.ResponseWriter, r *http.Request) {
	count := readCount(r, 10)
	tracker := h.monitor.Tracker()
	var accepted, denied int
	for i := 0; i < count; i++ {
		if h.limiter != nil && !h.limiter.Allow() {
			tracker.RecordDenied()
			observability.RateLimitDeniedTotal.Inc()
			denied++
			continue
		}
		accepted++
	}
	tracker.RecordSuccessN(accepted)
	tracker.RecordActivityN(accepted)

	msg := "Recorded " + strconv.Itoa(accepted) + " accepted"
	if denied > 0 {
		msg += ", " + strconv.Itoa(denied) + " denied"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":       true,
		"action":   "load",
		"message":  msg,
		"state":    h.monitor.Evaluate(r.Context()).Status,
		"accepted": accepted,
		"denied":   denied,
	})
}

// postTestError records count simulated failures.
func (h *Handler) postTestError(w http.ResponseWriter, r *http.Request) {
	count := readCount(r, 1)
	tracker := h.monitor.Tracker()
	tracker.RecordErrorN(count)

	window := h.monitor.Thresholds().DegradedWindow
	if window <= 0 {
		window = time.Minute
	}
	errs, total := tracker.ErrorRate(window)
	pct := 0
	if total > 0 {
		pct = errs * 100 / total
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":             true,
		"action":         "error",
		"message":        "Recorded " + strconv.Itoa(count) + " errors",
		"state":          h.monitor.Evaluate(r.Context()).Status,
		"error_rate_pct": pct,
	})
}
