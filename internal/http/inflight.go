package http

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/kjstillabower/wind-analytics-service/internal/observability"
)

// InFlight counts requests currently being served so shutdown can drain them.
type InFlight struct {
	count atomic.Int64
}

// Middleware counts the request for its whole lifetime and mirrors the count
// into the in-flight gauge.
func (f *InFlight) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.count.Add(1)
		observability.HTTPRequestsInFlight.Inc()
		defer func() {
			f.count.Add(-1)
			observability.HTTPRequestsInFlight.Dec()
		}()
		next.ServeHTTP(w, r)
	})
}

// Count returns the current in-flight count.
func (f *InFlight) Count() int64 {
	return f.count.Load()
}

// WaitForZero blocks until no requests are in flight or ctx is done,
// re-checking every checkInterval.
func (f *InFlight) WaitForZero(ctx context.Context, checkInterval time.Duration) error {
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()
	for {
		if f.Count() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
