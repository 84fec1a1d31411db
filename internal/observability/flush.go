package observability

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
)

// FlushTelemetry syncs the logger and closes the given resources (cache clients) before exit.
// Metrics are pull-based and need no flush. Returns ctx.Err() if ctx ends first.
// Call during graceful shutdown after in-flight requests have drained.
func FlushTelemetry(ctx context.Context, logger *zap.Logger, closers ...io.Closer) error {
	done := make(chan error, 1)
	go func() {
		var errs []error
		for _, c := range closers {
			if c == nil {
				continue
			}
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close: %w", err))
			}
		}
		if logger != nil {
			if err := logger.Sync(); err != nil {
				errs = append(errs, fmt.Errorf("flush logs: %w", err))
			}
		}
		done <- errors.Join(errs...)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
