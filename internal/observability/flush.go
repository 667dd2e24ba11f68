package observability

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// FlushTelemetry flushes telemetry buffers before process exit.
// Pending spans are exported through shutdown (may be nil), then logs are synced.
// Call during graceful shutdown after in-flight requests have drained.
func FlushTelemetry(ctx context.Context, logger *zap.Logger, shutdown ShutdownFunc) error {
	var err error
	if shutdown != nil {
		if serr := shutdown(ctx); serr != nil {
			err = multierr.Append(err, fmt.Errorf("flush traces: %w", serr))
		}
	}
	if logger != nil {
		if lerr := logger.Sync(); lerr != nil {
			err = multierr.Append(err, fmt.Errorf("flush logs: %w", lerr))
		}
	}
	return err
}
