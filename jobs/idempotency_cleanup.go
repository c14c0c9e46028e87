package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/meridian-erp/meridian-inventory/internal/jobs"
	"github.com/meridian-erp/meridian-inventory/internal/shared"
)

// IdempotencyCleaner prunes idempotency keys older than the retention window.
type IdempotencyCleaner struct {
	store   *shared.IdempotencyStore
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewIdempotencyCleaner constructs the cleanup task handler.
func NewIdempotencyCleaner(store *shared.IdempotencyStore, logger *slog.Logger) *IdempotencyCleaner {
	return &IdempotencyCleaner{store: store, logger: logger, metrics: jobmetrics.NewMetrics(nil)}
}

// Handle processes TaskTypeIdempotencyCleanup tasks.
func (c *IdempotencyCleaner) Handle(ctx context.Context, t *asynq.Task) error {
	var payload IdempotencyCleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	retention := payload.Retention
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	track := c.metrics.Track("idempotency_cleanup")
	removed, err := c.store.Cleanup(ctx, retention)
	if err != nil {
		c.logger.Error("idempotency cleanup failed", slog.Any("error", err))
		return track.End(err)
	}
	_ = track.End(nil)
	c.logger.Info("idempotency cleanup done", slog.Int64("removed", removed))
	return nil
}
