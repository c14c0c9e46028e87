package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeSummaryRebuild recomputes material summaries from batch state.
	TaskTypeSummaryRebuild = "inventory:summary_rebuild"
	// TaskTypeIdempotencyCleanup prunes expired idempotency keys.
	TaskTypeIdempotencyCleanup = "idempotency:cleanup"
)

// SummaryRebuildPayload carries scheduling metadata for the rebuild task.
type SummaryRebuildPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
	// MaterialID limits the rebuild to one material when non-zero.
	MaterialID int64 `json:"material_id,omitempty"`
}

// NewSummaryRebuildTask constructs an Asynq task for summary reconciliation.
func NewSummaryRebuildTask(payload SummaryRebuildPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSummaryRebuild, body, asynq.Queue(QueueDefault)), nil
}

// IdempotencyCleanupPayload carries the retention window for key pruning.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewIdempotencyCleanupTask constructs an Asynq task for idempotency cleanup.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
