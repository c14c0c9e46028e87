package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	jobmetrics "github.com/meridian-erp/meridian-inventory/internal/jobs"
	"github.com/meridian-erp/meridian-inventory/internal/platform/db"
)

// SummaryRebuilder reconciles material_summaries against the batch ledger.
// The summaries are maintained transactionally on the hot path; this job
// repairs drift after manual data fixes or partial restores.
type SummaryRebuilder struct {
	pool    *pgxpool.Pool
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewSummaryRebuilder constructs the rebuild task handler.
func NewSummaryRebuilder(pool *pgxpool.Pool, logger *slog.Logger) *SummaryRebuilder {
	return &SummaryRebuilder{pool: pool, logger: logger, metrics: jobmetrics.NewMetrics(nil)}
}

// Handle processes TaskTypeSummaryRebuild tasks.
func (s *SummaryRebuilder) Handle(ctx context.Context, t *asynq.Task) error {
	var payload SummaryRebuildPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	track := s.metrics.Track("summary_rebuild")
	started := time.Now()
	var rebuilt int
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		materials, err := s.listMaterials(ctx, tx, payload.MaterialID)
		if err != nil {
			return err
		}
		for _, materialID := range materials {
			if err := s.rebuildOne(ctx, tx, materialID); err != nil {
				return err
			}
			rebuilt++
		}
		return nil
	})
	if err != nil {
		s.logger.Error("summary rebuild failed", slog.Any("error", err))
		return track.End(err)
	}
	_ = track.End(nil)
	s.logger.Info("summary rebuild done",
		slog.Int("materials", rebuilt),
		slog.Duration("took", time.Since(started)))
	return nil
}

func (s *SummaryRebuilder) listMaterials(ctx context.Context, tx pgx.Tx, materialID int64) ([]int64, error) {
	if materialID != 0 {
		return []int64{materialID}, nil
	}
	rows, err := tx.Query(ctx, `SELECT DISTINCT material_id FROM batches ORDER BY material_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// rebuildOne replays the movement log to recover the moving-average cost,
// then takes the on-hand total from the batches themselves so the summary
// always agrees with the source of truth.
func (s *SummaryRebuilder) rebuildOne(ctx context.Context, tx pgx.Tx, materialID int64) error {
	var totalQty decimal.Decimal
	err := tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(remaining_qty), 0) FROM batches WHERE material_id = $1`,
		materialID).Scan(&totalQty)
	if err != nil {
		return err
	}

	rows, err := tx.Query(ctx,
		`SELECT m.movement_type, m.qty, b.unit_cost, m.moved_at
FROM movements m
JOIN batches b ON b.id = m.batch_id
WHERE b.material_id = $1
ORDER BY m.moved_at ASC, m.id ASC`,
		materialID)
	if err != nil {
		return err
	}
	defer rows.Close()

	var (
		runningQty      decimal.Decimal
		avgCost         decimal.Decimal
		lastReceiptCost decimal.Decimal
		lastReceiptAt   *time.Time
	)
	for rows.Next() {
		var (
			movementType string
			qty          decimal.Decimal
			unitCost     decimal.Decimal
			movedAt      time.Time
		)
		if err := rows.Scan(&movementType, &qty, &unitCost, &movedAt); err != nil {
			return err
		}
		if movementType == "RECEIPT" {
			incoming := runningQty.Add(qty)
			if incoming.IsPositive() {
				avgCost = runningQty.Mul(avgCost).Add(qty.Mul(unitCost)).DivRound(incoming, 6)
			}
			lastReceiptCost = unitCost
			at := movedAt
			lastReceiptAt = &at
		}
		runningQty = runningQty.Add(qty)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `INSERT INTO material_summaries
(material_id, total_qty, avg_cost, last_receipt_cost, last_receipt_at, updated_at)
VALUES ($1,$2,$3,$4,$5,NOW())
ON CONFLICT (material_id) DO UPDATE SET
 total_qty=EXCLUDED.total_qty, avg_cost=EXCLUDED.avg_cost,
 last_receipt_cost=EXCLUDED.last_receipt_cost, last_receipt_at=EXCLUDED.last_receipt_at,
 updated_at=NOW()`,
		materialID, totalQty, avgCost, lastReceiptCost, lastReceiptAt)
	return err
}
