package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository persists the batch ledger in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the transactional operations used by the service.
// Every mutating service operation runs entirely inside one WithTx callback.
type TxRepository interface {
	ListActiveBatchesForUpdate(ctx context.Context, materialID, locationID int64) ([]Batch, error)
	GetBatchForUpdate(ctx context.Context, id int64) (Batch, error)
	InsertBatch(ctx context.Context, batch Batch) (int64, error)
	UpdateBatchRemaining(ctx context.Context, id int64, remaining decimal.Decimal, depleted bool) error
	InsertMovement(ctx context.Context, mv Movement) (int64, error)
	ListMovementsByReference(ctx context.Context, refType, refID string) ([]Movement, error)
	HasReversal(ctx context.Context, refType, refID string) (bool, error)
	GetSummaryForUpdate(ctx context.Context, materialID int64) (MaterialSummary, error)
	UpsertSummary(ctx context.Context, summary MaterialSummary) error
}

type txRepository struct {
	tx pgx.Tx
}

// ErrSummaryNotFound indicates a missing material summary row.
var ErrSummaryNotFound = errors.New("inventory: material summary not found")

// WithTx runs fn inside a repeatable-read transaction. Serialization and
// deadlock failures surface as ErrConcurrencyConflict so callers can retry
// the whole operation from scratch.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory: repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	wrapper := &txRepository{tx: tx}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return mapConflict(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return mapConflict(err)
	}
	return nil
}

func mapConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return ErrConcurrencyConflict
		}
	}
	return err
}

const batchColumns = `id, material_id, batch_no, supplier_id, purchase_order_id, location_id,
received_at, received_qty, remaining_qty, unit_cost, expires_at, condition, depleted, note, created_at`

func scanBatch(row pgx.Row) (Batch, error) {
	var b Batch
	var poID, locID *int64
	err := row.Scan(&b.ID, &b.MaterialID, &b.BatchNo, &b.SupplierID, &poID, &locID,
		&b.ReceivedAt, &b.ReceivedQty, &b.RemainingQty, &b.UnitCost, &b.ExpiresAt,
		&b.Condition, &b.Depleted, &b.Note, &b.CreatedAt)
	if err != nil {
		return Batch{}, err
	}
	if poID != nil {
		b.PurchaseOrderID = *poID
	}
	if locID != nil {
		b.LocationID = *locID
	}
	return b, nil
}

// GetBatch loads one batch without locking.
func (r *Repository) GetBatch(ctx context.Context, id int64) (Batch, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+batchColumns+` FROM batches WHERE id=$1`, id)
	batch, err := scanBatch(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Batch{}, ErrBatchNotFound
	}
	return batch, err
}

// ListActiveBatches returns the non-depleted batches of a material in FIFO
// order. The id tie-break keeps the order total when receipt dates collide.
// Read-only snapshot used by PreviewAllocation; it takes no locks.
func (r *Repository) ListActiveBatches(ctx context.Context, materialID, locationID int64) ([]Batch, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+batchColumns+` FROM batches
WHERE material_id=$1 AND NOT depleted AND ($2::bigint IS NULL OR location_id=$2)
ORDER BY received_at ASC, id ASC`, materialID, nullInt(locationID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBatches(rows)
}

// ListMovementsByBatch returns a batch's movements oldest first.
func (r *Repository) ListMovementsByBatch(ctx context.Context, batchID int64) ([]Movement, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, batch_id, movement_type, qty, ref_type, ref_id, moved_at, note, actor_id, created_at
FROM movements WHERE batch_id=$1 ORDER BY created_at ASC, id ASC`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMovements(rows)
}

// GetSummary loads the derived per-material projection without locking.
func (r *Repository) GetSummary(ctx context.Context, materialID int64) (MaterialSummary, error) {
	return getSummary(ctx, r.pool, materialID, false)
}

func (r *txRepository) ListActiveBatchesForUpdate(ctx context.Context, materialID, locationID int64) ([]Batch, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+batchColumns+` FROM batches
WHERE material_id=$1 AND NOT depleted AND ($2::bigint IS NULL OR location_id=$2)
ORDER BY received_at ASC, id ASC
FOR UPDATE`, materialID, nullInt(locationID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBatches(rows)
}

func (r *txRepository) GetBatchForUpdate(ctx context.Context, id int64) (Batch, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+batchColumns+` FROM batches WHERE id=$1 FOR UPDATE`, id)
	batch, err := scanBatch(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Batch{}, ErrBatchNotFound
	}
	return batch, err
}

func (r *txRepository) InsertBatch(ctx context.Context, batch Batch) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO batches
(material_id, batch_no, supplier_id, purchase_order_id, location_id, received_at,
 received_qty, remaining_qty, unit_cost, expires_at, condition, depleted, note, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,NOW())
RETURNING id`,
		batch.MaterialID, batch.BatchNo, batch.SupplierID, nullInt(batch.PurchaseOrderID),
		nullInt(batch.LocationID), batch.ReceivedAt, batch.ReceivedQty, batch.RemainingQty,
		batch.UnitCost, batch.ExpiresAt, batch.Condition, batch.Depleted, batch.Note).Scan(&id)
	return id, err
}

func (r *txRepository) UpdateBatchRemaining(ctx context.Context, id int64, remaining decimal.Decimal, depleted bool) error {
	tag, err := r.tx.Exec(ctx, `UPDATE batches SET remaining_qty=$2, depleted=$3 WHERE id=$1`, id, remaining, depleted)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBatchNotFound
	}
	return nil
}

func (r *txRepository) InsertMovement(ctx context.Context, mv Movement) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO movements
(batch_id, movement_type, qty, ref_type, ref_id, moved_at, note, actor_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW())
RETURNING id`,
		mv.BatchID, string(mv.Type), mv.Qty, mv.RefType, mv.RefID, mv.MovedAt, mv.Note, nullInt(mv.ActorID)).Scan(&id)
	return id, err
}

func (r *txRepository) ListMovementsByReference(ctx context.Context, refType, refID string) ([]Movement, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, batch_id, movement_type, qty, ref_type, ref_id, moved_at, note, actor_id, created_at
FROM movements WHERE ref_type=$1 AND ref_id=$2 ORDER BY created_at ASC, id ASC`, refType, refID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMovements(rows)
}

func (r *txRepository) HasReversal(ctx context.Context, refType, refID string) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (
SELECT 1 FROM movements WHERE ref_type=$1 AND ref_id=$2 AND movement_type=$3)`,
		refType, refID, string(MovementTypeReversal)).Scan(&exists)
	return exists, err
}

func (r *txRepository) GetSummaryForUpdate(ctx context.Context, materialID int64) (MaterialSummary, error) {
	return getSummary(ctx, r.tx, materialID, true)
}

func (r *txRepository) UpsertSummary(ctx context.Context, summary MaterialSummary) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO material_summaries
(material_id, total_qty, avg_cost, last_receipt_cost, last_receipt_at, updated_at)
VALUES ($1,$2,$3,$4,$5,NOW())
ON CONFLICT (material_id) DO UPDATE SET
 total_qty=EXCLUDED.total_qty, avg_cost=EXCLUDED.avg_cost,
 last_receipt_cost=EXCLUDED.last_receipt_cost, last_receipt_at=EXCLUDED.last_receipt_at,
 updated_at=NOW()`,
		summary.MaterialID, summary.TotalQty, summary.AvgCost,
		summary.LastReceiptCost, nullTime(summary.LastReceiptAt))
	return err
}

type queryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getSummary(ctx context.Context, q queryer, materialID int64, forUpdate bool) (MaterialSummary, error) {
	sql := `SELECT material_id, total_qty, avg_cost, last_receipt_cost, last_receipt_at, updated_at
FROM material_summaries WHERE material_id=$1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	var s MaterialSummary
	var lastAt *time.Time
	err := q.QueryRow(ctx, sql, materialID).
		Scan(&s.MaterialID, &s.TotalQty, &s.AvgCost, &s.LastReceiptCost, &lastAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return MaterialSummary{
				MaterialID: materialID,
				TotalQty:   decimal.Zero,
				AvgCost:    decimal.Zero,
			}, ErrSummaryNotFound
		}
		return MaterialSummary{}, err
	}
	if lastAt != nil {
		s.LastReceiptAt = *lastAt
	}
	return s, nil
}

func collectBatches(rows pgx.Rows) ([]Batch, error) {
	var batches []Batch
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return batches, nil
}

func collectMovements(rows pgx.Rows) ([]Movement, error) {
	var movements []Movement
	for rows.Next() {
		var mv Movement
		var actorID *int64
		var movementType string
		if err := rows.Scan(&mv.ID, &mv.BatchID, &movementType, &mv.Qty, &mv.RefType,
			&mv.RefID, &mv.MovedAt, &mv.Note, &actorID, &mv.CreatedAt); err != nil {
			return nil, err
		}
		mv.Type = MovementType(movementType)
		if actorID != nil {
			mv.ActorID = *actorID
		}
		movements = append(movements, mv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return movements, nil
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
