package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-inventory/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetBatch(ctx context.Context, id int64) (Batch, error)
	ListActiveBatches(ctx context.Context, materialID, locationID int64) ([]Batch, error)
	ListMovementsByBatch(ctx context.Context, batchID int64) ([]Movement, error)
	GetSummary(ctx context.Context, materialID int64) (MaterialSummary, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates the batch ledger operations. It holds no state of its
// own beyond its collaborators; all consistency lives in the store.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	cache       *SummaryCache
	integration IntegrationHandler
	now         func() time.Time
}

// NewService builds Service. audit, idem, cache and integration may be nil;
// the corresponding side channel is then skipped.
func NewService(repo RepositoryPort, audit AuditPort, idem *shared.IdempotencyStore, cache *SummaryCache, integration IntegrationHandler) *Service {
	return &Service{
		repo:        repo,
		audit:       audit,
		idempotency: idem,
		cache:       cache,
		integration: integration,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// CreateBatch persists a new receipt batch, appends its RECEIPT movement and
// folds the receipt into the material's moving-average summary, all in one
// transaction.
func (s *Service) CreateBatch(ctx context.Context, input CreateBatchInput) (Batch, error) {
	if input.MaterialID == 0 || input.SupplierID == 0 {
		return Batch{}, errors.New("inventory: material and supplier required")
	}
	if !input.Qty.IsPositive() {
		return Batch{}, ErrInvalidQuantity
	}
	if input.UnitCost.IsNegative() {
		return Batch{}, ErrInvalidUnitCost
	}
	refType, refID, err := normalizeRef(input.RefType, input.RefID, "GRN")
	if err != nil {
		return Batch{}, err
	}

	now := s.now()
	receivedAt := input.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = now
	}
	batch := Batch{
		MaterialID:      input.MaterialID,
		BatchNo:         input.BatchNo,
		SupplierID:      input.SupplierID,
		PurchaseOrderID: input.PurchaseOrderID,
		LocationID:      input.LocationID,
		ReceivedAt:      receivedAt,
		ReceivedQty:     input.Qty,
		RemainingQty:    input.Qty,
		UnitCost:        input.UnitCost,
		ExpiresAt:       input.ExpiresAt,
		Condition:       input.Condition,
		Note:            input.Note,
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertBatch(ctx, batch)
		if err != nil {
			return err
		}
		batch.ID = id
		if _, err := tx.InsertMovement(ctx, Movement{
			BatchID: id,
			Type:    MovementTypeReceipt,
			Qty:     input.Qty,
			RefType: refType,
			RefID:   refID,
			MovedAt: now,
			Note:    input.Note,
			ActorID: input.ActorID,
		}); err != nil {
			return err
		}
		summary, err := s.loadSummary(ctx, tx, input.MaterialID)
		if err != nil {
			return err
		}
		summary.AvgCost = movingAverage(summary.TotalQty, summary.AvgCost, input.Qty, input.UnitCost)
		summary.TotalQty = summary.TotalQty.Add(input.Qty)
		summary.LastReceiptCost = input.UnitCost
		summary.LastReceiptAt = receivedAt
		return tx.UpsertSummary(ctx, summary)
	})
	if err != nil {
		return Batch{}, err
	}

	s.afterCommit(ctx, input.ActorID, "inventory:receipt", batch.ID, StockChangedEvent{
		MaterialID: input.MaterialID,
		LocationID: input.LocationID,
		Type:       MovementTypeReceipt,
		Qty:        input.Qty,
		UnitCost:   input.UnitCost,
		RefType:    refType,
		RefID:      refID,
		OccurredAt: now,
	})
	return batch, nil
}

// PreviewAllocation computes the same result as Allocate against the current
// snapshot without mutating anything. It takes no locks and may run slightly
// stale under concurrent writers.
func (s *Service) PreviewAllocation(ctx context.Context, materialID int64, qty decimal.Decimal, locationID int64) (Allocation, error) {
	if materialID == 0 {
		return Allocation{}, errors.New("inventory: material required")
	}
	if !qty.IsPositive() {
		return Allocation{}, ErrInvalidQuantity
	}
	batches, err := s.repo.ListActiveBatches(ctx, materialID, locationID)
	if err != nil {
		return Allocation{}, err
	}
	lines, err := planAllocation(batches, qty)
	if err != nil {
		return Allocation{}, err
	}
	return Allocation{
		MaterialID:  materialID,
		LocationID:  locationID,
		Requested:   qty,
		Lines:       lines,
		AvgUnitCost: weightedAverage(lines),
	}, nil
}

// Allocate satisfies a consumption request oldest-batch-first. It either
// fully succeeds, debiting every matched batch and appending ISSUE movements,
// or fails leaving the ledger untouched.
func (s *Service) Allocate(ctx context.Context, input AllocateInput) (Allocation, error) {
	if input.MaterialID == 0 {
		return Allocation{}, errors.New("inventory: material required")
	}
	if !input.Qty.IsPositive() {
		return Allocation{}, ErrInvalidQuantity
	}
	refType, refID, err := requireRef(input.RefType, input.RefID)
	if err != nil {
		return Allocation{}, err
	}

	key := fmt.Sprintf("ISSUE:%s:%s", refType, refID)
	insertedKey := false
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, "inventory"); err != nil {
			return Allocation{}, err
		}
		insertedKey = true
	}

	now := s.now()
	result := Allocation{MaterialID: input.MaterialID, LocationID: input.LocationID, Requested: input.Qty}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		batches, err := tx.ListActiveBatchesForUpdate(ctx, input.MaterialID, input.LocationID)
		if err != nil {
			return err
		}
		lines, err := planAllocation(batches, input.Qty)
		if err != nil {
			return err
		}
		for _, line := range lines {
			batch := batchByID(batches, line.BatchID)
			remaining := batch.RemainingQty.Sub(line.Qty)
			if err := tx.UpdateBatchRemaining(ctx, line.BatchID, remaining, remaining.IsZero()); err != nil {
				return err
			}
			if _, err := tx.InsertMovement(ctx, Movement{
				BatchID: line.BatchID,
				Type:    MovementTypeIssue,
				Qty:     line.Qty.Neg(),
				RefType: refType,
				RefID:   refID,
				MovedAt: now,
				Note:    input.Note,
				ActorID: input.ActorID,
			}); err != nil {
				return err
			}
		}
		summary, err := s.loadSummary(ctx, tx, input.MaterialID)
		if err != nil {
			return err
		}
		summary.TotalQty = summary.TotalQty.Sub(input.Qty)
		if err := tx.UpsertSummary(ctx, summary); err != nil {
			return err
		}
		result.Lines = lines
		result.AvgUnitCost = weightedAverage(lines)
		return nil
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, key)
		}
		return Allocation{}, err
	}

	s.afterCommit(ctx, input.ActorID, "inventory:issue", input.MaterialID, StockChangedEvent{
		MaterialID: input.MaterialID,
		LocationID: input.LocationID,
		Type:       MovementTypeIssue,
		Qty:        input.Qty.Neg(),
		UnitCost:   result.AvgUnitCost,
		RefType:    refType,
		RefID:      refID,
		OccurredAt: now,
	})
	return result, nil
}

// Adjust applies a signed correction to one batch. The delta may not push the
// batch below zero nor above its received quantity.
func (s *Service) Adjust(ctx context.Context, input AdjustInput) (Batch, error) {
	if input.BatchID == 0 {
		return Batch{}, ErrBatchNotFound
	}
	if input.Delta.IsZero() {
		return Batch{}, ErrInvalidQuantity
	}
	if input.Reason == "" {
		return Batch{}, errors.New("inventory: adjustment reason required")
	}

	now := s.now()
	refID := uuid.NewString()
	var batch Batch
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		batch, err = tx.GetBatchForUpdate(ctx, input.BatchID)
		if err != nil {
			return err
		}
		remaining := batch.RemainingQty.Add(input.Delta)
		if remaining.IsNegative() || remaining.GreaterThan(batch.ReceivedQty) {
			return ErrInvalidAdjustment
		}
		batch.RemainingQty = remaining
		batch.Depleted = remaining.IsZero()
		if err := tx.UpdateBatchRemaining(ctx, batch.ID, remaining, batch.Depleted); err != nil {
			return err
		}
		if _, err := tx.InsertMovement(ctx, Movement{
			BatchID: batch.ID,
			Type:    MovementTypeAdjust,
			Qty:     input.Delta,
			RefType: "ADJUSTMENT",
			RefID:   refID,
			MovedAt: now,
			Note:    input.Reason,
			ActorID: input.ActorID,
		}); err != nil {
			return err
		}
		summary, err := s.loadSummary(ctx, tx, batch.MaterialID)
		if err != nil {
			return err
		}
		summary.TotalQty = summary.TotalQty.Add(input.Delta)
		return tx.UpsertSummary(ctx, summary)
	})
	if err != nil {
		return Batch{}, err
	}

	s.afterCommit(ctx, input.ActorID, "inventory:adjust", batch.ID, StockChangedEvent{
		MaterialID: batch.MaterialID,
		LocationID: batch.LocationID,
		Type:       MovementTypeAdjust,
		Qty:        input.Delta,
		UnitCost:   batch.UnitCost,
		RefType:    "ADJUSTMENT",
		RefID:      refID,
		OccurredAt: now,
	})
	return batch, nil
}

// Transfer moves stock to another location while keeping the cost basis. The
// source batch is debited and a new destination batch is created carrying the
// same material and unit cost; the two movements form a linked pair, so the
// material-wide remaining quantity is unchanged.
func (s *Service) Transfer(ctx context.Context, input TransferInput) (TransferResult, error) {
	if input.BatchID == 0 {
		return TransferResult{}, ErrBatchNotFound
	}
	if !input.Qty.IsPositive() {
		return TransferResult{}, ErrInvalidQuantity
	}
	if input.ToLocationID == 0 {
		return TransferResult{}, errors.New("inventory: destination location required")
	}

	now := s.now()
	pairRef := uuid.NewString()
	var result TransferResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		source, err := tx.GetBatchForUpdate(ctx, input.BatchID)
		if err != nil {
			return err
		}
		if source.LocationID == input.ToLocationID {
			return errors.New("inventory: source and destination location must differ")
		}
		if input.Qty.GreaterThan(source.RemainingQty) {
			return &InsufficientStockError{Requested: input.Qty, Available: source.RemainingQty}
		}
		remaining := source.RemainingQty.Sub(input.Qty)
		source.RemainingQty = remaining
		source.Depleted = remaining.IsZero()
		if err := tx.UpdateBatchRemaining(ctx, source.ID, remaining, source.Depleted); err != nil {
			return err
		}

		dest := Batch{
			MaterialID:      source.MaterialID,
			BatchNo:         source.BatchNo,
			SupplierID:      source.SupplierID,
			PurchaseOrderID: source.PurchaseOrderID,
			LocationID:      input.ToLocationID,
			ReceivedAt:      source.ReceivedAt,
			ReceivedQty:     input.Qty,
			RemainingQty:    input.Qty,
			UnitCost:        source.UnitCost,
			ExpiresAt:       source.ExpiresAt,
			Condition:       source.Condition,
			Note:            fmt.Sprintf("transferred from batch %d: %s", source.ID, input.Note),
		}
		destID, err := tx.InsertBatch(ctx, dest)
		if err != nil {
			return err
		}
		dest.ID = destID

		if _, err := tx.InsertMovement(ctx, Movement{
			BatchID: source.ID,
			Type:    MovementTypeTransferOut,
			Qty:     input.Qty.Neg(),
			RefType: "TRANSFER",
			RefID:   pairRef,
			MovedAt: now,
			Note:    fmt.Sprintf("to batch %d", destID),
			ActorID: input.ActorID,
		}); err != nil {
			return err
		}
		if _, err := tx.InsertMovement(ctx, Movement{
			BatchID: destID,
			Type:    MovementTypeTransferIn,
			Qty:     input.Qty,
			RefType: "TRANSFER",
			RefID:   pairRef,
			MovedAt: now,
			Note:    fmt.Sprintf("from batch %d", source.ID),
			ActorID: input.ActorID,
		}); err != nil {
			return err
		}
		result = TransferResult{Source: source, Destination: dest}
		return nil
	})
	if err != nil {
		return TransferResult{}, err
	}

	// The summary cache key is material-scoped, so one invalidation covers
	// both locations touched by the pair.
	s.afterCommit(ctx, input.ActorID, "inventory:transfer", result.Source.ID, StockChangedEvent{
		MaterialID: result.Source.MaterialID,
		LocationID: input.ToLocationID,
		Type:       MovementTypeTransferIn,
		Qty:        input.Qty,
		UnitCost:   result.Source.UnitCost,
		RefType:    "TRANSFER",
		RefID:      pairRef,
		OccurredAt: now,
	})
	return result, nil
}

// Reverse undoes a prior allocation. Every ISSUE movement recorded for the
// reference is re-credited to its original batch, and a REVERSAL movement is
// appended per batch. A second reversal for the same reference fails without
// changing anything.
func (s *Service) Reverse(ctx context.Context, input ReverseInput) ([]ReversalLine, error) {
	refType, refID, err := requireRef(input.RefType, input.RefID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var lines []ReversalLine
	var materialID, locationID int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		reversed, err := tx.HasReversal(ctx, refType, refID)
		if err != nil {
			return err
		}
		if reversed {
			return ErrAlreadyReversed
		}
		movements, err := tx.ListMovementsByReference(ctx, refType, refID)
		if err != nil {
			return err
		}
		total := decimal.Zero
		for _, mv := range movements {
			if mv.Type != MovementTypeIssue {
				continue
			}
			credit := mv.Qty.Neg()
			batch, err := tx.GetBatchForUpdate(ctx, mv.BatchID)
			if err != nil {
				return err
			}
			remaining := batch.RemainingQty.Add(credit)
			if remaining.GreaterThan(batch.ReceivedQty) {
				return ErrInvalidAdjustment
			}
			if err := tx.UpdateBatchRemaining(ctx, batch.ID, remaining, remaining.IsZero()); err != nil {
				return err
			}
			movementID, err := tx.InsertMovement(ctx, Movement{
				BatchID: batch.ID,
				Type:    MovementTypeReversal,
				Qty:     credit,
				RefType: refType,
				RefID:   refID,
				MovedAt: now,
				Note:    fmt.Sprintf("reversal of movement %d", mv.ID),
				ActorID: input.ActorID,
			})
			if err != nil {
				return err
			}
			lines = append(lines, ReversalLine{BatchID: batch.ID, Qty: credit, MovementID: movementID})
			total = total.Add(credit)
			materialID = batch.MaterialID
			locationID = batch.LocationID
		}
		if len(lines) == 0 {
			return ErrNothingToReverse
		}
		summary, err := s.loadSummary(ctx, tx, materialID)
		if err != nil {
			return err
		}
		summary.TotalQty = summary.TotalQty.Add(total)
		return tx.UpsertSummary(ctx, summary)
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, input.ActorID, "inventory:reversal", materialID, StockChangedEvent{
		MaterialID: materialID,
		LocationID: locationID,
		Type:       MovementTypeReversal,
		Qty:        sumReversal(lines),
		RefType:    refType,
		RefID:      refID,
		OccurredAt: now,
	})
	return lines, nil
}

// MaterialSummary returns the derived projection for a material, read through
// the summary cache when one is configured. A material with no summary row
// yet reads as zero stock.
func (s *Service) MaterialSummary(ctx context.Context, materialID int64) (MaterialSummary, error) {
	if materialID == 0 {
		return MaterialSummary{}, errors.New("inventory: material required")
	}
	loader := func(ctx context.Context) (MaterialSummary, error) {
		summary, err := s.repo.GetSummary(ctx, materialID)
		if errors.Is(err, ErrSummaryNotFound) {
			return summary, nil
		}
		return summary, err
	}
	if s.cache == nil {
		return loader(ctx)
	}
	return s.cache.FetchSummary(ctx, materialID, loader)
}

// ListMovements lists the ledger trail of one batch oldest first.
func (s *Service) ListMovements(ctx context.Context, batchID int64) ([]Movement, error) {
	if _, err := s.repo.GetBatch(ctx, batchID); err != nil {
		return nil, err
	}
	return s.repo.ListMovementsByBatch(ctx, batchID)
}

// planAllocation walks FIFO-ordered batches taking the minimum of what the
// batch holds and what is still needed. When the walk exhausts the batches
// with demand left over, the whole request is rejected so the caller never
// observes partial consumption.
func planAllocation(batches []Batch, qty decimal.Decimal) ([]AllocationLine, error) {
	var lines []AllocationLine
	needed := qty
	for _, batch := range batches {
		if !needed.IsPositive() {
			break
		}
		take := decimal.Min(batch.RemainingQty, needed)
		if !take.IsPositive() {
			continue
		}
		lines = append(lines, AllocationLine{BatchID: batch.ID, Qty: take, UnitCost: batch.UnitCost})
		needed = needed.Sub(take)
	}
	if needed.IsPositive() {
		return nil, &InsufficientStockError{Requested: qty, Available: qty.Sub(needed)}
	}
	return lines, nil
}

// weightedAverage computes sum(qty*cost)/sum(qty) across allocation lines.
func weightedAverage(lines []AllocationLine) decimal.Decimal {
	total := decimal.Zero
	cost := decimal.Zero
	for _, line := range lines {
		total = total.Add(line.Qty)
		cost = cost.Add(line.Qty.Mul(line.UnitCost))
	}
	if total.IsZero() {
		return decimal.Zero
	}
	return cost.DivRound(total, 6)
}

// movingAverage folds one receipt into the running average:
// (oldQty*oldAvg + qty*cost) / (oldQty+qty).
func movingAverage(oldQty, oldAvg, qty, cost decimal.Decimal) decimal.Decimal {
	newQty := oldQty.Add(qty)
	if !newQty.IsPositive() {
		return decimal.Zero
	}
	return oldQty.Mul(oldAvg).Add(qty.Mul(cost)).DivRound(newQty, 6)
}

func (s *Service) loadSummary(ctx context.Context, tx TxRepository, materialID int64) (MaterialSummary, error) {
	summary, err := tx.GetSummaryForUpdate(ctx, materialID)
	if err != nil && !errors.Is(err, ErrSummaryNotFound) {
		return MaterialSummary{}, err
	}
	return summary, nil
}

// afterCommit dispatches the fire-and-forget side channels: cache
// invalidation, audit attribution and the integration event. They run off the
// request goroutine so a degraded redis or audit sink never stalls the
// response, and detached from request cancellation because the transaction is
// already durable. Failures are ignored here.
func (s *Service) afterCommit(ctx context.Context, actorID int64, action string, entityID int64, evt StockChangedEvent) {
	ctx = context.WithoutCancel(ctx)
	go s.notify(ctx, actorID, action, entityID, evt)
}

func (s *Service) notify(ctx context.Context, actorID int64, action string, entityID int64, evt StockChangedEvent) {
	s.cache.Invalidate(ctx, evt.MaterialID, evt.LocationID)
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   action,
			Entity:   "inventory_batch",
			EntityID: fmt.Sprintf("%d", entityID),
			Meta: map[string]any{
				"material_id": evt.MaterialID,
				"location_id": evt.LocationID,
				"qty":         evt.Qty.String(),
				"ref_type":    evt.RefType,
				"ref_id":      evt.RefID,
			},
		})
	}
	if s.integration != nil {
		_ = s.integration.HandleStockChanged(ctx, evt)
	}
}

func batchByID(batches []Batch, id int64) Batch {
	for _, batch := range batches {
		if batch.ID == id {
			return batch
		}
	}
	return Batch{}
}

func sumReversal(lines []ReversalLine) decimal.Decimal {
	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(line.Qty)
	}
	return total
}

func normalizeRef(refType, refID, defaultType string) (string, string, error) {
	if refType == "" {
		refType = defaultType
	}
	if refID == "" {
		return refType, uuid.NewString(), nil
	}
	if _, err := uuid.Parse(refID); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidReference, err)
	}
	return refType, refID, nil
}

func requireRef(refType, refID string) (string, string, error) {
	if refType == "" || refID == "" {
		return "", "", ErrInvalidReference
	}
	if _, err := uuid.Parse(refID); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidReference, err)
	}
	return refType, refID, nil
}
