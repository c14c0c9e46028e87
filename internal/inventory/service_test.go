package inventory

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	batches      map[int64]Batch
	movements    []Movement
	summaries    map[int64]MaterialSummary
	nextBatch    int64
	nextMovement int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		batches:   make(map[int64]Batch),
		summaries: make(map[int64]MaterialSummary),
	}
}

func (r *memoryRepo) clone() *memoryRepo {
	dup := newMemoryRepo()
	for id, batch := range r.batches {
		dup.batches[id] = batch
	}
	dup.movements = append(dup.movements, r.movements...)
	for id, summary := range r.summaries {
		dup.summaries[id] = summary
	}
	dup.nextBatch = r.nextBatch
	dup.nextMovement = r.nextMovement
	return dup
}

// WithTx mimics transactional semantics: the callback works on a copy and the
// copy replaces live state only when the callback succeeds.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	work := r.clone()
	if err := fn(ctx, &memoryTx{repo: work}); err != nil {
		return err
	}
	*r = *work
	return nil
}

func (r *memoryRepo) GetBatch(ctx context.Context, id int64) (Batch, error) {
	batch, ok := r.batches[id]
	if !ok {
		return Batch{}, ErrBatchNotFound
	}
	return batch, nil
}

func (r *memoryRepo) ListActiveBatches(ctx context.Context, materialID, locationID int64) ([]Batch, error) {
	return r.activeBatches(materialID, locationID), nil
}

func (r *memoryRepo) ListMovementsByBatch(ctx context.Context, batchID int64) ([]Movement, error) {
	var result []Movement
	for _, mv := range r.movements {
		if mv.BatchID == batchID {
			result = append(result, mv)
		}
	}
	return result, nil
}

func (r *memoryRepo) GetSummary(ctx context.Context, materialID int64) (MaterialSummary, error) {
	summary, ok := r.summaries[materialID]
	if !ok {
		return MaterialSummary{MaterialID: materialID, TotalQty: decimal.Zero, AvgCost: decimal.Zero}, ErrSummaryNotFound
	}
	return summary, nil
}

func (r *memoryRepo) activeBatches(materialID, locationID int64) []Batch {
	var result []Batch
	for _, batch := range r.batches {
		if batch.MaterialID != materialID || batch.Depleted {
			continue
		}
		if locationID != 0 && batch.LocationID != locationID {
			continue
		}
		result = append(result, batch)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].ReceivedAt.Equal(result[j].ReceivedAt) {
			return result[i].ReceivedAt.Before(result[j].ReceivedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result
}

func (tx *memoryTx) ListActiveBatchesForUpdate(ctx context.Context, materialID, locationID int64) ([]Batch, error) {
	return tx.repo.activeBatches(materialID, locationID), nil
}

func (tx *memoryTx) GetBatchForUpdate(ctx context.Context, id int64) (Batch, error) {
	return tx.repo.GetBatch(ctx, id)
}

func (tx *memoryTx) InsertBatch(ctx context.Context, batch Batch) (int64, error) {
	tx.repo.nextBatch++
	batch.ID = tx.repo.nextBatch
	batch.CreatedAt = time.Now().UTC()
	tx.repo.batches[batch.ID] = batch
	return batch.ID, nil
}

func (tx *memoryTx) UpdateBatchRemaining(ctx context.Context, id int64, remaining decimal.Decimal, depleted bool) error {
	batch, ok := tx.repo.batches[id]
	if !ok {
		return ErrBatchNotFound
	}
	batch.RemainingQty = remaining
	batch.Depleted = depleted
	tx.repo.batches[id] = batch
	return nil
}

func (tx *memoryTx) InsertMovement(ctx context.Context, mv Movement) (int64, error) {
	tx.repo.nextMovement++
	mv.ID = tx.repo.nextMovement
	mv.CreatedAt = time.Now().UTC()
	tx.repo.movements = append(tx.repo.movements, mv)
	return mv.ID, nil
}

func (tx *memoryTx) ListMovementsByReference(ctx context.Context, refType, refID string) ([]Movement, error) {
	var result []Movement
	for _, mv := range tx.repo.movements {
		if mv.RefType == refType && mv.RefID == refID {
			result = append(result, mv)
		}
	}
	return result, nil
}

func (tx *memoryTx) HasReversal(ctx context.Context, refType, refID string) (bool, error) {
	for _, mv := range tx.repo.movements {
		if mv.RefType == refType && mv.RefID == refID && mv.Type == MovementTypeReversal {
			return true, nil
		}
	}
	return false, nil
}

func (tx *memoryTx) GetSummaryForUpdate(ctx context.Context, materialID int64) (MaterialSummary, error) {
	return tx.repo.GetSummary(ctx, materialID)
}

func (tx *memoryTx) UpsertSummary(ctx context.Context, summary MaterialSummary) error {
	summary.UpdatedAt = time.Now().UTC()
	tx.repo.summaries[summary.MaterialID] = summary
	return nil
}

func dec(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func day(offset int) time.Time {
	return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, offset)
}

func receive(t *testing.T, svc *Service, materialID int64, receivedAt time.Time, qty, cost string) Batch {
	t.Helper()
	batch, err := svc.CreateBatch(context.Background(), CreateBatchInput{
		MaterialID: materialID,
		SupplierID: 7,
		ReceivedAt: receivedAt,
		Qty:        dec(qty),
		UnitCost:   dec(cost),
	})
	require.NoError(t, err)
	return batch
}

func newTestService(repo *memoryRepo) *Service {
	return NewService(repo, nil, nil, nil, nil)
}

func TestCreateBatchValidation(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	ctx := context.Background()

	_, err := svc.CreateBatch(ctx, CreateBatchInput{MaterialID: 1, SupplierID: 1, Qty: dec("0"), UnitCost: dec("1")})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.CreateBatch(ctx, CreateBatchInput{MaterialID: 1, SupplierID: 1, Qty: dec("-2"), UnitCost: dec("1")})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.CreateBatch(ctx, CreateBatchInput{MaterialID: 1, SupplierID: 1, Qty: dec("2"), UnitCost: dec("-1")})
	require.ErrorIs(t, err, ErrInvalidUnitCost)

	_, err = svc.CreateBatch(ctx, CreateBatchInput{MaterialID: 1, SupplierID: 1, Qty: dec("2"), UnitCost: dec("1"), RefID: "not-a-uuid"})
	require.ErrorIs(t, err, ErrInvalidReference)
}

func TestCreateBatchAppendsReceiptMovement(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)

	batch := receive(t, svc, 1, day(0), "10", "2.50")
	require.True(t, batch.RemainingQty.Equal(dec("10")))
	require.False(t, batch.Depleted)

	movements, err := svc.ListMovements(context.Background(), batch.ID)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	require.Equal(t, MovementTypeReceipt, movements[0].Type)
	require.True(t, movements[0].Qty.Equal(dec("10")))
}

func TestFIFOOrder(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	b1 := receive(t, svc, 1, day(0), "10", "1.00")
	b2 := receive(t, svc, 1, day(1), "10", "1.50")
	b3 := receive(t, svc, 1, day(2), "10", "2.00")

	allocation, err := svc.Allocate(ctx, AllocateInput{
		MaterialID: 1,
		Qty:        dec("15"),
		RefType:    "SALES_ORDER",
		RefID:      uuid.NewString(),
	})
	require.NoError(t, err)
	require.Len(t, allocation.Lines, 2)
	require.Equal(t, b1.ID, allocation.Lines[0].BatchID)
	require.True(t, allocation.Lines[0].Qty.Equal(dec("10")))
	require.Equal(t, b2.ID, allocation.Lines[1].BatchID)
	require.True(t, allocation.Lines[1].Qty.Equal(dec("5")))

	first, _ := repo.GetBatch(ctx, b1.ID)
	second, _ := repo.GetBatch(ctx, b2.ID)
	third, _ := repo.GetBatch(ctx, b3.ID)
	require.True(t, first.Depleted)
	require.True(t, first.RemainingQty.IsZero())
	require.True(t, second.RemainingQty.Equal(dec("5")))
	require.True(t, third.RemainingQty.Equal(dec("10")))
}

func TestFIFOTieBreakByID(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)

	same := day(0)
	b1 := receive(t, svc, 1, same, "4", "1.00")
	b2 := receive(t, svc, 1, same, "4", "1.00")

	allocation, err := svc.Allocate(context.Background(), AllocateInput{
		MaterialID: 1,
		Qty:        dec("5"),
		RefType:    "SALES_ORDER",
		RefID:      uuid.NewString(),
	})
	require.NoError(t, err)
	require.Equal(t, b1.ID, allocation.Lines[0].BatchID)
	require.Equal(t, b2.ID, allocation.Lines[1].BatchID)
}

func TestAllocateAllOrNothing(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	b1 := receive(t, svc, 1, day(0), "5", "1.00")
	b2 := receive(t, svc, 1, day(1), "3", "1.00")
	movementsBefore := len(repo.movements)

	_, err := svc.Allocate(ctx, AllocateInput{
		MaterialID: 1,
		Qty:        dec("10"),
		RefType:    "SALES_ORDER",
		RefID:      uuid.NewString(),
	})
	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.True(t, stockErr.Requested.Equal(dec("10")))
	require.True(t, stockErr.Available.Equal(dec("8")))
	require.True(t, stockErr.Shortfall().Equal(dec("2")))

	first, _ := repo.GetBatch(ctx, b1.ID)
	second, _ := repo.GetBatch(ctx, b2.ID)
	require.True(t, first.RemainingQty.Equal(dec("5")))
	require.True(t, second.RemainingQty.Equal(dec("3")))
	require.Len(t, repo.movements, movementsBefore)

	summary, err := svc.MaterialSummary(ctx, 1)
	require.NoError(t, err)
	require.True(t, summary.TotalQty.Equal(dec("8")))
}

func TestWeightedAverageCost(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)

	receive(t, svc, 1, day(0), "4", "2.00")
	receive(t, svc, 1, day(1), "10", "5.00")

	allocation, err := svc.Allocate(context.Background(), AllocateInput{
		MaterialID: 1,
		Qty:        dec("6"),
		RefType:    "SALES_ORDER",
		RefID:      uuid.NewString(),
	})
	require.NoError(t, err)
	// 4 x 2.00 + 2 x 5.00 over 6 units.
	require.True(t, allocation.AvgUnitCost.Equal(dec("3")), allocation.AvgUnitCost.String())
	require.True(t, allocation.TotalQty().Equal(dec("6")))
}

func TestPreviewDoesNotMutate(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	batch := receive(t, svc, 1, day(0), "10", "2.00")
	movementsBefore := len(repo.movements)

	allocation, err := svc.PreviewAllocation(ctx, 1, dec("6"), 0)
	require.NoError(t, err)
	require.Len(t, allocation.Lines, 1)
	require.True(t, allocation.Lines[0].Qty.Equal(dec("6")))

	after, _ := repo.GetBatch(ctx, batch.ID)
	require.True(t, after.RemainingQty.Equal(dec("10")))
	require.Len(t, repo.movements, movementsBefore)

	_, err = svc.PreviewAllocation(ctx, 1, dec("11"), 0)
	require.ErrorIs(t, err, ErrInsufficientStock)
}

func TestAllocateLocationScope(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.CreateBatch(ctx, CreateBatchInput{
		MaterialID: 1, SupplierID: 7, LocationID: 1, ReceivedAt: day(0), Qty: dec("10"), UnitCost: dec("1"),
	})
	require.NoError(t, err)
	_, err = svc.CreateBatch(ctx, CreateBatchInput{
		MaterialID: 1, SupplierID: 7, LocationID: 2, ReceivedAt: day(1), Qty: dec("10"), UnitCost: dec("1"),
	})
	require.NoError(t, err)

	_, err = svc.Allocate(ctx, AllocateInput{
		MaterialID: 1,
		LocationID: 2,
		Qty:        dec("12"),
		RefType:    "SALES_ORDER",
		RefID:      uuid.NewString(),
	})
	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	require.True(t, stockErr.Available.Equal(dec("10")))

	allocation, err := svc.Allocate(ctx, AllocateInput{
		MaterialID: 1,
		LocationID: 2,
		Qty:        dec("10"),
		RefType:    "SALES_ORDER",
		RefID:      uuid.NewString(),
	})
	require.NoError(t, err)
	require.Len(t, allocation.Lines, 1)
}

func TestAdjustBounds(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	batch := receive(t, svc, 1, day(0), "10", "2.00")

	_, err := svc.Adjust(ctx, AdjustInput{BatchID: batch.ID, Delta: dec("-11"), Reason: "stocktake", ActorID: 3})
	require.ErrorIs(t, err, ErrInvalidAdjustment)

	_, err = svc.Adjust(ctx, AdjustInput{BatchID: batch.ID, Delta: dec("1"), Reason: "stocktake", ActorID: 3})
	require.ErrorIs(t, err, ErrInvalidAdjustment)

	adjusted, err := svc.Adjust(ctx, AdjustInput{BatchID: batch.ID, Delta: dec("-4"), Reason: "damaged", ActorID: 3})
	require.NoError(t, err)
	require.True(t, adjusted.RemainingQty.Equal(dec("6")))

	summary, err := svc.MaterialSummary(ctx, 1)
	require.NoError(t, err)
	require.True(t, summary.TotalQty.Equal(dec("6")))
	// Adjustments never touch the moving average.
	require.True(t, summary.AvgCost.Equal(dec("2")))

	_, err = svc.Adjust(ctx, AdjustInput{BatchID: batch.ID, Delta: dec("0"), Reason: "noop"})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.Adjust(ctx, AdjustInput{BatchID: 999, Delta: dec("-1"), Reason: "ghost"})
	require.ErrorIs(t, err, ErrBatchNotFound)
}

func TestAdjustToZeroMarksDepleted(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)

	batch := receive(t, svc, 1, day(0), "3", "1.00")
	adjusted, err := svc.Adjust(context.Background(), AdjustInput{BatchID: batch.ID, Delta: dec("-3"), Reason: "write-off"})
	require.NoError(t, err)
	require.True(t, adjusted.Depleted)
}

func TestTransferNeutrality(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	batch, err := svc.CreateBatch(ctx, CreateBatchInput{
		MaterialID: 1, SupplierID: 7, LocationID: 1, ReceivedAt: day(0), Qty: dec("20"), UnitCost: dec("3.25"),
	})
	require.NoError(t, err)

	result, err := svc.Transfer(ctx, TransferInput{BatchID: batch.ID, Qty: dec("5"), ToLocationID: 2, ActorID: 4})
	require.NoError(t, err)
	require.True(t, result.Source.RemainingQty.Equal(dec("15")))
	require.True(t, result.Destination.RemainingQty.Equal(dec("5")))
	require.True(t, result.Destination.ReceivedQty.Equal(dec("5")))
	require.True(t, result.Destination.UnitCost.Equal(dec("3.25")))
	require.Equal(t, int64(2), result.Destination.LocationID)

	// Linked equal-and-opposite movement pair.
	srcMovements, err := svc.ListMovements(ctx, result.Source.ID)
	require.NoError(t, err)
	dstMovements, err := svc.ListMovements(ctx, result.Destination.ID)
	require.NoError(t, err)
	out := srcMovements[len(srcMovements)-1]
	in := dstMovements[len(dstMovements)-1]
	require.Equal(t, MovementTypeTransferOut, out.Type)
	require.Equal(t, MovementTypeTransferIn, in.Type)
	require.True(t, out.Qty.Neg().Equal(in.Qty))
	require.Equal(t, out.RefID, in.RefID)

	// Material-wide quantity unchanged.
	summary, err := svc.MaterialSummary(ctx, 1)
	require.NoError(t, err)
	require.True(t, summary.TotalQty.Equal(dec("20")))
}

func TestTransferInsufficient(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	batch, err := svc.CreateBatch(ctx, CreateBatchInput{
		MaterialID: 1, SupplierID: 7, LocationID: 1, ReceivedAt: day(0), Qty: dec("5"), UnitCost: dec("1"),
	})
	require.NoError(t, err)

	_, err = svc.Transfer(ctx, TransferInput{BatchID: batch.ID, Qty: dec("6"), ToLocationID: 2})
	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)

	unchanged, _ := repo.GetBatch(ctx, batch.ID)
	require.True(t, unchanged.RemainingQty.Equal(dec("5")))

	_, err = svc.Transfer(ctx, TransferInput{BatchID: batch.ID, Qty: dec("2"), ToLocationID: 1})
	require.Error(t, err)
}

func TestReversalRestoresBatches(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	b1 := receive(t, svc, 1, day(0), "10", "1.00")
	b2 := receive(t, svc, 1, day(1), "10", "2.00")

	ref := uuid.NewString()
	_, err := svc.Allocate(ctx, AllocateInput{MaterialID: 1, Qty: dec("15"), RefType: "SALES_ORDER", RefID: ref})
	require.NoError(t, err)

	lines, err := svc.Reverse(ctx, ReverseInput{RefType: "SALES_ORDER", RefID: ref, ActorID: 9})
	require.NoError(t, err)
	require.Len(t, lines, 2)

	first, _ := repo.GetBatch(ctx, b1.ID)
	second, _ := repo.GetBatch(ctx, b2.ID)
	require.True(t, first.RemainingQty.Equal(dec("10")))
	require.False(t, first.Depleted)
	require.True(t, second.RemainingQty.Equal(dec("10")))

	summary, err := svc.MaterialSummary(ctx, 1)
	require.NoError(t, err)
	require.True(t, summary.TotalQty.Equal(dec("20")))
}

func TestReversalIdempotence(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	batch := receive(t, svc, 1, day(0), "10", "1.00")
	ref := uuid.NewString()
	_, err := svc.Allocate(ctx, AllocateInput{MaterialID: 1, Qty: dec("4"), RefType: "SALES_ORDER", RefID: ref})
	require.NoError(t, err)

	_, err = svc.Reverse(ctx, ReverseInput{RefType: "SALES_ORDER", RefID: ref})
	require.NoError(t, err)

	movementsAfterFirst := len(repo.movements)
	_, err = svc.Reverse(ctx, ReverseInput{RefType: "SALES_ORDER", RefID: ref})
	require.ErrorIs(t, err, ErrAlreadyReversed)
	require.Len(t, repo.movements, movementsAfterFirst)

	restored, _ := repo.GetBatch(ctx, batch.ID)
	require.True(t, restored.RemainingQty.Equal(dec("10")))
}

func TestReverseUnknownReference(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	_, err := svc.Reverse(context.Background(), ReverseInput{RefType: "SALES_ORDER", RefID: uuid.NewString()})
	require.ErrorIs(t, err, ErrNothingToReverse)

	_, err = svc.Reverse(context.Background(), ReverseInput{RefType: "", RefID: ""})
	require.ErrorIs(t, err, ErrInvalidReference)
}

func TestReverseCreditsOriginalDepletedBatch(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	batch := receive(t, svc, 1, day(0), "10", "1.00")
	ref := uuid.NewString()
	_, err := svc.Allocate(ctx, AllocateInput{MaterialID: 1, Qty: dec("10"), RefType: "SALES_ORDER", RefID: ref})
	require.NoError(t, err)

	depleted, _ := repo.GetBatch(ctx, batch.ID)
	require.True(t, depleted.Depleted)

	lines, err := svc.Reverse(ctx, ReverseInput{RefType: "SALES_ORDER", RefID: ref})
	require.NoError(t, err)
	require.Equal(t, batch.ID, lines[0].BatchID)

	restored, _ := repo.GetBatch(ctx, batch.ID)
	require.False(t, restored.Depleted)
	require.True(t, restored.RemainingQty.Equal(dec("10")))
}

func TestMovingAverageOnReceipts(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	receive(t, svc, 1, day(0), "10", "100")
	summary, err := svc.MaterialSummary(ctx, 1)
	require.NoError(t, err)
	require.True(t, summary.AvgCost.Equal(dec("100")))

	receive(t, svc, 1, day(1), "5", "120")
	summary, err = svc.MaterialSummary(ctx, 1)
	require.NoError(t, err)
	require.True(t, summary.TotalQty.Equal(dec("15")))
	// (10*100 + 5*120) / 15
	require.True(t, summary.AvgCost.Sub(dec("106.666667")).Abs().LessThan(dec("0.001")), summary.AvgCost.String())
	require.True(t, summary.LastReceiptCost.Equal(dec("120")))

	// Consumption leaves the average untouched.
	_, err = svc.Allocate(ctx, AllocateInput{MaterialID: 1, Qty: dec("8"), RefType: "SALES_ORDER", RefID: uuid.NewString()})
	require.NoError(t, err)
	summary, err = svc.MaterialSummary(ctx, 1)
	require.NoError(t, err)
	require.True(t, summary.TotalQty.Equal(dec("7")))
	require.True(t, summary.AvgCost.Sub(dec("106.666667")).Abs().LessThan(dec("0.001")))
}

// Conservation: remaining stock plus outstanding (non-reversed) issues always
// equals everything ever received, movement by movement.
func TestConservation(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	check := func() {
		received := decimal.Zero
		issued := decimal.Zero
		for _, mv := range repo.movements {
			switch mv.Type {
			case MovementTypeReceipt:
				received = received.Add(mv.Qty)
			case MovementTypeIssue:
				issued = issued.Add(mv.Qty.Neg())
			case MovementTypeReversal:
				issued = issued.Sub(mv.Qty)
			case MovementTypeAdjust:
				received = received.Add(mv.Qty)
			}
		}
		remaining := decimal.Zero
		for _, batch := range repo.batches {
			remaining = remaining.Add(batch.RemainingQty)
		}
		require.True(t, remaining.Add(issued).Equal(received),
			"remaining %s + issued %s != received %s", remaining, issued, received)
	}

	receive(t, svc, 1, day(0), "10", "1.00")
	check()
	second := receive(t, svc, 1, day(1), "20", "2.00")
	check()

	ref := uuid.NewString()
	_, err := svc.Allocate(ctx, AllocateInput{MaterialID: 1, Qty: dec("12"), RefType: "SALES_ORDER", RefID: ref})
	require.NoError(t, err)
	check()

	_, err = svc.Adjust(ctx, AdjustInput{BatchID: second.ID, Delta: dec("-1"), Reason: "shrinkage"})
	require.NoError(t, err)
	check()

	_, err = svc.Transfer(ctx, TransferInput{BatchID: second.ID, Qty: dec("5"), ToLocationID: 3})
	require.NoError(t, err)
	check()

	_, err = svc.Reverse(ctx, ReverseInput{RefType: "SALES_ORDER", RefID: ref})
	require.NoError(t, err)
	check()
}

func TestAllocateRequiresReference(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	receive(t, svc, 1, day(0), "10", "1.00")

	_, err := svc.Allocate(context.Background(), AllocateInput{MaterialID: 1, Qty: dec("1")})
	require.ErrorIs(t, err, ErrInvalidReference)

	_, err = svc.Allocate(context.Background(), AllocateInput{MaterialID: 1, Qty: dec("1"), RefType: "SALES_ORDER", RefID: "nope"})
	require.ErrorIs(t, err, ErrInvalidReference)
}
