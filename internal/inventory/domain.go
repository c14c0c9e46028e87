package inventory

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MovementType enumerates supported ledger movements.
type MovementType string

const (
	// MovementTypeReceipt records the arrival of a new batch.
	MovementTypeReceipt MovementType = "RECEIPT"
	// MovementTypeIssue records consumption taken by a FIFO allocation.
	MovementTypeIssue MovementType = "ISSUE"
	// MovementTypeAdjust records a manual correction on one batch.
	MovementTypeAdjust MovementType = "ADJUST"
	// MovementTypeTransferOut records the outbound half of a transfer pair.
	MovementTypeTransferOut MovementType = "TRANSFER_OUT"
	// MovementTypeTransferIn records the inbound half of a transfer pair.
	MovementTypeTransferIn MovementType = "TRANSFER_IN"
	// MovementTypeReversal re-credits a batch for a prior issue.
	MovementTypeReversal MovementType = "REVERSAL"
)

// Batch models one received lot of one material. ReceivedQty and UnitCost are
// immutable after creation; only RemainingQty and Depleted change, and only
// through the service operations. Batches are never deleted, fully depleted
// ones stay behind for audit and reversal.
type Batch struct {
	ID              int64           `json:"id"`
	MaterialID      int64           `json:"material_id"`
	BatchNo         string          `json:"batch_no,omitempty"`
	SupplierID      int64           `json:"supplier_id"`
	PurchaseOrderID int64           `json:"purchase_order_id,omitempty"`
	LocationID      int64           `json:"location_id,omitempty"`
	ReceivedAt      time.Time       `json:"received_at"`
	ReceivedQty     decimal.Decimal `json:"received_qty"`
	RemainingQty    decimal.Decimal `json:"remaining_qty"`
	UnitCost        decimal.Decimal `json:"unit_cost"`
	ExpiresAt       *time.Time      `json:"expires_at,omitempty"`
	Condition       string          `json:"condition,omitempty"`
	Depleted        bool            `json:"depleted"`
	Note            string          `json:"note,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Movement is one signed, append-only quantity change on exactly one batch.
// Positive qty increases remaining stock, negative qty decreases it.
type Movement struct {
	ID        int64           `json:"id"`
	BatchID   int64           `json:"batch_id"`
	Type      MovementType    `json:"type"`
	Qty       decimal.Decimal `json:"qty"`
	RefType   string          `json:"ref_type"`
	RefID     string          `json:"ref_id"`
	MovedAt   time.Time       `json:"moved_at"`
	Note      string          `json:"note,omitempty"`
	ActorID   int64           `json:"actor_id,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// AllocationLine is the share one batch contributes to an allocation.
type AllocationLine struct {
	BatchID  int64           `json:"batch_id"`
	Qty      decimal.Decimal `json:"qty"`
	UnitCost decimal.Decimal `json:"unit_cost"`
}

// Allocation is the transient result of a FIFO run.
type Allocation struct {
	MaterialID  int64            `json:"material_id"`
	LocationID  int64            `json:"location_id,omitempty"`
	Requested   decimal.Decimal  `json:"requested"`
	Lines       []AllocationLine `json:"lines"`
	AvgUnitCost decimal.Decimal  `json:"avg_unit_cost"`
}

// TotalQty sums the allocated quantity across lines.
func (a Allocation) TotalQty() decimal.Decimal {
	total := decimal.Zero
	for _, line := range a.Lines {
		total = total.Add(line.Qty)
	}
	return total
}

// MaterialSummary is the derived per-material projection. It is recomputed on
// every mutation and is never the source of truth for batch-level state.
type MaterialSummary struct {
	MaterialID      int64           `json:"material_id"`
	TotalQty        decimal.Decimal `json:"total_qty"`
	AvgCost         decimal.Decimal `json:"avg_cost"`
	LastReceiptCost decimal.Decimal `json:"last_receipt_cost"`
	LastReceiptAt   time.Time       `json:"last_receipt_at,omitzero"`
	UpdatedAt       time.Time       `json:"updated_at,omitzero"`
}

// ReversalLine reports one batch re-credited by a reversal.
type ReversalLine struct {
	BatchID    int64           `json:"batch_id"`
	Qty        decimal.Decimal `json:"qty"`
	MovementID int64           `json:"movement_id"`
}

// CreateBatchInput describes a new receipt.
type CreateBatchInput struct {
	MaterialID      int64
	BatchNo         string
	SupplierID      int64
	PurchaseOrderID int64
	LocationID      int64
	ReceivedAt      time.Time
	Qty             decimal.Decimal
	UnitCost        decimal.Decimal
	ExpiresAt       *time.Time
	Condition       string
	Note            string
	RefType         string
	RefID           string
	ActorID         int64
}

// AllocateInput describes a consumption request settled FIFO.
type AllocateInput struct {
	MaterialID int64
	LocationID int64
	Qty        decimal.Decimal
	RefType    string
	RefID      string
	Note       string
	ActorID    int64
}

// AdjustInput applies a signed delta to one batch.
type AdjustInput struct {
	BatchID int64
	Delta   decimal.Decimal
	Reason  string
	ActorID int64
}

// TransferInput moves stock from one batch to a new batch at another location.
type TransferInput struct {
	BatchID      int64
	Qty          decimal.Decimal
	ToLocationID int64
	Note         string
	ActorID      int64
}

// TransferResult reports both sides of a completed transfer.
type TransferResult struct {
	Source      Batch `json:"source"`
	Destination Batch `json:"destination"`
}

// ReverseInput undoes a prior allocation identified by its business reference.
type ReverseInput struct {
	RefType string
	RefID   string
	ActorID int64
}

// ErrInvalidQuantity indicates a zero or wrongly signed quantity.
var ErrInvalidQuantity = errors.New("inventory: quantity must be positive")

// ErrInvalidUnitCost indicates a negative unit cost.
var ErrInvalidUnitCost = errors.New("inventory: unit cost must be >= 0")

// ErrInvalidReference indicates a missing or malformed business reference.
var ErrInvalidReference = errors.New("inventory: invalid business reference")

// ErrBatchNotFound indicates the referenced batch does not exist.
var ErrBatchNotFound = errors.New("inventory: batch not found")

// ErrInvalidAdjustment indicates the delta would breach a batch invariant.
var ErrInvalidAdjustment = errors.New("inventory: adjustment out of range")

// ErrAlreadyReversed indicates a duplicate reversal attempt for a reference.
var ErrAlreadyReversed = errors.New("inventory: reference already reversed")

// ErrNothingToReverse indicates the reference has no issue movements.
var ErrNothingToReverse = errors.New("inventory: no issue movements for reference")

// ErrConcurrencyConflict indicates a lock or serialization conflict. The
// whole operation is safe to retry from scratch.
var ErrConcurrencyConflict = errors.New("inventory: concurrent modification, retry")

// ErrInsufficientStock is the sentinel unwrapped by InsufficientStockError.
var ErrInsufficientStock = errors.New("inventory: insufficient stock")

// InsufficientStockError reports a FIFO scan that cannot satisfy the request.
// State is guaranteed unchanged when it is returned.
type InsufficientStockError struct {
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("inventory: insufficient stock: requested %s, available %s",
		e.Requested.String(), e.Available.String())
}

// Unwrap lets errors.Is match ErrInsufficientStock.
func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// Shortfall returns the quantity that could not be satisfied.
func (e *InsufficientStockError) Shortfall() decimal.Decimal {
	return e.Requested.Sub(e.Available)
}
