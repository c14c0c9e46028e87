package inventory

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// StockChangedEvent describes one committed ledger mutation for downstream
// consumers (general ledger posting, notifications).
type StockChangedEvent struct {
	MaterialID int64
	LocationID int64
	Type       MovementType
	Qty        decimal.Decimal
	UnitCost   decimal.Decimal
	RefType    string
	RefID      string
	OccurredAt time.Time
}

// IntegrationHandler receives inventory domain events after commit.
type IntegrationHandler interface {
	HandleStockChanged(ctx context.Context, evt StockChangedEvent) error
}
