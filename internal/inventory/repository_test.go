package inventory

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestMapConflict(t *testing.T) {
	// Serialization failure, deadlock and lock-not-available all become the
	// retryable conflict error, wrapped or not.
	for _, code := range []string{"40001", "40P01", "55P03"} {
		pgErr := &pgconn.PgError{Code: code}
		require.ErrorIs(t, mapConflict(pgErr), ErrConcurrencyConflict, code)
		require.ErrorIs(t, mapConflict(fmt.Errorf("commit: %w", pgErr)), ErrConcurrencyConflict, code)
	}
}

func TestMapConflictPassesOtherErrorsThrough(t *testing.T) {
	require.NoError(t, mapConflict(nil))

	unique := &pgconn.PgError{Code: "23505"}
	require.NotErrorIs(t, mapConflict(unique), ErrConcurrencyConflict)
	require.ErrorIs(t, mapConflict(unique), unique)

	plain := errors.New("connection reset")
	require.Equal(t, plain, mapConflict(plain))
}

// conflictRepo fails every transaction the way Repository.WithTx reports a
// lock conflict, so retry behaviour can be exercised without a database.
type conflictRepo struct {
	*memoryRepo
}

func (r *conflictRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return mapConflict(&pgconn.PgError{Code: "40001"})
}

func TestServiceSurfacesConcurrencyConflict(t *testing.T) {
	svc := NewService(&conflictRepo{memoryRepo: newMemoryRepo()}, nil, nil, nil, nil)
	ctx := context.Background()

	_, err := svc.Allocate(ctx, AllocateInput{
		MaterialID: 1,
		Qty:        dec("5"),
		RefType:    "SALES_ORDER",
		RefID:      "0f8fad5b-d9cb-469f-a165-70867728950e",
	})
	require.ErrorIs(t, err, ErrConcurrencyConflict)

	_, err = svc.CreateBatch(ctx, CreateBatchInput{MaterialID: 1, SupplierID: 1, Qty: dec("5"), UnitCost: dec("2")})
	require.ErrorIs(t, err, ErrConcurrencyConflict)
}
