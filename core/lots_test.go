package core_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/retail-ledger/core"
	"github.com/warp/retail-ledger/core/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func day(m time.Month, d int) time.Time {
	return time.Date(2025, m, d, 0, 0, 0, 0, time.UTC)
}

func ptr[T any](v T) *T { return &v }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertDec(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	if len(msgAndArgs) == 0 {
		msgAndArgs = []any{"want %s, got %s", want, got.String()}
	}
	assert.True(t, dec(want).Equal(got), msgAndArgs...)
}

// seedProduct stores product P with L1 (5 @ 10) and L2 (5 @ 12, expiring later).
func seedProduct(t *testing.T, s core.Store) core.Product {
	t.Helper()
	p := core.Product{
		ID:        "P",
		Name:      "Paracetamol",
		SalePrice: dec("20"),
		Batches: []core.Batch{
			{ID: "b-l2", LotNumber: "L2", Quantity: dec("5"), UnitCost: dec("12"), PurchaseDate: day(time.January, 1), ExpiryDate: ptr(day(time.December, 1))},
			{ID: "b-l1", LotNumber: "L1", Quantity: dec("5"), UnitCost: dec("10"), PurchaseDate: day(time.February, 1), ExpiryDate: ptr(day(time.June, 1))},
		},
	}
	require.NoError(t, s.Products().Put(context.Background(), p))
	return p
}

func lot(t *testing.T, p core.Product, lotNumber string) core.Batch {
	t.Helper()
	i, ok := p.BatchIndex(lotNumber)
	require.True(t, ok, "lot %s missing", lotNumber)
	return p.Batches[i]
}

// =============================================================================
// CONSUME
// =============================================================================

func TestLotLedger_Consume_SpansBatchesInExpiryOrder(t *testing.T) {
	// GIVEN: L1 expires before L2, although L2 was bought first
	// WHEN: Selling 7 units
	// THEN: L1 is emptied first, then 2 come from L2

	ctx := context.Background()
	s := store.NewMemory()
	seedProduct(t, s)

	lots := core.NewLotLedger(s.Products())
	c, err := lots.Consume(ctx, "P", dec("7"))
	require.NoError(t, err)

	require.Len(t, c.Deductions, 2)
	assert.Equal(t, "L1", c.Deductions[0].LotNumber)
	assertDec(t, "5", c.Deductions[0].Quantity)
	assert.Equal(t, "L2", c.Deductions[1].LotNumber)
	assertDec(t, "2", c.Deductions[1].Quantity)

	// (5×10 + 2×12) / 7
	assert.Equal(t, "10.571", c.UnitCostAverage.StringFixed(3))
	assertDec(t, "74", c.Deductions.Cost())
}

func TestLotLedger_Consume_FallsBackToPurchaseDate(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	require.NoError(t, s.Products().Put(ctx, core.Product{
		ID: "P",
		Batches: []core.Batch{
			{ID: "b3", LotNumber: "C", Quantity: dec("1"), PurchaseDate: day(time.March, 1)},
			{ID: "b1", LotNumber: "A", Quantity: dec("1"), PurchaseDate: day(time.January, 1)},
			{ID: "b2", LotNumber: "B", Quantity: dec("1"), PurchaseDate: day(time.February, 1)},
		},
	}))

	c, err := core.NewLotLedger(s.Products()).Consume(ctx, "P", dec("3"))
	require.NoError(t, err)
	require.Len(t, c.Deductions, 3)

	lotsTaken := []string{c.Deductions[0].LotNumber, c.Deductions[1].LotNumber, c.Deductions[2].LotNumber}
	assert.Equal(t, []string{"A", "B", "C"}, lotsTaken)
}

func TestLotLedger_Consume_InsufficientStock_NoMutation(t *testing.T) {
	// GIVEN: 10 units across two lots
	// WHEN: Requesting 11
	// THEN: InsufficientStockError, and the working set is untouched

	ctx := context.Background()
	s := store.NewMemory()
	seedProduct(t, s)

	lots := core.NewLotLedger(s.Products())
	_, err := lots.Consume(ctx, "P", dec("11"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrInsufficientStock))

	var se *core.InsufficientStockError
	require.True(t, errors.As(err, &se))
	assertDec(t, "10", se.Available)
	assertDec(t, "11", se.Requested)

	p, err := lots.Product(ctx, "P")
	require.NoError(t, err)
	assertDec(t, "10", p.Stock())
}

func TestLotLedger_Consume_RejectsNonPositive(t *testing.T) {
	s := store.NewMemory()
	seedProduct(t, s)

	_, err := core.NewLotLedger(s.Products()).Consume(context.Background(), "P", decimal.Zero)
	assert.True(t, errors.Is(err, core.ErrValidation))
}

func TestLotLedger_Consume_UnknownProduct(t *testing.T) {
	_, err := core.NewLotLedger(store.NewMemory().Products()).Consume(context.Background(), "nope", dec("1"))
	assert.True(t, core.IsNotFound(err))
}

// =============================================================================
// RESTORE
// =============================================================================

func TestLotLedger_ConsumeThenRestore_Conserves(t *testing.T) {
	// GIVEN: Any quantity consumed
	// WHEN: Restoring exactly the returned deductions
	// THEN: Every batch is back to its original quantity

	ctx := context.Background()
	for _, qty := range []string{"1", "4.5", "5", "7", "10"} {
		s := store.NewMemory()
		before := seedProduct(t, s)

		lots := core.NewLotLedger(s.Products())
		c, err := lots.Consume(ctx, "P", dec(qty))
		require.NoError(t, err)
		require.NoError(t, lots.Restore(ctx, "P", c.Deductions))

		after, err := lots.Product(ctx, "P")
		require.NoError(t, err)
		for _, b := range before.Batches {
			assertDec(t, b.Quantity.String(), lot(t, after, b.LotNumber).Quantity, "qty %s lot %s", qty, b.LotNumber)
		}
	}
}

func TestLotLedger_Restore_MissingBatch_NoMutation(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	seedProduct(t, s)

	lots := core.NewLotLedger(s.Products())
	err := lots.Restore(ctx, "P", core.Deductions{
		{BatchID: "b-l1", LotNumber: "L1", Quantity: dec("1")},
		{BatchID: "gone", LotNumber: "L9", Quantity: dec("1")},
	})
	assert.True(t, errors.Is(err, core.ErrLotNotFound))

	p, _ := lots.Product(ctx, "P")
	assertDec(t, "5", lot(t, p, "L1").Quantity)
}

func TestLotLedger_RestoreReverseOrder_NewestFirst(t *testing.T) {
	// GIVEN: A sale of 7 deducted [(L1,5),(L2,2)]
	// WHEN: 3 units are returned
	// THEN: (L2,2) then (L1,1) are restored, leaving L1=1 and L2=5

	ctx := context.Background()
	s := store.NewMemory()
	seedProduct(t, s)

	lots := core.NewLotLedger(s.Products())
	c, err := lots.Consume(ctx, "P", dec("7"))
	require.NoError(t, err)

	restored, err := lots.RestoreReverseOrder(ctx, "P", c.Deductions, dec("3"))
	require.NoError(t, err)
	require.Len(t, restored, 2)
	assert.Equal(t, "L2", restored[0].LotNumber)
	assertDec(t, "2", restored[0].Quantity)
	assert.Equal(t, "L1", restored[1].LotNumber)
	assertDec(t, "1", restored[1].Quantity)

	p, _ := lots.Product(ctx, "P")
	assertDec(t, "1", lot(t, p, "L1").Quantity)
	assertDec(t, "5", lot(t, p, "L2").Quantity)
}

func TestLotLedger_RestoreReverseOrder_Excessive(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	seedProduct(t, s)

	lots := core.NewLotLedger(s.Products())
	c, err := lots.Consume(ctx, "P", dec("2"))
	require.NoError(t, err)

	_, err = lots.RestoreReverseOrder(ctx, "P", c.Deductions, dec("3"))
	assert.True(t, errors.Is(err, core.ErrExcessiveReturnQuantity))
}

// =============================================================================
// WORKING SET AND COMMIT
// =============================================================================

func TestLotLedger_NothingPersistedBeforeCommit(t *testing.T) {
	// GIVEN: A consume in the working set
	// WHEN: The ledger is abandoned
	// THEN: The store still holds the original stock

	ctx := context.Background()
	s := store.NewMemory()
	seedProduct(t, s)

	lots := core.NewLotLedger(s.Products())
	_, err := lots.Consume(ctx, "P", dec("7"))
	require.NoError(t, err)

	stored, err := s.Products().Get(ctx, "P")
	require.NoError(t, err)
	assertDec(t, "10", stored.Stock())

	require.NoError(t, lots.Commit(ctx))
	stored, err = s.Products().Get(ctx, "P")
	require.NoError(t, err)
	assertDec(t, "3", stored.Stock())
}

func TestLotLedger_VirtualRestoreThenConsume(t *testing.T) {
	// GIVEN: A committed sale took 7 of 10 units
	// WHEN: Editing it to 9 units (restore old deductions, consume new qty)
	// THEN: The check sees 10 available and succeeds

	ctx := context.Background()
	s := store.NewMemory()
	seedProduct(t, s)

	first := core.NewLotLedger(s.Products())
	old, err := first.Consume(ctx, "P", dec("7"))
	require.NoError(t, err)
	require.NoError(t, first.Commit(ctx))

	edit := core.NewLotLedger(s.Products())
	require.NoError(t, edit.Restore(ctx, "P", old.Deductions))
	_, err = edit.Consume(ctx, "P", dec("9"))
	require.NoError(t, err)
	require.NoError(t, edit.Commit(ctx))

	stored, _ := s.Products().Get(ctx, "P")
	assertDec(t, "1", stored.Stock())
}

// =============================================================================
// RECEIVE AND WITHDRAW
// =============================================================================

func TestLotLedger_Receive_NewAndExistingLot(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	seedProduct(t, s)
	lots := core.NewLotLedger(s.Products())

	b, err := lots.Receive(ctx, core.ReceiveInput{ProductID: "P", LotNumber: "L3", Quantity: dec("4"), UnitCost: dec("15")})
	require.NoError(t, err)
	assert.NotEmpty(t, b.ID)
	assertDec(t, "4", b.Quantity)

	b, err = lots.Receive(ctx, core.ReceiveInput{ProductID: "P", LotNumber: "L1", Quantity: dec("2"), UnitCost: dec("11")})
	require.NoError(t, err)
	assertDec(t, "7", b.Quantity)
	assertDec(t, "11", b.UnitCost)

	p, _ := lots.Product(ctx, "P")
	assert.Len(t, p.Batches, 3)
}

func TestLotLedger_Receive_RequireNew_Duplicate(t *testing.T) {
	s := store.NewMemory()
	seedProduct(t, s)

	_, err := core.NewLotLedger(s.Products()).Receive(context.Background(), core.ReceiveInput{
		ProductID: "P", LotNumber: "L1", Quantity: dec("1"), RequireNew: true,
	})
	var de *core.DuplicateLotError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "L1", de.LotNumber)
}

func TestLotLedger_Receive_MissingLotNumber(t *testing.T) {
	s := store.NewMemory()
	seedProduct(t, s)

	_, err := core.NewLotLedger(s.Products()).Receive(context.Background(), core.ReceiveInput{ProductID: "P", Quantity: dec("1")})
	assert.True(t, errors.Is(err, core.ErrMissingLotNumber))
}

func TestLotLedger_Withdraw(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	seedProduct(t, s)
	lots := core.NewLotLedger(s.Products())

	_, err := lots.Withdraw(ctx, "P", "L1", dec("6"), false)
	assert.True(t, errors.Is(err, core.ErrInsufficientStock))

	b, err := lots.Withdraw(ctx, "P", "L1", dec("6"), true)
	require.NoError(t, err)
	assertDec(t, "-1", b.Quantity)

	_, err = lots.Withdraw(ctx, "P", "L7", dec("1"), true)
	assert.True(t, errors.Is(err, core.ErrLotNotFound))
}

func TestLotLedger_Consume_SkipsNegativeLots(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	seedProduct(t, s)
	lots := core.NewLotLedger(s.Products())

	_, err := lots.Withdraw(ctx, "P", "L1", dec("6"), true)
	require.NoError(t, err)

	avail, err := lots.Available(ctx, "P")
	require.NoError(t, err)
	assertDec(t, "5", avail)

	c, err := lots.Consume(ctx, "P", dec("5"))
	require.NoError(t, err)
	require.Len(t, c.Deductions, 1)
	assert.Equal(t, "L2", c.Deductions[0].LotNumber)
}
