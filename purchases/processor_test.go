package purchases_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/retail-ledger/core"
	"github.com/warp/retail-ledger/core/store"
	"github.com/warp/retail-ledger/logger"
	"github.com/warp/retail-ledger/purchases"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), "want %s, got %s", want, got.String())
}

type fixture struct {
	ctx   context.Context
	store *store.Memory
	proc  *purchases.Processor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemory()
	fx, err := core.NewCurrencies("AFN", []core.CurrencyConfig{
		{Code: "AFN"},
		{Code: "USD", Method: core.MethodMultiply},
		{Code: "PKR", Method: core.MethodDivide},
	})
	require.NoError(t, err)

	for _, id := range []core.ProductID{"A", "B"} {
		require.NoError(t, s.Products().Put(ctx, core.Product{ID: id, Name: string(id)}))
	}
	require.NoError(t, s.Parties(core.PartySupplier).Put(ctx, core.Party{ID: "sup", Kind: core.PartySupplier}))
	require.NoError(t, s.Parties(core.PartySupplier).Put(ctx, core.Party{ID: "sup2", Kind: core.PartySupplier}))

	return &fixture{ctx: ctx, store: s, proc: purchases.NewProcessor(s, fx, logger.Nop())}
}

func (f *fixture) batch(t *testing.T, product core.ProductID, lot string) core.Batch {
	t.Helper()
	p, err := f.store.Products().Get(f.ctx, string(product))
	require.NoError(t, err)
	i, ok := p.BatchIndex(lot)
	require.True(t, ok, "lot %s missing on %s", lot, product)
	return p.Batches[i]
}

func (f *fixture) supplier(t *testing.T, id core.PartyID) core.Party {
	t.Helper()
	p, err := f.store.Parties(core.PartySupplier).Get(f.ctx, string(id))
	require.NoError(t, err)
	return p
}

func (f *fixture) expenses(t *testing.T) []core.Expense {
	t.Helper()
	all, err := f.store.Expenses().All(f.ctx)
	require.NoError(t, err)
	return all
}

func afnPurchase(items ...purchases.Item) purchases.CreateInput {
	return purchases.CreateInput{SupplierID: "sup", Currency: "AFN", Items: items}
}

// =============================================================================
// CREATE
// =============================================================================

func TestCreate_AdditionalCostLandsOnUnitCost(t *testing.T) {
	// GIVEN: 100 units at 10 AFN with 500 AFN freight
	// WHEN: The purchase is created
	// THEN: The lot is priced at 15, the supplier is owed 1000,
	//       and a 500 logistics expense is linked to the invoice

	f := newFixture(t)
	in := afnPurchase(purchases.Item{ProductID: "A", LotNumber: "A-1", Quantity: dec("100"), UnitPrice: dec("10")})
	in.AdditionalCost = dec("500")
	in.CostDescription = "Torkham customs"

	inv, err := f.proc.Create(f.ctx, in)
	require.NoError(t, err)

	assert.Equal(t, core.InvoiceID("P1"), inv.ID)
	assertDec(t, "1000", inv.Total)
	assertDec(t, "15", inv.Items[0].UnitCost)

	b := f.batch(t, "A", "A-1")
	assertDec(t, "100", b.Quantity)
	assertDec(t, "15", b.UnitCost)
	assert.Equal(t, inv.ID, b.InvoiceID)

	sup := f.supplier(t, "sup")
	assertDec(t, "1000", sup.BaseBalance)
	assertDec(t, "1000", sup.Balance("AFN"))

	exps := f.expenses(t)
	require.Len(t, exps, 1)
	assert.Equal(t, core.ExpenseLogistics, exps[0].Category)
	assert.Equal(t, inv.ID, exps[0].InvoiceID)
	assertDec(t, "500", exps[0].BaseAmount)
	assert.Equal(t, "Torkham customs", exps[0].Description)
}

func TestCreate_AdditionalCostSplitByValueShare(t *testing.T) {
	// GIVEN: Line A worth 300, line B worth 100, freight 40
	// THEN: A takes 30 (0.3/unit over 100), B takes 10 (1/unit over 10)

	f := newFixture(t)
	in := afnPurchase(
		purchases.Item{ProductID: "A", LotNumber: "A-1", Quantity: dec("100"), UnitPrice: dec("3")},
		purchases.Item{ProductID: "B", LotNumber: "B-1", Quantity: dec("10"), UnitPrice: dec("10")},
	)
	in.AdditionalCost = dec("40")

	inv, err := f.proc.Create(f.ctx, in)
	require.NoError(t, err)
	assertDec(t, "3.3", inv.Items[0].UnitCost)
	assertDec(t, "11", inv.Items[1].UnitCost)
}

func TestCreate_ForeignCurrency(t *testing.T) {
	// GIVEN: A PKR invoice quoted with the divide method at 4 PKR per AFN
	// THEN: Unit cost is in AFN, the supplier's PKR field holds the native total

	f := newFixture(t)
	in := purchases.CreateInput{
		SupplierID: "sup",
		Currency:   "PKR",
		Rate:       dec("4"),
		Items:      []purchases.Item{{ProductID: "A", LotNumber: "A-9", Quantity: dec("10"), UnitPrice: dec("40")}},
	}

	inv, err := f.proc.Create(f.ctx, in)
	require.NoError(t, err)
	assertDec(t, "400", inv.Total)
	assertDec(t, "100", inv.TotalBase)
	assertDec(t, "10", f.batch(t, "A", "A-9").UnitCost)

	sup := f.supplier(t, "sup")
	assertDec(t, "400", sup.Balance("PKR"))
	assertDec(t, "100", sup.BaseBalance)
}

func TestCreate_GeneratesLotNumbers(t *testing.T) {
	f := newFixture(t)
	inv, err := f.proc.Create(f.ctx, afnPurchase(purchases.Item{ProductID: "A", Quantity: dec("1"), UnitPrice: dec("1")}))
	require.NoError(t, err)
	assert.Equal(t, "P1-1", inv.Items[0].LotNumber)
	f.batch(t, "A", "P1-1")
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.proc.Create(f.ctx, afnPurchase())
	assert.True(t, errors.Is(err, core.ErrValidation))

	_, err = f.proc.Create(f.ctx, afnPurchase(purchases.Item{ProductID: "A", Quantity: dec("0"), UnitPrice: dec("1")}))
	assert.True(t, errors.Is(err, core.ErrValidation))

	in := afnPurchase(purchases.Item{ProductID: "A", Quantity: dec("1"), UnitPrice: dec("1")})
	in.Currency = "USD"
	_, err = f.proc.Create(f.ctx, in)
	assert.True(t, errors.Is(err, core.ErrInvalidRate))

	in = afnPurchase(purchases.Item{ProductID: "ghost", Quantity: dec("1"), UnitPrice: dec("1")})
	_, err = f.proc.Create(f.ctx, in)
	assert.True(t, core.IsNotFound(err))
	invs, _ := f.store.PurchaseInvoices().All(f.ctx)
	assert.Empty(t, invs)
}

// =============================================================================
// UPDATE
// =============================================================================

func TestUpdate_ReplacesLinesAndReconcilesSupplier(t *testing.T) {
	f := newFixture(t)
	in := afnPurchase(purchases.Item{ProductID: "A", LotNumber: "A-1", Quantity: dec("10"), UnitPrice: dec("10")})
	in.AdditionalCost = dec("50")
	inv, err := f.proc.Create(f.ctx, in)
	require.NoError(t, err)

	draft, _, err := f.proc.BeginEdit(f.ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, inv.ID, f.proc.Editing())

	draft.Items[0].Quantity = dec("8")
	draft.AdditionalCost = decimal.Zero
	updated, err := f.proc.Update(f.ctx, inv.ID, draft)
	require.NoError(t, err)

	assert.Equal(t, inv.ID, updated.ID)
	assert.NotNil(t, updated.EditedAt)
	assert.Empty(t, f.proc.Editing())

	b := f.batch(t, "A", "A-1")
	assertDec(t, "8", b.Quantity)
	assertDec(t, "10", b.UnitCost)

	assertDec(t, "80", f.supplier(t, "sup").BaseBalance)
	txs, _ := f.store.Transactions(core.PartySupplier).All(f.ctx)
	assert.Len(t, txs, 1)
	assert.Empty(t, f.expenses(t), "zero additional cost drops the logistics expense")
}

func TestUpdate_ChangeSupplier(t *testing.T) {
	f := newFixture(t)
	inv, err := f.proc.Create(f.ctx, afnPurchase(purchases.Item{ProductID: "A", LotNumber: "A-1", Quantity: dec("2"), UnitPrice: dec("5")}))
	require.NoError(t, err)

	draft, _, err := f.proc.BeginEdit(f.ctx, inv.ID)
	require.NoError(t, err)
	draft.SupplierID = "sup2"
	_, err = f.proc.Update(f.ctx, inv.ID, draft)
	require.NoError(t, err)

	assertDec(t, "0", f.supplier(t, "sup").BaseBalance)
	assertDec(t, "10", f.supplier(t, "sup2").BaseBalance)
}

func TestUpdate_AfterPartialSale_LotGoesNegative(t *testing.T) {
	// GIVEN: 10 units received into A-1, 7 since sold
	// WHEN: The purchase is edited to a different lot
	// THEN: A-1 is decremented by the original 10 and ends at -7

	f := newFixture(t)
	inv, err := f.proc.Create(f.ctx, afnPurchase(purchases.Item{ProductID: "A", LotNumber: "A-1", Quantity: dec("10"), UnitPrice: dec("1")}))
	require.NoError(t, err)

	lots := core.NewLotLedger(f.store.Products())
	_, err = lots.Consume(f.ctx, "A", dec("7"))
	require.NoError(t, err)
	require.NoError(t, lots.Commit(f.ctx))

	draft, _, err := f.proc.BeginEdit(f.ctx, inv.ID)
	require.NoError(t, err)
	draft.Items[0].LotNumber = "A-2"
	_, err = f.proc.Update(f.ctx, inv.ID, draft)
	require.NoError(t, err)

	assertDec(t, "-7", f.batch(t, "A", "A-1").Quantity)
	assertDec(t, "10", f.batch(t, "A", "A-2").Quantity)
}

func TestUpdate_ConflictingEdit(t *testing.T) {
	f := newFixture(t)
	first, err := f.proc.Create(f.ctx, afnPurchase(purchases.Item{ProductID: "A", Quantity: dec("1"), UnitPrice: dec("1")}))
	require.NoError(t, err)
	second, err := f.proc.Create(f.ctx, afnPurchase(purchases.Item{ProductID: "B", Quantity: dec("1"), UnitPrice: dec("1")}))
	require.NoError(t, err)

	_, _, err = f.proc.BeginEdit(f.ctx, first.ID)
	require.NoError(t, err)

	_, err = f.proc.Update(f.ctx, second.ID, afnPurchase(purchases.Item{ProductID: "B", Quantity: dec("2"), UnitPrice: dec("1")}))
	assert.True(t, errors.Is(err, core.ErrConcurrentEditConflict))

	f.proc.CancelEdit(f.ctx)
	_, err = f.proc.Update(f.ctx, second.ID, afnPurchase(purchases.Item{ProductID: "B", LotNumber: "P2-1", Quantity: dec("2"), UnitPrice: dec("1")}))
	require.NoError(t, err)
	assertDec(t, "2", f.batch(t, "B", "P2-1").Quantity)
}

// =============================================================================
// RETURNS
// =============================================================================

func TestAddReturn_DecrementsNamedLot(t *testing.T) {
	f := newFixture(t)
	inv, err := f.proc.Create(f.ctx, afnPurchase(
		purchases.Item{ProductID: "A", LotNumber: "A-1", Quantity: dec("10"), UnitPrice: dec("10")},
		purchases.Item{ProductID: "A", LotNumber: "A-2", Quantity: dec("10"), UnitPrice: dec("12")},
	))
	require.NoError(t, err)

	ret, err := f.proc.AddReturn(f.ctx, purchases.ReturnInput{
		OriginalInvoiceID: inv.ID,
		Items:             []purchases.ReturnItem{{ProductID: "A", LotNumber: "A-2", Quantity: dec("4")}},
	})
	require.NoError(t, err)

	assert.Equal(t, core.InvoiceID("PR1"), ret.ID)
	assert.Equal(t, inv.ID, ret.OriginalInvoiceID)
	assertDec(t, "48", ret.Total)
	assertDec(t, "10", f.batch(t, "A", "A-1").Quantity)
	assertDec(t, "6", f.batch(t, "A", "A-2").Quantity)
	assertDec(t, "172", f.supplier(t, "sup").BaseBalance)

	// The next purchase is still P2: PR ids don't feed the P series.
	next, err := f.proc.Create(f.ctx, afnPurchase(purchases.Item{ProductID: "B", Quantity: dec("1"), UnitPrice: dec("1")}))
	require.NoError(t, err)
	assert.Equal(t, core.InvoiceID("P2"), next.ID)
}

func TestAddReturn_LotNotOnInvoice(t *testing.T) {
	f := newFixture(t)
	inv, err := f.proc.Create(f.ctx, afnPurchase(purchases.Item{ProductID: "A", LotNumber: "A-1", Quantity: dec("10"), UnitPrice: dec("10")}))
	require.NoError(t, err)

	_, err = f.proc.AddReturn(f.ctx, purchases.ReturnInput{
		OriginalInvoiceID: inv.ID,
		Items:             []purchases.ReturnItem{{ProductID: "A", LotNumber: "A-7", Quantity: dec("1")}},
	})
	assert.True(t, errors.Is(err, core.ErrLotNotFound))
}

func TestAddReturn_ExcessiveAcrossReturns(t *testing.T) {
	f := newFixture(t)
	inv, err := f.proc.Create(f.ctx, afnPurchase(purchases.Item{ProductID: "A", LotNumber: "A-1", Quantity: dec("5"), UnitPrice: dec("10")}))
	require.NoError(t, err)

	ret := func(qty string) error {
		_, err := f.proc.AddReturn(f.ctx, purchases.ReturnInput{
			OriginalInvoiceID: inv.ID,
			Items:             []purchases.ReturnItem{{ProductID: "A", LotNumber: "A-1", Quantity: dec(qty)}},
		})
		return err
	}
	require.NoError(t, ret("3"))
	assert.True(t, errors.Is(ret("3"), core.ErrExcessiveReturnQuantity))
	require.NoError(t, ret("2"))

	assertDec(t, "0", f.batch(t, "A", "A-1").Quantity)
	assertDec(t, "0", f.supplier(t, "sup").BaseBalance)

	_, _, err = f.proc.BeginEdit(f.ctx, inv.ID)
	assert.True(t, errors.Is(err, core.ErrReturnedInvoice))
}

func TestAddReturn_StockAlreadySold(t *testing.T) {
	f := newFixture(t)
	inv, err := f.proc.Create(f.ctx, afnPurchase(purchases.Item{ProductID: "A", LotNumber: "A-1", Quantity: dec("5"), UnitPrice: dec("10")}))
	require.NoError(t, err)

	lots := core.NewLotLedger(f.store.Products())
	_, err = lots.Consume(f.ctx, "A", dec("4"))
	require.NoError(t, err)
	require.NoError(t, lots.Commit(f.ctx))

	_, err = f.proc.AddReturn(f.ctx, purchases.ReturnInput{
		OriginalInvoiceID: inv.ID,
		Items:             []purchases.ReturnItem{{ProductID: "A", LotNumber: "A-1", Quantity: dec("2")}},
	})
	assert.True(t, errors.Is(err, core.ErrInsufficientStock))
	assertDec(t, "1", f.batch(t, "A", "A-1").Quantity)
}
