/*
lots.go - LotLedger: deterministic FIFO consumption and exact reversal

PURPOSE:
  Owns the batches (lots) of each product for the duration of one operation.
  The ledger loads products lazily from a Collection into a working set,
  applies every stock movement there, and writes the touched products back
  on Commit. Nothing reaches the store before Commit.

FIFO ORDER:
  Batches are consumed ascending by (ExpiryDate ?? PurchaseDate):
  expiring-soonest first, acquisition order when no expiry is set.
  Ties keep the stored batch order.

VIRTUAL RESTORATION:
  Editing a sale restores the old deductions into the working set, then
  consumes the new cart against it. Quantity checks see stock "as if" the
  old sale never happened, and live stock is untouched until Commit.
  Abandoning the ledger discards the whole draft.

REVERSAL:
  Restore(deductions) undoes a Consume exactly, batch by batch. It must be
  given the deduction list Consume returned; re-deriving FIFO at restore time
  is wrong because batches may have shifted since.

  RestoreReverseOrder is for returns: the newest-consumed batch is refilled
  first.

EXAMPLE:
  lots := core.NewLotLedger(s.Products())
  c, err := lots.Consume(ctx, "prod-1", decimal.NewFromInt(7))
  // c.Deductions == [(L1,5),(L2,2)]
  err = lots.Commit(ctx)

SEE ALSO:
  - sales/processor.go: consume/restore on checkout and returns
  - purchases/processor.go: receive/withdraw on purchases
*/
package core

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Consumption is the result of one Consume call.
type Consumption struct {
	Deductions      Deductions
	UnitCostAverage decimal.Decimal
}

// ReceiveInput describes goods entering a lot.
type ReceiveInput struct {
	ProductID    ProductID
	LotNumber    string
	Quantity     decimal.Decimal
	UnitCost     decimal.Decimal // base currency
	ExpiryDate   *time.Time
	PurchaseDate time.Time
	InvoiceID    InvoiceID

	// RequireNew fails with DuplicateLotError instead of topping up an existing lot.
	RequireNew bool
}

// =============================================================================
// LOT LEDGER
// =============================================================================

type LotLedger struct {
	products Collection[Product]
	working  map[ProductID]*Product
	touched  []ProductID
	dirty    map[ProductID]bool
}

func NewLotLedger(products Collection[Product]) *LotLedger {
	return &LotLedger{
		products: products,
		working:  make(map[ProductID]*Product),
		dirty:    make(map[ProductID]bool),
	}
}

func (l *LotLedger) load(ctx context.Context, id ProductID) (*Product, error) {
	if p, ok := l.working[id]; ok {
		return p, nil
	}
	p, err := l.products.Get(ctx, string(id))
	if err != nil {
		return nil, err
	}
	l.working[id] = &p
	l.touched = append(l.touched, id)
	return &p, nil
}

func (l *LotLedger) markDirty(id ProductID) { l.dirty[id] = true }

// Product returns a copy of the product as the working set currently sees it.
func (l *LotLedger) Product(ctx context.Context, id ProductID) (Product, error) {
	p, err := l.load(ctx, id)
	if err != nil {
		return Product{}, err
	}
	return p.Clone(), nil
}

// Available returns the stock of a product in the working set.
func (l *LotLedger) Available(ctx context.Context, id ProductID) (decimal.Decimal, error) {
	p, err := l.load(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	return positiveStock(p.Batches), nil
}

// Consume deducts quantity across the product's batches in FIFO order.
// All-or-nothing: on InsufficientStockError no batch is touched.
func (l *LotLedger) Consume(ctx context.Context, productID ProductID, quantity decimal.Decimal) (Consumption, error) {
	if !quantity.IsPositive() {
		return Consumption{}, Invalid("consume %s: quantity must be positive, got %v", productID, quantity)
	}
	p, err := l.load(ctx, productID)
	if err != nil {
		return Consumption{}, err
	}

	available := positiveStock(p.Batches)
	if available.LessThan(quantity) {
		return Consumption{}, &InsufficientStockError{ProductID: productID, Available: available, Requested: quantity}
	}

	var deductions Deductions
	remaining := quantity
	for _, i := range fifoOrder(p.Batches) {
		if !remaining.IsPositive() {
			break
		}
		b := &p.Batches[i]
		if !b.Quantity.IsPositive() {
			continue
		}
		take := minDecimal(b.Quantity, remaining)
		b.Quantity = b.Quantity.Sub(take)
		remaining = remaining.Sub(take)
		deductions = append(deductions, Deduction{
			BatchID:   b.ID,
			LotNumber: b.LotNumber,
			Quantity:  take,
			UnitCost:  b.UnitCost,
		})
	}
	l.markDirty(productID)

	return Consumption{Deductions: deductions, UnitCostAverage: deductions.AverageCost()}, nil
}

// Restore adds every deduction back to its batch.
func (l *LotLedger) Restore(ctx context.Context, productID ProductID, deductions Deductions) error {
	if len(deductions) == 0 {
		return nil
	}
	p, err := l.load(ctx, productID)
	if err != nil {
		return err
	}
	idx, err := batchPositions(p, deductions)
	if err != nil {
		return err
	}
	for i, d := range deductions {
		b := &p.Batches[idx[i]]
		b.Quantity = b.Quantity.Add(d.Quantity)
	}
	l.markDirty(productID)
	return nil
}

// RestoreReverseOrder restores quantity units walking the deductions from the
// newest-consumed batch backwards, and returns what it restored in that order.
func (l *LotLedger) RestoreReverseOrder(ctx context.Context, productID ProductID, deductions Deductions, quantity decimal.Decimal) (Deductions, error) {
	if !quantity.IsPositive() {
		return nil, Invalid("restore %s: quantity must be positive, got %v", productID, quantity)
	}
	if deductions.Quantity().LessThan(quantity) {
		return nil, &ExcessiveReturnError{Line: string(productID), Requested: quantity, Allowed: deductions.Quantity()}
	}
	p, err := l.load(ctx, productID)
	if err != nil {
		return nil, err
	}
	idx, err := batchPositions(p, deductions)
	if err != nil {
		return nil, err
	}

	var restored Deductions
	remaining := quantity
	for i := len(deductions) - 1; i >= 0 && remaining.IsPositive(); i-- {
		d := deductions[i]
		take := minDecimal(d.Quantity, remaining)
		if !take.IsPositive() {
			continue
		}
		b := &p.Batches[idx[i]]
		b.Quantity = b.Quantity.Add(take)
		remaining = remaining.Sub(take)
		d.Quantity = take
		restored = append(restored, d)
	}
	l.markDirty(productID)
	return restored, nil
}

// Receive creates a batch, or tops up and re-prices the batch with the same
// lot number.
func (l *LotLedger) Receive(ctx context.Context, in ReceiveInput) (Batch, error) {
	if in.LotNumber == "" {
		return Batch{}, fmt.Errorf("product %s: %w", in.ProductID, ErrMissingLotNumber)
	}
	if !in.Quantity.IsPositive() {
		return Batch{}, Invalid("receive %s lot %s: quantity must be positive, got %v", in.ProductID, in.LotNumber, in.Quantity)
	}
	if in.UnitCost.IsNegative() {
		return Batch{}, Invalid("receive %s lot %s: unit cost must not be negative", in.ProductID, in.LotNumber)
	}
	p, err := l.load(ctx, in.ProductID)
	if err != nil {
		return Batch{}, err
	}

	if i, ok := p.BatchIndex(in.LotNumber); ok {
		if in.RequireNew {
			return Batch{}, &DuplicateLotError{ProductID: in.ProductID, LotNumber: in.LotNumber, Source: "warehouse"}
		}
		b := &p.Batches[i]
		b.Quantity = b.Quantity.Add(in.Quantity)
		b.UnitCost = in.UnitCost
		if in.ExpiryDate != nil {
			b.ExpiryDate = cloneTimePtr(in.ExpiryDate)
		}
		l.markDirty(in.ProductID)
		return b.clone(), nil
	}

	purchased := in.PurchaseDate
	if purchased.IsZero() {
		purchased = time.Now().UTC()
	}
	b := Batch{
		ID:           BatchID(NewID()),
		LotNumber:    in.LotNumber,
		Quantity:     in.Quantity,
		UnitCost:     in.UnitCost,
		PurchaseDate: purchased,
		ExpiryDate:   cloneTimePtr(in.ExpiryDate),
		InvoiceID:    in.InvoiceID,
	}
	p.Batches = append(p.Batches, b)
	l.markDirty(in.ProductID)
	return b.clone(), nil
}

// Withdraw decrements a named lot directly, without FIFO selection.
// With allowNegative the lot may go below zero; the caller owns that risk.
func (l *LotLedger) Withdraw(ctx context.Context, productID ProductID, lotNumber string, quantity decimal.Decimal, allowNegative bool) (Batch, error) {
	if !quantity.IsPositive() {
		return Batch{}, Invalid("withdraw %s lot %s: quantity must be positive, got %v", productID, lotNumber, quantity)
	}
	p, err := l.load(ctx, productID)
	if err != nil {
		return Batch{}, err
	}
	i, ok := p.BatchIndex(lotNumber)
	if !ok {
		return Batch{}, fmt.Errorf("product %s lot %q: %w", productID, lotNumber, ErrLotNotFound)
	}
	b := &p.Batches[i]
	if !allowNegative && b.Quantity.LessThan(quantity) {
		return Batch{}, &InsufficientStockError{ProductID: productID, LotNumber: lotNumber, Available: b.Quantity, Requested: quantity}
	}
	b.Quantity = b.Quantity.Sub(quantity)
	l.markDirty(productID)
	return b.clone(), nil
}

// Commit writes every product the ledger changed, in first-touch order.
func (l *LotLedger) Commit(ctx context.Context) error {
	for _, id := range l.touched {
		if !l.dirty[id] {
			continue
		}
		if err := l.products.Put(ctx, *l.working[id]); err != nil {
			return fmt.Errorf("save product %s: %w", id, err)
		}
	}
	l.dirty = make(map[ProductID]bool)
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// fifoOrder returns batch positions sorted by (expiry ?? purchase date).
func fifoOrder(batches []Batch) []int {
	order := make([]int, len(batches))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return batches[order[a]].fifoKey().Before(batches[order[b]].fifoKey())
	})
	return order
}

func positiveStock(batches []Batch) decimal.Decimal {
	total := decimal.Zero
	for _, b := range batches {
		if b.Quantity.IsPositive() {
			total = total.Add(b.Quantity)
		}
	}
	return total
}

// batchPositions resolves every deduction to a batch index before anything
// is mutated, so a missing batch leaves the product untouched.
func batchPositions(p *Product, deductions Deductions) ([]int, error) {
	byID := make(map[BatchID]int, len(p.Batches))
	for i, b := range p.Batches {
		byID[b.ID] = i
	}
	idx := make([]int, len(deductions))
	for i, d := range deductions {
		pos, ok := byID[d.BatchID]
		if !ok {
			return nil, fmt.Errorf("product %s batch %s (lot %q): %w", p.ID, d.BatchID, d.LotNumber, ErrLotNotFound)
		}
		idx[i] = pos
	}
	return idx, nil
}
