/*
Package purchases implements the purchase transaction processor: supplier
invoices, their edits and purchase returns.

PURPOSE:
  A purchase receives stock into named lots at a landed unit cost, posts the
  invoice total to the supplier (the shop owes more) and books any freight or
  customs as a logistics expense linked to the invoice.

LANDED COST:
  additionalCost is spread over the lines by each line's share of the
  invoice's base value, then divided by the line quantity:

    unitCost = convertedUnitPrice + (lineBase / invoiceBase × additionalBase) / qty

  100 units at 10 AFN with 500 AFN freight land at 15 AFN each.

EDITS:
  Update takes back the original quantities by decrementing the named lots
  directly, then receives the new lines under the same invoice id. Unlike a
  sale edit there is no virtual restoration: sales may already have consumed
  part of a lot, so the decrement can leave a lot negative. That is logged as
  a warning, not prevented.

RETURNS:
  A return names the exact lots going back to the supplier (no FIFO) and is
  booked as a new PR invoice.

SEE ALSO:
  - transit/machine.go: in-transit receipts post through Post
  - core/lots.go: Receive / Withdraw
*/
package purchases

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/warp/retail-ledger/core"
	"github.com/warp/retail-ledger/logger"
	"github.com/warp/retail-ledger/validator"
)

// =============================================================================
// INPUTS
// =============================================================================

type Item struct {
	ProductID  core.ProductID  `json:"product_id" validate:"required"`
	LotNumber  string          `json:"lot_number,omitempty"`
	Quantity   decimal.Decimal `json:"quantity" validate:"gt=0"`
	UnitPrice  decimal.Decimal `json:"unit_price" validate:"gte=0"` // invoice currency
	ExpiryDate *time.Time      `json:"expiry_date,omitempty"`
}

type CreateInput struct {
	SupplierID      core.PartyID    `json:"supplier_id" validate:"required"`
	Items           []Item          `json:"items" validate:"min=1,dive"`
	Currency        core.Currency   `json:"currency" validate:"required"`
	Rate            decimal.Decimal `json:"rate"`
	AdditionalCost  decimal.Decimal `json:"additional_cost" validate:"gte=0"`
	CostDescription string          `json:"cost_description,omitempty"`

	// Set by the in-transit machine for sub-purchases.
	SourceInTransitID core.InvoiceID `json:"-"`
	RequireNewLots    bool           `json:"-"`
}

type ReturnItem struct {
	ProductID core.ProductID  `json:"product_id" validate:"required"`
	LotNumber string          `json:"lot_number" validate:"required"`
	Quantity  decimal.Decimal `json:"quantity" validate:"gt=0"`
}

type ReturnInput struct {
	OriginalInvoiceID core.InvoiceID `json:"original_invoice_id" validate:"required"`
	Items             []ReturnItem   `json:"items" validate:"min=1,dive"`
	CreatedBy         string         `json:"created_by,omitempty"`
}

// =============================================================================
// PROCESSOR
// =============================================================================

type Processor struct {
	store   core.TxStore
	fx      *core.Currencies
	session core.EditSession
	log     *logger.Logger
	Now     func() time.Time
}

func NewProcessor(store core.TxStore, fx *core.Currencies, log *logger.Logger) *Processor {
	return &Processor{
		store: store,
		fx:    fx,
		log:   log.WithComponent("purchases"),
		Now:   func() time.Time { return time.Now().UTC() },
	}
}

// Create books a new purchase invoice.
func (p *Processor) Create(ctx context.Context, in CreateInput) (core.PurchaseInvoice, error) {
	if err := validator.Struct(in); err != nil {
		return core.PurchaseInvoice{}, err
	}
	var inv core.PurchaseInvoice
	err := p.store.WithTx(ctx, func(s core.Store) error {
		var err error
		inv, err = p.Post(ctx, s, in)
		return err
	})
	if err != nil {
		return core.PurchaseInvoice{}, err
	}
	p.log.WithContext(ctx).Infow("purchase created",
		"invoice", inv.ID,
		"supplier", inv.SupplierID,
		"total", inv.Total.String(),
		"total_base", inv.TotalBase.String(),
	)
	return inv, nil
}

// Post books a purchase inside an open store transaction. Callers own the
// transaction; Create and the in-transit machine both go through here.
func (p *Processor) Post(ctx context.Context, s core.Store, in CreateInput) (core.PurchaseInvoice, error) {
	rate, err := p.fx.NormalizeRate(in.Currency, in.Rate)
	if err != nil {
		return core.PurchaseInvoice{}, err
	}
	if _, err := s.Parties(core.PartySupplier).Get(ctx, string(in.SupplierID)); err != nil {
		return core.PurchaseInvoice{}, err
	}
	id, err := core.NextID(ctx, s.PurchaseInvoices(), core.PrefixPurchase)
	if err != nil {
		return core.PurchaseInvoice{}, err
	}

	now := p.Now()
	lots := core.NewLotLedger(s.Products())
	inv, additionalBase, err := p.receive(ctx, lots, id, in, rate, now)
	if err != nil {
		return core.PurchaseInvoice{}, err
	}
	inv.Timestamp = now

	book := core.NewBalanceBook(s)
	book.Now = p.Now
	post := posting(inv)
	if _, err := book.ApplyDelta(ctx, post.Kind, post.PartyID, post.Delta, purchaseTx(inv)); err != nil {
		return core.PurchaseInvoice{}, err
	}
	if err := p.syncExpense(ctx, s, inv, additionalBase); err != nil {
		return core.PurchaseInvoice{}, err
	}
	if err := lots.Commit(ctx); err != nil {
		return core.PurchaseInvoice{}, err
	}
	if err := s.PurchaseInvoices().Put(ctx, inv); err != nil {
		return core.PurchaseInvoice{}, err
	}
	return inv, nil
}

// receive prices every line at landed cost and receives it into its lot.
func (p *Processor) receive(ctx context.Context, lots *core.LotLedger, id core.InvoiceID, in CreateInput, rate decimal.Decimal, now time.Time) (core.PurchaseInvoice, decimal.Decimal, error) {
	type priced struct {
		item      Item
		priceBase decimal.Decimal
		lineBase  decimal.Decimal
	}
	lines := make([]priced, len(in.Items))
	total, totalBase, totalQty := decimal.Zero, decimal.Zero, decimal.Zero
	for i, it := range in.Items {
		priceBase, err := p.fx.ToBase(it.UnitPrice, in.Currency, rate)
		if err != nil {
			return core.PurchaseInvoice{}, decimal.Zero, err
		}
		lines[i] = priced{item: it, priceBase: priceBase, lineBase: priceBase.Mul(it.Quantity)}
		total = total.Add(it.UnitPrice.Mul(it.Quantity))
		totalBase = totalBase.Add(lines[i].lineBase)
		totalQty = totalQty.Add(it.Quantity)
	}

	additionalBase, err := p.fx.ToBase(in.AdditionalCost, in.Currency, rate)
	if err != nil {
		return core.PurchaseInvoice{}, decimal.Zero, err
	}

	inv := core.PurchaseInvoice{
		ID:                id,
		Type:              core.InvoicePurchase,
		SupplierID:        in.SupplierID,
		Currency:          in.Currency,
		ExchangeRate:      rate,
		Total:             total,
		TotalBase:         totalBase,
		AdditionalCost:    in.AdditionalCost,
		CostDescription:   in.CostDescription,
		SourceInTransitID: in.SourceInTransitID,
		Items:             make([]core.PurchaseInvoiceItem, 0, len(lines)),
	}

	for i, l := range lines {
		// Free goods (zero invoice value) share the surcharge by quantity.
		var share decimal.Decimal
		if totalBase.IsPositive() {
			share = additionalBase.Mul(l.lineBase).Div(totalBase)
		} else {
			share = additionalBase.Mul(l.item.Quantity).Div(totalQty)
		}
		unitCost := l.priceBase.Add(share.Div(l.item.Quantity))

		lotNumber := l.item.LotNumber
		if lotNumber == "" {
			lotNumber = fmt.Sprintf("%s-%d", id, i+1)
		}
		if _, err := lots.Receive(ctx, core.ReceiveInput{
			ProductID:    l.item.ProductID,
			LotNumber:    lotNumber,
			Quantity:     l.item.Quantity,
			UnitCost:     unitCost,
			ExpiryDate:   l.item.ExpiryDate,
			PurchaseDate: now,
			InvoiceID:    id,
			RequireNew:   in.RequireNewLots,
		}); err != nil {
			return core.PurchaseInvoice{}, decimal.Zero, err
		}

		inv.Items = append(inv.Items, core.PurchaseInvoiceItem{
			ProductID:     l.item.ProductID,
			LotNumber:     lotNumber,
			Quantity:      l.item.Quantity,
			UnitPrice:     l.item.UnitPrice,
			UnitPriceBase: l.priceBase,
			UnitCost:      unitCost,
			ExpiryDate:    l.item.ExpiryDate,
		})
	}
	return inv, additionalBase, nil
}

// syncExpense makes the invoice's logistics expense match its additional cost:
// created, updated, or deleted when the cost drops to zero.
func (p *Processor) syncExpense(ctx context.Context, s core.Store, inv core.PurchaseInvoice, additionalBase decimal.Decimal) error {
	existing, err := core.Filter(ctx, s.Expenses(), func(e core.Expense) bool {
		return e.InvoiceID == inv.ID && e.Category == core.ExpenseLogistics
	})
	if err != nil {
		return err
	}

	if !inv.AdditionalCost.IsPositive() {
		for _, e := range existing {
			if err := s.Expenses().Delete(ctx, string(e.ID)); err != nil {
				return err
			}
		}
		return nil
	}

	exp := core.Expense{
		ID:           core.ExpenseID(core.NewID()),
		Category:     core.ExpenseLogistics,
		Amount:       inv.AdditionalCost,
		Currency:     inv.Currency,
		ExchangeRate: inv.ExchangeRate,
		BaseAmount:   additionalBase,
		Description:  inv.CostDescription,
		InvoiceID:    inv.ID,
		Date:         p.Now(),
	}
	if exp.Description == "" {
		exp.Description = "Logistics for " + string(inv.ID)
	}
	if len(existing) > 0 {
		exp.ID = existing[0].ID
		exp.Date = existing[0].Date
	}
	return s.Expenses().Put(ctx, exp)
}

// posting is the supplier effect of a purchase or purchase return.
func posting(inv core.PurchaseInvoice) core.Posting {
	delta := core.Delta{
		Currency:     inv.Currency,
		Amount:       inv.Total,
		BaseAmount:   inv.TotalBase,
		ExchangeRate: inv.ExchangeRate,
	}
	if inv.Type == core.InvoiceReturn {
		delta = delta.Neg()
	}
	return core.Posting{Kind: core.PartySupplier, PartyID: inv.SupplierID, Delta: delta}
}

func purchaseTx(inv core.PurchaseInvoice) core.Transaction {
	desc := "Purchase " + string(inv.ID)
	if inv.SourceInTransitID != "" {
		desc += " received from " + string(inv.SourceInTransitID)
	}
	return core.Transaction{Type: core.TxPurchase, InvoiceID: inv.ID, Description: desc}
}

// =============================================================================
// EDITING
// =============================================================================

// Editing returns the id of the purchase currently being edited, or "".
func (p *Processor) Editing() core.InvoiceID { return p.session.Current() }

// BeginEdit opens an edit of invoice id and returns its current input.
func (p *Processor) BeginEdit(ctx context.Context, id core.InvoiceID) (CreateInput, core.PurchaseInvoice, error) {
	inv, err := p.editable(ctx, p.store, id)
	if err != nil {
		return CreateInput{}, core.PurchaseInvoice{}, err
	}
	if err := p.session.Begin(id); err != nil {
		return CreateInput{}, core.PurchaseInvoice{}, err
	}
	p.log.WithContext(ctx).Infow("purchase edit started", "invoice", id)
	return inputOf(inv), inv, nil
}

// CancelEdit discards the open edit.
func (p *Processor) CancelEdit(ctx context.Context) {
	if id := p.session.Current(); id != "" {
		p.log.WithContext(ctx).Infow("purchase edit cancelled", "invoice", id)
	}
	p.session.Cancel()
}

// Update rewrites purchase id with new lines. It opens the edit if none is
// open and fails with ErrConcurrentEditConflict if another purchase is open.
func (p *Processor) Update(ctx context.Context, id core.InvoiceID, in CreateInput) (core.PurchaseInvoice, error) {
	if err := validator.Struct(in); err != nil {
		return core.PurchaseInvoice{}, err
	}
	rate, err := p.fx.NormalizeRate(in.Currency, in.Rate)
	if err != nil {
		return core.PurchaseInvoice{}, err
	}
	if err := p.session.Begin(id); err != nil {
		return core.PurchaseInvoice{}, err
	}

	var inv core.PurchaseInvoice
	err = p.store.WithTx(ctx, func(s core.Store) error {
		old, err := p.editable(ctx, s, id)
		if err != nil {
			return err
		}
		if _, err := s.Parties(core.PartySupplier).Get(ctx, string(in.SupplierID)); err != nil {
			return err
		}

		lots := core.NewLotLedger(s.Products())
		for _, it := range old.Items {
			b, err := lots.Withdraw(ctx, it.ProductID, it.LotNumber, it.Quantity, true)
			if err != nil {
				return fmt.Errorf("take back %s lot %s: %w", it.ProductID, it.LotNumber, err)
			}
			if b.Quantity.IsNegative() {
				p.log.WithContext(ctx).Warnw("purchase edit left lot negative",
					"invoice", id,
					"product", it.ProductID,
					"lot", it.LotNumber,
					"quantity", b.Quantity.String(),
				)
			}
		}

		now := p.Now()
		var additionalBase decimal.Decimal
		inv, additionalBase, err = p.receive(ctx, lots, id, in, rate, now)
		if err != nil {
			return err
		}
		inv.Timestamp = old.Timestamp
		inv.EditedAt = &now

		book := core.NewBalanceBook(s)
		book.Now = p.Now
		if _, err := book.RevertAndReapply(ctx, posting(old), posting(inv), purchaseTx(inv)); err != nil {
			return err
		}
		if err := p.syncExpense(ctx, s, inv, additionalBase); err != nil {
			return err
		}
		if err := lots.Commit(ctx); err != nil {
			return err
		}
		return s.PurchaseInvoices().Put(ctx, inv)
	})
	if err != nil {
		return core.PurchaseInvoice{}, err
	}

	p.session.End(id)
	p.log.WithContext(ctx).Infow("purchase updated", "invoice", inv.ID, "total", inv.Total.String())
	return inv, nil
}

// editable loads a purchase that may be edited: a plain purchase, not
// received from a shipment, with no returns booked against it.
func (p *Processor) editable(ctx context.Context, s core.Store, id core.InvoiceID) (core.PurchaseInvoice, error) {
	inv, err := s.PurchaseInvoices().Get(ctx, string(id))
	if err != nil {
		return core.PurchaseInvoice{}, err
	}
	if inv.Type != core.InvoicePurchase || inv.SourceInTransitID != "" {
		return core.PurchaseInvoice{}, fmt.Errorf("edit %s: %w", id, core.ErrInvalidInvoice)
	}
	returns, err := returnsOf(ctx, s, id)
	if err != nil {
		return core.PurchaseInvoice{}, err
	}
	if len(returns) > 0 {
		return core.PurchaseInvoice{}, fmt.Errorf("edit %s: %w", id, core.ErrReturnedInvoice)
	}
	return inv, nil
}

func inputOf(inv core.PurchaseInvoice) CreateInput {
	return CreateInput{
		SupplierID:      inv.SupplierID,
		Currency:        inv.Currency,
		Rate:            inv.ExchangeRate,
		AdditionalCost:  inv.AdditionalCost,
		CostDescription: inv.CostDescription,
		Items: lo.Map(inv.Items, func(it core.PurchaseInvoiceItem, _ int) Item {
			return Item{
				ProductID:  it.ProductID,
				LotNumber:  it.LotNumber,
				Quantity:   it.Quantity,
				UnitPrice:  it.UnitPrice,
				ExpiryDate: it.ExpiryDate,
			}
		}),
	}
}

// =============================================================================
// QUERIES
// =============================================================================

func (p *Processor) Invoice(ctx context.Context, id core.InvoiceID) (core.PurchaseInvoice, error) {
	return p.store.PurchaseInvoices().Get(ctx, string(id))
}

// List returns every purchase and purchase return, oldest first.
func (p *Processor) List(ctx context.Context) ([]core.PurchaseInvoice, error) {
	all, err := p.store.PurchaseInvoices().All(ctx)
	if err != nil {
		return nil, err
	}
	sortByTimestamp(all)
	return all, nil
}

// Returns lists the return invoices that reference original.
func (p *Processor) Returns(ctx context.Context, original core.InvoiceID) ([]core.PurchaseInvoice, error) {
	return returnsOf(ctx, p.store, original)
}

func returnsOf(ctx context.Context, s core.Store, original core.InvoiceID) ([]core.PurchaseInvoice, error) {
	return core.Filter(ctx, s.PurchaseInvoices(), func(inv core.PurchaseInvoice) bool {
		return inv.Type == core.InvoiceReturn && inv.OriginalInvoiceID == original
	})
}
