/*
Package sales implements the sale transaction processor: checkout, sale edits
and sale returns.

PURPOSE:
  Turns a cart into a sale invoice. A checkout consumes stock lots FIFO,
  prices lines at their display price, converts the total to the base
  currency, posts the receivable to the customer (or intermediary supplier),
  and persists all of it in one store transaction.

STATE MACHINE:
  Idle --BeginEdit(id)--> Editing(id) --Complete--> Idle
                                      --CancelEdit--> Idle

  Only one sale may be in Editing at a time. Beginning an edit of another
  invoice fails with core.ErrConcurrentEditConflict. Drafts have no side
  effects: nothing is written until Complete.

EDITING:
  Complete on an open edit first restores the old invoice's recorded
  deductions into the lot working set (virtual restoration), then consumes
  the new cart against it, so stock checks see the shop "as if" the old sale
  never happened. The old balance posting is reverted and the new one applied
  as two ordered steps.

RETURNS:
  A return is a new R-prefixed invoice referencing the original, which is
  never mutated. Stock is refilled newest-consumed lot first, skipping what
  earlier returns already put back.

SEE ALSO:
  - core/lots.go: Consume / Restore / RestoreReverseOrder
  - core/balance.go: ApplyDelta / RevertAndReapply
*/
package sales

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

// CartLine is one line of the live cart. Prices are in the checkout currency.
type CartLine struct {
	ItemID        string           `json:"item_id,omitempty"`
	Kind          core.LineKind    `json:"kind" validate:"oneof=product service"`
	ProductID     core.ProductID   `json:"product_id,omitempty" validate:"required_if=Kind product"`
	Name          string           `json:"name,omitempty" validate:"required_if=Kind service"`
	Quantity      decimal.Decimal  `json:"quantity" validate:"gt=0"`
	ListPrice     decimal.Decimal  `json:"list_price" validate:"gte=0"`
	OverridePrice *decimal.Decimal `json:"override_price,omitempty"`
}

// DisplayPrice is the price actually charged: the override when set.
func (l CartLine) DisplayPrice() decimal.Decimal {
	if l.OverridePrice != nil {
		return *l.OverridePrice
	}
	return l.ListPrice
}

type Cart struct {
	Lines []CartLine `json:"lines" validate:"dive"`
}

type CheckoutInput struct {
	Cart                   Cart            `json:"cart"`
	Cashier                string          `json:"cashier"`
	CustomerID             core.PartyID    `json:"customer_id,omitempty"`
	IntermediarySupplierID core.PartyID    `json:"intermediary_supplier_id,omitempty"`
	Currency               core.Currency   `json:"currency" validate:"required"`
	Rate                   decimal.Decimal `json:"rate"`
}

type ReturnLine struct {
	ItemID   string          `json:"item_id" validate:"required"`
	Quantity decimal.Decimal `json:"quantity" validate:"gt=0"`
}

type ReturnInput struct {
	OriginalInvoiceID core.InvoiceID `json:"original_invoice_id" validate:"required"`
	Lines             []ReturnLine   `json:"lines" validate:"min=1,dive"`
	Cashier           string         `json:"cashier"`
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
		log:   log.WithComponent("sales"),
		Now:   func() time.Time { return time.Now().UTC() },
	}
}

// Editing returns the id of the sale currently being edited, or "".
func (p *Processor) Editing() core.InvoiceID { return p.session.Current() }

// BeginEdit opens an edit of invoice id and returns its lines as a cart.
func (p *Processor) BeginEdit(ctx context.Context, id core.InvoiceID) (Cart, core.SaleInvoice, error) {
	inv, err := p.store.SaleInvoices().Get(ctx, string(id))
	if err != nil {
		return Cart{}, core.SaleInvoice{}, err
	}
	if inv.Type != core.InvoiceSale {
		return Cart{}, core.SaleInvoice{}, fmt.Errorf("edit %s (%s): %w", id, inv.Type, core.ErrInvalidInvoice)
	}
	returns, err := p.Returns(ctx, id)
	if err != nil {
		return Cart{}, core.SaleInvoice{}, err
	}
	if len(returns) > 0 {
		return Cart{}, core.SaleInvoice{}, fmt.Errorf("edit %s: %w", id, core.ErrReturnedInvoice)
	}
	if err := p.session.Begin(id); err != nil {
		return Cart{}, core.SaleInvoice{}, err
	}

	cart := Cart{Lines: lo.Map(inv.Items, func(it core.SaleInvoiceItem, _ int) CartLine {
		return CartLine{
			ItemID:        it.ItemID,
			Kind:          it.Kind,
			ProductID:     it.ProductID,
			Name:          it.Name,
			Quantity:      it.Quantity,
			ListPrice:     it.ListPrice,
			OverridePrice: it.OverridePrice,
		}
	})}
	p.log.WithContext(ctx).Infow("sale edit started", "invoice", id)
	return cart, inv, nil
}

// CancelEdit discards the open edit. No stock or balance was touched.
func (p *Processor) CancelEdit(ctx context.Context) {
	if id := p.session.Current(); id != "" {
		p.log.WithContext(ctx).Infow("sale edit cancelled", "invoice", id)
	}
	p.session.Cancel()
}

// Complete checks out the cart. With an edit open it rewrites that invoice.
func (p *Processor) Complete(ctx context.Context, in CheckoutInput) (core.SaleInvoice, error) {
	if len(in.Cart.Lines) == 0 {
		return core.SaleInvoice{}, core.ErrEmptyCart
	}
	if err := validator.Struct(in); err != nil {
		return core.SaleInvoice{}, err
	}
	for _, l := range in.Cart.Lines {
		if l.OverridePrice != nil && l.OverridePrice.IsNegative() {
			return core.SaleInvoice{}, core.Invalid("line %s: override price must not be negative", l.ItemID)
		}
	}
	rate, err := p.fx.NormalizeRate(in.Currency, in.Rate)
	if err != nil {
		return core.SaleInvoice{}, err
	}

	editing := p.session.Current()
	var inv core.SaleInvoice
	err = p.store.WithTx(ctx, func(s core.Store) error {
		lots := core.NewLotLedger(s.Products())
		book := core.NewBalanceBook(s)
		book.Now = p.Now

		var old *core.SaleInvoice
		if editing != "" {
			o, err := s.SaleInvoices().Get(ctx, string(editing))
			if err != nil {
				return err
			}
			// A return booked after BeginEdit already moved part of the deductions back.
			returns, err := returnsOf(ctx, s, editing)
			if err != nil {
				return err
			}
			if len(returns) > 0 {
				return fmt.Errorf("edit %s: %w", editing, core.ErrReturnedInvoice)
			}
			old = &o
			for _, it := range o.Items {
				if err := lots.Restore(ctx, it.ProductID, it.Deductions); err != nil {
					return fmt.Errorf("restore %s line %s: %w", o.ID, it.ItemID, err)
				}
			}
		}

		items, err := p.priceLines(ctx, lots, in, rate)
		if err != nil {
			return err
		}

		inv, err = p.buildInvoice(ctx, s, old, in, rate, items)
		if err != nil {
			return err
		}

		tx := core.Transaction{
			Type:        core.TxSale,
			InvoiceID:   inv.ID,
			CreatedBy:   in.Cashier,
			Description: "Sale " + string(inv.ID),
		}
		if old != nil {
			if _, err := book.RevertAndReapply(ctx, posting(*old), posting(inv), tx); err != nil {
				return err
			}
		} else if post := posting(inv); !post.IsZero() {
			if _, err := book.ApplyDelta(ctx, post.Kind, post.PartyID, post.Delta, tx); err != nil {
				return err
			}
		}

		if err := lots.Commit(ctx); err != nil {
			return err
		}
		return s.SaleInvoices().Put(ctx, inv)
	})
	if err != nil {
		return core.SaleInvoice{}, err
	}

	if editing != "" {
		p.session.End(editing)
	}
	p.log.WithContext(ctx).Infow("sale completed",
		"invoice", inv.ID,
		"edited", editing != "",
		"currency", inv.Currency,
		"total", inv.Total.String(),
		"total_base", inv.TotalBase.String(),
	)
	return inv, nil
}

// priceLines consumes stock for product lines and prices every line.
func (p *Processor) priceLines(ctx context.Context, lots *core.LotLedger, in CheckoutInput, rate decimal.Decimal) ([]core.SaleInvoiceItem, error) {
	items := make([]core.SaleInvoiceItem, 0, len(in.Cart.Lines))
	for _, l := range in.Cart.Lines {
		item := core.SaleInvoiceItem{
			ItemID:        l.ItemID,
			Kind:          l.Kind,
			ProductID:     l.ProductID,
			Name:          l.Name,
			Quantity:      l.Quantity,
			ListPrice:     l.ListPrice,
			OverridePrice: l.OverridePrice,
		}
		if item.ItemID == "" {
			item.ItemID = core.NewID()
		}

		if l.Kind == core.LineProduct {
			product, err := lots.Product(ctx, l.ProductID)
			if err != nil {
				return nil, err
			}
			if item.Name == "" {
				item.Name = product.Name
			}
			if item.ListPrice.IsZero() && item.OverridePrice == nil {
				list, err := p.fx.FromBase(product.SalePrice, in.Currency, rate)
				if err != nil {
					return nil, err
				}
				item.ListPrice = list
			}

			c, err := lots.Consume(ctx, l.ProductID, l.Quantity)
			if err != nil {
				return nil, err
			}
			item.Deductions = c.Deductions
			item.UnitCost = c.UnitCostAverage
		}

		if item.OverridePrice != nil {
			item.UnitPrice = *item.OverridePrice
		} else {
			item.UnitPrice = item.ListPrice
		}
		item.LineTotal = item.UnitPrice.Mul(item.Quantity)
		items = append(items, item)
	}
	return items, nil
}

func (p *Processor) buildInvoice(ctx context.Context, s core.Store, old *core.SaleInvoice, in CheckoutInput, rate decimal.Decimal, items []core.SaleInvoiceItem) (core.SaleInvoice, error) {
	total := decimal.Zero
	cogs := decimal.Zero
	for _, it := range items {
		total = total.Add(it.LineTotal)
		cogs = cogs.Add(it.Deductions.Cost())
	}
	totalBase, err := p.fx.ToBase(total, in.Currency, rate)
	if err != nil {
		return core.SaleInvoice{}, err
	}

	if err := p.checkParties(ctx, s, in); err != nil {
		return core.SaleInvoice{}, err
	}

	inv := core.SaleInvoice{
		Type:                   core.InvoiceSale,
		Cashier:                in.Cashier,
		CustomerID:             in.CustomerID,
		IntermediarySupplierID: in.IntermediarySupplierID,
		Currency:               in.Currency,
		ExchangeRate:           rate,
		Subtotal:               total,
		Total:                  total,
		TotalBase:              totalBase,
		CostOfGoods:            cogs,
		Items:                  items,
	}
	now := p.Now()
	if old != nil {
		inv.ID = old.ID
		inv.Timestamp = old.Timestamp
		inv.EditedAt = &now
	} else {
		id, err := core.NextID(ctx, s.SaleInvoices(), core.PrefixSale)
		if err != nil {
			return core.SaleInvoice{}, err
		}
		inv.ID = id
		inv.Timestamp = now
	}
	return inv, nil
}

func (p *Processor) checkParties(ctx context.Context, s core.Store, in CheckoutInput) error {
	if in.CustomerID != "" {
		if _, err := s.Parties(core.PartyCustomer).Get(ctx, string(in.CustomerID)); err != nil {
			return err
		}
	}
	if in.IntermediarySupplierID != "" {
		if _, err := s.Parties(core.PartySupplier).Get(ctx, string(in.IntermediarySupplierID)); err != nil {
			return err
		}
	}
	return nil
}

// posting is the balance effect of a sale or return invoice. A brokered sale
// is charged to the intermediary supplier (their payable shrinks), otherwise
// to the customer. Walk-in sales post nothing.
func posting(inv core.SaleInvoice) core.Posting {
	delta := core.Delta{
		Currency:     inv.Currency,
		Amount:       inv.Total,
		BaseAmount:   inv.TotalBase,
		ExchangeRate: inv.ExchangeRate,
	}
	if inv.Type == core.InvoiceReturn {
		delta = delta.Neg()
	}
	switch {
	case inv.IntermediarySupplierID != "":
		return core.Posting{Kind: core.PartySupplier, PartyID: inv.IntermediarySupplierID, Delta: delta.Neg()}
	case inv.CustomerID != "":
		return core.Posting{Kind: core.PartyCustomer, PartyID: inv.CustomerID, Delta: delta}
	}
	return core.Posting{}
}

// =============================================================================
// QUERIES
// =============================================================================

func (p *Processor) Invoice(ctx context.Context, id core.InvoiceID) (core.SaleInvoice, error) {
	return p.store.SaleInvoices().Get(ctx, string(id))
}

// List returns every sale and return, oldest first.
func (p *Processor) List(ctx context.Context) ([]core.SaleInvoice, error) {
	all, err := p.store.SaleInvoices().All(ctx)
	if err != nil {
		return nil, err
	}
	sortByTimestamp(all)
	return all, nil
}

// Returns lists the return invoices that reference original.
func (p *Processor) Returns(ctx context.Context, original core.InvoiceID) ([]core.SaleInvoice, error) {
	return returnsOf(ctx, p.store, original)
}

func returnsOf(ctx context.Context, s core.Store, original core.InvoiceID) ([]core.SaleInvoice, error) {
	return core.Filter(ctx, s.SaleInvoices(), func(inv core.SaleInvoice) bool {
		return inv.Type == core.InvoiceReturn && inv.OriginalInvoiceID == original
	})
}
