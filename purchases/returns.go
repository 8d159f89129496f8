package purchases

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/warp/retail-ledger/core"
	"github.com/warp/retail-ledger/validator"
)

type lotKey struct {
	product core.ProductID
	lot     string
}

// AddReturn sends named lots back to the supplier as a new PR invoice.
func (p *Processor) AddReturn(ctx context.Context, in ReturnInput) (core.PurchaseInvoice, error) {
	if err := validator.Struct(in); err != nil {
		return core.PurchaseInvoice{}, err
	}

	var ret core.PurchaseInvoice
	err := p.store.WithTx(ctx, func(s core.Store) error {
		orig, err := s.PurchaseInvoices().Get(ctx, string(in.OriginalInvoiceID))
		if err != nil {
			return err
		}
		if orig.Type != core.InvoicePurchase {
			return fmt.Errorf("return against %s (%s): %w", orig.ID, orig.Type, core.ErrInvalidInvoice)
		}

		previous, err := returnsOf(ctx, s, orig.ID)
		if err != nil {
			return err
		}
		returned := make(map[lotKey]decimal.Decimal)
		for _, r := range previous {
			for _, it := range r.Items {
				k := lotKey{it.ProductID, it.LotNumber}
				returned[k] = returned[k].Add(it.Quantity)
			}
		}

		requested := make(map[lotKey]decimal.Decimal)
		var order []lotKey
		for _, it := range in.Items {
			k := lotKey{it.ProductID, it.LotNumber}
			if _, seen := requested[k]; !seen {
				order = append(order, k)
			}
			requested[k] = requested[k].Add(it.Quantity)
		}

		for _, k := range order {
			line, ok := orig.Item(k.product, k.lot)
			if !ok {
				return fmt.Errorf("invoice %s has no product %s lot %q: %w", orig.ID, k.product, k.lot, core.ErrLotNotFound)
			}
			allowed := line.Quantity.Sub(returned[k])
			if requested[k].GreaterThan(allowed) {
				return &core.ExcessiveReturnError{
					InvoiceID: orig.ID,
					Line:      string(k.product) + "/" + k.lot,
					Requested: requested[k],
					Allowed:   allowed,
				}
			}
		}

		lots := core.NewLotLedger(s.Products())
		items := make([]core.PurchaseInvoiceItem, 0, len(order))
		total := decimal.Zero
		for _, k := range order {
			line, _ := orig.Item(k.product, k.lot)
			qty := requested[k]
			if _, err := lots.Withdraw(ctx, k.product, k.lot, qty, false); err != nil {
				return err
			}
			line.Quantity = qty
			items = append(items, line)
			total = total.Add(line.UnitPrice.Mul(qty))
		}

		totalBase, err := p.fx.ToBase(total, orig.Currency, orig.ExchangeRate)
		if err != nil {
			return err
		}
		id, err := core.NextID(ctx, s.PurchaseInvoices(), core.PrefixPurchaseReturn)
		if err != nil {
			return err
		}
		ret = core.PurchaseInvoice{
			ID:                id,
			Type:              core.InvoiceReturn,
			Timestamp:         p.Now(),
			SupplierID:        orig.SupplierID,
			Currency:          orig.Currency,
			ExchangeRate:      orig.ExchangeRate,
			Total:             total,
			TotalBase:         totalBase,
			Items:             items,
			OriginalInvoiceID: orig.ID,
		}

		book := core.NewBalanceBook(s)
		book.Now = p.Now
		post := posting(ret)
		if _, err := book.ApplyDelta(ctx, post.Kind, post.PartyID, post.Delta, core.Transaction{
			Type:        core.TxPurchaseReturn,
			InvoiceID:   ret.ID,
			CreatedBy:   in.CreatedBy,
			Description: fmt.Sprintf("Return %s of %s", ret.ID, orig.ID),
		}); err != nil {
			return err
		}

		if err := lots.Commit(ctx); err != nil {
			return err
		}
		return s.PurchaseInvoices().Put(ctx, ret)
	})
	if err != nil {
		return core.PurchaseInvoice{}, err
	}

	p.log.WithContext(ctx).Infow("purchase return booked",
		"invoice", ret.ID,
		"original", ret.OriginalInvoiceID,
		"total", ret.Total.String(),
	)
	return ret, nil
}

func sortByTimestamp(invs []core.PurchaseInvoice) {
	sort.SliceStable(invs, func(i, j int) bool { return invs[i].Timestamp.Before(invs[j].Timestamp) })
}
