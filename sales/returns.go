package sales

import (
	"context"
	"fmt"
	"sort"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/warp/retail-ledger/core"
	"github.com/warp/retail-ledger/validator"
)

// AddReturn books a return against a sale as a new R invoice. Stock goes back
// newest-consumed lot first and the customer gets the opposite posting.
// Returns may be repeated until every line is fully returned.
func (p *Processor) AddReturn(ctx context.Context, in ReturnInput) (core.SaleInvoice, error) {
	if err := validator.Struct(in); err != nil {
		return core.SaleInvoice{}, err
	}

	var ret core.SaleInvoice
	err := p.store.WithTx(ctx, func(s core.Store) error {
		orig, err := s.SaleInvoices().Get(ctx, string(in.OriginalInvoiceID))
		if err != nil {
			return err
		}
		if orig.Type != core.InvoiceSale {
			return fmt.Errorf("return against %s (%s): %w", orig.ID, orig.Type, core.ErrInvalidInvoice)
		}

		previous, err := returnsOf(ctx, s, orig.ID)
		if err != nil {
			return err
		}
		returned := returnedQuantities(previous)

		requested := make(map[string]decimal.Decimal)
		order := lo.Uniq(lo.Map(in.Lines, func(l ReturnLine, _ int) string { return l.ItemID }))
		for _, l := range in.Lines {
			requested[l.ItemID] = requested[l.ItemID].Add(l.Quantity)
		}

		// Validate every line before touching stock.
		for _, itemID := range order {
			item, ok := orig.Item(itemID)
			if !ok {
				return core.Invalid("invoice %s has no line %q", orig.ID, itemID)
			}
			allowed := item.Quantity.Sub(returned[itemID])
			if requested[itemID].GreaterThan(allowed) {
				return &core.ExcessiveReturnError{InvoiceID: orig.ID, Line: itemID, Requested: requested[itemID], Allowed: allowed}
			}
		}

		lots := core.NewLotLedger(s.Products())
		items := make([]core.SaleInvoiceItem, 0, len(order))
		total := decimal.Zero
		for _, itemID := range order {
			item, _ := orig.Item(itemID)
			qty := requested[itemID]

			line := item
			line.OverridePrice = nil
			line.Quantity = qty
			line.LineTotal = item.UnitPrice.Mul(qty)
			line.Deductions = nil
			line.UnitCost = decimal.Zero

			if item.Kind == core.LineProduct {
				remaining := item.Deductions.WithoutTail(returned[itemID])
				restored, err := lots.RestoreReverseOrder(ctx, item.ProductID, remaining, qty)
				if err != nil {
					return err
				}
				line.Deductions = restored
				line.UnitCost = restored.AverageCost()
			}
			total = total.Add(line.LineTotal)
			items = append(items, line)
		}

		totalBase, err := p.fx.ToBase(total, orig.Currency, orig.ExchangeRate)
		if err != nil {
			return err
		}
		id, err := core.NextID(ctx, s.SaleInvoices(), core.PrefixSaleReturn)
		if err != nil {
			return err
		}
		ret = core.SaleInvoice{
			ID:                     id,
			Type:                   core.InvoiceReturn,
			Timestamp:              p.Now(),
			Cashier:                in.Cashier,
			CustomerID:             orig.CustomerID,
			IntermediarySupplierID: orig.IntermediarySupplierID,
			Currency:               orig.Currency,
			ExchangeRate:           orig.ExchangeRate,
			Subtotal:               total,
			Total:                  total,
			TotalBase:              totalBase,
			CostOfGoods:            lo.Reduce(items, func(acc decimal.Decimal, it core.SaleInvoiceItem, _ int) decimal.Decimal { return acc.Add(it.Deductions.Cost()) }, decimal.Zero),
			Items:                  items,
			OriginalInvoiceID:      orig.ID,
		}

		if post := posting(ret); !post.IsZero() {
			book := core.NewBalanceBook(s)
			book.Now = p.Now
			_, err := book.ApplyDelta(ctx, post.Kind, post.PartyID, post.Delta, core.Transaction{
				Type:        core.TxSaleReturn,
				InvoiceID:   ret.ID,
				CreatedBy:   in.Cashier,
				Description: fmt.Sprintf("Return %s of %s", ret.ID, orig.ID),
			})
			if err != nil {
				return err
			}
		}

		if err := lots.Commit(ctx); err != nil {
			return err
		}
		return s.SaleInvoices().Put(ctx, ret)
	})
	if err != nil {
		return core.SaleInvoice{}, err
	}

	p.log.WithContext(ctx).Infow("sale return booked",
		"invoice", ret.ID,
		"original", ret.OriginalInvoiceID,
		"total", ret.Total.String(),
	)
	return ret, nil
}

// returnedQuantities sums earlier returns per original line.
func returnedQuantities(returns []core.SaleInvoice) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for _, r := range returns {
		for _, it := range r.Items {
			out[it.ItemID] = out[it.ItemID].Add(it.Quantity)
		}
	}
	return out
}

func sortByTimestamp(invs []core.SaleInvoice) {
	sort.SliceStable(invs, func(i, j int) bool { return invs[i].Timestamp.Before(invs[j].Timestamp) })
}
