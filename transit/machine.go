/*
Package transit tracks in-transit shipments: purchase orders whose goods move
from the supplier's factory, over the road, into the warehouse.

STATES (per shipment line):
  AtFactory(qty) → InTransit(qty) → Received(qty)

  The three quantities always add up to the line's ordered quantity.

MOVE:
  toTransit  is capped at AtFactory
  toReceived is capped at InTransit + toTransit, so goods may go from the
             factory straight to the warehouse in one call

  Every line receiving goods needs a lot number that exists neither in the
  warehouse nor on another open shipment for the same product. All lines are
  checked before anything changes; one bad line rejects the whole call.

  Received goods become an ordinary sub-purchase (P invoice tagged with the
  shipment id), so supplier balances and lot creation follow the normal
  purchase path.

SHIPMENT STATUS:
  open ──(nothing left at factory or on the road)──> closed
  open ──Archive──> closed (remainder cancelled)

  A shipment that has received anything, or that a sub-purchase references,
  cannot be deleted.

SEE ALSO:
  - purchases/processor.go: Post books each receipt
*/
package transit

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/warp/retail-ledger/core"
	"github.com/warp/retail-ledger/logger"
	"github.com/warp/retail-ledger/purchases"
	"github.com/warp/retail-ledger/validator"
)

// =============================================================================
// INPUTS
// =============================================================================

type Line struct {
	ProductID  core.ProductID  `json:"product_id" validate:"required"`
	Quantity   decimal.Decimal `json:"quantity" validate:"gt=0"`
	UnitPrice  decimal.Decimal `json:"unit_price" validate:"gte=0"`
	LotNumber  string          `json:"lot_number,omitempty"`
	ExpiryDate *time.Time      `json:"expiry_date,omitempty"`
}

type CreateInput struct {
	SupplierID  core.PartyID    `json:"supplier_id" validate:"required"`
	Currency    core.Currency   `json:"currency" validate:"required"`
	Rate        decimal.Decimal `json:"rate"`
	Items       []Line          `json:"items" validate:"min=1,dive"`
	Description string          `json:"description,omitempty"`
}

// Movement is what happens to one product line in a Move call.
// LotNumber and ExpiryDate fall back to the values planned on the line.
type Movement struct {
	ToTransit  decimal.Decimal `json:"to_transit"`
	ToReceived decimal.Decimal `json:"to_received"`
	LotNumber  string          `json:"lot_number,omitempty"`
	ExpiryDate *time.Time      `json:"expiry_date,omitempty"`
}

// MoveResult is the shipment after a move plus the sub-purchase it booked,
// if any goods were received.
type MoveResult struct {
	Shipment    core.InTransitInvoice `json:"shipment"`
	SubPurchase *core.PurchaseInvoice `json:"sub_purchase,omitempty"`
}

// =============================================================================
// MACHINE
// =============================================================================

type Machine struct {
	store     core.TxStore
	fx        *core.Currencies
	purchases *purchases.Processor
	log       *logger.Logger
	Now       func() time.Time
}

func NewMachine(store core.TxStore, fx *core.Currencies, purchases *purchases.Processor, log *logger.Logger) *Machine {
	return &Machine{
		store:     store,
		fx:        fx,
		purchases: purchases,
		log:       log.WithComponent("transit"),
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

// Create opens a shipment with everything at the factory. No balance moves
// until goods are received.
func (m *Machine) Create(ctx context.Context, in CreateInput) (core.InTransitInvoice, error) {
	if err := validator.Struct(in); err != nil {
		return core.InTransitInvoice{}, err
	}
	rate, err := m.fx.NormalizeRate(in.Currency, in.Rate)
	if err != nil {
		return core.InTransitInvoice{}, err
	}
	if dups := lo.FindDuplicatesBy(in.Items, func(l Line) core.ProductID { return l.ProductID }); len(dups) > 0 {
		return core.InTransitInvoice{}, core.Invalid("product %s appears twice on the shipment", dups[0].ProductID)
	}

	var inv core.InTransitInvoice
	err = m.store.WithTx(ctx, func(s core.Store) error {
		if _, err := s.Parties(core.PartySupplier).Get(ctx, string(in.SupplierID)); err != nil {
			return err
		}
		total := decimal.Zero
		items := make([]core.InTransitItem, 0, len(in.Items))
		for _, l := range in.Items {
			if _, err := s.Products().Get(ctx, string(l.ProductID)); err != nil {
				return err
			}
			items = append(items, core.InTransitItem{
				ProductID:  l.ProductID,
				Ordered:    l.Quantity,
				AtFactory:  l.Quantity,
				InTransit:  decimal.Zero,
				Received:   decimal.Zero,
				UnitPrice:  l.UnitPrice,
				LotNumber:  l.LotNumber,
				ExpiryDate: l.ExpiryDate,
			})
			total = total.Add(l.UnitPrice.Mul(l.Quantity))
		}
		totalBase, err := m.fx.ToBase(total, in.Currency, rate)
		if err != nil {
			return err
		}
		id, err := core.NextID(ctx, s.InTransitInvoices(), core.PrefixInTransit)
		if err != nil {
			return err
		}
		inv = core.InTransitInvoice{
			ID:           id,
			Type:         core.InvoiceInTransit,
			Timestamp:    m.Now(),
			SupplierID:   in.SupplierID,
			Currency:     in.Currency,
			ExchangeRate: rate,
			Total:        total,
			TotalBase:    totalBase,
			Items:        items,
			Status:       core.ShipmentOpen,
			Description:  in.Description,
		}
		return s.InTransitInvoices().Put(ctx, inv)
	})
	if err != nil {
		return core.InTransitInvoice{}, err
	}
	m.log.WithContext(ctx).Infow("shipment created", "shipment", inv.ID, "supplier", inv.SupplierID, "lines", len(inv.Items))
	return inv, nil
}

// planned is one line's validated movement.
type planned struct {
	index     int
	toTransit decimal.Decimal
	toReceive decimal.Decimal
	lotNumber string
	expiry    *time.Time
}

// Move advances goods through the stages. See the package doc for the rules.
func (m *Machine) Move(ctx context.Context, id core.InvoiceID, moves map[core.ProductID]Movement) (MoveResult, error) {
	if len(moves) == 0 {
		return MoveResult{}, core.Invalid("shipment %s: no movements given", id)
	}

	var result MoveResult
	err := m.store.WithTx(ctx, func(s core.Store) error {
		inv, err := s.InTransitInvoices().Get(ctx, string(id))
		if err != nil {
			return err
		}
		if !inv.IsOpen() {
			return fmt.Errorf("shipment %s is %s: %w", id, inv.Status, core.ErrInvalidInvoice)
		}

		plan, err := m.plan(ctx, s, inv, moves)
		if err != nil {
			return err
		}

		var received []purchases.Item
		for _, pl := range plan {
			it := &inv.Items[pl.index]
			it.AtFactory = it.AtFactory.Sub(pl.toTransit)
			it.InTransit = it.InTransit.Add(pl.toTransit).Sub(pl.toReceive)
			it.Received = it.Received.Add(pl.toReceive)
			if !it.Conserved() {
				return fmt.Errorf("shipment %s product %s: stage quantities no longer add up to %v", id, it.ProductID, it.Ordered)
			}
			if pl.toReceive.IsPositive() {
				it.LotNumber = pl.lotNumber
				it.ExpiryDate = pl.expiry
				it.ReceivedLots = append(it.ReceivedLots, pl.lotNumber)
				received = append(received, purchases.Item{
					ProductID:  it.ProductID,
					LotNumber:  pl.lotNumber,
					Quantity:   pl.toReceive,
					UnitPrice:  it.UnitPrice,
					ExpiryDate: pl.expiry,
				})
			}
		}

		if len(received) > 0 {
			sub, err := m.purchases.Post(ctx, s, purchases.CreateInput{
				SupplierID:        inv.SupplierID,
				Currency:          inv.Currency,
				Rate:              inv.ExchangeRate,
				Items:             received,
				SourceInTransitID: inv.ID,
				RequireNewLots:    true,
			})
			if err != nil {
				return err
			}
			inv.SubInvoiceIDs = append(inv.SubInvoiceIDs, sub.ID)
			result.SubPurchase = &sub
		}

		if lo.NoneBy(inv.Items, func(it core.InTransitItem) bool { return it.Undelivered() }) {
			now := m.Now()
			inv.Status = core.ShipmentClosed
			inv.ClosedAt = &now
		}
		result.Shipment = inv
		return s.InTransitInvoices().Put(ctx, inv)
	})
	if err != nil {
		return MoveResult{}, err
	}

	kv := []any{"shipment", id, "status", result.Shipment.Status}
	if result.SubPurchase != nil {
		kv = append(kv, "sub_purchase", result.SubPurchase.ID)
	}
	m.log.WithContext(ctx).Infow("shipment moved", kv...)
	return result, nil
}

// plan validates every movement against the shipment, the warehouse and the
// other open shipments, and returns the capped quantities in line order.
func (m *Machine) plan(ctx context.Context, s core.Store, inv core.InTransitInvoice, moves map[core.ProductID]Movement) ([]planned, error) {
	for pid := range moves {
		if !lo.ContainsBy(inv.Items, func(it core.InTransitItem) bool { return it.ProductID == pid }) {
			return nil, core.Invalid("product %s is not on shipment %s", pid, inv.ID)
		}
	}

	var others []core.InTransitInvoice
	out := make([]planned, 0, len(moves))
	for i, it := range inv.Items {
		mv, ok := moves[it.ProductID]
		if !ok {
			continue
		}
		if mv.ToTransit.IsNegative() || mv.ToReceived.IsNegative() {
			return nil, core.Invalid("product %s: movement quantities must not be negative", it.ProductID)
		}

		pl := planned{index: i, lotNumber: mv.LotNumber, expiry: mv.ExpiryDate}
		pl.toTransit = decimal.Min(mv.ToTransit, it.AtFactory)
		pl.toReceive = decimal.Min(mv.ToReceived, it.InTransit.Add(pl.toTransit))
		if pl.lotNumber == "" {
			pl.lotNumber = it.LotNumber
		}
		if pl.expiry == nil {
			pl.expiry = it.ExpiryDate
		}
		if !pl.toTransit.Equal(mv.ToTransit) || !pl.toReceive.Equal(mv.ToReceived) {
			m.log.WithContext(ctx).Warnw("shipment movement capped",
				"shipment", inv.ID,
				"product", it.ProductID,
				"to_transit", pl.toTransit.String(),
				"to_received", pl.toReceive.String(),
			)
		}

		if pl.toReceive.IsPositive() {
			if pl.lotNumber == "" {
				return nil, fmt.Errorf("shipment %s product %s: %w", inv.ID, it.ProductID, core.ErrMissingLotNumber)
			}
			product, err := s.Products().Get(ctx, string(it.ProductID))
			if err != nil {
				return nil, err
			}
			if product.HasLot(pl.lotNumber) {
				return nil, &core.DuplicateLotError{ProductID: it.ProductID, LotNumber: pl.lotNumber, Source: "warehouse"}
			}
			if others == nil {
				others, err = core.Filter(ctx, s.InTransitInvoices(), func(o core.InTransitInvoice) bool {
					return o.IsOpen() && o.ID != inv.ID
				})
				if err != nil {
					return nil, err
				}
			}
			for _, o := range others {
				if lo.ContainsBy(o.Items, func(oi core.InTransitItem) bool {
					return oi.ProductID == it.ProductID && oi.LotNumber == pl.lotNumber
				}) {
					return nil, &core.DuplicateLotError{ProductID: it.ProductID, LotNumber: pl.lotNumber, Source: string(o.ID)}
				}
			}
		}
		out = append(out, pl)
	}
	return out, nil
}

// Archive closes the shipment whatever is left at the factory or on the road.
func (m *Machine) Archive(ctx context.Context, id core.InvoiceID) (core.InTransitInvoice, error) {
	var inv core.InTransitInvoice
	err := m.store.WithTx(ctx, func(s core.Store) error {
		var err error
		inv, err = s.InTransitInvoices().Get(ctx, string(id))
		if err != nil {
			return err
		}
		if inv.IsOpen() {
			now := m.Now()
			inv.Status = core.ShipmentClosed
			inv.ClosedAt = &now
		}
		inv.Archived = true
		return s.InTransitInvoices().Put(ctx, inv)
	})
	if err != nil {
		return core.InTransitInvoice{}, err
	}
	m.log.WithContext(ctx).Infow("shipment archived", "shipment", id)
	return inv, nil
}

// Delete removes a shipment that never received anything.
func (m *Machine) Delete(ctx context.Context, id core.InvoiceID) error {
	err := m.store.WithTx(ctx, func(s core.Store) error {
		inv, err := s.InTransitInvoices().Get(ctx, string(id))
		if err != nil {
			return err
		}
		if len(inv.SubInvoiceIDs) > 0 || lo.SomeBy(inv.Items, func(it core.InTransitItem) bool { return it.Received.IsPositive() }) {
			return fmt.Errorf("shipment %s has received goods: %w", id, core.ErrLockedForDeletion)
		}
		subs, err := core.Filter(ctx, s.PurchaseInvoices(), func(p core.PurchaseInvoice) bool { return p.SourceInTransitID == id })
		if err != nil {
			return err
		}
		if len(subs) > 0 {
			return fmt.Errorf("shipment %s is referenced by %s: %w", id, subs[0].ID, core.ErrLockedForDeletion)
		}
		return s.InTransitInvoices().Delete(ctx, string(id))
	})
	if err != nil {
		return err
	}
	m.log.WithContext(ctx).Infow("shipment deleted", "shipment", id)
	return nil
}

func (m *Machine) Get(ctx context.Context, id core.InvoiceID) (core.InTransitInvoice, error) {
	return m.store.InTransitInvoices().Get(ctx, string(id))
}

// List returns shipments, optionally only the open ones.
func (m *Machine) List(ctx context.Context, openOnly bool) ([]core.InTransitInvoice, error) {
	return core.Filter(ctx, m.store.InTransitInvoices(), func(inv core.InTransitInvoice) bool {
		return !openOnly || inv.IsOpen()
	})
}
