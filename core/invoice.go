package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// INVOICE KINDS
// =============================================================================

type InvoiceType string

const (
	InvoiceSale      InvoiceType = "sale"
	InvoiceReturn    InvoiceType = "return"
	InvoicePurchase  InvoiceType = "purchase"
	InvoiceInTransit InvoiceType = "in_transit"
)

// Invoice id prefixes, scoped per kind.
const (
	PrefixSale           = "F"
	PrefixSaleReturn     = "R"
	PrefixPurchase       = "P"
	PrefixPurchaseReturn = "PR"
	PrefixInTransit      = "IT"
)

// =============================================================================
// DEDUCTIONS - The record that makes a sale reversible
// =============================================================================

// Deduction is the quantity taken from one batch to fund a sale line.
type Deduction struct {
	BatchID   BatchID         `json:"batch_id"`
	LotNumber string          `json:"lot_number"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
}

type Deductions []Deduction

// Quantity is the total deducted quantity.
func (ds Deductions) Quantity() decimal.Decimal {
	total := decimal.Zero
	for _, d := range ds {
		total = total.Add(d.Quantity)
	}
	return total
}

// Cost is the total base-currency cost of the deducted quantity.
func (ds Deductions) Cost() decimal.Decimal {
	total := decimal.Zero
	for _, d := range ds {
		total = total.Add(d.Quantity.Mul(d.UnitCost))
	}
	return total
}

// AverageCost is the quantity-weighted unit cost, zero for an empty list.
func (ds Deductions) AverageCost() decimal.Decimal {
	qty := ds.Quantity()
	if qty.IsZero() {
		return decimal.Zero
	}
	return ds.Cost().Div(qty)
}

// WithoutTail drops the last qty units, newest-consumed first. Used to skip the
// part of a sale already restored by earlier returns.
func (ds Deductions) WithoutTail(qty decimal.Decimal) Deductions {
	out := make(Deductions, len(ds))
	copy(out, ds)
	remaining := qty
	for i := len(out) - 1; i >= 0 && remaining.IsPositive(); i-- {
		take := minDecimal(out[i].Quantity, remaining)
		out[i].Quantity = out[i].Quantity.Sub(take)
		remaining = remaining.Sub(take)
	}
	kept := out[:0]
	for _, d := range out {
		if d.Quantity.IsPositive() {
			kept = append(kept, d)
		}
	}
	return kept
}

func (ds Deductions) clone() Deductions {
	if ds == nil {
		return nil
	}
	out := make(Deductions, len(ds))
	copy(out, ds)
	return out
}

// =============================================================================
// SALE INVOICE
// =============================================================================

type LineKind string

const (
	LineProduct LineKind = "product"
	LineService LineKind = "service"
)

type SaleInvoiceItem struct {
	ItemID        string           `json:"item_id"`
	Kind          LineKind         `json:"kind"`
	ProductID     ProductID        `json:"product_id,omitempty"`
	Name          string           `json:"name"`
	Quantity      decimal.Decimal  `json:"quantity"`
	ListPrice     decimal.Decimal  `json:"list_price"`
	OverridePrice *decimal.Decimal `json:"override_price,omitempty"`
	UnitPrice     decimal.Decimal  `json:"unit_price"` // display price actually charged
	LineTotal     decimal.Decimal  `json:"line_total"`
	UnitCost      decimal.Decimal  `json:"unit_cost"` // average batch cost, base currency
	Deductions    Deductions       `json:"deductions,omitempty"`
}

type SaleInvoice struct {
	ID                     InvoiceID         `json:"id"`
	Type                   InvoiceType       `json:"type"`
	Timestamp              time.Time         `json:"timestamp"`
	EditedAt               *time.Time        `json:"edited_at,omitempty"`
	Cashier                string            `json:"cashier"`
	CustomerID             PartyID           `json:"customer_id,omitempty"`
	IntermediarySupplierID PartyID           `json:"intermediary_supplier_id,omitempty"`
	Currency               Currency          `json:"currency"`
	ExchangeRate           decimal.Decimal   `json:"exchange_rate"`
	Subtotal               decimal.Decimal   `json:"subtotal"`
	Total                  decimal.Decimal   `json:"total"`
	TotalBase              decimal.Decimal   `json:"total_base"`
	CostOfGoods            decimal.Decimal   `json:"cost_of_goods"`
	Items                  []SaleInvoiceItem `json:"items"`
	OriginalInvoiceID      InvoiceID         `json:"original_invoice_id,omitempty"`
}

func (inv SaleInvoice) Key() string { return string(inv.ID) }

func (inv SaleInvoice) Clone() SaleInvoice {
	inv.EditedAt = cloneTimePtr(inv.EditedAt)
	items := make([]SaleInvoiceItem, len(inv.Items))
	for i, it := range inv.Items {
		it.OverridePrice = cloneDecimalPtr(it.OverridePrice)
		it.Deductions = it.Deductions.clone()
		items[i] = it
	}
	inv.Items = items
	return inv
}

// Item returns the line with itemID.
func (inv SaleInvoice) Item(itemID string) (SaleInvoiceItem, bool) {
	for _, it := range inv.Items {
		if it.ItemID == itemID {
			return it, true
		}
	}
	return SaleInvoiceItem{}, false
}

// =============================================================================
// PURCHASE INVOICE
// =============================================================================

type PurchaseInvoiceItem struct {
	ProductID     ProductID       `json:"product_id"`
	LotNumber     string          `json:"lot_number"`
	Quantity      decimal.Decimal `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`      // invoice currency
	UnitPriceBase decimal.Decimal `json:"unit_price_base"` // converted, before surcharge
	UnitCost      decimal.Decimal `json:"unit_cost"`       // landed cost written to the lot
	ExpiryDate    *time.Time      `json:"expiry_date,omitempty"`
}

type PurchaseInvoice struct {
	ID                InvoiceID             `json:"id"`
	Type              InvoiceType           `json:"type"`
	Timestamp         time.Time             `json:"timestamp"`
	EditedAt          *time.Time            `json:"edited_at,omitempty"`
	SupplierID        PartyID               `json:"supplier_id"`
	Currency          Currency              `json:"currency"`
	ExchangeRate      decimal.Decimal       `json:"exchange_rate"`
	Total             decimal.Decimal       `json:"total"`
	TotalBase         decimal.Decimal       `json:"total_base"`
	AdditionalCost    decimal.Decimal       `json:"additional_cost"`
	CostDescription   string                `json:"cost_description,omitempty"`
	Items             []PurchaseInvoiceItem `json:"items"`
	SourceInTransitID InvoiceID             `json:"source_in_transit_id,omitempty"`
	OriginalInvoiceID InvoiceID             `json:"original_invoice_id,omitempty"`
}

func (inv PurchaseInvoice) Key() string { return string(inv.ID) }

func (inv PurchaseInvoice) Clone() PurchaseInvoice {
	inv.EditedAt = cloneTimePtr(inv.EditedAt)
	items := make([]PurchaseInvoiceItem, len(inv.Items))
	for i, it := range inv.Items {
		it.ExpiryDate = cloneTimePtr(it.ExpiryDate)
		items[i] = it
	}
	inv.Items = items
	return inv
}

// Item returns the line for productID and lotNumber.
func (inv PurchaseInvoice) Item(productID ProductID, lotNumber string) (PurchaseInvoiceItem, bool) {
	for _, it := range inv.Items {
		if it.ProductID == productID && it.LotNumber == lotNumber {
			return it, true
		}
	}
	return PurchaseInvoiceItem{}, false
}

// =============================================================================
// IN-TRANSIT INVOICE (shipment)
// =============================================================================

type ShipmentStatus string

const (
	ShipmentOpen   ShipmentStatus = "open"
	ShipmentClosed ShipmentStatus = "closed"
)

// InTransitItem tracks one ordered product through factory, road and warehouse.
// AtFactory + InTransit + Received == Ordered at all times.
type InTransitItem struct {
	ProductID    ProductID       `json:"product_id"`
	Ordered      decimal.Decimal `json:"ordered"`
	AtFactory    decimal.Decimal `json:"at_factory"`
	InTransit    decimal.Decimal `json:"in_transit"`
	Received     decimal.Decimal `json:"received"`
	UnitPrice    decimal.Decimal `json:"unit_price"` // shipment currency
	LotNumber    string          `json:"lot_number,omitempty"`
	ExpiryDate   *time.Time      `json:"expiry_date,omitempty"`
	ReceivedLots []string        `json:"received_lots,omitempty"`
}

// Conserved reports whether the three stage quantities add up to the order.
func (it InTransitItem) Conserved() bool {
	return it.AtFactory.Add(it.InTransit).Add(it.Received).Equal(it.Ordered)
}

// Undelivered reports whether goods are still at the factory or on the road.
func (it InTransitItem) Undelivered() bool {
	return it.AtFactory.IsPositive() || it.InTransit.IsPositive()
}

type InTransitInvoice struct {
	ID            InvoiceID       `json:"id"`
	Type          InvoiceType     `json:"type"`
	Timestamp     time.Time       `json:"timestamp"`
	SupplierID    PartyID         `json:"supplier_id"`
	Currency      Currency        `json:"currency"`
	ExchangeRate  decimal.Decimal `json:"exchange_rate"`
	Total         decimal.Decimal `json:"total"`
	TotalBase     decimal.Decimal `json:"total_base"`
	Items         []InTransitItem `json:"items"`
	Status        ShipmentStatus  `json:"status"`
	Archived      bool            `json:"archived"`
	ClosedAt      *time.Time      `json:"closed_at,omitempty"`
	SubInvoiceIDs []InvoiceID     `json:"sub_invoice_ids,omitempty"`
	Description   string          `json:"description,omitempty"`
}

func (inv InTransitInvoice) Key() string { return string(inv.ID) }

func (inv InTransitInvoice) Clone() InTransitInvoice {
	inv.ClosedAt = cloneTimePtr(inv.ClosedAt)
	items := make([]InTransitItem, len(inv.Items))
	for i, it := range inv.Items {
		it.ExpiryDate = cloneTimePtr(it.ExpiryDate)
		it.ReceivedLots = append([]string(nil), it.ReceivedLots...)
		items[i] = it
	}
	inv.Items = items
	inv.SubInvoiceIDs = append([]InvoiceID(nil), inv.SubInvoiceIDs...)
	return inv
}

// IsOpen reports whether the shipment still accepts movements.
func (inv InTransitInvoice) IsOpen() bool { return inv.Status == ShipmentOpen }
