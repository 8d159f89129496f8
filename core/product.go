package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// BATCH - A lot of one product acquired together
// =============================================================================

// Batch is a quantity of one product with its own unit cost and optional expiry.
// Quantity never goes below zero except through a purchase edit (see purchases).
type Batch struct {
	ID           BatchID         `json:"id"`
	LotNumber    string          `json:"lot_number"`
	Quantity     decimal.Decimal `json:"quantity"`
	UnitCost     decimal.Decimal `json:"unit_cost"` // base currency
	PurchaseDate time.Time       `json:"purchase_date"`
	ExpiryDate   *time.Time      `json:"expiry_date,omitempty"`
	InvoiceID    InvoiceID       `json:"invoice_id,omitempty"`
}

// fifoKey orders batches expiring-soonest-first, falling back to acquisition date.
func (b Batch) fifoKey() time.Time {
	if b.ExpiryDate != nil {
		return *b.ExpiryDate
	}
	return b.PurchaseDate
}

func (b Batch) clone() Batch {
	b.ExpiryDate = cloneTimePtr(b.ExpiryDate)
	return b
}

// =============================================================================
// PRODUCT
// =============================================================================

type Product struct {
	ID              ProductID       `json:"id"`
	Name            string          `json:"name"`
	ItemsPerPackage *int            `json:"items_per_package,omitempty"`
	SalePrice       decimal.Decimal `json:"sale_price"` // list price, base currency
	Batches         []Batch         `json:"batches"`
	CreatedAt       time.Time       `json:"created_at"`
}

func (p Product) Key() string { return string(p.ID) }

func (p Product) Clone() Product {
	if p.ItemsPerPackage != nil {
		n := *p.ItemsPerPackage
		p.ItemsPerPackage = &n
	}
	batches := make([]Batch, len(p.Batches))
	for i, b := range p.Batches {
		batches[i] = b.clone()
	}
	p.Batches = batches
	return p
}

// Stock is the sum of all batch quantities.
func (p Product) Stock() decimal.Decimal {
	total := decimal.Zero
	for _, b := range p.Batches {
		total = total.Add(b.Quantity)
	}
	return total
}

// BatchIndex returns the position of the batch holding lotNumber.
func (p Product) BatchIndex(lotNumber string) (int, bool) {
	for i, b := range p.Batches {
		if b.LotNumber == lotNumber {
			return i, true
		}
	}
	return -1, false
}

// HasLot reports whether the product already holds a batch with lotNumber.
func (p Product) HasLot(lotNumber string) bool {
	_, ok := p.BatchIndex(lotNumber)
	return ok
}
