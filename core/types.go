/*
Package core provides the inventory lot ledger and multi-currency settlement engine.

PURPOSE:
  This package contains the types and algorithms every shop operation is built
  on. Sales, purchases, in-transit receipts and payroll all reduce to the same
  three primitives: consume/restore stock lots, move counter-party balances,
  and convert amounts between the base currency and auxiliary currencies.

KEY CONCEPTS IN THIS FILE (types.go):
  - Currency: ISO-like currency code (AFN, USD, ...)
  - Identifiers: typed ids so product, party and invoice ids cannot be mixed
  - Decimal helpers: amounts and quantities are always decimal.Decimal

DESIGN PRINCIPLES:
  1. Validate first, mutate second: no operation partially commits
  2. Precision: decimal.Decimal for every amount, quantity and rate
  3. Type Safety: typed ids and tagged invoice variants, no loose payloads
  4. Auditability: every balance change is paired with one transaction record

SEE ALSO:
  - currency.go: CurrencyConverter
  - lots.go: LotLedger (FIFO consumption and exact reversal)
  - balance.go: BalanceBook (triple-currency counter-party balances)
  - store.go: Persistence collaborator interface
*/
package core

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ProductID string
type BatchID string
type PartyID string
type InvoiceID string
type TransactionID string
type ExpenseID string

// Currency is a currency code as configured by the settings collaborator.
type Currency string

// NewID returns an opaque, time-ordered unique token.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// =============================================================================
// DECIMAL HELPERS
// =============================================================================

// MustParseDecimal parses s, returning zero for malformed input.
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Dec is shorthand for decimal.NewFromFloat, used mostly by tests and seeds.
func Dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func cloneDecimalPtr(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}

func cloneTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func minDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}
