package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// COUNTER-PARTIES
// =============================================================================

type PartyKind string

const (
	PartyCustomer      PartyKind = "customer"
	PartySupplier      PartyKind = "supplier"
	PartyEmployee      PartyKind = "employee"
	PartyDepositHolder PartyKind = "deposit_holder"
)

// PartyKinds lists every kind the BalanceBook serves.
var PartyKinds = []PartyKind{PartyCustomer, PartySupplier, PartyEmployee, PartyDepositHolder}

// Valid reports whether k is a known party kind.
func (k PartyKind) Valid() bool {
	for _, known := range PartyKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Party is a customer, supplier, employee or deposit holder.
//
// BaseBalance is the single source of truth for net worth. Balances holds the
// per-currency running totals for display and moves in lock-step with it.
// Customers: positive = the customer owes the shop. Suppliers, employees and
// deposit holders: positive = the shop owes them.
type Party struct {
	ID          PartyID                      `json:"id"`
	Kind        PartyKind                    `json:"kind"`
	Name        string                       `json:"name"`
	Phone       string                       `json:"phone,omitempty"`
	Balances    map[Currency]decimal.Decimal `json:"balances"`
	BaseBalance decimal.Decimal              `json:"base_balance"`
	CreatedAt   time.Time                    `json:"created_at"`
}

func (p Party) Key() string { return string(p.ID) }

func (p Party) Clone() Party {
	balances := make(map[Currency]decimal.Decimal, len(p.Balances))
	for c, v := range p.Balances {
		balances[c] = v
	}
	p.Balances = balances
	return p
}

// Balance returns the per-currency balance, zero when never touched.
func (p Party) Balance(c Currency) decimal.Decimal {
	return p.Balances[c]
}

// =============================================================================
// TRANSACTIONS - Immutable audit trail of balance changes
// =============================================================================

type TransactionType string

const (
	TxSale           TransactionType = "sale"
	TxSaleReturn     TransactionType = "sale_return"
	TxPurchase       TransactionType = "purchase"
	TxPurchaseReturn TransactionType = "purchase_return"
	TxPayment        TransactionType = "payment"
	TxSalary         TransactionType = "salary"
	TxPayroll        TransactionType = "payroll"
	TxDeposit        TransactionType = "deposit"
	TxWithdrawal     TransactionType = "withdrawal"
)

// Transaction pairs exactly one balance mutation. It is never changed after
// creation, except that editing a sale or purchase rewrites the transaction
// tied to that invoice id.
type Transaction struct {
	ID           TransactionID   `json:"id"`
	Kind         PartyKind       `json:"kind"`
	PartyID      PartyID         `json:"party_id"`
	Type         TransactionType `json:"type"`
	Amount       decimal.Decimal `json:"amount"` // signed, in Currency
	Currency     Currency        `json:"currency"`
	ExchangeRate decimal.Decimal `json:"exchange_rate"`
	BaseAmount   decimal.Decimal `json:"base_amount"` // signed, base currency
	Description  string          `json:"description,omitempty"`
	InvoiceID    InvoiceID       `json:"invoice_id,omitempty"`
	CreatedBy    string          `json:"created_by,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    *time.Time      `json:"updated_at,omitempty"`
}

func (t Transaction) Key() string { return string(t.ID) }

func (t Transaction) Clone() Transaction {
	t.UpdatedAt = cloneTimePtr(t.UpdatedAt)
	return t
}

// =============================================================================
// EXPENSES
// =============================================================================

type ExpenseCategory string

const (
	ExpenseLogistics ExpenseCategory = "logistics"
	ExpensePayroll   ExpenseCategory = "payroll"
)

type Expense struct {
	ID           ExpenseID       `json:"id"`
	Category     ExpenseCategory `json:"category"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     Currency        `json:"currency"`
	ExchangeRate decimal.Decimal `json:"exchange_rate"`
	BaseAmount   decimal.Decimal `json:"base_amount"`
	Description  string          `json:"description,omitempty"`
	InvoiceID    InvoiceID       `json:"invoice_id,omitempty"`
	Date         time.Time       `json:"date"`
}

func (e Expense) Key() string { return string(e.ID) }

func (e Expense) Clone() Expense { return e }
