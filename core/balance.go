/*
balance.go - BalanceBook: triple-currency counter-party balances

PURPOSE:
  Owns the running balances of customers, suppliers, employees and deposit
  holders. Each party carries one balance per currency plus a base-currency
  aggregate; the aggregate is the source of truth, the per-currency fields
  are display and move in lock-step with it.

INVARIANT:
  Every balance mutation is paired with exactly one Transaction record.

  ApplyDelta appends a new transaction. RevertAndReapply (edit flows) rewrites
  the transaction already tied to the invoice instead of appending, so
  repeated edits don't grow the audit trail without bound.

SIGN CONVENTION:
  Customers:  positive = the customer owes the shop
  Suppliers:  positive = the shop owes the supplier
  Employees:  positive = the shop owes the employee
  Deposits:   positive = the shop holds the holder's money

REVERT THEN REAPPLY:
  An edit subtracts the old delta and then applies the new one as two ordered
  steps, never as a single net delta: the two deltas may be in different
  currencies (or on different parties) and each per-currency field must be
  individually correct.

SEE ALSO:
  - sales/processor.go, purchases/processor.go: edit flows
  - settlement/: payments, deposits and payroll
*/
package core

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Delta is one signed balance movement.
type Delta struct {
	Currency     Currency
	Amount       decimal.Decimal // in Currency
	BaseAmount   decimal.Decimal
	ExchangeRate decimal.Decimal
}

func (d Delta) Neg() Delta {
	d.Amount = d.Amount.Neg()
	d.BaseAmount = d.BaseAmount.Neg()
	return d
}

// Posting is a delta aimed at one party. A posting without PartyID is "none".
type Posting struct {
	Kind    PartyKind
	PartyID PartyID
	Delta   Delta
}

func (p Posting) IsZero() bool { return p.PartyID == "" }

// =============================================================================
// BALANCE BOOK
// =============================================================================

type BalanceBook struct {
	store Store
	Now   func() time.Time
}

func NewBalanceBook(s Store) *BalanceBook {
	return &BalanceBook{store: s, Now: func() time.Time { return time.Now().UTC() }}
}

// Party loads a party of the given kind.
func (b *BalanceBook) Party(ctx context.Context, kind PartyKind, id PartyID) (Party, error) {
	return b.store.Parties(kind).Get(ctx, string(id))
}

// ApplyDelta moves the party's balances and appends tx.
func (b *BalanceBook) ApplyDelta(ctx context.Context, kind PartyKind, id PartyID, delta Delta, tx Transaction) (Transaction, error) {
	if err := b.move(ctx, kind, id, delta); err != nil {
		return Transaction{}, err
	}
	tx = b.fill(tx, kind, id, delta)
	if tx.ID == "" {
		tx.ID = TransactionID(NewID())
	}
	if err := b.store.Transactions(kind).Put(ctx, tx); err != nil {
		return Transaction{}, fmt.Errorf("append %s transaction: %w", kind, err)
	}
	return tx, nil
}

// RevertAndReapply undoes old, applies new, and rewrites the transaction tied
// to tx.InvoiceID. Returns the transaction now recording the new posting, or
// nil when the new posting is empty.
func (b *BalanceBook) RevertAndReapply(ctx context.Context, old, new Posting, tx Transaction) (*Transaction, error) {
	if !old.IsZero() {
		if err := b.move(ctx, old.Kind, old.PartyID, old.Delta.Neg()); err != nil {
			return nil, fmt.Errorf("revert: %w", err)
		}
	}
	if !new.IsZero() {
		if err := b.move(ctx, new.Kind, new.PartyID, new.Delta); err != nil {
			return nil, fmt.Errorf("reapply: %w", err)
		}
	}

	var existing *Transaction
	if !old.IsZero() && tx.InvoiceID != "" {
		found, ok, err := b.TransactionForInvoice(ctx, old.Kind, old.PartyID, tx.InvoiceID)
		if err != nil {
			return nil, err
		}
		if ok {
			existing = &found
		}
	}

	if new.IsZero() {
		if existing != nil {
			if err := b.store.Transactions(old.Kind).Delete(ctx, string(existing.ID)); err != nil {
				return nil, fmt.Errorf("drop %s transaction: %w", old.Kind, err)
			}
		}
		return nil, nil
	}

	rewritten := b.fill(tx, new.Kind, new.PartyID, new.Delta)
	if existing != nil && old.Kind == new.Kind {
		now := b.Now()
		rewritten.ID = existing.ID
		rewritten.CreatedAt = existing.CreatedAt
		rewritten.UpdatedAt = &now
	} else {
		if existing != nil {
			if err := b.store.Transactions(old.Kind).Delete(ctx, string(existing.ID)); err != nil {
				return nil, fmt.Errorf("drop %s transaction: %w", old.Kind, err)
			}
		}
		rewritten.ID = TransactionID(NewID())
	}
	if err := b.store.Transactions(new.Kind).Put(ctx, rewritten); err != nil {
		return nil, fmt.Errorf("write %s transaction: %w", new.Kind, err)
	}
	return &rewritten, nil
}

// Settle zeroes every balance of the party and appends tx carrying the
// negated base balance. Returns the party as it was before settlement.
func (b *BalanceBook) Settle(ctx context.Context, kind PartyKind, id PartyID, tx Transaction) (Party, Transaction, error) {
	parties := b.store.Parties(kind)
	p, err := parties.Get(ctx, string(id))
	if err != nil {
		return Party{}, Transaction{}, err
	}
	before := p.Clone()

	settled := p.Clone()
	for c := range settled.Balances {
		settled.Balances[c] = decimal.Zero
	}
	settled.BaseBalance = decimal.Zero
	if err := parties.Put(ctx, settled); err != nil {
		return Party{}, Transaction{}, fmt.Errorf("save %s %s: %w", kind, id, err)
	}

	delta := Delta{Currency: tx.Currency, Amount: before.BaseBalance.Neg(), BaseAmount: before.BaseBalance.Neg(), ExchangeRate: decimal.NewFromInt(1)}
	tx = b.fill(tx, kind, id, delta)
	if tx.ID == "" {
		tx.ID = TransactionID(NewID())
	}
	if err := b.store.Transactions(kind).Put(ctx, tx); err != nil {
		return Party{}, Transaction{}, fmt.Errorf("append %s transaction: %w", kind, err)
	}
	return before, tx, nil
}

// Transactions returns the party's transactions, oldest first.
func (b *BalanceBook) Transactions(ctx context.Context, kind PartyKind, id PartyID) ([]Transaction, error) {
	txs, err := Filter(ctx, b.store.Transactions(kind), func(t Transaction) bool { return t.PartyID == id })
	if err != nil {
		return nil, err
	}
	sort.SliceStable(txs, func(i, j int) bool { return txs[i].CreatedAt.Before(txs[j].CreatedAt) })
	return txs, nil
}

// TransactionForInvoice finds the transaction a party holds for invoiceID.
func (b *BalanceBook) TransactionForInvoice(ctx context.Context, kind PartyKind, id PartyID, invoiceID InvoiceID) (Transaction, bool, error) {
	txs, err := TransactionsForInvoice(ctx, b.store.Transactions(kind), invoiceID)
	if err != nil {
		return Transaction{}, false, err
	}
	for _, t := range txs {
		if t.PartyID == id {
			return t, true, nil
		}
	}
	return Transaction{}, false, nil
}

// move applies delta to the party's currency field and base aggregate.
func (b *BalanceBook) move(ctx context.Context, kind PartyKind, id PartyID, delta Delta) error {
	parties := b.store.Parties(kind)
	p, err := parties.Get(ctx, string(id))
	if err != nil {
		return err
	}
	if p.Balances == nil {
		p.Balances = make(map[Currency]decimal.Decimal)
	}
	p.Balances[delta.Currency] = p.Balances[delta.Currency].Add(delta.Amount)
	p.BaseBalance = p.BaseBalance.Add(delta.BaseAmount)
	if err := parties.Put(ctx, p); err != nil {
		return fmt.Errorf("save %s %s: %w", kind, id, err)
	}
	return nil
}

func (b *BalanceBook) fill(tx Transaction, kind PartyKind, id PartyID, delta Delta) Transaction {
	tx.Kind = kind
	tx.PartyID = id
	tx.Amount = delta.Amount
	tx.Currency = delta.Currency
	tx.ExchangeRate = delta.ExchangeRate
	tx.BaseAmount = delta.BaseAmount
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = b.Now()
	}
	return tx
}
