/*
store.go - Persistence collaborator interface

PURPOSE:
  Defines the interface between the engine and whatever holds its records.
  The engine never keeps an ambient global: every operation reads and writes
  indexed collections (map by id) through a Store.

KEY INTERFACES:
  Collection[T]: get/getAll/put/delete for one entity type
  Store:         one Collection per entity type
  TxStore:       Store plus WithTx for atomic multi-collection writes

ATOMIC OPERATIONS:
  Every orchestrator operation (checkout, purchase, return, in-transit move,
  payroll) runs inside exactly one WithTx. Either the invoice, its lot
  mutations and its balance/transaction updates are all written, or none are.
  Readers never observe a half-applied operation.

IMPLEMENTATIONS:
  - core/store/memory.go: In-memory, snapshot + rollback per transaction
  - store/sqlite/sqlite.go: SQLite, one sql.Tx per operation

EXAMPLE:
  err := store.WithTx(ctx, func(s core.Store) error {
      p, err := s.Products().Get(ctx, "prod-1")
      if err != nil {
          return err
      }
      p.Name = "Green tea"
      return s.Products().Put(ctx, p)
  })

SEE ALSO:
  - lots.go: LotLedger reads and writes Products
  - balance.go: BalanceBook reads and writes Parties and Transactions
*/
package core

import "context"

// =============================================================================
// RECORDS AND COLLECTIONS
// =============================================================================

// Record is any entity a Collection can hold. Clone must return a deep copy
// so stores never share slices or maps with callers.
type Record[T any] interface {
	Key() string
	Clone() T
}

// Collection is the per-entity persistence surface.
type Collection[T Record[T]] interface {
	// Get returns the record or a *NotFoundError.
	Get(ctx context.Context, id string) (T, error)

	// All returns every record ordered by key.
	All(ctx context.Context) ([]T, error)

	// Put inserts or replaces the record with the same key.
	Put(ctx context.Context, rec T) error

	// Delete removes the record. Deleting a missing record is a no-op.
	Delete(ctx context.Context, id string) error
}

// =============================================================================
// STORE
// =============================================================================

type Store interface {
	Products() Collection[Product]
	SaleInvoices() Collection[SaleInvoice]
	PurchaseInvoices() Collection[PurchaseInvoice]
	InTransitInvoices() Collection[InTransitInvoice]
	Parties(kind PartyKind) Collection[Party]
	Transactions(kind PartyKind) Collection[Transaction]
	Expenses() Collection[Expense]
	Settings() Collection[Setting]
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through the given Store is rolled back.
	// If fn returns nil, the writes are committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// Resetter is implemented by stores that can wipe all data (demo scenarios).
// Settings survive a reset.
type Resetter interface {
	Reset(ctx context.Context) error
}

// =============================================================================
// QUERY HELPERS
// =============================================================================

// Filter returns the records of c matching keep.
func Filter[T Record[T]](ctx context.Context, c Collection[T], keep func(T) bool) ([]T, error) {
	all, err := c.All(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(all))
	for _, rec := range all {
		if keep(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// InvoiceIndex is implemented by transaction collections that can find an
// invoice's transactions without reading every row.
type InvoiceIndex interface {
	ByInvoice(ctx context.Context, invoiceID InvoiceID) ([]Transaction, error)
}

// TransactionsForInvoice returns the transactions in c recorded for invoiceID.
func TransactionsForInvoice(ctx context.Context, c Collection[Transaction], invoiceID InvoiceID) ([]Transaction, error) {
	if idx, ok := c.(InvoiceIndex); ok {
		return idx.ByInvoice(ctx, invoiceID)
	}
	return Filter(ctx, c, func(t Transaction) bool { return t.InvoiceID == invoiceID })
}

// Keys returns the keys of every record in c.
func Keys[T Record[T]](ctx context.Context, c Collection[T]) ([]string, error) {
	all, err := c.All(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(all))
	for i, rec := range all {
		keys[i] = rec.Key()
	}
	return keys, nil
}

// HasData reports whether any invoice or transaction exists.
func HasData(ctx context.Context, s Store) (bool, error) {
	counts := []func() (int, error){
		func() (int, error) { all, err := s.SaleInvoices().All(ctx); return len(all), err },
		func() (int, error) { all, err := s.PurchaseInvoices().All(ctx); return len(all), err },
		func() (int, error) { all, err := s.InTransitInvoices().All(ctx); return len(all), err },
	}
	for _, kind := range PartyKinds {
		kind := kind
		counts = append(counts, func() (int, error) {
			all, err := s.Transactions(kind).All(ctx)
			return len(all), err
		})
	}
	for _, count := range counts {
		n, err := count()
		if err != nil {
			return false, err
		}
		if n > 0 {
			return true, nil
		}
	}
	return false, nil
}

// FailingCollection returns Err from every call. Stores hand it out for
// collections that cannot exist, such as an unknown party kind.
type FailingCollection[T Record[T]] struct {
	Err error
}

func (f FailingCollection[T]) Get(context.Context, string) (T, error) {
	var zero T
	return zero, f.Err
}

func (f FailingCollection[T]) All(context.Context) ([]T, error) { return nil, f.Err }

func (f FailingCollection[T]) Put(context.Context, T) error { return f.Err }

func (f FailingCollection[T]) Delete(context.Context, string) error { return f.Err }
