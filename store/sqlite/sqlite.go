/*
Package sqlite provides a SQLite-backed implementation of core.TxStore.

PURPOSE:
  Persists every engine collection (products with their batches, invoices,
  parties, transactions, expenses) in SQLite. The same patterns apply to
  PostgreSQL with minor dialect differences.

STORAGE MODEL:
  Each collection is a table of JSON documents keyed by (scope, id).
  Records are aggregates the engine always reads and writes whole (a product
  with all its batches, an invoice with all its lines and deductions), so a
  document per record keeps Put a single upsert.

  scope is the party kind for parties and party_transactions, "" otherwise.

KEY TABLES:
  products:            Product + batches
  sale_invoices:       Sales (F) and sale returns (R)
  purchase_invoices:   Purchases (P) and purchase returns (PR)
  in_transit_invoices: Shipments (IT)
  parties:             Customers, suppliers, employees, deposit holders
  party_transactions:  Balance audit trail
  expenses:            Logistics and payroll expenses
  settings:            Base currency the books are kept in (kept by Reset)

ATOMICITY:
  WithTx runs fn inside one sql.Tx. Every read and write fn makes through the
  given Store goes through that sql.Tx, so an error rolls back the lot
  mutations, invoice and balance updates together.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single connection, which also
  keeps ":memory:" databases shared across calls.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency.

USAGE:
  store, err := sqlite.New("./data/retail.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - core/store.go: Interface definitions
  - core/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/retail-ledger/core"
)

const (
	tableProducts     = "products"
	tableSales        = "sale_invoices"
	tablePurchases    = "purchase_invoices"
	tableInTransit    = "in_transit_invoices"
	tableParties      = "parties"
	tableTransactions = "party_transactions"
	tableExpenses     = "expenses"
	tableSettings     = "settings"
)

// dataTables are the tables Reset clears.
var dataTables = []string{
	tableProducts, tableSales, tablePurchases, tableInTransit,
	tableParties, tableTransactions, tableExpenses,
}

var allTables = append(append([]string{}, dataTables...), tableSettings)

// Store implements core.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	for _, table := range allTables {
		schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			scope TEXT NOT NULL DEFAULT '',
			id TEXT NOT NULL,
			body TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (scope, id)
		);`, table)
		if _, err := s.db.Exec(schema); err != nil {
			return err
		}
	}

	// Edits look up the transaction of an invoice (transactions.ByInvoice).
	_, err := s.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_party_transactions_invoice
			ON party_transactions(scope, json_extract(body, '$.invoice_id'));`)
	return err
}

// =============================================================================
// STORE (core.Store interface)
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// view binds collections to a querier. mu is nil inside WithTx.
type view struct {
	q  querier
	mu *sync.RWMutex
}

func (s *Store) view() view { return view{q: s.db, mu: &s.mu} }

func (s *Store) Products() core.Collection[core.Product] { return s.view().Products() }

func (s *Store) SaleInvoices() core.Collection[core.SaleInvoice] { return s.view().SaleInvoices() }

func (s *Store) PurchaseInvoices() core.Collection[core.PurchaseInvoice] {
	return s.view().PurchaseInvoices()
}

func (s *Store) InTransitInvoices() core.Collection[core.InTransitInvoice] {
	return s.view().InTransitInvoices()
}

func (s *Store) Parties(kind core.PartyKind) core.Collection[core.Party] {
	return s.view().Parties(kind)
}

func (s *Store) Transactions(kind core.PartyKind) core.Collection[core.Transaction] {
	return s.view().Transactions(kind)
}

func (s *Store) Expenses() core.Collection[core.Expense] { return s.view().Expenses() }

func (s *Store) Settings() core.Collection[core.Setting] { return s.view().Settings() }

func (v view) Products() core.Collection[core.Product] {
	return &collection[core.Product]{v: v, table: tableProducts, kind: "product"}
}

func (v view) SaleInvoices() core.Collection[core.SaleInvoice] {
	return &collection[core.SaleInvoice]{v: v, table: tableSales, kind: "sale invoice"}
}

func (v view) PurchaseInvoices() core.Collection[core.PurchaseInvoice] {
	return &collection[core.PurchaseInvoice]{v: v, table: tablePurchases, kind: "purchase invoice"}
}

func (v view) InTransitInvoices() core.Collection[core.InTransitInvoice] {
	return &collection[core.InTransitInvoice]{v: v, table: tableInTransit, kind: "in-transit invoice"}
}

func (v view) Parties(kind core.PartyKind) core.Collection[core.Party] {
	if !kind.Valid() {
		return core.FailingCollection[core.Party]{Err: core.Invalid("unknown party kind %q", kind)}
	}
	return &collection[core.Party]{v: v, table: tableParties, scope: string(kind), kind: string(kind)}
}

func (v view) Transactions(kind core.PartyKind) core.Collection[core.Transaction] {
	if !kind.Valid() {
		return core.FailingCollection[core.Transaction]{Err: core.Invalid("unknown party kind %q", kind)}
	}
	return &transactions{&collection[core.Transaction]{v: v, table: tableTransactions, scope: string(kind), kind: string(kind) + " transaction"}}
}

func (v view) Expenses() core.Collection[core.Expense] {
	return &collection[core.Expense]{v: v, table: tableExpenses, kind: "expense"}
}

func (v view) Settings() core.Collection[core.Setting] {
	return &collection[core.Setting]{v: v, table: tableSettings, kind: "setting"}
}

// collection stores records of one type as JSON documents.
type collection[T core.Record[T]] struct {
	v     view
	table string
	scope string
	kind  string
}

func (c *collection[T]) rlock() func() {
	if c.v.mu == nil {
		return func() {}
	}
	c.v.mu.RLock()
	return c.v.mu.RUnlock
}

func (c *collection[T]) lock() func() {
	if c.v.mu == nil {
		return func() {}
	}
	c.v.mu.Lock()
	return c.v.mu.Unlock
}

func (c *collection[T]) Get(ctx context.Context, id string) (T, error) {
	defer c.rlock()()

	var zero T
	var body string
	query := fmt.Sprintf(`SELECT body FROM %s WHERE scope = ? AND id = ?`, c.table)
	err := c.v.q.QueryRowContext(ctx, query, c.scope, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, &core.NotFoundError{Kind: c.kind, ID: id}
	}
	if err != nil {
		return zero, fmt.Errorf("failed to get %s: %w", c.kind, err)
	}

	var rec T
	if err := json.Unmarshal([]byte(body), &rec); err != nil {
		return zero, fmt.Errorf("failed to decode %s %s: %w", c.kind, id, err)
	}
	return rec, nil
}

func (c *collection[T]) All(ctx context.Context) ([]T, error) {
	return c.list(ctx, "scope = ?", c.scope)
}

// list returns the records matching where, ordered by id.
func (c *collection[T]) list(ctx context.Context, where string, args ...any) ([]T, error) {
	defer c.rlock()()

	query := fmt.Sprintf(`SELECT id, body FROM %s WHERE %s ORDER BY id`, c.table, where)
	rows, err := c.v.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", c.kind, err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		var id, body string
		if err := rows.Scan(&id, &body); err != nil {
			return nil, err
		}
		var rec T
		if err := json.Unmarshal([]byte(body), &rec); err != nil {
			return nil, fmt.Errorf("failed to decode %s %s: %w", c.kind, id, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (c *collection[T]) Put(ctx context.Context, rec T) error {
	if rec.Key() == "" {
		return core.Invalid("%s: empty id", c.kind)
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode %s %s: %w", c.kind, rec.Key(), err)
	}

	defer c.lock()()
	query := fmt.Sprintf(`
		INSERT INTO %s (scope, id, body, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(scope, id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at
	`, c.table)
	_, err = c.v.q.ExecContext(ctx, query, c.scope, rec.Key(), string(body), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to save %s: %w", c.kind, err)
	}
	return nil
}

func (c *collection[T]) Delete(ctx context.Context, id string) error {
	defer c.lock()()
	query := fmt.Sprintf(`DELETE FROM %s WHERE scope = ? AND id = ?`, c.table)
	if _, err := c.v.q.ExecContext(ctx, query, c.scope, id); err != nil {
		return fmt.Errorf("failed to delete %s: %w", c.kind, err)
	}
	return nil
}

// transactions adds the invoice lookup served by idx_party_transactions_invoice.
type transactions struct {
	*collection[core.Transaction]
}

func (t *transactions) ByInvoice(ctx context.Context, invoiceID core.InvoiceID) ([]core.Transaction, error) {
	return t.list(ctx, "scope = ? AND json_extract(body, '$.invoice_id') = ?", t.scope, string(invoiceID))
}

// =============================================================================
// TRANSACTIONAL STORE (core.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store core.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(view{q: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data except settings (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range dataTables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

var (
	_ core.TxStore  = (*Store)(nil)
	_ core.Resetter = (*Store)(nil)

	_ core.InvoiceIndex = (*transactions)(nil)
)
