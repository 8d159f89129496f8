// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/retail-ledger/core"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type table[T core.Record[T]] map[string]T

type tables struct {
	products     table[core.Product]
	sales        table[core.SaleInvoice]
	purchases    table[core.PurchaseInvoice]
	inTransit    table[core.InTransitInvoice]
	parties      map[core.PartyKind]table[core.Party]
	transactions map[core.PartyKind]table[core.Transaction]
	expenses     table[core.Expense]
	settings     table[core.Setting]
}

func newTables() *tables {
	t := &tables{
		products:     make(table[core.Product]),
		sales:        make(table[core.SaleInvoice]),
		purchases:    make(table[core.PurchaseInvoice]),
		inTransit:    make(table[core.InTransitInvoice]),
		parties:      make(map[core.PartyKind]table[core.Party]),
		transactions: make(map[core.PartyKind]table[core.Transaction]),
		expenses:     make(table[core.Expense]),
		settings:     make(table[core.Setting]),
	}
	for _, kind := range core.PartyKinds {
		t.parties[kind] = make(table[core.Party])
		t.transactions[kind] = make(table[core.Transaction])
	}
	return t
}

// snapshot copies every map. Rows are stored as private clones and replaced
// on Put, never mutated in place, so copying the maps is enough.
func (t *tables) snapshot() *tables {
	s := &tables{
		products:     copyTable(t.products),
		sales:        copyTable(t.sales),
		purchases:    copyTable(t.purchases),
		inTransit:    copyTable(t.inTransit),
		parties:      make(map[core.PartyKind]table[core.Party], len(t.parties)),
		transactions: make(map[core.PartyKind]table[core.Transaction], len(t.transactions)),
		expenses:     copyTable(t.expenses),
		settings:     copyTable(t.settings),
	}
	for k, v := range t.parties {
		s.parties[k] = copyTable(v)
	}
	for k, v := range t.transactions {
		s.transactions[k] = copyTable(v)
	}
	return s
}

func copyTable[T core.Record[T]](src table[T]) table[T] {
	dst := make(table[T], len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// Memory is a TxStore backed by maps. Safe for concurrent use.
type Memory struct {
	view
	mu   sync.RWMutex
	data *tables
}

func NewMemory() *Memory {
	m := &Memory{data: newTables()}
	m.view = view{m: m, mu: &m.mu}
	return m
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// The write lock is held for the whole of fn, so transactions are serialized.
func (m *Memory) WithTx(_ context.Context, fn func(core.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.data.snapshot()
	if err := fn(view{m: m}); err != nil {
		m.data = snapshot
		return err
	}
	return nil
}

// Reset drops every record except settings.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	settings := m.data.settings
	m.data = newTables()
	m.data.settings = settings
	return nil
}

// =============================================================================
// VIEWS AND COLLECTIONS
// =============================================================================

// view resolves collections against the live tables. mu is nil inside WithTx,
// where the write lock is already held.
type view struct {
	m  *Memory
	mu *sync.RWMutex
}

func (v view) Products() core.Collection[core.Product] {
	return &collection[core.Product]{kind: "product", mu: v.mu, rows: func() table[core.Product] { return v.m.data.products }}
}

func (v view) SaleInvoices() core.Collection[core.SaleInvoice] {
	return &collection[core.SaleInvoice]{kind: "sale invoice", mu: v.mu, rows: func() table[core.SaleInvoice] { return v.m.data.sales }}
}

func (v view) PurchaseInvoices() core.Collection[core.PurchaseInvoice] {
	return &collection[core.PurchaseInvoice]{kind: "purchase invoice", mu: v.mu, rows: func() table[core.PurchaseInvoice] { return v.m.data.purchases }}
}

func (v view) InTransitInvoices() core.Collection[core.InTransitInvoice] {
	return &collection[core.InTransitInvoice]{kind: "in-transit invoice", mu: v.mu, rows: func() table[core.InTransitInvoice] { return v.m.data.inTransit }}
}

func (v view) Parties(kind core.PartyKind) core.Collection[core.Party] {
	if !kind.Valid() {
		return core.FailingCollection[core.Party]{Err: core.Invalid("unknown party kind %q", kind)}
	}
	return &collection[core.Party]{kind: string(kind), mu: v.mu, rows: func() table[core.Party] { return v.m.data.parties[kind] }}
}

func (v view) Transactions(kind core.PartyKind) core.Collection[core.Transaction] {
	if !kind.Valid() {
		return core.FailingCollection[core.Transaction]{Err: core.Invalid("unknown party kind %q", kind)}
	}
	return &collection[core.Transaction]{kind: string(kind) + " transaction", mu: v.mu, rows: func() table[core.Transaction] { return v.m.data.transactions[kind] }}
}

func (v view) Expenses() core.Collection[core.Expense] {
	return &collection[core.Expense]{kind: "expense", mu: v.mu, rows: func() table[core.Expense] { return v.m.data.expenses }}
}

func (v view) Settings() core.Collection[core.Setting] {
	return &collection[core.Setting]{kind: "setting", mu: v.mu, rows: func() table[core.Setting] { return v.m.data.settings }}
}

type collection[T core.Record[T]] struct {
	kind string
	mu   *sync.RWMutex
	rows func() table[T]
}

func (c *collection[T]) rlock() func() {
	if c.mu == nil {
		return func() {}
	}
	c.mu.RLock()
	return c.mu.RUnlock
}

func (c *collection[T]) lock() func() {
	if c.mu == nil {
		return func() {}
	}
	c.mu.Lock()
	return c.mu.Unlock
}

func (c *collection[T]) Get(_ context.Context, id string) (T, error) {
	defer c.rlock()()
	rec, ok := c.rows()[id]
	if !ok {
		var zero T
		return zero, &core.NotFoundError{Kind: c.kind, ID: id}
	}
	return rec.Clone(), nil
}

func (c *collection[T]) All(_ context.Context) ([]T, error) {
	defer c.rlock()()
	rows := c.rows()
	keys := make([]string, 0, len(rows))
	for k := range rows {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]T, len(keys))
	for i, k := range keys {
		out[i] = rows[k].Clone()
	}
	return out, nil
}

func (c *collection[T]) Put(_ context.Context, rec T) error {
	if rec.Key() == "" {
		return core.Invalid("%s: empty id", c.kind)
	}
	defer c.lock()()
	c.rows()[rec.Key()] = rec.Clone()
	return nil
}

func (c *collection[T]) Delete(_ context.Context, id string) error {
	defer c.lock()()
	delete(c.rows(), id)
	return nil
}

var (
	_ core.TxStore  = (*Memory)(nil)
	_ core.Resetter = (*Memory)(nil)
)
