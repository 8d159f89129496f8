/*
Package shop is the engine facade: one value holding the store, the currency
configuration and every processor, plus the catalog operations that are not
worth a package of their own.

PURPOSE:
  Callers (the HTTP layer, the demo loader, tests) construct one Engine and
  reach every operation through it. The engine owns no business rule beyond
  the catalog and the base-currency guard; everything else is delegated.

BASE CURRENCY:
  The base currency is the unit of every aggregate (net worth, COGS, stock
  value). It may change only while the shop holds no invoice and no
  transaction; afterwards ChangeBaseCurrency fails with
  core.ErrBaseCurrencyLocked.

  The chosen base is recorded in the store. Open compares it with the
  configured one: a fresh store records the configured base, an empty shop
  keeps the recorded base, and a shop with data refuses to open under a
  different base.

SEE ALSO:
  - sales, purchases, transit, settlement: the processors
  - api/handlers.go: HTTP surface over the engine
*/
package shop

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/warp/retail-ledger/core"
	"github.com/warp/retail-ledger/logger"
	"github.com/warp/retail-ledger/purchases"
	"github.com/warp/retail-ledger/sales"
	"github.com/warp/retail-ledger/settlement"
	"github.com/warp/retail-ledger/transit"
	"github.com/warp/retail-ledger/validator"
)

type Engine struct {
	Store core.TxStore
	FX    *core.Currencies

	Sales     *sales.Processor
	Purchases *purchases.Processor
	Transit   *transit.Machine
	Payments  *settlement.Payments
	Payroll   *settlement.Payroll

	log *logger.Logger
	Now func() time.Time
}

func New(store core.TxStore, fx *core.Currencies, log *logger.Logger) *Engine {
	purch := purchases.NewProcessor(store, fx, log)
	return &Engine{
		Store:     store,
		FX:        fx,
		Sales:     sales.NewProcessor(store, fx, log),
		Purchases: purch,
		Transit:   transit.NewMachine(store, fx, purch, log),
		Payments:  settlement.NewPayments(store, fx, log),
		Payroll:   settlement.NewPayroll(store, fx, log),
		log:       log.WithComponent("shop"),
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

// Open builds an Engine and reconciles the configured base currency with the
// one recorded in the store.
func Open(ctx context.Context, store core.TxStore, fx *core.Currencies, log *logger.Logger) (*Engine, error) {
	e := New(store, fx, log)
	if err := e.pinBase(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) pinBase(ctx context.Context) error {
	configured := e.FX.Base()
	return e.Store.WithTx(ctx, func(s core.Store) error {
		stored, err := core.StoredBase(ctx, s)
		if err != nil {
			return err
		}
		if stored == "" {
			return core.SaveBase(ctx, s, configured)
		}
		if stored == configured {
			return nil
		}
		has, err := core.HasData(ctx, s)
		if err != nil {
			return err
		}
		if has {
			return fmt.Errorf("configured base %s, books kept in %s: %w", configured, stored, core.ErrBaseCurrencyLocked)
		}
		if err := e.FX.SetBase(stored); err != nil {
			return err
		}
		e.log.WithContext(ctx).Warnw("configured base currency ignored, shop keeps its recorded base",
			"configured", configured,
			"recorded", stored,
		)
		return nil
	})
}

// SetClock pins every processor to one clock. Used by tests and the demo
// loader to get reproducible timestamps.
func (e *Engine) SetClock(now func() time.Time) {
	e.Now = now
	e.Sales.Now = now
	e.Purchases.Now = now
	e.Transit.Now = now
	e.Payments.Now = now
	e.Payroll.Now = now
}

// =============================================================================
// PRODUCTS
// =============================================================================

type ProductInput struct {
	Name            string          `json:"name" validate:"required"`
	SalePrice       decimal.Decimal `json:"sale_price" validate:"gte=0"`
	ItemsPerPackage *int            `json:"items_per_package,omitempty" validate:"omitempty,gt=0"`
}

// CreateProduct adds a product with no stock. Stock only arrives through
// purchases.
func (e *Engine) CreateProduct(ctx context.Context, in ProductInput) (core.Product, error) {
	if err := validator.Struct(in); err != nil {
		return core.Product{}, err
	}
	p := core.Product{
		ID:              core.ProductID(core.NewID()),
		Name:            in.Name,
		SalePrice:       in.SalePrice,
		ItemsPerPackage: in.ItemsPerPackage,
		CreatedAt:       e.Now(),
	}
	if err := e.Store.Products().Put(ctx, p); err != nil {
		return core.Product{}, err
	}
	e.log.WithContext(ctx).Infow("product created", "product", p.ID, "name", p.Name)
	return p, nil
}

// UpdateProduct changes the catalog fields, never the batches.
func (e *Engine) UpdateProduct(ctx context.Context, id core.ProductID, in ProductInput) (core.Product, error) {
	if err := validator.Struct(in); err != nil {
		return core.Product{}, err
	}
	var p core.Product
	err := e.Store.WithTx(ctx, func(s core.Store) error {
		var err error
		p, err = s.Products().Get(ctx, string(id))
		if err != nil {
			return err
		}
		p.Name = in.Name
		p.SalePrice = in.SalePrice
		p.ItemsPerPackage = in.ItemsPerPackage
		return s.Products().Put(ctx, p)
	})
	if err != nil {
		return core.Product{}, err
	}
	return p, nil
}

func (e *Engine) Product(ctx context.Context, id core.ProductID) (core.Product, error) {
	return e.Store.Products().Get(ctx, string(id))
}

func (e *Engine) Products(ctx context.Context) ([]core.Product, error) {
	return e.Store.Products().All(ctx)
}

// DeleteProduct removes a product and its batches.
func (e *Engine) DeleteProduct(ctx context.Context, id core.ProductID) error {
	err := e.Store.WithTx(ctx, func(s core.Store) error {
		if _, err := s.Products().Get(ctx, string(id)); err != nil {
			return err
		}
		return s.Products().Delete(ctx, string(id))
	})
	if err != nil {
		return err
	}
	e.log.WithContext(ctx).Infow("product deleted", "product", id)
	return nil
}

// StockValue is the cost of everything on the shelves, in base currency.
func (e *Engine) StockValue(ctx context.Context) (decimal.Decimal, error) {
	products, err := e.Store.Products().All(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return lo.Reduce(products, func(sum decimal.Decimal, p core.Product, _ int) decimal.Decimal {
		for _, b := range p.Batches {
			if b.Quantity.IsPositive() {
				sum = sum.Add(b.Quantity.Mul(b.UnitCost))
			}
		}
		return sum
	}, decimal.Zero), nil
}

// =============================================================================
// PARTIES
// =============================================================================

type PartyInput struct {
	Kind  core.PartyKind `json:"kind" validate:"oneof=customer supplier employee deposit_holder"`
	Name  string         `json:"name" validate:"required"`
	Phone string         `json:"phone,omitempty"`
}

func (e *Engine) CreateParty(ctx context.Context, in PartyInput) (core.Party, error) {
	if err := validator.Struct(in); err != nil {
		return core.Party{}, err
	}
	p := core.Party{
		ID:        core.PartyID(core.NewID()),
		Kind:      in.Kind,
		Name:      in.Name,
		Phone:     in.Phone,
		Balances:  map[core.Currency]decimal.Decimal{},
		CreatedAt: e.Now(),
	}
	if err := e.Store.Parties(in.Kind).Put(ctx, p); err != nil {
		return core.Party{}, err
	}
	e.log.WithContext(ctx).Infow("party created", "kind", p.Kind, "party", p.ID, "name", p.Name)
	return p, nil
}

func (e *Engine) Party(ctx context.Context, kind core.PartyKind, id core.PartyID) (core.Party, error) {
	return e.Store.Parties(kind).Get(ctx, string(id))
}

func (e *Engine) Parties(ctx context.Context, kind core.PartyKind) ([]core.Party, error) {
	return e.Store.Parties(kind).All(ctx)
}

// DeleteParty removes a party that has no transaction history.
func (e *Engine) DeleteParty(ctx context.Context, kind core.PartyKind, id core.PartyID) error {
	return e.Store.WithTx(ctx, func(s core.Store) error {
		if _, err := s.Parties(kind).Get(ctx, string(id)); err != nil {
			return err
		}
		txs, err := core.Filter(ctx, s.Transactions(kind), func(t core.Transaction) bool { return t.PartyID == id })
		if err != nil {
			return err
		}
		if len(txs) > 0 {
			return fmt.Errorf("%s %s has %d transactions: %w", kind, id, len(txs), core.ErrLockedForDeletion)
		}
		return s.Parties(kind).Delete(ctx, string(id))
	})
}

// Transactions returns a party's history, oldest first.
func (e *Engine) Transactions(ctx context.Context, kind core.PartyKind, id core.PartyID) ([]core.Transaction, error) {
	if _, err := e.Store.Parties(kind).Get(ctx, string(id)); err != nil {
		return nil, err
	}
	return core.NewBalanceBook(e.Store).Transactions(ctx, kind, id)
}

// Expenses returns expenses, optionally of one category, oldest first.
func (e *Engine) Expenses(ctx context.Context, category core.ExpenseCategory) ([]core.Expense, error) {
	all, err := core.Filter(ctx, e.Store.Expenses(), func(x core.Expense) bool {
		return category == "" || x.Category == category
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Date.Before(all[j].Date) })
	return all, nil
}

// =============================================================================
// CURRENCIES
// =============================================================================

// Currencies returns the configured currencies with the base first.
func (e *Engine) Currencies() []core.CurrencyConfig {
	base := e.FX.Base()
	codes := e.FX.Codes()
	out := make([]core.CurrencyConfig, 0, len(codes))
	if cfg, ok := e.FX.Config(base); ok {
		out = append(out, cfg)
	}
	for _, c := range codes {
		if c == base {
			continue
		}
		cfg, _ := e.FX.Config(c)
		out = append(out, cfg)
	}
	return out
}

// ChangeBaseCurrency switches the base currency while the shop is empty.
func (e *Engine) ChangeBaseCurrency(ctx context.Context, cur core.Currency) error {
	if cur == e.FX.Base() {
		return nil
	}
	if _, ok := e.FX.Config(cur); !ok {
		return fmt.Errorf("base currency %s: %w", cur, core.ErrUnknownCurrency)
	}
	err := e.Store.WithTx(ctx, func(s core.Store) error {
		has, err := core.HasData(ctx, s)
		if err != nil {
			return err
		}
		if has {
			return fmt.Errorf("change base to %s: %w", cur, core.ErrBaseCurrencyLocked)
		}
		return core.SaveBase(ctx, s, cur)
	})
	if err != nil {
		return err
	}
	if err := e.FX.SetBase(cur); err != nil {
		return err
	}
	e.log.WithContext(ctx).Infow("base currency changed", "base", cur)
	return nil
}

// =============================================================================
// REPORTS
// =============================================================================

// ExpiringLot is stock that expires inside a report window.
type ExpiringLot struct {
	ProductID   core.ProductID  `json:"product_id"`
	ProductName string          `json:"product_name"`
	LotNumber   string          `json:"lot_number"`
	Quantity    decimal.Decimal `json:"quantity"`
	ExpiryDate  time.Time       `json:"expiry_date"`
	Expired     bool            `json:"expired"`
}

// ExpiringLots lists in-stock lots whose expiry falls before asOf+within,
// including lots already expired, soonest first.
func (e *Engine) ExpiringLots(ctx context.Context, asOf time.Time, within time.Duration) ([]ExpiringLot, error) {
	products, err := e.Store.Products().All(ctx)
	if err != nil {
		return nil, err
	}
	horizon := asOf.Add(within)
	var out []ExpiringLot
	for _, p := range products {
		for _, b := range p.Batches {
			if b.ExpiryDate == nil || !b.Quantity.IsPositive() || b.ExpiryDate.After(horizon) {
				continue
			}
			out = append(out, ExpiringLot{
				ProductID:   p.ID,
				ProductName: p.Name,
				LotNumber:   b.LotNumber,
				Quantity:    b.Quantity,
				ExpiryDate:  *b.ExpiryDate,
				Expired:     b.ExpiryDate.Before(asOf),
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ExpiryDate.Before(out[j].ExpiryDate) })
	return out, nil
}
