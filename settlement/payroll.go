package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/warp/retail-ledger/core"
	"github.com/warp/retail-ledger/logger"
)

type SettleInput struct {
	// EmployeeIDs limits the run; empty settles every employee.
	EmployeeIDs []core.PartyID `json:"employee_ids,omitempty"`
	Description string         `json:"description,omitempty"`
	CreatedBy   string         `json:"created_by,omitempty"`
}

// PayrollRun is what one settlement paid out.
type PayrollRun struct {
	Total        decimal.Decimal    `json:"total"` // base currency
	Expense      *core.Expense      `json:"expense,omitempty"`
	Transactions []core.Transaction `json:"transactions"`
}

// Payroll pays every employee what the shop owes them in one run.
type Payroll struct {
	store core.TxStore
	fx    *core.Currencies
	log   *logger.Logger
	Now   func() time.Time
}

func NewPayroll(store core.TxStore, fx *core.Currencies, log *logger.Logger) *Payroll {
	return &Payroll{
		store: store,
		fx:    fx,
		log:   log.WithComponent("payroll"),
		Now:   func() time.Time { return time.Now().UTC() },
	}
}

// Settle zeroes every selected employee's balances, writes one payroll
// transaction per employee with a non-zero balance, and books the total as
// a single payroll expense in the base currency. Employees already at zero
// are skipped; a run that settles nobody books no expense.
func (p *Payroll) Settle(ctx context.Context, in SettleInput) (PayrollRun, error) {
	base := p.fx.Base()
	run := PayrollRun{Total: decimal.Zero}

	err := p.store.WithTx(ctx, func(s core.Store) error {
		employees, err := p.selected(ctx, s, in.EmployeeIDs)
		if err != nil {
			return err
		}

		book := core.NewBalanceBook(s)
		book.Now = p.Now
		now := p.Now()
		for _, e := range employees {
			if isSettled(e) {
				continue
			}
			before, tx, err := book.Settle(ctx, core.PartyEmployee, e.ID, core.Transaction{
				Type:        core.TxPayroll,
				Currency:    base,
				Description: fmt.Sprintf("Payroll %s", now.Format(time.DateOnly)),
				CreatedBy:   in.CreatedBy,
			})
			if err != nil {
				return err
			}
			run.Total = run.Total.Add(before.BaseBalance)
			run.Transactions = append(run.Transactions, tx)
		}
		if len(run.Transactions) == 0 {
			return nil
		}

		desc := in.Description
		if desc == "" {
			desc = fmt.Sprintf("Payroll for %d employees", len(run.Transactions))
		}
		exp := core.Expense{
			ID:           core.ExpenseID(core.NewID()),
			Category:     core.ExpensePayroll,
			Amount:       run.Total,
			Currency:     base,
			ExchangeRate: decimal.NewFromInt(1),
			BaseAmount:   run.Total,
			Description:  desc,
			Date:         now,
		}
		run.Expense = &exp
		return s.Expenses().Put(ctx, exp)
	})
	if err != nil {
		return PayrollRun{}, err
	}

	p.log.WithContext(ctx).Infow("payroll settled",
		"employees", len(run.Transactions),
		"total", run.Total.String(),
		"currency", base,
	)
	return run, nil
}

func (p *Payroll) selected(ctx context.Context, s core.Store, ids []core.PartyID) ([]core.Party, error) {
	if len(ids) == 0 {
		return s.Parties(core.PartyEmployee).All(ctx)
	}
	out := make([]core.Party, 0, len(ids))
	for _, id := range lo.Uniq(ids) {
		e, err := s.Parties(core.PartyEmployee).Get(ctx, string(id))
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func isSettled(p core.Party) bool {
	return p.BaseBalance.IsZero() && lo.EveryBy(lo.Values(p.Balances), func(v decimal.Decimal) bool { return v.IsZero() })
}
