/*
Package settlement moves money between the shop and its counter-parties
outside of invoices: customer payments, supplier payments, deposits,
salary accruals and payroll runs.

SIGN CONVENTIONS (BaseBalance):

	customer        positive = owes the shop     payment received  → −
	supplier        positive = shop owes them    payment made      → −
	employee        positive = shop owes them    salary accrued    → +
	deposit holder  positive = shop holds funds  deposit → +, withdrawal → −

Each call is one BalanceBook delta plus exactly one transaction record,
committed together.

SEE ALSO:
  - core/balance.go: ApplyDelta, Settle
*/
package settlement

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/retail-ledger/core"
	"github.com/warp/retail-ledger/logger"
	"github.com/warp/retail-ledger/validator"
)

type PaymentInput struct {
	PartyID     core.PartyID    `json:"party_id" validate:"required"`
	Amount      decimal.Decimal `json:"amount" validate:"gt=0"`
	Currency    core.Currency   `json:"currency" validate:"required"`
	Rate        decimal.Decimal `json:"rate"`
	Description string          `json:"description,omitempty"`
	CreatedBy   string          `json:"created_by,omitempty"`
}

type Payments struct {
	store core.TxStore
	fx    *core.Currencies
	log   *logger.Logger
	Now   func() time.Time
}

func NewPayments(store core.TxStore, fx *core.Currencies, log *logger.Logger) *Payments {
	return &Payments{
		store: store,
		fx:    fx,
		log:   log.WithComponent("payments"),
		Now:   func() time.Time { return time.Now().UTC() },
	}
}

// ReceiveFromCustomer lowers what the customer owes.
func (p *Payments) ReceiveFromCustomer(ctx context.Context, in PaymentInput) (core.Transaction, error) {
	return p.post(ctx, core.PartyCustomer, core.TxPayment, true, in)
}

// PayToSupplier lowers what the shop owes the supplier.
func (p *Payments) PayToSupplier(ctx context.Context, in PaymentInput) (core.Transaction, error) {
	return p.post(ctx, core.PartySupplier, core.TxPayment, true, in)
}

// PayEmployee pays out part of an employee's accrued salary.
func (p *Payments) PayEmployee(ctx context.Context, in PaymentInput) (core.Transaction, error) {
	return p.post(ctx, core.PartyEmployee, core.TxPayment, true, in)
}

// AccrueSalary records salary the shop now owes the employee.
func (p *Payments) AccrueSalary(ctx context.Context, in PaymentInput) (core.Transaction, error) {
	return p.post(ctx, core.PartyEmployee, core.TxSalary, false, in)
}

func (p *Payments) Deposit(ctx context.Context, in PaymentInput) (core.Transaction, error) {
	return p.post(ctx, core.PartyDepositHolder, core.TxDeposit, false, in)
}

func (p *Payments) Withdraw(ctx context.Context, in PaymentInput) (core.Transaction, error) {
	return p.post(ctx, core.PartyDepositHolder, core.TxWithdrawal, true, in)
}

func (p *Payments) post(ctx context.Context, kind core.PartyKind, typ core.TransactionType, negate bool, in PaymentInput) (core.Transaction, error) {
	if err := validator.Struct(in); err != nil {
		return core.Transaction{}, err
	}
	rate, err := p.fx.NormalizeRate(in.Currency, in.Rate)
	if err != nil {
		return core.Transaction{}, err
	}
	base, err := p.fx.ToBase(in.Amount, in.Currency, rate)
	if err != nil {
		return core.Transaction{}, err
	}
	delta := core.Delta{Currency: in.Currency, Amount: in.Amount, BaseAmount: base, ExchangeRate: rate}
	if negate {
		delta = delta.Neg()
	}

	var tx core.Transaction
	err = p.store.WithTx(ctx, func(s core.Store) error {
		book := core.NewBalanceBook(s)
		book.Now = p.Now
		tx, err = book.ApplyDelta(ctx, kind, in.PartyID, delta, core.Transaction{
			Type:        typ,
			Description: in.Description,
			CreatedBy:   in.CreatedBy,
		})
		return err
	})
	if err != nil {
		return core.Transaction{}, err
	}

	p.log.WithContext(ctx).Infow("balance posted",
		"kind", kind,
		"party", in.PartyID,
		"type", typ,
		"amount", tx.Amount.String(),
		"currency", tx.Currency,
	)
	return tx, nil
}
