/*
currency.go - CurrencyConverter

PURPOSE:
  Converts amounts between the base currency and auxiliary currencies.
  Each auxiliary currency declares how its exchange rate is quoted:

    multiply: amountInBase = amountInForeign × rate
    divide:   amountInBase = amountInForeign / rate

  Converting base→foreign is the arithmetic inverse.

RULES:
  - from == to returns the amount unchanged; the rate is ignored and not required
  - any other pair needs rate > 0, else ErrInvalidRate
  - exactly one side must be the base currency; ConvertCross handles the rest
  - the base currency is fixed once data exists (guarded by shop.Engine)

LEGACY RATES:
  Older call sites treated a missing rate as 1, which silently corrupts every
  non-base conversion. That path only runs when WithLegacyDefaultRate is set,
  and the hook is called each time so the caller can log it.

SEE ALSO:
  - shop/engine.go: ChangeBaseCurrency guard
  - config/config.go: currency configuration
*/
package core

import (
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

type Method string

const (
	MethodMultiply Method = "multiply"
	MethodDivide   Method = "divide"
)

// CurrencyConfig is one entry of the settings collaborator's currency map.
type CurrencyConfig struct {
	Code   Currency `json:"code" mapstructure:"code" validate:"required"`
	Name   string   `json:"name" mapstructure:"name"`
	Symbol string   `json:"symbol" mapstructure:"symbol"`
	Method Method   `json:"method" mapstructure:"method" validate:"omitempty,oneof=multiply divide"`
}

// Currencies is the read-only currency configuration plus conversion logic.
// It is safe for concurrent use.
type Currencies struct {
	mu      sync.RWMutex
	base    Currency
	configs map[Currency]CurrencyConfig

	legacyDefaultRate bool
	onLegacyRate      func(Currency)
}

type CurrencyOption func(*Currencies)

// WithLegacyDefaultRate makes a zero (omitted) rate mean 1 for non-base
// currencies instead of failing. hook may be nil.
func WithLegacyDefaultRate(hook func(Currency)) CurrencyOption {
	return func(c *Currencies) {
		c.legacyDefaultRate = true
		c.onLegacyRate = hook
	}
}

// NewCurrencies builds the converter. base must appear in configs.
func NewCurrencies(base Currency, configs []CurrencyConfig, opts ...CurrencyOption) (*Currencies, error) {
	c := &Currencies{base: base, configs: make(map[Currency]CurrencyConfig, len(configs))}
	for _, cfg := range configs {
		if cfg.Method == "" {
			cfg.Method = MethodMultiply
		}
		if cfg.Method != MethodMultiply && cfg.Method != MethodDivide {
			return nil, Invalid("currency %s: unknown conversion method %q", cfg.Code, cfg.Method)
		}
		c.configs[cfg.Code] = cfg
	}
	if _, ok := c.configs[base]; !ok {
		return nil, fmt.Errorf("base currency %s: %w", base, ErrUnknownCurrency)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Base returns the base currency.
func (c *Currencies) Base() Currency {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.base
}

// Config returns the configuration for code.
func (c *Currencies) Config(code Currency) (CurrencyConfig, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cfg, ok := c.configs[code]
	return cfg, ok
}

// Codes returns every configured currency, sorted.
func (c *Currencies) Codes() []Currency {
	c.mu.RLock()
	defer c.mu.RUnlock()
	codes := make([]Currency, 0, len(c.configs))
	for code := range c.configs {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes
}

// SetBase swaps the base currency. Callers must check that no data exists.
func (c *Currencies) SetBase(base Currency) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.configs[base]; !ok {
		return fmt.Errorf("base currency %s: %w", base, ErrUnknownCurrency)
	}
	c.base = base
	return nil
}

// =============================================================================
// CONVERSION
// =============================================================================

// Convert converts amount from one currency to another. One side must be base.
func (c *Currencies) Convert(amount decimal.Decimal, from, to Currency, rate decimal.Decimal) (decimal.Decimal, error) {
	if from == to {
		return amount, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch {
	case to == c.base:
		cfg, r, err := c.foreignLocked(from, rate)
		if err != nil {
			return decimal.Zero, err
		}
		if cfg.Method == MethodDivide {
			return amount.Div(r), nil
		}
		return amount.Mul(r), nil
	case from == c.base:
		cfg, r, err := c.foreignLocked(to, rate)
		if err != nil {
			return decimal.Zero, err
		}
		if cfg.Method == MethodDivide {
			return amount.Mul(r), nil
		}
		return amount.Div(r), nil
	default:
		return decimal.Zero, fmt.Errorf("%s to %s: %w", from, to, ErrCrossCurrency)
	}
}

// ToBase converts amount in cur to the base currency.
func (c *Currencies) ToBase(amount decimal.Decimal, cur Currency, rate decimal.Decimal) (decimal.Decimal, error) {
	return c.Convert(amount, cur, c.Base(), rate)
}

// FromBase converts a base amount to cur.
func (c *Currencies) FromBase(amount decimal.Decimal, cur Currency, rate decimal.Decimal) (decimal.Decimal, error) {
	return c.Convert(amount, c.Base(), cur, rate)
}

// ConvertCross converts between any two currencies through the base currency.
func (c *Currencies) ConvertCross(amount decimal.Decimal, from Currency, fromRate decimal.Decimal, to Currency, toRate decimal.Decimal) (decimal.Decimal, error) {
	if from == to {
		return amount, nil
	}
	inBase, err := c.ToBase(amount, from, fromRate)
	if err != nil {
		return decimal.Zero, err
	}
	return c.FromBase(inBase, to, toRate)
}

// NormalizeRate validates the rate an invoice will carry: 1 for the base
// currency, otherwise a positive rate (or 1 on the legacy path).
func (c *Currencies) NormalizeRate(cur Currency, rate decimal.Decimal) (decimal.Decimal, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.configs[cur]; !ok {
		return decimal.Zero, fmt.Errorf("%s: %w", cur, ErrUnknownCurrency)
	}
	if cur == c.base {
		return decimal.NewFromInt(1), nil
	}
	_, r, err := c.foreignLocked(cur, rate)
	return r, err
}

func (c *Currencies) foreignLocked(cur Currency, rate decimal.Decimal) (CurrencyConfig, decimal.Decimal, error) {
	cfg, ok := c.configs[cur]
	if !ok {
		return CurrencyConfig{}, decimal.Zero, fmt.Errorf("%s: %w", cur, ErrUnknownCurrency)
	}
	if rate.IsZero() && c.legacyDefaultRate {
		if c.onLegacyRate != nil {
			c.onLegacyRate(cur)
		}
		return cfg, decimal.NewFromInt(1), nil
	}
	if !rate.IsPositive() {
		return cfg, decimal.Zero, fmt.Errorf("%s rate %v: %w", cur, rate, ErrInvalidRate)
	}
	return cfg, rate, nil
}
