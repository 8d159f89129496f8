/*
errors.go - Centralized error types for the engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Every failure in the taxonomy is a local validation failure surfaced before
  any mutation is attempted. Orchestrator packages wrap these with context.

ERROR CATEGORIES:
  1. Stock errors - insufficient stock, lot lookups, lot uniqueness
  2. Money errors - invalid or missing exchange rates, unknown currencies
  3. Workflow errors - empty cart, edit conflicts, locked documents
  4. Store errors - missing records

USAGE:
  if errors.Is(err, core.ErrInsufficientStock) {
      var se *core.InsufficientStockError
      errors.As(err, &se) // se.Available, se.Requested
  }

SEE ALSO:
  - lots.go: returns stock errors
  - currency.go: returns money errors
  - api/handlers.go: maps errors to HTTP status codes
*/
package core

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInsufficientStock is returned when the batches of a product cannot
	// cover the requested quantity, or a named lot holds less than requested.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrInvalidRate is returned when a non-base conversion has no positive rate.
	ErrInvalidRate = errors.New("invalid exchange rate")

	// ErrDuplicateLot is returned when a lot number that must be new already exists.
	ErrDuplicateLot = errors.New("duplicate lot number")

	// ErrMissingLotNumber is returned when received goods carry no lot number.
	ErrMissingLotNumber = errors.New("missing lot number")

	// ErrExcessiveReturnQuantity is returned when a return exceeds what was sold
	// or purchased on the original line, minus earlier returns.
	ErrExcessiveReturnQuantity = errors.New("return quantity exceeds original quantity")

	// ErrLotNotFound is returned when a named lot or batch does not exist where expected.
	ErrLotNotFound = errors.New("lot not found")

	// ErrEmptyCart is returned when a checkout has no lines.
	ErrEmptyCart = errors.New("cart is empty")

	// ErrLockedForDeletion is returned when a document has downstream effects.
	ErrLockedForDeletion = errors.New("locked for deletion")

	// ErrConcurrentEditConflict is returned when an edit of the same invoice kind is already open.
	ErrConcurrentEditConflict = errors.New("another invoice is already being edited")

	// ErrNotFound is returned when a referenced record doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation is returned when an input struct fails validation.
	ErrValidation = errors.New("validation failed")

	// ErrUnknownCurrency is returned for a currency missing from the configuration.
	ErrUnknownCurrency = errors.New("unknown currency")

	// ErrCrossCurrency is returned when Convert is asked to convert between two
	// non-base currencies with a single rate.
	ErrCrossCurrency = errors.New("conversion between two non-base currencies needs both rates")

	// ErrBaseCurrencyLocked is returned when changing the base currency after data exists.
	ErrBaseCurrencyLocked = errors.New("base currency cannot change once invoices or transactions exist")

	// ErrInvalidInvoice is returned when an operation does not apply to the invoice kind or origin.
	ErrInvalidInvoice = errors.New("operation not valid for this invoice")

	// ErrReturnedInvoice is returned when editing an invoice that already has returns.
	ErrReturnedInvoice = errors.New("invoice has returns and cannot be edited")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientStockError provides details about a stock shortage.
type InsufficientStockError struct {
	ProductID ProductID
	LotNumber string // empty when the shortage is across all batches
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	if e.LotNumber != "" {
		return fmt.Sprintf("insufficient stock: product %s lot %s has %v, requested %v",
			e.ProductID, e.LotNumber, e.Available, e.Requested)
	}
	return fmt.Sprintf("insufficient stock: product %s has %v, requested %v",
		e.ProductID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// DuplicateLotError names the product and lot that already exist.
type DuplicateLotError struct {
	ProductID ProductID
	LotNumber string
	Source    string // "warehouse" or the id of the shipment holding it
}

func (e *DuplicateLotError) Error() string {
	return fmt.Sprintf("duplicate lot number %q for product %s (exists in %s)", e.LotNumber, e.ProductID, e.Source)
}

func (e *DuplicateLotError) Unwrap() error { return ErrDuplicateLot }

// ExcessiveReturnError provides the limits a return ran into.
type ExcessiveReturnError struct {
	InvoiceID InvoiceID
	Line      string
	Requested decimal.Decimal
	Allowed   decimal.Decimal
}

func (e *ExcessiveReturnError) Error() string {
	return fmt.Sprintf("return of %v on %s line %s exceeds returnable %v", e.Requested, e.InvoiceID, e.Line, e.Allowed)
}

func (e *ExcessiveReturnError) Unwrap() error { return ErrExcessiveReturnQuantity }

// NotFoundError identifies a missing record.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %q not found", e.Kind, e.ID) }

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ValidationError carries per-field messages.
type ValidationError struct {
	Message string
	Fields  map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s %v", e.Message, e.Fields)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid builds a ValidationError without field details.
func Invalid(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidRate) ||
		errors.Is(err, ErrMissingLotNumber) ||
		errors.Is(err, ErrEmptyCart) ||
		errors.Is(err, ErrUnknownCurrency) ||
		errors.Is(err, ErrCrossCurrency)
}

// IsConflict returns true if the request conflicts with current state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConcurrentEditConflict) ||
		errors.Is(err, ErrDuplicateLot) ||
		errors.Is(err, ErrLockedForDeletion) ||
		errors.Is(err, ErrBaseCurrencyLocked)
}

// IsBusinessRule returns true for violations of stock and document rules.
func IsBusinessRule(err error) bool {
	return errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrExcessiveReturnQuantity) ||
		errors.Is(err, ErrLotNotFound) ||
		errors.Is(err, ErrInvalidInvoice) ||
		errors.Is(err, ErrReturnedInvoice)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
