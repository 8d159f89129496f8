/*
dto.go - Request and response bodies that are not engine types

PURPOSE:
  Engine input structs (sales.CheckoutInput, purchases.CreateInput, ...) and
  core records already carry json tags, so handlers decode into and encode
  them directly. This file holds only the wrappers the HTTP surface adds.

NAMING CONVENTION:
  - *Request: request body types from clients
  - *DTO / *Response: response types

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"github.com/shopspring/decimal"
	"github.com/warp/retail-ledger/core"
	"github.com/warp/retail-ledger/purchases"
	"github.com/warp/retail-ledger/sales"
	"github.com/warp/retail-ledger/transit"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

type StatusResponse struct {
	Status string `json:"status"`
}

// =============================================================================
// CURRENCIES
// =============================================================================

type CurrenciesDTO struct {
	Base       core.Currency         `json:"base"`
	Currencies []core.CurrencyConfig `json:"currencies"`
}

type ChangeBaseRequest struct {
	Currency core.Currency `json:"currency"`
}

// =============================================================================
// EDITING
// =============================================================================

// EditingDTO names the invoice currently open for edit, if any.
type EditingDTO struct {
	InvoiceID core.InvoiceID `json:"invoice_id,omitempty"`
}

type SaleEditDTO struct {
	Cart    sales.Cart       `json:"cart"`
	Invoice core.SaleInvoice `json:"invoice"`
}

type PurchaseEditDTO struct {
	Input   purchases.CreateInput `json:"input"`
	Invoice core.PurchaseInvoice  `json:"invoice"`
}

// =============================================================================
// SHIPMENTS
// =============================================================================

type MoveRequest struct {
	Movements map[core.ProductID]transit.Movement `json:"movements"`
}

// =============================================================================
// REPORTS
// =============================================================================

type StockValueDTO struct {
	Currency core.Currency   `json:"currency"`
	Value    decimal.Decimal `json:"value"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

type CurrentScenarioDTO struct {
	ScenarioID string `json:"scenario_id,omitempty"`
}
