/*
handlers.go - HTTP API handlers for the retail ledger

PURPOSE:
  Exposes the shop engine via REST. Handlers decode JSON, call exactly one
  engine operation, and encode the result. No business rule lives here.

ENDPOINTS:
  Currencies:
    GET    /api/currencies                     Base + configured currencies
    PUT    /api/currencies/base                Change base (empty shop only)

  Catalog:
    GET    /api/products                       List products with batches
    POST   /api/products                       Create product
    GET    /api/products/{id}                  Get product
    PUT    /api/products/{id}                  Update name / price
    DELETE /api/products/{id}                  Delete product
    GET    /api/parties/{kind}                 List customers, suppliers, ...
    POST   /api/parties/{kind}                 Create party
    GET    /api/parties/{kind}/{id}            Get party
    DELETE /api/parties/{kind}/{id}            Delete party without history
    GET    /api/parties/{kind}/{id}/transactions

  Sales:
    GET    /api/sales                          List sale invoices
    POST   /api/sales                          Checkout (completes an open edit)
    GET    /api/sales/edit                     Invoice currently being edited
    DELETE /api/sales/edit                     Cancel the open edit
    GET    /api/sales/{id}                     Get invoice
    POST   /api/sales/{id}/edit                Begin editing
    GET    /api/sales/{id}/returns             Returns against an invoice
    POST   /api/sales/{id}/returns             Add a return

  Purchases:
    GET    /api/purchases                      List purchase invoices
    POST   /api/purchases                      Create
    GET    /api/purchases/edit                 Invoice currently being edited
    DELETE /api/purchases/edit                 Cancel the open edit
    GET    /api/purchases/{id}                 Get invoice
    PUT    /api/purchases/{id}                 Update
    POST   /api/purchases/{id}/edit            Begin editing
    GET    /api/purchases/{id}/returns
    POST   /api/purchases/{id}/returns

  Shipments:
    GET    /api/shipments?open=true            List in-transit invoices
    POST   /api/shipments                      Create
    GET    /api/shipments/{id}
    DELETE /api/shipments/{id}
    POST   /api/shipments/{id}/move            Move goods between stages
    POST   /api/shipments/{id}/archive         Close with remainder cancelled

  Money:
    POST   /api/payments/{action}              customer-receipt, supplier-payment,
                                               employee-payment, salary, deposit,
                                               withdrawal
    POST   /api/payroll/settle                 Pay every employee
    GET    /api/expenses?category=             List expenses

  Reports:
    GET    /api/reports/stock-value
    GET    /api/reports/expiring?days=30

ERROR HANDLING:
  Errors are returned as JSON with the status their class implies:
  - 400: validation, rates, missing lot numbers, empty cart
  - 404: record not found
  - 409: edit conflict, duplicate lot, locked for deletion, base locked
  - 422: insufficient stock, excessive return, invalid invoice state
  - 500: anything else

SEE ALSO:
  - dto.go: Request/response wrappers
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/warp/retail-ledger/core"
	"github.com/warp/retail-ledger/logger"
	"github.com/warp/retail-ledger/purchases"
	"github.com/warp/retail-ledger/sales"
	"github.com/warp/retail-ledger/settlement"
	"github.com/warp/retail-ledger/shop"
	"github.com/warp/retail-ledger/transit"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *shop.Engine
	Expiry *ExpiryScheduler

	log *logger.Logger

	mu              sync.Mutex
	currentScenario string
}

func NewHandler(engine *shop.Engine, log *logger.Logger) *Handler {
	return &Handler{
		Engine: engine,
		Expiry: NewExpiryScheduler(engine, log),
		log:    log.WithComponent("api"),
	}
}

// =============================================================================
// CURRENCIES
// =============================================================================

func (h *Handler) ListCurrencies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, CurrenciesDTO{Base: h.Engine.FX.Base(), Currencies: h.Engine.Currencies()})
}

func (h *Handler) ChangeBaseCurrency(w http.ResponseWriter, r *http.Request) {
	var req ChangeBaseRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.Engine.ChangeBaseCurrency(r.Context(), req.Currency); err != nil {
		h.fail(w, r, "Failed to change base currency", err)
		return
	}
	h.ListCurrencies(w, r)
}

// =============================================================================
// PRODUCTS
// =============================================================================

func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.Engine.Products(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to list products", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(products))
}

func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req shop.ProductInput
	if !decode(w, r, &req) {
		return
	}
	p, err := h.Engine.CreateProduct(r.Context(), req)
	if err != nil {
		h.fail(w, r, "Failed to create product", err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.Engine.Product(r.Context(), core.ProductID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, "Failed to get product", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	var req shop.ProductInput
	if !decode(w, r, &req) {
		return
	}
	p, err := h.Engine.UpdateProduct(r.Context(), core.ProductID(chi.URLParam(r, "id")), req)
	if err != nil {
		h.fail(w, r, "Failed to update product", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.DeleteProduct(r.Context(), core.ProductID(chi.URLParam(r, "id"))); err != nil {
		h.fail(w, r, "Failed to delete product", err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: "deleted"})
}

// =============================================================================
// PARTIES
// =============================================================================

func partyKind(r *http.Request) core.PartyKind {
	return core.PartyKind(chi.URLParam(r, "kind"))
}

func (h *Handler) ListParties(w http.ResponseWriter, r *http.Request) {
	parties, err := h.Engine.Parties(r.Context(), partyKind(r))
	if err != nil {
		h.fail(w, r, "Failed to list parties", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(parties))
}

func (h *Handler) CreateParty(w http.ResponseWriter, r *http.Request) {
	var req shop.PartyInput
	if !decode(w, r, &req) {
		return
	}
	req.Kind = partyKind(r)
	p, err := h.Engine.CreateParty(r.Context(), req)
	if err != nil {
		h.fail(w, r, "Failed to create party", err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *Handler) GetParty(w http.ResponseWriter, r *http.Request) {
	p, err := h.Engine.Party(r.Context(), partyKind(r), core.PartyID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, "Failed to get party", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) DeleteParty(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.DeleteParty(r.Context(), partyKind(r), core.PartyID(chi.URLParam(r, "id"))); err != nil {
		h.fail(w, r, "Failed to delete party", err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: "deleted"})
}

func (h *Handler) PartyTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.Engine.Transactions(r.Context(), partyKind(r), core.PartyID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, "Failed to get transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(txs))
}

// =============================================================================
// SALES
// =============================================================================

func (h *Handler) ListSales(w http.ResponseWriter, r *http.Request) {
	invs, err := h.Engine.Sales.List(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to list sales", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(invs))
}

func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req sales.CheckoutInput
	if !decode(w, r, &req) {
		return
	}
	inv, err := h.Engine.Sales.Complete(r.Context(), req)
	if err != nil {
		h.fail(w, r, "Failed to complete sale", err)
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}

func (h *Handler) GetSale(w http.ResponseWriter, r *http.Request) {
	inv, err := h.Engine.Sales.Invoice(r.Context(), core.InvoiceID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, "Failed to get sale", err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (h *Handler) SaleEditing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, EditingDTO{InvoiceID: h.Engine.Sales.Editing()})
}

func (h *Handler) BeginSaleEdit(w http.ResponseWriter, r *http.Request) {
	cart, inv, err := h.Engine.Sales.BeginEdit(r.Context(), core.InvoiceID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, "Failed to begin edit", err)
		return
	}
	writeJSON(w, http.StatusOK, SaleEditDTO{Cart: cart, Invoice: inv})
}

func (h *Handler) CancelSaleEdit(w http.ResponseWriter, r *http.Request) {
	h.Engine.Sales.CancelEdit(r.Context())
	writeJSON(w, http.StatusOK, StatusResponse{Status: "cancelled"})
}

func (h *Handler) SaleReturns(w http.ResponseWriter, r *http.Request) {
	invs, err := h.Engine.Sales.Returns(r.Context(), core.InvoiceID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, "Failed to list returns", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(invs))
}

func (h *Handler) AddSaleReturn(w http.ResponseWriter, r *http.Request) {
	var req sales.ReturnInput
	if !decode(w, r, &req) {
		return
	}
	req.OriginalInvoiceID = core.InvoiceID(chi.URLParam(r, "id"))
	inv, err := h.Engine.Sales.AddReturn(r.Context(), req)
	if err != nil {
		h.fail(w, r, "Failed to add return", err)
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}

// =============================================================================
// PURCHASES
// =============================================================================

func (h *Handler) ListPurchases(w http.ResponseWriter, r *http.Request) {
	invs, err := h.Engine.Purchases.List(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to list purchases", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(invs))
}

func (h *Handler) CreatePurchase(w http.ResponseWriter, r *http.Request) {
	var req purchases.CreateInput
	if !decode(w, r, &req) {
		return
	}
	inv, err := h.Engine.Purchases.Create(r.Context(), req)
	if err != nil {
		h.fail(w, r, "Failed to create purchase", err)
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}

func (h *Handler) GetPurchase(w http.ResponseWriter, r *http.Request) {
	inv, err := h.Engine.Purchases.Invoice(r.Context(), core.InvoiceID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, "Failed to get purchase", err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (h *Handler) UpdatePurchase(w http.ResponseWriter, r *http.Request) {
	var req purchases.CreateInput
	if !decode(w, r, &req) {
		return
	}
	inv, err := h.Engine.Purchases.Update(r.Context(), core.InvoiceID(chi.URLParam(r, "id")), req)
	if err != nil {
		h.fail(w, r, "Failed to update purchase", err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (h *Handler) PurchaseEditing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, EditingDTO{InvoiceID: h.Engine.Purchases.Editing()})
}

func (h *Handler) BeginPurchaseEdit(w http.ResponseWriter, r *http.Request) {
	in, inv, err := h.Engine.Purchases.BeginEdit(r.Context(), core.InvoiceID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, "Failed to begin edit", err)
		return
	}
	writeJSON(w, http.StatusOK, PurchaseEditDTO{Input: in, Invoice: inv})
}

func (h *Handler) CancelPurchaseEdit(w http.ResponseWriter, r *http.Request) {
	h.Engine.Purchases.CancelEdit(r.Context())
	writeJSON(w, http.StatusOK, StatusResponse{Status: "cancelled"})
}

func (h *Handler) PurchaseReturns(w http.ResponseWriter, r *http.Request) {
	invs, err := h.Engine.Purchases.Returns(r.Context(), core.InvoiceID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, "Failed to list returns", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(invs))
}

func (h *Handler) AddPurchaseReturn(w http.ResponseWriter, r *http.Request) {
	var req purchases.ReturnInput
	if !decode(w, r, &req) {
		return
	}
	req.OriginalInvoiceID = core.InvoiceID(chi.URLParam(r, "id"))
	inv, err := h.Engine.Purchases.AddReturn(r.Context(), req)
	if err != nil {
		h.fail(w, r, "Failed to add return", err)
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}

// =============================================================================
// SHIPMENTS
// =============================================================================

func (h *Handler) ListShipments(w http.ResponseWriter, r *http.Request) {
	invs, err := h.Engine.Transit.List(r.Context(), r.URL.Query().Get("open") == "true")
	if err != nil {
		h.fail(w, r, "Failed to list shipments", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(invs))
}

func (h *Handler) CreateShipment(w http.ResponseWriter, r *http.Request) {
	var req transit.CreateInput
	if !decode(w, r, &req) {
		return
	}
	inv, err := h.Engine.Transit.Create(r.Context(), req)
	if err != nil {
		h.fail(w, r, "Failed to create shipment", err)
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}

func (h *Handler) GetShipment(w http.ResponseWriter, r *http.Request) {
	inv, err := h.Engine.Transit.Get(r.Context(), core.InvoiceID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, "Failed to get shipment", err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (h *Handler) MoveShipment(w http.ResponseWriter, r *http.Request) {
	var req MoveRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.Engine.Transit.Move(r.Context(), core.InvoiceID(chi.URLParam(r, "id")), req.Movements)
	if err != nil {
		h.fail(w, r, "Failed to move shipment", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) ArchiveShipment(w http.ResponseWriter, r *http.Request) {
	inv, err := h.Engine.Transit.Archive(r.Context(), core.InvoiceID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, "Failed to archive shipment", err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (h *Handler) DeleteShipment(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.Transit.Delete(r.Context(), core.InvoiceID(chi.URLParam(r, "id"))); err != nil {
		h.fail(w, r, "Failed to delete shipment", err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: "deleted"})
}

// =============================================================================
// MONEY
// =============================================================================

type paymentFunc func(context.Context, settlement.PaymentInput) (core.Transaction, error)

func (h *Handler) paymentActions() map[string]paymentFunc {
	p := h.Engine.Payments
	return map[string]paymentFunc{
		"customer-receipt": p.ReceiveFromCustomer,
		"supplier-payment": p.PayToSupplier,
		"employee-payment": p.PayEmployee,
		"salary":           p.AccrueSalary,
		"deposit":          p.Deposit,
		"withdrawal":       p.Withdraw,
	}
}

func (h *Handler) PostPayment(w http.ResponseWriter, r *http.Request) {
	action := chi.URLParam(r, "action")
	post, ok := h.paymentActions()[action]
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown payment action", errors.New(action))
		return
	}
	var req settlement.PaymentInput
	if !decode(w, r, &req) {
		return
	}
	tx, err := post(r.Context(), req)
	if err != nil {
		h.fail(w, r, "Failed to post payment", err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

func (h *Handler) SettlePayroll(w http.ResponseWriter, r *http.Request) {
	var req settlement.SettleInput
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	run, err := h.Engine.Payroll.Settle(r.Context(), req)
	if err != nil {
		h.fail(w, r, "Failed to settle payroll", err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *Handler) ListExpenses(w http.ResponseWriter, r *http.Request) {
	xs, err := h.Engine.Expenses(r.Context(), core.ExpenseCategory(r.URL.Query().Get("category")))
	if err != nil {
		h.fail(w, r, "Failed to list expenses", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(xs))
}

// =============================================================================
// REPORTS
// =============================================================================

func (h *Handler) StockValue(w http.ResponseWriter, r *http.Request) {
	v, err := h.Engine.StockValue(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to value stock", err)
		return
	}
	writeJSON(w, http.StatusOK, StockValueDTO{Currency: h.Engine.FX.Base(), Value: v})
}

// ExpiringLots scans now when ?days is given, otherwise serves the last
// scheduled scan (scanning once if none ran yet).
func (h *Handler) ExpiringLots(w http.ResponseWriter, r *http.Request) {
	if days := r.URL.Query().Get("days"); days != "" {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid days", err)
			return
		}
		now := h.Engine.Now()
		lots, err := h.Engine.ExpiringLots(r.Context(), now, time.Duration(n)*24*time.Hour)
		if err != nil {
			h.fail(w, r, "Failed to scan expiry", err)
			return
		}
		writeJSON(w, http.StatusOK, ExpiryScan{RanAt: now, Window: time.Duration(n) * 24 * time.Hour, Lots: nonNil(lots)})
		return
	}

	scan := h.Expiry.Latest()
	if scan == nil {
		var err error
		if scan, err = h.Expiry.Scan(r.Context()); err != nil {
			h.fail(w, r, "Failed to scan expiry", err)
			return
		}
	}
	out := *scan
	out.Lots = nonNil(out.Lots)
	writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// HELPERS
// =============================================================================

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	var verr *core.ValidationError
	if errors.As(err, &verr) {
		resp.Fields = verr.Fields
	}
	writeJSON(w, status, resp)
}

// fail maps an engine error to its status and logs server-side failures.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.WithContext(r.Context()).Errorw(message, "error", err)
	}
	writeError(w, status, message, err)
}

func statusFor(err error) int {
	switch {
	case core.IsNotFound(err):
		return http.StatusNotFound
	case core.IsConflict(err):
		return http.StatusConflict
	case core.IsBusinessRule(err):
		return http.StatusUnprocessableEntity
	case core.IsClientError(err):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// nonNil makes empty lists encode as [] rather than null.
func nonNil[T any](xs []T) []T {
	if xs == nil {
		return []T{}
	}
	return xs
}
