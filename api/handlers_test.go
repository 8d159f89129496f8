/*
handlers_test.go - HTTP tests for the API handlers

Each test drives the real router against an in-memory SQLite store.
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/retail-ledger/core"
	"github.com/warp/retail-ledger/logger"
	"github.com/warp/retail-ledger/shop"
	"github.com/warp/retail-ledger/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testServer struct {
	t      *testing.T
	engine *shop.Engine
	router http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	fx, err := core.NewCurrencies("AFN", []core.CurrencyConfig{
		{Code: "AFN", Name: "Afghani"},
		{Code: "USD", Name: "US Dollar", Method: core.MethodMultiply},
	})
	require.NoError(t, err)

	log := logger.Nop()
	engine := shop.New(store, fx, log)
	h := NewHandler(engine, log)
	return &testServer{t: t, engine: engine, router: NewRouter(h, log, RouterOptions{})}
}

func (s *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// seed creates a supplier, a customer and a product with 10 units at cost 10.
func (s *testServer) seed() (product core.Product, supplier, customer core.Party) {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/products", map[string]any{"name": "Soap", "sale_price": "25"})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	product = decodeBody[core.Product](s.t, rec)

	rec = s.do(http.MethodPost, "/api/parties/supplier", map[string]any{"name": "Wholesale"})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	supplier = decodeBody[core.Party](s.t, rec)

	rec = s.do(http.MethodPost, "/api/parties/customer", map[string]any{"name": "Hamid"})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	customer = decodeBody[core.Party](s.t, rec)

	rec = s.do(http.MethodPost, "/api/purchases", map[string]any{
		"supplier_id": supplier.ID,
		"currency":    "AFN",
		"items": []map[string]any{
			{"product_id": product.ID, "lot_number": "S1", "quantity": "10", "unit_price": "10"},
		},
	})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return product, supplier, customer
}

func checkoutBody(product core.ProductID, customer core.PartyID, qty string) map[string]any {
	return map[string]any{
		"cart": map[string]any{"lines": []map[string]any{
			{"kind": "product", "product_id": product, "quantity": qty},
		}},
		"customer_id": customer,
		"currency":    "AFN",
	}
}

// =============================================================================
// CATALOG
// =============================================================================

func TestProducts_CreateGetList(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/products", map[string]any{"name": "Soap", "sale_price": "25"})
	require.Equal(t, http.StatusCreated, rec.Code)
	p := decodeBody[core.Product](t, rec)

	rec = s.do(http.MethodGet, "/api/products/"+string(p.ID), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/api/products", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]core.Product](t, rec), 1)
}

func TestProducts_ValidationFields(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/products", map[string]any{"sale_price": "-1"})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody[ErrorResponse](t, rec)
	assert.Contains(t, body.Fields, "ProductInput.name")
	assert.Contains(t, body.Fields, "ProductInput.sale_price")
}

func TestProducts_NotFound(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/products/missing", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestParties_UnknownKind(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/parties/landlord", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInvalidJSON(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/products", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()

	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// SALES
// =============================================================================

func TestSales_CheckoutAndBalance(t *testing.T) {
	s := newTestServer(t)
	product, _, customer := s.seed()

	// WHEN 4 units are sold on credit at the 25 list price
	rec := s.do(http.MethodPost, "/api/sales", checkoutBody(product.ID, customer.ID, "4"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	inv := decodeBody[core.SaleInvoice](t, rec)

	// THEN the invoice and the customer's balance reflect it
	assert.Equal(t, core.InvoiceID("F1"), inv.ID)
	assert.True(t, decimal.NewFromInt(100).Equal(inv.Total))

	rec = s.do(http.MethodGet, "/api/parties/customer/"+string(customer.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decimal.NewFromInt(100).Equal(decodeBody[core.Party](t, rec).BaseBalance))

	rec = s.do(http.MethodGet, "/api/parties/customer/"+string(customer.ID)+"/transactions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]core.Transaction](t, rec), 1)
}

func TestSales_ErrorStatuses(t *testing.T) {
	s := newTestServer(t)
	product, _, customer := s.seed()

	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{"empty cart", map[string]any{"cart": map[string]any{"lines": []any{}}, "currency": "AFN"}, http.StatusBadRequest},
		{"insufficient stock", checkoutBody(product.ID, customer.ID, "11"), http.StatusUnprocessableEntity},
		{"unknown customer", checkoutBody(product.ID, "ghost", "1"), http.StatusNotFound},
		{"missing rate", func() map[string]any {
			b := checkoutBody(product.ID, customer.ID, "1")
			b["currency"] = "USD"
			return b
		}(), http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/api/sales", tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestSales_EditConflictAndCancel(t *testing.T) {
	s := newTestServer(t)
	product, _, customer := s.seed()
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/sales", checkoutBody(product.ID, customer.ID, "1")).Code)
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/sales", checkoutBody(product.ID, customer.ID, "1")).Code)

	// GIVEN F1 is open for edit
	rec := s.do(http.MethodPost, "/api/sales/F1/edit", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	edit := decodeBody[SaleEditDTO](t, rec)
	assert.Len(t, edit.Cart.Lines, 1)

	// WHEN F2 is opened THEN conflict
	rec = s.do(http.MethodPost, "/api/sales/F2/edit", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodGet, "/api/sales/edit", nil)
	assert.Equal(t, core.InvoiceID("F1"), decodeBody[EditingDTO](t, rec).InvoiceID)

	// AND after cancel nothing is open
	require.Equal(t, http.StatusOK, s.do(http.MethodDelete, "/api/sales/edit", nil).Code)
	rec = s.do(http.MethodGet, "/api/sales/edit", nil)
	assert.Empty(t, decodeBody[EditingDTO](t, rec).InvoiceID)
}

func TestSales_Return(t *testing.T) {
	s := newTestServer(t)
	product, _, customer := s.seed()
	rec := s.do(http.MethodPost, "/api/sales", checkoutBody(product.ID, customer.ID, "3"))
	require.Equal(t, http.StatusCreated, rec.Code)
	inv := decodeBody[core.SaleInvoice](t, rec)

	body := map[string]any{"lines": []map[string]any{{"item_id": inv.Items[0].ItemID, "quantity": "2"}}}
	rec = s.do(http.MethodPost, "/api/sales/F1/returns", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, core.InvoiceID("R1"), decodeBody[core.SaleInvoice](t, rec).ID)

	// THEN a second return of 2 exceeds what is left
	rec = s.do(http.MethodPost, "/api/sales/F1/returns", body)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(http.MethodGet, "/api/sales/F1/returns", nil)
	assert.Len(t, decodeBody[[]core.SaleInvoice](t, rec), 1)
}

// =============================================================================
// SHIPMENTS
// =============================================================================

func TestShipments_MoveAndDuplicateLot(t *testing.T) {
	s := newTestServer(t)
	product, supplier, _ := s.seed()

	rec := s.do(http.MethodPost, "/api/shipments", map[string]any{
		"supplier_id": supplier.ID,
		"currency":    "AFN",
		"items":       []map[string]any{{"product_id": product.ID, "quantity": "5", "unit_price": "8"}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	ship := decodeBody[core.InTransitInvoice](t, rec)

	// WHEN receiving into the lot already in the warehouse THEN conflict
	move := func(lot string) *httptest.ResponseRecorder {
		return s.do(http.MethodPost, "/api/shipments/"+string(ship.ID)+"/move", map[string]any{
			"movements": map[string]any{string(product.ID): map[string]any{"to_transit": "5", "to_received": "5", "lot_number": lot}},
		})
	}
	assert.Equal(t, http.StatusConflict, move("S1").Code)

	// AND a fresh lot closes the shipment
	rec = move("S2")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decodeBody[struct {
		Shipment    core.InTransitInvoice `json:"shipment"`
		SubPurchase *core.PurchaseInvoice `json:"sub_purchase"`
	}](t, rec)
	assert.Equal(t, core.ShipmentClosed, res.Shipment.Status)
	require.NotNil(t, res.SubPurchase)

	// THEN it can no longer be deleted
	rec = s.do(http.MethodDelete, "/api/shipments/"+string(ship.ID), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

// =============================================================================
// MONEY
// =============================================================================

func TestPayments_Actions(t *testing.T) {
	s := newTestServer(t)
	_, supplier, _ := s.seed()

	rec := s.do(http.MethodPost, "/api/payments/supplier-payment", map[string]any{
		"party_id": supplier.ID, "amount": "40", "currency": "AFN",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(http.MethodGet, "/api/parties/supplier/"+string(supplier.ID), nil)
	assert.True(t, decimal.NewFromInt(60).Equal(decodeBody[core.Party](t, rec).BaseBalance))

	rec = s.do(http.MethodPost, "/api/payments/bribe", map[string]any{"party_id": supplier.ID, "amount": "1", "currency": "AFN"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPayroll_SettleWithoutBody(t *testing.T) {
	s := newTestServer(t)
	emp, err := s.engine.CreateParty(context.Background(), shop.PartyInput{Kind: core.PartyEmployee, Name: "Ali"})
	require.NoError(t, err)
	rec := s.do(http.MethodPost, "/api/payments/salary", map[string]any{"party_id": emp.ID, "amount": "300", "currency": "AFN"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	req := httptest.NewRequest(http.MethodPost, "/api/payroll/settle", nil)
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = s.do(http.MethodGet, "/api/expenses?category=payroll", nil)
	assert.Len(t, decodeBody[[]core.Expense](t, rec), 1)
}

// =============================================================================
// CURRENCIES AND REPORTS
// =============================================================================

func TestCurrencies_BaseLockedAfterActivity(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/currencies", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, core.Currency("AFN"), decodeBody[CurrenciesDTO](t, rec).Base)

	s.seed()
	rec = s.do(http.MethodPut, "/api/currencies/base", map[string]any{"currency": "USD"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestReports(t *testing.T) {
	s := newTestServer(t)
	s.seed()

	rec := s.do(http.MethodGet, "/api/reports/stock-value", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decimal.NewFromInt(100).Equal(decodeBody[StockValueDTO](t, rec).Value))

	rec = s.do(http.MethodGet, "/api/reports/expiring?days=30", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[ExpiryScan](t, rec).Lots)

	rec = s.do(http.MethodGet, "/api/reports/expiring?days=soon", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{core.Invalid("x"), http.StatusBadRequest},
		{core.ErrEmptyCart, http.StatusBadRequest},
		{&core.NotFoundError{Kind: "product", ID: "p"}, http.StatusNotFound},
		{core.ErrConcurrentEditConflict, http.StatusConflict},
		{&core.DuplicateLotError{}, http.StatusConflict},
		{&core.InsufficientStockError{}, http.StatusUnprocessableEntity},
		{core.ErrReturnedInvoice, http.StatusUnprocessableEntity},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), "%v", tt.err)
	}
}
