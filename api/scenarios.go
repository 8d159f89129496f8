/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Populates the store with a realistic shop so the frontend has something
	to show. Every scenario goes through the engine's public operations, so
	the data it leaves behind is exactly what a real till would produce.

AVAILABLE SCENARIOS:

	empty:           Wipe everything
	corner-shop:     Stock bought with freight, credit sales, a return, a payment
	import-shipment: A USD order on the road, partly received
	month-end:       Salaries accrued and waiting for payroll

HOW SCENARIOS WORK:
 1. Reset the store (clear all data) and close any open edit
 2. Create products and parties
 3. Book invoices and payments through the processors

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "corner-shop"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: the endpoints the demo data feeds
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/retail-ledger/core"
	"github.com/warp/retail-ledger/purchases"
	"github.com/warp/retail-ledger/sales"
	"github.com/warp/retail-ledger/settlement"
	"github.com/warp/retail-ledger/shop"
	"github.com/warp/retail-ledger/transit"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{ID: "empty", Name: "Empty Shop", Description: "No products, parties or invoices"},
	{ID: "corner-shop", Name: "Corner Shop", Description: "Stock bought with freight, credit sales, a return and a customer payment"},
	{ID: "import-shipment", Name: "Import Shipment", Description: "A USD order from a foreign supplier, part on the road and part received"},
	{ID: "month-end", Name: "Month End", Description: "Employees with accrued salaries ready for a payroll run"},
}

var loaders = map[string]func(context.Context, *shop.Engine) error{
	"empty":           func(context.Context, *shop.Engine) error { return nil },
	"corner-shop":     loadCornerShop,
	"import-shipment": loadImportShipment,
	"month-end":       loadMonthEnd,
}

func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()
	writeJSON(w, http.StatusOK, CurrentScenarioDTO{ScenarioID: h.currentScenario})
}

func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decode(w, r, &req) {
		return
	}
	load, ok := loaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}
	if err := h.reset(r.Context()); err != nil {
		h.fail(w, r, "Failed to reset database", err)
		return
	}
	if err := load(r.Context(), h.Engine); err != nil {
		h.fail(w, r, "Failed to load scenario", err)
		return
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()
	h.log.WithContext(r.Context()).Infow("scenario loaded", "scenario", req.ScenarioID)
	writeJSON(w, http.StatusOK, CurrentScenarioDTO{ScenarioID: req.ScenarioID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.reset(r.Context()); err != nil {
		h.fail(w, r, "Failed to reset database", err)
		return
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

func (h *Handler) reset(ctx context.Context) error {
	resetter, ok := h.Engine.Store.(core.Resetter)
	if !ok {
		return fmt.Errorf("store %T cannot be reset", h.Engine.Store)
	}
	h.Engine.Sales.CancelEdit(ctx)
	h.Engine.Purchases.CancelEdit(ctx)
	return resetter.Reset(ctx)
}

// =============================================================================
// LOADERS
// =============================================================================

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func days(n int) *time.Time {
	t := time.Now().UTC().Truncate(24*time.Hour).AddDate(0, 0, n)
	return &t
}

func loadCornerShop(ctx context.Context, e *shop.Engine) error {
	rice, err := e.CreateProduct(ctx, shop.ProductInput{Name: "Rice 5kg", SalePrice: dec("450")})
	if err != nil {
		return err
	}
	pack := 12
	oil, err := e.CreateProduct(ctx, shop.ProductInput{Name: "Cooking Oil 1L", SalePrice: dec("180"), ItemsPerPackage: &pack})
	if err != nil {
		return err
	}
	sup, err := e.CreateParty(ctx, shop.PartyInput{Kind: core.PartySupplier, Name: "Kabul Wholesale", Phone: "+93 70 000 0001"})
	if err != nil {
		return err
	}
	hamid, err := e.CreateParty(ctx, shop.PartyInput{Kind: core.PartyCustomer, Name: "Hamid", Phone: "+93 70 000 0002"})
	if err != nil {
		return err
	}

	if _, err := e.Purchases.Create(ctx, purchases.CreateInput{
		SupplierID: sup.ID,
		Currency:   "AFN",
		Items: []purchases.Item{
			{ProductID: rice.ID, LotNumber: "RICE-01", Quantity: dec("40"), UnitPrice: dec("380"), ExpiryDate: days(240)},
			{ProductID: oil.ID, LotNumber: "OIL-01", Quantity: dec("48"), UnitPrice: dec("140"), ExpiryDate: days(20)},
		},
		AdditionalCost:  dec("1200"),
		CostDescription: "Truck from Kabul",
	}); err != nil {
		return err
	}

	sale, err := e.Sales.Complete(ctx, sales.CheckoutInput{
		Cart: sales.Cart{Lines: []sales.CartLine{
			{Kind: core.LineProduct, ProductID: rice.ID, Quantity: dec("2")},
			{Kind: core.LineProduct, ProductID: oil.ID, Quantity: dec("6")},
		}},
		Cashier:    "demo",
		CustomerID: hamid.ID,
		Currency:   "AFN",
	})
	if err != nil {
		return err
	}
	if _, err := e.Sales.Complete(ctx, sales.CheckoutInput{
		Cart: sales.Cart{Lines: []sales.CartLine{
			{Kind: core.LineProduct, ProductID: rice.ID, Quantity: dec("1")},
			{Kind: core.LineService, Name: "Delivery", Quantity: dec("1"), ListPrice: dec("50")},
		}},
		Cashier:  "demo",
		Currency: "AFN",
	}); err != nil {
		return err
	}

	var oilItem string
	for _, it := range sale.Items {
		if it.ProductID == oil.ID {
			oilItem = it.ItemID
		}
	}
	if _, err := e.Sales.AddReturn(ctx, sales.ReturnInput{
		OriginalInvoiceID: sale.ID,
		Lines:             []sales.ReturnLine{{ItemID: oilItem, Quantity: dec("1")}},
		Cashier:           "demo",
	}); err != nil {
		return err
	}

	_, err = e.Payments.ReceiveFromCustomer(ctx, settlement.PaymentInput{
		PartyID:     hamid.ID,
		Amount:      dec("500"),
		Currency:    "AFN",
		Description: "Cash on account",
	})
	return err
}

func loadImportShipment(ctx context.Context, e *shop.Engine) error {
	tea, err := e.CreateProduct(ctx, shop.ProductInput{Name: "Green Tea 500g", SalePrice: dec("350")})
	if err != nil {
		return err
	}
	sugar, err := e.CreateProduct(ctx, shop.ProductInput{Name: "Sugar 1kg", SalePrice: dec("90")})
	if err != nil {
		return err
	}
	sup, err := e.CreateParty(ctx, shop.PartyInput{Kind: core.PartySupplier, Name: "Dubai Traders"})
	if err != nil {
		return err
	}

	ship, err := e.Transit.Create(ctx, transit.CreateInput{
		SupplierID:  sup.ID,
		Currency:    "USD",
		Rate:        dec("70"),
		Description: "Container via Torkham",
		Items: []transit.Line{
			{ProductID: tea.ID, Quantity: dec("100"), UnitPrice: dec("3.5"), LotNumber: "TEA-IMP-1"},
			{ProductID: sugar.ID, Quantity: dec("200"), UnitPrice: dec("0.9")},
		},
	})
	if err != nil {
		return err
	}
	if _, err := e.Transit.Move(ctx, ship.ID, map[core.ProductID]transit.Movement{
		tea.ID:   {ToTransit: dec("100")},
		sugar.ID: {ToTransit: dec("120")},
	}); err != nil {
		return err
	}
	_, err = e.Transit.Move(ctx, ship.ID, map[core.ProductID]transit.Movement{
		tea.ID: {ToReceived: dec("60"), ExpiryDate: days(365)},
	})
	return err
}

func loadMonthEnd(ctx context.Context, e *shop.Engine) error {
	for _, emp := range []struct {
		name   string
		salary string
	}{
		{"Ali", "12000"},
		{"Sara", "9000"},
		{"Omid", "7500"},
	} {
		p, err := e.CreateParty(ctx, shop.PartyInput{Kind: core.PartyEmployee, Name: emp.name})
		if err != nil {
			return err
		}
		if _, err := e.Payments.AccrueSalary(ctx, settlement.PaymentInput{
			PartyID:     p.ID,
			Amount:      dec(emp.salary),
			Currency:    "AFN",
			Description: "Monthly salary",
		}); err != nil {
			return err
		}
	}

	safe, err := e.CreateParty(ctx, shop.PartyInput{Kind: core.PartyDepositHolder, Name: "Neighbour's savings"})
	if err != nil {
		return err
	}
	_, err = e.Payments.Deposit(ctx, settlement.PaymentInput{PartyID: safe.ID, Amount: dec("200"), Currency: "USD", Rate: dec("70")})
	return err
}
