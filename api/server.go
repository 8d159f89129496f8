/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, the middleware stack, and the route table.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request, attached to every log line
  2. Logger:     One structured zap line per request
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests from the till frontend

SECURITY NOTE:
  No authentication middleware. The server is meant to run on the shop's
  own machine.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/warp/retail-ledger/logger"
)

// RouterOptions tunes the router; the zero value is usable.
type RouterOptions struct {
	AllowedOrigins []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, log *logger.Logger, opts RouterOptions) *chi.Mux {
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(logger.Middleware(log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/currencies", func(r chi.Router) {
			r.Get("/", h.ListCurrencies)
			r.Put("/base", h.ChangeBaseCurrency)
		})

		r.Route("/products", func(r chi.Router) {
			r.Get("/", h.ListProducts)
			r.Post("/", h.CreateProduct)
			r.Get("/{id}", h.GetProduct)
			r.Put("/{id}", h.UpdateProduct)
			r.Delete("/{id}", h.DeleteProduct)
		})

		r.Route("/parties/{kind}", func(r chi.Router) {
			r.Get("/", h.ListParties)
			r.Post("/", h.CreateParty)
			r.Get("/{id}", h.GetParty)
			r.Delete("/{id}", h.DeleteParty)
			r.Get("/{id}/transactions", h.PartyTransactions)
		})

		r.Route("/sales", func(r chi.Router) {
			r.Get("/", h.ListSales)
			r.Post("/", h.Checkout)
			r.Get("/edit", h.SaleEditing)
			r.Delete("/edit", h.CancelSaleEdit)
			r.Get("/{id}", h.GetSale)
			r.Post("/{id}/edit", h.BeginSaleEdit)
			r.Get("/{id}/returns", h.SaleReturns)
			r.Post("/{id}/returns", h.AddSaleReturn)
		})

		r.Route("/purchases", func(r chi.Router) {
			r.Get("/", h.ListPurchases)
			r.Post("/", h.CreatePurchase)
			r.Get("/edit", h.PurchaseEditing)
			r.Delete("/edit", h.CancelPurchaseEdit)
			r.Get("/{id}", h.GetPurchase)
			r.Put("/{id}", h.UpdatePurchase)
			r.Post("/{id}/edit", h.BeginPurchaseEdit)
			r.Get("/{id}/returns", h.PurchaseReturns)
			r.Post("/{id}/returns", h.AddPurchaseReturn)
		})

		r.Route("/shipments", func(r chi.Router) {
			r.Get("/", h.ListShipments)
			r.Post("/", h.CreateShipment)
			r.Get("/{id}", h.GetShipment)
			r.Delete("/{id}", h.DeleteShipment)
			r.Post("/{id}/move", h.MoveShipment)
			r.Post("/{id}/archive", h.ArchiveShipment)
		})

		r.Post("/payments/{action}", h.PostPayment)
		r.Post("/payroll/settle", h.SettlePayroll)
		r.Get("/expenses", h.ListExpenses)

		r.Route("/reports", func(r chi.Router) {
			r.Get("/stock-value", h.StockValue)
			r.Get("/expiring", h.ExpiringLots)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
	})

	return r
}
