package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/feiramais/feiramais-core/internal/middleware"
)

// SetupRouter configures the HTTP routes and middleware of the feiramais API.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api/user", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Get("/cart", h.GetCart)
			r.Delete("/cart", h.ClearCart)
			r.Post("/cart/items", h.AddItem)
			r.Put("/cart/items/{lineID}", h.UpdateItemQuantity)
			r.Delete("/cart/items/{lineID}", h.RemoveItem)
			r.Post("/cart/checkout", h.Checkout)

			r.Get("/points/balance", h.GetBalance)
			r.Get("/points/transactions", h.GetTransactions)
			r.Get("/points/summary", h.GetPointsSummary)
			r.Post("/points/redeem", h.Redeem)

			r.Get("/points/audit", h.AuditPoints)
			r.Post("/points/audit/fix", h.FixPoints)

			r.Post("/referral", h.ApplyReferral)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
