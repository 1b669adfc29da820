package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

// Router mounts all routes on a new chi router.
func (h *Handler) Router() *chi.Mux {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Public endpoints
	r.Post("/auth/register", h.Register)
	r.Post("/auth/login", h.Login)
	r.Post("/transactions", h.CreateTransaction)
	r.Get("/exchange-rate", h.ExchangeRate)
	r.Get("/exchange-rate/analytics", h.ExchangeRateAnalytics)
	r.Get("/exchange-rate/history", h.ExchangeRateHistory)

	// Protected endpoints (require JWT)
	r.Group(func(r chi.Router) {
		r.Use(h.JWTAuthMiddleware)
		r.Post("/offers", h.CreateOffer)
		r.Get("/offers", h.ListOffers)
		r.Get("/offers/mine", h.MyOffers)
		r.Post("/offers/{id}/accept", h.AcceptOffer)
		r.Post("/offers/{id}/cancel", h.CancelOffer)
		r.Get("/trades", h.MyTrades)
		r.Get("/balance", h.MyBalance)
		r.Get("/transactions", h.MyTransactions)
	})

	return r
}
