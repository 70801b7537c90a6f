/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging through logrus
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. Metrics:    Prometheus request count and latency
  5. CORS:       Cross-origin requests for the frontend

ROUTE GROUPS:
  /api/{kind}/accounts/*  Account lifecycle, money movement, read models
  /api/{kind}/loans/*     Repayments
  /api/{kind}/users/*     Per-user balances and loans
  /health                 Liveness plus pending-flush status
  /metrics                Prometheus

  {kind} is "pool" or "collateral".

SECURITY NOTE:
  No authentication middleware. The acting user is taken from the request
  body; identity is established by the frontend's wallet login.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
)

// RouterOptions tune the router. Zero values are usable.
type RouterOptions struct {
	AllowedOrigins []string
	Logger         logrus.FieldLogger
	Metrics        *Metrics
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	if opts.Logger != nil {
		r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: opts.Logger, NoColor: true}))
	}
	r.Use(middleware.Recoverer)
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Middleware)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	r.Get("/health", h.Health)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics.Handler())
	}

	r.Route("/api/{kind}", func(r chi.Router) {
		// Account routes
		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", h.ListAccounts)
			r.Post("/", h.CreateAccount)
			r.Get("/{id}", h.GetAccount)
			r.Delete("/{id}", h.DeleteAccount)
			r.Put("/{id}/address", h.AttachAddress)
			r.Get("/{id}/summary", h.GetSummary)
			r.Get("/{id}/transactions", h.GetTransactions)
			r.Get("/{id}/deposits", h.GetDeposits)
			r.Get("/{id}/loans", h.GetLoans)
			r.Post("/{id}/deposits", h.Deposit)
			r.Post("/{id}/withdrawals", h.Withdraw)
			r.Post("/{id}/payments", h.Pay)
			r.Post("/{id}/loans", h.Borrow)
		})

		// Loan routes
		r.Route("/loans", func(r chi.Router) {
			r.Post("/{loanId}/repayments", h.Repay)
		})

		// User routes
		r.Route("/users", func(r chi.Router) {
			r.Get("/{userId}/balance", h.GetUserBalance)
			r.Get("/{userId}/loans", h.GetUserLoans)
		})
	})

	return r
}
