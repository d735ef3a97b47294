/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, the middleware stack, and the route table.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  unique id per request, logged with every line
  2. RealIP:     client address behind proxies
  3. Logger:     one slog line per request
  4. Recoverer:  panic recovery (500 instead of crash)
  5. Metrics:    latency histogram per route
  6. CORS:       cross-origin requests for the web client
  7. Auth:       actor from JWT or X-User-ID (only under /api)

ROUTE GROUPS:
  /api/groups/*           Groups, members, balances, expenses of a group
  /api/expenses/*         Approval and payments of an expense
  /api/payments/*         Payment confirmation
  /api/friend-requests/*  Friend requests
  /api/friends/*          Friendships
  /api/notifications/*    Inbox and unread stream
  /api/me/*               Per-user summaries
  /health, /metrics       Operations
  /swagger/*              API documentation

SEE ALSO:
  - handlers.go:        handler implementations
  - auth.go:            actor resolution
  - cmd/server/main.go: server startup
*/
package api

import (
	"log/slog"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "github.com/warp/expense-ledger/docs"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	Auth        *Authenticator
	Metrics     *HTTPMetrics
	Gatherer    prometheus.Gatherer
	CORSOrigins []string
	Logger      *slog.Logger
}

// NewRouter creates a router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	if opts.Auth == nil {
		opts.Auth = NewAuthenticator("", 0)
	}
	if opts.Logger == nil {
		opts.Logger = h.Logger
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(opts.Logger))
	r.Use(middleware.Recoverer)
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Middleware)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", UserHeader},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: !slices.Contains(opts.CORSOrigins, "*"),
		MaxAge:           300,
	}))

	r.NotFound(notFound)
	r.Get("/health", h.Health)
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(opts.Auth.Middleware)

		// Group routes
		r.Route("/groups", func(r chi.Router) {
			r.Get("/", h.ListGroups)
			r.Post("/", h.CreateGroup)
			r.Get("/{id}", h.GetGroup)
			r.Delete("/{id}", h.DeleteGroup)
			r.Post("/{id}/members", h.AddMember)
			r.Delete("/{id}/members/{userId}", h.RemoveMember)
			r.Get("/{id}/balances", h.GetBalances)
			r.Get("/{id}/settlements", h.GetSettlements)
			r.Get("/{id}/expenses", h.ListGroupExpenses)
			r.Post("/{id}/expenses", h.CreateExpense)
		})

		// Expense routes
		r.Route("/expenses", func(r chi.Router) {
			r.Get("/{id}", h.GetExpense)
			r.Post("/{id}/approve", h.ApproveExpense)
			r.Post("/{id}/reject", h.RejectExpense)
			r.Get("/{id}/payments", h.ListExpensePayments)
			r.Post("/{id}/payments", h.CreatePayment)
		})

		// Payment routes
		r.Route("/payments", func(r chi.Router) {
			r.Get("/{id}", h.GetPayment)
			r.Post("/{id}/confirm", h.ConfirmPayment)
			r.Post("/{id}/reject", h.RejectPayment)
		})

		// Friend routes
		r.Route("/friend-requests", func(r chi.Router) {
			r.Post("/", h.SendFriendRequest)
			r.Get("/pending", h.ListPendingFriendRequests)
			r.Post("/{id}/accept", h.AcceptFriendRequest)
			r.Post("/{id}/reject", h.RejectFriendRequest)
		})
		r.Route("/friends", func(r chi.Router) {
			r.Get("/", h.ListFriends)
			r.Delete("/{friendId}", h.RemoveFriend)
		})

		// Notification routes
		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", h.ListNotifications)
			r.Get("/unread-count", h.UnreadCount)
			r.Get("/stream", h.StreamUnread)
			r.Post("/read-all", h.MarkAllRead)
			r.Post("/{id}/read", h.MarkRead)
			r.Post("/{id}/archive", h.ArchiveNotification)
			r.Delete("/{id}", h.DeleteNotification)
		})

		r.Get("/me/total-paid", h.TotalPaid)
	})

	return r
}

// NotFound responses use the JSON error body.
func notFound(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusNotFound, "Route not found", nil)
}
