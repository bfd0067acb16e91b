// Package httpapi provides the HTTP surface for the credits service.
// It exposes balance and transaction queries, coupon management and
// redemption, auto-apply token resolution, and operational endpoints.
//
// Every request passes through the guard: block-listed IPs are refused
// outright and write-heavy actions are rate limited per client. Caller
// identity arrives from the upstream gateway in the X-User-ID header;
// privileged endpoints additionally require the configured admin token.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gr8r/credits"
	"github.com/gr8r/credits/guard"
)

// Pinger reports store liveness for the database health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the credits HTTP API server.
type Server struct {
	engine     *credits.Engine
	guard      *guard.Guard
	db         Pinger
	logger     *slog.Logger
	adminToken string
	metrics    bool
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithAdminToken sets the bearer token that authorizes privileged
// endpoints. An empty token leaves them closed.
func WithAdminToken(token string) Option {
	return func(s *Server) { s.adminToken = token }
}

// WithDBHealth wires the /health/db endpoint to the given store.
func WithDBHealth(db Pinger) Option {
	return func(s *Server) { s.db = db }
}

// WithMetrics enables the /metrics Prometheus endpoint.
func WithMetrics() Option {
	return func(s *Server) { s.metrics = true }
}

// NewServer creates an API server around the engine and guard.
func NewServer(engine *credits.Engine, g *guard.Guard, opts ...Option) *Server {
	s := &Server{
		engine: engine,
		guard:  g,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(s.blockList)

	r.Get("/health", s.handleHealth)
	r.Get("/health/db", s.handleHealthDB)
	if s.metrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/balance", s.handleBalance)
		r.Get("/transactions", s.handleTransactions)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Use(s.rateLimit(guard.ActionAdminActions))
			r.Post("/credits/add", s.handleAddCredit)
			r.Post("/credits/deduct", s.handleDeductCredit)
			r.Delete("/coupons/{code}", s.handleDeleteCoupon)
		})

		r.Get("/coupons", s.handleListCoupons)
		r.Get("/coupons/stats", s.handleCouponStats)
		r.With(s.requireAdmin, s.rateLimit(guard.ActionCouponGenerate)).
			Post("/coupons", s.handleIssueCoupon)
		r.With(s.rateLimit(guard.ActionCouponApply)).
			Post("/coupons/redeem", s.handleRedeemCoupon)
	})

	r.Get("/apply", s.handleApplyToken)

	return r
}
