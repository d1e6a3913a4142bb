package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/platinummonkey/monedita/pkg/async"
	"github.com/platinummonkey/monedita/pkg/billing"
	"github.com/platinummonkey/monedita/pkg/httputil"
	"github.com/platinummonkey/monedita/pkg/middleware"
	"github.com/platinummonkey/monedita/pkg/observability"
	"github.com/platinummonkey/monedita/pkg/payments"
	"github.com/platinummonkey/monedita/pkg/scheduler"
	"github.com/platinummonkey/monedita/pkg/whatsapp"
)

// DefaultMaxBodyBytes caps request bodies
const DefaultMaxBodyBytes = 1 << 20

// EventHandler processes one inbound WhatsApp event
type EventHandler interface {
	Handle(ctx context.Context, ev whatsapp.Event) error
}

// Billing is the subscription surface exposed to admins
type Billing interface {
	Catalog() *billing.Catalog
	Status(ctx context.Context, userID string) (*billing.SubscriptionStatus, error)
	CheckLimit(ctx context.Context, userID string, usageType billing.UsageType) (*billing.LimitCheck, error)
	UpgradePlan(ctx context.Context, userID, planID string) (*billing.Subscription, error)
	CancelAutoRenew(ctx context.Context, userID string) (*billing.Subscription, error)
	ReactivateAutoRenew(ctx context.Context, userID string) (*billing.Subscription, error)
	ResetPeriod(ctx context.Context, userID string) error
}

// PaymentSources registers and cancels stored cards
type PaymentSources interface {
	RegisterSource(ctx context.Context, userID string, details payments.SourceDetails) (*billing.PaymentSource, error)
	CancelSource(ctx context.Context, userID string) error
}

// Sweeps runs billing sweeps on demand
type Sweeps interface {
	TriggerRenewals(ctx context.Context) scheduler.Result
	TriggerRetries(ctx context.Context) scheduler.Result
}

// EventRecorder counts inbound events by kind
type EventRecorder interface {
	RecordWebhookEvent(kind string)
}

// Dependencies wires the server to the rest of the application. Metrics,
// Gatherer, Sources, Sweeps and RateLimiter are optional.
type Dependencies struct {
	Events      EventHandler
	Runner      *async.Runner
	Billing     Billing
	Sources     PaymentSources
	Sweeps      Sweeps
	Health      *observability.HealthChecker
	Metrics     *observability.Metrics
	Gatherer    prometheus.Gatherer
	RateLimiter middleware.Limiter
	Logger      *observability.Logger
}

// Options holds the server's secrets and limits
type Options struct {
	VerifyToken  string
	AppSecret    string
	AdminToken   string
	MaxBodyBytes int64
}

// Server represents our API server
type Server struct {
	router *mux.Router
	deps   Dependencies
	opts   Options
}

// NewServer creates a new API server
func NewServer(deps Dependencies, opts Options) *Server {
	if deps.Logger == nil {
		deps.Logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}

	s := &Server{
		router: mux.NewRouter(),
		deps:   deps,
		opts:   opts,
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	s.router.Use(
		httputil.RequestIDMiddleware(s.deps.Logger),
		httputil.RecoveryMiddleware,
		httputil.LoggingMiddleware,
	)
	if s.deps.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(s.deps.Metrics))
	}

	if s.deps.Health != nil {
		s.router.HandleFunc("/health", s.deps.Health.Liveness).Methods(http.MethodGet)
		s.router.HandleFunc("/ready", s.deps.Health.Readiness).Methods(http.MethodGet)
	}
	if s.deps.Gatherer != nil {
		s.router.Handle("/metrics", observability.MetricsHandler(s.deps.Gatherer)).Methods(http.MethodGet)
	}

	limited := s.router.NewRoute().Subrouter()
	limited.Use(httputil.MaxBytesMiddleware(s.opts.MaxBodyBytes))
	if s.deps.RateLimiter != nil {
		limited.Use(middleware.RateLimit(s.deps.RateLimiter))
	}

	var recorder EventRecorder
	if s.deps.Metrics != nil {
		recorder = s.deps.Metrics
	}
	NewWebhookHandlers(s.deps.Events, s.deps.Runner, recorder, s.opts.VerifyToken, s.opts.AppSecret).
		RegisterRoutes(limited)

	if s.deps.Billing != nil {
		admin := limited.PathPrefix("/admin").Subrouter()
		admin.Use(middleware.NewAdminAuth(s.opts.AdminToken).Handler)
		NewAdminHandlers(s.deps.Billing, s.deps.Sources, s.deps.Sweeps).RegisterRoutes(admin)
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
