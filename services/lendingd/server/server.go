package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/VinayVig7/Advance-Self-project-Lending-Protocol/config"
	telemetry "github.com/VinayVig7/Advance-Self-project-Lending-Protocol/observability/otel"
	"github.com/VinayVig7/Advance-Self-project-Lending-Protocol/services/lendingd/journal"
	"github.com/VinayVig7/Advance-Self-project-Lending-Protocol/services/lendingd/market"
)

const (
	serviceName    = "lendingd"
	requestLimit   = 1 << 20
	defaultTimeout = 10 * time.Second
)

// EventReader serves journal queries.
type EventReader interface {
	Events(ctx context.Context, q journal.Query) ([]journal.Entry, error)
}

// Options configures the HTTP server.
type Options struct {
	Auth      config.AuthConfig
	RateLimit config.RateLimitConfig
	Timeout   time.Duration
	Logger    *slog.Logger
}

// Server exposes the lending market over HTTP.
type Server struct {
	market  *market.Market
	events  EventReader
	auth    *Authenticator
	limiter *RateLimiter
	logger  *slog.Logger
	tracer  trace.Tracer
	timeout time.Duration
	// writes admits one market mutation at a time so concurrent requests
	// queue here, bounded by their deadline, rather than contend in the engine.
	writes  chan struct{}
	handler http.Handler
}

// New wires the router for m. events may be nil, in which case the journal
// route reports 503.
func New(m *market.Market, events EventReader, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	s := &Server{
		market:  m,
		events:  events,
		auth:    NewAuthenticator(opts.Auth),
		limiter: NewRateLimiter(opts.RateLimit),
		logger:  logger,
		tracer:  telemetry.Tracer(serviceName),
		timeout: timeout,
		writes:  make(chan struct{}, 1),
	}
	s.handler = otelhttp.NewHandler(s.routes(), serviceName)
	return s
}

// Handler returns the instrumented router.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(chimw.Recoverer)
	r.Use(instrument(s.logger))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Group(func(reads chi.Router) {
			reads.Use(s.auth.Reads)
			reads.Use(s.limiter.Middleware)
			reads.Get("/params", s.handleParams)
			reads.Get("/assets", s.handleAssets)
			reads.Get("/assets/{asset}/price", s.handlePrice)
			reads.Get("/accounts", s.handleAccounts)
			reads.Get("/accounts/{account}", s.handleAccount)
			reads.Get("/accounts/{account}/health", s.handleHealthFactor)
			reads.Get("/accounts/{account}/collateral/{asset}", s.handleCollateral)
			reads.Get("/tokens/{asset}/balances/{account}", s.handleWalletBalance)
			reads.Get("/events", s.handleEvents)
			reads.Post("/simulate/borrow", s.handleSimulateBorrow)
			reads.Post("/simulate/redeem", s.handleSimulateRedeem)
		})
		v1.Group(func(writes chi.Router) {
			writes.Use(s.auth.Require)
			writes.Use(s.limiter.Middleware)
			writes.Post("/deposit", s.handleDeposit)
			writes.Post("/borrow", s.handleBorrow)
			writes.Post("/repay", s.handleRepay)
			writes.Post("/redeem", s.handleRedeem)
			writes.Post("/liquidate", s.handleLiquidate)
			writes.Post("/tokens/{asset}/approve", s.handleApprove)
			writes.Route("/admin", func(admin chi.Router) {
				admin.Post("/assets", s.handleRegisterAsset)
				admin.Post("/feeds/{asset}", s.handleSetPrice)
				admin.Post("/tokens/{asset}/mint", s.handleMint)
			})
		})
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
