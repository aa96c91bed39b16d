package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"servicemarket/core/events"
	"servicemarket/crypto"
	"servicemarket/gateway/middleware"
	"servicemarket/services/marketd/api"
	"servicemarket/services/marketd/journal"
)

const (
	routeRead  = "read"
	routeWrite = "write"

	maxBodyBytes = 1 << 20
)

// Config defines HTTP server parameters.
type Config struct {
	ListenAddress string
	Auth          middleware.AuthConfig
	WriteScopes   []string
	ReadLimit     middleware.RateLimit
	WriteLimit    middleware.RateLimit
	LogRequests   bool
	Observability bool
}

// Server exposes the marketplace over HTTP/JSON and a websocket event stream.
type Server struct {
	cfg      Config
	service  *api.Service
	broker   *events.Broker
	journal  *journal.Journal
	logger   *slog.Logger
	auth     *middleware.Authenticator
	limiter  *middleware.RateLimiter
	obs      *middleware.Observability
	router   http.Handler
	shutdown time.Duration
}

// New constructs the HTTP server. The journal is optional; without it the
// event query endpoint and idempotency keys are disabled.
func New(cfg Config, service *api.Service, broker *events.Broker, j *journal.Journal, logger *slog.Logger) (*Server, error) {
	if service == nil {
		return nil, fmt.Errorf("market service required")
	}
	if broker == nil {
		return nil, fmt.Errorf("event broker required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "http"))
	srv := &Server{
		cfg:      cfg,
		service:  service,
		broker:   broker,
		journal:  j,
		logger:   logger,
		auth:     middleware.NewAuthenticator(cfg.Auth, logger),
		limiter:  middleware.NewRateLimiter(map[string]middleware.RateLimit{routeRead: cfg.ReadLimit, routeWrite: cfg.WriteLimit}, logger),
		obs:      middleware.NewObservability(middleware.ObservabilityConfig{ServiceName: "marketd", LogRequests: cfg.LogRequests, Enabled: cfg.Observability}, logger),
		shutdown: 5 * time.Second,
	}
	srv.router = srv.buildRouter()
	return srv, nil
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", s.obs.MetricsHandler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Group(func(read chi.Router) {
			read.Use(s.limiter.Middleware(routeRead))
			read.With(s.obs.Middleware("registry.get")).Get("/registry", s.handleGetRegistry)
			read.With(s.obs.Middleware("assets.get")).Get("/assets/{id}", s.handleGetAsset)
			read.With(s.obs.Middleware("escrow.get")).Get("/escrow/{assetID}", s.handleGetHolding)
			read.With(s.obs.Middleware("listings.list")).Get("/listings", s.handleListListings)
			read.With(s.obs.Middleware("listings.get")).Get("/listings/{ref}", s.handleGetListing)
			read.With(s.obs.Middleware("ledger.balance")).Get("/ledger/balances/{account}", s.handleBalance)
			read.With(s.obs.Middleware("treasury.get")).Get("/treasury/{asset}", s.handleTreasury)
			read.With(s.obs.Middleware("events.list")).Get("/events", s.handleListEvents)
			read.Get("/events/ws", s.handleEventStream)
		})

		v1.Group(func(write chi.Router) {
			write.Use(s.auth.Middleware(s.cfg.WriteScopes...))
			write.Use(s.limiter.Middleware(routeWrite))
			if s.journal != nil {
				write.Use(s.journal.WithIdempotency(principalKey))
			}
			write.With(s.obs.Middleware("registry.init")).Post("/registry", s.handleInitRegistry)
			write.With(s.obs.Middleware("registry.royalty")).Post("/registry/royalty", s.handleUpdateRoyalty)
			write.With(s.obs.Middleware("registry.pause")).Post("/registry/pause", s.handleSetPaused)
			write.With(s.obs.Middleware("assets.mint")).Post("/assets", s.handleMintAsset)
			write.With(s.obs.Middleware("assets.transfer")).Post("/assets/{id}/transfer", s.handleTransferAsset)
			write.With(s.obs.Middleware("assets.freeze")).Post("/assets/{id}/freeze", s.handleFreezeAsset)
			write.With(s.obs.Middleware("listings.create")).Post("/listings", s.handleCreateListing)
			write.With(s.obs.Middleware("listings.purchase")).Post("/listings/{ref}/purchase", s.handlePurchase)
			write.With(s.obs.Middleware("listings.resell")).Post("/listings/{ref}/resell", s.handleResell)
			write.With(s.obs.Middleware("listings.withdraw")).Post("/listings/{ref}/withdraw", s.handleWithdraw)
			write.With(s.obs.Middleware("ledger.deposit")).Post("/ledger/deposit", s.handleDeposit)
			write.With(s.obs.Middleware("treasury.withdraw")).Post("/treasury/withdraw", s.handleTreasuryWithdraw)
		})
	})

	return otelhttp.NewHandler(r, "marketd.http")
}

func principalKey(r *http.Request) string {
	if principal, ok := middleware.PrincipalFromContext(r.Context()); ok {
		return crypto.FormatPrincipal(principal)
	}
	return ""
}

// Run starts the HTTP server and blocks until context cancellation.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdown)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("http shutdown", slog.Any("error", err))
		}
	}()

	s.logger.Info("http listening", slog.String("address", s.cfg.ListenAddress))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}
