package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"servicemarket/core/events"
	"servicemarket/gateway/middleware"
	"servicemarket/native/market"
	"servicemarket/observability"
	"servicemarket/observability/logging"
	telemetry "servicemarket/observability/otel"
	"servicemarket/services/marketd/api"
	"servicemarket/services/marketd/broadcast"
	"servicemarket/services/marketd/config"
	"servicemarket/services/marketd/journal"
	"servicemarket/services/marketd/rpc"
	"servicemarket/services/marketd/server"
	"servicemarket/storage"
)

const writeScope = "market:write"

func main() {
	var (
		cfgPath    string
		exportPath string
		exportType string
	)
	flag.StringVar(&cfgPath, "config", "services/marketd/config.yaml", "path to marketd configuration file")
	flag.StringVar(&exportPath, "export", "", "write the event journal to this parquet file and exit")
	flag.StringVar(&exportType, "export-type", "", "restrict -export to one event type")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("marketd: load config: %v", err)
	}

	env := strings.TrimSpace(os.Getenv("MARKET_ENV"))
	logOpts := []logging.Option{logging.WithLevel(cfg.Logging.Level)}
	if cfg.Logging.File != "" {
		logOpts = append(logOpts, logging.WithFile(logging.FileOptions{
			Path:       cfg.Logging.File,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
			Compress:   cfg.Logging.Compress,
		}))
	}
	logger := logging.Setup("marketd", env, logOpts...)

	jrnl, err := journal.Open(cfg.Journal.Driver, cfg.Journal.DSN, logger)
	if err != nil {
		log.Fatalf("marketd: open journal (%s): %v", logging.MaskDSN(cfg.Journal.DSN), err)
	}
	defer jrnl.Close()

	if exportPath != "" {
		n, err := jrnl.ExportParquet(context.Background(), exportPath, journal.Query{Type: exportType})
		if err != nil {
			log.Fatalf("marketd: export journal: %v", err)
		}
		logger.Info("journal exported", slog.String("path", exportPath), slog.Int("rows", n))
		return
	}

	telemetryCfg := telemetry.Config{
		ServiceName: "marketd",
		Environment: env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	}
	telemetryCfg.ApplyEnv()
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetryCfg)
	if err != nil {
		log.Fatalf("marketd: init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	db, err := storage.Open(cfg.Storage.Backend, cfg.Storage.Path)
	if err != nil {
		log.Fatalf("marketd: open storage: %v", err)
	}
	defer db.Close()

	broker := events.NewBroker(cfg.Stream.History)
	engine := market.NewEngine(db)
	engine.SetEmitter(events.Fanout{jrnl, broker, observability.MarketEvents()})
	if err := engine.SetPaymentAssets(cfg.Market.PaymentAssets); err != nil {
		log.Fatalf("marketd: payment assets: %v", err)
	}
	if err := bootstrapRegistry(engine, cfg.Market, logger); err != nil {
		log.Fatalf("marketd: bootstrap registry: %v", err)
	}
	service := api.NewService(engine)

	authCfg := middleware.AuthConfig{
		Enabled:    cfg.Auth.Enabled,
		HMACSecret: cfg.Auth.HMACSecret,
		Issuer:     cfg.Auth.Issuer,
		Audience:   cfg.Auth.Audience,
		ClockSkew:  cfg.Auth.ClockSkew.Duration,
	}
	var writeScopes []string
	if cfg.Auth.Enabled {
		writeScopes = []string{writeScope}
	}
	readLimit := middleware.RateLimit{RatePerSecond: cfg.RateLimit.RatePerSecond, Burst: cfg.RateLimit.Burst}
	writeLimit := readLimit
	writeLimit.DefaultTokens = cfg.RateLimit.WriteTokens

	httpServer, err := server.New(server.Config{
		ListenAddress: cfg.ListenAddress,
		Auth:          authCfg,
		WriteScopes:   writeScopes,
		ReadLimit:     readLimit,
		WriteLimit:    writeLimit,
		LogRequests:   true,
		Observability: true,
	}, service, broker, jrnl, logger)
	if err != nil {
		log.Fatalf("marketd: http server: %v", err)
	}
	grpcServer := rpc.NewGRPCServer(rpc.NewServer(service, middleware.NewAuthenticator(authCfg, logger), writeScopes, logger))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return httpServer.Run(ctx) })
	group.Go(func() error { return rpc.Serve(ctx, grpcServer, cfg.GRPCAddress, logger) })
	if len(cfg.Kafka.Brokers) > 0 {
		producer := broadcast.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer producer.Close()
		relay, err := broadcast.NewRelay(jrnl, producer, cfg.Kafka.Interval.Duration, cfg.Kafka.Batch, logger)
		if err != nil {
			log.Fatalf("marketd: kafka relay: %v", err)
		}
		group.Go(func() error { return relay.Run(ctx) })
	} else {
		logger.Info("kafka relay disabled; events stay in the journal")
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("marketd: %v", err)
	}
	logger.Info("marketd stopped")
}

func bootstrapRegistry(engine *market.Engine, cfg config.MarketConfig, logger *slog.Logger) error {
	authority, ok, err := cfg.AuthorityPrincipal()
	if err != nil || !ok {
		return err
	}
	reg, err := engine.InitRegistry(authority, cfg.RoyaltyPercent)
	if errors.Is(err, market.ErrAlreadyInitialized) {
		return nil
	}
	if err != nil {
		return err
	}
	logger.Info("registry initialised",
		slog.String("principal", cfg.Authority),
		slog.Int("royalty_percent", int(reg.RoyaltyPercent)),
	)
	return nil
}
