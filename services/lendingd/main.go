package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/VinayVig7/Advance-Self-project-Lending-Protocol/config"
	"github.com/VinayVig7/Advance-Self-project-Lending-Protocol/observability/logging"
	telemetry "github.com/VinayVig7/Advance-Self-project-Lending-Protocol/observability/otel"
	"github.com/VinayVig7/Advance-Self-project-Lending-Protocol/services/lendingd/journal"
	"github.com/VinayVig7/Advance-Self-project-Lending-Protocol/services/lendingd/market"
	"github.com/VinayVig7/Advance-Self-project-Lending-Protocol/services/lendingd/server"
	"github.com/VinayVig7/Advance-Self-project-Lending-Protocol/storage"
)

func main() {
	var (
		cfgPath  string
		issueFor string
		tokenTTL time.Duration
	)
	flag.StringVar(&cfgPath, "config", "lendingd.toml", "path to lendingd config (.toml, .yaml or .yml)")
	flag.StringVar(&issueFor, "issue-token", "", "print a bearer token for the given address and exit")
	flag.DurationVar(&tokenTTL, "token-ttl", 24*time.Hour, "lifetime of tokens printed by -issue-token")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	if issueFor != "" {
		caller, err := config.ParseAddress("issue-token", issueFor)
		if err != nil {
			log.Fatalf("issue token: %v", err)
		}
		token, err := server.SignToken(cfg.Auth.HMACSecret, cfg.Auth.Issuer, caller, tokenTTL)
		if err != nil {
			log.Fatalf("issue token: %v", err)
		}
		fmt.Println(token)
		return
	}

	logger, logCloser := logging.SetupWithOptions(logging.Options{
		Service: "lendingd",
		Env:     cfg.Environment,
		Level:   os.Getenv("LENDINGD_LOG_LEVEL"),
		File:    cfg.LogFile,
	})
	defer logCloser.Close()
	logger.Info("configuration loaded", slog.Any("config", cfg.Sanitized()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "lendingd",
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
	})
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}

	db, err := openDatabase(cfg.DataDir)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	lendingMarket, err := market.New(db, cfg, logger)
	if err != nil {
		log.Fatalf("build market: %v", err)
	}

	events, err := openJournal(cfg.Journal.DSN)
	if err != nil {
		log.Fatalf("open journal: %v", err)
	}
	defer events.Close()
	events.SetLogger(logger)
	logger.Info("event journal opened", logging.MaskField("journal_dsn", cfg.Journal.DSN))
	lendingMarket.Engine().SetEmitter(events)

	srv := server.New(lendingMarket, events, server.Options{
		Auth:      cfg.Auth,
		RateLimit: cfg.RateLimit,
		Logger:    logger,
	})
	httpServer := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		log.Fatalf("listen on %s: %v", cfg.ListenAddress, err)
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("lendingd listening",
			slog.String("address", listener.Addr().String()),
			slog.String("module", lendingMarket.ModuleAddress().Hex()),
			slog.Int("assets", len(lendingMarket.Assets())))
		serverErr <- httpServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("forcing server stop", slog.Any("error", err))
		_ = httpServer.Close()
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		logger.Warn("telemetry shutdown", slog.Any("error", err))
	}
}

// openDatabase opens LevelDB under dataDir, or an in-memory store when no
// directory is configured.
func openDatabase(dataDir string) (storage.Database, error) {
	dir := strings.TrimSpace(dataDir)
	if dir == "" {
		return storage.NewMemDB(), nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := storage.NewLevelDB(filepath.Join(dir, "state"))
	if err != nil {
		return nil, err
	}
	return db, nil
}

func openJournal(dsn string) (*journal.Journal, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed != "" && !strings.HasPrefix(trimmed, "file:") {
		if err := os.MkdirAll(filepath.Dir(trimmed), 0o755); err != nil {
			return nil, err
		}
	}
	return journal.Open(trimmed)
}
