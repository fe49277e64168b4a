package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Fantasim/bitwallet-coordinator/internal/api"
	"github.com/Fantasim/bitwallet-coordinator/internal/broker"
	"github.com/Fantasim/bitwallet-coordinator/internal/config"
	"github.com/Fantasim/bitwallet-coordinator/internal/explorer"
	"github.com/Fantasim/bitwallet-coordinator/internal/logging"
	"github.com/Fantasim/bitwallet-coordinator/internal/monitor"
	"github.com/Fantasim/bitwallet-coordinator/internal/push"
	"github.com/Fantasim/bitwallet-coordinator/internal/storage"
	"github.com/Fantasim/bitwallet-coordinator/internal/txproposal"
	"github.com/Fantasim/bitwallet-coordinator/internal/walletlock"
	"github.com/Fantasim/bitwallet-coordinator/internal/walletsvc"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		if err := runServe(); err != nil {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	case "version":
		fmt.Printf("walletd %s\n", version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: walletd <command>

Commands:
  serve     Start the HTTP server
  version   Print version information
`)
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logCloser, err := logging.Setup(cfg.LogLevel, cfg.LogDir)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer logCloser.Close()

	slog.Info("starting walletd",
		"version", version,
		"network", cfg.NetworkName(),
		"port", cfg.Port,
		"dbPath", cfg.DBPath,
		"logLevel", cfg.LogLevel,
	)

	db, err := storage.New(cfg.DBPath, cfg.NetworkName())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	slog.Info("database opened", "path", cfg.DBPath)

	if err := db.RunMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	slog.Info("database migrations applied")

	providerURLs := cfg.ExplorerTestnetURLs
	if cfg.NetworkName() == "livenet" {
		providerURLs = cfg.ExplorerLivenetURLs
	}
	if len(providerURLs) == 0 {
		return fmt.Errorf("no explorer provider URLs configured for network %q", cfg.NetworkName())
	}

	exp := explorer.New(providerURLs, config.RateLimitExplorer)
	feeCache := explorer.NewFeeLevelCache(exp)

	br := broker.New()

	lock := walletlock.NewManager(db, config.LockLeaseTTL)
	lockTimeout := config.DefaultLockTimeout

	wallets := walletsvc.New(db, lock, exp, br, lockTimeout)
	proposals := txproposal.New(db, lock, exp, br, wallets, lockTimeout)

	slog.Info("core services initialized")

	mon := monitor.New(db, exp, br, []monitor.Feed{
		{Network: cfg.NetworkName(), WebsocketURL: cfg.ExplorerSocketURL},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := mon.RunRecovery(ctx); err != nil {
		slog.Warn("monitor recovery pass failed, continuing", "error", err)
	}
	mon.Start(ctx)

	slog.Info("blockchain monitor started", "network", cfg.NetworkName())

	dispatcher := push.New(db, br, cfg.PushServerURL, cfg.TemplatesDir)
	go dispatcher.Run(ctx)

	slog.Info("push dispatcher started")

	router := api.NewRouter(db, cfg, wallets, proposals, feeCache)

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	srv := &http.Server{
		Addr:           addr,
		Handler:        router,
		ReadTimeout:    config.ServerReadTimeout,
		WriteTimeout:   config.ServerWriteTimeout,
		IdleTimeout:    config.ServerIdleTimeout,
		MaxHeaderBytes: config.ServerMaxHeaderBytes,
	}

	slog.Info("server configured",
		"readTimeout", config.ServerReadTimeout,
		"writeTimeout", config.ServerWriteTimeout,
		"idleTimeout", config.ServerIdleTimeout,
		"maxHeaderBytes", config.ServerMaxHeaderBytes,
	)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("server listening", "addr", addr, "basePath", cfg.BasePath)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("initiating graceful shutdown", "timeout", config.ShutdownTimeout)

	cancel()
	mon.Wait()
	slog.Info("monitor feeds drained")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}
