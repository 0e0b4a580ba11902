package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"fraudengine/internal/platform/config"
	"fraudengine/internal/platform/logger"
	httptransport "fraudengine/internal/transport/http"
)

// main loads configuration and hands off to run. Business logic lives in the
// internal service packages; this file only owns the process lifecycle.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if err := config.LoadPolicyFile(&cfg, cfg.PolicyFile); err != nil {
		fmt.Fprintf(os.Stderr, "invalid policy: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("fraud engine stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("fraud engine stopped")
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	log.Info("initializing fraud engine",
		"addr", cfg.Server.Addr,
		"env", cfg.Environment,
		"postgres", cfg.Database.URL != "",
		"redis", cfg.Redis.URL != "",
		"kafka", cfg.Kafka.Brokers != "",
		"transaction_ledger", cfg.Ledger.BaseURL != "")

	app, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.close()

	router := httptransport.NewRouter(httptransport.Config{
		RequestTimeout: cfg.Server.RequestTimeout,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
	}, app.routes, log)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting http server", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		if err := app.sweeper.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("arbitration sweep: %w", err)
		}
		return nil
	})
	if app.outboxWorker != nil {
		g.Go(func() error { return app.outboxWorker.Run(gctx) })
	}
	if app.scoredConsumer != nil {
		g.Go(func() error { return app.scoredConsumer.Run(gctx) })
	}

	return g.Wait()
}
