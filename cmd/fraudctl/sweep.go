package main

import (
	"fmt"
	"log/slog"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"fraudengine/internal/arbitration/workers/sweep"
	caseservice "fraudengine/internal/cases/service"
	casestore "fraudengine/internal/cases/store"
	ledgerservice "fraudengine/internal/ledger/service"
	ledgerstore "fraudengine/internal/ledger/store"
	"fraudengine/internal/notify"
	"fraudengine/internal/notify/outbox"
	"fraudengine/internal/platform/config"
	"fraudengine/internal/platform/database"
	"fraudengine/internal/platform/logger"
	"fraudengine/internal/reversal/adapters/ledgerhttp"
	"fraudengine/internal/reversal/adapters/ledgermemory"
	"fraudengine/internal/reversal/ports"
	reversalservice "fraudengine/internal/reversal/service"
	reversalstore "fraudengine/internal/reversal/store"
)

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run a single arbitration SLA sweep against the database",
		Long: `Escalate overdue cases and notify on escalations that were never
announced, exactly as the server's periodic sweep does.

In-flight reversal tracking lives in the server process, so the overdue
reversal count is always zero when run from here.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := logger.New(cfg.LogLevel)
			pool, err := openDatabase(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			cases, executor := offlineServices(cfg, pool, log)
			sweeper, err := sweep.New(cases, executor, sweep.WithLogger(log))
			if err != nil {
				return err
			}
			res, err := sweeper.RunSweepOnce(cmd.Context())

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "escalated:             %d\n", res.Escalated)
			fmt.Fprintf(out, "notified:              %d\n", res.Notified)
			fmt.Fprintf(out, "notification failures: %d\n", res.NotificationFailures)
			fmt.Fprintf(out, "overdue reversals:     %d\n", res.OverdueReversals)
			if err != nil {
				return fmt.Errorf("sweep finished with errors: %w", err)
			}
			color.New(color.FgGreen).Fprintln(out, "sweep complete")
			return nil
		},
	}
}

// offlineServices builds the Postgres-backed case service and reversal
// executor. Notifications go through the outbox when Kafka is configured so
// the server's worker publishes them.
func offlineServices(cfg config.Config, pool *database.Pool, log *slog.Logger) (*caseservice.Service, *reversalservice.Executor) {
	var notifier notify.Notifier = notify.NewLogNotifier(log)
	if cfg.Kafka.Brokers != "" {
		notifier = outbox.NewNotifier(outbox.NewPostgres(pool.DB()))
	}

	var transactions ports.TransactionLedger = ledgermemory.New()
	if cfg.Ledger.BaseURL != "" {
		transactions = ledgerhttp.New(ledgerhttp.Config{
			BaseURL:          cfg.Ledger.BaseURL,
			APIKey:           cfg.Ledger.APIKey,
			Timeout:          cfg.Ledger.Timeout,
			BreakerThreshold: cfg.Ledger.BreakerThreshold,
			BreakerCooldown:  cfg.Ledger.BreakerCooldown,
		}, ledgerhttp.WithLogger(log))
	}

	ledger := ledgerservice.New(ledgerstore.NewPostgres(pool.DB()), ledgerservice.WithLogger(log))
	cases := caseservice.New(casestore.NewPostgres(pool.DB()), transactions, ledger,
		caseservice.WithLogger(log),
		caseservice.WithNotifier(notifier))
	executor := reversalservice.New(reversalstore.NewPostgres(pool.DB()), ledger, cases, transactions,
		reversalservice.WithLogger(log))
	return cases, executor
}
