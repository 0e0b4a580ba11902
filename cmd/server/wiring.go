package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	arbitrationhandler "fraudengine/internal/arbitration/handler"
	arbitrationmetrics "fraudengine/internal/arbitration/metrics"
	arbitrationservice "fraudengine/internal/arbitration/service"
	"fraudengine/internal/arbitration/workers/sweep"
	casehandler "fraudengine/internal/cases/handler"
	casemetrics "fraudengine/internal/cases/metrics"
	caseservice "fraudengine/internal/cases/service"
	casestore "fraudengine/internal/cases/store"
	gateconsumer "fraudengine/internal/gate/consumer"
	gatehandler "fraudengine/internal/gate/handler"
	gatemetrics "fraudengine/internal/gate/metrics"
	"fraudengine/internal/gate/policy"
	gateservice "fraudengine/internal/gate/service"
	"fraudengine/internal/identity"
	jwttoken "fraudengine/internal/jwt_token"
	ledgerhandler "fraudengine/internal/ledger/handler"
	ledgermetrics "fraudengine/internal/ledger/metrics"
	ledgerservice "fraudengine/internal/ledger/service"
	ledgerstore "fraudengine/internal/ledger/store"
	"fraudengine/internal/notify"
	notifymetrics "fraudengine/internal/notify/metrics"
	"fraudengine/internal/notify/outbox"
	"fraudengine/internal/notify/worker"
	"fraudengine/internal/platform/config"
	"fraudengine/internal/platform/database"
	"fraudengine/internal/platform/health"
	"fraudengine/internal/platform/kafka"
	kafkaconsumer "fraudengine/internal/platform/kafka/consumer"
	"fraudengine/internal/platform/kafka/producer"
	"fraudengine/internal/platform/metrics"
	"fraudengine/internal/platform/redis"
	"fraudengine/internal/platform/tracing"
	"fraudengine/internal/reversal/adapters/ledgerhttp"
	"fraudengine/internal/reversal/adapters/ledgermemory"
	reversalhandler "fraudengine/internal/reversal/handler"
	reversalmetrics "fraudengine/internal/reversal/metrics"
	"fraudengine/internal/reversal/ports"
	reversalservice "fraudengine/internal/reversal/service"
	reversalstore "fraudengine/internal/reversal/store"
	"fraudengine/internal/reversal/tracker"
	httptransport "fraudengine/internal/transport/http"
	"fraudengine/pkg/platform/circuit"
)

// application holds everything run needs after wiring.
type application struct {
	routes         httptransport.Dependencies
	sweeper        *sweep.Sweeper
	outboxWorker   *worker.Worker
	scoredConsumer *kafkaconsumer.Consumer
	closers        []func() error
	log            *slog.Logger
}

func (a *application) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("failed to release resource", "error", err)
		}
	}
}

type stores struct {
	tokens    ledgerservice.Store
	cases     caseservice.Store
	reversals reversalservice.Store
	outbox    outbox.Store
}

func newStores(db *database.Pool) stores {
	if db == nil {
		return stores{
			tokens:    ledgerstore.NewInMemory(),
			cases:     casestore.NewInMemory(),
			reversals: reversalstore.NewInMemory(),
			outbox:    outbox.NewInMemory(),
		}
	}
	return stores{
		tokens:    ledgerstore.NewPostgres(db.DB()),
		cases:     casestore.NewPostgres(db.DB()),
		reversals: reversalstore.NewPostgres(db.DB()),
		outbox:    outbox.NewPostgres(db.DB()),
	}
}

func build(ctx context.Context, cfg config.Config, log *slog.Logger) (app *application, err error) {
	app = &application{log: log}
	defer func() {
		if err != nil {
			app.close()
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	probes := health.New(cfg.Environment)
	tracer := tracing.NewOTel()

	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	if db != nil {
		app.closers = append(app.closers, db.Close)
		probes.RegisterCheck("postgres", db.Health)
	} else {
		log.Warn("FRAUD_DATABASE_URL not set; state is kept in memory")
	}
	st := newStores(db)

	roles, err := roleDirectory(ctx, cfg, reg, probes, app, log)
	if err != nil {
		return nil, err
	}

	reversalMetrics := reversalmetrics.New(reg)
	transactions := transactionLedger(cfg, tracer, reversalMetrics, probes, log)

	var notifier notify.Notifier = notify.NewLogNotifier(log)
	if cfg.Kafka.Brokers != "" {
		prod, err := producer.New(producer.Config{
			Brokers:         cfg.Kafka.Brokers,
			Acks:            cfg.Kafka.Acks,
			Retries:         cfg.Kafka.Retries,
			DeliveryTimeout: cfg.Kafka.DeliveryTimeout,
		}, log)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, prod.Close)
		probes.RegisterCheck("kafka", kafka.NewHealthChecker(cfg.Kafka.Brokers).Check)

		notifier = outbox.NewNotifier(st.outbox)
		app.outboxWorker = worker.New(st.outbox, prod,
			worker.WithTopic(cfg.Kafka.NotificationTopic),
			worker.WithBatchSize(cfg.Outbox.BatchSize),
			worker.WithPollInterval(cfg.Outbox.PollInterval),
			worker.WithMetrics(notifymetrics.New(reg)),
			worker.WithLogger(log))
	} else {
		log.Warn("FRAUD_KAFKA_BROKERS not set; notifications are only logged")
	}

	ledger := ledgerservice.New(st.tokens,
		ledgerservice.WithLogger(log),
		ledgerservice.WithMetrics(ledgermetrics.New(reg)))

	cases := caseservice.New(st.cases, transactions, ledger,
		caseservice.WithLogger(log),
		caseservice.WithMetrics(casemetrics.New(reg)),
		caseservice.WithNotifier(notifier),
		caseservice.WithRoles(roles),
		caseservice.WithHoldOnReport(cfg.Policy.HoldOnReport))

	executor := reversalservice.New(st.reversals, ledger, cases, transactions,
		reversalservice.WithLogger(log),
		reversalservice.WithMetrics(reversalMetrics),
		reversalservice.WithTracer(tracer),
		reversalservice.WithTracker(tracker.New(cfg.Reversal.TrackerCapacity)))

	arbitrationMetrics := arbitrationmetrics.New(reg)
	arbitration := arbitrationservice.New(cases, executor, roles,
		arbitrationservice.WithLogger(log),
		arbitrationservice.WithMetrics(arbitrationMetrics))

	app.sweeper, err = sweep.New(cases, executor,
		sweep.WithInterval(cfg.Arbitration.SweepInterval),
		sweep.WithLogger(log),
		sweep.WithMetrics(arbitrationMetrics))
	if err != nil {
		return nil, err
	}

	gate := gateservice.New(policy.New(cfg.Policy.Gate), transactions, cases, executor,
		gateservice.WithLogger(log),
		gateservice.WithMetrics(gatemetrics.New(reg)),
		gateservice.WithTracer(tracer),
		gateservice.WithHoldOnArbitration(cfg.Policy.Gate.HoldOnArbitration))

	if cfg.Kafka.Brokers != "" && cfg.Kafka.ScoredTopic != "" {
		app.scoredConsumer, err = kafkaconsumer.New(kafkaconsumer.Config{
			Brokers: cfg.Kafka.Brokers,
			GroupID: cfg.Kafka.ConsumerGroup,
			Topics:  []string{cfg.Kafka.ScoredTopic},
		}, gateconsumer.NewHandler(gate, log), log)
		if err != nil {
			return nil, err
		}
	}

	jwtService := jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.Issuer, cfg.Auth.Audience, cfg.Auth.TokenTTL)
	app.routes = httptransport.Dependencies{
		Health:    probes,
		Metrics:   metrics.New(reg, reg),
		Validator: jwttoken.NewJWTServiceAdapter(jwtService),
		Domains: []httptransport.Registrar{
			ledgerhandler.New(ledger, identity.AnyOf(roles, identity.RoleSupervisor, identity.RoleLedgerOperator), log),
			casehandler.New(cases, log),
			arbitrationhandler.New(arbitration, log),
			reversalhandler.New(executor, log),
			gatehandler.New(gate, log),
		},
	}
	return app, nil
}

// roleDirectory layers the in-process cache over Redis (when configured) over
// the static grants from config.
func roleDirectory(ctx context.Context, cfg config.Config, reg prometheus.Registerer, probes *health.Handler, app *application, log *slog.Logger) (identity.RoleDirectory, error) {
	static, err := identity.NewStaticDirectory(cfg.Policy.Roles)
	if err != nil {
		return nil, fmt.Errorf("role grants: %w", err)
	}
	var next identity.RoleDirectory = static

	rdb, err := redis.New(ctx, cfg.Redis, reg)
	if err != nil {
		return nil, err
	}
	if rdb != nil {
		app.closers = append(app.closers, rdb.Close)
		probes.RegisterCheck("redis", func(ctx context.Context) error {
			rdb.RecordPoolStats()
			return rdb.Health(ctx)
		})
		next = identity.NewRedisCachedDirectory(static, rdb.Client, cfg.Identity.CacheTTL, log)
	}
	return identity.NewCachedDirectory(next, cfg.Identity.CacheTTL, cfg.Identity.CacheSize), nil
}

func transactionLedger(cfg config.Config, tracer tracing.Tracer, m *reversalmetrics.Metrics, probes *health.Handler, log *slog.Logger) ports.TransactionLedger {
	if cfg.Ledger.BaseURL == "" {
		log.Warn("FRAUD_LEDGER_URL not set; using the in-memory transaction ledger")
		return ledgermemory.New()
	}
	client := ledgerhttp.New(ledgerhttp.Config{
		BaseURL:          cfg.Ledger.BaseURL,
		APIKey:           cfg.Ledger.APIKey,
		Timeout:          cfg.Ledger.Timeout,
		BreakerThreshold: cfg.Ledger.BreakerThreshold,
		BreakerCooldown:  cfg.Ledger.BreakerCooldown,
	},
		ledgerhttp.WithTracer(tracer),
		ledgerhttp.WithMetrics(m),
		ledgerhttp.WithLogger(log))
	probes.RegisterCheck("transaction_ledger", func(context.Context) error {
		if client.BreakerState() == circuit.StateOpen {
			return errors.New("circuit open")
		}
		return nil
	})
	return client
}
