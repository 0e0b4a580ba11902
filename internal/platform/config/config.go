// Package config loads service configuration from FRAUD_* environment
// variables and an optional YAML policy file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full service configuration.
type Config struct {
	Environment string
	LogLevel    string

	Server      Server
	Database    DatabaseConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	Auth        AuthConfig
	Ledger      TransactionLedgerConfig
	Arbitration ArbitrationConfig
	Reversal    ReversalConfig
	Outbox      OutboxConfig
	Identity    IdentityConfig
	Policy      Policy

	// PolicyFile, when set, is loaded over the defaults by LoadPolicyFile.
	PolicyFile string
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
}

// DatabaseConfig selects Postgres stores when URL is set; memory stores otherwise.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig enables the Redis role cache when URL is set.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig enables the notification outbox publisher and the scored
// transaction consumer when Brokers is set.
type KafkaConfig struct {
	Brokers           string
	NotificationTopic string
	ScoredTopic       string
	ConsumerGroup     string
	Acks              string
	Retries           int
	DeliveryTimeout   time.Duration
}

type AuthConfig struct {
	JWTSigningKey string
	Issuer        string
	Audience      string
	TokenTTL      time.Duration
}

// TransactionLedgerConfig points at the external transaction ledger. An empty
// BaseURL wires the in-memory ledger.
type TransactionLedgerConfig struct {
	BaseURL          string
	APIKey           string
	Timeout          time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// ArbitrationConfig tunes the SLA sweep. The 72h arbitration and 1h automated
// reversal budgets are fixed by the case and reversal models.
type ArbitrationConfig struct {
	SweepInterval time.Duration
}

type ReversalConfig struct {
	TrackerCapacity int
}

type OutboxConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

type IdentityConfig struct {
	CacheTTL  time.Duration
	CacheSize int
}

// Default returns the configuration used when no environment overrides are present.
func Default() Config {
	return Config{
		Environment: "dev",
		LogLevel:    "info",
		Server: Server{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			RequestTimeout:  25 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			MaxBodyBytes:    1 << 20,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Kafka: KafkaConfig{
			NotificationTopic: "fraud.case-events",
			ScoredTopic:       "fraud.scored-transactions",
			ConsumerGroup:     "fraudengine-gate",
			Acks:              "all",
			Retries:           3,
			DeliveryTimeout:   30 * time.Second,
		},
		Auth: AuthConfig{
			JWTSigningKey: "dev-secret-key-change-in-production",
			Issuer:        "fraudengine",
			Audience:      "fraudengine-api",
			TokenTTL:      15 * time.Minute,
		},
		Ledger: TransactionLedgerConfig{
			Timeout:          5 * time.Second,
			BreakerThreshold: 5,
			BreakerCooldown:  30 * time.Second,
		},
		Arbitration: ArbitrationConfig{
			SweepInterval: time.Hour,
		},
		Reversal: ReversalConfig{
			TrackerCapacity: 10000,
		},
		Outbox: OutboxConfig{
			PollInterval: 2 * time.Second,
			BatchSize:    100,
		},
		Identity: IdentityConfig{
			CacheTTL:  5 * time.Minute,
			CacheSize: 1024,
		},
		Policy: DefaultPolicy(),
	}
}

// FromEnv builds a Config from FRAUD_* environment variables on top of Default.
// Every malformed value is reported; none is silently ignored.
func FromEnv() (Config, error) {
	return fromLookup(os.LookupEnv)
}

func fromLookup(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	e := envReader{lookup: lookup}

	e.str("FRAUD_ENV", &cfg.Environment)
	e.str("FRAUD_LOG_LEVEL", &cfg.LogLevel)

	e.str("FRAUD_ADDR", &cfg.Server.Addr)
	e.duration("FRAUD_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	e.duration("FRAUD_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	e.duration("FRAUD_REQUEST_TIMEOUT", &cfg.Server.RequestTimeout)
	e.duration("FRAUD_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	e.str("FRAUD_DATABASE_URL", &cfg.Database.URL)
	e.integer("FRAUD_DATABASE_MAX_OPEN_CONNS", &cfg.Database.MaxOpenConns)
	e.integer("FRAUD_DATABASE_MAX_IDLE_CONNS", &cfg.Database.MaxIdleConns)

	e.str("FRAUD_REDIS_URL", &cfg.Redis.URL)
	e.integer("FRAUD_REDIS_POOL_SIZE", &cfg.Redis.PoolSize)

	e.str("FRAUD_KAFKA_BROKERS", &cfg.Kafka.Brokers)
	e.str("FRAUD_KAFKA_NOTIFICATION_TOPIC", &cfg.Kafka.NotificationTopic)
	e.str("FRAUD_KAFKA_SCORED_TOPIC", &cfg.Kafka.ScoredTopic)
	e.str("FRAUD_KAFKA_CONSUMER_GROUP", &cfg.Kafka.ConsumerGroup)

	e.str("FRAUD_JWT_SIGNING_KEY", &cfg.Auth.JWTSigningKey)
	e.str("FRAUD_JWT_ISSUER", &cfg.Auth.Issuer)
	e.str("FRAUD_JWT_AUDIENCE", &cfg.Auth.Audience)
	e.duration("FRAUD_TOKEN_TTL", &cfg.Auth.TokenTTL)

	e.str("FRAUD_LEDGER_URL", &cfg.Ledger.BaseURL)
	e.str("FRAUD_LEDGER_API_KEY", &cfg.Ledger.APIKey)
	e.duration("FRAUD_LEDGER_TIMEOUT", &cfg.Ledger.Timeout)
	e.integer("FRAUD_LEDGER_BREAKER_THRESHOLD", &cfg.Ledger.BreakerThreshold)
	e.duration("FRAUD_LEDGER_BREAKER_COOLDOWN", &cfg.Ledger.BreakerCooldown)

	e.duration("FRAUD_SWEEP_INTERVAL", &cfg.Arbitration.SweepInterval)
	e.integer("FRAUD_REVERSAL_TRACKER_CAPACITY", &cfg.Reversal.TrackerCapacity)

	e.duration("FRAUD_OUTBOX_POLL_INTERVAL", &cfg.Outbox.PollInterval)
	e.integer("FRAUD_OUTBOX_BATCH_SIZE", &cfg.Outbox.BatchSize)

	e.duration("FRAUD_ROLE_CACHE_TTL", &cfg.Identity.CacheTTL)
	e.integer("FRAUD_ROLE_CACHE_SIZE", &cfg.Identity.CacheSize)

	e.float("FRAUD_GATE_AUTO_REVERSE_SCORE", &cfg.Policy.Gate.AutoReverseScore)
	e.float("FRAUD_GATE_AUTO_REVERSE_CONFIDENCE", &cfg.Policy.Gate.AutoReverseConfidence)
	e.float("FRAUD_GATE_ARBITRATION_FLOOR", &cfg.Policy.Gate.ArbitrationFloor)
	e.float("FRAUD_GATE_AMBIGUITY_MARGIN", &cfg.Policy.Gate.AmbiguityMargin)
	e.boolean("FRAUD_GATE_DEMOTE_AMBIGUOUS", &cfg.Policy.Gate.DemoteAmbiguous)
	e.boolean("FRAUD_GATE_HOLD_ON_ARBITRATION", &cfg.Policy.Gate.HoldOnArbitration)
	e.boolean("FRAUD_HOLD_ON_REPORT", &cfg.Policy.HoldOnReport)

	e.str("FRAUD_POLICY_FILE", &cfg.PolicyFile)
	if raw, ok := lookup("FRAUD_ARBITRATORS"); ok {
		cfg.Policy.Roles.Arbitrators = splitList(raw)
	}
	if raw, ok := lookup("FRAUD_SUPERVISORS"); ok {
		cfg.Policy.Roles.Supervisors = splitList(raw)
	}
	if raw, ok := lookup("FRAUD_LEDGER_OPERATORS"); ok {
		cfg.Policy.Roles.LedgerOperators = splitList(raw)
	}

	if err := errors.Join(e.errs...); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	var errs []error
	if c.Arbitration.SweepInterval <= 0 {
		errs = append(errs, errors.New("sweep interval must be positive"))
	}
	if c.Outbox.PollInterval <= 0 || c.Outbox.BatchSize <= 0 {
		errs = append(errs, errors.New("outbox poll interval and batch size must be positive"))
	}
	if c.Environment != "dev" && c.Auth.JWTSigningKey == Default().Auth.JWTSigningKey {
		errs = append(errs, fmt.Errorf("FRAUD_JWT_SIGNING_KEY must be set outside dev (env=%s)", c.Environment))
	}
	errs = append(errs, c.Policy.Validate())
	return errors.Join(errs...)
}

type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) duration(key string, dst *time.Duration) {
	if v, ok := e.get(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = d
	}
}

func (e *envReader) integer(key string, dst *int) {
	if v, ok := e.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
}

func (e *envReader) float(key string, dst *float64) {
	if v, ok := e.get(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = f
	}
}

func (e *envReader) boolean(key string, dst *bool) {
	if v, ok := e.get(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = b
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
