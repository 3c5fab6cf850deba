package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/konnect-pay/internal/config"
	"github.com/noah-isme/konnect-pay/internal/events"
	"github.com/noah-isme/konnect-pay/internal/health"
	"github.com/noah-isme/konnect-pay/internal/ledger"
	"github.com/noah-isme/konnect-pay/internal/obs"
	"github.com/noah-isme/konnect-pay/internal/payment"
	"github.com/noah-isme/konnect-pay/internal/resilience"
	"github.com/noah-isme/konnect-pay/internal/settlement"
)

// Dependencies holds the services shared by the API and the worker.
type Dependencies struct {
	Config    *config.Config
	Logger    zerolog.Logger
	DB        *pgxpool.Pool
	Redis     *redis.Client
	Ledger    *ledger.Store
	Breaker   *resilience.Breaker
	Konnect   payment.Konnect
	Tasks     *asynq.Client
	Kafka     *kafka.Writer
	Bus       *events.Bus
	Engine    *payment.Engine
	Intents   *payment.IntentBuilder
	Validator *validator.Validate
}

// Options tweaks how dependencies are built.
type Options struct {
	AppName      string
	RedisMetrics bool
}

// New connects to Postgres and, when configured, Redis and Kafka, then assembles the payment services.
// Redis and Kafka are optional: without them rate limiting and settlement tasks are off.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts Options) (*Dependencies, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	d := &Dependencies{Config: cfg, Logger: logger, Validator: validator.New()}

	pool, err := NewPool(ctx, cfg.DatabaseURL, opts.AppName)
	if err != nil {
		return nil, err
	}
	d.DB = pool
	d.Ledger = ledger.New(pool)

	if cfg.RedisURL != "" {
		rdb, err := NewRedis(ctx, cfg.RedisURL, opts.RedisMetrics, logger)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.Redis = rdb
		taskOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("parse redis url for tasks: %w", err)
		}
		d.Tasks = asynq.NewClient(taskOpt)
	}
	if len(cfg.KafkaBrokers) > 0 {
		d.Kafka = events.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic)
	}

	d.Bus = &events.Bus{}
	if d.Tasks != nil {
		d.Bus.Publishers = append(d.Bus.Publishers, events.AsynqPublisher{Client: d.Tasks, Queue: cfg.AsynqQueue, MaxRetry: cfg.AsynqMaxRetry})
	} else {
		// Without a task queue, orders are settled in the request that completed the payment.
		settler := &settlement.Handler{Ledger: d.Ledger, Logger: logger.With().Str("component", "settlement").Logger()}
		d.Bus.Publishers = append(d.Bus.Publishers, settlement.Inline{Handler: settler})
		logger.Warn().Msg("redis not configured; settling orders inline")
	}
	if d.Kafka != nil {
		d.Bus.Publishers = append(d.Bus.Publishers, events.KafkaPublisher{Writer: d.Kafka})
	}

	d.Breaker = resilience.NewBreaker(cfg.CircuitMinRequests, cfg.CircuitFailureRatio, cfg.CircuitOpenFor).
		WithTarget("konnect").
		WithLogger(logger)
	d.Konnect = payment.Konnect{
		BaseURL:   cfg.KonnectAPIBaseURL(),
		AuthMode:  cfg.KonnectAuthMode,
		APIKey:    cfg.KonnectAPIKey,
		APISecret: cfg.KonnectAPISecret,
		HTTP: resilience.HTTPClient{
			Client:  &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
			Breaker: d.Breaker,
			Timeout: cfg.KonnectTimeout,
			Logger:  logger,
		},
		Logger: logger.With().Str("component", "konnect").Logger(),
	}

	d.Engine = &payment.Engine{
		Provider: d.Konnect,
		Orders:   d.Ledger,
		Payments: d.Ledger,
		Events:   d.Bus,
		Logger:   logger,
	}
	d.Intents = &payment.IntentBuilder{
		Provider: d.Konnect,
		Validate: d.Validator,
		Logger:   logger.With().Str("component", "intent").Logger(),
	}
	return d, nil
}

// Gateway is the merchant configuration applied to every intent. Callback URLs are filled per order.
func (d *Dependencies) Gateway() payment.GatewayConfig {
	cfg := d.Config
	return payment.GatewayConfig{
		WalletID:        cfg.KonnectWalletID,
		AcceptedMethods: cfg.KonnectAcceptedMethods,
		SendEmail:       cfg.KonnectSendEmail,
		WebhookURL:      cfg.KonnectNotifyURL(),
		LifespanMinutes: cfg.KonnectLifespanMinutes,
		Theme:           cfg.KonnectTheme,
	}
}

// PingDB implements health.Checker.
func (d *Dependencies) PingDB(ctx context.Context, timeout time.Duration) error {
	if d.DB == nil {
		return errors.New("db not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return d.DB.Ping(ctx)
}

// PingRedis implements health.Checker.
func (d *Dependencies) PingRedis(ctx context.Context, timeout time.Duration) error {
	if d.Redis == nil {
		return health.ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return d.Redis.Ping(ctx).Err()
}

// Close releases every connection that was opened.
func (d *Dependencies) Close() {
	if d.Kafka != nil {
		if err := d.Kafka.Close(); err != nil {
			d.Logger.Error().Err(err).Msg("close kafka writer")
		}
	}
	if d.Tasks != nil {
		if err := d.Tasks.Close(); err != nil {
			d.Logger.Error().Err(err).Msg("close task client")
		}
	}
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			d.Logger.Error().Err(err).Msg("close redis")
		}
	}
	if d.DB != nil {
		d.DB.Close()
	}
}

// NewPool opens a traced pgx pool and checks it is reachable.
func NewPool(ctx context.Context, databaseURL, appName string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	if appName != "" {
		poolConfig.ConnConfig.RuntimeParams["application_name"] = appName
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// NewRedis opens an instrumented Redis client and checks it is reachable.
func NewRedis(ctx context.Context, redisURL string, metrics bool, logger zerolog.Logger) (*redis.Client, error) {
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metrics {
		if err := redisotel.InstrumentMetrics(client); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
