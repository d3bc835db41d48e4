package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"

	"github.com/shoecom/stockledger/internal/config"
	"github.com/shoecom/stockledger/internal/event"
	handler "github.com/shoecom/stockledger/internal/handler/http"
	"github.com/shoecom/stockledger/internal/repository/postgres"
	"github.com/shoecom/stockledger/internal/repository/redis"
	"github.com/shoecom/stockledger/internal/service"
	"github.com/shoecom/stockledger/migrations"
	"github.com/shoecom/stockledger/pkg/database"
	"github.com/shoecom/stockledger/pkg/health"
	pkgkafka "github.com/shoecom/stockledger/pkg/kafka"
	"github.com/shoecom/stockledger/pkg/tracing"
)

const serviceName = "stock-ledger"

// App wires together all dependencies and runs the stock ledger service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *goredis.Client
	producer       *pkgkafka.Producer
	dlq            *pkgkafka.DLQProducer
	httpServer     *http.Server
	consumers      []*pkgkafka.Consumer
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	pool, err := database.NewPostgresPool(ctx, &database.PostgresConfig{
		Host:            cfg.PostgresHost,
		Port:            cfg.PostgresPort,
		User:            cfg.PostgresUser,
		Password:        cfg.PostgresPass,
		DBName:          cfg.PostgresDB,
		SSLMode:         cfg.PostgresSSL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnLifetime: time.Duration(cfg.DBMaxConnLifetimeMins) * time.Minute,
		MaxConnIdleTime: time.Duration(cfg.DBMaxConnIdleTimeMins) * time.Minute,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)
	if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, pool, serviceName); err != nil {
		logger.Warn("pool metrics not registered", slog.String("error", err.Error()))
	}

	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	if cfg.SlowQueryThresholdMs > 0 {
		database.SetSlowQueryLogging(time.Duration(cfg.SlowQueryThresholdMs)*time.Millisecond, logger)
	}

	// Redis is optional: without it reads go straight to Postgres and
	// consumed event ids are remembered in process memory only.
	var (
		redisClient *goredis.Client
		cache       service.StockCache
		idempotency pkgkafka.IdempotencyStore = pkgkafka.NewMemoryIdempotencyStore(cfg.IdempotencyTTL())
	)
	if cfg.RedisEnabled {
		redisClient, err = database.NewRedisClient(ctx, database.RedisConfig{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			logger.Warn("redis unavailable, running without stock cache",
				slog.String("error", err.Error()),
			)
		} else {
			cache = redis.NewStockCache(redisClient, cfg.StockCacheTTL())
			idempotency = pkgkafka.NewRedisIdempotencyStore(redisClient, serviceName+":events", cfg.IdempotencyTTL())
			logger.Info("connected to Redis", slog.String("addr", fmt.Sprintf("%s:%d", cfg.RedisHost, cfg.RedisPort)))
		}
	}

	producer := pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
	if err := pingWithRetry(ctx, "kafka producer", producer.Ping, logger); err != nil {
		logger.Warn("kafka producer ping failed after retries, continuing in degraded mode",
			slog.String("error", err.Error()),
		)
	} else {
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	}

	// Build the dependency graph.
	repos := postgres.NewRepositories(pool)
	txRunner := postgres.NewTxRunner(pool)
	eventProducer := event.NewProducer(producer, logger)
	ledger := service.NewLedgerService(repos, txRunner, cache, eventProducer, logger)
	orders := service.NewOrderService(ledger, logger)

	var (
		dlq       *pkgkafka.DLQProducer
		consumers []*pkgkafka.Consumer
	)
	if cfg.KafkaConsumersEnabled {
		dlq = pkgkafka.NewDLQProducer(cfg.KafkaBrokers, logger)
		consumers = newOrderConsumers(cfg, event.NewConsumer(orders, logger), idempotency, dlq, logger)
	}

	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthHandler.RegisterNonCritical("kafka", producer.Ping)
	if redisClient != nil {
		healthHandler.RegisterNonCritical("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}

	router, err := handler.NewRouter(handler.RouterConfig{
		ServiceName:        serviceName,
		AllowedOrigins:     cfg.CORSAllowedOrigins,
		JWTSecret:          cfg.JWTSecret,
		RateLimit:          cfg.RateLimit,
		TrustForwardHeader: cfg.TrustForwardHeader,
		PprofAllowedCIDRs:  cfg.PprofAllowedCIDRs,
	}, ledger, orders, healthHandler, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("build router: %w", err)
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		cfg:            cfg,
		logger:         logger,
		pool:           pool,
		redis:          redisClient,
		producer:       producer,
		dlq:            dlq,
		httpServer:     httpServer,
		consumers:      consumers,
		tracerShutdown: tracerShutdown,
	}, nil
}

// newOrderConsumers subscribes to the upstream order events that put stock back.
func newOrderConsumers(
	cfg *config.Config,
	handlers *event.Consumer,
	idempotency pkgkafka.IdempotencyStore,
	dlq pkgkafka.DeadLetterPublisher,
	logger *slog.Logger,
) []*pkgkafka.Consumer {
	subscriptions := []struct {
		topic  string
		handle pkgkafka.Handler
	}{
		{event.TopicOrderCanceled, handlers.HandleOrderCanceled},
		{event.TopicOrderRefunded, handlers.HandleOrderRefunded},
	}

	consumers := make([]*pkgkafka.Consumer, 0, len(subscriptions))
	for _, sub := range subscriptions {
		consumers = append(consumers, pkgkafka.NewConsumer(pkgkafka.ConsumerConfig{
			Brokers:    cfg.KafkaBrokers,
			GroupID:    cfg.KafkaConsumerGroupBase + "-" + sub.topic,
			Topic:      sub.topic,
			MinBytes:   1,
			MaxBytes:   10e6,
			EnableDLQ:  true,
			DeadLetter: dlq,
		}, pkgkafka.IdempotentHandler(idempotency, sub.handle, logger), logger))
	}
	return consumers
}

// Run starts the HTTP server and Kafka consumers, then blocks until the
// context is canceled or a component fails.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1+len(a.consumers))

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	for _, c := range a.consumers {
		go func() {
			a.logger.Info("starting kafka consumer", slog.String("topic", c.Topic()))
			if err := c.Start(ctx); err != nil {
				errCh <- fmt.Errorf("consumer %s: %w", c.Topic(), err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		a.logger.Error("component failed, shutting down", slog.String("error", err.Error()))
		return errors.Join(err, a.Shutdown())
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components in order:
// 1. HTTP server (drain in-flight requests)
// 2. Tracer (flush spans of drained requests)
// 3. Kafka consumers, then the DLQ and event producers
// 4. Redis client
// 5. PostgreSQL pool
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error
	record := func(component string, err error) {
		if err != nil {
			a.logger.Error(component+" shutdown error", slog.String("error", err.Error()))
			errs = append(errs, fmt.Errorf("%s: %w", component, err))
		}
	}

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	record("http server", a.httpServer.Shutdown(httpCtx))

	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		record("tracer", a.tracerShutdown(tracerCtx))
	}

	for _, c := range a.consumers {
		record("consumer "+c.Topic(), c.Close())
	}
	if a.dlq != nil {
		record("dlq producer", a.dlq.Close())
	}
	record("kafka producer", a.producer.Close())

	if a.redis != nil {
		record("redis", a.redis.Close())
	}

	a.pool.Close()

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

// pingWithRetry calls ping up to three times with exponential backoff
// (1s, 2s with ±25% jitter).
func pingWithRetry(ctx context.Context, name string, ping func(context.Context) error, logger *slog.Logger) error {
	return retry(ctx, name, 3, time.Second, ping, logger)
}

func retry(ctx context.Context, name string, attempts int, base time.Duration, ping func(context.Context) error, logger *slog.Logger) error {
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if lastErr = ping(ctx); lastErr == nil {
			return nil
		}
		if attempt == attempts-1 {
			break
		}
		wait := base << uint(attempt)
		wait += time.Duration(float64(wait) * 0.25 * (2*rand.Float64() - 1)) // #nosec G404 -- jitter only
		logger.Warn(name+" ping failed, retrying",
			slog.Int("attempt", attempt+1),
			slog.Int("max_attempts", attempts),
			slog.Duration("backoff", wait),
			slog.String("error", lastErr.Error()),
		)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s ping: context canceled during retry: %w", name, ctx.Err())
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("%s ping failed after %d attempts: %w", name, attempts, lastErr)
}
