package di

import (
	"context"
	"fmt"
	"io"
	"time"

	"OptionPull/internal/domain/models"
	"OptionPull/internal/domain/repository"
	"OptionPull/internal/handler/api"
	mid "OptionPull/internal/middleware"
	internalrepo "OptionPull/internal/repository"
	"OptionPull/internal/service/optionchain"
	"OptionPull/internal/service/ratelimit"
	"OptionPull/internal/services/pricing"
	"OptionPull/internal/usecase"
	"OptionPull/pkg/cache"
	pkgch "OptionPull/pkg/clickhouse"
	"OptionPull/pkg/config"
	xhttp "OptionPull/pkg/http"
	pkgkafka "OptionPull/pkg/kafka"
	applogger "OptionPull/pkg/logger"
	"OptionPull/pkg/metrics"
	"OptionPull/pkg/server"
)

const initTimeout = 15 * time.Second

// ProvideLogger creates the application logger from the log section.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(applogger.String("env", cfg.Environment), applogger.String("symbol", cfg.Upstream.Symbol)), nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New(nil)
}

// ProvideSnapshotStore opens the relational store and migrates its schema.
func ProvideSnapshotStore(cfg *config.Config, l *applogger.Logger) (*internalrepo.SnapshotStore, error) {
	db := cfg.Database
	store, err := internalrepo.NewSnapshotStore(
		internalrepo.WithDriver(db.Driver, db.DSN),
		internalrepo.WithPool(db.MaxOpenConns, db.MaxIdleConns, db.ConnMaxLifetime),
		internalrepo.WithOpTimeout(db.OpTimeout),
		internalrepo.WithConflictPolicy(internalrepo.ConflictPolicy(db.ConflictPolicy)),
		internalrepo.WithBatchSize(db.BatchSize),
		internalrepo.WithQueryLogging(db.LogQueries),
		internalrepo.WithStoreLogger(l),
	)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()
	if err := store.Init(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("store schema: %w", err)
	}
	return store, nil
}

// ProvideKafkaProducer creates a Kafka producer, or nil when streaming is disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	p := cfg.Kafka.Producer
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(p.BatchSize, p.BatchBytes, p.Linger),
		pkgkafka.WithTimeouts(p.WriteTimeout, p.ReadTimeout),
		pkgkafka.WithMaxAttempts(p.MaxAttempts),
		pkgkafka.WithHashByKey(true),
		pkgkafka.WithHeaders(map[string]string{"source": "optionpull"}),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvidePublisher wraps the Kafka publisher in the retrying pipeline. It returns a
// nil interface when streaming is disabled.
func ProvidePublisher(producer *pkgkafka.Producer, m repository.Metrics, cfg *config.Config, l *applogger.Logger) repository.Publisher {
	if producer == nil {
		return nil
	}
	p := cfg.Kafka.Producer
	return mid.NewPublishPipeline(
		internalrepo.NewKafkaPublisher(producer, cfg.Kafka.Topic),
		m,
		mid.WithRetries(p.Retries),
		mid.WithBackoff(p.RetryBackoff, 10*p.RetryBackoff),
		mid.WithPipelineLogger(l),
	)
}

// ProvideChainFetcher creates the upstream option-chain client.
func ProvideChainFetcher(cfg *config.Config, l *applogger.Logger) repository.ChainFetcher {
	headers := map[string]string{"User-Agent": cfg.Upstream.UserAgent}
	for k, v := range cfg.Upstream.Headers {
		headers[k] = v
	}
	return optionchain.New(cfg.Upstream.BaseURL,
		optionchain.WithTimeout(cfg.Upstream.Timeout),
		optionchain.WithHeaders(headers),
		optionchain.WithLogger(l),
	)
}

// ProvidePricingEngine creates the Greeks and Monte-Carlo engine.
func ProvidePricingEngine(cfg *config.Config) *pricing.Engine {
	in := cfg.Ingest
	opts := []pricing.Option{
		pricing.WithRiskFreeRate(in.RiskFreeRate),
		pricing.WithPaths(in.MonteCarloPaths),
		pricing.WithLiquidityThreshold(in.LiquidityThreshold),
		pricing.WithSimulation(in.Simulate),
		pricing.WithWorkers(in.Workers),
	}
	if in.MonteCarloSeed != 0 {
		opts = append(opts, pricing.WithSeed(in.MonteCarloSeed))
	}
	return pricing.NewEngine(opts...)
}

// ProvideRedisCache connects to Redis, or returns nil when it is disabled.
func ProvideRedisCache(cfg *config.Config) (*cache.RedisCache, error) {
	r := cfg.Redis
	if !r.Enabled {
		return nil, nil
	}
	opts := []cache.RedisOption{cache.WithRedisPrefix(r.Prefix), cache.WithRedisAuth(r.Password, r.DB)}
	if r.URL != "" {
		opts = append(opts, cache.WithRedisURL(r.URL))
	} else {
		opts = append(opts, cache.WithRedisAddr(r.Host, r.Port))
	}
	rc, err := cache.NewRedisCache(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return rc, nil
}

// ProvideChainCache puts an in-process layer in front of Redis for the read API.
func ProvideChainCache(rc *cache.RedisCache) cache.Service {
	if rc == nil {
		return nil
	}
	return cache.NewLayeredCache(rc, cache.WithLayeredMemorySize(64), cache.WithLayeredMemoryTTL(10*time.Second))
}

// ProvideCycleLock returns the Redis lock, or nil for a single-replica deployment.
func ProvideCycleLock(rc *cache.RedisCache) repository.CycleLock {
	if rc == nil {
		return nil
	}
	return rc
}

// ProvideObservationService creates the read-side service.
func ProvideObservationService(store repository.Storage, c cache.Service, cfg *config.Config, l *applogger.Logger) *usecase.ObservationService {
	return usecase.NewObservationService(store, c, cfg.Upstream.Symbol, cfg.API.LatestChainTTL, l)
}

// ProvideChainFeed creates the websocket feed of persisted cycles.
func ProvideChainFeed(cfg *config.Config, l *applogger.Logger) *api.ChainFeed {
	return api.NewChainFeed(cfg.Upstream.Symbol, cfg.API.FeedBufferSize, l)
}

// ProvideCycleProcessor creates the cycle processor and subscribes the read side to it.
func ProvideCycleProcessor(
	fetcher repository.ChainFetcher,
	engine *pricing.Engine,
	store repository.Storage,
	pub repository.Publisher,
	m repository.Metrics,
	obs *usecase.ObservationService,
	feed *api.ChainFeed,
	cfg *config.Config,
	l *applogger.Logger,
) *usecase.CycleProcessor {
	proc := usecase.NewCycleProcessor(fetcher, engine, store, pub, m, cfg.Upstream.Symbol, l)
	proc.AddObserver(obs)
	proc.AddObserver(feed)
	return proc
}

// ProvideIngestionLoop creates the periodic loop, guarded by the cycle lock when present.
func ProvideIngestionLoop(proc *usecase.CycleProcessor, m repository.Metrics, lock repository.CycleLock, cfg *config.Config, l *applogger.Logger) *usecase.IngestionLoop {
	opts := []usecase.LoopOption{usecase.WithLoopLogger(l)}
	if lock != nil {
		opts = append(opts, usecase.WithCycleLock(lock, cache.Key("cycle", cfg.Upstream.Symbol), cfg.Ingest.LockTTL))
	}
	return usecase.NewIngestionLoop(proc, m, cfg.Ingest.Interval, cfg.Ingest.CycleTimeout, opts...)
}

// ProvideClickHouseClient creates a ClickHouse client, or nil when the mirror is disabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	ch := cfg.ClickHouse
	if !ch.Enabled {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()
	client, err := pkgch.NewClient(ctx,
		pkgch.WithAddress(ch.Host, ch.Port),
		pkgch.WithDatabase(ch.Database),
		pkgch.WithCredentials(ch.User, ch.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(ch.UseHTTP),
		pkgch.WithAsyncInsert(ch.AsyncInsert, ch.WaitForAsync),
		pkgch.WithTimeouts(ch.DialTimeout, ch.ReadTimeout),
		pkgch.WithMaxExecutionTime(ch.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// ProvideClickHouseMirror creates the mirror table writer.
func ProvideClickHouseMirror(client *pkgch.Client, cfg *config.Config, l *applogger.Logger) (*internalrepo.ClickHouseMirror, error) {
	if client == nil {
		return nil, nil
	}
	mirror := internalrepo.NewClickHouseMirror(client, cfg.ClickHouse.Table, l)

	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()
	if err := mirror.Init(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return mirror, nil
}

// ProvideKafkaConsumer creates the stream consumer feeding the mirror, or nil when
// there is no mirror to feed.
func ProvideKafkaConsumer(mirror *internalrepo.ClickHouseMirror, m repository.Metrics, cfg *config.Config, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if mirror == nil {
		return nil, nil
	}
	cc := cfg.Kafka.Consumer
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cc.GroupID),
		pkgkafka.WithConsumerWorkers(cc.Workers),
		pkgkafka.WithConsumerBufferSize(cc.BufferSize),
		pkgkafka.WithConsumerRetry(cc.RetryMax, cc.BackoffMin, cc.BackoffMax),
		pkgkafka.WithConsumerDLQ(cc.DLQTopic),
		pkgkafka.WithConsumerFetch(cc.MinBytes, cc.MaxBytes),
		pkgkafka.WithConsumerLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.NewHookChain(
		pkgkafka.SchemaHook(internalrepo.SchemaHeader, models.MessageSchema),
	))
	consumer.RegisterHandler(usecase.NewKafkaObservationsHandler(cfg.Kafka.Topic, mirror, m, cfg.Database.OpTimeout))
	return consumer, nil
}

// ProvideRateLimiter creates the per-client limiter for the read API.
func ProvideRateLimiter(cfg *config.Config) *ratelimit.Limiter {
	return ratelimit.New(cfg.API.RateBurst, cfg.API.RateLimit)
}

// ProvideObservationsHandler creates the read API handler.
func ProvideObservationsHandler(l *applogger.Logger, svc *usecase.ObservationService, loop *usecase.IngestionLoop) *api.ObservationsEchoHandler {
	return api.NewObservationsEchoHandler(l, svc, loop)
}

// ProvideHTTPServer creates the Echo server, or nil when it is disabled.
func ProvideHTTPServer(
	cfg *config.Config,
	l *applogger.Logger,
	h *api.ObservationsEchoHandler,
	feed *api.ChainFeed,
	limiter *ratelimit.Limiter,
) *xhttp.Server {
	if !cfg.Server.Enabled {
		return nil
	}
	opts := []xhttp.ServerOption{
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCompression(cfg.API.Compression),
		xhttp.WithSlowRequestThreshold(cfg.API.SlowRequestWarn),
	}
	if cfg.API.RateLimit > 0 {
		opts = append(opts, xhttp.WithRateLimiter(limiter))
	}
	return xhttp.NewServer(l, []xhttp.Handler{h, feed}, opts...)
}

// ProvideApp creates the application and attaches the Kafka log collector when configured.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	loop *usecase.IngestionLoop,
	proc *usecase.CycleProcessor,
	httpServer *xhttp.Server,
	feed *api.ChainFeed,
	consumer *pkgkafka.Consumer,
	producer *pkgkafka.Producer,
	rc *cache.RedisCache,
	chClient *pkgch.Client,
) *server.App {
	if producer != nil && cfg.Log.CollectorTopic != "" {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval: cfg.Log.CollectorInterval,
			Topic:        cfg.Log.CollectorTopic,
			Source:       "optionpull",
			Publisher:    producer,
		})
	}
	var closers []io.Closer
	if rc != nil {
		closers = append(closers, rc)
	}
	if chClient != nil {
		closers = append(closers, chClient)
	}
	return server.New(cfg, l,
		server.WithLoop(loop, proc),
		server.WithHTTPServer(httpServer, feed),
		server.WithConsumer(consumer),
		server.WithClosers(closers...),
	)
}
