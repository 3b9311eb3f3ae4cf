package di

import (
	"context"
	"fmt"
	"time"

	"CascadeAdvisor/internal/domain/models"
	domrepo "CascadeAdvisor/internal/domain/repository"
	domsvc "CascadeAdvisor/internal/domain/service"
	"CascadeAdvisor/internal/handler/api"
	mid "CascadeAdvisor/internal/middleware"
	internalrepo "CascadeAdvisor/internal/repository"
	"CascadeAdvisor/internal/repository/memory"
	"CascadeAdvisor/internal/repository/postgres"
	svccache "CascadeAdvisor/internal/service/cache"
	"CascadeAdvisor/internal/service/finnhub"
	svcmetrics "CascadeAdvisor/internal/service/metrics"
	"CascadeAdvisor/internal/service/ratelimit"
	"CascadeAdvisor/internal/services/analytics"
	"CascadeAdvisor/internal/services/auth"
	"CascadeAdvisor/internal/usecase"
	pkgcache "CascadeAdvisor/pkg/cache"
	pkgch "CascadeAdvisor/pkg/clickhouse"
	"CascadeAdvisor/pkg/config"
	xhttp "CascadeAdvisor/pkg/http"
	"CascadeAdvisor/pkg/http/middleware"
	pkgkafka "CascadeAdvisor/pkg/kafka"
	"CascadeAdvisor/pkg/logger"
	"CascadeAdvisor/pkg/metrics"
	"CascadeAdvisor/pkg/queue"
	"CascadeAdvisor/pkg/server"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

const startupTimeout = 15 * time.Second

// Stores holds the repositories selected by storage.backend.
type Stores struct {
	Watchlists  domrepo.WatchlistRepository
	Mutator     domrepo.WatchlistMutator
	Suggestions domrepo.SuggestionRepository
	Signals     domrepo.SignalRepository
	Executions  domrepo.ExecutionRepository
	Profiles    domrepo.RiskProfileRepository

	pool *pgxpool.Pool
}

// ProvideLogger builds the application logger.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	l, err := logger.New(&logger.Config{
		Level:  cfg.Logger.Level,
		Format: cfg.Logger.Format,
		Output: cfg.Logger.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l, nil
}

// ProvideStores opens the configured storage backend. The postgres backend
// is migrated and its default watchlist seeded before use.
func ProvideStores(cfg *config.Config, log *logger.Logger) (*Stores, func(), error) {
	if cfg.Storage.Backend != "postgres" {
		wl := memory.NewWatchlistStore(cfg.Storage.DefaultMaxAssets, cfg.Storage.DefaultAssets...)
		return &Stores{
			Watchlists:  wl,
			Mutator:     wl,
			Suggestions: memory.NewSuggestionStore(),
			Signals:     memory.NewSignalStore(),
			Executions:  memory.NewExecutionStore(),
			Profiles:    memory.NewRiskProfileStore(),
		}, func() {}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	pool, err := postgres.Open(ctx, cfg.Storage.PostgresDSN, cfg.Storage.MaxConns)
	if err != nil {
		return nil, nil, err
	}
	if err := postgres.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres migrate: %w", err)
	}

	wl := postgres.NewWatchlistStore(pool)
	if err := seedDefaultWatchlist(ctx, wl, cfg.Storage.DefaultMaxAssets, cfg.Storage.DefaultAssets); err != nil {
		pool.Close()
		return nil, nil, err
	}
	log.Info("di.postgres ready", logger.Int("max_conns", int(cfg.Storage.MaxConns)))

	return &Stores{
		Watchlists:  wl,
		Mutator:     wl,
		Suggestions: postgres.NewSuggestionStore(pool),
		Signals:     postgres.NewSignalStore(pool),
		Executions:  postgres.NewExecutionStore(pool),
		Profiles:    postgres.NewRiskProfileStore(pool),
		pool:        pool,
	}, pool.Close, nil
}

func seedDefaultWatchlist(ctx context.Context, wl *postgres.WatchlistStore, maxAssets int, assets []string) error {
	if err := wl.EnsureDefault(ctx, maxAssets); err != nil {
		return err
	}
	def, err := wl.Default(ctx)
	if err != nil {
		return fmt.Errorf("load default watchlist: %w", err)
	}
	items, err := wl.Items(ctx, def.ID)
	if err != nil {
		return fmt.Errorf("load default watchlist items: %w", err)
	}
	if len(items) > 0 {
		return nil
	}
	for _, a := range assets {
		if err := wl.AddAsset(ctx, def.ID, a); err != nil {
			return fmt.Errorf("seed default watchlist %s: %w", a, err)
		}
	}
	return nil
}

// ProvideAuditRepository selects the audit sink by audit.backend.
func ProvideAuditRepository(cfg *config.Config, stores *Stores, log *logger.Logger) (domrepo.AuditRepository, func(), error) {
	switch cfg.Audit.Backend {
	case "postgres":
		if stores.pool == nil {
			return nil, nil, fmt.Errorf("audit: postgres backend needs postgres storage")
		}
		return postgres.NewAuditStore(stores.pool), func() {}, nil
	case "clickhouse":
		client, err := ProvideClickHouseClient(cfg)
		if err != nil {
			return nil, nil, err
		}
		cleanup := func() {
			if err := client.Close(); err != nil {
				log.Warn("di.clickhouse close failed", logger.Error(err))
			}
		}
		return internalrepo.NewCHAuditStore(client.DB(), log), cleanup, nil
	default:
		return memory.NewAuditStore(), func() {}, nil
	}
}

// ProvideClickHouseClient creates a ClickHouse client and ensures the audit
// schema exists.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	client, err := pkgch.NewClient(ctx,
		pkgch.WithAddress(cfg.ClickHouse.Host, cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	if err := client.InitSchema(ctx, internalrepo.AuditSchema); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

// ProvideRedisCache connects to Redis when enabled. It returns nil otherwise.
func ProvideRedisCache(cfg *config.Config) (*pkgcache.RedisCache, func(), error) {
	if !cfg.Redis.Enabled {
		return nil, func() {}, nil
	}
	rc, err := pkgcache.NewRedisCache(
		pkgcache.WithRedisHost(cfg.Redis.Host),
		pkgcache.WithRedisPort(cfg.Redis.Port),
		pkgcache.WithRedisPassword(cfg.Redis.Password),
		pkgcache.WithRedisDB(cfg.Redis.DB),
		pkgcache.WithRedisPool(cfg.Redis.PoolSize, cfg.Redis.PoolSize/2, 5*time.Second),
		pkgcache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	return rc, func() { _ = rc.Close() }, nil
}

// ProvideCacheStore returns a memory-fronted Redis cache when Redis is
// available and a process-local cache otherwise. Replicas sharing Redis
// drop each other's memory copies on delete.
func ProvideCacheStore(cfg *config.Config, rc *pkgcache.RedisCache) (pkgcache.Service, func()) {
	if rc != nil {
		lc := pkgcache.NewLayeredCache(rc,
			pkgcache.WithLayeredMemorySize(cfg.Cascade.MemoryCacheSize),
			pkgcache.WithLayeredInvalidation("cache:invalidate"))
		return lc, lc.StopInvalidation
	}
	mc := pkgcache.NewMemoryCache(pkgcache.WithMemoryMaxSize(cfg.Cascade.MemoryCacheSize))
	return mc, func() { _ = mc.Close() }
}

func ProvideStageCache(cfg *config.Config, store pkgcache.Service) *svccache.StageCache {
	return svccache.NewStageCache(store, cfg.Cascade.StalenessCeiling)
}

func ProvideCascadeMetrics() *svcmetrics.CascadeMetrics {
	return svcmetrics.NewCascadeMetrics(prometheus.DefaultRegisterer)
}

// ProvidePriceMetrics creates the Prometheus recorder for the price feed.
func ProvidePriceMetrics() domrepo.Metrics {
	return metrics.New(prometheus.DefaultRegisterer)
}

// ProvidePriceBook keeps latest prices in Redis when it is enabled so every
// instance sees the same marks.
func ProvidePriceBook(cfg *config.Config, rc *pkgcache.RedisCache) domrepo.PriceBook {
	if rc != nil {
		return internalrepo.NewRedisPriceBook(rc.Client(), cfg.Redis.Prefix+":prices")
	}
	return memory.NewPriceBook()
}

// ProvideJobQueue creates the Redis job queue and routes aggregated error
// logs to a separate producer-only stream. It returns nil without Redis.
func ProvideJobQueue(cfg *config.Config, log *logger.Logger, rc *pkgcache.RedisCache) (*queue.RedisQueue, func()) {
	if rc == nil {
		return nil, func() {}
	}
	q := queue.NewRedisQueue(log, &queue.QueueConfig{
		Workers:    cfg.Queue.Workers,
		RetryLimit: cfg.Queue.RetryLimit,
		RetryDelay: cfg.Queue.RetryDelay,
	}, rc.Client(), queue.ModeProducerConsumer, queue.WithKeyPrefix(cfg.Redis.Prefix+":"+cfg.Queue.Name))

	logs := queue.NewRedisPublisher(log, rc.Client(), queue.WithKeyPrefix(cfg.Redis.Prefix+":logs"))
	log.AddCollector(&logger.CollectionConfig{
		TimeInterval:   cfg.Logger.CollectorInterval,
		CountThreshold: cfg.Logger.CollectorCount,
		Topic:          cfg.Logger.CollectorTopic,
		Publisher:      logs,
	})
	return q, log.RemoveCollector
}

func ProvideAuditLog(repo domrepo.AuditRepository, cm *svcmetrics.CascadeMetrics, log *logger.Logger) *usecase.AuditLog {
	return usecase.NewAuditLog(repo, log, usecase.WithAuditMetrics(cm))
}

// ProvideOrchestrator wires the four analytics adapters into the cascade.
func ProvideOrchestrator(
	cfg *config.Config,
	watchlists domrepo.WatchlistRepository,
	stageCache *svccache.StageCache,
	cm *svcmetrics.CascadeMetrics,
	log *logger.Logger,
) (*usecase.CascadeOrchestrator, error) {
	o, err := usecase.NewCascadeOrchestrator(
		analytics.Adapters(cfg, watchlists),
		stageCache,
		cm,
		log,
		usecase.WithWeights(cfg.Cascade.Weights...),
		usecase.WithTTLs(cfg.Cascade.GlobalTTL, cfg.Cascade.WatchlistTTL),
		usecase.WithStageTimeout(cfg.Cascade.StageTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("cascade orchestrator: %w", err)
	}
	return o, nil
}

// ProvideSuggestionManager routes approvals through the job queue when one
// is available.
func ProvideSuggestionManager(
	cfg *config.Config,
	stores *Stores,
	audit *usecase.AuditLog,
	stageCache *svccache.StageCache,
	q *queue.RedisQueue,
	cm *svcmetrics.CascadeMetrics,
	log *logger.Logger,
) *usecase.SuggestionManager {
	kinds := make([]models.SuggestionKind, 0, len(cfg.Suggestions.AutoApproveKinds))
	for _, k := range cfg.Suggestions.AutoApproveKinds {
		kinds = append(kinds, models.SuggestionKind(k))
	}
	opts := []usecase.SuggestionOption{
		usecase.WithSuggestionConfig(usecase.SuggestionConfig{
			TTL:                  cfg.Suggestions.TTL,
			AutoApproveThreshold: cfg.Suggestions.AutoApproveThreshold,
			AutoApproveKinds:     kinds,
		}),
		usecase.WithInvalidator(stageCache),
	}
	if q != nil {
		opts = append(opts, usecase.WithDispatcher(usecase.NewQueueDispatcher(q)))
	}
	return usecase.NewSuggestionManager(stores.Suggestions, stores.Mutator, audit, cm, log, opts...)
}

func ProvideSignalManager(
	cfg *config.Config,
	stores *Stores,
	audit *usecase.AuditLog,
	book domrepo.PriceBook,
	cm *svcmetrics.CascadeMetrics,
	log *logger.Logger,
) (*usecase.SignalManager, error) {
	maxPos, err := decimal.NewFromString(cfg.Signals.DefaultMaxPositionSize)
	if err != nil {
		return nil, fmt.Errorf("signals.default_max_position_size: %w", err)
	}
	maxRisk, err := decimal.NewFromString(cfg.Signals.DefaultMaxPortfolioRisk)
	if err != nil {
		return nil, fmt.Errorf("signals.default_max_portfolio_risk: %w", err)
	}
	return usecase.NewSignalManager(stores.Signals, stores.Executions, stores.Profiles, audit, cm, log,
		usecase.WithSignalConfig(usecase.SignalConfig{
			DefaultMaxPositionSize:  maxPos,
			DefaultMaxPortfolioRisk: maxRisk,
		}),
		usecase.WithPriceBook(book),
	), nil
}

func ProvideTokenVerifier(cfg *config.Config) domsvc.TokenVerifier {
	return auth.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
}

func ProvideRateLimiter(cfg *config.Config) middleware.Allower {
	return ratelimit.New(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
}

// ProvideSweeper runs at the shorter of the two configured sweep intervals
// and shares the cache store as its cross-instance lock.
func ProvideSweeper(
	cfg *config.Config,
	sm *usecase.SuggestionManager,
	sig *usecase.SignalManager,
	store pkgcache.Service,
	log *logger.Logger,
) *usecase.ExpirySweeper {
	interval := cfg.Suggestions.SweepInterval
	if s := cfg.Signals.SweepInterval; s > 0 && (interval <= 0 || s < interval) {
		interval = s
	}
	return usecase.NewExpirySweeper(sm, sig, store, interval, log)
}

// ProvidePriceFeed assembles the live price components when prices are
// enabled. With the kafka transport ticks go stream -> kafka -> price book;
// with direct they go straight to the book.
func ProvidePriceFeed(cfg *config.Config, log *logger.Logger, book domrepo.PriceBook, rec domrepo.Metrics) (*server.PriceFeed, error) {
	if !cfg.Prices.Enabled {
		return &server.PriceFeed{}, nil
	}

	feed := &server.PriceFeed{}
	var pub domrepo.TickPublisher
	if cfg.Prices.Transport == usecase.TransportKafka {
		producer, err := ProvideKafkaProducer(cfg)
		if err != nil {
			return nil, err
		}
		pub = internalrepo.NewKafkaTickPublisher(producer, cfg.Kafka.Topic)

		consumer, err := ProvideKafkaConsumer(cfg, log)
		if err != nil {
			_ = producer.Close()
			return nil, err
		}
		feed.Consumer = consumer
	}

	proc := usecase.NewTickProcessor(book, pub, rec, cfg.Prices.Transport, cfg.Prices.SymbolAssets)
	if feed.Consumer != nil {
		feed.Ticks = usecase.NewKafkaTicksHandler(cfg.Kafka.Topic, proc, book, rec)
	}

	stream := finnhub.New(
		cfg.Finnhub.APIKey,
		cfg.Finnhub.WebSocketURL,
		cfg.Finnhub.Symbols,
		cfg.Finnhub.ReconnectDelay,
		cfg.Finnhub.PingInterval,
		log,
	)
	pipe := mid.NewRealtimePipeline(proc, rec,
		mid.WithMinInterval(cfg.Prices.MinInterval),
		mid.WithBufferSize(cfg.Prices.BufferSize),
	)
	feed.Collector = usecase.NewTickCollector(stream, proc, rec, pipe, log)
	return feed, nil
}

// ProvideKafkaProducer creates a Kafka producer.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideKafkaConsumer creates a Kafka consumer configured from YAML.
func ProvideKafkaConsumer(cfg *config.Config, log *logger.Logger) (*pkgkafka.Consumer, error) {
	consumer, err := pkgkafka.NewConsumer(log,
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvideHTTPServer mounts the advisor API on the shared Echo server.
func ProvideHTTPServer(cfg *config.Config, log *logger.Logger, h *api.AdvisorHandler) *xhttp.Server {
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	return xhttp.NewServer(log, h,
		xhttp.WithHost(cfg.Server.Host),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithMetricsPath(metricsPath),
	)
}

// ProvideApp registers queue jobs and assembles the application.
func ProvideApp(
	cfg *config.Config,
	log *logger.Logger,
	srv *xhttp.Server,
	sweeper *usecase.ExpirySweeper,
	q *queue.RedisQueue,
	sm *usecase.SuggestionManager,
	feed *server.PriceFeed,
) *server.App {
	if q != nil {
		q.RegisterJob(usecase.NewImplementSuggestionJob(sm, log))
	}
	return server.New(cfg, log, srv, sweeper, q, feed)
}
