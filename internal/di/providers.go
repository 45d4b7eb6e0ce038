package di

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/segmentio/kafka-go"

	drepo "Genesis/internal/domain/repository"
	domsvc "Genesis/internal/domain/service"
	"Genesis/internal/handler/api"
	internalrepo "Genesis/internal/repository"
	"Genesis/internal/service/quotes"
	"Genesis/internal/service/ratelimit"
	"Genesis/internal/services/analytics"
	"Genesis/internal/services/exitmodel"
	"Genesis/internal/services/positions"
	"Genesis/internal/services/scoring"
	"Genesis/internal/services/tables"
	"Genesis/internal/usecase"
	"Genesis/pkg/cache"
	pkgch "Genesis/pkg/clickhouse"
	"Genesis/pkg/config"
	xhttp "Genesis/pkg/http"
	"Genesis/pkg/http/middleware"
	pkgkafka "Genesis/pkg/kafka"
	applogger "Genesis/pkg/logger"
	"Genesis/pkg/metrics"
	"Genesis/pkg/postgres"
	"Genesis/pkg/queue"
	"Genesis/pkg/server"
)

// Stores groups the signal and trade persistence.
type Stores struct {
	Signals drepo.SignalStore
	Trades  drepo.TradeStore
	Health  api.HealthCheck
}

// Tables are the scoring lookup tables.
type Tables struct {
	Weights    tables.Source[tables.WeightTable]
	Thresholds tables.Source[tables.ThresholdTable]
}

// Quotes is the optional streaming price book. Both fields are nil when streaming is off.
type Quotes struct {
	Book   *quotes.Book
	Feeder *quotes.Feeder
}

// CommandQueue executes broker commands published on the redis queue.
type CommandQueue struct {
	Consumer *queue.RedisQueue
}

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	l.Info("starting genesis",
		applogger.String("env", cfg.Environment),
		applogger.String("storage", cfg.Storage.Backend),
		applogger.String("market_data", cfg.MarketData.Source),
		applogger.String("broker", cfg.Broker.Transport),
	)
	return l, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() drepo.Metrics {
	return metrics.New()
}

// ProvideRedisCache connects to redis. Nil when redis is disabled.
func ProvideRedisCache(cfg *config.Config) (*cache.RedisCache, func(), error) {
	if !cfg.Redis.Enabled {
		return nil, func() {}, nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisAddr(net.JoinHostPort(cfg.Redis.Host, strconv.Itoa(cfg.Redis.Port))),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	return rc, func() { _ = rc.Close() }, nil
}

// ProvideQueuePublisher creates the redis queue publisher shared by the broker and the log collector.
func ProvideQueuePublisher(cfg *config.Config, l *applogger.Logger, rc *cache.RedisCache) (*queue.RedisQueue, func()) {
	if rc == nil {
		return nil, func() {}
	}
	pub := queue.NewRedisPublisher(l, rc.Client(), queue.WithKeyPrefix(cfg.Broker.Queue.KeyPrefix))
	if cfg.Logging.Collect.Enabled {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   cfg.Logging.Collect.Interval,
			CountThreshold: cfg.Logging.Collect.Threshold,
			Topic:          cfg.Logging.Collect.Topic,
			Publisher:      pub,
		})
	}
	return pub, func() {
		l.RemoveCollector()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = pub.Stop(ctx)
	}
}

// ProvideStores opens postgres and applies the schema, or builds the in-memory store.
func ProvideStores(cfg *config.Config, l *applogger.Logger) (*Stores, func(), error) {
	if cfg.Storage.Backend == "memory" {
		mem := internalrepo.NewMemoryStore()
		l.Warn("using in-memory storage, state is lost on restart")
		return &Stores{
			Signals: mem.Signals(),
			Trades:  mem.Trades(),
			Health:  func(context.Context) error { return nil },
		}, func() {}, nil
	}

	client, err := postgres.NewClient(
		postgres.WithDSN(cfg.PostgresDSN()),
		postgres.WithPoolSize(cfg.Postgres.MaxConns, cfg.Postgres.MinConns),
		postgres.WithConnectTimeout(cfg.Postgres.ConnectTimeout),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := client.Migrate(ctx, internalrepo.PostgresSchema); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("postgres schema: %w", err)
	}

	return &Stores{
		Signals: internalrepo.NewPGSignalStore(client.Pool(), l),
		Trades:  internalrepo.NewPGTradeStore(client.Pool(), l),
		Health:  client.Health,
	}, func() { _ = client.Close() }, nil
}

// ProvideClickHouseClient creates a ClickHouse client when candles are read from or archived to it.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, func(), error) {
	if cfg.MarketData.Source != "clickhouse" && !cfg.ClickHouse.Archive {
		return nil, func() {}, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, internalrepo.CandleSchema(cfg.ClickHouse.Database)); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, func() { _ = client.Close() }, nil
}

// ProvideMarketData builds the candle source: OANDA or ClickHouse, optionally archived and cached.
func ProvideMarketData(cfg *config.Config, l *applogger.Logger, ch *pkgch.Client, rc *cache.RedisCache) (drepo.MarketData, func(), error) {
	var md drepo.MarketData
	switch cfg.MarketData.Source {
	case "clickhouse":
		if ch == nil {
			return nil, nil, fmt.Errorf("market data: clickhouse client not configured")
		}
		md = internalrepo.NewCHCandleStore(ch, cfg.ClickHouse.Database, l)
	default:
		oanda := internalrepo.NewOANDAMarketData(internalrepo.OANDAConfig{
			BaseURL: cfg.OANDA.BaseURL,
			Token:   cfg.OANDA.Token,
			Timeout: cfg.OANDA.Timeout,
		}, l)
		md = oanda
		if cfg.ClickHouse.Archive && ch != nil {
			md = internalrepo.NewArchivingMarketData(oanda, internalrepo.NewCHCandleStore(ch, cfg.ClickHouse.Database, l), l)
		}
	}

	cleanup := func() {}
	var svc cache.Service
	switch {
	case cfg.MarketData.Cache == "memory":
		mc := cache.NewMemoryCache()
		svc, cleanup = mc, func() { _ = mc.Close() }
	case cfg.MarketData.Cache == "redis" && rc != nil:
		svc = rc
	case cfg.MarketData.Cache == "layered" && rc != nil:
		lc := cache.NewLayeredCache(rc, cache.WithLayeredMemoryTTL(cfg.MarketData.CacheTTL))
		svc, cleanup = lc, func() { _ = lc.Close() }
	}
	if svc != nil {
		md = internalrepo.NewCachedMarketData(md, svc, cfg.MarketData.CacheTTL, l)
	}
	return md, cleanup, nil
}

// ProvideTables loads the weight and threshold tables.
func ProvideTables(cfg *config.Config, l *applogger.Logger) *Tables {
	policy := tables.ParsePolicy(cfg.Tables.Reload)
	thresholds := tables.DefaultThresholds()
	thresholds.Default = cfg.Scoring.MinTechnical
	return &Tables{
		Weights: tables.NewReloadable(cfg.Tables.WeightsPath, tables.ParseWeights,
			tables.DefaultWeights(), policy, l.With("weights")),
		Thresholds: tables.NewReloadable(cfg.Tables.ThresholdsPath, tables.ParseThresholds,
			thresholds, policy, l.With("thresholds")),
	}
}

// ProvideTechnical creates the technical scoring layer.
func ProvideTechnical(cfg *config.Config, l *applogger.Logger, market drepo.MarketData, t *Tables) *scoring.Technical {
	return scoring.NewTechnical(market, t.Weights, scoring.TechnicalConfig{
		Timeframe:   drepo.NormalizeTimeframe(cfg.MarketData.Timeframe),
		CandleCount: cfg.MarketData.CandleCount,
		Timeout:     cfg.MarketData.Timeout,
	}, l.With("technical"))
}

// ProvideScorer assembles the three scoring layers.
func ProvideScorer(cfg *config.Config, l *applogger.Logger, stores *Stores, technical *scoring.Technical,
	t *Tables, rc *cache.RedisCache) *scoring.Scorer {
	opts := []scoring.PerformanceOption{scoring.WithLookback(cfg.Scoring.PerformanceLookback)}
	if rc != nil {
		opts = append(opts, scoring.WithPerformanceCache(rc, cfg.Scoring.PerformanceCacheTTL))
	}
	performance := scoring.NewPerformance(stores.Trades, l.With("performance"), opts...)

	pairs := make([]scoring.CorrelationPair, 0, len(cfg.Correlation.Pairs))
	for _, p := range cfg.Correlation.Pairs {
		pairs = append(pairs, scoring.CorrelationPair{A: p.A, B: p.B, Value: p.Value})
	}
	guard := scoring.NewCorrelationGuard(stores.Trades, scoring.NewCorrelationTable(pairs),
		cfg.Scoring.CorrelationThreshold, l.With("correlation"))

	return scoring.NewScorer(technical, performance, guard, t.Thresholds, cfg.Scoring.BaseConfidence, l.With("scorer"))
}

// ProvideMerger creates the duplicate signal merger.
func ProvideMerger(cfg *config.Config, l *applogger.Logger, stores *Stores) *scoring.Merger {
	return scoring.NewMerger(stores.Signals, scoring.Tolerance{
		Metals:  cfg.Scoring.Tolerance.Metals,
		JPY:     cfg.Scoring.Tolerance.JPY,
		Default: cfg.Scoring.Tolerance.Default,
	}, l.With("merger"))
}

// ProvideSignalIntake creates the intake use case.
func ProvideSignalIntake(cfg *config.Config, l *applogger.Logger, stores *Stores, merger *scoring.Merger,
	scorer *scoring.Scorer, m drepo.Metrics) *usecase.SignalIntake {
	return usecase.NewSignalIntake(stores.Signals, merger, scorer, m, l.With("intake"), cfg.Scoring.StoreTimeout)
}

// ProvideExitModel selects the artifact-file or remote exit model.
func ProvideExitModel(cfg *config.Config, l *applogger.Logger) domsvc.ExitModel {
	if cfg.ExitModel.Backend == "http" {
		return analytics.NewHTTPExitModel(analytics.ServiceConfig{
			BaseURL: cfg.ExitModel.ServiceURL,
			Timeout: cfg.ExitModel.Timeout,
			Retries: cfg.ExitModel.Retries,
		}, l.With("exit_model"))
	}
	return exitmodel.NewFileModel(cfg.ExitModel.Dir, exitmodel.NewModelCache(), l.With("exit_model"))
}

// ProvideKafkaProducer creates a Kafka producer. Nil without brokers.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, func(), error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, func() {}, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, func() { _ = producer.Close() }, nil
}

// ProvideBroker publishes close and modify commands on the configured transport.
func ProvideBroker(cfg *config.Config, producer *pkgkafka.Producer, pub *queue.RedisQueue) (drepo.Broker, error) {
	switch cfg.Broker.Transport {
	case "queue":
		if pub == nil {
			return nil, fmt.Errorf("broker: redis queue not configured")
		}
		return internalrepo.NewQueueBroker(pub), nil
	default:
		if producer == nil {
			return nil, fmt.Errorf("broker: kafka producer not configured")
		}
		return internalrepo.NewKafkaBroker(producer, cfg.Broker.Topic), nil
	}
}

// ProvideCommandQueue starts an in-process OANDA executor for queued commands.
// Only used with the queue transport and an OANDA account; otherwise commands are left to an external bridge.
func ProvideCommandQueue(cfg *config.Config, l *applogger.Logger, rc *cache.RedisCache) *CommandQueue {
	if cfg.Broker.Transport != "queue" || rc == nil || cfg.OANDA.AccountID == "" {
		return &CommandQueue{}
	}
	client := xhttp.NewClient(
		xhttp.WithTimeout(cfg.OANDA.Timeout),
		xhttp.WithHeader("Authorization", "Bearer "+cfg.OANDA.Token),
	)
	exec := internalrepo.NewOANDABroker(client, cfg.OANDA.BaseURL, cfg.OANDA.AccountID)
	consumer := queue.NewRedisConsumer(l.With("broker_queue"), &queue.QueueConfig{
		Workers:    cfg.Broker.Queue.Workers,
		RetryLimit: cfg.Broker.Queue.RetryLimit,
		RetryDelay: cfg.Broker.Queue.RetryDelay,
	}, rc.Client(), []queue.Job{internalrepo.NewBrokerCommandJob(exec, l.With("broker_exec"))},
		queue.WithKeyPrefix(cfg.Broker.Queue.KeyPrefix))
	return &CommandQueue{Consumer: consumer}
}

// ProvideQuotes creates the streaming quote book when enabled.
func ProvideQuotes(cfg *config.Config, l *applogger.Logger, m drepo.Metrics) *Quotes {
	if !cfg.Quotes.Enabled {
		return &Quotes{}
	}
	stream := quotes.New(cfg.Quotes.Token, cfg.Quotes.URL, cfg.Quotes.Symbols,
		cfg.Quotes.ReconnectDelay, cfg.Quotes.PingInterval, l.With("quotes"))
	book := quotes.NewBook()
	return &Quotes{Book: book, Feeder: quotes.NewFeeder(stream, book, m, l.With("quotes"))}
}

// ProvideExitMonitor creates the exit monitor. The pass lock is held in redis when available.
func ProvideExitMonitor(cfg *config.Config, l *applogger.Logger, stores *Stores, market drepo.MarketData,
	q *Quotes, broker drepo.Broker, model domsvc.ExitModel, rc *cache.RedisCache, m drepo.Metrics) *usecase.ExitMonitor {
	manager := positions.NewManager(model, positions.Config{
		HoldThreshold:  cfg.Exit.HoldThreshold,
		BreakevenRatio: cfg.Exit.BreakevenRatio,
	}, l.With("positions"))
	monitorCfg := usecase.ExitMonitorConfig{
		Interval:    cfg.Exit.Interval,
		Timeframe:   cfg.Exit.Timeframe,
		PassTimeout: cfg.Exit.PassTimeout,
		QuoteMaxAge: cfg.Quotes.MaxAge,
	}

	// Typed nils would satisfy the interfaces, so each optional dependency is passed explicitly.
	switch {
	case q.Book != nil && rc != nil:
		return usecase.NewExitMonitor(stores.Trades, market, q.Book, broker, manager, rc, m, l.With("exit"), monitorCfg)
	case q.Book != nil:
		return usecase.NewExitMonitor(stores.Trades, market, q.Book, broker, manager, nil, m, l.With("exit"), monitorCfg)
	case rc != nil:
		return usecase.NewExitMonitor(stores.Trades, market, nil, broker, manager, rc, m, l.With("exit"), monitorCfg)
	default:
		return usecase.NewExitMonitor(stores.Trades, market, nil, broker, manager, nil, m, l.With("exit"), monitorCfg)
	}
}

// ProvideSignalsHandler creates the Kafka handler for candidate signals.
func ProvideSignalsHandler(cfg *config.Config, l *applogger.Logger, intake *usecase.SignalIntake, m drepo.Metrics) *usecase.SignalsHandler {
	return usecase.NewSignalsHandler(cfg.Kafka.SignalsTopic, intake, m, l.With("signals_consumer"))
}

// ProvideKafkaConsumer creates a Kafka consumer configured from YAML. Nil without brokers.
func ProvideKafkaConsumer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
		pkgkafka.WithConsumerLogger(l.With("kafka")),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvideRateLimiter creates the per-client request limiter.
func ProvideRateLimiter(cfg *config.Config) *ratelimit.Limiter {
	return ratelimit.New(cfg.Server.RateLimit.Capacity, cfg.Server.RateLimit.RefillPerSec)
}

// ProvideRouter registers every HTTP handler.
func ProvideRouter(l *applogger.Logger, intake *usecase.SignalIntake, stores *Stores, market drepo.MarketData,
	t *Tables, monitor *usecase.ExitMonitor, q *Quotes, rc *cache.RedisCache) api.Router {
	checks := map[string]api.HealthCheck{"store": stores.Health}
	if rc != nil {
		checks["redis"] = func(ctx context.Context) error { return rc.Client().Ping(ctx).Err() }
	}
	if q.Feeder != nil {
		checks["quotes"] = func(context.Context) error {
			if !q.Feeder.IsConnected() {
				return fmt.Errorf("quote stream disconnected")
			}
			return nil
		}
	}
	return api.Router{
		api.NewSignalsEchoHandler(l.With("http"), intake, stores.Signals, market, t.Weights, t.Thresholds),
		api.NewPositionsEchoHandler(l.With("http"), monitor),
		api.NewHealthEchoHandler(checks),
	}
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	router api.Router,
	limiter *ratelimit.Limiter,
	consumer *pkgkafka.Consumer,
	sh *usecase.SignalsHandler,
	cq *CommandQueue,
	monitor *usecase.ExitMonitor,
	q *Quotes,
	m drepo.Metrics,
) *server.App {
	if consumer != nil {
		consumer.WithConsumerHook(pkgkafka.Hooks{
			pkgkafka.TraceHook{},
			pkgkafka.HookFuncs{After: func(_ context.Context, _ kafka.Message, err error) {
				if err != nil {
					m.RecordError("signal_consume")
				}
			}},
		})
		consumer.RegisterHandler(sh)
	}
	mw := []echo.MiddlewareFunc{
		middleware.Metrics(l.With("http"), cfg.Server.SlowRequest),
		limiter.Middleware(),
	}
	return server.New(cfg, l, router, mw, server.Workers{
		Consumer: consumer,
		Commands: cq.Consumer,
		Monitor:  monitor,
		Feeder:   q.Feeder,
		Limiter:  limiter,
	})
}
