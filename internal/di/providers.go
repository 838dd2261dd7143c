package di

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"StockCast/internal/domain/repository"
	"StockCast/internal/domain/service"
	"StockCast/internal/handler/api"
	"StockCast/internal/handler/ws"
	internalrepo "StockCast/internal/repository"
	"StockCast/internal/scheduler"
	"StockCast/internal/service/cache"
	"StockCast/internal/service/ratelimit"
	"StockCast/internal/service/yahoo"
	"StockCast/internal/services/features"
	"StockCast/internal/services/forecast"
	"StockCast/internal/services/predictions"
	"StockCast/internal/usecase"
	pkgch "StockCast/pkg/clickhouse"
	"StockCast/pkg/config"
	pkghttp "StockCast/pkg/http"
	pkgkafka "StockCast/pkg/kafka"
	applogger "StockCast/pkg/logger"
	"StockCast/pkg/metrics"
	"StockCast/pkg/server"
)

// Forecasters builds a fresh estimator per instrument and run.
type Forecasters struct {
	Short service.EstimatorFactory
	Long  service.EstimatorFactory
}

// ProvideLogger creates the application logger from config.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideMarketStore opens the local SQLite market database.
func ProvideMarketStore(cfg *config.Config, l *applogger.Logger) (*internalrepo.SQLiteMarketStore, error) {
	if dir := filepath.Dir(cfg.Data.SQLitePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite dir: %w", err)
		}
	}
	store, err := internalrepo.NewSQLiteMarketStore(cfg.Data.SQLitePath)
	if err != nil {
		return nil, err
	}
	store.SetLogger(l)
	return store, nil
}

// ProvidePriceSource puts Yahoo in front of SQLite. Bars Yahoo serves are
// written back so the fallback stays warm.
func ProvidePriceSource(cfg *config.Config, store *internalrepo.SQLiteMarketStore, l *applogger.Logger) repository.PriceSource {
	if !cfg.Data.Yahoo.Enabled {
		return store
	}
	opts := []yahoo.Option{yahoo.WithSymbolMap(cfg.Data.SymbolMap)}
	if cfg.Data.Yahoo.BaseURL != "" {
		opts = append(opts, yahoo.WithBaseURL(cfg.Data.Yahoo.BaseURL))
	}
	yc := yahoo.NewClient(pkghttp.NewClient(pkghttp.WithTimeout(cfg.Data.Yahoo.Timeout)), opts...)
	yc.SetLogger(l)

	src := internalrepo.NewFallbackPriceSource(yc, store, store)
	src.SetLogger(l)
	return src
}

// ProvideWatchlist creates the tracked-ticker registry.
func ProvideWatchlist(store *internalrepo.SQLiteMarketStore, prices repository.PriceSource, l *applogger.Logger) *usecase.Watchlist {
	w := usecase.NewWatchlist(store, prices)
	w.SetLogger(l)
	return w
}

// ProvideForecasters binds the configured model settings. The run decides the mode.
func ProvideForecasters(cfg *config.Config, l *applogger.Logger) Forecasters {
	shortCfg := cfg.Forecast.Short
	longCfg := cfg.Forecast.Long
	mode := func(backtest bool) features.Mode {
		if backtest {
			return features.ModeBacktest
		}
		return features.ModeProduction
	}
	return Forecasters{
		Short: func(backtest bool) service.Estimator {
			c := shortCfg
			c.Mode = mode(backtest)
			f := forecast.NewShortHorizonFromConfig(c)
			f.SetLogger(l)
			return f
		},
		Long: func(backtest bool) service.Estimator {
			c := longCfg
			c.Mode = mode(backtest)
			f := forecast.NewLongHorizon(c)
			f.SetLogger(l)
			return f
		},
	}
}

// ProvideCache returns Redis when configured and an in-process cache otherwise.
func ProvideCache(cfg *config.Config) (cache.Cache, error) {
	if !cfg.Redis.Enabled {
		return cache.NewTTLCache(), nil
	}
	rc := cache.NewRedisCache(cache.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Prefix:   cfg.Redis.Prefix,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.Ping(ctx); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}
	return rc, nil
}

// ProvideClickHouseClient creates a ClickHouse client, or nil when disabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
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
	return client, nil
}

// ProvidePredictionRepository creates the prediction table, or returns nil
// without ClickHouse so predictions live in memory only.
func ProvidePredictionRepository(ch *pkgch.Client, cfg *config.Config, l *applogger.Logger) (repository.PredictionRepository, error) {
	if ch == nil {
		return nil, nil
	}
	repo := internalrepo.NewCHPredictionRepository(ch, cfg.ClickHouse.Table)
	repo.SetLogger(l)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := repo.Init(ctx); err != nil {
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return repo, nil
}

// ProvideKafkaProducer creates a Kafka producer, or nil when disabled.
func ProvideKafkaProducer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatch(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	producer.SetLogger(l)
	return producer, nil
}

// ProvidePredictionPublisher publishes prediction rows, or nil without Kafka.
func ProvidePredictionPublisher(producer *pkgkafka.Producer, cfg *config.Config) repository.PredictionPublisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaPredictionPublisher(producer, cfg.Kafka.Topics.Predictions)
}

// ProvideKafkaConsumer creates the command consumer, or nil without Kafka.
func ProvideKafkaConsumer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerAutoOffsetReset(cfg.Kafka.Consumer.AutoOffsetReset),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.SetLogger(l)
	consumer.WithConsumerHook(pkgkafka.LoggingHook(l))
	return consumer, nil
}

// ProvideHub creates the websocket prediction feed.
func ProvideHub(l *applogger.Logger) *ws.Hub {
	h := ws.NewHub()
	h.SetLogger(l)
	return h
}

// ProvideEstimationUseCase assembles the estimation pipeline and its sinks.
func ProvideEstimationUseCase(
	cfg *config.Config,
	prices repository.PriceSource,
	store *internalrepo.SQLiteMarketStore,
	watchlist *usecase.Watchlist,
	fc Forecasters,
	repo repository.PredictionRepository,
	pub repository.PredictionPublisher,
	hub *ws.Hub,
	c cache.Cache,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.EstimationUseCase {
	// the lock must outlive the longest run, HTTP or scheduled
	lockTTL := cfg.Forecast.RunTimeout
	if cfg.Schedule.Timeout > lockTTL {
		lockTTL = cfg.Schedule.Timeout
	}
	uc := usecase.NewEstimationUseCase(prices, watchlist, predictions.New(), fc.Short, fc.Long,
		usecase.WithAuxiliary(store),
		usecase.WithRepository(repo),
		usecase.WithPublisher(pub),
		usecase.WithBroadcaster(hub),
		usecase.WithCache(c),
		usecase.WithMetrics(m),
		usecase.WithWorkers(cfg.Forecast.Workers),
		usecase.WithPeriod(repository.Period(cfg.Data.Period)),
		usecase.WithLockTTL(lockTTL+time.Minute),
	)
	uc.SetLogger(l)
	return uc
}

// ProvideEstimationsHandler creates the REST handler.
func ProvideEstimationsHandler(
	cfg *config.Config,
	uc *usecase.EstimationUseCase,
	watchlist *usecase.Watchlist,
	c cache.Cache,
	l *applogger.Logger,
) *api.EstimationsHandler {
	h := api.NewEstimationsHandler(uc, watchlist)
	h.SetCache(c, cfg.Redis.CacheTTL)
	h.SetRunTimeout(cfg.Forecast.RunTimeout)
	if cfg.Server.UpdatePerMinute > 0 {
		h.SetRateLimiter(ratelimit.New(cfg.Server.UpdateBurst, cfg.Server.UpdatePerMinute/60))
	} else {
		h.SetRateLimiter(nil)
	}
	h.SetLogger(l)
	return h
}

// ProvideHealthHandler registers a readiness check per configured backend.
func ProvideHealthHandler(store *internalrepo.SQLiteMarketStore, repo repository.PredictionRepository, c cache.Cache) *api.HealthHandler {
	h := api.NewHealthHandler()
	h.Add("sqlite", store.Health)
	if repo != nil {
		h.Add("clickhouse", repo.Health)
	}
	if rc, ok := c.(*cache.RedisCache); ok {
		h.Add("redis", rc.Ping)
	}
	return h
}

// ProvideScheduler creates the cron scheduler for periodic runs.
func ProvideScheduler(cfg *config.Config, uc *usecase.EstimationUseCase, l *applogger.Logger) *scheduler.Scheduler {
	s := scheduler.New(uc, cfg.Schedule)
	s.SetLogger(l)
	return s
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	uc *usecase.EstimationUseCase,
	watchlist *usecase.Watchlist,
	sched *scheduler.Scheduler,
	estimations *api.EstimationsHandler,
	health *api.HealthHandler,
	hub *ws.Hub,
	consumer *pkgkafka.Consumer,
	m repository.Metrics,
	store *internalrepo.SQLiteMarketStore,
	ch *pkgch.Client,
	repo repository.PredictionRepository,
	pub repository.PredictionPublisher,
	c cache.Cache,
) *server.App {
	app := server.New(cfg, l, uc, watchlist, sched, []pkghttp.Handler{estimations, hub, health})

	if consumer != nil {
		var commands []pkgkafka.MessageHandler
		if t := cfg.Kafka.Topics.Update; t != "" {
			h := usecase.NewUpdateCommandHandler(t, uc, m)
			h.SetLogger(l)
			commands = append(commands, h)
		}
		if t := cfg.Kafka.Topics.Tickers; t != "" {
			h := usecase.NewTickerCommandHandler(t, watchlist, m)
			h.SetLogger(l)
			commands = append(commands, h)
		}
		app.SetConsumer(consumer, commands...)
	}

	app.OnStop(hub.Close)
	app.AddCloser("sqlite", store)
	if ch != nil {
		app.AddCloser("clickhouse", ch)
	}
	if repo != nil {
		app.AddCloser("prediction repository", repo)
	}
	if pub != nil {
		app.AddCloser("kafka producer", pub)
	}
	if cl, ok := c.(io.Closer); ok {
		app.AddCloser("cache", cl)
	}
	return app
}
