package di

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/AgeeKey/mirai-agent-sub000/internal/domain/models"
	"github.com/AgeeKey/mirai-agent-sub000/internal/domain/repository"
	domsvc "github.com/AgeeKey/mirai-agent-sub000/internal/domain/service"
	"github.com/AgeeKey/mirai-agent-sub000/internal/handler/api"
	mid "github.com/AgeeKey/mirai-agent-sub000/internal/middleware"
	internalrepo "github.com/AgeeKey/mirai-agent-sub000/internal/repository"
	icache "github.com/AgeeKey/mirai-agent-sub000/internal/service/cache"
	"github.com/AgeeKey/mirai-agent-sub000/internal/service/featurestream"
	"github.com/AgeeKey/mirai-agent-sub000/internal/services/adaptation"
	"github.com/AgeeKey/mirai-agent-sub000/internal/services/collab"
	"github.com/AgeeKey/mirai-agent-sub000/internal/services/performance"
	"github.com/AgeeKey/mirai-agent-sub000/internal/services/regime"
	"github.com/AgeeKey/mirai-agent-sub000/internal/services/safety"
	"github.com/AgeeKey/mirai-agent-sub000/internal/usecase"
	pkgcache "github.com/AgeeKey/mirai-agent-sub000/pkg/cache"
	pkgch "github.com/AgeeKey/mirai-agent-sub000/pkg/clickhouse"
	"github.com/AgeeKey/mirai-agent-sub000/pkg/config"
	xhttp "github.com/AgeeKey/mirai-agent-sub000/pkg/http"
	pkgkafka "github.com/AgeeKey/mirai-agent-sub000/pkg/kafka"
	applogger "github.com/AgeeKey/mirai-agent-sub000/pkg/logger"
	"github.com/AgeeKey/mirai-agent-sub000/pkg/metrics"
	"github.com/AgeeKey/mirai-agent-sub000/pkg/server"
)

// ProvideLogger creates the application logger. Console output in
// development, JSON elsewhere.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	format := "json"
	if cfg.Environment == "development" {
		format = "console"
	}
	return applogger.New(&applogger.Config{Level: "info", Format: format, Output: "stdout"})
}

// ProvideClickHouseClient creates a ClickHouse client and initializes the
// engine schema.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ttlDays := cfg.Engine.SnapshotTTLDays
	if ttlDays <= 0 {
		ttlDays = 30
	}

	// Initialize schema
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.InitSchema(ctx, []string{
		"CREATE DATABASE IF NOT EXISTS mirai",
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS mirai.regime_snapshots ("+
			"symbol String, ts DateTime64(3), regime String, "+
			"trend_strength Float64, realized_vol Float64, range_compression Float64, momentum Float64, "+
			"confidence Float64"+
			") ENGINE=MergeTree ORDER BY (symbol, ts) TTL toDateTime(ts) + INTERVAL %d DAY", ttlDays),
		"CREATE TABLE IF NOT EXISTS mirai.trade_outcomes (" +
			"id String, ts_closed DateTime64(3), symbol String, strategy String, " +
			"entry_price Float64, exit_price Float64, quantity Float64, pnl Float64, " +
			"duration_ms Int64, regime_at_entry String, vol_at_entry Float64, " +
			"confidence_at_entry Float64, adaptation_version String" +
			") ENGINE=MergeTree ORDER BY (strategy, ts_closed)",
		"CREATE TABLE IF NOT EXISTS mirai.adaptations (" +
			"id String, ts DateTime64(3), strategy String, " +
			"prev_params String, new_params String, regime String, " +
			"features String, perf_before String, reason String, confidence Float64" +
			") ENGINE=MergeTree ORDER BY (strategy, ts)",
		"CREATE TABLE IF NOT EXISTS mirai.safety_activations (" +
			"id String, rule String, event_id String, symbol String, strategy String, " +
			"action String, activated_at DateTime64(3), expires_at DateTime64(3), reason String" +
			") ENGINE=MergeTree ORDER BY (activated_at)",
	}); err != nil {
		_ = client.Close() // cannot log here (DI layer no logger); propagate error
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}

	return client, nil
}

// ProvideKafkaProducer creates a Kafka producer.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
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
		return nil, fmt.Errorf("kafka producer: %w", err)
	}

	return producer, nil
}

// ProvideKafkaConsumer creates a Kafka consumer configured from YAML.
func ProvideKafkaConsumer(cfg *config.Config) (*pkgkafka.Consumer, error) {
	consumer, err := pkgkafka.NewConsumer(
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

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideCache creates the cache service: a memory-over-Redis layered cache
// when Redis is enabled, in-process fallback otherwise.
func ProvideCache(cfg *config.Config) pkgcache.Service {
	if cfg.Redis.Enabled {
		host, portStr, err := net.SplitHostPort(cfg.Redis.Addr)
		if err == nil {
			port, _ := strconv.Atoi(portStr)
			rc, rerr := pkgcache.NewRedisCache(
				pkgcache.WithRedisHost(host),
				pkgcache.WithRedisPort(port),
				pkgcache.WithRedisPassword(cfg.Redis.Password),
				pkgcache.WithRedisDB(cfg.Redis.DB),
			)
			if rerr == nil {
				return pkgcache.NewLayeredCache(rc,
					pkgcache.WithLayeredMemorySize(4096))
			}
		}
	}
	return pkgcache.NewMemoryCache()
}

// ProvideSnapshotStore creates the ClickHouse regime-snapshot store.
func ProvideSnapshotStore(chClient *pkgch.Client, l *applogger.Logger) repository.SnapshotStore {
	s := internalrepo.NewCHSnapshotStore(chClient)
	s.SetLogger(l)
	return s
}

// ProvideOutcomeStore creates the ClickHouse trade-outcome store.
func ProvideOutcomeStore(chClient *pkgch.Client, l *applogger.Logger) repository.OutcomeStore {
	s := internalrepo.NewCHOutcomeStore(chClient)
	s.SetLogger(l)
	return s
}

// ProvideAdaptationStore creates the ClickHouse adaptation log.
func ProvideAdaptationStore(chClient *pkgch.Client, l *applogger.Logger) repository.AdaptationStore {
	s := internalrepo.NewCHAdaptationStore(chClient)
	s.SetLogger(l)
	return s
}

// ProvideActivationStore creates the ClickHouse safety-activation store.
func ProvideActivationStore(chClient *pkgch.Client, l *applogger.Logger) repository.ActivationStore {
	s := internalrepo.NewCHActivationStore(chClient)
	s.SetLogger(l)
	return s
}

// ProvideAuditPublisher creates the Kafka audit publisher.
func ProvideAuditPublisher(producer *pkgkafka.Producer, cfg *config.Config) repository.AuditPublisher {
	return internalrepo.NewKafkaAuditPublisher(producer, cfg.Kafka.AuditTopic)
}

// ProvideCalendar creates the economic-calendar client.
func ProvideCalendar(cfg *config.Config, l *applogger.Logger) repository.Calendar {
	c := collab.NewCalendarClient(
		cfg.Collaborators.CalendarURL,
		cfg.Collaborators.Timeout,
		cfg.Collaborators.CacheTTL,
		l,
	)
	if cfg.Redis.Enabled {
		// Surviving restarts matters here: the calendar fallback is what
		// keeps the blackout rule working through a collaborator outage.
		c.SetDurableCache(icache.NewRedisCache(icache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}))
	}
	return c
}

// ProvideRiskMetrics creates the risk-metrics client.
func ProvideRiskMetrics(cfg *config.Config) repository.RiskMetrics {
	return collab.NewRiskMetricsClient(cfg.Collaborators.RiskMetricsURL, cfg.Collaborators.Timeout)
}

// ProvideClassifier creates the regime classifier.
func ProvideClassifier(cfg *config.Config) domsvc.RegimeClassifier {
	return regime.NewClassifier(regime.Config{
		HighVolThreshold: cfg.Classifier.HighVolThreshold,
		LowVolThreshold:  cfg.Classifier.LowVolThreshold,
		TrendThreshold:   cfg.Classifier.TrendThreshold,
		MomentumFlip:     cfg.Classifier.MomentumFlip,
		CompressionTight: cfg.Classifier.CompressionTight,
		ExpansionRatio:   cfg.Classifier.ExpansionRatio,
		Lookback:         cfg.Classifier.Lookback,
		ConfidenceFloor:  cfg.Classifier.ConfidenceFloor,
	})
}

// ProvideTracker creates the performance tracker.
func ProvideTracker(
	cfg *config.Config,
	store repository.OutcomeStore,
	adaptations repository.AdaptationStore,
	m repository.Metrics,
	l *applogger.Logger,
) domsvc.PerformanceTracker {
	t := performance.NewTracker(performance.Config{
		Window:       cfg.Engine.SummaryWindow,
		MinSample:    cfg.Engine.MinSample,
		StoreTimeout: cfg.Engine.StoreTimeout,
	}, store, m, l)
	t.SetAdaptationLog(adaptations)
	return t
}

// ProvideController builds the adaptation controller from the configured
// strategy policies.
func ProvideController(
	cfg *config.Config,
	store repository.AdaptationStore,
	audit repository.AuditPublisher,
	m repository.Metrics,
	l *applogger.Logger,
) domsvc.AdaptationController {
	configs := make([]adaptation.StrategyConfig, 0, len(cfg.Strategies))
	for _, s := range cfg.Strategies {
		specs := make(map[string]models.ParameterSpec, len(s.Specs))
		for name, spec := range s.Specs {
			specs[name] = models.ParameterSpec{
				Min:          spec.Min,
				Max:          spec.Max,
				MaxStep:      spec.MaxStep,
				RiskRelevant: spec.RiskRelevant,
			}
		}
		configs = append(configs, adaptation.StrategyConfig{
			Name:           s.Name,
			Symbol:         s.Symbol,
			Speed:          models.AdaptationSpeed(s.Speed),
			MinWinRate:     s.MinWinRate,
			MaxDrawdown:    s.MaxDrawdown,
			ReviewInterval: s.ReviewInterval,
			Parameters:     models.Parameters(s.Parameters),
			Specs:          specs,
		})
	}
	return adaptation.NewController(configs, store, audit, m, l)
}

// ProvideSafetyEngine creates the safety rule engine.
func ProvideSafetyEngine(
	cfg *config.Config,
	store repository.ActivationStore,
	calendar repository.Calendar,
	risk repository.RiskMetrics,
	audit repository.AuditPublisher,
	m repository.Metrics,
	l *applogger.Logger,
) *safety.Engine {
	return safety.NewEngine(safety.Config{
		PreBuffer:            cfg.Safety.PreBuffer,
		PostBuffer:           cfg.Safety.PostBuffer,
		CalendarHorizon:      cfg.Safety.CalendarHorizon,
		MetricWindow:         cfg.Safety.MetricWindow,
		DrawdownEmergencyPct: cfg.Safety.DrawdownEmergencyPct,
		LossStreakHalt:       cfg.Safety.LossStreakHalt,
		VolMonitorThreshold:  cfg.Safety.VolMonitorThreshold,
		ReduceFraction:       cfg.Safety.ReduceFraction,
		StoreTimeout:         cfg.Engine.StoreTimeout,
	}, store, calendar, risk, audit, m, l)
}

// ProvideSafetyService exposes the rule engine behind its domain interface.
func ProvideSafetyService(e *safety.Engine) domsvc.SafetyEngine { return e }

// ProvideFeatureStream creates the WebSocket feature stream.
func ProvideFeatureStream(cfg *config.Config) repository.FeatureStream {
	return featurestream.New(
		cfg.Features.APIKey,
		cfg.Features.WebSocketURL,
		cfg.Features.Symbols,
		cfg.Features.ReconnectDelay,
		cfg.Features.PingInterval,
		cfg.Features.BufferSize,
	)
}

// ProvideSnapshotProcessor creates the classify-and-store processor.
func ProvideSnapshotProcessor(
	classifier domsvc.RegimeClassifier,
	store repository.SnapshotStore,
	cache pkgcache.Service,
	m repository.Metrics,
) *usecase.SnapshotProcessor {
	return usecase.NewSnapshotProcessor(classifier, store, cache, m)
}

// ProvideFeatureCollector creates the feature collector use case.
func ProvideFeatureCollector(
	stream repository.FeatureStream,
	processor *usecase.SnapshotProcessor,
	m repository.Metrics,
	audit repository.AuditPublisher,
	cfg *config.Config,
) *usecase.FeatureCollector {
	maxRPS := cfg.Features.MaxRPS
	if maxRPS <= 0 {
		maxRPS = 50
	}
	logsTopic := cfg.Kafka.LogsTopic
	if logsTopic == "" {
		logsTopic = "mirai.logs"
	}
	// Drop warnings are aggregated and shipped in batches rather than
	// logged per sample.
	collector := applogger.NewLogCollector(&applogger.CollectionConfig{
		TimeInterval:   30 * time.Second,
		CountThreshold: 100,
		Topic:          logsTopic,
		Publisher:      audit,
	})
	// Build middleware pipeline between WebSocket and the processor
	pipe := mid.NewFeaturePipeline(processor, m,
		mid.WithMaxRPS(maxRPS),
		mid.WithBufferSize(2000),
		mid.WithLogCollector(collector),
	)
	return usecase.NewFeatureCollector(stream, processor, m, pipe)
}

// ProvideOutcomeHandler registers the handler for the outcomes topic.
func ProvideOutcomeHandler(
	cfg *config.Config,
	tracker domsvc.PerformanceTracker,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.KafkaOutcomeHandler {
	return usecase.NewKafkaOutcomeHandler(cfg.Kafka.OutcomesTopic, tracker, m, l)
}

// ProvideEngine creates the periodic evaluation loop.
func ProvideEngine(
	cfg *config.Config,
	classifier domsvc.RegimeClassifier,
	tracker domsvc.PerformanceTracker,
	controller domsvc.AdaptationController,
	safetyEngine *safety.Engine,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.Engine {
	targets := make([]usecase.StrategyTarget, 0, len(cfg.Strategies))
	for _, s := range cfg.Strategies {
		targets = append(targets, usecase.StrategyTarget{Name: s.Name, Symbol: s.Symbol})
	}
	return usecase.NewEngine(
		usecase.EngineConfig{
			TickInterval:  cfg.Engine.TickInterval,
			SummaryWindow: cfg.Engine.SummaryWindow,
		},
		targets,
		classifier,
		tracker,
		controller,
		safetyEngine,
		safetyEngine.ReduceFraction(),
		m,
		l,
	)
}

// ProvideAPIHandler creates the Echo HTTP handler.
func ProvideAPIHandler(
	l *applogger.Logger,
	engine *usecase.Engine,
	classifier domsvc.RegimeClassifier,
	controller domsvc.AdaptationController,
	safetySvc domsvc.SafetyEngine,
	snapshots repository.SnapshotStore,
	adaptations repository.AdaptationStore,
	activations repository.ActivationStore,
) xhttp.Handler {
	return api.NewEngineEchoHandler(l, engine, classifier, controller, safetySvc, snapshots, adaptations, activations)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	collector *usecase.FeatureCollector,
	engine *usecase.Engine,
	consumer *pkgkafka.Consumer,
	oh *usecase.KafkaOutcomeHandler,
	handler xhttp.Handler,
	audit repository.AuditPublisher,
	chClient *pkgch.Client,
) *server.App {
	// Attach hook to consumer: NoopHook for now; can be replaced via config
	if consumer != nil {
		consumer.WithConsumerHook(pkgkafka.NoopHook{})
	}
	return server.New(cfg, l, collector, engine, consumer, oh, handler, audit, chClient)
}
