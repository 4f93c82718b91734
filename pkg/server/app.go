package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/AgeeKey/mirai-agent-sub000/internal/domain/repository"
	"github.com/AgeeKey/mirai-agent-sub000/internal/usecase"
	pkgch "github.com/AgeeKey/mirai-agent-sub000/pkg/clickhouse"
	"github.com/AgeeKey/mirai-agent-sub000/pkg/config"
	xhttp "github.com/AgeeKey/mirai-agent-sub000/pkg/http"
	pkgkafka "github.com/AgeeKey/mirai-agent-sub000/pkg/kafka"
	applogger "github.com/AgeeKey/mirai-agent-sub000/pkg/logger"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg         *config.Config
	l           *applogger.Logger
	collector   *usecase.FeatureCollector
	engine      *usecase.Engine
	consumer    *pkgkafka.Consumer
	oh          pkgkafka.MessageHandler
	httpServer  *xhttp.Server
	httpHandler xhttp.Handler
	audit       repository.AuditPublisher
	chClient    *pkgch.Client
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	l *applogger.Logger,
	collector *usecase.FeatureCollector,
	engine *usecase.Engine,
	consumer *pkgkafka.Consumer,
	oh pkgkafka.MessageHandler,
	httpHandler xhttp.Handler,
	audit repository.AuditPublisher,
	chClient *pkgch.Client,
) *App {
	return &App{
		cfg:         cfg,
		l:           l,
		collector:   collector,
		engine:      engine,
		consumer:    consumer,
		oh:          oh,
		httpHandler: httpHandler,
		audit:       audit,
		chClient:    chClient,
	}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := a.l

	a.httpServer = xhttp.NewServer(a.httpHandler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
	)

	// Start feature collector (WebSocket stream + pipeline)
	go func() {
		if err := a.collector.Start(ctx); err != nil {
			l.Error("collector error", applogger.Error(err))
		}
	}()
	l.Info("feature collector started", applogger.Strings("symbols", a.cfg.Features.Symbols))

	// Start outcome consumer if configured
	if a.consumer != nil && a.oh != nil {
		a.consumer.RegisterHandler(a.oh)
		go func() {
			if err := a.consumer.Start(); err != nil {
				l.Error("kafka consumer error", applogger.Error(err))
			}
		}()
		l.Info("kafka consumer started", applogger.String("topic", a.oh.Topic()))
	}

	// Start the evaluation loop. Run blocks until ctx cancels and all
	// in-flight ticks drain; engineDone signals the drain is complete.
	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		a.engine.Run(ctx)
	}()
	l.Info("engine started",
		applogger.Int("strategies", len(a.engine.Targets())),
		applogger.Duration("tick_interval", a.cfg.Engine.TickInterval))

	// Start HTTP server
	if err := a.httpServer.Start(); err != nil {
		l.Error("http server start error", applogger.Error(err))
		return err
	}

	// Wait for interrupt
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	l.Info("shutdown signal received")
	cancel()
	<-engineDone
	l.Info("engine drained")

	return a.shutdown(context.Background())
}

// shutdown gracefully stops all services.
func (a *App) shutdown(ctx context.Context) error {
	l := a.l

	// Stop collector (pipeline + stream)
	if err := a.collector.Shutdown(ctx); err != nil {
		l.Warn("collector stop error", applogger.Error(err))
	}

	// Shutdown HTTP server
	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		l.Error("http shutdown error", applogger.Error(err))
	}

	// Stop consumer before closing the producer: handlers may still emit audit
	// records while draining.
	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			l.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	if a.audit != nil {
		if err := a.audit.Close(); err != nil {
			l.Warn("audit publisher close error", applogger.Error(err))
		}
	}

	if a.chClient != nil {
		if err := a.chClient.Close(); err != nil {
			l.Warn("clickhouse close error", applogger.Error(err))
		}
	}

	l.Info("shutdown complete")
	return nil
}
