package server

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"CascadeAdvisor/internal/usecase"
	"CascadeAdvisor/pkg/config"
	xhttp "CascadeAdvisor/pkg/http"
	pkgkafka "CascadeAdvisor/pkg/kafka"
	applogger "CascadeAdvisor/pkg/logger"
	"CascadeAdvisor/pkg/queue"
)

// PriceFeed groups the optional live price components. Any field may be nil.
// The collector owns the tick processor and closes it on shutdown.
type PriceFeed struct {
	Collector *usecase.TickCollector
	Consumer  *pkgkafka.Consumer
	Ticks     *usecase.KafkaTicksHandler
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	log        *applogger.Logger
	httpServer *xhttp.Server
	sweeper    *usecase.ExpirySweeper
	jobs       *queue.RedisQueue
	feed       *PriceFeed
}

// New creates a new App instance with all dependencies. jobs and feed are
// optional.
func New(
	cfg *config.Config,
	log *applogger.Logger,
	httpServer *xhttp.Server,
	sweeper *usecase.ExpirySweeper,
	jobs *queue.RedisQueue,
	feed *PriceFeed,
) *App {
	if feed == nil {
		feed = &PriceFeed{}
	}
	return &App{
		cfg:        cfg,
		log:        log,
		httpServer: httpServer,
		sweeper:    sweeper,
		jobs:       jobs,
		feed:       feed,
	}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		_ = a.Shutdown(context.Background())
		return err
	}

	<-ctx.Done()
	a.log.Info("app shutdown signal")
	return a.Shutdown(context.Background())
}

// Start launches every background component and the HTTP server without
// blocking.
func (a *App) Start(ctx context.Context) error {
	if a.jobs != nil {
		if err := a.jobs.Start(); err != nil {
			return err
		}
		a.log.Info("app.queue started", applogger.Int("workers", a.cfg.Queue.Workers))
	}

	if a.sweeper != nil {
		a.sweeper.Start(ctx)
	}

	if a.feed.Consumer != nil && a.feed.Ticks != nil {
		a.feed.Consumer.RegisterHandler(a.feed.Ticks)
		if err := a.feed.Consumer.Start(); err != nil {
			return err
		}
		a.log.Info("app.kafka consumer started", applogger.String("topic", a.feed.Ticks.Topic()))
	}

	if a.feed.Collector != nil {
		if err := a.feed.Collector.Start(ctx); err != nil {
			return err
		}
		a.log.Info("app.collector started",
			applogger.Strings("symbols", a.cfg.Finnhub.Symbols),
			applogger.String("transport", a.cfg.Prices.Transport))
	}

	if err := a.httpServer.Start(); err != nil {
		a.log.Error("app.http start failed", applogger.Error(err))
		return err
	}
	a.log.Info("app started",
		applogger.Int("port", a.cfg.Server.Port),
		applogger.String("storage", a.cfg.Storage.Backend),
		applogger.String("audit", a.cfg.Audit.Backend))
	return nil
}

// Shutdown stops components in reverse dependency order: inbound traffic
// first, then producers of work, then the workers themselves.
func (a *App) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		a.log.Error("app.http stop failed", applogger.Error(err))
		errs = append(errs, err)
	}

	if a.feed.Collector != nil {
		if err := a.feed.Collector.Shutdown(shutdownCtx); err != nil {
			a.log.Warn("app.collector stop failed", applogger.Error(err))
			errs = append(errs, err)
		}
	}
	if a.feed.Consumer != nil {
		if err := a.feed.Consumer.Stop(shutdownCtx); err != nil {
			a.log.Warn("app.kafka consumer stop failed", applogger.Error(err))
			errs = append(errs, err)
		}
	}

	if a.sweeper != nil {
		a.sweeper.Stop()
	}
	if a.jobs != nil {
		if err := a.jobs.Stop(shutdownCtx); err != nil {
			a.log.Warn("app.queue stop failed", applogger.Error(err))
			errs = append(errs, err)
		}
	}

	a.log.Info("app shutdown complete")
	return errors.Join(errs...)
}
