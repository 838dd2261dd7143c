package server

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"StockCast/internal/scheduler"
	"StockCast/internal/usecase"
	"StockCast/pkg/config"
	xhttp "StockCast/pkg/http"
	pkgkafka "StockCast/pkg/kafka"
	applogger "StockCast/pkg/logger"
)

type closer struct {
	name string
	c    io.Closer
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg         *config.Config
	l           *applogger.Logger
	estimations *usecase.EstimationUseCase
	watchlist   *usecase.Watchlist
	sched       *scheduler.Scheduler
	handlers    []xhttp.Handler
	httpServer  *xhttp.Server

	consumer *pkgkafka.Consumer
	commands []pkgkafka.MessageHandler

	// stop hooks run after the HTTP server is down, closers last in reverse order
	stops   []func()
	closers []closer
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	l *applogger.Logger,
	estimations *usecase.EstimationUseCase,
	watchlist *usecase.Watchlist,
	sched *scheduler.Scheduler,
	handlers []xhttp.Handler,
) *App {
	if l == nil {
		l = applogger.Nop()
	}
	return &App{
		cfg:         cfg,
		l:           l,
		estimations: estimations,
		watchlist:   watchlist,
		sched:       sched,
		handlers:    handlers,
	}
}

// SetConsumer attaches a Kafka consumer and the command handlers it serves.
func (a *App) SetConsumer(c *pkgkafka.Consumer, handlers ...pkgkafka.MessageHandler) {
	a.consumer = c
	a.commands = handlers
}

// OnStop registers fn to run during shutdown before resources are closed.
func (a *App) OnStop(fn func()) { a.stops = append(a.stops, fn) }

// AddCloser registers a resource closed at shutdown.
func (a *App) AddCloser(name string, c io.Closer) {
	if c != nil {
		a.closers = append(a.closers, closer{name: name, c: c})
	}
}

// Start restores state, seeds the watchlist and brings up every component.
func (a *App) Start(ctx context.Context) error {
	n, err := a.estimations.Restore(ctx)
	if err != nil {
		// keep serving with an empty store; the next run repopulates it
		a.l.Warn("prediction restore failed", applogger.Error(err))
	} else {
		a.l.Info("predictions restored", applogger.Int("rows", n))
	}

	if len(a.cfg.Tickers) > 0 {
		if err := a.watchlist.Seed(ctx, a.cfg.Tickers); err != nil {
			return fmt.Errorf("seed watchlist: %w", err)
		}
		a.l.Info("watchlist seeded", applogger.Strings("tickers", a.cfg.Tickers))
	}

	if a.sched != nil {
		if err := a.sched.Register(); err != nil {
			return err
		}
		a.sched.Start()
	}

	if a.consumer != nil && len(a.commands) > 0 {
		for _, h := range a.commands {
			a.consumer.RegisterHandler(h)
		}
		if err := a.consumer.Start(); err != nil {
			return fmt.Errorf("kafka consumer: %w", err)
		}
	}

	srv := a.cfg.Server
	opts := []xhttp.ServerOption{
		xhttp.WithHost(srv.Host),
		xhttp.WithPort(srv.Port),
		xhttp.WithTimeouts(srv.ReadTimeout, srv.WriteTimeout, srv.ShutdownTimeout),
		xhttp.WithCORS(srv.CORS),
		xhttp.WithLogger(a.l),
	}
	if a.cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetricsPath(a.cfg.Metrics.Path))
	} else {
		opts = append(opts, xhttp.WithMetricsPath(""))
	}
	a.httpServer = xhttp.NewServer(a.handlers, opts...)
	return a.httpServer.Start()
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Start(ctx); err != nil {
		a.l.Error("startup failed", applogger.Error(err))
		_ = a.Shutdown(ctx)
		return err
	}
	a.l.Info("stockcast started",
		applogger.String("env", a.cfg.Environment),
		applogger.Int("port", a.cfg.Server.Port),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.l.Info("shutdown signal received")
	return a.Shutdown(ctx)
}

// Shutdown stops intake first, then background work, then closes resources.
func (a *App) Shutdown(ctx context.Context) error {
	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if a.httpServer != nil {
		if err := a.httpServer.Stop(ctx); err != nil {
			a.l.Error("http shutdown error", applogger.Error(err))
		}
	}
	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.l.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}
	if a.sched != nil {
		if err := a.sched.Stop(ctx); err != nil {
			a.l.Warn("scheduler stop error", applogger.Error(err))
		}
	}
	for _, fn := range a.stops {
		fn()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		cl := a.closers[i]
		if err := cl.c.Close(); err != nil {
			a.l.Warn("close error", applogger.String("resource", cl.name), applogger.Error(err))
		}
	}

	a.l.Info("shutdown complete")
	return nil
}
