package server

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"

	"Genesis/internal/service/quotes"
	"Genesis/internal/service/ratelimit"
	"Genesis/internal/usecase"
	"Genesis/pkg/config"
	xhttp "Genesis/pkg/http"
	pkgkafka "Genesis/pkg/kafka"
	applogger "Genesis/pkg/logger"
	"Genesis/pkg/queue"
)

// limiterSweep is how often idle rate-limit buckets are dropped.
const limiterSweep = 5 * time.Minute

// Workers are the optional background components. Nil fields are skipped.
type Workers struct {
	Consumer *pkgkafka.Consumer
	Commands *queue.RedisQueue
	Monitor  *usecase.ExitMonitor
	Feeder   *quotes.Feeder
	Limiter  *ratelimit.Limiter
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	log        *applogger.Logger
	handler    xhttp.Handler
	middleware []echo.MiddlewareFunc
	workers    Workers
	httpServer *xhttp.Server
	wg         sync.WaitGroup
}

// New creates a new App instance with all dependencies.
func New(cfg *config.Config, log *applogger.Logger, handler xhttp.Handler, mw []echo.MiddlewareFunc, w Workers) *App {
	return &App{cfg: cfg, log: log, handler: handler, middleware: mw, workers: w}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.RunContext(ctx)
}

// RunContext starts every component and blocks until ctx is done, then shuts down.
func (a *App) RunContext(ctx context.Context) error {
	bg, cancel := context.WithCancel(ctx)
	defer cancel()

	a.httpServer = xhttp.NewServer(a.handler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithCORSOrigins(a.cfg.Server.CORSOrigins),
		xhttp.WithMiddleware(a.middleware...),
		xhttp.WithLogger(a.log.With("http")),
	)

	if f := a.workers.Feeder; f != nil {
		if err := f.Start(bg); err != nil {
			a.log.Warn("quote stream start failed, falling back to candles", applogger.Error(err))
		} else {
			a.log.Info("quote stream started", applogger.Strings("symbols", a.cfg.Quotes.Symbols))
		}
	}

	if c := a.workers.Consumer; c != nil {
		if err := c.Start(); err != nil {
			a.log.Error("kafka consumer error", applogger.Error(err))
		} else {
			a.log.Info("kafka consumer started", applogger.String("topic", a.cfg.Kafka.SignalsTopic))
		}
	}

	if q := a.workers.Commands; q != nil {
		if err := q.Start(); err != nil {
			a.log.Error("broker command queue start failed", applogger.Error(err))
		}
	}

	if m := a.workers.Monitor; m != nil && a.cfg.Exit.Enabled {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			m.Run(bg)
		}()
	}

	if l := a.workers.Limiter; l != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			t := time.NewTicker(limiterSweep)
			defer t.Stop()
			for {
				select {
				case <-bg.Done():
					return
				case <-t.C:
					l.Sweep(limiterSweep)
				}
			}
		}()
	}

	if err := a.httpServer.Start(); err != nil {
		a.log.Error("http server start error", applogger.Error(err))
		cancel()
		a.wg.Wait()
		return err
	}

	<-ctx.Done()
	a.log.Info("shutdown signal received")
	cancel()
	return a.shutdown()
}

// shutdown gracefully stops all services. Infrastructure clients are closed by the DI cleanup.
func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := a.httpServer.Stop(ctx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
	}

	if c := a.workers.Consumer; c != nil {
		if err := c.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	if q := a.workers.Commands; q != nil {
		if err := q.Stop(ctx); err != nil {
			a.log.Warn("broker command queue stop error", applogger.Error(err))
		}
	}

	if f := a.workers.Feeder; f != nil {
		if err := f.Stop(); err != nil {
			a.log.Warn("quote stream stop error", applogger.Error(err))
		}
	}

	a.wg.Wait()
	a.log.Info("shutdown complete")
	return nil
}
