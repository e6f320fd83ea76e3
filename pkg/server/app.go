package server

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"OptionPull/internal/handler/api"
	"OptionPull/internal/usecase"
	"OptionPull/pkg/config"
	xhttp "OptionPull/pkg/http"
	pkgkafka "OptionPull/pkg/kafka"
	applogger "OptionPull/pkg/logger"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	log        *applogger.Logger
	loop       *usecase.IngestionLoop
	proc       *usecase.CycleProcessor
	httpServer *xhttp.Server
	feed       *api.ChainFeed
	consumer   *pkgkafka.Consumer
	closers    []io.Closer
}

type Option func(*App)

// WithLoop runs the ingestion loop. proc is closed on shutdown.
func WithLoop(loop *usecase.IngestionLoop, proc *usecase.CycleProcessor) Option {
	return func(a *App) {
		a.loop = loop
		a.proc = proc
	}
}

// WithHTTPServer serves the read API. The feed's subscribers are disconnected on shutdown.
func WithHTTPServer(s *xhttp.Server, feed *api.ChainFeed) Option {
	return func(a *App) {
		a.httpServer = s
		a.feed = feed
	}
}

func WithConsumer(c *pkgkafka.Consumer) Option {
	return func(a *App) { a.consumer = c }
}

// WithClosers adds infrastructure clients closed last, in order.
func WithClosers(c ...io.Closer) Option {
	return func(a *App) { a.closers = append(a.closers, c...) }
}

// New creates a new App instance with all dependencies.
func New(cfg *config.Config, l *applogger.Logger, opts ...Option) *App {
	if l == nil {
		l = applogger.NewNop()
	}
	a := &App{cfg: cfg, log: l}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			a.log.Info("shutdown signal received", applogger.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	return a.RunContext(ctx)
}

// RunContext starts every component and blocks until ctx is cancelled or the HTTP
// listener fails, then shuts down.
func (a *App) RunContext(ctx context.Context) error {
	loopCtx, stopLoop := context.WithCancel(ctx)
	defer stopLoop()

	if a.loop != nil {
		go func() { _ = a.loop.Run(loopCtx) }()
		a.log.Info("ingestion loop started",
			applogger.String("symbol", a.cfg.Upstream.Symbol),
			applogger.Duration("interval", a.cfg.Ingest.Interval))
	}

	if a.consumer != nil {
		if err := a.consumer.Start(); err != nil {
			a.log.Error("kafka consumer start error", applogger.Error(err))
			return a.shutdown(stopLoop, err)
		}
		a.log.Info("kafka consumer started", applogger.String("topic", a.cfg.Kafka.Topic))
	}

	var listenErr <-chan error
	if a.httpServer != nil {
		if err := a.httpServer.Start(); err != nil {
			a.log.Error("http server start error", applogger.Error(err))
			return a.shutdown(stopLoop, err)
		}
		listenErr = a.httpServer.Errors()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-listenErr:
	}
	return a.shutdown(stopLoop, runErr)
}

// shutdown stops intake first, then lets in-flight work drain, then releases
// clients. runErr is returned unchanged.
func (a *App) shutdown(stopLoop context.CancelFunc, runErr error) error {
	a.log.Info("shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), a.drainTimeout())
	defer cancel()

	// the loop never starts a new cycle once cancelled; wait for the in-flight one
	stopLoop()
	if a.loop != nil {
		select {
		case <-a.loop.Done():
		case <-ctx.Done():
			a.log.Warn("ingestion loop did not stop in time")
		}
	}

	if a.feed != nil {
		_ = a.feed.Close()
	}
	if a.httpServer != nil {
		if err := a.httpServer.Stop(ctx); err != nil {
			a.log.Error("http shutdown error", applogger.Error(err))
		}
	}

	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	// digests go out through the producer, which the processor closes
	a.log.RemoveCollector()
	if a.proc != nil {
		a.proc.Close()
	}
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.log.Warn("close error", applogger.Error(err))
		}
	}

	a.log.Info("shutdown complete")
	return runErr
}

func (a *App) drainTimeout() time.Duration {
	d := a.cfg.Server.ShutdownTimeout
	if a.loop != nil {
		d += a.cfg.Ingest.CycleTimeout
	}
	return d
}
