package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Guizzs26/go-doener-saga/internal/api"
	"github.com/Guizzs26/go-doener-saga/internal/broker"
	"github.com/Guizzs26/go-doener-saga/internal/config"
	"github.com/Guizzs26/go-doener-saga/internal/processor"

	"github.com/go-chi/chi/v5"
)

const shutdownTimeout = 10 * time.Second

// App is the service context built once in main: the broker session shared by the
// publisher and the consumers, the work pipeline and the HTTP server
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Session   *broker.Session
	Publisher *broker.Publisher
	Router    chi.Router

	consumer *broker.Consumer
	pipeline *processor.Pipeline
	server   *http.Server
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	errs     chan error
	closers  []func()
	once     sync.Once
}

// New connects to the broker and declares the static topology. A broker that stays
// unreachable for every startup attempt yields an error wrapping broker.ErrStartupFailed
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, dial broker.Dialer) (*App, error) {
	session := broker.NewSession(broker.SessionConfig{
		URL:            cfg.RabbitMQURL,
		Service:        cfg.ServiceName,
		Prefetch:       cfg.Prefetch,
		StartupRetries: cfg.StartupRetries,
		RetryDelay:     cfg.RetryDelay,
	}, dial, logger)

	if err := session.Connect(ctx); err != nil {
		_ = session.Close()
		return nil, err
	}
	if err := session.EnsureTopology(ctx); err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("failed to declare topology: %w", err)
	}

	a := &App{
		Config:  cfg,
		Logger:  logger,
		Session: session,
		Publisher: broker.NewPublisher(session, broker.PublisherConfig{
			MaxAttempts: cfg.PublishAttempts,
			RetryDelay:  cfg.PublishDelay,
		}, logger),
		consumer: broker.NewConsumer(session, broker.ConsumerConfig{
			MaxRedeliveries: cfg.MaxRedeliveries,
			RetryDelay:      cfg.RetryDelay,
			RequeueDelay:    cfg.RequeueDelay,
		}, logger),
		Router: api.NewRouter(cfg.ServiceName, session, logger),
		errs:   make(chan error, 8),
	}
	return a, nil
}

// Consume feeds every source into a single pipeline worker running handler. It returns
// immediately; consumers stop when ctx is done or the App is closed
func (a *App) Consume(ctx context.Context, handler broker.Handler, sources ...string) {
	ctx, a.cancel = context.WithCancel(ctx)

	a.pipeline = processor.NewPipeline(a.Config.PipelineSize, a.Config.ServiceName, handler, a.Logger)
	a.pipeline.Start()

	for _, source := range sources {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := a.consumer.Consume(ctx, source, a.pipeline.Submit); err != nil {
				a.fail(fmt.Errorf("consumer %s: %w", source, err))
			}
		}()
	}
	a.Logger.Info("Consumers started", "sources", sources)
}

// OnClose registers fn to run once consumers and the pipeline have stopped
func (a *App) OnClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// Run serves HTTP until ctx is done or a consumer or the server fails
func (a *App) Run(ctx context.Context) error {
	a.server = &http.Server{
		Addr:         ":" + a.Config.HTTPPort,
		Handler:      a.Router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		a.Logger.Info("HTTP server online", "url", "http://localhost:"+a.Config.HTTPPort)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.fail(fmt.Errorf("http server: %w", err))
		}
	}()

	select {
	case <-ctx.Done():
		a.Logger.Info("Shutdown signal received")
		return nil
	case err := <-a.errs:
		return err
	}
}

// Close stops consumers, drains the pipeline, shuts the HTTP server down and releases the
// broker session, in that order. It is safe to call more than once
func (a *App) Close() {
	a.once.Do(func() {
		if a.cancel != nil {
			a.cancel()
		}
		a.consumer.Close()
		a.wg.Wait()

		if a.pipeline != nil {
			a.pipeline.Stop()
		}
		for _, fn := range a.closers {
			fn()
		}

		if a.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			if err := a.server.Shutdown(ctx); err != nil {
				a.Logger.Warn("HTTP server shutdown failed", "error", err)
			}
			cancel()
		}

		_ = a.Session.Close()
		a.Logger.Info("Service stopped")
	})
}

func (a *App) fail(err error) {
	select {
	case a.errs <- err:
	default:
	}
}
