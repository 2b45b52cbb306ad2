package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Guizzs26/go-doener-saga/internal/broker"
	"github.com/Guizzs26/go-doener-saga/pkg/metrics"
)

var ErrPipelineClosed = errors.New("pipeline closed")

type job struct {
	ctx      context.Context
	delivery broker.Delivery
	result   chan error
}

// Pipeline is a bounded work queue drained by a single worker, so the business handler
// never runs concurrently with itself
type Pipeline struct {
	handler broker.Handler
	service string
	logger  *slog.Logger
	jobs    chan job

	mu      sync.RWMutex
	closed  bool
	started bool
	wg      sync.WaitGroup
}

func NewPipeline(size int, service string, handler broker.Handler, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		handler: handler,
		service: service,
		logger:  logger.With("component", "pipeline"),
		jobs:    make(chan job, max(size, 1)),
	}
}

// Start launches the worker. Calling it more than once has no effect
func (p *Pipeline) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started || p.closed {
		return
	}
	p.started = true

	p.wg.Add(1)
	go p.run()
}

// Submit queues d and waits for the handler result. It has the broker.Handler signature
// so a consumer can feed the pipeline directly
func (p *Pipeline) Submit(ctx context.Context, d broker.Delivery) error {
	j := job{ctx: ctx, delivery: d, result: make(chan error, 1)}

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrPipelineClosed
	}
	select {
	case p.jobs <- j:
		metrics.PipelineDepth.WithLabelValues(p.service).Set(float64(len(p.jobs)))
	case <-ctx.Done():
		p.mu.RUnlock()
		return ctx.Err()
	}
	p.mu.RUnlock()

	select {
	case err := <-j.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop rejects new work, lets the worker drain what is queued and waits for it
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	started := p.started
	p.mu.Unlock()

	if started {
		p.wg.Wait()
	}
	p.logger.Info("Pipeline stopped")
}

func (p *Pipeline) run() {
	defer p.wg.Done()

	for j := range p.jobs {
		metrics.PipelineDepth.WithLabelValues(p.service).Set(float64(len(p.jobs)))
		j.result <- p.process(j)
	}
}

// process runs the handler for one job and turns a panic into an error so the delivery
// is requeued instead of taking the worker down
func (p *Pipeline) process(j job) (err error) {
	start := time.Now()
	env := j.delivery.Envelope

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
			metrics.ProcessingErrors.WithLabelValues(p.service, "panic").Inc()
			p.logger.Error("Handler panicked",
				"message_type", env.MessageType,
				"order_id", env.OrderID,
				"panic", r,
			)
		}
		p.logger.Debug("Job finished",
			"message_type", env.MessageType,
			"order_id", env.OrderID,
			"duration", time.Since(start),
			"error", err,
		)
	}()

	if err := j.ctx.Err(); err != nil {
		return err
	}
	return p.handler(j.ctx, j.delivery)
}
