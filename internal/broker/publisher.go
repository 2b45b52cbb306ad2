package broker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Guizzs26/go-doener-saga/internal/models"
	"github.com/Guizzs26/go-doener-saga/pkg/infra"
	"github.com/Guizzs26/go-doener-saga/pkg/metrics"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

type PublisherConfig struct {
	MaxAttempts int
	RetryDelay  time.Duration
}

// Publisher sends envelopes to request queues and event streams with publisher confirms
type Publisher struct {
	session  *Session
	logger   *slog.Logger
	attempts int
	delay    time.Duration

	mu       sync.Mutex
	gen      uint64
	declared map[string]bool
}

func NewPublisher(s *Session, cfg PublisherConfig, logger *slog.Logger) *Publisher {
	return &Publisher{
		session:  s,
		logger:   logger.With("component", "publisher"),
		attempts: max(cfg.MaxAttempts, 1),
		delay:    cfg.RetryDelay,
		declared: make(map[string]bool),
	}
}

// Publish delivers env to the queue or event stream called name. A nil error means the
// broker confirmed the message; anything else means delivery is not guaranteed
func (p *Publisher) Publish(ctx context.Context, name string, env models.Envelope) error {
	route, err := Resolve(name)
	if err != nil {
		return err
	}

	l := p.logger.With(
		"target", name,
		"message_type", env.MessageType,
		"order_id", env.OrderID,
		"correlation_id", env.CorrelationID,
	)

	body, err := env.Marshal()
	if err != nil {
		metrics.MessagesPublished.WithLabelValues(p.session.Service(), name, env.MessageType.String(), "failed").Inc()
		return &PublishError{Target: name, Attempts: 0, Err: err}
	}

	msg := amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     uuid.NewString(),
		CorrelationId: env.CorrelationID,
		Type:          env.MessageType.String(),
		Timestamp:     env.Timestamp.Time,
		AppId:         p.session.Service(),
		Body:          body,
	}

	b := infra.NewFixedBackoff(p.delay)
	attempt := 0
	var lastErr error
	for attempt < p.attempts {
		attempt++

		lastErr = p.publishOnce(ctx, route, msg)
		if lastErr == nil {
			metrics.MessagesPublished.WithLabelValues(p.session.Service(), name, env.MessageType.String(), "sent").Inc()
			l.Debug("Message published", "message_id", msg.MessageId, "attempt", attempt)
			return nil
		}
		if errors.Is(lastErr, ErrTopologyMismatch) || ctx.Err() != nil {
			break
		}

		l.Warn("Publish attempt failed", "attempt", attempt, "max_attempts", p.attempts, "error", lastErr)
		if attempt == p.attempts {
			break
		}

		metrics.PublishRetries.WithLabelValues(p.session.Service(), name).Inc()
		if err := b.Wait(ctx); err != nil {
			lastErr = err
			break
		}
	}

	metrics.MessagesPublished.WithLabelValues(p.session.Service(), name, env.MessageType.String(), "failed").Inc()
	l.Error("Failed to publish message", "attempts", attempt, "error", lastErr)
	return &PublishError{Target: name, Attempts: attempt, Err: lastErr}
}

func (p *Publisher) publishOnce(ctx context.Context, route Route, msg amqp.Publishing) error {
	if err := p.session.EnsureConnected(ctx); err != nil {
		return err
	}
	if err := p.ensureRoute(ctx, route); err != nil {
		return err
	}
	return p.session.Do(ctx, func(ch Channel) error {
		return ch.PublishConfirmed(ctx, route.Exchange, route.RoutingKey, msg)
	})
}

// ensureRoute declares the topology of a route once per connection generation
func (p *Publisher) ensureRoute(ctx context.Context, route Route) error {
	gen := p.session.Generation()

	p.mu.Lock()
	if p.gen != gen {
		p.gen = gen
		clear(p.declared)
	}
	done := p.declared[route.Name]
	p.mu.Unlock()

	if done {
		return nil
	}
	if err := p.session.ensureRoute(ctx, route); err != nil {
		return err
	}

	p.mu.Lock()
	if p.gen == gen {
		p.declared[route.Name] = true
	}
	p.mu.Unlock()
	return nil
}
