package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Guizzs26/go-doener-saga/internal/models"
	"github.com/Guizzs26/go-doener-saga/pkg/infra"
	"github.com/Guizzs26/go-doener-saga/pkg/metrics"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

var errDeliveriesClosed = errors.New("delivery channel closed")

// Delivery is a decoded message handed to a Handler
type Delivery struct {
	Envelope    models.Envelope
	MessageID   string
	Queue       string
	RoutingKey  string
	Redelivered bool
	// Attempt is 1 on first delivery
	Attempt int
}

// Handler processes one delivery. A non-nil error requeues the message
type Handler func(ctx context.Context, d Delivery) error

type Outcome int

const (
	Ack Outcome = iota
	Requeue
	DeadLetter
)

func (o Outcome) String() string {
	switch o {
	case Requeue:
		return "requeue"
	case DeadLetter:
		return "dead_letter"
	default:
		return "ack"
	}
}

type ConsumerConfig struct {
	MaxRedeliveries int
	RetryDelay      time.Duration
	// RequeueDelay throttles redelivery of messages whose handler failed
	RequeueDelay time.Duration
}

// Consumer subscribes to queues of the shared session and resolves every delivery to
// exactly one of ack, requeue or dead letter
type Consumer struct {
	session         *Session
	logger          *slog.Logger
	maxRedeliveries int
	retryDelay      time.Duration
	requeueDelay    time.Duration
	attempts        *attemptTracker

	// done is cancelled by Close and ends every Consume loop
	done context.Context
	stop context.CancelFunc

	mu   sync.Mutex
	tags map[string]struct{}
}

func NewConsumer(s *Session, cfg ConsumerConfig, logger *slog.Logger) *Consumer {
	done, stop := context.WithCancel(context.Background())
	return &Consumer{
		done:            done,
		stop:            stop,
		session:         s,
		logger:          logger.With("component", "consumer"),
		maxRedeliveries: max(cfg.MaxRedeliveries, 1),
		retryDelay:      cfg.RetryDelay,
		requeueDelay:    cfg.RequeueDelay,
		attempts:        newAttemptTracker(),
		tags:            make(map[string]struct{}),
	}
}

// Consume blocks until ctx is done or the consumer is closed, resubscribing whenever the
// delivery stream ends
func (c *Consumer) Consume(ctx context.Context, name string, handler Handler) error {
	route, err := Resolve(name)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	release := context.AfterFunc(c.done, cancel)
	defer release()

	b := infra.NewFixedBackoff(c.retryDelay)
	for {
		err := c.consumeOnce(ctx, route, handler)
		if ctx.Err() != nil || c.done.Err() != nil {
			return nil
		}
		if errors.Is(err, ErrTopologyMismatch) {
			return err
		}

		c.logger.Warn("Consumer lost its subscription, reconnecting", "source", name, "resubscribes", b.Attempts(), "error", err)
		if err := b.Wait(ctx); err != nil {
			return nil
		}
		if err := c.session.Reconnect(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (c *Consumer) consumeOnce(ctx context.Context, route Route, handler Handler) error {
	queue, err := c.declare(ctx, route)
	if err != nil {
		return err
	}

	tag := fmt.Sprintf("%s.%s.%s", c.session.Service(), queue, uuid.NewString()[:8])
	deliveries, err := c.subscribe(ctx, queue, tag)
	if err != nil {
		return err
	}
	defer c.untrack(tag)

	c.logger.Info("Consumer is online and waiting for messages", "queue", queue, "consumer_tag", tag)

	for {
		select {
		case <-ctx.Done():
			c.cancel(tag)
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errDeliveriesClosed
			}
			c.handle(ctx, queue, d, handler)
		}
	}
}

func (c *Consumer) declare(ctx context.Context, route Route) (string, error) {
	if route.Kind == KindEvent {
		spec, err := c.session.EnsureEventQueue(ctx, route.Name, c.session.Service())
		return spec.Name, err
	}
	if err := c.session.ensureRoute(ctx, route); err != nil {
		return "", err
	}
	return route.Name, nil
}

// handle decodes, dispatches and settles a single delivery
func (c *Consumer) handle(ctx context.Context, queue string, d amqp.Delivery, handler Handler) Outcome {
	service := c.session.Service()

	env, err := models.DecodeEnvelope(d.Body)
	if err != nil {
		c.logger.Error("Dropping malformed message", "queue", queue, "message_id", d.MessageId, "error", err)
		metrics.DeadLettered.WithLabelValues(service, queue, "malformed").Inc()
		metrics.MessagesConsumed.WithLabelValues(service, "malformed", DeadLetter.String()).Inc()
		c.settle(d, DeadLetter)
		return DeadLetter
	}

	key := d.MessageId
	if key == "" {
		key = env.CorrelationID + "/" + env.OrderID + "/" + env.MessageType.String()
	}
	attempt := deliveryAttempt(d, c.attempts, key)

	l := c.logger.With(
		"queue", queue,
		"message_type", env.MessageType,
		"order_id", env.OrderID,
		"correlation_id", env.CorrelationID,
		"attempt", attempt,
	)

	start := time.Now()
	err = handler(ctx, Delivery{
		Envelope:    env,
		MessageID:   d.MessageId,
		Queue:       queue,
		RoutingKey:  d.RoutingKey,
		Redelivered: d.Redelivered,
		Attempt:     attempt,
	})
	metrics.ProcessingDuration.WithLabelValues(service, env.MessageType.String()).Observe(time.Since(start).Seconds())

	outcome := Ack
	if err != nil {
		metrics.ProcessingErrors.WithLabelValues(service, "handler").Inc()
		if attempt >= c.maxRedeliveries {
			outcome = DeadLetter
			metrics.DeadLettered.WithLabelValues(service, queue, "redelivery_limit").Inc()
			l.Error("Processing failed too many times, dead-lettering", "error", err)
		} else {
			outcome = Requeue
			l.Warn("Processing failed, requeueing", "error", err)
			c.throttle(ctx)
		}
	}

	if outcome != Requeue {
		c.attempts.forget(key)
	}
	c.settle(d, outcome)
	metrics.MessagesConsumed.WithLabelValues(service, env.MessageType.String(), outcome.String()).Inc()
	return outcome
}

func (c *Consumer) settle(d amqp.Delivery, outcome Outcome) {
	var err error
	switch outcome {
	case Ack:
		err = d.Ack(false)
	case Requeue:
		err = d.Nack(false, true)
	case DeadLetter:
		err = d.Nack(false, false)
	}
	if err != nil {
		c.logger.Error("Failed to settle delivery", "outcome", outcome, "message_id", d.MessageId, "error", err)
	}
}

func (c *Consumer) throttle(ctx context.Context) {
	if c.requeueDelay <= 0 {
		return
	}
	t := time.NewTimer(c.requeueDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Close cancels every active subscription and ends every Consume loop. Consume called
// after Close returns immediately
func (c *Consumer) Close() {
	c.stop()

	c.mu.Lock()
	tags := make([]string, 0, len(c.tags))
	for tag := range c.tags {
		tags = append(tags, tag)
	}
	c.mu.Unlock()

	for _, tag := range tags {
		c.cancel(tag)
	}
}

func (c *Consumer) cancel(tag string) {
	err := c.session.Do(context.Background(), func(ch Channel) error {
		return ch.Cancel(tag, false)
	})
	if err != nil && !errors.Is(err, ErrNotConnected) {
		c.logger.Warn("Failed to cancel consumer", "consumer_tag", tag, "error", err)
	}
}

// subscribe registers tag on queue unless the consumer is closed. Registration and
// tracking happen under mu so Close sees every tag it has to cancel
func (c *Consumer) subscribe(ctx context.Context, queue, tag string) (<-chan amqp.Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.done.Err(); err != nil {
		return nil, err
	}

	var deliveries <-chan amqp.Delivery
	err := c.session.Do(ctx, func(ch Channel) error {
		var err error
		deliveries, err = ch.Consume(queue, tag, false, false, false, false, nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register consumer: %w", err)
	}

	c.tags[tag] = struct{}{}
	return deliveries, nil
}

func (c *Consumer) untrack(tag string) {
	c.mu.Lock()
	delete(c.tags, tag)
	c.mu.Unlock()
}
