package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Guizzs26/go-doener-saga/pkg/infra"
	"github.com/Guizzs26/go-doener-saga/pkg/metrics"

	amqp "github.com/rabbitmq/amqp091-go"
)

type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

type SessionConfig struct {
	URL            string
	Service        string
	Prefetch       int
	StartupRetries int
	RetryDelay     time.Duration
}

// Session owns the single connection/channel pair of a process. Every publisher and
// consumer of the process shares it
type Session struct {
	url            string
	service        string
	prefetch       int
	startupRetries int
	retryDelay     time.Duration
	dial           Dialer
	logger         *slog.Logger

	// connMu guards (re)connects, chMu serializes channel operations
	connMu sync.Mutex
	chMu   sync.Mutex
	conn   Connection
	ch     Channel

	state      atomic.Int32
	generation atomic.Uint64
	closed     atomic.Bool
}

func NewSession(cfg SessionConfig, dial Dialer, logger *slog.Logger) *Session {
	if dial == nil {
		dial = DialAMQP
	}
	return &Session{
		url:            cfg.URL,
		service:        cfg.Service,
		prefetch:       max(cfg.Prefetch, 1),
		startupRetries: max(cfg.StartupRetries, 1),
		retryDelay:     cfg.RetryDelay,
		dial:           dial,
		logger:         logger.With("component", "broker"),
	}
}

// Connect is the startup connect: a bounded number of attempts separated by a fixed delay
func (s *Session) Connect(ctx context.Context) error {
	b := infra.NewFixedBackoff(s.retryDelay)

	var lastErr error
	for attempt := 1; attempt <= s.startupRetries; attempt++ {
		lastErr = s.EnsureConnected(ctx)
		if lastErr == nil {
			return nil
		}

		s.logger.Warn("Broker not reachable yet",
			"attempt", attempt,
			"max_attempts", s.startupRetries,
			"retry_in", s.retryDelay,
			"error", lastErr,
		)
		if attempt == s.startupRetries {
			break
		}
		if err := b.Wait(ctx); err != nil {
			return err
		}
	}

	return fmt.Errorf("%w after %d attempt(s): %v", ErrStartupFailed, s.startupRetries, lastErr)
}

// EnsureConnected opens the connection and channel when they are absent or closed
func (s *Session) EnsureConnected(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.closed.Load() {
		return ErrNotConnected
	}
	if s.conn != nil && !s.conn.IsClosed() && s.ch != nil && !s.ch.IsClosed() {
		return nil
	}
	return s.open()
}

// Reconnect drops the current link and retries until it is restored or ctx is done
func (s *Session) Reconnect(ctx context.Context) error {
	b := infra.NewFixedBackoff(s.retryDelay)

	for {
		metrics.BrokerReconnections.WithLabelValues(s.service).Inc()

		err := s.EnsureConnected(ctx)
		if err == nil {
			s.logger.Info("Broker connection restored", "generation", s.Generation())
			return nil
		}
		if s.closed.Load() {
			return err
		}

		s.logger.Warn("Reconnect failed, retrying", "attempt", b.Attempts()+1, "retry_in", s.retryDelay, "error", err)
		if err := b.Wait(ctx); err != nil {
			return err
		}
	}
}

// Do runs fn with the shared channel. Calls are serialized
func (s *Session) Do(ctx context.Context, fn func(ch Channel) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.chMu.Lock()
	defer s.chMu.Unlock()

	s.connMu.Lock()
	ch := s.ch
	s.connMu.Unlock()

	if ch == nil || ch.IsClosed() {
		return ErrNotConnected
	}
	return fn(ch)
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) IsConnected() bool {
	return s.State() == Connected
}

// Generation increments every time a new channel is opened
func (s *Session) Generation() uint64 {
	return s.generation.Load()
}

func (s *Session) Service() string {
	return s.service
}

// Close releases the channel and the connection. The session cannot be reused afterwards
func (s *Session) Close() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.closed.Swap(true) {
		return nil
	}
	s.logger.Info("Closing broker session")
	s.teardown()
	return nil
}

// open must be called with connMu held
func (s *Session) open() error {
	s.setState(Connecting)
	s.teardown()

	conn, err := s.dial(s.url)
	if err != nil {
		s.setState(Disconnected)
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		s.setState(Disconnected)
		return fmt.Errorf("failed to open RabbitMQ channel: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		conn.Close()
		s.setState(Disconnected)
		return fmt.Errorf("failed to activate publisher confirms: %w", err)
	}

	if err := ch.Qos(s.prefetch, 0, false); err != nil {
		ch.Close()
		conn.Close()
		s.setState(Disconnected)
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	s.conn = conn
	s.ch = ch
	gen := s.generation.Add(1)
	s.setState(Connected)

	go s.watch(gen, conn.NotifyClose(make(chan *amqp.Error, 1)), ch.NotifyClose(make(chan *amqp.Error, 1)))

	s.logger.Info("Connected to RabbitMQ", "prefetch", s.prefetch, "generation", gen)
	return nil
}

// teardown must be called with connMu held
func (s *Session) teardown() {
	if s.ch != nil {
		_ = s.ch.Close()
		s.ch = nil
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	if s.closed.Load() {
		s.setState(Disconnected)
	}
}

// watch flips the state when the link it was started for goes away
func (s *Session) watch(gen uint64, connClosed, chClosed chan *amqp.Error) {
	var err *amqp.Error
	var what string
	select {
	case err = <-connClosed:
		what = "connection"
	case err = <-chClosed:
		what = "channel"
	}

	s.connMu.Lock()
	stale := s.generation.Load() != gen
	if !stale {
		s.setState(Disconnected)
	}
	s.connMu.Unlock()
	if stale {
		return
	}

	if err != nil {
		s.logger.Warn("RabbitMQ "+what+" closed", "error", err)
	} else {
		s.logger.Debug("RabbitMQ " + what + " closed")
	}
}

func (s *Session) setState(state State) {
	s.state.Store(int32(state))

	if state == Connected {
		metrics.HealthStatus.WithLabelValues(s.service).Set(1)
	} else {
		metrics.HealthStatus.WithLabelValues(s.service).Set(0)
	}
}
