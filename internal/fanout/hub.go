package fanout

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Guizzs26/go-doener-saga/internal/broker"
	"github.com/Guizzs26/go-doener-saga/internal/models"
	"github.com/Guizzs26/go-doener-saga/pkg/metrics"
)

const DefaultWriteTimeout = 5 * time.Second

// Subscriber is a live client waiting for the updates of one order
type Subscriber interface {
	Send(ctx context.Context, env models.Envelope) error
	Close() error
}

// Hub maps an order id to its single live subscriber
type Hub struct {
	mu           sync.Mutex
	subs         map[string]Subscriber
	writeTimeout time.Duration
	logger       *slog.Logger
}

func NewHub(writeTimeout time.Duration, logger *slog.Logger) *Hub {
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	return &Hub{
		subs:         make(map[string]Subscriber),
		writeTimeout: writeTimeout,
		logger:       logger.With("component", "fanout"),
	}
}

// Register attaches sub to orderID. A subscriber already registered for the order is
// replaced and closed
func (h *Hub) Register(orderID string, sub Subscriber) {
	h.mu.Lock()
	old, replaced := h.subs[orderID]
	h.subs[orderID] = sub
	h.mu.Unlock()

	switch {
	case !replaced:
		metrics.ActiveSubscribers.Inc()
	case old != sub:
		_ = old.Close()
		h.logger.Info("websocket_replaced", "order_id", orderID)
	}
	h.logger.Info("websocket_connected", "order_id", orderID)
}

// Unregister removes whatever is registered for orderID. Unknown ids are ignored
func (h *Hub) Unregister(orderID string) {
	h.mu.Lock()
	_, ok := h.subs[orderID]
	delete(h.subs, orderID)
	h.mu.Unlock()

	if ok {
		metrics.ActiveSubscribers.Dec()
		h.logger.Info("websocket_disconnected", "order_id", orderID)
	}
}

// Release removes sub only if it is still the registered subscriber of orderID
func (h *Hub) Release(orderID string, sub Subscriber) bool {
	h.mu.Lock()
	current, ok := h.subs[orderID]
	if !ok || current != sub {
		h.mu.Unlock()
		return false
	}
	delete(h.subs, orderID)
	h.mu.Unlock()

	metrics.ActiveSubscribers.Dec()
	h.logger.Info("websocket_disconnected", "order_id", orderID)
	return true
}

// Push forwards env to the subscriber of orderID, if any. A subscriber that cannot be
// written to within the write timeout is dropped
func (h *Hub) Push(ctx context.Context, orderID string, env models.Envelope) error {
	h.mu.Lock()
	sub, ok := h.subs[orderID]
	h.mu.Unlock()

	if !ok {
		metrics.FanoutPushes.WithLabelValues("no_subscriber").Inc()
		h.logger.Debug("no_subscriber", "order_id", orderID, "message_type", env.MessageType)
		return nil
	}

	sendCtx, cancel := context.WithTimeout(ctx, h.writeTimeout)
	defer cancel()

	if err := sub.Send(sendCtx, env); err != nil {
		metrics.FanoutPushes.WithLabelValues("failed").Inc()
		h.logger.Warn("websocket_send_failed", "order_id", orderID, "message_type", env.MessageType, "error", err)
		h.Release(orderID, sub)
		_ = sub.Close()
		return err
	}

	metrics.FanoutPushes.WithLabelValues("sent").Inc()
	h.logger.Debug("websocket_update_sent", "order_id", orderID, "message_type", env.MessageType)
	return nil
}

// Handle is the broker.Handler of the gateway event consumers. Updates are best effort,
// so the delivery is always acknowledged
func (h *Hub) Handle(ctx context.Context, d broker.Delivery) error {
	env := d.Envelope
	if env.MessageType.IsFailure() {
		h.logger.Info("order_failure_received", "order_id", env.OrderID, "message_type", env.MessageType, "queue", d.Queue)
	}
	_ = h.Push(ctx, env.OrderID, env)
	return nil
}

func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close disconnects every subscriber
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[string]Subscriber)
	h.mu.Unlock()

	for orderID, sub := range subs {
		_ = sub.Close()
		metrics.ActiveSubscribers.Dec()
		h.logger.Debug("websocket_closed", "order_id", orderID)
	}
}
