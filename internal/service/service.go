package service

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Guizzs26/go-doener-saga/internal/models"
	"github.com/Guizzs26/go-doener-saga/pkg/metrics"
)

const serviceExceptionKind = "ServiceException"

// Publisher is implemented by broker.Publisher
type Publisher interface {
	Publish(ctx context.Context, name string, env models.Envelope) error
}

func unexpected(service string, env models.Envelope, l *slog.Logger) {
	metrics.UnknownMessages.WithLabelValues(service, env.MessageType.String()).Inc()
	l.Warn("unknown_message_type")
}

const maxRemembered = 10000

// assignments remembers the shop assigned to each order so a repeated request gets the
// same answer
type assignments struct {
	mu    sync.Mutex
	shops map[string]models.Shop
}

func newAssignments() *assignments {
	return &assignments{shops: make(map[string]models.Shop)}
}

func (a *assignments) get(orderID string) (models.Shop, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	shop, ok := a.shops[orderID]
	return shop, ok
}

func (a *assignments) put(orderID string, shop models.Shop) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.shops) >= maxRemembered {
		clear(a.shops)
	}
	a.shops[orderID] = shop
}
