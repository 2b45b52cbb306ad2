package service

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/Guizzs26/go-doener-saga/internal/broker"
	"github.com/Guizzs26/go-doener-saga/internal/models"
)

var ErrNoShopAvailable = errors.New("no available shops found")

// DefaultShops is the catalogue the shop finder picks from
var DefaultShops = []models.Shop{
	{ID: "shop1", Name: "Best Döner", Price: 8.50},
	{ID: "shop2", Name: "King Döner", Price: 7.50},
	{ID: "shop3", Name: "Döner Palace", Price: 9.00},
}

type ShopFinder interface {
	FindShop(ctx context.Context, orderID string) (models.Shop, error)
}

// RandomShopFinder stands in for an external shop directory: it answers after a fixed
// latency with a random shop of its catalogue
type RandomShopFinder struct {
	shops   []models.Shop
	latency time.Duration
}

func NewRandomShopFinder(shops []models.Shop, latency time.Duration) *RandomShopFinder {
	return &RandomShopFinder{shops: shops, latency: latency}
}

func (f *RandomShopFinder) FindShop(ctx context.Context, orderID string) (models.Shop, error) {
	if f.latency > 0 {
		t := time.NewTimer(f.latency)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return models.Shop{}, ctx.Err()
		case <-t.C:
		}
	}

	if len(f.shops) == 0 {
		return models.Shop{}, ErrNoShopAvailable
	}
	return f.shops[rand.IntN(len(f.shops))], nil
}

// FulfillmentService answers ORDER_CREATED requests on doener_requests with a shop
// assignment on doener_supplied
type FulfillmentService struct {
	finder    ShopFinder
	publisher Publisher
	logger    *slog.Logger
	service   string
	assigned  *assignments
}

func NewFulfillmentService(finder ShopFinder, publisher Publisher, service string, logger *slog.Logger) *FulfillmentService {
	return &FulfillmentService{
		finder:    finder,
		publisher: publisher,
		logger:    logger.With("component", "fulfillment"),
		service:   service,
		assigned:  newAssignments(),
	}
}

// Handle processes one fulfillment request. The gateway and the orchestrator may both
// request fulfillment for the same order in either order, so every request is answered
// and a repeated request gets the shop assigned the first time
func (s *FulfillmentService) Handle(ctx context.Context, d broker.Delivery) error {
	env := d.Envelope
	l := s.logger.With("order_id", env.OrderID, "correlation_id", env.CorrelationID, "message_type", env.MessageType)

	if env.MessageType != models.OrderCreated {
		unexpected(s.service, env, l)
		return nil
	}

	shop, repeated := s.assigned.get(env.OrderID)
	if repeated {
		l.Info("duplicate_doener_request", "shop_id", shop.ID)
	} else {
		l.Info("processing_doener_request")
		var err error
		shop, err = s.finder.FindShop(ctx, env.OrderID)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			l.Error("shop_finder_error", "error", err)
			failed := env.DeriveFailure(models.DoenerAssignmentFailed, models.NewErrorDetail(serviceExceptionKind, err))
			return s.publisher.Publish(ctx, broker.DoenerSupplied, failed)
		}
		s.assigned.put(env.OrderID, shop)
	}

	resp := env.Derive(models.DoenerAssigned, models.MustPayload(models.DoenerAssignedPayload{
		Shop:   shop,
		Price:  shop.Price,
		Status: models.StatusDoenerAssigned,
	}))
	if err := s.publisher.Publish(ctx, broker.DoenerSupplied, resp); err != nil {
		return err
	}

	l.Info("doener_assigned", "shop_id", shop.ID, "price", shop.Price)
	return nil
}
