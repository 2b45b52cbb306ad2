package saga

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"github.com/Guizzs26/go-doener-saga/internal/broker"
	"github.com/Guizzs26/go-doener-saga/internal/models"
	"github.com/Guizzs26/go-doener-saga/pkg/metrics"

	"github.com/pkg/errors"
)

//go:generate mockgen --build_flags=--mod=mod -destination mock_publisher_test.go -package saga . Publisher

// Publisher is the part of broker.Publisher the orchestrator needs
type Publisher interface {
	Publish(ctx context.Context, name string, env models.Envelope) error
}

// Sources lists the queues and event streams the orchestrator consumes and the message
// types expected on each of them
var Sources = map[string][]models.MessageType{
	broker.OrderRequests:   {models.OrderCreated},
	broker.DoenerSupplied:  {models.DoenerAssigned, models.DoenerAssignmentFailed},
	broker.InvoiceSupplied: {models.InvoiceCreated, models.InvoiceCreationFailed},
}

type step func(ctx context.Context, env models.Envelope, l *slog.Logger) error

// Orchestrator drives every order through the saga. It expects to be called by a single
// worker at a time
type Orchestrator struct {
	store     Store
	publisher Publisher
	logger    *slog.Logger
	service   string
	steps     map[models.MessageType]step
}

func NewOrchestrator(store Store, publisher Publisher, service string, logger *slog.Logger) *Orchestrator {
	o := &Orchestrator{
		store:     store,
		publisher: publisher,
		logger:    logger.With("component", "saga"),
		service:   service,
	}
	o.steps = map[models.MessageType]step{
		models.OrderCreated:           o.onOrderCreated,
		models.DoenerAssigned:         o.onDoenerAssigned,
		models.DoenerAssignmentFailed: o.onStepFailed,
		models.InvoiceCreated:         o.onInvoiceCreated,
		models.InvoiceCreationFailed:  o.onStepFailed,
	}
	return o
}

// Handles returns the message types with a registered step
func (o *Orchestrator) Handles() []models.MessageType {
	types := make([]models.MessageType, 0, len(o.steps))
	for t := range o.steps {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// Handle is the broker.Handler of the order service. Only transient failures are
// returned; business failures are reported downstream and the message is acknowledged
func (o *Orchestrator) Handle(ctx context.Context, d broker.Delivery) error {
	env := d.Envelope
	l := o.logger.With(
		"order_id", env.OrderID,
		"correlation_id", env.CorrelationID,
		"message_type", env.MessageType,
	)

	st, ok := o.steps[env.MessageType]
	if !ok {
		metrics.UnknownMessages.WithLabelValues(o.service, env.MessageType.String()).Inc()
		l.Warn("unknown_message_type", "queue", d.Queue)
		return nil
	}

	err := st(ctx, env, l)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrInvalidTransition):
		l.Info("transition_ignored", "reason", err.Error())
		return nil
	case isBusinessFailure(err):
		failure := models.OrderUpdateFailed
		if env.MessageType == models.OrderCreated {
			failure = models.OrderCreationFailed
		}
		l.Error("order_update_failed", "error", err)
		metrics.ProcessingErrors.WithLabelValues(o.service, errorKind(err)).Inc()
		return o.publish(ctx, broker.OrderSupplied, env.DeriveFailure(failure, models.NewErrorDetail(errorKind(err), err)))
	default:
		return err
	}
}

func (o *Orchestrator) onOrderCreated(ctx context.Context, env models.Envelope, l *slog.Logger) error {
	var p models.OrderCreatedPayload
	if err := env.DecodePayload(&p); err != nil {
		return errors.Wrapf(ErrInvalidPayload, "order payload: %v", err)
	}
	if strings.TrimSpace(p.CustomerID) == "" {
		return errors.Wrap(ErrInvalidPayload, "customer_id is required")
	}

	err := o.store.Create(ctx, models.NewOrder(env, p))
	switch {
	case errors.Is(err, ErrRecordExists):
		l.Info("order_redelivered")
	case err != nil:
		return err
	default:
		l.Info("order_created", "customer_id", p.CustomerID)
	}

	if _, err := o.advance(ctx, env.OrderID, models.StatusProcessing, nil, nil); err != nil {
		return err
	}

	ack := env.Derive(models.OrderAcknowledged, models.MustPayload(models.StatusPayload{Status: models.StatusProcessing}))
	if err := o.publish(ctx, broker.OrderSupplied, ack); err != nil {
		return err
	}
	l.Info("order_acknowledged")

	return o.publish(ctx, broker.DoenerRequests, env)
}

func (o *Orchestrator) onDoenerAssigned(ctx context.Context, env models.Envelope, l *slog.Logger) error {
	var p models.DoenerAssignedPayload
	if err := env.DecodePayload(&p); err != nil {
		return errors.Wrapf(ErrInvalidPayload, "doener payload: %v", err)
	}
	if p.Shop.ID == "" {
		return errors.Wrap(ErrInvalidPayload, "shop is required")
	}

	_, err := o.advance(ctx, env.OrderID, models.StatusDoenerAssigned, func(rec *models.Order) {
		shop := p.Shop
		price := p.Price
		rec.Shop = &shop
		rec.Price = &price
	}, map[string]any{"shop": p.Shop.ID, "price": p.Price})
	if err != nil {
		return err
	}
	l.Info("doener_assigned", "shop_id", p.Shop.ID, "price", p.Price)

	req := env.Derive(models.InvoiceRequested, models.MustPayload(models.InvoiceRequestedPayload{
		Price: p.Price,
		Shop:  p.Shop,
	}))
	l.Info("requesting_invoice", "shop_id", p.Shop.ID)
	// INVOICE_CREATED cannot be handled before the advance below because a single worker
	// runs every step
	if err := o.publish(ctx, broker.InvoiceRequests, req); err != nil {
		return err
	}

	if _, err := o.advance(ctx, env.OrderID, models.StatusInvoiceRequested, nil, nil); err != nil {
		return err
	}
	return o.publish(ctx, broker.OrderSupplied, req)
}

func (o *Orchestrator) onInvoiceCreated(ctx context.Context, env models.Envelope, l *slog.Logger) error {
	var p models.InvoiceCreatedPayload
	if err := env.DecodePayload(&p); err != nil {
		return errors.Wrapf(ErrInvalidPayload, "invoice payload: %v", err)
	}
	if p.InvoiceID == "" {
		return errors.Wrap(ErrInvalidPayload, "invoice_id is required")
	}

	_, err := o.advance(ctx, env.OrderID, models.StatusInvoiced, func(rec *models.Order) {
		total := p.Total
		rec.InvoiceID = p.InvoiceID
		rec.Total = &total
	}, map[string]any{"invoice_id": p.InvoiceID, "total": p.Total})
	if err != nil {
		return err
	}

	l.Info("invoice_created", "invoice_id", p.InvoiceID, "total", p.Total)
	return nil
}

// onStepFailed handles the *_FAILED replies of the fulfillment and invoicing services
func (o *Orchestrator) onStepFailed(ctx context.Context, env models.Envelope, l *slog.Logger) error {
	detail := env.Error
	if detail == nil {
		detail = &models.ErrorDetail{Message: env.MessageType.String(), Kind: "UnknownError"}
	}

	_, err := o.advance(ctx, env.OrderID, models.StatusFailed, func(rec *models.Order) {
		d := *detail
		rec.Error = &d
	}, map[string]any{"error": detail.Message})
	if err != nil {
		return err
	}

	l.Warn("order_failed", "reason", detail.Message, "error_type", detail.Kind)
	return nil
}

// advance moves the order to status to. Reaching the status the order is already in is a
// redelivery and leaves the record as it is, so the step can resume its side effects
func (o *Orchestrator) advance(ctx context.Context, orderID string, to models.OrderStatus, mutate func(*models.Order), delta map[string]any) (*models.Order, error) {
	var from models.OrderStatus
	var moved bool

	order, err := o.store.Update(ctx, orderID, func(rec *models.Order) error {
		from = rec.Status
		if rec.Status == to {
			return nil
		}
		if !CanTransition(rec.Status, to) {
			return errors.Wrapf(ErrInvalidTransition, "%s -> %s", rec.Status, to)
		}

		if mutate != nil {
			mutate(rec)
		}
		rec.Status = to

		data := map[string]any{"status": to.String()}
		for k, v := range delta {
			data[k] = v
		}
		rec.Record(data)
		moved = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if moved {
		metrics.SagaTransitions.WithLabelValues(from.String(), to.String()).Inc()
	}
	return order, nil
}

func (o *Orchestrator) publish(ctx context.Context, name string, env models.Envelope) error {
	if err := o.publisher.Publish(ctx, name, env); err != nil {
		return errors.Wrapf(err, "publish %s to %s", env.MessageType, name)
	}
	return nil
}
