package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/Guizzs26/go-doener-saga/internal/broker"
	"github.com/Guizzs26/go-doener-saga/internal/models"
)

var ErrInvalidInvoiceRequest = errors.New("invalid message format")

const invoicePrefix = "INV-"

// InvoiceID derives the invoice number from the first eight characters of the order id
func InvoiceID(orderID string) string {
	return invoicePrefix + orderID[:min(8, len(orderID))]
}

// InvoicingService answers INVOICE_REQUESTED on invoice_requests with INVOICE_CREATED
// on invoice_supplied
type InvoicingService struct {
	fee       float64
	publisher Publisher
	logger    *slog.Logger
	service   string
}

func NewInvoicingService(fee float64, publisher Publisher, service string, logger *slog.Logger) *InvoicingService {
	return &InvoicingService{
		fee:       fee,
		publisher: publisher,
		logger:    logger.With("component", "invoicing"),
		service:   service,
	}
}

func (s *InvoicingService) Handle(ctx context.Context, d broker.Delivery) error {
	env := d.Envelope
	l := s.logger.With("order_id", env.OrderID, "correlation_id", env.CorrelationID, "message_type", env.MessageType)

	if env.MessageType != models.InvoiceRequested {
		unexpected(s.service, env, l)
		return nil
	}

	l.Info("creating_invoice")
	total, err := s.total(env)
	if err != nil {
		l.Error("invoice_creation_failed", "error", err)
		failed := env.DeriveFailure(models.InvoiceCreationFailed, models.NewErrorDetail(serviceExceptionKind, err))
		return s.publisher.Publish(ctx, broker.InvoiceSupplied, failed)
	}

	invoiceID := InvoiceID(env.OrderID)
	resp := env.Derive(models.InvoiceCreated, models.MustPayload(models.InvoiceCreatedPayload{
		InvoiceID: invoiceID,
		Total:     total,
		Status:    models.StatusInvoiced,
	}))
	if err := s.publisher.Publish(ctx, broker.InvoiceSupplied, resp); err != nil {
		return err
	}

	l.Info("invoice_created", "invoice_id", invoiceID, "total", total)
	return nil
}

// total is the shop price plus the delivery fee, rounded to cents
func (s *InvoicingService) total(env models.Envelope) (float64, error) {
	if !env.Payload.Has("price") {
		return 0, fmt.Errorf("%w: price is missing", ErrInvalidInvoiceRequest)
	}

	var p models.InvoiceRequestedPayload
	if err := env.DecodePayload(&p); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidInvoiceRequest, err)
	}
	if p.Price < 0 || math.IsNaN(p.Price) {
		return 0, fmt.Errorf("%w: price %v", ErrInvalidInvoiceRequest, p.Price)
	}
	return math.Round((p.Price+s.fee)*100) / 100, nil
}
