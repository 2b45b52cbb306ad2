package saga

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/Guizzs26/go-doener-saga/internal/broker"
	"github.com/Guizzs26/go-doener-saga/internal/models"

	"github.com/golang/mock/gomock"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// envelopeOf matches an envelope by message type
type envelopeOf models.MessageType

func (m envelopeOf) Matches(x interface{}) bool {
	env, ok := x.(models.Envelope)
	return ok && env.MessageType == models.MessageType(m)
}

func (m envelopeOf) String() string {
	return fmt.Sprintf("envelope of type %s", string(m))
}

type published struct {
	target string
	env    models.Envelope
}

// recorder collects everything published through a MockPublisher
type recorder struct {
	mu   sync.Mutex
	msgs []published
}

func (r *recorder) record(_ context.Context, target string, env models.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, published{target: target, env: env})
	return nil
}

func (r *recorder) on(target string) []models.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []models.Envelope
	for _, m := range r.msgs {
		if m.target == target {
			out = append(out, m.env)
		}
	}
	return out
}

func recordingPublisher(ctrl *gomock.Controller) (*MockPublisher, *recorder) {
	rec := &recorder{}
	pub := NewMockPublisher(ctrl)
	pub.EXPECT().Publish(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(rec.record).AnyTimes()
	return pub, rec
}

func deliver(env models.Envelope, queue string) broker.Delivery {
	return broker.Delivery{Envelope: env, Queue: queue, Attempt: 1}
}

func orderCreated(orderID, customerID string) models.Envelope {
	return models.NewEnvelope("corr-"+orderID, orderID, models.OrderCreated, models.Payload{
		"customer_id": customerID,
		"status":      "CREATED",
		"details":     map[string]any{"sauce": "garlic"},
	})
}

func doenerAssigned(orderID string, shop models.Shop) models.Envelope {
	return models.NewEnvelope("corr-"+orderID, orderID, models.DoenerAssigned, models.MustPayload(models.DoenerAssignedPayload{
		Shop:   shop,
		Price:  shop.Price,
		Status: models.StatusDoenerAssigned,
	}))
}

func invoiceCreated(orderID, invoiceID string, total float64) models.Envelope {
	return models.NewEnvelope("corr-"+orderID, orderID, models.InvoiceCreated, models.MustPayload(models.InvoiceCreatedPayload{
		InvoiceID: invoiceID,
		Total:     total,
		Status:    models.StatusInvoiced,
	}))
}
