package service

import (
	"context"
	"io"
	"log/slog"

	"github.com/Guizzs26/go-doener-saga/internal/broker"
	"github.com/Guizzs26/go-doener-saga/internal/models"

	"github.com/stretchr/testify/mock"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, name string, env models.Envelope) error {
	args := m.Called(ctx, name, env)
	return args.Error(0)
}

// published returns the envelope of the i-th Publish call
func (m *mockPublisher) published(i int) models.Envelope {
	return m.Calls[i].Arguments.Get(2).(models.Envelope)
}

type stubFinder struct {
	shop  models.Shop
	err   error
	calls int
}

func (f *stubFinder) FindShop(context.Context, string) (models.Shop, error) {
	f.calls++
	return f.shop, f.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func deliver(env models.Envelope) broker.Delivery {
	return broker.Delivery{Envelope: env, Attempt: 1}
}
