package saga

import (
	"context"
	"testing"

	"github.com/Guizzs26/go-doener-saga/internal/models"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	order := models.NewOrder(orderCreated("order-1", "alice"), models.OrderCreatedPayload{CustomerID: "alice"})

	require.NoError(t, store.Create(ctx, order))
	assert.True(t, errors.Is(store.Create(ctx, order), ErrRecordExists))

	got, err := store.Get(ctx, "order-1")
	require.NoError(t, err)
	got.Status = models.StatusFailed

	again, err := store.Get(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCreated, again.Status, "Get must return a copy")

	_, err = store.Get(ctx, "missing")
	assert.True(t, errors.Is(err, ErrRecordNotFound))

	_, err = store.Update(ctx, "missing", func(*models.Order) error { return nil })
	assert.True(t, errors.Is(err, ErrRecordNotFound))
}

func TestMemoryStoreUpdateIsAtomic(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Create(ctx, models.NewOrder(orderCreated("order-1", "alice"), models.OrderCreatedPayload{})))

	_, err := store.Update(ctx, "order-1", func(o *models.Order) error {
		o.Status = models.StatusInvoiced
		o.InvoiceID = "INV-1"
		return ErrInvalidTransition
	})
	require.Error(t, err)

	got, _ := store.Get(ctx, "order-1")
	assert.Equal(t, models.StatusCreated, got.Status)
	assert.Empty(t, got.InvoiceID)

	updated, err := store.Update(ctx, "order-1", func(o *models.Order) error {
		o.Status = models.StatusProcessing
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, updated.Status)
}
