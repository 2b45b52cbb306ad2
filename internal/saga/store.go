package saga

import (
	"context"
	"sync"

	"github.com/Guizzs26/go-doener-saga/internal/models"

	"github.com/pkg/errors"
)

// Store keeps order records for the lifetime of the process
type Store interface {
	Create(ctx context.Context, order *models.Order) error
	Get(ctx context.Context, orderID string) (*models.Order, error)
	// Update applies fn to the record atomically. The record is left untouched when fn fails
	Update(ctx context.Context, orderID string, fn func(order *models.Order) error) (*models.Order, error)
}

type MemoryStore struct {
	mu     sync.RWMutex
	orders map[string]*models.Order
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: make(map[string]*models.Order)}
}

func (s *MemoryStore) Create(_ context.Context, order *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[order.OrderID]; ok {
		return errors.Wrapf(ErrRecordExists, "order %s", order.OrderID)
	}
	s.orders[order.OrderID] = order.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, orderID string) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[orderID]
	if !ok {
		return nil, errors.Wrapf(ErrRecordNotFound, "order %s", orderID)
	}
	return order.Clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, orderID string, fn func(order *models.Order) error) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.orders[orderID]
	if !ok {
		return nil, errors.Wrapf(ErrRecordNotFound, "order %s", orderID)
	}

	draft := current.Clone()
	if err := fn(draft); err != nil {
		return nil, err
	}
	s.orders[orderID] = draft
	return draft.Clone(), nil
}

// Len is the number of records held
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders)
}
