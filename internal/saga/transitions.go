package saga

import (
	"slices"

	"github.com/Guizzs26/go-doener-saga/internal/models"
)

var transitions = map[models.OrderStatus][]models.OrderStatus{
	models.StatusCreated:          {models.StatusProcessing, models.StatusFailed},
	models.StatusProcessing:       {models.StatusDoenerAssigned, models.StatusFailed},
	models.StatusDoenerAssigned:   {models.StatusInvoiceRequested, models.StatusFailed},
	models.StatusInvoiceRequested: {models.StatusInvoiced, models.StatusFailed},
}

// CanTransition reports whether an order in status from may move to status to.
// Terminal statuses have no outgoing transitions
func CanTransition(from, to models.OrderStatus) bool {
	return slices.Contains(transitions[from], to)
}
