package api

import (
	"log/slog"
	"net/http"

	"github.com/Guizzs26/go-doener-saga/internal/saga"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
)

type OrdersHandler struct {
	store  saga.Store
	logger *slog.Logger
}

func NewOrdersHandler(s saga.Store, l *slog.Logger) *OrdersHandler {
	return &OrdersHandler{store: s, logger: l}
}

func RegisterOrderRoutes(r chi.Router, h *OrdersHandler) {
	r.Get("/orders/{orderID}", h.GetOrder)
}

func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	order, err := h.store.Get(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, saga.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "Order not found")
			return
		}
		h.logger.Error("Error getting order", "order_id", orderID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, order)
}
