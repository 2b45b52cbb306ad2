package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Guizzs26/go-doener-saga/internal/broker"
	"github.com/Guizzs26/go-doener-saga/internal/fanout"
	"github.com/Guizzs26/go-doener-saga/internal/models"
	"github.com/Guizzs26/go-doener-saga/pkg/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Publisher is implemented by broker.Publisher
type Publisher interface {
	Publish(ctx context.Context, name string, env models.Envelope) error
}

// orderTargets receive every new order
var orderTargets = []string{broker.OrderRequests, broker.DoenerRequests}

type CreateOrderRequest struct {
	CustomerID string         `json:"customer_id"`
	Details    map[string]any `json:"details"`
}

type CreateOrderResponse struct {
	OrderID       string `json:"order_id"`
	CorrelationID string `json:"correlation_id"`
	WebsocketURL  string `json:"websocket_url"`
	Status        string `json:"status"`
}

type CreateOrderFailure struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

type StatusResponse struct {
	Status            string `json:"status"`
	ActiveConnections int    `json:"active_connections"`
	Service           string `json:"service"`
}

type GatewayHandler struct {
	publisher Publisher
	broker    BrokerStatus
	hub       *fanout.Hub
	service   string
	logger    *slog.Logger
	upgrader  websocket.Upgrader
}

func NewGatewayHandler(p Publisher, b BrokerStatus, hub *fanout.Hub, service string, l *slog.Logger) *GatewayHandler {
	return &GatewayHandler{
		publisher: p,
		broker:    b,
		hub:       hub,
		service:   service,
		logger:    l,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// any origin, same as the CORS policy
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func RegisterGatewayRoutes(r chi.Router, h *GatewayHandler) {
	r.Post("/order/{service}", h.CreateOrder)
	r.Get("/status", h.Status)
	r.Get("/ws/{orderID}", h.WebSocket)
}

func (h *GatewayHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	if service := chi.URLParam(r, "service"); service != "doener" {
		writeError(w, http.StatusNotFound, "Unknown service")
		return
	}

	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("Invalid request body for CreateOrder", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.CustomerID) == "" {
		writeError(w, http.StatusBadRequest, "customer_id is required")
		return
	}

	if !h.broker.IsConnected() {
		writeError(w, http.StatusServiceUnavailable, "Message queue service unavailable")
		return
	}

	orderID := uuid.NewString()
	correlationID := uuid.NewString()
	l := h.logger.With("order_id", orderID, "correlation_id", correlationID)

	env := models.NewEnvelope(correlationID, orderID, models.OrderCreated, models.MustPayload(models.OrderCreatedPayload{
		CustomerID: req.CustomerID,
		Status:     models.StatusCreated,
		Details:    req.Details,
	}))

	for _, target := range orderTargets {
		if err := h.publisher.Publish(r.Context(), target, env); err != nil {
			l.Error("create_order_failed", "target", target, "error", err)
			writeJSON(w, http.StatusInternalServerError, CreateOrderFailure{
				Message: "Failed to create order",
				Error:   err.Error(),
			})
			return
		}
	}

	l.Info("order_created", "customer_id", req.CustomerID)
	writeJSON(w, http.StatusOK, CreateOrderResponse{
		OrderID:       orderID,
		CorrelationID: correlationID,
		WebsocketURL:  "/ws/" + orderID,
		Status:        "created",
	})
}

func (h *GatewayHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		Status:            "healthy",
		ActiveConnections: h.hub.Count(),
		Service:           h.service,
	})
}

// WebSocket registers the connection as the live subscriber of the order until the
// client goes away
func (h *GatewayHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	l := h.logger.With("order_id", orderID)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.Warn("websocket_upgrade_failed", "error", err)
		return
	}

	sub := fanout.NewWSSubscriber(conn)
	h.hub.Register(orderID, sub)
	metrics.WebsocketConnections.Inc()

	defer func() {
		h.hub.Release(orderID, sub)
		_ = sub.Close()
		metrics.WebsocketDisconnections.Inc()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				l.Debug("websocket_error", "error", err)
			}
			return
		}
		l.Debug("websocket_message_received", "data", string(data))
	}
}
