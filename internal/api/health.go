package api

import (
	"net/http"
)

// BrokerStatus is implemented by broker.Session
type BrokerStatus interface {
	IsConnected() bool
}

type HealthResponse struct {
	Status         string `json:"status"`
	Service        string `json:"service"`
	RabbitMQStatus string `json:"rabbitmq_status"`
}

func HealthHandler(service string, broker BrokerStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !broker.IsConnected() {
			writeJSON(w, http.StatusServiceUnavailable, HealthResponse{
				Status:         "unhealthy",
				Service:        service,
				RabbitMQStatus: "disconnected",
			})
			return
		}
		writeJSON(w, http.StatusOK, HealthResponse{
			Status:         "healthy",
			Service:        service,
			RabbitMQStatus: "connected",
		})
	}
}
