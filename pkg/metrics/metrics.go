package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesPublished tracks publish outcomes per target queue or event
	// status: sent, failed
	MessagesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_messages_published_total",
		Help: "Total number of envelopes published to the broker",
	}, []string{"service", "target", "message_type", "status"})

	// PublishRetries counts extra publish attempts after a failed one
	PublishRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_publish_retries_total",
		Help: "Number of publish retries triggered by broker failures",
	}, []string{"service", "target"})

	// BrokerReconnections counts how many times the service had to restore the link
	BrokerReconnections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_reconnections_total",
		Help: "Total number of RabbitMQ (re)connection attempts",
	}, []string{"service"})

	// HealthStatus provides a binary 0/1 signal for the broker link
	HealthStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "broker_healthy",
		Help: "Current health status of the broker connection (1 for connected, 0 for disconnected)",
	}, []string{"service"})

	// DeadLettered counts deliveries rejected without requeue
	// reason: malformed, redelivery_limit
	DeadLettered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_dead_lettered_total",
		Help: "Number of deliveries routed to the dead letter exchange",
	}, []string{"service", "queue", "reason"})
)
