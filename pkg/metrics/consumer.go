package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesConsumed tracks the result of every delivery
	// outcome: ack, requeue, dead_letter
	MessagesConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "processed_messages_total",
		Help: "Number of processed messages",
	}, []string{"service", "message_type", "outcome"})

	// ProcessingDuration tracks handler latency from dequeue to result
	ProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "message_processing_seconds",
		Help:    "Time spent processing messages",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
	}, []string{"service", "message_type"})

	// ProcessingErrors counts handler failures by error kind
	ProcessingErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "processing_errors_total",
		Help: "Number of processing errors",
	}, []string{"service", "error_type"})

	// UnknownMessages counts deliveries dropped because no handler is registered for their type
	UnknownMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "unknown_messages_total",
		Help: "Number of deliveries acknowledged without a handler",
	}, []string{"service", "message_type"})

	// SagaTransitions tracks order state machine moves
	SagaTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_transitions_total",
		Help: "Number of order status transitions applied by the orchestrator",
	}, []string{"from", "to"})

	// PipelineDepth is the number of jobs waiting in the work queue
	PipelineDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pipeline_queue_depth",
		Help: "Current number of deliveries waiting for the business handler",
	}, []string{"service"})
)
