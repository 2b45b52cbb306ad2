package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebsocketConnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "websocket_connections_total",
		Help: "Number of WebSocket connections",
	})

	WebsocketDisconnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "websocket_disconnections_total",
		Help: "Number of WebSocket disconnections",
	})

	ActiveSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fanout_active_subscribers",
		Help: "Current number of registered live subscribers",
	})

	// FanoutPushes tracks push results
	// result: sent, no_subscriber, failed
	FanoutPushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fanout_pushes_total",
		Help: "Number of status events pushed to live subscribers",
	}, []string{"result"})
)
