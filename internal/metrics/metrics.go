// Package metrics declares the Prometheus collectors shared by the bridge
// components. Collectors are registered with the default registry on init and
// exposed by the HTTP layer at /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "printsync"

var (
	// StatusUpdates counts status fragments delivered by the daemon, including
	// the initial status carried by the subscribe response.
	StatusUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "moonraker",
		Name:      "status_updates_total",
		Help:      "Status fragments received from Moonraker",
	})

	ConnectAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "moonraker",
			Name:      "connect_attempts_total",
			Help:      "Websocket connect attempts by result",
		},
		[]string{"result"},
	)

	Connected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "moonraker",
		Name:      "connected",
		Help:      "1 while a websocket connection to Moonraker is open",
	})

	PendingRequests = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "moonraker",
		Name:      "pending_requests",
		Help:      "JSON-RPC requests awaiting a response",
	})

	SyncWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "writes_total",
			Help:      "Document sync attempts by outcome (written, unchanged, failed)",
		},
		[]string{"outcome"},
	)

	Notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "notifications_total",
			Help:      "Print-start notifications by result",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(StatusUpdates, ConnectAttempts, Connected, PendingRequests, SyncWrites, Notifications)
}
