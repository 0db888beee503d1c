// Package metrics exposes the server's prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectedSessions tracks live WebSocket sessions.
	ConnectedSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "geeo",
		Name:      "connected_sessions",
		Help:      "Number of live client sessions",
	})

	// Entities tracks entity populations by kind.
	Entities = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "geeo",
		Name:      "entities",
		Help:      "Number of live entities by kind",
	}, []string{"kind"})

	// CommandsProcessed counts processed inbound commands by type.
	CommandsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geeo",
		Name:      "commands_processed_total",
		Help:      "Processed inbound commands by type",
	}, []string{"type"})

	// CommandErrors counts failed commands by wire error code.
	CommandErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geeo",
		Name:      "command_errors_total",
		Help:      "Failed commands by error code",
	}, []string{"code"})

	// EventsEmitted counts enter/leave/move events sent to views.
	EventsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geeo",
		Name:      "events_emitted_total",
		Help:      "View events emitted by kind",
	}, []string{"kind"})

	// WebhookDeliveries counts webhook attempts by result.
	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geeo",
		Name:      "webhook_deliveries_total",
		Help:      "Webhook delivery attempts by result",
	}, []string{"result"})

	// DroppedUpdates counts outbound plain-move updates superseded or
	// dropped on slow consumers.
	DroppedUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "geeo",
		Name:      "dropped_updates_total",
		Help:      "Stale outbound position updates superseded on slow consumers",
	})

	// QueueDepth tracks the command processor backlog.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "geeo",
		Name:      "processor_queue_depth",
		Help:      "Commands waiting in the processor queue",
	})
)

// Handler returns the /metrics endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
