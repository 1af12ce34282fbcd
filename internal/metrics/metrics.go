package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Transitions counts transition attempts by operation and outcome.
	// result: accepted, invalid, capacity, conflict, not_found, busy, error
	Transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shuttle_transitions_total",
			Help: "Vehicle state transition attempts by operation and result.",
		},
		[]string{"op", "result"},
	)

	// Subscribers is the number of live event stream subscriptions.
	Subscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "shuttle_subscribers",
			Help: "Number of live event subscriptions.",
		},
	)

	// DroppedDeliveries counts events evicted from a saturated subscriber queue.
	DroppedDeliveries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shuttle_dropped_deliveries_total",
			Help: "Events dropped because a subscriber queue was full.",
		},
	)

	// WritebackFlushes counts write-back batches sent to persistence by
	// result. Empty flushes are not counted.
	WritebackFlushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shuttle_writeback_flushes_total",
			Help: "Write-back flushes of pending vehicle states by result.",
		},
		[]string{"result"},
	)

	// NotificationsSent counts web push deliveries by result.
	NotificationsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shuttle_notifications_sent_total",
			Help: "Web push notifications by result.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(Transitions)
	prometheus.MustRegister(Subscribers)
	prometheus.MustRegister(DroppedDeliveries)
	prometheus.MustRegister(WritebackFlushes)
	prometheus.MustRegister(NotificationsSent)
}
