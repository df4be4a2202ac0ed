package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ActiveSubscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "delivery_active_subscriptions",
		Help: "Current number of watched scopes across all subscribers.",
	})

	StateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "delivery_state_transitions_total",
		Help: "Supervisor state transitions by target state.",
	}, []string{"state"})

	EventsDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "delivery_events_delivered_total",
		Help: "Changes handed to subscribers, by scope kind and change type.",
	}, []string{"scope", "type"})

	DuplicatesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "delivery_duplicates_dropped_total",
		Help: "Changes suppressed by the dedup window, by source transport.",
	}, []string{"source"})

	Reconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "delivery_push_reconnects_total",
		Help: "Push channel reconnect attempts.",
	})

	PollQueries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "delivery_poll_queries_total",
		Help: "Polling fallback queries by result.",
	}, []string{"result"})

	GapSkips = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "delivery_gap_skips_total",
		Help: "Times a sequence gap outlived the gap timeout and was skipped.",
	})

	EventsAppended = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "delivery_events_appended_total",
		Help: "Events written through the dispatcher, by kind.",
	}, []string{"kind"})

	PublishFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "delivery_publish_failures_total",
		Help: "Best-effort push hints that could not be published.",
	})

	WebsocketConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "delivery_websocket_connections",
		Help: "Current open websocket connections.",
	})
)

var registerOnce sync.Once

// Register adds the collectors to the default registry. Safe to call more
// than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			ActiveSubscriptions, StateTransitions,
			EventsDelivered, DuplicatesDropped,
			Reconnects, PollQueries, GapSkips,
			EventsAppended, PublishFailures,
			WebsocketConnections,
		)
	})
}
