// Package metrics holds the service's Prometheus collectors.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "whatsapp"

var (
	sessionsByState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Registered sessions by lifecycle state.",
		},
		[]string{"state"},
	)

	sessionTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Applied and rejected session state transitions.",
		},
		[]string{"to", "result"}, // result: applied, rejected
	)

	sessionInitFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_init_failures_total",
			Help:      "Transport constructions that failed.",
		},
	)

	messagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Outbound send attempts by outcome.",
		},
		[]string{"outcome"}, // sent, failed, timeout, rejected, not_ready
	)

	sendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "send_duration_seconds",
			Help:      "Duration of transport send calls.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	statusUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "message_status_updates_total",
			Help:      "Message status changes applied to the store.",
		},
		[]string{"status"},
	)

	fanoutDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fanout_deliveries_total",
			Help:      "Status pushes to observers by result.",
		},
		[]string{"result"}, // delivered, dropped
	)

	httpRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code.",
		},
		[]string{"method", "route", "code"},
	)

	httpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	busDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_events_dropped_total",
			Help:      "Bus events not delivered because a subscriber's buffer was full.",
		},
		[]string{"kind"},
	)

	fanoutObservers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fanout_observers",
			Help:      "Connected push observers.",
		},
	)
)

// SessionAdded counts a new registry entry in state.
func SessionAdded(state string) {
	sessionsByState.WithLabelValues(state).Inc()
}

// SessionRemoved uncounts a registry entry last seen in state.
func SessionRemoved(state string) {
	sessionsByState.WithLabelValues(state).Dec()
}

// SessionTransition records a state change attempt.
func SessionTransition(from, to string, applied bool) {
	if !applied {
		sessionTransitions.WithLabelValues(to, "rejected").Inc()
		return
	}
	sessionTransitions.WithLabelValues(to, "applied").Inc()
	sessionsByState.WithLabelValues(from).Dec()
	sessionsByState.WithLabelValues(to).Inc()
}

// SessionInitFailed counts a failed transport construction.
func SessionInitFailed() {
	sessionInitFailures.Inc()
}

// MessageSent records the outcome of a send attempt.
func MessageSent(outcome string, took time.Duration) {
	messagesSent.WithLabelValues(outcome).Inc()
	if took > 0 {
		sendDuration.Observe(took.Seconds())
	}
}

// StatusUpdated counts a stored status change.
func StatusUpdated(status string) {
	statusUpdates.WithLabelValues(status).Inc()
}

// FanoutDelivered counts a push attempt.
func FanoutDelivered(ok bool) {
	if ok {
		fanoutDeliveries.WithLabelValues("delivered").Inc()
		return
	}
	fanoutDeliveries.WithLabelValues("dropped").Inc()
}

// BusEventDropped counts an event a full subscriber missed.
func BusEventDropped(kind string) {
	busDropped.WithLabelValues(kind).Inc()
}

// ObserverConnected and ObserverDisconnected track live observers.
func ObserverConnected()    { fanoutObservers.Inc() }
func ObserverDisconnected() { fanoutObservers.Dec() }

// ObserveHTTP records one served request. route is the registered
// pattern, not the raw path, to keep label cardinality bounded.
func ObserveHTTP(method, route string, code int, took time.Duration) {
	httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	httpDuration.WithLabelValues(method, route).Observe(took.Seconds())
}
