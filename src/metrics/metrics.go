package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	directives = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "replication",
			Subsystem: "socket",
			Name:      "directives_total",
			Help:      "Socket directives issued by the engine.",
		},
		[]string{"directive"},
	)
	transportEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "replication",
			Subsystem: "socket",
			Name:      "transport_events_total",
			Help:      "Transport events delivered to the bridge.",
		},
		[]string{"event"},
	)
	handlerPanics = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "replication",
			Subsystem: "socket",
			Name:      "handler_panics_total",
			Help:      "Recovered panics in directive or event handlers.",
		},
		[]string{"handler"},
	)
	liveHandles = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "replication",
			Subsystem: "socket",
			Name:      "live_handles",
			Help:      "Bridge sessions currently registered.",
		},
	)
	activeReplications = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "replication",
			Subsystem: "admission",
			Name:      "active",
			Help:      "Replications currently admitted.",
		},
	)
	admissionRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "replication",
			Subsystem: "admission",
			Name:      "rejections_total",
			Help:      "Replications rejected because the server was at capacity.",
		},
	)
	conflictResolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "replication",
			Subsystem: "conflict",
			Name:      "resolutions_total",
			Help:      "Conflict resolution attempts by outcome.",
		},
		[]string{"outcome"},
	)
)

// RegisterMetrics registers every collector with the default registry once.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			directives,
			transportEvents,
			handlerPanics,
			liveHandles,
			activeReplications,
			admissionRejections,
			conflictResolutions,
		)
	})
}

// RecordDirective counts a directive issued to the socket bridge.
func RecordDirective(directive string) {
	RegisterMetrics()
	directives.WithLabelValues(directive).Inc()
}

// RecordTransportEvent counts an event reported by a transport.
func RecordTransportEvent(event string) {
	RegisterMetrics()
	transportEvents.WithLabelValues(event).Inc()
}

// RecordPanic counts a recovered panic in a directive or notifier.
func RecordPanic(handler string) {
	RegisterMetrics()
	handlerPanics.WithLabelValues(handler).Inc()
}

// SetLiveHandles sets the number of registered socket handles.
func SetLiveHandles(n int) {
	RegisterMetrics()
	liveHandles.Set(float64(n))
}

// SetActiveReplications sets the number of admitted replications.
func SetActiveReplications(n int) {
	RegisterMetrics()
	activeReplications.Set(float64(n))
}

// RecordRejection counts a replication refused for lack of capacity.
func RecordRejection() {
	RegisterMetrics()
	admissionRejections.Inc()
}

// RecordConflictResolution counts a resolution by outcome.
func RecordConflictResolution(outcome string) {
	RegisterMetrics()
	conflictResolutions.WithLabelValues(outcome).Inc()
}
