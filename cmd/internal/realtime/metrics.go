package realtime

import "github.com/prometheus/client_golang/prometheus"

var (
	published = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portal",
		Subsystem: "realtime",
		Name:      "events_published_total",
		Help:      "Events published on the change feed.",
	}, []string{"topic"})

	dropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portal",
		Subsystem: "realtime",
		Name:      "events_dropped_total",
		Help:      "Events not delivered because a subscriber queue was full.",
	}, []string{"topic"})

	subscribers = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "portal",
		Subsystem: "realtime",
		Name:      "subscribers",
		Help:      "Live subscriptions per topic.",
	}, []string{"topic"})

	connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "portal",
		Subsystem: "realtime",
		Name:      "ws_connections",
		Help:      "Open feed websocket connections.",
	})
)

// Collectors returns the package metrics for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{published, dropped, subscribers, connections}
}
