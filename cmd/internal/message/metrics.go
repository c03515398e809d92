package message

import "github.com/prometheus/client_golang/prometheus"

var createdTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "portal",
	Subsystem: "messages",
	Name:      "created_total",
	Help:      "Messages created.",
})

// Collectors returns the package metrics for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{createdTotal}
}
